// Package errs defines the structured error kinds the core pipeline
// returns. Callers use errors.As to recover the typed payload; the
// transport collaborator (internal/server) maps each kind to a status
// code instead of pattern-matching error strings.
package errs

import "fmt"

// ContractViolation signals a boundary rule was broken (forbidden
// metadata key, missing fingerprint, malformed request shape).
type ContractViolation struct {
	Reason string
}

func (e *ContractViolation) Error() string { return fmt.Sprintf("contract violation: %s", e.Reason) }

// FeatureRef identifies a single required (name, timeframe) feature.
type FeatureRef struct {
	Name          string
	TimeframeMin  int
}

func (r FeatureRef) String() string { return fmt.Sprintf("%s@%dm", r.Name, r.TimeframeMin) }

// MissingFeatures is returned when required features are absent and no
// build is permitted.
type MissingFeatures struct {
	Missing []FeatureRef
}

func (e *MissingFeatures) Error() string {
	return fmt.Sprintf("missing features: %v", e.Missing)
}

// ManifestMismatch is returned when a features manifest contradicts a
// fixed policy field (ts_dtype, breaks_policy).
type ManifestMismatch struct {
	Field string
	Want  string
	Got   string
}

func (e *ManifestMismatch) Error() string {
	return fmt.Sprintf("manifest mismatch on %s: want %q got %q", e.Field, e.Want, e.Got)
}

// BuildNotAllowed is returned when a build is required but no Build
// Context was supplied.
type BuildNotAllowed struct {
	Reason string
}

func (e *BuildNotAllowed) Error() string { return fmt.Sprintf("build not allowed: %s", e.Reason) }

// IncrementalRejected is returned when an incremental rebuild would
// overwrite history; EarliestChangedDay is the first day (YYYY-MM-DD)
// whose content differs from the recorded fingerprint.
type IncrementalRejected struct {
	EarliestChangedDay string
}

func (e *IncrementalRejected) Error() string {
	return fmt.Sprintf("incremental rebuild rejected: earliest changed day %s", e.EarliestChangedDay)
}

// ScopeViolation is returned when a write is attempted outside a
// declared write scope.
type ScopeViolation struct {
	Path string
}

func (e *ScopeViolation) Error() string { return fmt.Sprintf("scope violation: %s", e.Path) }

// FrozenViolation is returned when a mutation is attempted on a frozen
// season.
type FrozenViolation struct {
	Season string
}

func (e *FrozenViolation) Error() string { return fmt.Sprintf("season %s is frozen", e.Season) }

// PolicyDenied is returned when the policy engine vetoes an action.
type PolicyDenied struct {
	Action string
	Reason string
}

func (e *PolicyDenied) Error() string {
	return fmt.Sprintf("policy denied action %s: %s", e.Action, e.Reason)
}

// Duplicate is returned when a snapshot/dataset/plan already exists.
type Duplicate struct {
	ID string
}

func (e *Duplicate) Error() string { return fmt.Sprintf("duplicate: %s already exists", e.ID) }

// TamperDetected is returned when manifest verification fails.
type TamperDetected struct {
	Reason string
}

func (e *TamperDetected) Error() string { return fmt.Sprintf("tamper detected: %s", e.Reason) }

// NotFound is returned when an artifact is missing on a read.
type NotFound struct {
	Path string
}

func (e *NotFound) Error() string { return fmt.Sprintf("not found: %s", e.Path) }
