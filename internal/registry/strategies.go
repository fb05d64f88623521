// Package registry holds the read-only, in-memory strategy and dataset
// registries the core consumes. Strategies is populated through an
// idempotent Bootstrap call and Datasets through Reload from its source,
// generalizing the teacher's
// single-container-populated-once pattern (internal/di/services.go) into
// a swappable registry so tests can inject dummy specs.
package registry

import (
	"fmt"
	"sort"
	"sync"

	"github.com/aristath/fishbro/internal/features"
)

// StrategyInput is what the WFS Engine hands a strategy for one split.
type StrategyInput struct {
	DatasetID string
	Bundle    features.Bundle
	FoldIndex int
	TestStart int
	TestEnd   int
}

// StrategyOutput is a strategy invocation's opaque result; Intents is a
// deliberately untyped payload — the core never interprets strategy
// semantics, only ranks by Score.
type StrategyOutput struct {
	Score   float64
	Metrics map[string]float64
	Intents []map[string]any
}

// StrategySpec is the capability set a strategy implementation exposes.
// Strategies never inherit from a common base type; the engine is
// parametric over this struct alone.
type StrategySpec struct {
	StrategyID          string
	Version              string
	ParamSchema          map[string]any
	Defaults             map[string]any
	FeatureRequirements  func() features.Requirements
	Fn                   func(input StrategyInput, params map[string]any) (StrategyOutput, error)
}

// Strategies is a read-only (from the consumer's perspective) in-memory
// registry guarded by a RWMutex so job execution and a reload never race.
type Strategies struct {
	mu     sync.RWMutex
	specs  map[string]StrategySpec
	primed bool
}

// NewStrategies builds an empty registry; call Bootstrap before use.
func NewStrategies() *Strategies {
	return &Strategies{specs: map[string]StrategySpec{}}
}

// Bootstrap idempotently loads specs: calling it again with the same
// StrategyID simply replaces the prior entry rather than erroring, so
// a process can re-bootstrap after a config reload without restarting.
func (s *Strategies) Bootstrap(specs ...StrategySpec) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, spec := range specs {
		if spec.StrategyID == "" {
			return fmt.Errorf("registry: strategy spec missing strategy_id")
		}
		if spec.Fn == nil {
			return fmt.Errorf("registry: strategy %s missing fn", spec.StrategyID)
		}
		if spec.FeatureRequirements == nil {
			return fmt.Errorf("registry: strategy %s missing feature_requirements", spec.StrategyID)
		}
		s.specs[spec.StrategyID] = spec
	}
	s.primed = true
	return nil
}

// Primed reports whether Bootstrap has run at least once.
func (s *Strategies) Primed() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.primed
}

// Get returns the spec registered for strategyID.
func (s *Strategies) Get(strategyID string) (StrategySpec, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	spec, ok := s.specs[strategyID]
	return spec, ok
}

// Reload clears the registry; the caller re-Bootstraps afterward. Used
// when strategy definitions change out from under a long-lived process.
func (s *Strategies) Reload() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.specs = map[string]StrategySpec{}
}

// IDs returns every registered strategy_id, sorted, for diagnostics.
func (s *Strategies) IDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.specs))
	for id := range s.specs {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
