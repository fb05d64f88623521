package governance

import "os"

// ActionClass is one of the three policy classifications.
type ActionClass string

const (
	ReadOnly       ActionClass = "READ_ONLY"
	ResearchMutate ActionClass = "RESEARCH_MUTATE"
	LiveExecute    ActionClass = "LIVE_EXECUTE"
)

// actionTable is the closed lookup table classifying every known
// action. Actions absent from this table default to LiveExecute —
// fail-safe, since an unrecognized action must never be treated as
// cheaper to allow than it might actually be.
var actionTable = map[string]ActionClass{
	"replay":               ReadOnly,
	"compare_topk":         ReadOnly,
	"compare_batches":      ReadOnly,
	"compare_leaderboard":  ReadOnly,
	"quality_compute":      ReadOnly,
	"plan_view_render":     ReadOnly,
	"plan_list":            ReadOnly,
	"plan_get":             ReadOnly,
	"dataset_list":         ReadOnly,
	"meta_read":            ReadOnly,
	"submit_job":           ResearchMutate,
	"submit_batch":         ResearchMutate,
	"rebuild_index":        ResearchMutate,
	"season_export":        ResearchMutate,
	"plan_build":           ResearchMutate,
	"snapshot_create":      ResearchMutate,
	"dataset_register":     ResearchMutate,
	"season_freeze":        ResearchMutate,
	"batch_freeze":         ResearchMutate,
	"live_order_submit":    LiveExecute,
	"live_order_cancel":    LiveExecute,
}

// ClassifyAction looks up action's classification, defaulting to
// LiveExecute when the action is unknown.
func ClassifyAction(action string) ActionClass {
	if class, ok := actionTable[action]; ok {
		return class
	}
	return LiveExecute
}

// defaultTokenPath is the default location of the live-execute gate token
// file; the variable named by LiveTokenPathEnv overrides it.
const (
	LiveTokenPathEnv = "LIVE_TOKEN_PATH"
	defaultTokenPath = "data/governance/live.token"
	liveTokenMagic   = "LIVE_EXECUTE_AUTHORIZED"
)

func tokenPath() string {
	if v := os.Getenv(LiveTokenPathEnv); v != "" {
		return v
	}
	return defaultTokenPath
}

// Decision is the full policy verdict for one action against one
// season.
type Decision struct {
	Allowed bool        `json:"allowed"`
	Reason  string      `json:"reason"`
	Risk    ActionClass `json:"risk"`
	Action  string      `json:"action"`
	Season  string      `json:"season"`
}

// Engine evaluates actions against the closed classification table and
// the season-freeze / live-execute gates.
type Engine struct {
	seasonFrozen func(season string) (bool, error)
}

// NewEngine builds a policy engine that consults seasonFrozen to
// determine whether RESEARCH_MUTATE actions are currently permitted.
func NewEngine(seasonFrozen func(season string) (bool, error)) *Engine {
	return &Engine{seasonFrozen: seasonFrozen}
}

// Decide classifies action and evaluates the corresponding enforcement
// rule for the given season.
func (e *Engine) Decide(action, season string) Decision {
	class := ClassifyAction(action)
	d := Decision{Risk: class, Action: action, Season: season}

	switch class {
	case ReadOnly:
		d.Allowed = true
		d.Reason = "read-only actions are always allowed"

	case ResearchMutate:
		frozen, err := e.seasonFrozen(season)
		if err != nil {
			d.Allowed = false
			d.Reason = "failed to resolve season freeze state: " + err.Error()
			return d
		}
		if frozen {
			d.Allowed = false
			d.Reason = "season " + season + " is frozen"
			return d
		}
		d.Allowed = true
		d.Reason = "season is not frozen"

	case LiveExecute:
		enabled := os.Getenv("ENABLE_LIVE") == "1"
		if !enabled {
			d.Allowed = false
			d.Reason = "ENABLE_LIVE is not set"
			return d
		}
		content, err := os.ReadFile(tokenPath())
		if err != nil || string(content) != liveTokenMagic {
			d.Allowed = false
			d.Reason = "live execute token missing or invalid"
			return d
		}
		d.Allowed = true
		d.Reason = "ENABLE_LIVE set and token verified"

	default:
		d.Allowed = false
		d.Reason = "unrecognized risk class"
	}

	return d
}
