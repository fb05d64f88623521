// Package fingerprint derives per-day canonical hashes of bar data and
// compares two index histories to decide whether an incremental rebuild
// is safe. File modification times and sizes are never consulted — only
// bar content — so the decision is reproducible from the bars alone.
package fingerprint

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/aristath/fishbro/pkg/canon"
)

// Bar is the minimal OHLCV shape the fingerprint index depends on.
type Bar struct {
	TimestampUnix int64
	Open          float64
	High          float64
	Low           float64
	Close         float64
	Volume        float64
}

// Index maps a calendar day ("2006-01-02") to its canonical hash.
type Index struct {
	Days map[string]string `json:"days"`
}

// dayLine renders one bar as the canonical line fed into the per-day
// hash: pipe-separated fields in fixed field order, timestamp first so
// that sorting by line also sorts by time within a day.
func dayLine(b Bar) string {
	return fmt.Sprintf("%d|%s|%s|%s|%s|%s",
		b.TimestampUnix,
		formatFloat(b.Open), formatFloat(b.High), formatFloat(b.Low), formatFloat(b.Close),
		formatFloat(b.Volume),
	)
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

// Build computes the fingerprint index for a set of bars, grouped by
// calendar day (UTC) using dayOf. Bars in the same day need not be
// pre-sorted; the per-day lines are sorted before hashing.
func Build(bars []Bar, dayOf func(unixSeconds int64) string) (Index, error) {
	byDay := map[string][]string{}
	for _, b := range bars {
		day := dayOf(b.TimestampUnix)
		byDay[day] = append(byDay[day], dayLine(b))
	}

	days := make(map[string]string, len(byDay))
	for day, lines := range byDay {
		sort.Strings(lines)
		hash := canon.SHA256Hex([]byte(strings.Join(lines, "\n")))
		days[day] = hash
	}
	return Index{Days: days}, nil
}

// Decision enumerates the outcome of Compare.
type Decision string

const (
	// DecisionNoChange: old and new indices are identical.
	DecisionNoChange Decision = "no_change"
	// DecisionIsNew: old index had no days at all.
	DecisionIsNew Decision = "is_new"
	// DecisionAppendOnly: new days were added at or after the old max
	// day; no existing day's hash changed.
	DecisionAppendOnly Decision = "append_only"
	// DecisionHistoricalChange: some day at or before the old max day
	// changed hash — rebuilding incrementally would silently overwrite
	// history.
	DecisionHistoricalChange Decision = "historical_change"
)

// CompareResult carries the decision plus any payload it requires.
type CompareResult struct {
	Decision Decision
	// AppendStart is the earliest new day, set only for DecisionAppendOnly.
	AppendStart string
	// AppendEnd is the latest day present in the new index, set only for
	// DecisionAppendOnly.
	AppendEnd string
	// EarliestChangedDay is set only for DecisionHistoricalChange.
	EarliestChangedDay string
}

// Compare derives the incremental-build decision between an old (already
// recorded) index and a new (freshly computed) one.
func Compare(old, new Index) CompareResult {
	if len(old.Days) == 0 {
		return CompareResult{Decision: DecisionIsNew}
	}

	oldMax := maxDay(old.Days)

	var changedBeforeOrAtMax []string
	var newDays []string
	for day, newHash := range new.Days {
		oldHash, existed := old.Days[day]
		if !existed {
			if day > oldMax {
				newDays = append(newDays, day)
				continue
			}
			// A "new" day inserted at or before the prior max is itself
			// a historical change: the prior index should have had a day
			// there (data is append-only in time) or this out-of-order
			// insertion needs explicit review.
			changedBeforeOrAtMax = append(changedBeforeOrAtMax, day)
			continue
		}
		if oldHash != newHash {
			changedBeforeOrAtMax = append(changedBeforeOrAtMax, day)
		}
	}
	// Days present in old but missing from new are also a historical
	// change — append-only forbids deletion.
	for day := range old.Days {
		if _, ok := new.Days[day]; !ok {
			changedBeforeOrAtMax = append(changedBeforeOrAtMax, day)
		}
	}

	if len(changedBeforeOrAtMax) > 0 {
		sort.Strings(changedBeforeOrAtMax)
		return CompareResult{Decision: DecisionHistoricalChange, EarliestChangedDay: changedBeforeOrAtMax[0]}
	}
	if len(newDays) == 0 {
		return CompareResult{Decision: DecisionNoChange}
	}
	sort.Strings(newDays)
	return CompareResult{
		Decision:    DecisionAppendOnly,
		AppendStart: newDays[0],
		AppendEnd:   maxDay(new.Days),
	}
}

func maxDay(days map[string]string) string {
	var max string
	for day := range days {
		if day > max {
			max = day
		}
	}
	return max
}
