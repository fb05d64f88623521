// Package bars builds and caches normalized and resampled bar arrays for a
// (season, dataset) pair. FULL mode parses raw bars through a BarSource,
// normalizes them to second-resolution timestamps, and resamples into
// every configured timeframe under a session spec. INCREMENTAL mode
// consults the Fingerprint Index and only ever recomputes an append-only
// tail, raising IncrementalRejected otherwise.
package bars

import (
	"context"
	"fmt"
	"sort"

	"github.com/aristath/fishbro/internal/errs"
	"github.com/aristath/fishbro/internal/fingerprint"
	"github.com/aristath/fishbro/pkg/atomicfile"
	"github.com/aristath/fishbro/pkg/canon"
)

// Timeframes is the fixed resample ladder, in minutes.
var Timeframes = []int{15, 30, 60, 120, 240}

const (
	tsDtype       = "datetime64[s]"
	breaksPolicy  = "drop"
	modeFull      = "FULL"
	modeIncrement = "INCREMENTAL"

	fileNormalized = "normalized.json"
	fileManifest   = "manifest.json"
)

func resampledFileName(tfMin int) string {
	return fmt.Sprintf("resampled_%dm.json", tfMin)
}

// RawBar is one raw OHLCV record as produced by a BarSource, prior to any
// normalization.
type RawBar struct {
	TimestampUnix int64   `json:"timestamp"`
	Open          float64 `json:"open"`
	High          float64 `json:"high"`
	Low           float64 `json:"low"`
	Close         float64 `json:"close"`
	Volume        float64 `json:"volume"`
}

// Bar is the canonical post-normalization (and post-resample) shape.
type Bar struct {
	TimestampUnix int64   `json:"timestamp"`
	Open          float64 `json:"open"`
	High          float64 `json:"high"`
	Low           float64 `json:"low"`
	Close         float64 `json:"close"`
	Volume        float64 `json:"volume"`
}

// BarSource is the ingest collaborator. Implementations read raw bars from
// an external location (CSV file, API) — features must never reach past
// the cache to call this directly.
type BarSource interface {
	ReadRawBars(ctx context.Context, path string) ([]RawBar, error)
}

// Session describes the trading-session window used to drop breaks and
// anchor resample bucket boundaries. OpenMinute/CloseMinute are minutes
// from local midnight, local time being TimestampUnix shifted by
// TZOffsetMin.
type Session struct {
	OpenMinute  int
	CloseMinute int
	TZOffsetMin int // minutes to add to TimestampUnix to reach local wall time
}

// DefaultSession is a 24-hour session (no breaks to drop) suitable for
// continuously-traded instruments; callers override for exchange sessions.
var DefaultSession = Session{OpenMinute: 0, CloseMinute: 24 * 60, TZOffsetMin: 0}

// Manifest records everything a rebuild decision or a reader needs to know
// about a bars cache directory.
type Manifest struct {
	Mode              string           `json:"mode"`
	TSDtype           string           `json:"ts_dtype"`
	BreaksPolicy      string           `json:"breaks_policy"`
	Timeframes        []int            `json:"timeframes"`
	FileSHA256        map[string]string `json:"file_sha256"`
	FingerprintIndex  fingerprint.Index `json:"fingerprint_index"`
	ManifestSHA256    string           `json:"manifest_sha256,omitempty"`
}

// Result is the in-memory output of a FULL or INCREMENTAL build.
type Result struct {
	Normalized []Bar
	Resampled  map[int][]Bar
	Manifest   Manifest
}

// sessionMinuteOfDay returns the minute-of-day (0..1439) for a unix
// timestamp shifted by the session's timezone offset.
func sessionMinuteOfDay(ts int64, s Session) int {
	local := ts + int64(s.TZOffsetMin)*60
	secOfDay := ((local % 86400) + 86400) % 86400
	return int(secOfDay / 60)
}

// inSession reports whether a bar's timestamp falls inside the session
// open/close window; bars outside it are breaks and are dropped.
func inSession(ts int64, s Session) bool {
	m := sessionMinuteOfDay(ts, s)
	return m >= s.OpenMinute && m < s.CloseMinute
}

// Normalize converts raw bars to the canonical dtype, sorts them by
// timestamp, de-duplicates same-timestamp rows (last write wins), and
// drops any bar outside the session window.
func Normalize(raw []RawBar, session Session) []Bar {
	byTS := make(map[int64]Bar, len(raw))
	for _, r := range raw {
		if !inSession(r.TimestampUnix, session) {
			continue
		}
		byTS[r.TimestampUnix] = Bar{
			TimestampUnix: r.TimestampUnix,
			Open:          r.Open, High: r.High, Low: r.Low, Close: r.Close, Volume: r.Volume,
		}
	}
	out := make([]Bar, 0, len(byTS))
	for _, b := range byTS {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TimestampUnix < out[j].TimestampUnix })
	return out
}

// sessionStartOfDay returns the unix timestamp of the session open for the
// local (TZOffsetMin-shifted) calendar day containing ts.
func sessionStartOfDay(ts int64, s Session) int64 {
	local := ts + int64(s.TZOffsetMin)*60
	dayStart := local - (((local % 86400) + 86400) % 86400)
	return dayStart - int64(s.TZOffsetMin)*60 + int64(s.OpenMinute)*60
}

// bucketStart returns the start timestamp of the tfMin-minute bucket that
// contains ts, anchored at the session open of ts's calendar day — so a
// bucket boundary always satisfies session_start + N*tf == start.
func bucketStart(ts int64, tfMin int, s Session) int64 {
	start := sessionStartOfDay(ts, s)
	tfSec := int64(tfMin) * 60
	n := (ts - start) / tfSec
	return start + n*tfSec
}

// Resample aggregates normalized (sorted, session-filtered) bars into
// tfMin-minute OHLCV bars anchored on the session open.
func Resample(normalized []Bar, tfMin int, session Session) []Bar {
	if len(normalized) == 0 {
		return nil
	}
	var out []Bar
	var cur *Bar
	var curStart int64 = -1
	for _, b := range normalized {
		start := bucketStart(b.TimestampUnix, tfMin, session)
		if cur == nil || start != curStart {
			if cur != nil {
				out = append(out, *cur)
			}
			nb := Bar{TimestampUnix: start, Open: b.Open, High: b.High, Low: b.Low, Close: b.Close, Volume: b.Volume}
			cur = &nb
			curStart = start
			continue
		}
		if b.High > cur.High {
			cur.High = b.High
		}
		if b.Low < cur.Low {
			cur.Low = b.Low
		}
		cur.Close = b.Close
		cur.Volume += b.Volume
	}
	if cur != nil {
		out = append(out, *cur)
	}
	return out
}

// BuildFull runs the FULL build path: normalize, resample every
// configured timeframe, and derive the fingerprint index from the
// normalized bars.
func BuildFull(rawBars []RawBar, session Session) (Result, error) {
	normalized := Normalize(rawBars, session)
	resampled := make(map[int][]Bar, len(Timeframes))
	for _, tf := range Timeframes {
		resampled[tf] = Resample(normalized, tf, session)
	}

	fpBars := make([]fingerprint.Bar, len(normalized))
	for i, b := range normalized {
		fpBars[i] = fingerprint.Bar{TimestampUnix: b.TimestampUnix, Open: b.Open, High: b.High, Low: b.Low, Close: b.Close, Volume: b.Volume}
	}
	idx, err := fingerprint.Build(fpBars, dayOfUnix)
	if err != nil {
		return Result{}, err
	}

	return Result{
		Normalized: normalized,
		Resampled:  resampled,
		Manifest: Manifest{
			Mode: modeFull, TSDtype: tsDtype, BreaksPolicy: breaksPolicy,
			Timeframes: append([]int{}, Timeframes...), FingerprintIndex: idx,
		},
	}, nil
}

// BuildIncremental consults cached normalized bars and their recorded
// fingerprint index against freshly normalized raw bars.
// DecisionNoChange returns the cached result marked INCREMENTAL,
// DecisionIsNew runs a full build, DecisionAppendOnly splices the new
// tail; a historical change returns errs.IncrementalRejected.
func BuildIncremental(cached Result, rawBars []RawBar, session Session) (Result, error) {
	normalized := Normalize(rawBars, session)
	fpBars := make([]fingerprint.Bar, len(normalized))
	for i, b := range normalized {
		fpBars[i] = fingerprint.Bar{TimestampUnix: b.TimestampUnix, Open: b.Open, High: b.High, Low: b.Low, Close: b.Close, Volume: b.Volume}
	}
	newIdx, err := fingerprint.Build(fpBars, dayOfUnix)
	if err != nil {
		return Result{}, err
	}

	cmp := fingerprint.Compare(cached.Manifest.FingerprintIndex, newIdx)
	switch cmp.Decision {
	case fingerprint.DecisionNoChange:
		result := cached
		result.Manifest.Mode = modeIncrement
		result.Manifest.FingerprintIndex = newIdx
		return result, nil
	case fingerprint.DecisionIsNew:
		full, err := BuildFull(rawBars, session)
		if err != nil {
			return Result{}, err
		}
		full.Manifest.Mode = modeIncrement
		return full, nil
	case fingerprint.DecisionAppendOnly:
		return spliceAppend(cached, normalized, newIdx, session)
	default:
		return Result{}, &errs.IncrementalRejected{EarliestChangedDay: cmp.EarliestChangedDay}
	}
}

// spliceAppend recomputes only the window starting at the session-aligned
// bucket containing the first new bar, then splices it onto the cached
// prefix — guaranteeing byte-identical output to a FULL rebuild over the
// covered range.
func spliceAppend(cached Result, normalized []Bar, newIdx fingerprint.Index, session Session) (Result, error) {
	if len(normalized) == 0 {
		return cached, nil
	}
	var recomputeFrom int64 = normalized[len(normalized)-1].TimestampUnix
	cutIdx := len(normalized)
	for i, b := range normalized {
		if i < len(cached.Normalized) && cached.Normalized[i].TimestampUnix == b.TimestampUnix {
			continue
		}
		recomputeFrom = b.TimestampUnix
		cutIdx = i
		break
	}
	prefix := normalized[:cutIdx]
	tail := normalized[cutIdx:]
	splicedNormalized := append(append([]Bar{}, prefix...), tail...)

	resampled := make(map[int][]Bar, len(Timeframes))
	for _, tf := range Timeframes {
		from := bucketStart(recomputeFrom, tf, session)
		var kept []Bar
		for _, rb := range cached.Resampled[tf] {
			if rb.TimestampUnix < from {
				kept = append(kept, rb)
			}
		}
		start := sort.Search(len(splicedNormalized), func(i int) bool { return splicedNormalized[i].TimestampUnix >= from })
		resampled[tf] = append(kept, Resample(splicedNormalized[start:], tf, session)...)
	}

	return Result{
		Normalized: splicedNormalized,
		Resampled:  resampled,
		Manifest: Manifest{
			Mode: modeIncrement, TSDtype: tsDtype, BreaksPolicy: breaksPolicy,
			Timeframes: append([]int{}, Timeframes...), FingerprintIndex: newIdx,
		},
	}, nil
}

func dayOfUnix(ts int64) string {
	const day = 86400
	t := ts
	if t < 0 {
		t -= day - 1
	}
	days := t / day
	return epochDayToDate(days)
}

// epochDayToDate converts a day count since 1970-01-01 to a "YYYY-MM-DD"
// string without pulling in time.Time (avoids a timezone dependency for a
// purely calendrical computation).
func epochDayToDate(days int64) string {
	// Civil-from-days algorithm (Howard Hinnant), proleptic Gregorian.
	z := days + 719468
	era := z / 146097
	if z < 0 && z%146097 != 0 {
		era--
	}
	doe := z - era*146097
	yoe := (doe - doe/1460 + doe/36524 - doe/146096) / 365
	y := yoe + era*400
	doy := doe - (365*yoe + yoe/4 - yoe/100)
	mp := (5*doy + 2) / 153
	d := doy - (153*mp+2)/5 + 1
	m := mp + 3
	if mp >= 10 {
		m = mp - 9
		y++
	}
	return fmt.Sprintf("%04d-%02d-%02d", y, m, d)
}

// Persist writes the normalized array, one resampled array per timeframe,
// and a self-hashed manifest under scope.
func Persist(scope atomicfile.WriteScope, result Result) error {
	fileSHA := map[string]string{}

	normBytes, err := canon.Marshal(result.Normalized)
	if err != nil {
		return err
	}
	if err := atomicfile.Write(scope, fileNormalized, normBytes); err != nil {
		return err
	}
	fileSHA[fileNormalized] = canon.SHA256Hex(normBytes)

	for _, tf := range Timeframes {
		name := resampledFileName(tf)
		b, err := canon.Marshal(result.Resampled[tf])
		if err != nil {
			return err
		}
		if err := atomicfile.Write(scope, name, b); err != nil {
			return err
		}
		fileSHA[name] = canon.SHA256Hex(b)
	}

	result.Manifest.FileSHA256 = fileSHA
	stamped, err := canon.Stamp(result.Manifest, "manifest_sha256")
	if err != nil {
		return err
	}
	manifestBytes, err := canon.Marshal(stamped)
	if err != nil {
		return err
	}
	return atomicfile.Write(scope, fileManifest, manifestBytes)
}

// ScopeFor builds the write scope for a bars cache directory: the
// normalized array, the manifest, and one resampled file per timeframe.
func ScopeFor(dir string) atomicfile.WriteScope {
	exact := []string{fileNormalized, fileManifest}
	for _, tf := range Timeframes {
		exact = append(exact, resampledFileName(tf))
	}
	return atomicfile.NewScope(dir, exact, nil)
}
