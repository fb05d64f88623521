// Package features computes the pure feature bank over a bars cache:
// ATR, rolling returns, rolling z-score, session VWAP, and a family of
// channel/momentum/percentile indicators. Warm-up and division-by-zero
// policy are explicit per spec, never silently approximated. Features
// must never reach past the bars cache to raw input — callers only ever
// hand this package normalized/resampled bar arrays.
package features

import (
	"fmt"
	"math"
	"sort"

	"github.com/aristath/fishbro/internal/bars"
	talib "github.com/markcheno/go-talib"
	"gonum.org/v1/gonum/stat"
)

// Div0Policy names the division-by-zero behavior a feature declares.
type Div0Policy string

// DivZeroRetNaN is the only currently supported policy: a division whose
// denominator is exactly zero yields NaN rather than being silently
// skipped or clamped.
const DivZeroRetNaN Div0Policy = "DIV0_RET_NAN"

// SafeDiv implements DIV0_RET_NAN: b == 0 yields NaN instead of +-Inf or
// a panic.
func SafeDiv(a, b float64) float64 {
	if b == 0 {
		return math.NaN()
	}
	return a / b
}

// Family groups features by their warm-up requirement.
type Family string

const (
	// FamilyEMA covers EMA-like and directional-index features, which
	// require 3x their window before yielding a non-NaN value.
	FamilyEMA Family = "ema"
	// FamilyOther covers every feature whose warm-up is exactly its window.
	FamilyOther Family = "other"
)

// Spec is the registration record for one feature.
type Spec struct {
	Name         string
	TimeframeMin int
	Window       int
	Family       Family
	Params       map[string]float64
	Div0Policy   Div0Policy
}

// WarmupBars derives the warm-up length from a spec's family and
// window, per the fixed policy: 3*window for EMA-like/directional
// families, window otherwise.
func (s Spec) WarmupBars() int {
	if s.Family == FamilyEMA {
		return 3 * s.Window
	}
	return s.Window
}

// Series is one (feature_name, timeframe_min) timestamped float sequence.
type Series struct {
	Timestamps []int64   `json:"timestamps"`
	Values     []float64 `json:"values"`
}

// Key identifies one series within a Bundle.
type Key struct {
	Name         string
	TimeframeMin int
}

func (k Key) String() string { return fmt.Sprintf("%s@%dm", k.Name, k.TimeframeMin) }

// Bundle is the full resolved feature set for a job.
type Bundle struct {
	Series       map[Key]Series
	TSDtype      string
	BreaksPolicy string
}

func nanPrefix(n int, values []float64) []float64 {
	if n <= 0 {
		return values
	}
	if n > len(values) {
		n = len(values)
	}
	for i := 0; i < n; i++ {
		values[i] = math.NaN()
	}
	return values
}

func closes(b []bars.Bar) []float64 {
	out := make([]float64, len(b))
	for i, v := range b {
		out[i] = v.Close
	}
	return out
}

func timestamps(b []bars.Bar) []int64 {
	out := make([]int64, len(b))
	for i, v := range b {
		out[i] = v.TimestampUnix
	}
	return out
}

// ATR computes the Average True Range over period bars using go-talib,
// with the first `3*period` entries forced NaN per the EMA-family
// warm-up policy (ATR is itself a Wilder-smoothed EMA of true range).
func ATR(b []bars.Bar, period int) []float64 {
	if len(b) == 0 {
		return nil
	}
	high := make([]float64, len(b))
	low := make([]float64, len(b))
	close := make([]float64, len(b))
	for i, v := range b {
		high[i], low[i], close[i] = v.High, v.Low, v.Close
	}
	out := talib.Atr(high, low, close, period)
	warm := Spec{Family: FamilyEMA, Window: period}.WarmupBars()
	return nanPrefix(warm, out)
}

// RollingReturns computes period-over-period returns, log or simple.
// DIV0_RET_NAN applies to the simple-return denominator.
func RollingReturns(b []bars.Bar, log bool) []float64 {
	c := closes(b)
	out := make([]float64, len(c))
	out[0] = math.NaN()
	for i := 1; i < len(c); i++ {
		if log {
			if c[i-1] <= 0 || c[i] <= 0 {
				out[i] = math.NaN()
				continue
			}
			out[i] = math.Log(c[i] / c[i-1])
			continue
		}
		out[i] = SafeDiv(c[i]-c[i-1], c[i-1])
	}
	return out
}

// RollingZScore computes a rolling z-score of values over window bars,
// using gonum/stat for the mean and standard deviation of each window.
func RollingZScore(values []float64, window int) []float64 {
	out := make([]float64, len(values))
	warm := Spec{Family: FamilyOther, Window: window}.WarmupBars()
	for i := range out {
		if i+1 < window || i+1 < warm {
			out[i] = math.NaN()
			continue
		}
		w := values[i-window+1 : i+1]
		mean := stat.Mean(w, nil)
		std := stat.StdDev(w, nil)
		out[i] = SafeDiv(values[i]-mean, std)
	}
	return out
}

// SessionVWAP computes the cumulative volume-weighted average of the
// typical price (high+low+close)/3 from the first element of b onward.
// It never resets inside b and does not detect session boundaries: one
// session's bars give a per-session VWAP, a full resampled array (as
// StandardRegistry passes it) gives one continuous VWAP across sessions.
func SessionVWAP(b []bars.Bar) []float64 {
	out := make([]float64, len(b))
	var cumPV, cumV float64
	for i, bar := range b {
		typicalPrice := (bar.High + bar.Low + bar.Close) / 3
		cumPV += typicalPrice * bar.Volume
		cumV += bar.Volume
		out[i] = SafeDiv(cumPV, cumV)
	}
	return out
}

// DonchianChannel returns the rolling high/low channel bounds over
// window bars (a channel-family feature).
func DonchianChannel(b []bars.Bar, window int) (upper, lower []float64) {
	n := len(b)
	upper = make([]float64, n)
	lower = make([]float64, n)
	warm := Spec{Family: FamilyOther, Window: window}.WarmupBars()
	for i := 0; i < n; i++ {
		if i+1 < window || i+1 < warm {
			upper[i], lower[i] = math.NaN(), math.NaN()
			continue
		}
		hi, lo := b[i-window+1].High, b[i-window+1].Low
		for j := i - window + 2; j <= i; j++ {
			if b[j].High > hi {
				hi = b[j].High
			}
			if b[j].Low < lo {
				lo = b[j].Low
			}
		}
		upper[i], lower[i] = hi, lo
	}
	return upper, lower
}

// Momentum is a simple `close[i] - close[i-window]` momentum family
// feature.
func Momentum(b []bars.Bar, window int) []float64 {
	c := closes(b)
	out := make([]float64, len(c))
	warm := Spec{Family: FamilyOther, Window: window}.WarmupBars()
	for i := range out {
		if i < window || i < warm {
			out[i] = math.NaN()
			continue
		}
		out[i] = c[i] - c[i-window]
	}
	return out
}

// PercentileRank computes, for each bar, the rank (0..1) of the current
// close within the trailing window of closes.
func PercentileRank(b []bars.Bar, window int) []float64 {
	c := closes(b)
	out := make([]float64, len(c))
	warm := Spec{Family: FamilyOther, Window: window}.WarmupBars()
	for i := range out {
		if i+1 < window || i+1 < warm {
			out[i] = math.NaN()
			continue
		}
		w := append([]float64{}, c[i-window+1:i+1]...)
		sort.Float64s(w)
		idx := sort.SearchFloat64s(w, c[i])
		out[i] = SafeDiv(float64(idx), float64(len(w)-1))
	}
	return out
}

// EMA wraps go-talib's EMA with the EMA-family warm-up policy applied.
func EMA(b []bars.Bar, period int) []float64 {
	c := closes(b)
	if len(c) == 0 {
		return nil
	}
	out := talib.Ema(c, period)
	warm := Spec{Family: FamilyEMA, Window: period}.WarmupBars()
	return nanPrefix(warm, out)
}
