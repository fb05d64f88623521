package features

import (
	"github.com/aristath/fishbro/internal/bars"
	"github.com/aristath/fishbro/internal/errs"
	"github.com/aristath/fishbro/pkg/atomicfile"
	"github.com/aristath/fishbro/pkg/canon"
)

const (
	tsDtype      = "datetime64[s]"
	breaksPolicy = "drop"
	fileManifest = "manifest.json"

	modeFull      = "FULL"
	modeIncrement = "INCREMENTAL"
)

// Requirement names a single required (or optional) feature by name and
// timeframe, reusing the errs package's FeatureRef shape so resolver-level
// error payloads can be built directly from a Requirements value.
type Requirement = errs.FeatureRef

// Requirements is the set a strategy declares it needs.
type Requirements struct {
	Required        []Requirement
	Optional        []Requirement
	MinSchemaVersion int
}

// Registry maps a (name, timeframe) requirement to the Spec and compute
// function that produce it. The orchestration layer wires one of these
// per deployment; this package ships the concrete feature set above.
type Registry struct {
	specs   map[Requirement]Spec
	compute map[Requirement]func(b []bars.Bar) []float64
}

// NewRegistry returns an empty registry; features are added with Bind.
// StandardRegistry is the constructor that binds the canonical feature
// set (ATR(14), log/simple returns, rolling z-score, session VWAP,
// Donchian channel, momentum, percentile rank) to a timeframe.
func NewRegistry() *Registry {
	return &Registry{specs: map[Requirement]Spec{}, compute: map[Requirement]func(b []bars.Bar) []float64{}}
}

// Bind registers one feature's compute function under (name, tfMin).
func (r *Registry) Bind(name string, tfMin int, spec Spec, fn func(b []bars.Bar) []float64) {
	key := Requirement{Name: name, TimeframeMin: tfMin}
	r.specs[key] = spec
	r.compute[key] = fn
}

// Resolve reports whether a requirement is registered.
func (r *Registry) Resolve(req Requirement) (Spec, func(b []bars.Bar) []float64, bool) {
	spec, ok := r.specs[req]
	if !ok {
		return Spec{}, nil, false
	}
	return spec, r.compute[req], true
}

// All returns every requirement bound in the registry, for a full-bank
// build against every timeframe a Builder covers.
func (r *Registry) All() []Requirement {
	out := make([]Requirement, 0, len(r.specs))
	for req := range r.specs {
		out = append(out, req)
	}
	return out
}

// StandardRegistry wires the canonical feature set onto a resampled-bars
// provider: atr_14, ret_log, ret_simple, zscore_20, vwap, donchian_20,
// momentum_10, percentile_50 — each bound to the given timeframe.
func StandardRegistry(tfMin int) *Registry {
	r := NewRegistry()
	r.Bind("atr_14", tfMin, Spec{Name: "atr_14", TimeframeMin: tfMin, Window: 14, Family: FamilyEMA, Div0Policy: DivZeroRetNaN},
		func(b []bars.Bar) []float64 { return ATR(b, 14) })
	r.Bind("ret_log", tfMin, Spec{Name: "ret_log", TimeframeMin: tfMin, Window: 1, Family: FamilyOther, Div0Policy: DivZeroRetNaN},
		func(b []bars.Bar) []float64 { return RollingReturns(b, true) })
	r.Bind("ret_simple", tfMin, Spec{Name: "ret_simple", TimeframeMin: tfMin, Window: 1, Family: FamilyOther, Div0Policy: DivZeroRetNaN},
		func(b []bars.Bar) []float64 { return RollingReturns(b, false) })
	r.Bind("zscore_20", tfMin, Spec{Name: "zscore_20", TimeframeMin: tfMin, Window: 20, Family: FamilyOther, Div0Policy: DivZeroRetNaN},
		func(b []bars.Bar) []float64 { return RollingZScore(closes(b), 20) })
	r.Bind("vwap", tfMin, Spec{Name: "vwap", TimeframeMin: tfMin, Window: 1, Family: FamilyOther, Div0Policy: DivZeroRetNaN},
		func(b []bars.Bar) []float64 { return SessionVWAP(b) })
	r.Bind("donchian_20", tfMin, Spec{Name: "donchian_20", TimeframeMin: tfMin, Window: 20, Family: FamilyOther, Div0Policy: DivZeroRetNaN},
		func(b []bars.Bar) []float64 { upper, _ := DonchianChannel(b, 20); return upper })
	r.Bind("momentum_10", tfMin, Spec{Name: "momentum_10", TimeframeMin: tfMin, Window: 10, Family: FamilyOther, Div0Policy: DivZeroRetNaN},
		func(b []bars.Bar) []float64 { return Momentum(b, 10) })
	r.Bind("percentile_50", tfMin, Spec{Name: "percentile_50", TimeframeMin: tfMin, Window: 50, Family: FamilyOther, Div0Policy: DivZeroRetNaN},
		func(b []bars.Bar) []float64 { return PercentileRank(b, 50) })
	return r
}

// StandardRegistryForTimeframes wires the canonical feature set onto
// every timeframe in tfs, merging each into one Registry so a single
// Builder can cover a bars cache resampled to several timeframes at
// once.
func StandardRegistryForTimeframes(tfs []int) *Registry {
	merged := NewRegistry()
	for _, tf := range tfs {
		one := StandardRegistry(tf)
		for req, spec := range one.specs {
			merged.specs[req] = spec
			merged.compute[req] = one.compute[req]
		}
	}
	return merged
}

// Manifest records the FeatureSpec list, per-file hashes, and for
// INCREMENTAL builds the per-timeframe recompute rewind point.
type Manifest struct {
	Mode               string          `json:"mode"`
	TSDtype            string          `json:"ts_dtype"`
	BreaksPolicy       string          `json:"breaks_policy"`
	Specs              []Spec          `json:"specs"`
	FileSHA256         map[string]string `json:"file_sha256"`
	LookbackRewindByTF map[string]int64 `json:"lookback_rewind_by_tf,omitempty"`
	ManifestSHA256     string          `json:"manifest_sha256,omitempty"`
}

// BuildFull computes every requirement in reqs over the full resampled
// bar array per timeframe.
func BuildFull(reg *Registry, barsByTF map[int][]bars.Bar, reqs []Requirement) (Bundle, Manifest, error) {
	bundle := Bundle{Series: map[Key]Series{}, TSDtype: tsDtype, BreaksPolicy: breaksPolicy}
	var specs []Spec
	for _, req := range reqs {
		spec, fn, ok := reg.Resolve(req)
		if !ok {
			return Bundle{}, Manifest{}, &errs.MissingFeatures{Missing: []errs.FeatureRef{req}}
		}
		b := barsByTF[req.TimeframeMin]
		values := fn(b)
		bundle.Series[Key{Name: req.Name, TimeframeMin: req.TimeframeMin}] = Series{
			Timestamps: timestamps(b), Values: values,
		}
		specs = append(specs, spec)
	}
	return bundle, Manifest{Mode: modeFull, TSDtype: tsDtype, BreaksPolicy: breaksPolicy, Specs: specs}, nil
}

// maxLookback returns the largest warm-up requirement among reqs bound to
// a given timeframe, used to size the incremental rewind window.
func maxLookback(reg *Registry, reqs []Requirement, tfMin int) int {
	max := 0
	for _, req := range reqs {
		if req.TimeframeMin != tfMin {
			continue
		}
		spec, _, ok := reg.Resolve(req)
		if !ok {
			continue
		}
		if w := spec.WarmupBars(); w > max {
			max = w
		}
	}
	return max
}

// BuildIncremental computes each requirement over the full resampled bar
// array, keeps the cached bundle's values before the rewind index
// max(0, appendStartIdx - max_lookback_in_tf) and splices the fresh values
// from that index onward; the manifest records, per timeframe, the
// timestamp at the rewind index.
func BuildIncremental(reg *Registry, cached Bundle, barsByTF map[int][]bars.Bar, reqs []Requirement, appendStartIdxByTF map[int]int) (Bundle, Manifest, error) {
	bundle := Bundle{Series: map[Key]Series{}, TSDtype: tsDtype, BreaksPolicy: breaksPolicy}
	rewinds := map[string]int64{}
	var specs []Spec

	for _, req := range reqs {
		spec, fn, ok := reg.Resolve(req)
		if !ok {
			return Bundle{}, Manifest{}, &errs.MissingFeatures{Missing: []errs.FeatureRef{req}}
		}
		specs = append(specs, spec)

		b := barsByTF[req.TimeframeMin]
		appendIdx := appendStartIdxByTF[req.TimeframeMin]
		lookback := maxLookback(reg, reqs, req.TimeframeMin)
		rewindIdx := appendIdx - lookback
		if rewindIdx < 0 {
			rewindIdx = 0
		}

		full := fn(b)
		key := Key{Name: req.Name, TimeframeMin: req.TimeframeMin}
		cachedSeries, hadCache := cached.Series[key]

		if hadCache && rewindIdx > len(cachedSeries.Timestamps) {
			rewindIdx = len(cachedSeries.Timestamps)
		}

		var spliced Series
		if !hadCache || rewindIdx == 0 {
			spliced = Series{Timestamps: timestamps(b), Values: full}
		} else {
			prefixTS := cachedSeries.Timestamps[:rewindIdx]
			prefixVals := cachedSeries.Values[:rewindIdx]
			tailTS := timestamps(b)[rewindIdx:]
			tailVals := full[rewindIdx:]
			spliced = Series{
				Timestamps: append(append([]int64{}, prefixTS...), tailTS...),
				Values:     append(append([]float64{}, prefixVals...), tailVals...),
			}
		}
		bundle.Series[key] = spliced
		if len(b) > 0 {
			rewinds[tfKey(req.TimeframeMin)] = timestamps(b)[rewindIdx]
		}
	}

	return bundle, Manifest{
		Mode: modeIncrement, TSDtype: tsDtype, BreaksPolicy: breaksPolicy, Specs: specs,
		LookbackRewindByTF: rewinds,
	}, nil
}

func tfKey(tfMin int) string {
	switch tfMin {
	case 1:
		return "1m"
	default:
		return itoa(tfMin) + "m"
	}
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var digits []byte
	for n > 0 {
		digits = append([]byte{byte('0' + n%10)}, digits...)
		n /= 10
	}
	if neg {
		return "-" + string(digits)
	}
	return string(digits)
}

// Persist writes the bundle's series and a self-hashed manifest under
// scope, one file per (name, timeframe) series plus the manifest.
func Persist(scope atomicfile.WriteScope, bundle Bundle, manifest Manifest) error {
	fileSHA := map[string]string{}
	for key, series := range bundle.Series {
		name := seriesFileName(key)
		b, err := canon.Marshal(series)
		if err != nil {
			return err
		}
		if err := atomicfile.Write(scope, name, b); err != nil {
			return err
		}
		fileSHA[name] = canon.SHA256Hex(b)
	}
	manifest.FileSHA256 = fileSHA
	stamped, err := canon.Stamp(manifest, "manifest_sha256")
	if err != nil {
		return err
	}
	manifestBytes, err := canon.Marshal(stamped)
	if err != nil {
		return err
	}
	return atomicfile.Write(scope, fileManifest, manifestBytes)
}

func seriesFileName(k Key) string {
	return k.Name + "_" + tfKey(k.TimeframeMin) + ".json"
}

// ScopeFor builds the write scope for a feature cache directory: one file
// per requirement plus the manifest.
func ScopeFor(dir string, reqs []Requirement) atomicfile.WriteScope {
	exact := []string{fileManifest}
	for _, req := range reqs {
		exact = append(exact, seriesFileName(Key{Name: req.Name, TimeframeMin: req.TimeframeMin}))
	}
	return atomicfile.NewScope(dir, exact, nil)
}
