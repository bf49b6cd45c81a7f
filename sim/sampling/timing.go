package sampling

import (
	"fmt"
	"math"
	"math/rand"
	"sort"
)

// Time distribution names accepted in TimeSpec.Distribution.
const (
	DistUniform = "uniform"
	DistNormal  = "normal"
	DistCustom  = "custom"
)

// TimeSpec configures how long one successful attempt takes, in minutes.
type TimeSpec struct {
	Distribution string  `yaml:"distribution" json:"distribution"`
	Min          float64 `yaml:"min" json:"min"`
	Max          float64 `yaml:"max" json:"max"`
	Key          string  `yaml:"key,omitempty" json:"key,omitempty"`
}

// Mean returns the midpoint of the range, used for expected-time estimates.
func (s TimeSpec) Mean() float64 {
	return (s.Min + s.Max) / 2
}

// TimeSampler generates elapsed-time samples.
type TimeSampler interface {
	// Sample returns a duration in minutes within the configured range.
	Sample(rng *rand.Rand) float64
}

// UniformSampler draws linearly between min and max.
type UniformSampler struct {
	min, max float64
}

func (s *UniformSampler) Sample(rng *rand.Rand) float64 {
	if s.min == s.max {
		return s.min
	}
	return s.min + rng.Float64()*(s.max-s.min)
}

// NormalApproxSampler produces a bell-shaped sample centred on the midpoint with
// the range spanning six standard deviations, clamped to [min, max].
type NormalApproxSampler struct {
	min, max float64
}

func (s *NormalApproxSampler) Sample(rng *rand.Rand) float64 {
	if s.min == s.max {
		return s.min
	}
	mean := (s.min + s.max) / 2
	stdDev := (s.max - s.min) / 6
	val := rng.NormFloat64()*stdDev + mean
	return math.Min(s.max, math.Max(s.min, val))
}

// CustomFunc is a named sampling function resolved through a TimeRegistry.
type CustomFunc func(rng *rand.Rand, min, max float64) float64

// CustomSampler delegates to a registered CustomFunc and clamps its output.
type CustomSampler struct {
	key      string
	fn       CustomFunc
	min, max float64
}

func (s *CustomSampler) Sample(rng *rand.Rand) float64 {
	val := s.fn(rng, s.min, s.max)
	if math.IsNaN(val) || math.IsInf(val, 0) {
		return s.min
	}
	return math.Min(s.max, math.Max(s.min, val))
}

// TimeRegistry maps custom distribution keys to sampling functions.
// It is built once at startup and handed to the executor explicitly.
type TimeRegistry struct {
	funcs map[string]CustomFunc
}

// NewTimeRegistry returns a registry holding the built-in custom distributions:
// "triangular", "exponential" and "front-loaded".
func NewTimeRegistry() *TimeRegistry {
	r := &TimeRegistry{funcs: make(map[string]CustomFunc)}
	r.Register("triangular", triangular)
	r.Register("exponential", exponentialCapped)
	r.Register("front-loaded", frontLoaded)
	return r
}

// Register adds or replaces a custom distribution.
func (r *TimeRegistry) Register(key string, fn CustomFunc) {
	r.funcs[key] = fn
}

// Lookup returns the function registered under key.
func (r *TimeRegistry) Lookup(key string) (CustomFunc, bool) {
	if r == nil {
		return nil, false
	}
	fn, ok := r.funcs[key]
	return fn, ok
}

// Keys returns the registered keys in sorted order.
func (r *TimeRegistry) Keys() []string {
	keys := make([]string, 0, len(r.funcs))
	for k := range r.funcs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// triangular is the symmetric triangular distribution on [min, max].
func triangular(rng *rand.Rand, min, max float64) float64 {
	u := (rng.Float64() + rng.Float64()) / 2
	return min + u*(max-min)
}

// exponentialCapped starts at min with mean (max-min)/3 and is clamped at max.
func exponentialCapped(rng *rand.Rand, min, max float64) float64 {
	return min + rng.ExpFloat64()*(max-min)/3
}

// frontLoaded skews toward min: most attempts finish quickly, a few run long.
func frontLoaded(rng *rand.Rand, min, max float64) float64 {
	u := rng.Float64()
	return min + u*u*(max-min)
}

// NewTimeSampler creates a TimeSampler from a TimeSpec.
// Custom keys are resolved against registry; unknown keys are an error.
func NewTimeSampler(spec TimeSpec, registry *TimeRegistry) (TimeSampler, error) {
	if spec.Min < 0 {
		return nil, fmt.Errorf("time min must be non-negative, got %f", spec.Min)
	}
	if spec.Max < spec.Min {
		return nil, fmt.Errorf("time max %f is below min %f", spec.Max, spec.Min)
	}
	switch spec.Distribution {
	case "", DistUniform:
		return &UniformSampler{min: spec.Min, max: spec.Max}, nil

	case DistNormal:
		return &NormalApproxSampler{min: spec.Min, max: spec.Max}, nil

	case DistCustom:
		if spec.Key == "" {
			return nil, fmt.Errorf("custom time distribution requires a key")
		}
		fn, ok := registry.Lookup(spec.Key)
		if !ok {
			return nil, fmt.Errorf("unknown custom time distribution %q", spec.Key)
		}
		return &CustomSampler{key: spec.Key, fn: fn, min: spec.Min, max: spec.Max}, nil

	default:
		return nil, fmt.Errorf("unknown time distribution %q", spec.Distribution)
	}
}
