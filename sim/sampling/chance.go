// Package sampling provides the random primitives of a run: probability draws,
// roll tables and time distributions. Every function takes the run's *rand.Rand;
// nothing here touches a global generator.
package sampling

import (
	"fmt"
	"math/rand"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Chance reports whether an event with probability p fires.
// p <= 0 never fires and p >= 1 always fires, neither consuming a draw;
// any interior p consumes exactly one draw and fires iff draw < p.
func Chance(rng *rand.Rand, p float64) bool {
	if p <= 0 {
		return false
	}
	if p >= 1 {
		return true
	}
	return rng.Float64() < p
}

// Probability is a chance in [0,1]. In YAML it may be written as a decimal
// ("0.25") or as a drop-rate fraction ("1/115").
type Probability float64

// ParseProbability parses "0.25" or "1/115".
func ParseProbability(s string) (Probability, error) {
	s = strings.TrimSpace(s)
	if num, den, ok := strings.Cut(s, "/"); ok {
		n, err := strconv.ParseFloat(strings.TrimSpace(num), 64)
		if err != nil {
			return 0, fmt.Errorf("parsing probability %q: %w", s, err)
		}
		d, err := strconv.ParseFloat(strings.TrimSpace(den), 64)
		if err != nil {
			return 0, fmt.Errorf("parsing probability %q: %w", s, err)
		}
		if d == 0 {
			return 0, fmt.Errorf("parsing probability %q: zero denominator", s)
		}
		return Probability(n / d), nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("parsing probability %q: %w", s, err)
	}
	return Probability(v), nil
}

// UnmarshalYAML accepts both numeric and fraction notation.
func (p *Probability) UnmarshalYAML(node *yaml.Node) error {
	parsed, err := ParseProbability(node.Value)
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}

// Float64 returns the probability as a float.
func (p Probability) Float64() float64 {
	return float64(p)
}
