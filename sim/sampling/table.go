package sampling

import (
	"math/rand"
	"strings"

	"golang.org/x/text/cases"
)

// Item is a named quantity of a resource.
type Item struct {
	Name     string `yaml:"name" json:"name"`
	Quantity int    `yaml:"quantity" json:"quantity"`
}

// Option is one mutually exclusive bundle of a composite entry.
type Option struct {
	Weight float64 `yaml:"weight" json:"weight"`
	Items  []Item  `yaml:"items" json:"items"`
}

// Entry is one line of a roll table. Each entry fires on its own Chance;
// entries are not normalized into a single partition.
//
// A simple entry yields Item × Quantity (uniform in [Quantity, QuantityMax] when
// QuantityMax is larger). A composite entry (Options non-empty) yields exactly one
// option bundle, picked by a second draw weighted by Option.Weight.
type Entry struct {
	Chance      Probability `yaml:"chance" json:"chance"`
	Item        string      `yaml:"item,omitempty" json:"item,omitempty"`
	Quantity    int         `yaml:"quantity,omitempty" json:"quantity,omitempty"`
	QuantityMax int         `yaml:"quantity_max,omitempty" json:"quantity_max,omitempty"`
	Options     []Option    `yaml:"options,omitempty" json:"options,omitempty"`
}

// Composite reports whether the entry resolves to one of several bundles.
func (e Entry) Composite() bool {
	return len(e.Options) > 0
}

func (e Entry) clone() Entry {
	if len(e.Options) == 0 {
		return e
	}
	opts := make([]Option, len(e.Options))
	for i, o := range e.Options {
		opts[i] = Option{Weight: o.Weight, Items: append([]Item(nil), o.Items...)}
	}
	e.Options = opts
	return e
}

// Roll evaluates the entry against the shared draw sequence.
func (e Entry) Roll(rng *rand.Rand) []Item {
	if !Chance(rng, e.Chance.Float64()) {
		return nil
	}
	if e.Composite() {
		opt := pickOption(rng, e.Options)
		return append([]Item(nil), opt.Items...)
	}
	qty := e.Quantity
	if qty < 1 {
		qty = 1
	}
	if e.QuantityMax > qty {
		qty += rng.Intn(e.QuantityMax - qty + 1)
	}
	return []Item{{Name: e.Item, Quantity: qty}}
}

// pickOption draws once and walks the cumulative weights.
// Non-positive total weight falls back to a uniform pick.
func pickOption(rng *rand.Rand, opts []Option) Option {
	total := 0.0
	for _, o := range opts {
		if o.Weight > 0 {
			total += o.Weight
		}
	}
	if total <= 0 {
		return opts[rng.Intn(len(opts))]
	}
	u := rng.Float64() * total
	cumulative := 0.0
	for _, o := range opts {
		if o.Weight <= 0 {
			continue
		}
		cumulative += o.Weight
		if u < cumulative {
			return o
		}
	}
	return opts[len(opts)-1]
}

// Table is an ordered list of independently evaluated entries.
type Table []Entry

// Roll evaluates every entry in order and concatenates what fired.
func (t Table) Roll(rng *rand.Rand) []Item {
	var out []Item
	for _, e := range t {
		out = append(out, e.Roll(rng)...)
	}
	return out
}

func (t Table) clone() Table {
	if t == nil {
		return nil
	}
	out := make(Table, len(t))
	for i, e := range t {
		out[i] = e.clone()
	}
	return out
}

// Source is everything one successful attempt can yield.
// Guaranteed items bypass randomness; Main and Tertiary are rolled independently
// and are not mutually exclusive.
type Source struct {
	Guaranteed []Item `yaml:"guaranteed,omitempty" json:"guaranteed,omitempty"`
	Main       Table  `yaml:"table,omitempty" json:"table,omitempty"`
	Tertiary   Table  `yaml:"tertiary,omitempty" json:"tertiary,omitempty"`
}

// Roll produces the coalesced output of one attempt:
// guaranteed, then main table, then tertiary rolls.
func (s Source) Roll(rng *rand.Rand) []Item {
	out := make([]Item, 0, len(s.Guaranteed)+1)
	out = append(out, s.Guaranteed...)
	out = append(out, s.Main.Roll(rng)...)
	out = append(out, s.Tertiary.Roll(rng)...)
	return Merge(out...)
}

// Clone returns a deep copy of the source.
func (s Source) Clone() Source {
	var guaranteed []Item
	if s.Guaranteed != nil {
		guaranteed = append([]Item(nil), s.Guaranteed...)
	}
	return Source{
		Guaranteed: guaranteed,
		Main:       s.Main.clone(),
		Tertiary:   s.Tertiary.clone(),
	}
}

// ItemKey is the identity used when coalescing items: the case-folded, trimmed name.
func ItemKey(name string) string {
	return cases.Fold().String(strings.TrimSpace(name))
}

// Merge coalesces items by case-insensitive name, summing quantities.
// The first spelling seen and first-seen order are preserved.
func Merge(items ...Item) []Item {
	out := make([]Item, 0, len(items))
	index := make(map[string]int, len(items))
	for _, it := range items {
		key := ItemKey(it.Name)
		if i, ok := index[key]; ok {
			out[i].Quantity += it.Quantity
			continue
		}
		index[key] = len(out)
		out = append(out, it)
	}
	return out
}
