package sim

import (
	"github.com/board-sim/board-sim/sim/sampling"
)

// ResourcePool holds what a team has accumulated during a run.
// Items are keyed case-insensitively; the first spelling seen is kept for output.
type ResourcePool struct {
	index map[string]int
	items []sampling.Item
}

// NewResourcePool returns an empty pool.
func NewResourcePool() *ResourcePool {
	return &ResourcePool{index: make(map[string]int)}
}

// Add coalesces items into the pool.
func (p *ResourcePool) Add(items ...sampling.Item) {
	for _, it := range items {
		key := sampling.ItemKey(it.Name)
		if i, ok := p.index[key]; ok {
			p.items[i].Quantity += it.Quantity
			continue
		}
		p.index[key] = len(p.items)
		p.items = append(p.items, it)
	}
}

// Quantity returns how many of the named item the pool holds.
func (p *ResourcePool) Quantity(name string) int {
	if p == nil {
		return 0
	}
	if i, ok := p.index[sampling.ItemKey(name)]; ok {
		return p.items[i].Quantity
	}
	return 0
}

// Items returns a copy of the pool contents in first-seen order.
func (p *ResourcePool) Items() []sampling.Item {
	if p == nil {
		return nil
	}
	return append([]sampling.Item(nil), p.items...)
}
