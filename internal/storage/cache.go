package storage

import (
	"github.com/stackgen-lang/stackgen/internal/ir"
)

// Entry records that the storage at Slot currently holds Value.
type Entry struct {
	Slot       *ir.SlotDescriptor
	Value      ir.ValueID
	Generation uint64
}

// Cache maps slot descriptors to the values known to hold their contents.
// It lives for the compilation of a single function.
type Cache struct {
	fn         *ir.Function
	entries    []*Entry
	generation uint64
}

func NewCache(fn *ir.Function) *Cache {
	return &Cache{fn: fn}
}

func (c *Cache) Generation() uint64 {
	return c.generation
}

func (c *Cache) Len() int {
	return len(c.entries)
}

// Lookup returns an entry whose descriptor provably equals d.
func (c *Cache) Lookup(d *ir.SlotDescriptor) (*Entry, bool) {
	for i := len(c.entries) - 1; i >= 0; i-- {
		if Compare(c.fn, c.entries[i].Slot, d) == Equal {
			return c.entries[i], true
		}
	}
	return nil, false
}

// Insert records v as the content of d in the current generation.
func (c *Cache) Insert(d *ir.SlotDescriptor, v ir.ValueID) {
	kept := c.entries[:0]
	for _, e := range c.entries {
		if Compare(c.fn, e.Slot, d) != Equal {
			kept = append(kept, e)
		}
	}
	c.entries = append(kept, &Entry{Slot: d, Value: v, Generation: c.generation})
}

// InvalidateAliasing drops every entry not provably disjoint from d and
// returns how many were dropped.
func (c *Cache) InvalidateAliasing(d *ir.SlotDescriptor) int {
	kept := c.entries[:0]
	dropped := 0
	for _, e := range c.entries {
		if Compare(c.fn, e.Slot, d) == Disjoint {
			kept = append(kept, e)
		} else {
			dropped++
		}
	}
	c.entries = kept
	return dropped
}

func (c *Cache) InvalidateAll() int {
	n := len(c.entries)
	c.entries = nil
	c.generation++
	return n
}

// Bump starts a new generation without dropping entries. Entries from older
// generations are stale and only usable under a policy that proves them valid.
func (c *Cache) Bump() {
	c.generation++
}

// Fresh reports whether e belongs to the current generation.
func (c *Cache) Fresh(e *Entry) bool {
	return e.Generation == c.generation
}
