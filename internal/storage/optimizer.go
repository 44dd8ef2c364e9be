package storage

import (
	"github.com/tliron/commonlog"

	"github.com/stackgen-lang/stackgen/internal/ir"
)

var log = commonlog.GetLogger("stackgen.storage")

// StaticCallPolicy selects how a static call affects the cache.
type StaticCallPolicy int

const (
	// StaticCallConservative drops every entry, like any other call.
	StaticCallConservative StaticCallPolicy = iota
	// StaticCallPrecise only bumps the generation: a static call cannot write
	// state, so entries from before it may still be reused.
	StaticCallPrecise
)

func ParseStaticCallPolicy(s string) (StaticCallPolicy, bool) {
	switch s {
	case "", "conservative":
		return StaticCallConservative, true
	case "precise":
		return StaticCallPrecise, true
	}
	return StaticCallConservative, false
}

type Options struct {
	StaticCalls StaticCallPolicy
	// MaxRounds bounds the number of load/store rounds per function.
	MaxRounds int
}

// Stats counts what one Run changed.
type Stats struct {
	PackedLowered int
	LoadsRemoved  int
	DeadStores    int
	NoopStores    int
	Invalidations int
	StaleReuses   int
	Rounds        int
}

// Changed is the number of rewrites, excluding bookkeeping counters.
func (s Stats) Changed() int {
	return s.PackedLowered + s.LoadsRemoved + s.DeadStores + s.NoopStores
}

func (s *Stats) Add(o Stats) {
	s.PackedLowered += o.PackedLowered
	s.LoadsRemoved += o.LoadsRemoved
	s.DeadStores += o.DeadStores
	s.NoopStores += o.NoopStores
	s.Invalidations += o.Invalidations
	s.StaleReuses += o.StaleReuses
	s.Rounds += o.Rounds
}

// Optimizer removes redundant storage traffic while keeping every
// observable read and write.
type Optimizer struct {
	opts Options
}

func NewOptimizer(opts Options) *Optimizer {
	if opts.MaxRounds <= 0 {
		opts.MaxRounds = 8
	}
	return &Optimizer{opts: opts}
}

// Run optimizes fn in place. It iterates to a fixed point, so running it
// again on its own output changes nothing.
func (o *Optimizer) Run(fn *ir.Function) Stats {
	var st Stats
	st.PackedLowered = LowerPacked(fn)
	for st.Rounds < o.opts.MaxRounds {
		st.Rounds++
		before := st.Changed()
		for _, blk := range fn.Blocks {
			o.forward(fn, blk, &st)
			o.eliminateDeadStores(fn, blk, &st)
		}
		if st.Changed() == before {
			break
		}
	}
	log.Debugf("%s: %d loads removed, %d dead stores, %d no-op stores, %d rounds",
		fn.Name, st.LoadsRemoved, st.DeadStores, st.NoopStores, st.Rounds)
	return st
}

// forward walks the block once with a fresh cache, serving loads from known
// values and dropping stores that write back what the slot already holds.
func (o *Optimizer) forward(fn *ir.Function, blk *ir.Block, st *Stats) {
	cache := NewCache(fn)
	out := blk.Values[:0]
	for _, id := range blk.Values {
		if fn.IsReplaced(id) {
			continue
		}
		v := fn.Value(id)
		switch {
		case v.Op == ir.OpSLoad && v.Slot != nil:
			if e, ok := o.usable(cache, v.Slot, st); ok {
				fn.Substitute(id, e.Value)
				st.LoadsRemoved++
				continue
			}
			cache.Insert(v.Slot, id)

		case v.Op == ir.OpSStore && v.Slot != nil:
			val := fn.Resolve(v.Args[1])
			if e, ok := o.usable(cache, v.Slot, st); ok && atomEqual(fn, e.Value, val) {
				st.NoopStores++
				continue
			}
			cache.InvalidateAliasing(v.Slot)
			cache.Insert(v.Slot, val)

		case v.Op == ir.OpSStore:
			// Address without a descriptor: anything may alias.
			st.Invalidations++
			cache.InvalidateAll()

		case v.Op.Info().Effect == ir.EffectCall:
			st.Invalidations++
			cache.InvalidateAll()

		case v.Op.Info().Effect == ir.EffectStaticCall:
			if o.opts.StaticCalls == StaticCallPrecise {
				cache.Bump()
			} else {
				st.Invalidations++
				cache.InvalidateAll()
			}
		}
		out = append(out, id)
	}
	blk.Values = out
}

func (o *Optimizer) usable(cache *Cache, d *ir.SlotDescriptor, st *Stats) (*Entry, bool) {
	e, ok := cache.Lookup(d)
	if !ok {
		return nil, false
	}
	if cache.Fresh(e) {
		return e, true
	}
	if o.opts.StaticCalls == StaticCallPrecise {
		st.StaleReuses++
		return e, true
	}
	return nil, false
}

// eliminateDeadStores drops a store when a later store to the same slot
// follows before anything could observe it: no read that may alias, no call
// of any kind, and no block boundary in between.
func (o *Optimizer) eliminateDeadStores(fn *ir.Function, blk *ir.Block, st *Stats) {
	dead := make(map[ir.ValueID]bool)
	for i, id := range blk.Values {
		v := fn.Value(id)
		if v.Op != ir.OpSStore || v.Slot == nil {
			continue
		}
		if overwritten(fn, blk.Values[i+1:], v.Slot) {
			dead[id] = true
		}
	}
	if len(dead) == 0 {
		return
	}
	out := blk.Values[:0]
	for _, id := range blk.Values {
		if dead[id] {
			st.DeadStores++
			continue
		}
		out = append(out, id)
	}
	blk.Values = out
}

func overwritten(fn *ir.Function, rest []ir.ValueID, d *ir.SlotDescriptor) bool {
	for _, id := range rest {
		n := fn.Value(id)
		switch {
		case n.Op == ir.OpSStore:
			if n.Slot != nil && Compare(fn, n.Slot, d) == Equal {
				return true
			}
		case n.Op == ir.OpSLoad:
			if n.Slot == nil || Compare(fn, n.Slot, d) != Disjoint {
				return false
			}
		case n.Op.IsCall():
			return false
		}
	}
	return false
}
