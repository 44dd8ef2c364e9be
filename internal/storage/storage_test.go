package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stackgen-lang/stackgen/internal/ir"
)

func countOps(fn *ir.Function, op ir.Op) int {
	n := 0
	for _, blk := range fn.Blocks {
		for _, id := range blk.Values {
			if !fn.IsReplaced(id) && fn.Value(id).Op == op {
				n++
			}
		}
	}
	return n
}

func newEntry(params ...string) *ir.Builder {
	b := ir.NewBuilder("f", params, 1)
	b.SetBlock(b.NewBlock("entry"))
	return b
}

func arg(b *ir.Builder, name string) ir.ValueID {
	id, ok := b.ReadLocal(name)
	if !ok {
		panic(name)
	}
	return id
}

func TestCompareDescriptors(t *testing.T) {
	b := newEntry("a", "c")
	a, c := arg(b, "a"), arg(b, "c")
	fn := b.Function()
	one, two := b.ConstUint64(1), b.ConstUint64(2)
	sumAC := b.Emit(ir.OpAdd, a, c)
	sumCA := b.Emit(ir.OpAdd, c, a)
	subAC := b.Emit(ir.OpSub, a, c)
	subCA := b.Emit(ir.OpSub, c, a)

	m := ir.ConstSlot("m", 1)
	key := func(k ir.ValueID) ir.Segment { return ir.Segment{Kind: ir.SegMapKey, Key: k} }
	packed := func(off, width uint) *ir.SlotDescriptor {
		d := ir.ConstSlot("p", 4)
		d.Packed = &ir.BitRange{Offset: off, Width: width}
		return d
	}

	tests := []struct {
		name string
		a, b *ir.SlotDescriptor
		want Relation
	}{
		{"same constant slot", ir.ConstSlot("x", 0), ir.ConstSlot("x", 0), Equal},
		{"different state variables", ir.ConstSlot("x", 0), ir.ConstSlot("y", 1), Disjoint},
		{"same key", m.With(key(a)), m.With(key(a)), Equal},
		{"distinct constant keys", m.With(key(one)), m.With(key(two)), Disjoint},
		{"unrelated keys", m.With(key(a)), m.With(key(c)), Unknown},
		{"commutative key expression", m.With(key(sumAC)), m.With(key(sumCA)), Equal},
		{"non-commutative key expression", m.With(key(subAC)), m.With(key(subCA)), Unknown},
		{"key order matters", m.With(key(a)).With(key(c)), m.With(key(c)).With(key(a)), Unknown},
		{"different struct fields", m.With(key(a)).With(ir.Segment{Kind: ir.SegField, Field: 0}),
			m.With(key(a)).With(ir.Segment{Kind: ir.SegField, Field: 1}), Disjoint},
		{"path length differs", m, m.With(key(a)), Unknown},
		{"dynamic base", ir.DynamicSlot(a), ir.DynamicSlot(a), Equal},
		{"dynamic against constant", ir.DynamicSlot(a), ir.ConstSlot("x", 0), Unknown},
		{"same packed field", packed(0, 8), packed(0, 8), Equal},
		{"disjoint packed fields", packed(0, 8), packed(8, 8), Disjoint},
		{"overlapping packed fields", packed(0, 16), packed(8, 8), Unknown},
		{"packed against whole word", packed(0, 8), ir.ConstSlot("p", 4), Unknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Compare(fn, tt.a, tt.b))
			assert.Equal(t, tt.want, Compare(fn, tt.b, tt.a))
		})
	}
}

func TestRepeatedLoadsBecomeOne(t *testing.T) {
	b := newEntry()
	total := ir.ConstSlot("total", 0)
	first := b.Load(total)
	second := b.Load(total)
	third := b.Load(total)
	b.Return(b.Emit(ir.OpAdd, b.Emit(ir.OpAdd, first, second), third))
	fn := b.Function()

	st := NewOptimizer(Options{}).Run(fn)

	assert.Equal(t, 2, st.LoadsRemoved)
	assert.Equal(t, 1, countOps(fn, ir.OpSLoad))
	assert.Equal(t, first, fn.Resolve(second))
	assert.Equal(t, first, fn.Resolve(third))
}

func TestStoreForwardsToLoad(t *testing.T) {
	b := newEntry("x")
	total := ir.ConstSlot("total", 0)
	x := arg(b, "x")
	b.Store(total, x)
	loaded := b.Load(total)
	b.Return(loaded)
	fn := b.Function()

	NewOptimizer(Options{}).Run(fn)

	assert.Equal(t, 0, countOps(fn, ir.OpSLoad))
	assert.Equal(t, x, fn.Resolve(loaded))
}

func TestCallInvalidatesCache(t *testing.T) {
	for _, op := range []ir.Op{ir.OpCall, ir.OpRawCall} {
		t.Run(op.String(), func(t *testing.T) {
			b := newEntry("to")
			total := ir.ConstSlot("total", 0)
			before := b.Load(total)
			zero := b.ConstUint64(0)
			b.Emit(op, arg(b, "to"), zero, zero)
			after := b.Load(total)
			b.Return(b.Emit(ir.OpAdd, before, after))
			fn := b.Function()

			st := NewOptimizer(Options{}).Run(fn)

			assert.Equal(t, 2, countOps(fn, ir.OpSLoad))
			assert.NotEqual(t, before, fn.Resolve(after))
			assert.Equal(t, 1, st.Invalidations)
		})
	}
}

func TestDelegateCallInvalidatesCache(t *testing.T) {
	b := newEntry("to")
	total := ir.ConstSlot("total", 0)
	b.Store(total, b.ConstUint64(5))
	b.Emit(ir.OpDelegateCall, arg(b, "to"), b.ConstUint64(0))
	after := b.Load(total)
	b.Return(after)
	fn := b.Function()

	NewOptimizer(Options{}).Run(fn)

	assert.Equal(t, 1, countOps(fn, ir.OpSLoad))
	assert.Equal(t, 1, countOps(fn, ir.OpSStore))
	assert.False(t, fn.IsReplaced(after))
}

func TestStaticCallPolicy(t *testing.T) {
	build := func() (*ir.Function, ir.ValueID, ir.ValueID) {
		b := newEntry("to")
		total := ir.ConstSlot("total", 0)
		before := b.Load(total)
		b.Emit(ir.OpStaticCall, arg(b, "to"), b.ConstUint64(0))
		after := b.Load(total)
		b.Return(b.Emit(ir.OpAdd, before, after))
		return b.Function(), before, after
	}

	fn, _, after := build()
	NewOptimizer(Options{StaticCalls: StaticCallConservative}).Run(fn)
	assert.Equal(t, 2, countOps(fn, ir.OpSLoad))
	assert.False(t, fn.IsReplaced(after))

	fn, before, after := build()
	st := NewOptimizer(Options{StaticCalls: StaticCallPrecise}).Run(fn)
	assert.Equal(t, 1, countOps(fn, ir.OpSLoad))
	assert.Equal(t, before, fn.Resolve(after))
	assert.Equal(t, 1, st.StaleReuses)
}

func TestDeadStoreElimination(t *testing.T) {
	b := newEntry()
	v := ir.ConstSlot("v", 0)
	b.Store(v, b.ConstUint64(1))
	b.Store(v, b.ConstUint64(2))
	last := b.Store(v, b.ConstUint64(3))
	b.Stop()
	fn := b.Function()

	st := NewOptimizer(Options{}).Run(fn)

	assert.Equal(t, 2, st.DeadStores)
	require.Equal(t, 1, countOps(fn, ir.OpSStore))
	stored, ok := fn.ConstValue(fn.Value(last).Args[1])
	require.True(t, ok)
	assert.Equal(t, uint64(3), stored.Uint64())
}

func TestDeadStoreKeptWhenObserved(t *testing.T) {
	tests := []struct {
		name    string
		between func(b *ir.Builder)
	}{
		{"read that may alias", func(b *ir.Builder) {
			y, _ := b.ReadLocal("y")
			b.Emit(ir.OpLog0, b.Load(ir.ConstSlot("m", 1).With(ir.Segment{Kind: ir.SegMapKey, Key: y})))
		}},
		{"unknown read", func(b *ir.Builder) {
			b.Emit(ir.OpLog0, b.Emit(ir.OpSLoad, b.ConstUint64(0)))
		}},
		{"external call", func(b *ir.Builder) {
			zero := b.ConstUint64(0)
			b.Emit(ir.OpCall, zero, zero, zero)
		}},
		{"static call", func(b *ir.Builder) {
			zero := b.ConstUint64(0)
			b.Emit(ir.OpStaticCall, zero, zero)
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := newEntry("x", "y")
			v := ir.ConstSlot("m", 1).With(ir.Segment{Kind: ir.SegMapKey, Key: arg(b, "x")})
			b.Store(v, b.ConstUint64(1))
			tt.between(b)
			b.Store(v, b.ConstUint64(2))
			b.Stop()
			fn := b.Function()

			NewOptimizer(Options{}).Run(fn)
			assert.Equal(t, 2, countOps(fn, ir.OpSStore))
		})
	}
}

func TestDisjointStoreKeepsUnrelatedEntries(t *testing.T) {
	b := newEntry()
	a, other := ir.ConstSlot("a", 0), ir.ConstSlot("b", 1)
	first := b.Load(a)
	b.Store(other, b.ConstUint64(9))
	second := b.Load(a)
	b.Return(b.Emit(ir.OpAdd, first, second))
	fn := b.Function()

	NewOptimizer(Options{}).Run(fn)
	assert.Equal(t, 1, countOps(fn, ir.OpSLoad))
}

func TestMayAliasStoreInvalidates(t *testing.T) {
	b := newEntry("x", "y")
	m := ir.ConstSlot("m", 2)
	atX := m.With(ir.Segment{Kind: ir.SegMapKey, Key: arg(b, "x")})
	atY := m.With(ir.Segment{Kind: ir.SegMapKey, Key: arg(b, "y")})
	first := b.Load(atX)
	b.Store(atY, b.ConstUint64(1))
	second := b.Load(atX)
	b.Return(b.Emit(ir.OpAdd, first, second))
	fn := b.Function()

	NewOptimizer(Options{}).Run(fn)
	assert.Equal(t, 2, countOps(fn, ir.OpSLoad))
}

func TestNoopStoreElimination(t *testing.T) {
	b := newEntry()
	total := ir.ConstSlot("total", 0)
	cur := b.Load(total)
	b.Store(total, cur)
	b.Return(cur)
	fn := b.Function()

	st := NewOptimizer(Options{}).Run(fn)
	assert.Equal(t, 1, st.NoopStores)
	assert.Equal(t, 0, countOps(fn, ir.OpSStore))
	assert.Equal(t, 1, countOps(fn, ir.OpSLoad))
}

func TestOptimizerIsIdempotent(t *testing.T) {
	b := newEntry("x", "to")
	total := ir.ConstSlot("total", 0)
	m := ir.ConstSlot("m", 1).With(ir.Segment{Kind: ir.SegMapKey, Key: arg(b, "x")})
	b.Store(total, b.ConstUint64(1))
	l := b.Load(total)
	b.Store(total, b.Emit(ir.OpAdd, l, arg(b, "x")))
	b.Store(m, b.Load(m))
	zero := b.ConstUint64(0)
	b.Emit(ir.OpCall, arg(b, "to"), zero, zero)
	b.Store(total, b.Load(total))
	b.Return(b.Load(m))
	fn := b.Function()

	opt := NewOptimizer(Options{})
	first := opt.Run(fn)
	require.Greater(t, first.Changed(), 0)
	snapshot := ir.Print(fn)

	second := opt.Run(fn)
	assert.Equal(t, 0, second.Changed())
	assert.Equal(t, snapshot, ir.Print(fn))
}

func TestPackedFieldWritesCoalesce(t *testing.T) {
	b := newEntry("lo", "hi")
	field := func(off uint) *ir.SlotDescriptor {
		d := ir.ConstSlot("flags", 3)
		d.Packed = &ir.BitRange{Offset: off, Width: 8}
		return d
	}
	b.Store(field(0), arg(b, "lo"))
	b.Store(field(8), arg(b, "hi"))
	b.Stop()
	fn := b.Function()

	st := NewOptimizer(Options{}).Run(fn)

	assert.Equal(t, 2, st.PackedLowered)
	assert.Equal(t, 1, countOps(fn, ir.OpSLoad), "second word load is served by the first store")
	assert.Equal(t, 1, countOps(fn, ir.OpSStore), "first word store is overwritten")
	for _, id := range fn.Entry().Values {
		if v := fn.Value(id); v.Slot != nil {
			assert.Nil(t, v.Slot.Packed)
		}
	}
}

func TestPackedReadExtractsField(t *testing.T) {
	b := newEntry()
	d := ir.ConstSlot("flags", 3)
	d.Packed = &ir.BitRange{Offset: 8, Width: 4}
	got := b.Load(d)
	b.Return(got)
	fn := b.Function()

	LowerPacked(fn)

	field := fn.Value(fn.Resolve(got))
	require.Equal(t, ir.OpAnd, field.Op)
	mask, ok := fn.ConstValue(field.Args[1])
	require.True(t, ok)
	assert.Equal(t, uint64(0xf), mask.Uint64())
	shifted := fn.Value(field.Args[0])
	require.Equal(t, ir.OpShr, shifted.Op)
	amount, _ := fn.ConstValue(shifted.Args[0])
	assert.Equal(t, uint64(8), amount.Uint64())
}
