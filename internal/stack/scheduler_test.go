package stack

import (
	"fmt"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/core/vm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stackgen-lang/stackgen/internal/asm"
	"github.com/stackgen-lang/stackgen/internal/depgraph"
	"github.com/stackgen-lang/stackgen/internal/errors"
	"github.com/stackgen-lang/stackgen/internal/ir"
)

func compact(s asm.Stream) string {
	parts := make([]string, len(s))
	for i, in := range s {
		parts[i] = in.String()
	}
	return strings.Join(parts, " ")
}

func schedule(t *testing.T, fn *ir.Function) asm.Stream {
	t.Helper()
	out, err := NewScheduler(fn).ScheduleFunction()
	require.NoError(t, err)
	return out
}

func TestRepeatedOperandIsDuplicated(t *testing.T) {
	b := ir.NewBuilder("f", []string{"x"}, 1)
	b.SetBlock(b.NewBlock("entry"))
	x := b.Arg(0)
	t1 := b.Emit(ir.OpAdd, x, x)
	t2 := b.Emit(ir.OpAdd, t1, x)
	t3 := b.Emit(ir.OpAdd, t2, x)
	b.Return(t3)

	out := schedule(t, b.Function())
	assert.Equal(t, 1, out.Count(vm.CALLDATALOAD))
	assert.Equal(t, 3, out.CountDups())
	assert.Equal(t,
		"f.entry: JUMPDEST PUSH1 0x4 CALLDATALOAD DUP1 DUP1 DUP1 ADD ADD ADD PUSH0 MSTORE PUSH1 0x20 PUSH0 RETURN",
		compact(out))
}

func TestMultiUseValueIsCopiedOnce(t *testing.T) {
	b := ir.NewBuilder("f", nil, 1)
	b.SetBlock(b.NewBlock("entry"))
	v := b.Load(ir.ConstSlot("total", 0))
	b.Return(b.Emit(ir.OpAdd, v, v))

	out := schedule(t, b.Function())
	assert.Equal(t, "f.entry: JUMPDEST PUSH0 SLOAD DUP1 ADD PUSH0 MSTORE PUSH1 0x20 PUSH0 RETURN", compact(out))
}

func TestFoldKeepsStackShallow(t *testing.T) {
	b := ir.NewBuilder("f", nil, 1)
	b.SetBlock(b.NewBlock("entry"))
	var loads []ir.ValueID
	for i := 0; i < 20; i++ {
		loads = append(loads, b.Load(ir.ConstSlot(fmt.Sprintf("s%d", i), uint64(i))))
	}
	acc := loads[0]
	for _, l := range loads[1:] {
		acc = b.Emit(ir.OpAdd, acc, l)
	}
	b.Return(acc)

	s := NewScheduler(b.Function())
	out, err := s.ScheduleFunction()
	require.NoError(t, err)
	assert.Equal(t, 20, out.Count(vm.SLOAD))
	assert.Equal(t, 19, out.Count(vm.ADD))
	assert.Zero(t, out.CountDups())
	assert.Zero(t, out.Count(vm.POP))
	assert.LessOrEqual(t, s.MaxDepth(), 2)
}

func TestSeventeenLiveValuesExceedDepth(t *testing.T) {
	b := ir.NewBuilder("f", nil, 0)
	b.SetBlock(b.NewBlock("entry"))
	var loads []ir.ValueID
	for i := 0; i < 17; i++ {
		loads = append(loads, b.Assign(fmt.Sprintf("a%d", i), b.Load(ir.ConstSlot(fmt.Sprintf("in%d", i), uint64(i)))))
	}
	for i, l := range loads {
		b.Store(ir.ConstSlot(fmt.Sprintf("out%d", i), uint64(100+i)), l)
	}
	b.Stop()

	_, err := NewScheduler(b.Function()).ScheduleFunction()
	require.Error(t, err)
	ce, ok := errors.AsCompilerError(err)
	require.True(t, ok)
	assert.Equal(t, errors.ErrorStackDepthExceeded, ce.Code)
	assert.Contains(t, ce.Message, "'a0' (sload)")
}

func TestSixteenLiveValuesFit(t *testing.T) {
	b := ir.NewBuilder("f", nil, 0)
	b.SetBlock(b.NewBlock("entry"))
	var loads []ir.ValueID
	for i := 0; i < 16; i++ {
		loads = append(loads, b.Load(ir.ConstSlot(fmt.Sprintf("in%d", i), uint64(i))))
	}
	for i, l := range loads {
		b.Store(ir.ConstSlot(fmt.Sprintf("out%d", i), uint64(100+i)), l)
	}
	b.Stop()

	out := schedule(t, b.Function())
	assert.LessOrEqual(t, out.MaxAccessDepth(), asm.MaxStackAccess)
	assert.Equal(t, 16, out.Count(vm.SSTORE))
}

func TestInlineValueWithSharedOperandIsComputedOnce(t *testing.T) {
	b := ir.NewBuilder("f", nil, 0)
	b.SetBlock(b.NewBlock("entry"))
	k := b.Emit(ir.OpKeccakWord, b.Load(ir.ConstSlot("x", 0)))
	b.Store(ir.ConstSlot("y", 1), b.Emit(ir.OpAdd, k, b.ConstUint64(9)))
	b.Store(ir.ConstSlot("z", 2), k)
	b.Stop()

	out := schedule(t, b.Function())
	assert.Equal(t, 1, out.Count(vm.KECCAK256))
	assert.Equal(t, 1, out.Count(vm.ADD))
	assert.Equal(t, 2, out.Count(vm.SSTORE))
}

func TestUnusedValuesReleaseTheirOperands(t *testing.T) {
	b := ir.NewBuilder("f", nil, 0)
	b.SetBlock(b.NewBlock("entry"))
	y := b.Load(ir.ConstSlot("y", 0))
	for i := 0; i < 17; i++ {
		x := b.Load(ir.ConstSlot(fmt.Sprintf("x%d", i), uint64(1+i)))
		b.Emit(ir.OpNot, b.Emit(ir.OpAdd, x, b.ConstUint64(1)))
	}
	b.Store(ir.ConstSlot("z", 100), y)
	b.Stop()

	s := NewScheduler(b.Function())
	out, err := s.ScheduleFunction()
	require.NoError(t, err)
	assert.Equal(t, 18, out.Count(vm.SLOAD))
	assert.Zero(t, out.Count(vm.ADD))
	assert.Zero(t, out.Count(vm.NOT))
	assert.LessOrEqual(t, s.MaxDepth(), 3)
}

func TestMemoryOffsetsSkipScratch(t *testing.T) {
	b := ir.NewBuilder("f", nil, 0)
	b.SetBlock(b.NewBlock("entry"))
	b.Emit(ir.OpMStore, b.ConstUint64(0), b.ConstUint64(5))
	b.Stop()

	out := schedule(t, b.Function())
	assert.Contains(t, compact(out), "PUSH1 0x40 ADD MSTORE")
}

func TestLoopThreadsBlockParams(t *testing.T) {
	b := ir.NewBuilder("f", nil, 1)
	entry := b.NewBlock("entry")
	loop := b.NewBlock("loop", "i")
	exit := b.NewBlock("exit", "r")

	b.SetBlock(entry)
	b.Jump(loop, b.ConstUint64(0))

	b.SetBlock(loop)
	i, _ := b.ReadLocal("i")
	next := b.Emit(ir.OpAdd, i, b.ConstUint64(1))
	cond := b.Emit(ir.OpLt, next, b.ConstUint64(10))
	b.Branch(cond, loop, []ir.ValueID{next}, exit, []ir.ValueID{next})

	b.SetBlock(exit)
	r, _ := b.ReadLocal("r")
	b.Return(r)

	s := NewScheduler(b.Function())
	var got []string
	for _, g := range depgraph.BuildFunction(b.Function()) {
		code, err := s.Schedule(g)
		require.NoError(t, err)
		got = append(got, compact(code))
	}
	assert.Equal(t, []string{
		"f.entry: JUMPDEST PUSH0 PUSH @f.loop JUMP",
		"f.loop: JUMPDEST PUSH1 0x1 ADD PUSH1 0xa DUP2 LT PUSH @f.loop JUMPI PUSH @f.exit JUMP",
		"f.exit: JUMPDEST PUSH0 MSTORE PUSH1 0x20 PUSH0 RETURN",
	}, got)
}

func TestBranchTrampolineReordersStack(t *testing.T) {
	b := ir.NewBuilder("f", nil, 1)
	entry := b.NewBlock("entry")
	left := b.NewBlock("a", "x", "y")
	right := b.NewBlock("b", "x", "y")

	b.SetBlock(entry)
	p := b.Load(ir.ConstSlot("p", 0))
	q := b.Load(ir.ConstSlot("q", 1))
	cond := b.Emit(ir.OpLt, p, q)
	b.Branch(cond, left, []ir.ValueID{q, p}, right, []ir.ValueID{p, q})
	for _, blk := range []*ir.Block{left, right} {
		b.SetBlock(blk)
		x, _ := b.ReadLocal("x")
		y, _ := b.ReadLocal("y")
		b.Return(b.Emit(ir.OpSub, x, y))
	}

	g := depgraph.Build(b.Function(), entry)
	code, err := NewScheduler(b.Function()).Schedule(g)
	require.NoError(t, err)
	assert.Equal(t,
		"f.entry: JUMPDEST PUSH0 SLOAD PUSH1 0x1 SLOAD DUP1 DUP3 LT PUSH @f.entry.br1 JUMPI PUSH @f.b JUMP "+
			"f.entry.br1: JUMPDEST SWAP1 PUSH @f.a JUMP",
		compact(code))
}

func TestCheckedArithmeticSharesRevertBlock(t *testing.T) {
	b := ir.NewBuilder("f", []string{"a", "b"}, 1)
	b.SetBlock(b.NewBlock("entry"))
	x := b.Emit(ir.OpCheckedAdd, b.Arg(0), b.Arg(1))
	y := b.Emit(ir.OpCheckedAdd, x, b.ConstUint64(7))
	z := b.Emit(ir.OpCheckedDiv, y, b.Arg(1))
	b.Return(z)

	out := schedule(t, b.Function())
	var labels []string
	for _, in := range out {
		if in.Kind == asm.KindLabel {
			labels = append(labels, in.Label)
		}
	}
	assert.Equal(t, []string{"f.entry", "f.panic.0x11", "f.panic.0x12"}, labels)
	assert.Equal(t, 3, out.Count(vm.JUMPI))
	assert.Equal(t, 2, out.Count(vm.REVERT))
}

func TestCallKeepsStackBalanced(t *testing.T) {
	b := ir.NewBuilder("f", []string{"to"}, 1)
	b.SetBlock(b.NewBlock("entry"))
	ok := b.Emit(ir.OpCall, b.Arg(0), b.ConstUint64(0), b.ConstUint64(42))
	b.Emit(ir.OpLog1, b.ConstUint64(1), ok)
	b.Emit(ir.OpStaticCall, b.Arg(0), b.ConstUint64(3))
	b.Return(ok)

	s := NewScheduler(b.Function())
	out, err := s.ScheduleFunction()
	require.NoError(t, err)
	assert.Equal(t, 1, out.Count(vm.CALL))
	assert.Equal(t, 1, out.Count(vm.STATICCALL))
	assert.Equal(t, 1, out.Count(vm.LOG1))
	// The unused staticcall result is popped.
	assert.LessOrEqual(t, s.MaxDepth(), 3)
}

func TestNoAccessBeyondReach(t *testing.T) {
	b := ir.NewBuilder("f", []string{"a", "b", "c"}, 3)
	b.SetBlock(b.NewBlock("entry"))
	var vals []ir.ValueID
	for i := 0; i < 12; i++ {
		vals = append(vals, b.Load(ir.ConstSlot(fmt.Sprintf("s%d", i), uint64(i))))
	}
	sum := b.Emit(ir.OpAdd, vals[0], vals[11])
	prod := b.Emit(ir.OpMul, vals[5], vals[6])
	for _, v := range vals {
		b.Store(ir.ConstSlot("sink", 99), v)
	}
	b.Return(sum, prod, vals[3])

	out := schedule(t, b.Function())
	assert.LessOrEqual(t, out.MaxAccessDepth(), asm.MaxStackAccess)
	assert.Equal(t, 3, out.Count(vm.MSTORE))
}

func TestModel(t *testing.T) {
	m := NewModel()
	m.Push(1, false)
	m.Push(2, false)
	m.Push(3, false)
	assert.Equal(t, []ir.ValueID{3, 2, 1}, m.Values())
	assert.Equal(t, 3, m.Find(1))

	m.Swap(2)
	assert.Equal(t, []ir.ValueID{1, 2, 3}, m.Values())
	m.Dup(3)
	assert.Equal(t, 4, m.Depth())
	assert.True(t, m.At(1).Pinned)
	assert.Equal(t, 2, m.Count(3))
	assert.Equal(t, "[v3* v1 v2 v3]", m.String())

	c := m.Clone()
	c.Pop()
	assert.Equal(t, 4, m.Depth())
	assert.Equal(t, 3, c.Depth())
}

func TestPopFromEmptyModelIsInternalError(t *testing.T) {
	err := errors.RecoverInternal(func() error {
		NewModel().Pop()
		return nil
	})
	var ice *errors.InternalError
	require.ErrorAs(t, err, &ice)
	assert.Contains(t, ice.Message, "empty stack model")
}

func TestMeasure(t *testing.T) {
	s := asm.Stream{asm.Dup(1), asm.Dup(9), asm.Swap(2), asm.Op(vm.POP), asm.Op(vm.ADD)}
	m := Measure(s)
	assert.Equal(t, 2, m.TotalDups())
	assert.Equal(t, 1, m.DeepDups)
	assert.Equal(t, 1, m.Swaps[2])
	assert.Equal(t, 1, m.Pops)
	assert.Equal(t, 3*3+2, m.StackGas)

	var total Metrics
	total.Add(m)
	total.Add(m)
	assert.Equal(t, 4, total.TotalDups())
}
