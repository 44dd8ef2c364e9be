package codegen

import (
	"fmt"

	"github.com/stackgen-lang/stackgen/internal/ast"
	"github.com/stackgen-lang/stackgen/internal/ir"
)

var balances = ir.ConstSlot("balances", 1)

func counterFn() *ir.Function {
	b := ir.NewBuilder("bump", nil, 1)
	b.SetBlock(b.NewBlock("entry"))
	count := ir.ConstSlot("count", 0)
	v := b.Assign("v", b.Load(count))
	next := b.Assign("v", b.Emit(ir.OpCheckedAdd, v, b.ConstUint64(1)))
	b.Store(count, next)
	b.Return(next)
	return b.Function()
}

func overwriteFn() *ir.Function {
	b := ir.NewBuilder("overwrite", nil, 0)
	b.SetBlock(b.NewBlock("entry"))
	x := ir.ConstSlot("x", 0)
	for i := uint64(1); i <= 3; i++ {
		b.Store(x, b.ConstUint64(i))
	}
	b.Stop()
	return b.Function()
}

func transferFn() *ir.Function {
	b := ir.NewBuilder("transfer", []string{"to", "amount"}, 1)
	b.SetBlock(b.NewBlock("entry"))
	from := balances.With(ir.Segment{Kind: ir.SegMapKey, Key: b.Emit(ir.OpCaller)})
	fb := b.Load(from)
	amount, _ := b.ReadLocal("amount")
	nb := b.Emit(ir.OpCheckedSub, fb, amount)
	b.Store(from, nb)
	to, _ := b.ReadLocal("to")
	dest := balances.With(ir.Segment{Kind: ir.SegMapKey, Key: to})
	tb := b.Load(dest)
	b.Store(dest, b.Emit(ir.OpCheckedAdd, tb, amount))
	b.Return(nb)
	return b.Function()
}

// sumFn returns 0 + 1 + ... + (n-1).
func sumFn() *ir.Function {
	b := ir.NewBuilder("sum", []string{"n"}, 1)
	entry := b.NewBlock("entry")
	loop := b.NewBlock("loop", "i", "acc")
	body := b.NewBlock("body", "i", "acc")
	done := b.NewBlock("done", "r")

	b.SetBlock(entry)
	b.Jump(loop, b.ConstUint64(0), b.ConstUint64(0))

	b.SetBlock(loop)
	i, _ := b.ReadLocal("i")
	acc, _ := b.ReadLocal("acc")
	n, _ := b.ReadLocal("n")
	b.Branch(b.Emit(ir.OpLt, i, n), body, []ir.ValueID{i, acc}, done, []ir.ValueID{acc})

	b.SetBlock(body)
	b.AssignOp("acc", ir.OpAdd, mustRead(b, "i"))
	b.Increment("i", 1, false)
	b.Jump(loop, mustRead(b, "i"), mustRead(b, "acc"))

	b.SetBlock(done)
	b.Return(mustRead(b, "r"))
	return b.Function()
}

// reloadFn reads a slot, calls out and reads the slot again.
func reloadFn(call ir.Op) *ir.Function {
	b := ir.NewBuilder("reload", []string{"target"}, 1)
	b.SetBlock(b.NewBlock("entry"))
	s := ir.ConstSlot("s", 2)
	x := b.Load(s)
	target, _ := b.ReadLocal("target")
	if call == ir.OpStaticCall {
		b.Emit(call, target, b.ConstUint64(1))
	} else {
		b.Emit(call, target, b.ConstUint64(0), b.ConstUint64(1))
	}
	y := b.Load(s)
	b.Return(b.Emit(ir.OpAdd, x, y))
	return b.Function()
}

func divFn() *ir.Function {
	b := ir.NewBuilder("div", []string{"a", "b"}, 2)
	b.SetBlock(b.NewBlock("entry"))
	a, _ := b.ReadLocal("a")
	d, _ := b.ReadLocal("b")
	b.Return(b.Emit(ir.OpCheckedDiv, a, d), b.Emit(ir.OpMod, a, d))
	return b.Function()
}

func constFn(name string, n uint64) *ir.Function {
	b := ir.NewBuilder(name, nil, 1)
	b.SetBlock(b.NewBlock("entry"))
	b.Return(b.ConstUint64(n))
	return b.Function()
}

// wideFn keeps seventeen loaded values live at once.
func wideFn() *ir.Function {
	b := ir.NewBuilder("wide", nil, 0)
	b.SetBlock(b.NewBlock("entry"))
	var loads []ir.ValueID
	for i := 0; i < 17; i++ {
		loads = append(loads, b.Assign(fmt.Sprintf("w%d", i), b.Load(ir.ConstSlot(fmt.Sprintf("in%d", i), uint64(i)))))
	}
	for i, l := range loads {
		b.Store(ir.ConstSlot(fmt.Sprintf("out%d", i), uint64(100+i)), l)
	}
	b.Stop()
	return b.Function()
}

func mustRead(b *ir.Builder, name string) ir.ValueID {
	v, ok := b.ReadLocal(name)
	if !ok {
		panic("undefined local " + name)
	}
	return v
}

// placedCounterFn is counterFn with every value attributed to line.
func placedCounterFn(line int) *ir.Function {
	b := ir.NewBuilder("bump", nil, 1)
	b.SetPos(ast.Position{Filename: "counter.sir", Line: line, Column: 5})
	b.SetBlock(b.NewBlock("entry"))
	count := ir.ConstSlot("count", 0)
	next := b.Emit(ir.OpCheckedAdd, b.Load(count), b.ConstUint64(1))
	b.Store(count, next)
	b.Return(next)
	return b.Function()
}

// scratchFn stores to memory, hashes its argument and reads the memory back.
func scratchFn() *ir.Function {
	b := ir.NewBuilder("scratch", []string{"a"}, 2)
	b.SetBlock(b.NewBlock("entry"))
	a, _ := b.ReadLocal("a")
	b.Emit(ir.OpMStore, b.ConstUint64(0), b.ConstUint64(5))
	k := b.Emit(ir.OpKeccakWord, a)
	r := b.Emit(ir.OpMLoad, b.ConstUint64(0))
	b.Return(r, b.Emit(ir.OpAdd, k, k))
	return b.Function()
}

// hashStoreFn keeps a hash live across a store that consumes it inline.
func hashStoreFn() *ir.Function {
	b := ir.NewBuilder("hashStore", nil, 0)
	b.SetBlock(b.NewBlock("entry"))
	k := b.Emit(ir.OpKeccakWord, b.Load(ir.ConstSlot("x", 0)))
	b.Store(ir.ConstSlot("y", 1), b.Emit(ir.OpAdd, k, b.ConstUint64(9)))
	b.Store(ir.ConstSlot("z", 2), k)
	b.Stop()
	return b.Function()
}
