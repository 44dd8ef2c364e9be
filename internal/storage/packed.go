package storage

import (
	"github.com/holiman/uint256"

	"github.com/stackgen-lang/stackgen/internal/ir"
)

// LowerPacked rewrites every access to a packed sub-word field into an
// access to its containing word. A packed read becomes load, shift, mask; a
// packed write becomes load word, clear the field bits, OR in the shifted
// value, store word. The word-level accesses then take part in redundant-load
// and dead-store elimination like any other slot, which is what coalesces
// neighbouring field writes. Returns the number of rewritten accesses.
func LowerPacked(fn *ir.Function) int {
	lowered := 0
	for _, blk := range fn.Blocks {
		var out []ir.ValueID
		for _, id := range blk.Values {
			v := fn.Value(id)
			if v.Slot == nil || v.Slot.Packed == nil || fn.IsReplaced(id) {
				out = append(out, id)
				continue
			}
			lowered++
			l := &lowering{fn: fn, blk: blk, src: v}
			r := *v.Slot.Packed
			addr := fn.Resolve(v.Args[0])
			word := l.emit(ir.OpSLoad, addr)
			fn.Value(word).Slot = v.Slot.Word()
			mask := r.Mask()

			switch v.Op {
			case ir.OpSLoad:
				shifted := l.emit(ir.OpShr, l.constant(uint256.NewInt(uint64(r.Offset))), word)
				field := l.emit(ir.OpAnd, shifted, l.constant(mask))
				fn.Substitute(id, field)
			case ir.OpSStore:
				inPlace := new(uint256.Int).Lsh(mask, r.Offset)
				clear := new(uint256.Int).Not(inPlace)
				cleared := l.emit(ir.OpAnd, word, l.constant(clear))
				masked := l.emit(ir.OpAnd, fn.Resolve(v.Args[1]), l.constant(mask))
				shifted := l.emit(ir.OpShl, l.constant(uint256.NewInt(uint64(r.Offset))), masked)
				merged := l.emit(ir.OpOr, cleared, shifted)
				store := l.emit(ir.OpSStore, addr, merged)
				fn.Value(store).Slot = v.Slot.Word()
			}
			out = append(out, l.out...)
		}
		blk.Values = out
	}
	return lowered
}

type lowering struct {
	fn  *ir.Function
	blk *ir.Block
	src *ir.Value
	out []ir.ValueID
}

func (l *lowering) emit(op ir.Op, args ...ir.ValueID) ir.ValueID {
	v := l.fn.NewValue(op, l.blk.ID, args...)
	v.Pos = l.src.Pos
	if op == ir.OpSLoad || op == ir.OpSStore {
		v.Local = l.src.Local
	}
	l.out = append(l.out, v.ID)
	return v.ID
}

func (l *lowering) constant(x *uint256.Int) ir.ValueID {
	id := l.emit(ir.OpConst)
	l.fn.Value(id).Imm = x.Clone()
	return id
}
