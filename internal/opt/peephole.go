package opt

import (
	"github.com/holiman/uint256"

	"github.com/stackgen-lang/stackgen/internal/ir"
)

// Peephole applies local algebraic rewrites: constant folding, identity and
// annihilator elimination, strength reduction of multiplication, division
// and modulo by powers of two, and collapsing of repeated negations. Every
// rule keeps the exact 256-bit wrapping result and never removes a possible
// revert.
type Peephole struct{}

func (p *Peephole) Name() string {
	return "Peephole"
}

func (p *Peephole) Description() string {
	return "Folds constants and removes algebraic identities"
}

func (p *Peephole) Apply(fn *ir.Function) bool {
	changed := false
	for _, blk := range fn.Blocks {
		r := &rebuild{fn: fn, blk: blk}
		for _, id := range blk.Values {
			if fn.IsReplaced(id) {
				continue
			}
			v := fn.Value(id)
			r.pos = v
			if repl, ok := p.rewrite(r, v); ok {
				fn.Substitute(id, repl)
				changed = true
				continue
			}
			r.out = append(r.out, id)
		}
		blk.Values = r.out
	}
	return changed
}

func (p *Peephole) rewrite(r *rebuild, v *ir.Value) (ir.ValueID, bool) {
	if v.HasSideEffect() || v.Op.IsLeaf() {
		return ir.NoValue, false
	}
	fn := r.fn
	args := fn.Args(v)
	consts := make([]*uint256.Int, len(args))
	allConst := true
	for i, a := range args {
		c, ok := fn.ConstValue(a)
		consts[i] = c
		allConst = allConst && ok
	}

	if allConst {
		if res, ok := Fold(v.Op, consts); ok {
			return r.constant(res), true
		}
		return ir.NoValue, false
	}

	is := func(i int, n uint64) bool {
		return consts[i] != nil && consts[i].IsUint64() && consts[i].Uint64() == n
	}
	allOnes := func(i int) bool {
		return consts[i] != nil && new(uint256.Int).Not(consts[i]).IsZero()
	}
	same := len(args) == 2 && args[0] == args[1]

	switch v.Op {
	case ir.OpAdd, ir.OpCheckedAdd, ir.OpOr, ir.OpXor:
		if is(0, 0) {
			return args[1], true
		}
		if is(1, 0) {
			return args[0], true
		}
		if same && v.Op == ir.OpOr {
			return args[0], true
		}
		if same && v.Op == ir.OpXor {
			return r.constant(new(uint256.Int)), true
		}

	case ir.OpSub, ir.OpCheckedSub:
		if is(1, 0) {
			return args[0], true
		}
		if same {
			return r.constant(new(uint256.Int)), true
		}

	case ir.OpMul, ir.OpCheckedMul:
		for i := 0; i < 2; i++ {
			other := args[1-i]
			if is(i, 1) {
				return other, true
			}
			if is(i, 0) {
				return r.constant(new(uint256.Int)), true
			}
			if v.Op == ir.OpMul && consts[i] != nil {
				if k, ok := log2Exact(consts[i]); ok {
					return r.emit(ir.OpShl, r.constant(uint256.NewInt(uint64(k))), other), true
				}
			}
		}

	case ir.OpDiv, ir.OpCheckedDiv:
		if is(1, 1) {
			return args[0], true
		}
		if v.Op == ir.OpDiv && is(0, 0) {
			return r.constant(new(uint256.Int)), true
		}
		if v.Op == ir.OpDiv && consts[1] != nil {
			if k, ok := log2Exact(consts[1]); ok {
				return r.emit(ir.OpShr, r.constant(uint256.NewInt(uint64(k))), args[0]), true
			}
		}

	case ir.OpSDiv:
		if is(1, 1) {
			return args[0], true
		}

	case ir.OpMod:
		if is(1, 1) {
			return r.constant(new(uint256.Int)), true
		}
		if consts[1] != nil {
			if _, ok := log2Exact(consts[1]); ok {
				mask := new(uint256.Int).Sub(consts[1], uint256.NewInt(1))
				return r.emit(ir.OpAnd, args[0], r.constant(mask)), true
			}
		}

	case ir.OpAnd:
		for i := 0; i < 2; i++ {
			if allOnes(i) {
				return args[1-i], true
			}
			if is(i, 0) {
				return r.constant(new(uint256.Int)), true
			}
		}
		if same {
			return args[0], true
		}

	case ir.OpShl, ir.OpShr, ir.OpSar:
		if is(0, 0) {
			return args[1], true
		}

	case ir.OpEq:
		if same {
			return r.constant(uint256.NewInt(1)), true
		}

	case ir.OpNot:
		if inner := fn.Value(args[0]); inner.Op == ir.OpNot {
			return fn.Resolve(inner.Args[0]), true
		}

	case ir.OpIsZero:
		inner := fn.Value(args[0])
		if inner.Op != ir.OpIsZero {
			break
		}
		if innermost := fn.Value(fn.Resolve(inner.Args[0])); innermost.Op == ir.OpIsZero {
			return innermost.ID, true
		}
	}
	return ir.NoValue, false
}

func (r *rebuild) constant(x *uint256.Int) ir.ValueID {
	id := r.emit(ir.OpConst)
	r.fn.Value(id).Imm = x.Clone()
	return id
}
