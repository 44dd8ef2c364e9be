package opt

import (
	"github.com/holiman/uint256"

	"github.com/stackgen-lang/stackgen/internal/ir"
)

// CommonSubexpressionElimination merges pure values computing the same
// expression within a block. Operands of commutative operators are ordered
// before hashing, so a+b and b+a share one value.
type CommonSubexpressionElimination struct{}

func (cse *CommonSubexpressionElimination) Name() string {
	return "Common Subexpression Elimination"
}

func (cse *CommonSubexpressionElimination) Description() string {
	return "Reuses previously computed pure expressions"
}

type exprKey struct {
	op    ir.Op
	args  [3]ir.ValueID
	imm   uint256.Int
	index int
}

// keyOf returns the hash key of a pure value, with commutative operands in
// canonical order.
func keyOf(fn *ir.Function, v *ir.Value) exprKey {
	k := exprKey{op: v.Op, index: v.Index, args: [3]ir.ValueID{ir.NoValue, ir.NoValue, ir.NoValue}}
	if v.Imm != nil {
		k.imm = *v.Imm
	}
	args := fn.Args(v)
	copy(k.args[:], args)
	if v.Op.Info().Commutative && len(args) == 2 && k.args[1] < k.args[0] {
		k.args[0], k.args[1] = k.args[1], k.args[0]
	}
	return k
}

func (cse *CommonSubexpressionElimination) Apply(fn *ir.Function) bool {
	changed := false
	for _, blk := range fn.Blocks {
		seen := make(map[exprKey]ir.ValueID)
		out := blk.Values[:0]
		for _, id := range blk.Values {
			if fn.IsReplaced(id) {
				continue
			}
			v := fn.Value(id)
			if v.HasSideEffect() || v.Op == ir.OpParam {
				out = append(out, id)
				continue
			}
			key := keyOf(fn, v)
			if prev, ok := seen[key]; ok {
				fn.Substitute(id, prev)
				changed = true
				continue
			}
			seen[key] = id
			out = append(out, id)
		}
		blk.Values = out
	}
	return changed
}
