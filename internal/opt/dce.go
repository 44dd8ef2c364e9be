package opt

import (
	"github.com/stackgen-lang/stackgen/internal/ir"
)

// DeadCodeElimination removes pure values nothing reads. Values that may
// revert are kept, since dropping them would change observable behavior.
type DeadCodeElimination struct{}

func (dce *DeadCodeElimination) Name() string {
	return "Dead Code Elimination"
}

func (dce *DeadCodeElimination) Description() string {
	return "Removes unused pure computations"
}

func (dce *DeadCodeElimination) Apply(fn *ir.Function) bool {
	changed := false
	for {
		uses := UseCounts(fn)
		removed := false
		for _, blk := range fn.Blocks {
			out := blk.Values[:0]
			for _, id := range blk.Values {
				if fn.IsReplaced(id) {
					removed = true
					continue
				}
				v := fn.Value(id)
				if uses[id] == 0 && !v.HasSideEffect() && !v.Op.Info().MayRevert {
					removed = true
					continue
				}
				out = append(out, id)
			}
			blk.Values = out
		}
		if !removed {
			return changed
		}
		changed = true
	}
}

// UseCounts counts reads of every value across the function, including
// terminators and storage descriptors, after substitution.
func UseCounts(fn *ir.Function) map[ir.ValueID]int {
	uses := make(map[ir.ValueID]int)
	for _, blk := range fn.Blocks {
		for _, id := range blk.Values {
			if fn.IsReplaced(id) {
				continue
			}
			v := fn.Value(id)
			for _, a := range fn.Args(v) {
				uses[a]++
			}
			if v.Slot != nil {
				for _, a := range v.Slot.Values() {
					uses[fn.Resolve(a)]++
				}
			}
		}
		if blk.Term != nil {
			for _, a := range blk.Term.Operands() {
				uses[fn.Resolve(a)]++
			}
		}
	}
	return uses
}
