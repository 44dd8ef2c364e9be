// Package storage implements symbolic reasoning about persistent storage
// accesses: descriptor aliasing, the per-function value cache and the
// optimizer that removes redundant loads and stores.
package storage

import (
	"github.com/stackgen-lang/stackgen/internal/ir"
)

// Relation is the outcome of comparing two slot descriptors. Unknown is a
// regular answer, not a failure: callers must treat it as "may alias".
type Relation int

const (
	Unknown Relation = iota
	Equal
	Disjoint
)

func (r Relation) String() string {
	switch r {
	case Equal:
		return "equal"
	case Disjoint:
		return "disjoint"
	default:
		return "unknown"
	}
}

// Compare decides whether a and b address the same storage.
func Compare(fn *ir.Function, a, b *ir.SlotDescriptor) Relation {
	switch {
	case !a.IsDynamic() && !b.IsDynamic():
		if !a.Base.Eq(b.Base) {
			return Disjoint
		}
	case a.IsDynamic() && b.IsDynamic():
		if KeyRelation(fn, a.BaseValue, b.BaseValue) != Equal {
			return Unknown
		}
	default:
		return Unknown
	}

	if len(a.Path) != len(b.Path) {
		return Unknown
	}
	for i := range a.Path {
		sa, sb := a.Path[i], b.Path[i]
		if sa.Kind != sb.Kind {
			return Unknown
		}
		var rel Relation
		if sa.Kind == ir.SegField {
			rel = Equal
			if sa.Field != sb.Field {
				rel = Disjoint
			}
		} else {
			rel = KeyRelation(fn, sa.Key, sb.Key)
		}
		if rel != Equal {
			return rel
		}
	}

	switch {
	case a.Packed == nil && b.Packed == nil:
		return Equal
	case a.Packed == nil || b.Packed == nil:
		return Unknown
	case *a.Packed == *b.Packed:
		return Equal
	case a.Packed.Overlaps(*b.Packed):
		return Unknown
	default:
		return Disjoint
	}
}

// KeyRelation compares two key expressions. Keys are compared position by
// position by the caller since hashing is directional; only the top-level
// expression forming one key is normalized for commutative operators.
func KeyRelation(fn *ir.Function, a, b ir.ValueID) Relation {
	a, b = fn.Resolve(a), fn.Resolve(b)
	if atomEqual(fn, a, b) {
		return Equal
	}
	va, vb := fn.Value(a), fn.Value(b)
	if va.Op == ir.OpConst && vb.Op == ir.OpConst {
		return Disjoint
	}
	if va.Op != vb.Op || va.HasSideEffect() || va.Op.IsLeaf() || len(va.Args) != len(vb.Args) {
		return Unknown
	}
	aa, ba := fn.Args(va), fn.Args(vb)
	if argsEqual(fn, aa, ba) {
		return Equal
	}
	if va.Op.Info().Commutative && len(aa) == 2 &&
		atomEqual(fn, aa[0], ba[1]) && atomEqual(fn, aa[1], ba[0]) {
		return Equal
	}
	return Unknown
}

func argsEqual(fn *ir.Function, a, b []ir.ValueID) bool {
	for i := range a {
		if !atomEqual(fn, a[i], b[i]) {
			return false
		}
	}
	return true
}

// atomEqual is identity, equal literals, or the same environment input.
func atomEqual(fn *ir.Function, a, b ir.ValueID) bool {
	a, b = fn.Resolve(a), fn.Resolve(b)
	if a == b {
		return true
	}
	va, vb := fn.Value(a), fn.Value(b)
	if va.Op != vb.Op {
		return false
	}
	switch va.Op {
	case ir.OpConst:
		return va.Imm.Eq(vb.Imm)
	case ir.OpArg:
		return va.Index == vb.Index
	case ir.OpCaller, ir.OpCallValue:
		return true
	}
	return false
}
