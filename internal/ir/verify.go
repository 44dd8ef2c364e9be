package ir

import (
	"github.com/stackgen-lang/stackgen/internal/errors"
)

// Verify checks the structural rules the backend relies on: every block is
// terminated and every edge passes exactly as many values as its target
// takes. It reports user-facing diagnostics; deeper invariants are checked
// by the passes themselves and fail as internal errors.
func Verify(fn *Function) []errors.CompilerError {
	var diags []errors.CompilerError
	if len(fn.Blocks) == 0 {
		return append(diags, errors.MissingTerminator(fn.Name, fn.Pos))
	}
	if len(fn.Entry().Params) > 0 {
		diags = append(diags, errors.EdgeArity(fn.Entry().Name, 0, len(fn.Entry().Params), fn.Pos))
	}
	for _, blk := range fn.Blocks {
		if blk.Term == nil {
			diags = append(diags, errors.MissingTerminator(blk.Name, fn.Pos))
			continue
		}
		for _, e := range blk.Term.Edges {
			target := fn.Block(e.Target)
			if len(e.Args) != len(target.Params) {
				diags = append(diags, errors.EdgeArity(target.Name, len(target.Params), len(e.Args), blk.Term.Pos))
			}
		}
	}
	return diags
}

// Reachable returns the blocks reachable from the entry, in layout order.
func Reachable(fn *Function) []*Block {
	if len(fn.Blocks) == 0 {
		return nil
	}
	seen := make([]bool, len(fn.Blocks))
	work := []BlockID{fn.Entry().ID}
	seen[fn.Entry().ID] = true
	for len(work) > 0 {
		id := work[len(work)-1]
		work = work[:len(work)-1]
		if t := fn.Block(id).Term; t != nil {
			for _, e := range t.Edges {
				if !seen[e.Target] {
					seen[e.Target] = true
					work = append(work, e.Target)
				}
			}
		}
	}
	var out []*Block
	for _, blk := range fn.Blocks {
		if seen[blk.ID] {
			out = append(out, blk)
		}
	}
	return out
}
