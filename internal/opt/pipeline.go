// Package opt holds the DAG-level optimization passes that run before
// scheduling: peephole rewrites, commutative common subexpression
// elimination and dead code elimination.
package opt

import (
	"github.com/tliron/commonlog"

	"github.com/stackgen-lang/stackgen/internal/ir"
)

var log = commonlog.GetLogger("stackgen.opt")

// Pass represents a single optimization transformation
type Pass interface {
	Name() string
	Apply(fn *ir.Function) bool // Returns true if changes were made
	Description() string
}

// Pipeline manages the sequence of optimization passes
type Pipeline struct {
	passes        []Pass
	maxIterations int
}

// NewPipeline creates a new optimization pipeline with default passes
func NewPipeline() *Pipeline {
	pipeline := &Pipeline{maxIterations: 10}

	// Add optimization passes in order of execution
	pipeline.AddPass(&Peephole{})
	pipeline.AddPass(&CommonSubexpressionElimination{})
	pipeline.AddPass(&DeadCodeElimination{})

	return pipeline
}

// AddPass adds an optimization pass to the pipeline
func (p *Pipeline) AddPass(pass Pass) {
	p.passes = append(p.passes, pass)
}

func (p *Pipeline) Passes() []Pass {
	return p.passes
}

// Stats counts, per pass name, how many iterations the pass changed something.
type Stats map[string]int

// Run applies the passes repeatedly until none of them changes fn.
func (p *Pipeline) Run(fn *ir.Function) Stats {
	stats := make(Stats)
	for i := 0; i < p.maxIterations; i++ {
		changed := false
		for _, pass := range p.passes {
			if pass.Apply(fn) {
				log.Debugf("%s: %s changed the function", fn.Name, pass.Name())
				stats[pass.Name()]++
				changed = true
			}
		}
		if !changed {
			break
		}
	}
	return stats
}

// rebuild replaces blk's value list, allocating replacement values in
// place of the ones a rewrite drops.
type rebuild struct {
	fn  *ir.Function
	blk *ir.Block
	out []ir.ValueID
	pos *ir.Value
}

func (r *rebuild) emit(op ir.Op, args ...ir.ValueID) ir.ValueID {
	v := r.fn.NewValue(op, r.blk.ID, args...)
	if r.pos != nil {
		v.Pos = r.pos.Pos
		v.Local = r.pos.Local
	}
	r.out = append(r.out, v.ID)
	return v.ID
}
