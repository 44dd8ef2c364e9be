// Package depgraph turns a basic block's instruction list into a DAG of
// definitions and uses plus a separate effect chain that totally orders the
// block's observable operations.
package depgraph

import (
	mapset "github.com/deckarep/golang-set/v2"

	"github.com/stackgen-lang/stackgen/internal/errors"
	"github.com/stackgen-lang/stackgen/internal/ir"
)

// TermUser is recorded in Node.Users for uses by the block terminator.
const TermUser = ir.NoValue

// Node is one Value as seen from a single block.
type Node struct {
	ID    ir.ValueID
	Op    ir.Op
	Args  []ir.ValueID // resolved operands
	Uses  int          // uses by later values and the terminator
	Users []ir.ValueID
	// Order is the position in program order; -1 for leaves defined outside
	// this block and for block parameters.
	Order int
	// Effect marks values pinned by the effect chain.
	Effect bool
	// PrevEffect is the previous pinned value in program order, or NoValue.
	PrevEffect ir.ValueID
	Value      *ir.Value
}

// Graph is the DAG of one block.
type Graph struct {
	Func  *ir.Function
	Block *ir.Block
	Nodes map[ir.ValueID]*Node
	// Order lists the block's values in program order, after substitution.
	Order []ir.ValueID
	// Effects is the effect chain, first to last.
	Effects []ir.ValueID
	// Term holds the resolved terminator operands.
	Term     *ir.Terminator
	TermArgs []ir.ValueID
	// Live is the set of values with at least one use.
	Live mapset.Set[ir.ValueID]
}

func (g *Graph) Node(id ir.ValueID) *Node {
	n, ok := g.Nodes[id]
	if !ok {
		errors.ICE("%s is not part of block %s", id, g.Block.Name)
	}
	return n
}

// Uses returns the use count of id, 0 for unknown values.
func (g *Graph) Uses(id ir.ValueID) int {
	if n, ok := g.Nodes[id]; ok {
		return n.Uses
	}
	return 0
}

// Build constructs the graph of blk. A reference to a value that belongs to
// another block and was not threaded in as a block parameter is an internal
// compiler error.
func Build(fn *ir.Function, blk *ir.Block) *Graph {
	g := &Graph{
		Func:  fn,
		Block: blk,
		Nodes: make(map[ir.ValueID]*Node),
		Term:  blk.Term,
		Live:  mapset.NewThreadUnsafeSet[ir.ValueID](),
	}
	if blk.Term == nil {
		errors.ICE("block %s of %s has no terminator", blk.Name, fn.Name)
	}

	for _, p := range blk.Params {
		g.Nodes[p] = &Node{ID: p, Op: ir.OpParam, Order: -1, PrevEffect: ir.NoValue, Value: fn.Value(p)}
	}

	lastEffect := ir.NoValue
	for _, id := range blk.Values {
		if fn.IsReplaced(id) {
			continue
		}
		v := fn.Value(id)
		if v.Block != blk.ID {
			errors.ICE("%s listed in block %s but defined in block %d", id, blk.Name, v.Block)
		}
		n := &Node{
			ID:         id,
			Op:         v.Op,
			Args:       fn.Args(v),
			Order:      len(g.Order),
			PrevEffect: ir.NoValue,
			Value:      v,
		}
		for _, a := range n.Args {
			g.use(a, id)
		}
		if v.HasSideEffect() {
			n.Effect = true
			n.PrevEffect = lastEffect
			lastEffect = id
			g.Effects = append(g.Effects, id)
		}
		g.Nodes[id] = n
		g.Order = append(g.Order, id)
	}

	for _, a := range blk.Term.Operands() {
		a = fn.Resolve(a)
		g.TermArgs = append(g.TermArgs, a)
		g.use(a, TermUser)
	}
	return g
}

func (g *Graph) use(a, user ir.ValueID) {
	n, ok := g.Nodes[a]
	if !ok {
		v := g.Func.Value(a)
		if v.Block == g.Block.ID && !v.Rematerializable() {
			errors.ICE("%s used in block %s before its definition", a, g.Block.Name)
		}
		if !v.Rematerializable() {
			errors.ICE("%s (%s) used in block %s but defined in block %d without being passed as a parameter",
				a, v.Op, g.Block.Name, v.Block)
		}
		n = &Node{ID: a, Op: v.Op, Order: -1, PrevEffect: ir.NoValue, Value: v}
		g.Nodes[a] = n
	}
	n.Uses++
	n.Users = append(n.Users, user)
	g.Live.Add(a)
}

// BuildFunction builds the graph of every block reachable from the entry.
func BuildFunction(fn *ir.Function) []*Graph {
	blocks := ir.Reachable(fn)
	graphs := make([]*Graph, len(blocks))
	for i, blk := range blocks {
		graphs[i] = Build(fn, blk)
	}
	return graphs
}

// Dead lists pure values of the block without uses, in program order.
func (g *Graph) Dead() []ir.ValueID {
	var dead []ir.ValueID
	for _, id := range g.Order {
		n := g.Nodes[id]
		if n.Uses == 0 && !n.Effect && !n.Op.Info().MayRevert {
			dead = append(dead, id)
		}
	}
	return dead
}
