package stack

import (
	"fmt"
	"sort"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/ethereum/go-ethereum/core/vm"
	"github.com/tliron/commonlog"

	"github.com/stackgen-lang/stackgen/internal/asm"
	"github.com/stackgen-lang/stackgen/internal/ast"
	"github.com/stackgen-lang/stackgen/internal/depgraph"
	"github.com/stackgen-lang/stackgen/internal/errors"
	"github.com/stackgen-lang/stackgen/internal/ir"
)

var log = commonlog.GetLogger("stackgen.stack")

// state is what the two successors of a branch see independently.
type state struct {
	model *Model
	rem   map[ir.ValueID]int
}

func (st *state) clone() *state {
	rem := make(map[ir.ValueID]int, len(st.rem))
	for k, v := range st.rem {
		rem[k] = v
	}
	return &state{model: st.model.Clone(), rem: rem}
}

// Scheduler emits the blocks of one function. Its state is private to the
// function being compiled.
type Scheduler struct {
	fn       *ir.Function
	panics   map[uint64]string
	maxDepth int

	g     *depgraph.Graph
	st    *state
	roots mapset.Set[ir.ValueID]
	done  mapset.Set[ir.ValueID]
	out   asm.Stream
	pos   ast.Position
	tramp int
}

func NewScheduler(fn *ir.Function) *Scheduler {
	return &Scheduler{fn: fn, panics: make(map[uint64]string)}
}

// MaxDepth is the deepest the modelled stack got across scheduled blocks.
func (s *Scheduler) MaxDepth() int {
	return s.maxDepth
}

// BlockLabel is the jump label of a block.
func BlockLabel(fn *ir.Function, blk *ir.Block) string {
	return fn.Name + "." + blk.Name
}

// ScheduleFunction emits every reachable block in order, followed by the
// revert blocks shared by the function's checked arithmetic.
func (s *Scheduler) ScheduleFunction() (asm.Stream, error) {
	var out asm.Stream
	for _, g := range depgraph.BuildFunction(s.fn) {
		code, err := s.Schedule(g)
		if err != nil {
			return nil, err
		}
		out = append(out, code...)
	}
	codes := make([]uint64, 0, len(s.panics))
	for code := range s.panics {
		codes = append(codes, code)
	}
	sort.Slice(codes, func(i, j int) bool { return codes[i] < codes[j] })
	for _, code := range codes {
		out = append(out, asm.Label(s.panics[code]), asm.Op(vm.JUMPDEST))
		out = append(out, asm.RevertSequence(code)...)
	}
	log.Debugf("scheduled %s: %d instructions, max depth %d", s.fn.Name, len(out), s.maxDepth)
	return out, nil
}

// Schedule emits one block. On entry the stack holds exactly the block's
// params, the first param deepest. Every edge leaves the stack in the layout
// its target expects.
func (s *Scheduler) Schedule(g *depgraph.Graph) (asm.Stream, error) {
	s.g = g
	s.out = nil
	s.pos = g.Term.Pos
	s.st = &state{model: NewModel(), rem: make(map[ir.ValueID]int, len(g.Nodes))}
	for id, n := range g.Nodes {
		s.st.rem[id] = n.Uses
	}
	for _, p := range g.Block.Params {
		s.st.model.Push(p, false)
	}
	s.noteDepth()
	s.classify()
	s.discardDead()

	s.out = append(s.out, asm.Label(BlockLabel(s.fn, g.Block)), asm.Op(vm.JUMPDEST))
	if err := s.dropDead(); err != nil {
		return nil, err
	}
	if err := s.eager(); err != nil {
		return nil, err
	}
	for _, id := range g.Order {
		if !s.roots.Contains(id) || s.done.Contains(id) {
			continue
		}
		if err := s.root(g.Node(id)); err != nil {
			return nil, err
		}
		if err := s.eager(); err != nil {
			return nil, err
		}
	}
	if err := s.terminate(); err != nil {
		return nil, err
	}
	return s.out, nil
}

// classify picks the values computed in program order. Everything else
// except leaves is single-use and computed where it is consumed.
func (s *Scheduler) classify() {
	s.roots = mapset.NewThreadUnsafeSet[ir.ValueID]()
	s.done = mapset.NewThreadUnsafeSet[ir.ValueID]()
	cond := ir.NoValue
	if s.g.Term.Kind == ir.TermBranch {
		cond = s.fn.Resolve(s.g.Term.Cond)
	}
	for _, id := range s.g.Order {
		n := s.g.Node(id)
		switch {
		case n.Op.IsLeaf():
		case n.Effect, n.Op.Info().MayRevert, n.Uses > 1:
			s.roots.Add(id)
		case n.Uses == 1 && n.Users[0] == depgraph.TermUser && id != cond &&
			(s.g.Term.Kind == ir.TermJump || s.g.Term.Kind == ir.TermBranch):
			// Edge arguments must be in place before the shuffle.
			s.roots.Add(id)
		}
	}
}

// discardDead marks pure values without uses as done and releases the uses
// they hold on their operands, transitively.
func (s *Scheduler) discardDead() {
	work := s.g.Dead()
	for len(work) > 0 {
		id := work[len(work)-1]
		work = work[:len(work)-1]
		if s.done.Contains(id) {
			continue
		}
		s.done.Add(id)
		for _, a := range s.g.Node(id).Args {
			s.st.rem[a]--
			an := s.g.Node(a)
			if s.st.rem[a] == 0 && an.Order >= 0 && !an.Op.IsLeaf() && !an.Effect && !an.Op.Info().MayRevert {
				work = append(work, a)
			}
		}
	}
}

// inline values are computed at their single use.
func (s *Scheduler) inline(n *depgraph.Node) bool {
	return n.Order >= 0 && !n.Op.IsLeaf() && !s.roots.Contains(n.ID) && !s.done.Contains(n.ID)
}

func (s *Scheduler) root(n *depgraph.Node) error {
	s.pos = n.Value.Pos
	if err := s.compute(n); err != nil {
		return err
	}
	s.done.Add(n.ID)
	if n.Op.Info().Results > 0 && n.Uses == 0 {
		s.emit(asm.Op(vm.POP))
		s.st.model.Pop()
	}
	return s.dropDead()
}

// eager computes pending pure values that take the last use of a value
// already on the stack, so exhausted operands do not pile up under live ones.
func (s *Scheduler) eager() error {
	for {
		var next *depgraph.Node
		for _, id := range s.g.Order {
			n := s.g.Node(id)
			if n.Uses == 1 && s.inline(n) && !n.Op.Info().MayRevert && s.ready(n) && s.kills(n) {
				next = n
				break
			}
		}
		if next == nil {
			return nil
		}
		s.pos = next.Value.Pos
		if err := s.compute(next); err != nil {
			return err
		}
		s.done.Add(next.ID)
		if err := s.dropDead(); err != nil {
			return err
		}
	}
}

// ready reports whether every operand of n's expression tree is available.
func (s *Scheduler) ready(n *depgraph.Node) bool {
	for _, a := range n.Args {
		an := s.g.Node(a)
		switch {
		case an.Op.IsLeaf(), s.done.Contains(a):
		case s.inline(an):
			if !s.ready(an) {
				return false
			}
		default:
			return false
		}
	}
	return true
}

// kills reports whether n's expression tree holds every remaining use of
// some value on the stack.
func (s *Scheduler) kills(n *depgraph.Node) bool {
	for _, v := range s.st.model.Values() {
		if r := s.st.rem[v]; r > 0 && !s.g.Node(v).Op.IsLeaf() && r == s.usesIn(n.Args, v) {
			return true
		}
	}
	return false
}

// compute places n's operands and emits its operation. The result, if any,
// is left unpinned on top.
func (s *Scheduler) compute(n *depgraph.Node) error {
	if !s.takeTopPair(n) {
		args := n.Args
		// A commutative op can take an operand sitting on top as its
		// deeper operand.
		if n.Op.Info().Commutative && len(args) == 2 && s.adoptable(args[0], args[1:], s.st.rem[args[0]]-1) {
			args = []ir.ValueID{args[1], args[0]}
		}
		for i := len(args) - 1; i >= 0; i-- {
			if err := s.place(args[i], args[:i]); err != nil {
				return err
			}
		}
	}
	pos := s.pos
	if n.Value.Pos.IsValid() {
		s.pos = n.Value.Pos
	}
	s.lower(n)
	s.pos = pos
	for range n.Args {
		if slot := s.st.model.Pop(); !slot.Pinned {
			errors.ICE("operand %s of %s was not placed", slot.Value, n.ID)
		}
	}
	if n.Op.Info().Results > 0 {
		s.st.model.Push(n.ID, false)
		s.noteDepth()
	}
	return nil
}

// takeTopPair consumes the two top slots as the operands of a binary op
// when they hold its operands' last uses. Commutative ops accept either order.
func (s *Scheduler) takeTopPair(n *depgraph.Node) bool {
	m := s.st.model
	if len(n.Args) != 2 || m.Depth() < 2 || n.Args[0] == n.Args[1] {
		return false
	}
	a, b := n.Args[0], n.Args[1]
	top, second := m.At(1), m.At(2)
	if top.Pinned || second.Pinned || s.st.rem[a] != 1 || s.st.rem[b] != 1 {
		return false
	}
	inOrder := top.Value == a && second.Value == b
	swapped := top.Value == b && second.Value == a
	if !inOrder && !(swapped && n.Op.Info().Commutative) {
		return false
	}
	s.st.rem[a]--
	s.st.rem[b]--
	m.slots[0].Pinned = true
	m.slots[1].Pinned = true
	return true
}

// place puts one use of a on top of the stack as a pinned operand. rest are
// the operands of the same instruction that are still to be placed.
func (s *Scheduler) place(a ir.ValueID, rest []ir.ValueID) error {
	n := s.g.Node(a)
	if s.st.rem[a] <= 0 {
		errors.ICE("%s (%s) read after its last counted use in block %s", a, n.Op, s.g.Block.Name)
	}
	s.st.rem[a]--

	switch {
	case s.inline(n):
		if err := s.compute(n); err != nil {
			return err
		}
		s.done.Add(n.ID)
		s.st.model.Pin()
		return nil
	case n.Op.IsLeaf() && n.Op != ir.OpParam:
		if n.Op != ir.OpConst {
			if d := s.st.model.Find(a); d > 0 && d <= asm.MaxStackAccess {
				return s.dup(d, a)
			}
		}
		s.materialize(n)
		s.st.model.Push(a, true)
		s.noteDepth()
		return nil
	}

	d := s.st.model.Find(a)
	if d == 0 {
		errors.ICE("%s (%s) is not on the stack in block %s", a, n.Op, s.g.Block.Name)
	}
	if s.adoptable(a, rest, s.st.rem[a]) {
		s.st.model.Pin()
		return nil
	}
	return s.dup(d, a)
}

// adoptable reports whether the top slot can become an operand holding a
// without a copy: it is a, unclaimed, and every other pending use of a
// happens while it is still below.
// after is the number of uses of a left once this one is taken.
func (s *Scheduler) adoptable(a ir.ValueID, rest []ir.ValueID, after int) bool {
	top, ok := s.st.model.Top()
	if !ok || top.Value != a || top.Pinned {
		return false
	}
	n := s.g.Node(a)
	if n.Op.IsLeaf() && n.Op != ir.OpParam {
		return false
	}
	return after == s.usesIn(rest, a)
}

func (s *Scheduler) usesIn(ids []ir.ValueID, a ir.ValueID) int {
	count := 0
	for _, id := range ids {
		if id == a {
			count++
			continue
		}
		if n, ok := s.g.Nodes[id]; ok && s.inline(n) {
			count += s.usesIn(n.Args, a)
		}
	}
	return count
}

func (s *Scheduler) materialize(n *depgraph.Node) {
	v := n.Value
	switch n.Op {
	case ir.OpConst:
		s.emit(asm.Push(v.Imm))
	case ir.OpArg:
		s.emit(asm.PushUint64(calldataOffset(v.Index)), asm.Op(vm.CALLDATALOAD))
	case ir.OpCaller:
		s.emit(asm.Op(vm.CALLER))
	case ir.OpCallValue:
		s.emit(asm.Op(vm.CALLVALUE))
	default:
		errors.ICE("cannot rematerialize %s", n.Op)
	}
}

func (s *Scheduler) lower(n *depgraph.Node) {
	if op, ok := direct[n.Op]; ok {
		s.emit(asm.Op(op))
		return
	}
	switch n.Op {
	case ir.OpMLoad:
		s.emit(lowerMemory(vm.MLOAD)...)
	case ir.OpMStore:
		s.emit(lowerMemory(vm.MSTORE)...)
	case ir.OpCheckedAdd:
		s.emit(lowerCheckedAdd(s.panicLabel(asm.PanicOverflow))...)
	case ir.OpCheckedSub:
		s.emit(lowerCheckedSub(s.panicLabel(asm.PanicOverflow))...)
	case ir.OpCheckedMul:
		s.emit(lowerCheckedMul(s.panicLabel(asm.PanicOverflow))...)
	case ir.OpCheckedDiv:
		s.emit(lowerCheckedDiv(s.panicLabel(asm.PanicDivisionByZero))...)
	case ir.OpKeccak:
		s.emit(lowerKeccak()...)
	case ir.OpKeccakWord:
		s.emit(lowerKeccakWord()...)
	case ir.OpCall:
		s.emit(lowerCall(vm.CALL, 32)...)
	case ir.OpRawCall:
		s.emit(lowerCall(vm.CALL, 0)...)
	case ir.OpStaticCall:
		s.emit(lowerValuelessCall(vm.STATICCALL)...)
	case ir.OpDelegateCall:
		s.emit(lowerValuelessCall(vm.DELEGATECALL)...)
	case ir.OpLog0:
		s.emit(lowerLog(vm.LOG0)...)
	case ir.OpLog1:
		s.emit(lowerLog(vm.LOG1)...)
	case ir.OpLog2:
		s.emit(lowerLog(vm.LOG2)...)
	default:
		errors.ICE("no lowering for %s", n.Op)
	}
}

func (s *Scheduler) panicLabel(code uint64) string {
	label, ok := s.panics[code]
	if !ok {
		label = fmt.Sprintf("%s.panic.%#x", s.fn.Name, code)
		s.panics[code] = label
	}
	return label
}

func (s *Scheduler) dup(d int, v ir.ValueID) error {
	if d > asm.MaxStackAccess {
		return s.depthError(v, d)
	}
	s.emit(asm.Dup(d))
	s.st.model.Dup(d)
	s.noteDepth()
	return nil
}

// swap exchanges the top with the slot n below it. blame names the value
// that forced the access.
func (s *Scheduler) swap(n int, blame ir.ValueID) error {
	if n > asm.MaxStackAccess {
		return s.depthError(blame, n+1)
	}
	s.emit(asm.Swap(n))
	s.st.model.Swap(n)
	return nil
}

// remove drops the slot at depth d.
func (s *Scheduler) remove(d int) error {
	if d > 1 {
		if err := s.swap(d-1, s.st.model.At(d).Value); err != nil {
			return err
		}
	}
	s.emit(asm.Op(vm.POP))
	s.st.model.Pop()
	return nil
}

// dropDead pops values without remaining uses.
func (s *Scheduler) dropDead() error {
	for {
		dead := 0
		for d := 1; d <= s.st.model.Depth(); d++ {
			slot := s.st.model.At(d)
			if !slot.Pinned && s.st.rem[slot.Value] == 0 {
				dead = d
				break
			}
		}
		if dead == 0 {
			return nil
		}
		if err := s.remove(dead); err != nil {
			return err
		}
	}
}

func (s *Scheduler) depthError(v ir.ValueID, depth int) error {
	val := s.fn.Value(v)
	pos := val.Pos
	if !pos.IsValid() {
		pos = s.pos
	}
	return errors.StackDepthExceeded(val.Describe(), depth, asm.MaxStackAccess, pos)
}

func (s *Scheduler) emit(ins ...asm.Instr) {
	for _, in := range ins {
		if !in.Pos.IsValid() {
			in.Pos = s.pos
		}
		s.out = append(s.out, in)
	}
}

func (s *Scheduler) noteDepth() {
	s.maxDepth = max(s.maxDepth, s.st.model.Depth())
}
