package stack

import (
	"fmt"

	"github.com/ethereum/go-ethereum/core/vm"

	"github.com/stackgen-lang/stackgen/internal/asm"
	"github.com/stackgen-lang/stackgen/internal/errors"
	"github.com/stackgen-lang/stackgen/internal/ir"
)

func (s *Scheduler) terminate() error {
	t := s.g.Term
	if t.Pos.IsValid() {
		s.pos = t.Pos
	}
	switch t.Kind {
	case ir.TermStop:
		s.emit(asm.Op(vm.STOP))
	case ir.TermRevert:
		s.emit(asm.PushUint64(0), asm.PushUint64(0), asm.Op(vm.REVERT))
	case ir.TermReturn:
		return s.ret(s.resolve(t.Values))
	case ir.TermJump:
		return s.jump(t.Edges[0])
	case ir.TermBranch:
		return s.branch(s.fn.Resolve(t.Cond), t.Edges[0], t.Edges[1])
	default:
		errors.ICE("block %s has no terminator", s.g.Block.Name)
	}
	return nil
}

func (s *Scheduler) resolve(ids []ir.ValueID) []ir.ValueID {
	out := make([]ir.ValueID, len(ids))
	for i, id := range ids {
		out[i] = s.fn.Resolve(id)
	}
	return out
}

// ret lays the values out with the first one on top, stores them to memory
// in declaration order and returns that memory.
func (s *Scheduler) ret(vals []ir.ValueID) error {
	for i := len(vals) - 1; i >= 0; i-- {
		if err := s.place(vals[i], vals[:i]); err != nil {
			return err
		}
	}
	for i := range vals {
		s.emit(asm.PushUint64(32*uint64(i)), asm.Op(vm.MSTORE))
		s.st.model.Pop()
	}
	s.emit(asm.PushUint64(32*uint64(len(vals))), asm.PushUint64(0), asm.Op(vm.RETURN))
	return nil
}

func (s *Scheduler) jump(e ir.Edge) error {
	if err := s.shuffle(e); err != nil {
		return err
	}
	s.emit(asm.PushLabel(s.target(e)), asm.Op(vm.JUMP))
	return nil
}

// branch jumps to the taken edge when cond is non-zero. If the taken edge
// needs its stack rearranged, the jump goes through a trampoline that does
// so from a copy of the current state.
func (s *Scheduler) branch(cond ir.ValueID, taken, fall ir.Edge) error {
	if err := s.place(cond, nil); err != nil {
		return err
	}
	s.st.model.Pop()
	base := s.st.clone()

	out := s.out
	s.out = nil
	if err := s.shuffle(taken); err != nil {
		return err
	}
	fix := s.out
	s.out = out
	s.st = base

	dest := s.target(taken)
	if len(fix) > 0 {
		s.tramp++
		dest = fmt.Sprintf("%s.%s.br%d", s.fn.Name, s.g.Block.Name, s.tramp)
	}
	s.emit(asm.PushLabel(dest), asm.Op(vm.JUMPI))
	if err := s.jump(fall); err != nil {
		return err
	}
	if len(fix) > 0 {
		s.emit(asm.Label(dest), asm.Op(vm.JUMPDEST))
		s.out = append(s.out, fix...)
		s.emit(asm.PushLabel(s.target(taken)), asm.Op(vm.JUMP))
	}
	return nil
}

func (s *Scheduler) target(e ir.Edge) string {
	return BlockLabel(s.fn, s.fn.Block(e.Target))
}

// shuffle turns the current stack into the entry layout of e's target:
// exactly the edge arguments, the first one deepest.
func (s *Scheduler) shuffle(e ir.Edge) error {
	args := s.resolve(e.Args)
	m := s.st.model
	need := make(map[ir.ValueID]int, len(args))
	for _, a := range args {
		if s.st.rem[a] <= 0 {
			errors.ICE("%s passed to %s after its last counted use", a, s.fn.Block(e.Target).Name)
		}
		s.st.rem[a]--
		need[a]++
	}

	// Drop surplus copies, shallowest first.
	for {
		surplus := 0
		for d := 1; d <= m.Depth(); d++ {
			v := m.At(d).Value
			if m.Count(v) > need[v] {
				surplus = d
				break
			}
		}
		if surplus == 0 {
			break
		}
		if err := s.remove(surplus); err != nil {
			return err
		}
	}

	// Add missing copies.
	for _, a := range args {
		if m.Count(a) >= need[a] {
			continue
		}
		n := s.g.Node(a)
		if n.Op.IsLeaf() && n.Op != ir.OpParam {
			s.materialize(n)
			m.Push(a, false)
			s.noteDepth()
			continue
		}
		d := m.Find(a)
		if d == 0 {
			errors.ICE("%s (%s) is not on the stack at the end of block %s", a, n.Op, s.g.Block.Name)
		}
		if err := s.dup(d, a); err != nil {
			return err
		}
	}

	// Permute, fixing positions from the deepest up.
	for i := len(args) - 1; i >= 1; i-- {
		want := args[len(args)-1-i]
		if m.At(i+1).Value == want {
			continue
		}
		j := 0
		for k := 0; k < i; k++ {
			if m.At(k+1).Value == want {
				j = k
				break
			}
		}
		if j != 0 {
			if err := s.swap(j, want); err != nil {
				return err
			}
		}
		if err := s.swap(i, want); err != nil {
			return err
		}
	}
	return nil
}
