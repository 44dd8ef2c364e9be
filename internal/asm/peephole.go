package asm

import (
	"github.com/ethereum/go-ethereum/core/vm"
	"github.com/holiman/uint256"
)

// rule rewrites the window starting at s[i]. It returns the replacement and
// the number of instructions consumed, or ok=false when it does not apply.
type rule struct {
	name  string
	apply func(s Stream, i int) (repl Stream, n int, ok bool)
}

var rules = []rule{
	{"dead-after-exit", deadAfterExit},
	{"jump-to-next", jumpToNext},
	{"fold-constants", foldConstants},
	{"fold-unary", foldUnary},
	{"push-swap", pushSwap},
	{"identity", identityPush},
	{"mul-zero", mulZero},
	{"pop-after-push", popAfterPush},
	{"double-swap", doubleSwap},
	{"double-not", doubleNot},
	{"triple-iszero", tripleIszero},
	{"dup-swap", dupSwap},
	{"swap-commutative", swapCommutative},
}

// Optimize applies stream rewrites until none fires and returns the
// rewritten stream with per-rule counts. No rewrite spans a label except
// the removal of a jump to the immediately following label.
func Optimize(s Stream) (Stream, map[string]int) {
	stats := make(map[string]int)
	cur := append(Stream(nil), s...)
	for {
		next, changed := pass(cur, stats)
		if !changed {
			return cur, stats
		}
		cur = next
	}
}

func pass(s Stream, stats map[string]int) (Stream, bool) {
	out := make(Stream, 0, len(s))
	changed := false
	for i := 0; i < len(s); {
		fired := false
		for _, r := range rules {
			repl, n, ok := r.apply(s, i)
			if !ok {
				continue
			}
			pos := s[i].Pos
			for _, in := range repl {
				if !in.Pos.IsValid() {
					in.Pos = pos
				}
				out = append(out, in)
			}
			stats[r.name]++
			i += n
			fired, changed = true, true
			break
		}
		if !fired {
			out = append(out, s[i])
			i++
		}
	}
	return out, changed
}

// window returns s[i:i+n] when it contains no labels.
func window(s Stream, i, n int) (Stream, bool) {
	if i+n > len(s) {
		return nil, false
	}
	w := s[i : i+n]
	for _, in := range w {
		if in.Kind == KindLabel {
			return nil, false
		}
	}
	return w, true
}

func isOp(in Instr, ops ...vm.OpCode) bool {
	if in.Kind != KindOp {
		return false
	}
	for _, op := range ops {
		if in.Op == op {
			return true
		}
	}
	return false
}

func isConst(in Instr, n uint64) bool {
	return in.Kind == KindPush && in.Imm.IsUint64() && in.Imm.Uint64() == n
}

func isExit(in Instr) bool {
	return isOp(in, vm.JUMP, vm.STOP, vm.RETURN, vm.REVERT, vm.INVALID)
}

func deadAfterExit(s Stream, i int) (Stream, int, bool) {
	if !isExit(s[i]) {
		return nil, 0, false
	}
	n := 1
	for i+n < len(s) && s[i+n].Kind != KindLabel {
		n++
	}
	if n == 1 {
		return nil, 0, false
	}
	return Stream{s[i]}, n, true
}

func jumpToNext(s Stream, i int) (Stream, int, bool) {
	if i+2 >= len(s) {
		return nil, 0, false
	}
	if s[i].Kind == KindPushLabel && isOp(s[i+1], vm.JUMP) &&
		s[i+2].Kind == KindLabel && s[i+2].Label == s[i].Label {
		return nil, 2, true
	}
	return nil, 0, false
}

// foldConstants evaluates binary ops on two constant pushes. The second
// push is the top of the stack, so it is the first operand.
func foldConstants(s Stream, i int) (Stream, int, bool) {
	w, ok := window(s, i, 3)
	if !ok || w[0].Kind != KindPush || w[1].Kind != KindPush || w[2].Kind != KindOp {
		return nil, 0, false
	}
	top, second := w[1].Imm, w[0].Imm
	r := new(uint256.Int)
	switch w[2].Op {
	case vm.ADD:
		r.Add(top, second)
	case vm.SUB:
		r.Sub(top, second)
	case vm.MUL:
		r.Mul(top, second)
	case vm.DIV:
		r.Div(top, second)
	case vm.MOD:
		r.Mod(top, second)
	case vm.AND:
		r.And(top, second)
	case vm.OR:
		r.Or(top, second)
	case vm.XOR:
		r.Xor(top, second)
	case vm.EQ:
		r.SetUint64(boolWord(top.Eq(second)))
	case vm.LT:
		r.SetUint64(boolWord(top.Lt(second)))
	case vm.GT:
		r.SetUint64(boolWord(top.Gt(second)))
	case vm.SHL:
		if !top.LtUint64(256) {
			break
		}
		r.Lsh(second, uint(top.Uint64()))
	case vm.SHR:
		if !top.LtUint64(256) {
			break
		}
		r.Rsh(second, uint(top.Uint64()))
	default:
		return nil, 0, false
	}
	return Stream{Push(r)}, 3, true
}

func foldUnary(s Stream, i int) (Stream, int, bool) {
	w, ok := window(s, i, 2)
	if !ok || w[0].Kind != KindPush {
		return nil, 0, false
	}
	switch {
	case isOp(w[1], vm.ISZERO):
		return Stream{PushUint64(boolWord(w[0].Imm.IsZero()))}, 2, true
	case isOp(w[1], vm.NOT):
		return Stream{Push(new(uint256.Int).Not(w[0].Imm))}, 2, true
	}
	return nil, 0, false
}

func pushSwap(s Stream, i int) (Stream, int, bool) {
	w, ok := window(s, i, 3)
	if !ok || !w[0].IsPush() || !w[1].IsPush() || w[2].SwapDepth() != 1 {
		return nil, 0, false
	}
	return Stream{w[1], w[0]}, 3, true
}

// identityPush drops x+0, x|0, x^0 and x*1.
func identityPush(s Stream, i int) (Stream, int, bool) {
	w, ok := window(s, i, 2)
	if !ok {
		return nil, 0, false
	}
	if isConst(w[0], 0) && isOp(w[1], vm.ADD, vm.OR, vm.XOR) {
		return nil, 2, true
	}
	if isConst(w[0], 1) && isOp(w[1], vm.MUL) {
		return nil, 2, true
	}
	return nil, 0, false
}

func mulZero(s Stream, i int) (Stream, int, bool) {
	w, ok := window(s, i, 2)
	if !ok || !isConst(w[0], 0) || !isOp(w[1], vm.MUL, vm.AND) {
		return nil, 0, false
	}
	return Stream{Op(vm.POP), PushUint64(0)}, 2, true
}

func popAfterPush(s Stream, i int) (Stream, int, bool) {
	w, ok := window(s, i, 2)
	if !ok || !isOp(w[1], vm.POP) {
		return nil, 0, false
	}
	if w[0].IsPush() || w[0].DupDepth() > 0 {
		return nil, 2, true
	}
	return nil, 0, false
}

func doubleSwap(s Stream, i int) (Stream, int, bool) {
	w, ok := window(s, i, 2)
	if !ok || w[0].SwapDepth() == 0 || w[0].SwapDepth() != w[1].SwapDepth() {
		return nil, 0, false
	}
	return nil, 2, true
}

func doubleNot(s Stream, i int) (Stream, int, bool) {
	w, ok := window(s, i, 2)
	if !ok || !isOp(w[0], vm.NOT) || !isOp(w[1], vm.NOT) {
		return nil, 0, false
	}
	return nil, 2, true
}

func tripleIszero(s Stream, i int) (Stream, int, bool) {
	w, ok := window(s, i, 3)
	if !ok || !isOp(w[0], vm.ISZERO) || !isOp(w[1], vm.ISZERO) || !isOp(w[2], vm.ISZERO) {
		return nil, 0, false
	}
	return Stream{w[0]}, 3, true
}

func dupSwap(s Stream, i int) (Stream, int, bool) {
	w, ok := window(s, i, 2)
	if !ok || w[0].DupDepth() != 1 || w[1].SwapDepth() != 1 {
		return nil, 0, false
	}
	return Stream{w[0]}, 2, true
}

func swapCommutative(s Stream, i int) (Stream, int, bool) {
	w, ok := window(s, i, 2)
	if !ok || w[0].SwapDepth() != 1 || !isOp(w[1], vm.ADD, vm.MUL, vm.AND, vm.OR, vm.XOR, vm.EQ) {
		return nil, 0, false
	}
	return Stream{w[1]}, 2, true
}

func boolWord(b bool) uint64 {
	if b {
		return 1
	}
	return 0
}
