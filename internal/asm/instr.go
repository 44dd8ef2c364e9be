// Package asm holds the linear instruction stream produced by the scheduler,
// the stream-level peephole optimizer and the assembler that resolves jump
// labels and encodes the final bytecode.
package asm

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/core/vm"
	"github.com/holiman/uint256"

	"github.com/stackgen-lang/stackgen/internal/ast"
)

// MaxStackAccess is the deepest slot DUP and SWAP can reach.
const MaxStackAccess = 16

type Kind int

const (
	KindOp Kind = iota
	// KindPush pushes Imm with the narrowest encoding.
	KindPush
	// KindPushLabel pushes the byte offset of Label.
	KindPushLabel
	// KindLabel marks a position. It encodes to nothing; a JUMPDEST must
	// follow when the label is a jump target.
	KindLabel
)

type Instr struct {
	Kind  Kind
	Op    vm.OpCode
	Imm   *uint256.Int
	Label string
	Pos   ast.Position
}

func Op(op vm.OpCode) Instr {
	return Instr{Kind: KindOp, Op: op}
}

func Push(x *uint256.Int) Instr {
	return Instr{Kind: KindPush, Imm: x.Clone()}
}

func PushUint64(n uint64) Instr {
	return Push(uint256.NewInt(n))
}

func PushLabel(label string) Instr {
	return Instr{Kind: KindPushLabel, Label: label}
}

func Label(label string) Instr {
	return Instr{Kind: KindLabel, Label: label}
}

// Dup copies the n-th stack item (1 = top) to the top.
func Dup(n int) Instr {
	if n < 1 || n > MaxStackAccess {
		panic(fmt.Sprintf("DUP%d out of range", n))
	}
	return Op(vm.DUP1 + vm.OpCode(n-1))
}

// Swap exchanges the top with the item n below it.
func Swap(n int) Instr {
	if n < 1 || n > MaxStackAccess {
		panic(fmt.Sprintf("SWAP%d out of range", n))
	}
	return Op(vm.SWAP1 + vm.OpCode(n-1))
}

func (i Instr) WithPos(pos ast.Position) Instr {
	i.Pos = pos
	return i
}

// DupDepth returns n for DUPn, 0 otherwise.
func (i Instr) DupDepth() int {
	if i.Kind == KindOp && i.Op >= vm.DUP1 && i.Op <= vm.DUP16 {
		return int(i.Op-vm.DUP1) + 1
	}
	return 0
}

// SwapDepth returns n for SWAPn, 0 otherwise.
func (i Instr) SwapDepth() int {
	if i.Kind == KindOp && i.Op >= vm.SWAP1 && i.Op <= vm.SWAP16 {
		return int(i.Op-vm.SWAP1) + 1
	}
	return 0
}

// IsPush reports pushes of constants or labels.
func (i Instr) IsPush() bool {
	return i.Kind == KindPush || i.Kind == KindPushLabel
}

// pushWidth is the number of immediate bytes of a constant push.
func pushWidth(x *uint256.Int) int {
	return (x.BitLen() + 7) / 8
}

func (i Instr) String() string {
	switch i.Kind {
	case KindPush:
		w := pushWidth(i.Imm)
		if w == 0 {
			return "PUSH0"
		}
		return fmt.Sprintf("PUSH%d %s", w, i.Imm.Hex())
	case KindPushLabel:
		return "PUSH @" + i.Label
	case KindLabel:
		return i.Label + ":"
	default:
		return i.Op.String()
	}
}

// Stream is a function's instructions in execution order.
type Stream []Instr

func (s Stream) String() string {
	var sb strings.Builder
	for _, in := range s {
		if in.Kind != KindLabel {
			sb.WriteString("  ")
		}
		sb.WriteString(in.String())
		sb.WriteByte('\n')
	}
	return sb.String()
}

// Count returns how many plain instructions in s are op.
func (s Stream) Count(op vm.OpCode) int {
	n := 0
	for _, in := range s {
		if in.Kind == KindOp && in.Op == op {
			n++
		}
	}
	return n
}

// CountDups counts DUP1..DUP16.
func (s Stream) CountDups() int {
	n := 0
	for _, in := range s {
		if in.DupDepth() > 0 {
			n++
		}
	}
	return n
}

// MaxAccessDepth returns the deepest DUP or SWAP operand in s.
func (s Stream) MaxAccessDepth() int {
	deepest := 0
	for _, in := range s {
		deepest = max(deepest, in.DupDepth(), in.SwapDepth())
	}
	return deepest
}
