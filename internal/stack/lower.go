package stack

import (
	"github.com/ethereum/go-ethereum/core/vm"

	"github.com/stackgen-lang/stackgen/internal/asm"
	"github.com/stackgen-lang/stackgen/internal/ir"
)

// direct maps ops whose operand order matches the machine instruction.
var direct = map[ir.Op]vm.OpCode{
	ir.OpAdd:       vm.ADD,
	ir.OpSub:       vm.SUB,
	ir.OpMul:       vm.MUL,
	ir.OpDiv:       vm.DIV,
	ir.OpSDiv:      vm.SDIV,
	ir.OpMod:       vm.MOD,
	ir.OpSMod:      vm.SMOD,
	ir.OpExp:       vm.EXP,
	ir.OpAddMod:    vm.ADDMOD,
	ir.OpMulMod:    vm.MULMOD,
	ir.OpLt:        vm.LT,
	ir.OpGt:        vm.GT,
	ir.OpSlt:       vm.SLT,
	ir.OpSgt:       vm.SGT,
	ir.OpEq:        vm.EQ,
	ir.OpIsZero:    vm.ISZERO,
	ir.OpAnd:       vm.AND,
	ir.OpOr:        vm.OR,
	ir.OpXor:       vm.XOR,
	ir.OpNot:       vm.NOT,
	ir.OpShl:       vm.SHL,
	ir.OpShr:       vm.SHR,
	ir.OpSar:       vm.SAR,
	ir.OpByte:      vm.BYTE,
	ir.OpSLoad:     vm.SLOAD,
	ir.OpSStore:    vm.SSTORE,
	ir.OpCaller:    vm.CALLER,
	ir.OpCallValue: vm.CALLVALUE,
}

func ops(codes ...vm.OpCode) asm.Stream {
	s := make(asm.Stream, len(codes))
	for i, c := range codes {
		s[i] = asm.Op(c)
	}
	return s
}

func seq(parts ...asm.Stream) asm.Stream {
	var out asm.Stream
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}

func push(n uint64) asm.Stream {
	return asm.Stream{asm.PushUint64(n)}
}

// UserMemory is where offset 0 of mload and mstore lands. Everything below
// it is scratch space for the sequences that follow.
const UserMemory = 0x40

// lowerMemory rebases the offset on top of the stack past the scratch area.
func lowerMemory(op vm.OpCode) asm.Stream {
	return seq(push(UserMemory), ops(vm.ADD, op))
}

// Memory [0x00, 0x40) is scratch space owned by these sequences. Each one
// is balanced: it consumes its operands and leaves at most one word.

// keccak(a, b) hashes the 64 bytes a||b.
func lowerKeccak() asm.Stream {
	return seq(push(0), ops(vm.MSTORE), push(32), ops(vm.MSTORE), push(64), push(0), ops(vm.KECCAK256))
}

func lowerKeccakWord() asm.Stream {
	return seq(push(0), ops(vm.MSTORE), push(32), push(0), ops(vm.KECCAK256))
}

// call(addr, value, data) sends one word of calldata and yields the
// success flag.
func lowerCall(op vm.OpCode, retSize uint64) asm.Stream {
	return seq(
		ops(vm.SWAP2), push(0), ops(vm.MSTORE),
		push(retSize), push(0), push(32), push(0),
		ops(vm.DUP5, vm.DUP7, vm.GAS, op, vm.SWAP2, vm.POP, vm.POP),
	)
}

// staticcall(addr, data) and delegatecall(addr, data) carry no value.
func lowerValuelessCall(op vm.OpCode) asm.Stream {
	return seq(
		ops(vm.SWAP1), push(0), ops(vm.MSTORE),
		push(32), push(0), push(32), push(0),
		ops(vm.DUP5, vm.GAS, op, vm.SWAP1, vm.POP),
	)
}

// log(data, topics...) logs one word of data.
func lowerLog(op vm.OpCode) asm.Stream {
	return seq(push(0), ops(vm.MSTORE), push(32), push(0), ops(op))
}

// Checked arithmetic jumps to a shared per-function revert block on
// failure. The operand order is [a, b] with a on top.

func lowerCheckedAdd(fail string) asm.Stream {
	// r = a + b overflows iff r < b.
	return seq(ops(vm.DUP2, vm.ADD, vm.SWAP1, vm.DUP2, vm.LT), asm.Stream{asm.PushLabel(fail)}, ops(vm.JUMPI))
}

func lowerCheckedSub(fail string) asm.Stream {
	return seq(ops(vm.DUP2, vm.DUP2, vm.LT), asm.Stream{asm.PushLabel(fail)}, ops(vm.JUMPI, vm.SUB))
}

func lowerCheckedMul(fail string) asm.Stream {
	// r = a * b overflows iff a != 0 and r / a != b.
	return seq(
		ops(vm.DUP2, vm.DUP2, vm.MUL),
		ops(vm.DUP2, vm.DUP2, vm.DIV, vm.DUP4, vm.EQ, vm.DUP3, vm.ISZERO, vm.OR, vm.ISZERO),
		asm.Stream{asm.PushLabel(fail)},
		ops(vm.JUMPI, vm.SWAP2, vm.POP, vm.POP),
	)
}

func lowerCheckedDiv(fail string) asm.Stream {
	return seq(ops(vm.DUP2, vm.ISZERO), asm.Stream{asm.PushLabel(fail)}, ops(vm.JUMPI, vm.DIV))
}

// calldataOffset is where the i-th word argument starts, after the selector.
func calldataOffset(i int) uint64 {
	return 4 + 32*uint64(i)
}
