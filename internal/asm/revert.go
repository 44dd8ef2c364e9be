package asm

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/vm"
)

// Failure codes encoded in generated run-time reverts. They follow the
// Panic(uint256) convention, so tooling decodes them like compiler panics.
const (
	PanicSelector       = 0x4e487b71
	PanicOverflow       = 0x11
	PanicDivisionByZero = 0x12
)

// RevertSequence returns the sequence that reverts with Panic(code) as return
// data. It does not return and leaves the stack as it was.
func RevertSequence(code uint64) Stream {
	return Stream{
		PushUint64(PanicSelector),
		PushUint64(0xe0),
		Op(vm.SHL),
		PushUint64(0),
		Op(vm.MSTORE),
		PushUint64(code),
		PushUint64(4),
		Op(vm.MSTORE),
		PushUint64(0x24),
		PushUint64(0),
		Op(vm.REVERT),
	}
}

const runtimeLabel = "runtime"

// DeployWrapper prefixes runtime with a constructor that copies it to memory
// and returns it.
func DeployWrapper(runtime []byte) ([]byte, error) {
	prelude := Stream{
		PushUint64(uint64(len(runtime))),
		Op(vm.DUP1),
		PushLabel(runtimeLabel),
		PushUint64(0),
		Op(vm.CODECOPY),
		PushUint64(0),
		Op(vm.RETURN),
		Label(runtimeLabel),
	}
	bc, err := Assemble(prelude)
	if err != nil {
		return nil, err
	}
	return append(bc.Code, runtime...), nil
}

// Disassemble renders code one instruction per line.
func Disassemble(code []byte) []string {
	var lines []string
	for pc := 0; pc < len(code); {
		op := vm.OpCode(code[pc])
		line := fmt.Sprintf("%04x: %s", pc, op)
		size := 1
		if op >= vm.PUSH1 && op <= vm.PUSH32 {
			n := int(op-vm.PUSH1) + 1
			end := min(pc+1+n, len(code))
			line += " 0x" + common.Bytes2Hex(code[pc+1:end])
			size += n
		}
		lines = append(lines, line)
		pc += size
	}
	return lines
}
