package codegen

import (
	"github.com/ethereum/go-ethereum/core/vm"
	"github.com/holiman/uint256"

	"github.com/stackgen-lang/stackgen/internal/asm"
	"github.com/stackgen-lang/stackgen/internal/ir"
)

// Dispatcher returns the code that reads the selector from calldata and
// jumps to the matching function label. Unknown selectors revert. Each
// function label is expected to pop the selector.
func Dispatcher(fns []*FunctionResult) asm.Stream {
	s := asm.Stream{
		asm.PushUint64(0), asm.Op(vm.CALLDATALOAD),
		asm.PushUint64(0xe0), asm.Op(vm.SHR),
	}
	for _, fn := range fns {
		s = append(s,
			asm.Dup(1),
			asm.Push(new(uint256.Int).SetBytes(fn.Selector[:])),
			asm.Op(vm.EQ),
			asm.PushLabel(fn.Name),
			asm.Op(vm.JUMPI),
		)
	}
	return append(s, asm.PushUint64(0), asm.PushUint64(0), asm.Op(vm.REVERT))
}

func (c *Compiler) link(prog *ir.Program, fns []*FunctionResult) (*ProgramResult, error) {
	stream := Dispatcher(fns)
	out := &ProgramResult{Name: prog.Name, Functions: fns}
	for _, fn := range fns {
		stream = append(stream, asm.Label(fn.Name), asm.Op(vm.JUMPDEST), asm.Op(vm.POP))
		stream = append(stream, fn.Stream...)
		out.Metrics.Add(fn.Metrics)
	}
	bc, err := asm.Assemble(stream)
	if err != nil {
		return nil, err
	}
	out.Runtime = bc.Code
	out.Labels = bc.Labels
	out.SourceMap = bc.SourceMap
	if c.cfg.Deploy {
		if out.Deploy, err = asm.DeployWrapper(bc.Code); err != nil {
			return nil, err
		}
	}
	return out, nil
}
