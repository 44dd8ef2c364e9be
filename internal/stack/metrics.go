package stack

import (
	"github.com/ethereum/go-ethereum/core/vm"

	"github.com/stackgen-lang/stackgen/internal/asm"
)

// Gas charged by the machine for the stack manipulation instructions.
const (
	gasVeryLow = 3
	gasBase    = 2
)

// deepDup is the first DUP depth counted as deep.
const deepDup = 9

// Metrics summarises the stack traffic of emitted code.
type Metrics struct {
	Dups     [asm.MaxStackAccess + 1]int
	Swaps    [asm.MaxStackAccess + 1]int
	Pops     int
	DeepDups int
	MaxDepth int
	// StackGas is the gas spent on DUP, SWAP and POP.
	StackGas int
}

// Measure collects the metrics of s. MaxDepth is left to the caller, which
// knows it from the scheduler's model.
func Measure(s asm.Stream) Metrics {
	var m Metrics
	for _, in := range s {
		switch {
		case in.DupDepth() > 0:
			d := in.DupDepth()
			m.Dups[d]++
			if d >= deepDup {
				m.DeepDups++
			}
			m.StackGas += gasVeryLow
		case in.SwapDepth() > 0:
			m.Swaps[in.SwapDepth()]++
			m.StackGas += gasVeryLow
		case in.Kind == asm.KindOp && in.Op == vm.POP:
			m.Pops++
			m.StackGas += gasBase
		}
	}
	return m
}

func (m Metrics) TotalDups() int {
	n := 0
	for _, c := range m.Dups {
		n += c
	}
	return n
}

func (m Metrics) TotalSwaps() int {
	n := 0
	for _, c := range m.Swaps {
		n += c
	}
	return n
}

// Add accumulates o into m.
func (m *Metrics) Add(o Metrics) {
	for i := range m.Dups {
		m.Dups[i] += o.Dups[i]
		m.Swaps[i] += o.Swaps[i]
	}
	m.Pops += o.Pops
	m.DeepDups += o.DeepDups
	m.MaxDepth = max(m.MaxDepth, o.MaxDepth)
	m.StackGas += o.StackGas
}
