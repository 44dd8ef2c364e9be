// Package stack schedules a block's dependency graph onto the operand
// stack. It keeps an explicit model of the stack so every DUP and SWAP is
// checked against the reach of the machine before it is emitted.
package stack

import (
	"strings"

	"github.com/stackgen-lang/stackgen/internal/errors"
	"github.com/stackgen-lang/stackgen/internal/ir"
)

// Slot is one stack entry.
type Slot struct {
	Value ir.ValueID
	// Pinned slots are operands already placed for an instruction that has
	// not been emitted yet. They may be duplicated but not consumed.
	Pinned bool
}

// Model is the scheduler's view of the stack. Index 0 is the top.
type Model struct {
	slots []Slot
}

func NewModel() *Model {
	return &Model{}
}

func (m *Model) Depth() int {
	return len(m.slots)
}

// At returns the slot at depth d, 1 being the top.
func (m *Model) At(d int) Slot {
	return m.slots[d-1]
}

func (m *Model) Top() (Slot, bool) {
	if len(m.slots) == 0 {
		return Slot{}, false
	}
	return m.slots[0], true
}

func (m *Model) Push(v ir.ValueID, pinned bool) {
	m.slots = append([]Slot{{Value: v, Pinned: pinned}}, m.slots...)
}

func (m *Model) Pop() Slot {
	if len(m.slots) == 0 {
		errors.ICE("pop from empty stack model")
	}
	s := m.slots[0]
	m.slots = m.slots[1:]
	return s
}

// Dup copies the slot at depth n to the top as a pinned operand.
func (m *Model) Dup(n int) {
	m.Push(m.slots[n-1].Value, true)
}

// Swap exchanges the top with the slot n positions below it.
func (m *Model) Swap(n int) {
	m.slots[0], m.slots[n] = m.slots[n], m.slots[0]
}

// Find returns the depth of the shallowest slot holding v, or 0.
func (m *Model) Find(v ir.ValueID) int {
	for i, s := range m.slots {
		if s.Value == v {
			return i + 1
		}
	}
	return 0
}

// Count returns how many slots hold v.
func (m *Model) Count(v ir.ValueID) int {
	n := 0
	for _, s := range m.slots {
		if s.Value == v {
			n++
		}
	}
	return n
}

// Pin marks the top slot as a placed operand.
func (m *Model) Pin() {
	m.slots[0].Pinned = true
}

// Values lists the slot values from the top down.
func (m *Model) Values() []ir.ValueID {
	out := make([]ir.ValueID, len(m.slots))
	for i, s := range m.slots {
		out[i] = s.Value
	}
	return out
}

func (m *Model) Clone() *Model {
	return &Model{slots: append([]Slot(nil), m.slots...)}
}

func (m *Model) String() string {
	parts := make([]string, len(m.slots))
	for i, s := range m.slots {
		parts[i] = s.Value.String()
		if s.Pinned {
			parts[i] += "*"
		}
	}
	return "[" + strings.Join(parts, " ") + "]"
}
