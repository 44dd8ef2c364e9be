package ir

import (
	"fmt"
	"strings"

	"github.com/holiman/uint256"
)

// SegmentKind tags one step of a storage path.
type SegmentKind int

const (
	// SegMapKey selects the entry of a mapping: keccak(key . slot).
	SegMapKey SegmentKind = iota
	// SegIndex selects an element of a dynamic array: keccak(slot) + index.
	SegIndex
	// SegField offsets into a struct by a constant number of slots.
	SegField
)

type Segment struct {
	Kind  SegmentKind
	Key   ValueID // SegMapKey, SegIndex
	Field uint64  // SegField
}

// BitRange is a packed sub-word field.
type BitRange struct {
	Offset uint
	Width  uint
}

func (r BitRange) Overlaps(o BitRange) bool {
	return r.Offset < o.Offset+o.Width && o.Offset < r.Offset+r.Width
}

// Mask returns (1<<Width)-1.
func (r BitRange) Mask() *uint256.Int {
	if r.Width >= 256 {
		return new(uint256.Int).Not(new(uint256.Int))
	}
	one := uint256.NewInt(1)
	m := new(uint256.Int).Lsh(one, r.Width)
	return m.Sub(m, one)
}

// SlotDescriptor is the symbolic address of a storage access. The base is
// either a compile-time slot number or a Value; the path refines it.
type SlotDescriptor struct {
	Name      string // declared variable, for printing
	Base      *uint256.Int
	BaseValue ValueID
	Path      []Segment
	Packed    *BitRange
}

// ConstSlot describes a plain state variable at slot n.
func ConstSlot(name string, n uint64) *SlotDescriptor {
	return &SlotDescriptor{Name: name, Base: uint256.NewInt(n), BaseValue: NoValue}
}

// DynamicSlot describes an access whose base slot is computed at run time.
func DynamicSlot(base ValueID) *SlotDescriptor {
	return &SlotDescriptor{BaseValue: base}
}

func (d *SlotDescriptor) IsDynamic() bool {
	return d.Base == nil
}

// Word returns the descriptor of the whole 32-byte word holding d.
func (d *SlotDescriptor) Word() *SlotDescriptor {
	w := d.Clone()
	w.Packed = nil
	return w
}

func (d *SlotDescriptor) With(seg Segment) *SlotDescriptor {
	c := d.Clone()
	c.Path = append(c.Path, seg)
	return c
}

func (d *SlotDescriptor) Clone() *SlotDescriptor {
	c := *d
	if d.Base != nil {
		c.Base = d.Base.Clone()
	}
	c.Path = append([]Segment(nil), d.Path...)
	if d.Packed != nil {
		r := *d.Packed
		c.Packed = &r
	}
	return &c
}

// Values lists the values the descriptor refers to.
func (d *SlotDescriptor) Values() []ValueID {
	var ids []ValueID
	if d.IsDynamic() {
		ids = append(ids, d.BaseValue)
	}
	for _, s := range d.Path {
		if s.Kind != SegField {
			ids = append(ids, s.Key)
		}
	}
	return ids
}

func (d *SlotDescriptor) String() string {
	var sb strings.Builder
	sb.WriteByte('@')
	switch {
	case d.Name != "":
		sb.WriteString(d.Name)
	case d.IsDynamic():
		sb.WriteString("(" + d.BaseValue.String() + ")")
	default:
		sb.WriteString(d.Base.Dec())
	}
	for _, s := range d.Path {
		switch s.Kind {
		case SegMapKey:
			fmt.Fprintf(&sb, "[%s]", s.Key)
		case SegIndex:
			fmt.Fprintf(&sb, "#[%s]", s.Key)
		case SegField:
			fmt.Fprintf(&sb, ".%d", s.Field)
		}
	}
	if d.Packed != nil {
		fmt.Fprintf(&sb, "{%d:%d}", d.Packed.Offset, d.Packed.Width)
	}
	return sb.String()
}
