package ir

// The IR is an arena: every Value and Block of a function lives in a flat
// slice owned by the Function and is referenced by dense integer index.
// Values are never edited after creation. Rewrites such as CSE redirect
// references through the substitution map instead, and readers resolve
// operands lazily with Function.Resolve.

import (
	"fmt"

	"github.com/holiman/uint256"

	"github.com/stackgen-lang/stackgen/internal/ast"
	"github.com/stackgen-lang/stackgen/internal/errors"
)

// ValueID indexes Function.Values.
type ValueID int

// BlockID indexes Function.Blocks.
type BlockID int

const (
	NoValue ValueID = -1
	NoBlock BlockID = -1
)

func (id ValueID) String() string {
	if id == NoValue {
		return "_"
	}
	return fmt.Sprintf("v%d", int(id))
}

// Value is a node producing (at most) one 32-byte word.
type Value struct {
	ID    ValueID
	Op    Op
	Args  []ValueID
	Imm   *uint256.Int    // OpConst literal
	Index int             // OpArg calldata index, OpParam position
	Slot  *SlotDescriptor // storage ops only
	Block BlockID
	Pos   ast.Position
	Local string // local name the value was bound to, if any
}

func (v *Value) HasSideEffect() bool {
	return v.Op.Info().Effect != EffectPure
}

// Rematerializable values can be recreated anywhere instead of being kept
// alive on the stack or threaded between blocks.
func (v *Value) Rematerializable() bool {
	return v.Op.IsLeaf() && v.Op != OpParam
}

// Describe names the source construct a value came from, for diagnostics.
func (v *Value) Describe() string {
	if v.Local != "" {
		return fmt.Sprintf("'%s' (%s)", v.Local, v.Op)
	}
	return fmt.Sprintf("%s %s", v.Op, v.ID)
}

// TermKind enumerates block terminators.
type TermKind int

const (
	TermNone TermKind = iota
	TermJump
	TermBranch
	TermReturn
	TermRevert
	TermStop
)

func (k TermKind) String() string {
	switch k {
	case TermJump:
		return "jump"
	case TermBranch:
		return "br"
	case TermReturn:
		return "return"
	case TermRevert:
		return "revert"
	case TermStop:
		return "stop"
	default:
		return "<none>"
	}
}

// Edge is a control transfer carrying values into the target's params.
type Edge struct {
	Target BlockID
	Args   []ValueID
}

// Terminator ends a block. Branch has Cond and two edges (taken, fallthrough).
// Return lists its values in declaration order.
type Terminator struct {
	Kind   TermKind
	Cond   ValueID
	Values []ValueID
	Edges  []Edge
	Pos    ast.Position
}

// Operands lists every value the terminator reads, in use order.
func (t *Terminator) Operands() []ValueID {
	var ops []ValueID
	if t.Kind == TermBranch {
		ops = append(ops, t.Cond)
	}
	ops = append(ops, t.Values...)
	for _, e := range t.Edges {
		ops = append(ops, e.Args...)
	}
	return ops
}

func (t *Terminator) IsExit() bool {
	return t.Kind == TermReturn || t.Kind == TermRevert || t.Kind == TermStop
}

type Block struct {
	ID     BlockID
	Name   string
	Params []ValueID
	Values []ValueID
	Term   *Terminator
}

// Function is the unit of compilation. All of its state is private to one
// compilation so distinct functions can be compiled concurrently.
type Function struct {
	Name    string
	Params  []string
	Returns int
	Values  []*Value
	Blocks  []*Block
	Pos     ast.Position

	subst map[ValueID]ValueID
}

func NewFunction(name string, params []string, returns int) *Function {
	return &Function{
		Name:    name,
		Params:  params,
		Returns: returns,
		subst:   make(map[ValueID]ValueID),
	}
}

func (f *Function) Entry() *Block {
	if len(f.Blocks) == 0 {
		return nil
	}
	return f.Blocks[0]
}

func (f *Function) Value(id ValueID) *Value {
	if id < 0 || int(id) >= len(f.Values) {
		errors.ICE("value %s out of range in %s", id, f.Name)
	}
	return f.Values[id]
}

func (f *Function) Block(id BlockID) *Block {
	if id < 0 || int(id) >= len(f.Blocks) {
		errors.ICE("block %d out of range in %s", id, f.Name)
	}
	return f.Blocks[id]
}

func (f *Function) BlockByName(name string) *Block {
	for _, b := range f.Blocks {
		if b.Name == name {
			return b
		}
	}
	return nil
}

// AddBlock appends an empty block.
func (f *Function) AddBlock(name string) *Block {
	b := &Block{ID: BlockID(len(f.Blocks)), Name: name}
	f.Blocks = append(f.Blocks, b)
	return b
}

// NewValue allocates a value in the arena without placing it in a block's
// instruction list. Passes that rebuild a block's list use it directly.
func (f *Function) NewValue(op Op, block BlockID, args ...ValueID) *Value {
	v := &Value{
		ID:    ValueID(len(f.Values)),
		Op:    op,
		Args:  append([]ValueID(nil), args...),
		Block: block,
	}
	f.Values = append(f.Values, v)
	return v
}

// Resolve follows the substitution map to the value that currently stands
// for id.
func (f *Function) Resolve(id ValueID) ValueID {
	if id == NoValue {
		return id
	}
	for {
		next, ok := f.subst[id]
		if !ok {
			return id
		}
		id = next
	}
}

// Substitute redirects every future read of old to repl.
func (f *Function) Substitute(old, repl ValueID) {
	old, repl = f.Resolve(old), f.Resolve(repl)
	if old == repl {
		return
	}
	if f.subst == nil {
		f.subst = make(map[ValueID]ValueID)
	}
	f.subst[old] = repl
}

// IsReplaced reports whether id has been substituted away.
func (f *Function) IsReplaced(id ValueID) bool {
	_, ok := f.subst[id]
	return ok
}

// Args returns v's operands with substitutions applied.
func (f *Function) Args(v *Value) []ValueID {
	out := make([]ValueID, len(v.Args))
	for i, a := range v.Args {
		out[i] = f.Resolve(a)
	}
	return out
}

// ConstValue returns the literal behind id, if id resolves to a constant.
func (f *Function) ConstValue(id ValueID) (*uint256.Int, bool) {
	v := f.Value(f.Resolve(id))
	if v.Op != OpConst {
		return nil, false
	}
	return v.Imm, true
}

// Clone returns a deep copy so a compilation can rewrite it freely.
func (f *Function) Clone() *Function {
	out := &Function{
		Name:    f.Name,
		Params:  append([]string(nil), f.Params...),
		Returns: f.Returns,
		Pos:     f.Pos,
		Values:  make([]*Value, len(f.Values)),
		Blocks:  make([]*Block, len(f.Blocks)),
		subst:   make(map[ValueID]ValueID, len(f.subst)),
	}
	for i, v := range f.Values {
		c := *v
		c.Args = append([]ValueID(nil), v.Args...)
		if v.Imm != nil {
			c.Imm = v.Imm.Clone()
		}
		if v.Slot != nil {
			c.Slot = v.Slot.Clone()
		}
		out.Values[i] = &c
	}
	for i, b := range f.Blocks {
		c := &Block{
			ID:     b.ID,
			Name:   b.Name,
			Params: append([]ValueID(nil), b.Params...),
			Values: append([]ValueID(nil), b.Values...),
		}
		if b.Term != nil {
			t := *b.Term
			t.Values = append([]ValueID(nil), b.Term.Values...)
			t.Edges = make([]Edge, len(b.Term.Edges))
			for j, e := range b.Term.Edges {
				t.Edges[j] = Edge{Target: e.Target, Args: append([]ValueID(nil), e.Args...)}
			}
			c.Term = &t
		}
		out.Blocks[i] = c
	}
	for k, v := range f.subst {
		out.subst[k] = v
	}
	return out
}

// StorageVar is one entry of the read-only storage layout table.
type StorageVar struct {
	Name   string
	Slot   uint64
	Kind   SlotVarKind
	Packed *BitRange
	Pos    ast.Position
}

type SlotVarKind int

const (
	VarPlain SlotVarKind = iota
	VarMapping
	VarArray
)

// Layout is shared read-only by all concurrent function compilations.
type Layout struct {
	Vars []*StorageVar
}

func (l *Layout) Lookup(name string) *StorageVar {
	if l == nil {
		return nil
	}
	for _, v := range l.Vars {
		if v.Name == name {
			return v
		}
	}
	return nil
}

func (l *Layout) Names() []string {
	if l == nil {
		return nil
	}
	names := make([]string, len(l.Vars))
	for i, v := range l.Vars {
		names[i] = v.Name
	}
	return names
}

type Program struct {
	Name      string
	Layout    *Layout
	Functions []*Function
}

func (p *Program) Function(name string) *Function {
	for _, f := range p.Functions {
		if f.Name == name {
			return f
		}
	}
	return nil
}
