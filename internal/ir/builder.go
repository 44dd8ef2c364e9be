package ir

import (
	"sort"

	"github.com/holiman/uint256"

	"github.com/stackgen-lang/stackgen/internal/ast"
	"github.com/stackgen-lang/stackgen/internal/errors"
)

// Builder constructs a Function block by block. Named locals have no fixed
// stack address: each assignment binds the name to a new Value and reads
// resolve to the latest binding in the current block.
type Builder struct {
	fn     *Function
	cur    *Block
	locals map[string]ValueID
	args   map[int]ValueID
	pos    ast.Position
}

func NewBuilder(name string, params []string, returns int) *Builder {
	return &Builder{
		fn:     NewFunction(name, params, returns),
		locals: make(map[string]ValueID),
		args:   make(map[int]ValueID),
	}
}

func (b *Builder) Function() *Function {
	return b.fn
}

func (b *Builder) Current() *Block {
	return b.cur
}

// SetPos sets the source position attached to values created from now on.
func (b *Builder) SetPos(pos ast.Position) {
	b.pos = pos
	if !b.fn.Pos.IsValid() {
		b.fn.Pos = pos
	}
}

// NewBlock creates a block whose parameters are bound to the given names
// when the block becomes current.
func (b *Builder) NewBlock(name string, params ...string) *Block {
	blk := b.fn.AddBlock(name)
	for i, p := range params {
		v := b.fn.NewValue(OpParam, blk.ID)
		v.Index = i
		v.Local = p
		v.Pos = b.pos
		blk.Params = append(blk.Params, v.ID)
	}
	return blk
}

// SetBlock makes blk current. Only its parameters and the function
// arguments are visible afterwards.
func (b *Builder) SetBlock(blk *Block) {
	b.cur = blk
	b.locals = make(map[string]ValueID)
	b.args = make(map[int]ValueID)
	for _, p := range blk.Params {
		b.locals[b.fn.Value(p).Local] = p
	}
}

func (b *Builder) add(v *Value) ValueID {
	if b.cur == nil {
		errors.ICE("builder for %s has no current block", b.fn.Name)
	}
	v.Pos = b.pos
	b.cur.Values = append(b.cur.Values, v.ID)
	return v.ID
}

func (b *Builder) Const(x *uint256.Int) ValueID {
	v := b.fn.NewValue(OpConst, b.blockID())
	v.Imm = x.Clone()
	return b.add(v)
}

func (b *Builder) ConstUint64(n uint64) ValueID {
	return b.Const(uint256.NewInt(n))
}

// Arg returns the i-th calldata argument, loaded at most once per block.
func (b *Builder) Arg(i int) ValueID {
	if id, ok := b.args[i]; ok {
		return id
	}
	v := b.fn.NewValue(OpArg, b.blockID())
	v.Index = i
	if i < len(b.fn.Params) {
		v.Local = b.fn.Params[i]
	}
	id := b.add(v)
	b.args[i] = id
	return id
}

// Emit appends op applied to args.
func (b *Builder) Emit(op Op, args ...ValueID) ValueID {
	if want := op.Info().Arity; len(args) != want {
		errors.ICE("%s takes %d operands, got %d", op, want, len(args))
	}
	return b.add(b.fn.NewValue(op, b.blockID(), args...))
}

func (b *Builder) blockID() BlockID {
	if b.cur == nil {
		return NoBlock
	}
	return b.cur.ID
}

// SlotAddress emits the computation of the word address described by d,
// following the usual layout rules for mappings, arrays and struct fields.
func (b *Builder) SlotAddress(d *SlotDescriptor) ValueID {
	var addr ValueID
	if d.IsDynamic() {
		addr = d.BaseValue
	} else {
		addr = b.Const(d.Base)
	}
	for _, seg := range d.Path {
		switch seg.Kind {
		case SegMapKey:
			addr = b.Emit(OpKeccak, seg.Key, addr)
		case SegIndex:
			addr = b.Emit(OpAdd, b.Emit(OpKeccakWord, addr), seg.Key)
		case SegField:
			addr = b.Emit(OpAdd, addr, b.ConstUint64(seg.Field))
		}
	}
	return addr
}

// Load reads the storage location described by d.
func (b *Builder) Load(d *SlotDescriptor) ValueID {
	id := b.Emit(OpSLoad, b.SlotAddress(d))
	b.fn.Value(id).Slot = d.Clone()
	return id
}

// Store writes v to the storage location described by d.
func (b *Builder) Store(d *SlotDescriptor, v ValueID) ValueID {
	id := b.Emit(OpSStore, b.SlotAddress(d), v)
	b.fn.Value(id).Slot = d.Clone()
	return id
}

// Assign binds name to v in the current block.
func (b *Builder) Assign(name string, v ValueID) ValueID {
	val := b.fn.Value(v)
	if val.Local == "" {
		val.Local = name
	}
	b.locals[name] = v
	return v
}

// ReadLocal resolves name to its latest binding, falling back to the
// function arguments.
func (b *Builder) ReadLocal(name string) (ValueID, bool) {
	if id, ok := b.locals[name]; ok {
		return id, true
	}
	for i, p := range b.fn.Params {
		if p == name {
			return b.Arg(i), true
		}
	}
	return NoValue, false
}

// AssignOp implements compound assignment: name = op(name, rhs).
func (b *Builder) AssignOp(name string, op Op, rhs ValueID) (ValueID, bool) {
	cur, ok := b.ReadLocal(name)
	if !ok {
		return NoValue, false
	}
	return b.Assign(name, b.Emit(op, cur, rhs)), true
}

// Increment adds delta (+1 or -1) to name with wrapping arithmetic. Post
// increments return the value before the update, pre increments the value after.
func (b *Builder) Increment(name string, delta int, post bool) (ValueID, bool) {
	cur, ok := b.ReadLocal(name)
	if !ok {
		return NoValue, false
	}
	op := OpAdd
	if delta < 0 {
		op = OpSub
	}
	next := b.Assign(name, b.Emit(op, cur, b.ConstUint64(1)))
	if post {
		return cur, true
	}
	return next, true
}

// Locals lists the names visible in the current block.
func (b *Builder) Locals() []string {
	names := make([]string, 0, len(b.locals)+len(b.fn.Params))
	for name := range b.locals {
		names = append(names, name)
	}
	names = append(names, b.fn.Params...)
	sort.Strings(names)
	return names
}

func (b *Builder) terminate(t *Terminator) {
	if b.cur == nil {
		errors.ICE("terminator outside a block in %s", b.fn.Name)
	}
	if b.cur.Term != nil {
		errors.ICE("block %s already terminated", b.cur.Name)
	}
	t.Pos = b.pos
	b.cur.Term = t
}

func (b *Builder) Jump(target *Block, args ...ValueID) {
	b.terminate(&Terminator{Kind: TermJump, Cond: NoValue, Edges: []Edge{{Target: target.ID, Args: args}}})
}

// Branch transfers to then when cond is non-zero and to els otherwise.
func (b *Builder) Branch(cond ValueID, then *Block, thenArgs []ValueID, els *Block, elseArgs []ValueID) {
	b.terminate(&Terminator{
		Kind: TermBranch,
		Cond: cond,
		Edges: []Edge{
			{Target: then.ID, Args: thenArgs},
			{Target: els.ID, Args: elseArgs},
		},
	})
}

func (b *Builder) Return(values ...ValueID) {
	b.terminate(&Terminator{Kind: TermReturn, Cond: NoValue, Values: values})
}

func (b *Builder) Revert() {
	b.terminate(&Terminator{Kind: TermRevert, Cond: NoValue})
}

func (b *Builder) Stop() {
	b.terminate(&Terminator{Kind: TermStop, Cond: NoValue})
}
