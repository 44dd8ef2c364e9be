package irtext

import (
	"fmt"
	"math/big"
	"sort"
	"strconv"
	"strings"

	"github.com/holiman/uint256"
	"github.com/tliron/commonlog"

	"github.com/stackgen-lang/stackgen/internal/ast"
	cerrors "github.com/stackgen-lang/stackgen/internal/errors"
	"github.com/stackgen-lang/stackgen/internal/ir"
)

var log = commonlog.GetLogger("stackgen.irtext")

var compoundOps = map[string]ir.Op{
	"+=": ir.OpAdd,
	"-=": ir.OpSub,
	"*=": ir.OpMul,
	"&=": ir.OpAnd,
	"|=": ir.OpOr,
	"^=": ir.OpXor,
}

type lowerer struct {
	layout *ir.Layout
	diags  []cerrors.CompilerError
}

// Lower builds the IR program described by f. Lowering continues past
// errors so that one pass reports as much as possible; the program is only
// meaningful when the diagnostics hold no errors.
func Lower(f *File) (*ir.Program, []cerrors.CompilerError) {
	l := &lowerer{layout: &ir.Layout{}}
	prog := &ir.Program{Name: "program", Layout: l.layout}
	seen := make(map[string]bool)
	for _, item := range f.Items {
		switch {
		case item.Program != nil:
			prog.Name = item.Program.Name
		case item.Storage != nil:
			l.storage(item.Storage)
		case item.Function != nil:
			fn := item.Function
			if seen[fn.Name] {
				l.report(cerrors.DuplicateDeclaration("function", fn.Name, position(fn.Pos)))
				continue
			}
			seen[fn.Name] = true
			prog.Functions = append(prog.Functions, l.function(fn))
		}
	}
	log.Debugf("%s: lowered %d functions, %d diagnostics", prog.Name, len(prog.Functions), len(l.diags))
	return prog, l.diags
}

func (l *lowerer) report(d cerrors.CompilerError) {
	l.diags = append(l.diags, d)
}

func (l *lowerer) storage(d *StorageDecl) {
	pos := position(d.Pos)
	if l.layout.Lookup(d.Name) != nil {
		l.report(cerrors.DuplicateDeclaration("storage variable", d.Name, pos))
		return
	}
	slot, err := strconv.ParseUint(d.Slot, 0, 64)
	if err != nil {
		l.report(cerrors.InvalidStorage(fmt.Sprintf("slot %s of '%s' is out of range", d.Slot, d.Name), pos))
		return
	}
	v := &ir.StorageVar{Name: d.Name, Slot: slot, Pos: pos}
	switch d.Kind {
	case "map":
		v.Kind = ir.VarMapping
	case "array":
		v.Kind = ir.VarArray
	}
	if d.Bits != nil {
		off, err1 := strconv.ParseUint(d.Bits.Offset, 0, 16)
		width, err2 := strconv.ParseUint(d.Bits.Width, 0, 16)
		if err1 != nil || err2 != nil || width == 0 || off+width > 256 {
			l.report(cerrors.InvalidStorage(
				fmt.Sprintf("bits %s %s of '%s' do not fit in one 256-bit word", d.Bits.Offset, d.Bits.Width, d.Name), pos))
			return
		}
		v.Packed = &ir.BitRange{Offset: uint(off), Width: uint(width)}
	}
	l.layout.Vars = append(l.layout.Vars, v)
}

// funcLowerer holds the state of one function.
type funcLowerer struct {
	*lowerer
	b       *ir.Builder
	returns int
	blocks  map[string]*ir.Block
	block   string
}

func (l *lowerer) function(fn *Function) *ir.Function {
	returns := 0
	if fn.Returns != "" {
		n, err := strconv.Atoi(fn.Returns)
		if err != nil {
			l.report(cerrors.LiteralOverflow(fn.Returns, position(fn.Pos)))
		}
		returns = n
	}
	params := make(map[string]bool)
	for _, p := range fn.Params {
		if params[p] {
			l.report(cerrors.DuplicateDeclaration("parameter", p, position(fn.Pos)))
		}
		params[p] = true
	}

	fl := &funcLowerer{
		lowerer: l,
		b:       ir.NewBuilder(fn.Name, fn.Params, returns),
		returns: returns,
		blocks:  make(map[string]*ir.Block),
	}
	fl.b.SetPos(position(fn.Pos))

	var body []*Block
	headers := make(map[ir.BlockID]ast.Position)
	for _, item := range fn.Body {
		blk := item.Block
		if blk == nil {
			continue
		}
		pos := position(blk.Pos)
		if _, dup := fl.blocks[blk.Name]; dup {
			l.report(cerrors.DuplicateDeclaration("block", blk.Name, pos))
			continue
		}
		fl.b.SetPos(pos)
		irb := fl.b.NewBlock(blk.Name, blk.Params...)
		fl.blocks[blk.Name] = irb
		headers[irb.ID] = pos
		body = append(body, blk)
	}
	for _, blk := range body {
		fl.lowerBlock(blk)
	}

	out := fl.b.Function()
	reached := make(map[ir.BlockID]bool)
	for _, blk := range ir.Reachable(out) {
		reached[blk.ID] = true
	}
	for _, blk := range out.Blocks {
		if !reached[blk.ID] {
			l.report(cerrors.UnreachableBlock(blk.Name, headers[blk.ID]))
		}
	}
	l.diags = append(l.diags, ir.Verify(out)...)
	return out
}

func (fl *funcLowerer) lowerBlock(blk *Block) {
	fl.block = blk.Name
	fl.b.SetBlock(fl.blocks[blk.Name])
	for _, st := range blk.Statements {
		fl.statement(st)
	}
	fl.terminator(blk.Term)
}

func (fl *funcLowerer) statement(st *Statement) {
	fl.b.SetPos(position(st.Pos))
	switch {
	case st.Assign != nil:
		v, ok := fl.rhs(st.Assign.Value)
		if !ok {
			// Bind a placeholder so later reads do not cascade.
			v = fl.b.ConstUint64(0)
		}
		fl.b.Assign(st.Assign.Target, v)
	case st.Compound != nil:
		c := st.Compound
		rhs, ok := fl.operand(c.Value)
		if !ok {
			return
		}
		if _, ok := fl.b.AssignOp(c.Target, compoundOps[c.Op], rhs); !ok {
			fl.undefined(c.Target, position(st.Pos))
		}
	case st.Pre != nil:
		fl.step(st.Pre.Name, st.Pre.Op, false, position(st.Pre.Pos))
	case st.Step != nil:
		fl.step(st.Step.Name, st.Step.Op, true, position(st.Pos))
	case st.Call != nil:
		fl.call(st.Call, false)
	}
}

func (fl *funcLowerer) rhs(r *Rhs) (ir.ValueID, bool) {
	switch {
	case r.Pre != nil:
		return fl.step(r.Pre.Name, r.Pre.Op, false, position(r.Pre.Pos))
	case r.Post != nil:
		return fl.step(r.Post.Name, r.Post.Op, true, position(r.Post.Pos))
	case r.Call != nil:
		return fl.call(r.Call, true)
	default:
		return fl.operand(r.Value)
	}
}

func (fl *funcLowerer) step(name, op string, post bool, pos ast.Position) (ir.ValueID, bool) {
	delta := 1
	if op == "--" {
		delta = -1
	}
	v, ok := fl.b.Increment(name, delta, post)
	if !ok {
		fl.undefined(name, pos)
	}
	return v, ok
}

func (fl *funcLowerer) undefined(name string, pos ast.Position) {
	fl.report(cerrors.UndefinedLocal(name, fl.block, pos, fl.b.Locals()))
}

// callable lists the mnemonics that may appear in a call.
func callable() []string {
	var names []string
	for _, name := range ir.OpNames() {
		if op, _ := ir.LookupOp(name); isCallable(op) {
			names = append(names, name)
		}
	}
	return names
}

func isCallable(op ir.Op) bool {
	switch op {
	case ir.OpConst, ir.OpArg, ir.OpParam:
		return false
	}
	return true
}

func (fl *funcLowerer) call(c *OpCall, wantResult bool) (ir.ValueID, bool) {
	pos := position(c.Pos)
	op, ok := ir.LookupOp(c.Name)
	if !ok || !isCallable(op) {
		fl.report(cerrors.UnknownOp(c.Name, pos, callable()))
		return ir.NoValue, false
	}
	info := op.Info()
	if len(c.Args) != info.Arity {
		fl.report(cerrors.ArityMismatch(c.Name, info.Arity, len(c.Args), pos))
		return ir.NoValue, false
	}
	if wantResult && info.Results == 0 {
		fl.report(cerrors.NoResult(c.Name, pos))
		return ir.NoValue, false
	}

	switch op {
	case ir.OpSLoad:
		d, ok := fl.slot(c.Args[0])
		if !ok {
			return ir.NoValue, false
		}
		return fl.b.Load(d), true
	case ir.OpSStore:
		d, ok := fl.slot(c.Args[0])
		v, vok := fl.operand(c.Args[1])
		if !ok || !vok {
			return ir.NoValue, false
		}
		return fl.b.Store(d, v), true
	}

	args := make([]ir.ValueID, len(c.Args))
	for i, a := range c.Args {
		v, ok := fl.operand(a)
		if !ok {
			return ir.NoValue, false
		}
		args[i] = v
	}
	return fl.b.Emit(op, args...), true
}

func (fl *funcLowerer) operand(o *Operand) (ir.ValueID, bool) {
	pos := position(o.Pos)
	switch {
	case o.Number != nil:
		x, ok := parseWord(*o.Number)
		if !ok {
			fl.report(cerrors.LiteralOverflow(*o.Number, pos))
			return ir.NoValue, false
		}
		return fl.b.Const(x), true
	case o.Name != nil:
		v, ok := fl.b.ReadLocal(*o.Name)
		if !ok {
			fl.undefined(*o.Name, pos)
		}
		return v, ok
	default:
		fl.report(cerrors.InvalidStorage("a storage reference is only valid as the address of sload or sstore", pos))
		return ir.NoValue, false
	}
}

// slot resolves the address operand of sload and sstore. A plain value is
// a dynamically computed slot.
func (fl *funcLowerer) slot(o *Operand) (*ir.SlotDescriptor, bool) {
	if o.Slot == nil {
		v, ok := fl.operand(o)
		if !ok {
			return nil, false
		}
		return ir.DynamicSlot(v), true
	}
	ref := o.Slot
	pos := position(ref.Pos)
	sv := fl.layout.Lookup(ref.Name)
	if sv == nil {
		fl.report(cerrors.UnknownStorage(ref.Name, pos, fl.layout.Names()))
		return nil, false
	}
	d := ir.ConstSlot(sv.Name, sv.Slot)
	for i, seg := range ref.Path {
		if seg.Field != nil {
			n, err := strconv.ParseUint(*seg.Field, 0, 64)
			if err != nil {
				fl.report(cerrors.LiteralOverflow(*seg.Field, position(seg.Pos)))
				return nil, false
			}
			d = d.With(ir.Segment{Kind: ir.SegField, Field: n})
			continue
		}
		kind := ir.SegMapKey
		if i == 0 {
			switch sv.Kind {
			case ir.VarArray:
				kind = ir.SegIndex
			case ir.VarPlain:
				fl.report(cerrors.InvalidStorage(fmt.Sprintf("'%s' is not a mapping or an array", ref.Name), position(seg.Pos)))
				return nil, false
			}
		}
		key, ok := fl.operand(seg.Key)
		if !ok {
			return nil, false
		}
		d = d.With(ir.Segment{Kind: kind, Key: key})
	}
	if sv.Packed != nil {
		r := *sv.Packed
		d.Packed = &r
	}
	return d, true
}

func (fl *funcLowerer) terminator(t *Terminator) {
	fl.b.SetPos(position(t.Pos))
	switch {
	case t.Jump != nil:
		target, args, ok := fl.edge(t.Jump)
		if !ok {
			fl.b.Revert()
			return
		}
		fl.b.Jump(target, args...)
	case t.Branch != nil:
		cond, cok := fl.operand(t.Branch.Cond)
		then, thenArgs, tok := fl.edge(t.Branch.Then)
		els, elseArgs, eok := fl.edge(t.Branch.Else)
		if !cok || !tok || !eok {
			fl.b.Revert()
			return
		}
		fl.b.Branch(cond, then, thenArgs, els, elseArgs)
	case t.Return != nil:
		values := make([]ir.ValueID, 0, len(t.Return.Values))
		for _, o := range t.Return.Values {
			v, ok := fl.operand(o)
			if !ok {
				fl.b.Revert()
				return
			}
			values = append(values, v)
		}
		if len(values) != fl.returns {
			fl.report(cerrors.ArityMismatch("return", fl.returns, len(values), position(t.Pos)))
			fl.b.Revert()
			return
		}
		fl.b.Return(values...)
	case t.Revert:
		fl.b.Revert()
	default:
		fl.b.Stop()
	}
}

func (fl *funcLowerer) edge(e *Edge) (*ir.Block, []ir.ValueID, bool) {
	target, ok := fl.blocks[e.Target]
	if !ok {
		names := make([]string, 0, len(fl.blocks))
		for name := range fl.blocks {
			names = append(names, name)
		}
		sort.Strings(names)
		fl.report(cerrors.UndefinedBlock(e.Target, position(e.Pos), names))
		return nil, nil, false
	}
	args := make([]ir.ValueID, 0, len(e.Args))
	for _, o := range e.Args {
		v, ok := fl.operand(o)
		if !ok {
			return nil, nil, false
		}
		args = append(args, v)
	}
	return target, args, true
}

// parseWord reads a decimal or 0x-prefixed literal.
func parseWord(text string) (*uint256.Int, bool) {
	n := new(big.Int)
	var ok bool
	if rest, hex := strings.CutPrefix(text, "0x"); hex {
		_, ok = n.SetString(rest, 16)
	} else {
		_, ok = n.SetString(text, 10)
	}
	if !ok {
		return nil, false
	}
	x, overflow := uint256.FromBig(n)
	return x, !overflow
}
