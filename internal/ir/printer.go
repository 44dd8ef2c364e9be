package ir

import (
	"fmt"
	"strings"
)

// Printer provides pretty-printing for IR
type Printer struct {
	indent int
	output strings.Builder
}

// NewPrinter creates a new IR printer
func NewPrinter() *Printer {
	return &Printer{indent: 0}
}

// Print returns the string representation of a function. Substituted values
// are omitted and operands are shown after substitution.
func Print(fn *Function) string {
	p := NewPrinter()
	p.printFunction(fn)
	return p.output.String()
}

// PrintProgram returns the string representation of a whole program.
func PrintProgram(program *Program) string {
	p := NewPrinter()
	p.writeLine("program %s", program.Name)
	if program.Layout != nil {
		for _, v := range program.Layout.Vars {
			p.printStorageVar(v)
		}
	}
	for _, fn := range program.Functions {
		p.writeLine("")
		p.printFunction(fn)
	}
	return p.output.String()
}

func (p *Printer) writeIndent() {
	for i := 0; i < p.indent; i++ {
		p.output.WriteString("  ")
	}
}

func (p *Printer) writeLine(format string, args ...interface{}) {
	p.writeIndent()
	p.output.WriteString(fmt.Sprintf(format, args...))
	p.output.WriteString("\n")
}

func (p *Printer) printStorageVar(v *StorageVar) {
	kind := ""
	switch v.Kind {
	case VarMapping:
		kind = " map"
	case VarArray:
		kind = " array"
	}
	packed := ""
	if v.Packed != nil {
		packed = fmt.Sprintf(" bits %d %d", v.Packed.Offset, v.Packed.Width)
	}
	p.writeLine("storage %s %d%s%s", v.Name, v.Slot, kind, packed)
}

func (p *Printer) printFunction(fn *Function) {
	p.writeLine("fn %s(%s) returns %d {", fn.Name, strings.Join(fn.Params, ", "), fn.Returns)
	p.indent++
	for _, blk := range fn.Blocks {
		params := make([]string, len(blk.Params))
		for i, id := range blk.Params {
			params[i] = id.String()
		}
		p.writeLine("%s(%s):", blk.Name, strings.Join(params, ", "))
		p.indent++
		for _, id := range blk.Values {
			if fn.IsReplaced(id) {
				continue
			}
			p.writeLine("%s", FormatValue(fn, fn.Value(id)))
		}
		if blk.Term != nil {
			p.writeLine("%s", FormatTerminator(fn, blk.Term))
		}
		p.indent--
	}
	p.indent--
	p.writeLine("}")
}

// FormatValue renders one instruction.
func FormatValue(fn *Function, v *Value) string {
	var sb strings.Builder
	if v.Op.Info().Results > 0 {
		fmt.Fprintf(&sb, "%s = ", v.ID)
	}
	sb.WriteString(v.Op.String())
	switch v.Op {
	case OpConst:
		sb.WriteString(" " + v.Imm.Dec())
	case OpArg, OpParam:
		fmt.Fprintf(&sb, " %d", v.Index)
	}
	args := fn.Args(v)
	for i, a := range args {
		if i == 0 {
			sb.WriteByte(' ')
		} else {
			sb.WriteString(", ")
		}
		sb.WriteString(a.String())
	}
	if v.Slot != nil {
		sb.WriteString(" " + v.Slot.String())
	}
	if v.Local != "" {
		sb.WriteString(" ; " + v.Local)
	}
	return sb.String()
}

func FormatTerminator(fn *Function, t *Terminator) string {
	join := func(ids []ValueID) string {
		parts := make([]string, len(ids))
		for i, id := range ids {
			parts[i] = fn.Resolve(id).String()
		}
		return strings.Join(parts, ", ")
	}
	edge := func(e Edge) string {
		return fmt.Sprintf("%s(%s)", fn.Block(e.Target).Name, join(e.Args))
	}
	switch t.Kind {
	case TermJump:
		return "jump " + edge(t.Edges[0])
	case TermBranch:
		return fmt.Sprintf("br %s, %s, %s", fn.Resolve(t.Cond), edge(t.Edges[0]), edge(t.Edges[1]))
	case TermReturn:
		if len(t.Values) == 0 {
			return "return"
		}
		return "return " + join(t.Values)
	default:
		return t.Kind.String()
	}
}
