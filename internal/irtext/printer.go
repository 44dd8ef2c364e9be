package irtext

import (
	"fmt"
	"strings"
)

func indent(level int) string {
	return strings.Repeat("    ", level)
}

// Format renders f in canonical layout. Comments are kept; a comment that
// shared a line with code moves onto its own line.
func Format(f *File) string {
	return f.String()
}

func (f *File) String() string {
	var b strings.Builder
	var prev *Item
	for _, item := range f.Items {
		if prev != nil && separate(prev, item) {
			b.WriteString("\n")
		}
		b.WriteString(item.String())
		prev = item
	}
	return b.String()
}

// separate reports whether a blank line goes between two top-level items.
func separate(prev, next *Item) bool {
	switch {
	case prev.Function != nil || next.Function != nil && prev.Comment == nil:
		return true
	case prev.Program != nil:
		return true
	case prev.Storage != nil && next.Comment != nil:
		return true
	}
	return false
}

func (i *Item) String() string {
	switch {
	case i.Comment != nil:
		return i.Comment.String() + "\n"
	case i.Program != nil:
		return fmt.Sprintf("program %s\n", i.Program.Name)
	case i.Storage != nil:
		return i.Storage.String() + "\n"
	case i.Function != nil:
		return i.Function.String()
	}
	return ""
}

func (c *Comment) String() string {
	return c.Text
}

func (d *StorageDecl) String() string {
	s := fmt.Sprintf("storage %s %s", d.Name, d.Slot)
	if d.Kind != "" {
		s += " " + d.Kind
	}
	if d.Bits != nil {
		s += fmt.Sprintf(" bits %s %s", d.Bits.Offset, d.Bits.Width)
	}
	return s
}

func (f *Function) String() string {
	var b strings.Builder
	b.WriteString(fmt.Sprintf("fn %s(%s)", f.Name, strings.Join(f.Params, ", ")))
	if f.Returns != "" && f.Returns != "0" {
		b.WriteString(" returns " + f.Returns)
	}
	b.WriteString(" {\n")
	for _, item := range f.Body {
		if item.Comment != nil {
			b.WriteString(indent(1) + item.Comment.String() + "\n")
			continue
		}
		b.WriteString(item.Block.StringWithIndent(1))
	}
	b.WriteString("}\n")
	return b.String()
}

func (blk *Block) StringWithIndent(level int) string {
	var b strings.Builder
	b.WriteString(indent(level) + "block " + blk.Name)
	if len(blk.Params) > 0 {
		b.WriteString("(" + strings.Join(blk.Params, ", ") + ")")
	}
	b.WriteString(":\n")
	for _, st := range blk.Statements {
		b.WriteString(indent(level+1) + st.String() + "\n")
	}
	b.WriteString(indent(level+1) + blk.Term.String() + "\n")
	return b.String()
}

func (st *Statement) String() string {
	switch {
	case st.Comment != nil:
		return st.Comment.String()
	case st.Assign != nil:
		return st.Assign.Target + " = " + st.Assign.Value.String()
	case st.Compound != nil:
		return fmt.Sprintf("%s %s %s", st.Compound.Target, st.Compound.Op, st.Compound.Value)
	case st.Pre != nil:
		return st.Pre.String()
	case st.Step != nil:
		return st.Step.String()
	case st.Call != nil:
		return st.Call.String()
	}
	return ""
}

func (s *PostStep) String() string {
	return s.Name + s.Op
}

func (s *PreStep) String() string {
	return s.Op + s.Name
}

func (r *Rhs) String() string {
	switch {
	case r.Pre != nil:
		return r.Pre.String()
	case r.Post != nil:
		return r.Post.String()
	case r.Call != nil:
		return r.Call.String()
	case r.Value != nil:
		return r.Value.String()
	}
	return ""
}

func (c *OpCall) String() string {
	return fmt.Sprintf("%s(%s)", c.Name, joinOperands(c.Args))
}

func joinOperands(ops []*Operand) string {
	parts := make([]string, len(ops))
	for i, o := range ops {
		parts[i] = o.String()
	}
	return strings.Join(parts, ", ")
}

func (o *Operand) String() string {
	switch {
	case o.Number != nil:
		return *o.Number
	case o.Name != nil:
		return *o.Name
	case o.Slot != nil:
		return o.Slot.String()
	}
	return ""
}

func (r *SlotRef) String() string {
	var b strings.Builder
	b.WriteString("@" + r.Name)
	for _, seg := range r.Path {
		if seg.Field != nil {
			b.WriteString("." + *seg.Field)
		} else {
			b.WriteString("[" + seg.Key.String() + "]")
		}
	}
	return b.String()
}

func (t *Terminator) String() string {
	switch {
	case t.Jump != nil:
		return "jump " + t.Jump.String()
	case t.Branch != nil:
		return fmt.Sprintf("br %s, %s, %s", t.Branch.Cond, t.Branch.Then, t.Branch.Else)
	case t.Return != nil:
		if len(t.Return.Values) == 0 {
			return "return"
		}
		return "return " + joinOperands(t.Return.Values)
	case t.Revert:
		return "revert"
	default:
		return "stop"
	}
}

func (e *Edge) String() string {
	if len(e.Args) == 0 {
		return e.Target
	}
	return fmt.Sprintf("%s(%s)", e.Target, joinOperands(e.Args))
}
