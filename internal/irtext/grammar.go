// Package irtext is the textual form of the IR: a participle grammar for
// .sir files, a formatter and the lowering into ir.Builder.
//
//	program token
//	storage balances 1 map
//
//	fn transfer(to, amount) returns 1 {
//	    block entry:
//	        from = caller()
//	        fb = sload(@balances[from])
//	        nb = csub(fb, amount)
//	        sstore(@balances[from], nb)
//	        return nb
//	}
package irtext

import (
	"github.com/alecthomas/participle/v2/lexer"
)

type File struct {
	Pos   lexer.Position
	Items []*Item `@@*`
}

type Item struct {
	Comment  *Comment     `  @@`
	Program  *ProgramDecl `| @@`
	Storage  *StorageDecl `| @@`
	Function *Function    `| @@`
}

type Comment struct {
	Pos  lexer.Position
	Text string `@Comment`
}

type ProgramDecl struct {
	Pos  lexer.Position
	Name string `"program" @Ident`
}

// StorageDecl declares one entry of the storage layout:
//
//	storage count 0
//	storage balances 1 map
//	storage flags 2 bits 8 16
type StorageDecl struct {
	Pos  lexer.Position
	Name string `"storage" @Ident`
	Slot string `@Integer`
	Kind string `[ @("map" | "array") ]`
	Bits *Bits  `[ @@ ]`
}

type Bits struct {
	Offset string `"bits" @Integer`
	Width  string `@Integer`
}

type Function struct {
	Pos     lexer.Position
	Name    string      `"fn" @Ident "("`
	Params  []string    `[ @Ident { "," @Ident } ] ")"`
	Returns string      `[ "returns" @Integer ]`
	Body    []*BodyItem `"{" @@* "}"`
}

type BodyItem struct {
	Comment *Comment `  @@`
	Block   *Block   `| @@`
}

type Block struct {
	Pos        lexer.Position
	Name       string       `"block" @Ident`
	Params     []string     `[ "(" [ @Ident { "," @Ident } ] ")" ] ":"`
	Statements []*Statement `@@*`
	Term       *Terminator  `@@`
}

type Statement struct {
	Pos      lexer.Position
	Comment  *Comment  `  @@`
	Assign   *Assign   `| @@`
	Compound *Compound `| @@`
	Pre      *PreStep  `| @@`
	Step     *PostStep `| @@`
	Call     *OpCall   `| @@`
}

type Assign struct {
	Target string `@Ident "="`
	Value  *Rhs   `@@`
}

// Compound is name op= operand.
type Compound struct {
	Target string   `@Ident`
	Op     string   `@("+=" | "-=" | "*=" | "&=" | "|=" | "^=")`
	Value  *Operand `@@`
}

type PostStep struct {
	Pos  lexer.Position
	Name string `@Ident`
	Op   string `@("++" | "--")`
}

type PreStep struct {
	Pos  lexer.Position
	Op   string `@("++" | "--")`
	Name string `@Ident`
}

type Rhs struct {
	Pre   *PreStep  `  @@`
	Post  *PostStep `| @@`
	Call  *OpCall   `| @@`
	Value *Operand  `| @@`
}

type OpCall struct {
	Pos  lexer.Position
	Name string     `@Ident "("`
	Args []*Operand `[ @@ { "," @@ } ] ")"`
}

type Operand struct {
	Pos    lexer.Position
	Number *string  `  @Integer`
	Name   *string  `| @Ident`
	Slot   *SlotRef `| @@`
}

// SlotRef names a storage location: @var, then map keys or array indexes
// in brackets and struct field offsets after a dot.
type SlotRef struct {
	Pos  lexer.Position
	Name string         `"@" @Ident`
	Path []*SlotSegment `@@*`
}

type SlotSegment struct {
	Pos   lexer.Position
	Key   *Operand `  "[" @@ "]"`
	Field *string  `| "." @Integer`
}

type Terminator struct {
	Pos    lexer.Position
	Jump   *Edge   `  "jump" @@`
	Branch *Branch `| "br" @@`
	Return *Return `| @@`
	Revert bool    `| @"revert"`
	Stop   bool    `| @"stop"`
}

type Return struct {
	Keyword string     `@"return"`
	Values  []*Operand `[ @@ { "," @@ } ]`
}

type Edge struct {
	Pos    lexer.Position
	Target string     `@Ident`
	Args   []*Operand `[ "(" [ @@ { "," @@ } ] ")" ]`
}

type Branch struct {
	Cond *Operand `@@ ","`
	Then *Edge    `@@ ","`
	Else *Edge    `@@`
}
