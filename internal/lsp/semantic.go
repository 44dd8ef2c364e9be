package lsp

import (
	"strings"

	"github.com/alecthomas/participle/v2/lexer"

	"github.com/stackgen-lang/stackgen/internal/ir"
	"github.com/stackgen-lang/stackgen/internal/irtext"
)

// SemanticToken represents a single LSP semantic token entry
// Line and StartChar are 0-based positions
// TokenType is an index into SemanticTokenTypes
// TokenModifiers is a bitmask based on SemanticTokenModifiers
type SemanticToken struct {
	Line           uint32
	StartChar      uint32
	Length         uint32
	TokenType      int
	TokenModifiers int
}

const (
	tokNamespace = iota
	tokFunction
	tokVariable
	tokProperty
	tokKeyword
	tokNumber
	tokOperator
	tokComment
)

const modDeclaration = 1

// collectSemanticTokens classifies the lexer's tokens. It works on text
// that does not parse, so highlighting survives while the user types.
// Lexing stops at the first invalid character.
func collectSemanticTokens(filename, text string) []SemanticToken {
	lex, err := irtext.Lexer.Lex(filename, strings.NewReader(text))
	if err != nil {
		return nil
	}
	symbols := lexer.SymbolsByRune(irtext.Lexer)
	var toks []lexer.Token
	for {
		tok, err := lex.Next()
		if err != nil || tok.EOF() {
			break
		}
		if symbols[tok.Type] == "Whitespace" {
			continue
		}
		toks = append(toks, tok)
	}

	var out []SemanticToken
	for i, tok := range toks {
		typ, mods := -1, 0
		switch symbols[tok.Type] {
		case "Comment":
			typ = tokComment
		case "Keyword":
			typ = tokKeyword
		case "Integer":
			typ = tokNumber
		case "Operator":
			typ = tokOperator
		case "Ident":
			typ, mods = classifyIdent(toks, i)
		}
		if typ < 0 {
			continue
		}
		out = append(out, SemanticToken{
			Line:           uint32(tok.Pos.Line - 1),
			StartChar:      uint32(tok.Pos.Column - 1),
			Length:         uint32(len(tok.Value)),
			TokenType:      typ,
			TokenModifiers: mods,
		})
	}
	return out
}

func classifyIdent(toks []lexer.Token, i int) (int, int) {
	prev, next := "", ""
	if i > 0 {
		prev = toks[i-1].Value
	}
	if i+1 < len(toks) {
		next = toks[i+1].Value
	}
	switch prev {
	case "@":
		return tokProperty, 0
	case "storage":
		return tokProperty, modDeclaration
	case "fn":
		return tokFunction, modDeclaration
	case "program":
		return tokNamespace, modDeclaration
	case "block":
		return tokNamespace, modDeclaration
	case "jump":
		return tokNamespace, 0
	}
	if next == "(" {
		if _, ok := ir.LookupOp(toks[i].Value); ok {
			return tokFunction, 0
		}
		// An edge target with arguments.
		return tokNamespace, 0
	}
	return tokVariable, 0
}
