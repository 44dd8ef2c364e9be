package irtext

import (
	stderrors "errors"

	"github.com/alecthomas/participle/v2"
	"github.com/alecthomas/participle/v2/lexer"

	"github.com/stackgen-lang/stackgen/internal/ast"
	cerrors "github.com/stackgen-lang/stackgen/internal/errors"
	"github.com/stackgen-lang/stackgen/internal/ir"
)

var parser = participle.MustBuild[File](
	participle.Lexer(Lexer),
	participle.Elide("Whitespace"),
	participle.UseLookahead(3),
)

// Parse parses source without lowering it.
func Parse(filename, source string) (*File, error) {
	return parser.ParseString(filename, source)
}

// Load parses and lowers source. A syntax error is reported as a single
// E0001 diagnostic and yields no program.
func Load(filename, source string) (*ir.Program, []cerrors.CompilerError) {
	f, err := Parse(filename, source)
	if err != nil {
		return nil, []cerrors.CompilerError{SyntaxDiagnostic(filename, err)}
	}
	return Lower(f)
}

// SyntaxDiagnostic converts a parser error into a diagnostic.
func SyntaxDiagnostic(filename string, err error) cerrors.CompilerError {
	var pe participle.Error
	if stderrors.As(err, &pe) {
		return cerrors.Syntax(pe.Message(), position(pe.Position()))
	}
	return cerrors.Syntax(err.Error(), ast.Position{Filename: filename})
}

// HasErrors reports whether diags holds anything worse than a warning.
func HasErrors(diags []cerrors.CompilerError) bool {
	for _, d := range diags {
		if d.Level == cerrors.Error {
			return true
		}
	}
	return false
}

func position(p lexer.Position) ast.Position {
	return ast.Position{Filename: p.Filename, Offset: p.Offset, Line: p.Line, Column: p.Column}
}
