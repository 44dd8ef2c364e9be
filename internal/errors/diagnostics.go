package errors

import (
	"fmt"
	"strings"

	"github.com/stackgen-lang/stackgen/internal/ast"
)

// DiagnosticBuilder provides a fluent interface for creating diagnostics with suggestions
type DiagnosticBuilder struct {
	err CompilerError
}

// NewDiagnostic creates a new error builder
func NewDiagnostic(code, message string, pos ast.Position) *DiagnosticBuilder {
	return &DiagnosticBuilder{
		err: CompilerError{
			Level:    Error,
			Code:     code,
			Message:  message,
			Position: pos,
			Length:   1,
		},
	}
}

// NewWarning creates a new warning builder
func NewWarning(code, message string, pos ast.Position) *DiagnosticBuilder {
	return &DiagnosticBuilder{
		err: CompilerError{
			Level:    Warning,
			Code:     code,
			Message:  message,
			Position: pos,
			Length:   1,
		},
	}
}

// WithLength sets the length of the error span
func (b *DiagnosticBuilder) WithLength(length int) *DiagnosticBuilder {
	b.err.Length = length
	return b
}

// WithSuggestion adds a suggestion to the error
func (b *DiagnosticBuilder) WithSuggestion(message string) *DiagnosticBuilder {
	b.err.Suggestions = append(b.err.Suggestions, Suggestion{Message: message})
	return b
}

// WithNote adds a note to the error
func (b *DiagnosticBuilder) WithNote(note string) *DiagnosticBuilder {
	b.err.Notes = append(b.err.Notes, note)
	return b
}

// WithHelp adds help text to the error
func (b *DiagnosticBuilder) WithHelp(help string) *DiagnosticBuilder {
	b.err.HelpText = help
	return b
}

// Build returns the completed compiler error
func (b *DiagnosticBuilder) Build() CompilerError {
	return b.err
}

// Syntax wraps a parser failure.
func Syntax(message string, pos ast.Position) CompilerError {
	return NewDiagnostic(ErrorSyntax, message, pos).Build()
}

func LiteralOverflow(text string, pos ast.Position) CompilerError {
	return NewDiagnostic(ErrorLiteralOverflow, fmt.Sprintf("integer literal %s does not fit in 256 bits", text), pos).
		WithLength(len(text)).
		Build()
}

func NoResult(op string, pos ast.Position) CompilerError {
	return NewDiagnostic(ErrorNoResult, fmt.Sprintf("'%s' produces no value", op), pos).
		WithLength(len(op)).
		WithHelp(fmt.Sprintf("call '%s' as a statement", op)).
		Build()
}

func UnreachableBlock(block string, pos ast.Position) CompilerError {
	return NewWarning(WarningUnreachableBlock, fmt.Sprintf("block '%s' is never reached", block), pos).
		WithLength(len(block)).
		Build()
}

// UndefinedLocal reports a read of a name with no binding in the current block.
func UndefinedLocal(name, block string, pos ast.Position, candidates []string) CompilerError {
	builder := NewDiagnostic(ErrorUndefinedLocal, fmt.Sprintf("'%s' is not defined in block '%s'", name, block), pos).
		WithLength(len(name))

	similar := findSimilarNames(name, candidates)
	switch len(similar) {
	case 0:
		builder = builder.WithNote("values do not flow between blocks implicitly").
			WithHelp(fmt.Sprintf("pass '%s' as a block parameter", name))
	case 1:
		builder = builder.WithSuggestion(fmt.Sprintf("did you mean '%s'?", similar[0]))
	default:
		builder = builder.WithSuggestion(fmt.Sprintf("did you mean one of: '%s'?", strings.Join(similar, "', '")))
	}
	return builder.Build()
}

// UnknownOp reports an operation mnemonic that has no lowering.
func UnknownOp(name string, pos ast.Position, known []string) CompilerError {
	builder := NewDiagnostic(ErrorUnknownOp, fmt.Sprintf("unknown operation '%s'", name), pos).
		WithLength(len(name))
	if similar := findSimilarNames(name, known); len(similar) > 0 {
		builder = builder.WithSuggestion(fmt.Sprintf("did you mean '%s'?", similar[0]))
	}
	return builder.Build()
}

func ArityMismatch(op string, expected, actual int, pos ast.Position) CompilerError {
	return NewDiagnostic(ErrorArityMismatch,
		fmt.Sprintf("'%s' takes %d operand(s), got %d", op, expected, actual), pos).
		WithLength(len(op)).
		Build()
}

func UnknownStorage(name string, pos ast.Position, declared []string) CompilerError {
	builder := NewDiagnostic(ErrorUnknownStorage, fmt.Sprintf("storage variable '%s' is not declared", name), pos).
		WithLength(len(name) + 1)
	if similar := findSimilarNames(name, declared); len(similar) > 0 {
		builder = builder.WithSuggestion(fmt.Sprintf("did you mean '@%s'?", similar[0]))
	} else {
		builder = builder.WithHelp(fmt.Sprintf("declare it with 'storage %s <slot>'", name))
	}
	return builder.Build()
}

func InvalidStorage(message string, pos ast.Position) CompilerError {
	return NewDiagnostic(ErrorInvalidStorage, message, pos).Build()
}

func UndefinedBlock(name string, pos ast.Position, blocks []string) CompilerError {
	builder := NewDiagnostic(ErrorUndefinedBlock, fmt.Sprintf("block '%s' is not defined", name), pos).
		WithLength(len(name))
	if similar := findSimilarNames(name, blocks); len(similar) > 0 {
		builder = builder.WithSuggestion(fmt.Sprintf("did you mean '%s'?", similar[0]))
	}
	return builder.Build()
}

func DuplicateDeclaration(kind, name string, pos ast.Position) CompilerError {
	return NewDiagnostic(ErrorDuplicateDeclaration, fmt.Sprintf("%s '%s' is declared more than once", kind, name), pos).
		WithLength(len(name)).
		Build()
}

func EdgeArity(block string, expected, actual int, pos ast.Position) CompilerError {
	return NewDiagnostic(ErrorEdgeArity,
		fmt.Sprintf("block '%s' takes %d value(s), edge passes %d", block, expected, actual), pos).
		WithLength(len(block)).
		Build()
}

func MissingTerminator(block string, pos ast.Position) CompilerError {
	return NewDiagnostic(ErrorMissingTerminator, fmt.Sprintf("block '%s' does not end in a terminator", block), pos).
		WithHelp("end the block with return, jump, br, revert or stop").
		Build()
}

// StackDepthExceeded is the scheduler's hard failure: some value needed by
// construct sits below the machine's addressable window.
func StackDepthExceeded(construct string, depth, limit int, pos ast.Position) CompilerError {
	return NewDiagnostic(ErrorStackDepthExceeded,
		fmt.Sprintf("stack too deep: %s needs a value at depth %d, only %d slots are addressable", construct, depth, limit), pos).
		WithNote(fmt.Sprintf("%d values are live at this point", depth)).
		WithHelp("reduce the number of values that stay live across this point, or move some of them to storage or memory").
		Build()
}

func findSimilarNames(target string, candidates []string) []string {
	var similar []string

	for _, candidate := range candidates {
		if candidate == target {
			continue
		}
		if levenshteinDistance(target, candidate) <= 2 && len(candidate) > 2 {
			similar = append(similar, candidate)
		}
	}

	return similar
}

// Simple Levenshtein distance implementation for finding similar names
func levenshteinDistance(a, b string) int {
	if len(a) == 0 {
		return len(b)
	}
	if len(b) == 0 {
		return len(a)
	}

	matrix := make([][]int, len(a)+1)
	for i := range matrix {
		matrix[i] = make([]int, len(b)+1)
	}

	for i := 0; i <= len(a); i++ {
		matrix[i][0] = i
	}
	for j := 0; j <= len(b); j++ {
		matrix[0][j] = j
	}

	for i := 1; i <= len(a); i++ {
		for j := 1; j <= len(b); j++ {
			cost := 0
			if a[i-1] != b[j-1] {
				cost = 1
			}

			matrix[i][j] = min(
				matrix[i-1][j]+1,      // deletion
				matrix[i][j-1]+1,      // insertion
				matrix[i-1][j-1]+cost, // substitution
			)
		}
	}

	return matrix[len(a)][len(b)]
}
