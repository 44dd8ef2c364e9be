package lsp

import (
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/lru"
	"github.com/ethereum/go-ethereum/crypto"
	protocol "github.com/tliron/glsp/protocol_3_16"

	cerrors "github.com/stackgen-lang/stackgen/internal/errors"
	"github.com/stackgen-lang/stackgen/internal/irtext"
)

const source = "stackgen"

// resultCache remembers the diagnostics of document versions already seen,
// keyed by the hash of URI and text. Editors resend unchanged text on save.
type resultCache struct {
	cache *lru.Cache[common.Hash, []protocol.Diagnostic]
}

func newResultCache(size int) *resultCache {
	return &resultCache{cache: lru.NewCache[common.Hash, []protocol.Diagnostic](size)}
}

func (c *resultCache) key(uri, text string) common.Hash {
	return crypto.Keccak256Hash([]byte(uri), []byte{0}, []byte(text))
}

// Diagnose parses, lowers and compiles text and returns everything found.
// Each function is compiled on its own so that one stack-depth failure does
// not hide the others. The result is never nil: an empty slice clears the
// editor's markers.
func (h *Handler) Diagnose(uri, text string) []protocol.Diagnostic {
	key := h.results.key(uri, text)
	if d, ok := h.results.cache.Get(key); ok {
		return d
	}

	diagnostics := []protocol.Diagnostic{}
	prog, diags := irtext.Load(uri, text)
	if !irtext.HasErrors(diags) {
		for _, fn := range prog.Functions {
			_, err := h.compiler.CompileFunction(fn)
			if err == nil {
				continue
			}
			if ce, ok := cerrors.AsCompilerError(err); ok {
				diags = append(diags, ce)
				continue
			}
			h.log.Errorf("%s: %s", fn.Name, err)
			diags = append(diags, cerrors.NewDiagnostic("", err.Error(), fn.Pos).Build())
		}
	}
	for _, d := range diags {
		diagnostics = append(diagnostics, ToDiagnostic(d))
	}
	h.results.cache.Add(key, diagnostics)
	return diagnostics
}

// ToDiagnostic converts a compiler diagnostic to its LSP form. Notes and
// help text follow the message on separate lines.
func ToDiagnostic(d cerrors.CompilerError) protocol.Diagnostic {
	line, col := 0, 0
	if d.Position.IsValid() {
		line, col = d.Position.Line-1, d.Position.Column-1
	}
	length := d.Length
	if length < 1 {
		length = 1
	}

	msg := []string{d.Message}
	msg = append(msg, d.Notes...)
	for _, s := range d.Suggestions {
		msg = append(msg, s.Message)
	}
	if d.HelpText != "" {
		msg = append(msg, "help: "+d.HelpText)
	}

	diag := protocol.Diagnostic{
		Range: protocol.Range{
			Start: protocol.Position{Line: uint32(line), Character: uint32(col)},
			End:   protocol.Position{Line: uint32(line), Character: uint32(col + length)},
		},
		Severity: ptrSeverity(severity(d.Level)),
		Source:   ptrString(source),
		Message:  strings.Join(msg, "\n"),
	}
	if d.Code != "" {
		diag.Code = &protocol.IntegerOrString{Value: d.Code}
	}
	return diag
}

func severity(level cerrors.ErrorLevel) protocol.DiagnosticSeverity {
	switch level {
	case cerrors.Warning:
		return protocol.DiagnosticSeverityWarning
	case cerrors.Note, cerrors.Help:
		return protocol.DiagnosticSeverityInformation
	}
	return protocol.DiagnosticSeverityError
}

func ptrSeverity(s protocol.DiagnosticSeverity) *protocol.DiagnosticSeverity {
	return &s
}

func ptrString(s string) *string {
	return &s
}
