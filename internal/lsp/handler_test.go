package lsp_test

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tliron/glsp"
	protocol "github.com/tliron/glsp/protocol_3_16"

	"github.com/stackgen-lang/stackgen/internal/codegen"
	cerrors "github.com/stackgen-lang/stackgen/internal/errors"
	"github.com/stackgen-lang/stackgen/internal/lsp"
)

const uri = "file:///work/counter.sir"

const counter = `program counter

storage count 0

fn bump() returns 1 {
    block entry:
        v = sload(@count)
        v = cadd(v, 1)
        sstore(@count, v)
        return v
}
`

func newHandler(t *testing.T) *lsp.Handler {
	t.Helper()
	h, err := lsp.NewHandler(codegen.DefaultConfig())
	require.NoError(t, err)
	return h
}

// recorder captures published diagnostics.
type recorder struct {
	published []*protocol.PublishDiagnosticsParams
}

func (r *recorder) context() *glsp.Context {
	return &glsp.Context{
		Notify: func(method string, params any) {
			if method == protocol.ServerTextDocumentPublishDiagnostics {
				r.published = append(r.published, params.(*protocol.PublishDiagnosticsParams))
			}
		},
	}
}

func open(t *testing.T, h *lsp.Handler, ctx *glsp.Context, text string) {
	t.Helper()
	err := h.TextDocumentDidOpen(ctx, &protocol.DidOpenTextDocumentParams{
		TextDocument: protocol.TextDocumentItem{URI: uri, LanguageID: "sir", Version: 1, Text: text},
	})
	require.NoError(t, err)
}

// deepProgram keeps n loaded values live before storing them back.
func deepProgram(n int) string {
	var sb strings.Builder
	sb.WriteString("fn deep() {\n    block entry:\n")
	for i := 0; i < n; i++ {
		fmt.Fprintf(&sb, "        v%d = sload(%d)\n", i, i)
	}
	for i := 0; i < n; i++ {
		fmt.Fprintf(&sb, "        sstore(%d, v%d)\n", 100+i, i)
	}
	sb.WriteString("        stop\n}\n")
	return sb.String()
}

func TestOpenPublishesNothingForValidCode(t *testing.T) {
	h := newHandler(t)
	rec := &recorder{}
	open(t, h, rec.context(), counter)

	require.Len(t, rec.published, 1)
	assert.Equal(t, uri, rec.published[0].URI)
	assert.NotNil(t, rec.published[0].Diagnostics)
	assert.Empty(t, rec.published[0].Diagnostics)
}

func TestChangePublishesLoweringErrors(t *testing.T) {
	h := newHandler(t)
	rec := &recorder{}
	open(t, h, rec.context(), counter)

	broken := strings.Replace(counter, "cadd(v, 1)", "cadd(w, 1)", 1)
	err := h.TextDocumentDidChange(rec.context(), &protocol.DidChangeTextDocumentParams{
		TextDocument:   protocol.VersionedTextDocumentIdentifier{TextDocumentIdentifier: protocol.TextDocumentIdentifier{URI: uri}, Version: 2},
		ContentChanges: []any{protocol.TextDocumentContentChangeEventWhole{Text: broken}},
	})
	require.NoError(t, err)

	require.Len(t, rec.published, 2)
	diags := rec.published[1].Diagnostics
	require.Len(t, diags, 1)
	d := diags[0]
	assert.Equal(t, cerrors.ErrorUndefinedLocal, d.Code.Value)
	assert.Equal(t, protocol.DiagnosticSeverityError, *d.Severity)
	assert.Equal(t, protocol.Position{Line: 7, Character: 17}, d.Range.Start)
	assert.Equal(t, protocol.Position{Line: 7, Character: 18}, d.Range.End)
	assert.Contains(t, d.Message, "'w' is not defined in block 'entry'")
}

func TestStackDepthDiagnostic(t *testing.T) {
	h := newHandler(t)
	diags := h.Diagnose(uri, deepProgram(17))
	require.Len(t, diags, 1)
	assert.Equal(t, cerrors.ErrorStackDepthExceeded, diags[0].Code.Value)
	assert.Contains(t, diags[0].Message, "stack too deep")
	// The construct that fails is the first store, which needs v0.
	assert.Equal(t, uint32(2), diags[0].Range.Start.Line)

	assert.Empty(t, h.Diagnose(uri, deepProgram(16)))
}

func TestSyntaxDiagnostic(t *testing.T) {
	h := newHandler(t)
	diags := h.Diagnose(uri, "fn f( {\n")
	require.Len(t, diags, 1)
	assert.Equal(t, cerrors.ErrorSyntax, diags[0].Code.Value)
	assert.Equal(t, "stackgen", *diags[0].Source)
}

func TestDiagnoseIsCached(t *testing.T) {
	h := newHandler(t)
	a := h.Diagnose(uri, deepProgram(17))
	b := h.Diagnose(uri, deepProgram(17))
	require.Len(t, a, 1)
	assert.Same(t, &a[0], &b[0])
}

func TestFormatting(t *testing.T) {
	h := newHandler(t)
	messy := "storage count 0\nfn bump() returns 1 { block entry: v = sload(@count) return v }\n"
	open(t, h, nil, messy)

	edits, err := h.TextDocumentFormatting(nil, &protocol.DocumentFormattingParams{
		TextDocument: protocol.TextDocumentIdentifier{URI: uri},
	})
	require.NoError(t, err)
	require.Len(t, edits, 1)
	assert.Equal(t, protocol.Position{Line: 2, Character: 0}, edits[0].Range.End)
	assert.Equal(t, "storage count 0\n\nfn bump() returns 1 {\n    block entry:\n        v = sload(@count)\n        return v\n}\n", edits[0].NewText)

	_, err = h.TextDocumentFormatting(nil, &protocol.DocumentFormattingParams{
		TextDocument: protocol.TextDocumentIdentifier{URI: "file:///closed.sir"},
	})
	assert.Error(t, err)
}

func TestSemanticTokens(t *testing.T) {
	h := newHandler(t)
	open(t, h, nil, counter)

	tokens, err := h.TextDocumentSemanticTokensFull(nil, &protocol.SemanticTokensParams{
		TextDocument: protocol.TextDocumentIdentifier{URI: uri},
	})
	require.NoError(t, err)
	decoded := decode(tokens.Data)
	require.NotEmpty(t, decoded)

	assertToken(t, decoded[0], 0, 0, 7, "keyword", 0)
	assertToken(t, decoded[1], 0, 8, 7, "namespace", 1)
	assertToken(t, decoded[2], 2, 0, 7, "keyword", 0)
	assertToken(t, decoded[3], 2, 8, 5, "property", 1)
	assertToken(t, decoded[4], 2, 14, 1, "number", 0)
	assertToken(t, decoded[5], 4, 0, 2, "keyword", 0)
	assertToken(t, decoded[6], 4, 3, 4, "function", 1)

	var sload, count *token
	for i := range decoded {
		tok := &decoded[i]
		if tok.line == 6 && tok.start == 12 {
			sload = tok
		}
		if tok.line == 6 && tok.start == 19 {
			count = tok
		}
	}
	require.NotNil(t, sload)
	require.NotNil(t, count)
	assert.Equal(t, "function", sload.kind)
	assert.Equal(t, "property", count.kind)
}

type token struct {
	line, start, length uint32
	kind                string
	mods                uint32
}

func decode(data []uint32) []token {
	var out []token
	var line, start uint32
	for i := 0; i+4 < len(data); i += 5 {
		if data[i] > 0 {
			start = 0
		}
		line += data[i]
		start += data[i+1]
		out = append(out, token{line: line, start: start, length: data[i+2], kind: lsp.SemanticTokenTypes[data[i+3]], mods: data[i+4]})
	}
	return out
}

func assertToken(t *testing.T, tok token, line, start, length uint32, kind string, mods uint32) {
	t.Helper()
	assert.Equal(t, line, tok.line, "line")
	assert.Equal(t, start, tok.start, "start")
	assert.Equal(t, length, tok.length, "length")
	assert.Equal(t, kind, tok.kind, "kind")
	assert.Equal(t, mods, tok.mods, "modifiers")
}
