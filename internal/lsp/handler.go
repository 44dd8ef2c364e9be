// Package lsp serves .sir files over the language server protocol: it
// publishes parse and code generation diagnostics, semantic tokens and
// whole-document formatting.
package lsp

import (
	"sync"

	"github.com/pkg/errors"
	"github.com/tliron/commonlog"
	"github.com/tliron/glsp"
	protocol "github.com/tliron/glsp/protocol_3_16"

	"github.com/stackgen-lang/stackgen/internal/codegen"
	"github.com/stackgen-lang/stackgen/internal/irtext"
)

// Define the set of supported semantic token types advertised in the legend
var SemanticTokenTypes = []string{
	"namespace",
	"function",
	"variable",
	"property",
	"keyword",
	"number",
	"operator",
	"comment",
}

var SemanticTokenModifiers = []string{
	"declaration",
}

// Handler implements the LSP server handlers for IR text documents.
type Handler struct {
	mu       sync.RWMutex
	content  map[protocol.DocumentUri]string
	compiler *codegen.Compiler
	results  *resultCache
	log      commonlog.Logger
}

func NewHandler(cfg codegen.Config) (*Handler, error) {
	compiler, err := codegen.NewCompiler(cfg)
	if err != nil {
		return nil, err
	}
	return &Handler{
		content:  make(map[protocol.DocumentUri]string),
		compiler: compiler,
		results:  newResultCache(cfg.CacheSize),
		log:      commonlog.GetLogger("stackgen.lsp"),
	}, nil
}

// Initialize responds to the LSP client's initialize request and advertises the server's capabilities
func (h *Handler) Initialize(ctx *glsp.Context, params *protocol.InitializeParams) (any, error) {
	h.log.Info("initialize")
	return &protocol.InitializeResult{
		Capabilities: protocol.ServerCapabilities{
			TextDocumentSync: &protocol.TextDocumentSyncOptions{
				OpenClose: ptrBool(true),
				Change:    ptrSyncKind(protocol.TextDocumentSyncKindFull),
			},
			DocumentFormattingProvider: ptrBool(true),
			SemanticTokensProvider: &protocol.SemanticTokensOptions{
				Legend: protocol.SemanticTokensLegend{
					TokenTypes:     SemanticTokenTypes,
					TokenModifiers: SemanticTokenModifiers,
				},
				Full: ptrBool(true),
			},
		},
	}, nil
}

func (h *Handler) Initialized(ctx *glsp.Context, params *protocol.InitializedParams) error {
	return nil
}

func (h *Handler) Shutdown(ctx *glsp.Context) error {
	h.log.Info("shutdown")
	return nil
}

func (h *Handler) SetTrace(ctx *glsp.Context, params *protocol.SetTraceParams) error {
	return nil
}

// TextDocumentDidOpen handles file open notifications from the editor
func (h *Handler) TextDocumentDidOpen(ctx *glsp.Context, params *protocol.DidOpenTextDocumentParams) error {
	h.log.Debugf("opened %s", params.TextDocument.URI)
	h.update(ctx, params.TextDocument.URI, params.TextDocument.Text)
	return nil
}

// TextDocumentDidChange handles file change notifications. The server asks
// for full synchronization, so the last whole-document change wins.
func (h *Handler) TextDocumentDidChange(ctx *glsp.Context, params *protocol.DidChangeTextDocumentParams) error {
	h.log.Debugf("changed %s", params.TextDocument.URI)
	text, ok := "", false
	for _, change := range params.ContentChanges {
		switch c := change.(type) {
		case protocol.TextDocumentContentChangeEventWhole:
			text, ok = c.Text, true
		case protocol.TextDocumentContentChangeEvent:
			if c.Range == nil {
				text, ok = c.Text, true
			}
		}
	}
	if !ok {
		return errors.Errorf("no full-document change for %s", params.TextDocument.URI)
	}
	h.update(ctx, params.TextDocument.URI, text)
	return nil
}

func (h *Handler) TextDocumentDidClose(ctx *glsp.Context, params *protocol.DidCloseTextDocumentParams) error {
	h.mu.Lock()
	delete(h.content, params.TextDocument.URI)
	h.mu.Unlock()
	return nil
}

// TextDocumentFormatting replaces the whole document with its canonical form.
// Documents that do not parse are left alone.
func (h *Handler) TextDocumentFormatting(ctx *glsp.Context, params *protocol.DocumentFormattingParams) ([]protocol.TextEdit, error) {
	text, ok := h.text(params.TextDocument.URI)
	if !ok {
		return nil, errors.Errorf("document %s is not open", params.TextDocument.URI)
	}
	f, err := irtext.Parse(params.TextDocument.URI, text)
	if err != nil {
		return nil, nil
	}
	formatted := irtext.Format(f)
	if formatted == text {
		return []protocol.TextEdit{}, nil
	}
	return []protocol.TextEdit{{Range: wholeDocument(text), NewText: formatted}}, nil
}

// TextDocumentSemanticTokensFull handles semantic token requests for the entire document
func (h *Handler) TextDocumentSemanticTokensFull(ctx *glsp.Context, params *protocol.SemanticTokensParams) (*protocol.SemanticTokens, error) {
	text, ok := h.text(params.TextDocument.URI)
	if !ok {
		return nil, errors.Errorf("document %s is not open", params.TextDocument.URI)
	}
	tokens := collectSemanticTokens(params.TextDocument.URI, text)

	var data []uint32
	var prevLine, prevStart uint32
	// Encode tokens into LSP wire format (using delta-line, delta-start compression)
	for _, token := range tokens {
		deltaLine := token.Line - prevLine
		deltaStart := token.StartChar
		if deltaLine == 0 {
			deltaStart = token.StartChar - prevStart
		}
		data = append(data, deltaLine, deltaStart, token.Length, uint32(token.TokenType), uint32(token.TokenModifiers))
		prevLine = token.Line
		prevStart = token.StartChar
	}
	return &protocol.SemanticTokens{Data: data}, nil
}

func (h *Handler) text(uri protocol.DocumentUri) (string, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	text, ok := h.content[uri]
	return text, ok
}

func (h *Handler) update(ctx *glsp.Context, uri protocol.DocumentUri, text string) {
	h.mu.Lock()
	h.content[uri] = text
	h.mu.Unlock()

	diagnostics := h.Diagnose(uri, text)
	if ctx != nil && ctx.Notify != nil {
		ctx.Notify(protocol.ServerTextDocumentPublishDiagnostics, &protocol.PublishDiagnosticsParams{
			URI:         uri,
			Diagnostics: diagnostics,
		})
	}
}

func wholeDocument(text string) protocol.Range {
	line, char := uint32(0), uint32(0)
	for _, r := range text {
		if r == '\n' {
			line++
			char = 0
		} else {
			char++
		}
	}
	return protocol.Range{
		Start: protocol.Position{},
		End:   protocol.Position{Line: line, Character: char},
	}
}

func ptrBool(b bool) *bool {
	return &b
}

func ptrSyncKind(k protocol.TextDocumentSyncKind) *protocol.TextDocumentSyncKind {
	return &k
}
