package errors

import (
	stderrors "errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/fatih/color"

	"github.com/stackgen-lang/stackgen/internal/ast"
)

type ErrorLevel string

const (
	Error   ErrorLevel = "error"
	Warning ErrorLevel = "warning"
	Note    ErrorLevel = "note"
	Help    ErrorLevel = "help"
)

// CompilerError is one diagnostic. It doubles as an error value so the
// scheduler's depth failure can travel through ordinary error returns.
type CompilerError struct {
	Level       ErrorLevel
	Code        string
	Message     string
	Position    ast.Position
	Length      int // columns underlined at Position
	Suggestions []Suggestion
	Notes       []string
	HelpText    string
}

type Suggestion struct {
	Message string
}

func (err CompilerError) Error() string {
	if err.Code == "" {
		return fmt.Sprintf("%s: %s: %s", err.Position, err.Level, err.Message)
	}
	return fmt.Sprintf("%s: %s[%s]: %s", err.Position, err.Level, err.Code, err.Message)
}

// AsCompilerError unwraps err into a CompilerError when it carries one.
func AsCompilerError(err error) (CompilerError, bool) {
	var ce CompilerError
	if stderrors.As(err, &ce) {
		return ce, true
	}
	var pce *CompilerError
	if stderrors.As(err, &pce) && pce != nil {
		return *pce, true
	}
	return CompilerError{}, false
}

type palette struct {
	levels map[ErrorLevel]func(...interface{}) string
	bold   func(...interface{}) string
	dim    func(...interface{}) string
	help   func(...interface{}) string
	note   func(...interface{}) string
}

func newPalette() palette {
	return palette{
		levels: map[ErrorLevel]func(...interface{}) string{
			Error:   color.New(color.FgRed, color.Bold).SprintFunc(),
			Warning: color.New(color.FgYellow, color.Bold).SprintFunc(),
			Note:    color.New(color.FgBlue, color.Bold).SprintFunc(),
			Help:    color.New(color.FgGreen, color.Bold).SprintFunc(),
		},
		bold: color.New(color.Bold).SprintFunc(),
		dim:  color.New(color.Faint).SprintFunc(),
		help: color.New(color.FgCyan).SprintFunc(),
		note: color.New(color.FgBlue).SprintFunc(),
	}
}

func (p palette) level(l ErrorLevel) func(...interface{}) string {
	if f, ok := p.levels[l]; ok {
		return f
	}
	return p.levels[Error]
}

// ErrorReporter renders diagnostics against the source of one IR file.
type ErrorReporter struct {
	filename string
	lines    []string
	colors   palette
}

func NewErrorReporter(filename, source string) *ErrorReporter {
	return &ErrorReporter{
		filename: filename,
		lines:    strings.Split(source, "\n"),
		colors:   newPalette(),
	}
}

// FormatError renders err with the offending line, one line of context on
// each side, and its suggestions, notes and help.
func (er *ErrorReporter) FormatError(err CompilerError) string {
	var b strings.Builder
	c := er.colors

	if err.Code != "" {
		fmt.Fprintf(&b, "%s[%s]: %s\n", c.level(err.Level)(string(err.Level)), err.Code, err.Message)
	} else {
		fmt.Fprintf(&b, "%s: %s\n", c.level(err.Level)(string(err.Level)), err.Message)
	}

	width := er.lineNumberWidth(err.Position.Line)
	gutter := strings.Repeat(" ", width) + " " + c.dim("│")
	if !err.Position.IsValid() {
		fmt.Fprintf(&b, "%s %s %s\n", strings.Repeat(" ", width), c.dim("-->"), er.filename)
	} else {
		fmt.Fprintf(&b, "%s %s %s:%d:%d\n", strings.Repeat(" ", width), c.dim("-->"), er.filename, err.Position.Line, err.Position.Column)
		b.WriteString(gutter + "\n")
		er.writeSource(&b, err, width)
	}

	if len(err.Suggestions) > 0 {
		b.WriteString(gutter + "\n")
		for i, s := range err.Suggestions {
			label := c.help("help: try:")
			if i > 0 {
				label = strings.Repeat(" ", len("help: try:"))
			}
			fmt.Fprintf(&b, "%s %s %s\n", strings.Repeat(" ", width), label, s.Message)
		}
	}
	for _, note := range err.Notes {
		fmt.Fprintf(&b, "%s %s %s\n", gutter, c.note("note:"), note)
	}
	if err.HelpText != "" {
		fmt.Fprintf(&b, "%s %s %s\n", gutter, c.levels[Help]("help:"), err.HelpText)
	}
	b.WriteString("\n")
	return b.String()
}

func (er *ErrorReporter) writeSource(b *strings.Builder, err CompilerError, width int) {
	c := er.colors
	line := err.Position.Line
	number := func(n int, style func(...interface{}) string) string {
		return style(fmt.Sprintf("%*d", width, n))
	}
	if line > 1 && line-2 < len(er.lines) {
		fmt.Fprintf(b, "%s %s %s\n", number(line-1, c.dim), c.dim("│"), er.lines[line-2])
	}
	if line <= len(er.lines) {
		fmt.Fprintf(b, "%s %s %s\n", number(line, c.bold), c.dim("│"), er.lines[line-1])
		fmt.Fprintf(b, "%s %s %s\n", strings.Repeat(" ", width), c.dim("│"), er.createMarker(err.Position.Column, err.Length, err.Level))
	}
	if line < len(er.lines) && strings.TrimSpace(er.lines[line]) != "" {
		fmt.Fprintf(b, "%s %s %s\n", number(line+1, c.dim), c.dim("│"), er.lines[line])
	}
}

// FormatAll renders diags in source order followed by a summary line.
func (er *ErrorReporter) FormatAll(diags []CompilerError) string {
	sorted := make([]CompilerError, len(diags))
	copy(sorted, diags)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Position.Before(sorted[j].Position)
	})
	var b strings.Builder
	for _, d := range sorted {
		b.WriteString(er.FormatError(d))
	}
	if s := Summary(diags); s != "" {
		b.WriteString(er.colors.bold(s) + "\n")
	}
	return b.String()
}

// Summary counts errors and warnings, e.g. "2 errors, 1 warning". It is
// empty when there are neither.
func Summary(diags []CompilerError) string {
	var errs, warns int
	for _, d := range diags {
		switch d.Level {
		case Error:
			errs++
		case Warning:
			warns++
		}
	}
	var parts []string
	if errs > 0 {
		parts = append(parts, plural(errs, "error"))
	}
	if warns > 0 {
		parts = append(parts, plural(warns, "warning"))
	}
	return strings.Join(parts, ", ")
}

func plural(n int, word string) string {
	if n == 1 {
		return "1 " + word
	}
	return strconv.Itoa(n) + " " + word + "s"
}

// createMarker underlines length columns starting at column.
func (er *ErrorReporter) createMarker(column, length int, level ErrorLevel) string {
	return strings.Repeat(" ", max(0, column-1)) + er.colors.level(level)(strings.Repeat("^", max(1, length)))
}

func (er *ErrorReporter) lineNumberWidth(line int) int {
	return max(3, len(strconv.Itoa(line)))
}
