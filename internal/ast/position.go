package ast

import "fmt"

// Position is a location in an IR source file. Line and Column are 1-based;
// the zero Position means "no source location".
type Position struct {
	Filename string
	Offset   int
	Line     int
	Column   int
}

func (p Position) IsValid() bool {
	return p.Line > 0
}

func (p Position) String() string {
	if !p.IsValid() {
		return "-"
	}
	if p.Filename == "" {
		return fmt.Sprintf("%d:%d", p.Line, p.Column)
	}
	return fmt.Sprintf("%s:%d:%d", p.Filename, p.Line, p.Column)
}

// Before orders positions within the same file.
func (p Position) Before(other Position) bool {
	if p.Line != other.Line {
		return p.Line < other.Line
	}
	return p.Column < other.Column
}

// SourceRange spans from Start up to, but not including, End.
type SourceRange struct {
	Start Position
	End   Position
}

func (sr SourceRange) Contains(pos Position) bool {
	if pos.Before(sr.Start) {
		return false
	}
	return pos.Before(sr.End)
}
