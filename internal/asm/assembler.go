package asm

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/core/vm"
	"github.com/holiman/uint256"

	"github.com/stackgen-lang/stackgen/internal/ast"
	"github.com/stackgen-lang/stackgen/internal/errors"
)

const (
	initialLabelWidth  = 2
	maxLabelIterations = 10
	// After this many rounds label widths may only grow, which guarantees
	// the iteration terminates.
	monotoneAfter = 5
)

// Bytecode is an assembled stream.
type Bytecode struct {
	Code      []byte
	Labels    map[string]uint64
	SourceMap SourceMap
}

// SourceMapEntry ties the instruction at Offset to a source position.
type SourceMapEntry struct {
	Offset uint64
	Pos    ast.Position
}

// SourceMap is ordered by offset.
type SourceMap []SourceMapEntry

// Lookup returns the source position covering offset.
func (m SourceMap) Lookup(offset uint64) (ast.Position, bool) {
	var found *SourceMapEntry
	for i := range m {
		if m[i].Offset > offset {
			break
		}
		found = &m[i]
	}
	if found == nil {
		return ast.Position{}, false
	}
	return found.Pos, true
}

// OffsetsForLine lists the offsets emitted for a source line.
func (m SourceMap) OffsetsForLine(line int) []uint64 {
	var out []uint64
	for _, e := range m {
		if e.Pos.Line == line {
			out = append(out, e.Offset)
		}
	}
	return out
}

// Encode renders the map as "offset:line:column" entries separated by ';'.
func (m SourceMap) Encode() string {
	parts := make([]string, len(m))
	for i, e := range m {
		parts[i] = fmt.Sprintf("%d:%d:%d", e.Offset, e.Pos.Line, e.Pos.Column)
	}
	return strings.Join(parts, ";")
}

// Assemble resolves labels and encodes s. Label pushes start at two bytes and
// are re-sized until every jump target offset is stable.
func Assemble(s Stream) (*Bytecode, error) {
	widths := make(map[string]int)
	for _, in := range s {
		if in.Kind == KindLabel {
			if _, dup := widths[in.Label]; dup {
				errors.ICE("label %s defined twice", in.Label)
			}
			widths[in.Label] = initialLabelWidth
		}
	}
	for _, in := range s {
		if in.Kind == KindPushLabel {
			if _, ok := widths[in.Label]; !ok {
				return nil, errors.NewDiagnostic(errors.ErrorUndefinedLabel,
					fmt.Sprintf("jump to undefined label '%s'", in.Label), in.Pos).Build()
			}
		}
	}

	var offsets map[string]uint64
	stable := false
	for iter := 0; iter < maxLabelIterations && !stable; iter++ {
		offsets = layout(s, widths)
		stable = true
		for label, off := range offsets {
			need := max(1, byteLen(off))
			if iter >= monotoneAfter {
				need = max(need, widths[label])
			}
			if need != widths[label] {
				widths[label] = need
				stable = false
			}
		}
	}
	if !stable {
		return nil, errors.NewDiagnostic(errors.ErrorLabelResolution,
			fmt.Sprintf("label offsets did not stabilise after %d iterations", maxLabelIterations), ast.Position{}).Build()
	}

	bc := &Bytecode{Labels: offsets}
	var lastPos ast.Position
	for _, in := range s {
		if in.Kind == KindLabel {
			continue
		}
		if in.Pos.IsValid() && in.Pos != lastPos {
			bc.SourceMap = append(bc.SourceMap, SourceMapEntry{Offset: uint64(len(bc.Code)), Pos: in.Pos})
			lastPos = in.Pos
		}
		switch in.Kind {
		case KindOp:
			bc.Code = append(bc.Code, byte(in.Op))
		case KindPush:
			bc.Code = appendPush(bc.Code, in.Imm, pushWidth(in.Imm))
		case KindPushLabel:
			bc.Code = appendPush(bc.Code, uint256.NewInt(offsets[in.Label]), widths[in.Label])
		}
	}
	return bc, nil
}

// layout computes label offsets for the given label push widths.
func layout(s Stream, widths map[string]int) map[string]uint64 {
	offsets := make(map[string]uint64, len(widths))
	var pc uint64
	for _, in := range s {
		switch in.Kind {
		case KindLabel:
			offsets[in.Label] = pc
		case KindOp:
			pc++
		case KindPush:
			pc += 1 + uint64(pushWidth(in.Imm))
		case KindPushLabel:
			pc += 1 + uint64(widths[in.Label])
		}
	}
	return offsets
}

func byteLen(n uint64) int {
	w := 0
	for n > 0 {
		w++
		n >>= 8
	}
	return w
}

func appendPush(code []byte, x *uint256.Int, width int) []byte {
	if width == 0 {
		return append(code, byte(vm.PUSH0))
	}
	full := x.Bytes32()
	code = append(code, byte(vm.PUSH1)+byte(width-1))
	return append(code, full[32-width:]...)
}
