// Package protocol defines the messages exchanged between bridges and the
// relay. Every message is a JSON text frame.
package protocol

import (
	"fmt"
	"math"

	"github.com/google/uuid"
)

// Position is a zero-based line and character offset, as in LSP.
type Position struct {
	Line      uint32 `json:"line"`
	Character uint32 `json:"character"`
}

func (p Position) String() string {
	return fmt.Sprintf("%d:%d", p.Line, p.Character)
}

// Before reports whether p sorts strictly before o.
func (p Position) Before(o Position) bool {
	if p.Line != o.Line {
		return p.Line < o.Line
	}
	return p.Character < o.Character
}

// Range is a half-open span [Start, End).
type Range struct {
	Start Position `json:"start"`
	End   Position `json:"end"`
}

// WholeDocument spans from the document start to a sentinel end past any real
// position. Editors clamp it to the actual end.
var WholeDocument = Range{
	Start: Position{Line: 0, Character: 0},
	End:   Position{Line: math.MaxUint32, Character: math.MaxUint32},
}

// Empty reports whether the range covers no characters.
func (r Range) Empty() bool {
	return r.Start == r.End
}

func (r Range) String() string {
	return "(" + r.Start.String() + "):(" + r.End.String() + ")"
}

// TextDocument identifies a versioned document.
type TextDocument struct {
	URI     string `json:"uri"`
	Version int32  `json:"version"`
}

// ContentChange replaces Range with Text. A nil Range replaces the whole
// document.
type ContentChange struct {
	Range *Range `json:"range,omitempty"`
	Text  string `json:"text"`
}

// RangeOrWhole returns the change range, or WholeDocument when none was given.
func (c ContentChange) RangeOrWhole() Range {
	if c.Range == nil {
		return WholeDocument
	}
	return *c.Range
}

// ChangeBatch is one didChange report: entries apply in order against the
// document state at the time of receipt.
type ChangeBatch struct {
	TextDocument   TextDocument    `json:"text_document"`
	ContentChanges []ContentChange `json:"content_changes"`
}

// Change is the unit of synchronization on the wire. ID is assigned once at
// the origin bridge and never rewritten.
type Change struct {
	ID           uuid.UUID         `json:"id"`
	Change       ChangeBatch       `json:"change"`
	TraceContext map[string]string `json:"trace_context"`
}
