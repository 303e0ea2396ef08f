// Package change splits editor change batches into unit edits and converts
// batches into editor edit commands.
package change

import (
	"unicode/utf16"

	"github.com/Eldolfin/codlab/internal/protocol"
)

// UnitEdit is a single-character insertion or a single deletion.
//
// For an insertion Position == End unless the unit also replaces the range
// of the entry it came from (the first character of a replacement).
type UnitEdit struct {
	DocumentURI  string
	Position     protocol.Position
	End          protocol.Position
	InsertedText string
	IsDeletion   bool
}

// Range returns the span replaced by the unit.
func (u UnitEdit) Range() *protocol.Range {
	return &protocol.Range{Start: u.Position, End: u.End}
}

// ContentChange returns the unit as a wire content change.
func (u UnitEdit) ContentChange() protocol.ContentChange {
	return protocol.ContentChange{Range: u.Range(), Text: u.InsertedText}
}

// Decompose walks every content change of batch in order and emits one unit
// per character of replacement text, plus one unit per pure deletion.
// Positions are recomputed with a running cursor starting at each entry's
// start: a line break moves to column 0 of the next line, anything else
// advances the column by its UTF-16 length.
//
// An entry without a range is decomposed against protocol.WholeDocument, so
// its first unit replaces the whole document and the rest insert from (0,0).
//
// Text is walked rune by rune; invalid UTF-8 bytes come out as U+FFFD, as
// they would after a JSON round trip.
func Decompose(batch protocol.ChangeBatch) []UnitEdit {
	uri := batch.TextDocument.URI
	var units []UnitEdit
	for _, cc := range batch.ContentChanges {
		r := cc.RangeOrWhole()
		if cc.Text == "" {
			if !r.Empty() {
				units = append(units, UnitEdit{
					DocumentURI: uri,
					Position:    r.Start,
					End:         r.End,
					IsDeletion:  true,
				})
			}
			continue
		}

		cursor := r.Start
		runes := []rune(cc.Text)
		for i, c := range runes {
			end := cursor
			if i == 0 {
				end = r.End
			}
			units = append(units, UnitEdit{
				DocumentURI:  uri,
				Position:     cursor,
				End:          end,
				InsertedText: string(c),
			})
			switch {
			case c == '\n':
				cursor = protocol.Position{Line: cursor.Line + 1}
			case c == '\r' && (i+1 == len(runes) || runes[i+1] != '\n'):
				cursor = protocol.Position{Line: cursor.Line + 1}
			default:
				cursor.Character += uint32(utf16.RuneLen(c))
			}
		}
	}
	return units
}

// SplitUnits is Decompose at batch granularity: every returned batch carries
// one content change and the document identifier of batch.
func SplitUnits(batch protocol.ChangeBatch) []protocol.ChangeBatch {
	units := Decompose(batch)
	out := make([]protocol.ChangeBatch, 0, len(units))
	for _, u := range units {
		out = append(out, protocol.ChangeBatch{
			TextDocument:   batch.TextDocument,
			ContentChanges: []protocol.ContentChange{u.ContentChange()},
		})
	}
	return out
}
