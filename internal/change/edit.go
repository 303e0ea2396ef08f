package change

import "github.com/Eldolfin/codlab/internal/protocol"

// TextEdit is an editor-side edit: replace Range with NewText. It marshals to
// the LSP TextEdit shape.
type TextEdit struct {
	Range   protocol.Range `json:"range"`
	NewText string         `json:"newText"`
}

// Edits converts the content changes of batch to editor edits, in order.
// Entries without a range replace the whole document.
func Edits(batch protocol.ChangeBatch) []TextEdit {
	edits := make([]TextEdit, 0, len(batch.ContentChanges))
	for _, cc := range batch.ContentChanges {
		edits = append(edits, TextEdit{Range: cc.RangeOrWhole(), NewText: cc.Text})
	}
	return edits
}
