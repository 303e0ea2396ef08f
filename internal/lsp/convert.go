package lsp

import (
	"context"
	"encoding/json"

	"go.lsp.dev/protocol"

	"github.com/Eldolfin/codlab/internal/change"
	codlab "github.com/Eldolfin/codlab/internal/protocol"
)

// missingRangesKey carries, for a didChange notification, which content
// changes arrived without a range. protocol.TextDocumentContentChangeEvent
// decodes a missing range as the zero range.
type missingRangesKey struct{}

func withMissingRanges(ctx context.Context, params json.RawMessage) (context.Context, error) {
	var raw struct {
		ContentChanges []struct {
			Range json.RawMessage `json:"range"`
		} `json:"contentChanges"`
	}
	if err := json.Unmarshal(params, &raw); err != nil {
		return ctx, err
	}
	missing := make([]bool, len(raw.ContentChanges))
	for i, cc := range raw.ContentChanges {
		missing[i] = len(cc.Range) == 0 || string(cc.Range) == "null"
	}
	return context.WithValue(ctx, missingRangesKey{}, missing), nil
}

func missingRanges(ctx context.Context) []bool {
	missing, _ := ctx.Value(missingRangesKey{}).([]bool)
	return missing
}

// changeBatch converts a didChange notification. Entries flagged in missing
// keep a nil range.
func changeBatch(p *protocol.DidChangeTextDocumentParams, missing []bool) codlab.ChangeBatch {
	changes := make([]codlab.ContentChange, 0, len(p.ContentChanges))
	for i, cc := range p.ContentChanges {
		c := codlab.ContentChange{Text: cc.Text}
		if i >= len(missing) || !missing[i] {
			r := fromRange(cc.Range)
			c.Range = &r
		}
		changes = append(changes, c)
	}
	return codlab.ChangeBatch{
		TextDocument: codlab.TextDocument{
			URI:     string(p.TextDocument.URI),
			Version: p.TextDocument.Version,
		},
		ContentChanges: changes,
	}
}

func fromRange(r protocol.Range) codlab.Range {
	return codlab.Range{
		Start: codlab.Position{Line: r.Start.Line, Character: r.Start.Character},
		End:   codlab.Position{Line: r.End.Line, Character: r.End.Character},
	}
}

func toRange(r codlab.Range) protocol.Range {
	return protocol.Range{
		Start: protocol.Position{Line: r.Start.Line, Character: r.Start.Character},
		End:   protocol.Position{Line: r.End.Line, Character: r.End.Character},
	}
}

func textEdits(edits []change.TextEdit) []protocol.TextEdit {
	out := make([]protocol.TextEdit, 0, len(edits))
	for _, e := range edits {
		out = append(out, protocol.TextEdit{Range: toRange(e.Range), NewText: e.NewText})
	}
	return out
}
