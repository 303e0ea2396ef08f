package lsp

import (
	"context"
	"fmt"

	"go.lsp.dev/jsonrpc2"
	"go.lsp.dev/protocol"
	"go.uber.org/zap"

	"github.com/Eldolfin/codlab/internal/change"
)

// ApplyEditLabel is shown by editors that display the origin of an edit.
const ApplyEditLabel = "remote editor"

// Editor issues edits to the editor on the other end of an LSP connection.
type Editor struct {
	conn   jsonrpc2.Conn
	client protocol.Client
	log    *zap.Logger
}

// NewEditor returns an Editor calling through conn.
func NewEditor(conn jsonrpc2.Conn, log *zap.Logger) *Editor {
	if log == nil {
		log = zap.NewNop()
	}
	return &Editor{
		conn:   conn,
		client: protocol.ClientDispatcher(conn, log.Named("client")),
		log:    log,
	}
}

// ApplyEdit sends edits for uri as one workspace/applyEdit request and waits
// for the editor to report whether it applied them. A refused edit is also
// shown to the user, since the document has diverged from its peers.
func (e *Editor) ApplyEdit(ctx context.Context, uri string, edits []change.TextEdit) error {
	params := &protocol.ApplyWorkspaceEditParams{
		Label: ApplyEditLabel,
		Edit: protocol.WorkspaceEdit{
			Changes: map[protocol.DocumentURI][]protocol.TextEdit{
				protocol.DocumentURI(uri): textEdits(edits),
			},
		},
	}
	// Client.ApplyEdit reduces the response to a bool; the failure reason
	// is in the response object.
	var result protocol.ApplyWorkspaceEditResponse
	if _, err := e.conn.Call(ctx, protocol.MethodWorkspaceApplyEdit, params, &result); err != nil {
		return fmt.Errorf("%s: %w", protocol.MethodWorkspaceApplyEdit, err)
	}
	if result.Applied {
		return nil
	}

	reason := result.FailureReason
	if reason == "" {
		reason = "no reason given"
	}
	msg := &protocol.ShowMessageParams{
		Type:    protocol.MessageTypeError,
		Message: fmt.Sprintf("codlab: a remote change to %s was rejected (%s); the document no longer matches its peers", uri, reason),
	}
	if err := e.client.ShowMessage(ctx, msg); err != nil {
		e.log.Debug("showing rejected edit", zap.Error(err))
	}
	return fmt.Errorf("%s: edit not applied: %s", protocol.MethodWorkspaceApplyEdit, reason)
}
