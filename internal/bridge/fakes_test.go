package bridge

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Eldolfin/codlab/internal/change"
	"github.com/Eldolfin/codlab/internal/protocol"
	"github.com/Eldolfin/codlab/internal/transport"
)

// fakeRelay is an in-memory RelayConn.
type fakeRelay struct {
	mu      sync.Mutex
	sent    [][]byte
	sendErr error

	inbox     chan []byte
	closed    chan struct{}
	closeOnce sync.Once
}

func newFakeRelay() *fakeRelay {
	return &fakeRelay{
		inbox:  make(chan []byte, 16),
		closed: make(chan struct{}),
	}
}

func (r *fakeRelay) Send(_ context.Context, frame []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sendErr != nil {
		return r.sendErr
	}
	r.sent = append(r.sent, frame)
	return nil
}

func (r *fakeRelay) Receive() ([]byte, error) {
	select {
	case frame := <-r.inbox:
		return frame, nil
	case <-r.closed:
		return nil, transport.ErrClosed
	}
}

func (r *fakeRelay) Close() error {
	r.closeOnce.Do(func() { close(r.closed) })
	return nil
}

func (r *fakeRelay) isClosed() bool {
	select {
	case <-r.closed:
		return true
	default:
		return false
	}
}

func (r *fakeRelay) deliver(t *testing.T, c protocol.Change) {
	t.Helper()
	frame, err := protocol.EncodeServer(protocol.ServerCommon{Message: c})
	require.NoError(t, err)
	r.inbox <- frame
}

func (r *fakeRelay) changes(t *testing.T) []protocol.Change {
	t.Helper()
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]protocol.Change, 0, len(r.sent))
	for _, frame := range r.sent {
		msg, err := protocol.DecodeClient(frame)
		require.NoError(t, err)
		common, ok := msg.(protocol.ClientCommon)
		require.True(t, ok)
		c, ok := common.Message.(protocol.Change)
		require.True(t, ok)
		out = append(out, c)
	}
	return out
}

// fakeEditor holds one document. Like a real editor it reports every edit it
// applies back to its bridge as a local change.
type fakeEditor struct {
	mu      sync.Mutex
	uri     string
	text    string
	version int32
	applied int
	fail    error

	bridge *Bridge
}

func newFakeEditor(uri, text string) *fakeEditor {
	return &fakeEditor{uri: uri, text: text}
}

func (e *fakeEditor) ApplyEdit(ctx context.Context, uri string, edits []change.TextEdit) error {
	if e.fail != nil {
		return e.fail
	}
	changes := make([]protocol.ContentChange, 0, len(edits))
	for _, ed := range edits {
		r := ed.Range
		changes = append(changes, protocol.ContentChange{Range: &r, Text: ed.NewText})
	}
	e.mu.Lock()
	e.applied++
	e.mu.Unlock()
	return e.edit(ctx, changes...)
}

// Type inserts text at (line, char) as if the user typed it.
func (e *fakeEditor) Type(ctx context.Context, line, char uint32, text string) error {
	p := protocol.Position{Line: line, Character: char}
	return e.edit(ctx, protocol.ContentChange{Range: &protocol.Range{Start: p, End: p}, Text: text})
}

func (e *fakeEditor) edit(ctx context.Context, changes ...protocol.ContentChange) error {
	e.mu.Lock()
	for _, cc := range changes {
		e.text = replaceRange(e.text, cc.RangeOrWhole(), cc.Text)
	}
	e.version++
	batch := protocol.ChangeBatch{
		TextDocument:   protocol.TextDocument{URI: e.uri, Version: e.version},
		ContentChanges: changes,
	}
	e.mu.Unlock()

	if e.bridge == nil {
		return nil
	}
	return e.bridge.OnLocalChange(ctx, batch)
}

func (e *fakeEditor) Text() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.text
}

// replaceRange replaces r in text, clamping positions past the end of a line
// or of the document.
func replaceRange(text string, r protocol.Range, with string) string {
	start, end := offset(text, r.Start), offset(text, r.End)
	if end < start {
		end = start
	}
	return text[:start] + with + text[end:]
}

func offset(text string, p protocol.Position) int {
	lines := strings.SplitAfter(text, "\n")
	off := 0
	for i, l := range lines {
		if uint32(i) == p.Line {
			content := strings.TrimSuffix(l, "\n")
			if int(p.Character) < len(content) {
				return off + int(p.Character)
			}
			return off + len(content)
		}
		off += len(l)
	}
	return len(text)
}
