package journal

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Eldolfin/codlab/internal/config"
	"github.com/Eldolfin/codlab/internal/protocol"
)

func testChange(uri string) protocol.Change {
	return protocol.Change{
		ID: uuid.New(),
		Change: protocol.ChangeBatch{
			TextDocument:   protocol.TextDocument{URI: uri, Version: 2},
			ContentChanges: []protocol.ContentChange{{Range: &protocol.Range{}, Text: "a"}},
		},
		TraceContext: map[string]string{"traceparent": "00-0af7651916cd43dd8448eb211c80319c-b7ad6b7169203331-01"},
	}
}

func testEntry(t *testing.T, uri string) Entry {
	t.Helper()
	e, err := NewEntry("127.0.0.1:5000", 3, testChange(uri))
	require.NoError(t, err)
	return e
}

func TestNewEntry(t *testing.T) {
	change := testChange("file:///a")
	e, err := NewEntry("peer", 7, change)
	require.NoError(t, err)

	assert.Equal(t, change.ID, e.ChangeID)
	assert.Equal(t, "file:///a", e.DocumentURI)
	assert.Equal(t, int32(2), e.Version)
	assert.Equal(t, uint32(7), e.ClientID)
	assert.Equal(t, change.TraceContext, e.TraceContext)
	assert.Contains(t, string(e.Payload), change.ID.String())
	assert.WithinDuration(t, time.Now(), e.RecordedAt, time.Minute)
}

func TestMemory(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	require.NoError(t, m.Record(ctx, testEntry(t, "file:///a")))
	require.NoError(t, m.Record(ctx, testEntry(t, "file:///b")))

	entries := m.Entries()
	require.Len(t, entries, 2)
	assert.Equal(t, "file:///b", entries[1].DocumentURI)
	assert.NoError(t, m.Close())
}

type failing struct{ closed bool }

func (f *failing) Record(context.Context, Entry) error { return errors.New("disk full") }
func (f *failing) Close() error                        { f.closed = true; return nil }

func TestMulti_RecordsEverywhere(t *testing.T) {
	mem := NewMemory()
	bad := &failing{}
	multi := Multi{bad, mem}

	err := multi.Record(context.Background(), testEntry(t, "file:///a"))
	assert.ErrorContains(t, err, "disk full")
	assert.Len(t, mem.Entries(), 1, "one failing sink must not stop the others")

	require.NoError(t, multi.Close())
	assert.True(t, bad.closed)
}

func TestSQLite(t *testing.T) {
	s, err := OpenSQLite(filepath.Join(t.TempDir(), "relay.db"))
	require.NoError(t, err)
	defer s.Close()

	ctx := context.Background()
	first := testEntry(t, "file:///a")
	second := testEntry(t, "file:///a")
	require.NoError(t, s.Record(ctx, first))
	require.NoError(t, s.Record(ctx, testEntry(t, "file:///other")))
	require.NoError(t, s.Record(ctx, second))

	ids, err := s.ChangeIDs(ctx, "file:///a")
	require.NoError(t, err)
	assert.Equal(t, []string{first.ChangeID.String(), second.ChangeID.String()}, ids)
}

func TestBolt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "agent.db")
	b, err := OpenBolt(path)
	require.NoError(t, err)

	ctx := context.Background()
	first := testEntry(t, "file:///a")
	second := testEntry(t, "file:///a")
	require.NoError(t, b.Record(ctx, first))
	require.NoError(t, b.Record(ctx, second))
	require.NoError(t, b.Close())

	b, err = OpenBolt(path)
	require.NoError(t, err)
	defer b.Close()

	entries, err := b.Entries("file:///a")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, first.ChangeID, entries[0].ChangeID)
	assert.Equal(t, second.ChangeID, entries[1].ChangeID)
	assert.JSONEq(t, string(first.Payload), string(entries[0].Payload))

	none, err := b.Entries("file:///missing")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestOpen(t *testing.T) {
	ctx := context.Background()

	j, err := Open(ctx, config.RelayJournal{Driver: config.JournalNone})
	require.NoError(t, err)
	assert.IsType(t, Nop{}, j)

	j, err = Open(ctx, config.RelayJournal{Driver: config.JournalMemory})
	require.NoError(t, err)
	assert.IsType(t, &Memory{}, j)

	j, err = Open(ctx, config.RelayJournal{Driver: config.JournalSQLite, DSN: filepath.Join(t.TempDir(), "r.db")})
	require.NoError(t, err)
	assert.IsType(t, &SQLite{}, j)
	require.NoError(t, j.Close())

	_, err = Open(ctx, config.RelayJournal{Driver: "mongo"})
	assert.ErrorIs(t, err, config.ErrInvalidConfig)
}

func TestOpen_Mirrors(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "mirror.db")
	j, err := Open(ctx, config.RelayJournal{
		Driver:  config.JournalMemory,
		Mirrors: []config.RelayJournal{{Driver: config.JournalSQLite, DSN: path}},
	})
	require.NoError(t, err)
	require.IsType(t, Multi{}, j)

	e := testEntry(t, "file:///a")
	require.NoError(t, j.Record(ctx, e))
	mirror := j.(Multi)[1].(*SQLite)
	ids, err := mirror.ChangeIDs(ctx, "file:///a")
	require.NoError(t, err)
	assert.Equal(t, []string{e.ChangeID.String()}, ids)
	assert.Len(t, j.(Multi)[0].(*Memory).Entries(), 1)
	require.NoError(t, j.Close())

	_, err = Open(ctx, config.RelayJournal{
		Driver:  config.JournalMemory,
		Mirrors: []config.RelayJournal{{Driver: "mongo"}},
	})
	assert.ErrorIs(t, err, config.ErrInvalidConfig)
}

// The PostgreSQL and Redis journals need live servers.

func TestPostgres(t *testing.T) {
	dsn := os.Getenv("CODLAB_TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("CODLAB_TEST_DATABASE_URL not set")
	}
	ctx := context.Background()
	p, err := OpenPostgres(ctx, dsn)
	require.NoError(t, err)
	defer p.Close()

	uri := "file:///" + uuid.NewString()
	require.NoError(t, p.Record(ctx, testEntry(t, uri)))
	n, err := p.Count(ctx, uri)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestRedis(t *testing.T) {
	addr := os.Getenv("CODLAB_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("CODLAB_TEST_REDIS_ADDR not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	r, err := OpenRedis(ctx, addr)
	require.NoError(t, err)
	defer r.Close()

	uri := "file:///" + uuid.NewString()
	sub := r.Subscribe(ctx, uri)
	defer sub.Close()
	_, err = sub.Receive(ctx)
	require.NoError(t, err)

	e := testEntry(t, uri)
	require.NoError(t, r.Record(ctx, e))

	msg, err := sub.ReceiveMessage(ctx)
	require.NoError(t, err)
	assert.Equal(t, Channel(uri), msg.Channel)
	assert.Contains(t, msg.Payload, e.ChangeID.String())
}
