package relay

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePeer struct {
	mu     sync.Mutex
	frames [][]byte
	err    error
	delay  time.Duration
	closed bool
}

func (p *fakePeer) Send(_ context.Context, frame []byte) error {
	if p.delay > 0 {
		time.Sleep(p.delay)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.frames = append(p.frames, frame)
	return nil
}

func (p *fakePeer) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

func (p *fakePeer) sent() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.frames)
}

func TestRegistry_BroadcastExcludesSender(t *testing.T) {
	r := NewRegistry()
	a, b, c := &fakePeer{}, &fakePeer{}, &fakePeer{}
	r.Insert("a", 1, a)
	r.Insert("b", 2, b)
	r.Insert("c", 3, c)

	res := r.Broadcast(context.Background(), "a", []byte("frame"))
	assert.Equal(t, 2, res.Delivered)
	assert.Empty(t, res.Failed)
	assert.Equal(t, 0, a.sent())
	assert.Equal(t, 1, b.sent())
	assert.Equal(t, 1, c.sent())
}

func TestRegistry_FailingPeerDoesNotBlockOthers(t *testing.T) {
	r := NewRegistry()
	r.Insert("a", 1, &fakePeer{})
	r.Insert("bad", 2, &fakePeer{err: errors.New("broken pipe")})
	r.Insert("bad2", 3, &fakePeer{err: errors.New("broken pipe")})
	ok := &fakePeer{}
	r.Insert("ok", 4, ok)

	res := r.Broadcast(context.Background(), "a", []byte("frame"))
	assert.Equal(t, 1, res.Delivered)
	assert.Equal(t, []string{"bad", "bad2"}, res.Failed)
	assert.Equal(t, 1, ok.sent())
}

func TestRegistry_SendsRunConcurrently(t *testing.T) {
	r := NewRegistry()
	for _, addr := range []string{"a", "b", "c", "d"} {
		r.Insert(addr, 1, &fakePeer{delay: 100 * time.Millisecond})
	}

	start := time.Now()
	res := r.Broadcast(context.Background(), "", []byte("frame"))
	assert.Equal(t, 4, res.Delivered)
	assert.Less(t, time.Since(start), 350*time.Millisecond)
}

func TestRegistry_RemoveIsIdempotent(t *testing.T) {
	r := NewRegistry()
	r.Insert("a", 1, &fakePeer{})

	assert.True(t, r.Remove("a"))
	assert.False(t, r.Remove("a"))
	assert.False(t, r.Remove("never"))
	assert.Equal(t, 0, r.Len())
}

func TestRegistry_InsertBlockedDuringBroadcast(t *testing.T) {
	r := NewRegistry()
	slow := &fakePeer{delay: 150 * time.Millisecond}
	r.Insert("slow", 1, slow)

	done := make(chan BroadcastResult)
	go func() { done <- r.Broadcast(context.Background(), "", []byte("frame")) }()

	time.Sleep(20 * time.Millisecond)

	late := &fakePeer{}
	r.Insert("late", 2, late)
	res := <-done
	assert.Equal(t, 1, res.Delivered, "a peer inserted mid-broadcast is not part of it")
	assert.Equal(t, 0, late.sent())

	id, ok := r.ID("late")
	require.True(t, ok)
	assert.Equal(t, uint32(2), id)
}

func TestRegistry_CloseAll(t *testing.T) {
	r := NewRegistry()
	a, b := &fakePeer{}, &fakePeer{}
	r.Insert("a", 1, a)
	r.Insert("b", 2, b)

	r.CloseAll()
	assert.True(t, a.closed)
	assert.True(t, b.closed)
}
