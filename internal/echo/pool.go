// Package echo tracks edits the bridge is about to make the local editor
// apply, so the editor's own report of them is not sent back to the relay.
package echo

import (
	"sync"
	"time"

	"github.com/Eldolfin/codlab/internal/protocol"
)

// DefaultTimeout is how long an expected echo stays matchable.
const DefaultTimeout = 200 * time.Millisecond

// PendingEcho is an edit expected to come back from the local editor.
type PendingEcho struct {
	DocumentURI string
	Range       protocol.Range
	Text        string
	CreatedAt   time.Time
}

// Candidate is a content change reported by the local editor.
type Candidate struct {
	DocumentURI string
	Range       protocol.Range
	Text        string
}

// NewCandidate builds a Candidate from a locally reported content change.
func NewCandidate(uri string, cc protocol.ContentChange) Candidate {
	return Candidate{DocumentURI: uri, Range: cc.RangeOrWhole(), Text: cc.Text}
}

func (p PendingEcho) matches(c Candidate) bool {
	return p.DocumentURI == c.DocumentURI && p.Range == c.Range && p.Text == c.Text
}

// Option configures a Pool.
type Option func(*Pool)

// WithTimeout overrides DefaultTimeout.
func WithTimeout(d time.Duration) Option {
	return func(p *Pool) { p.timeout = d }
}

// WithClock replaces time.Now. The clock must be monotonic.
func WithClock(now func() time.Time) Option {
	return func(p *Pool) { p.now = now }
}

// OnExpire is called, outside the pool lock, for every entry dropped by
// ExpireStale.
func OnExpire(fn func(PendingEcho)) Option {
	return func(p *Pool) { p.onExpire = fn }
}

// Pool holds pending echoes. Matching is first-found over insertion order,
// not strict FIFO. It is safe for concurrent use.
type Pool struct {
	mu       sync.Mutex
	pending  []PendingEcho
	timeout  time.Duration
	now      func() time.Time
	onExpire func(PendingEcho)
}

// NewPool returns an empty pool.
func NewPool(opts ...Option) *Pool {
	p := &Pool{
		timeout: DefaultTimeout,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Register records an expected echo. CreatedAt is set when zero. It never
// blocks on anything but the pool lock.
func (p *Pool) Register(e PendingEcho) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if e.CreatedAt.IsZero() {
		e.CreatedAt = p.now()
	}
	p.pending = append(p.pending, e)
}

// TryConsumeMatching removes the first live entry structurally equal to c and
// reports whether one was found. Entries past the timeout never match.
func (p *Pool) TryConsumeMatching(c Candidate) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	now := p.now()
	for i, e := range p.pending {
		if p.expired(e, now) || !e.matches(c) {
			continue
		}
		p.pending = append(p.pending[:i], p.pending[i+1:]...)
		return true
	}
	return false
}

// ExpireStale drops every entry older than the timeout and returns them.
func (p *Pool) ExpireStale() []PendingEcho {
	p.mu.Lock()
	now := p.now()
	var dropped []PendingEcho
	live := p.pending[:0]
	for _, e := range p.pending {
		if p.expired(e, now) {
			dropped = append(dropped, e)
			continue
		}
		live = append(live, e)
	}
	clear(p.pending[len(live):])
	p.pending = live
	p.mu.Unlock()

	if p.onExpire != nil {
		for _, e := range dropped {
			p.onExpire(e)
		}
	}
	return dropped
}

// Peek returns the oldest pending entry without removing it.
func (p *Pool) Peek() (PendingEcho, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.pending) == 0 {
		return PendingEcho{}, false
	}
	return p.pending[0], true
}

// Len returns the number of pending entries, expired or not.
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.pending)
}

// Reset discards every entry.
func (p *Pool) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pending = nil
}

func (p *Pool) expired(e PendingEcho, now time.Time) bool {
	return now.Sub(e.CreatedAt) > p.timeout
}
