package journal

import (
	"context"
	"errors"
	"sync"
	"time"
)

var (
	// ErrQueueFull is returned by Async.Record when the writer is behind.
	// The entry is dropped.
	ErrQueueFull = errors.New("journal queue full")
	// ErrClosed is returned by Async.Record after Close.
	ErrClosed = errors.New("journal closed")
)

// AsyncOptions configures an Async journal. Zero values select defaults.
type AsyncOptions struct {
	// QueueSize bounds the entries waiting for the writer.
	QueueSize int
	// Timeout bounds each Record on the wrapped journal.
	Timeout time.Duration
	// OnError is called from the writer goroutine for every entry the wrapped
	// journal failed to record.
	OnError func(Entry, error)
}

// Async hands entries to a single writer goroutine so Record returns without
// waiting on the wrapped journal.
type Async struct {
	j       Journal
	timeout time.Duration
	onError func(Entry, error)

	mu     sync.RWMutex
	closed bool
	queue  chan Entry
	done   chan struct{}
}

// NewAsync starts the writer for j.
func NewAsync(j Journal, opts AsyncOptions) *Async {
	if opts.QueueSize <= 0 {
		opts.QueueSize = 1024
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 5 * time.Second
	}
	a := &Async{
		j:       j,
		timeout: opts.Timeout,
		onError: opts.OnError,
		queue:   make(chan Entry, opts.QueueSize),
		done:    make(chan struct{}),
	}
	go a.run()
	return a
}

// Record queues e. It never blocks.
func (a *Async) Record(_ context.Context, e Entry) error {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		return ErrClosed
	}
	select {
	case a.queue <- e:
		return nil
	default:
		return ErrQueueFull
	}
}

func (a *Async) run() {
	defer close(a.done)
	for e := range a.queue {
		ctx, cancel := context.WithTimeout(context.Background(), a.timeout)
		err := a.j.Record(ctx, e)
		cancel()
		if err != nil && a.onError != nil {
			a.onError(e, err)
		}
	}
}

// Close drains the queue, then closes the wrapped journal.
func (a *Async) Close() error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil
	}
	a.closed = true
	close(a.queue)
	a.mu.Unlock()

	<-a.done
	return a.j.Close()
}
