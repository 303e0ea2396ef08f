// Package bridge connects one editor to the relay. Local edits reported by
// the editor are forwarded as Change messages; Change messages from the relay
// are applied to the editor. Edits the bridge itself applies come back from
// the editor as local changes and are recognised through the echo pool so
// they are not sent again.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/Eldolfin/codlab/internal/change"
	"github.com/Eldolfin/codlab/internal/echo"
	"github.com/Eldolfin/codlab/internal/journal"
	"github.com/Eldolfin/codlab/internal/metrics"
	"github.com/Eldolfin/codlab/internal/protocol"
	"github.com/Eldolfin/codlab/internal/transport"
)

var (
	// ErrApplyRejected means the editor failed to apply a remote change. The
	// local and remote documents are assumed diverged; the session ends.
	ErrApplyRejected = errors.New("editor rejected remote change")

	// ErrSendFailed means a change could not be written to the relay.
	ErrSendFailed = errors.New("sending change to relay failed")

	// ErrNotRunning is returned for work submitted outside the Initialized
	// and Running states.
	ErrNotRunning = errors.New("bridge is not running")
)

// Editor applies edits to the local editor and waits for its answer.
type Editor interface {
	ApplyEdit(ctx context.Context, uri string, edits []change.TextEdit) error
}

// RelayConn is the bridge's connection to the relay. *transport.Conn
// implements it.
type RelayConn interface {
	Send(ctx context.Context, frame []byte) error
	Receive() ([]byte, error)
	Close() error
}

// Options configures a Bridge. Zero values select defaults.
type Options struct {
	EchoTimeout time.Duration
	// OutboxSize bounds the changes queued for the relay.
	OutboxSize int
	// UnitChanges sends one message per unit edit instead of one per batch.
	UnitChanges bool

	Journal  journal.Journal
	Logger   *zap.Logger
	Tracer   trace.Tracer
	Registry prometheus.Registerer
	// Clock drives echo expiry.
	Clock func() time.Time
}

// Bridge is the per-editor synchronization process.
type Bridge struct {
	opts    Options
	relay   RelayConn
	log     *zap.Logger
	tracer  trace.Tracer
	metrics *metrics.Bridge
	pool    *echo.Pool
	state   stateBox

	// mu guards editor and the closing of outbox.
	mu     sync.RWMutex
	editor Editor

	started  atomic.Bool
	outbox   chan protocol.Change
	ready    chan struct{}
	stopping chan struct{}
	stopOnce sync.Once
	sendDone chan struct{}
}

// New returns an Idle bridge talking to relay.
func New(relay RelayConn, opts Options) *Bridge {
	if opts.EchoTimeout <= 0 {
		opts.EchoTimeout = echo.DefaultTimeout
	}
	if opts.OutboxSize <= 0 {
		opts.OutboxSize = 256
	}
	if opts.Journal == nil {
		opts.Journal = journal.Nop{}
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Tracer == nil {
		opts.Tracer = otel.Tracer("github.com/Eldolfin/codlab/internal/bridge")
	}

	b := &Bridge{
		opts:     opts,
		relay:    relay,
		log:      opts.Logger,
		tracer:   opts.Tracer,
		metrics:  metrics.NewBridge(opts.Registry),
		outbox:   make(chan protocol.Change, opts.OutboxSize),
		ready:    make(chan struct{}),
		stopping: make(chan struct{}),
		sendDone: make(chan struct{}),
	}

	poolOpts := []echo.Option{
		echo.WithTimeout(opts.EchoTimeout),
		echo.OnExpire(func(e echo.PendingEcho) {
			b.metrics.EchoesExpired.Inc()
			b.log.Debug("expected echo expired",
				zap.String("uri", e.DocumentURI),
				zap.Stringer("range", e.Range),
				zap.String("text", e.Text))
		}),
	}
	if opts.Clock != nil {
		poolOpts = append(poolOpts, echo.WithClock(opts.Clock))
	}
	b.pool = echo.NewPool(poolOpts...)
	return b
}

// State returns the current lifecycle phase.
func (b *Bridge) State() State {
	return b.state.load()
}

// Pending returns the number of echoes still expected from the editor.
func (b *Bridge) Pending() int {
	return b.pool.Len()
}

// Initialize attaches the editor once its handshake is done.
func (b *Bridge) Initialize(editor Editor) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.state.advance(Initialized, Idle) {
		return fmt.Errorf("%w: initialize in state %s", ErrNotRunning, b.state.load())
	}
	b.editor = editor
	close(b.ready)
	b.log.Info("bridge initialized")
	return nil
}

// Run waits for Initialize, then forwards changes until ctx is cancelled,
// Shutdown is called, or a fatal fault occurs. Queued changes are flushed to
// the relay before Run returns.
func (b *Bridge) Run(ctx context.Context) error {
	if !b.started.CompareAndSwap(false, true) {
		return fmt.Errorf("%w: already started", ErrNotRunning)
	}
	select {
	case <-b.ready:
	case <-b.stopping:
	case <-ctx.Done():
		b.Shutdown()
	}
	if !b.state.advance(Running, Initialized) {
		// Shut down before the loops started: flush what was queued.
		err := b.sendLoop(ctx)
		return errors.Join(err, b.relay.Close())
	}
	b.log.Info("bridge running")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return b.sendLoop(gctx)
	})
	g.Go(func() error {
		return b.receiveLoop(gctx)
	})
	g.Go(func() error {
		select {
		case <-gctx.Done():
		case <-b.stopping:
		}
		b.Shutdown()
		<-b.sendDone
		_ = b.relay.Close()
		return nil
	})
	return g.Wait()
}

// Shutdown moves the bridge to ShuttingDown. New local changes are refused,
// queued ones are still flushed by Run, pending echoes are discarded.
func (b *Bridge) Shutdown() {
	b.stopOnce.Do(func() {
		b.mu.Lock()
		prev := b.state.load()
		b.state.store(ShuttingDown)
		close(b.stopping)
		close(b.outbox)
		b.mu.Unlock()

		dropped := b.pool.Len()
		b.pool.Reset()
		b.log.Info("bridge shutting down", zap.Stringer("from", prev), zap.Int("discarded_echoes", dropped))
	})
}

// OnLocalChange forwards the parts of batch that are not echoes of remote
// changes. Entries are matched independently and the forwarded ones keep
// their relative order.
func (b *Bridge) OnLocalChange(ctx context.Context, batch protocol.ChangeBatch) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if s := b.state.load(); s != Initialized && s != Running {
		return ErrNotRunning
	}

	uri := batch.TextDocument.URI
	b.pool.ExpireStale()

	kept := make([]protocol.ContentChange, 0, len(batch.ContentChanges))
	for _, cc := range batch.ContentChanges {
		if b.pool.TryConsumeMatching(echo.NewCandidate(uri, cc)) {
			continue
		}
		kept = append(kept, cc)
	}
	suppressed := len(batch.ContentChanges) - len(kept)
	b.metrics.EchoesSuppressed.Add(float64(suppressed))

	log := b.log.With(zap.String("uri", uri), zap.Int32("version", batch.TextDocument.Version))
	if len(kept) == 0 {
		log.Debug("local change is an echo, not sent", zap.Int("suppressed", suppressed))
		return nil
	}

	ctx, span := b.tracer.Start(ctx, "local_change", trace.WithAttributes(
		attribute.String("uri", uri),
		attribute.Int("entries", len(kept)),
		attribute.Int("suppressed", suppressed),
	))
	defer span.End()

	filtered := protocol.ChangeBatch{TextDocument: batch.TextDocument, ContentChanges: kept}
	parts := []protocol.ChangeBatch{filtered}
	if b.opts.UnitChanges {
		parts = change.SplitUnits(filtered)
	}

	for _, part := range parts {
		c := protocol.NewChange(ctx, part)
		select {
		case b.outbox <- c:
			log.Debug("local change queued", zap.Stringer("change_id", c.ID), zap.Int("entries", len(part.ContentChanges)))
		case <-b.sendDone:
			span.SetStatus(codes.Error, "send path stopped")
			return ErrNotRunning
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// OnRemoteChange applies c to the editor. Every entry is registered as an
// expected echo before the edit is issued.
func (b *Bridge) OnRemoteChange(ctx context.Context, c protocol.Change) error {
	b.mu.RLock()
	editor := b.editor
	b.mu.RUnlock()
	if editor == nil {
		return ErrNotRunning
	}

	ctx = protocol.ExtractTraceContext(ctx, c.TraceContext)
	uri := c.Change.TextDocument.URI
	ctx, span := b.tracer.Start(ctx, "apply_remote_change", trace.WithAttributes(
		attribute.String("change_id", c.ID.String()),
		attribute.String("uri", uri),
	))
	defer span.End()

	for _, cc := range c.Change.ContentChanges {
		b.pool.Register(echo.PendingEcho{
			DocumentURI: uri,
			Range:       cc.RangeOrWhole(),
			Text:        cc.Text,
		})
	}

	log := b.log.With(zap.Stringer("change_id", c.ID), zap.String("uri", uri))
	if err := editor.ApplyEdit(ctx, uri, change.Edits(c.Change)); err != nil {
		span.SetStatus(codes.Error, err.Error())
		log.Error("editor failed to apply remote change, documents have diverged", zap.Error(err))
		return fmt.Errorf("%w: change %s: %w", ErrApplyRejected, c.ID, err)
	}
	b.metrics.RemoteApplied.Inc()
	log.Debug("remote change applied", zap.Int("entries", len(c.Change.ContentChanges)))
	b.record(ctx, "relay", c)
	return nil
}

func (b *Bridge) sendLoop(ctx context.Context) error {
	defer close(b.sendDone)
	// Flushing must survive cancellation; each write has its own timeout.
	ctx = context.WithoutCancel(ctx)

	for c := range b.outbox {
		frame, err := protocol.EncodeClient(protocol.ClientCommon{Message: c})
		if err != nil {
			return fmt.Errorf("%w: change %s: %w", ErrSendFailed, c.ID, err)
		}
		if err := b.relay.Send(ctx, frame); err != nil {
			b.log.Error("could not send change to relay", zap.Stringer("change_id", c.ID), zap.Error(err))
			return fmt.Errorf("%w: change %s: %w", ErrSendFailed, c.ID, err)
		}
		b.metrics.ChangesSent.Inc()
		b.log.Debug("change sent", zap.Stringer("change_id", c.ID))
		b.record(ctx, "local", c)
	}
	return nil
}

func (b *Bridge) receiveLoop(ctx context.Context) error {
	for {
		frame, err := b.relay.Receive()
		if b.state.load() == ShuttingDown {
			return nil
		}
		if err != nil {
			if errors.Is(err, transport.ErrClosed) {
				return fmt.Errorf("relay closed the connection: %w", err)
			}
			return fmt.Errorf("receiving from relay: %w", err)
		}

		msg, err := protocol.DecodeServer(frame)
		if err != nil {
			b.log.Error("relay sent an invalid message", zap.Error(err))
			return fmt.Errorf("decoding relay message: %w", err)
		}
		common, ok := msg.(protocol.ServerCommon)
		if !ok {
			return fmt.Errorf("%w: %T", protocol.ErrUnknownMessage, msg)
		}
		c, ok := common.Message.(protocol.Change)
		if !ok {
			return fmt.Errorf("%w: %T", protocol.ErrUnknownMessage, common.Message)
		}
		if err := b.OnRemoteChange(ctx, c); err != nil {
			if b.state.load() == ShuttingDown {
				return nil
			}
			return err
		}
	}
}

func (b *Bridge) record(ctx context.Context, origin string, c protocol.Change) {
	entry, err := journal.NewEntry(origin, 0, c)
	if err == nil {
		err = b.opts.Journal.Record(ctx, entry)
	}
	if err != nil {
		b.log.Warn("journal record failed", zap.Stringer("change_id", c.ID), zap.Error(err))
	}
}
