package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/Eldolfin/codlab/internal/journal"
	"github.com/Eldolfin/codlab/internal/metrics"
	"github.com/Eldolfin/codlab/internal/protocol"
	"github.com/Eldolfin/codlab/internal/transport"
)

// Options configures a Server. Zero values select defaults.
type Options struct {
	WSPath                string
	WriteTimeout          time.Duration
	MaxInflightBroadcasts int64
	// MaxMessagesPerSecond throttles each connection's receive loop. Zero
	// disables throttling.
	MaxMessagesPerSecond float64

	// Journal is written from a single background writer and closed by
	// Server.Close.
	Journal journal.Journal
	// JournalQueueSize bounds the entries waiting for the journal; when the
	// queue is full new entries are dropped.
	JournalQueueSize int
	// JournalTimeout bounds each journal write.
	JournalTimeout time.Duration

	Logger *zap.Logger
	Tracer trace.Tracer
	// Registry receives the relay collectors and is served on /metrics.
	Registry *prometheus.Registry
}

// Server is the relay.
type Server struct {
	opts     Options
	log      *zap.Logger
	tracer   trace.Tracer
	metrics  *metrics.Relay
	registry *Registry
	router   *mux.Router
	upgrader websocket.Upgrader
	inflight *semaphore.Weighted
	journal  *journal.Async

	nextID atomic.Uint32
	conns  sync.WaitGroup
}

// NewServer builds a relay.
func NewServer(opts Options) *Server {
	if opts.WSPath == "" {
		opts.WSPath = "/ws"
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = transport.DefaultWriteTimeout
	}
	if opts.MaxInflightBroadcasts <= 0 {
		opts.MaxInflightBroadcasts = 64
	}
	if opts.Journal == nil {
		opts.Journal = journal.Nop{}
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Tracer == nil {
		opts.Tracer = otel.Tracer("github.com/Eldolfin/codlab/internal/relay")
	}
	if opts.Registry == nil {
		opts.Registry = prometheus.NewRegistry()
	}

	s := &Server{
		opts:     opts,
		log:      opts.Logger,
		tracer:   opts.Tracer,
		metrics:  metrics.NewRelay(opts.Registry),
		registry: NewRegistry(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		inflight: semaphore.NewWeighted(opts.MaxInflightBroadcasts),
	}
	s.journal = journal.NewAsync(opts.Journal, journal.AsyncOptions{
		QueueSize: opts.JournalQueueSize,
		Timeout:   opts.JournalTimeout,
		OnError: func(e journal.Entry, err error) {
			s.metrics.JournalFailures.Inc()
			s.log.Warn("journal record failed", zap.Stringer("change_id", e.ChangeID), zap.Error(err))
		},
	})

	r := mux.NewRouter()
	r.HandleFunc(opts.WSPath, s.handleConnection)
	r.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.HandlerFor(opts.Registry, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	s.router = r
	return s
}

// Handler returns the HTTP handler serving the relay routes.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Close flushes queued journal entries and closes the journal. Call it once
// Serve has returned.
func (s *Server) Close() error {
	return s.journal.Close()
}

// Registry returns the live connection registry.
func (s *Server) Registry() *Registry {
	return s.registry
}

// Serve accepts connections on ln until ctx is cancelled, then closes every
// bridge connection and waits for their loops to finish.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()
	s.log.Info("relay listening", zap.String("addr", "ws://"+ln.Addr().String()+s.opts.WSPath))

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := srv.Shutdown(shutdownCtx)
	s.registry.CloseAll()
	s.conns.Wait()
	if errors.Is(err, http.ErrServerClosed) {
		err = nil
	}
	return err
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"status":      "ok",
		"connections": s.registry.Len(),
	})
}

// handleConnection completes the websocket handshake and runs the receive
// loop of one bridge until it disconnects.
func (s *Server) handleConnection(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Error("error in websocket handshake", zap.String("peer_addr", r.RemoteAddr), zap.Error(err))
		return
	}
	s.conns.Add(1)
	defer s.conns.Done()

	conn := transport.NewConn(ws, s.opts.WriteTimeout)
	addr := conn.RemoteAddr()
	id := s.nextID.Add(1)
	log := s.log.With(zap.String("peer_addr", addr), zap.Uint32("client_id", id))

	s.registry.Insert(addr, id, conn)
	s.metrics.Connections.Inc()
	log.Info("client connected")

	s.handleClient(r.Context(), conn, addr, id, log)

	s.registry.Remove(addr)
	s.metrics.Connections.Dec()
	_ = conn.Close()
}

func (s *Server) handleClient(ctx context.Context, conn *transport.Conn, addr string, id uint32, log *zap.Logger) {
	var limiter *rate.Limiter
	if s.opts.MaxMessagesPerSecond > 0 {
		burst := max(1, int(s.opts.MaxMessagesPerSecond))
		limiter = rate.NewLimiter(rate.Limit(s.opts.MaxMessagesPerSecond), burst)
	}

	for {
		frame, err := conn.Receive()
		if err != nil {
			if errors.Is(err, transport.ErrClosed) {
				log.Info("client disconnected")
			} else {
				log.Info("client disconnected", zap.Error(err))
			}
			return
		}

		msg, err := protocol.DecodeClient(frame)
		if err != nil {
			// Framing can no longer be trusted.
			s.metrics.DecodeFaults.Inc()
			log.Error("client sent an invalid message, closing connection", zap.Error(err))
			return
		}

		if limiter != nil {
			if err := limiter.Wait(ctx); err != nil {
				return
			}
		}
		s.handleMessage(ctx, addr, id, msg, log)
	}
}

func (s *Server) handleMessage(ctx context.Context, addr string, id uint32, msg protocol.ClientMessage, log *zap.Logger) {
	switch m := msg.(type) {
	case protocol.AcknowledgeChange:
		log.Debug("acknowledge ignored", zap.Stringer("change_id", m.ID))
	case protocol.ClientCommon:
		switch c := m.Message.(type) {
		case protocol.Change:
			s.relayChange(ctx, addr, id, c, log)
		default:
			log.Error("unhandled common message", zap.String("type", fmt.Sprintf("%T", c)))
		}
	default:
		log.Error("unhandled client message", zap.String("type", fmt.Sprintf("%T", m)))
	}
}

// relayChange fans c out to every other bridge. The change is re-wrapped,
// never rewritten: id and trace context travel verbatim.
func (s *Server) relayChange(ctx context.Context, addr string, id uint32, c protocol.Change, log *zap.Logger) {
	ctx = protocol.ExtractTraceContext(ctx, c.TraceContext)
	ctx, span := s.tracer.Start(ctx, "handle_change", trace.WithAttributes(
		attribute.String("change_id", c.ID.String()),
		attribute.Int64("client_id", int64(id)),
		attribute.String("uri", c.Change.TextDocument.URI),
	))
	defer span.End()
	span.AddEvent("Received message")

	log = log.With(zap.Stringer("change_id", c.ID))
	if n := len(c.Change.ContentChanges); n != 1 {
		log.Warn("change buffering detected", zap.Int("len", n))
	}
	for _, cc := range c.Change.ContentChanges {
		log.Debug(fmt.Sprintf("#%d: %s %q", id, cc.RangeOrWhole(), cc.Text))
	}

	frame, err := protocol.EncodeServer(protocol.ServerCommon{Message: c})
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		log.Error("encoding broadcast", zap.Error(err))
		return
	}

	if err := s.inflight.Acquire(ctx, 1); err != nil {
		return
	}
	result := s.registry.Broadcast(ctx, addr, frame)
	s.inflight.Release(1)

	s.metrics.Broadcasts.Add(float64(result.Delivered))
	s.metrics.BroadcastFailures.Add(float64(len(result.Failed)))
	if len(result.Failed) > 0 {
		span.SetStatus(codes.Error, "broadcast failed for some peers")
		log.Warn("broadcast failed for some peers", zap.Strings("failed", result.Failed))
	}
	log.Debug("broadcasted message", zap.Int("peers", result.Delivered))
	span.AddEvent("Finished broadcasting the change event", trace.WithAttributes(
		attribute.Int("peers", result.Delivered),
	))

	entry, err := journal.NewEntry(addr, id, c)
	if err == nil {
		err = s.journal.Record(ctx, entry)
	}
	if err != nil {
		s.metrics.JournalFailures.Inc()
		log.Warn("journal record failed", zap.Error(err))
	}
}
