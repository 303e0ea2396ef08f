// Package lsp is the bridge's Language Server Protocol front end. The editor
// starts the bridge as its language server; document changes flow in as
// notifications and remote changes go out as workspace/applyEdit requests.
package lsp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"go.lsp.dev/jsonrpc2"
	"go.lsp.dev/protocol"
	"go.uber.org/zap"

	"github.com/Eldolfin/codlab/internal/bridge"
	codlab "github.com/Eldolfin/codlab/internal/protocol"
)

// Bridge is the part of *bridge.Bridge the front end drives.
type Bridge interface {
	Initialize(editor bridge.Editor) error
	OnLocalChange(ctx context.Context, batch codlab.ChangeBatch) error
	Shutdown()
}

// served lists the methods answered by languageServer. Everything else gets
// MethodNotFound before reaching protocol.ServerHandler.
var served = map[string]bool{
	protocol.MethodInitialize:            true,
	protocol.MethodInitialized:           true,
	protocol.MethodShutdown:              true,
	protocol.MethodExit:                  true,
	protocol.MethodTextDocumentDidOpen:   true,
	protocol.MethodTextDocumentDidChange: true,
	protocol.MethodTextDocumentDidClose:  true,
}

// Server serves one editor connection.
type Server struct {
	conn    jsonrpc2.Conn
	bridge  Bridge
	editor  *Editor
	log     *zap.Logger
	version string

	shutdown atomic.Bool
	exited   chan struct{}
	exitOnce sync.Once
}

// NewServer returns a server speaking JSON-RPC over rwc. Nothing is read
// until Run.
func NewServer(rwc io.ReadWriteCloser, b Bridge, log *zap.Logger, version string) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	conn := jsonrpc2.NewConn(jsonrpc2.NewStream(rwc))
	return &Server{
		conn:    conn,
		bridge:  b,
		editor:  NewEditor(conn, log),
		log:     log,
		version: version,
		exited:  make(chan struct{}),
	}
}

// Editor returns the client used to push edits to the editor.
func (s *Server) Editor() *Editor {
	return s.editor
}

// Run handles requests until the editor sends exit, closes the stream or ctx
// is cancelled. The bridge is shut down when Run returns.
func (s *Server) Run(ctx context.Context) error {
	s.conn.Go(ctx, s.handler())

	select {
	case <-s.conn.Done():
	case <-s.exited:
		_ = s.conn.Close()
		<-s.conn.Done()
	case <-ctx.Done():
		_ = s.conn.Close()
		<-s.conn.Done()
	}
	s.bridge.Shutdown()

	select {
	case <-s.exited:
		return nil
	default:
	}
	if ctx.Err() != nil {
		return nil
	}
	if err := s.conn.Err(); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("editor connection: %w", err)
	}
	return nil
}

// handler runs in the connection's read loop, so notifications reach the
// bridge in the order the editor sent them.
func (s *Server) handler() jsonrpc2.Handler {
	dispatch := protocol.ServerHandler(languageServer{s: s}, jsonrpc2.MethodNotFoundHandler)
	return func(ctx context.Context, reply jsonrpc2.Replier, req jsonrpc2.Request) error {
		if s.shutdown.Load() && req.Method() != protocol.MethodExit {
			return reply(ctx, nil, fmt.Errorf("%w: server is shutting down", jsonrpc2.ErrInvalidRequest))
		}
		if !served[req.Method()] {
			return jsonrpc2.MethodNotFoundHandler(ctx, reply, req)
		}
		if req.Method() == protocol.MethodTextDocumentDidChange {
			var err error
			ctx, err = withMissingRanges(ctx, req.Params())
			if err != nil {
				return reply(ctx, nil, fmt.Errorf("%w: %v", jsonrpc2.ErrInvalidParams, err))
			}
		}
		return dispatch(ctx, reply, req)
	}
}

// languageServer implements the protocol.Server methods listed in served.
// The embedded interface is nil and never called.
type languageServer struct {
	protocol.Server
	s *Server
}

func (l languageServer) Initialize(_ context.Context, params *protocol.InitializeParams) (*protocol.InitializeResult, error) {
	log := l.s.log
	if params.ClientInfo != nil {
		log = log.With(zap.String("editor", params.ClientInfo.Name), zap.String("editor_version", params.ClientInfo.Version))
	}
	if err := l.s.bridge.Initialize(l.s.editor); err != nil {
		log.Error("initialize refused", zap.Error(err))
		return nil, fmt.Errorf("%w: %v", jsonrpc2.ErrInvalidRequest, err)
	}
	log.Info("editor initialized")
	return &protocol.InitializeResult{
		Capabilities: protocol.ServerCapabilities{
			TextDocumentSync: &protocol.TextDocumentSyncOptions{
				OpenClose: true,
				Change:    protocol.TextDocumentSyncKindIncremental,
			},
		},
		ServerInfo: &protocol.ServerInfo{Name: "codlab", Version: l.s.version},
	}, nil
}

func (l languageServer) Initialized(context.Context, *protocol.InitializedParams) error {
	return nil
}

func (l languageServer) Shutdown(context.Context) error {
	l.s.shutdown.Store(true)
	l.s.bridge.Shutdown()
	return nil
}

// Exit lets Run close the connection once the notification is handled.
func (l languageServer) Exit(context.Context) error {
	l.s.exitOnce.Do(func() { close(l.s.exited) })
	return nil
}

func (l languageServer) DidOpen(_ context.Context, params *protocol.DidOpenTextDocumentParams) error {
	l.s.log.Info("document opened",
		zap.String("uri", string(params.TextDocument.URI)),
		zap.Int32("version", params.TextDocument.Version))
	return nil
}

func (l languageServer) DidChange(ctx context.Context, params *protocol.DidChangeTextDocumentParams) error {
	batch := changeBatch(params, missingRanges(ctx))
	if err := l.s.bridge.OnLocalChange(ctx, batch); err != nil {
		l.s.log.Error("local change not forwarded",
			zap.String("uri", batch.TextDocument.URI),
			zap.Int32("version", batch.TextDocument.Version),
			zap.Error(err))
	}
	return nil
}

func (l languageServer) DidClose(_ context.Context, params *protocol.DidCloseTextDocumentParams) error {
	l.s.log.Info("document closed", zap.String("uri", string(params.TextDocument.URI)))
	return nil
}
