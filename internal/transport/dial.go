package transport

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// DialOptions controls connection setup to the relay.
type DialOptions struct {
	// Attempts is the total number of dial attempts, at least one.
	Attempts int
	// WriteTimeout is passed to NewConn.
	WriteTimeout time.Duration
	Logger       *zap.Logger
}

// Dial connects to the relay at url, retrying with exponential backoff.
// Retries only cover connection setup: once connected nothing is retried.
func Dial(ctx context.Context, url string, opts DialOptions) (*Conn, error) {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	attempts := opts.Attempts
	if attempts < 1 {
		attempts = 1
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 100 * time.Millisecond
	policy.MaxInterval = 2 * time.Second
	b := backoff.WithContext(backoff.WithMaxRetries(policy, uint64(attempts-1)), ctx)

	var ws *websocket.Conn
	err := backoff.RetryNotify(func() error {
		conn, resp, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
		if resp != nil && resp.Body != nil {
			resp.Body.Close()
		}
		if err != nil {
			return err
		}
		ws = conn
		return nil
	}, b, func(err error, wait time.Duration) {
		log.Warn("relay dial failed, retrying", zap.String("url", url), zap.Duration("wait", wait), zap.Error(err))
	})
	if err != nil {
		return nil, fmt.Errorf("could not connect to relay %s: %w", url, err)
	}
	log.Info("connected to relay", zap.String("url", url))
	return NewConn(ws, opts.WriteTimeout), nil
}
