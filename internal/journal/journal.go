// Package journal records relayed and sent changes for later inspection.
// A journal is a side channel: failing to record a change never blocks or
// fails its delivery.
package journal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/Eldolfin/codlab/internal/protocol"
)

// Entry is one recorded change.
type Entry struct {
	ChangeID     uuid.UUID         `json:"change_id"`
	Origin       string            `json:"origin"`
	ClientID     uint32            `json:"client_id,omitempty"`
	DocumentURI  string            `json:"uri"`
	Version      int32             `json:"version"`
	Payload      json.RawMessage   `json:"payload"`
	TraceContext map[string]string `json:"trace_context,omitempty"`
	RecordedAt   time.Time         `json:"recorded_at"`
}

// NewEntry builds an entry for change as seen from origin. Payload holds the
// change encoded as on the wire.
func NewEntry(origin string, clientID uint32, change protocol.Change) (Entry, error) {
	payload, err := json.Marshal(change)
	if err != nil {
		return Entry{}, fmt.Errorf("encoding change %s: %w", change.ID, err)
	}
	return Entry{
		ChangeID:     change.ID,
		Origin:       origin,
		ClientID:     clientID,
		DocumentURI:  change.Change.TextDocument.URI,
		Version:      change.Change.TextDocument.Version,
		Payload:      payload,
		TraceContext: change.TraceContext,
		RecordedAt:   time.Now().UTC(),
	}, nil
}

// Journal is a change sink.
type Journal interface {
	Record(ctx context.Context, e Entry) error
	Close() error
}

// Nop discards every entry.
type Nop struct{}

func (Nop) Record(context.Context, Entry) error { return nil }
func (Nop) Close() error                        { return nil }

// Multi records to every journal in order and joins their errors.
type Multi []Journal

func (m Multi) Record(ctx context.Context, e Entry) error {
	var errs []error
	for _, j := range m {
		if err := j.Record(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m Multi) Close() error {
	var errs []error
	for _, j := range m {
		if err := j.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
