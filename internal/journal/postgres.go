package journal

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

var postgresSchema = []string{`
CREATE TABLE IF NOT EXISTS relay_changes (
	seq           BIGSERIAL PRIMARY KEY,
	change_id     UUID NOT NULL,
	origin        TEXT NOT NULL,
	client_id     BIGINT NOT NULL,
	uri           TEXT NOT NULL,
	version       INTEGER NOT NULL,
	payload       JSONB NOT NULL,
	trace_context JSONB,
	recorded_at   TIMESTAMPTZ NOT NULL
)`,
	`CREATE INDEX IF NOT EXISTS relay_changes_uri_idx ON relay_changes (uri, seq)`,
}

// Postgres records changes in the relay_changes table.
type Postgres struct {
	pool *pgxpool.Pool
}

// OpenPostgres connects to dsn and creates the schema if needed.
func OpenPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("unable to connect to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("unable to reach database: %w", err)
	}
	for _, stmt := range postgresSchema {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			pool.Close()
			return nil, fmt.Errorf("creating journal schema: %w", err)
		}
	}
	return &Postgres{pool: pool}, nil
}

func (p *Postgres) Record(ctx context.Context, e Entry) error {
	tc, err := json.Marshal(e.TraceContext)
	if err != nil {
		return err
	}
	_, err = p.pool.Exec(ctx,
		`INSERT INTO relay_changes (change_id, origin, client_id, uri, version, payload, trace_context, recorded_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		e.ChangeID.String(), e.Origin, int64(e.ClientID), e.DocumentURI, e.Version,
		string(e.Payload), string(tc), e.RecordedAt,
	)
	if err != nil {
		return fmt.Errorf("recording change %s: %w", e.ChangeID, err)
	}
	return nil
}

// Count returns the number of entries recorded for uri.
func (p *Postgres) Count(ctx context.Context, uri string) (int, error) {
	var n int
	err := p.pool.QueryRow(ctx, `SELECT count(*) FROM relay_changes WHERE uri = $1`, uri).Scan(&n)
	return n, err
}

func (p *Postgres) Close() error {
	p.pool.Close()
	return nil
}
