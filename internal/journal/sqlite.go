package journal

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // SQLite driver
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS relay_changes (
	seq           INTEGER PRIMARY KEY AUTOINCREMENT,
	change_id     TEXT NOT NULL,
	origin        TEXT NOT NULL,
	client_id     INTEGER NOT NULL,
	uri           TEXT NOT NULL,
	version       INTEGER NOT NULL,
	payload       TEXT NOT NULL,
	trace_context TEXT,
	recorded_at   TEXT NOT NULL
)`

// SQLite records changes in a local database file, for single-node relays.
type SQLite struct {
	db *sql.DB
}

// OpenSQLite opens or creates the database at path.
func OpenSQLite(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating journal schema: %w", err)
	}
	return &SQLite{db: db}, nil
}

func (s *SQLite) Record(ctx context.Context, e Entry) error {
	tc, err := json.Marshal(e.TraceContext)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO relay_changes (change_id, origin, client_id, uri, version, payload, trace_context, recorded_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ChangeID.String(), e.Origin, int64(e.ClientID), e.DocumentURI, int64(e.Version),
		string(e.Payload), string(tc), e.RecordedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("recording change %s: %w", e.ChangeID, err)
	}
	return nil
}

// ChangeIDs returns the ids recorded for uri in recording order.
func (s *SQLite) ChangeIDs(ctx context.Context, uri string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT change_id FROM relay_changes WHERE uri = ? ORDER BY seq`, uri)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *SQLite) Close() error {
	return s.db.Close()
}
