package journal

import (
	"context"
	"fmt"

	"github.com/Eldolfin/codlab/internal/config"
)

// Open builds the relay journal selected by cfg. With mirrors configured the
// result is a Multi recording to the primary driver first.
func Open(ctx context.Context, cfg config.RelayJournal) (Journal, error) {
	primary, err := open(ctx, cfg)
	if err != nil || len(cfg.Mirrors) == 0 {
		return primary, err
	}
	multi := Multi{primary}
	for _, m := range cfg.Mirrors {
		j, err := open(ctx, m)
		if err != nil {
			_ = multi.Close()
			return nil, fmt.Errorf("opening %s journal mirror: %w", m.Driver, err)
		}
		multi = append(multi, j)
	}
	return multi, nil
}

func open(ctx context.Context, cfg config.RelayJournal) (Journal, error) {
	var (
		j   Journal
		err error
	)
	switch cfg.Driver {
	case "", config.JournalNone:
		return Nop{}, nil
	case config.JournalMemory:
		return NewMemory(), nil
	case config.JournalPostgres:
		var p *Postgres
		p, err = OpenPostgres(ctx, cfg.DSN)
		j = p
	case config.JournalRedis:
		var r *Redis
		r, err = OpenRedis(ctx, cfg.DSN)
		j = r
	case config.JournalSQLite:
		var s *SQLite
		s, err = OpenSQLite(cfg.DSN)
		j = s
	default:
		return nil, fmt.Errorf("%w: unknown journal driver %q", config.ErrInvalidConfig, cfg.Driver)
	}
	if err != nil {
		return nil, err
	}
	return j, nil
}
