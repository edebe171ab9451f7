package db

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

// Connect opens a PostgreSQL connection pool. When probes is positive, the
// ivfflat.probes session parameter is appended to the connection options so
// every pooled connection starts with the configured ANN scan breadth.
func Connect(ctx context.Context, uri string, probes int) (*sqlx.DB, error) {
	if uri == "" {
		return nil, fmt.Errorf("POSTGRES_URI is required")
	}

	dsn, err := WithProbes(uri, probes)
	if err != nil {
		return nil, err
	}

	pool, err := sqlx.ConnectContext(ctx, "postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL: %w", err)
	}

	pool.SetMaxOpenConns(25)
	pool.SetMaxIdleConns(25)
	pool.SetConnMaxLifetime(5 * time.Minute)
	pool.SetConnMaxIdleTime(1 * time.Minute)

	if err := pool.PingContext(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping PostgreSQL: %w", err)
	}
	return pool, nil
}

// WithProbes appends `-c ivfflat.probes=N` to the options of a postgres://
// connection URI. probes <= 0 leaves the URI untouched.
func WithProbes(uri string, probes int) (string, error) {
	if probes <= 0 {
		return uri, nil
	}

	u, err := url.Parse(uri)
	if err != nil || u.Scheme == "" {
		// Key/value DSN form: append the options parameter directly.
		return fmt.Sprintf("%s options='-c ivfflat.probes=%d'", uri, probes), nil
	}

	q := u.Query()
	opts := q.Get("options")
	if opts != "" {
		opts += " "
	}
	opts += fmt.Sprintf("-c ivfflat.probes=%d", probes)
	q.Set("options", opts)
	u.RawQuery = q.Encode()
	return u.String(), nil
}
