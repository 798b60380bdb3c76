package ratelimit

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"registryproxy/internal/models"
	"strconv"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"
)

// Dialect selects driver name and placeholder style for SQLStore.
type Dialect string

const (
	DialectSQLite   Dialect = "sqlite"
	DialectPostgres Dialect = "postgres"
)

func (d Dialect) driverName() string {
	if d == DialectPostgres {
		return "pgx"
	}
	return "sqlite"
}

const createEventsTable = `CREATE TABLE IF NOT EXISTS rate_limit_events (
	limit_key  TEXT PRIMARY KEY,
	events     TEXT NOT NULL,
	expires_at BIGINT NOT NULL
)`

// SQLStore keeps event logs in a SQL table, one row per key. It survives
// restarts and, on Postgres, can be shared between instances.
type SQLStore struct {
	db      *sql.DB
	dialect Dialect
	now     Clock
}

// OpenSQLStore opens the database for the given store type ("sqlite" or
// "postgres") and ensures the schema exists.
func OpenSQLStore(ctx context.Context, storeType string, cfg models.DatabaseConfig) (*SQLStore, error) {
	var dialect Dialect
	switch storeType {
	case models.RateLimitStoreSQLite:
		dialect = DialectSQLite
	case models.RateLimitStorePostgres:
		dialect = DialectPostgres
	default:
		return nil, fmt.Errorf("unsupported SQL store type: %s", storeType)
	}

	db, err := sql.Open(dialect.driverName(), cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	store, err := NewSQLStore(ctx, db, dialect)
	if err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

// NewSQLStore wraps an open database and creates the events table.
func NewSQLStore(ctx context.Context, db *sql.DB, dialect Dialect) (*SQLStore, error) {
	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	if _, err := db.ExecContext(ctx, createEventsTable); err != nil {
		return nil, fmt.Errorf("failed to create rate limit table: %w", err)
	}
	return &SQLStore{db: db, dialect: dialect, now: time.Now}, nil
}

// rebind rewrites ? placeholders to $n for Postgres.
func (s *SQLStore) rebind(query string) string {
	if s.dialect != DialectPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (s *SQLStore) Get(ctx context.Context, key string) ([]int64, error) {
	var raw string
	query := s.rebind(`SELECT events FROM rate_limit_events WHERE limit_key = ? AND expires_at >= ?`)
	err := s.db.QueryRowContext(ctx, query, key, s.now().Unix()).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query event log: %w", err)
	}

	var events []int64
	if err := json.Unmarshal([]byte(raw), &events); err != nil {
		return nil, fmt.Errorf("decode event log: %w", err)
	}
	return events, nil
}

func (s *SQLStore) Set(ctx context.Context, key string, events []int64, ttl time.Duration) error {
	if events == nil {
		events = []int64{}
	}
	data, err := json.Marshal(events)
	if err != nil {
		return fmt.Errorf("encode event log: %w", err)
	}

	query := s.rebind(`INSERT INTO rate_limit_events (limit_key, events, expires_at) VALUES (?, ?, ?)
ON CONFLICT (limit_key) DO UPDATE SET events = excluded.events, expires_at = excluded.expires_at`)
	expiresAt := s.now().Add(ttl).Unix()
	if _, err := s.db.ExecContext(ctx, query, key, string(data), expiresAt); err != nil {
		return fmt.Errorf("upsert event log: %w", err)
	}
	return nil
}

// DeleteExpired removes rows whose TTL has passed and returns how many
// were deleted.
func (s *SQLStore) DeleteExpired(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, s.rebind(`DELETE FROM rate_limit_events WHERE expires_at < ?`), s.now().Unix())
	if err != nil {
		return 0, fmt.Errorf("delete expired event logs: %w", err)
	}
	return res.RowsAffected()
}

// Ping checks database connectivity for health reporting.
func (s *SQLStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLStore) Close() error {
	return s.db.Close()
}

// RunCleanup deletes expired rows every interval until ctx is done.
func (s *SQLStore) RunCleanup(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.DeleteExpired(ctx); err != nil && ctx.Err() == nil {
				slog.Warn("Failed to delete expired rate limit rows", "error", err)
			}
		}
	}
}
