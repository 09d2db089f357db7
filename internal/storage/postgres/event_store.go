// Package postgres persists request lifecycle events in Postgres.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/fetchqueue/internal/progress"
	"github.com/JakeFAU/fetchqueue/internal/store"
)

const (
	defaultTable  = "request_events"
	eventColumns  = 11
	defaultListed = 100
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// EventStoreConfig controls the Postgres connection pool used for event rows.
type EventStoreConfig struct {
	DSN             string
	Table           string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type pgxIface interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Query(context.Context, string, ...any) (pgx.Rows, error)
	Close()
}

// EventStore implements store.EventRepository.
type EventStore struct {
	pool  pgxIface
	table string
}

var _ store.EventRepository = (*EventStore)(nil)

// NewEventStore connects to Postgres using cfg.
func NewEventStore(ctx context.Context, cfg EventStoreConfig) (*EventStore, error) {
	if cfg.DSN == "" {
		return nil, errors.New("database.dsn is required")
	}
	table, err := tableName(cfg.Table)
	if err != nil {
		return nil, err
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &EventStore{pool: pool, table: table}, nil
}

// NewEventStoreWithPool constructs a store from an existing pool (primarily for testing).
func NewEventStoreWithPool(pool pgxIface, table string) (*EventStore, error) {
	if pool == nil {
		return nil, errors.New("pool is required")
	}
	name, err := tableName(table)
	if err != nil {
		return nil, err
	}
	return &EventStore{pool: pool, table: name}, nil
}

func tableName(table string) (string, error) {
	if table == "" {
		table = defaultTable
	}
	if !validTableName.MatchString(table) {
		return "", fmt.Errorf("invalid table name %q", table)
	}
	return table, nil
}

// Close releases the underlying pool resources.
func (s *EventStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// RecordEvents inserts the batch with a single multi-row INSERT.
func (s *EventStore) RecordEvents(ctx context.Context, batch []progress.Event) error {
	if s == nil || s.pool == nil {
		return errors.New("event store is not configured")
	}
	if len(batch) == 0 {
		return nil
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, `INSERT INTO %s (
	request_id, stage, ts, limiter_key, site, url, attempt, bytes, status_class, duration_ms, note
) VALUES `, s.table)
	args := make([]any, 0, len(batch)*eventColumns)
	for i, evt := range batch {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteByte('(')
		for c := 0; c < eventColumns; c++ {
			if c > 0 {
				sb.WriteByte(',')
			}
			fmt.Fprintf(&sb, "$%d", i*eventColumns+c+1)
		}
		sb.WriteByte(')')
		args = append(args,
			evt.RequestUUID(),
			string(evt.Stage),
			evt.TS,
			evt.Limiter,
			evt.Site,
			evt.URL,
			evt.Attempt,
			evt.Bytes,
			string(evt.StatusClass),
			evt.Dur.Milliseconds(),
			evt.Note,
		)
	}
	if _, err := s.pool.Exec(ctx, sb.String(), args...); err != nil {
		return fmt.Errorf("insert request events: %w", err)
	}
	return nil
}

// ListRequestEvents loads the events of one request, oldest first.
func (s *EventStore) ListRequestEvents(ctx context.Context, requestID uuid.UUID, limit int) ([]store.EventRecord, error) {
	if limit <= 0 {
		limit = defaultListed
	}
	query := fmt.Sprintf(`
		SELECT request_id, stage, ts, limiter_key, site, url, attempt, bytes, status_class, duration_ms, note
		FROM %s
		WHERE request_id = $1
		ORDER BY ts ASC
		LIMIT $2;
	`, s.table)
	rows, err := s.pool.Query(ctx, query, requestID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list request events: %w", err)
	}
	defer rows.Close()

	var records []store.EventRecord
	for rows.Next() {
		var (
			rec   store.EventRecord
			stage string
			durMS int64
		)
		if err := rows.Scan(
			&rec.RequestID,
			&stage,
			&rec.At,
			&rec.Limiter,
			&rec.Site,
			&rec.URL,
			&rec.Attempt,
			&rec.Bytes,
			&rec.StatusClass,
			&durMS,
			&rec.Note,
		); err != nil {
			return nil, fmt.Errorf("failed to scan request event row: %w", err)
		}
		rec.Stage = progress.Stage(stage)
		rec.Duration = time.Duration(durMS) * time.Millisecond
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate request events: %w", err)
	}
	if len(records) == 0 {
		return nil, store.ErrNotFound
	}
	return records, nil
}
