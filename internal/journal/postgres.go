package journal

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
)

// PostgresConfig holds PostgreSQL connection configuration.
type PostgresConfig struct {
	URL      string `yaml:"url"`
	MaxConns int    `yaml:"max_conns"`
	MinConns int    `yaml:"min_conns"`
}

// Postgres persists journal events in PostgreSQL.
type Postgres struct {
	db *sql.DB
}

// NewPostgres opens the database and verifies connectivity.
func NewPostgres(ctx context.Context, cfg PostgresConfig) (*Postgres, error) {
	db, err := sql.Open("postgres", cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if cfg.MaxConns > 0 {
		db.SetMaxOpenConns(cfg.MaxConns)
	} else {
		db.SetMaxOpenConns(10)
	}
	if cfg.MinConns > 0 {
		db.SetMaxIdleConns(cfg.MinConns)
	} else {
		db.SetMaxIdleConns(2)
	}
	db.SetConnMaxLifetime(time.Hour)
	db.SetConnMaxIdleTime(30 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Postgres{db: db}, nil
}

// DB exposes the underlying handle for migrations.
func (p *Postgres) DB() *sql.DB {
	return p.db
}

// Close closes the database connection.
func (p *Postgres) Close() error {
	return p.db.Close()
}

// Record inserts an event.
func (p *Postgres) Record(ctx context.Context, ev Event) error {
	fill(&ev)

	query := `
		INSERT INTO connection_events (id, kind, state, category, detail, failure_count, occurred_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err := p.db.ExecContext(
		ctx,
		query,
		ev.ID,
		string(ev.Kind),
		ev.State,
		ev.Category,
		ev.Detail,
		ev.FailureCount,
		ev.At,
	)
	if err != nil {
		return fmt.Errorf("failed to record event: %w", err)
	}
	return nil
}

// Recent returns up to limit events, newest first.
func (p *Postgres) Recent(ctx context.Context, limit int) ([]Event, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `
		SELECT id, kind, state, category, detail, failure_count, occurred_at
		FROM connection_events
		ORDER BY occurred_at DESC
		LIMIT $1
	`
	rows, err := p.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var ev Event
		var kind string
		if err := rows.Scan(&ev.ID, &kind, &ev.State, &ev.Category, &ev.Detail, &ev.FailureCount, &ev.At); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		ev.Kind = EventKind(kind)
		events = append(events, ev)
	}
	return events, rows.Err()
}
