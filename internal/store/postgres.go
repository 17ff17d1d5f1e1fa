package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"

	"github.com/ElLumy/chameleon/api/schemas"
)

// DBPool abstracts pgxpool.Pool so tests can use pgxmock.
type DBPool interface {
	Ping(ctx context.Context) error
	Begin(ctx context.Context) (pgx.Tx, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Close()
}

var pgSchema = []string{
	`CREATE TABLE IF NOT EXISTS profiles (
		id TEXT PRIMARY KEY,
		archetype TEXT NOT NULL,
		seed TEXT NOT NULL,
		generation INTEGER NOT NULL,
		created_at TIMESTAMPTZ NOT NULL,
		body JSONB NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS visits (
		url TEXT NOT NULL,
		visited_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS settings (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS store_info (
		id INTEGER PRIMARY KEY CHECK (id = 1),
		started_at TIMESTAMPTZ NOT NULL
	)`,
}

const (
	pgInitInfo = `INSERT INTO store_info (id, started_at) VALUES (1, $1) ON CONFLICT (id) DO NOTHING`

	pgInsertProfile = `
		INSERT INTO profiles (id, archetype, seed, generation, created_at, body)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO NOTHING`

	pgInsertVisit = `INSERT INTO visits (url, visited_at) VALUES ($1, $2)`

	pgStatistics = `
		SELECT
			(SELECT count(*) FROM profiles),
			(SELECT count(*) FROM visits),
			(SELECT started_at FROM store_info WHERE id = 1)`

	pgExport = `SELECT body FROM profiles ORDER BY created_at ASC, generation ASC`

	pgGetSetting = `SELECT value FROM settings WHERE key = $1`

	pgPutSetting = `
		INSERT INTO settings (key, value, updated_at) VALUES ($1, $2, $3)
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = EXCLUDED.updated_at`
)

// Postgres is the PostgreSQL implementation of Repository.
type Postgres struct {
	pool DBPool
	log  *zap.Logger
}

// NewPostgres creates a store and verifies the connection.
func NewPostgres(ctx context.Context, pool DBPool, logger *zap.Logger) (*Postgres, error) {
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Postgres{pool: pool, log: logger.Named("store")}, nil
}

// Migrate creates the tables and records the start time on first use.
func (s *Postgres) Migrate(ctx context.Context) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if rollbackErr := tx.Rollback(ctx); rollbackErr != nil && !errors.Is(rollbackErr, pgx.ErrTxClosed) {
			s.log.Error("Failed to rollback transaction", zap.Error(rollbackErr))
		}
	}()

	for _, stmt := range pgSchema {
		if _, err := tx.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply schema: %w", err)
		}
	}
	if _, err := tx.Exec(ctx, pgInitInfo, time.Now().UTC()); err != nil {
		return fmt.Errorf("failed to record start time: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// RecordProfile stores p. Recording the same profile twice is a no-op.
func (s *Postgres) RecordProfile(ctx context.Context, p *schemas.Profile) error {
	if err := validProfile(p); err != nil {
		return err
	}
	body, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("failed to encode profile: %w", err)
	}
	if _, err := s.pool.Exec(ctx, pgInsertProfile, p.ID, p.Archetype, p.Seed, p.Generation, p.CreatedAt, string(body)); err != nil {
		return fmt.Errorf("failed to insert profile %s: %w", p.ID, err)
	}
	return nil
}

// RecordVisit counts a visited site.
func (s *Postgres) RecordVisit(ctx context.Context, url string) error {
	if url == "" {
		return errors.New("visit needs a url")
	}
	if _, err := s.pool.Exec(ctx, pgInsertVisit, url, time.Now().UTC()); err != nil {
		return fmt.Errorf("failed to insert visit: %w", err)
	}
	return nil
}

// Statistics returns the usage counters.
func (s *Postgres) Statistics(ctx context.Context) (schemas.Statistics, error) {
	var stats schemas.Statistics
	var started *time.Time
	if err := s.pool.QueryRow(ctx, pgStatistics).Scan(&stats.ProfilesGenerated, &stats.SitesVisited, &started); err != nil {
		return schemas.Statistics{}, fmt.Errorf("failed to query statistics: %w", err)
	}
	if started != nil {
		stats.StartTime = *started
	}
	return stats, nil
}

// Export returns every recorded profile, oldest first.
func (s *Postgres) Export(ctx context.Context) ([]schemas.Profile, error) {
	rows, err := s.pool.Query(ctx, pgExport)
	if err != nil {
		return nil, fmt.Errorf("failed to query profiles: %w", err)
	}
	defer rows.Close()

	var out []schemas.Profile
	for rows.Next() {
		var body []byte
		if err := rows.Scan(&body); err != nil {
			return nil, fmt.Errorf("failed to scan profile row: %w", err)
		}
		var p schemas.Profile
		if err := json.Unmarshal(body, &p); err != nil {
			return nil, fmt.Errorf("failed to decode profile: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}
	return out, nil
}

// GetSetting reads one setting.
func (s *Postgres) GetSetting(ctx context.Context, key string) (string, bool, error) {
	if err := validKey(key); err != nil {
		return "", false, err
	}
	var value string
	err := s.pool.QueryRow(ctx, pgGetSetting, key).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to read setting %s: %w", key, err)
	}
	return value, true, nil
}

// PutSetting writes one setting.
func (s *Postgres) PutSetting(ctx context.Context, key, value string) error {
	if err := validKey(key); err != nil {
		return err
	}
	if _, err := s.pool.Exec(ctx, pgPutSetting, key, value, time.Now().UTC()); err != nil {
		return fmt.Errorf("failed to write setting %s: %w", key, err)
	}
	return nil
}

// Close releases the pool.
func (s *Postgres) Close() error {
	s.pool.Close()
	return nil
}
