package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/ElLumy/chameleon/api/schemas"
)

const sqliteSchema = `
	CREATE TABLE IF NOT EXISTS profiles (
		id TEXT PRIMARY KEY,
		archetype TEXT NOT NULL,
		seed TEXT NOT NULL,
		generation INTEGER NOT NULL,
		created_at INTEGER NOT NULL,
		body TEXT NOT NULL
	);
	CREATE TABLE IF NOT EXISTS visits (
		url TEXT NOT NULL,
		visited_at INTEGER NOT NULL
	);
	CREATE TABLE IF NOT EXISTS settings (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL,
		updated_at INTEGER NOT NULL
	);
	CREATE TABLE IF NOT EXISTS store_info (
		id INTEGER PRIMARY KEY CHECK (id = 1),
		started_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_profiles_created_at ON profiles(created_at);
`

// SQLite is the local, single-file implementation of Repository.
type SQLite struct {
	db  *sql.DB
	log *zap.Logger
}

// NewSQLite opens (or creates) the database at path and prepares its schema.
func NewSQLite(ctx context.Context, path string, logger *zap.Logger) (*SQLite, error) {
	path = filepath.Clean(path)
	if strings.TrimSpace(path) == "" || path == "." {
		return nil, errors.New("sqlite path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create store dir: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	dsn := path + "?" + url.Values{
		"_pragma": []string{
			"busy_timeout(30000)",
			"journal_mode(WAL)",
			"synchronous(NORMAL)",
		},
	}.Encode()

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open store db: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	s := &SQLite{db: db, log: logger.Named("store")}
	if err := s.initSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	s.log.Debug("SQLite store ready", zap.String("path", path))
	return s, nil
}

func (s *SQLite) initSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, sqliteSchema); err != nil {
		return fmt.Errorf("init store schema: %w", err)
	}
	if _, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO store_info (id, started_at) VALUES (1, ?)`,
		time.Now().UTC().UnixMilli(),
	); err != nil {
		return fmt.Errorf("record start time: %w", err)
	}
	return nil
}

// RecordProfile stores p. Recording the same profile twice is a no-op.
func (s *SQLite) RecordProfile(ctx context.Context, p *schemas.Profile) error {
	if err := validProfile(p); err != nil {
		return err
	}
	body, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("encode profile: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO profiles (id, archetype, seed, generation, created_at, body) VALUES (?, ?, ?, ?, ?, ?)`,
		p.ID, p.Archetype, p.Seed, p.Generation, p.CreatedAt.UTC().UnixMilli(), string(body),
	)
	if err != nil {
		return fmt.Errorf("insert profile %s: %w", p.ID, err)
	}
	return nil
}

// RecordVisit counts a visited site.
func (s *SQLite) RecordVisit(ctx context.Context, u string) error {
	if u == "" {
		return errors.New("visit needs a url")
	}
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO visits (url, visited_at) VALUES (?, ?)`, u, time.Now().UTC().UnixMilli(),
	); err != nil {
		return fmt.Errorf("insert visit: %w", err)
	}
	return nil
}

// Statistics returns the usage counters.
func (s *SQLite) Statistics(ctx context.Context) (schemas.Statistics, error) {
	var stats schemas.Statistics
	var started sql.NullInt64
	err := s.db.QueryRowContext(ctx, `
		SELECT
			(SELECT count(*) FROM profiles),
			(SELECT count(*) FROM visits),
			(SELECT started_at FROM store_info WHERE id = 1)`,
	).Scan(&stats.ProfilesGenerated, &stats.SitesVisited, &started)
	if err != nil {
		return schemas.Statistics{}, fmt.Errorf("query statistics: %w", err)
	}
	if started.Valid {
		stats.StartTime = time.UnixMilli(started.Int64).UTC()
	}
	return stats, nil
}

// Export returns every recorded profile, oldest first.
func (s *SQLite) Export(ctx context.Context) ([]schemas.Profile, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT body FROM profiles ORDER BY created_at ASC, generation ASC`)
	if err != nil {
		return nil, fmt.Errorf("query profiles: %w", err)
	}
	defer rows.Close()

	var out []schemas.Profile
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, fmt.Errorf("scan profile row: %w", err)
		}
		var p schemas.Profile
		if err := json.Unmarshal([]byte(body), &p); err != nil {
			return nil, fmt.Errorf("decode profile: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// GetSetting reads one setting.
func (s *SQLite) GetSetting(ctx context.Context, key string) (string, bool, error) {
	if err := validKey(key); err != nil {
		return "", false, err
	}
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM settings WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("read setting %s: %w", key, err)
	}
	return value, true, nil
}

// PutSetting writes one setting.
func (s *SQLite) PutSetting(ctx context.Context, key, value string) error {
	if err := validKey(key); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO settings (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, time.Now().UTC().UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("write setting %s: %w", key, err)
	}
	return nil
}

// Close closes the database.
func (s *SQLite) Close() error {
	return s.db.Close()
}
