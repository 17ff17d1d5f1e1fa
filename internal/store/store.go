// Package store persists settings and usage statistics: the profiles that
// were generated, the sites visited and opaque key/value settings.
package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/ElLumy/chameleon/api/schemas"
	"github.com/ElLumy/chameleon/internal/config"
)

// ErrDisabled is returned by Open when no driver is configured.
var ErrDisabled = errors.New("store disabled")

// Repository is the settings and statistics store.
type Repository interface {
	RecordProfile(ctx context.Context, p *schemas.Profile) error
	RecordVisit(ctx context.Context, url string) error
	Statistics(ctx context.Context) (schemas.Statistics, error)
	// Export returns every recorded profile, oldest first.
	Export(ctx context.Context) ([]schemas.Profile, error)
	// GetSetting reports whether key is set.
	GetSetting(ctx context.Context, key string) (string, bool, error)
	PutSetting(ctx context.Context, key, value string) error
	Close() error
}

// Open connects the backend selected by cfg.Driver and prepares its schema.
func Open(ctx context.Context, cfg config.StoreConfig, logger *zap.Logger) (Repository, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	switch cfg.Driver {
	case "":
		return nil, ErrDisabled
	case "postgres":
		pool, err := pgxpool.New(ctx, cfg.PostgresURL)
		if err != nil {
			return nil, fmt.Errorf("failed to create database pool: %w", err)
		}
		s, err := NewPostgres(ctx, pool, logger)
		if err != nil {
			pool.Close()
			return nil, err
		}
		if err := s.Migrate(ctx); err != nil {
			pool.Close()
			return nil, err
		}
		return s, nil
	case "sqlite":
		return NewSQLite(ctx, cfg.SQLitePath, logger)
	}
	return nil, fmt.Errorf("unsupported store driver %q", cfg.Driver)
}

func validProfile(p *schemas.Profile) error {
	if p == nil || p.ID == "" {
		return errors.New("profile needs an id")
	}
	return nil
}

func validKey(key string) error {
	if key == "" {
		return errors.New("setting key must not be empty")
	}
	return nil
}
