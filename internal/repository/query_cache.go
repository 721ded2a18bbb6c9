package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"safetunes/internal/models"
)

// QueryCacheRepository defines the interface for cached AI search and recommendation results
type QueryCacheRepository interface {
	Get(ctx context.Context, kind models.QueryKind, hash string) (*models.QueryCacheEntry, error)
	Insert(ctx context.Context, entry *models.QueryCacheEntry) (bool, error)
	RecordHit(ctx context.Context, kind models.QueryKind, hash string, at time.Time) error
}

type queryCacheRepository struct {
	db     sqlx.ExtContext
	logger *zap.Logger
}

func (r *queryCacheRepository) Get(ctx context.Context, kind models.QueryKind, hash string) (*models.QueryCacheEntry, error) {
	var entry models.QueryCacheEntry
	query := r.db.Rebind(`
		SELECT seq, kind, query_hash, params, result, times_reused, created_at, last_accessed_at
		FROM query_cache
		WHERE kind = ? AND query_hash = ?
	`)

	if err := sqlx.GetContext(ctx, r.db, &entry, query, kind, hash); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		r.logger.Error("Failed to get cached query", zap.String("kind", string(kind)), zap.Error(err))
		return nil, err
	}
	return &entry, nil
}

func (r *queryCacheRepository) Insert(ctx context.Context, entry *models.QueryCacheEntry) (bool, error) {
	query := r.db.Rebind(`
		INSERT INTO query_cache (kind, query_hash, params, result, times_reused, created_at, last_accessed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT DO NOTHING
	`)

	result, err := r.db.ExecContext(ctx, query,
		entry.Kind, entry.QueryHash, entry.Params, entry.Result, entry.TimesReused, entry.CreatedAt, entry.LastAccessedAt)
	if err != nil {
		r.logger.Error("Failed to cache query result", zap.String("kind", string(entry.Kind)), zap.Error(err))
		return false, err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return rows == 1, nil
}

func (r *queryCacheRepository) RecordHit(ctx context.Context, kind models.QueryKind, hash string, at time.Time) error {
	query := r.db.Rebind(`
		UPDATE query_cache SET times_reused = times_reused + 1, last_accessed_at = ?
		WHERE kind = ? AND query_hash = ?
	`)

	_, err := r.db.ExecContext(ctx, query, at, kind, hash)
	return err
}
