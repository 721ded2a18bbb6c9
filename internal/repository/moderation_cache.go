package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"safetunes/internal/models"
)

// ModerationCacheRepository defines the interface for lyric and review cache operations
type ModerationCacheRepository interface {
	GetByContentID(ctx context.Context, reviewType models.ReviewType, contentID string) (*models.ModerationCacheEntry, error)
	// FindLyricsByKey returns the oldest entry with lyric text under the normalized key.
	FindLyricsByKey(ctx context.Context, normalizedKey string) (*models.ModerationCacheEntry, error)
	// FindReviewByKey returns the oldest completed review of reviewType under the normalized key.
	FindReviewByKey(ctx context.Context, reviewType models.ReviewType, normalizedKey string) (*models.ModerationCacheEntry, error)
	// InsertLyricsOnly stores lyric text unless an entry with lyrics already exists under the key.
	InsertLyricsOnly(ctx context.Context, entry *models.ModerationCacheEntry) (bool, error)
	InsertReview(ctx context.Context, entry *models.ModerationCacheEntry) (bool, error)
	RecordHit(ctx context.Context, id string, at time.Time) error
	Stats(ctx context.Context) (entries int64, reuse int64, err error)
	TopReused(ctx context.Context, limit int) ([]*models.ModerationCacheEntry, error)
}

const moderationColumns = `seq, id, review_type, content_id, track_name, artist_name, normalized_key, state,
	lyrics, payload, model, times_reused, created_at, reviewed_at, last_accessed_at`

type moderationCacheRepository struct {
	db     sqlx.ExtContext
	logger *zap.Logger
}

func (r *moderationCacheRepository) GetByContentID(ctx context.Context, reviewType models.ReviewType, contentID string) (*models.ModerationCacheEntry, error) {
	var entry models.ModerationCacheEntry
	query := r.db.Rebind(`SELECT ` + moderationColumns + ` FROM moderation_cache WHERE review_type = ? AND content_id = ?`)

	if err := sqlx.GetContext(ctx, r.db, &entry, query, reviewType, contentID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		r.logger.Error("Failed to get moderation entry",
			zap.String("review_type", string(reviewType)),
			zap.String("content_id", contentID),
			zap.Error(err))
		return nil, err
	}

	if err := decodePayload(&entry); err != nil {
		return nil, err
	}
	return &entry, nil
}

func (r *moderationCacheRepository) FindLyricsByKey(ctx context.Context, normalizedKey string) (*models.ModerationCacheEntry, error) {
	var entry models.ModerationCacheEntry
	query := r.db.Rebind(`
		SELECT ` + moderationColumns + `
		FROM moderation_cache
		WHERE normalized_key = ? AND lyrics <> ''
		ORDER BY seq
		LIMIT 1
	`)

	if err := sqlx.GetContext(ctx, r.db, &entry, query, normalizedKey); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		r.logger.Error("Failed to find lyrics", zap.String("key", normalizedKey), zap.Error(err))
		return nil, err
	}

	if err := decodePayload(&entry); err != nil {
		return nil, err
	}
	return &entry, nil
}

func (r *moderationCacheRepository) FindReviewByKey(ctx context.Context, reviewType models.ReviewType, normalizedKey string) (*models.ModerationCacheEntry, error) {
	var entry models.ModerationCacheEntry
	query := r.db.Rebind(`
		SELECT ` + moderationColumns + `
		FROM moderation_cache
		WHERE review_type = ? AND normalized_key = ? AND state = ?
		ORDER BY seq
		LIMIT 1
	`)

	if err := sqlx.GetContext(ctx, r.db, &entry, query, reviewType, normalizedKey, models.EntryReviewed); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		r.logger.Error("Failed to find review", zap.String("key", normalizedKey), zap.Error(err))
		return nil, err
	}

	if err := decodePayload(&entry); err != nil {
		return nil, err
	}
	return &entry, nil
}

func (r *moderationCacheRepository) InsertLyricsOnly(ctx context.Context, entry *models.ModerationCacheEntry) (bool, error) {
	existing, err := r.FindLyricsByKey(ctx, entry.NormalizedKey)
	if err != nil {
		return false, err
	}
	if existing != nil {
		return false, nil
	}

	entry.State = models.EntryLyricsOnly
	entry.ContentID = nil
	return r.insert(ctx, entry)
}

func (r *moderationCacheRepository) InsertReview(ctx context.Context, entry *models.ModerationCacheEntry) (bool, error) {
	if entry.Song == nil && entry.Album == nil {
		return false, fmt.Errorf("review entry %s has no verdict", entry.ID)
	}

	var (
		payload []byte
		err     error
	)
	if entry.ReviewType == models.ReviewAlbum {
		payload, err = json.Marshal(entry.Album)
	} else {
		payload, err = json.Marshal(entry.Song)
	}
	if err != nil {
		return false, fmt.Errorf("failed to encode review: %w", err)
	}

	entry.Payload = string(payload)
	entry.State = models.EntryReviewed
	return r.insert(ctx, entry)
}

func (r *moderationCacheRepository) insert(ctx context.Context, entry *models.ModerationCacheEntry) (bool, error) {
	query := r.db.Rebind(`
		INSERT INTO moderation_cache (id, review_type, content_id, track_name, artist_name, normalized_key, state,
			lyrics, payload, model, times_reused, created_at, reviewed_at, last_accessed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT DO NOTHING
	`)

	result, err := r.db.ExecContext(ctx, query,
		entry.ID,
		entry.ReviewType,
		entry.ContentID,
		entry.TrackName,
		entry.ArtistName,
		entry.NormalizedKey,
		entry.State,
		entry.Lyrics,
		entry.Payload,
		entry.Model,
		entry.TimesReused,
		entry.CreatedAt,
		entry.ReviewedAt,
		entry.LastAccessedAt,
	)
	if err != nil {
		r.logger.Error("Failed to insert moderation entry",
			zap.String("state", string(entry.State)),
			zap.String("key", entry.NormalizedKey),
			zap.Error(err))
		return false, fmt.Errorf("failed to insert moderation entry: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return rows == 1, nil
}

func (r *moderationCacheRepository) RecordHit(ctx context.Context, id string, at time.Time) error {
	query := r.db.Rebind(`UPDATE moderation_cache SET times_reused = times_reused + 1, last_accessed_at = ? WHERE id = ?`)

	if _, err := r.db.ExecContext(ctx, query, at, id); err != nil {
		r.logger.Error("Failed to record cache hit", zap.String("id", id), zap.Error(err))
		return err
	}
	return nil
}

func (r *moderationCacheRepository) Stats(ctx context.Context) (int64, int64, error) {
	var row struct {
		Entries int64 `db:"entries"`
		Reuse   int64 `db:"reuse"`
	}
	query := `SELECT COUNT(*) AS entries, COALESCE(SUM(times_reused), 0) AS reuse FROM moderation_cache`

	if err := sqlx.GetContext(ctx, r.db, &row, query); err != nil {
		r.logger.Error("Failed to aggregate cache stats", zap.Error(err))
		return 0, 0, err
	}
	return row.Entries, row.Reuse, nil
}

func (r *moderationCacheRepository) TopReused(ctx context.Context, limit int) ([]*models.ModerationCacheEntry, error) {
	var entries []*models.ModerationCacheEntry
	query := r.db.Rebind(`
		SELECT ` + moderationColumns + `
		FROM moderation_cache
		ORDER BY times_reused DESC, seq ASC
		LIMIT ?
	`)

	if err := sqlx.SelectContext(ctx, r.db, &entries, query, limit); err != nil {
		return nil, err
	}
	for _, e := range entries {
		if err := decodePayload(e); err != nil {
			return nil, err
		}
	}
	return entries, nil
}

// decodePayload fills the verdict of reviewed entries. Lyric-only entries carry none.
func decodePayload(entry *models.ModerationCacheEntry) error {
	if entry.State != models.EntryReviewed || entry.Payload == "" {
		return nil
	}

	switch entry.ReviewType {
	case models.ReviewAlbum:
		var album models.AlbumOverview
		if err := json.Unmarshal([]byte(entry.Payload), &album); err != nil {
			return fmt.Errorf("failed to decode album overview %s: %w", entry.ID, err)
		}
		entry.Album = &album
	default:
		var song models.SongReview
		if err := json.Unmarshal([]byte(entry.Payload), &song); err != nil {
			return fmt.Errorf("failed to decode song review %s: %w", entry.ID, err)
		}
		entry.Song = &song
	}
	return nil
}
