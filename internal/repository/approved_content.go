package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"safetunes/internal/models"
)

// ApprovedContentRepository defines the interface for the approved library the player reads
type ApprovedContentRepository interface {
	Exists(ctx context.Context, kind models.ContentKind, ownerID, childID, contentID string) (bool, error)
	// Insert adds item unless an identical unlock already exists.
	Insert(ctx context.Context, item *models.ApprovedContent) (bool, error)
	// DeleteBySource removes every row the given request's approval created.
	DeleteBySource(ctx context.Context, ownerID, sourceRequestID string) (int64, error)
	GetByID(ctx context.Context, id string) (*models.ApprovedContent, error)
	// List returns the owner's library; a non-empty childID narrows it to what that child can play.
	List(ctx context.Context, ownerID, childID string) ([]*models.ApprovedContent, error)
	SetHideArtwork(ctx context.Context, id, ownerID string, hide bool) (bool, error)

	HasAlbumTracks(ctx context.Context, ownerID, albumID string) (bool, error)
	InsertAlbumTracks(ctx context.Context, tracks []models.AlbumTrack) error
	ListAlbumTracks(ctx context.Context, ownerID, albumID string) ([]models.AlbumTrack, error)
}

const approvedColumns = `id, kind, owner_id, child_id, content_id, name, artist, album_name,
	artwork_url, hide_artwork, source_request_id, approved_at`

type approvedContentRepository struct {
	db     sqlx.ExtContext
	logger *zap.Logger
}

func (r *approvedContentRepository) Exists(ctx context.Context, kind models.ContentKind, ownerID, childID, contentID string) (bool, error) {
	var count int
	query := r.db.Rebind(`
		SELECT COUNT(*) FROM approved_content
		WHERE kind = ? AND owner_id = ? AND child_id = ? AND content_id = ?
	`)

	if err := sqlx.GetContext(ctx, r.db, &count, query, kind, ownerID, childID, contentID); err != nil {
		r.logger.Error("Failed to check approved content",
			zap.String("owner_id", ownerID),
			zap.String("content_id", contentID),
			zap.Error(err))
		return false, err
	}
	return count > 0, nil
}

func (r *approvedContentRepository) Insert(ctx context.Context, item *models.ApprovedContent) (bool, error) {
	query := r.db.Rebind(`
		INSERT INTO approved_content (` + approvedColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT DO NOTHING
	`)

	result, err := r.db.ExecContext(ctx, query,
		item.ID,
		item.Kind,
		item.OwnerID,
		item.ChildID,
		item.ContentID,
		item.Name,
		item.Artist,
		item.AlbumName,
		item.ArtworkURL,
		item.HideArtwork,
		item.SourceRequestID,
		item.ApprovedAt,
	)
	if err != nil {
		r.logger.Error("Failed to insert approved content",
			zap.String("kind", string(item.Kind)),
			zap.String("content_id", item.ContentID),
			zap.Error(err))
		return false, fmt.Errorf("failed to insert approved content: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return rows == 1, nil
}

func (r *approvedContentRepository) DeleteBySource(ctx context.Context, ownerID, sourceRequestID string) (int64, error) {
	query := r.db.Rebind(`
		DELETE FROM approved_content
		WHERE owner_id = ? AND source_request_id = ?
	`)

	result, err := r.db.ExecContext(ctx, query, ownerID, sourceRequestID)
	if err != nil {
		r.logger.Error("Failed to delete approved content",
			zap.String("owner_id", ownerID),
			zap.String("source_request_id", sourceRequestID),
			zap.Error(err))
		return 0, err
	}
	return result.RowsAffected()
}

func (r *approvedContentRepository) GetByID(ctx context.Context, id string) (*models.ApprovedContent, error) {
	var item models.ApprovedContent
	query := r.db.Rebind(`SELECT ` + approvedColumns + ` FROM approved_content WHERE id = ?`)

	if err := sqlx.GetContext(ctx, r.db, &item, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &item, nil
}

func (r *approvedContentRepository) List(ctx context.Context, ownerID, childID string) ([]*models.ApprovedContent, error) {
	var (
		items []*models.ApprovedContent
		err   error
	)
	if childID == "" {
		query := r.db.Rebind(`SELECT ` + approvedColumns + ` FROM approved_content WHERE owner_id = ? ORDER BY approved_at DESC, id`)
		err = sqlx.SelectContext(ctx, r.db, &items, query, ownerID)
	} else {
		query := r.db.Rebind(`
			SELECT ` + approvedColumns + ` FROM approved_content
			WHERE owner_id = ? AND (child_id = ? OR child_id = '')
			ORDER BY approved_at DESC, id
		`)
		err = sqlx.SelectContext(ctx, r.db, &items, query, ownerID, childID)
	}
	if err != nil {
		r.logger.Error("Failed to list approved content", zap.String("owner_id", ownerID), zap.Error(err))
		return nil, err
	}
	return items, nil
}

func (r *approvedContentRepository) SetHideArtwork(ctx context.Context, id, ownerID string, hide bool) (bool, error) {
	query := r.db.Rebind(`UPDATE approved_content SET hide_artwork = ? WHERE id = ? AND owner_id = ?`)

	result, err := r.db.ExecContext(ctx, query, hide, id, ownerID)
	if err != nil {
		r.logger.Error("Failed to update artwork visibility", zap.String("id", id), zap.Error(err))
		return false, err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return rows == 1, nil
}

func (r *approvedContentRepository) HasAlbumTracks(ctx context.Context, ownerID, albumID string) (bool, error) {
	var count int
	query := r.db.Rebind(`SELECT COUNT(*) FROM album_tracks WHERE owner_id = ? AND album_id = ?`)

	if err := sqlx.GetContext(ctx, r.db, &count, query, ownerID, albumID); err != nil {
		return false, err
	}
	return count > 0, nil
}

func (r *approvedContentRepository) InsertAlbumTracks(ctx context.Context, tracks []models.AlbumTrack) error {
	query := r.db.Rebind(`
		INSERT INTO album_tracks (owner_id, album_id, content_id, name, artist, track_number, explicit, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT DO NOTHING
	`)

	for _, t := range tracks {
		if _, err := r.db.ExecContext(ctx, query,
			t.OwnerID, t.AlbumID, t.ContentID, t.Name, t.Artist, t.TrackNumber, t.Explicit, t.CreatedAt,
		); err != nil {
			r.logger.Error("Failed to insert album track",
				zap.String("album_id", t.AlbumID),
				zap.String("content_id", t.ContentID),
				zap.Error(err))
			return fmt.Errorf("failed to insert album track: %w", err)
		}
	}
	return nil
}

func (r *approvedContentRepository) ListAlbumTracks(ctx context.Context, ownerID, albumID string) ([]models.AlbumTrack, error) {
	var tracks []models.AlbumTrack
	query := r.db.Rebind(`
		SELECT owner_id, album_id, content_id, name, artist, track_number, explicit, created_at
		FROM album_tracks
		WHERE owner_id = ? AND album_id = ?
		ORDER BY track_number, content_id
	`)

	if err := sqlx.SelectContext(ctx, r.db, &tracks, query, ownerID, albumID); err != nil {
		return nil, err
	}
	return tracks, nil
}
