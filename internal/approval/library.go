package approval

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"safetunes/internal/models"
	"safetunes/internal/repository"
)

// grant writes the approved-library rows for req and returns how many child
// song unlocks were newly added. Every insert is preceded by an existence
// check and tolerates losing a race to an identical insert.
func (e *Engine) grant(ctx context.Context, tx *repository.Store, req *models.Request, tracks []models.AlbumTrack, at time.Time) (int, error) {
	if req.Kind == models.KindSong {
		added, err := e.unlock(ctx, tx, &models.ApprovedContent{
			Kind:            models.KindSong,
			OwnerID:         req.OwnerID,
			ChildID:         req.RequesterID,
			ContentID:       req.ContentID,
			Name:            req.Name,
			Artist:          req.Artist,
			AlbumName:       req.AlbumName,
			ArtworkURL:      req.ArtworkURL,
			SourceRequestID: req.ID,
			ApprovedAt:      at,
		})
		if err != nil {
			return 0, err
		}
		if added {
			return 1, nil
		}
		return 0, nil
	}

	if _, err := e.unlock(ctx, tx, &models.ApprovedContent{
		Kind:            models.KindAlbum,
		OwnerID:         req.OwnerID,
		ContentID:       req.ContentID,
		Name:            req.Name,
		Artist:          req.Artist,
		AlbumName:       req.Name,
		ArtworkURL:      req.ArtworkURL,
		SourceRequestID: req.ID,
		ApprovedAt:      at,
	}); err != nil {
		return 0, err
	}

	tracks, err := e.albumTracks(ctx, tx, req, tracks, at)
	if err != nil {
		return 0, err
	}

	added := 0
	for _, t := range tracks {
		if t.ContentID == "" {
			continue
		}
		artist := t.Artist
		if artist == "" {
			artist = req.Artist
		}
		ok, err := e.unlock(ctx, tx, &models.ApprovedContent{
			Kind:            models.KindSong,
			OwnerID:         req.OwnerID,
			ChildID:         req.RequesterID,
			ContentID:       t.ContentID,
			Name:            t.Name,
			Artist:          artist,
			AlbumName:       req.Name,
			ArtworkURL:      req.ArtworkURL,
			SourceRequestID: req.ID,
			ApprovedAt:      at,
		})
		if err != nil {
			return 0, err
		}
		if ok {
			added++
		}
	}
	return added, nil
}

// albumTracks stores the supplied track list the first time an album is
// approved. Without a supplied list the stored one is used.
func (e *Engine) albumTracks(ctx context.Context, tx *repository.Store, req *models.Request, tracks []models.AlbumTrack, at time.Time) ([]models.AlbumTrack, error) {
	if len(tracks) == 0 {
		stored, err := tx.Approved.ListAlbumTracks(ctx, req.OwnerID, req.ContentID)
		if err != nil {
			return nil, fmt.Errorf("failed to load album tracks: %w", err)
		}
		return stored, nil
	}

	stored, err := tx.Approved.HasAlbumTracks(ctx, req.OwnerID, req.ContentID)
	if err != nil {
		return nil, fmt.Errorf("failed to check album tracks: %w", err)
	}
	if stored {
		return tracks, nil
	}

	rows := make([]models.AlbumTrack, 0, len(tracks))
	for i, t := range tracks {
		if t.ContentID == "" {
			continue
		}
		t.OwnerID = req.OwnerID
		t.AlbumID = req.ContentID
		t.CreatedAt = at
		if t.TrackNumber == 0 {
			t.TrackNumber = i + 1
		}
		rows = append(rows, t)
	}
	if err := tx.Approved.InsertAlbumTracks(ctx, rows); err != nil {
		return nil, fmt.Errorf("failed to store album tracks: %w", err)
	}
	return tracks, nil
}

func (e *Engine) unlock(ctx context.Context, tx *repository.Store, item *models.ApprovedContent) (bool, error) {
	exists, err := tx.Approved.Exists(ctx, item.Kind, item.OwnerID, item.ChildID, item.ContentID)
	if err != nil {
		return false, fmt.Errorf("failed to check approved content: %w", err)
	}
	if exists {
		return false, nil
	}

	item.ID = uuid.NewString()
	inserted, err := tx.Approved.Insert(ctx, item)
	if err != nil {
		return false, fmt.Errorf("failed to approve content: %w", err)
	}
	return inserted, nil
}

// revoke deletes exactly the rows the matching approval inserted. Unlocks that
// already existed when req was approved belong to other requests and stay.
func (e *Engine) revoke(ctx context.Context, tx *repository.Store, req *models.Request) error {
	if _, err := tx.Approved.DeleteBySource(ctx, req.OwnerID, req.ID); err != nil {
		return fmt.Errorf("failed to remove approved content: %w", err)
	}
	return nil
}

// ListApproved returns the library the player reads. A non-empty childID
// narrows it to what that child can play.
func (e *Engine) ListApproved(ctx context.Context, ownerID, childID string) ([]*models.ApprovedContent, error) {
	items, err := e.store.Approved.List(ctx, ownerID, childID)
	if err != nil {
		return nil, fmt.Errorf("failed to list approved content: %w", err)
	}
	return items, nil
}

// SetHideArtwork toggles artwork for one approved item.
func (e *Engine) SetHideArtwork(ctx context.Context, ownerID, itemID string, hide bool) (*models.ApprovedContent, error) {
	ok, err := e.store.Approved.SetHideArtwork(ctx, itemID, ownerID, hide)
	if err != nil {
		return nil, fmt.Errorf("failed to update artwork setting: %w", err)
	}
	if !ok {
		return nil, models.NewError(models.ErrNotFound, "Approved content not found")
	}

	item, err := e.store.Approved.GetByID(ctx, itemID)
	if err != nil {
		return nil, fmt.Errorf("failed to get approved content: %w", err)
	}
	if item == nil {
		return nil, models.NewError(models.ErrNotFound, "Approved content not found")
	}
	return item, nil
}
