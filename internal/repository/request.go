package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"safetunes/internal/models"
)

// RequestRepository defines the interface for content request operations
type RequestRepository interface {
	// Create inserts req unless a pending request for the same target exists.
	Create(ctx context.Context, req *models.Request) (bool, error)
	GetByID(ctx context.Context, id string) (*models.Request, error)
	GetPendingByTarget(ctx context.Context, requesterID string, kind models.ContentKind, targetKey string) (*models.Request, error)
	ListByOwner(ctx context.Context, ownerID string, status models.RequestStatus) ([]*models.Request, error)
	ListByRequester(ctx context.Context, requesterID string) ([]*models.Request, error)
	// UpdateStatus applies change only if the row is still in change.From.
	UpdateStatus(ctx context.Context, change StatusChange) (bool, error)
	MarkViewed(ctx context.Context, id string) (bool, error)
	DeleteResolvedBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// StatusChange is an optimistic transition of one request.
type StatusChange struct {
	ID                  string
	From                models.RequestStatus
	To                  models.RequestStatus
	ReviewedAt          *time.Time
	DenialReason        *string
	PartialApprovalNote *string
	ViewedByKid         bool
	At                  time.Time
}

const requestColumns = `id, kind, requester_id, owner_id, content_id, target_key, name, artist, album_name,
	artwork_url, status, kid_note, denial_reason, partial_approval_note, viewed_by_kid,
	requested_at, reviewed_at, updated_at`

type requestRepository struct {
	db     sqlx.ExtContext
	logger *zap.Logger
}

func (r *requestRepository) Create(ctx context.Context, req *models.Request) (bool, error) {
	query := r.db.Rebind(`
		INSERT INTO requests (` + requestColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT DO NOTHING
	`)

	result, err := r.db.ExecContext(ctx, query,
		req.ID,
		req.Kind,
		req.RequesterID,
		req.OwnerID,
		req.ContentID,
		req.TargetKey,
		req.Name,
		req.Artist,
		req.AlbumName,
		req.ArtworkURL,
		req.Status,
		req.KidNote,
		req.DenialReason,
		req.PartialApprovalNote,
		req.ViewedByKid,
		req.RequestedAt,
		req.ReviewedAt,
		req.UpdatedAt,
	)
	if err != nil {
		r.logger.Error("Failed to create request", zap.String("request_id", req.ID), zap.Error(err))
		return false, fmt.Errorf("failed to create request: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return rows == 1, nil
}

func (r *requestRepository) GetByID(ctx context.Context, id string) (*models.Request, error) {
	var req models.Request
	query := r.db.Rebind(`SELECT ` + requestColumns + ` FROM requests WHERE id = ?`)

	if err := sqlx.GetContext(ctx, r.db, &req, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		r.logger.Error("Failed to get request by ID", zap.String("id", id), zap.Error(err))
		return nil, err
	}
	return &req, nil
}

func (r *requestRepository) GetPendingByTarget(ctx context.Context, requesterID string, kind models.ContentKind, targetKey string) (*models.Request, error) {
	var req models.Request
	query := r.db.Rebind(`
		SELECT ` + requestColumns + `
		FROM requests
		WHERE requester_id = ? AND kind = ? AND target_key = ? AND status = 'pending'
	`)

	if err := sqlx.GetContext(ctx, r.db, &req, query, requesterID, kind, targetKey); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		r.logger.Error("Failed to get pending request",
			zap.String("requester_id", requesterID),
			zap.String("target_key", targetKey),
			zap.Error(err))
		return nil, err
	}
	return &req, nil
}

func (r *requestRepository) ListByOwner(ctx context.Context, ownerID string, status models.RequestStatus) ([]*models.Request, error) {
	var (
		requests []*models.Request
		err      error
	)
	if status == "" {
		query := r.db.Rebind(`SELECT ` + requestColumns + ` FROM requests WHERE owner_id = ? ORDER BY requested_at DESC, id`)
		err = sqlx.SelectContext(ctx, r.db, &requests, query, ownerID)
	} else {
		query := r.db.Rebind(`SELECT ` + requestColumns + ` FROM requests WHERE owner_id = ? AND status = ? ORDER BY requested_at DESC, id`)
		err = sqlx.SelectContext(ctx, r.db, &requests, query, ownerID, status)
	}
	if err != nil {
		r.logger.Error("Failed to list requests", zap.String("owner_id", ownerID), zap.Error(err))
		return nil, err
	}
	return requests, nil
}

func (r *requestRepository) ListByRequester(ctx context.Context, requesterID string) ([]*models.Request, error) {
	var requests []*models.Request
	query := r.db.Rebind(`SELECT ` + requestColumns + ` FROM requests WHERE requester_id = ? ORDER BY requested_at DESC, id`)

	if err := sqlx.SelectContext(ctx, r.db, &requests, query, requesterID); err != nil {
		r.logger.Error("Failed to list requests for child", zap.String("requester_id", requesterID), zap.Error(err))
		return nil, err
	}
	return requests, nil
}

func (r *requestRepository) UpdateStatus(ctx context.Context, change StatusChange) (bool, error) {
	query := r.db.Rebind(`
		UPDATE requests
		SET status = ?, reviewed_at = ?, denial_reason = ?, partial_approval_note = ?,
		    viewed_by_kid = ?, updated_at = ?
		WHERE id = ? AND status = ?
	`)

	result, err := r.db.ExecContext(ctx, query,
		change.To,
		change.ReviewedAt,
		change.DenialReason,
		change.PartialApprovalNote,
		change.ViewedByKid,
		change.At,
		change.ID,
		change.From,
	)
	if err != nil {
		r.logger.Error("Failed to update request status",
			zap.String("id", change.ID),
			zap.String("from", string(change.From)),
			zap.String("to", string(change.To)),
			zap.Error(err))
		return false, err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return rows == 1, nil
}

func (r *requestRepository) MarkViewed(ctx context.Context, id string) (bool, error) {
	query := r.db.Rebind(`UPDATE requests SET viewed_by_kid = ?, updated_at = ? WHERE id = ?`)

	result, err := r.db.ExecContext(ctx, query, true, time.Now().UTC(), id)
	if err != nil {
		r.logger.Error("Failed to mark request viewed", zap.String("id", id), zap.Error(err))
		return false, err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return rows == 1, nil
}

func (r *requestRepository) DeleteResolvedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	query := r.db.Rebind(`DELETE FROM requests WHERE status <> 'pending' AND reviewed_at IS NOT NULL AND reviewed_at < ?`)

	result, err := r.db.ExecContext(ctx, query, cutoff)
	if err != nil {
		r.logger.Error("Failed to purge resolved requests", zap.Time("cutoff", cutoff), zap.Error(err))
		return 0, err
	}
	return result.RowsAffected()
}
