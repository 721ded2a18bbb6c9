package approval

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"safetunes/internal/models"
	"safetunes/internal/repository"
)

// Approve moves a pending request to approved and unlocks the content.
// For albums, tracks (or the track list stored by an earlier approval) are
// unlocked for the requesting child as well.
func (e *Engine) Approve(ctx context.Context, ownerID, requestID string, tracks []models.AlbumTrack) (*models.ApproveResult, error) {
	return e.approve(ctx, ownerID, requestID, models.StatusPending, tracks)
}

// ApproveDenied reverses a denial straight to approved. The catalog id must
// have been captured when the request was made.
func (e *Engine) ApproveDenied(ctx context.Context, ownerID, requestID string, tracks []models.AlbumTrack) (*models.ApproveResult, error) {
	return e.approve(ctx, ownerID, requestID, models.StatusDenied, tracks)
}

func (e *Engine) approve(ctx context.Context, ownerID, requestID string, from models.RequestStatus, tracks []models.AlbumTrack) (*models.ApproveResult, error) {
	var result *models.ApproveResult

	err := e.store.WithinTx(ctx, func(tx *repository.Store) error {
		req, err := e.load(ctx, tx, ownerID, requestID)
		if err != nil {
			return err
		}
		if req.Status != from {
			return conflict(req, from)
		}
		if !req.HasCatalogID() {
			return missingCatalogID(req.Kind)
		}

		now := e.now()
		if err := e.apply(ctx, tx, req, repository.StatusChange{
			ID:                  req.ID,
			From:                from,
			To:                  models.StatusApproved,
			ReviewedAt:          &now,
			PartialApprovalNote: req.PartialApprovalNote,
			ViewedByKid:         req.ViewedByKid,
			At:                  now,
		}); err != nil {
			return err
		}

		added, err := e.grant(ctx, tx, req, tracks, now)
		if err != nil {
			return err
		}

		result = &models.ApproveResult{Request: req, SongsAdded: added}
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.logger.Info("Request approved",
		zap.String("request_id", requestID),
		zap.String("from", string(from)),
		zap.Int("songs_added", result.SongsAdded))
	e.metrics.Transition(string(result.Request.Kind), string(models.StatusApproved))
	e.notifyChild(result.Request, "Request approved",
		fmt.Sprintf("%s by %s is ready to play.", result.Request.Name, result.Request.Artist))
	return result, nil
}

// Deny moves a pending request to denied with an optional reason for the child.
func (e *Engine) Deny(ctx context.Context, ownerID, requestID, reason string) (*models.Request, error) {
	var denied *models.Request

	err := e.store.WithinTx(ctx, func(tx *repository.Store) error {
		req, err := e.load(ctx, tx, ownerID, requestID)
		if err != nil {
			return err
		}
		if req.Status != models.StatusPending {
			return conflict(req, models.StatusPending)
		}

		now := e.now()
		denied = req
		return e.apply(ctx, tx, req, repository.StatusChange{
			ID:           req.ID,
			From:         models.StatusPending,
			To:           models.StatusDenied,
			ReviewedAt:   &now,
			DenialReason: optional(reason),
			ViewedByKid:  req.ViewedByKid,
			At:           now,
		})
	})
	if err != nil {
		return nil, err
	}

	e.logger.Info("Request denied", zap.String("request_id", requestID))
	e.metrics.Transition(string(denied.Kind), string(models.StatusDenied))

	body := fmt.Sprintf("Your request for %s was not approved.", denied.Name)
	if denied.DenialReason != nil {
		body += " " + *denied.DenialReason
	}
	e.notifyChild(denied, "Request denied", body)
	return denied, nil
}

// Undo moves an approved request back to pending and removes the unlock it
// created. Song rows unlocked through an album stay in place.
func (e *Engine) Undo(ctx context.Context, ownerID, requestID string) (*models.Request, error) {
	var reverted *models.Request

	err := e.store.WithinTx(ctx, func(tx *repository.Store) error {
		req, err := e.load(ctx, tx, ownerID, requestID)
		if err != nil {
			return err
		}
		if req.Status != models.StatusApproved {
			return conflict(req, models.StatusApproved)
		}
		if err := e.ensureNoNewerPending(ctx, tx, req); err != nil {
			return err
		}

		if err := e.apply(ctx, tx, req, repository.StatusChange{
			ID:                  req.ID,
			From:                models.StatusApproved,
			To:                  models.StatusPending,
			PartialApprovalNote: req.PartialApprovalNote,
			ViewedByKid:         req.ViewedByKid,
			At:                  e.now(),
		}); err != nil {
			return err
		}

		if err := e.revoke(ctx, tx, req); err != nil {
			return err
		}
		reverted = req
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.logger.Info("Request approval undone", zap.String("request_id", requestID))
	e.metrics.Transition(string(reverted.Kind), string(models.StatusPending))
	return reverted, nil
}

// UndoDeny moves a denied request back to pending.
func (e *Engine) UndoDeny(ctx context.Context, ownerID, requestID string) (*models.Request, error) {
	var reverted *models.Request

	err := e.store.WithinTx(ctx, func(tx *repository.Store) error {
		req, err := e.load(ctx, tx, ownerID, requestID)
		if err != nil {
			return err
		}
		if req.Status != models.StatusDenied {
			return conflict(req, models.StatusDenied)
		}
		if err := e.ensureNoNewerPending(ctx, tx, req); err != nil {
			return err
		}

		reverted = req
		return e.apply(ctx, tx, req, repository.StatusChange{
			ID:                  req.ID,
			From:                models.StatusDenied,
			To:                  models.StatusPending,
			PartialApprovalNote: req.PartialApprovalNote,
			ViewedByKid:         req.ViewedByKid,
			At:                  e.now(),
		})
	})
	if err != nil {
		return nil, err
	}

	e.logger.Info("Request denial undone", zap.String("request_id", requestID))
	e.metrics.Transition(string(reverted.Kind), string(models.StatusPending))
	return reverted, nil
}

// PartiallyApprove resolves a pending request with a note and flags the
// decision as unseen so the child is shown it once.
func (e *Engine) PartiallyApprove(ctx context.Context, ownerID, requestID, note string) (*models.Request, error) {
	var resolved *models.Request

	err := e.store.WithinTx(ctx, func(tx *repository.Store) error {
		req, err := e.load(ctx, tx, ownerID, requestID)
		if err != nil {
			return err
		}
		if req.Status != models.StatusPending {
			return conflict(req, models.StatusPending)
		}

		now := e.now()
		resolved = req
		return e.apply(ctx, tx, req, repository.StatusChange{
			ID:                  req.ID,
			From:                models.StatusPending,
			To:                  models.StatusPartiallyApproved,
			ReviewedAt:          &now,
			PartialApprovalNote: optional(note),
			ViewedByKid:         false,
			At:                  now,
		})
	})
	if err != nil {
		return nil, err
	}

	e.logger.Info("Request partially approved", zap.String("request_id", requestID))
	e.metrics.Transition(string(resolved.Kind), string(models.StatusPartiallyApproved))

	body := fmt.Sprintf("Your request for %s was partly approved.", resolved.Name)
	if resolved.PartialApprovalNote != nil {
		body += " " + *resolved.PartialApprovalNote
	}
	e.notifyChild(resolved, "Request partly approved", body)
	return resolved, nil
}

// apply runs the optimistic update and mirrors it onto req. Losing the race
// to a concurrent transition is a conflict.
func (e *Engine) apply(ctx context.Context, tx *repository.Store, req *models.Request, change repository.StatusChange) error {
	ok, err := tx.Requests.UpdateStatus(ctx, change)
	if err != nil {
		return fmt.Errorf("failed to update request: %w", err)
	}
	if !ok {
		return models.NewError(models.ErrConflict, "Request was changed by someone else. Refresh and try again.")
	}

	req.Status = change.To
	req.ReviewedAt = change.ReviewedAt
	req.DenialReason = change.DenialReason
	req.PartialApprovalNote = change.PartialApprovalNote
	req.ViewedByKid = change.ViewedByKid
	req.UpdatedAt = change.At
	return nil
}

// ensureNoNewerPending blocks reopening a request when the child has since
// asked again for the same content.
func (e *Engine) ensureNoNewerPending(ctx context.Context, tx *repository.Store, req *models.Request) error {
	pending, err := tx.Requests.GetPendingByTarget(ctx, req.RequesterID, req.Kind, req.TargetKey)
	if err != nil {
		return fmt.Errorf("failed to check pending requests: %w", err)
	}
	if pending != nil && pending.ID != req.ID {
		return models.NewError(models.ErrConflict, "A newer request for this content is already pending.")
	}
	return nil
}

func missingCatalogID(kind models.ContentKind) error {
	return models.NewError(models.ErrMissingReference,
		fmt.Sprintf("Cannot approve %s — missing catalog ID. Please re-request.", kind))
}

func optional(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}
