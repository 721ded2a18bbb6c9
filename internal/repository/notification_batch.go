package repository

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"safetunes/internal/models"
)

// NotificationBatchRepository stores digest lines until they are sent.
type NotificationBatchRepository interface {
	Insert(ctx context.Context, entry *models.NotificationBatchEntry) error
	// ListUnsent returns pending digest lines grouped by owner, oldest first.
	ListUnsent(ctx context.Context) ([]*models.NotificationBatchEntry, error)
	MarkSent(ctx context.Context, ids []string, at time.Time) error
}

type notificationBatchRepository struct {
	db     sqlx.ExtContext
	logger *zap.Logger
}

func (r *notificationBatchRepository) Insert(ctx context.Context, entry *models.NotificationBatchEntry) error {
	query := r.db.Rebind(`
		INSERT INTO notification_batches (id, owner_id, request_id, kind, title, created_at, sent_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`)

	if _, err := r.db.ExecContext(ctx, query,
		entry.ID, entry.OwnerID, entry.RequestID, entry.Kind, entry.Title, entry.CreatedAt, entry.SentAt,
	); err != nil {
		r.logger.Error("Failed to insert notification batch entry",
			zap.String("owner_id", entry.OwnerID),
			zap.String("request_id", entry.RequestID),
			zap.Error(err))
		return err
	}
	return nil
}

func (r *notificationBatchRepository) ListUnsent(ctx context.Context) ([]*models.NotificationBatchEntry, error) {
	var entries []*models.NotificationBatchEntry
	query := r.db.Rebind(`
		SELECT id, owner_id, request_id, kind, title, created_at, sent_at
		FROM notification_batches
		WHERE sent_at IS NULL
		ORDER BY owner_id, created_at, id
	`)

	if err := sqlx.SelectContext(ctx, r.db, &entries, query); err != nil {
		return nil, err
	}
	return entries, nil
}

func (r *notificationBatchRepository) MarkSent(ctx context.Context, ids []string, at time.Time) error {
	if len(ids) == 0 {
		return nil
	}

	query, args, err := sqlx.In(`UPDATE notification_batches SET sent_at = ? WHERE id IN (?)`, at, ids)
	if err != nil {
		return err
	}

	_, err = r.db.ExecContext(ctx, r.db.Rebind(query), args...)
	return err
}
