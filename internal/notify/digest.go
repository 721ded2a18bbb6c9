package notify

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"safetunes/internal/models"
)

// BatchStore holds the digest lines written when requests are created.
type BatchStore interface {
	ListUnsent(ctx context.Context) ([]*models.NotificationBatchEntry, error)
	MarkSent(ctx context.Context, ids []string, at time.Time) error
}

// Digest periodically sends each parent one summary of their new requests.
type Digest struct {
	store    BatchStore
	notifier Notifier
	interval time.Duration
	logger   *zap.Logger
}

func NewDigest(store BatchStore, notifier Notifier, interval time.Duration, logger *zap.Logger) *Digest {
	if interval <= 0 {
		interval = 15 * time.Minute
	}
	return &Digest{store: store, notifier: notifier, interval: interval, logger: logger}
}

// Run flushes on every tick until ctx is done.
func (d *Digest) Run(ctx context.Context) {
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := d.Flush(ctx); err != nil {
				d.logger.Error("Failed to flush notification digest", zap.Error(err))
			}
		}
	}
}

// Flush sends one digest per owner with unsent entries and returns how many were sent.
func (d *Digest) Flush(ctx context.Context) (int, error) {
	entries, err := d.store.ListUnsent(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list digest entries: %w", err)
	}

	sent := 0
	for start := 0; start < len(entries); {
		end := start
		for end < len(entries) && entries[end].OwnerID == entries[start].OwnerID {
			end++
		}
		group := entries[start:end]
		start = end

		ids := make([]string, 0, len(group))
		lines := make([]string, 0, len(group))
		for _, e := range group {
			ids = append(ids, e.ID)
			lines = append(lines, "• "+e.Title)
		}

		title := "1 new request"
		if len(group) > 1 {
			title = fmt.Sprintf("%d new requests", len(group))
		}

		d.notifier.Notify(Notification{
			Channel:   ChannelDigest,
			Recipient: group[0].OwnerID,
			Title:     title,
			Body:      strings.Join(lines, "\n"),
			DeepLink:  "/requests?status=pending",
			Tag:       "digest:" + ids[len(ids)-1],
		})

		if err := d.store.MarkSent(ctx, ids, time.Now().UTC()); err != nil {
			return sent, fmt.Errorf("failed to mark digest sent: %w", err)
		}
		sent++
	}

	return sent, nil
}
