package approval

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"safetunes/internal/models"
	"safetunes/internal/notify"
)

// scheduleDigest records a digest line for the parent. Failures are logged only.
func (e *Engine) scheduleDigest(ctx context.Context, req *models.Request) {
	entry := &models.NotificationBatchEntry{
		ID:        uuid.NewString(),
		OwnerID:   req.OwnerID,
		RequestID: req.ID,
		Kind:      req.Kind,
		Title:     fmt.Sprintf("%s by %s", req.Name, req.Artist),
		CreatedAt: e.now(),
	}
	if err := e.store.Batches.Insert(ctx, entry); err != nil {
		e.logger.Error("Failed to schedule digest entry",
			zap.String("request_id", req.ID),
			zap.Error(err))
	}
}

// notifyParent alerts the parent on both the push and the mobile channel.
func (e *Engine) notifyParent(req *models.Request) {
	title := fmt.Sprintf("New %s request", req.Kind)
	body := fmt.Sprintf("Your child asked for %q by %s.", req.Name, req.Artist)
	if req.KidNote != nil {
		body += fmt.Sprintf(" Note: %s", *req.KidNote)
	}

	for _, ch := range []notify.Channel{notify.ChannelPush, notify.ChannelMobile} {
		e.notifier.Notify(notify.Notification{
			Channel:   ch,
			Recipient: req.OwnerID,
			Title:     title,
			Body:      body,
			DeepLink:  "/requests/" + req.ID,
			Tag:       "request-created:" + req.ID,
			RequestID: req.ID,
		})
	}
}

func (e *Engine) notifyChild(req *models.Request, title, body string) {
	e.notifier.Notify(notify.Notification{
		Channel:   notify.ChannelKid,
		Recipient: req.RequesterID,
		Title:     title,
		Body:      body,
		DeepLink:  "/my-requests/" + req.ID,
		Tag:       fmt.Sprintf("request-%s:%s:%d", req.Status, req.ID, req.UpdatedAt.UnixNano()),
	})
}
