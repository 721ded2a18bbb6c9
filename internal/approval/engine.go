// Package approval implements the request lifecycle: a child asks for a song
// or an album, and a parent approves, denies or reverses that decision.
package approval

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"safetunes/internal/fuzzy"
	"safetunes/internal/metrics"
	"safetunes/internal/models"
	"safetunes/internal/notify"
	"safetunes/internal/repository"
)

// Engine owns every request transition and the approved library it maintains.
type Engine struct {
	store    *repository.Store
	notifier notify.Notifier
	metrics  *metrics.Metrics
	validate *validator.Validate
	logger   *zap.Logger
	now      func() time.Time
}

var _ notify.Resolver = (*Engine)(nil)

func NewEngine(store *repository.Store, notifier notify.Notifier, m *metrics.Metrics, logger *zap.Logger) *Engine {
	if notifier == nil {
		notifier = notify.NopNotifier{}
	}
	return &Engine{
		store:    store,
		notifier: notifier,
		metrics:  m,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// targetKey identifies what a request is for. Legacy album requests may lack a
// catalog id, in which case the normalized names stand in.
func targetKey(contentID, name, artist string) string {
	if contentID != "" {
		return "id:" + contentID
	}
	return "name:" + fuzzy.CacheKey(name, artist)
}

// Create stores a pending request. If the child already has a pending request
// for the same target, that request is returned and created is false.
func (e *Engine) Create(ctx context.Context, in models.CreateRequestInput) (req *models.Request, created bool, err error) {
	in.Name = strings.TrimSpace(in.Name)
	in.Artist = strings.TrimSpace(in.Artist)
	if err := e.validate.Struct(in); err != nil {
		return nil, false, models.WrapError(models.ErrInvalidInput, "invalid request", err)
	}

	key := targetKey(in.ContentID, in.Name, in.Artist)

	existing, err := e.store.Requests.GetPendingByTarget(ctx, in.RequesterID, in.Kind, key)
	if err != nil {
		return nil, false, fmt.Errorf("failed to check pending requests: %w", err)
	}
	if existing != nil {
		return existing, false, nil
	}

	now := e.now()
	req = &models.Request{
		ID:          uuid.NewString(),
		Kind:        in.Kind,
		RequesterID: in.RequesterID,
		OwnerID:     in.OwnerID,
		ContentID:   in.ContentID,
		TargetKey:   key,
		Name:        in.Name,
		Artist:      in.Artist,
		AlbumName:   in.AlbumName,
		ArtworkURL:  in.ArtworkURL,
		Status:      models.StatusPending,
		RequestedAt: now,
		UpdatedAt:   now,
	}
	if note := strings.TrimSpace(in.KidNote); note != "" {
		req.KidNote = &note
	}

	inserted, err := e.store.Requests.Create(ctx, req)
	if err != nil {
		return nil, false, fmt.Errorf("failed to create request: %w", err)
	}
	if !inserted {
		// a concurrent create won; hand back its row
		existing, err := e.store.Requests.GetPendingByTarget(ctx, in.RequesterID, in.Kind, key)
		if err != nil {
			return nil, false, fmt.Errorf("failed to load pending request: %w", err)
		}
		if existing == nil {
			return nil, false, models.NewError(models.ErrConflict, "The request changed while it was being created. Please try again.")
		}
		return existing, false, nil
	}

	e.logger.Info("Request created",
		zap.String("request_id", req.ID),
		zap.String("kind", string(req.Kind)),
		zap.String("requester_id", req.RequesterID))
	e.metrics.Transition(string(req.Kind), string(models.StatusPending))

	e.scheduleDigest(ctx, req)
	e.notifyParent(req)
	return req, true, nil
}

// Get returns a request owned by ownerID.
func (e *Engine) Get(ctx context.Context, ownerID, requestID string) (*models.Request, error) {
	return e.load(ctx, e.store, ownerID, requestID)
}

// ListForOwner returns the account's requests, newest first. An empty status lists all.
func (e *Engine) ListForOwner(ctx context.Context, ownerID string, status models.RequestStatus) ([]*models.Request, error) {
	requests, err := e.store.Requests.ListByOwner(ctx, ownerID, status)
	if err != nil {
		return nil, fmt.Errorf("failed to list requests: %w", err)
	}
	return requests, nil
}

// ListForChild returns one child's requests within the account.
func (e *Engine) ListForChild(ctx context.Context, ownerID, requesterID string) ([]*models.Request, error) {
	requests, err := e.store.Requests.ListByRequester(ctx, requesterID)
	if err != nil {
		return nil, fmt.Errorf("failed to list requests: %w", err)
	}

	out := make([]*models.Request, 0, len(requests))
	for _, r := range requests {
		if r.OwnerID == ownerID {
			out = append(out, r)
		}
	}
	return out, nil
}

// MarkViewed records that the child has seen the decision on their request.
func (e *Engine) MarkViewed(ctx context.Context, ownerID, requesterID, requestID string) error {
	req, err := e.load(ctx, e.store, ownerID, requestID)
	if err != nil {
		return err
	}
	if req.RequesterID != requesterID {
		return notFound()
	}

	ok, err := e.store.Requests.MarkViewed(ctx, requestID)
	if err != nil {
		return fmt.Errorf("failed to mark request viewed: %w", err)
	}
	if !ok {
		return notFound()
	}
	return nil
}

// PurgeResolved hard-deletes requests resolved before now-olderThan. Pending
// requests are never purged.
func (e *Engine) PurgeResolved(ctx context.Context, olderThan time.Duration) (int64, error) {
	if olderThan <= 0 {
		return 0, models.NewError(models.ErrInvalidInput, "retention must be positive")
	}

	cutoff := e.now().Add(-olderThan)
	n, err := e.store.Requests.DeleteResolvedBefore(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to purge requests: %w", err)
	}

	e.logger.Info("Purged resolved requests", zap.Int64("count", n), zap.Time("cutoff", cutoff))
	return n, nil
}

func (e *Engine) load(ctx context.Context, store *repository.Store, ownerID, requestID string) (*models.Request, error) {
	req, err := store.Requests.GetByID(ctx, requestID)
	if err != nil {
		return nil, fmt.Errorf("failed to get request: %w", err)
	}
	if req == nil || req.OwnerID != ownerID {
		return nil, notFound()
	}
	return req, nil
}

func notFound() error {
	return models.NewError(models.ErrNotFound, "Request not found")
}

func conflict(req *models.Request, want models.RequestStatus) error {
	return models.NewError(models.ErrConflict,
		fmt.Sprintf("Request is %s, not %s. Refresh and try again.", humanStatus(req.Status), humanStatus(want)))
}

func humanStatus(s models.RequestStatus) string {
	return strings.ReplaceAll(string(s), "_", " ")
}

// IsConflict reports whether err is a lost optimistic transition.
func IsConflict(err error) bool {
	return errors.Is(err, models.ErrConflict)
}
