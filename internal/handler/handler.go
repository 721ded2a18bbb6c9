package handler

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"safetunes/internal/middleware"
	"safetunes/internal/models"
	"safetunes/internal/moderation"
	"safetunes/internal/reviewer"
)

// RequestEngine is the approval workflow behind the request routes.
type RequestEngine interface {
	Create(ctx context.Context, in models.CreateRequestInput) (*models.Request, bool, error)
	Get(ctx context.Context, ownerID, requestID string) (*models.Request, error)
	ListForOwner(ctx context.Context, ownerID string, status models.RequestStatus) ([]*models.Request, error)
	ListForChild(ctx context.Context, ownerID, requesterID string) ([]*models.Request, error)
	Approve(ctx context.Context, ownerID, requestID string, tracks []models.AlbumTrack) (*models.ApproveResult, error)
	ApproveDenied(ctx context.Context, ownerID, requestID string, tracks []models.AlbumTrack) (*models.ApproveResult, error)
	Deny(ctx context.Context, ownerID, requestID, reason string) (*models.Request, error)
	Undo(ctx context.Context, ownerID, requestID string) (*models.Request, error)
	UndoDeny(ctx context.Context, ownerID, requestID string) (*models.Request, error)
	PartiallyApprove(ctx context.Context, ownerID, requestID, note string) (*models.Request, error)
	MarkViewed(ctx context.Context, ownerID, requesterID, requestID string) error
	ListApproved(ctx context.Context, ownerID, childID string) ([]*models.ApprovedContent, error)
	SetHideArtwork(ctx context.Context, ownerID, itemID string, hide bool) (*models.ApprovedContent, error)
}

// ModerationService is the cached AI review layer behind the moderation routes.
type ModerationService interface {
	GetOrFetchLyrics(ctx context.Context, track, artist string) (*moderation.LyricsResult, error)
	SaveManualLyrics(ctx context.Context, track, artist, text string) (*moderation.LyricsResult, error)
	GetOrCreateReview(ctx context.Context, target moderation.SongTarget) (*moderation.ReviewResult, error)
	ReviewAlbum(ctx context.Context, target moderation.AlbumTarget) (*moderation.AlbumResult, error)
	GetCacheStats(ctx context.Context, topN int) (*models.CacheStats, error)
	Recommend(ctx context.Context, in reviewer.RecommendationInput) ([]models.Recommendation, bool, error)
	Search(ctx context.Context, in reviewer.SearchInput) ([]models.SearchResult, bool, error)
}

// Handler handles HTTP requests
type Handler struct {
	engine     RequestEngine
	moderation ModerationService
	gatherer   prometheus.Gatherer
	logger     *zap.Logger
	started    time.Time
}

// NewHandler creates a new API handler
func NewHandler(engine RequestEngine, mod ModerationService, gatherer prometheus.Gatherer, logger *zap.Logger) *Handler {
	return &Handler{
		engine:     engine,
		moderation: mod,
		gatherer:   gatherer,
		logger:     logger,
		started:    time.Now(),
	}
}

// RegisterRoutes registers all API routes. auth must populate the caller's claims.
func (h *Handler) RegisterRoutes(r *gin.Engine, auth gin.HandlerFunc) {
	api := r.Group("/api/v1", auth)
	{
		api.POST("/requests", middleware.RequireRole(models.RoleChild), h.CreateRequest)
		api.GET("/requests", h.ListRequests)
		api.GET("/requests/:id", h.GetRequest)
		api.POST("/requests/:id/viewed", middleware.RequireRole(models.RoleChild), h.MarkViewed)

		parent := api.Group("", middleware.RequireRole(models.RoleParent))
		parent.POST("/requests/:id/approve", h.ApproveRequest)
		parent.POST("/requests/:id/deny", h.DenyRequest)
		parent.POST("/requests/:id/undo", h.UndoRequest)
		parent.POST("/requests/:id/undo-deny", h.UndoDenyRequest)
		parent.POST("/requests/:id/approve-denied", h.ApproveDeniedRequest)
		parent.POST("/requests/:id/partial", h.PartiallyApproveRequest)
		parent.PATCH("/approved/:id/artwork", h.SetHideArtwork)

		api.GET("/approved", h.ListApproved)

		if h.moderation != nil {
			parent.POST("/moderation/lyrics", h.GetLyrics)
			parent.POST("/moderation/lyrics/manual", h.SaveManualLyrics)
			parent.POST("/moderation/reviews", h.ReviewSong)
			parent.POST("/moderation/albums", h.ReviewAlbum)
			parent.GET("/moderation/stats", h.GetCacheStats)
			parent.POST("/moderation/recommendations", h.Recommend)
			parent.POST("/moderation/search", h.Search)
		}
	}

	// Health check
	r.GET("/health", h.HealthCheck)
	if h.gatherer != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(h.gatherer, promhttp.HandlerOpts{})))
	}
}

// HealthCheck returns service health status
func (h *Handler) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"uptime": time.Since(h.started).Round(time.Second).String(),
	})
}

// respondError maps domain errors to a status and a message the user can act on.
func (h *Handler) respondError(c *gin.Context, op string, err error) {
	status := http.StatusInternalServerError
	message := "Something went wrong. Please try again."

	switch {
	case errors.Is(err, models.ErrNotFound):
		status, message = http.StatusNotFound, models.UserMessage(err, "Not found")
	case errors.Is(err, models.ErrConflict):
		status, message = http.StatusConflict, models.UserMessage(err, "Request was changed by someone else. Refresh and try again.")
	case errors.Is(err, models.ErrMissingReference):
		status, message = http.StatusUnprocessableEntity, models.UserMessage(err, "Required content reference is missing. Please re-request.")
	case errors.Is(err, models.ErrInvalidInput):
		status, message = http.StatusBadRequest, models.UserMessage(err, "Invalid input")
	case errors.Is(err, models.ErrLyricsNotFound):
		status, message = http.StatusNotFound, models.UserMessage(err, "lyrics not found; you may enter them manually")
	case errors.Is(err, models.ErrUpstreamFailure):
		status, message = http.StatusBadGateway, reviewer.AnalysisUnavailable
	}

	if status >= http.StatusInternalServerError {
		h.logger.Error("Failed to "+op, zap.Error(err))
	} else {
		h.logger.Debug("Request rejected", zap.String("op", op), zap.Int("status", status), zap.Error(err))
	}
	c.JSON(status, gin.H{"error": message})
}
