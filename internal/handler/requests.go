package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"safetunes/internal/middleware"
	"safetunes/internal/models"
)

type approveBody struct {
	Tracks []models.AlbumTrack `json:"tracks" binding:"omitempty,dive"`
}

type denyBody struct {
	Reason string `json:"reason" binding:"max=1000"`
}

type partialBody struct {
	Note string `json:"note" binding:"max=1000"`
}

type artworkBody struct {
	HideArtwork *bool `json:"hide_artwork" binding:"required"`
}

// CreateRequest lets a child ask for a song or an album.
func (h *Handler) CreateRequest(c *gin.Context) {
	var input models.CreateRequestInput
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	input.OwnerID = middleware.AccountID(c)
	input.RequesterID = middleware.ProfileID(c)

	req, created, err := h.engine.Create(c.Request.Context(), input)
	if err != nil {
		h.respondError(c, "create request", err)
		return
	}

	status := http.StatusCreated
	if !created {
		status = http.StatusOK
	}
	c.JSON(status, gin.H{"request": req, "created": created})
}

// ListRequests returns every request of the account to parents, and the
// caller's own requests to children.
func (h *Handler) ListRequests(c *gin.Context) {
	var (
		requests []*models.Request
		err      error
	)
	if middleware.Role(c) == models.RoleChild {
		requests, err = h.engine.ListForChild(c.Request.Context(), middleware.AccountID(c), middleware.ProfileID(c))
	} else {
		status := models.RequestStatus(c.Query("status"))
		switch status {
		case "", models.StatusPending, models.StatusApproved, models.StatusDenied, models.StatusPartiallyApproved:
		default:
			c.JSON(http.StatusBadRequest, gin.H{"error": "Unknown status filter"})
			return
		}
		requests, err = h.engine.ListForOwner(c.Request.Context(), middleware.AccountID(c), status)
	}
	if err != nil {
		h.respondError(c, "list requests", err)
		return
	}
	if requests == nil {
		requests = []*models.Request{}
	}

	c.JSON(http.StatusOK, gin.H{"requests": requests})
}

// GetRequest returns one request. Children only see their own.
func (h *Handler) GetRequest(c *gin.Context) {
	req, err := h.engine.Get(c.Request.Context(), middleware.AccountID(c), c.Param("id"))
	if err != nil {
		h.respondError(c, "get request", err)
		return
	}
	if middleware.Role(c) == models.RoleChild && req.RequesterID != middleware.ProfileID(c) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Request not found"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"request": req})
}

// ApproveRequest approves a pending request. Albums may carry their track list.
func (h *Handler) ApproveRequest(c *gin.Context) {
	var body approveBody
	if !h.bindOptional(c, &body) {
		return
	}

	res, err := h.engine.Approve(c.Request.Context(), middleware.AccountID(c), c.Param("id"), body.Tracks)
	if err != nil {
		h.respondError(c, "approve request", err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// ApproveDeniedRequest reverses a denial straight to approved.
func (h *Handler) ApproveDeniedRequest(c *gin.Context) {
	var body approveBody
	if !h.bindOptional(c, &body) {
		return
	}

	res, err := h.engine.ApproveDenied(c.Request.Context(), middleware.AccountID(c), c.Param("id"), body.Tracks)
	if err != nil {
		h.respondError(c, "approve denied request", err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// DenyRequest denies a pending request.
func (h *Handler) DenyRequest(c *gin.Context) {
	var body denyBody
	if !h.bindOptional(c, &body) {
		return
	}

	req, err := h.engine.Deny(c.Request.Context(), middleware.AccountID(c), c.Param("id"), body.Reason)
	if err != nil {
		h.respondError(c, "deny request", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"request": req})
}

// UndoRequest returns an approved request to pending.
func (h *Handler) UndoRequest(c *gin.Context) {
	req, err := h.engine.Undo(c.Request.Context(), middleware.AccountID(c), c.Param("id"))
	if err != nil {
		h.respondError(c, "undo approval", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"request": req})
}

// UndoDenyRequest returns a denied request to pending.
func (h *Handler) UndoDenyRequest(c *gin.Context) {
	req, err := h.engine.UndoDeny(c.Request.Context(), middleware.AccountID(c), c.Param("id"))
	if err != nil {
		h.respondError(c, "undo denial", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"request": req})
}

// PartiallyApproveRequest resolves a pending request with a note.
func (h *Handler) PartiallyApproveRequest(c *gin.Context) {
	var body partialBody
	if !h.bindOptional(c, &body) {
		return
	}

	req, err := h.engine.PartiallyApprove(c.Request.Context(), middleware.AccountID(c), c.Param("id"), body.Note)
	if err != nil {
		h.respondError(c, "partially approve request", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"request": req})
}

// MarkViewed clears the new-decision badge for the child.
func (h *Handler) MarkViewed(c *gin.Context) {
	err := h.engine.MarkViewed(c.Request.Context(), middleware.AccountID(c), middleware.ProfileID(c), c.Param("id"))
	if err != nil {
		h.respondError(c, "mark request viewed", err)
		return
	}
	c.Status(http.StatusNoContent)
}

// ListApproved returns the playable library. Parents may narrow it with ?child=.
func (h *Handler) ListApproved(c *gin.Context) {
	childID := c.Query("child")
	if middleware.Role(c) == models.RoleChild {
		childID = middleware.ProfileID(c)
	}

	items, err := h.engine.ListApproved(c.Request.Context(), middleware.AccountID(c), childID)
	if err != nil {
		h.respondError(c, "list approved content", err)
		return
	}
	if items == nil {
		items = []*models.ApprovedContent{}
	}
	c.JSON(http.StatusOK, gin.H{"items": items})
}

// SetHideArtwork toggles artwork on an approved item.
func (h *Handler) SetHideArtwork(c *gin.Context) {
	var body artworkBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	item, err := h.engine.SetHideArtwork(c.Request.Context(), middleware.AccountID(c), c.Param("id"), *body.HideArtwork)
	if err != nil {
		h.respondError(c, "update artwork setting", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"item": item})
}

// bindOptional binds a JSON body when one is present.
func (h *Handler) bindOptional(c *gin.Context, obj any) bool {
	if c.Request.ContentLength == 0 {
		return true
	}
	if err := c.ShouldBindJSON(obj); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return false
	}
	return true
}
