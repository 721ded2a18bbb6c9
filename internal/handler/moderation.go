package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"safetunes/internal/moderation"
	"safetunes/internal/reviewer"
)

type lyricsBody struct {
	Track  string `json:"track" binding:"required"`
	Artist string `json:"artist" binding:"required"`
}

type manualLyricsBody struct {
	Track  string `json:"track" binding:"required"`
	Artist string `json:"artist" binding:"required"`
	Lyrics string `json:"lyrics" binding:"required"`
}

// GetLyrics returns cached lyrics or looks them up.
func (h *Handler) GetLyrics(c *gin.Context) {
	var body lyricsBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	res, err := h.moderation.GetOrFetchLyrics(c.Request.Context(), body.Track, body.Artist)
	if err != nil {
		h.respondError(c, "fetch lyrics", err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// SaveManualLyrics stores lyrics entered by a parent.
func (h *Handler) SaveManualLyrics(c *gin.Context) {
	var body manualLyricsBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	res, err := h.moderation.SaveManualLyrics(c.Request.Context(), body.Track, body.Artist, body.Lyrics)
	if err != nil {
		h.respondError(c, "save lyrics", err)
		return
	}
	c.JSON(http.StatusCreated, res)
}

// ReviewSong returns a safety review for one track.
func (h *Handler) ReviewSong(c *gin.Context) {
	var target moderation.SongTarget
	if err := c.ShouldBindJSON(&target); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	res, err := h.moderation.GetOrCreateReview(c.Request.Context(), target)
	if err != nil {
		h.respondError(c, "review song", err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// ReviewAlbum returns a coarse album overview.
func (h *Handler) ReviewAlbum(c *gin.Context) {
	var target moderation.AlbumTarget
	if err := c.ShouldBindJSON(&target); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	res, err := h.moderation.ReviewAlbum(c.Request.Context(), target)
	if err != nil {
		h.respondError(c, "review album", err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// GetCacheStats reports moderation cache reuse.
func (h *Handler) GetCacheStats(c *gin.Context) {
	top, err := strconv.Atoi(c.DefaultQuery("top", "10"))
	if err != nil || top < 1 || top > 100 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "top must be between 1 and 100"})
		return
	}

	stats, err := h.moderation.GetCacheStats(c.Request.Context(), top)
	if err != nil {
		h.respondError(c, "get cache stats", err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

// Recommend returns AI track suggestions.
func (h *Handler) Recommend(c *gin.Context) {
	var in reviewer.RecommendationInput
	if err := c.ShouldBindJSON(&in); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	recs, cached, err := h.moderation.Recommend(c.Request.Context(), in)
	if err != nil {
		h.respondError(c, "recommend tracks", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"recommendations": recs, "cached": cached})
}

// Search answers a free-text music query.
func (h *Handler) Search(c *gin.Context) {
	var in reviewer.SearchInput
	if err := c.ShouldBindJSON(&in); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	results, cached, err := h.moderation.Search(c.Request.Context(), in)
	if err != nil {
		h.respondError(c, "search tracks", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"results": results, "cached": cached})
}
