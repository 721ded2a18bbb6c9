// Package moderation caches AI safety reviews and lyric lookups so the same
// song or album is never analyzed twice.
package moderation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"safetunes/internal/fuzzy"
	"safetunes/internal/lyrics"
	"safetunes/internal/metrics"
	"safetunes/internal/models"
	"safetunes/internal/repository"
	"safetunes/internal/reviewer"
)

// Reviewer produces verdicts from an external AI provider.
type Reviewer interface {
	ReviewSong(ctx context.Context, in reviewer.SongInput) (*models.SongReview, string, error)
	ReviewAlbum(ctx context.Context, in reviewer.AlbumInput) (*models.AlbumOverview, string, error)
	Recommend(ctx context.Context, in reviewer.RecommendationInput) ([]models.Recommendation, string, error)
	Search(ctx context.Context, in reviewer.SearchInput) ([]models.SearchResult, string, error)
}

// LyricsFinder locates lyrics with the external provider.
type LyricsFinder interface {
	Find(ctx context.Context, track, artist string) (*lyrics.Match, error)
}

// Service is the moderation cache in front of the reviewer and the lyric provider.
type Service struct {
	cache    repository.ModerationCacheRepository
	queries  repository.QueryCacheRepository
	reviewer Reviewer
	finder   LyricsFinder
	metrics  *metrics.Metrics
	logger   *zap.Logger
	group    singleflight.Group
	now      func() time.Time

	flightTimeout time.Duration
}

// defaultFlightTimeout bounds one shared lookup, including provider retries.
const defaultFlightTimeout = 2 * time.Minute

func NewService(
	cache repository.ModerationCacheRepository,
	queries repository.QueryCacheRepository,
	rev Reviewer,
	finder LyricsFinder,
	m *metrics.Metrics,
	logger *zap.Logger,
) *Service {
	return &Service{
		cache:    cache,
		queries:  queries,
		reviewer: rev,
		finder:   finder,
		metrics:  m,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },

		flightTimeout: defaultFlightTimeout,
	}
}

// SongTarget identifies the track to review. Lyrics may be supplied by the
// caller; otherwise they are looked up.
type SongTarget struct {
	ContentID string `json:"content_id"`
	Track     string `json:"track" binding:"required"`
	Artist    string `json:"artist" binding:"required"`
	Lyrics    string `json:"lyrics"`
}

// ReviewResult is a song verdict and whether it came from the cache.
type ReviewResult struct {
	Entry  *models.ModerationCacheEntry `json:"entry"`
	Review *models.SongReview           `json:"review"`
	Cached bool                         `json:"cached"`
}

// GetOrCreateReview returns the cached verdict for target or asks the reviewer for one.
// Without a content id the verdict is looked up under the normalized names.
func (s *Service) GetOrCreateReview(ctx context.Context, target SongTarget) (*ReviewResult, error) {
	if res, err := s.cachedReview(ctx, target); err != nil || res != nil {
		return res, err
	}
	s.metrics.CacheMiss(string(models.ReviewSong))

	flightKey := "review:" + target.ContentID
	if target.ContentID == "" {
		flightKey = "review-key:" + fuzzy.CacheKey(target.Track, target.Artist)
	}

	v, err := s.do(ctx, flightKey, func(ctx context.Context) (interface{}, error) {
		if res, err := s.cachedReview(ctx, target); err != nil || res != nil {
			return res, err
		}
		return s.createReview(ctx, target)
	})
	if err != nil {
		return nil, err
	}
	return v.(*ReviewResult), nil
}

func (s *Service) cachedReview(ctx context.Context, target SongTarget) (*ReviewResult, error) {
	var (
		entry *models.ModerationCacheEntry
		err   error
	)
	if target.ContentID != "" {
		entry, err = s.cache.GetByContentID(ctx, models.ReviewSong, target.ContentID)
	} else {
		entry, err = s.cache.FindReviewByKey(ctx, models.ReviewSong, fuzzy.CacheKey(target.Track, target.Artist))
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read moderation cache: %w", err)
	}
	if !entry.IsReview() || entry.Song == nil {
		return nil, nil
	}

	s.hit(string(models.ReviewSong), entry.ID)
	return &ReviewResult{Entry: entry, Review: entry.Song, Cached: true}, nil
}

func (s *Service) createReview(ctx context.Context, target SongTarget) (*ReviewResult, error) {
	text := strings.TrimSpace(target.Lyrics)
	if text == "" {
		found, err := s.GetOrFetchLyrics(ctx, target.Track, target.Artist)
		if err != nil {
			return nil, err
		}
		text = found.Lyrics
	}

	review, provider, err := s.reviewer.ReviewSong(ctx, reviewer.SongInput{
		Track:  target.Track,
		Artist: target.Artist,
		Lyrics: text,
	})
	if err != nil {
		return nil, err
	}

	now := s.now()
	entry := &models.ModerationCacheEntry{
		ID:            uuid.NewString(),
		ReviewType:    models.ReviewSong,
		TrackName:     target.Track,
		ArtistName:    target.Artist,
		NormalizedKey: fuzzy.CacheKey(target.Track, target.Artist),
		Lyrics:        text,
		Model:         provider,
		CreatedAt:     now,
		ReviewedAt:    &now,
		Song:          review,
	}
	if target.ContentID != "" {
		entry.ContentID = &target.ContentID
	}

	if _, err := s.cache.InsertReview(ctx, entry); err != nil {
		s.logger.Error("Failed to cache song review",
			zap.String("content_id", target.ContentID),
			zap.String("track", target.Track),
			zap.Error(err))
	}

	return &ReviewResult{Entry: entry, Review: review, Cached: false}, nil
}

// LyricsResult is lyric text and whether it came from the cache.
type LyricsResult struct {
	Track  string `json:"track"`
	Artist string `json:"artist"`
	Lyrics string `json:"lyrics"`
	Cached bool   `json:"cached"`
}

// GetOrFetchLyrics returns cached lyrics under the normalized names, or fetches
// them and caches them under both the requested and the provider's names.
// A lookup that completes without a match returns models.ErrLyricsNotFound.
func (s *Service) GetOrFetchLyrics(ctx context.Context, track, artist string) (*LyricsResult, error) {
	key := fuzzy.CacheKey(track, artist)

	if res, err := s.cachedLyrics(ctx, key); err != nil || res != nil {
		return res, err
	}
	s.metrics.CacheMiss("lyrics")

	v, err := s.do(ctx, "lyrics:"+key, func(ctx context.Context) (interface{}, error) {
		// another flight may have finished between the miss and here
		if res, err := s.cachedLyrics(ctx, key); err != nil || res != nil {
			return res, err
		}
		return s.fetchLyrics(ctx, track, artist, key)
	})
	if err != nil {
		return nil, err
	}
	return v.(*LyricsResult), nil
}

func (s *Service) cachedLyrics(ctx context.Context, key string) (*LyricsResult, error) {
	entry, err := s.cache.FindLyricsByKey(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("failed to read lyric cache: %w", err)
	}
	if !entry.HasLyrics() {
		return nil, nil
	}

	s.hit("lyrics", entry.ID)
	return &LyricsResult{
		Track:  entry.TrackName,
		Artist: entry.ArtistName,
		Lyrics: entry.Lyrics,
		Cached: true,
	}, nil
}

func (s *Service) fetchLyrics(ctx context.Context, track, artist, key string) (*LyricsResult, error) {
	match, err := s.finder.Find(ctx, track, artist)
	if err != nil {
		if lyrics.IsNotFound(err) {
			return nil, models.WrapError(models.ErrLyricsNotFound,
				"lyrics not found; you may enter them manually", err)
		}
		if errors.Is(err, models.ErrUpstreamFailure) {
			return nil, models.WrapError(models.ErrUpstreamFailure, reviewer.AnalysisUnavailable, err)
		}
		return nil, err
	}

	s.storeLyrics(ctx, track, artist, key, match.Lyrics)
	if canonical := fuzzy.CacheKey(match.Track, match.Artist); canonical != key {
		s.storeLyrics(ctx, match.Track, match.Artist, canonical, match.Lyrics)
	}

	return &LyricsResult{
		Track:  match.Track,
		Artist: match.Artist,
		Lyrics: match.Lyrics,
		Cached: false,
	}, nil
}

// storeLyrics is best-effort; a concurrent writer for the same key wins.
func (s *Service) storeLyrics(ctx context.Context, track, artist, key, text string) bool {
	inserted, err := s.cache.InsertLyricsOnly(ctx, &models.ModerationCacheEntry{
		ID:            uuid.NewString(),
		ReviewType:    models.ReviewSong,
		TrackName:     track,
		ArtistName:    artist,
		NormalizedKey: key,
		Lyrics:        text,
		CreatedAt:     s.now(),
	})
	if err != nil {
		s.logger.Error("Failed to cache lyrics", zap.String("key", key), zap.Error(err))
		return false
	}
	if !inserted {
		s.logger.Debug("Lyrics already cached, skipping insert", zap.String("key", key))
	}
	return inserted
}

// SaveManualLyrics stores lyrics a parent typed in after an automatic lookup failed.
func (s *Service) SaveManualLyrics(ctx context.Context, track, artist, text string) (*LyricsResult, error) {
	text = lyrics.Clean(text)
	if text == "" || strings.TrimSpace(track) == "" || strings.TrimSpace(artist) == "" {
		return nil, models.NewError(models.ErrInvalidInput, "track, artist and lyrics are required")
	}

	key := fuzzy.CacheKey(track, artist)
	inserted := s.storeLyrics(ctx, track, artist, key, text)

	entry, err := s.cache.FindLyricsByKey(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("failed to read lyric cache: %w", err)
	}
	if entry == nil {
		return nil, fmt.Errorf("lyrics for %q were not stored", track)
	}
	return &LyricsResult{Track: entry.TrackName, Artist: entry.ArtistName, Lyrics: entry.Lyrics, Cached: !inserted}, nil
}

// AlbumTarget identifies an album for a coarse overview.
type AlbumTarget struct {
	AlbumID        string                    `json:"album_id" binding:"required"`
	Album          string                    `json:"album" binding:"required"`
	Artist         string                    `json:"artist" binding:"required"`
	Tracks         []reviewer.AlbumTrackInfo `json:"tracks"`
	Genres         []string                  `json:"genres"`
	EditorialNotes string                    `json:"editorial_notes"`
}

// AlbumResult is an album overview and whether it came from the cache.
type AlbumResult struct {
	Entry    *models.ModerationCacheEntry `json:"entry"`
	Overview *models.AlbumOverview        `json:"overview"`
	Cached   bool                         `json:"cached"`
}

// ReviewAlbum returns the cached overview for the album id or asks the reviewer for one.
func (s *Service) ReviewAlbum(ctx context.Context, target AlbumTarget) (*AlbumResult, error) {
	if target.AlbumID == "" {
		return nil, models.NewError(models.ErrMissingReference, "album id is required for an album overview")
	}

	if res, err := s.cachedAlbum(ctx, target.AlbumID); err != nil || res != nil {
		return res, err
	}
	s.metrics.CacheMiss(string(models.ReviewAlbum))

	if len(target.Tracks) == 0 {
		return nil, models.NewError(models.ErrInvalidInput, "a track list is required for an album overview")
	}

	v, err := s.do(ctx, "album:"+target.AlbumID, func(ctx context.Context) (interface{}, error) {
		if res, err := s.cachedAlbum(ctx, target.AlbumID); err != nil || res != nil {
			return res, err
		}
		return s.createAlbumOverview(ctx, target)
	})
	if err != nil {
		return nil, err
	}
	return v.(*AlbumResult), nil
}

func (s *Service) cachedAlbum(ctx context.Context, albumID string) (*AlbumResult, error) {
	entry, err := s.cache.GetByContentID(ctx, models.ReviewAlbum, albumID)
	if err != nil {
		return nil, fmt.Errorf("failed to read moderation cache: %w", err)
	}
	if !entry.IsReview() || entry.Album == nil {
		return nil, nil
	}

	s.hit(string(models.ReviewAlbum), entry.ID)
	return &AlbumResult{Entry: entry, Overview: entry.Album, Cached: true}, nil
}

func (s *Service) createAlbumOverview(ctx context.Context, target AlbumTarget) (*AlbumResult, error) {
	overview, provider, err := s.reviewer.ReviewAlbum(ctx, reviewer.AlbumInput{
		Album:          target.Album,
		Artist:         target.Artist,
		Tracks:         target.Tracks,
		Genres:         target.Genres,
		EditorialNotes: target.EditorialNotes,
	})
	if err != nil {
		return nil, err
	}

	now := s.now()
	entry := &models.ModerationCacheEntry{
		ID:            uuid.NewString(),
		ReviewType:    models.ReviewAlbum,
		ContentID:     &target.AlbumID,
		TrackName:     target.Album,
		ArtistName:    target.Artist,
		NormalizedKey: fuzzy.CacheKey(target.Album, target.Artist),
		Model:         provider,
		CreatedAt:     now,
		ReviewedAt:    &now,
		Album:         overview,
	}
	if _, err := s.cache.InsertReview(ctx, entry); err != nil {
		s.logger.Error("Failed to cache album overview",
			zap.String("album_id", target.AlbumID),
			zap.Error(err))
	}
	return &AlbumResult{Entry: entry, Overview: overview, Cached: false}, nil
}

// do runs fn once per key for all concurrent callers. The flight is detached
// from ctx so a caller that gives up does not fail the others.
func (s *Service) do(ctx context.Context, key string, fn func(ctx context.Context) (interface{}, error)) (interface{}, error) {
	ch := s.group.DoChan(key, func() (interface{}, error) {
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.flightTimeout)
		defer cancel()
		return fn(fctx)
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		return res.Val, res.Err
	}
}

// hit records a cache hit. The counter update never delays the read.
func (s *Service) hit(kind, entryID string) {
	s.metrics.CacheHit(kind)
	at := s.now()
	runAsync(s.logger, "record_cache_hit", func(ctx context.Context) error {
		return s.cache.RecordHit(ctx, entryID, at)
	})
}
