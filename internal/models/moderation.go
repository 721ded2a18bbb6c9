package models

import "time"

// ReviewType is the kind of content a moderation cache entry describes.
type ReviewType string

const (
	ReviewSong  ReviewType = "song"
	ReviewAlbum ReviewType = "album"
)

// EntryState distinguishes lyric-only rows from completed reviews.
type EntryState string

const (
	EntryLyricsOnly EntryState = "lyrics_only"
	EntryReviewed   EntryState = "reviewed"
)

// Severity of a single concern raised by the reviewer.
type Severity string

const (
	SeverityMild        Severity = "mild"
	SeverityModerate    Severity = "moderate"
	SeveritySignificant Severity = "significant"
)

// OverallRating is the reviewer's verdict for a song.
type OverallRating string

const (
	RatingClean       OverallRating = "clean"
	RatingMild        OverallRating = "mild"
	RatingModerate    OverallRating = "moderate"
	RatingSignificant OverallRating = "significant"
)

// AlbumRecommendation is the coarse album-level verdict.
type AlbumRecommendation string

const (
	AlbumLikelySafe        AlbumRecommendation = "Likely Safe"
	AlbumReviewRecommended AlbumRecommendation = "Review Recommended"
	AlbumDetailedReview    AlbumRecommendation = "Detailed Review Required"
)

// Concern is one flagged passage.
type Concern struct {
	Category string   `json:"category" validate:"required"`
	Severity Severity `json:"severity" validate:"oneof=mild moderate significant"`
	Quote    string   `json:"quote"`
	Context  string   `json:"context"`
}

// SongReview is the parsed verdict for one track. An empty Concerns list is a clean verdict.
type SongReview struct {
	Summary           string        `json:"summary" validate:"required"`
	Concerns          []Concern     `json:"inappropriate_content" validate:"dive"`
	OverallRating     OverallRating `json:"overall_rating" validate:"oneof=clean mild moderate significant"`
	AgeRecommendation string        `json:"age_recommendation"`
}

// AlbumOverview is the parsed verdict for a whole album.
type AlbumOverview struct {
	Summary           string              `json:"summary" validate:"required"`
	Themes            []string            `json:"themes"`
	Concerns          []string            `json:"concerns"`
	Recommendation    AlbumRecommendation `json:"recommendation" validate:"oneof='Likely Safe' 'Review Recommended' 'Detailed Review Required'"`
	AgeRecommendation string              `json:"age_recommendation"`
}

// ModerationCacheEntry is either lyric text awaiting review or a completed review.
// Only entries for which IsReview reports true may be surfaced as a safety verdict.
type ModerationCacheEntry struct {
	Seq            int64      `db:"seq" json:"-"`
	ID             string     `db:"id" json:"id"`
	ReviewType     ReviewType `db:"review_type" json:"review_type"`
	ContentID      *string    `db:"content_id" json:"content_id,omitempty"`
	TrackName      string     `db:"track_name" json:"track_name"`
	ArtistName     string     `db:"artist_name" json:"artist_name"`
	NormalizedKey  string     `db:"normalized_key" json:"-"`
	State          EntryState `db:"state" json:"state"`
	Lyrics         string     `db:"lyrics" json:"lyrics,omitempty"`
	Payload        string     `db:"payload" json:"-"`
	Model          string     `db:"model" json:"model,omitempty"`
	TimesReused    int64      `db:"times_reused" json:"times_reused"`
	CreatedAt      time.Time  `db:"created_at" json:"created_at"`
	ReviewedAt     *time.Time `db:"reviewed_at" json:"reviewed_at,omitempty"`
	LastAccessedAt *time.Time `db:"last_accessed_at" json:"last_accessed_at,omitempty"`

	Song  *SongReview    `db:"-" json:"song_review,omitempty"`
	Album *AlbumOverview `db:"-" json:"album_overview,omitempty"`
}

// IsReview reports whether the entry carries a completed safety verdict.
func (e *ModerationCacheEntry) IsReview() bool {
	if e == nil || e.State != EntryReviewed {
		return false
	}
	return e.Song != nil || e.Album != nil
}

// HasLyrics reports whether the entry can satisfy a lyric lookup.
func (e *ModerationCacheEntry) HasLyrics() bool {
	return e != nil && e.Lyrics != ""
}

// Recommendation is one suggested track from an AI recommendation query.
type Recommendation struct {
	Track  string `json:"track" validate:"required"`
	Artist string `json:"artist" validate:"required"`
	Reason string `json:"reason"`
}

// SearchResult is one track matched by an AI search query.
type SearchResult struct {
	Track  string `json:"track" validate:"required"`
	Artist string `json:"artist" validate:"required"`
	Album  string `json:"album,omitempty"`
	Note   string `json:"note"`
}

// QueryKind separates AI search results from recommendation results.
type QueryKind string

const (
	QuerySearch         QueryKind = "search"
	QueryRecommendation QueryKind = "recommendation"
)

// QueryCacheEntry caches an AI search or recommendation result by parameter hash.
type QueryCacheEntry struct {
	Seq            int64      `db:"seq" json:"-"`
	Kind           QueryKind  `db:"kind" json:"kind"`
	QueryHash      string     `db:"query_hash" json:"query_hash"`
	Params         string     `db:"params" json:"params"`
	Result         string     `db:"result" json:"result"`
	TimesReused    int64      `db:"times_reused" json:"times_reused"`
	CreatedAt      time.Time  `db:"created_at" json:"created_at"`
	LastAccessedAt *time.Time `db:"last_accessed_at" json:"last_accessed_at,omitempty"`
}

// CacheStats aggregates reuse across the moderation cache.
type CacheStats struct {
	TotalEntries int64                   `json:"total_entries"`
	TotalReuse   int64                   `json:"total_reuse"`
	HitRate      float64                 `json:"hit_rate"`
	TopReused    []*ModerationCacheEntry `json:"top_reused"`
}
