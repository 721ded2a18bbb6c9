package reviewer

import (
	"fmt"
	"strings"
)

// SystemInstruction is sent to every provider ahead of the task prompt.
const SystemInstruction = `You are a content-safety reviewer for a parental-control music service.
Parents rely on your analysis to decide whether a child may listen to a song or album.
Be factual and specific. Quote the exact words that raise a concern.
Respond with a single JSON object and nothing else.`

// SongInput is what the reviewer needs to analyze one track.
type SongInput struct {
	Track  string
	Artist string
	Lyrics string
}

// AlbumTrackInfo is one entry of an album's track list.
type AlbumTrackInfo struct {
	Name     string `json:"name"`
	Explicit bool   `json:"explicit"`
}

// AlbumInput describes an album without lyrics.
type AlbumInput struct {
	Album          string
	Artist         string
	Tracks         []AlbumTrackInfo
	Genres         []string
	EditorialNotes string
}

// RecommendationInput drives an AI recommendation query.
type RecommendationInput struct {
	Artists  []string `json:"artists"`
	Genres   []string `json:"genres"`
	AgeRange string   `json:"age_range"`
	Limit    int      `json:"limit"`
}

// SearchInput is a free-text music search, such as "calm songs about the ocean".
type SearchInput struct {
	Query    string `json:"query" binding:"required"`
	AgeRange string `json:"age_range"`
	Limit    int    `json:"limit"`
}

// BuildSongPrompt creates the lyric review prompt for a track.
func BuildSongPrompt(in SongInput) string {
	return fmt.Sprintf(`Review the lyrics of "%s" by %s for content a parent of a young child would want to know about.

Categories to consider: profanity, sexual content, violence, drugs or alcohol, self-harm, hate speech, mature themes.

Lyrics:
"""
%s
"""

Return JSON with exactly these fields:
{
  "summary": "two or three sentences about what the song is about",
  "inappropriate_content": [
    {"category": "profanity", "severity": "mild|moderate|significant", "quote": "exact words", "context": "why it matters"}
  ],
  "overall_rating": "clean|mild|moderate|significant",
  "age_recommendation": "e.g. All ages, 10+, 13+, 17+"
}

Use an empty "inappropriate_content" list when nothing is of concern.`, in.Track, in.Artist, in.Lyrics)
}

// BuildAlbumPrompt creates the coarse album overview prompt from the track list.
func BuildAlbumPrompt(in AlbumInput) string {
	var tracks strings.Builder
	for i, t := range in.Tracks {
		marker := ""
		if t.Explicit {
			marker = " [explicit]"
		}
		fmt.Fprintf(&tracks, "%d. %s%s\n", i+1, t.Name, marker)
	}

	genres := "unknown"
	if len(in.Genres) > 0 {
		genres = strings.Join(in.Genres, ", ")
	}

	notes := in.EditorialNotes
	if notes == "" {
		notes = "none"
	}

	return fmt.Sprintf(`Give a parent a quick overview of the album "%s" by %s without analyzing individual lyrics.

Genres: %s
Editorial notes: %s
Tracks:
%s
Return JSON with exactly these fields:
{
  "summary": "what the album is about",
  "themes": ["main themes"],
  "concerns": ["anything a parent should look at more closely"],
  "recommendation": "Likely Safe|Review Recommended|Detailed Review Required",
  "age_recommendation": "e.g. All ages, 13+"
}`, in.Album, in.Artist, genres, notes, tracks.String())
}

// BuildRecommendationPrompt asks for child-appropriate songs similar to the input.
func BuildRecommendationPrompt(in RecommendationInput) string {
	limit := in.Limit
	if limit <= 0 {
		limit = 10
	}

	return fmt.Sprintf(`Suggest %d songs suitable for a child aged %s who enjoys these artists: %s and these genres: %s.
Only suggest songs with clean lyrics.

Return JSON:
{
  "recommendations": [
    {"track": "song title", "artist": "artist name", "reason": "one sentence"}
  ]
}`, limit, orDefault(in.AgeRange, "any age"), orDefault(strings.Join(in.Artists, ", "), "none given"),
		orDefault(strings.Join(in.Genres, ", "), "any"))
}

// BuildSearchPrompt asks for existing songs matching a free-text query.
func BuildSearchPrompt(in SearchInput) string {
	limit := in.Limit
	if limit <= 0 {
		limit = 10
	}

	return fmt.Sprintf(`Find up to %d existing, released songs that match this request: %q.
The listener is a child aged %s. Leave out songs with explicit lyrics.
Note briefly anything a parent may want to know about each song.

Return JSON:
{
  "results": [
    {"track": "song title", "artist": "artist name", "album": "album name", "note": "one sentence"}
  ]
}`, limit, in.Query, orDefault(in.AgeRange, "any age"))
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
