package reviewer

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"safetunes/internal/models"
)

func TestStripCodeFence(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain", `{"a":1}`, `{"a":1}`},
		{"json fence", "```json\n{\"a\":1}\n```", `{"a":1}`},
		{"bare fence", "```\n{\"a\":1}\n```", `{"a":1}`},
		{"fence on one line", "```{\"a\":1}```", `{"a":1}`},
		{"prose around", "Here is the review:\n{\"a\":1}\nHope this helps", `{"a":1}`},
		{"whitespace", "  \n{\"a\":1}\n  ", `{"a":1}`},
		{"empty", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, StripCodeFence(tt.in))
		})
	}
}

func TestParseSongReview(t *testing.T) {
	raw := "```json\n" + `{
  "summary": "A breakup song.",
  "inappropriate_content": [
    {"category": "profanity", "severity": "Severe", "quote": "damn", "context": "chorus"}
  ],
  "overall_rating": "Moderate",
  "age_recommendation": "13+"
}` + "\n```"

	review, err := ParseSongReview(raw)
	require.NoError(t, err)
	assert.Equal(t, "A breakup song.", review.Summary)
	assert.Equal(t, models.RatingModerate, review.OverallRating)
	require.Len(t, review.Concerns, 1)
	assert.Equal(t, models.SeveritySignificant, review.Concerns[0].Severity)
}

func TestParseSongReview_EmptyConcernsIsClean(t *testing.T) {
	review, err := ParseSongReview(`{"summary":"A lullaby.","inappropriate_content":null,"overall_rating":"clean","age_recommendation":"All ages"}`)
	require.NoError(t, err)
	assert.NotNil(t, review.Concerns)
	assert.Empty(t, review.Concerns)
	assert.Equal(t, models.RatingClean, review.OverallRating)
}

func TestParseSongReview_Malformed(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"not json", "I cannot review this song."},
		{"truncated", `{"summary": "A song`},
		{"unknown rating", `{"summary":"x","inappropriate_content":[],"overall_rating":"spicy"}`},
		{"missing summary", `{"inappropriate_content":[],"overall_rating":"clean"}`},
		{"bad severity", `{"summary":"x","inappropriate_content":[{"category":"violence","severity":"extreme"}],"overall_rating":"mild"}`},
		{"empty", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			review, err := ParseSongReview(tt.raw)
			require.Error(t, err)
			assert.Nil(t, review)

			var parseErr *ParseError
			assert.True(t, errors.As(err, &parseErr))
			assert.Equal(t, tt.raw, parseErr.Raw)
		})
	}
}

func TestParseAlbumOverview(t *testing.T) {
	overview, err := ParseAlbumOverview(`{"summary":"Upbeat pop.","themes":["love"],"recommendation":"Likely Safe","age_recommendation":"All ages"}`)
	require.NoError(t, err)
	assert.Equal(t, models.AlbumLikelySafe, overview.Recommendation)
	assert.Equal(t, []string{}, overview.Concerns)

	_, err = ParseAlbumOverview(`{"summary":"Upbeat pop.","recommendation":"Probably fine"}`)
	var parseErr *ParseError
	assert.True(t, errors.As(err, &parseErr))
}

func TestParseRecommendations(t *testing.T) {
	recs, err := ParseRecommendations("```json\n{\"recommendations\":[{\"track\":\"Here Comes the Sun\",\"artist\":\"The Beatles\",\"reason\":\"Gentle\"}]}\n```")
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "Here Comes the Sun", recs[0].Track)

	_, err = ParseRecommendations(`{"recommendations":[{"track":"","artist":"x"}]}`)
	assert.Error(t, err)
}

func TestParseSearchResults(t *testing.T) {
	results, err := ParseSearchResults("```json\n{\"results\":[{\"track\":\"Octopus's Garden\",\"artist\":\"The Beatles\",\"album\":\"Abbey Road\",\"note\":\"Playful\"}]}\n```")
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "Abbey Road", results[0].Album)

	empty, err := ParseSearchResults(`{"results":null}`)
	require.NoError(t, err)
	assert.NotNil(t, empty)

	_, err = ParseSearchResults(`{"results":[{"track":"Octopus's Garden"}]}`)
	assert.Error(t, err)
}
