package reviewer

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	"safetunes/internal/models"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// ParseError reports a provider response that could not be turned into a verdict.
type ParseError struct {
	Raw string
	Err error
}

func (e *ParseError) Error() string {
	return "malformed reviewer response: " + e.Err.Error()
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// StripCodeFence removes Markdown code fences and any prose around the JSON payload.
func StripCodeFence(s string) string {
	clean := strings.TrimSpace(s)
	if strings.HasPrefix(clean, "```") {
		clean = strings.TrimPrefix(clean, "```")
		if nl := strings.IndexByte(clean, '\n'); nl >= 0 && !strings.ContainsAny(clean[:nl], "{[") {
			clean = clean[nl+1:] // language tag line
		}
		clean = strings.TrimSuffix(strings.TrimSpace(clean), "```")
		clean = strings.TrimSpace(clean)
	}

	if clean == "" || clean[0] == '{' || clean[0] == '[' {
		return clean
	}
	start := strings.IndexAny(clean, "{[")
	end := strings.LastIndexAny(clean, "}]")
	if start >= 0 && end > start {
		return clean[start : end+1]
	}
	return clean
}

// ParseSongReview decodes and validates a song verdict.
func ParseSongReview(raw string) (*models.SongReview, error) {
	var review models.SongReview
	if err := decode(raw, &review); err != nil {
		return nil, err
	}

	review.OverallRating = models.OverallRating(strings.ToLower(string(review.OverallRating)))
	if review.Concerns == nil {
		review.Concerns = []models.Concern{}
	}
	for i := range review.Concerns {
		review.Concerns[i].Severity = normalizeSeverity(review.Concerns[i].Severity)
	}

	if err := validate.Struct(&review); err != nil {
		return nil, &ParseError{Raw: raw, Err: err}
	}
	return &review, nil
}

// ParseAlbumOverview decodes and validates an album overview.
func ParseAlbumOverview(raw string) (*models.AlbumOverview, error) {
	var overview models.AlbumOverview
	if err := decode(raw, &overview); err != nil {
		return nil, err
	}

	if overview.Themes == nil {
		overview.Themes = []string{}
	}
	if overview.Concerns == nil {
		overview.Concerns = []string{}
	}

	if err := validate.Struct(&overview); err != nil {
		return nil, &ParseError{Raw: raw, Err: err}
	}
	return &overview, nil
}

// ParseRecommendations decodes a recommendation list.
func ParseRecommendations(raw string) ([]models.Recommendation, error) {
	var payload struct {
		Recommendations []models.Recommendation `json:"recommendations" validate:"dive"`
	}
	if err := decode(raw, &payload); err != nil {
		return nil, err
	}

	if err := validate.Struct(&payload); err != nil {
		return nil, &ParseError{Raw: raw, Err: err}
	}
	if payload.Recommendations == nil {
		payload.Recommendations = []models.Recommendation{}
	}
	return payload.Recommendations, nil
}

// ParseSearchResults decodes an AI search reply.
func ParseSearchResults(raw string) ([]models.SearchResult, error) {
	var payload struct {
		Results []models.SearchResult `json:"results" validate:"dive"`
	}
	if err := decode(raw, &payload); err != nil {
		return nil, err
	}

	if err := validate.Struct(&payload); err != nil {
		return nil, &ParseError{Raw: raw, Err: err}
	}
	if payload.Results == nil {
		payload.Results = []models.SearchResult{}
	}
	return payload.Results, nil
}

func decode(raw string, out interface{}) error {
	clean := StripCodeFence(raw)
	if clean == "" {
		return &ParseError{Raw: raw, Err: fmt.Errorf("empty response")}
	}
	if err := json.Unmarshal([]byte(clean), out); err != nil {
		return &ParseError{Raw: raw, Err: err}
	}
	return nil
}

// normalizeSeverity maps the synonyms models tend to use onto the three levels.
func normalizeSeverity(s models.Severity) models.Severity {
	switch strings.ToLower(strings.TrimSpace(string(s))) {
	case "low", "minor", "mild":
		return models.SeverityMild
	case "medium", "moderate":
		return models.SeverityModerate
	case "high", "severe", "significant", "strong":
		return models.SeveritySignificant
	}
	return s
}
