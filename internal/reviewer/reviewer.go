package reviewer

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"safetunes/internal/models"
)

// AnalysisUnavailable is shown to parents when no provider produced a verdict.
const AnalysisUnavailable = "could not analyze automatically; you may enter information manually"

// Runner sends a prompt to a provider and parses the reply.
type Runner interface {
	Run(ctx context.Context, prompt string, parse func(text string) error) (string, error)
}

// Reviewer produces song reviews, album overviews and recommendations.
type Reviewer struct {
	runner Runner
	logger *zap.Logger
}

func New(runner Runner, logger *zap.Logger) *Reviewer {
	return &Reviewer{runner: runner, logger: logger}
}

// ReviewSong returns the verdict for one track and the provider that produced it.
func (r *Reviewer) ReviewSong(ctx context.Context, in SongInput) (*models.SongReview, string, error) {
	if in.Lyrics == "" {
		return nil, "", models.NewError(models.ErrInvalidInput, "lyrics are required for a song review")
	}

	var review *models.SongReview
	provider, err := r.runner.Run(ctx, BuildSongPrompt(in), func(text string) error {
		parsed, err := ParseSongReview(text)
		if err != nil {
			return err
		}
		review = parsed
		return nil
	})
	if err != nil {
		return nil, "", models.WrapError(models.ErrUpstreamFailure, AnalysisUnavailable,
			fmt.Errorf("song review for %q: %w", in.Track, err))
	}

	r.logger.Debug("Song reviewed",
		zap.String("track", in.Track),
		zap.String("provider", provider),
		zap.String("rating", string(review.OverallRating)),
		zap.Int("concerns", len(review.Concerns)))
	return review, provider, nil
}

// ReviewAlbum returns a coarse album overview from the track list.
func (r *Reviewer) ReviewAlbum(ctx context.Context, in AlbumInput) (*models.AlbumOverview, string, error) {
	var overview *models.AlbumOverview
	provider, err := r.runner.Run(ctx, BuildAlbumPrompt(in), func(text string) error {
		parsed, err := ParseAlbumOverview(text)
		if err != nil {
			return err
		}
		overview = parsed
		return nil
	})
	if err != nil {
		return nil, "", models.WrapError(models.ErrUpstreamFailure, AnalysisUnavailable,
			fmt.Errorf("album overview for %q: %w", in.Album, err))
	}
	return overview, provider, nil
}

// Recommend returns child-appropriate track suggestions.
func (r *Reviewer) Recommend(ctx context.Context, in RecommendationInput) ([]models.Recommendation, string, error) {
	var recs []models.Recommendation
	provider, err := r.runner.Run(ctx, BuildRecommendationPrompt(in), func(text string) error {
		parsed, err := ParseRecommendations(text)
		if err != nil {
			return err
		}
		recs = parsed
		return nil
	})
	if err != nil {
		return nil, "", models.WrapError(models.ErrUpstreamFailure, "recommendations are unavailable right now", err)
	}
	return recs, provider, nil
}

// Search answers a free-text music query.
func (r *Reviewer) Search(ctx context.Context, in SearchInput) ([]models.SearchResult, string, error) {
	var results []models.SearchResult
	provider, err := r.runner.Run(ctx, BuildSearchPrompt(in), func(text string) error {
		parsed, err := ParseSearchResults(text)
		if err != nil {
			return err
		}
		results = parsed
		return nil
	})
	if err != nil {
		return nil, "", models.WrapError(models.ErrUpstreamFailure, "search is unavailable right now", err)
	}
	return results, provider, nil
}
