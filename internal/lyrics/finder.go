package lyrics

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"safetunes/internal/fuzzy"
	"safetunes/internal/models"
)

// Provider is the subset of the lyric API the finder needs.
type Provider interface {
	Search(ctx context.Context, track, artist string) ([]fuzzy.Result, error)
	SearchQuery(ctx context.Context, query string) ([]fuzzy.Result, error)
	Lyrics(ctx context.Context, trackID string) (string, error)
}

// Match is a confident lyric lookup under the provider's canonical names.
type Match struct {
	TrackID string
	Track   string
	Artist  string
	Lyrics  string
	Score   float64
}

// Finder walks the name alternatives of a track until the provider yields lyrics.
type Finder struct {
	provider Provider
	matcher  *fuzzy.Matcher
	logger   *zap.Logger
}

func NewFinder(provider Provider, matcher *fuzzy.Matcher, logger *zap.Logger) *Finder {
	return &Finder{provider: provider, matcher: matcher, logger: logger}
}

// Find returns models.ErrLyricsNotFound when no combination matches, and
// models.ErrUpstreamFailure when the provider could not be reached at all.
func (f *Finder) Find(ctx context.Context, track, artist string) (*Match, error) {
	var (
		lastErr   error
		succeeded bool
	)

	for _, c := range f.matcher.Combinations(track, artist) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		results, err := f.provider.Search(ctx, c.Track, c.Artist)
		if err != nil {
			lastErr = err
			f.logger.Warn("Lyric search failed, trying next combination",
				zap.String("track", c.Track),
				zap.String("artist", c.Artist),
				zap.Error(err))
			continue
		}
		succeeded = true

		match, err := f.fetch(ctx, track, artist, results)
		if err != nil {
			lastErr = err
			continue
		}
		if match != nil {
			return match, nil
		}
	}

	results, err := f.provider.SearchQuery(ctx, track+" "+artist)
	if err != nil {
		lastErr = err
	} else {
		succeeded = true
		match, err := f.fetch(ctx, track, artist, results)
		if err != nil {
			lastErr = err
		} else if match != nil {
			return match, nil
		}
	}

	if !succeeded && lastErr != nil {
		return nil, models.WrapError(models.ErrUpstreamFailure, "lyrics provider unavailable", lastErr)
	}
	return nil, models.NewError(models.ErrLyricsNotFound, fmt.Sprintf("no lyrics found for %q by %q", track, artist))
}

// fetch returns nil without error when no result is a confident match or it has no text.
func (f *Finder) fetch(ctx context.Context, track, artist string, results []fuzzy.Result) (*Match, error) {
	best, score, ok := f.matcher.BestMatch(track, artist, results)
	if !ok {
		return nil, nil
	}

	text, err := f.provider.Lyrics(ctx, best.ID)
	if err != nil {
		f.logger.Warn("Lyric fetch failed", zap.String("track_id", best.ID), zap.Error(err))
		return nil, err
	}
	if text == "" {
		return nil, nil
	}

	f.logger.Debug("Matched lyrics",
		zap.String("track", best.Track),
		zap.String("artist", best.Artist),
		zap.Float64("score", score))

	return &Match{
		TrackID: best.ID,
		Track:   best.Track,
		Artist:  best.Artist,
		Lyrics:  text,
		Score:   score,
	}, nil
}

// IsNotFound reports whether err means the lookup completed without a match.
func IsNotFound(err error) bool {
	return errors.Is(err, models.ErrLyricsNotFound)
}
