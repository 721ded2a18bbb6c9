package moderation

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/crypto/blake2b"

	"safetunes/internal/models"
	"safetunes/internal/reviewer"
)

// QueryKey hashes query parameters after normalization: strings are trimmed
// and lower-cased, string lists are sorted and object keys are ordered.
func QueryKey(params any) (string, string, error) {
	raw, err := json.Marshal(params)
	if err != nil {
		return "", "", fmt.Errorf("failed to encode query params: %w", err)
	}

	var generic any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return "", "", fmt.Errorf("failed to decode query params: %w", err)
	}

	normalized, err := json.Marshal(normalizeParam(generic))
	if err != nil {
		return "", "", fmt.Errorf("failed to encode normalized params: %w", err)
	}

	sum := blake2b.Sum256(normalized)
	return hex.EncodeToString(sum[:]), string(normalized), nil
}

func normalizeParam(v any) any {
	switch t := v.(type) {
	case string:
		return strings.ToLower(strings.TrimSpace(t))
	case []any:
		out := make([]any, len(t))
		allStrings := true
		for i, item := range t {
			out[i] = normalizeParam(item)
			if _, ok := out[i].(string); !ok {
				allStrings = false
			}
		}
		if allStrings {
			sort.Slice(out, func(i, j int) bool { return out[i].(string) < out[j].(string) })
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, item := range t {
			out[k] = normalizeParam(item)
		}
		return out
	default:
		return v
	}
}

type queryOutcome[T any] struct {
	value  T
	cached bool
}

// CachedQuery returns the cached result for params or computes and stores it.
// The bool reports a cache hit.
func CachedQuery[T any](ctx context.Context, s *Service, kind models.QueryKind, params any, compute func(ctx context.Context) (T, error)) (T, bool, error) {
	var zero T

	hash, normalized, err := QueryKey(params)
	if err != nil {
		return zero, false, err
	}

	if cached, ok, err := cachedQuery[T](ctx, s, kind, hash); err != nil || ok {
		return cached, ok, err
	}
	s.metrics.CacheMiss(string(kind))

	v, err := s.do(ctx, "query:"+string(kind)+":"+hash, func(ctx context.Context) (interface{}, error) {
		if cached, ok, err := cachedQuery[T](ctx, s, kind, hash); err != nil || ok {
			return queryOutcome[T]{value: cached, cached: true}, err
		}

		result, err := compute(ctx)
		if err != nil {
			return nil, err
		}
		storeQuery(ctx, s, kind, hash, normalized, result)
		return queryOutcome[T]{value: result}, nil
	})
	if err != nil {
		return zero, false, err
	}
	out := v.(queryOutcome[T])
	return out.value, out.cached, nil
}

func cachedQuery[T any](ctx context.Context, s *Service, kind models.QueryKind, hash string) (T, bool, error) {
	var cached T

	entry, err := s.queries.Get(ctx, kind, hash)
	if err != nil {
		return cached, false, fmt.Errorf("failed to read query cache: %w", err)
	}
	if entry == nil {
		return cached, false, nil
	}
	if err := json.Unmarshal([]byte(entry.Result), &cached); err != nil {
		s.logger.Warn("Discarding undecodable cached query", zap.String("kind", string(kind)), zap.String("hash", hash))
		var zero T
		return zero, false, nil
	}

	s.metrics.CacheHit(string(kind))
	at := s.now()
	runAsync(s.logger, "record_query_hit", func(ctx context.Context) error {
		return s.queries.RecordHit(ctx, kind, hash, at)
	})
	return cached, true, nil
}

// storeQuery is best-effort; a concurrent writer for the same hash wins.
func storeQuery[T any](ctx context.Context, s *Service, kind models.QueryKind, hash, normalized string, result T) {
	encoded, err := json.Marshal(result)
	if err != nil {
		s.logger.Error("Failed to encode query result", zap.String("kind", string(kind)), zap.Error(err))
		return
	}
	if _, err := s.queries.Insert(ctx, &models.QueryCacheEntry{
		Kind:      kind,
		QueryHash: hash,
		Params:    normalized,
		Result:    string(encoded),
		CreatedAt: s.now(),
	}); err != nil {
		s.logger.Error("Failed to cache query result", zap.String("kind", string(kind)), zap.Error(err))
	}
}

// Recommend returns AI track suggestions, served from the query cache when possible.
func (s *Service) Recommend(ctx context.Context, in reviewer.RecommendationInput) ([]models.Recommendation, bool, error) {
	if len(in.Artists) == 0 && len(in.Genres) == 0 {
		return nil, false, models.NewError(models.ErrInvalidInput, "at least one artist or genre is required")
	}

	return CachedQuery(ctx, s, models.QueryRecommendation, in, func(ctx context.Context) ([]models.Recommendation, error) {
		recs, _, err := s.reviewer.Recommend(ctx, in)
		return recs, err
	})
}

// Search answers a free-text music query, served from the query cache when possible.
func (s *Service) Search(ctx context.Context, in reviewer.SearchInput) ([]models.SearchResult, bool, error) {
	if strings.TrimSpace(in.Query) == "" {
		return nil, false, models.NewError(models.ErrInvalidInput, "a search query is required")
	}

	return CachedQuery(ctx, s, models.QuerySearch, in, func(ctx context.Context) ([]models.SearchResult, error) {
		results, _, err := s.reviewer.Search(ctx, in)
		return results, err
	})
}
