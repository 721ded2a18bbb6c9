package moderation

import (
	"context"
	"fmt"

	"safetunes/internal/models"
)

const defaultTopN = 10

// GetCacheStats reports how often cached entries were reused. The hit rate is
// reuse / (reuse + entries), since every entry cost exactly one miss.
func (s *Service) GetCacheStats(ctx context.Context, topN int) (*models.CacheStats, error) {
	if topN <= 0 {
		topN = defaultTopN
	}

	entries, reuse, err := s.cache.Stats(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate cache stats: %w", err)
	}

	top, err := s.cache.TopReused(ctx, topN)
	if err != nil {
		return nil, fmt.Errorf("failed to list most reused entries: %w", err)
	}
	if top == nil {
		top = []*models.ModerationCacheEntry{}
	}

	stats := &models.CacheStats{
		TotalEntries: entries,
		TotalReuse:   reuse,
		TopReused:    top,
	}
	if total := entries + reuse; total > 0 {
		stats.HitRate = float64(reuse) / float64(total)
	}
	return stats, nil
}
