package reviewer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"safetunes/internal/metrics"
)

// MultiProviderClient manages multiple LLM providers with fallback
type MultiProviderClient struct {
	providers    []Provider
	currentIndex int
	mu           sync.RWMutex
	logger       *zap.Logger
	metrics      *metrics.Metrics
	failureCount map[int]int
	maxFailures  int
}

// MultiProviderConfig holds configuration for multiple providers
type MultiProviderConfig struct {
	Providers   []ProviderConfig
	MaxFailures int           // Max consecutive failures before switching provider
	Timeout     time.Duration // per HTTP call
}

// NewMultiProviderClient creates a new multi-provider client
func NewMultiProviderClient(cfg MultiProviderConfig, m *metrics.Metrics, logger *zap.Logger) (*MultiProviderClient, error) {
	if len(cfg.Providers) == 0 {
		return nil, fmt.Errorf("at least one provider is required")
	}

	providers := make([]Provider, 0, len(cfg.Providers))
	for i, providerCfg := range cfg.Providers {
		var (
			provider Provider
			err      error
		)

		switch providerCfg.Type {
		case ProviderGemini:
			provider, err = NewGeminiProvider(providerCfg, logger)
		case ProviderGroq:
			provider, err = NewGroqProvider(providerCfg, cfg.Timeout, logger)
		case ProviderOpenAI, ProviderOpenRouter:
			provider, err = NewOpenAIProvider(providerCfg, cfg.Timeout, logger)
		default:
			logger.Warn("Unknown provider type, skipping",
				zap.String("type", string(providerCfg.Type)),
				zap.Int("index", i))
			continue
		}

		if err != nil {
			logger.Error("Failed to create provider",
				zap.String("type", string(providerCfg.Type)),
				zap.Int("index", i),
				zap.Error(err))
			continue
		}

		rateLimit := providerCfg.RequestsPerMinute
		if rateLimit == 0 {
			rateLimit = 8 // conservative free-tier default
		}
		providers = append(providers, NewRateLimitedProvider(provider, rateLimit))

		logger.Info("Provider initialized",
			zap.String("type", string(providerCfg.Type)),
			zap.String("model", providerCfg.ModelName),
			zap.Int("rate_limit", rateLimit),
			zap.Int("index", i))
	}

	if len(providers) == 0 {
		return nil, fmt.Errorf("no providers could be initialized")
	}

	return NewMultiProviderClientWith(providers, cfg.MaxFailures, m, logger), nil
}

// NewMultiProviderClientWith builds a client over already constructed providers.
func NewMultiProviderClientWith(providers []Provider, maxFailures int, m *metrics.Metrics, logger *zap.Logger) *MultiProviderClient {
	if maxFailures == 0 {
		maxFailures = 3
	}
	return &MultiProviderClient{
		providers:    providers,
		logger:       logger,
		metrics:      m,
		failureCount: make(map[int]int),
		maxFailures:  maxFailures,
	}
}

func (c *MultiProviderClient) getCurrentIndex() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.currentIndex
}

// switchFrom moves the sticky provider past index if it is still current.
func (c *MultiProviderClient) switchFrom(index int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.currentIndex != index {
		return
	}
	c.currentIndex = (index + 1) % len(c.providers)

	c.logger.Info("Switching provider",
		zap.Int("from_index", index),
		zap.Int("to_index", c.currentIndex),
		zap.Int("total_providers", len(c.providers)))
}

// recordFailure reports whether the provider reached its failure budget.
func (c *MultiProviderClient) recordFailure(providerIndex int) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.failureCount[providerIndex]++
	if c.failureCount[providerIndex] >= c.maxFailures {
		c.logger.Warn("Provider reached max failures",
			zap.Int("provider_index", providerIndex),
			zap.Int("failures", c.failureCount[providerIndex]))
		c.failureCount[providerIndex] = 0
		return true
	}
	return false
}

func (c *MultiProviderClient) resetFailureCount(providerIndex int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failureCount[providerIndex] = 0
}

// Run sends prompt to the current provider and hands the text to parse.
// A transport or parse failure falls through to the remaining providers in
// order; the last error is returned when every provider failed.
func (c *MultiProviderClient) Run(ctx context.Context, prompt string, parse func(text string) error) (string, error) {
	start := c.getCurrentIndex()

	var lastErr error
	for offset := 0; offset < len(c.providers); offset++ {
		providerIndex := (start + offset) % len(c.providers)
		provider := c.providers[providerIndex]

		text, err := provider.Complete(ctx, prompt)
		if err == nil {
			if err = parse(text); err == nil {
				c.resetFailureCount(providerIndex)
				c.metrics.ReviewerCall(provider.Name(), "success")
				return provider.Name(), nil
			}
			c.metrics.ReviewerCall(provider.Name(), "parse_error")
			c.logger.Error("Failed to parse provider response",
				zap.String("provider", provider.Name()),
				zap.String("response", text),
				zap.Error(err))
		} else {
			c.metrics.ReviewerCall(provider.Name(), "error")
			c.logger.Error("Provider failed",
				zap.String("provider", provider.Name()),
				zap.Int("provider_index", providerIndex),
				zap.Error(err))
		}
		lastErr = err

		if ctx.Err() != nil {
			return "", ctx.Err()
		}

		if c.recordFailure(providerIndex) || isRateLimitError(err) {
			c.switchFrom(providerIndex)
		}
	}

	return "", fmt.Errorf("all providers failed: %w", lastErr)
}

func isRateLimitError(err error) bool {
	var parseErr *ParseError
	if err == nil || errors.As(err, &parseErr) {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "429") ||
		strings.Contains(msg, "quota") ||
		strings.Contains(msg, "rate limit")
}

// Close closes all providers
func (c *MultiProviderClient) Close() error {
	var lastErr error
	for i, provider := range c.providers {
		if err := provider.Close(); err != nil {
			c.logger.Error("Failed to close provider", zap.Int("index", i), zap.Error(err))
			lastErr = err
		}
	}
	return lastErr
}

// GetProvidersInfo returns information about all providers
func (c *MultiProviderClient) GetProvidersInfo() []map[string]interface{} {
	c.mu.RLock()
	defer c.mu.RUnlock()

	info := make([]map[string]interface{}, len(c.providers))
	for i, provider := range c.providers {
		providerInfo := provider.GetModelInfo()
		providerInfo["is_current"] = i == c.currentIndex
		providerInfo["failure_count"] = c.failureCount[i]
		info[i] = providerInfo
	}
	return info
}
