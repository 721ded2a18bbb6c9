// Package reviewer asks an LLM provider for content-safety verdicts.
package reviewer

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ProviderType represents the type of LLM provider
type ProviderType string

const (
	ProviderGemini     ProviderType = "gemini"
	ProviderGroq       ProviderType = "groq"
	ProviderOpenAI     ProviderType = "openai"
	ProviderOpenRouter ProviderType = "openrouter"
)

// ProviderConfig holds configuration for a single provider instance
type ProviderConfig struct {
	Type       ProviderType  `yaml:"type" validate:"required,oneof=gemini groq openai openrouter"`
	APIKey     string        `yaml:"api_key" validate:"required"`
	ModelName  string        `yaml:"model_name"`
	BaseURL    string        `yaml:"base_url"`
	MaxRetries int           `yaml:"max_retries"`
	RetryDelay time.Duration `yaml:"retry_delay"`
	// Rate limiting per provider
	RequestsPerMinute int `yaml:"requests_per_minute"`
}

// Provider returns the raw completion text for a prompt.
type Provider interface {
	Complete(ctx context.Context, prompt string) (string, error)
	Name() string
	Close() error
	GetModelInfo() map[string]interface{}
}

// withRetries runs call up to maxRetries times, sleeping retryDelay between attempts.
func withRetries(ctx context.Context, provider string, maxRetries int, retryDelay time.Duration, logger *zap.Logger, call func() (string, error)) (string, error) {
	var lastErr error
	for attempt := 0; attempt < maxRetries; attempt++ {
		if attempt > 0 {
			logger.Warn("Retrying provider request",
				zap.String("provider", provider),
				zap.Int("attempt", attempt+1),
				zap.Int("max_retries", maxRetries))

			select {
			case <-time.After(retryDelay):
			case <-ctx.Done():
				return "", ctx.Err()
			}
		}

		text, err := call()
		if err == nil {
			return text, nil
		}
		lastErr = err
		logger.Error("Provider API error",
			zap.String("provider", provider),
			zap.Int("attempt", attempt+1),
			zap.Error(err))
	}

	return "", fmt.Errorf("failed after %d attempts: %w", maxRetries, lastErr)
}

// RateLimiter implements token bucket rate limiting
type RateLimiter struct {
	mu         sync.Mutex
	tokens     int
	maxTokens  int
	refillRate time.Duration
	lastRefill time.Time
}

// NewRateLimiter creates a new rate limiter
func NewRateLimiter(requestsPerMinute int) *RateLimiter {
	return &RateLimiter{
		tokens:     requestsPerMinute,
		maxTokens:  requestsPerMinute,
		refillRate: time.Minute / time.Duration(requestsPerMinute),
		lastRefill: time.Now(),
	}
}

// Wait blocks until a token is available
func (rl *RateLimiter) Wait(ctx context.Context) error {
	for {
		rl.mu.Lock()
		now := time.Now()
		if added := int(now.Sub(rl.lastRefill) / rl.refillRate); added > 0 {
			rl.tokens = min(rl.tokens+added, rl.maxTokens)
			rl.lastRefill = rl.lastRefill.Add(time.Duration(added) * rl.refillRate)
		}

		if rl.tokens > 0 {
			rl.tokens--
			rl.mu.Unlock()
			return nil
		}
		wait := rl.refillRate - now.Sub(rl.lastRefill)
		rl.mu.Unlock()

		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// RateLimitedProvider wraps a provider with rate limiting
type RateLimitedProvider struct {
	provider Provider
	limiter  *RateLimiter
}

// NewRateLimitedProvider wraps a provider with rate limiting
func NewRateLimitedProvider(provider Provider, requestsPerMinute int) *RateLimitedProvider {
	return &RateLimitedProvider{
		provider: provider,
		limiter:  NewRateLimiter(requestsPerMinute),
	}
}

func (p *RateLimitedProvider) Complete(ctx context.Context, prompt string) (string, error) {
	if err := p.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("rate limit wait cancelled: %w", err)
	}
	return p.provider.Complete(ctx, prompt)
}

func (p *RateLimitedProvider) Name() string {
	return p.provider.Name()
}

func (p *RateLimitedProvider) Close() error {
	return p.provider.Close()
}

func (p *RateLimitedProvider) GetModelInfo() map[string]interface{} {
	return p.provider.GetModelInfo()
}
