package reviewer

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/openai/openai-go/v2"
	oaioption "github.com/openai/openai-go/v2/option"
	"go.uber.org/zap"
)

const openRouterBaseURL = "https://openrouter.ai/api/v1"

// OpenAIProvider talks to any OpenAI-compatible chat completions endpoint,
// including OpenRouter.
type OpenAIProvider struct {
	client     openai.Client
	kind       ProviderType
	modelName  string
	logger     *zap.Logger
	maxRetries int
	retryDelay time.Duration
}

// NewOpenAIProvider creates a new OpenAI-compatible provider
func NewOpenAIProvider(cfg ProviderConfig, timeout time.Duration, logger *zap.Logger) (*OpenAIProvider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("%s API key is required", cfg.Type)
	}

	if cfg.Type == "" {
		cfg.Type = ProviderOpenAI
	}

	if cfg.BaseURL == "" && cfg.Type == ProviderOpenRouter {
		cfg.BaseURL = openRouterBaseURL
	}

	if cfg.ModelName == "" {
		if cfg.Type == ProviderOpenRouter {
			cfg.ModelName = "meta-llama/llama-3.3-70b-instruct:free"
		} else {
			cfg.ModelName = "gpt-4o-mini"
		}
	}

	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 3
	}

	if cfg.RetryDelay == 0 {
		cfg.RetryDelay = 2 * time.Second
	}

	if timeout == 0 {
		timeout = 10 * time.Second
	}

	opts := []oaioption.RequestOption{
		oaioption.WithAPIKey(cfg.APIKey),
		oaioption.WithHTTPClient(&http.Client{Timeout: timeout}),
		oaioption.WithMaxRetries(0),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, oaioption.WithBaseURL(cfg.BaseURL))
	}

	logger.Info("OpenAI-compatible provider initialized",
		zap.String("type", string(cfg.Type)),
		zap.String("model", cfg.ModelName),
		zap.Int("max_retries", cfg.MaxRetries))

	return &OpenAIProvider{
		client:     openai.NewClient(opts...),
		kind:       cfg.Type,
		modelName:  cfg.ModelName,
		logger:     logger,
		maxRetries: cfg.MaxRetries,
		retryDelay: cfg.RetryDelay,
	}, nil
}

func (p *OpenAIProvider) Name() string {
	return string(p.kind)
}

func (p *OpenAIProvider) Close() error {
	return nil
}

func (p *OpenAIProvider) Complete(ctx context.Context, prompt string) (string, error) {
	return withRetries(ctx, p.Name(), p.maxRetries, p.retryDelay, p.logger, func() (string, error) {
		resp, err := p.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
			Model: openai.ChatModel(p.modelName),
			Messages: []openai.ChatCompletionMessageParamUnion{
				openai.SystemMessage(SystemInstruction),
				openai.UserMessage(prompt),
			},
			Temperature: openai.Float(0.3),
		})
		if err != nil {
			return "", fmt.Errorf("%s API error: %w", p.kind, err)
		}

		if len(resp.Choices) == 0 {
			return "", fmt.Errorf("empty response from %s", p.kind)
		}
		return resp.Choices[0].Message.Content, nil
	})
}

// GetModelInfo returns model information
func (p *OpenAIProvider) GetModelInfo() map[string]interface{} {
	return map[string]interface{}{
		"provider":    p.Name(),
		"model":       p.modelName,
		"max_retries": p.maxRetries,
		"retry_delay": p.retryDelay.String(),
	}
}
