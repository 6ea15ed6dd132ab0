package llm

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/nugget/hive-nexus/internal/config"
)

// Tiers holds the two reasoning engines a loop uses. Heavyweight plans;
// Lightweight condenses oversized tool output and extracts structure.
type Tiers struct {
	Heavyweight     Client
	Lightweight     Client
	LightweightTier string
}

// NewTiers builds both tiers from configuration, each wrapped with
// retry and the configured sampling defaults.
func NewTiers(cfg *config.Config, logger *slog.Logger) (*Tiers, error) {
	heavy, err := NewFromConfig(cfg.Models.Heavyweight, cfg.Models, logger.With("tier", config.TierHeavyweight))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", config.TierHeavyweight, err)
	}

	lightCfg, tier := cfg.Lightweight()
	light, err := NewFromConfig(lightCfg, cfg.Models, logger.With("tier", tier))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", tier, err)
	}

	return &Tiers{Heavyweight: heavy, Lightweight: light, LightweightTier: tier}, nil
}

// NewFromConfig returns a client for one model entry.
func NewFromConfig(mc config.ModelConfig, models config.ModelsConfig, logger *slog.Logger) (Client, error) {
	var base Client
	switch mc.Provider {
	case "openai", "deepseek":
		base = NewOpenAIClient(mc.Provider, mc.BaseURL, mc.APIKey, mc.Model, logger)
	case "ollama":
		base = NewOllamaClient(mc.BaseURL, mc.Model, logger)
	default:
		return nil, fmt.Errorf("unsupported provider %q", mc.Provider)
	}

	return &defaultsClient{
		inner:       NewRetryClient(base, models.RetryAttempts, models.RetryBackoff, logger),
		temperature: mc.Temperature,
		maxTokens:   mc.MaxTokens,
	}, nil
}

// defaultsClient fills sampling parameters the caller left unset.
type defaultsClient struct {
	inner       Client
	temperature float64
	maxTokens   int
}

func (c *defaultsClient) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	if req.Temperature == 0 {
		req.Temperature = c.temperature
	}
	if req.MaxTokens == 0 {
		req.MaxTokens = c.maxTokens
	}
	return c.inner.Chat(ctx, req)
}

func (c *defaultsClient) Ping(ctx context.Context) error {
	return c.inner.Ping(ctx)
}
