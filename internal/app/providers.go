package app

import (
	"context"
	"strings"

	"github.com/yungbote/bookgen-worker/internal/platform/gemini"
	"github.com/yungbote/bookgen-worker/internal/platform/llm"
	"github.com/yungbote/bookgen-worker/internal/platform/logger"
	"github.com/yungbote/bookgen-worker/internal/platform/openai"
)

// wireProviders builds every provider that has credentials. A job that
// needs a provider which is not configured fails at selection time, so an
// empty set is not an error here.
func wireProviders(ctx context.Context, log *logger.Logger, cfg LLMConfig) (*llm.Set, []func() error, error) {
	var (
		providers []llm.Provider
		closers   []func() error
	)

	if strings.TrimSpace(cfg.OpenAI.APIKey) != "" {
		c, err := openai.NewClient(log, openai.Config{
			APIKey:              cfg.OpenAI.APIKey,
			BaseURL:             cfg.OpenAI.BaseURL,
			Model:               cfg.OpenAI.Model,
			Timeout:             cfg.OpenAI.Timeout,
			MaxRetries:          cfg.OpenAI.MaxRetries,
			Temperature:         cfg.OpenAI.Temperature,
			NoTemperatureModels: cfg.OpenAI.NoTemperatureModels,
			NoTemperatureTTL:    cfg.OpenAI.NoTemperatureTTL,
		})
		if err != nil {
			return nil, nil, err
		}
		providers = append(providers, llm.Traced(c, log))
	}

	if strings.TrimSpace(cfg.Gemini.APIKey) != "" {
		c, err := gemini.NewClient(ctx, log, gemini.Config{
			APIKey:      cfg.Gemini.APIKey,
			Model:       cfg.Gemini.Model,
			Temperature: cfg.Gemini.Temperature,
			MaxRetries:  cfg.Gemini.MaxRetries,
			Timeout:     cfg.Gemini.Timeout,
		})
		if err != nil {
			for _, fn := range closers {
				_ = fn()
			}
			return nil, nil, err
		}
		closers = append(closers, c.Close)
		providers = append(providers, llm.Traced(c, log))
	}

	set := llm.NewSet(cfg.DefaultProvider, providers...)
	if len(providers) == 0 {
		log.Warn("No LLM provider configured; only render_only and placeholders jobs can run")
	} else {
		log.Info("LLM providers ready", "providers", set.Names(), "default", cfg.DefaultProvider)
	}
	return set, closers, nil
}
