package llm

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/normanking/netbot/internal/config"
	"github.com/normanking/netbot/internal/logging"
)

// Backends holds one provider per model role.
type Backends struct {
	Generator  Provider
	Router     Provider
	Classifier Provider
	Decider    Provider
	Embedder   Embedder
}

// NewBackends builds the providers for every role in the configuration.
// Roles that resolve to the same provider and model share one instance.
func NewBackends(cfg *config.Config) (*Backends, error) {
	cache := make(map[string]Provider)

	build := func(roleName string, role config.RoleConfig, embed bool) (Provider, error) {
		name, pc, err := cfg.LLM.ResolveRole(role)
		if err != nil {
			return nil, fmt.Errorf("role %s: %w", roleName, err)
		}

		key := fmt.Sprintf("%s|%s|%t", name, pc.Model, embed)
		if p, ok := cache[key]; ok {
			return p, nil
		}

		llmCfg := &ProviderConfig{
			Name:     name,
			Endpoint: pc.Endpoint,
			APIKey:   pc.APIKey,
			Model:    pc.Model,
		}
		if llmCfg.APIKey == "" {
			llmCfg.APIKey = getAPIKeyFromEnv(name)
		}
		if embed {
			llmCfg.EmbedModel = pc.Model
			llmCfg.Model = ""
		}

		p, err := NewProviderByNameWithConfig(name, llmCfg, pc.Timeouts)
		if err != nil {
			return nil, fmt.Errorf("role %s: %w", roleName, err)
		}
		cache[key] = p
		return p, nil
	}

	var (
		b   Backends
		err error
	)
	roles := cfg.LLM.Roles
	if b.Generator, err = build("generator", roles.Generator, false); err != nil {
		return nil, err
	}
	if b.Router, err = build("router", roles.Router, false); err != nil {
		return nil, err
	}
	if b.Classifier, err = build("classifier", roles.Classifier, false); err != nil {
		return nil, err
	}
	if b.Decider, err = build("decider", roles.Decider, false); err != nil {
		return nil, err
	}

	embedder, err := build("embedder", roles.Embedder, true)
	if err != nil {
		return nil, err
	}
	e, ok := AsEmbedder(embedder)
	if !ok {
		return nil, fmt.Errorf("role embedder: provider %s cannot embed", embedder.Name())
	}
	b.Embedder = e

	return &b, nil
}

// getAPIKeyFromEnv retrieves the API key from standard environment variables.
func getAPIKeyFromEnv(providerName string) string {
	envVars := map[string]string{
		"anthropic": "ANTHROPIC_API_KEY",
		"gemini":    "GEMINI_API_KEY",
	}
	if envVar, ok := envVars[providerName]; ok {
		return os.Getenv(envVar)
	}
	return ""
}

// NewProviderByNameWithConfig creates a provider with optional timeout configuration.
// All providers are wrapped with MetricsProvider for call counting and latency tracking.
func NewProviderByNameWithConfig(name string, cfg *ProviderConfig, timeouts *config.TimeoutConfig) (Provider, error) {
	var provider Provider

	switch name {
	case "ollama":
		ollamaProvider := NewOllamaProvider(cfg, buildOllamaOptions(timeouts)...)
		if timeouts != nil && timeouts.WarmupOnStart {
			done := ollamaProvider.WarmupAsync(context.Background())
			go func() {
				if err := <-done; err != nil {
					logging.Global().WithComponent("llm").Warn("ollama warmup: %v", err)
				}
			}()
		}
		provider = ollamaProvider
	case "anthropic":
		provider = NewAnthropicProvider(cfg)
	case "gemini":
		provider = NewGeminiProvider(cfg)
	default:
		return nil, fmt.Errorf("unknown provider: %s", name)
	}

	return NewMetricsProvider(provider), nil
}

// buildOllamaOptions converts config.TimeoutConfig to OllamaOptions.
func buildOllamaOptions(timeouts *config.TimeoutConfig) []OllamaOption {
	if timeouts == nil {
		return nil
	}

	var opts []OllamaOption

	if timeouts.ConnectionTimeoutSec > 0 {
		opts = append(opts, WithConnectionTimeout(time.Duration(timeouts.ConnectionTimeoutSec)*time.Second))
	}
	if timeouts.FirstTokenTimeoutSec > 0 {
		opts = append(opts, WithFirstTokenTimeout(time.Duration(timeouts.FirstTokenTimeoutSec)*time.Second))
	}
	if timeouts.StreamIdleTimeoutSec > 0 {
		opts = append(opts, WithStreamIdleTimeout(time.Duration(timeouts.StreamIdleTimeoutSec)*time.Second))
	}

	return opts
}

// NewProviderByName creates a specific provider by name (without custom timeout config).
func NewProviderByName(name string, cfg *ProviderConfig) (Provider, error) {
	return NewProviderByNameWithConfig(name, cfg, nil)
}
