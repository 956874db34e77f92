package service

import (
	"context"

	"github.com/ampapacek/SAGE/internal/config"
	"github.com/ampapacek/SAGE/pkg/llm"
)

// ProviderConfig is a resolved LLM endpoint: credentials, base URL and the
// model used when a request does not name one.
type ProviderConfig struct {
	Name         string
	APIKey       string
	BaseURL      string
	DefaultModel string
}

// ProviderDirectory maps provider keys to endpoint configurations. The
// directory is built once from the application config and injected into every
// runner, so a provider lookup is a plain map read.
type ProviderDirectory struct {
	providers map[string]ProviderConfig
	fallback  ProviderConfig
}

// NewProviderDirectory builds the directory from the application config. The
// default provider is OpenAI; up to three custom OpenAI-compatible endpoints
// are registered under "custom1".."custom3". The key "other" aliases
// "custom1" for callers using the legacy name.
func NewProviderDirectory(cfg config.Config) *ProviderDirectory {
	openAI := ProviderConfig{
		Name:         "openai",
		APIKey:       cfg.LLMAPIKey,
		BaseURL:      cfg.LLMBaseURL,
		DefaultModel: cfg.LLMModel,
	}

	d := &ProviderDirectory{
		providers: map[string]ProviderConfig{"openai": openAI},
		fallback:  openAI,
	}
	for key, custom := range map[string]config.CustomProvider{
		"custom1": cfg.Custom1,
		"custom2": cfg.Custom2,
		"custom3": cfg.Custom3,
	} {
		if custom.BaseURL == "" {
			continue
		}
		name := custom.Name
		if name == "" {
			name = key
		}
		model := custom.DefaultModel
		if model == "" {
			model = cfg.LLMModel
		}
		d.providers[key] = ProviderConfig{
			Name:         name,
			APIKey:       custom.APIKey,
			BaseURL:      custom.BaseURL,
			DefaultModel: model,
		}
	}
	if p, ok := d.providers["custom1"]; ok {
		d.providers["other"] = p
	}
	return d
}

// Resolve returns the configuration for the given provider key. Unknown or
// empty keys resolve to the default provider.
func (d *ProviderDirectory) Resolve(key string) ProviderConfig {
	if p, ok := d.providers[key]; ok {
		return p
	}
	return d.fallback
}

// Gateway is the slice of the LLM client the runners use. The concrete client
// lives in pkg/llm; tests substitute a stub.
type Gateway interface {
	Complete(ctx context.Context, prompt string, imagePaths []string) (*llm.Result, error)
}

// GatewayFactory builds a gateway for a single run from a resolved provider
// and per-run options.
type GatewayFactory func(cfg llm.Config) Gateway

// DefaultGatewayFactory builds the production LLM client.
func DefaultGatewayFactory(cfg llm.Config) Gateway {
	return llm.NewClient(cfg)
}
