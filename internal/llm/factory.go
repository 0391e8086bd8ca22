// Package llm builds chat models for the hosted providers the chatbot can
// talk to.
package llm

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/cloudwego/eino-ext/components/model/ark"
	"github.com/cloudwego/eino/components/model"

	"github.com/csv-chatbot/backend/internal/config"
)

// Factory creates a chat model for a user-supplied API key.
type Factory struct {
	cfg        config.ModelConfig
	httpClient *http.Client
}

// NewFactory returns a factory for the configured provider. httpClient may
// be nil.
func NewFactory(cfg config.ModelConfig, httpClient *http.Client) *Factory {
	if cfg.Provider == "" {
		cfg.Provider = config.ProviderGemini
	}
	return &Factory{cfg: cfg, httpClient: httpClient}
}

// Provider returns the provider id ("gemini" or "ark").
func (f *Factory) Provider() string {
	return f.cfg.Provider
}

// NewChatModel builds a model bound to apiKey. For Gemini the key is checked
// against the service first when VerifyKey is set.
func (f *Factory) NewChatModel(ctx context.Context, apiKey string) (model.BaseChatModel, error) {
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return nil, fmt.Errorf("api key is empty")
	}

	switch f.cfg.Provider {
	case config.ProviderGemini:
		opts := []GeminiOption{
			WithAPIKey(apiKey),
			WithModel(f.cfg.Name),
			WithBaseURL(f.cfg.BaseURL),
			WithTimeout(f.cfg.RequestTimeout()),
			WithTemperature(f.cfg.Temperature),
			WithMaxTokens(f.cfg.MaxTokens),
		}
		if f.httpClient != nil {
			opts = append(opts, WithHTTPClient(f.httpClient))
		}
		client := NewGeminiClient(opts...)
		if f.cfg.VerifyKey {
			if err := client.VerifyKey(ctx); err != nil {
				return nil, err
			}
		}
		fmt.Printf("[LLM] Gemini client ready (model=%s)\n", client.Model())
		return client, nil

	case config.ProviderArk:
		return f.newArkModel(ctx, apiKey)

	default:
		return nil, fmt.Errorf("unsupported model provider %q", f.cfg.Provider)
	}
}

func (f *Factory) newArkModel(ctx context.Context, apiKey string) (model.BaseChatModel, error) {
	timeout := f.cfg.RequestTimeout()
	baseURL := f.cfg.BaseURL
	if baseURL == DefaultGeminiBaseURL {
		baseURL = ""
	}
	cfg := &ark.ChatModelConfig{
		BaseURL: baseURL,
		Region:  f.cfg.Region,
		APIKey:  apiKey,
		Model:   f.cfg.Name,
		Timeout: &timeout,
	}
	if f.cfg.MaxTokens > 0 {
		maxTokens := f.cfg.MaxTokens
		cfg.MaxTokens = &maxTokens
	}
	if f.cfg.Temperature > 0 {
		temperature := f.cfg.Temperature
		cfg.Temperature = &temperature
	}
	cm, err := ark.NewChatModel(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create ark chat model: %w", err)
	}
	fmt.Printf("[LLM] Ark client ready (model=%s)\n", f.cfg.Name)
	return cm, nil
}
