// Package llm runs pipeline steps by prompting a language model.
//
// Each step's prompt is a text/template with the sprig functions, rendered
// with the step input and the accumulated process data. The model must reply
// with a JSON object, which becomes the step output.
//
// Supported providers:
//   - Anthropic Claude
package llm

import (
	"context"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"go.uber.org/zap"
)

// MessageClient sends one message request. *anthropic.MessageService
// satisfies it.
type MessageClient interface {
	New(ctx context.Context, params anthropic.MessageNewParams, opts ...option.RequestOption) (*anthropic.Message, error)
}

// Config holds LLM client configuration
type Config struct {
	Provider string
	APIKey   string
	BaseURL  string
	Logger   *zap.Logger
}

// NewClient creates a new LLM client based on provider
func NewClient(cfg *Config) (MessageClient, error) {
	switch cfg.Provider {
	case "anthropic", "":
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("anthropic API key is required")
		}
		opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
		if cfg.BaseURL != "" {
			opts = append(opts, option.WithBaseURL(cfg.BaseURL))
		}
		client := anthropic.NewClient(opts...)
		if cfg.Logger != nil {
			cfg.Logger.Info("anthropic client created")
		}
		return &client.Messages, nil
	default:
		return nil, fmt.Errorf("unsupported LLM provider: %s", cfg.Provider)
	}
}
