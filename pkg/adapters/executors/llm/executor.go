package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"text/template"
	"time"

	"github.com/Masterminds/sprig/v3"
	"github.com/aescanero/genflow/pkg/domain"
	"github.com/aescanero/genflow/pkg/ports"
	"github.com/anthropics/anthropic-sdk-go"
	"go.uber.org/zap"
)

// DefaultModel is used when no model is configured
const DefaultModel = "claude-sonnet-4-5"

// DefaultMaxTokens caps the reply of one step
const DefaultMaxTokens = 4096

// DefaultSystemPrompt frames every step call
const DefaultSystemPrompt = "You are one step of an application generation pipeline. " +
	"Reply with a single JSON object and nothing else."

// ErrNoJSON is returned when the reply holds no JSON object
var ErrNoJSON = errors.New("reply contains no JSON object")

// CallObserver records model calls
type CallObserver interface {
	ObserveLLMCall(model string, success bool, inputTokens, outputTokens int64, latency time.Duration)
}

// Options configure a Factory
type Options struct {
	Model        string
	MaxTokens    int64
	SystemPrompt string
	Observer     CallObserver
}

// Factory builds one executor per step from the step prompt
type Factory struct {
	client MessageClient
	opts   Options
	logger *zap.Logger
}

// NewFactory creates a new LLM executor factory
func NewFactory(client MessageClient, opts Options, logger *zap.Logger) *Factory {
	if opts.Model == "" {
		opts.Model = DefaultModel
	}
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = DefaultMaxTokens
	}
	if opts.SystemPrompt == "" {
		opts.SystemPrompt = DefaultSystemPrompt
	}
	return &Factory{
		client: client,
		opts:   opts,
		logger: logger,
	}
}

// Executor implements executors.Factory. Steps without a prompt cannot be
// run by a model.
func (f *Factory) Executor(p *domain.Pipeline, step *domain.StepDefinition) (ports.Executor, error) {
	if strings.TrimSpace(step.Prompt) == "" {
		return nil, fmt.Errorf("step %s has no prompt", step.ID)
	}

	tmpl, err := template.New(step.ID).Funcs(sprig.TxtFuncMap()).Option("missingkey=zero").Parse(step.Prompt)
	if err != nil {
		return nil, fmt.Errorf("parse prompt of step %s: %w", step.ID, err)
	}

	pipelineID := p.ID
	stepID := step.ID
	stepName := step.Name

	return func(ctx context.Context, input, data map[string]any) (map[string]any, error) {
		var prompt strings.Builder
		err := tmpl.Execute(&prompt, map[string]any{
			"pipeline": pipelineID,
			"step":     stepName,
			"input":    input,
			"data":     data,
		})
		if err != nil {
			return nil, fmt.Errorf("render prompt: %w", err)
		}
		return f.complete(ctx, stepID, prompt.String())
	}, nil
}

func (f *Factory) complete(ctx context.Context, stepID, prompt string) (map[string]any, error) {
	start := time.Now()
	msg, err := f.client.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(f.opts.Model),
		MaxTokens: f.opts.MaxTokens,
		System:    []anthropic.TextBlockParam{{Text: f.opts.SystemPrompt}},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	})
	latency := time.Since(start)

	if err != nil {
		f.observe(false, 0, 0, latency)
		return nil, fmt.Errorf("model call failed: %w", err)
	}

	var reply strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			reply.WriteString(block.Text)
		}
	}

	output, err := ExtractJSON(reply.String())
	f.observe(err == nil, msg.Usage.InputTokens, msg.Usage.OutputTokens, latency)
	if err != nil {
		return nil, err
	}

	f.logger.Debug("model step completed",
		zap.String("step_id", stepID),
		zap.String("model", f.opts.Model),
		zap.Int64("input_tokens", msg.Usage.InputTokens),
		zap.Int64("output_tokens", msg.Usage.OutputTokens),
		zap.Duration("latency", latency))

	return output, nil
}

func (f *Factory) observe(success bool, in, out int64, latency time.Duration) {
	if f.opts.Observer != nil {
		f.opts.Observer.ObserveLLMCall(f.opts.Model, success, in, out, latency)
	}
}

// ExtractJSON decodes the first JSON object in text. Code fences and prose
// around the object are ignored.
func ExtractJSON(text string) (map[string]any, error) {
	start := strings.Index(text, "{")
	if start < 0 {
		return nil, ErrNoJSON
	}

	dec := json.NewDecoder(strings.NewReader(text[start:]))
	var out map[string]any
	if err := dec.Decode(&out); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoJSON, err)
	}
	return out, nil
}
