// Package http runs pipeline steps by calling a remote step service
package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/aescanero/genflow/pkg/domain"
	"github.com/aescanero/genflow/pkg/ports"
	"go.uber.org/zap"
)

// DefaultTimeout bounds one step call when the step declares no timeout
const DefaultTimeout = 2 * time.Minute

const maxErrorBody = 1024

// Request is the body posted to the step service
type Request struct {
	PipelineID string         `json:"pipelineId"`
	StepID     string         `json:"stepId"`
	Input      map[string]any `json:"input"`
	Data       map[string]any `json:"data"`
}

// Factory builds executors that POST to <base URL>/<step ID>
type Factory struct {
	baseURL string
	client  *http.Client
	logger  *zap.Logger
}

// NewFactory creates a new HTTP executor factory
func NewFactory(baseURL string, client *http.Client, logger *zap.Logger) (*Factory, error) {
	u, err := url.Parse(baseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("invalid executor base URL %q", baseURL)
	}
	if client == nil {
		client = &http.Client{Timeout: DefaultTimeout}
	}

	return &Factory{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  client,
		logger:  logger,
	}, nil
}

// Executor implements executors.Factory
func (f *Factory) Executor(p *domain.Pipeline, step *domain.StepDefinition) (ports.Executor, error) {
	endpoint := f.baseURL + "/" + url.PathEscape(step.ID)
	pipelineID := p.ID
	stepID := step.ID

	return func(ctx context.Context, input, data map[string]any) (map[string]any, error) {
		return f.call(ctx, endpoint, Request{
			PipelineID: pipelineID,
			StepID:     stepID,
			Input:      input,
			Data:       data,
		})
	}, nil
}

func (f *Factory) call(ctx context.Context, endpoint string, body Request) (map[string]any, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("call step service: %w", err)
	}
	defer resp.Body.Close()

	f.logger.Debug("step service responded",
		zap.String("step_id", body.StepID),
		zap.Int("status", resp.StatusCode),
		zap.Duration("latency", time.Since(start)))

	if resp.StatusCode >= 400 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, fmt.Errorf("step service returned %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var output map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&output); err != nil {
		return nil, fmt.Errorf("decode step output: %w", err)
	}
	if output == nil {
		return nil, fmt.Errorf("step service returned no JSON object")
	}
	return output, nil
}
