package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/aescanero/genflow/pkg/domain"
)

// DefaultTimeout bounds every API request
const DefaultTimeout = 30 * time.Second

// StartRequest starts a process
type StartRequest struct {
	PipelineID string         `json:"pipeline_id,omitempty"`
	Data       map[string]any `json:"data,omitempty"`
	PRDContent string         `json:"prd_content,omitempty"`
	PRDType    string         `json:"prd_type,omitempty"`
	Webhooks   []string       `json:"webhooks,omitempty"`
}

// StartResponse is returned by a successful start
type StartResponse struct {
	ProcessID           string    `json:"process_id"`
	PipelineID          string    `json:"pipeline_id"`
	Status              string    `json:"status"`
	EstimatedCompletion time.Time `json:"estimated_completion"`
	SubmittedAt         time.Time `json:"submitted_at"`
}

// RetryResponse is returned by a successful step retry
type RetryResponse struct {
	ProcessID string             `json:"process_id"`
	StepID    string             `json:"step_id"`
	Output    map[string]any     `json:"output"`
	Status    *domain.StatusView `json:"status"`
}

// EventsResponse is a page of buffered events
type EventsResponse struct {
	ProcessID   string         `json:"process_id"`
	Events      []domain.Event `json:"events"`
	LastEventID int64          `json:"last_event_id"`
}

type errorResponse struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// APIError is a non-2xx API response
type APIError struct {
	StatusCode int
	Code       string
	Message    string
}

// Error implements error
func (e *APIError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("API error: HTTP %d", e.StatusCode)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Client is an HTTP client for the orchestrator API
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates an API client. A nil httpClient gets a plain client
// with DefaultTimeout.
func NewClient(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultTimeout}
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
	}
}

// --- Processes ---

// Start starts a process
func (c *Client) Start(ctx context.Context, req StartRequest) (*StartResponse, error) {
	var resp StartResponse
	err := c.do(ctx, http.MethodPost, "/api/v1/processes", req, &resp)
	return &resp, err
}

// Status returns the status view of a process
func (c *Client) Status(ctx context.Context, id string) (*domain.StatusView, error) {
	var view domain.StatusView
	err := c.do(ctx, http.MethodGet, "/api/v1/processes/"+url.PathEscape(id), nil, &view)
	return &view, err
}

// Cancel cancels a running process
func (c *Client) Cancel(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodPost, "/api/v1/processes/"+url.PathEscape(id)+"/cancel", nil, nil)
}

// Retry reruns a failed step
func (c *Client) Retry(ctx context.Context, id, stepID string) (*RetryResponse, error) {
	var resp RetryResponse
	path := "/api/v1/processes/" + url.PathEscape(id) + "/steps/" + url.PathEscape(stepID) + "/retry"
	err := c.do(ctx, http.MethodPost, path, nil, &resp)
	return &resp, err
}

// List summarizes all processes
func (c *Client) List(ctx context.Context) ([]domain.ProcessSummary, error) {
	var resp struct {
		Processes []domain.ProcessSummary `json:"processes"`
	}
	err := c.do(ctx, http.MethodGet, "/api/v1/processes", nil, &resp)
	return resp.Processes, err
}

// Events returns the buffered events after lastEventID
func (c *Client) Events(ctx context.Context, id string, lastEventID int64) (*EventsResponse, error) {
	params := url.Values{}
	if lastEventID > 0 {
		params.Set("lastEventId", strconv.FormatInt(lastEventID, 10))
	}
	path := "/api/v1/processes/" + url.PathEscape(id) + "/events"
	if len(params) > 0 {
		path += "?" + params.Encode()
	}

	var resp EventsResponse
	err := c.do(ctx, http.MethodGet, path, nil, &resp)
	return &resp, err
}

// --- Pipelines and metrics ---

// Pipelines lists the pipeline catalog
func (c *Client) Pipelines(ctx context.Context) ([]domain.Pipeline, error) {
	var resp struct {
		Pipelines []domain.Pipeline `json:"pipelines"`
	}
	err := c.do(ctx, http.MethodGet, "/api/v1/pipelines", nil, &resp)
	return resp.Pipelines, err
}

// Metrics returns the orchestrator metrics rollup
func (c *Client) Metrics(ctx context.Context) (*domain.Metrics, error) {
	var m domain.Metrics
	err := c.do(ctx, http.MethodGet, "/api/v1/metrics", nil, &m)
	return &m, err
}

// --- HTTP helpers ---

func (c *Client) do(ctx context.Context, method, path string, body, result any) error {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := checkError(resp); err != nil {
		return err
	}

	if result == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func checkError(resp *http.Response) error {
	if resp.StatusCode < 400 {
		return nil
	}

	apiErr := &APIError{StatusCode: resp.StatusCode}
	var er errorResponse
	if err := json.NewDecoder(resp.Body).Decode(&er); err == nil {
		apiErr.Code = er.Error.Code
		apiErr.Message = er.Error.Message
	}
	return apiErr
}
