// Package agentclient talks to the remote agent execution service: it creates
// long-running tasks and reads their status.
package agentclient

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"wanderlust/internal/domain/tracker"
	"wanderlust/internal/infra/httpclient"
	apperrors "wanderlust/internal/shared/errors"
	json "wanderlust/internal/shared/json"
	"wanderlust/internal/shared/logging"

	"golang.org/x/time/rate"
)

const (
	defaultTimeout = 30 * time.Second
	maxBodyBytes   = 1 << 20
	tasksPath      = "/v1/tasks"
)

var errMalformed = errors.New("malformed response")

var _ tracker.AgentService = (*Client)(nil)

// Config configures the client.
type Config struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
	// QueryRPS limits status queries across all runs. Zero disables the limit.
	QueryRPS   float64
	QueryBurst int
	// BreakerFailures consecutive failed queries stop querying for
	// BreakerCooldown. Zero disables the breaker.
	BreakerFailures int
	BreakerCooldown time.Duration
}

// Client is an HTTP client for the remote agent service.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	limiter    *rate.Limiter
	breaker    *apperrors.CircuitBreaker
	logger     logging.Logger
	clock      func() time.Time
}

// Option customizes the client.
type Option func(*Client)

// WithHTTPClient swaps the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithLogger overrides the component logger.
func WithLogger(logger logging.Logger) Option {
	return func(c *Client) {
		if !logging.IsNil(logger) {
			c.logger = logger
		}
	}
}

// New validates the base URL and builds a client.
func New(cfg Config, opts ...Option) (*Client, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if _, err := httpclient.ValidateOutboundURL(base, httpclient.URLValidationOptions{
		AllowLocalhost:       true,
		AllowPrivateNetworks: true,
	}); err != nil {
		return nil, fmt.Errorf("agent base url: %w", err)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	logger := logging.NewComponentLogger("AgentClient")
	c := &Client{
		baseURL: base,
		apiKey:  strings.TrimSpace(cfg.APIKey),
		logger:  logger,
		clock:   time.Now,
	}
	if cfg.QueryRPS > 0 {
		burst := cfg.QueryBurst
		if burst <= 0 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(cfg.QueryRPS), burst)
	}
	for _, opt := range opts {
		opt(c)
	}
	if cfg.BreakerFailures > 0 {
		c.breaker = apperrors.NewCircuitBreaker("agent-query", apperrors.CircuitBreakerConfig{
			FailureThreshold: cfg.BreakerFailures,
			Cooldown:         cfg.BreakerCooldown,
		}, c.logger)
	}
	if c.httpClient == nil {
		c.httpClient = httpclient.New(timeout, c.logger)
	}
	return c, nil
}

type submitRequest struct {
	Prompt     string   `json:"prompt"`
	Connectors []string `json:"connectors,omitempty"`
}

type taskResponse struct {
	ID           string          `json:"id"`
	TaskID       string          `json:"task_id"`
	Status       string          `json:"status"`
	Result       json.RawMessage `json:"result"`
	Output       json.RawMessage `json:"output"`
	Error        json.RawMessage `json:"error"`
	ErrorMessage string          `json:"error_message"`
}

func (r taskResponse) id() string {
	if r.ID != "" {
		return r.ID
	}
	return r.TaskID
}

func (r taskResponse) status() tracker.TaskStatus {
	status := tracker.TaskStatus{State: tracker.NormalizeTaskState(r.Status)}
	status.Result = rawText(r.Result)
	if status.Result == "" {
		status.Result = rawText(r.Output)
	}
	status.Error = r.ErrorMessage
	if status.Error == "" {
		status.Error = errorText(r.Error)
	}
	return status
}

// rawText returns JSON strings unquoted and any other value as compact JSON.
func rawText(raw json.RawMessage) string {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return ""
	}
	var s string
	if err := json.Unmarshal(trimmed, &s); err == nil {
		return s
	}
	return string(trimmed)
}

// errorText accepts either a string or an object carrying a message.
func errorText(raw json.RawMessage) string {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) > 0 && trimmed[0] == '{' {
		var obj struct {
			Message string `json:"message"`
		}
		if err := json.Unmarshal(trimmed, &obj); err == nil && obj.Message != "" {
			return obj.Message
		}
	}
	return rawText(raw)
}

// Submit creates a remote task. It never retries.
func (c *Client) Submit(ctx context.Context, prompt string, capabilities []string) (tracker.TaskHandle, tracker.TaskStatus, error) {
	if strings.TrimSpace(prompt) == "" {
		return tracker.TaskHandle{}, tracker.TaskStatus{}, tracker.ErrEmptyPrompt
	}
	body, err := json.Marshal(submitRequest{Prompt: prompt, Connectors: capabilities})
	if err != nil {
		return tracker.TaskHandle{}, tracker.TaskStatus{}, &tracker.RemoteSubmissionError{Err: err}
	}

	req, err := c.newRequest(ctx, http.MethodPost, c.baseURL+tasksPath, body)
	if err != nil {
		return tracker.TaskHandle{}, tracker.TaskStatus{}, &tracker.RemoteSubmissionError{Err: err}
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return tracker.TaskHandle{}, tracker.TaskStatus{}, &tracker.RemoteSubmissionError{Err: err}
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return tracker.TaskHandle{}, tracker.TaskStatus{}, &tracker.RemoteSubmissionError{StatusCode: resp.StatusCode, Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return tracker.TaskHandle{}, tracker.TaskStatus{}, &tracker.RemoteSubmissionError{
			StatusCode: resp.StatusCode,
			Body:       strings.TrimSpace(string(payload)),
		}
	}

	var decoded taskResponse
	if err := json.Unmarshal(payload, &decoded); err != nil {
		return tracker.TaskHandle{}, tracker.TaskStatus{}, &tracker.RemoteSubmissionError{
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("%w: %v", errMalformed, err),
		}
	}
	taskID := strings.TrimSpace(decoded.id())
	if taskID == "" {
		return tracker.TaskHandle{}, tracker.TaskStatus{}, &tracker.RemoteSubmissionError{
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("%w: missing task id", errMalformed),
		}
	}

	handle := tracker.TaskHandle{ID: taskID, SubmittedAt: c.clock()}
	status := decoded.status()
	logging.FromContext(ctx, c.logger).Info("Submitted task %s (status %s)", taskID, status.State)
	return handle, status, nil
}

// Query reads the status of a task. Queries share the configured rate limit
// and circuit breaker.
func (c *Client) Query(ctx context.Context, taskID string) (tracker.TaskStatus, error) {
	taskID = strings.TrimSpace(taskID)
	if taskID == "" {
		return tracker.TaskStatus{}, &tracker.RemoteQueryError{Err: errors.New("task id is required")}
	}
	status, err := apperrors.ExecuteFunc(ctx, c.breaker, func(ctx context.Context) (tracker.TaskStatus, error) {
		return c.query(ctx, taskID)
	})
	if errors.Is(err, apperrors.ErrCircuitOpen) {
		return tracker.TaskStatus{}, &tracker.RemoteQueryError{TaskID: taskID, Err: err}
	}
	return status, err
}

func (c *Client) query(ctx context.Context, taskID string) (tracker.TaskStatus, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return tracker.TaskStatus{}, &tracker.RemoteQueryError{TaskID: taskID, Err: err}
		}
	}

	req, err := c.newRequest(ctx, http.MethodGet, c.baseURL+tasksPath+"/"+url.PathEscape(taskID), nil)
	if err != nil {
		return tracker.TaskStatus{}, &tracker.RemoteQueryError{TaskID: taskID, Err: err}
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return tracker.TaskStatus{}, &tracker.RemoteQueryError{TaskID: taskID, Err: err}
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return tracker.TaskStatus{}, &tracker.RemoteQueryError{TaskID: taskID, StatusCode: resp.StatusCode, Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return tracker.TaskStatus{}, &tracker.RemoteQueryError{
			TaskID:     taskID,
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("unexpected status: %s", strings.TrimSpace(string(payload))),
		}
	}

	var decoded taskResponse
	if err := json.Unmarshal(payload, &decoded); err != nil {
		return tracker.TaskStatus{}, &tracker.RemoteQueryError{
			TaskID:     taskID,
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("%w: %v", errMalformed, err),
		}
	}
	return decoded.status(), nil
}

func (c *Client) newRequest(ctx context.Context, method, endpoint string, body []byte) (*http.Request, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	return req, nil
}
