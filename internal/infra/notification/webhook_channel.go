package notification

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"wanderlust/internal/infra/httpclient"
	apperrors "wanderlust/internal/shared/errors"
	jsonx "wanderlust/internal/shared/json"
	"wanderlust/internal/shared/logging"
)

const defaultWebhookTimeout = 10 * time.Second

type webhookPayload struct {
	ID        string            `json:"id"`
	Event     string            `json:"event"`
	UserID    string            `json:"user_id,omitempty"`
	Title     string            `json:"title"`
	Body      string            `json:"body"`
	Priority  int               `json:"priority"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
}

func payloadFor(n Notification) webhookPayload {
	return webhookPayload{
		ID:        n.ID,
		Event:     n.Event,
		UserID:    n.UserID,
		Title:     n.Title,
		Body:      n.Body,
		Priority:  int(n.Priority),
		Metadata:  n.Metadata,
		CreatedAt: n.CreatedAt,
	}
}

// WebhookChannel POSTs notifications as JSON, retrying transient failures.
type WebhookChannel struct {
	name    string
	url     string
	headers map[string]string
	timeout time.Duration
	retry   apperrors.RetryConfig
	client  *http.Client
	logger  logging.Logger
}

// WebhookOption configures a WebhookChannel.
type WebhookOption func(*WebhookChannel)

// WithTimeout bounds each request.
func WithTimeout(d time.Duration) WebhookOption {
	return func(c *WebhookChannel) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithHeaders adds static request headers.
func WithHeaders(headers map[string]string) WebhookOption {
	return func(c *WebhookChannel) {
		for k, v := range headers {
			c.headers[k] = v
		}
	}
}

// WithRetry overrides the retry policy.
func WithRetry(cfg apperrors.RetryConfig) WebhookOption {
	return func(c *WebhookChannel) {
		c.retry = cfg
	}
}

// WithWebhookClient replaces the HTTP client.
func WithWebhookClient(client *http.Client) WebhookOption {
	return func(c *WebhookChannel) {
		if client != nil {
			c.client = client
		}
	}
}

// NewWebhookChannel targets url.
func NewWebhookChannel(name, url string, opts ...WebhookOption) *WebhookChannel {
	c := &WebhookChannel{
		name:    name,
		url:     url,
		headers: map[string]string{},
		timeout: defaultWebhookTimeout,
		retry:   apperrors.DefaultRetryConfig(),
		logger:  logging.NewComponentLogger("WebhookChannel"),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.client == nil {
		c.client = httpclient.New(c.timeout, c.logger)
	}
	return c
}

func (c *WebhookChannel) Name() string { return c.name }

func (c *WebhookChannel) Supports(Priority) bool { return true }

// Send delivers n. 5xx, 408 and 429 responses are retried with backoff.
func (c *WebhookChannel) Send(ctx context.Context, n Notification) error {
	body, err := jsonx.Marshal(payloadFor(n))
	if err != nil {
		return fmt.Errorf("encode webhook payload: %w", err)
	}
	return apperrors.Retry(ctx, c.retry, func(ctx context.Context) error {
		return postJSON(ctx, c.client, c.url, c.headers, body)
	}, c.logger)
}

// postJSON returns a status-classified error for non-2xx responses.
func postJSON(ctx context.Context, client *http.Client, url string, headers map[string]string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return apperrors.NewPermanentError(err, fmt.Sprintf("build request: %v", err))
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return apperrors.FromHTTPStatus(fmt.Errorf("webhook returned status %d", resp.StatusCode), resp.StatusCode)
	}
	return nil
}
