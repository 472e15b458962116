// Package notify records loop transitions in the session store and fans
// them out to webhooks and metrics.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
)

const (
	// defaultTimeout is the per-request webhook timeout.
	defaultTimeout = 5 * time.Second

	// maxErrorBody bounds how much of a failed response is kept.
	maxErrorBody = 512

	// DeliveryHeader carries the unique id of each delivery.
	DeliveryHeader = "X-Ralphloop-Delivery"
	// EventHeader carries the event name.
	EventHeader = "X-Ralphloop-Event"
)

// Event is the JSON body posted to webhooks.
type Event struct {
	ID             string    `json:"id"`
	Event          string    `json:"event"`
	Session        string    `json:"session"`
	Iteration      int       `json:"iteration"`
	RemainingTasks int       `json:"remainingTasks"`
	Error          string    `json:"error,omitempty"`
	Timestamp      time.Time `json:"timestamp"`
}

// Sender delivers events to one endpoint.
type Sender interface {
	Send(ctx context.Context, url string, ev Event) error
}

// WebhookClient posts events as JSON.
type WebhookClient struct {
	httpClient *http.Client
	newID      func() string
}

// ClientOption configures a WebhookClient.
type ClientOption func(*WebhookClient)

// WithTimeout sets the HTTP client timeout.
func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *WebhookClient) {
		if timeout > 0 {
			c.httpClient.Timeout = timeout
		}
	}
}

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *WebhookClient) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// NewWebhookClient creates a WebhookClient.
func NewWebhookClient(opts ...ClientOption) *WebhookClient {
	c := &WebhookClient{
		httpClient: &http.Client{Timeout: defaultTimeout},
		newID:      uuid.NewString,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Send posts ev to url. Any non-2xx response is an error. An empty ev.ID is
// filled with a fresh delivery id.
func (c *WebhookClient) Send(ctx context.Context, url string, ev Event) error {
	if ev.ID == "" {
		ev.ID = c.newID()
	}

	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "ralphloop")
	req.Header.Set(DeliveryHeader, ev.ID)
	req.Header.Set(EventHeader, ev.Event)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return fmt.Errorf("webhook error (status %d): %s", resp.StatusCode, bytes.TrimSpace(msg))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}
