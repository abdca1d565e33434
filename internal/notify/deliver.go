package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// Notification is what a Deliverer presents to the user.
type Notification struct {
	TriggerID string    `json:"triggerId"`
	UserID    string    `json:"userId"`
	Title     string    `json:"title"`
	Body      string    `json:"body"`
	FiredAt   time.Time `json:"firedAt"`
	Sound     bool      `json:"sound"`
	Badge     bool      `json:"badge"`
	Banner    bool      `json:"banner"`
	List      bool      `json:"list"`
}

// Deliverer presents a due notification.
type Deliverer interface {
	Deliver(ctx context.Context, n Notification) error
}

// LogDeliverer writes notifications to the structured log.
type LogDeliverer struct {
	logger *slog.Logger
}

// NewLogDeliverer creates a LogDeliverer. A nil logger uses slog.Default().
func NewLogDeliverer(logger *slog.Logger) *LogDeliverer {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogDeliverer{logger: logger}
}

func (d *LogDeliverer) Deliver(_ context.Context, n Notification) error {
	d.logger.Info("notification", "user", n.UserID, "title", n.Title, "body", n.Body, "sound", n.Sound)
	return nil
}

// WebhookDeliverer POSTs each notification as JSON to a URL.
type WebhookDeliverer struct {
	url        string
	httpClient *http.Client
}

// NewWebhookDeliverer creates a deliverer for url.
func NewWebhookDeliverer(url string) *WebhookDeliverer {
	return &WebhookDeliverer{url: url, httpClient: &http.Client{Timeout: 10 * time.Second}}
}

func (d *WebhookDeliverer) Deliver(ctx context.Context, n Notification) error {
	body, err := json.Marshal(n)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("creating webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("webhook request: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("webhook: unexpected status %d", resp.StatusCode)
	}
	return nil
}

// NewDeliverer returns a webhook deliverer when url is set, else a log deliverer.
func NewDeliverer(url string, logger *slog.Logger) Deliverer {
	if url != "" {
		return NewWebhookDeliverer(url)
	}
	return NewLogDeliverer(logger)
}
