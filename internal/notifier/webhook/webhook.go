// Package webhook implements an HTTP webhook notifier
package webhook

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"time"

	json "github.com/goccy/go-json"

	"github.com/newthinker/quoted/internal/notifier"
)

// Webhook implements the Notifier interface for HTTP webhooks
type Webhook struct {
	name    string
	url     string
	headers map[string]string
	client  *http.Client
}

// New creates a new Webhook notifier
func New(url string, headers map[string]string) *Webhook {
	return &Webhook{
		name:    "webhook",
		url:     url,
		headers: headers,
		client:  &http.Client{Timeout: 30 * time.Second},
	}
}

func (w *Webhook) Name() string { return w.name }

// Init reads the url, headers and optional name parameters. A name lets
// several webhooks share one registry.
func (w *Webhook) Init(cfg notifier.Config) error {
	if url := notifier.StringParam(cfg.Params, "url"); url != "" {
		w.url = url
	}
	if headers := notifier.StringMapParam(cfg.Params, "headers"); headers != nil {
		w.headers = headers
	}
	if name := notifier.StringParam(cfg.Params, "name"); name != "" {
		w.name = name
	}
	if w.name == "" {
		w.name = "webhook"
	}

	if w.url == "" {
		return fmt.Errorf("webhook: url is required")
	}
	if w.client == nil {
		w.client = &http.Client{Timeout: 30 * time.Second}
	}
	return nil
}

type payload struct {
	Type string `json:"type"`
	notifier.Notification
}

type batchPayload struct {
	Type          string                  `json:"type"`
	Count         int                     `json:"count"`
	Notifications []notifier.Notification `json:"notifications"`
}

func (w *Webhook) Send(ctx context.Context, n notifier.Notification) error {
	return w.post(ctx, payload{Type: "notification", Notification: n})
}

func (w *Webhook) SendBatch(ctx context.Context, ns []notifier.Notification) error {
	if len(ns) == 0 {
		return nil
	}
	return w.post(ctx, batchPayload{Type: "batch", Count: len(ns), Notifications: ns})
}

func (w *Webhook) post(ctx context.Context, v any) error {
	body, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("webhook: failed to marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("webhook: failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	for k, v := range w.headers {
		req.Header.Set(k, v)
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("webhook: server returned %d", resp.StatusCode)
	}
	return nil
}
