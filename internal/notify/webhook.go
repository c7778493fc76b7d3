package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"
)

const defaultWebhookTimeout = 5 * time.Second

// WebhookTarget is one HTTP endpoint that receives alarm notifications.
type WebhookTarget struct {
	URL     string
	Secret  string
	Timeout time.Duration
}

// Webhook posts notifications as JSON to every target. Deliveries run in
// background goroutines; Close waits for in-flight deliveries.
type Webhook struct {
	targets []WebhookTarget
	client  *http.Client
	logger  *slog.Logger
	wg      sync.WaitGroup
}

// NewWebhook returns a webhook sink, or nil when no target has a URL.
func NewWebhook(targets []WebhookTarget, logger *slog.Logger) *Webhook {
	var usable []WebhookTarget
	for _, t := range targets {
		if strings.TrimSpace(t.URL) == "" {
			continue
		}
		usable = append(usable, t)
	}
	if len(usable) == 0 {
		return nil
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Webhook{
		targets: usable,
		client:  &http.Client{Timeout: defaultWebhookTimeout},
		logger:  logger,
	}
}

type webhookPayload struct {
	Type         string       `json:"type"`
	Notification Notification `json:"notification"`
}

func (w *Webhook) Notify(_ context.Context, n Notification) error {
	data, err := json.Marshal(webhookPayload{Type: "alarm.fired", Notification: n})
	if err != nil {
		return fmt.Errorf("marshal webhook payload: %w", err)
	}
	for _, target := range w.targets {
		w.wg.Add(1)
		go func(target WebhookTarget) {
			defer w.wg.Done()
			// Delivery outlives the caller's context.
			if err := w.post(context.Background(), target, n.TaskID, data); err != nil {
				w.logger.Warn("webhook delivery failed", slog.String("url", target.URL), slog.Any("error", err))
			}
		}(target)
	}
	return nil
}

// Close waits for pending deliveries.
func (w *Webhook) Close() error {
	w.wg.Wait()
	return nil
}

func (w *Webhook) post(ctx context.Context, target WebhookTarget, taskID string, data []byte) error {
	timeout := defaultWebhookTimeout
	if target.Timeout > 0 {
		timeout = target.Timeout
	}
	client := w.client
	if timeout != w.client.Timeout {
		client = &http.Client{Timeout: timeout}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target.URL, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Reminder-Event", "alarm.fired")
	req.Header.Set("X-Reminder-Task", taskID)
	if strings.TrimSpace(target.Secret) != "" {
		req.Header.Set("X-Reminder-Secret", target.Secret)
	}
	res, err := client.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return fmt.Errorf("status %d: %s", res.StatusCode, strings.TrimSpace(string(body)))
	}
	return nil
}
