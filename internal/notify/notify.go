package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"repovault/internal/config"
	"repovault/internal/core"
	"repovault/internal/model"
)

// NewFromConfig creates a Notifier based on the configuration type.
func NewFromConfig(cfg config.NotifyConfig, logger core.Logger) (core.Notifier, error) {
	switch cfg.Type {
	case "log", "":
		return NewLogNotifier(logger), nil
	case "webhook":
		if cfg.URL == "" {
			return nil, fmt.Errorf("webhook notifier needs a url")
		}
		return NewWebhookNotifier(cfg.URL, logger), nil
	default:
		return nil, fmt.Errorf("unknown notify type: %q", cfg.Type)
	}
}

// LogNotifier reports run summaries to the log and nowhere else.
type LogNotifier struct {
	logger core.Logger
}

var _ core.Notifier = (*LogNotifier)(nil)

func NewLogNotifier(logger core.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) Notify(ctx context.Context, summary *model.RunSummary) error {
	n.logger.Info("run summary",
		"kind", summary.Kind,
		"total", summary.Total,
		"succeeded", summary.Succeeded,
		"failed", summary.Failed,
		"duration", summary.FinishedAt.Sub(summary.StartedAt).String())
	for _, f := range summary.Failures {
		n.logger.Warn("run failure", "kind", summary.Kind, "item", f.Item, "reason", f.Reason, "error", f.Error)
	}
	return nil
}

// WebhookNotifier posts run summaries as JSON to a configured endpoint.
// Delivery is best effort; orchestrators log and continue on failure.
type WebhookNotifier struct {
	url    string
	client *http.Client
	logger core.Logger
}

var _ core.Notifier = (*WebhookNotifier)(nil)

func NewWebhookNotifier(url string, logger core.Logger) *WebhookNotifier {
	return &WebhookNotifier{
		url:    url,
		client: &http.Client{Timeout: 10 * time.Second},
		logger: logger,
	}
}

func (n *WebhookNotifier) Notify(ctx context.Context, summary *model.RunSummary) error {
	body, err := json.Marshal(summary)
	if err != nil {
		return fmt.Errorf("encoding summary: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("building webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("posting webhook: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned %s", resp.Status)
	}
	n.logger.Info("webhook delivered", "kind", summary.Kind, "status", resp.StatusCode)
	return nil
}
