package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/fleetgrid-labs/fleetgrid-go/internal/platform/env"
)

// Publisher delivers best-effort notifications. Failures are logged by the
// caller and never block a state transition.
type Publisher interface {
	Publish(ctx context.Context, audience string, subject string, body string) error
}

const (
	AudienceApprovers = "approvers"
	AudienceCustomer  = "customer"
	AudienceOperators = "operators"
)

type Config struct {
	WebhookURL string
	Timeout    time.Duration
}

func ConfigFromEnv() (Config, error) {
	timeout, err := env.Duration("NOTIFY_TIMEOUT", 5*time.Second)
	if err != nil {
		return Config{}, err
	}
	cfg := Config{
		WebhookURL: env.String("NOTIFY_WEBHOOK_URL", ""),
		Timeout:    timeout,
	}
	if cfg.Timeout <= 0 {
		return Config{}, errors.New("NOTIFY_TIMEOUT must be positive")
	}
	return cfg, nil
}

// NewPublisherFromConfig returns a webhook publisher when a URL is
// configured, otherwise a logging no-op.
func NewPublisherFromConfig(cfg Config, logger *slog.Logger) (Publisher, error) {
	if strings.TrimSpace(cfg.WebhookURL) == "" {
		return &LogPublisher{Logger: logger}, nil
	}
	return NewWebhookPublisher(cfg)
}

// WebhookPublisher POSTs each notification as JSON to a single endpoint.
// The receiving side fans out to email/chat.
type WebhookPublisher struct {
	url  string
	http *http.Client
}

func NewWebhookPublisher(cfg Config) (*WebhookPublisher, error) {
	if strings.TrimSpace(cfg.WebhookURL) == "" {
		return nil, errors.New("webhook url is required")
	}
	return &WebhookPublisher{
		url:  strings.TrimSpace(cfg.WebhookURL),
		http: &http.Client{Timeout: cfg.Timeout},
	}, nil
}

func (p *WebhookPublisher) Publish(ctx context.Context, audience string, subject string, body string) error {
	payload, err := json.Marshal(map[string]string{
		"audience": audience,
		"subject":  subject,
		"body":     body,
	})
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("notify endpoint returned status %d", resp.StatusCode)
	}
	return nil
}

// LogPublisher records notifications to the service log only. Used when no
// delivery channel is configured.
type LogPublisher struct {
	Logger *slog.Logger
}

func (p *LogPublisher) Publish(ctx context.Context, audience string, subject string, body string) error {
	if p.Logger != nil {
		p.Logger.Info("notification", "audience", audience, "subject", subject, "body", body)
	}
	return nil
}
