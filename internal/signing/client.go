package signing

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/fleetgrid-labs/fleetgrid-go/internal/platform/env"
)

type Config struct {
	BaseURL       string
	APIKey        string
	AccountID     string
	WebhookSecret string
	Timeout       time.Duration
}

func ConfigFromEnv() (Config, error) {
	timeout, err := env.Duration("SIGNING_TIMEOUT", 15*time.Second)
	if err != nil {
		return Config{}, err
	}
	cfg := Config{
		BaseURL:       env.String("SIGNING_BASE_URL", "http://localhost:9100"),
		APIKey:        env.String("SIGNING_API_KEY", ""),
		AccountID:     env.String("SIGNING_ACCOUNT_ID", "fleetgrid"),
		WebhookSecret: env.String("SIGNING_WEBHOOK_SECRET", ""),
		Timeout:       timeout,
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.BaseURL) == "" {
		return errors.New("SIGNING_BASE_URL is required")
	}
	if strings.TrimSpace(c.AccountID) == "" {
		return errors.New("SIGNING_ACCOUNT_ID is required")
	}
	if c.Timeout <= 0 {
		return errors.New("SIGNING_TIMEOUT must be positive")
	}
	return nil
}

// Provider opens signing transactions with the external e-signature
// service. Completion, decline, and void arrive later as webhooks; this
// client only handles the synchronous create call.
type Provider interface {
	CreateEnvelope(ctx context.Context, req EnvelopeRequest) (EnvelopeResponse, error)
}

type Client struct {
	baseURL   string
	apiKey    string
	accountID string
	http      *http.Client
}

func NewClient(cfg Config) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Client{
		baseURL:   strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"),
		apiKey:    cfg.APIKey,
		accountID: cfg.AccountID,
		http:      &http.Client{Timeout: cfg.Timeout},
	}, nil
}

func (c *Client) CreateEnvelope(ctx context.Context, envelope EnvelopeRequest) (EnvelopeResponse, error) {
	if strings.TrimSpace(envelope.ContractID) == "" {
		return EnvelopeResponse{}, fmt.Errorf("%w: contract id is required", ErrTerminal)
	}
	if len(envelope.Signers) == 0 {
		return EnvelopeResponse{}, fmt.Errorf("%w: at least one signer is required", ErrTerminal)
	}

	body, err := json.Marshal(envelope)
	if err != nil {
		return EnvelopeResponse{}, fmt.Errorf("marshal envelope: %w", err)
	}

	path := fmt.Sprintf("/v2/accounts/%s/envelopes", c.accountID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return EnvelopeResponse{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return EnvelopeResponse{}, fmt.Errorf("%w: %v", ErrRetryable, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 2<<20))
	if err != nil {
		return EnvelopeResponse{}, fmt.Errorf("%w: %v", ErrRetryable, err)
	}

	switch {
	case resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusCreated:
		var out EnvelopeResponse
		if err := json.Unmarshal(respBody, &out); err != nil {
			return EnvelopeResponse{}, fmt.Errorf("decode envelope response: %w", err)
		}
		if strings.TrimSpace(out.EnvelopeID) == "" {
			return EnvelopeResponse{}, fmt.Errorf("%w: response missing envelope_id", ErrTerminal)
		}
		return out, nil
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return EnvelopeResponse{}, fmt.Errorf("%w: %v", ErrRetryable, &APIError{StatusCode: resp.StatusCode, Body: string(respBody)})
	default:
		return EnvelopeResponse{}, fmt.Errorf("%w: %v", ErrTerminal, &APIError{StatusCode: resp.StatusCode, Body: string(respBody)})
	}
}
