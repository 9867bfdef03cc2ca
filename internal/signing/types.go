package signing

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrRetryable marks envelope-creation failures worth re-attempting
	// (timeouts, 5xx, throttling). The contract stays APPROVED.
	ErrRetryable = errors.New("signature provider temporarily unavailable")
	// ErrTerminal marks failures that will not succeed on retry
	// (rejected payload, bad credentials).
	ErrTerminal = errors.New("signature provider rejected request")
)

type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	body := strings.TrimSpace(e.Body)
	if body == "" {
		return fmt.Sprintf("signature provider error (status=%d)", e.StatusCode)
	}
	return fmt.Sprintf("signature provider error (status=%d): %s", e.StatusCode, body)
}

// EnvelopeRequest is the snapshot sent to the provider when a signing
// transaction is opened.
type EnvelopeRequest struct {
	ContractID   string            `json:"contract_id"`
	DocumentName string            `json:"document_name"`
	DocumentB64  string            `json:"document_base64"`
	EmailSubject string            `json:"email_subject"`
	Signers      []EnvelopeSigner  `json:"signers"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}

type EnvelopeSigner struct {
	Name  string `json:"name"`
	Email string `json:"email"`
	Role  string `json:"role"`
	Order int    `json:"routing_order"`
}

type EnvelopeResponse struct {
	EnvelopeID string `json:"envelope_id"`
	Status     string `json:"status"`
}

// Event is a provider webhook callback, already decoded from the wire.
type Event struct {
	EnvelopeID string `json:"envelope_id"`
	Kind       string `json:"event"`
	Reason     string `json:"reason,omitempty"`
	Signer     string `json:"signer_email,omitempty"`
}

const (
	EventCompleted         = "envelope-completed"
	EventDeclined          = "envelope-declined"
	EventVoided            = "envelope-voided"
	EventRecipientComplete = "recipient-completed"
)

func (e Event) Validate() error {
	if strings.TrimSpace(e.EnvelopeID) == "" {
		return errors.New("envelope_id is required")
	}
	switch e.Kind {
	case EventCompleted, EventDeclined, EventVoided, EventRecipientComplete:
		return nil
	default:
		return fmt.Errorf("unsupported event: %q", e.Kind)
	}
}
