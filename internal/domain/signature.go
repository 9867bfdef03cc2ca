package domain

import (
	"errors"
	"strings"
	"time"
)

// SignatureStatus mirrors the signing provider's envelope status.
type SignatureStatus string

const (
	SignatureSent      SignatureStatus = "SENT"
	SignatureCompleted SignatureStatus = "COMPLETED"
	SignatureDeclined  SignatureStatus = "DECLINED"
	SignatureVoided    SignatureStatus = "VOIDED"
)

func (s SignatureStatus) Valid() bool {
	switch s {
	case SignatureSent, SignatureCompleted, SignatureDeclined, SignatureVoided:
		return true
	}
	return false
}

// SignerRole distinguishes the parties on a signing transaction.
type SignerRole string

const (
	SignerCustomer SignerRole = "CUSTOMER"
	SignerCompany  SignerRole = "COMPANY"
)

// Signer is one recipient on a signing transaction.
type Signer struct {
	Email    string     `json:"email"`
	Name     string     `json:"name"`
	Role     SignerRole `json:"role"`
	Status   string     `json:"status"`
	SignedAt *time.Time `json:"signed_at,omitempty"`
}

// Signature tracks a provider-hosted signing transaction for a contract.
type Signature struct {
	ID          string
	ContractID  string
	EnvelopeID  string
	Status      SignatureStatus
	Signers     []Signer
	DocumentKey string
	Reason      string
	CreatedAt   time.Time
	CompletedAt *time.Time
}

func (s Signature) Validate() error {
	if strings.TrimSpace(s.ID) == "" {
		return errors.New("signature id is required")
	}
	if strings.TrimSpace(s.ContractID) == "" {
		return errors.New("contract id is required")
	}
	if strings.TrimSpace(s.EnvelopeID) == "" {
		return errors.New("envelope id is required")
	}
	if !s.Status.Valid() {
		return errors.New("signature status is invalid")
	}
	return nil
}
