package domain

import (
	"errors"
	"strings"
	"time"
)

// ApprovalStatus is the decision state of an approval request. A request
// leaves PENDING exactly once.
type ApprovalStatus string

const (
	ApprovalPending  ApprovalStatus = "PENDING"
	ApprovalApproved ApprovalStatus = "APPROVED"
	ApprovalRejected ApprovalStatus = "REJECTED"
	ApprovalExpired  ApprovalStatus = "EXPIRED"
)

func (s ApprovalStatus) Valid() bool {
	switch s {
	case ApprovalPending, ApprovalApproved, ApprovalRejected, ApprovalExpired:
		return true
	}
	return false
}

// Decided reports whether the approval has reached a terminal decision.
func (s ApprovalStatus) Decided() bool {
	return s.Valid() && s != ApprovalPending
}

// Approval is a time-boxed request for a manager's decision on a contract
// that exceeds the auto-approval threshold.
type Approval struct {
	ID            string
	ContractID    string
	ApproverID    string
	ApproverName  string
	ApproverEmail string
	Status        ApprovalStatus
	CreatedAt     time.Time
	ExpiresAt     time.Time

	// Set once, at the decision transition.
	DecidedAt *time.Time
	DecidedBy string
	Comments  string

	// Contract summary snapshot shown to the approver.
	CustomerName string
	VehicleCount int
	TotalValue   float64
	RiskLevel    RiskLevel
}

// Overdue reports whether the decision window has closed at the given instant.
func (a Approval) Overdue(now time.Time) bool {
	return !now.Before(a.ExpiresAt)
}

func (a Approval) Validate() error {
	if strings.TrimSpace(a.ID) == "" {
		return errors.New("approval id is required")
	}
	if strings.TrimSpace(a.ContractID) == "" {
		return errors.New("contract id is required")
	}
	if strings.TrimSpace(a.ApproverID) == "" {
		return errors.New("approver id is required")
	}
	if !a.Status.Valid() {
		return errors.New("approval status is invalid")
	}
	if a.ExpiresAt.IsZero() || !a.ExpiresAt.After(a.CreatedAt) {
		return errors.New("approval deadline must be after creation time")
	}
	return nil
}
