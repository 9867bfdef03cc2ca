package domain

import (
	"errors"
	"strings"
)

// Approver is a manager eligible to decide approval requests. Identity is
// owned by the directory collaborator; the engine only reads eligibility.
type Approver struct {
	ID         string
	Name       string
	Email      string
	Department string

	// ApprovalLimit caps the total contract value the approver may sign off.
	ApprovalLimit float64

	// MaxPending caps concurrent PENDING approvals assigned to the approver.
	MaxPending int
}

func (a Approver) Validate() error {
	if strings.TrimSpace(a.ID) == "" {
		return errors.New("approver id is required")
	}
	if strings.TrimSpace(a.Name) == "" {
		return errors.New("approver name is required")
	}
	if strings.TrimSpace(a.Email) == "" {
		return errors.New("approver email is required")
	}
	if a.ApprovalLimit <= 0 {
		return errors.New("approval limit must be greater than 0")
	}
	if a.MaxPending <= 0 {
		return errors.New("max pending must be greater than 0")
	}
	return nil
}

// CanAuthorize reports whether the approver's limit covers the contract value.
func (a Approver) CanAuthorize(totalValue float64) bool {
	return totalValue <= a.ApprovalLimit
}
