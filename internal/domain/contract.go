package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ContractState is the lifecycle state of a contract.
type ContractState string

const (
	ContractPendingValidation      ContractState = "PENDING_VALIDATION"
	ContractValidationFailed       ContractState = "VALIDATION_FAILED"
	ContractPendingManagerApproval ContractState = "PENDING_MANAGER_APPROVAL"
	ContractApproved               ContractState = "APPROVED"
	ContractRejected               ContractState = "REJECTED"
	ContractExpired                ContractState = "EXPIRED"
	ContractPendingSignature       ContractState = "PENDING_SIGNATURE"
	ContractSignatureDeclined      ContractState = "SIGNATURE_DECLINED"
	ContractSignatureVoided        ContractState = "SIGNATURE_VOIDED"
	ContractSigned                 ContractState = "SIGNED"
)

// ApprovalThresholdVehicles is the vehicle count above which a contract needs
// a manager decision before signature.
const ApprovalThresholdVehicles = 50

const (
	MinDurationMonths = 1
	MaxDurationMonths = 60
)

var contractTransitions = map[ContractState][]ContractState{
	ContractPendingValidation:      {ContractValidationFailed, ContractPendingManagerApproval, ContractApproved},
	ContractPendingManagerApproval: {ContractApproved, ContractRejected, ContractExpired},
	ContractApproved:               {ContractPendingSignature},
	ContractPendingSignature:       {ContractSigned, ContractSignatureDeclined, ContractSignatureVoided},
}

func (s ContractState) Valid() bool {
	switch s {
	case ContractPendingValidation, ContractValidationFailed, ContractPendingManagerApproval,
		ContractApproved, ContractRejected, ContractExpired, ContractPendingSignature,
		ContractSignatureDeclined, ContractSignatureVoided, ContractSigned:
		return true
	}
	return false
}

// Terminal reports whether the state admits no further transitions.
func (s ContractState) Terminal() bool {
	switch s {
	case ContractValidationFailed, ContractRejected, ContractExpired,
		ContractSignatureDeclined, ContractSignatureVoided, ContractSigned:
		return true
	}
	return false
}

// CanTransitionContract returns true when a contract state transition is allowed.
func CanTransitionContract(from, to ContractState) bool {
	allowed, ok := contractTransitions[from]
	if !ok {
		return false
	}
	for _, candidate := range allowed {
		if candidate == to {
			return true
		}
	}
	return false
}

// ValidateContractTransition ensures a contract state transition is legal.
func ValidateContractTransition(from, to ContractState) error {
	if !from.Valid() || !to.Valid() {
		return fmt.Errorf("invalid contract state transition")
	}
	if !CanTransitionContract(from, to) {
		return fmt.Errorf("contract state transition %q -> %q not allowed", from, to)
	}
	return nil
}

// NormalizeContractState maps free-form status values to canonical states.
func NormalizeContractState(value string) ContractState {
	state := ContractState(strings.ToUpper(strings.TrimSpace(value)))
	if state.Valid() {
		return state
	}
	return ""
}

// Contract is a customer service agreement subject to approval and signature
// before activation.
type Contract struct {
	ID             string
	CustomerID     string
	CustomerName   string
	CustomerEmail  string
	CustomerPhone  string
	CompanyName    string
	ContractType   string
	VehicleCount   int
	MonthlyFee     float64
	DurationMonths int

	// Derived at validation time, never independently mutated.
	TotalValue       float64
	RiskLevel        RiskLevel
	RequiresApproval bool

	State         ContractState
	FailureReason string

	ApprovalID string
	EnvelopeID string

	// Signature initiation bookkeeping. The contract stays APPROVED while
	// attempts remain; Escalated flags exhaustion for operators.
	SignatureAttempts int
	SignatureError    string
	Escalated         bool

	Terms     Metadata
	CreatedAt time.Time
	UpdatedAt time.Time
}

// ComputeTotalValue recomputes the contract's total value from its terms.
func (c Contract) ComputeTotalValue() float64 {
	return c.MonthlyFee * float64(c.DurationMonths) * float64(c.VehicleCount)
}

// RequiresManagerApproval reports whether the contract exceeds the
// auto-approval threshold.
func (c Contract) RequiresManagerApproval() bool {
	return c.VehicleCount > ApprovalThresholdVehicles
}

func (c Contract) Validate() error {
	if strings.TrimSpace(c.ID) == "" {
		return errors.New("contract id is required")
	}
	if strings.TrimSpace(c.CustomerID) == "" {
		return errors.New("customer id is required")
	}
	if strings.TrimSpace(c.CustomerName) == "" {
		return errors.New("customer name is required")
	}
	if strings.TrimSpace(c.CustomerEmail) == "" {
		return errors.New("customer email is required")
	}
	if strings.TrimSpace(c.ContractType) == "" {
		return errors.New("contract type is required")
	}
	if c.VehicleCount <= 0 {
		return errors.New("vehicle count must be greater than 0")
	}
	if c.MonthlyFee <= 0 {
		return errors.New("monthly fee must be greater than 0")
	}
	if c.DurationMonths < MinDurationMonths || c.DurationMonths > MaxDurationMonths {
		return fmt.Errorf("contract duration must be between %d and %d months", MinDurationMonths, MaxDurationMonths)
	}
	return nil
}
