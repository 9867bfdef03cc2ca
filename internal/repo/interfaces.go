package repo

import (
	"context"
	"errors"
	"time"

	"github.com/fleetgrid-labs/fleetgrid-go/internal/domain"
)

// ErrNotFound is returned when a record does not exist.
var ErrNotFound = errors.New("record not found")

// ErrStaleState is returned when a conditional write finds the record no
// longer in the expected state. Callers losing a decision race see this.
var ErrStaleState = errors.New("record not in expected state")

type ContractFilter struct {
	CustomerID string
	State      domain.ContractState
	Limit      int
}

type ApprovalFilter struct {
	ApproverID string
	ContractID string
	Status     domain.ApprovalStatus
	Limit      int
}

// ContractDashboard aggregates contract counts and approved volume.
type ContractDashboard struct {
	TotalContracts    int
	PendingApproval   int
	Approved          int
	Rejected          int
	Signed            int
	ApprovedVehicles  int
	ApprovedValue     float64
	RequiringApproval int
}

// ContractRepository manages contract records. State changes go through the
// conditional-transition methods only; terminal records are never deleted.
type ContractRepository interface {
	CreateContract(ctx context.Context, contract domain.Contract) error
	GetContract(ctx context.Context, id string) (domain.Contract, error)
	GetContractByEnvelope(ctx context.Context, envelopeID string) (domain.Contract, error)
	ListContracts(ctx context.Context, filter ContractFilter) ([]domain.Contract, error)
	Dashboard(ctx context.Context, customerID string) (ContractDashboard, error)

	// TransitionState applies from -> to only while the stored state still
	// equals from. ErrStaleState reports a lost race.
	TransitionState(ctx context.Context, id string, from, to domain.ContractState, update ContractUpdate) error

	// LinkApproval attaches the approval request created on entry to
	// PENDING_MANAGER_APPROVAL. Fails with ErrStaleState once the contract
	// has moved on or already carries an approval.
	LinkApproval(ctx context.Context, id, approvalID string) error

	// FlagEscalation raises the operator-attention flag without changing
	// state. Used when approval routing finds no eligible approver.
	FlagEscalation(ctx context.Context, id, reason string) error

	// RecordSignatureFailure increments the attempt counter and stores the
	// error without leaving APPROVED. Escalate marks operator attention.
	RecordSignatureFailure(ctx context.Context, id string, attempt int, reason string, escalate bool) error
}

// ContractUpdate carries the fields a transition may set alongside the state.
type ContractUpdate struct {
	FailureReason string
	ApprovalID    string
	EnvelopeID    string
	DecidedBy     string
}

// ApprovalRepository manages approval requests. Decide is the only path out
// of PENDING and must be atomic check-and-set on the status field.
type ApprovalRepository interface {
	CreateApproval(ctx context.Context, approval domain.Approval) error
	GetApproval(ctx context.Context, id string) (domain.Approval, error)
	ListApprovals(ctx context.Context, filter ApprovalFilter) ([]domain.Approval, error)

	// CountPending returns the approver's current PENDING load.
	CountPending(ctx context.Context, approverID string) (int, error)

	// ListOverdue returns PENDING approvals whose deadline has passed.
	ListOverdue(ctx context.Context, now time.Time, limit int) ([]domain.Approval, error)

	// Decide moves a PENDING approval to a terminal status. The write lands
	// only while status is still PENDING; for APPROVED it additionally
	// requires the deadline not to have passed. ErrStaleState reports a
	// lost race or an implicit expiry.
	Decide(ctx context.Context, id string, status domain.ApprovalStatus, decidedBy, comments string, now time.Time) error
}

// SignatureRepository manages signing transaction records.
type SignatureRepository interface {
	CreateSignature(ctx context.Context, signature domain.Signature) error
	GetSignatureByEnvelope(ctx context.Context, envelopeID string) (domain.Signature, error)
	UpdateSignatureStatus(ctx context.Context, envelopeID string, status domain.SignatureStatus, reason string, completedAt *time.Time) error
	UpdateSignerStatus(ctx context.Context, envelopeID, email, status string, signedAt *time.Time) error
}
