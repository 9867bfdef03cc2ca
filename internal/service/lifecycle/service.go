package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/fleetgrid-labs/fleetgrid-go/internal/directory"
	"github.com/fleetgrid-labs/fleetgrid-go/internal/domain"
	"github.com/fleetgrid-labs/fleetgrid-go/internal/notify"
	"github.com/fleetgrid-labs/fleetgrid-go/internal/platform/auditlog"
	"github.com/fleetgrid-labs/fleetgrid-go/internal/repo"
	"github.com/fleetgrid-labs/fleetgrid-go/internal/signing"
)

const (
	DefaultApprovalSLA          = 72 * time.Hour
	DefaultMaxSignatureAttempts = 3
)

// DocumentStore persists contract documents: the rendered agreement before
// signing and the executed copy after completion.
type DocumentStore interface {
	PutContractDocument(ctx context.Context, contractID string, payload []byte) (key string, err error)
	ArchiveSignedDocument(ctx context.Context, contractID string, payload []byte) (key string, err error)
}

// Activator is the service-activation hook fired once a contract reaches
// SIGNED. Failures are logged; the transition is never rolled back.
type Activator interface {
	Activate(ctx context.Context, contract domain.Contract) error
}

// Service drives a contract from submission through validation, approval
// routing, decision, and signature completion. All cross-actor coordination
// happens through conditional writes on the contract and approval records;
// the service itself holds no mutable state and is safe to run on any
// number of instances.
type Service struct {
	contracts  repo.ContractRepository
	approvals  repo.ApprovalRepository
	signatures repo.SignatureRepository
	directory  *directory.Directory
	provider   signing.Provider
	notifier   notify.Publisher
	documents  DocumentStore
	activator  Activator
	audit      auditlog.QueryRower
	logger     *slog.Logger

	approvalSLA          time.Duration
	maxSignatureAttempts int
	now                  func() time.Time
}

type Options struct {
	ApprovalSLA          time.Duration
	MaxSignatureAttempts int

	// Optional collaborators. Nil disables the concern.
	Documents DocumentStore
	Activator Activator
	Audit     auditlog.QueryRower

	// Clock override for tests.
	Now func() time.Time
}

func New(
	contracts repo.ContractRepository,
	approvals repo.ApprovalRepository,
	signatures repo.SignatureRepository,
	dir *directory.Directory,
	provider signing.Provider,
	notifier notify.Publisher,
	logger *slog.Logger,
	opts Options,
) (*Service, error) {
	if contracts == nil || approvals == nil || signatures == nil {
		return nil, errors.New("contract, approval and signature repositories are required")
	}
	if dir == nil {
		return nil, errors.New("approver directory is required")
	}
	if provider == nil {
		return nil, errors.New("signature provider is required")
	}
	if notifier == nil {
		return nil, errors.New("notifier is required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	svc := &Service{
		contracts:            contracts,
		approvals:            approvals,
		signatures:           signatures,
		directory:            dir,
		provider:             provider,
		notifier:             notifier,
		documents:            opts.Documents,
		activator:            opts.Activator,
		audit:                opts.Audit,
		logger:               logger,
		approvalSLA:          opts.ApprovalSLA,
		maxSignatureAttempts: opts.MaxSignatureAttempts,
		now:                  opts.Now,
	}
	if svc.approvalSLA <= 0 {
		svc.approvalSLA = DefaultApprovalSLA
	}
	if svc.maxSignatureAttempts <= 0 {
		svc.maxSignatureAttempts = DefaultMaxSignatureAttempts
	}
	if svc.now == nil {
		svc.now = time.Now
	}
	return svc, nil
}

// SubmitRequest carries the customer's contract terms.
type SubmitRequest struct {
	CustomerID     string
	CustomerName   string
	CustomerEmail  string
	CustomerPhone  string
	CompanyName    string
	ContractType   string
	VehicleCount   int
	MonthlyFee     float64
	DurationMonths int
	Terms          domain.Metadata
}

// SubmitContract validates and persists a new contract, classifies its
// risk, and routes it: large contracts get a manager approval request,
// small ones are auto-approved and move straight to signature initiation.
// Validation failures return a *ValidationError and leave the contract in
// VALIDATION_FAILED.
func (s *Service) SubmitContract(ctx context.Context, req SubmitRequest) (domain.Contract, error) {
	now := s.now().UTC()
	contract := domain.Contract{
		ID:             newContractID(now),
		CustomerID:     strings.TrimSpace(req.CustomerID),
		CustomerName:   strings.TrimSpace(req.CustomerName),
		CustomerEmail:  strings.TrimSpace(req.CustomerEmail),
		CustomerPhone:  strings.TrimSpace(req.CustomerPhone),
		CompanyName:    strings.TrimSpace(req.CompanyName),
		ContractType:   strings.TrimSpace(req.ContractType),
		VehicleCount:   req.VehicleCount,
		MonthlyFee:     req.MonthlyFee,
		DurationMonths: req.DurationMonths,
		State:          domain.ContractPendingValidation,
		Terms:          req.Terms.Clone(),
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	contract.TotalValue = contract.ComputeTotalValue()
	contract.RiskLevel = domain.ClassifyRisk(contract.VehicleCount, contract.TotalValue, contract.DurationMonths)
	contract.RequiresApproval = contract.RequiresManagerApproval()

	if err := contract.Validate(); err != nil {
		reason := err.Error()
		contract.State = domain.ContractValidationFailed
		contract.FailureReason = reason
		if cerr := s.contracts.CreateContract(ctx, contract); cerr != nil {
			return domain.Contract{}, fmt.Errorf("create contract: %w", cerr)
		}
		s.auditEvent(ctx, contract.CustomerID, auditlog.ActionContractInvalid, "contract", contract.ID,
			map[string]any{"reason": reason})
		return contract, &ValidationError{Reason: reason}
	}

	if err := s.contracts.CreateContract(ctx, contract); err != nil {
		return domain.Contract{}, fmt.Errorf("create contract: %w", err)
	}
	s.auditEvent(ctx, contract.CustomerID, auditlog.ActionContractSubmitted, "contract", contract.ID, map[string]any{
		"vehicle_count": contract.VehicleCount,
		"total_value":   contract.TotalValue,
		"risk_level":    string(contract.RiskLevel),
	})

	if contract.RequiresApproval {
		if err := s.routeForApproval(ctx, &contract); err != nil {
			return domain.Contract{}, err
		}
		return contract, nil
	}

	if err := s.transition(ctx, &contract, domain.ContractApproved, repo.ContractUpdate{DecidedBy: "auto"}); err != nil {
		return domain.Contract{}, err
	}
	s.auditEvent(ctx, "system", auditlog.ActionContractAutoRouted, "contract", contract.ID, nil)

	if err := s.InitiateSignature(ctx, contract.ID); err != nil {
		// The contract stays APPROVED; initiation is retried later.
		s.logger.Warn("signature initiation failed after auto-approval",
			"contract_id", contract.ID, "error", err)
	}
	refreshed, err := s.contracts.GetContract(ctx, contract.ID)
	if err != nil {
		return contract, nil
	}
	return refreshed, nil
}

// routeForApproval moves the contract into PENDING_MANAGER_APPROVAL, then
// creates the approval request and starts the deadline clock. With nobody
// eligible the contract stays put with the escalation flag raised so an
// operator can assign by hand.
func (s *Service) routeForApproval(ctx context.Context, contract *domain.Contract) error {
	if err := s.transition(ctx, contract, domain.ContractPendingManagerApproval, repo.ContractUpdate{}); err != nil {
		return err
	}

	now := s.now().UTC()
	picked, err := s.directory.Pick(ctx, contract.TotalValue)
	if err != nil {
		if errors.Is(err, directory.ErrNoEligibleApprover) {
			if ferr := s.contracts.FlagEscalation(ctx, contract.ID, "no eligible approver"); ferr != nil {
				s.logger.Error("escalation flag write failed", "contract_id", contract.ID, "error", ferr)
			}
			contract.Escalated = true
			contract.SignatureError = "no eligible approver"
			s.publish(ctx, notify.AudienceOperators, "Approval routing failed",
				fmt.Sprintf("Contract %s has no eligible approver (value %.2f). Manual assignment required.",
					contract.ID, contract.TotalValue))
			return nil
		}
		return fmt.Errorf("route contract %s: %w", contract.ID, err)
	}

	approval := domain.Approval{
		ID:            newApprovalID(now),
		ContractID:    contract.ID,
		ApproverID:    picked.Approver.ID,
		ApproverName:  picked.Approver.Name,
		ApproverEmail: picked.Approver.Email,
		Status:        domain.ApprovalPending,
		CreatedAt:     now,
		ExpiresAt:     now.Add(s.approvalSLA),
		CustomerName:  contract.CustomerName,
		VehicleCount:  contract.VehicleCount,
		TotalValue:    contract.TotalValue,
		RiskLevel:     contract.RiskLevel,
	}
	if err := s.approvals.CreateApproval(ctx, approval); err != nil {
		return fmt.Errorf("create approval: %w", err)
	}
	contract.ApprovalID = approval.ID

	if err := s.contracts.LinkApproval(ctx, contract.ID, approval.ID); err != nil {
		s.logger.Error("approval link write failed", "contract_id", contract.ID, "error", err)
	}

	s.auditEvent(ctx, "system", auditlog.ActionApprovalAssigned, "approval", approval.ID, map[string]any{
		"contract_id": contract.ID,
		"approver_id": approval.ApproverID,
		"expires_at":  approval.ExpiresAt,
	})
	s.publish(ctx, notify.AudienceApprovers, "Contract pending your approval",
		fmt.Sprintf("Contract %s for %s (%d vehicles, %.2f total, risk %s) awaits your decision by %s.",
			contract.ID, contract.CustomerName, contract.VehicleCount, contract.TotalValue,
			contract.RiskLevel, approval.ExpiresAt.Format(time.RFC3339)))
	return nil
}

func (s *Service) GetContract(ctx context.Context, id string) (domain.Contract, error) {
	return s.contracts.GetContract(ctx, id)
}

func (s *Service) ListContracts(ctx context.Context, filter repo.ContractFilter) ([]domain.Contract, error) {
	return s.contracts.ListContracts(ctx, filter)
}

func (s *Service) Dashboard(ctx context.Context, customerID string) (repo.ContractDashboard, error) {
	return s.contracts.Dashboard(ctx, customerID)
}

func (s *Service) GetApproval(ctx context.Context, id string) (domain.Approval, error) {
	return s.approvals.GetApproval(ctx, id)
}

func (s *Service) ListApprovals(ctx context.Context, filter repo.ApprovalFilter) ([]domain.Approval, error) {
	return s.approvals.ListApprovals(ctx, filter)
}

// transition applies a contract state change from the contract's current
// in-memory state and updates the local copy on success.
func (s *Service) transition(ctx context.Context, contract *domain.Contract, to domain.ContractState, update repo.ContractUpdate) error {
	if err := domain.ValidateContractTransition(contract.State, to); err != nil {
		return err
	}
	if err := s.contracts.TransitionState(ctx, contract.ID, contract.State, to, update); err != nil {
		return fmt.Errorf("transition %s %s -> %s: %w", contract.ID, contract.State, to, err)
	}
	contract.State = to
	return nil
}

// publish sends a best-effort notification. Delivery failures are logged
// and never affect the surrounding transition.
func (s *Service) publish(ctx context.Context, audience, subject, body string) {
	if err := s.notifier.Publish(ctx, audience, subject, body); err != nil {
		s.logger.Warn("notification failed", "audience", audience, "subject", subject, "error", err)
	}
}

// auditEvent records an audit entry. Best effort: the trail never blocks
// the workflow.
func (s *Service) auditEvent(ctx context.Context, actor, action, resourceType, resourceID string, payload map[string]any) {
	if s.audit == nil {
		return
	}
	if strings.TrimSpace(actor) == "" {
		actor = "system"
	}
	if _, err := auditlog.Insert(ctx, s.audit, auditlog.Event{
		OccurredAt:   s.now().UTC(),
		Actor:        actor,
		Action:       action,
		ResourceType: resourceType,
		ResourceID:   resourceID,
		Payload:      payload,
	}); err != nil {
		s.logger.Warn("audit insert failed", "action", action, "resource_id", resourceID, "error", err)
	}
}
