package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/fleetgrid-labs/fleetgrid-go/internal/domain"
	"github.com/fleetgrid-labs/fleetgrid-go/internal/notify"
	"github.com/fleetgrid-labs/fleetgrid-go/internal/platform/auditlog"
	"github.com/fleetgrid-labs/fleetgrid-go/internal/repo"
)

// Approve records a manager's approval. The decision lands only while the
// approval is still PENDING and inside its window; losing either check
// returns ErrAlreadyDecided or ErrDeadlinePassed. On success the contract
// moves to APPROVED and signature initiation is attempted immediately.
func (s *Service) Approve(ctx context.Context, approvalID, actor, comments string) (domain.Contract, error) {
	approval, err := s.approvals.GetApproval(ctx, approvalID)
	if err != nil {
		return domain.Contract{}, err
	}

	now := s.now().UTC()
	if approval.Status.Decided() {
		return domain.Contract{}, ErrAlreadyDecided
	}
	// Expiry is implicit once the window closes, even before the sweeper
	// writes the EXPIRED record.
	if approval.Overdue(now) {
		return domain.Contract{}, ErrDeadlinePassed
	}

	if err := s.approvals.Decide(ctx, approvalID, domain.ApprovalApproved, actor, comments, now); err != nil {
		return domain.Contract{}, s.classifyDecideError(ctx, approvalID, now, err)
	}

	contract, err := s.contracts.GetContract(ctx, approval.ContractID)
	if err != nil {
		return domain.Contract{}, err
	}
	if err := s.transition(ctx, &contract, domain.ContractApproved, repo.ContractUpdate{DecidedBy: actor}); err != nil {
		return domain.Contract{}, err
	}

	s.auditEvent(ctx, actor, auditlog.ActionApprovalApproved, "approval", approvalID, map[string]any{
		"contract_id": approval.ContractID,
		"comments":    comments,
	})
	s.publish(ctx, notify.AudienceCustomer, "Contract approved",
		fmt.Sprintf("Contract %s has been approved and is being prepared for signature.", contract.ID))

	if err := s.InitiateSignature(ctx, contract.ID); err != nil {
		s.logger.Warn("signature initiation failed after approval",
			"contract_id", contract.ID, "error", err)
	}
	refreshed, err := s.contracts.GetContract(ctx, contract.ID)
	if err != nil {
		return contract, nil
	}
	return refreshed, nil
}

// Reject records a manager's rejection. A non-empty reason is mandatory and
// is stored verbatim as the contract's terminal failure reason. Rejection
// carries no deadline check: a manager may still reject an overdue approval
// the sweeper has not reached yet.
func (s *Service) Reject(ctx context.Context, approvalID, actor, reason string) (domain.Contract, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return domain.Contract{}, ErrReasonRequired
	}

	approval, err := s.approvals.GetApproval(ctx, approvalID)
	if err != nil {
		return domain.Contract{}, err
	}
	if approval.Status.Decided() {
		return domain.Contract{}, ErrAlreadyDecided
	}

	now := s.now().UTC()
	if err := s.approvals.Decide(ctx, approvalID, domain.ApprovalRejected, actor, reason, now); err != nil {
		return domain.Contract{}, s.classifyDecideError(ctx, approvalID, now, err)
	}

	contract, err := s.contracts.GetContract(ctx, approval.ContractID)
	if err != nil {
		return domain.Contract{}, err
	}
	if err := s.transition(ctx, &contract, domain.ContractRejected, repo.ContractUpdate{
		FailureReason: reason,
		DecidedBy:     actor,
	}); err != nil {
		return domain.Contract{}, err
	}
	contract.FailureReason = reason

	s.auditEvent(ctx, actor, auditlog.ActionApprovalRejected, "approval", approvalID, map[string]any{
		"contract_id": approval.ContractID,
		"reason":      reason,
	})
	s.publish(ctx, notify.AudienceCustomer, "Contract rejected",
		fmt.Sprintf("Contract %s was rejected: %s", contract.ID, reason))
	return contract, nil
}

// ExpireApproval forces the EXPIRED transition on an overdue approval. It
// contends through the same conditional write as approve/reject; losing
// the race is a silent no-op, which makes repeated sweeps idempotent and
// multi-instance safe. Notification is sent only on the winning write.
func (s *Service) ExpireApproval(ctx context.Context, approval domain.Approval) (bool, error) {
	now := s.now().UTC()
	if !approval.Overdue(now) {
		return false, nil
	}

	err := s.approvals.Decide(ctx, approval.ID, domain.ApprovalExpired, "sweeper", "approval window elapsed", now)
	if errors.Is(err, repo.ErrStaleState) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("expire approval %s: %w", approval.ID, err)
	}

	contract, err := s.contracts.GetContract(ctx, approval.ContractID)
	if err != nil {
		return true, err
	}
	reason := "approval not decided within the allowed window"
	if err := s.transition(ctx, &contract, domain.ContractExpired, repo.ContractUpdate{
		FailureReason: reason,
		DecidedBy:     "sweeper",
	}); err != nil {
		return true, err
	}

	s.auditEvent(ctx, "sweeper", auditlog.ActionApprovalExpired, "approval", approval.ID, map[string]any{
		"contract_id": approval.ContractID,
		"expired_at":  approval.ExpiresAt,
	})
	s.publish(ctx, notify.AudienceCustomer, "Contract approval expired",
		fmt.Sprintf("Contract %s expired without a manager decision.", contract.ID))
	return true, nil
}

// Sweep expires every overdue PENDING approval it can find, up to batch.
// Individual failures are logged and skipped; the records stay overdue and
// are retried on the next pass.
func (s *Service) Sweep(ctx context.Context, batch int) (int, error) {
	if batch <= 0 {
		batch = 50
	}
	overdue, err := s.approvals.ListOverdue(ctx, s.now().UTC(), batch)
	if err != nil {
		return 0, fmt.Errorf("list overdue approvals: %w", err)
	}

	expired := 0
	for _, approval := range overdue {
		won, err := s.ExpireApproval(ctx, approval)
		if err != nil {
			s.logger.Error("expiry failed", "approval_id", approval.ID, "error", err)
			continue
		}
		if won {
			expired++
		}
	}
	return expired, nil
}

// classifyDecideError turns a lost conditional write into the user-facing
// condition: decided by someone else, or implicitly expired.
func (s *Service) classifyDecideError(ctx context.Context, approvalID string, now time.Time, err error) error {
	if !errors.Is(err, repo.ErrStaleState) {
		return err
	}
	current, getErr := s.approvals.GetApproval(ctx, approvalID)
	if getErr != nil {
		return err
	}
	if current.Status.Decided() {
		return ErrAlreadyDecided
	}
	if current.Overdue(now) {
		return ErrDeadlinePassed
	}
	return err
}
