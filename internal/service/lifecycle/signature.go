package lifecycle

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/fleetgrid-labs/fleetgrid-go/internal/domain"
	"github.com/fleetgrid-labs/fleetgrid-go/internal/notify"
	"github.com/fleetgrid-labs/fleetgrid-go/internal/platform/auditlog"
	"github.com/fleetgrid-labs/fleetgrid-go/internal/repo"
	"github.com/fleetgrid-labs/fleetgrid-go/internal/signing"
)

const (
	companySignerName  = "FleetGrid Operations"
	companySignerEmail = "contracts@fleetgrid.io"
)

// InitiateSignature opens a signing transaction for an APPROVED contract.
// Failures keep the contract in APPROVED with the attempt recorded; once
// the attempt budget is spent the contract is escalated to operators and
// further calls return ErrEscalated.
func (s *Service) InitiateSignature(ctx context.Context, contractID string) error {
	contract, err := s.contracts.GetContract(ctx, contractID)
	if err != nil {
		return err
	}
	if contract.State == domain.ContractPendingSignature {
		return nil
	}
	if contract.State != domain.ContractApproved {
		return fmt.Errorf("%w: %s is %s", ErrInvalidState, contractID, contract.State)
	}
	if contract.SignatureAttempts >= s.maxSignatureAttempts {
		return ErrEscalated
	}

	document := renderContractDocument(contract)
	documentKey := ""
	if s.documents != nil {
		key, err := s.documents.PutContractDocument(ctx, contract.ID, document)
		if err != nil {
			return s.recordInitiationFailure(ctx, contract, fmt.Errorf("store contract document: %w", err), false)
		}
		documentKey = key
	}

	envelope := signing.EnvelopeRequest{
		ContractID:   contract.ID,
		DocumentName: fmt.Sprintf("fleet-services-agreement-%s.txt", contract.ID),
		DocumentB64:  base64.StdEncoding.EncodeToString(document),
		EmailSubject: fmt.Sprintf("Fleet services agreement %s — signature required", contract.ID),
		Signers: []signing.EnvelopeSigner{
			{Name: contract.CustomerName, Email: contract.CustomerEmail, Role: string(domain.SignerCustomer), Order: 1},
			{Name: companySignerName, Email: companySignerEmail, Role: string(domain.SignerCompany), Order: 2},
		},
		Metadata: map[string]string{"customer_id": contract.CustomerID},
	}

	resp, err := s.provider.CreateEnvelope(ctx, envelope)
	if err != nil {
		terminal := errors.Is(err, signing.ErrTerminal)
		return s.recordInitiationFailure(ctx, contract, err, terminal)
	}

	now := s.now().UTC()
	signature := domain.Signature{
		ID:          newSignatureID(now),
		ContractID:  contract.ID,
		EnvelopeID:  resp.EnvelopeID,
		Status:      domain.SignatureSent,
		DocumentKey: documentKey,
		CreatedAt:   now,
		Signers: []domain.Signer{
			{Name: contract.CustomerName, Email: contract.CustomerEmail, Role: domain.SignerCustomer, Status: "sent"},
			{Name: companySignerName, Email: companySignerEmail, Role: domain.SignerCompany, Status: "sent"},
		},
	}
	if err := s.signatures.CreateSignature(ctx, signature); err != nil {
		return fmt.Errorf("create signature record: %w", err)
	}

	if err := s.transition(ctx, &contract, domain.ContractPendingSignature, repo.ContractUpdate{EnvelopeID: resp.EnvelopeID}); err != nil {
		return err
	}

	s.auditEvent(ctx, "system", auditlog.ActionSignatureRequested, "contract", contract.ID, map[string]any{
		"envelope_id": resp.EnvelopeID,
	})
	s.publish(ctx, notify.AudienceCustomer, "Contract ready for signature",
		fmt.Sprintf("Contract %s is ready for electronic signature. Check your inbox at %s.",
			contract.ID, contract.CustomerEmail))
	return nil
}

// recordInitiationFailure bumps the attempt counter and escalates when the
// budget is exhausted or the failure is terminal.
func (s *Service) recordInitiationFailure(ctx context.Context, contract domain.Contract, cause error, terminal bool) error {
	attempt := contract.SignatureAttempts + 1
	escalate := terminal || attempt >= s.maxSignatureAttempts

	if err := s.contracts.RecordSignatureFailure(ctx, contract.ID, attempt, cause.Error(), escalate); err != nil {
		s.logger.Error("signature failure write failed", "contract_id", contract.ID, "error", err)
	}
	if escalate {
		s.auditEvent(ctx, "system", auditlog.ActionSignatureEscalated, "contract", contract.ID, map[string]any{
			"attempts": attempt,
			"error":    cause.Error(),
		})
		s.publish(ctx, notify.AudienceOperators, "Signature initiation needs attention",
			fmt.Sprintf("Contract %s failed signature initiation after %d attempt(s): %v", contract.ID, attempt, cause))
	}
	return fmt.Errorf("initiate signature for %s (attempt %d): %w", contract.ID, attempt, cause)
}

// HandleSignatureEvent applies a provider webhook. Events for envelopes this
// service never issued are logged and dropped; the provider retries
// delivery, so an error here would only generate noise.
func (s *Service) HandleSignatureEvent(ctx context.Context, event signing.Event) error {
	if err := event.Validate(); err != nil {
		return err
	}

	contract, err := s.contracts.GetContractByEnvelope(ctx, event.EnvelopeID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			s.logger.Warn("webhook for unknown envelope dropped", "envelope_id", event.EnvelopeID, "event", event.Kind)
			return nil
		}
		return err
	}

	now := s.now().UTC()
	switch event.Kind {
	case signing.EventRecipientComplete:
		if err := s.signatures.UpdateSignerStatus(ctx, event.EnvelopeID, event.Signer, "completed", &now); err != nil {
			if errors.Is(err, repo.ErrNotFound) {
				s.logger.Warn("signer completion for unknown signer dropped",
					"envelope_id", event.EnvelopeID, "signer", event.Signer)
				return nil
			}
			return err
		}
		return nil

	case signing.EventCompleted:
		return s.completeSignature(ctx, contract, event, now)

	case signing.EventDeclined:
		return s.terminateSignature(ctx, contract, event, domain.ContractSignatureDeclined,
			domain.SignatureDeclined, auditlog.ActionSignatureDeclined, now)

	case signing.EventVoided:
		return s.terminateSignature(ctx, contract, event, domain.ContractSignatureVoided,
			domain.SignatureVoided, auditlog.ActionSignatureVoided, now)

	default:
		return fmt.Errorf("unsupported event: %q", event.Kind)
	}
}

func (s *Service) completeSignature(ctx context.Context, contract domain.Contract, event signing.Event, now time.Time) error {
	err := s.contracts.TransitionState(ctx, contract.ID,
		domain.ContractPendingSignature, domain.ContractSigned, repo.ContractUpdate{})
	if errors.Is(err, repo.ErrStaleState) {
		// Redelivered webhook; the first delivery already won.
		s.logger.Info("duplicate completion webhook ignored", "contract_id", contract.ID, "envelope_id", event.EnvelopeID)
		return nil
	}
	if err != nil {
		return err
	}
	contract.State = domain.ContractSigned

	if err := s.signatures.UpdateSignatureStatus(ctx, event.EnvelopeID, domain.SignatureCompleted, "", &now); err != nil {
		s.logger.Error("signature record completion write failed", "envelope_id", event.EnvelopeID, "error", err)
	}

	s.archiveExecutionRecord(ctx, contract, event.EnvelopeID, now)

	if s.activator != nil {
		if err := s.activator.Activate(ctx, contract); err != nil {
			s.logger.Error("service activation hook failed", "contract_id", contract.ID, "error", err)
		}
	}

	s.auditEvent(ctx, "signing-provider", auditlog.ActionSignatureCompleted, "contract", contract.ID, map[string]any{
		"envelope_id": event.EnvelopeID,
	})
	s.publish(ctx, notify.AudienceCustomer, "Contract signed",
		fmt.Sprintf("Contract %s is fully signed. Your fleet services are being activated.", contract.ID))
	return nil
}

func (s *Service) terminateSignature(
	ctx context.Context,
	contract domain.Contract,
	event signing.Event,
	toState domain.ContractState,
	sigStatus domain.SignatureStatus,
	auditAction string,
	now time.Time,
) error {
	reason := event.Reason
	if reason == "" {
		reason = "no reason given by signing provider"
	}

	err := s.contracts.TransitionState(ctx, contract.ID,
		domain.ContractPendingSignature, toState, repo.ContractUpdate{FailureReason: reason})
	if errors.Is(err, repo.ErrStaleState) {
		s.logger.Info("duplicate signature webhook ignored",
			"contract_id", contract.ID, "envelope_id", event.EnvelopeID, "event", event.Kind)
		return nil
	}
	if err != nil {
		return err
	}

	if err := s.signatures.UpdateSignatureStatus(ctx, event.EnvelopeID, sigStatus, reason, nil); err != nil {
		s.logger.Error("signature record terminal write failed", "envelope_id", event.EnvelopeID, "error", err)
	}

	s.auditEvent(ctx, "signing-provider", auditAction, "contract", contract.ID, map[string]any{
		"envelope_id": event.EnvelopeID,
		"reason":      reason,
	})
	s.publish(ctx, notify.AudienceCustomer, "Contract signature not completed",
		fmt.Sprintf("Contract %s signature ended without completion: %s", contract.ID, reason))
	return nil
}

// archiveExecutionRecord writes a small JSON execution record to the signed
// bucket once a contract completes. Best effort.
func (s *Service) archiveExecutionRecord(ctx context.Context, contract domain.Contract, envelopeID string, now time.Time) {
	if s.documents == nil {
		return
	}
	record, err := json.Marshal(map[string]any{
		"contract_id": contract.ID,
		"envelope_id": envelopeID,
		"customer_id": contract.CustomerID,
		"total_value": contract.TotalValue,
		"signed_at":   now,
	})
	if err != nil {
		return
	}
	if _, err := s.documents.ArchiveSignedDocument(ctx, contract.ID, record); err != nil {
		s.logger.Error("execution record archive failed", "contract_id", contract.ID, "error", err)
	}
}

// renderContractDocument produces the plain-text agreement sent for
// signature.
func renderContractDocument(contract domain.Contract) []byte {
	return []byte(fmt.Sprintf(`FLEET SERVICES AGREEMENT

Contract:    %s
Customer:    %s (%s)
Company:     %s
Type:        %s

Vehicles:    %d
Monthly fee: %.2f
Duration:    %d months
Total value: %.2f
Risk tier:   %s

This agreement covers fleet management services for the vehicles listed
above. It becomes effective when signed by both parties.
`,
		contract.ID,
		contract.CustomerName, contract.CustomerEmail,
		contract.CompanyName,
		contract.ContractType,
		contract.VehicleCount,
		contract.MonthlyFee,
		contract.DurationMonths,
		contract.TotalValue,
		contract.RiskLevel,
	))
}
