package lifecycle

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/fleetgrid-labs/fleetgrid-go/internal/directory"
	"github.com/fleetgrid-labs/fleetgrid-go/internal/domain"
	"github.com/fleetgrid-labs/fleetgrid-go/internal/notify"
	"github.com/fleetgrid-labs/fleetgrid-go/internal/repo"
	"github.com/fleetgrid-labs/fleetgrid-go/internal/signing"
)

type fixture struct {
	svc        *Service
	contracts  *memContracts
	approvals  *memApprovals
	signatures *memSignatures
	provider   *fakeProvider
	notifier   *fakeNotifier
	activator  *fakeActivator
	docs       *fakeDocs
	clock      *fakeClock
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	contracts := newMemContracts()
	approvals := newMemApprovals()
	signatures := newMemSignatures()
	provider := &fakeProvider{}
	notifier := &fakeNotifier{}
	activator := &fakeActivator{}
	docs := &fakeDocs{}
	clock := &fakeClock{t: time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)}

	roster := []domain.Approver{
		{ID: "mgr-1", Name: "Alex Kim", Email: "alex@fleetgrid.test", ApprovalLimit: 500000, MaxPending: 5},
		{ID: "mgr-2", Name: "Sam Ortiz", Email: "sam@fleetgrid.test", ApprovalLimit: 1000000, MaxPending: 5},
	}
	dir, err := directory.New(roster, approvals)
	if err != nil {
		t.Fatalf("directory: %v", err)
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc, err := New(contracts, approvals, signatures, dir, provider, notifier, logger, Options{
		Documents: docs,
		Activator: activator,
		Now:       clock.Now,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	return &fixture{
		svc:        svc,
		contracts:  contracts,
		approvals:  approvals,
		signatures: signatures,
		provider:   provider,
		notifier:   notifier,
		activator:  activator,
		docs:       docs,
		clock:      clock,
	}
}

func smallContract() SubmitRequest {
	return SubmitRequest{
		CustomerID:     "cust-1",
		CustomerName:   "Acme Logistics",
		CustomerEmail:  "fleet@acme.test",
		ContractType:   "FULL_SERVICE",
		VehicleCount:   25,
		MonthlyFee:     150,
		DurationMonths: 12,
	}
}

func largeContract() SubmitRequest {
	return SubmitRequest{
		CustomerID:     "cust-2",
		CustomerName:   "Borealis Freight",
		CustomerEmail:  "ops@borealis.test",
		ContractType:   "FULL_SERVICE",
		VehicleCount:   75,
		MonthlyFee:     200,
		DurationMonths: 24,
	}
}

func (f *fixture) submitLarge(t *testing.T) (domain.Contract, domain.Approval) {
	t.Helper()
	contract, err := f.svc.SubmitContract(context.Background(), largeContract())
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	approval, err := f.approvals.GetApproval(context.Background(), contract.ApprovalID)
	if err != nil {
		t.Fatalf("get approval: %v", err)
	}
	return contract, approval
}

func TestSubmitSmallContractAutoApproves(t *testing.T) {
	f := newFixture(t)

	contract, err := f.svc.SubmitContract(context.Background(), smallContract())
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	if contract.TotalValue != 45000 {
		t.Fatalf("total value = %v, want 45000", contract.TotalValue)
	}
	if contract.RiskLevel != domain.RiskLow {
		t.Fatalf("risk = %s, want LOW", contract.RiskLevel)
	}
	if contract.RequiresApproval {
		t.Fatalf("25 vehicles must not require approval")
	}
	if contract.State != domain.ContractPendingSignature {
		t.Fatalf("state = %s, want PENDING_SIGNATURE", contract.State)
	}
	if contract.EnvelopeID == "" {
		t.Fatalf("expected envelope id after signature initiation")
	}
	if _, err := f.signatures.GetSignatureByEnvelope(context.Background(), contract.EnvelopeID); err != nil {
		t.Fatalf("signature record missing: %v", err)
	}
	if f.docs.puts != 1 {
		t.Fatalf("document puts = %d, want 1", f.docs.puts)
	}
	if f.notifier.count(notify.AudienceCustomer) == 0 {
		t.Fatalf("expected a customer notification")
	}
}

func TestSubmitLargeContractRoutesToManager(t *testing.T) {
	f := newFixture(t)

	contract, approval := f.submitLarge(t)

	if contract.TotalValue != 360000 {
		t.Fatalf("total value = %v, want 360000", contract.TotalValue)
	}
	if !contract.RequiresApproval {
		t.Fatalf("75 vehicles must require approval")
	}
	if contract.RiskLevel != domain.RiskMedium {
		t.Fatalf("risk = %s, want MEDIUM", contract.RiskLevel)
	}
	if contract.State != domain.ContractPendingManagerApproval {
		t.Fatalf("state = %s, want PENDING_MANAGER_APPROVAL", contract.State)
	}
	if approval.Status != domain.ApprovalPending {
		t.Fatalf("approval status = %s, want PENDING", approval.Status)
	}
	if got := approval.ExpiresAt.Sub(approval.CreatedAt); got != 72*time.Hour {
		t.Fatalf("deadline window = %v, want 72h", got)
	}
	if approval.ApproverID != "mgr-1" && approval.ApproverID != "mgr-2" {
		t.Fatalf("unexpected approver %s", approval.ApproverID)
	}
	if f.provider.calls != 0 {
		t.Fatalf("no signature may be initiated before approval")
	}
	if f.notifier.count(notify.AudienceApprovers) != 1 {
		t.Fatalf("expected one approver notification")
	}
}

func TestSubmitInvalidContract(t *testing.T) {
	f := newFixture(t)

	req := smallContract()
	req.VehicleCount = 0
	contract, err := f.svc.SubmitContract(context.Background(), req)

	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("err = %v, want *ValidationError", err)
	}
	if contract.State != domain.ContractValidationFailed {
		t.Fatalf("state = %s, want VALIDATION_FAILED", contract.State)
	}
	stored, getErr := f.contracts.GetContract(context.Background(), contract.ID)
	if getErr != nil {
		t.Fatalf("record not persisted: %v", getErr)
	}
	if stored.FailureReason == "" {
		t.Fatalf("failure reason must be recorded")
	}
}

func TestApproveMovesToSignature(t *testing.T) {
	f := newFixture(t)
	contract, approval := f.submitLarge(t)

	updated, err := f.svc.Approve(context.Background(), approval.ID, "mgr-1", "terms look fine")
	if err != nil {
		t.Fatalf("approve: %v", err)
	}
	if updated.State != domain.ContractPendingSignature {
		t.Fatalf("state = %s, want PENDING_SIGNATURE", updated.State)
	}

	decided, err := f.approvals.GetApproval(context.Background(), approval.ID)
	if err != nil {
		t.Fatalf("get approval: %v", err)
	}
	if decided.Status != domain.ApprovalApproved || decided.DecidedBy != "mgr-1" {
		t.Fatalf("approval = %+v, want APPROVED by mgr-1", decided)
	}
	if decided.Comments != "terms look fine" {
		t.Fatalf("comments = %q", decided.Comments)
	}
	_ = contract
}

func TestRejectRequiresReasonAndIsFinal(t *testing.T) {
	f := newFixture(t)
	_, approval := f.submitLarge(t)

	if _, err := f.svc.Reject(context.Background(), approval.ID, "mgr-1", "  "); !errors.Is(err, ErrReasonRequired) {
		t.Fatalf("err = %v, want ErrReasonRequired", err)
	}

	updated, err := f.svc.Reject(context.Background(), approval.ID, "mgr-1", "risk too high")
	if err != nil {
		t.Fatalf("reject: %v", err)
	}
	if updated.State != domain.ContractRejected {
		t.Fatalf("state = %s, want REJECTED", updated.State)
	}
	if updated.FailureReason != "risk too high" {
		t.Fatalf("reason = %q, want stored verbatim", updated.FailureReason)
	}

	if _, err := f.svc.Reject(context.Background(), approval.ID, "mgr-2", "second opinion"); !errors.Is(err, ErrAlreadyDecided) {
		t.Fatalf("err = %v, want ErrAlreadyDecided", err)
	}
	if _, err := f.svc.Approve(context.Background(), approval.ID, "mgr-2", ""); !errors.Is(err, ErrAlreadyDecided) {
		t.Fatalf("err = %v, want ErrAlreadyDecided", err)
	}
}

func TestApproveAfterDeadlineFails(t *testing.T) {
	f := newFixture(t)
	_, approval := f.submitLarge(t)

	f.clock.Advance(72*time.Hour + time.Minute)

	if _, err := f.svc.Approve(context.Background(), approval.ID, "mgr-1", ""); !errors.Is(err, ErrDeadlinePassed) {
		t.Fatalf("err = %v, want ErrDeadlinePassed", err)
	}

	// The approval is still PENDING on disk; only the sweeper materializes
	// the EXPIRED record.
	current, err := f.approvals.GetApproval(context.Background(), approval.ID)
	if err != nil {
		t.Fatalf("get approval: %v", err)
	}
	if current.Status != domain.ApprovalPending {
		t.Fatalf("status = %s, want PENDING until swept", current.Status)
	}
}

func TestSweepExpiresOverdueApprovalOnce(t *testing.T) {
	f := newFixture(t)
	contract, approval := f.submitLarge(t)

	f.clock.Advance(73 * time.Hour)
	customerBefore := f.notifier.count(notify.AudienceCustomer)

	expired, err := f.svc.Sweep(context.Background(), 50)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if expired != 1 {
		t.Fatalf("expired = %d, want 1", expired)
	}

	swept, err := f.approvals.GetApproval(context.Background(), approval.ID)
	if err != nil {
		t.Fatalf("get approval: %v", err)
	}
	if swept.Status != domain.ApprovalExpired {
		t.Fatalf("status = %s, want EXPIRED", swept.Status)
	}
	stored, err := f.contracts.GetContract(context.Background(), contract.ID)
	if err != nil {
		t.Fatalf("get contract: %v", err)
	}
	if stored.State != domain.ContractExpired {
		t.Fatalf("state = %s, want EXPIRED", stored.State)
	}
	if got := f.notifier.count(notify.AudienceCustomer) - customerBefore; got != 1 {
		t.Fatalf("customer notifications = %d, want exactly 1", got)
	}

	// Re-sweeping is a no-op with no duplicate notification.
	expired, err = f.svc.Sweep(context.Background(), 50)
	if err != nil {
		t.Fatalf("second sweep: %v", err)
	}
	if expired != 0 {
		t.Fatalf("second sweep expired = %d, want 0", expired)
	}
	if got := f.notifier.count(notify.AudienceCustomer) - customerBefore; got != 1 {
		t.Fatalf("customer notifications after re-sweep = %d, want still 1", got)
	}
}

func TestConcurrentDecisionsSingleWinner(t *testing.T) {
	f := newFixture(t)
	_, approval := f.submitLarge(t)

	const attempts = 16
	var wg sync.WaitGroup
	results := make(chan error, attempts)

	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			var err error
			if i%2 == 0 {
				_, err = f.svc.Approve(context.Background(), approval.ID, "mgr-1", "ok")
			} else {
				_, err = f.svc.Reject(context.Background(), approval.ID, "mgr-2", "too risky")
			}
			results <- err
		}(i)
	}
	wg.Wait()
	close(results)

	wins := 0
	for err := range results {
		if err == nil {
			wins++
			continue
		}
		if !errors.Is(err, ErrAlreadyDecided) {
			t.Fatalf("loser error = %v, want ErrAlreadyDecided", err)
		}
	}
	if wins != 1 {
		t.Fatalf("winners = %d, want exactly 1", wins)
	}

	decided, err := f.approvals.GetApproval(context.Background(), approval.ID)
	if err != nil {
		t.Fatalf("get approval: %v", err)
	}
	if !decided.Status.Decided() {
		t.Fatalf("approval left undecided")
	}
}

func TestSweepLosesToEarlierDecision(t *testing.T) {
	f := newFixture(t)
	_, approval := f.submitLarge(t)

	if _, err := f.svc.Approve(context.Background(), approval.ID, "mgr-1", "ok"); err != nil {
		t.Fatalf("approve: %v", err)
	}

	f.clock.Advance(80 * time.Hour)
	expired, err := f.svc.Sweep(context.Background(), 50)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if expired != 0 {
		t.Fatalf("sweep after decision expired %d records, want 0", expired)
	}
}

func TestSignatureCompletionWebhook(t *testing.T) {
	f := newFixture(t)
	contract, err := f.svc.SubmitContract(context.Background(), smallContract())
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	customerBefore := f.notifier.count(notify.AudienceCustomer)
	event := signing.Event{EnvelopeID: contract.EnvelopeID, Kind: signing.EventCompleted}
	if err := f.svc.HandleSignatureEvent(context.Background(), event); err != nil {
		t.Fatalf("webhook: %v", err)
	}

	stored, err := f.contracts.GetContract(context.Background(), contract.ID)
	if err != nil {
		t.Fatalf("get contract: %v", err)
	}
	if stored.State != domain.ContractSigned {
		t.Fatalf("state = %s, want SIGNED", stored.State)
	}
	if f.activator.calls != 1 {
		t.Fatalf("activator calls = %d, want 1", f.activator.calls)
	}
	if f.docs.archives != 1 {
		t.Fatalf("archives = %d, want 1", f.docs.archives)
	}

	// Provider redelivery: no state change, no duplicate side effects.
	if err := f.svc.HandleSignatureEvent(context.Background(), event); err != nil {
		t.Fatalf("duplicate webhook: %v", err)
	}
	if f.activator.calls != 1 {
		t.Fatalf("activator ran again on duplicate webhook")
	}
	if got := f.notifier.count(notify.AudienceCustomer) - customerBefore; got != 1 {
		t.Fatalf("customer notifications = %d, want 1", got)
	}
}

func TestSignatureDeclinedWebhook(t *testing.T) {
	f := newFixture(t)
	contract, err := f.svc.SubmitContract(context.Background(), smallContract())
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	event := signing.Event{EnvelopeID: contract.EnvelopeID, Kind: signing.EventDeclined, Reason: "pricing dispute"}
	if err := f.svc.HandleSignatureEvent(context.Background(), event); err != nil {
		t.Fatalf("webhook: %v", err)
	}

	stored, err := f.contracts.GetContract(context.Background(), contract.ID)
	if err != nil {
		t.Fatalf("get contract: %v", err)
	}
	if stored.State != domain.ContractSignatureDeclined {
		t.Fatalf("state = %s, want SIGNATURE_DECLINED", stored.State)
	}
	if stored.FailureReason != "pricing dispute" {
		t.Fatalf("reason = %q, want stored verbatim", stored.FailureReason)
	}
	signature, err := f.signatures.GetSignatureByEnvelope(context.Background(), contract.EnvelopeID)
	if err != nil {
		t.Fatalf("get signature: %v", err)
	}
	if signature.Status != domain.SignatureDeclined {
		t.Fatalf("signature status = %s, want DECLINED", signature.Status)
	}
}

func TestWebhookUnknownEnvelopeDropped(t *testing.T) {
	f := newFixture(t)
	contract, err := f.svc.SubmitContract(context.Background(), smallContract())
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	event := signing.Event{EnvelopeID: "env-does-not-exist", Kind: signing.EventCompleted}
	if err := f.svc.HandleSignatureEvent(context.Background(), event); err != nil {
		t.Fatalf("unknown envelope must be dropped, got %v", err)
	}

	stored, err := f.contracts.GetContract(context.Background(), contract.ID)
	if err != nil {
		t.Fatalf("get contract: %v", err)
	}
	if stored.State != domain.ContractPendingSignature {
		t.Fatalf("state changed by unrelated webhook: %s", stored.State)
	}
}

func TestRecipientCompletionUpdatesSigner(t *testing.T) {
	f := newFixture(t)
	contract, err := f.svc.SubmitContract(context.Background(), smallContract())
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	event := signing.Event{
		EnvelopeID: contract.EnvelopeID,
		Kind:       signing.EventRecipientComplete,
		Signer:     "fleet@acme.test",
	}
	if err := f.svc.HandleSignatureEvent(context.Background(), event); err != nil {
		t.Fatalf("webhook: %v", err)
	}

	signature, err := f.signatures.GetSignatureByEnvelope(context.Background(), contract.EnvelopeID)
	if err != nil {
		t.Fatalf("get signature: %v", err)
	}
	found := false
	for _, signer := range signature.Signers {
		if signer.Email == "fleet@acme.test" {
			found = true
			if signer.Status != "completed" || signer.SignedAt == nil {
				t.Fatalf("signer not marked completed: %+v", signer)
			}
		}
	}
	if !found {
		t.Fatalf("customer signer missing from record")
	}
	stored, err := f.contracts.GetContract(context.Background(), contract.ID)
	if err != nil {
		t.Fatalf("get contract: %v", err)
	}
	if stored.State != domain.ContractPendingSignature {
		t.Fatalf("recipient completion must not change contract state")
	}
}

func TestSignatureInitiationRetriesThenEscalates(t *testing.T) {
	f := newFixture(t)
	f.provider.err = signing.ErrRetryable

	contract, err := f.svc.SubmitContract(context.Background(), smallContract())
	if err == nil {
		// Submit succeeds; initiation failure is logged, not surfaced.
		t.Logf("submit returned contract in state %s", contract.State)
	}
	if contract.State != domain.ContractApproved {
		t.Fatalf("state = %s, want APPROVED retained after failed initiation", contract.State)
	}
	if contract.SignatureAttempts != 1 {
		t.Fatalf("attempts = %d, want 1", contract.SignatureAttempts)
	}
	if contract.Escalated {
		t.Fatalf("escalated too early")
	}

	if err := f.svc.InitiateSignature(context.Background(), contract.ID); err == nil {
		t.Fatalf("expected error on second attempt")
	}
	if err := f.svc.InitiateSignature(context.Background(), contract.ID); err == nil {
		t.Fatalf("expected error on third attempt")
	}

	stored, err := f.contracts.GetContract(context.Background(), contract.ID)
	if err != nil {
		t.Fatalf("get contract: %v", err)
	}
	if stored.SignatureAttempts != 3 {
		t.Fatalf("attempts = %d, want 3", stored.SignatureAttempts)
	}
	if !stored.Escalated {
		t.Fatalf("contract must be escalated after exhausting attempts")
	}
	if stored.State != domain.ContractApproved {
		t.Fatalf("state = %s, must stay APPROVED for operators", stored.State)
	}
	if f.notifier.count(notify.AudienceOperators) != 1 {
		t.Fatalf("operator notifications = %d, want 1", f.notifier.count(notify.AudienceOperators))
	}

	if err := f.svc.InitiateSignature(context.Background(), contract.ID); !errors.Is(err, ErrEscalated) {
		t.Fatalf("err = %v, want ErrEscalated", err)
	}
}

func TestSignatureInitiationRecovers(t *testing.T) {
	f := newFixture(t)
	f.provider.err = signing.ErrRetryable

	contract, _ := f.svc.SubmitContract(context.Background(), smallContract())
	if contract.SignatureAttempts != 1 {
		t.Fatalf("attempts = %d, want 1", contract.SignatureAttempts)
	}

	f.provider.err = nil
	if err := f.svc.InitiateSignature(context.Background(), contract.ID); err != nil {
		t.Fatalf("initiate after recovery: %v", err)
	}
	stored, err := f.contracts.GetContract(context.Background(), contract.ID)
	if err != nil {
		t.Fatalf("get contract: %v", err)
	}
	if stored.State != domain.ContractPendingSignature {
		t.Fatalf("state = %s, want PENDING_SIGNATURE", stored.State)
	}
}

func TestTerminalProviderErrorEscalatesImmediately(t *testing.T) {
	f := newFixture(t)
	f.provider.err = signing.ErrTerminal

	contract, _ := f.svc.SubmitContract(context.Background(), smallContract())
	stored, err := f.contracts.GetContract(context.Background(), contract.ID)
	if err != nil {
		t.Fatalf("get contract: %v", err)
	}
	if !stored.Escalated {
		t.Fatalf("terminal provider error must escalate on first attempt")
	}
	if stored.State != domain.ContractApproved {
		t.Fatalf("state = %s, want APPROVED", stored.State)
	}
}

func TestNoEligibleApproverEscalates(t *testing.T) {
	f := newFixture(t)

	req := largeContract()
	req.VehicleCount = 200
	req.MonthlyFee = 2000
	req.DurationMonths = 48 // 19.2M, above every approver's limit

	contract, err := f.svc.SubmitContract(context.Background(), req)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if contract.State != domain.ContractPendingManagerApproval {
		t.Fatalf("state = %s, want PENDING_MANAGER_APPROVAL", contract.State)
	}
	if !contract.Escalated {
		t.Fatalf("routing failure must raise the escalation flag")
	}
	if f.notifier.count(notify.AudienceOperators) != 1 {
		t.Fatalf("operator notifications = %d, want 1", f.notifier.count(notify.AudienceOperators))
	}
	approvals, err := f.approvals.ListApprovals(context.Background(), repo.ApprovalFilter{ContractID: contract.ID})
	if err != nil {
		t.Fatalf("list approvals: %v", err)
	}
	if len(approvals) != 0 {
		t.Fatalf("no approval record may exist without an assignee")
	}
}

func TestAssignmentSpreadsLoad(t *testing.T) {
	f := newFixture(t)

	seen := map[string]int{}
	for i := 0; i < 4; i++ {
		_, approval := f.submitLarge(t)
		seen[approval.ApproverID]++
	}
	if seen["mgr-1"] != 2 || seen["mgr-2"] != 2 {
		t.Fatalf("load not balanced: %v", seen)
	}
}
