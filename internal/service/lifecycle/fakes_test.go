package lifecycle

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/fleetgrid-labs/fleetgrid-go/internal/domain"
	"github.com/fleetgrid-labs/fleetgrid-go/internal/repo"
	"github.com/fleetgrid-labs/fleetgrid-go/internal/signing"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type memContracts struct {
	mu      sync.Mutex
	records map[string]domain.Contract
}

func newMemContracts() *memContracts {
	return &memContracts{records: map[string]domain.Contract{}}
}

func (m *memContracts) CreateContract(ctx context.Context, contract domain.Contract) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.records[contract.ID]; ok {
		return fmt.Errorf("duplicate contract %s", contract.ID)
	}
	m.records[contract.ID] = contract
	return nil
}

func (m *memContracts) GetContract(ctx context.Context, id string) (domain.Contract, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	contract, ok := m.records[id]
	if !ok {
		return domain.Contract{}, repo.ErrNotFound
	}
	return contract, nil
}

func (m *memContracts) GetContractByEnvelope(ctx context.Context, envelopeID string) (domain.Contract, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, contract := range m.records {
		if contract.EnvelopeID == envelopeID {
			return contract, nil
		}
	}
	return domain.Contract{}, repo.ErrNotFound
}

func (m *memContracts) ListContracts(ctx context.Context, filter repo.ContractFilter) ([]domain.Contract, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.Contract, 0, len(m.records))
	for _, contract := range m.records {
		if filter.CustomerID != "" && contract.CustomerID != filter.CustomerID {
			continue
		}
		if filter.State != "" && contract.State != filter.State {
			continue
		}
		out = append(out, contract)
	}
	return out, nil
}

func (m *memContracts) Dashboard(ctx context.Context, customerID string) (repo.ContractDashboard, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var d repo.ContractDashboard
	for _, contract := range m.records {
		if customerID != "" && contract.CustomerID != customerID {
			continue
		}
		d.TotalContracts++
		switch contract.State {
		case domain.ContractPendingManagerApproval:
			d.PendingApproval++
		case domain.ContractApproved:
			d.Approved++
		case domain.ContractRejected:
			d.Rejected++
		case domain.ContractSigned:
			d.Signed++
		}
	}
	return d, nil
}

func (m *memContracts) TransitionState(ctx context.Context, id string, from, to domain.ContractState, update repo.ContractUpdate) error {
	if err := domain.ValidateContractTransition(from, to); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	contract, ok := m.records[id]
	if !ok {
		return repo.ErrNotFound
	}
	if contract.State != from {
		return repo.ErrStaleState
	}
	contract.State = to
	if update.FailureReason != "" {
		contract.FailureReason = update.FailureReason
	}
	if update.ApprovalID != "" {
		contract.ApprovalID = update.ApprovalID
	}
	if update.EnvelopeID != "" {
		contract.EnvelopeID = update.EnvelopeID
	}
	m.records[id] = contract
	return nil
}

func (m *memContracts) LinkApproval(ctx context.Context, id, approvalID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	contract, ok := m.records[id]
	if !ok {
		return repo.ErrNotFound
	}
	if contract.State != domain.ContractPendingManagerApproval || contract.ApprovalID != "" {
		return repo.ErrStaleState
	}
	contract.ApprovalID = approvalID
	m.records[id] = contract
	return nil
}

func (m *memContracts) FlagEscalation(ctx context.Context, id, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	contract, ok := m.records[id]
	if !ok {
		return repo.ErrNotFound
	}
	contract.Escalated = true
	contract.SignatureError = reason
	m.records[id] = contract
	return nil
}

func (m *memContracts) RecordSignatureFailure(ctx context.Context, id string, attempt int, reason string, escalate bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	contract, ok := m.records[id]
	if !ok {
		return repo.ErrNotFound
	}
	if contract.State != domain.ContractApproved {
		return repo.ErrStaleState
	}
	contract.SignatureAttempts = attempt
	contract.SignatureError = reason
	contract.Escalated = escalate
	m.records[id] = contract
	return nil
}

type memApprovals struct {
	mu      sync.Mutex
	records map[string]domain.Approval
}

func newMemApprovals() *memApprovals {
	return &memApprovals{records: map[string]domain.Approval{}}
}

func (m *memApprovals) CreateApproval(ctx context.Context, approval domain.Approval) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.records[approval.ID]; ok {
		return fmt.Errorf("duplicate approval %s", approval.ID)
	}
	m.records[approval.ID] = approval
	return nil
}

func (m *memApprovals) GetApproval(ctx context.Context, id string) (domain.Approval, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	approval, ok := m.records[id]
	if !ok {
		return domain.Approval{}, repo.ErrNotFound
	}
	return approval, nil
}

func (m *memApprovals) ListApprovals(ctx context.Context, filter repo.ApprovalFilter) ([]domain.Approval, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.Approval, 0, len(m.records))
	for _, approval := range m.records {
		if filter.ApproverID != "" && approval.ApproverID != filter.ApproverID {
			continue
		}
		if filter.ContractID != "" && approval.ContractID != filter.ContractID {
			continue
		}
		if filter.Status != "" && approval.Status != filter.Status {
			continue
		}
		out = append(out, approval)
	}
	return out, nil
}

func (m *memApprovals) CountPending(ctx context.Context, approverID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := 0
	for _, approval := range m.records {
		if approval.ApproverID == approverID && approval.Status == domain.ApprovalPending {
			count++
		}
	}
	return count, nil
}

func (m *memApprovals) ListOverdue(ctx context.Context, now time.Time, limit int) ([]domain.Approval, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.Approval, 0)
	for _, approval := range m.records {
		if approval.Status == domain.ApprovalPending && approval.Overdue(now) {
			out = append(out, approval)
		}
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (m *memApprovals) Decide(ctx context.Context, id string, status domain.ApprovalStatus, decidedBy, comments string, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	approval, ok := m.records[id]
	if !ok {
		return repo.ErrNotFound
	}
	if approval.Status != domain.ApprovalPending {
		return repo.ErrStaleState
	}
	if status == domain.ApprovalApproved && !now.Before(approval.ExpiresAt) {
		return repo.ErrStaleState
	}
	approval.Status = status
	decidedAt := now
	approval.DecidedAt = &decidedAt
	approval.DecidedBy = decidedBy
	approval.Comments = comments
	m.records[id] = approval
	return nil
}

type memSignatures struct {
	mu      sync.Mutex
	records map[string]domain.Signature
}

func newMemSignatures() *memSignatures {
	return &memSignatures{records: map[string]domain.Signature{}}
}

func (m *memSignatures) CreateSignature(ctx context.Context, signature domain.Signature) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[signature.EnvelopeID] = signature
	return nil
}

func (m *memSignatures) GetSignatureByEnvelope(ctx context.Context, envelopeID string) (domain.Signature, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	signature, ok := m.records[envelopeID]
	if !ok {
		return domain.Signature{}, repo.ErrNotFound
	}
	return signature, nil
}

func (m *memSignatures) UpdateSignatureStatus(ctx context.Context, envelopeID string, status domain.SignatureStatus, reason string, completedAt *time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	signature, ok := m.records[envelopeID]
	if !ok {
		return repo.ErrNotFound
	}
	signature.Status = status
	signature.Reason = reason
	signature.CompletedAt = completedAt
	m.records[envelopeID] = signature
	return nil
}

func (m *memSignatures) UpdateSignerStatus(ctx context.Context, envelopeID, email, status string, signedAt *time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	signature, ok := m.records[envelopeID]
	if !ok {
		return repo.ErrNotFound
	}
	for i := range signature.Signers {
		if strings.EqualFold(signature.Signers[i].Email, email) {
			signature.Signers[i].Status = status
			signature.Signers[i].SignedAt = signedAt
			m.records[envelopeID] = signature
			return nil
		}
	}
	return repo.ErrNotFound
}

type fakeProvider struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (p *fakeProvider) CreateEnvelope(ctx context.Context, req signing.EnvelopeRequest) (signing.EnvelopeResponse, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	if p.err != nil {
		return signing.EnvelopeResponse{}, p.err
	}
	return signing.EnvelopeResponse{EnvelopeID: fmt.Sprintf("env-%d", p.calls), Status: "sent"}, nil
}

type notification struct {
	Audience string
	Subject  string
}

type fakeNotifier struct {
	mu   sync.Mutex
	sent []notification
}

func (n *fakeNotifier) Publish(ctx context.Context, audience, subject, body string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, notification{Audience: audience, Subject: subject})
	return nil
}

func (n *fakeNotifier) count(audience string) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	total := 0
	for _, msg := range n.sent {
		if msg.Audience == audience {
			total++
		}
	}
	return total
}

type fakeActivator struct {
	mu    sync.Mutex
	calls int
}

func (a *fakeActivator) Activate(ctx context.Context, contract domain.Contract) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls++
	return nil
}

type fakeDocs struct {
	mu       sync.Mutex
	puts     int
	archives int
}

func (d *fakeDocs) PutContractDocument(ctx context.Context, contractID string, payload []byte) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.puts++
	return contractID + "/agreement.txt", nil
}

func (d *fakeDocs) ArchiveSignedDocument(ctx context.Context, contractID string, payload []byte) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.archives++
	return contractID + "/execution-record.json", nil
}
