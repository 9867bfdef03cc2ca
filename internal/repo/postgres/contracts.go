package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/fleetgrid-labs/fleetgrid-go/internal/domain"
	"github.com/fleetgrid-labs/fleetgrid-go/internal/repo"
)

type ContractStore struct {
	db DB
}

func NewContractStore(db DB) *ContractStore {
	if db == nil {
		return nil
	}
	return &ContractStore{db: db}
}

const contractColumns = `contract_id, customer_id, customer_name, customer_email, customer_phone,
	company_name, contract_type, vehicle_count, monthly_fee, duration_months,
	total_value, risk_level, requires_approval, state, failure_reason,
	approval_id, envelope_id, signature_attempts, signature_error, escalated,
	terms, created_at, updated_at`

func (s *ContractStore) CreateContract(ctx context.Context, contract domain.Contract) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("contract store not initialized")
	}
	if !contract.State.Valid() {
		return fmt.Errorf("contract state is invalid")
	}
	if strings.TrimSpace(contract.ID) == "" {
		return fmt.Errorf("contract id is required")
	}
	// Records parked in VALIDATION_FAILED keep the rejected terms verbatim;
	// every other state requires a fully valid contract.
	if contract.State != domain.ContractValidationFailed {
		if err := contract.Validate(); err != nil {
			return err
		}
	}
	termsJSON, err := encodeMetadata(contract.Terms)
	if err != nil {
		return fmt.Errorf("encode terms: %w", err)
	}
	createdAt := normalizeTime(contract.CreatedAt)
	_, err = s.db.ExecContext(
		ctx,
		`INSERT INTO contracts (
			contract_id,
			customer_id,
			customer_name,
			customer_email,
			customer_phone,
			company_name,
			contract_type,
			vehicle_count,
			monthly_fee,
			duration_months,
			total_value,
			risk_level,
			requires_approval,
			state,
			failure_reason,
			approval_id,
			envelope_id,
			signature_attempts,
			signature_error,
			escalated,
			terms,
			created_at,
			updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22,$23)`,
		strings.TrimSpace(contract.ID),
		strings.TrimSpace(contract.CustomerID),
		strings.TrimSpace(contract.CustomerName),
		strings.TrimSpace(contract.CustomerEmail),
		nullIfEmpty(contract.CustomerPhone),
		nullIfEmpty(contract.CompanyName),
		strings.TrimSpace(contract.ContractType),
		contract.VehicleCount,
		contract.MonthlyFee,
		contract.DurationMonths,
		contract.TotalValue,
		string(contract.RiskLevel),
		contract.RequiresApproval,
		string(contract.State),
		nullIfEmpty(contract.FailureReason),
		nullIfEmpty(contract.ApprovalID),
		nullIfEmpty(contract.EnvelopeID),
		contract.SignatureAttempts,
		nullIfEmpty(contract.SignatureError),
		contract.Escalated,
		termsJSON,
		createdAt,
		createdAt,
	)
	if err != nil {
		return fmt.Errorf("insert contract: %w", err)
	}
	return nil
}

func (s *ContractStore) GetContract(ctx context.Context, id string) (domain.Contract, error) {
	if s == nil || s.db == nil {
		return domain.Contract{}, fmt.Errorf("contract store not initialized")
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return domain.Contract{}, fmt.Errorf("contract id is required")
	}
	row := s.db.QueryRowContext(
		ctx,
		`SELECT `+contractColumns+` FROM contracts WHERE contract_id = $1`,
		id,
	)
	return scanContract(row)
}

func (s *ContractStore) GetContractByEnvelope(ctx context.Context, envelopeID string) (domain.Contract, error) {
	if s == nil || s.db == nil {
		return domain.Contract{}, fmt.Errorf("contract store not initialized")
	}
	envelopeID = strings.TrimSpace(envelopeID)
	if envelopeID == "" {
		return domain.Contract{}, fmt.Errorf("envelope id is required")
	}
	row := s.db.QueryRowContext(
		ctx,
		`SELECT `+contractColumns+` FROM contracts WHERE envelope_id = $1`,
		envelopeID,
	)
	return scanContract(row)
}

func (s *ContractStore) ListContracts(ctx context.Context, filter repo.ContractFilter) ([]domain.Contract, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("contract store not initialized")
	}
	clauses := make([]string, 0, 2)
	args := make([]any, 0, 3)

	if strings.TrimSpace(filter.CustomerID) != "" {
		args = append(args, strings.TrimSpace(filter.CustomerID))
		clauses = append(clauses, fmt.Sprintf("customer_id = $%d", len(args)))
	}
	if filter.State != "" {
		args = append(args, string(filter.State))
		clauses = append(clauses, fmt.Sprintf("state = $%d", len(args)))
	}

	query := `SELECT ` + contractColumns + ` FROM contracts`
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY created_at DESC"
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list contracts: %w", err)
	}
	defer rows.Close()

	contracts := make([]domain.Contract, 0)
	for rows.Next() {
		contract, err := scanContract(rows)
		if err != nil {
			return nil, fmt.Errorf("scan contract: %w", err)
		}
		contracts = append(contracts, contract)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list contracts: %w", err)
	}
	return contracts, nil
}

func (s *ContractStore) Dashboard(ctx context.Context, customerID string) (repo.ContractDashboard, error) {
	if s == nil || s.db == nil {
		return repo.ContractDashboard{}, fmt.Errorf("contract store not initialized")
	}

	query := `SELECT
		COUNT(*),
		COUNT(*) FILTER (WHERE state = 'PENDING_MANAGER_APPROVAL'),
		COUNT(*) FILTER (WHERE state = 'APPROVED'),
		COUNT(*) FILTER (WHERE state = 'REJECTED'),
		COUNT(*) FILTER (WHERE state = 'SIGNED'),
		COALESCE(SUM(vehicle_count) FILTER (WHERE state IN ('APPROVED','PENDING_SIGNATURE','SIGNED')), 0),
		COALESCE(SUM(total_value) FILTER (WHERE state IN ('APPROVED','PENDING_SIGNATURE','SIGNED')), 0),
		COUNT(*) FILTER (WHERE requires_approval)
	FROM contracts`
	args := make([]any, 0, 1)
	if strings.TrimSpace(customerID) != "" {
		args = append(args, strings.TrimSpace(customerID))
		query += " WHERE customer_id = $1"
	}

	var d repo.ContractDashboard
	row := s.db.QueryRowContext(ctx, query, args...)
	if err := row.Scan(&d.TotalContracts, &d.PendingApproval, &d.Approved, &d.Rejected,
		&d.Signed, &d.ApprovedVehicles, &d.ApprovedValue, &d.RequiringApproval); err != nil {
		return repo.ContractDashboard{}, fmt.Errorf("dashboard: %w", err)
	}
	return d, nil
}

// TransitionState performs the compare-and-swap on the contract state. The
// WHERE clause is the concurrency guard: zero rows affected means another
// actor already moved the record.
func (s *ContractStore) TransitionState(ctx context.Context, id string, from, to domain.ContractState, update repo.ContractUpdate) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("contract store not initialized")
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return fmt.Errorf("contract id is required")
	}
	if err := domain.ValidateContractTransition(from, to); err != nil {
		return err
	}

	res, err := s.db.ExecContext(
		ctx,
		`UPDATE contracts SET
			state = $1,
			failure_reason = COALESCE($2, failure_reason),
			approval_id = COALESCE($3, approval_id),
			envelope_id = COALESCE($4, envelope_id),
			decided_by = COALESCE($5, decided_by),
			updated_at = now()
		WHERE contract_id = $6 AND state = $7`,
		string(to),
		nullIfEmpty(update.FailureReason),
		nullIfEmpty(update.ApprovalID),
		nullIfEmpty(update.EnvelopeID),
		nullIfEmpty(update.DecidedBy),
		id,
		string(from),
	)
	if err != nil {
		return fmt.Errorf("transition contract state: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("transition contract state: %w", err)
	}
	if affected == 0 {
		if _, getErr := s.GetContract(ctx, id); getErr != nil {
			return getErr
		}
		return repo.ErrStaleState
	}
	return nil
}

func (s *ContractStore) LinkApproval(ctx context.Context, id, approvalID string) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("contract store not initialized")
	}
	id = strings.TrimSpace(id)
	approvalID = strings.TrimSpace(approvalID)
	if id == "" || approvalID == "" {
		return fmt.Errorf("contract id and approval id are required")
	}
	res, err := s.db.ExecContext(
		ctx,
		`UPDATE contracts SET
			approval_id = $1,
			updated_at = now()
		WHERE contract_id = $2 AND state = $3 AND approval_id IS NULL`,
		approvalID,
		id,
		string(domain.ContractPendingManagerApproval),
	)
	if err != nil {
		return fmt.Errorf("link approval: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("link approval: %w", err)
	}
	if affected == 0 {
		if _, getErr := s.GetContract(ctx, id); getErr != nil {
			return getErr
		}
		return repo.ErrStaleState
	}
	return nil
}

func (s *ContractStore) FlagEscalation(ctx context.Context, id, reason string) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("contract store not initialized")
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return fmt.Errorf("contract id is required")
	}
	res, err := s.db.ExecContext(
		ctx,
		`UPDATE contracts SET
			escalated = TRUE,
			signature_error = $1,
			updated_at = now()
		WHERE contract_id = $2`,
		strings.TrimSpace(reason),
		id,
	)
	if err != nil {
		return fmt.Errorf("flag escalation: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("flag escalation: %w", err)
	}
	if affected == 0 {
		return repo.ErrNotFound
	}
	return nil
}

func (s *ContractStore) RecordSignatureFailure(ctx context.Context, id string, attempt int, reason string, escalate bool) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("contract store not initialized")
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return fmt.Errorf("contract id is required")
	}
	res, err := s.db.ExecContext(
		ctx,
		`UPDATE contracts SET
			signature_attempts = $1,
			signature_error = $2,
			escalated = $3,
			updated_at = now()
		WHERE contract_id = $4 AND state = $5`,
		attempt,
		strings.TrimSpace(reason),
		escalate,
		id,
		string(domain.ContractApproved),
	)
	if err != nil {
		return fmt.Errorf("record signature failure: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("record signature failure: %w", err)
	}
	if affected == 0 {
		return repo.ErrStaleState
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanContract(row rowScanner) (domain.Contract, error) {
	var contract domain.Contract
	var customerPhone, companyName, failureReason, approvalID, envelopeID, signatureError sql.NullString
	var riskLevel, state string
	var termsJSON []byte
	if err := row.Scan(
		&contract.ID,
		&contract.CustomerID,
		&contract.CustomerName,
		&contract.CustomerEmail,
		&customerPhone,
		&companyName,
		&contract.ContractType,
		&contract.VehicleCount,
		&contract.MonthlyFee,
		&contract.DurationMonths,
		&contract.TotalValue,
		&riskLevel,
		&contract.RequiresApproval,
		&state,
		&failureReason,
		&approvalID,
		&envelopeID,
		&contract.SignatureAttempts,
		&signatureError,
		&contract.Escalated,
		&termsJSON,
		&contract.CreatedAt,
		&contract.UpdatedAt,
	); err != nil {
		return domain.Contract{}, handleNotFound(err)
	}
	contract.RiskLevel = domain.RiskLevel(riskLevel)
	contract.State = domain.ContractState(state)
	if customerPhone.Valid {
		contract.CustomerPhone = customerPhone.String
	}
	if companyName.Valid {
		contract.CompanyName = companyName.String
	}
	if failureReason.Valid {
		contract.FailureReason = failureReason.String
	}
	if approvalID.Valid {
		contract.ApprovalID = approvalID.String
	}
	if envelopeID.Valid {
		contract.EnvelopeID = envelopeID.String
	}
	if signatureError.Valid {
		contract.SignatureError = signatureError.String
	}
	terms, err := decodeMetadata(termsJSON)
	if err != nil {
		return domain.Contract{}, fmt.Errorf("decode terms: %w", err)
	}
	contract.Terms = terms
	return contract, nil
}
