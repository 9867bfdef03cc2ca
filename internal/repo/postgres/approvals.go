package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/fleetgrid-labs/fleetgrid-go/internal/domain"
	"github.com/fleetgrid-labs/fleetgrid-go/internal/repo"
)

type ApprovalStore struct {
	db DB
}

func NewApprovalStore(db DB) *ApprovalStore {
	if db == nil {
		return nil
	}
	return &ApprovalStore{db: db}
}

const approvalColumns = `approval_id, contract_id, approver_id, approver_name, approver_email,
	status, created_at, expires_at, decided_at, decided_by, comments,
	customer_name, vehicle_count, total_value, risk_level`

func (s *ApprovalStore) CreateApproval(ctx context.Context, approval domain.Approval) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("approval store not initialized")
	}
	if err := approval.Validate(); err != nil {
		return err
	}
	createdAt := normalizeTime(approval.CreatedAt)
	_, err := s.db.ExecContext(
		ctx,
		`INSERT INTO approvals (
			approval_id,
			contract_id,
			approver_id,
			approver_name,
			approver_email,
			status,
			created_at,
			expires_at,
			decided_at,
			decided_by,
			comments,
			customer_name,
			vehicle_count,
			total_value,
			risk_level
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)`,
		strings.TrimSpace(approval.ID),
		strings.TrimSpace(approval.ContractID),
		strings.TrimSpace(approval.ApproverID),
		strings.TrimSpace(approval.ApproverName),
		strings.TrimSpace(approval.ApproverEmail),
		string(approval.Status),
		createdAt,
		approval.ExpiresAt.UTC(),
		nullTime(approval.DecidedAt),
		nullIfEmpty(approval.DecidedBy),
		nullIfEmpty(approval.Comments),
		nullIfEmpty(approval.CustomerName),
		approval.VehicleCount,
		approval.TotalValue,
		string(approval.RiskLevel),
	)
	if err != nil {
		return fmt.Errorf("insert approval: %w", err)
	}
	return nil
}

func (s *ApprovalStore) GetApproval(ctx context.Context, id string) (domain.Approval, error) {
	if s == nil || s.db == nil {
		return domain.Approval{}, fmt.Errorf("approval store not initialized")
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return domain.Approval{}, fmt.Errorf("approval id is required")
	}
	row := s.db.QueryRowContext(
		ctx,
		`SELECT `+approvalColumns+` FROM approvals WHERE approval_id = $1`,
		id,
	)
	return scanApproval(row)
}

func (s *ApprovalStore) ListApprovals(ctx context.Context, filter repo.ApprovalFilter) ([]domain.Approval, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("approval store not initialized")
	}
	clauses := make([]string, 0, 3)
	args := make([]any, 0, 4)

	if strings.TrimSpace(filter.ApproverID) != "" {
		args = append(args, strings.TrimSpace(filter.ApproverID))
		clauses = append(clauses, fmt.Sprintf("approver_id = $%d", len(args)))
	}
	if strings.TrimSpace(filter.ContractID) != "" {
		args = append(args, strings.TrimSpace(filter.ContractID))
		clauses = append(clauses, fmt.Sprintf("contract_id = $%d", len(args)))
	}
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		clauses = append(clauses, fmt.Sprintf("status = $%d", len(args)))
	}

	query := `SELECT ` + approvalColumns + ` FROM approvals`
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
		return nil, fmt.Errorf("list approvals: %w", err)
	}
	defer rows.Close()

	approvals := make([]domain.Approval, 0)
	for rows.Next() {
		approval, err := scanApproval(rows)
		if err != nil {
			return nil, fmt.Errorf("scan approval: %w", err)
		}
		approvals = append(approvals, approval)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list approvals: %w", err)
	}
	return approvals, nil
}

func (s *ApprovalStore) CountPending(ctx context.Context, approverID string) (int, error) {
	if s == nil || s.db == nil {
		return 0, fmt.Errorf("approval store not initialized")
	}
	approverID = strings.TrimSpace(approverID)
	if approverID == "" {
		return 0, fmt.Errorf("approver id is required")
	}
	var count int
	row := s.db.QueryRowContext(
		ctx,
		`SELECT COUNT(*) FROM approvals WHERE approver_id = $1 AND status = $2`,
		approverID,
		string(domain.ApprovalPending),
	)
	if err := row.Scan(&count); err != nil {
		return 0, fmt.Errorf("count pending approvals: %w", err)
	}
	return count, nil
}

func (s *ApprovalStore) ListOverdue(ctx context.Context, now time.Time, limit int) ([]domain.Approval, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("approval store not initialized")
	}
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT `+approvalColumns+` FROM approvals
		 WHERE status = $1 AND expires_at <= $2
		 ORDER BY expires_at ASC
		 LIMIT $3`,
		string(domain.ApprovalPending),
		now.UTC(),
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list overdue approvals: %w", err)
	}
	defer rows.Close()

	approvals := make([]domain.Approval, 0)
	for rows.Next() {
		approval, err := scanApproval(rows)
		if err != nil {
			return nil, fmt.Errorf("scan approval: %w", err)
		}
		approvals = append(approvals, approval)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list overdue approvals: %w", err)
	}
	return approvals, nil
}

// Decide settles a PENDING approval with a single conditional write.
func (s *ApprovalStore) Decide(ctx context.Context, id string, status domain.ApprovalStatus, decidedBy, comments string, now time.Time) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("approval store not initialized")
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return fmt.Errorf("approval id is required")
	}
	if !status.Decided() {
		return fmt.Errorf("decision status %q is invalid", status)
	}
	query, args := buildDecideApprovalQuery(id, status, decidedBy, comments, now.UTC())

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("decide approval: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("decide approval: %w", err)
	}
	if affected == 0 {
		if _, getErr := s.GetApproval(ctx, id); getErr != nil {
			return getErr
		}
		return repo.ErrStaleState
	}
	return nil
}

// buildDecideApprovalQuery assembles the conditional decision write. The
// status predicate serializes concurrent deciders; approving additionally
// requires the deadline to still be open, so a late approval loses to an
// expiry that has not been materialized yet.
func buildDecideApprovalQuery(id string, status domain.ApprovalStatus, decidedBy, comments string, now time.Time) (string, []any) {
	query := `UPDATE approvals SET
			status = $1,
			decided_at = $2,
			decided_by = $3,
			comments = $4
		WHERE approval_id = $5 AND status = $6`
	args := []any{
		string(status),
		now,
		nullIfEmpty(decidedBy),
		nullIfEmpty(comments),
		id,
		string(domain.ApprovalPending),
	}
	if status == domain.ApprovalApproved {
		query += ` AND expires_at > $7`
		args = append(args, now)
	}
	return query, args
}

func scanApproval(row rowScanner) (domain.Approval, error) {
	var approval domain.Approval
	var status, riskLevel string
	var decidedAt sql.NullTime
	var decidedBy, comments, customerName sql.NullString
	if err := row.Scan(
		&approval.ID,
		&approval.ContractID,
		&approval.ApproverID,
		&approval.ApproverName,
		&approval.ApproverEmail,
		&status,
		&approval.CreatedAt,
		&approval.ExpiresAt,
		&decidedAt,
		&decidedBy,
		&comments,
		&customerName,
		&approval.VehicleCount,
		&approval.TotalValue,
		&riskLevel,
	); err != nil {
		return domain.Approval{}, handleNotFound(err)
	}
	approval.Status = domain.ApprovalStatus(status)
	approval.RiskLevel = domain.RiskLevel(riskLevel)
	if decidedAt.Valid {
		decided := decidedAt.Time.UTC()
		approval.DecidedAt = &decided
	}
	if decidedBy.Valid {
		approval.DecidedBy = decidedBy.String
	}
	if comments.Valid {
		approval.Comments = comments.String
	}
	if customerName.Valid {
		approval.CustomerName = customerName.String
	}
	return approval, nil
}
