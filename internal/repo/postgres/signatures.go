package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/fleetgrid-labs/fleetgrid-go/internal/domain"
	"github.com/fleetgrid-labs/fleetgrid-go/internal/repo"
)

type SignatureStore struct {
	db DB
}

func NewSignatureStore(db DB) *SignatureStore {
	if db == nil {
		return nil
	}
	return &SignatureStore{db: db}
}

func (s *SignatureStore) CreateSignature(ctx context.Context, signature domain.Signature) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("signature store not initialized")
	}
	if err := signature.Validate(); err != nil {
		return err
	}
	signersJSON, err := json.Marshal(signature.Signers)
	if err != nil {
		return fmt.Errorf("encode signers: %w", err)
	}
	createdAt := normalizeTime(signature.CreatedAt)
	_, err = s.db.ExecContext(
		ctx,
		`INSERT INTO signatures (
			signature_id,
			contract_id,
			envelope_id,
			status,
			signers,
			document_key,
			reason,
			created_at,
			completed_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		strings.TrimSpace(signature.ID),
		strings.TrimSpace(signature.ContractID),
		strings.TrimSpace(signature.EnvelopeID),
		string(signature.Status),
		signersJSON,
		nullIfEmpty(signature.DocumentKey),
		nullIfEmpty(signature.Reason),
		createdAt,
		nullTime(signature.CompletedAt),
	)
	if err != nil {
		return fmt.Errorf("insert signature: %w", err)
	}
	return nil
}

func (s *SignatureStore) GetSignatureByEnvelope(ctx context.Context, envelopeID string) (domain.Signature, error) {
	if s == nil || s.db == nil {
		return domain.Signature{}, fmt.Errorf("signature store not initialized")
	}
	envelopeID = strings.TrimSpace(envelopeID)
	if envelopeID == "" {
		return domain.Signature{}, fmt.Errorf("envelope id is required")
	}

	var signature domain.Signature
	var status string
	var signersJSON []byte
	var documentKey, reason sql.NullString
	var completedAt sql.NullTime
	row := s.db.QueryRowContext(
		ctx,
		`SELECT signature_id, contract_id, envelope_id, status, signers, document_key, reason, created_at, completed_at
		 FROM signatures
		 WHERE envelope_id = $1`,
		envelopeID,
	)
	if err := row.Scan(&signature.ID, &signature.ContractID, &signature.EnvelopeID, &status,
		&signersJSON, &documentKey, &reason, &signature.CreatedAt, &completedAt); err != nil {
		return domain.Signature{}, handleNotFound(err)
	}
	signature.Status = domain.SignatureStatus(status)
	if documentKey.Valid {
		signature.DocumentKey = documentKey.String
	}
	if reason.Valid {
		signature.Reason = reason.String
	}
	if completedAt.Valid {
		completed := completedAt.Time.UTC()
		signature.CompletedAt = &completed
	}
	if len(signersJSON) > 0 {
		if err := json.Unmarshal(signersJSON, &signature.Signers); err != nil {
			return domain.Signature{}, fmt.Errorf("decode signers: %w", err)
		}
	}
	return signature, nil
}

func (s *SignatureStore) UpdateSignatureStatus(ctx context.Context, envelopeID string, status domain.SignatureStatus, reason string, completedAt *time.Time) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("signature store not initialized")
	}
	envelopeID = strings.TrimSpace(envelopeID)
	if envelopeID == "" {
		return fmt.Errorf("envelope id is required")
	}
	if !status.Valid() {
		return fmt.Errorf("signature status %q is invalid", status)
	}
	res, err := s.db.ExecContext(
		ctx,
		`UPDATE signatures SET status = $1, reason = $2, completed_at = $3
		 WHERE envelope_id = $4 AND status = $5`,
		string(status),
		nullIfEmpty(reason),
		nullTime(completedAt),
		envelopeID,
		string(domain.SignatureSent),
	)
	if err != nil {
		return fmt.Errorf("update signature status: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update signature status: %w", err)
	}
	if affected == 0 {
		if _, getErr := s.GetSignatureByEnvelope(ctx, envelopeID); getErr != nil {
			return getErr
		}
		return repo.ErrStaleState
	}
	return nil
}

func (s *SignatureStore) UpdateSignerStatus(ctx context.Context, envelopeID, email, status string, signedAt *time.Time) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("signature store not initialized")
	}
	signature, err := s.GetSignatureByEnvelope(ctx, envelopeID)
	if err != nil {
		return err
	}

	updated := false
	for i := range signature.Signers {
		if !strings.EqualFold(signature.Signers[i].Email, strings.TrimSpace(email)) {
			continue
		}
		signature.Signers[i].Status = strings.TrimSpace(status)
		signature.Signers[i].SignedAt = signedAt
		updated = true
	}
	if !updated {
		return repo.ErrNotFound
	}

	signersJSON, err := json.Marshal(signature.Signers)
	if err != nil {
		return fmt.Errorf("encode signers: %w", err)
	}
	if _, err := s.db.ExecContext(
		ctx,
		`UPDATE signatures SET signers = $1 WHERE envelope_id = $2`,
		signersJSON,
		strings.TrimSpace(envelopeID),
	); err != nil {
		return fmt.Errorf("update signer status: %w", err)
	}
	return nil
}
