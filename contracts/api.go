package main

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/fleetgrid-labs/fleetgrid-go/internal/domain"
	"github.com/fleetgrid-labs/fleetgrid-go/internal/platform/auth"
	"github.com/fleetgrid-labs/fleetgrid-go/internal/repo"
	"github.com/fleetgrid-labs/fleetgrid-go/internal/service/lifecycle"
)

type contractsAPI struct {
	logger *slog.Logger
	svc    *lifecycle.Service
}

func newContractsAPI(logger *slog.Logger, svc *lifecycle.Service) *contractsAPI {
	return &contractsAPI{logger: logger, svc: svc}
}

func (api *contractsAPI) register(mux *http.ServeMux) {
	mux.HandleFunc("POST /contracts", api.handleSubmitContract)
	mux.HandleFunc("GET /contracts", api.handleListContracts)
	mux.HandleFunc("GET /contracts/dashboard", api.handleDashboard)
	mux.HandleFunc("GET /contracts/{contract_id}", api.handleGetContract)
	mux.HandleFunc("POST /contracts/{contract_id}/signature/retry", api.handleRetrySignature)

	mux.HandleFunc("GET /approvals/pending", api.handleListPendingApprovals)
	mux.HandleFunc("POST /approvals/{approval_id}/approve", api.handleApprove)
	mux.HandleFunc("POST /approvals/{approval_id}/reject", api.handleReject)
}

type submitContractRequest struct {
	CustomerName   string         `json:"customer_name"`
	CustomerEmail  string         `json:"customer_email"`
	CustomerPhone  string         `json:"customer_phone,omitempty"`
	CompanyName    string         `json:"company_name,omitempty"`
	ContractType   string         `json:"contract_type"`
	VehicleCount   int            `json:"vehicle_count"`
	MonthlyFee     float64        `json:"monthly_fee"`
	DurationMonths int            `json:"duration_months"`
	Terms          map[string]any `json:"terms,omitempty"`
}

type contractResponse struct {
	ContractID       string         `json:"contract_id"`
	CustomerID       string         `json:"customer_id"`
	CustomerName     string         `json:"customer_name"`
	ContractType     string         `json:"contract_type"`
	VehicleCount     int            `json:"vehicle_count"`
	MonthlyFee       float64        `json:"monthly_fee"`
	DurationMonths   int            `json:"duration_months"`
	TotalValue       float64        `json:"total_value"`
	RiskLevel        string         `json:"risk_level"`
	RequiresApproval bool           `json:"requires_approval"`
	State            string         `json:"state"`
	FailureReason    string         `json:"failure_reason,omitempty"`
	ApprovalID       string         `json:"approval_id,omitempty"`
	EnvelopeID       string         `json:"envelope_id,omitempty"`
	Escalated        bool           `json:"escalated,omitempty"`
	Terms            map[string]any `json:"terms,omitempty"`
	CreatedAt        time.Time      `json:"created_at"`
	UpdatedAt        time.Time      `json:"updated_at"`
}

func toContractResponse(contract domain.Contract) contractResponse {
	return contractResponse{
		ContractID:       contract.ID,
		CustomerID:       contract.CustomerID,
		CustomerName:     contract.CustomerName,
		ContractType:     contract.ContractType,
		VehicleCount:     contract.VehicleCount,
		MonthlyFee:       contract.MonthlyFee,
		DurationMonths:   contract.DurationMonths,
		TotalValue:       contract.TotalValue,
		RiskLevel:        string(contract.RiskLevel),
		RequiresApproval: contract.RequiresApproval,
		State:            string(contract.State),
		FailureReason:    contract.FailureReason,
		ApprovalID:       contract.ApprovalID,
		EnvelopeID:       contract.EnvelopeID,
		Escalated:        contract.Escalated,
		Terms:            contract.Terms,
		CreatedAt:        contract.CreatedAt,
		UpdatedAt:        contract.UpdatedAt,
	}
}

type approvalResponse struct {
	ApprovalID   string     `json:"approval_id"`
	ContractID   string     `json:"contract_id"`
	ApproverID   string     `json:"approver_id"`
	ApproverName string     `json:"approver_name"`
	Status       string     `json:"status"`
	CreatedAt    time.Time  `json:"created_at"`
	ExpiresAt    time.Time  `json:"expires_at"`
	DecidedAt    *time.Time `json:"decided_at,omitempty"`
	DecidedBy    string     `json:"decided_by,omitempty"`
	Comments     string     `json:"comments,omitempty"`
	CustomerName string     `json:"customer_name"`
	VehicleCount int        `json:"vehicle_count"`
	TotalValue   float64    `json:"total_value"`
	RiskLevel    string     `json:"risk_level"`

	TimeRemainingSeconds *int64 `json:"time_remaining_seconds,omitempty"`
}

func toApprovalResponse(approval domain.Approval) approvalResponse {
	return approvalResponse{
		ApprovalID:   approval.ID,
		ContractID:   approval.ContractID,
		ApproverID:   approval.ApproverID,
		ApproverName: approval.ApproverName,
		Status:       string(approval.Status),
		CreatedAt:    approval.CreatedAt,
		ExpiresAt:    approval.ExpiresAt,
		DecidedAt:    approval.DecidedAt,
		DecidedBy:    approval.DecidedBy,
		Comments:     approval.Comments,
		CustomerName: approval.CustomerName,
		VehicleCount: approval.VehicleCount,
		TotalValue:   approval.TotalValue,
		RiskLevel:    string(approval.RiskLevel),
	}
}

func (api *contractsAPI) handleSubmitContract(w http.ResponseWriter, r *http.Request) {
	identity, ok := auth.IdentityFromContext(r.Context())
	if !ok || strings.TrimSpace(identity.Subject) == "" {
		api.writeError(w, r, http.StatusInternalServerError, "internal_error")
		return
	}

	var req submitContractRequest
	if err := decodeJSON(r, &req); err != nil {
		api.writeError(w, r, http.StatusBadRequest, "invalid_json")
		return
	}

	contract, err := api.svc.SubmitContract(r.Context(), lifecycle.SubmitRequest{
		CustomerID:     identity.Subject,
		CustomerName:   req.CustomerName,
		CustomerEmail:  req.CustomerEmail,
		CustomerPhone:  req.CustomerPhone,
		CompanyName:    req.CompanyName,
		ContractType:   req.ContractType,
		VehicleCount:   req.VehicleCount,
		MonthlyFee:     req.MonthlyFee,
		DurationMonths: req.DurationMonths,
		Terms:          req.Terms,
	})
	var verr *lifecycle.ValidationError
	if errors.As(err, &verr) {
		api.writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
			"error":      "validation_failed",
			"reason":     verr.Reason,
			"contract":   toContractResponse(contract),
			"request_id": r.Header.Get("X-Request-Id"),
		})
		return
	}
	if err != nil {
		api.logger.Error("submit contract failed", "error", err, "request_id", r.Header.Get("X-Request-Id"))
		api.writeError(w, r, http.StatusInternalServerError, "internal_error")
		return
	}
	api.writeJSON(w, http.StatusCreated, toContractResponse(contract))
}

func (api *contractsAPI) handleGetContract(w http.ResponseWriter, r *http.Request) {
	contract, err := api.svc.GetContract(r.Context(), r.PathValue("contract_id"))
	if err != nil {
		api.writeLookupError(w, r, err)
		return
	}
	if !api.mayViewContract(r, contract) {
		api.writeError(w, r, http.StatusForbidden, "forbidden")
		return
	}

	out := map[string]any{"contract": toContractResponse(contract)}
	if contract.ApprovalID != "" {
		approval, err := api.svc.GetApproval(r.Context(), contract.ApprovalID)
		if err == nil {
			out["approval"] = toApprovalResponse(approval)
		} else if !errors.Is(err, repo.ErrNotFound) {
			api.logger.Error("approval lookup failed", "approval_id", contract.ApprovalID, "error", err)
		}
	}
	api.writeJSON(w, http.StatusOK, out)
}

func (api *contractsAPI) handleListContracts(w http.ResponseWriter, r *http.Request) {
	identity, _ := auth.IdentityFromContext(r.Context())

	filter := repo.ContractFilter{
		CustomerID: strings.TrimSpace(r.URL.Query().Get("customer_id")),
		State:      domain.NormalizeContractState(r.URL.Query().Get("state")),
		Limit:      queryInt(r, "limit", 100),
	}
	// Customers only see their own contracts.
	if !identity.IsFleetManager() {
		filter.CustomerID = identity.Subject
	}

	contracts, err := api.svc.ListContracts(r.Context(), filter)
	if err != nil {
		api.logger.Error("list contracts failed", "error", err)
		api.writeError(w, r, http.StatusInternalServerError, "internal_error")
		return
	}
	out := make([]contractResponse, 0, len(contracts))
	for _, contract := range contracts {
		out = append(out, toContractResponse(contract))
	}
	api.writeJSON(w, http.StatusOK, map[string]any{"contracts": out})
}

func (api *contractsAPI) handleDashboard(w http.ResponseWriter, r *http.Request) {
	identity, _ := auth.IdentityFromContext(r.Context())

	customerID := strings.TrimSpace(r.URL.Query().Get("customer_id"))
	if !identity.IsFleetManager() {
		customerID = identity.Subject
	}

	dashboard, err := api.svc.Dashboard(r.Context(), customerID)
	if err != nil {
		api.logger.Error("dashboard failed", "error", err)
		api.writeError(w, r, http.StatusInternalServerError, "internal_error")
		return
	}
	api.writeJSON(w, http.StatusOK, map[string]any{
		"total_contracts":    dashboard.TotalContracts,
		"pending_approval":   dashboard.PendingApproval,
		"approved":           dashboard.Approved,
		"rejected":           dashboard.Rejected,
		"signed":             dashboard.Signed,
		"approved_vehicles":  dashboard.ApprovedVehicles,
		"approved_value":     dashboard.ApprovedValue,
		"requiring_approval": dashboard.RequiringApproval,
	})
}

func (api *contractsAPI) handleListPendingApprovals(w http.ResponseWriter, r *http.Request) {
	identity, ok := auth.IdentityFromContext(r.Context())
	if !ok || !identity.IsFleetManager() {
		api.writeError(w, r, http.StatusForbidden, "forbidden")
		return
	}

	approvals, err := api.svc.ListApprovals(r.Context(), repo.ApprovalFilter{
		ApproverID: strings.TrimSpace(r.URL.Query().Get("approver_id")),
		Status:     domain.ApprovalPending,
		Limit:      queryInt(r, "limit", 100),
	})
	if err != nil {
		api.logger.Error("list approvals failed", "error", err)
		api.writeError(w, r, http.StatusInternalServerError, "internal_error")
		return
	}
	now := time.Now().UTC()
	out := make([]approvalResponse, 0, len(approvals))
	for _, approval := range approvals {
		resp := toApprovalResponse(approval)
		remaining := int64(approval.ExpiresAt.Sub(now).Seconds())
		if remaining < 0 {
			remaining = 0
		}
		resp.TimeRemainingSeconds = &remaining
		out = append(out, resp)
	}
	api.writeJSON(w, http.StatusOK, map[string]any{"approvals": out})
}

type decisionRequest struct {
	Comments string `json:"comments,omitempty"`
	Reason   string `json:"reason,omitempty"`
}

func (api *contractsAPI) handleApprove(w http.ResponseWriter, r *http.Request) {
	identity, ok := auth.IdentityFromContext(r.Context())
	if !ok || !identity.IsFleetManager() {
		api.writeError(w, r, http.StatusForbidden, "forbidden")
		return
	}

	var req decisionRequest
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, io.EOF) {
		api.writeError(w, r, http.StatusBadRequest, "invalid_json")
		return
	}

	contract, err := api.svc.Approve(r.Context(), r.PathValue("approval_id"), identity.Subject, req.Comments)
	if err != nil {
		api.writeDecisionError(w, r, err)
		return
	}
	api.writeJSON(w, http.StatusOK, toContractResponse(contract))
}

func (api *contractsAPI) handleReject(w http.ResponseWriter, r *http.Request) {
	identity, ok := auth.IdentityFromContext(r.Context())
	if !ok || !identity.IsFleetManager() {
		api.writeError(w, r, http.StatusForbidden, "forbidden")
		return
	}

	var req decisionRequest
	if err := decodeJSON(r, &req); err != nil {
		api.writeError(w, r, http.StatusBadRequest, "invalid_json")
		return
	}

	contract, err := api.svc.Reject(r.Context(), r.PathValue("approval_id"), identity.Subject, req.Reason)
	if err != nil {
		api.writeDecisionError(w, r, err)
		return
	}
	api.writeJSON(w, http.StatusOK, toContractResponse(contract))
}

func (api *contractsAPI) handleRetrySignature(w http.ResponseWriter, r *http.Request) {
	identity, ok := auth.IdentityFromContext(r.Context())
	if !ok || !identity.IsFleetManager() {
		api.writeError(w, r, http.StatusForbidden, "forbidden")
		return
	}

	contractID := r.PathValue("contract_id")
	if err := api.svc.InitiateSignature(r.Context(), contractID); err != nil {
		switch {
		case errors.Is(err, repo.ErrNotFound):
			api.writeError(w, r, http.StatusNotFound, "not_found")
		case errors.Is(err, lifecycle.ErrEscalated):
			api.writeError(w, r, http.StatusConflict, "attempts_exhausted")
		case errors.Is(err, lifecycle.ErrInvalidState):
			api.writeError(w, r, http.StatusConflict, "invalid_state")
		default:
			api.logger.Error("signature retry failed", "contract_id", contractID, "error", err)
			api.writeError(w, r, http.StatusBadGateway, "signature_provider_error")
		}
		return
	}

	contract, err := api.svc.GetContract(r.Context(), contractID)
	if err != nil {
		api.writeLookupError(w, r, err)
		return
	}
	api.writeJSON(w, http.StatusOK, toContractResponse(contract))
}

func (api *contractsAPI) mayViewContract(r *http.Request, contract domain.Contract) bool {
	identity, ok := auth.IdentityFromContext(r.Context())
	if !ok {
		return false
	}
	return identity.IsFleetManager() || identity.Subject == contract.CustomerID
}

func (api *contractsAPI) writeDecisionError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, repo.ErrNotFound):
		api.writeError(w, r, http.StatusNotFound, "not_found")
	case errors.Is(err, lifecycle.ErrReasonRequired):
		api.writeError(w, r, http.StatusBadRequest, "reason_required")
	case errors.Is(err, lifecycle.ErrAlreadyDecided):
		api.writeError(w, r, http.StatusConflict, "already_decided")
	case errors.Is(err, lifecycle.ErrDeadlinePassed):
		api.writeError(w, r, http.StatusConflict, "deadline_passed")
	default:
		api.logger.Error("decision failed", "error", err, "request_id", r.Header.Get("X-Request-Id"))
		api.writeError(w, r, http.StatusInternalServerError, "internal_error")
	}
}

func (api *contractsAPI) writeLookupError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, repo.ErrNotFound) {
		api.writeError(w, r, http.StatusNotFound, "not_found")
		return
	}
	api.logger.Error("lookup failed", "error", err, "request_id", r.Header.Get("X-Request-Id"))
	api.writeError(w, r, http.StatusInternalServerError, "internal_error")
}

func queryInt(r *http.Request, key string, def int) int {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v <= 0 {
		return def
	}
	return v
}

func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return err
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return errors.New("multiple JSON values")
	}
	return nil
}

func (api *contractsAPI) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(true)
	_ = enc.Encode(body)
}

func (api *contractsAPI) writeError(w http.ResponseWriter, r *http.Request, status int, code string) {
	api.writeJSON(w, status, map[string]any{
		"error":      code,
		"request_id": r.Header.Get("X-Request-Id"),
	})
}
