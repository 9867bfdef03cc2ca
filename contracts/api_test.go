package main

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/fleetgrid-labs/fleetgrid-go/internal/repo"
	"github.com/fleetgrid-labs/fleetgrid-go/internal/service/lifecycle"
)

func TestDecodeJSON_RejectsExtraValue(t *testing.T) {
	req := httptest.NewRequest("POST", "http://example.test/", strings.NewReader("{\"customer_name\":\"a\"} {\"customer_name\":\"b\"}"))
	var dst submitContractRequest
	if err := decodeJSON(req, &dst); err == nil {
		t.Fatalf("expected error")
	}
}

func TestDecodeJSON_DisallowUnknownFields(t *testing.T) {
	req := httptest.NewRequest("POST", "http://example.test/", strings.NewReader("{\"customer_name\":\"a\",\"extra\":1}"))
	var dst submitContractRequest
	if err := decodeJSON(req, &dst); err == nil {
		t.Fatalf("expected error")
	}
}

func TestQueryInt(t *testing.T) {
	req := httptest.NewRequest("GET", "http://example.test/?limit=25", nil)
	if got := queryInt(req, "limit", 100); got != 25 {
		t.Fatalf("queryInt=%d, want 25", got)
	}
	req = httptest.NewRequest("GET", "http://example.test/?limit=-3", nil)
	if got := queryInt(req, "limit", 100); got != 100 {
		t.Fatalf("queryInt negative=%d, want default 100", got)
	}
	req = httptest.NewRequest("GET", "http://example.test/", nil)
	if got := queryInt(req, "limit", 100); got != 100 {
		t.Fatalf("queryInt missing=%d, want default 100", got)
	}
}

func TestWriteDecisionError_StatusMapping(t *testing.T) {
	api := newContractsAPI(slog.New(slog.NewTextHandler(io.Discard, nil)), nil)

	tests := []struct {
		err        error
		wantStatus int
		wantCode   string
	}{
		{repo.ErrNotFound, http.StatusNotFound, "not_found"},
		{lifecycle.ErrReasonRequired, http.StatusBadRequest, "reason_required"},
		{lifecycle.ErrAlreadyDecided, http.StatusConflict, "already_decided"},
		{lifecycle.ErrDeadlinePassed, http.StatusConflict, "deadline_passed"},
		{io.ErrUnexpectedEOF, http.StatusInternalServerError, "internal_error"},
	}
	for _, tc := range tests {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest("POST", "http://example.test/approvals/AP1/approve", nil)
		api.writeDecisionError(rec, req, tc.err)
		if rec.Code != tc.wantStatus {
			t.Fatalf("%v: status=%d, want %d", tc.err, rec.Code, tc.wantStatus)
		}
		var body map[string]any
		if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
			t.Fatalf("%v: decode body: %v", tc.err, err)
		}
		if body["error"] != tc.wantCode {
			t.Fatalf("%v: error=%v, want %s", tc.err, body["error"], tc.wantCode)
		}
	}
}
