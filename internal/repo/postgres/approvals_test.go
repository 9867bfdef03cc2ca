package postgres

import (
	"strings"
	"testing"
	"time"

	"github.com/fleetgrid-labs/fleetgrid-go/internal/domain"
)

func TestBuildDecideApprovalQueryGuardsPending(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

	query, args := buildDecideApprovalQuery("ap-1", domain.ApprovalRejected, "mgr-1", "risk too high", now)
	if !strings.Contains(query, "status = $6") {
		t.Fatalf("expected pending status predicate, got %s", query)
	}
	if strings.Contains(query, "expires_at") {
		t.Fatalf("reject must not carry a deadline guard, got %s", query)
	}
	if len(args) != 6 {
		t.Fatalf("expected 6 args, got %d", len(args))
	}
	if args[5] != string(domain.ApprovalPending) {
		t.Fatalf("expected PENDING guard arg, got %v", args[5])
	}
}

func TestBuildDecideApprovalQueryApproveChecksDeadline(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

	query, args := buildDecideApprovalQuery("ap-1", domain.ApprovalApproved, "mgr-1", "", now)
	if !strings.Contains(query, "expires_at > $7") {
		t.Fatalf("approve must re-check the deadline, got %s", query)
	}
	if len(args) != 7 {
		t.Fatalf("expected 7 args, got %d", len(args))
	}
	if args[6] != now {
		t.Fatalf("expected decision instant as deadline arg, got %v", args[6])
	}
}

func TestBuildDecideApprovalQueryExpireContendsFairly(t *testing.T) {
	now := time.Now().UTC()

	query, _ := buildDecideApprovalQuery("ap-1", domain.ApprovalExpired, "system", "", now)
	if !strings.Contains(query, "status = $6") {
		t.Fatalf("expiry must use the same pending guard, got %s", query)
	}
	if strings.Contains(query, "expires_at") {
		t.Fatalf("expiry carries no extra predicate, got %s", query)
	}
}
