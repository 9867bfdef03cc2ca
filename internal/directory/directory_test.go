package directory

import (
	"context"
	"errors"
	"testing"

	"github.com/fleetgrid-labs/fleetgrid-go/internal/domain"
)

type fakeCounter struct {
	counts map[string]int
	err    error
}

func (f fakeCounter) CountPending(ctx context.Context, approverID string) (int, error) {
	if f.err != nil {
		return 0, f.err
	}
	return f.counts[approverID], nil
}

func testRoster() []domain.Approver {
	return []domain.Approver{
		{ID: "mgr-1", Name: "Alex Kim", Email: "alex@fleetgrid.test", ApprovalLimit: 500000, MaxPending: 5},
		{ID: "mgr-2", Name: "Sam Ortiz", Email: "sam@fleetgrid.test", ApprovalLimit: 1000000, MaxPending: 5},
		{ID: "mgr-3", Name: "Dana Wu", Email: "dana@fleetgrid.test", ApprovalLimit: 250000, MaxPending: 2},
	}
}

func TestPickPrefersLowestLoad(t *testing.T) {
	dir, err := New(testRoster(), fakeCounter{counts: map[string]int{"mgr-1": 3, "mgr-2": 1, "mgr-3": 0}})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	picked, err := dir.Pick(context.Background(), 100000)
	if err != nil {
		t.Fatalf("Pick: %v", err)
	}
	if picked.Approver.ID != "mgr-3" {
		t.Fatalf("picked %s, want mgr-3", picked.Approver.ID)
	}
}

func TestPickSkipsOverLimitApprovers(t *testing.T) {
	dir, err := New(testRoster(), fakeCounter{counts: map[string]int{}})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	// 360k exceeds mgr-3's limit; mgr-1 and mgr-2 tie on load, ID breaks it.
	picked, err := dir.Pick(context.Background(), 360000)
	if err != nil {
		t.Fatalf("Pick: %v", err)
	}
	if picked.Approver.ID != "mgr-1" {
		t.Fatalf("picked %s, want mgr-1", picked.Approver.ID)
	}
}

func TestPickSkipsFullApprovers(t *testing.T) {
	dir, err := New(testRoster(), fakeCounter{counts: map[string]int{"mgr-3": 2}})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	candidates, err := dir.ListEligible(context.Background(), 100000)
	if err != nil {
		t.Fatalf("ListEligible: %v", err)
	}
	for _, c := range candidates {
		if c.Approver.ID == "mgr-3" {
			t.Fatalf("mgr-3 is at capacity, should not be eligible")
		}
	}
}

func TestPickNoEligibleApprover(t *testing.T) {
	dir, err := New(testRoster(), fakeCounter{counts: map[string]int{}})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	_, err = dir.Pick(context.Background(), 2000000)
	if !errors.Is(err, ErrNoEligibleApprover) {
		t.Fatalf("err = %v, want ErrNoEligibleApprover", err)
	}
}

func TestPickPropagatesCounterError(t *testing.T) {
	wantErr := errors.New("store down")
	dir, err := New(testRoster(), fakeCounter{err: wantErr})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	_, err = dir.Pick(context.Background(), 100000)
	if !errors.Is(err, wantErr) {
		t.Fatalf("err = %v, want wrapped store error", err)
	}
}

func TestParseRoster(t *testing.T) {
	input := []byte(`schema: fleetgrid.approvers.v1
approvers:
  - id: mgr-1
    name: Alex Kim
    email: alex@fleetgrid.test
    approval_limit: 500000
    max_pending: 5
`)
	roster, err := ParseRoster(input)
	if err != nil {
		t.Fatalf("ParseRoster: %v", err)
	}
	approvers := roster.Domain()
	if len(approvers) != 1 || approvers[0].ID != "mgr-1" {
		t.Fatalf("unexpected approvers: %+v", approvers)
	}
}

func TestParseRosterRejectsBadInput(t *testing.T) {
	cases := []struct {
		name  string
		input string
	}{
		{name: "wrong schema", input: "schema: nope\napprovers:\n  - id: a\n    name: A\n    email: a@x\n    approval_limit: 1\n    max_pending: 1\n"},
		{name: "empty roster", input: "schema: fleetgrid.approvers.v1\napprovers: []\n"},
		{name: "duplicate id", input: "schema: fleetgrid.approvers.v1\napprovers:\n  - id: a\n    name: A\n    email: a@x\n    approval_limit: 1\n    max_pending: 1\n  - id: a\n    name: B\n    email: b@x\n    approval_limit: 1\n    max_pending: 1\n"},
		{name: "zero limit", input: "schema: fleetgrid.approvers.v1\napprovers:\n  - id: a\n    name: A\n    email: a@x\n    approval_limit: 0\n    max_pending: 1\n"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := ParseRoster([]byte(tc.input)); err == nil {
				t.Fatalf("expected error")
			}
		})
	}
}
