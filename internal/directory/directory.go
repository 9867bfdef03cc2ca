package directory

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/fleetgrid-labs/fleetgrid-go/internal/domain"
)

var ErrNoEligibleApprover = errors.New("no eligible approver")

// PendingCounter reports the number of PENDING approvals currently assigned
// to an approver. The count is read at assignment time and is allowed to be
// slightly stale; a small capacity overshoot corrects itself as approvals
// are decided.
type PendingCounter interface {
	CountPending(ctx context.Context, approverID string) (int, error)
}

type Candidate struct {
	Approver          domain.Approver
	PendingCount      int
	CapacityRemaining int
}

// Directory answers assignment queries over a fixed roster. It holds no
// mutable state; load is recomputed from the approval store on every call.
type Directory struct {
	roster  []domain.Approver
	pending PendingCounter
}

func New(roster []domain.Approver, pending PendingCounter) (*Directory, error) {
	if len(roster) == 0 {
		return nil, errors.New("roster is required")
	}
	if pending == nil {
		return nil, errors.New("pending counter is required")
	}
	for i, approver := range roster {
		if err := approver.Validate(); err != nil {
			return nil, fmt.Errorf("roster[%d]: %w", i, err)
		}
	}
	return &Directory{roster: roster, pending: pending}, nil
}

// ListEligible returns every approver with spare capacity whose
// authorization limit covers totalValue, sorted by current load with a
// stable ID tie-break.
func (d *Directory) ListEligible(ctx context.Context, totalValue float64) ([]Candidate, error) {
	candidates := make([]Candidate, 0, len(d.roster))
	for _, approver := range d.roster {
		if !approver.CanAuthorize(totalValue) {
			continue
		}
		count, err := d.pending.CountPending(ctx, approver.ID)
		if err != nil {
			return nil, fmt.Errorf("pending count for %s: %w", approver.ID, err)
		}
		if count >= approver.MaxPending {
			continue
		}
		candidates = append(candidates, Candidate{
			Approver:          approver,
			PendingCount:      count,
			CapacityRemaining: approver.MaxPending - count,
		})
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].PendingCount != candidates[j].PendingCount {
			return candidates[i].PendingCount < candidates[j].PendingCount
		}
		return candidates[i].Approver.ID < candidates[j].Approver.ID
	})
	return candidates, nil
}

// Pick selects the least-loaded eligible approver for the given contract
// value. Returns ErrNoEligibleApprover when nobody qualifies.
func (d *Directory) Pick(ctx context.Context, totalValue float64) (Candidate, error) {
	candidates, err := d.ListEligible(ctx, totalValue)
	if err != nil {
		return Candidate{}, err
	}
	if len(candidates) == 0 {
		return Candidate{}, ErrNoEligibleApprover
	}
	return candidates[0], nil
}
