package lifecycle

import "errors"

// Terminal, user-facing conditions. Callers map these to 4xx responses;
// everything else is operational and retried by infrastructure.
var (
	// ErrAlreadyDecided reports a decision attempt on an approval that has
	// already left PENDING.
	ErrAlreadyDecided = errors.New("approval already decided")

	// ErrDeadlinePassed reports an approve attempt after the decision
	// window closed, even if the sweeper has not yet written EXPIRED.
	ErrDeadlinePassed = errors.New("approval deadline has passed")

	// ErrReasonRequired reports a rejection without a reason.
	ErrReasonRequired = errors.New("rejection reason is required")

	// ErrInvalidState reports an operation against a contract whose current
	// state does not admit it.
	ErrInvalidState = errors.New("contract not in expected state")

	// ErrEscalated reports a contract whose signature initiation attempts
	// are exhausted; operator intervention is required.
	ErrEscalated = errors.New("signature initiation attempts exhausted")
)

// ValidationError carries the reason a submitted contract failed
// validation. The contract record is persisted in VALIDATION_FAILED.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return "contract validation failed: " + e.Reason
}
