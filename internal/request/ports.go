package request

import (
	"context"
	"time"

	id "entitle/pkg/domain"
)

// RequestStore persists AccessRequest rows. All conditional mutations return
// a bool reporting whether the guarded row matched; false means another
// writer got there first (or the row is in a different state) and the caller
// must not treat the transition as applied.
type RequestStore interface {
	Create(ctx context.Context, req *AccessRequest) error
	Get(ctx context.Context, reqID id.RequestID) (AccessRequest, error)
	GetByNumber(ctx context.Context, number string) (AccessRequest, error)

	ListByRequester(ctx context.Context, requester id.UserID, f ListFilter) ([]AccessRequest, error)
	ListByIDs(ctx context.Context, ids []id.RequestID) ([]AccessRequest, error)

	// MarkSubmitted moves DRAFT → IN_REVIEW and stamps submitted_at and the
	// initial current step.
	MarkSubmitted(ctx context.Context, reqID id.RequestID, at time.Time, currentStep int) (bool, error)
	// SetCurrentStep advances the pending-step pointer of an IN_REVIEW row.
	SetCurrentStep(ctx context.Context, reqID id.RequestID, step int) error
	// Complete moves IN_REVIEW → to (APPROVED or REJECTED) and stamps
	// completed_at.
	Complete(ctx context.Context, reqID id.RequestID, to Status, at time.Time) (bool, error)
	// Cancel moves from the given status to CANCELLED.
	Cancel(ctx context.Context, reqID id.RequestID, from Status) (bool, error)
	// MarkImplemented moves APPROVED → IMPLEMENTED.
	MarkImplemented(ctx context.Context, reqID id.RequestID, at time.Time) (bool, error)
	// Expire moves IMPLEMENTED → EXPIRED and stamps completed_at.
	Expire(ctx context.Context, reqID id.RequestID, at time.Time) (bool, error)

	// FindExpired returns IMPLEMENTED temporary requests whose valid_until
	// lies strictly before asOf.
	FindExpired(ctx context.Context, asOf time.Time) ([]AccessRequest, error)
	// FindExpiringSoon returns IMPLEMENTED temporary requests expiring within
	// the window [asOf, asOf+within].
	FindExpiringSoon(ctx context.Context, asOf time.Time, within time.Duration) ([]AccessRequest, error)

	// HeldRoles returns the distinct role ids of the user's APPROVED and
	// IMPLEMENTED requests. Feeds conflict checks.
	HeldRoles(ctx context.Context, user id.UserID) ([]id.RoleID, error)

	CountByStatus(ctx context.Context) (map[Status]int, error)
	// CountTemporary counts the live temporary population: IMPLEMENTED
	// requests with is_temporary set and a valid_until boundary.
	CountTemporary(ctx context.Context) (int, error)
}

// ListFilter narrows request listings.
type ListFilter struct {
	Status Status // zero = all
	Limit  int
	Offset int
}

// StepStore persists the approval chain rows of submitted requests.
type StepStore interface {
	CreateBatch(ctx context.Context, steps []ApprovalStep) error
	ListByRequest(ctx context.Context, reqID id.RequestID) ([]ApprovalStep, error)
	// FindPendingForApprover returns the approver's pending step on the
	// request, or sentinel.ErrNotFound.
	FindPendingForApprover(ctx context.Context, reqID id.RequestID, approver id.UserID) (ApprovalStep, error)
	// ListPendingByApprover returns all pending steps across requests,
	// newest request first.
	ListPendingByApprover(ctx context.Context, approver id.UserID) ([]ApprovalStep, error)
	CountPendingByApprover(ctx context.Context, approver id.UserID) (int, error)
	// Decide stamps the step with the terminal status iff it is still
	// pending. Returns false when the step was already decided.
	Decide(ctx context.Context, stepID id.StepID, to StepStatus, at time.Time, comment string) (bool, error)
}

// SequenceStore hands out per-year monotonic request numbers. Implementations
// must serialize concurrent callers so no value is issued twice.
type SequenceStore interface {
	Next(ctx context.Context, year int) (int64, error)
}

// CommentStore persists request comments.
type CommentStore interface {
	Add(ctx context.Context, c *Comment) error
	ListByRequest(ctx context.Context, reqID id.RequestID) ([]Comment, error)
}

// ChainStage is one resolved approval stage before persistence. StepNumber
// values carry over exactly as resolved; gaps are allowed and preserved.
type ChainStage struct {
	StepNumber   int
	ApproverID   id.UserID
	ApproverRole string
}

// ChainPolicy resolves the ordered approval stages for a request at
// submission time. An empty result with a nil error is legal and means the
// request has no one to approve it.
type ChainPolicy interface {
	Resolve(ctx context.Context, req AccessRequest) ([]ChainStage, error)
}

// ChainStep is one configured stage of a system's approval route.
type ChainStep struct {
	ID           int64
	SystemID     id.SystemID
	StepNumber   int
	ApproverID   id.UserID
	ApproverRole string
	CreatedAt    time.Time
}

// ChainConfigStore persists per-system approval chain configuration.
type ChainConfigStore interface {
	Create(ctx context.Context, step *ChainStep) error
	Delete(ctx context.Context, chainID int64) error
	ListBySystem(ctx context.Context, system id.SystemID) ([]ChainStep, error)
}
