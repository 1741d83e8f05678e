// Package request holds the access-request workflow entities: one
// AccessRequest per entitlement asked for, its ordered ApprovalStep chain,
// and the status machinery both move through.
package request

import (
	"fmt"
	"time"

	id "entitle/pkg/domain"
)

// Type classifies what the requester wants done.
type Type string

const (
	TypeNewAccess       Type = "new_access"
	TypeModifyAccess    Type = "modify_access"
	TypeRevokeAccess    Type = "revoke_access"
	TypeTemporaryAccess Type = "temporary_access"
)

var validTypes = map[Type]bool{
	TypeNewAccess:       true,
	TypeModifyAccess:    true,
	TypeRevokeAccess:    true,
	TypeTemporaryAccess: true,
}

// IsValid checks the request type against the supported enum values.
func (t Type) IsValid() bool { return validTypes[t] }

// Status is the workflow state of an AccessRequest.
//
// Reachable edges, and only these:
//
//	DRAFT → IN_REVIEW → {APPROVED, REJECTED}
//	APPROVED → IMPLEMENTED → EXPIRED
//	DRAFT, IN_REVIEW → CANCELLED
type Status string

const (
	StatusDraft       Status = "draft"
	StatusInReview    Status = "in_review"
	StatusApproved    Status = "approved"
	StatusRejected    Status = "rejected"
	StatusImplemented Status = "implemented"
	StatusExpired     Status = "expired"
	StatusCancelled   Status = "cancelled"
)

// Terminal reports whether no further workflow transition applies. IMPLEMENTED
// is not terminal: the expiration scheduler may still move it to EXPIRED.
func (s Status) Terminal() bool {
	switch s {
	case StatusRejected, StatusExpired, StatusCancelled:
		return true
	}
	return false
}

// StepStatus is the state of one approval step. Every non-pending value is
// terminal: a step row is decided at most once.
type StepStatus string

const (
	StepPending  StepStatus = "pending"
	StepApproved StepStatus = "approved"
	StepRejected StepStatus = "rejected"
	StepSkipped  StepStatus = "skipped"
)

// AccessRequest is one workflow instance. Created by the requester, mutated
// only by the step processor and the expiration scheduler, never physically
// deleted (cancellation is a status, not removal).
type AccessRequest struct {
	ID            id.RequestID
	RequestNumber string // e.g. REQ-2025-00001, unique, per-year monotonic
	RequesterID   id.UserID
	TargetUserID  id.UserID
	SystemID      id.SystemID
	SubsystemID   id.SubsystemID // zero when not set
	RoleID        id.RoleID
	Type          Type
	Status        Status
	Justification string

	IsTemporary bool
	ValidFrom   *time.Time
	ValidUntil  *time.Time

	// CurrentStep tracks the lowest pending step number while IN_REVIEW.
	CurrentStep int

	CreatedAt   time.Time
	UpdatedAt   *time.Time
	SubmittedAt *time.Time
	CompletedAt *time.Time
}

// ApprovalStep is one stage of one request's chain, owned by exactly one
// approver. Created in a batch at submission; decided at most once.
type ApprovalStep struct {
	ID           id.StepID
	RequestID    id.RequestID
	StepNumber   int
	ApproverID   id.UserID
	ApproverRole string // display label only, e.g. "Manager"
	Status       StepStatus
	DecidedAt    *time.Time
	Comment      string
	CreatedAt    time.Time
}

// Decision is an approver's verdict on their pending step.
type Decision string

const (
	DecisionApprove Decision = "approve"
	DecisionReject  Decision = "reject"
)

// IsValid checks the decision against the supported values.
func (d Decision) IsValid() bool {
	return d == DecisionApprove || d == DecisionReject
}

// Comment is one free-text remark on a request.
type Comment struct {
	ID        int64
	RequestID id.RequestID
	UserID    id.UserID
	Text      string
	CreatedAt time.Time
}

// FormatNumber renders the human-readable sequence number.
func FormatNumber(prefix string, year int, n int64) string {
	return fmt.Sprintf("%s-%d-%05d", prefix, year, n)
}

// Statistics summarizes the request population for dashboards.
type Statistics struct {
	Total              int `json:"total_requests"`
	PendingApproval    int `json:"pending_approval"`
	Approved           int `json:"approved"`
	Rejected           int `json:"rejected"`
	Implemented        int `json:"implemented"`
	MyPendingApprovals int `json:"my_pending_approvals"`
}
