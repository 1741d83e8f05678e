package audit

import (
	"time"

	"github.com/google/uuid"

	id "entitle/pkg/domain"
)

// Event is one append-only ledger row. Written by every mutation in the
// engine, in the same transaction as the mutation it records; never updated
// or deleted.
type Event struct {
	ID        uuid.UUID
	RequestID id.RequestID // zero when the event is not tied to a request
	ActorID   id.UserID    // zero for system actions (expiration scan)
	Action    Action
	Detail    string
	Origin    string // client IP, or "system"
	CreatedAt time.Time
}

// Action tags ledger rows so reporting can group transitions.
type Action string

const (
	ActionCreated       Action = "created"
	ActionSubmitted     Action = "submitted"
	ActionApproved      Action = "approved"
	ActionFullyApproved Action = "fully_approved"
	ActionRejected      Action = "rejected"
	ActionCancelled     Action = "cancelled"
	ActionImplemented   Action = "implemented"
	ActionCommented     Action = "commented"
	ActionAutoExpired   Action = "auto_expired"
	ActionManualExpired Action = "manual_expired"

	ActionSodRuleCreated Action = "sod_rule_created"
	ActionSodRuleUpdated Action = "sod_rule_updated"
	ActionSodRuleDeleted Action = "sod_rule_deleted"

	ActionChainStepCreated Action = "chain_step_created"
	ActionChainStepDeleted Action = "chain_step_deleted"
)

// Filter narrows ledger reads. Zero fields are ignored.
type Filter struct {
	RequestID id.RequestID
	ActorID   id.UserID
	Action    Action
	From      time.Time
	Until     time.Time
	Limit     int
}
