package audit

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"entitle/pkg/requestcontext"

	id "entitle/pkg/domain"
)

// Store is the append-only persistence contract. Postgres implementations
// must honor a transaction carried in context so a ledger row commits or
// rolls back together with the mutation it records.
type Store interface {
	Append(ctx context.Context, event Event) error
	List(ctx context.Context, filter Filter) ([]Event, error)
}

// Service is the ledger facade the other components write through.
type Service struct {
	store Store
}

func NewService(store Store) *Service {
	return &Service{store: store}
}

// Record appends one ledger row. The origin is taken from the request context
// ("system" outside HTTP traffic). Callers invoke this exactly once per state
// transition, inside the same transaction as the mutation.
func (s *Service) Record(ctx context.Context, requestID id.RequestID, actor id.UserID, action Action, detail string) error {
	event := Event{
		ID:        uuid.New(),
		RequestID: requestID,
		ActorID:   actor,
		Action:    action,
		Detail:    detail,
		Origin:    requestcontext.Origin(ctx),
		CreatedAt: time.Now().UTC(),
	}
	if err := s.store.Append(ctx, event); err != nil {
		return fmt.Errorf("append audit event: %w", err)
	}
	return nil
}

// List exposes the read-only query surface for reporting.
func (s *Service) List(ctx context.Context, filter Filter) ([]Event, error) {
	return s.store.List(ctx, filter)
}
