package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"entitle/internal/audit"
	txcontext "entitle/pkg/platform/tx"

	id "entitle/pkg/domain"
)

// Store persists the audit ledger in PostgreSQL. Appends execute against a
// transaction carried in context when present, so a ledger row shares the
// transaction boundary of the mutation it records.
type Store struct {
	db *sql.DB
}

func New(db *sql.DB) *Store {
	return &Store{db: db}
}

type dbExecutor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func (s *Store) execer(ctx context.Context) dbExecutor {
	if dbTx, ok := txcontext.From(ctx); ok {
		return dbTx
	}
	return s.db
}

func (s *Store) Append(ctx context.Context, event audit.Event) error {
	query := `
		INSERT INTO audit_events (id, request_id, actor_id, action, detail, origin, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err := s.execer(ctx).ExecContext(ctx, query,
		event.ID,
		nullID(int64(event.RequestID)),
		nullID(int64(event.ActorID)),
		string(event.Action),
		event.Detail,
		event.Origin,
		event.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert audit event: %w", err)
	}
	return nil
}

func (s *Store) List(ctx context.Context, filter audit.Filter) ([]audit.Event, error) {
	var (
		conds []string
		args  []any
	)
	add := func(cond string, arg any) {
		args = append(args, arg)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}
	if !filter.RequestID.IsNil() {
		add("request_id = $%d", int64(filter.RequestID))
	}
	if !filter.ActorID.IsNil() {
		add("actor_id = $%d", int64(filter.ActorID))
	}
	if filter.Action != "" {
		add("action = $%d", string(filter.Action))
	}
	if !filter.From.IsZero() {
		add("created_at >= $%d", filter.From)
	}
	if !filter.Until.IsZero() {
		add("created_at <= $%d", filter.Until)
	}

	query := `SELECT id, request_id, actor_id, action, detail, origin, created_at FROM audit_events`
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY created_at"
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := s.execer(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query audit events: %w", err)
	}
	defer rows.Close()

	var events []audit.Event
	for rows.Next() {
		var (
			event     audit.Event
			requestID sql.NullInt64
			actorID   sql.NullInt64
			detail    sql.NullString
			origin    sql.NullString
		)
		if err := rows.Scan(&event.ID, &requestID, &actorID, &event.Action, &detail, &origin, &event.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan audit event: %w", err)
		}
		event.RequestID = id.RequestID(requestID.Int64)
		event.ActorID = id.UserID(actorID.Int64)
		event.Detail = detail.String
		event.Origin = origin.String
		events = append(events, event)
	}
	return events, rows.Err()
}

// nullID maps the zero id to SQL NULL.
func nullID(v int64) any {
	if v == 0 {
		return nil
	}
	return v
}
