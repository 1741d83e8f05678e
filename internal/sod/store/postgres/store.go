package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"entitle/internal/sod"
	"entitle/pkg/platform/sentinel"

	id "entitle/pkg/domain"
)

// Store persists SoD rules in PostgreSQL. The (role_a_id, role_b_id) pair is
// stored ordered (role_a < role_b) so the unique constraint rejects a
// duplicate pair regardless of entry order.
type Store struct {
	db *sql.DB
}

func New(db *sql.DB) *Store {
	return &Store{db: db}
}

const ruleColumns = `id, role_a_id, role_b_id, name, description, severity, active, created_by, created_at, updated_at`

func (s *Store) Create(ctx context.Context, rule sod.Rule) (sod.Rule, error) {
	rule.Normalize()
	query := `
		INSERT INTO sod_rules (role_a_id, role_b_id, name, description, severity, active, created_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at
	`
	err := s.db.QueryRowContext(ctx, query,
		int64(rule.RoleA), int64(rule.RoleB), rule.Name, rule.Description,
		string(rule.Severity), rule.Active, nullID(int64(rule.CreatedBy)),
	).Scan(&rule.ID, &rule.CreatedAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code.Name() == "unique_violation" {
			return sod.Rule{}, fmt.Errorf("rule for pair %d/%d already exists: %w", rule.RoleA, rule.RoleB, sentinel.ErrConflict)
		}
		return sod.Rule{}, fmt.Errorf("insert rule: %w", err)
	}
	return rule, nil
}

func (s *Store) Update(ctx context.Context, rule sod.Rule) (sod.Rule, error) {
	query := `
		UPDATE sod_rules
		SET name = COALESCE(NULLIF($2, ''), name),
		    description = COALESCE(NULLIF($3, ''), description),
		    severity = COALESCE(NULLIF($4, ''), severity),
		    active = $5,
		    updated_at = $6
		WHERE id = $1
		RETURNING ` + ruleColumns
	row := s.db.QueryRowContext(ctx, query,
		int64(rule.ID), rule.Name, rule.Description, string(rule.Severity), rule.Active, time.Now().UTC(),
	)
	updated, err := scanRule(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return sod.Rule{}, fmt.Errorf("rule %d: %w", rule.ID, sentinel.ErrNotFound)
		}
		return sod.Rule{}, fmt.Errorf("update rule: %w", err)
	}
	return updated, nil
}

func (s *Store) Delete(ctx context.Context, ruleID id.RuleID) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM sod_rules WHERE id = $1`, int64(ruleID))
	if err != nil {
		return fmt.Errorf("delete rule: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete rule affected rows: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("rule %d: %w", ruleID, sentinel.ErrNotFound)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, ruleID id.RuleID) (sod.Rule, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+ruleColumns+` FROM sod_rules WHERE id = $1`, int64(ruleID))
	rule, err := scanRule(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return sod.Rule{}, fmt.Errorf("rule %d: %w", ruleID, sentinel.ErrNotFound)
		}
		return sod.Rule{}, fmt.Errorf("get rule: %w", err)
	}
	return rule, nil
}

func (s *Store) List(ctx context.Context, activeOnly bool) ([]sod.Rule, error) {
	query := `SELECT ` + ruleColumns + ` FROM sod_rules`
	if activeOnly {
		query += ` WHERE active`
	}
	query += ` ORDER BY id`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list rules: %w", err)
	}
	defer rows.Close()
	return scanRules(rows)
}

func (s *Store) FindActiveConflicts(ctx context.Context, candidate id.RoleID, held []id.RoleID) ([]sod.Rule, error) {
	if len(held) == 0 {
		return nil, nil
	}
	heldIDs := make([]int64, len(held))
	for i, roleID := range held {
		heldIDs[i] = int64(roleID)
	}
	query := `
		SELECT ` + ruleColumns + `
		FROM sod_rules
		WHERE active
		  AND ((role_a_id = $1 AND role_b_id = ANY($2))
		    OR (role_b_id = $1 AND role_a_id = ANY($2)))
		ORDER BY id
	`
	rows, err := s.db.QueryContext(ctx, query, int64(candidate), pq.Array(heldIDs))
	if err != nil {
		return nil, fmt.Errorf("find conflicts: %w", err)
	}
	defer rows.Close()
	return scanRules(rows)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRule(row rowScanner) (sod.Rule, error) {
	var (
		rule        sod.Rule
		description sql.NullString
		createdBy   sql.NullInt64
		updatedAt   sql.NullTime
	)
	err := row.Scan(&rule.ID, &rule.RoleA, &rule.RoleB, &rule.Name, &description,
		&rule.Severity, &rule.Active, &createdBy, &rule.CreatedAt, &updatedAt)
	if err != nil {
		return sod.Rule{}, err
	}
	rule.Description = description.String
	rule.CreatedBy = id.UserID(createdBy.Int64)
	rule.UpdatedAt = updatedAt.Time
	return rule, nil
}

func scanRules(rows *sql.Rows) ([]sod.Rule, error) {
	var rules []sod.Rule
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, fmt.Errorf("scan rule: %w", err)
		}
		rules = append(rules, rule)
	}
	return rules, rows.Err()
}

func nullID(v int64) any {
	if v == 0 {
		return nil
	}
	return v
}
