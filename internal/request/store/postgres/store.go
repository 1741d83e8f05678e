// Package postgres persists the request workflow in PostgreSQL. Guarded
// transitions are conditional UPDATEs checked through RowsAffected, so a
// lost race surfaces as a false return instead of a silent double write.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	id "entitle/pkg/domain"
	"entitle/pkg/platform/sentinel"
	txcontext "entitle/pkg/platform/tx"

	"entitle/internal/request"
)

const requestColumns = `id, request_number, requester_id, target_user_id, system_id,
	subsystem_id, access_role_id, request_type, status, justification, is_temporary,
	valid_from, valid_until, current_step, created_at, updated_at, submitted_at, completed_at`

const stepColumns = `id, request_id, step_number, approver_id, approver_role,
	status, decided_at, comment, created_at`

// unique_violation per the PostgreSQL error code table.
const uniqueViolation = "23505"

type dbExecutor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type base struct {
	db *sql.DB
}

func (b *base) execer(ctx context.Context) dbExecutor {
	if dbTx, ok := txcontext.From(ctx); ok {
		return dbTx
	}
	return b.db
}

// Requests implements request.RequestStore.
type Requests struct {
	base
}

// NewRequests builds the AccessRequest store.
func NewRequests(db *sql.DB) *Requests {
	return &Requests{base{db: db}}
}

var (
	_ request.RequestStore     = (*Requests)(nil)
	_ request.StepStore        = (*Steps)(nil)
	_ request.SequenceStore    = (*Sequence)(nil)
	_ request.CommentStore     = (*Comments)(nil)
	_ request.ChainConfigStore = (*Chains)(nil)
)

func (s *Requests) Create(ctx context.Context, req *request.AccessRequest) error {
	query := `
		INSERT INTO access_requests (request_number, requester_id, target_user_id,
			system_id, subsystem_id, access_role_id, request_type, status,
			justification, is_temporary, valid_from, valid_until, current_step, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		RETURNING id
	`
	err := s.execer(ctx).QueryRowContext(ctx, query,
		req.RequestNumber,
		int64(req.RequesterID),
		int64(req.TargetUserID),
		int64(req.SystemID),
		nullID(int64(req.SubsystemID)),
		int64(req.RoleID),
		string(req.Type),
		string(req.Status),
		req.Justification,
		req.IsTemporary,
		req.ValidFrom,
		req.ValidUntil,
		req.CurrentStep,
		req.CreatedAt,
	).Scan(&req.ID)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && string(pqErr.Code) == uniqueViolation {
			return fmt.Errorf("insert access request: %w", sentinel.ErrConflict)
		}
		return fmt.Errorf("insert access request: %w", err)
	}
	return nil
}

func (s *Requests) Get(ctx context.Context, reqID id.RequestID) (request.AccessRequest, error) {
	query := `SELECT ` + requestColumns + ` FROM access_requests WHERE id = $1`
	return scanRequest(s.execer(ctx).QueryRowContext(ctx, query, int64(reqID)))
}

func (s *Requests) GetByNumber(ctx context.Context, number string) (request.AccessRequest, error) {
	query := `SELECT ` + requestColumns + ` FROM access_requests WHERE request_number = $1`
	return scanRequest(s.execer(ctx).QueryRowContext(ctx, query, number))
}

func (s *Requests) ListByRequester(ctx context.Context, requester id.UserID, f request.ListFilter) ([]request.AccessRequest, error) {
	query := `SELECT ` + requestColumns + ` FROM access_requests WHERE requester_id = $1`
	args := []any{int64(requester)}
	if f.Status != "" {
		query += fmt.Sprintf(" AND status = $%d", len(args)+1)
		args = append(args, string(f.Status))
	}
	query += " ORDER BY id DESC"
	if f.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", len(args)+1)
		args = append(args, f.Limit)
	}
	if f.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", len(args)+1)
		args = append(args, f.Offset)
	}
	rows, err := s.execer(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list requests: %w", err)
	}
	return scanRequests(rows)
}

func (s *Requests) ListByIDs(ctx context.Context, ids []id.RequestID) ([]request.AccessRequest, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	raw := make([]int64, len(ids))
	for i, v := range ids {
		raw[i] = int64(v)
	}
	query := `SELECT ` + requestColumns + ` FROM access_requests WHERE id = ANY($1)`
	rows, err := s.execer(ctx).QueryContext(ctx, query, pq.Array(raw))
	if err != nil {
		return nil, fmt.Errorf("list requests by id: %w", err)
	}
	return scanRequests(rows)
}

func (s *Requests) MarkSubmitted(ctx context.Context, reqID id.RequestID, at time.Time, currentStep int) (bool, error) {
	query := `
		UPDATE access_requests
		SET status = $2, submitted_at = $3, updated_at = $3, current_step = $4
		WHERE id = $1 AND status = $5
	`
	res, err := s.execer(ctx).ExecContext(ctx, query,
		int64(reqID), string(request.StatusInReview), at, currentStep, string(request.StatusDraft))
	if err != nil {
		return false, fmt.Errorf("mark submitted: %w", err)
	}
	return affected(res)
}

func (s *Requests) SetCurrentStep(ctx context.Context, reqID id.RequestID, step int) error {
	query := `UPDATE access_requests SET current_step = $2, updated_at = now() WHERE id = $1`
	res, err := s.execer(ctx).ExecContext(ctx, query, int64(reqID), step)
	if err != nil {
		return fmt.Errorf("set current step: %w", err)
	}
	if ok, err := affected(res); err != nil || !ok {
		if err != nil {
			return err
		}
		return sentinel.ErrNotFound
	}
	return nil
}

func (s *Requests) Complete(ctx context.Context, reqID id.RequestID, to request.Status, at time.Time) (bool, error) {
	return s.transition(ctx, reqID, request.StatusInReview, to, &at)
}

func (s *Requests) Cancel(ctx context.Context, reqID id.RequestID, from request.Status) (bool, error) {
	return s.transition(ctx, reqID, from, request.StatusCancelled, nil)
}

func (s *Requests) MarkImplemented(ctx context.Context, reqID id.RequestID, at time.Time) (bool, error) {
	return s.transition(ctx, reqID, request.StatusApproved, request.StatusImplemented, nil)
}

func (s *Requests) Expire(ctx context.Context, reqID id.RequestID, at time.Time) (bool, error) {
	return s.transition(ctx, reqID, request.StatusImplemented, request.StatusExpired, &at)
}

func (s *Requests) transition(ctx context.Context, reqID id.RequestID, from, to request.Status, completedAt *time.Time) (bool, error) {
	query := `
		UPDATE access_requests
		SET status = $2, updated_at = now(), completed_at = COALESCE($3, completed_at)
		WHERE id = $1 AND status = $4
	`
	res, err := s.execer(ctx).ExecContext(ctx, query,
		int64(reqID), string(to), completedAt, string(from))
	if err != nil {
		return false, fmt.Errorf("transition request: %w", err)
	}
	return affected(res)
}

func (s *Requests) FindExpired(ctx context.Context, asOf time.Time) ([]request.AccessRequest, error) {
	query := `
		SELECT ` + requestColumns + `
		FROM access_requests
		WHERE status = $1 AND is_temporary AND valid_until IS NOT NULL AND valid_until < $2
		ORDER BY id
	`
	rows, err := s.execer(ctx).QueryContext(ctx, query, string(request.StatusImplemented), asOf)
	if err != nil {
		return nil, fmt.Errorf("find expired: %w", err)
	}
	return scanRequests(rows)
}

func (s *Requests) FindExpiringSoon(ctx context.Context, asOf time.Time, within time.Duration) ([]request.AccessRequest, error) {
	query := `
		SELECT ` + requestColumns + `
		FROM access_requests
		WHERE status = $1 AND is_temporary AND valid_until BETWEEN $2 AND $3
		ORDER BY valid_until
	`
	rows, err := s.execer(ctx).QueryContext(ctx, query,
		string(request.StatusImplemented), asOf, asOf.Add(within))
	if err != nil {
		return nil, fmt.Errorf("find expiring soon: %w", err)
	}
	return scanRequests(rows)
}

func (s *Requests) HeldRoles(ctx context.Context, user id.UserID) ([]id.RoleID, error) {
	query := `
		SELECT DISTINCT access_role_id
		FROM access_requests
		WHERE target_user_id = $1 AND status = ANY($2)
		ORDER BY access_role_id
	`
	statuses := pq.StringArray{string(request.StatusApproved), string(request.StatusImplemented)}
	rows, err := s.execer(ctx).QueryContext(ctx, query, int64(user), statuses)
	if err != nil {
		return nil, fmt.Errorf("held roles: %w", err)
	}
	defer rows.Close()
	var out []id.RoleID
	for rows.Next() {
		var role int64
		if err := rows.Scan(&role); err != nil {
			return nil, fmt.Errorf("scan held role: %w", err)
		}
		out = append(out, id.RoleID(role))
	}
	return out, rows.Err()
}

func (s *Requests) CountByStatus(ctx context.Context) (map[request.Status]int, error) {
	rows, err := s.execer(ctx).QueryContext(ctx,
		`SELECT status, COUNT(*) FROM access_requests GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("count by status: %w", err)
	}
	defer rows.Close()
	counts := make(map[request.Status]int)
	for rows.Next() {
		var (
			status string
			n      int
		)
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("scan count: %w", err)
		}
		counts[request.Status(status)] = n
	}
	return counts, rows.Err()
}

func (s *Requests) CountTemporary(ctx context.Context) (int, error) {
	var n int
	err := s.execer(ctx).QueryRowContext(ctx, `
		SELECT COUNT(*) FROM access_requests
		WHERE status = 'implemented' AND is_temporary AND valid_until IS NOT NULL`,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count temporary: %w", err)
	}
	return n, nil
}

// Steps implements request.StepStore.
type Steps struct {
	base
}

// NewSteps builds the ApprovalStep store.
func NewSteps(db *sql.DB) *Steps {
	return &Steps{base{db: db}}
}

func (s *Steps) CreateBatch(ctx context.Context, steps []request.ApprovalStep) error {
	query := `
		INSERT INTO approval_steps (request_id, step_number, approver_id, approver_role, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id
	`
	ex := s.execer(ctx)
	for i := range steps {
		st := &steps[i]
		err := ex.QueryRowContext(ctx, query,
			int64(st.RequestID), st.StepNumber, int64(st.ApproverID),
			st.ApproverRole, string(st.Status), st.CreatedAt,
		).Scan(&st.ID)
		if err != nil {
			return fmt.Errorf("insert approval step %d: %w", st.StepNumber, err)
		}
	}
	return nil
}

func (s *Steps) ListByRequest(ctx context.Context, reqID id.RequestID) ([]request.ApprovalStep, error) {
	query := `SELECT ` + stepColumns + ` FROM approval_steps WHERE request_id = $1 ORDER BY step_number`
	rows, err := s.execer(ctx).QueryContext(ctx, query, int64(reqID))
	if err != nil {
		return nil, fmt.Errorf("list steps: %w", err)
	}
	return scanSteps(rows)
}

func (s *Steps) FindPendingForApprover(ctx context.Context, reqID id.RequestID, approver id.UserID) (request.ApprovalStep, error) {
	query := `
		SELECT ` + stepColumns + `
		FROM approval_steps
		WHERE request_id = $1 AND approver_id = $2 AND status = $3
		ORDER BY step_number
		LIMIT 1
	`
	row := s.execer(ctx).QueryRowContext(ctx, query,
		int64(reqID), int64(approver), string(request.StepPending))
	return scanStep(row)
}

func (s *Steps) ListPendingByApprover(ctx context.Context, approver id.UserID) ([]request.ApprovalStep, error) {
	query := `
		SELECT ` + stepColumns + `
		FROM approval_steps
		WHERE approver_id = $1 AND status = $2
		ORDER BY request_id DESC, step_number
	`
	rows, err := s.execer(ctx).QueryContext(ctx, query, int64(approver), string(request.StepPending))
	if err != nil {
		return nil, fmt.Errorf("list pending steps: %w", err)
	}
	return scanSteps(rows)
}

func (s *Steps) CountPendingByApprover(ctx context.Context, approver id.UserID) (int, error) {
	var n int
	err := s.execer(ctx).QueryRowContext(ctx,
		`SELECT COUNT(*) FROM approval_steps WHERE approver_id = $1 AND status = $2`,
		int64(approver), string(request.StepPending),
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count pending steps: %w", err)
	}
	return n, nil
}

func (s *Steps) Decide(ctx context.Context, stepID id.StepID, to request.StepStatus, at time.Time, comment string) (bool, error) {
	query := `
		UPDATE approval_steps
		SET status = $2, decided_at = $3, comment = $4
		WHERE id = $1 AND status = $5
	`
	res, err := s.execer(ctx).ExecContext(ctx, query,
		int64(stepID), string(to), at, comment, string(request.StepPending))
	if err != nil {
		return false, fmt.Errorf("decide step: %w", err)
	}
	return affected(res)
}

// Sequence implements request.SequenceStore over the request_counters table.
// The upsert takes a row lock, so concurrent callers serialize and each value
// is issued exactly once.
type Sequence struct {
	base
}

// NewSequence builds the request-number sequence store.
func NewSequence(db *sql.DB) *Sequence {
	return &Sequence{base{db: db}}
}

func (s *Sequence) Next(ctx context.Context, year int) (int64, error) {
	query := `
		INSERT INTO request_counters (year, last_value)
		VALUES ($1, 1)
		ON CONFLICT (year) DO UPDATE SET last_value = request_counters.last_value + 1
		RETURNING last_value
	`
	var n int64
	if err := s.execer(ctx).QueryRowContext(ctx, query, year).Scan(&n); err != nil {
		return 0, fmt.Errorf("next request number: %w", err)
	}
	return n, nil
}

// Comments implements request.CommentStore.
type Comments struct {
	base
}

// NewComments builds the comment store.
func NewComments(db *sql.DB) *Comments {
	return &Comments{base{db: db}}
}

func (s *Comments) Add(ctx context.Context, c *request.Comment) error {
	query := `
		INSERT INTO request_comments (request_id, user_id, body, created_at)
		VALUES ($1, $2, $3, $4)
		RETURNING id
	`
	err := s.execer(ctx).QueryRowContext(ctx, query,
		int64(c.RequestID), int64(c.UserID), c.Text, c.CreatedAt,
	).Scan(&c.ID)
	if err != nil {
		return fmt.Errorf("insert comment: %w", err)
	}
	return nil
}

func (s *Comments) ListByRequest(ctx context.Context, reqID id.RequestID) ([]request.Comment, error) {
	query := `
		SELECT id, request_id, user_id, body, created_at
		FROM request_comments
		WHERE request_id = $1
		ORDER BY id
	`
	rows, err := s.execer(ctx).QueryContext(ctx, query, int64(reqID))
	if err != nil {
		return nil, fmt.Errorf("list comments: %w", err)
	}
	defer rows.Close()
	var out []request.Comment
	for rows.Next() {
		var c request.Comment
		if err := rows.Scan(&c.ID, &c.RequestID, &c.UserID, &c.Text, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan comment: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// Chains implements request.ChainConfigStore.
type Chains struct {
	base
}

// NewChains builds the chain configuration store.
func NewChains(db *sql.DB) *Chains {
	return &Chains{base{db: db}}
}

func (s *Chains) Create(ctx context.Context, step *request.ChainStep) error {
	query := `
		INSERT INTO approval_chains (system_id, step_number, approver_id, approver_role, created_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id
	`
	err := s.execer(ctx).QueryRowContext(ctx, query,
		int64(step.SystemID), step.StepNumber, int64(step.ApproverID),
		step.ApproverRole, step.CreatedAt,
	).Scan(&step.ID)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && string(pqErr.Code) == uniqueViolation {
			return fmt.Errorf("insert chain step: %w", sentinel.ErrConflict)
		}
		return fmt.Errorf("insert chain step: %w", err)
	}
	return nil
}

func (s *Chains) Delete(ctx context.Context, chainID int64) error {
	res, err := s.execer(ctx).ExecContext(ctx, `DELETE FROM approval_chains WHERE id = $1`, chainID)
	if err != nil {
		return fmt.Errorf("delete chain step: %w", err)
	}
	if ok, err := affected(res); err != nil || !ok {
		if err != nil {
			return err
		}
		return sentinel.ErrNotFound
	}
	return nil
}

func (s *Chains) ListBySystem(ctx context.Context, system id.SystemID) ([]request.ChainStep, error) {
	query := `
		SELECT id, system_id, step_number, approver_id, approver_role, created_at
		FROM approval_chains
		WHERE system_id = $1
		ORDER BY step_number
	`
	rows, err := s.execer(ctx).QueryContext(ctx, query, int64(system))
	if err != nil {
		return nil, fmt.Errorf("list chain: %w", err)
	}
	defer rows.Close()
	var out []request.ChainStep
	for rows.Next() {
		var (
			step request.ChainStep
			role sql.NullString
		)
		if err := rows.Scan(&step.ID, &step.SystemID, &step.StepNumber,
			&step.ApproverID, &role, &step.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan chain step: %w", err)
		}
		step.ApproverRole = role.String
		out = append(out, step)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRequest(row rowScanner) (request.AccessRequest, error) {
	var (
		req       request.AccessRequest
		subsystem sql.NullInt64
	)
	err := row.Scan(
		&req.ID,
		&req.RequestNumber,
		&req.RequesterID,
		&req.TargetUserID,
		&req.SystemID,
		&subsystem,
		&req.RoleID,
		&req.Type,
		&req.Status,
		&req.Justification,
		&req.IsTemporary,
		&req.ValidFrom,
		&req.ValidUntil,
		&req.CurrentStep,
		&req.CreatedAt,
		&req.UpdatedAt,
		&req.SubmittedAt,
		&req.CompletedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return request.AccessRequest{}, sentinel.ErrNotFound
	}
	if err != nil {
		return request.AccessRequest{}, fmt.Errorf("scan request: %w", err)
	}
	req.SubsystemID = id.SubsystemID(subsystem.Int64)
	return req, nil
}

func scanRequests(rows *sql.Rows) ([]request.AccessRequest, error) {
	defer rows.Close()
	var out []request.AccessRequest
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, req)
	}
	return out, rows.Err()
}

func scanStep(row rowScanner) (request.ApprovalStep, error) {
	var (
		st      request.ApprovalStep
		role    sql.NullString
		comment sql.NullString
	)
	err := row.Scan(
		&st.ID,
		&st.RequestID,
		&st.StepNumber,
		&st.ApproverID,
		&role,
		&st.Status,
		&st.DecidedAt,
		&comment,
		&st.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return request.ApprovalStep{}, sentinel.ErrNotFound
	}
	if err != nil {
		return request.ApprovalStep{}, fmt.Errorf("scan step: %w", err)
	}
	st.ApproverRole = role.String
	st.Comment = comment.String
	return st, nil
}

func scanSteps(rows *sql.Rows) ([]request.ApprovalStep, error) {
	defer rows.Close()
	var out []request.ApprovalStep
	for rows.Next() {
		st, err := scanStep(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

func affected(res sql.Result) (bool, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n > 0, nil
}

func nullID(v int64) any {
	if v == 0 {
		return nil
	}
	return v
}
