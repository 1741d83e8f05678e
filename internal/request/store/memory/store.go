// Package memory provides in-memory request workflow stores for development
// and tests. All guarded mutations take the same conditional form as the
// postgres implementation so race behavior matches.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	id "entitle/pkg/domain"
	"entitle/pkg/platform/sentinel"

	"entitle/internal/request"
)

// Store owns the shared state. The facade accessors expose it through the
// per-concern store interfaces.
type Store struct {
	mu sync.RWMutex

	requests map[id.RequestID]request.AccessRequest
	steps    map[id.StepID]request.ApprovalStep
	comments []request.Comment
	chains   map[int64]request.ChainStep
	counters map[int]int64 // year -> last issued value

	nextRequestID int64
	nextStepID    int64
	nextCommentID int64
	nextChainID   int64
}

// New builds an empty Store.
func New() *Store {
	return &Store{
		requests: make(map[id.RequestID]request.AccessRequest),
		steps:    make(map[id.StepID]request.ApprovalStep),
		chains:   make(map[int64]request.ChainStep),
		counters: make(map[int]int64),
	}
}

// Requests returns the AccessRequest facade.
func (s *Store) Requests() *Requests { return &Requests{s: s} }

// Steps returns the ApprovalStep facade.
func (s *Store) Steps() *Steps { return &Steps{s: s} }

// Comments returns the Comment facade.
func (s *Store) Comments() *Comments { return &Comments{s: s} }

// Chains returns the chain configuration facade.
func (s *Store) Chains() *Chains { return &Chains{s: s} }

// Next implements request.SequenceStore.
func (s *Store) Next(ctx context.Context, year int) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.counters[year]++
	return s.counters[year], nil
}

var (
	_ request.RequestStore     = (*Requests)(nil)
	_ request.StepStore        = (*Steps)(nil)
	_ request.SequenceStore    = (*Store)(nil)
	_ request.CommentStore     = (*Comments)(nil)
	_ request.ChainConfigStore = (*Chains)(nil)
)

// Requests implements request.RequestStore over the shared state.
type Requests struct {
	s *Store
}

func (r *Requests) Create(ctx context.Context, req *request.AccessRequest) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.nextRequestID++
	req.ID = id.RequestID(r.s.nextRequestID)
	r.s.requests[req.ID] = *req
	return nil
}

func (r *Requests) Get(ctx context.Context, reqID id.RequestID) (request.AccessRequest, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	req, ok := r.s.requests[reqID]
	if !ok {
		return request.AccessRequest{}, sentinel.ErrNotFound
	}
	return req, nil
}

func (r *Requests) GetByNumber(ctx context.Context, number string) (request.AccessRequest, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	for _, req := range r.s.requests {
		if req.RequestNumber == number {
			return req, nil
		}
	}
	return request.AccessRequest{}, sentinel.ErrNotFound
}

func (r *Requests) ListByRequester(ctx context.Context, requester id.UserID, f request.ListFilter) ([]request.AccessRequest, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	var out []request.AccessRequest
	for _, req := range r.s.requests {
		if req.RequesterID != requester {
			continue
		}
		if f.Status != "" && req.Status != f.Status {
			continue
		}
		out = append(out, req)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	if f.Offset > 0 {
		if f.Offset >= len(out) {
			return nil, nil
		}
		out = out[f.Offset:]
	}
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (r *Requests) ListByIDs(ctx context.Context, ids []id.RequestID) ([]request.AccessRequest, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	out := make([]request.AccessRequest, 0, len(ids))
	for _, reqID := range ids {
		if req, ok := r.s.requests[reqID]; ok {
			out = append(out, req)
		}
	}
	return out, nil
}

func (r *Requests) MarkSubmitted(ctx context.Context, reqID id.RequestID, at time.Time, currentStep int) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	req, ok := r.s.requests[reqID]
	if !ok || req.Status != request.StatusDraft {
		return false, nil
	}
	req.Status = request.StatusInReview
	req.SubmittedAt = &at
	req.UpdatedAt = &at
	req.CurrentStep = currentStep
	r.s.requests[reqID] = req
	return true, nil
}

func (r *Requests) SetCurrentStep(ctx context.Context, reqID id.RequestID, step int) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	req, ok := r.s.requests[reqID]
	if !ok {
		return sentinel.ErrNotFound
	}
	req.CurrentStep = step
	r.s.requests[reqID] = req
	return nil
}

func (r *Requests) Complete(ctx context.Context, reqID id.RequestID, to request.Status, at time.Time) (bool, error) {
	return r.transition(reqID, request.StatusInReview, to, &at)
}

func (r *Requests) Cancel(ctx context.Context, reqID id.RequestID, from request.Status) (bool, error) {
	return r.transition(reqID, from, request.StatusCancelled, nil)
}

func (r *Requests) MarkImplemented(ctx context.Context, reqID id.RequestID, at time.Time) (bool, error) {
	return r.transition(reqID, request.StatusApproved, request.StatusImplemented, nil)
}

func (r *Requests) Expire(ctx context.Context, reqID id.RequestID, at time.Time) (bool, error) {
	return r.transition(reqID, request.StatusImplemented, request.StatusExpired, &at)
}

func (r *Requests) transition(reqID id.RequestID, from, to request.Status, completedAt *time.Time) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	req, ok := r.s.requests[reqID]
	if !ok || req.Status != from {
		return false, nil
	}
	req.Status = to
	now := time.Now().UTC()
	req.UpdatedAt = &now
	if completedAt != nil {
		req.CompletedAt = completedAt
	}
	r.s.requests[reqID] = req
	return true, nil
}

func (r *Requests) FindExpired(ctx context.Context, asOf time.Time) ([]request.AccessRequest, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	var out []request.AccessRequest
	for _, req := range r.s.requests {
		if req.Status == request.StatusImplemented && req.IsTemporary &&
			req.ValidUntil != nil && req.ValidUntil.Before(asOf) {
			out = append(out, req)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *Requests) FindExpiringSoon(ctx context.Context, asOf time.Time, within time.Duration) ([]request.AccessRequest, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	deadline := asOf.Add(within)
	var out []request.AccessRequest
	for _, req := range r.s.requests {
		if req.Status != request.StatusImplemented || !req.IsTemporary || req.ValidUntil == nil {
			continue
		}
		if !req.ValidUntil.Before(asOf) && !req.ValidUntil.After(deadline) {
			out = append(out, req)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ValidUntil.Before(*out[j].ValidUntil) })
	return out, nil
}

func (r *Requests) HeldRoles(ctx context.Context, user id.UserID) ([]id.RoleID, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	seen := make(map[id.RoleID]bool)
	var out []id.RoleID
	for _, req := range r.s.requests {
		if req.TargetUserID != user {
			continue
		}
		if req.Status != request.StatusApproved && req.Status != request.StatusImplemented {
			continue
		}
		if !seen[req.RoleID] {
			seen[req.RoleID] = true
			out = append(out, req.RoleID)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

func (r *Requests) CountByStatus(ctx context.Context) (map[request.Status]int, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	counts := make(map[request.Status]int)
	for _, req := range r.s.requests {
		counts[req.Status]++
	}
	return counts, nil
}

func (r *Requests) CountTemporary(ctx context.Context) (int, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	n := 0
	for _, req := range r.s.requests {
		if req.Status == request.StatusImplemented && req.IsTemporary && req.ValidUntil != nil {
			n++
		}
	}
	return n, nil
}

// Steps implements request.StepStore over the shared state.
type Steps struct {
	s *Store
}

func (st *Steps) CreateBatch(ctx context.Context, steps []request.ApprovalStep) error {
	st.s.mu.Lock()
	defer st.s.mu.Unlock()
	for i := range steps {
		st.s.nextStepID++
		steps[i].ID = id.StepID(st.s.nextStepID)
		st.s.steps[steps[i].ID] = steps[i]
	}
	return nil
}

func (st *Steps) ListByRequest(ctx context.Context, reqID id.RequestID) ([]request.ApprovalStep, error) {
	st.s.mu.RLock()
	defer st.s.mu.RUnlock()
	var out []request.ApprovalStep
	for _, row := range st.s.steps {
		if row.RequestID == reqID {
			out = append(out, row)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StepNumber < out[j].StepNumber })
	return out, nil
}

func (st *Steps) FindPendingForApprover(ctx context.Context, reqID id.RequestID, approver id.UserID) (request.ApprovalStep, error) {
	st.s.mu.RLock()
	defer st.s.mu.RUnlock()
	var (
		best  request.ApprovalStep
		found bool
	)
	for _, row := range st.s.steps {
		if row.RequestID != reqID || row.ApproverID != approver || row.Status != request.StepPending {
			continue
		}
		if !found || row.StepNumber < best.StepNumber {
			best = row
			found = true
		}
	}
	if !found {
		return request.ApprovalStep{}, sentinel.ErrNotFound
	}
	return best, nil
}

func (st *Steps) ListPendingByApprover(ctx context.Context, approver id.UserID) ([]request.ApprovalStep, error) {
	st.s.mu.RLock()
	defer st.s.mu.RUnlock()
	var out []request.ApprovalStep
	for _, row := range st.s.steps {
		if row.ApproverID == approver && row.Status == request.StepPending {
			out = append(out, row)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RequestID > out[j].RequestID })
	return out, nil
}

func (st *Steps) CountPendingByApprover(ctx context.Context, approver id.UserID) (int, error) {
	rows, err := st.ListPendingByApprover(ctx, approver)
	return len(rows), err
}

func (st *Steps) Decide(ctx context.Context, stepID id.StepID, to request.StepStatus, at time.Time, comment string) (bool, error) {
	st.s.mu.Lock()
	defer st.s.mu.Unlock()
	row, ok := st.s.steps[stepID]
	if !ok || row.Status != request.StepPending {
		return false, nil
	}
	row.Status = to
	row.DecidedAt = &at
	row.Comment = comment
	st.s.steps[stepID] = row
	return true, nil
}

// Comments implements request.CommentStore over the shared state.
type Comments struct {
	s *Store
}

func (c *Comments) Add(ctx context.Context, comment *request.Comment) error {
	c.s.mu.Lock()
	defer c.s.mu.Unlock()
	c.s.nextCommentID++
	comment.ID = c.s.nextCommentID
	c.s.comments = append(c.s.comments, *comment)
	return nil
}

func (c *Comments) ListByRequest(ctx context.Context, reqID id.RequestID) ([]request.Comment, error) {
	c.s.mu.RLock()
	defer c.s.mu.RUnlock()
	var out []request.Comment
	for _, row := range c.s.comments {
		if row.RequestID == reqID {
			out = append(out, row)
		}
	}
	return out, nil
}

// Chains implements request.ChainConfigStore over the shared state.
type Chains struct {
	s *Store
}

func (c *Chains) Create(ctx context.Context, step *request.ChainStep) error {
	c.s.mu.Lock()
	defer c.s.mu.Unlock()
	for _, existing := range c.s.chains {
		if existing.SystemID == step.SystemID && existing.StepNumber == step.StepNumber {
			return sentinel.ErrConflict
		}
	}
	c.s.nextChainID++
	step.ID = c.s.nextChainID
	c.s.chains[step.ID] = *step
	return nil
}

func (c *Chains) Delete(ctx context.Context, chainID int64) error {
	c.s.mu.Lock()
	defer c.s.mu.Unlock()
	if _, ok := c.s.chains[chainID]; !ok {
		return sentinel.ErrNotFound
	}
	delete(c.s.chains, chainID)
	return nil
}

func (c *Chains) ListBySystem(ctx context.Context, system id.SystemID) ([]request.ChainStep, error) {
	c.s.mu.RLock()
	defer c.s.mu.RUnlock()
	var out []request.ChainStep
	for _, step := range c.s.chains {
		if step.SystemID == system {
			out = append(out, step)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StepNumber < out[j].StepNumber })
	return out, nil
}
