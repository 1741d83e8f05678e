package request

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	id "entitle/pkg/domain"
	dErrors "entitle/pkg/domain-errors"
	"entitle/pkg/platform/sentinel"
	txcontext "entitle/pkg/platform/tx"

	"entitle/internal/audit"
	"entitle/internal/directory"
	"entitle/internal/notify"
	"entitle/internal/request/metrics"
	"entitle/internal/sod"
)

// Clock abstracts time.Now for tests.
type Clock func() time.Time

// ConflictChecker gates request creation on segregation-of-duties rules.
type ConflictChecker interface {
	Check(ctx context.Context, userID id.UserID, roleID id.RoleID) (sod.CheckResult, error)
}

// Service drives the access-request lifecycle: creation behind the conflict
// gate, submission with chain materialization, step decisions, cancellation,
// and the read paths built on top.
type Service struct {
	requests RequestStore
	steps    StepStore
	seq      SequenceStore
	comments CommentStore
	chains   ChainConfigStore
	policy   ChainPolicy

	conflicts ConflictChecker
	auditor   *audit.Service
	notifier  notify.Notifier
	dir       directory.Directory
	runner    txcontext.Runner
	metrics   *metrics.Metrics
	logger    *slog.Logger
	clock     Clock

	numberPrefix     string
	minJustification int
}

// Option configures optional service collaborators.
type Option func(*Service)

// WithConflictChecker enables the SoD gate on creation.
func WithConflictChecker(c ConflictChecker) Option {
	return func(s *Service) { s.conflicts = c }
}

// WithAuditor enables audit ledger recording.
func WithAuditor(a *audit.Service) Option {
	return func(s *Service) { s.auditor = a }
}

// WithNotifier enables best-effort notifications on transitions.
func WithNotifier(n notify.Notifier) Option {
	return func(s *Service) { s.notifier = n }
}

// WithDirectory enables name enrichment on read paths.
func WithDirectory(d directory.Directory) Option {
	return func(s *Service) { s.dir = d }
}

// WithComments enables the comment thread on requests.
func WithComments(c CommentStore) Option {
	return func(s *Service) { s.comments = c }
}

// WithChainConfig enables per-system approval chain administration.
func WithChainConfig(c ChainConfigStore) Option {
	return func(s *Service) { s.chains = c }
}

// WithMetrics enables prometheus instrumentation.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// WithClock sets the clock function for testability.
func WithClock(c Clock) Option {
	return func(s *Service) { s.clock = c }
}

// WithNumberPrefix overrides the request number prefix (default "REQ").
func WithNumberPrefix(prefix string) Option {
	return func(s *Service) { s.numberPrefix = prefix }
}

// WithMinJustification overrides the minimum justification length.
func WithMinJustification(n int) Option {
	return func(s *Service) { s.minJustification = n }
}

// NewService builds the workflow service. The stores, chain policy and
// transaction runner are required; everything else is optional.
func NewService(requests RequestStore, steps StepStore, seq SequenceStore, policy ChainPolicy, runner txcontext.Runner, opts ...Option) (*Service, error) {
	if requests == nil {
		return nil, errors.New("request store is required")
	}
	if steps == nil {
		return nil, errors.New("step store is required")
	}
	if seq == nil {
		return nil, errors.New("sequence store is required")
	}
	if policy == nil {
		return nil, errors.New("chain policy is required")
	}
	if runner == nil {
		return nil, errors.New("tx runner is required")
	}
	s := &Service{
		requests:         requests,
		steps:            steps,
		seq:              seq,
		policy:           policy,
		runner:           runner,
		logger:           slog.Default(),
		clock:            time.Now,
		numberPrefix:     "REQ",
		minJustification: 10,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// CreateInput carries the fields of a new draft request.
type CreateInput struct {
	RequesterID   id.UserID
	TargetUserID  id.UserID
	SystemID      id.SystemID
	SubsystemID   id.SubsystemID
	RoleID        id.RoleID
	Type          Type
	Justification string
	IsTemporary   bool
	ValidFrom     *time.Time
	ValidUntil    *time.Time
}

func (in CreateInput) validate(minJustification int, now time.Time) error {
	if in.RequesterID.IsNil() {
		return dErrors.New(dErrors.CodeValidation, "requester is required")
	}
	if in.TargetUserID.IsNil() {
		return dErrors.New(dErrors.CodeValidation, "target user is required")
	}
	if in.SystemID.IsNil() {
		return dErrors.New(dErrors.CodeValidation, "system is required")
	}
	if in.RoleID.IsNil() {
		return dErrors.New(dErrors.CodeValidation, "role is required")
	}
	if !in.Type.IsValid() {
		return dErrors.Newf(dErrors.CodeValidation, "unknown request type %q", in.Type)
	}
	if len(strings.TrimSpace(in.Justification)) < minJustification {
		return dErrors.Newf(dErrors.CodeValidation, "justification must be at least %d characters", minJustification)
	}
	if in.IsTemporary || in.Type == TypeTemporaryAccess {
		if in.ValidUntil == nil {
			return dErrors.New(dErrors.CodeValidation, "temporary access requires valid_until")
		}
		if !in.ValidUntil.After(now) {
			return dErrors.New(dErrors.CodeValidation, "valid_until must be in the future")
		}
	}
	if in.ValidFrom != nil && in.ValidUntil != nil && !in.ValidUntil.After(*in.ValidFrom) {
		return dErrors.New(dErrors.CodeValidation, "valid_until must be after valid_from")
	}
	return nil
}

// Create validates the input, runs the conflict gate and persists a new
// DRAFT request with a freshly issued request number. A hard-block conflict
// rejects the creation with the violation detail attached; warnings pass
// because a justification is already mandatory.
func (s *Service) Create(ctx context.Context, in CreateInput) (AccessRequest, error) {
	now := s.clock().UTC()
	if err := in.validate(s.minJustification, now); err != nil {
		return AccessRequest{}, err
	}

	if s.conflicts != nil {
		check, err := s.conflicts.Check(ctx, in.TargetUserID, in.RoleID)
		if err != nil {
			return AccessRequest{}, fmt.Errorf("conflict check: %w", err)
		}
		if check.HardBlock {
			if s.metrics != nil {
				s.metrics.IncrementConflictBlock()
			}
			return AccessRequest{}, dErrors.New(dErrors.CodeConflict,
				"request blocked by segregation-of-duties conflict").WithDetails(check.Violations)
		}
		if len(check.Violations) > 0 {
			s.logger.WarnContext(ctx, "request proceeds over conflict warnings",
				"target_user_id", in.TargetUserID, "role_id", in.RoleID,
				"violations", len(check.Violations))
		}
	}

	temporary := in.IsTemporary || in.Type == TypeTemporaryAccess
	req := AccessRequest{
		RequesterID:   in.RequesterID,
		TargetUserID:  in.TargetUserID,
		SystemID:      in.SystemID,
		SubsystemID:   in.SubsystemID,
		RoleID:        in.RoleID,
		Type:          in.Type,
		Status:        StatusDraft,
		Justification: strings.TrimSpace(in.Justification),
		IsTemporary:   temporary,
		ValidFrom:     in.ValidFrom,
		ValidUntil:    in.ValidUntil,
		CreatedAt:     now,
	}

	err := s.runner.RunInTx(ctx, func(ctx context.Context) error {
		n, err := s.seq.Next(ctx, now.Year())
		if err != nil {
			return fmt.Errorf("issue request number: %w", err)
		}
		req.RequestNumber = FormatNumber(s.numberPrefix, now.Year(), n)
		if err := s.requests.Create(ctx, &req); err != nil {
			return fmt.Errorf("create request: %w", err)
		}
		return s.record(ctx, req.ID, in.RequesterID, audit.ActionCreated,
			fmt.Sprintf("request %s created", req.RequestNumber))
	})
	if err != nil {
		return AccessRequest{}, err
	}

	if s.metrics != nil {
		s.metrics.IncrementCreated()
	}
	s.logger.InfoContext(ctx, "access request created",
		"request_id", req.ID, "request_number", req.RequestNumber,
		"requester_id", in.RequesterID, "role_id", in.RoleID)
	return req, nil
}

// Submit moves the requester's DRAFT request into review, resolving and
// materializing its approval chain in the same transaction. The first-step
// approvers are notified after commit, best effort.
func (s *Service) Submit(ctx context.Context, reqID id.RequestID, actor id.UserID) (AccessRequest, error) {
	now := s.clock().UTC()

	var (
		req   AccessRequest
		first []ApprovalStep
	)
	err := s.runner.RunInTx(ctx, func(ctx context.Context) error {
		var err error
		req, err = s.getRequest(ctx, reqID)
		if err != nil {
			return err
		}
		if req.RequesterID != actor {
			return dErrors.New(dErrors.CodeAuthorization, "only the requester can submit")
		}
		if req.Status != StatusDraft {
			return dErrors.Newf(dErrors.CodeInvalidState, "cannot submit request in status %q", req.Status)
		}

		stages, err := s.policy.Resolve(ctx, req)
		if err != nil {
			return fmt.Errorf("resolve approval chain: %w", err)
		}
		steps := make([]ApprovalStep, 0, len(stages))
		for _, st := range stages {
			steps = append(steps, ApprovalStep{
				RequestID:    req.ID,
				StepNumber:   st.StepNumber,
				ApproverID:   st.ApproverID,
				ApproverRole: st.ApproverRole,
				Status:       StepPending,
				CreatedAt:    now,
			})
		}
		if len(steps) > 0 {
			if err := s.steps.CreateBatch(ctx, steps); err != nil {
				return fmt.Errorf("create approval steps: %w", err)
			}
		}

		current := 0
		if len(steps) > 0 {
			current = steps[0].StepNumber
			for _, st := range steps[1:] {
				if st.StepNumber < current {
					current = st.StepNumber
				}
			}
		}

		ok, err := s.requests.MarkSubmitted(ctx, req.ID, now, current)
		if err != nil {
			return fmt.Errorf("mark submitted: %w", err)
		}
		if !ok {
			return dErrors.New(dErrors.CodeInvalidState, "request was submitted concurrently")
		}
		req.Status = StatusInReview
		req.SubmittedAt = &now
		req.CurrentStep = current

		for _, st := range steps {
			if st.StepNumber == current {
				first = append(first, st)
			}
		}
		return s.record(ctx, req.ID, actor, audit.ActionSubmitted,
			fmt.Sprintf("submitted with %d approval steps", len(steps)))
	})
	if err != nil {
		return AccessRequest{}, err
	}

	if s.metrics != nil {
		s.metrics.IncrementSubmitted()
	}
	for _, st := range first {
		s.notifyApprover(ctx, st.ApproverID, req)
	}
	if len(first) == 0 {
		s.logger.WarnContext(ctx, "request submitted with empty approval chain",
			"request_id", req.ID, "request_number", req.RequestNumber)
	}
	return req, nil
}

// DecisionOutcome reports what Decide did to the request.
type DecisionOutcome struct {
	Request AccessRequest
	Step    ApprovalStep
	// Final is set when the decision completed the request (fully approved
	// or rejected).
	Final bool
}

// Decide records the actor's verdict on their pending step. Each step is
// decided exactly once: a concurrent second decision loses the conditional
// update and gets a conflict error. Approving the last pending step completes
// the request; a rejection completes it immediately, leaving later steps
// pending for the record.
func (s *Service) Decide(ctx context.Context, reqID id.RequestID, actor id.UserID, decision Decision, comment string) (DecisionOutcome, error) {
	start := time.Now()
	if !decision.IsValid() {
		return DecisionOutcome{}, dErrors.Newf(dErrors.CodeValidation, "unknown decision %q", decision)
	}
	now := s.clock().UTC()

	var out DecisionOutcome
	err := s.runner.RunInTx(ctx, func(ctx context.Context) error {
		req, err := s.getRequest(ctx, reqID)
		if err != nil {
			return err
		}
		if req.Status != StatusInReview {
			return dErrors.Newf(dErrors.CodeInvalidState, "request in status %q is not awaiting decision", req.Status)
		}

		step, err := s.steps.FindPendingForApprover(ctx, reqID, actor)
		if err != nil {
			if errors.Is(err, sentinel.ErrNotFound) {
				return dErrors.New(dErrors.CodeAuthorization, "no pending approval step for this user")
			}
			return fmt.Errorf("find pending step: %w", err)
		}

		to := StepApproved
		if decision == DecisionReject {
			to = StepRejected
		}
		ok, err := s.steps.Decide(ctx, step.ID, to, now, comment)
		if err != nil {
			return fmt.Errorf("decide step: %w", err)
		}
		if !ok {
			return dErrors.Wrap(sentinel.ErrAlreadyDecided, dErrors.CodeConflict, "step was decided concurrently")
		}
		step.Status = to
		step.DecidedAt = &now
		step.Comment = comment
		out.Step = step

		if decision == DecisionReject {
			ok, err := s.requests.Complete(ctx, reqID, StatusRejected, now)
			if err != nil {
				return fmt.Errorf("complete request: %w", err)
			}
			if !ok {
				return dErrors.New(dErrors.CodeConflict, "request was completed concurrently")
			}
			req.Status = StatusRejected
			req.CompletedAt = &now
			out.Request = req
			out.Final = true
			detail := fmt.Sprintf("rejected at step %d", step.StepNumber)
			if comment != "" {
				detail += ": " + comment
			}
			return s.record(ctx, reqID, actor, audit.ActionRejected, detail)
		}

		next, found, err := s.nextPendingStep(ctx, reqID, step.StepNumber)
		if err != nil {
			return err
		}
		if found {
			if err := s.requests.SetCurrentStep(ctx, reqID, next.StepNumber); err != nil {
				return fmt.Errorf("advance current step: %w", err)
			}
			req.CurrentStep = next.StepNumber
			out.Request = req
			return s.record(ctx, reqID, actor, audit.ActionApproved,
				fmt.Sprintf("approved step %d, advanced to step %d", step.StepNumber, next.StepNumber))
		}

		ok, err = s.requests.Complete(ctx, reqID, StatusApproved, now)
		if err != nil {
			return fmt.Errorf("complete request: %w", err)
		}
		if !ok {
			return dErrors.New(dErrors.CodeConflict, "request was completed concurrently")
		}
		req.Status = StatusApproved
		req.CompletedAt = &now
		out.Request = req
		out.Final = true
		return s.record(ctx, reqID, actor, audit.ActionFullyApproved,
			fmt.Sprintf("approved at final step %d", step.StepNumber))
	})
	if err != nil {
		return DecisionOutcome{}, err
	}

	if s.metrics != nil {
		s.metrics.IncrementDecision(string(decision))
		s.metrics.ObserveDecide(start)
	}
	s.afterDecision(ctx, out)
	return out, nil
}

// nextPendingStep returns the pending step with the smallest step number
// strictly greater than after.
func (s *Service) nextPendingStep(ctx context.Context, reqID id.RequestID, after int) (ApprovalStep, bool, error) {
	all, err := s.steps.ListByRequest(ctx, reqID)
	if err != nil {
		return ApprovalStep{}, false, fmt.Errorf("list steps: %w", err)
	}
	var (
		next  ApprovalStep
		found bool
	)
	for _, st := range all {
		if st.Status != StepPending || st.StepNumber <= after {
			continue
		}
		if !found || st.StepNumber < next.StepNumber {
			next = st
			found = true
		}
	}
	return next, found, nil
}

func (s *Service) afterDecision(ctx context.Context, out DecisionOutcome) {
	req := out.Request
	switch {
	case out.Final && req.Status == StatusApproved:
		s.notifyRequester(ctx, req, "Request approved",
			fmt.Sprintf("Request %s is fully approved.", req.RequestNumber))
	case out.Final && req.Status == StatusRejected:
		s.notifyRequester(ctx, req, "Request rejected",
			fmt.Sprintf("Request %s was rejected at step %d.", req.RequestNumber, out.Step.StepNumber))
	default:
		next, found, err := s.nextPendingStep(ctx, req.ID, out.Step.StepNumber)
		if err == nil && found {
			s.notifyApprover(ctx, next.ApproverID, req)
		}
	}
}

// Cancel withdraws the requester's own DRAFT or IN_REVIEW request. Pending
// steps stay in place; the terminal request status makes them undecidable.
func (s *Service) Cancel(ctx context.Context, reqID id.RequestID, actor id.UserID) (AccessRequest, error) {
	var req AccessRequest
	err := s.runner.RunInTx(ctx, func(ctx context.Context) error {
		var err error
		req, err = s.getRequest(ctx, reqID)
		if err != nil {
			return err
		}
		if req.RequesterID != actor {
			return dErrors.New(dErrors.CodeAuthorization, "only the requester can cancel")
		}
		if req.Status != StatusDraft && req.Status != StatusInReview {
			return dErrors.Newf(dErrors.CodeInvalidState, "cannot cancel request in status %q", req.Status)
		}
		ok, err := s.requests.Cancel(ctx, reqID, req.Status)
		if err != nil {
			return fmt.Errorf("cancel request: %w", err)
		}
		if !ok {
			return dErrors.New(dErrors.CodeConflict, "request changed concurrently")
		}
		req.Status = StatusCancelled
		return s.record(ctx, reqID, actor, audit.ActionCancelled, "cancelled by requester")
	})
	if err != nil {
		return AccessRequest{}, err
	}
	return req, nil
}

// MarkImplemented records that provisioning made an APPROVED grant live.
// Restricted to administrators by the transport layer.
func (s *Service) MarkImplemented(ctx context.Context, reqID id.RequestID, actor id.UserID) (AccessRequest, error) {
	now := s.clock().UTC()
	var req AccessRequest
	err := s.runner.RunInTx(ctx, func(ctx context.Context) error {
		var err error
		req, err = s.getRequest(ctx, reqID)
		if err != nil {
			return err
		}
		if req.Status != StatusApproved {
			return dErrors.Newf(dErrors.CodeInvalidState, "cannot implement request in status %q", req.Status)
		}
		ok, err := s.requests.MarkImplemented(ctx, reqID, now)
		if err != nil {
			return fmt.Errorf("mark implemented: %w", err)
		}
		if !ok {
			return dErrors.New(dErrors.CodeConflict, "request changed concurrently")
		}
		req.Status = StatusImplemented
		return s.record(ctx, reqID, actor, audit.ActionImplemented, "access provisioned")
	})
	if err != nil {
		return AccessRequest{}, err
	}
	return req, nil
}

// StepDetail is an ApprovalStep enriched with the approver's display name.
type StepDetail struct {
	ApprovalStep
	ApproverName string
}

// Detail is the full read model of one request: the row itself, display
// names resolved from the directory, the step chain and the comment thread.
type Detail struct {
	AccessRequest
	RequesterName  string
	TargetUserName string
	SystemName     string
	SubsystemName  string
	RoleName       string
	Steps          []StepDetail
	Comments       []Comment
}

// Get returns the enriched request. Visible to the requester, the target
// user, any approver on its chain, and administrators.
func (s *Service) Get(ctx context.Context, reqID id.RequestID, actor id.UserID, admin bool) (Detail, error) {
	req, err := s.getRequest(ctx, reqID)
	if err != nil {
		return Detail{}, err
	}
	steps, err := s.steps.ListByRequest(ctx, reqID)
	if err != nil {
		return Detail{}, fmt.Errorf("list steps: %w", err)
	}
	if !admin && !involved(req, steps, actor) {
		return Detail{}, dErrors.New(dErrors.CodeAuthorization, "not involved in this request")
	}

	d := Detail{AccessRequest: req}
	sort.Slice(steps, func(i, j int) bool { return steps[i].StepNumber < steps[j].StepNumber })
	for _, st := range steps {
		d.Steps = append(d.Steps, StepDetail{
			ApprovalStep: st,
			ApproverName: s.userName(ctx, st.ApproverID),
		})
	}
	if s.comments != nil {
		d.Comments, err = s.comments.ListByRequest(ctx, reqID)
		if err != nil {
			return Detail{}, fmt.Errorf("list comments: %w", err)
		}
	}
	if s.dir != nil {
		d.RequesterName = s.userName(ctx, req.RequesterID)
		d.TargetUserName = s.userName(ctx, req.TargetUserID)
		name, err := s.dir.SystemName(ctx, req.SystemID)
		d.SystemName = directory.DisplayName(name, err)
		if !req.SubsystemID.IsNil() {
			name, err = s.dir.SubsystemName(ctx, req.SubsystemID)
			d.SubsystemName = directory.DisplayName(name, err)
		}
		name, err = s.dir.RoleName(ctx, req.RoleID)
		d.RoleName = directory.DisplayName(name, err)
	}
	return d, nil
}

func involved(req AccessRequest, steps []ApprovalStep, actor id.UserID) bool {
	if req.RequesterID == actor || req.TargetUserID == actor {
		return true
	}
	for _, st := range steps {
		if st.ApproverID == actor {
			return true
		}
	}
	return false
}

// ListMine returns the actor's own requests, newest first.
func (s *Service) ListMine(ctx context.Context, actor id.UserID, f ListFilter) ([]AccessRequest, error) {
	reqs, err := s.requests.ListByRequester(ctx, actor, f)
	if err != nil {
		return nil, fmt.Errorf("list requests: %w", err)
	}
	return reqs, nil
}

// ApprovalItem pairs a pending step with its request for the approver inbox.
type ApprovalItem struct {
	Step    ApprovalStep
	Request AccessRequest
}

// ListPendingApprovals returns the actor's approval inbox: every pending
// step assigned to them whose request is currently at that step.
func (s *Service) ListPendingApprovals(ctx context.Context, actor id.UserID) ([]ApprovalItem, error) {
	steps, err := s.steps.ListPendingByApprover(ctx, actor)
	if err != nil {
		return nil, fmt.Errorf("list pending steps: %w", err)
	}
	if len(steps) == 0 {
		return nil, nil
	}
	ids := make([]id.RequestID, 0, len(steps))
	for _, st := range steps {
		ids = append(ids, st.RequestID)
	}
	reqs, err := s.requests.ListByIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("load requests: %w", err)
	}
	byID := make(map[id.RequestID]AccessRequest, len(reqs))
	for _, r := range reqs {
		byID[r.ID] = r
	}
	var items []ApprovalItem
	for _, st := range steps {
		req, ok := byID[st.RequestID]
		if !ok || req.Status != StatusInReview || req.CurrentStep != st.StepNumber {
			continue
		}
		items = append(items, ApprovalItem{Step: st, Request: req})
	}
	return items, nil
}

// AddComment appends a remark to a request the actor is involved in.
func (s *Service) AddComment(ctx context.Context, reqID id.RequestID, actor id.UserID, text string) (Comment, error) {
	if s.comments == nil {
		return Comment{}, dErrors.New(dErrors.CodeInternal, "comments are not enabled")
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return Comment{}, dErrors.New(dErrors.CodeValidation, "comment text is required")
	}
	req, err := s.getRequest(ctx, reqID)
	if err != nil {
		return Comment{}, err
	}
	steps, err := s.steps.ListByRequest(ctx, reqID)
	if err != nil {
		return Comment{}, fmt.Errorf("list steps: %w", err)
	}
	if !involved(req, steps, actor) {
		return Comment{}, dErrors.New(dErrors.CodeAuthorization, "not involved in this request")
	}

	c := Comment{RequestID: reqID, UserID: actor, Text: text, CreatedAt: s.clock().UTC()}
	err = s.runner.RunInTx(ctx, func(ctx context.Context) error {
		if err := s.comments.Add(ctx, &c); err != nil {
			return fmt.Errorf("add comment: %w", err)
		}
		return s.record(ctx, reqID, actor, audit.ActionCommented, text)
	})
	if err != nil {
		return Comment{}, err
	}
	return c, nil
}

// Statistics summarizes the population plus the actor's own inbox size.
func (s *Service) Statistics(ctx context.Context, actor id.UserID) (Statistics, error) {
	counts, err := s.requests.CountByStatus(ctx)
	if err != nil {
		return Statistics{}, fmt.Errorf("count requests: %w", err)
	}
	mine, err := s.steps.CountPendingByApprover(ctx, actor)
	if err != nil {
		return Statistics{}, fmt.Errorf("count pending approvals: %w", err)
	}
	stats := Statistics{
		PendingApproval:    counts[StatusInReview],
		Approved:           counts[StatusApproved],
		Rejected:           counts[StatusRejected],
		Implemented:        counts[StatusImplemented],
		MyPendingApprovals: mine,
	}
	for _, n := range counts {
		stats.Total += n
	}
	return stats, nil
}

// CreateChainStep adds one configured stage to a system's approval route.
func (s *Service) CreateChainStep(ctx context.Context, actor id.UserID, step ChainStep) (ChainStep, error) {
	if s.chains == nil {
		return ChainStep{}, dErrors.New(dErrors.CodeInternal, "chain configuration is not enabled")
	}
	if step.SystemID.IsNil() {
		return ChainStep{}, dErrors.New(dErrors.CodeValidation, "system is required")
	}
	if step.StepNumber <= 0 {
		return ChainStep{}, dErrors.New(dErrors.CodeValidation, "step number must be positive")
	}
	if step.ApproverID.IsNil() {
		return ChainStep{}, dErrors.New(dErrors.CodeValidation, "approver is required")
	}
	step.CreatedAt = s.clock().UTC()
	err := s.runner.RunInTx(ctx, func(ctx context.Context) error {
		if err := s.chains.Create(ctx, &step); err != nil {
			if errors.Is(err, sentinel.ErrConflict) {
				return dErrors.Newf(dErrors.CodeConflict, "step %d already configured for this system", step.StepNumber)
			}
			return fmt.Errorf("create chain step: %w", err)
		}
		return s.record(ctx, 0, actor, audit.ActionChainStepCreated,
			fmt.Sprintf("system %s step %d -> approver %s", step.SystemID, step.StepNumber, step.ApproverID))
	})
	if err != nil {
		return ChainStep{}, err
	}
	return step, nil
}

// DeleteChainStep removes one configured stage. Requests already submitted
// keep the steps they materialized.
func (s *Service) DeleteChainStep(ctx context.Context, actor id.UserID, chainID int64) error {
	if s.chains == nil {
		return dErrors.New(dErrors.CodeInternal, "chain configuration is not enabled")
	}
	return s.runner.RunInTx(ctx, func(ctx context.Context) error {
		if err := s.chains.Delete(ctx, chainID); err != nil {
			if errors.Is(err, sentinel.ErrNotFound) {
				return dErrors.New(dErrors.CodeNotFound, "chain step not found")
			}
			return fmt.Errorf("delete chain step: %w", err)
		}
		return s.record(ctx, 0, actor, audit.ActionChainStepDeleted, fmt.Sprintf("chain step %d removed", chainID))
	})
}

// ListChain returns a system's configured route ordered by step number.
func (s *Service) ListChain(ctx context.Context, system id.SystemID) ([]ChainStep, error) {
	if s.chains == nil {
		return nil, nil
	}
	rows, err := s.chains.ListBySystem(ctx, system)
	if err != nil {
		return nil, fmt.Errorf("list chain: %w", err)
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].StepNumber < rows[j].StepNumber })
	return rows, nil
}

func (s *Service) getRequest(ctx context.Context, reqID id.RequestID) (AccessRequest, error) {
	req, err := s.requests.Get(ctx, reqID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return AccessRequest{}, dErrors.New(dErrors.CodeNotFound, "request not found")
		}
		return AccessRequest{}, fmt.Errorf("get request: %w", err)
	}
	return req, nil
}

func (s *Service) record(ctx context.Context, reqID id.RequestID, actor id.UserID, action audit.Action, detail string) error {
	if s.auditor == nil {
		return nil
	}
	return s.auditor.Record(ctx, reqID, actor, action, detail)
}

func (s *Service) userName(ctx context.Context, userID id.UserID) string {
	if s.dir == nil {
		return directory.Placeholder
	}
	profile, err := s.dir.LookupUser(ctx, userID)
	return directory.DisplayName(profile.FullName, err)
}

func (s *Service) notifyApprover(ctx context.Context, approver id.UserID, req AccessRequest) {
	notify.Dispatch(ctx, s.logger, s.notifier, notify.Message{
		UserID: approver,
		Title:  "Approval required",
		Body:   fmt.Sprintf("Request %s is waiting for your decision.", req.RequestNumber),
		Link:   fmt.Sprintf("/requests/%s", req.ID),
	})
}

func (s *Service) notifyRequester(ctx context.Context, req AccessRequest, title, body string) {
	notify.Dispatch(ctx, s.logger, s.notifier, notify.Message{
		UserID: req.RequesterID,
		Title:  title,
		Body:   body,
		Link:   fmt.Sprintf("/requests/%s", req.ID),
	})
}
