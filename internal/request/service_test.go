package request_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"entitle/internal/audit"
	auditmem "entitle/internal/audit/store/memory"
	"entitle/internal/directory"
	"entitle/internal/request"
	"entitle/internal/request/chain"
	"entitle/internal/request/store/memory"
	"entitle/internal/sod"
	sodmem "entitle/internal/sod/store/memory"

	dErrors "entitle/pkg/domain-errors"
	id "entitle/pkg/domain"
	txcontext "entitle/pkg/platform/tx"
)

const (
	requesterID id.UserID = 1
	managerID   id.UserID = 2
	officerID   id.UserID = 3
	loneUserID  id.UserID = 9 // no manager
)

type fixture struct {
	svc   *request.Service
	store *memory.Store
	audit *audit.Service
	rules *sodmem.Store
	dir   *directory.StaticDirectory
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	dir := directory.NewStatic()
	dir.PutUser(directory.UserProfile{ID: requesterID, FullName: "Riley Chen", ManagerID: managerID, Active: true})
	dir.PutUser(directory.UserProfile{ID: managerID, FullName: "Morgan Hale", Active: true})
	dir.PutUser(directory.UserProfile{ID: officerID, FullName: "Sam Ortiz", Active: true, Admin: true})
	dir.PutUser(directory.UserProfile{ID: loneUserID, FullName: "Alex Reed", Active: true})
	dir.PutSystem(10, "Billing")
	dir.PutRole(100, "Payments Initiator")
	dir.PutRole(200, "Payments Approver")

	store := memory.New()
	rules := sodmem.New()
	checker, err := sod.NewService(rules, store.Requests(), dir)
	require.NoError(t, err)

	auditor := audit.NewService(auditmem.New())
	policy := chain.NewResolver(chain.NewConfigured(store.Chains()), chain.NewFallback(dir))

	svc, err := request.NewService(
		store.Requests(), store.Steps(), store, policy, txcontext.PassthroughRunner{},
		request.WithConflictChecker(checker),
		request.WithAuditor(auditor),
		request.WithDirectory(dir),
		request.WithComments(store.Comments()),
		request.WithChainConfig(store.Chains()),
	)
	require.NoError(t, err)

	return &fixture{svc: svc, store: store, audit: auditor, rules: rules, dir: dir}
}

func validInput() request.CreateInput {
	return request.CreateInput{
		RequesterID:   requesterID,
		TargetUserID:  requesterID,
		SystemID:      10,
		RoleID:        100,
		Type:          request.TypeNewAccess,
		Justification: "quarterly billing reconciliation duties",
	}
}

func (f *fixture) createSubmitted(t *testing.T) request.AccessRequest {
	t.Helper()
	ctx := context.Background()
	req, err := f.svc.Create(ctx, validInput())
	require.NoError(t, err)
	req, err = f.svc.Submit(ctx, req.ID, requesterID)
	require.NoError(t, err)
	return req
}

func TestCreateAssignsSequentialNumbers(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	year := time.Now().UTC().Year()

	first, err := f.svc.Create(ctx, validInput())
	require.NoError(t, err)
	second, err := f.svc.Create(ctx, validInput())
	require.NoError(t, err)

	assert.Equal(t, fmt.Sprintf("REQ-%d-00001", year), first.RequestNumber)
	assert.Equal(t, fmt.Sprintf("REQ-%d-00002", year), second.RequestNumber)
	assert.Equal(t, request.StatusDraft, first.Status)

	events, err := f.audit.List(ctx, audit.Filter{RequestID: first.ID})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, audit.ActionCreated, events[0].Action)
}

func TestCreateValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	future := time.Now().Add(24 * time.Hour)
	past := time.Now().Add(-24 * time.Hour)

	cases := []struct {
		name   string
		mutate func(*request.CreateInput)
	}{
		{"missing target", func(in *request.CreateInput) { in.TargetUserID = 0 }},
		{"missing system", func(in *request.CreateInput) { in.SystemID = 0 }},
		{"missing role", func(in *request.CreateInput) { in.RoleID = 0 }},
		{"unknown type", func(in *request.CreateInput) { in.Type = "emergency" }},
		{"short justification", func(in *request.CreateInput) { in.Justification = "because" }},
		{"whitespace justification", func(in *request.CreateInput) { in.Justification = "               " }},
		{"temporary without deadline", func(in *request.CreateInput) { in.IsTemporary = true }},
		{"temporary deadline in past", func(in *request.CreateInput) {
			in.IsTemporary = true
			in.ValidUntil = &past
		}},
		{"window inverted", func(in *request.CreateInput) {
			in.ValidFrom = &future
			until := past
			in.ValidUntil = &until
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			in := validInput()
			tc.mutate(&in)
			_, err := f.svc.Create(ctx, in)
			require.Error(t, err)
			assert.True(t, dErrors.IsCode(err, dErrors.CodeValidation), "got %v", err)
		})
	}
}

func TestCreateBlockedByHardConflict(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.rules.Create(ctx, sod.Rule{
		RoleA: 100, RoleB: 200,
		Name:     "initiate vs approve",
		Severity: sod.SeverityHardBlock,
		Active:   true,
	})
	require.NoError(t, err)

	// Target already holds the conflicting role through an approved request.
	held := request.AccessRequest{
		RequestNumber: "REQ-2020-00001",
		RequesterID:   requesterID,
		TargetUserID:  requesterID,
		SystemID:      10,
		RoleID:        200,
		Type:          request.TypeNewAccess,
		Status:        request.StatusApproved,
		Justification: "historical grant",
		CreatedAt:     time.Now().UTC(),
	}
	require.NoError(t, f.store.Requests().Create(ctx, &held))

	_, err = f.svc.Create(ctx, validInput())
	require.Error(t, err)
	assert.True(t, dErrors.IsCode(err, dErrors.CodeConflict))

	violations, ok := dErrors.DetailsOf(err).([]sod.Violation)
	require.True(t, ok)
	require.Len(t, violations, 1)
	assert.Equal(t, id.RoleID(200), violations[0].HeldRoleID)
}

func TestCreateProceedsOverWarning(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.rules.Create(ctx, sod.Rule{
		RoleA: 100, RoleB: 200,
		Name:     "watch pairing",
		Severity: sod.SeverityWarning,
		Active:   true,
	})
	require.NoError(t, err)

	held := request.AccessRequest{
		RequestNumber: "REQ-2020-00002",
		RequesterID:   requesterID,
		TargetUserID:  requesterID,
		SystemID:      10,
		RoleID:        200,
		Type:          request.TypeNewAccess,
		Status:        request.StatusImplemented,
		Justification: "historical grant",
		CreatedAt:     time.Now().UTC(),
	}
	require.NoError(t, f.store.Requests().Create(ctx, &held))

	req, err := f.svc.Create(ctx, validInput())
	require.NoError(t, err)
	assert.Equal(t, request.StatusDraft, req.Status)
}

func TestSubmitMaterializesFallbackChain(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	req, err := f.svc.Create(ctx, validInput())
	require.NoError(t, err)
	req, err = f.svc.Submit(ctx, req.ID, requesterID)
	require.NoError(t, err)

	assert.Equal(t, request.StatusInReview, req.Status)
	assert.Equal(t, 1, req.CurrentStep)
	require.NotNil(t, req.SubmittedAt)

	steps, err := f.store.Steps().ListByRequest(ctx, req.ID)
	require.NoError(t, err)
	require.Len(t, steps, 2)
	assert.Equal(t, managerID, steps[0].ApproverID)
	assert.Equal(t, "Manager", steps[0].ApproverRole)
	assert.Equal(t, officerID, steps[1].ApproverID)
	assert.Equal(t, "Security Officer", steps[1].ApproverRole)
	for _, st := range steps {
		assert.Equal(t, request.StepPending, st.Status)
	}
}

func TestSubmitAuthorization(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	req, err := f.svc.Create(ctx, validInput())
	require.NoError(t, err)

	_, err = f.svc.Submit(ctx, req.ID, managerID)
	require.Error(t, err)
	assert.True(t, dErrors.IsCode(err, dErrors.CodeAuthorization))

	// Second submit of the same request is a state error.
	_, err = f.svc.Submit(ctx, req.ID, requesterID)
	require.NoError(t, err)
	_, err = f.svc.Submit(ctx, req.ID, requesterID)
	require.Error(t, err)
	assert.True(t, dErrors.IsCode(err, dErrors.CodeInvalidState))
}

func TestSubmitWithConfiguredChainKeepsStepGaps(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for _, cs := range []request.ChainStep{
		{SystemID: 10, StepNumber: 5, ApproverID: officerID, ApproverRole: "System Owner"},
		{SystemID: 10, StepNumber: 9, ApproverID: managerID, ApproverRole: "Compliance"},
	} {
		step := cs
		step.CreatedAt = time.Now().UTC()
		require.NoError(t, f.store.Chains().Create(ctx, &step))
	}

	req, err := f.svc.Create(ctx, validInput())
	require.NoError(t, err)
	req, err = f.svc.Submit(ctx, req.ID, requesterID)
	require.NoError(t, err)

	assert.Equal(t, 5, req.CurrentStep)
	steps, err := f.store.Steps().ListByRequest(ctx, req.ID)
	require.NoError(t, err)
	require.Len(t, steps, 2)
	assert.Equal(t, 5, steps[0].StepNumber)
	assert.Equal(t, 9, steps[1].StepNumber)

	// Approving step 5 advances straight to step 9.
	out, err := f.svc.Decide(ctx, req.ID, officerID, request.DecisionApprove, "")
	require.NoError(t, err)
	assert.False(t, out.Final)
	assert.Equal(t, 9, out.Request.CurrentStep)
}

func TestSubmitWithEmptyChainStaysInReview(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	in := validInput()
	in.RequesterID = loneUserID
	in.TargetUserID = loneUserID
	// Remove the standing security officer so the fallback resolves nothing.
	f.dir.PutUser(directory.UserProfile{ID: officerID, FullName: "Sam Ortiz", Active: false, Admin: true})

	req, err := f.svc.Create(ctx, in)
	require.NoError(t, err)
	req, err = f.svc.Submit(ctx, req.ID, loneUserID)
	require.NoError(t, err)

	assert.Equal(t, request.StatusInReview, req.Status)
	assert.Equal(t, 0, req.CurrentStep)
	steps, err := f.store.Steps().ListByRequest(ctx, req.ID)
	require.NoError(t, err)
	assert.Empty(t, steps)
}

func TestDecideApproveAdvancesThenCompletes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	req := f.createSubmitted(t)

	out, err := f.svc.Decide(ctx, req.ID, managerID, request.DecisionApprove, "looks right")
	require.NoError(t, err)
	assert.False(t, out.Final)
	assert.Equal(t, request.StatusInReview, out.Request.Status)
	assert.Equal(t, 2, out.Request.CurrentStep)
	assert.Equal(t, request.StepApproved, out.Step.Status)

	out, err = f.svc.Decide(ctx, req.ID, officerID, request.DecisionApprove, "")
	require.NoError(t, err)
	assert.True(t, out.Final)
	assert.Equal(t, request.StatusApproved, out.Request.Status)
	require.NotNil(t, out.Request.CompletedAt)

	events, err := f.audit.List(ctx, audit.Filter{RequestID: req.ID})
	require.NoError(t, err)
	actions := make([]audit.Action, 0, len(events))
	for _, e := range events {
		actions = append(actions, e.Action)
	}
	assert.Contains(t, actions, audit.ActionApproved)
	assert.Contains(t, actions, audit.ActionFullyApproved)
}

func TestDecideRejectCompletesImmediately(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	req := f.createSubmitted(t)

	out, err := f.svc.Decide(ctx, req.ID, managerID, request.DecisionReject, "wrong role scope")
	require.NoError(t, err)
	assert.True(t, out.Final)
	assert.Equal(t, request.StatusRejected, out.Request.Status)
	require.NotNil(t, out.Request.CompletedAt)

	// The later step stays pending for the record; the terminal request
	// status makes it undecidable.
	steps, err := f.store.Steps().ListByRequest(ctx, req.ID)
	require.NoError(t, err)
	require.Len(t, steps, 2)
	assert.Equal(t, request.StepRejected, steps[0].Status)
	assert.Equal(t, request.StepPending, steps[1].Status)

	_, err = f.svc.Decide(ctx, req.ID, officerID, request.DecisionApprove, "")
	require.Error(t, err)
	assert.True(t, dErrors.IsCode(err, dErrors.CodeInvalidState))
}

func TestDecideRequiresPendingStep(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	req := f.createSubmitted(t)

	_, err := f.svc.Decide(ctx, req.ID, requesterID, request.DecisionApprove, "")
	require.Error(t, err)
	assert.True(t, dErrors.IsCode(err, dErrors.CodeAuthorization))

	_, err = f.svc.Decide(ctx, req.ID, managerID, "maybe", "")
	require.Error(t, err)
	assert.True(t, dErrors.IsCode(err, dErrors.CodeValidation))
}

func TestDecideExactlyOnceUnderConcurrency(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	req := f.createSubmitted(t)

	const attempts = 16
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
	)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.Decide(ctx, req.ID, managerID, request.DecisionApprove, "")
			if err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, succeeded)
	steps, err := f.store.Steps().ListByRequest(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, request.StepApproved, steps[0].Status)

	got, err := f.store.Requests().Get(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, got.CurrentStep)
}

func TestCancel(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	req, err := f.svc.Create(ctx, validInput())
	require.NoError(t, err)

	_, err = f.svc.Cancel(ctx, req.ID, managerID)
	require.Error(t, err)
	assert.True(t, dErrors.IsCode(err, dErrors.CodeAuthorization))

	cancelled, err := f.svc.Cancel(ctx, req.ID, requesterID)
	require.NoError(t, err)
	assert.Equal(t, request.StatusCancelled, cancelled.Status)

	_, err = f.svc.Submit(ctx, req.ID, requesterID)
	require.Error(t, err)
	assert.True(t, dErrors.IsCode(err, dErrors.CodeInvalidState))
}

func TestMarkImplemented(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	req := f.createSubmitted(t)

	_, err := f.svc.MarkImplemented(ctx, req.ID, officerID)
	require.Error(t, err)
	assert.True(t, dErrors.IsCode(err, dErrors.CodeInvalidState))

	_, err = f.svc.Decide(ctx, req.ID, managerID, request.DecisionApprove, "")
	require.NoError(t, err)
	_, err = f.svc.Decide(ctx, req.ID, officerID, request.DecisionApprove, "")
	require.NoError(t, err)

	implemented, err := f.svc.MarkImplemented(ctx, req.ID, officerID)
	require.NoError(t, err)
	assert.Equal(t, request.StatusImplemented, implemented.Status)
}

func TestGetEnrichesAndGuards(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	req := f.createSubmitted(t)

	detail, err := f.svc.Get(ctx, req.ID, managerID, false)
	require.NoError(t, err)
	assert.Equal(t, "Riley Chen", detail.RequesterName)
	assert.Equal(t, "Billing", detail.SystemName)
	assert.Equal(t, "Payments Initiator", detail.RoleName)
	require.Len(t, detail.Steps, 2)
	assert.Equal(t, "Morgan Hale", detail.Steps[0].ApproverName)

	_, err = f.svc.Get(ctx, req.ID, loneUserID, false)
	require.Error(t, err)
	assert.True(t, dErrors.IsCode(err, dErrors.CodeAuthorization))

	// Admin sees everything.
	_, err = f.svc.Get(ctx, req.ID, loneUserID, true)
	require.NoError(t, err)
}

func TestListPendingApprovalsTracksCurrentStep(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	req := f.createSubmitted(t)

	// The officer's step exists but the request is still at step 1.
	items, err := f.svc.ListPendingApprovals(ctx, officerID)
	require.NoError(t, err)
	assert.Empty(t, items)

	items, err = f.svc.ListPendingApprovals(ctx, managerID)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, req.ID, items[0].Request.ID)

	_, err = f.svc.Decide(ctx, req.ID, managerID, request.DecisionApprove, "")
	require.NoError(t, err)

	items, err = f.svc.ListPendingApprovals(ctx, officerID)
	require.NoError(t, err)
	require.Len(t, items, 1)
}

func TestAddCommentRequiresInvolvement(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	req := f.createSubmitted(t)

	c, err := f.svc.AddComment(ctx, req.ID, managerID, "need the cost center first")
	require.NoError(t, err)
	assert.NotZero(t, c.ID)

	_, err = f.svc.AddComment(ctx, req.ID, loneUserID, "drive-by")
	require.Error(t, err)
	assert.True(t, dErrors.IsCode(err, dErrors.CodeAuthorization))

	detail, err := f.svc.Get(ctx, req.ID, requesterID, false)
	require.NoError(t, err)
	require.Len(t, detail.Comments, 1)
	assert.Equal(t, "need the cost center first", detail.Comments[0].Text)
}

func TestStatistics(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Create(ctx, validInput())
	require.NoError(t, err)
	f.createSubmitted(t)

	stats, err := f.svc.Statistics(ctx, managerID)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Total)
	assert.Equal(t, 1, stats.PendingApproval)
	assert.Equal(t, 1, stats.MyPendingApprovals)
}

func TestChainStepAdministration(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	created, err := f.svc.CreateChainStep(ctx, officerID, request.ChainStep{
		SystemID: 10, StepNumber: 1, ApproverID: managerID, ApproverRole: "System Owner",
	})
	require.NoError(t, err)
	assert.NotZero(t, created.ID)

	_, err = f.svc.CreateChainStep(ctx, officerID, request.ChainStep{
		SystemID: 10, StepNumber: 1, ApproverID: officerID,
	})
	require.Error(t, err)
	assert.True(t, dErrors.IsCode(err, dErrors.CodeConflict))

	listed, err := f.svc.ListChain(ctx, 10)
	require.NoError(t, err)
	require.Len(t, listed, 1)

	require.NoError(t, f.svc.DeleteChainStep(ctx, officerID, created.ID))
	err = f.svc.DeleteChainStep(ctx, officerID, created.ID)
	require.Error(t, err)
	assert.True(t, dErrors.IsCode(err, dErrors.CodeNotFound))
}
