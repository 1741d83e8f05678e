package sod_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"entitle/internal/directory"
	"entitle/internal/sod"
	"entitle/internal/sod/store/memory"

	dErrors "entitle/pkg/domain-errors"
	id "entitle/pkg/domain"
)

type heldStub map[id.UserID][]id.RoleID

func (h heldStub) HeldRoles(_ context.Context, userID id.UserID) ([]id.RoleID, error) {
	return h[userID], nil
}

func newService(t *testing.T, held heldStub) (*sod.Service, *memory.Store) {
	t.Helper()
	store := memory.New()
	dir := directory.NewStatic()
	dir.PutRole(1, "Payments Initiator")
	dir.PutRole(2, "Payments Approver")
	dir.PutRole(3, "Auditor")
	svc, err := sod.NewService(store, held, dir)
	require.NoError(t, err)
	return svc, store
}

func mustCreate(t *testing.T, store *memory.Store, rule sod.Rule) sod.Rule {
	t.Helper()
	created, err := store.Create(context.Background(), rule)
	require.NoError(t, err)
	return created
}

func TestCheckHardBlock(t *testing.T) {
	svc, store := newService(t, heldStub{7: {2}})
	mustCreate(t, store, sod.Rule{
		RoleA: 1, RoleB: 2,
		Name:     "initiate vs approve",
		Severity: sod.SeverityHardBlock,
		Active:   true,
	})

	result, err := svc.Check(context.Background(), 7, 1)
	require.NoError(t, err)
	assert.True(t, result.HardBlock)
	assert.False(t, result.CanProceedWithJustification)
	require.Len(t, result.Violations, 1)
	assert.Equal(t, id.RoleID(1), result.Violations[0].RequestedRoleID)
	assert.Equal(t, id.RoleID(2), result.Violations[0].HeldRoleID)
	assert.Equal(t, "Payments Initiator", result.Violations[0].RequestedRoleName)
	assert.Equal(t, "Payments Approver", result.Violations[0].HeldRoleName)
}

func TestCheckWarningAllowsJustifiedProceed(t *testing.T) {
	svc, store := newService(t, heldStub{7: {3}})
	mustCreate(t, store, sod.Rule{
		RoleA: 1, RoleB: 3,
		Name:     "initiator audits own trail",
		Severity: sod.SeverityWarning,
		Active:   true,
	})

	result, err := svc.Check(context.Background(), 7, 1)
	require.NoError(t, err)
	assert.False(t, result.HardBlock)
	assert.True(t, result.CanProceedWithJustification)
	assert.Len(t, result.Violations, 1)
}

func TestCheckEmptyHeldSet(t *testing.T) {
	svc, store := newService(t, heldStub{})
	mustCreate(t, store, sod.Rule{
		RoleA: 1, RoleB: 2,
		Name:     "initiate vs approve",
		Severity: sod.SeverityHardBlock,
		Active:   true,
	})

	result, err := svc.Check(context.Background(), 7, 1)
	require.NoError(t, err)
	assert.Empty(t, result.Violations)
	assert.False(t, result.HardBlock)
	assert.False(t, result.CanProceedWithJustification)
}

func TestCheckIgnoresInactiveRules(t *testing.T) {
	svc, store := newService(t, heldStub{7: {2}})
	mustCreate(t, store, sod.Rule{
		RoleA: 1, RoleB: 2,
		Name:     "disabled rule",
		Severity: sod.SeverityHardBlock,
	})

	result, err := svc.Check(context.Background(), 7, 1)
	require.NoError(t, err)
	assert.Empty(t, result.Violations)
}

func TestCheckMatchesPairInEitherOrder(t *testing.T) {
	svc, store := newService(t, heldStub{7: {1}})
	mustCreate(t, store, sod.Rule{
		RoleA: 1, RoleB: 2,
		Name:     "initiate vs approve",
		Severity: sod.SeverityHardBlock,
		Active:   true,
	})

	// Requesting role 2 while holding role 1 hits the same rule.
	result, err := svc.Check(context.Background(), 7, 2)
	require.NoError(t, err)
	assert.True(t, result.HardBlock)
}

func TestCheckBulkReportsInterViolations(t *testing.T) {
	svc, store := newService(t, heldStub{7: nil})
	mustCreate(t, store, sod.Rule{
		RoleA: 1, RoleB: 2,
		Name:     "initiate vs approve",
		Severity: sod.SeverityHardBlock,
		Active:   true,
	})

	// Neither candidate conflicts with held roles, but they conflict with
	// each other.
	result, err := svc.CheckBulk(context.Background(), 7, []id.RoleID{1, 2})
	require.NoError(t, err)
	assert.Empty(t, result.Violations)
	require.Len(t, result.InterViolations, 1)
	assert.True(t, result.HardBlock)
}

func TestCreateRuleNormalizesAndRejectsDuplicates(t *testing.T) {
	svc, _ := newService(t, heldStub{})
	ctx := context.Background()

	created, err := svc.CreateRule(ctx, sod.Rule{
		RoleA: 2, RoleB: 1,
		Name:     "initiate vs approve",
		Severity: sod.SeverityHardBlock,
	})
	require.NoError(t, err)
	assert.Equal(t, id.RoleID(1), created.RoleA)
	assert.Equal(t, id.RoleID(2), created.RoleB)
	assert.True(t, created.Active)

	// Same pair in the original order is the same rule.
	_, err = svc.CreateRule(ctx, sod.Rule{
		RoleA: 1, RoleB: 2,
		Name:     "duplicate",
		Severity: sod.SeverityWarning,
	})
	require.Error(t, err)
	assert.True(t, dErrors.IsCode(err, dErrors.CodeConflict))
}

func TestCreateRuleValidation(t *testing.T) {
	svc, _ := newService(t, heldStub{})
	ctx := context.Background()

	cases := []struct {
		name string
		rule sod.Rule
	}{
		{"missing roles", sod.Rule{Name: "x", Severity: sod.SeverityWarning}},
		{"self pair", sod.Rule{RoleA: 1, RoleB: 1, Name: "x", Severity: sod.SeverityWarning}},
		{"missing name", sod.Rule{RoleA: 1, RoleB: 2, Severity: sod.SeverityWarning}},
		{"bad severity", sod.Rule{RoleA: 1, RoleB: 2, Name: "x", Severity: "fatal"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.CreateRule(ctx, tc.rule)
			require.Error(t, err)
			assert.True(t, dErrors.IsCode(err, dErrors.CodeValidation))
		})
	}
}

func TestUpdateRuleKeepsPairImmutable(t *testing.T) {
	svc, _ := newService(t, heldStub{})
	ctx := context.Background()

	created, err := svc.CreateRule(ctx, sod.Rule{
		RoleA: 1, RoleB: 2,
		Name:     "initiate vs approve",
		Severity: sod.SeverityHardBlock,
	})
	require.NoError(t, err)

	updated, err := svc.UpdateRule(ctx, sod.Rule{
		ID:       created.ID,
		Name:     "renamed",
		Severity: sod.SeverityWarning,
	})
	require.NoError(t, err)
	assert.Equal(t, "renamed", updated.Name)
	assert.Equal(t, sod.SeverityWarning, updated.Severity)
	assert.Equal(t, created.RoleA, updated.RoleA)
	assert.Equal(t, created.RoleB, updated.RoleB)
}
