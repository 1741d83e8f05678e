package chain_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"entitle/internal/directory"
	"entitle/internal/request"
	"entitle/internal/request/chain"

	id "entitle/pkg/domain"
)

func newDirectory() *directory.StaticDirectory {
	dir := directory.NewStatic()
	dir.PutUser(directory.UserProfile{ID: 2, FullName: "Morgan Hale", Active: true})
	dir.PutUser(directory.UserProfile{ID: 3, FullName: "Sam Ortiz", Active: true, Admin: true})
	dir.PutUser(directory.UserProfile{ID: 5, FullName: "Riley Chen", ManagerID: 2, Active: true})
	return dir
}

func TestFallbackBuildsManagerThenOfficer(t *testing.T) {
	fallback := chain.NewFallback(newDirectory())

	stages, err := fallback.Resolve(context.Background(), request.AccessRequest{
		RequesterID:  2,
		TargetUserID: 5,
	})
	require.NoError(t, err)
	require.Len(t, stages, 2)
	assert.Equal(t, 1, stages[0].StepNumber)
	assert.Equal(t, id.UserID(2), stages[0].ApproverID)
	assert.Equal(t, "Manager", stages[0].ApproverRole)
	assert.Equal(t, 2, stages[1].StepNumber)
	assert.Equal(t, id.UserID(3), stages[1].ApproverID)
	assert.Equal(t, "Security Officer", stages[1].ApproverRole)
}

func TestFallbackKeepsManagerStepWhenManagerIsRequester(t *testing.T) {
	// A manager requesting access for a report still lands in their own
	// chain; the route depends only on the directory links, not on who
	// filed the request.
	fallback := chain.NewFallback(newDirectory())

	stages, err := fallback.Resolve(context.Background(), request.AccessRequest{
		RequesterID:  2, // user 5's manager
		TargetUserID: 5,
	})
	require.NoError(t, err)
	require.Len(t, stages, 2)
	assert.Equal(t, id.UserID(2), stages[0].ApproverID)
}

func TestFallbackKeepsOfficerStepWhenOfficerIsRequester(t *testing.T) {
	fallback := chain.NewFallback(newDirectory())

	stages, err := fallback.Resolve(context.Background(), request.AccessRequest{
		RequesterID:  3, // the security officer
		TargetUserID: 5,
	})
	require.NoError(t, err)
	require.Len(t, stages, 2)
	assert.Equal(t, id.UserID(3), stages[1].ApproverID)
}

func TestFallbackOmitsManagerOnlyWithoutLink(t *testing.T) {
	dir := newDirectory()
	dir.PutUser(directory.UserProfile{ID: 7, FullName: "Jo Park", Active: true})
	fallback := chain.NewFallback(dir)

	stages, err := fallback.Resolve(context.Background(), request.AccessRequest{
		RequesterID:  7,
		TargetUserID: 7,
	})
	require.NoError(t, err)
	require.Len(t, stages, 1)
	assert.Equal(t, "Security Officer", stages[0].ApproverRole)
	assert.Equal(t, 2, stages[0].StepNumber)
}

func TestFallbackOmitsOfficerWithoutActiveAdmin(t *testing.T) {
	dir := directory.NewStatic()
	dir.PutUser(directory.UserProfile{ID: 2, FullName: "Morgan Hale", Active: true})
	dir.PutUser(directory.UserProfile{ID: 5, FullName: "Riley Chen", ManagerID: 2, Active: true})
	fallback := chain.NewFallback(dir)

	stages, err := fallback.Resolve(context.Background(), request.AccessRequest{
		RequesterID:  5,
		TargetUserID: 5,
	})
	require.NoError(t, err)
	require.Len(t, stages, 1)
	assert.Equal(t, "Manager", stages[0].ApproverRole)
}
