package authcode_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"entitle/internal/authcode"
	"entitle/internal/authcode/store/memory"
	"entitle/internal/directory"
	"entitle/internal/jwttoken"

	dErrors "entitle/pkg/domain-errors"
)

func newService(t *testing.T, store authcode.CodeStore) *authcode.Service {
	t.Helper()
	dir := directory.NewStatic()
	dir.PutUser(directory.UserProfile{ID: 1, FullName: "Riley Chen", Active: true})
	dir.PutUser(directory.UserProfile{ID: 2, FullName: "Sam Ortiz", Active: true, Admin: true})
	dir.PutUser(directory.UserProfile{ID: 3, FullName: "Gone Person", Active: false})

	tokens := jwttoken.NewService("test-signing-key", "entitle-test", time.Hour)
	svc, err := authcode.NewService(store, tokens, dir, 5*time.Minute, nil)
	require.NoError(t, err)
	return svc
}

func TestIssueAndRedeem(t *testing.T) {
	svc := newService(t, memory.New())
	ctx := context.Background()

	code, err := svc.Issue(ctx, 2)
	require.NoError(t, err)
	require.NotEmpty(t, code)

	token, err := svc.Redeem(ctx, code)
	require.NoError(t, err)
	require.NotEmpty(t, token)

	tokens := jwttoken.NewService("test-signing-key", "entitle-test", time.Hour)
	claims, err := tokens.ValidateToken(token)
	require.NoError(t, err)
	assert.EqualValues(t, 2, claims.ActorID)
	assert.True(t, claims.Admin)
}

func TestRedeemIsOneTime(t *testing.T) {
	svc := newService(t, memory.New())
	ctx := context.Background()

	code, err := svc.Issue(ctx, 1)
	require.NoError(t, err)

	_, err = svc.Redeem(ctx, code)
	require.NoError(t, err)

	_, err = svc.Redeem(ctx, code)
	require.Error(t, err)
	assert.True(t, dErrors.IsCode(err, dErrors.CodeAuthorization))
}

func TestRedeemExpiredCode(t *testing.T) {
	now := time.Now()
	store := memory.NewWithClock(func() time.Time { return now })
	svc := newService(t, store)
	ctx := context.Background()

	code, err := svc.Issue(ctx, 1)
	require.NoError(t, err)

	now = now.Add(10 * time.Minute)
	_, err = svc.Redeem(ctx, code)
	require.Error(t, err)
	assert.True(t, dErrors.IsCode(err, dErrors.CodeAuthorization))
}

func TestIssueRejectsUnknownAndInactiveUsers(t *testing.T) {
	svc := newService(t, memory.New())
	ctx := context.Background()

	_, err := svc.Issue(ctx, 99)
	require.Error(t, err)
	assert.True(t, dErrors.IsCode(err, dErrors.CodeNotFound))

	_, err = svc.Issue(ctx, 3)
	require.Error(t, err)
	assert.True(t, dErrors.IsCode(err, dErrors.CodeAuthorization))
}

func TestRedeemRejectsGarbage(t *testing.T) {
	svc := newService(t, memory.New())
	ctx := context.Background()

	_, err := svc.Redeem(ctx, "")
	require.Error(t, err)
	assert.True(t, dErrors.IsCode(err, dErrors.CodeValidation))

	_, err = svc.Redeem(ctx, "not-a-real-code")
	require.Error(t, err)
	assert.True(t, dErrors.IsCode(err, dErrors.CodeAuthorization))
}
