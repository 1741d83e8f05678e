package revocation_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"entitle/internal/request"
	"entitle/internal/request/store/memory"
	"entitle/internal/revocation"

	txcontext "entitle/pkg/platform/tx"
)

func TestSchedulerSweepsOnceAtStartup(t *testing.T) {
	store := memory.New()
	svc, err := revocation.NewService(store.Requests(), txcontext.PassthroughRunner{})
	require.NoError(t, err)

	// Lapsed while the service was down; must not wait for the first trigger.
	lapsed := seedRequest(t, store, "REQ-2026-00070", request.StatusImplemented,
		time.Now().UTC().Add(-72*time.Hour))

	sched := revocation.NewScheduler(svc, "0 1 * * *", 6*time.Hour, nil)
	require.NoError(t, sched.Start(context.Background()))
	defer sched.Stop()

	got, err := store.Requests().Get(context.Background(), lapsed)
	require.NoError(t, err)
	assert.Equal(t, request.StatusExpired, got.Status)
}

func TestSchedulerRejectsBadCronSpec(t *testing.T) {
	store := memory.New()
	svc, err := revocation.NewService(store.Requests(), txcontext.PassthroughRunner{})
	require.NoError(t, err)

	sched := revocation.NewScheduler(svc, "not a schedule", 0, nil)
	assert.Error(t, sched.Start(context.Background()))
}