package revocation_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"entitle/internal/audit"
	auditmem "entitle/internal/audit/store/memory"
	"entitle/internal/request"
	"entitle/internal/request/store/memory"
	"entitle/internal/revocation"

	dErrors "entitle/pkg/domain-errors"
	id "entitle/pkg/domain"
	txcontext "entitle/pkg/platform/tx"
)

func seedRequest(t *testing.T, store *memory.Store, number string, status request.Status, validUntil time.Time) id.RequestID {
	t.Helper()
	req := request.AccessRequest{
		RequestNumber: number,
		RequesterID:   1,
		TargetUserID:  1,
		SystemID:      10,
		RoleID:        100,
		Type:          request.TypeTemporaryAccess,
		Status:        status,
		Justification: "temporary project staffing",
		IsTemporary:   true,
		ValidUntil:    &validUntil,
		CreatedAt:     time.Now().UTC(),
	}
	require.NoError(t, store.Requests().Create(context.Background(), &req))
	return req.ID
}

func TestScanRevokesOnlyLapsedImplementedRequests(t *testing.T) {
	store := memory.New()
	auditor := audit.NewService(auditmem.New())
	svc, err := revocation.NewService(store.Requests(), txcontext.PassthroughRunner{},
		revocation.WithAuditor(auditor))
	require.NoError(t, err)

	now := time.Now().UTC()
	lapsed := seedRequest(t, store, "REQ-2026-00001", request.StatusImplemented, now.Add(-48*time.Hour))
	future := seedRequest(t, store, "REQ-2026-00002", request.StatusImplemented, now.Add(48*time.Hour))
	notLive := seedRequest(t, store, "REQ-2026-00003", request.StatusApproved, now.Add(-48*time.Hour))

	result, err := svc.ScanAndRevoke(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, result.Found)
	assert.Equal(t, 1, result.Revoked)
	assert.Equal(t, 0, result.Failed)
	assert.Equal(t, []id.RequestID{lapsed}, result.RevokedIDs)

	got, err := store.Requests().Get(context.Background(), lapsed)
	require.NoError(t, err)
	assert.Equal(t, request.StatusExpired, got.Status)
	require.NotNil(t, got.CompletedAt)

	for _, untouched := range []id.RequestID{future, notLive} {
		got, err := store.Requests().Get(context.Background(), untouched)
		require.NoError(t, err)
		assert.NotEqual(t, request.StatusExpired, got.Status)
	}

	events, err := auditor.List(context.Background(), audit.Filter{RequestID: lapsed})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, audit.ActionAutoExpired, events[0].Action)
	assert.True(t, events[0].ActorID.IsNil())
}

func TestExpiryAuditDetailCarriesPriorState(t *testing.T) {
	store := memory.New()
	auditor := audit.NewService(auditmem.New())
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	svc, err := revocation.NewService(store.Requests(), txcontext.PassthroughRunner{},
		revocation.WithAuditor(auditor),
		revocation.WithClock(func() time.Time { return now }))
	require.NoError(t, err)

	lapsed := seedRequest(t, store, "REQ-2026-00004", request.StatusImplemented,
		time.Date(2026, 1, 15, 0, 0, 0, 0, time.UTC))

	_, err = svc.ScanAndRevoke(context.Background())
	require.NoError(t, err)

	events, err := auditor.List(context.Background(), audit.Filter{RequestID: lapsed})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Contains(t, events[0].Detail, "valid until: 2026-01-15")
	assert.Contains(t, events[0].Detail, "previous status: implemented")
}

func TestScanIsIdempotent(t *testing.T) {
	store := memory.New()
	svc, err := revocation.NewService(store.Requests(), txcontext.PassthroughRunner{})
	require.NoError(t, err)

	seedRequest(t, store, "REQ-2026-00010", request.StatusImplemented, time.Now().UTC().Add(-time.Hour))

	first, err := svc.ScanAndRevoke(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, first.Revoked)

	second, err := svc.ScanAndRevoke(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, second.Found)
	assert.Equal(t, 0, second.Revoked)
	assert.Equal(t, 0, second.Failed)
}

type flakyRequests struct {
	*memory.Requests
	failOn id.RequestID
}

func (f *flakyRequests) Expire(ctx context.Context, reqID id.RequestID, at time.Time) (bool, error) {
	if reqID == f.failOn {
		return false, errors.New("connection reset")
	}
	return f.Requests.Expire(ctx, reqID, at)
}

func TestScanContinuesPastFailedRows(t *testing.T) {
	store := memory.New()
	now := time.Now().UTC()
	bad := seedRequest(t, store, "REQ-2026-00020", request.StatusImplemented, now.Add(-time.Hour))
	good := seedRequest(t, store, "REQ-2026-00021", request.StatusImplemented, now.Add(-time.Hour))

	svc, err := revocation.NewService(
		&flakyRequests{Requests: store.Requests(), failOn: bad},
		txcontext.PassthroughRunner{})
	require.NoError(t, err)

	result, err := svc.ScanAndRevoke(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, result.Found)
	assert.Equal(t, 1, result.Revoked)
	assert.Equal(t, 1, result.Failed)
	assert.Equal(t, []id.RequestID{good}, result.RevokedIDs)
	assert.Equal(t, []id.RequestID{bad}, result.FailedIDs)

	got, err := store.Requests().Get(context.Background(), good)
	require.NoError(t, err)
	assert.Equal(t, request.StatusExpired, got.Status)
}

func TestRevokeOneGuardsStatus(t *testing.T) {
	store := memory.New()
	auditor := audit.NewService(auditmem.New())
	svc, err := revocation.NewService(store.Requests(), txcontext.PassthroughRunner{},
		revocation.WithAuditor(auditor))
	require.NoError(t, err)

	live := seedRequest(t, store, "REQ-2026-00030", request.StatusImplemented, time.Now().UTC().Add(time.Hour))
	draft := seedRequest(t, store, "REQ-2026-00031", request.StatusDraft, time.Now().UTC().Add(time.Hour))

	revoked, err := svc.RevokeOne(context.Background(), live, 3)
	require.NoError(t, err)
	assert.Equal(t, request.StatusExpired, revoked.Status)

	events, err := auditor.List(context.Background(), audit.Filter{RequestID: live})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, audit.ActionManualExpired, events[0].Action)
	assert.Equal(t, id.UserID(3), events[0].ActorID)
	assert.Contains(t, events[0].Detail, "revoked by administrator")
	assert.Contains(t, events[0].Detail, "previous status: implemented")

	_, err = svc.RevokeOne(context.Background(), draft, 3)
	require.Error(t, err)
	assert.True(t, dErrors.IsCode(err, dErrors.CodeInvalidState))

	_, err = svc.RevokeOne(context.Background(), 9999, 3)
	require.Error(t, err)
	assert.True(t, dErrors.IsCode(err, dErrors.CodeNotFound))
}

func TestExpiringSoonWindow(t *testing.T) {
	store := memory.New()
	svc, err := revocation.NewService(store.Requests(), txcontext.PassthroughRunner{})
	require.NoError(t, err)

	now := time.Now().UTC()
	inWindow := seedRequest(t, store, "REQ-2026-00040", request.StatusImplemented, now.Add(3*24*time.Hour))
	seedRequest(t, store, "REQ-2026-00041", request.StatusImplemented, now.Add(30*24*time.Hour))
	seedRequest(t, store, "REQ-2026-00042", request.StatusImplemented, now.Add(-time.Hour))

	soon, err := svc.ExpiringSoon(context.Background(), 7)
	require.NoError(t, err)
	require.Len(t, soon, 1)
	assert.Equal(t, inWindow, soon[0].ID)
}

func TestStatisticsReportLastScan(t *testing.T) {
	store := memory.New()
	svc, err := revocation.NewService(store.Requests(), txcontext.PassthroughRunner{})
	require.NoError(t, err)

	seedRequest(t, store, "REQ-2026-00050", request.StatusImplemented, time.Now().UTC().Add(-time.Hour))

	stats, err := svc.Statistics(context.Background())
	require.NoError(t, err)
	assert.Nil(t, stats.LastScan)

	_, err = svc.ScanAndRevoke(context.Background())
	require.NoError(t, err)

	stats, err = svc.Statistics(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.AlreadyExpired)
	require.NotNil(t, stats.LastScan)
	assert.Equal(t, 1, stats.LastScan.Revoked)
}

func TestStatisticsBreakDownExpiryHorizons(t *testing.T) {
	store := memory.New()
	now := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	svc, err := revocation.NewService(store.Requests(), txcontext.PassthroughRunner{},
		revocation.WithClock(func() time.Time { return now }))
	require.NoError(t, err)

	seedRequest(t, store, "REQ-2026-00060", request.StatusImplemented, now.Add(6*time.Hour))     // today
	seedRequest(t, store, "REQ-2026-00061", request.StatusImplemented, now.Add(3*24*time.Hour))  // this week
	seedRequest(t, store, "REQ-2026-00062", request.StatusImplemented, now.Add(20*24*time.Hour)) // this month
	seedRequest(t, store, "REQ-2026-00063", request.StatusImplemented, now.Add(90*24*time.Hour)) // beyond
	seedRequest(t, store, "REQ-2026-00064", request.StatusExpired, now.Add(-24*time.Hour))

	stats, err := svc.Statistics(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 4, stats.ActiveTemporary)
	assert.Equal(t, 1, stats.AlreadyExpired)
	assert.Equal(t, 1, stats.ExpiringToday)
	assert.Equal(t, 2, stats.ExpiringThisWeek)
	assert.Equal(t, 3, stats.ExpiringThisMonth)
}
