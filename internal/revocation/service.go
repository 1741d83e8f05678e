// Package revocation expires temporary grants whose validity window has
// closed: a scheduled scan over IMPLEMENTED requests plus a manual path for
// administrators.
package revocation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	id "entitle/pkg/domain"
	dErrors "entitle/pkg/domain-errors"
	"entitle/pkg/platform/sentinel"
	txcontext "entitle/pkg/platform/tx"

	"entitle/internal/audit"
	"entitle/internal/notify"
	"entitle/internal/request"
)

// Clock abstracts time.Now for tests.
type Clock func() time.Time

// Service runs the expiration sweep and manual revocations.
type Service struct {
	requests request.RequestStore
	runner   txcontext.Runner
	auditor  *audit.Service
	notifier notify.Notifier
	metrics  *Metrics
	logger   *slog.Logger
	clock    Clock

	mu       sync.Mutex
	lastScan *ScanRecord
}

// Option configures optional service collaborators.
type Option func(*Service)

// WithAuditor enables audit ledger recording.
func WithAuditor(a *audit.Service) Option {
	return func(s *Service) { s.auditor = a }
}

// WithNotifier enables best-effort notifications to requesters.
func WithNotifier(n notify.Notifier) Option {
	return func(s *Service) { s.notifier = n }
}

// WithMetrics enables prometheus instrumentation.
func WithMetrics(m *Metrics) Option {
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

// NewService builds the revocation service.
func NewService(requests request.RequestStore, runner txcontext.Runner, opts ...Option) (*Service, error) {
	if requests == nil {
		return nil, errors.New("request store is required")
	}
	if runner == nil {
		return nil, errors.New("tx runner is required")
	}
	s := &Service{
		requests: requests,
		runner:   runner,
		logger:   slog.Default(),
		clock:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// ScanResult summarizes one expiration sweep.
type ScanResult struct {
	Found      int            `json:"total_found"`
	Revoked    int            `json:"successfully_revoked"`
	Failed     int            `json:"failed"`
	RevokedIDs []id.RequestID `json:"revoked_ids"`
	FailedIDs  []id.RequestID `json:"failed_ids"`
}

// ScanRecord is the outcome of the most recent sweep, kept for reporting.
type ScanRecord struct {
	ScanResult
	RanAt time.Time `json:"ran_at"`
}

// ScanAndRevoke sweeps IMPLEMENTED temporary requests whose valid_until has
// passed and expires each in its own transaction, so one bad row never rolls
// back the rest. Re-running over the same rows is harmless: the conditional
// status update makes an already-expired row a no-op.
func (s *Service) ScanAndRevoke(ctx context.Context) (ScanResult, error) {
	now := s.clock().UTC()
	expired, err := s.requests.FindExpired(ctx, now)
	if err != nil {
		return ScanResult{}, fmt.Errorf("find expired requests: %w", err)
	}

	result := ScanResult{Found: len(expired)}
	for _, req := range expired {
		if err := s.expireOne(ctx, req, now, audit.ActionAutoExpired, 0); err != nil {
			result.Failed++
			result.FailedIDs = append(result.FailedIDs, req.ID)
			s.logger.ErrorContext(ctx, "failed to revoke expired request",
				"request_id", req.ID, "request_number", req.RequestNumber, "error", err)
			continue
		}
		result.Revoked++
		result.RevokedIDs = append(result.RevokedIDs, req.ID)
	}

	if s.metrics != nil {
		s.metrics.ObserveScan(result)
	}
	s.logger.InfoContext(ctx, "expiration sweep finished",
		"found", result.Found, "revoked", result.Revoked, "failed", result.Failed)

	s.mu.Lock()
	s.lastScan = &ScanRecord{ScanResult: result, RanAt: now}
	s.mu.Unlock()
	return result, nil
}

// RevokeOne expires a single IMPLEMENTED request on an administrator's
// request, regardless of its validity window.
func (s *Service) RevokeOne(ctx context.Context, reqID id.RequestID, actor id.UserID) (request.AccessRequest, error) {
	req, err := s.requests.Get(ctx, reqID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return request.AccessRequest{}, dErrors.New(dErrors.CodeNotFound, "request not found")
		}
		return request.AccessRequest{}, fmt.Errorf("get request: %w", err)
	}
	if req.Status != request.StatusImplemented {
		return request.AccessRequest{}, dErrors.Newf(dErrors.CodeInvalidState,
			"cannot revoke request in status %q", req.Status)
	}
	now := s.clock().UTC()
	if err := s.expireOne(ctx, req, now, audit.ActionManualExpired, actor); err != nil {
		return request.AccessRequest{}, err
	}
	req.Status = request.StatusExpired
	req.CompletedAt = &now
	return req, nil
}

func (s *Service) expireOne(ctx context.Context, req request.AccessRequest, now time.Time, action audit.Action, actor id.UserID) error {
	err := s.runner.RunInTx(ctx, func(ctx context.Context) error {
		ok, err := s.requests.Expire(ctx, req.ID, now)
		if err != nil {
			return fmt.Errorf("expire request: %w", err)
		}
		if !ok {
			// Lost the race to another scan or a manual revocation.
			return dErrors.New(dErrors.CodeConflict, "request already left implemented state")
		}
		if s.auditor == nil {
			return nil
		}
		return s.auditor.Record(ctx, req.ID, actor, action, expiryDetail(req, action))
	})
	if err != nil {
		return err
	}
	notify.Dispatch(ctx, s.logger, s.notifier, notify.Message{
		UserID: req.RequesterID,
		Title:  "Access expired",
		Body:   fmt.Sprintf("Request %s is no longer active.", req.RequestNumber),
		Link:   fmt.Sprintf("/requests/%s", req.ID),
	})
	return nil
}

// expiryDetail records what the grant looked like before it was closed: the
// validity boundary and the status the row held when the revocation fired.
func expiryDetail(req request.AccessRequest, action audit.Action) string {
	cause := "access automatically revoked due to expiration"
	if action == audit.ActionManualExpired {
		cause = "access revoked by administrator"
	}
	validUntil := "none"
	if req.ValidUntil != nil {
		validUntil = req.ValidUntil.UTC().Format("2006-01-02")
	}
	return fmt.Sprintf("%s; valid until: %s, previous status: %s", cause, validUntil, req.Status)
}

// ExpiringSoon lists grants that will expire within the given number of days,
// soonest first.
func (s *Service) ExpiringSoon(ctx context.Context, days int) ([]request.AccessRequest, error) {
	if days <= 0 {
		days = 7
	}
	reqs, err := s.requests.FindExpiringSoon(ctx, s.clock().UTC(), time.Duration(days)*24*time.Hour)
	if err != nil {
		return nil, fmt.Errorf("find expiring requests: %w", err)
	}
	return reqs, nil
}

// Stats reports the revocation posture: the live temporary population, how
// much of it lapses on each horizon, and the last sweep outcome.
type Stats struct {
	ActiveTemporary   int         `json:"active_temporary_accesses"`
	AlreadyExpired    int         `json:"already_expired"`
	ExpiringToday     int         `json:"expiring_today"`
	ExpiringThisWeek  int         `json:"expiring_this_week"`
	ExpiringThisMonth int         `json:"expiring_this_month"`
	LastScan          *ScanRecord `json:"last_scan,omitempty"`
}

// Statistics summarizes the expiration state.
func (s *Service) Statistics(ctx context.Context) (Stats, error) {
	active, err := s.requests.CountTemporary(ctx)
	if err != nil {
		return Stats{}, fmt.Errorf("count temporary requests: %w", err)
	}
	counts, err := s.requests.CountByStatus(ctx)
	if err != nil {
		return Stats{}, fmt.Errorf("count requests: %w", err)
	}

	now := s.clock().UTC()
	stats := Stats{
		ActiveTemporary: active,
		AlreadyExpired:  counts[request.StatusExpired],
	}
	for _, window := range []struct {
		within time.Duration
		target *int
	}{
		{24 * time.Hour, &stats.ExpiringToday},
		{7 * 24 * time.Hour, &stats.ExpiringThisWeek},
		{30 * 24 * time.Hour, &stats.ExpiringThisMonth},
	} {
		reqs, err := s.requests.FindExpiringSoon(ctx, now, window.within)
		if err != nil {
			return Stats{}, fmt.Errorf("find expiring requests: %w", err)
		}
		*window.target = len(reqs)
	}

	s.mu.Lock()
	stats.LastScan = s.lastScan
	s.mu.Unlock()
	return stats, nil
}
