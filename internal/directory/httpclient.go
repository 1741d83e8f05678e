package directory

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	id "entitle/pkg/domain"
	"entitle/pkg/email"
	"entitle/pkg/platform/circuit"
	"entitle/pkg/platform/sentinel"
)

// HTTPDirectory talks to the corporate directory's REST API. Successful
// lookups are cached as last-known-good values; when the circuit opens the
// client serves from that cache so approval routing keeps working through a
// directory outage.
type HTTPDirectory struct {
	baseURL string
	client  *http.Client
	breaker *circuit.Breaker
	logger  *slog.Logger

	mu    sync.RWMutex
	users map[id.UserID]UserProfile
	names map[string]string
}

// HTTPOption configures the HTTPDirectory.
type HTTPOption func(*HTTPDirectory)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(client *http.Client) HTTPOption {
	return func(d *HTTPDirectory) { d.client = client }
}

// WithBreaker replaces the default circuit breaker.
func WithBreaker(b *circuit.Breaker) HTTPOption {
	return func(d *HTTPDirectory) { d.breaker = b }
}

func NewHTTP(baseURL string, logger *slog.Logger, opts ...HTTPOption) *HTTPDirectory {
	d := &HTTPDirectory{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 5 * time.Second},
		breaker: circuit.New("directory", circuit.WithFailureThreshold(5), circuit.WithSuccessThreshold(2)),
		logger:  logger,
		users:   make(map[id.UserID]UserProfile),
		names:   make(map[string]string),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

type userPayload struct {
	ID        int64  `json:"id"`
	FullName  string `json:"full_name"`
	Email     string `json:"email"`
	ManagerID int64  `json:"manager_id"`
	Active    bool   `json:"active"`
	Admin     bool   `json:"admin"`
}

func (p userPayload) profile() UserProfile {
	name := p.FullName
	if name == "" && p.Email != "" {
		// Some directory sources carry no display name for service accounts.
		first, last := email.DeriveNameFromEmail(p.Email)
		name = first + " " + last
	}
	return UserProfile{
		ID:        id.UserID(p.ID),
		FullName:  name,
		Email:     p.Email,
		ManagerID: id.UserID(p.ManagerID),
		Active:    p.Active,
		Admin:     p.Admin,
	}
}

func (d *HTTPDirectory) LookupUser(ctx context.Context, userID id.UserID) (UserProfile, error) {
	if d.breaker.IsOpen() {
		if profile, ok := d.cachedUser(userID); ok {
			return profile, nil
		}
		return UserProfile{}, fmt.Errorf("directory circuit open: %w", sentinel.ErrUnavailable)
	}

	var payload userPayload
	err := d.get(ctx, fmt.Sprintf("/users/%d", int64(userID)), &payload)
	switch {
	case err == nil:
		profile := payload.profile()
		d.cacheUser(profile)
		return profile, nil
	case isNotFound(err):
		// A clean 404 is an answer, not an outage.
		d.breaker.RecordSuccess()
		return UserProfile{}, sentinel.ErrNotFound
	default:
		if _, change := d.breaker.RecordFailure(); change.Opened {
			d.logger.Warn("directory circuit opened", "error", err)
		}
		if profile, ok := d.cachedUser(userID); ok {
			d.logger.Warn("directory lookup degraded to cache", "user_id", userID, "error", err)
			return profile, nil
		}
		return UserProfile{}, err
	}
}

func (d *HTTPDirectory) FirstActiveAdmin(ctx context.Context) (UserProfile, error) {
	var payload struct {
		Users []userPayload `json:"users"`
	}
	err := d.get(ctx, "/users?admin=true&active=true&limit=1", &payload)
	if err != nil {
		if isNotFound(err) {
			d.breaker.RecordSuccess()
			return UserProfile{}, sentinel.ErrNotFound
		}
		d.breaker.RecordFailure()
		return UserProfile{}, err
	}
	if len(payload.Users) == 0 {
		return UserProfile{}, sentinel.ErrNotFound
	}
	profile := payload.Users[0].profile()
	d.cacheUser(profile)
	return profile, nil
}

func (d *HTTPDirectory) SystemName(ctx context.Context, systemID id.SystemID) (string, error) {
	return d.lookupName(ctx, fmt.Sprintf("/systems/%d", int64(systemID)))
}

func (d *HTTPDirectory) SubsystemName(ctx context.Context, subsystemID id.SubsystemID) (string, error) {
	return d.lookupName(ctx, fmt.Sprintf("/subsystems/%d", int64(subsystemID)))
}

func (d *HTTPDirectory) RoleName(ctx context.Context, roleID id.RoleID) (string, error) {
	return d.lookupName(ctx, fmt.Sprintf("/roles/%d", int64(roleID)))
}

func (d *HTTPDirectory) lookupName(ctx context.Context, path string) (string, error) {
	if d.breaker.IsOpen() {
		if name, ok := d.cachedName(path); ok {
			return name, nil
		}
		return "", fmt.Errorf("directory circuit open: %w", sentinel.ErrUnavailable)
	}

	var payload struct {
		Name string `json:"name"`
	}
	err := d.get(ctx, path, &payload)
	switch {
	case err == nil:
		d.cacheName(path, payload.Name)
		return payload.Name, nil
	case isNotFound(err):
		d.breaker.RecordSuccess()
		return "", sentinel.ErrNotFound
	default:
		d.breaker.RecordFailure()
		if name, ok := d.cachedName(path); ok {
			return name, nil
		}
		return "", err
	}
}

type statusError struct {
	status int
	url    string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("directory responded %d for %s", e.status, e.url)
}

func isNotFound(err error) bool {
	se, ok := err.(*statusError)
	return ok && se.status == http.StatusNotFound
}

func (d *HTTPDirectory) get(ctx context.Context, path string, out any) error {
	url := d.baseURL + path
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("build directory request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("directory request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return &statusError{status: resp.StatusCode, url: url}
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode directory response: %w", err)
	}
	d.breaker.RecordSuccess()
	return nil
}

func (d *HTTPDirectory) cacheUser(profile UserProfile) {
	d.mu.Lock()
	d.users[profile.ID] = profile
	d.mu.Unlock()
}

func (d *HTTPDirectory) cachedUser(userID id.UserID) (UserProfile, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	profile, ok := d.users[userID]
	return profile, ok
}

func (d *HTTPDirectory) cacheName(path, name string) {
	d.mu.Lock()
	d.names[path] = name
	d.mu.Unlock()
}

func (d *HTTPDirectory) cachedName(path string) (string, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	name, ok := d.names[path]
	return name, ok
}
