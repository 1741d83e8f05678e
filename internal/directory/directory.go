// Package directory is the boundary to the corporate directory and catalog.
// The engine consumes it read-only: identity attributes for approval routing
// and display names for enrichment. Lookups degrade to placeholders; a
// directory outage must never abort a workflow transition.
package directory

import (
	"context"

	id "entitle/pkg/domain"
)

// UserProfile is the typed value object the engine sees. External attribute
// maps are translated into this shape at the boundary so business logic never
// touches the directory's field names.
type UserProfile struct {
	ID        id.UserID
	FullName  string
	Email     string
	ManagerID id.UserID // zero when no manager is linked
	Active    bool
	Admin     bool // privileged user, acts as security officer in fallbacks
}

// Directory resolves identities and catalog display names.
type Directory interface {
	// LookupUser resolves a user profile. Returns sentinel.ErrNotFound for
	// unknown ids.
	LookupUser(ctx context.Context, userID id.UserID) (UserProfile, error)

	// FirstActiveAdmin returns any currently-active privileged user, or
	// sentinel.ErrNotFound when none exists.
	FirstActiveAdmin(ctx context.Context) (UserProfile, error)

	// SystemName, SubsystemName and RoleName resolve catalog display names.
	SystemName(ctx context.Context, systemID id.SystemID) (string, error)
	SubsystemName(ctx context.Context, subsystemID id.SubsystemID) (string, error)
	RoleName(ctx context.Context, roleID id.RoleID) (string, error)
}

// Placeholder is what display fields fall back to when a lookup fails.
const Placeholder = "Unknown"

// DisplayName is the degrade helper: lookup failures become the placeholder,
// never an error.
func DisplayName(name string, err error) string {
	if err != nil || name == "" {
		return Placeholder
	}
	return name
}
