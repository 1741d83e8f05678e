// Package domain holds the typed identifiers shared across the entitlement
// engine. Catalog entities (users, systems, roles) live in external systems
// and are referenced here by opaque numeric ids.
//
// Usage: construct via the Parse* helpers at trust boundaries (URL params,
// request bodies); direct casting bypasses validation.
package domain

import (
	"strconv"

	dErrors "entitle/pkg/domain-errors"
)

// UserID identifies a person in the corporate directory.
type UserID int64

// SystemID identifies a target system in the catalog.
type SystemID int64

// SubsystemID identifies an optional subsystem of a system.
type SubsystemID int64

// RoleID identifies an access role on a system.
type RoleID int64

// RequestID identifies one access-request workflow instance.
type RequestID int64

// StepID identifies one approval step row.
type StepID int64

// RuleID identifies one SoD conflict rule.
type RuleID int64

func (id UserID) IsNil() bool      { return id == 0 }
func (id SystemID) IsNil() bool    { return id == 0 }
func (id SubsystemID) IsNil() bool { return id == 0 }
func (id RoleID) IsNil() bool      { return id == 0 }
func (id RequestID) IsNil() bool   { return id == 0 }
func (id StepID) IsNil() bool      { return id == 0 }
func (id RuleID) IsNil() bool      { return id == 0 }

func (id UserID) String() string    { return strconv.FormatInt(int64(id), 10) }
func (id SystemID) String() string  { return strconv.FormatInt(int64(id), 10) }
func (id RoleID) String() string    { return strconv.FormatInt(int64(id), 10) }
func (id RequestID) String() string { return strconv.FormatInt(int64(id), 10) }
func (id RuleID) String() string    { return strconv.FormatInt(int64(id), 10) }

func parseID(s, what string) (int64, error) {
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil || n <= 0 {
		return 0, dErrors.Newf(dErrors.CodeValidation, "invalid %s: %q", what, s)
	}
	return n, nil
}

// ParseUserID validates and converts an external user id string.
func ParseUserID(s string) (UserID, error) {
	n, err := parseID(s, "user id")
	return UserID(n), err
}

// ParseRequestID validates and converts an external request id string.
func ParseRequestID(s string) (RequestID, error) {
	n, err := parseID(s, "request id")
	return RequestID(n), err
}

// ParseSystemID validates and converts an external system id string.
func ParseSystemID(s string) (SystemID, error) {
	n, err := parseID(s, "system id")
	return SystemID(n), err
}

// ParseRoleID validates and converts an external role id string.
func ParseRoleID(s string) (RoleID, error) {
	n, err := parseID(s, "role id")
	return RoleID(n), err
}

// ParseRuleID validates and converts an external rule id string.
func ParseRuleID(s string) (RuleID, error) {
	n, err := parseID(s, "rule id")
	return RuleID(n), err
}
