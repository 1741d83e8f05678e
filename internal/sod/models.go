// Package sod implements the segregation-of-duties conflict gate: configured
// role pairs that must not co-exist on one identity, checked before any
// access request row is created.
package sod

import (
	"time"

	id "entitle/pkg/domain"
)

// Severity decides how a matched rule is enforced.
type Severity string

const (
	// SeverityWarning allows the operation, but the caller must record that
	// justification was required.
	SeverityWarning Severity = "warning"
	// SeverityHardBlock rejects the operation outright.
	SeverityHardBlock Severity = "hard_block"
)

// IsValid checks the severity against the supported enum values.
func (s Severity) IsValid() bool {
	return s == SeverityWarning || s == SeverityHardBlock
}

// Rule is one configured, bidirectional conflict pair. The pair is unordered:
// stores normalize it so RoleA < RoleB, making uniqueness hold regardless of
// the order an administrator entered it.
type Rule struct {
	ID          id.RuleID
	RoleA       id.RoleID
	RoleB       id.RoleID
	Name        string
	Description string
	Severity    Severity
	Active      bool
	CreatedBy   id.UserID
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Normalize orders the pair. Stores call this before writing.
func (r *Rule) Normalize() {
	if r.RoleB < r.RoleA {
		r.RoleA, r.RoleB = r.RoleB, r.RoleA
	}
}

// Other returns the rule's counterpart of the given role.
func (r Rule) Other(role id.RoleID) id.RoleID {
	if r.RoleA == role {
		return r.RoleB
	}
	return r.RoleA
}

// Violation is one matched rule, enriched with display names for remediation.
type Violation struct {
	RuleID            id.RuleID `json:"rule_id"`
	RuleName          string    `json:"rule_name"`
	Description       string    `json:"description,omitempty"`
	Severity          Severity  `json:"severity"`
	RequestedRoleID   id.RoleID `json:"requested_role_id"`
	RequestedRoleName string    `json:"requested_role_name"`
	HeldRoleID        id.RoleID `json:"held_role_id"`
	HeldRoleName      string    `json:"held_role_name"`
}

// CheckResult is the outcome of a single-role check.
type CheckResult struct {
	Violations []Violation `json:"violations"`
	HardBlock  bool        `json:"hard_block"`
	// CanProceedWithJustification is set when only warnings matched: the
	// caller may proceed but must record an acknowledged justification.
	CanProceedWithJustification bool `json:"can_proceed_with_justification"`
}

// BulkCheckResult additionally carries conflicts between the candidate roles
// themselves.
type BulkCheckResult struct {
	Violations                  []Violation `json:"violations"`
	InterViolations             []Violation `json:"inter_request_violations"`
	HardBlock                   bool        `json:"hard_block"`
	CanProceedWithJustification bool        `json:"can_proceed_with_justification"`
}
