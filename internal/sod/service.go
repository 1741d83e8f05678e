package sod

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"entitle/internal/audit"
	"entitle/internal/directory"
	"entitle/pkg/platform/sentinel"

	dErrors "entitle/pkg/domain-errors"
	id "entitle/pkg/domain"
)

// RuleStore persists conflict rules. Create must reject a duplicate pair
// (either order) with sentinel.ErrConflict; duplicate detection happens at
// rule-creation time, never at check time.
type RuleStore interface {
	Create(ctx context.Context, rule Rule) (Rule, error)
	Update(ctx context.Context, rule Rule) (Rule, error)
	Delete(ctx context.Context, ruleID id.RuleID) error
	Get(ctx context.Context, ruleID id.RuleID) (Rule, error)
	List(ctx context.Context, activeOnly bool) ([]Rule, error)
	// FindActiveConflicts returns active rules whose pair is {candidate, h}
	// in either order, for any h in held.
	FindActiveConflicts(ctx context.Context, candidate id.RoleID, held []id.RoleID) ([]Rule, error)
}

// HeldRoleSource computes a user's currently-held role set: the distinct
// roles of that user's requests in status approved or implemented. The
// request store provides this.
type HeldRoleSource interface {
	HeldRoles(ctx context.Context, userID id.UserID) ([]id.RoleID, error)
}

// Service is the conflict checker plus the administrative rule CRUD.
type Service struct {
	rules   RuleStore
	held    HeldRoleSource
	catalog directory.Directory
	auditor *audit.Service
	logger  *slog.Logger
}

// Option configures the Service.
type Option func(*Service)

// WithLogger sets a logger for check diagnostics.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

// WithAuditor records rule CRUD in the audit ledger.
func WithAuditor(auditor *audit.Service) Option {
	return func(s *Service) { s.auditor = auditor }
}

func NewService(rules RuleStore, held HeldRoleSource, catalog directory.Directory, opts ...Option) (*Service, error) {
	if rules == nil {
		return nil, fmt.Errorf("rule store is required")
	}
	if held == nil {
		return nil, fmt.Errorf("held role source is required")
	}
	svc := &Service{rules: rules, held: held, catalog: catalog}
	for _, opt := range opts {
		opt(svc)
	}
	return svc, nil
}

// Check evaluates one candidate role against the user's held set. Pure read,
// no side effects. An empty held set yields no violations by construction.
func (s *Service) Check(ctx context.Context, userID id.UserID, roleID id.RoleID) (CheckResult, error) {
	held, err := s.held.HeldRoles(ctx, userID)
	if err != nil {
		return CheckResult{}, dErrors.Wrap(err, dErrors.CodeInternal, "load held roles")
	}
	violations, err := s.violationsAgainst(ctx, roleID, held)
	if err != nil {
		return CheckResult{}, err
	}
	return CheckResult{
		Violations:                  violations,
		HardBlock:                   hasHardBlock(violations),
		CanProceedWithJustification: len(violations) > 0 && !hasHardBlock(violations),
	}, nil
}

// CheckBulk evaluates several candidate roles at once: each against the held
// set, and every pair within the candidate list against each other. The
// inter-candidate matches come back as a separate list.
func (s *Service) CheckBulk(ctx context.Context, userID id.UserID, roleIDs []id.RoleID) (BulkCheckResult, error) {
	held, err := s.held.HeldRoles(ctx, userID)
	if err != nil {
		return BulkCheckResult{}, dErrors.Wrap(err, dErrors.CodeInternal, "load held roles")
	}

	var result BulkCheckResult
	for _, roleID := range roleIDs {
		violations, err := s.violationsAgainst(ctx, roleID, held)
		if err != nil {
			return BulkCheckResult{}, err
		}
		result.Violations = append(result.Violations, violations...)
	}
	for i, roleA := range roleIDs {
		for _, roleB := range roleIDs[i+1:] {
			violations, err := s.violationsAgainst(ctx, roleA, []id.RoleID{roleB})
			if err != nil {
				return BulkCheckResult{}, err
			}
			result.InterViolations = append(result.InterViolations, violations...)
		}
	}

	all := append(append([]Violation{}, result.Violations...), result.InterViolations...)
	result.HardBlock = hasHardBlock(all)
	result.CanProceedWithJustification = len(all) > 0 && !result.HardBlock
	return result, nil
}

// UserViolations cross-checks every pair of the user's held roles, for
// auditing and compliance reporting.
func (s *Service) UserViolations(ctx context.Context, userID id.UserID) ([]Violation, error) {
	held, err := s.held.HeldRoles(ctx, userID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "load held roles")
	}
	var violations []Violation
	for i, roleA := range held {
		for _, roleB := range held[i+1:] {
			matched, err := s.violationsAgainst(ctx, roleA, []id.RoleID{roleB})
			if err != nil {
				return nil, err
			}
			violations = append(violations, matched...)
		}
	}
	return violations, nil
}

func (s *Service) violationsAgainst(ctx context.Context, candidate id.RoleID, held []id.RoleID) ([]Violation, error) {
	if len(held) == 0 {
		return nil, nil
	}
	rules, err := s.rules.FindActiveConflicts(ctx, candidate, held)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "find conflicts")
	}
	violations := make([]Violation, 0, len(rules))
	for _, rule := range rules {
		heldRole := rule.Other(candidate)
		violations = append(violations, Violation{
			RuleID:            rule.ID,
			RuleName:          rule.Name,
			Description:       rule.Description,
			Severity:          rule.Severity,
			RequestedRoleID:   candidate,
			RequestedRoleName: s.roleName(ctx, candidate),
			HeldRoleID:        heldRole,
			HeldRoleName:      s.roleName(ctx, heldRole),
		})
	}
	return violations, nil
}

func (s *Service) roleName(ctx context.Context, roleID id.RoleID) string {
	if s.catalog == nil {
		return directory.Placeholder
	}
	return directory.DisplayName(s.catalog.RoleName(ctx, roleID))
}

func hasHardBlock(violations []Violation) bool {
	for _, v := range violations {
		if v.Severity == SeverityHardBlock {
			return true
		}
	}
	return false
}

// CreateRule validates and persists a new conflict rule.
func (s *Service) CreateRule(ctx context.Context, rule Rule) (Rule, error) {
	if rule.RoleA.IsNil() || rule.RoleB.IsNil() {
		return Rule{}, dErrors.New(dErrors.CodeValidation, "both roles are required")
	}
	if rule.RoleA == rule.RoleB {
		return Rule{}, dErrors.New(dErrors.CodeValidation, "a role cannot conflict with itself")
	}
	if rule.Name == "" {
		return Rule{}, dErrors.New(dErrors.CodeValidation, "rule name is required")
	}
	if !rule.Severity.IsValid() {
		return Rule{}, dErrors.Newf(dErrors.CodeValidation, "invalid severity: %q", rule.Severity)
	}
	rule.Active = true

	created, err := s.rules.Create(ctx, rule)
	if err != nil {
		if errors.Is(err, sentinel.ErrConflict) {
			return Rule{}, dErrors.New(dErrors.CodeConflict, "a rule for this role pair already exists")
		}
		return Rule{}, dErrors.Wrap(err, dErrors.CodeInternal, "create rule")
	}
	s.recordRuleEvent(ctx, rule.CreatedBy, audit.ActionSodRuleCreated, created)
	return created, nil
}

// UpdateRule applies changes to an existing rule. The role pair itself is
// immutable; delete and recreate to change it.
func (s *Service) UpdateRule(ctx context.Context, rule Rule) (Rule, error) {
	if rule.Severity != "" && !rule.Severity.IsValid() {
		return Rule{}, dErrors.Newf(dErrors.CodeValidation, "invalid severity: %q", rule.Severity)
	}
	updated, err := s.rules.Update(ctx, rule)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return Rule{}, dErrors.Newf(dErrors.CodeNotFound, "rule %d not found", rule.ID)
		}
		return Rule{}, dErrors.Wrap(err, dErrors.CodeInternal, "update rule")
	}
	s.recordRuleEvent(ctx, 0, audit.ActionSodRuleUpdated, updated)
	return updated, nil
}

// DeleteRule removes a rule entirely. Deactivation (Active=false via
// UpdateRule) is the soft alternative.
func (s *Service) DeleteRule(ctx context.Context, ruleID id.RuleID) error {
	if err := s.rules.Delete(ctx, ruleID); err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return dErrors.Newf(dErrors.CodeNotFound, "rule %d not found", ruleID)
		}
		return dErrors.Wrap(err, dErrors.CodeInternal, "delete rule")
	}
	s.recordRuleEvent(ctx, 0, audit.ActionSodRuleDeleted, Rule{ID: ruleID})
	return nil
}

// ListRules returns configured rules, optionally only active ones.
func (s *Service) ListRules(ctx context.Context, activeOnly bool) ([]Rule, error) {
	rules, err := s.rules.List(ctx, activeOnly)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "list rules")
	}
	return rules, nil
}

func (s *Service) recordRuleEvent(ctx context.Context, actor id.UserID, action audit.Action, rule Rule) {
	if s.auditor == nil {
		return
	}
	detail := fmt.Sprintf("rule %d (%s) roles %d/%d severity %s", rule.ID, rule.Name, rule.RoleA, rule.RoleB, rule.Severity)
	if err := s.auditor.Record(ctx, 0, actor, action, detail); err != nil && s.logger != nil {
		s.logger.WarnContext(ctx, "failed to record rule audit event", "action", action, "error", err)
	}
}
