package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"entitle/internal/sod"
	"entitle/pkg/platform/sentinel"

	id "entitle/pkg/domain"
)

// Store keeps SoD rules in memory for tests and development.
type Store struct {
	mu     sync.RWMutex
	rules  map[id.RuleID]sod.Rule
	nextID id.RuleID
}

func New() *Store {
	return &Store{rules: make(map[id.RuleID]sod.Rule), nextID: 1}
}

func (s *Store) Create(_ context.Context, rule sod.Rule) (sod.Rule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rule.Normalize()
	for _, existing := range s.rules {
		if existing.RoleA == rule.RoleA && existing.RoleB == rule.RoleB {
			return sod.Rule{}, fmt.Errorf("rule for pair %d/%d already exists (id=%d): %w",
				rule.RoleA, rule.RoleB, existing.ID, sentinel.ErrConflict)
		}
	}

	rule.ID = s.nextID
	s.nextID++
	rule.CreatedAt = time.Now().UTC()
	s.rules[rule.ID] = rule
	return rule, nil
}

func (s *Store) Update(_ context.Context, rule sod.Rule) (sod.Rule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.rules[rule.ID]
	if !ok {
		return sod.Rule{}, fmt.Errorf("rule %d: %w", rule.ID, sentinel.ErrNotFound)
	}
	if rule.Name != "" {
		existing.Name = rule.Name
	}
	if rule.Description != "" {
		existing.Description = rule.Description
	}
	if rule.Severity != "" {
		existing.Severity = rule.Severity
	}
	existing.Active = rule.Active
	existing.UpdatedAt = time.Now().UTC()
	s.rules[rule.ID] = existing
	return existing, nil
}

func (s *Store) Delete(_ context.Context, ruleID id.RuleID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.rules[ruleID]; !ok {
		return fmt.Errorf("rule %d: %w", ruleID, sentinel.ErrNotFound)
	}
	delete(s.rules, ruleID)
	return nil
}

func (s *Store) Get(_ context.Context, ruleID id.RuleID) (sod.Rule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rule, ok := s.rules[ruleID]
	if !ok {
		return sod.Rule{}, fmt.Errorf("rule %d: %w", ruleID, sentinel.ErrNotFound)
	}
	return rule, nil
}

func (s *Store) List(_ context.Context, activeOnly bool) ([]sod.Rule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []sod.Rule
	for _, rule := range s.rules {
		if activeOnly && !rule.Active {
			continue
		}
		out = append(out, rule)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) FindActiveConflicts(_ context.Context, candidate id.RoleID, held []id.RoleID) ([]sod.Rule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	heldSet := make(map[id.RoleID]bool, len(held))
	for _, roleID := range held {
		heldSet[roleID] = true
	}

	var matched []sod.Rule
	for _, rule := range s.rules {
		if !rule.Active {
			continue
		}
		if (rule.RoleA == candidate && heldSet[rule.RoleB]) ||
			(rule.RoleB == candidate && heldSet[rule.RoleA]) {
			matched = append(matched, rule)
		}
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].ID < matched[j].ID })
	return matched, nil
}
