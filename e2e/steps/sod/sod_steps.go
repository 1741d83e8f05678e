package sod

import (
	"context"
	"fmt"

	"github.com/cucumber/godog"
)

// TestContext is the slice of the main test context these steps need.
type TestContext interface {
	POST(path string, body any) error
	LastStatus() int
	GetResponseField(field string) (any, error)
	AuthenticateAs(userID int64) error
	AuthenticateAsAdmin()
}

// RegisterSteps registers conflict-rule step definitions.
func RegisterSteps(ctx *godog.ScenarioContext, tc TestContext) {
	steps := &sodSteps{tc: tc}

	ctx.Step(`^a "([^"]*)" conflict rule between roles (\d+) and (\d+) exists$`, steps.createRule)
	ctx.Step(`^I check role (\d+) for user (\d+)$`, steps.checkRole)
	ctx.Step(`^the check should report a hard block$`, steps.shouldHardBlock)
	ctx.Step(`^the check should allow proceeding with justification$`, steps.shouldAllowJustified)
}

type sodSteps struct {
	tc TestContext
}

func (s *sodSteps) createRule(ctx context.Context, severity string, roleA, roleB int64) error {
	s.tc.AuthenticateAsAdmin()
	err := s.tc.POST("/api/sod/rules", map[string]any{
		"role_a_id": roleA,
		"role_b_id": roleB,
		"name":      fmt.Sprintf("e2e conflict %d vs %d", roleA, roleB),
		"severity":  severity,
	})
	if err != nil {
		return err
	}
	if s.tc.LastStatus() != 201 {
		return fmt.Errorf("create rule: status %d", s.tc.LastStatus())
	}
	return nil
}

func (s *sodSteps) checkRole(ctx context.Context, roleID, userID int64) error {
	return s.tc.POST("/api/sod/check", map[string]any{
		"user_id": userID,
		"role_id": roleID,
	})
}

func (s *sodSteps) shouldHardBlock(ctx context.Context) error {
	blocked, err := s.tc.GetResponseField("hard_block")
	if err != nil {
		return err
	}
	if blocked != true {
		return fmt.Errorf("expected hard_block=true, got %v", blocked)
	}
	return nil
}

func (s *sodSteps) shouldAllowJustified(ctx context.Context) error {
	ok, err := s.tc.GetResponseField("can_proceed_with_justification")
	if err != nil {
		return err
	}
	if ok != true {
		return fmt.Errorf("expected can_proceed_with_justification=true, got %v", ok)
	}
	return nil
}
