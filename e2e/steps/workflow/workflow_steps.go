package workflow

import (
	"context"
	"fmt"

	"github.com/cucumber/godog"
)

// TestContext is the slice of the main test context these steps need.
type TestContext interface {
	POST(path string, body any) error
	GET(path string) error
	LastStatus() int
	GetResponseField(field string) (any, error)
	AuthenticateAs(userID int64) error
	SetRequestID(id int64)
	RequestID() int64
}

// RegisterSteps registers access-request lifecycle step definitions.
func RegisterSteps(ctx *godog.ScenarioContext, tc TestContext) {
	steps := &workflowSteps{tc: tc}

	ctx.Step(`^I create a draft request for role (\d+) on system (\d+)$`, steps.createDraft)
	ctx.Step(`^I create a temporary request for role (\d+) on system (\d+) valid until "([^"]*)"$`, steps.createTemporary)
	ctx.Step(`^I submit the request$`, steps.submitRequest)
	ctx.Step(`^user (\d+) approves the request$`, steps.approve)
	ctx.Step(`^user (\d+) rejects the request with comment "([^"]*)"$`, steps.reject)
	ctx.Step(`^user (\d+) cancels the request$`, steps.cancel)
	ctx.Step(`^the request status should be "([^"]*)"$`, steps.requestStatusShouldBe)
	ctx.Step(`^I add the comment "([^"]*)"$`, steps.addComment)
}

type workflowSteps struct {
	tc TestContext
}

func (s *workflowSteps) createDraft(ctx context.Context, roleID, systemID int64) error {
	err := s.tc.POST("/api/requests", map[string]any{
		"system_id":     systemID,
		"role_id":       roleID,
		"request_type":  "new_access",
		"justification": "end to end coverage of the approval lifecycle",
	})
	if err != nil {
		return err
	}
	return s.rememberRequest()
}

func (s *workflowSteps) createTemporary(ctx context.Context, roleID, systemID int64, until string) error {
	err := s.tc.POST("/api/requests", map[string]any{
		"system_id":     systemID,
		"role_id":       roleID,
		"request_type":  "temporary_access",
		"is_temporary":  true,
		"valid_until":   until,
		"justification": "temporary elevated access for the audit window",
	})
	if err != nil {
		return err
	}
	return s.rememberRequest()
}

func (s *workflowSteps) rememberRequest() error {
	if s.tc.LastStatus() != 201 {
		return fmt.Errorf("create request: status %d", s.tc.LastStatus())
	}
	raw, err := s.tc.GetResponseField("id")
	if err != nil {
		return err
	}
	id, ok := raw.(float64)
	if !ok {
		return fmt.Errorf("request id is not numeric: %v", raw)
	}
	s.tc.SetRequestID(int64(id))
	return nil
}

func (s *workflowSteps) submitRequest(ctx context.Context) error {
	return s.tc.POST(fmt.Sprintf("/api/requests/%d/submit", s.tc.RequestID()), nil)
}

func (s *workflowSteps) approve(ctx context.Context, userID int64) error {
	if err := s.tc.AuthenticateAs(userID); err != nil {
		return err
	}
	return s.tc.POST(fmt.Sprintf("/api/requests/%d/approve", s.tc.RequestID()), nil)
}

func (s *workflowSteps) reject(ctx context.Context, userID int64, comment string) error {
	if err := s.tc.AuthenticateAs(userID); err != nil {
		return err
	}
	return s.tc.POST(fmt.Sprintf("/api/requests/%d/reject", s.tc.RequestID()),
		map[string]any{"comment": comment})
}

func (s *workflowSteps) cancel(ctx context.Context, userID int64) error {
	if err := s.tc.AuthenticateAs(userID); err != nil {
		return err
	}
	return s.tc.POST(fmt.Sprintf("/api/requests/%d/cancel", s.tc.RequestID()), nil)
}

func (s *workflowSteps) requestStatusShouldBe(ctx context.Context, expected string) error {
	if err := s.tc.GET(fmt.Sprintf("/api/requests/%d", s.tc.RequestID())); err != nil {
		return err
	}
	status, err := s.tc.GetResponseField("status")
	if err != nil {
		return err
	}
	if status != expected {
		return fmt.Errorf("expected request status %q, got %q", expected, status)
	}
	return nil
}

func (s *workflowSteps) addComment(ctx context.Context, text string) error {
	return s.tc.POST(fmt.Sprintf("/api/requests/%d/comments", s.tc.RequestID()),
		map[string]any{"text": text})
}
