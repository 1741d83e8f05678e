package common

import (
	"context"
	"encoding/json"
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
	AuthenticateAsAdmin()
}

// RegisterSteps registers background and generic assertion steps.
func RegisterSteps(ctx *godog.ScenarioContext, tc TestContext) {
	steps := &commonSteps{tc: tc}

	ctx.Step(`^the service is available$`, steps.serviceIsAvailable)
	ctx.Step(`^I am authenticated as user (\d+)$`, steps.authenticateAs)
	ctx.Step(`^I am authenticated as an administrator$`, steps.authenticateAsAdmin)
	ctx.Step(`^I POST to "([^"]*)" with body:$`, steps.postWithBody)
	ctx.Step(`^I GET "([^"]*)"$`, steps.get)
	ctx.Step(`^the response status should be (\d+)$`, steps.responseStatusShouldBe)
	ctx.Step(`^the response field "([^"]*)" should be "([^"]*)"$`, steps.responseFieldShouldBe)
	ctx.Step(`^the response field "([^"]*)" should exist$`, steps.responseFieldShouldExist)
}

type commonSteps struct {
	tc TestContext
}

func (s *commonSteps) serviceIsAvailable(ctx context.Context) error {
	if err := s.tc.GET("/healthz"); err != nil {
		return err
	}
	if s.tc.LastStatus() != 200 {
		return fmt.Errorf("service not healthy: status %d", s.tc.LastStatus())
	}
	return nil
}

func (s *commonSteps) authenticateAs(ctx context.Context, userID int64) error {
	return s.tc.AuthenticateAs(userID)
}

func (s *commonSteps) authenticateAsAdmin(ctx context.Context) error {
	s.tc.AuthenticateAsAdmin()
	return nil
}

func (s *commonSteps) postWithBody(ctx context.Context, path string, body *godog.DocString) error {
	var payload map[string]any
	if err := json.Unmarshal([]byte(body.Content), &payload); err != nil {
		return fmt.Errorf("step body is not valid JSON: %w", err)
	}
	return s.tc.POST(path, payload)
}

func (s *commonSteps) get(ctx context.Context, path string) error {
	return s.tc.GET(path)
}

func (s *commonSteps) responseStatusShouldBe(ctx context.Context, expected int) error {
	if s.tc.LastStatus() != expected {
		return fmt.Errorf("expected status %d, got %d", expected, s.tc.LastStatus())
	}
	return nil
}

func (s *commonSteps) responseFieldShouldBe(ctx context.Context, field, expected string) error {
	value, err := s.tc.GetResponseField(field)
	if err != nil {
		return err
	}
	if fmt.Sprintf("%v", value) != expected {
		return fmt.Errorf("expected %s=%q, got %q", field, expected, fmt.Sprintf("%v", value))
	}
	return nil
}

func (s *commonSteps) responseFieldShouldExist(ctx context.Context, field string) error {
	_, err := s.tc.GetResponseField(field)
	return err
}
