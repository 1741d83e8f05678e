package e2e

import (
	"context"
	"os"
	"testing"

	"github.com/cucumber/godog"
)

func TestFeatures(t *testing.T) {
	baseURL := os.Getenv("E2E_BASE_URL")
	adminToken := os.Getenv("E2E_ADMIN_TOKEN")
	if baseURL == "" || adminToken == "" {
		t.Skip("E2E_BASE_URL and E2E_ADMIN_TOKEN must be set")
	}

	tc := NewTestContext(baseURL, adminToken)

	suite := godog.TestSuite{
		ScenarioInitializer: func(ctx *godog.ScenarioContext) {
			ctx.Before(func(c context.Context, sc *godog.Scenario) (context.Context, error) {
				tc.Reset()
				return c, nil
			})
			RegisterSteps(ctx, tc)
		},
		Options: &godog.Options{
			Format:   "pretty",
			Paths:    []string{"features"},
			TestingT: t,
		},
	}

	if suite.Run() != 0 {
		t.Fatal("feature suite failed")
	}
}
