package e2e

import (
	"github.com/cucumber/godog"

	"entitle/e2e/steps/common"
	"entitle/e2e/steps/sod"
	"entitle/e2e/steps/workflow"
)

// RegisterSteps registers all step definitions from modular packages.
func RegisterSteps(ctx *godog.ScenarioContext, tc *TestContext) {
	// Background, generic requests, response assertions.
	common.RegisterSteps(ctx, tc)

	// Request lifecycle steps.
	workflow.RegisterSteps(ctx, tc)

	// Conflict-rule steps.
	sod.RegisterSteps(ctx, tc)
}
