package e2e

import (
	"github.com/cucumber/godog"

	"civicwatch/e2e/steps/cases"
	"civicwatch/e2e/steps/common"
	"civicwatch/e2e/steps/views"
)

// RegisterSteps registers all step definitions from modular packages
func RegisterSteps(ctx *godog.ScenarioContext, tc *TestContext) {
	// Register common steps (actors, generic requests, assertions)
	common.RegisterSteps(ctx, tc)

	// Register case lifecycle steps
	cases.RegisterSteps(ctx, tc)

	// Register projection steps
	views.RegisterSteps(ctx, tc)
}
