package views

import (
	"context"
	"fmt"

	"github.com/cucumber/godog"
)

// TestContext interface defines the methods needed from the main test context
type TestContext interface {
	Send(method, path string, body any) error
	GetResponseField(field string) (any, error)
	GetLastResponseBody() []byte
	GetCaseID() string
}

// RegisterSteps registers projection step definitions
func RegisterSteps(ctx *godog.ScenarioContext, tc TestContext) {
	steps := &viewSteps{tc: tc}

	ctx.Step(`^I open my dashboard$`, steps.openDashboard)
	ctx.Step(`^I open the map$`, steps.openMap)
	ctx.Step(`^the view should be "([^"]*)"$`, steps.viewShouldBe)
	ctx.Step(`^the dashboard should list the case$`, steps.dashboardShouldListCase)
	ctx.Step(`^the map should show the case$`, steps.mapShouldShowCase)
}

type viewSteps struct {
	tc TestContext
}

func (s *viewSteps) openDashboard(ctx context.Context) error {
	return s.tc.Send("GET", "/views/me", nil)
}

func (s *viewSteps) openMap(ctx context.Context) error {
	return s.tc.Send("GET", "/views/map", nil)
}

func (s *viewSteps) viewShouldBe(ctx context.Context, kind string) error {
	got, err := s.tc.GetResponseField("view")
	if err != nil {
		return err
	}
	if got != kind {
		return fmt.Errorf("expected view %q, got %v", kind, got)
	}
	return nil
}

func (s *viewSteps) dashboardShouldListCase(ctx context.Context) error {
	return s.containsCase("data.cases")
}

func (s *viewSteps) mapShouldShowCase(ctx context.Context) error {
	return s.containsCase("data")
}

func (s *viewSteps) containsCase(field string) error {
	raw, err := s.tc.GetResponseField(field)
	if err != nil {
		return err
	}
	items, _ := raw.([]any)
	for _, item := range items {
		if m, ok := item.(map[string]any); ok && m["id"] == s.tc.GetCaseID() {
			return nil
		}
	}
	return fmt.Errorf("case %s not in %s: %s", s.tc.GetCaseID(), field, s.tc.GetLastResponseBody())
}
