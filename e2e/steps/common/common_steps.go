package common

import (
	"context"
	"fmt"

	"github.com/cucumber/godog"
)

// TestContext interface defines the methods needed from the main test context
type TestContext interface {
	ActAs(name, role string) error
	Send(method, path string, body any) error
	SendWithToken(method, path, token string) error
	GetResponseField(field string) (any, error)
	GetLastResponseStatus() int
	GetLastResponseBody() []byte
}

// RegisterSteps registers actor, request and assertion steps
func RegisterSteps(ctx *godog.ScenarioContext, tc TestContext) {
	steps := &commonSteps{tc: tc}

	// Actors
	ctx.Step(`^I am the citizen "([^"]*)"$`, steps.asRole("CITIZEN"))
	ctx.Step(`^I am the official "([^"]*)"$`, steps.asRole("OFFICIAL"))
	ctx.Step(`^I am the admin "([^"]*)"$`, steps.asRole("SUPER_ADMIN"))

	// Requests
	ctx.Step(`^I send "(GET|POST|PATCH)" to "([^"]*)"$`, steps.send)
	ctx.Step(`^I GET "([^"]*)" with token "([^"]*)"$`, steps.getWithToken)

	// Assertions
	ctx.Step(`^the response status should be (\d+)$`, steps.statusShouldBe)
	ctx.Step(`^the response error should be "([^"]*)"$`, steps.errorShouldBe)
	ctx.Step(`^the response field "([^"]*)" should be "([^"]*)"$`, steps.fieldShouldBe)
	ctx.Step(`^the response field "([^"]*)" should be absent$`, steps.fieldShouldBeAbsent)
}

type commonSteps struct {
	tc TestContext
}

func (s *commonSteps) asRole(role string) func(context.Context, string) error {
	return func(_ context.Context, name string) error {
		return s.tc.ActAs(name, role)
	}
}

func (s *commonSteps) send(_ context.Context, method, path string) error {
	return s.tc.Send(method, path, nil)
}

func (s *commonSteps) getWithToken(_ context.Context, path, token string) error {
	return s.tc.SendWithToken("GET", path, token)
}

func (s *commonSteps) statusShouldBe(_ context.Context, want int) error {
	if got := s.tc.GetLastResponseStatus(); got != want {
		return fmt.Errorf("expected status %d, got %d: %s", want, got, s.tc.GetLastResponseBody())
	}
	return nil
}

func (s *commonSteps) errorShouldBe(ctx context.Context, code string) error {
	return s.fieldShouldBe(ctx, "error", code)
}

func (s *commonSteps) fieldShouldBe(_ context.Context, field, want string) error {
	got, err := s.tc.GetResponseField(field)
	if err != nil {
		return err
	}
	if fmt.Sprint(got) != want {
		return fmt.Errorf("expected %s to be %q, got %v", field, want, got)
	}
	return nil
}

func (s *commonSteps) fieldShouldBeAbsent(_ context.Context, field string) error {
	if got, err := s.tc.GetResponseField(field); err == nil {
		return fmt.Errorf("expected %s to be absent, got %v", field, got)
	}
	return nil
}
