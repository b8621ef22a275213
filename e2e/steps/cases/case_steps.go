package cases

import (
	"context"
	"fmt"
	"strings"

	"github.com/cucumber/godog"
)

// TestContext interface defines the methods needed from the main test context
type TestContext interface {
	Send(method, path string, body any) error
	Upload(path string, files map[string]string) error
	GetResponseField(field string) (any, error)
	GetLastResponseStatus() int
	GetLastResponseBody() []byte
	SetCaseID(caseID string)
}

// RegisterSteps registers case lifecycle step definitions
func RegisterSteps(ctx *godog.ScenarioContext, tc TestContext) {
	steps := &caseSteps{tc: tc}

	// Filing
	ctx.Step(`^I file a "([^"]*)" complaint titled "([^"]*)"$`, steps.fileComplaint)
	ctx.Step(`^I file an anonymous "([^"]*)" complaint titled "([^"]*)"$`, steps.fileAnonymousComplaint)

	// Evidence and analysis
	ctx.Step(`^I attach evidence files "([^"]*)"$`, steps.attachEvidence)
	ctx.Step(`^I request analysis of the case$`, steps.requestAnalysis)

	// Triage
	ctx.Step(`^I move the case to "([^"]*)"$`, steps.moveCase)
	ctx.Step(`^I add the note "([^"]*)"$`, steps.addNote)
	ctx.Step(`^I view the case$`, steps.viewCase)
	ctx.Step(`^the case history should contain "([^"]*)"$`, steps.historyShouldContain)
}

type caseSteps struct {
	tc TestContext
}

func (s *caseSteps) fileComplaint(ctx context.Context, complaintType, title string) error {
	return s.file(complaintType, title, false)
}

func (s *caseSteps) fileAnonymousComplaint(ctx context.Context, complaintType, title string) error {
	return s.file(complaintType, title, true)
}

func (s *caseSteps) file(complaintType, title string, anonymous bool) error {
	body := map[string]any{
		"title":          title,
		"description":    "reported during end-to-end testing",
		"complaint_type": complaintType,
		"is_anonymous":   anonymous,
		"location": map[string]any{
			"text":      "Ward 12",
			"latitude":  28.6139,
			"longitude": 77.2090,
		},
	}
	if err := s.tc.Send("POST", "/cases", body); err != nil {
		return err
	}
	if s.tc.GetLastResponseStatus() != 201 {
		return fmt.Errorf("filing failed with %d: %s", s.tc.GetLastResponseStatus(), s.tc.GetLastResponseBody())
	}
	caseID, err := s.tc.GetResponseField("id")
	if err != nil {
		return err
	}
	s.tc.SetCaseID(caseID.(string))
	return nil
}

func (s *caseSteps) attachEvidence(ctx context.Context, names string) error {
	files := map[string]string{}
	for _, name := range strings.Split(names, ",") {
		name = strings.TrimSpace(name)
		files[name] = "evidence body of " + name
	}
	return s.tc.Upload("/cases/{case}/evidence", files)
}

func (s *caseSteps) requestAnalysis(ctx context.Context) error {
	return s.tc.Send("POST", "/cases/{case}/analysis", nil)
}

func (s *caseSteps) moveCase(ctx context.Context, status string) error {
	return s.tc.Send("PATCH", "/cases/{case}/status", map[string]string{"status": status})
}

func (s *caseSteps) addNote(ctx context.Context, content string) error {
	return s.tc.Send("POST", "/cases/{case}/notes", map[string]string{"content": content})
}

func (s *caseSteps) viewCase(ctx context.Context) error {
	return s.tc.Send("GET", "/cases/{case}", nil)
}

func (s *caseSteps) historyShouldContain(ctx context.Context, action string) error {
	if err := s.tc.Send("GET", "/cases/{case}/events", nil); err != nil {
		return err
	}
	raw, err := s.tc.GetResponseField("events")
	if err != nil {
		return err
	}
	events, _ := raw.([]any)
	for _, e := range events {
		if ev, ok := e.(map[string]any); ok && ev["action"] == action {
			return nil
		}
	}
	return fmt.Errorf("no %q event in case history: %s", action, s.tc.GetLastResponseBody())
}
