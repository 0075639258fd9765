package common

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/cucumber/godog"
)

// TestContext interface defines the methods needed from the main test context
type TestContext interface {
	Do(method, path string, query url.Values, headers map[string]string) error
	GetStatus() int
	GetResponseField(field string) (interface{}, error)
}

// RegisterSteps registers request and response assertion steps
func RegisterSteps(ctx *godog.ScenarioContext, tc TestContext) {
	steps := &commonSteps{tc: tc}

	ctx.Step(`^the service is healthy$`, steps.serviceIsHealthy)
	ctx.Step(`^the response status should be (\d+)$`, steps.responseStatusShouldBe)
	ctx.Step(`^the response field "([^"]*)" should equal "([^"]*)"$`, steps.responseFieldShouldEqual)
	ctx.Step(`^the response should contain "([^"]*)"$`, steps.responseShouldContain)
}

type commonSteps struct {
	tc TestContext
}

func (s *commonSteps) serviceIsHealthy(ctx context.Context) error {
	if err := s.tc.Do(http.MethodGet, "/health", nil, nil); err != nil {
		return err
	}
	return s.responseStatusShouldBe(ctx, http.StatusOK)
}

func (s *commonSteps) responseStatusShouldBe(_ context.Context, status int) error {
	if got := s.tc.GetStatus(); got != status {
		return fmt.Errorf("expected status %d, got %d", status, got)
	}
	return nil
}

func (s *commonSteps) responseFieldShouldEqual(_ context.Context, field, want string) error {
	value, err := s.tc.GetResponseField(field)
	if err != nil {
		return err
	}
	if got := fmt.Sprint(value); got != want {
		return fmt.Errorf("expected %s=%q, got %q", field, want, got)
	}
	return nil
}

func (s *commonSteps) responseShouldContain(_ context.Context, field string) error {
	_, err := s.tc.GetResponseField(field)
	return err
}
