package resolution

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/cucumber/godog"
)

// TestContext interface defines the methods needed from the main test context
type TestContext interface {
	Do(method, path string, query url.Values, headers map[string]string) error
	GetStatus() int
	GetBody() []byte
	GetAdminToken() string
	Remember(name string, id int64)
	Recall(name string) (int64, bool)
}

// RegisterSteps registers fingerprint resolution and admin steps
func RegisterSteps(ctx *godog.ScenarioContext, tc TestContext) {
	steps := &resolutionSteps{tc: tc}

	ctx.Before(func(ctx context.Context, sc *godog.Scenario) (context.Context, error) {
		steps.run = sc.Id
		return ctx, nil
	})

	ctx.Step(`^I check fingerprint "([^"]*)" with weak fingerprint "([^"]*)"$`, steps.checkFingerprint)
	ctx.Step(`^I check fingerprint "([^"]*)" with weak fingerprint "([^"]*)" and typing patterns "([^"]*)"$`, steps.checkWithPatterns)
	ctx.Step(`^I check without a weak fingerprint$`, steps.checkWithoutWeak)
	ctx.Step(`^I remember the identity as "([^"]*)"$`, steps.rememberIdentity)
	ctx.Step(`^the identity should be "([^"]*)"$`, steps.identityShouldBe)
	ctx.Step(`^the identity should not be "([^"]*)"$`, steps.identityShouldNotBe)
	ctx.Step(`^I fetch identity "([^"]*)" as admin$`, steps.fetchAsAdmin)
	ctx.Step(`^I fetch identity "([^"]*)" without an admin token$`, steps.fetchWithoutToken)
	ctx.Step(`^I delete identity "([^"]*)" as admin$`, steps.deleteAsAdmin)
}

type resolutionSteps struct {
	tc TestContext
	// run scopes fingerprints to the scenario so reruns against a
	// persistent store start clean.
	run string
}

func (s *resolutionSteps) scoped(id string) string {
	return s.run + "-" + id
}

func (s *resolutionSteps) check(primary, weak string, patterns []string) error {
	query := url.Values{}
	if primary != "" {
		query.Set("fingerprint_id", s.scoped(primary))
	}
	if weak != "" {
		query.Set("weak_fingerprint_id", s.scoped(weak))
	}
	for _, p := range patterns {
		query.Add("collected_typing_patterns", p)
	}
	return s.tc.Do(http.MethodGet, "/v1/check", query, nil)
}

func (s *resolutionSteps) checkFingerprint(_ context.Context, primary, weak string) error {
	return s.check(primary, weak, nil)
}

func (s *resolutionSteps) checkWithPatterns(_ context.Context, primary, weak, patterns string) error {
	return s.check(primary, weak, strings.Split(patterns, ","))
}

func (s *resolutionSteps) checkWithoutWeak(_ context.Context) error {
	return s.check("lonely", "", nil)
}

func (s *resolutionSteps) lastIdentity() (int64, error) {
	if status := s.tc.GetStatus(); status != http.StatusOK {
		return 0, fmt.Errorf("expected status 200, got %d: %s", status, s.tc.GetBody())
	}
	var id int64
	if err := json.Unmarshal(s.tc.GetBody(), &id); err != nil {
		return 0, fmt.Errorf("response is not an identity id: %s", s.tc.GetBody())
	}
	return id, nil
}

func (s *resolutionSteps) rememberIdentity(_ context.Context, name string) error {
	id, err := s.lastIdentity()
	if err != nil {
		return err
	}
	s.tc.Remember(name, id)
	return nil
}

func (s *resolutionSteps) recall(name string) (int64, error) {
	id, ok := s.tc.Recall(name)
	if !ok {
		return 0, fmt.Errorf("no identity remembered as %q", name)
	}
	return id, nil
}

func (s *resolutionSteps) identityShouldBe(_ context.Context, name string) error {
	want, err := s.recall(name)
	if err != nil {
		return err
	}
	got, err := s.lastIdentity()
	if err != nil {
		return err
	}
	if got != want {
		return fmt.Errorf("expected identity %s (%d), got %d", name, want, got)
	}
	return nil
}

func (s *resolutionSteps) identityShouldNotBe(_ context.Context, name string) error {
	other, err := s.recall(name)
	if err != nil {
		return err
	}
	got, err := s.lastIdentity()
	if err != nil {
		return err
	}
	if got == other {
		return fmt.Errorf("expected a different identity than %s (%d)", name, other)
	}
	return nil
}

func (s *resolutionSteps) adminPath(name string) (string, error) {
	id, err := s.recall(name)
	if err != nil {
		return "", err
	}
	return "/admin/identities/" + strconv.FormatInt(id, 10), nil
}

func (s *resolutionSteps) adminHeaders() map[string]string {
	return map[string]string{"X-Admin-Token": s.tc.GetAdminToken()}
}

func (s *resolutionSteps) fetchAsAdmin(_ context.Context, name string) error {
	path, err := s.adminPath(name)
	if err != nil {
		return err
	}
	return s.tc.Do(http.MethodGet, path, nil, s.adminHeaders())
}

func (s *resolutionSteps) fetchWithoutToken(_ context.Context, name string) error {
	path, err := s.adminPath(name)
	if err != nil {
		return err
	}
	return s.tc.Do(http.MethodGet, path, nil, nil)
}

func (s *resolutionSteps) deleteAsAdmin(_ context.Context, name string) error {
	path, err := s.adminPath(name)
	if err != nil {
		return err
	}
	return s.tc.Do(http.MethodDelete, path, nil, s.adminHeaders())
}
