package e2e

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/cucumber/godog"

	"visitorid/e2e/steps/common"
	"visitorid/e2e/steps/resolution"
)

// TestContext carries one scenario's HTTP state against a running server.
type TestContext struct {
	BaseURL    string
	AdminToken string
	client     *http.Client

	status int
	body   []byte
	ids    map[string]int64
}

func NewTestContext(baseURL, adminToken string) *TestContext {
	return &TestContext{
		BaseURL:    baseURL,
		AdminToken: adminToken,
		client:     &http.Client{Timeout: 10 * time.Second},
		ids:        make(map[string]int64),
	}
}

// RegisterSteps registers all step definitions from modular packages
func RegisterSteps(ctx *godog.ScenarioContext, tc *TestContext) {
	// Generic request and assertion steps
	common.RegisterSteps(ctx, tc)

	// Fingerprint resolution and admin steps
	resolution.RegisterSteps(ctx, tc)
}

func (tc *TestContext) Do(method, path string, query url.Values, headers map[string]string) error {
	target := tc.BaseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}
	req, err := http.NewRequest(method, target, nil)
	if err != nil {
		return err
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := tc.client.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	tc.status = resp.StatusCode
	tc.body = body
	return nil
}

func (tc *TestContext) GetStatus() int {
	return tc.status
}

func (tc *TestContext) GetBody() []byte {
	return tc.body
}

func (tc *TestContext) GetResponseField(field string) (interface{}, error) {
	var payload map[string]interface{}
	if err := json.Unmarshal(tc.body, &payload); err != nil {
		return nil, fmt.Errorf("response is not a JSON object: %s", bytes.TrimSpace(tc.body))
	}
	value, ok := payload[field]
	if !ok {
		return nil, fmt.Errorf("response has no field %q", field)
	}
	return value, nil
}

func (tc *TestContext) GetAdminToken() string {
	return tc.AdminToken
}

func (tc *TestContext) Remember(name string, id int64) {
	tc.ids[name] = id
}

func (tc *TestContext) Recall(name string) (int64, bool) {
	id, ok := tc.ids[name]
	return id, ok
}
