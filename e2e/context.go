// Package e2e drives a running entitlement service over HTTP with godog.
//
// The suite needs a deployed stack (server plus the directory mock, see
// mocks/directory) and two environment variables:
//
//	E2E_BASE_URL     — where the service listens, e.g. http://localhost:8080
//	E2E_ADMIN_TOKEN  — a valid admin access token; the suite bootstraps all
//	                   other identities from it via the login-code exchange
package e2e

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
)

// TestContext carries HTTP state across steps of one scenario.
type TestContext struct {
	baseURL    string
	adminToken string
	client     *http.Client

	// currentToken authenticates the next request.
	currentToken string
	// tokens caches access tokens per user id.
	tokens map[int64]string

	lastStatus int
	lastBody   map[string]any
	lastRaw    []byte

	// requestID is the access request the scenario is working on.
	requestID int64
}

func NewTestContext(baseURL, adminToken string) *TestContext {
	return &TestContext{
		baseURL:    strings.TrimRight(baseURL, "/"),
		adminToken: adminToken,
		client:     &http.Client{},
		tokens:     map[int64]string{},
	}
}

// Reset clears scenario state, keeping cached tokens.
func (tc *TestContext) Reset() {
	tc.currentToken = ""
	tc.lastStatus = 0
	tc.lastBody = nil
	tc.lastRaw = nil
	tc.requestID = 0
}

func (tc *TestContext) do(method, path string, body any) error {
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequest(method, tc.baseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if tc.currentToken != "" {
		req.Header.Set("Authorization", "Bearer "+tc.currentToken)
	}

	resp, err := tc.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	tc.lastStatus = resp.StatusCode
	tc.lastBody = nil
	tc.lastRaw = nil

	var decoded map[string]any
	buf := new(bytes.Buffer)
	if _, err := buf.ReadFrom(resp.Body); err != nil {
		return err
	}
	tc.lastRaw = buf.Bytes()
	if len(tc.lastRaw) > 0 && json.Unmarshal(tc.lastRaw, &decoded) == nil {
		tc.lastBody = decoded
	}
	return nil
}

// POST sends a JSON request with the current token.
func (tc *TestContext) POST(path string, body any) error { return tc.do(http.MethodPost, path, body) }

// GET sends a request with the current token.
func (tc *TestContext) GET(path string) error { return tc.do(http.MethodGet, path, nil) }

// LastStatus returns the status code of the last response.
func (tc *TestContext) LastStatus() int { return tc.lastStatus }

// GetResponseField returns a top-level field of the last JSON response.
func (tc *TestContext) GetResponseField(field string) (any, error) {
	if tc.lastBody == nil {
		return nil, fmt.Errorf("last response carried no JSON object: %s", string(tc.lastRaw))
	}
	v, ok := tc.lastBody[field]
	if !ok {
		return nil, fmt.Errorf("field %q not in response: %s", field, string(tc.lastRaw))
	}
	return v, nil
}

// AuthenticateAs makes user the current caller, minting a token through the
// login-code exchange on first use.
func (tc *TestContext) AuthenticateAs(userID int64) error {
	if token, ok := tc.tokens[userID]; ok {
		tc.currentToken = token
		return nil
	}

	tc.currentToken = tc.adminToken
	if err := tc.POST("/api/auth/code", map[string]any{"user_id": userID}); err != nil {
		return err
	}
	if tc.lastStatus != http.StatusCreated {
		return fmt.Errorf("issuing login code for user %d: status %d body %s", userID, tc.lastStatus, string(tc.lastRaw))
	}
	code, err := tc.GetResponseField("code")
	if err != nil {
		return err
	}

	tc.currentToken = ""
	if err := tc.POST("/auth/token", map[string]any{"code": code}); err != nil {
		return err
	}
	if tc.lastStatus != http.StatusOK {
		return fmt.Errorf("redeeming login code for user %d: status %d body %s", userID, tc.lastStatus, string(tc.lastRaw))
	}
	token, err := tc.GetResponseField("access_token")
	if err != nil {
		return err
	}

	tc.tokens[userID] = token.(string)
	tc.currentToken = tc.tokens[userID]
	return nil
}

// AuthenticateAsAdmin switches to the bootstrap admin token.
func (tc *TestContext) AuthenticateAsAdmin() {
	tc.currentToken = tc.adminToken
}

// SetRequestID remembers the scenario's access request.
func (tc *TestContext) SetRequestID(id int64) { tc.requestID = id }

// RequestID returns the scenario's access request id.
func (tc *TestContext) RequestID() int64 { return tc.requestID }
