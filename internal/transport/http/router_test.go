package httptransport_test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"entitle/internal/audit"
	audithandler "entitle/internal/audit/handler"
	auditmem "entitle/internal/audit/store/memory"
	"entitle/internal/authcode"
	authcodehandler "entitle/internal/authcode/handler"
	authcodemem "entitle/internal/authcode/store/memory"
	"entitle/internal/directory"
	"entitle/internal/jwttoken"
	"entitle/internal/request"
	"entitle/internal/request/chain"
	requesthandler "entitle/internal/request/handler"
	requestmem "entitle/internal/request/store/memory"
	"entitle/internal/revocation"
	revocationhandler "entitle/internal/revocation/handler"
	"entitle/internal/sod"
	sodhandler "entitle/internal/sod/handler"
	sodmem "entitle/internal/sod/store/memory"
	httptransport "entitle/internal/transport/http"

	id "entitle/pkg/domain"
	txcontext "entitle/pkg/platform/tx"

	"log/slog"
	"os"
)

type env struct {
	server *httptest.Server
	tokens *jwttoken.Service
	store  *requestmem.Store
}

func newEnv(t *testing.T) *env {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))

	dir := directory.NewStatic()
	dir.PutUser(directory.UserProfile{ID: 1, FullName: "Riley Chen", ManagerID: 2, Active: true})
	dir.PutUser(directory.UserProfile{ID: 2, FullName: "Morgan Hale", Active: true})
	dir.PutUser(directory.UserProfile{ID: 3, FullName: "Sam Ortiz", Active: true, Admin: true})
	dir.PutSystem(10, "Billing")
	dir.PutRole(100, "Payments Initiator")

	store := requestmem.New()
	rules := sodmem.New()

	checker, err := sod.NewService(rules, store.Requests(), dir)
	require.NoError(t, err)
	auditor := audit.NewService(auditmem.New())
	policy := chain.NewResolver(chain.NewConfigured(store.Chains()), chain.NewFallback(dir))

	workflow, err := request.NewService(
		store.Requests(), store.Steps(), store, policy, txcontext.PassthroughRunner{},
		request.WithConflictChecker(checker),
		request.WithAuditor(auditor),
		request.WithDirectory(dir),
		request.WithComments(store.Comments()),
		request.WithChainConfig(store.Chains()),
		request.WithLogger(logger),
	)
	require.NoError(t, err)

	sweeper, err := revocation.NewService(store.Requests(), txcontext.PassthroughRunner{},
		revocation.WithAuditor(auditor), revocation.WithLogger(logger))
	require.NoError(t, err)

	tokens := jwttoken.NewService("router-test-key", "entitle-test", time.Hour)
	codes, err := authcode.NewService(authcodemem.New(), tokens, dir, time.Minute, logger)
	require.NoError(t, err)
	codeHandler := authcodehandler.New(codes, logger)

	router := httptransport.NewRouter(httptransport.RouterConfig{
		Logger:    logger,
		Validator: tokens,
		Public:    codeHandler.RegisterPublic,
		Protected: []httptransport.Registrar{
			requesthandler.New(workflow, logger),
			sodhandler.New(checker, logger),
			revocationhandler.New(sweeper, logger),
			audithandler.New(auditor, logger),
			codeHandler,
		},
	})

	server := httptest.NewServer(router)
	t.Cleanup(server.Close)
	return &env{server: server, tokens: tokens, store: store}
}

func (e *env) do(t *testing.T, method, path, token string, body any) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, e.server.URL+path, &buf)
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

func decodeBody(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	defer resp.Body.Close()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
}

func (e *env) token(t *testing.T, userID id.UserID, admin bool) string {
	t.Helper()
	token, err := e.tokens.Issue(userID, admin)
	require.NoError(t, err)
	return token
}

func TestRouterRejectsMissingToken(t *testing.T) {
	e := newEnv(t)
	resp := e.do(t, http.MethodGet, "/api/requests", "", nil)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestFullApprovalFlowOverHTTP(t *testing.T) {
	e := newEnv(t)
	requester := e.token(t, 1, false)
	manager := e.token(t, 2, false)
	officer := e.token(t, 3, true)

	resp := e.do(t, http.MethodPost, "/api/requests", requester, map[string]any{
		"system_id":      10,
		"role_id":        100,
		"request_type":   "new_access",
		"justification":  "quarterly billing reconciliation duties",
		"target_user_id": 1,
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var created struct {
		ID            int64  `json:"id"`
		RequestNumber string `json:"request_number"`
		Status        string `json:"status"`
	}
	decodeBody(t, resp, &created)
	assert.Equal(t, "draft", created.Status)
	assert.Contains(t, created.RequestNumber, "REQ-")

	resp = e.do(t, http.MethodPost, fmt.Sprintf("/api/requests/%d/submit", created.ID), requester, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var submitted struct {
		Status      string `json:"status"`
		CurrentStep int    `json:"current_step"`
	}
	decodeBody(t, resp, &submitted)
	assert.Equal(t, "in_review", submitted.Status)
	assert.Equal(t, 1, submitted.CurrentStep)

	// The requester has no pending step: deciding is forbidden.
	resp = e.do(t, http.MethodPost, fmt.Sprintf("/api/requests/%d/approve", created.ID), requester, nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	resp.Body.Close()

	resp = e.do(t, http.MethodPost, fmt.Sprintf("/api/requests/%d/approve", created.ID), manager,
		map[string]string{"comment": "ok"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var afterManager struct {
		Status      string `json:"status"`
		CurrentStep int    `json:"current_step"`
	}
	decodeBody(t, resp, &afterManager)
	assert.Equal(t, "in_review", afterManager.Status)
	assert.Equal(t, 2, afterManager.CurrentStep)

	resp = e.do(t, http.MethodPost, fmt.Sprintf("/api/requests/%d/approve", created.ID), officer, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var final struct {
		Status string `json:"status"`
	}
	decodeBody(t, resp, &final)
	assert.Equal(t, "approved", final.Status)

	// Admin provisions, then the audit trail is readable.
	resp = e.do(t, http.MethodPost, fmt.Sprintf("/api/requests/%d/implement", created.ID), officer, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	resp = e.do(t, http.MethodGet, fmt.Sprintf("/api/audit?request_id=%d", created.ID), officer, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var events []struct {
		Action string `json:"action"`
	}
	decodeBody(t, resp, &events)
	actions := make([]string, 0, len(events))
	for _, ev := range events {
		actions = append(actions, ev.Action)
	}
	assert.Contains(t, actions, "created")
	assert.Contains(t, actions, "submitted")
	assert.Contains(t, actions, "fully_approved")
	assert.Contains(t, actions, "implemented")
}

func TestAdminRoutesRequireAdmin(t *testing.T) {
	e := newEnv(t)
	user := e.token(t, 1, false)

	resp := e.do(t, http.MethodPost, "/api/sod/rules", user, map[string]any{
		"role_a_id": 1, "role_b_id": 2, "name": "x", "severity": "warning",
	})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	resp.Body.Close()

	resp = e.do(t, http.MethodPost, "/api/revocations/scan", user, nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	resp.Body.Close()

	resp = e.do(t, http.MethodGet, "/api/audit", user, nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	resp.Body.Close()
}

func TestErrorEnvelope(t *testing.T) {
	e := newEnv(t)
	requester := e.token(t, 1, false)

	resp := e.do(t, http.MethodPost, "/api/requests", requester, map[string]any{
		"system_id":     10,
		"role_id":       100,
		"request_type":  "new_access",
		"justification": "short",
	})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	var envelope struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	decodeBody(t, resp, &envelope)
	assert.Equal(t, "validation_error", envelope.Error)
	assert.NotEmpty(t, envelope.Message)

	resp = e.do(t, http.MethodGet, "/api/requests/99999", requester, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp.Body.Close()
}

func TestLoginCodeExchangeOverHTTP(t *testing.T) {
	e := newEnv(t)
	admin := e.token(t, 3, true)

	resp := e.do(t, http.MethodPost, "/api/auth/code", admin, map[string]any{"user_id": 1})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var issued struct {
		Code string `json:"code"`
	}
	decodeBody(t, resp, &issued)
	require.NotEmpty(t, issued.Code)

	resp = e.do(t, http.MethodPost, "/auth/token", "", map[string]string{"code": issued.Code})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var redeemed struct {
		AccessToken string `json:"access_token"`
		TokenType   string `json:"token_type"`
	}
	decodeBody(t, resp, &redeemed)
	assert.Equal(t, "Bearer", redeemed.TokenType)

	// The minted token works against the API.
	resp = e.do(t, http.MethodGet, "/api/requests", redeemed.AccessToken, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	// And the code burns on first use.
	resp = e.do(t, http.MethodPost, "/auth/token", "", map[string]string{"code": issued.Code})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	resp.Body.Close()
}
