package handler_test

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/collapsinghierarchy/gradeseal/audit"
	"github.com/collapsinghierarchy/gradeseal/handler"
	"github.com/collapsinghierarchy/gradeseal/keys"
	"github.com/collapsinghierarchy/gradeseal/model"
	"github.com/collapsinghierarchy/gradeseal/policy"
	"github.com/collapsinghierarchy/gradeseal/routes"
	"github.com/collapsinghierarchy/gradeseal/service"
	"github.com/collapsinghierarchy/gradeseal/store/memory"
)

type env struct {
	srv *httptest.Server
	svc *service.Service

	student  uuid.UUID
	reviewer uuid.UUID
	admin    uuid.UUID

	reviewerEncPriv string // base64
	reviewerSigPriv string // base64
}

func newEnv(t *testing.T) *env {
	t.Helper()
	ctx := context.Background()

	log := logrus.New()
	log.SetOutput(io.Discard)

	st := memory.NewStore()
	km := keys.NewManager(st)
	eng := policy.NewEngine(audit.NewStoreRecorder(st, log))
	svc := service.New(st, eng, km, 1<<20, log)

	srv := httptest.NewServer(routes.SetupRoutes(svc, log))
	t.Cleanup(srv.Close)

	e := &env{srv: srv, svc: svc}

	var err error
	e.student, err = svc.RegisterPrincipal(ctx, uuid.Nil, model.RoleStudent)
	require.NoError(t, err)
	e.reviewer, err = svc.RegisterPrincipal(ctx, uuid.Nil, model.RoleReviewer)
	require.NoError(t, err)
	e.admin, err = svc.RegisterPrincipal(ctx, uuid.Nil, model.RoleAdmin)
	require.NoError(t, err)

	rev, err := svc.Principal(ctx, e.reviewer)
	require.NoError(t, err)

	encPub, encPriv, err := svc.GenerateKeyPair(keys.PurposeConfidentiality)
	require.NoError(t, err)
	require.NoError(t, svc.RegisterPublicKey(ctx, *rev, keys.PurposeConfidentiality, encPub))
	e.reviewerEncPriv = base64.StdEncoding.EncodeToString(encPriv)

	sigPub, sigPriv, err := svc.GenerateKeyPair(keys.PurposeIntegrity)
	require.NoError(t, err)
	require.NoError(t, svc.RegisterPublicKey(ctx, *rev, keys.PurposeIntegrity, sigPub))
	e.reviewerSigPriv = base64.StdEncoding.EncodeToString(sigPriv)

	return e
}

func (e *env) do(t *testing.T, method, path string, as uuid.UUID, body any) *http.Response {
	t.Helper()
	var rd io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, e.srv.URL+path, rd)
	require.NoError(t, err)
	if as != uuid.Nil {
		req.Header.Set(handler.PrincipalHeader, as.String())
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

func decodeID(t *testing.T, resp *http.Response) uuid.UUID {
	t.Helper()
	defer resp.Body.Close()
	var out map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	id, err := uuid.Parse(out["id"])
	require.NoError(t, err)
	return id
}

func (e *env) submit(t *testing.T, content []byte) uuid.UUID {
	t.Helper()
	resp := e.do(t, http.MethodPost, "/gs/v1/submit", e.student, map[string]string{
		"title":    "assignment",
		"content":  base64.StdEncoding.EncodeToString(content),
		"reviewer": e.reviewer.String(),
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	return decodeID(t, resp)
}

func TestSubmitHandler_Success(t *testing.T) {
	e := newEnv(t)
	id := e.submit(t, []byte("hello world"))
	assert.NotEqual(t, uuid.Nil, id)
}

func TestSubmitHandler_InvalidJSON(t *testing.T) {
	e := newEnv(t)
	req, _ := http.NewRequest(http.MethodPost, e.srv.URL+"/gs/v1/submit", bytes.NewReader([]byte("notjson")))
	req.Header.Set(handler.PrincipalHeader, e.student.String())
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestSubmitHandler_MissingPrincipal(t *testing.T) {
	e := newEnv(t)
	resp := e.do(t, http.MethodPost, "/gs/v1/submit", uuid.Nil, map[string]string{
		"title": "x", "content": "", "reviewer": e.reviewer.String(),
	})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestUnsealRoundTripOverHTTP(t *testing.T) {
	e := newEnv(t)
	plaintext := []byte("hello world")
	subID := e.submit(t, plaintext)

	resp := e.do(t, http.MethodPost, "/gs/v1/unseal", e.reviewer, map[string]string{
		"submission": subID.String(),
		"private":    e.reviewerEncPriv,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	defer resp.Body.Close()

	var out map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	raw, err := base64.StdEncoding.DecodeString(out["content"])
	require.NoError(t, err)
	assert.Equal(t, plaintext, raw)
}

func TestUnassignedReviewerGets404(t *testing.T) {
	e := newEnv(t)
	subID := e.submit(t, []byte("secret"))

	otherID, err := e.svc.RegisterPrincipal(context.Background(), uuid.Nil, model.RoleReviewer)
	require.NoError(t, err)

	resp := e.do(t, http.MethodPost, "/gs/v1/unseal", otherID, map[string]string{
		"submission": subID.String(),
		"private":    e.reviewerEncPriv,
	})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestFullWorkflowOverHTTP(t *testing.T) {
	e := newEnv(t)
	subID := e.submit(t, []byte("essay"))

	resp := e.do(t, http.MethodPost, "/gs/v1/evaluate", e.reviewer, map[string]string{
		"submission": subID.String(),
		"grade":      "A",
		"feedback":   "Great work",
		"private":    e.reviewerSigPriv,
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	// Second evaluation conflicts.
	resp = e.do(t, http.MethodPost, "/gs/v1/evaluate", e.reviewer, map[string]string{
		"submission": subID.String(),
		"grade":      "F",
		"feedback":   "changed my mind",
		"private":    e.reviewerSigPriv,
	})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp = e.do(t, http.MethodPost, "/gs/v1/publish", e.admin, map[string]string{
		"submission": subID.String(),
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	// Idempotent republish.
	resp = e.do(t, http.MethodPost, "/gs/v1/publish", e.admin, map[string]string{
		"submission": subID.String(),
	})
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	// Students cannot publish.
	resp = e.do(t, http.MethodPost, "/gs/v1/publish", e.student, map[string]string{
		"submission": subID.String(),
	})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestDeleteEndpoint(t *testing.T) {
	e := newEnv(t)
	subID := e.submit(t, []byte("scrap this"))

	resp := e.do(t, http.MethodDelete, "/gs/v1/submission?id="+subID.String(), e.student, nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	// Gone afterwards, also for the assigned reviewer.
	resp = e.do(t, http.MethodPost, "/gs/v1/unseal", e.reviewer, map[string]string{
		"submission": subID.String(),
		"private":    e.reviewerEncPriv,
	})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestKeyEndpoints(t *testing.T) {
	e := newEnv(t)

	resp := e.do(t, http.MethodPost, "/gs/v1/keys/generate", e.student, map[string]string{
		"purpose": "confidentiality",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var pair map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&pair))
	resp.Body.Close()
	require.NotEmpty(t, pair["public"])
	require.NotEmpty(t, pair["private"])

	resp = e.do(t, http.MethodPost, "/gs/v1/keys", e.student, map[string]string{
		"purpose": "confidentiality",
		"public":  pair["public"],
	})
	assert.Equal(t, http.StatusCreated, resp.StatusCode)

	resp = e.do(t, http.MethodGet,
		"/gs/v1/keys?principal="+e.student.String()+"&purpose=confidentiality", e.reviewer, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var got map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
	resp.Body.Close()
	assert.Equal(t, pair["public"], got["public"])

	// Unregistered purpose lookup is a 404.
	resp = e.do(t, http.MethodGet,
		"/gs/v1/keys?principal="+e.student.String()+"&purpose=integrity", e.reviewer, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestDecisionsEndpoint(t *testing.T) {
	e := newEnv(t)
	e.submit(t, []byte("essay"))

	resp := e.do(t, http.MethodGet, "/gs/v1/decisions", e.admin, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	resp.Body.Close()
	assert.NotEmpty(t, bytes.TrimSpace(body), "trail must contain decisions")

	resp = e.do(t, http.MethodGet, "/gs/v1/decisions", e.student, nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}
