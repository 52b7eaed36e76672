package app

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"courtroom/api/internal/auth"
	"courtroom/api/internal/court"
)

var testSecret = []byte("test-secret")

func newTestHTTP(t *testing.T, deps Deps, opts HTTPOptions) (*Service, *memStore, http.Handler) {
	t.Helper()
	svc, ms := newTestService(t, deps)
	if opts.JWTSecret == nil {
		opts.JWTSecret = testSecret
	}
	return svc, ms, NewHTTPServer(svc, nil, opts).Handler()
}

func bearer(t *testing.T, userID string) string {
	t.Helper()
	token, err := auth.IssueToken(testSecret, userID, "", time.Hour)
	require.NoError(t, err)
	return "Bearer " + token
}

func doRequest(t *testing.T, handler http.Handler, method, path, userID, body string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	if userID != "" {
		req.Header.Set("Authorization", bearer(t, userID))
	}
	for key, value := range headers {
		req.Header.Set(key, value)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

type stateResponse struct {
	State court.View `json:"state"`
}

type errorResponse struct {
	Error errorBody `json:"error"`
}

func decodeState(t *testing.T, rec *httptest.ResponseRecorder) court.View {
	t.Helper()
	var resp stateResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp), rec.Body.String())
	return resp.State
}

func decodeErrorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var resp errorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp), rec.Body.String())
	return resp.Error.Code
}

func TestHealthAndReady(t *testing.T) {
	_, ms, handler := newTestHTTP(t, Deps{}, HTTPOptions{})

	rec := doRequest(t, handler, http.MethodGet, "/api/health", "", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	rec = doRequest(t, handler, http.MethodGet, "/api/ready", "", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	ms.pingFn = func(context.Context) error { return errors.New("connection refused") }
	rec = doRequest(t, handler, http.MethodGet, "/api/ready", "", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "not_ready")
}

func TestPreflightIsAnswered(t *testing.T) {
	_, _, handler := newTestHTTP(t, Deps{}, HTTPOptions{CORSOrigin: "https://court.example"})
	rec := doRequest(t, handler, http.MethodOptions, "/api/court/actions/serve", "", "", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "https://court.example", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestCourtRoutesRequireToken(t *testing.T) {
	_, _, handler := newTestHTTP(t, Deps{}, HTTPOptions{})

	rec := doRequest(t, handler, http.MethodGet, "/api/court/state", "", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "UNAUTHORIZED", decodeErrorCode(t, rec))

	rec = doRequest(t, handler, http.MethodGet, "/api/court/state", "", "", map[string]string{"Authorization": "Bearer nope"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	other, err := auth.IssueToken([]byte("other-secret"), alice, "", time.Hour)
	require.NoError(t, err)
	rec = doRequest(t, handler, http.MethodGet, "/api/court/state", "", "", map[string]string{"Authorization": "Bearer " + other})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestActionEndpointIsIdempotent(t *testing.T) {
	_, ms, handler := newTestHTTP(t, Deps{}, HTTPOptions{})
	headers := map[string]string{"X-Request-ID": "req-serve-1"}

	rec := doRequest(t, handler, http.MethodPost, "/api/court/actions/serve", alice, `{"partnerId":"`+bob+`","judgeType":"gentle"}`, headers)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	first := decodeState(t, rec)
	assert.Equal(t, court.ViewPendingCreator, first.Phase)
	assert.Equal(t, "gentle", first.Session.JudgeType)

	rec = doRequest(t, handler, http.MethodPost, "/api/court/actions/serve", alice, `{"partnerId":"`+bob+`"}`, headers)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	second := decodeState(t, rec)
	assert.Equal(t, first.Session.ID, second.Session.ID)
	assert.Equal(t, first.Version, second.Version)

	ms.mu.Lock()
	assert.Len(t, ms.sessions, 1)
	ms.mu.Unlock()

	// A fresh request id is a new intent and is rejected.
	rec = doRequest(t, handler, http.MethodPost, "/api/court/actions/serve", alice, `{"partnerId":"`+bob+`"}`, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "SESSION_OPEN", decodeErrorCode(t, rec))
}

func TestActionEndpointRejectsBadInput(t *testing.T) {
	_, _, handler := newTestHTTP(t, Deps{}, HTTPOptions{})

	rec := doRequest(t, handler, http.MethodPost, "/api/court/actions/launch", alice, "", nil)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, "UNKNOWN_ACTION", decodeErrorCode(t, rec))

	rec = doRequest(t, handler, http.MethodPost, "/api/court/actions/serve", alice, `{"partnerId":`, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "INVALID_BODY", decodeErrorCode(t, rec))

	rec = doRequest(t, handler, http.MethodPost, "/api/court/actions/serve", alice, `{"partnerId":"`+bob+`","flow":"chaotic"}`, nil)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, "INVALID_INPUT", decodeErrorCode(t, rec))
}

func TestStateEndpoint(t *testing.T) {
	_, _, handler := newTestHTTP(t, Deps{}, HTTPOptions{})

	rec := doRequest(t, handler, http.MethodGet, "/api/court/state", alice, "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, court.ViewIdle, decodeState(t, rec).Phase)

	rec = doRequest(t, handler, http.MethodGet, "/api/court/state?viewerId="+bob, alice, "", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	doRequest(t, handler, http.MethodPost, "/api/court/actions/serve", alice, `{"partnerId":"`+bob+`"}`, nil)
	rec = doRequest(t, handler, http.MethodGet, "/api/court/state?viewerId="+bob, bob, "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	view := decodeState(t, rec)
	assert.Equal(t, court.ViewPendingPartner, view.Phase)
	assert.Equal(t, alice, view.Session.CounterpartID)
}

func TestAuthDisabledTrustsUserHeader(t *testing.T) {
	_, _, handler := newTestHTTP(t, Deps{}, HTTPOptions{AuthDisabled: true})

	rec := doRequest(t, handler, http.MethodGet, "/api/court/state", "", "", map[string]string{"X-User-ID": alice})
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = doRequest(t, handler, http.MethodGet, "/api/court/state", "", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestVerdictAndExportEndpoints(t *testing.T) {
	svc, _, handler := newTestHTTP(t, Deps{}, HTTPOptions{})
	view := toVerdict(t, svc)
	base := "/api/court/sessions/" + view.Session.ID

	rec := doRequest(t, handler, http.MethodGet, base+"/verdicts", bob, "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var listed struct {
		Verdicts []court.VerdictVersion `json:"verdicts"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &listed))
	require.Len(t, listed.Verdicts, 1)

	rec = doRequest(t, handler, http.MethodGet, base+"/verdicts", carol, "", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "NOT_PARTICIPANT", decodeErrorCode(t, rec))

	rec = doRequest(t, handler, http.MethodGet, base+"/verdicts/1/export?format=html", alice, "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/html")
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "attachment")
	assert.Contains(t, rec.Body.String(), "Verdict v1")

	rec = doRequest(t, handler, http.MethodGet, base+"/verdicts/zero/export", alice, "", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doRequest(t, handler, http.MethodGet, base+"/verdicts/1/export?format=rtf", alice, "", nil)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = doRequest(t, handler, http.MethodGet, base+"/archive", alice, "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "ARCHIVE_DISABLED", decodeErrorCode(t, rec))
}

func TestArchiveEndpoint(t *testing.T) {
	svc, _, handler := newTestHTTP(t, Deps{Archive: &fakeArchive{}}, HTTPOptions{})
	view := toVerdict(t, svc)
	base := "/api/court/sessions/" + view.Session.ID + "/archive"

	rec := doRequest(t, handler, http.MethodGet, base+"?limit=5", alice, "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"commits"`)

	rec = doRequest(t, handler, http.MethodGet, base+"?limit=-1", alice, "", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doRequest(t, handler, http.MethodGet, base+"/1", bob, "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Verdict court.VerdictVersion `json:"verdict"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, 1, body.Verdict.Version)

	rec = doRequest(t, handler, http.MethodGet, base+"/7", alice, "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "VERSION_NOT_ARCHIVED", decodeErrorCode(t, rec))

	rec = doRequest(t, handler, http.MethodGet, base+"/1", carol, "", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = doRequest(t, handler, http.MethodGet, base+"/zero", alice, "", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
