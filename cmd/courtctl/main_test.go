package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"courtroom/api/internal/auth"
	"courtroom/api/internal/court"
)

func env(values map[string]string) func(string) string {
	return func(key string) string { return values[key] }
}

func TestRunRequiresCommand(t *testing.T) {
	err := run(context.Background(), nil, env(nil), io.Discard)
	require.Error(t, err)

	err = run(context.Background(), []string{"bogus"}, env(nil), io.Discard)
	require.ErrorContains(t, err, `unknown command "bogus"`)
}

func TestTokenCommand(t *testing.T) {
	var out bytes.Buffer
	err := run(context.Background(), []string{"token", "-user", "user_alice"}, env(map[string]string{"COURT_JWT_SECRET": "s3cret"}), &out)
	require.NoError(t, err)

	claims, err := auth.ParseToken([]byte("s3cret"), string(bytes.TrimSpace(out.Bytes())))
	require.NoError(t, err)
	assert.Equal(t, "user_alice", claims.Subject)

	err = run(context.Background(), []string{"token", "-user", "user_alice"}, env(nil), io.Discard)
	require.ErrorContains(t, err, "-secret is required")
}

func TestStateAndActCommands(t *testing.T) {
	var gotAuth, gotPath string
	var gotAction court.Action
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotPath = r.URL.Path
		view := court.View{Phase: court.ViewIdle, Version: 3}
		if r.Method == http.MethodPost {
			_ = json.NewDecoder(r.Body).Decode(&gotAction)
			view = court.View{Phase: court.ViewPendingCreator, Version: 4}
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"state": view})
	}))
	defer server.Close()
	vars := env(map[string]string{"COURT_SERVER": server.URL, "COURT_TOKEN": "tok"})

	var out bytes.Buffer
	require.NoError(t, run(context.Background(), []string{"state"}, vars, &out))
	assert.Equal(t, "Bearer tok", gotAuth)
	assert.Equal(t, "/api/court/state", gotPath)
	var view court.View
	require.NoError(t, json.Unmarshal(out.Bytes(), &view))
	assert.Equal(t, court.ViewIdle, view.Phase)

	out.Reset()
	args := []string{"act", "serve", "-partner", "user_bob", "-judge", "blunt"}
	require.NoError(t, run(context.Background(), args, vars, &out))
	assert.Equal(t, "/api/court/actions/serve", gotPath)
	assert.Equal(t, "user_bob", gotAction.PartnerID)
	assert.Equal(t, "blunt", gotAction.JudgeType)
	require.NoError(t, json.Unmarshal(out.Bytes(), &view))
	assert.Equal(t, court.ViewPendingCreator, view.Phase)
}

func TestActRejectsUnknownAction(t *testing.T) {
	err := run(context.Background(), []string{"act", "objection"}, env(nil), io.Discard)
	require.Error(t, err)
}

func TestWSURL(t *testing.T) {
	assert.Equal(t, "ws://localhost:8787/ws", wsURL("http://localhost:8787/"))
	assert.Equal(t, "wss://court.example/ws", wsURL("https://court.example"))
}
