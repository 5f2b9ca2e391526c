package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/neboloop/nexus/internal/config"
	"github.com/neboloop/nexus/internal/db"
	"github.com/neboloop/nexus/internal/db/migrations"
	"github.com/neboloop/nexus/internal/dispatch"
	"github.com/neboloop/nexus/internal/middleware"
	"github.com/neboloop/nexus/internal/settings"
	"github.com/neboloop/nexus/internal/svc"
	"github.com/neboloop/nexus/internal/types"
)

func init() {
	migrations.QuietMode = true
}

func newTestServer(t *testing.T, secret string) (*httptest.Server, *svc.ServiceContext) {
	t.Helper()
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprintln(w, `data: {"candidates":[{"content":{"parts":[{"text":"pong"}]},"finishReason":"STOP"}]}`)
	}))
	t.Cleanup(backend.Close)

	c, err := config.LoadFromBytes([]byte("data_dir: " + t.TempDir() + "\nkeyring:\n  enabled: false\n"))
	require.NoError(t, err)
	c.Gemini.BaseURL = backend.URL
	c.Server.AuthSecret = secret
	c.Server.RateLimitPerMinute = 0

	store, err := db.NewMemory()
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	s, err := svc.NewServiceContext(c, store)
	require.NoError(t, err)
	ctx := context.Background()
	require.NoError(t, s.Settings.Set(ctx, settings.KeyProvider, "official"))
	require.NoError(t, s.Settings.Set(ctx, settings.KeyAPIKey, "key-1"))

	srv := httptest.NewServer(NewRouter(s, true))
	t.Cleanup(srv.Close)
	return srv, s
}

func do(t *testing.T, method, url, token string, body any) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, url, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestHealth(t *testing.T) {
	srv, _ := newTestServer(t, "secret")
	resp := do(t, http.MethodGet, srv.URL+"/health", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var body types.HealthResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "healthy", body.Status)
}

func TestAskRequiresToken(t *testing.T) {
	srv, _ := newTestServer(t, "secret")
	resp := do(t, http.MethodPost, srv.URL+"/api/v1/ask", "", types.AskRequest{Text: "ping"})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	token, err := middleware.IssueToken("secret", "test", time.Hour)
	require.NoError(t, err)
	resp = do(t, http.MethodPost, srv.URL+"/api/v1/ask", token, types.AskRequest{Text: "ping", SessionId: "s1"})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var reply dispatch.Reply
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&reply))
	assert.Equal(t, dispatch.ActionReply, reply.Action)
	assert.Equal(t, dispatch.StatusSuccess, reply.Status)
	assert.Equal(t, "pong", reply.Text)
}

func TestSessionRoutes(t *testing.T) {
	srv, _ := newTestServer(t, "")
	api := srv.URL + "/api/v1"

	resp := do(t, http.MethodPost, api+"/sessions", "", types.CreateSessionRequest{Id: "s1", Title: "First"})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = do(t, http.MethodPost, api+"/ask", "", types.AskRequest{Text: "ping", SessionId: "s1"})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = do(t, http.MethodGet, api+"/sessions?limit=10", "", nil)
	var list types.ListSessionsResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&list))
	require.Len(t, list.Sessions, 1)
	assert.Equal(t, "First", list.Sessions[0].Title)

	resp = do(t, http.MethodGet, api+"/sessions/s1", "", nil)
	var got types.GetSessionResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
	require.Len(t, got.Messages, 2)
	assert.Equal(t, "user", got.Messages[0].Role)
	assert.Equal(t, "pong", got.Messages[1].Content)

	resp = do(t, http.MethodGet, api+"/sessions/s1/export", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Type"), "text/markdown")
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "# First")
	assert.Contains(t, string(body), "pong")

	resp = do(t, http.MethodGet, api+"/sessions/s1/export?format=html", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Type"), "text/html")

	resp = do(t, http.MethodGet, api+"/sessions/s1/export?format=pdf", "", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = do(t, http.MethodDelete, api+"/sessions/s1", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp = do(t, http.MethodGet, api+"/sessions/s1", "", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp = do(t, http.MethodDelete, api+"/sessions/s1", "", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestCancelAndResetRoutes(t *testing.T) {
	srv, _ := newTestServer(t, "")
	api := srv.URL + "/api/v1"

	resp := do(t, http.MethodPost, api+"/cancel", "", nil)
	var cancel types.CancelResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&cancel))
	assert.False(t, cancel.Cancelled)

	resp = do(t, http.MethodPost, api+"/context/reset", "", nil)
	var reset types.ResetContextResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&reset))
	assert.True(t, reset.Reset)
}

func TestRunStopsOnCancel(t *testing.T) {
	_, s := newTestServer(t, "")
	c := s.Config
	c.Server.Host = "127.0.0.1"
	c.Server.Port = freePort(t)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- Run(ctx, c, ServerOptions{SvcCtx: s, Quiet: true}) }()

	require.Eventually(t, func() bool {
		resp, err := http.Get(fmt.Sprintf("http://%s/health", c.Addr()))
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 5*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	return ln.Addr().(*net.TCPAddr).Port
}
