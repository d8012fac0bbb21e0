package admin

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/danmuck/x32emu/internal/auth"
	"github.com/danmuck/x32emu/internal/dispatch"
	"github.com/danmuck/x32emu/internal/protocol"
	"github.com/danmuck/x32emu/internal/server"
	"github.com/danmuck/x32emu/internal/store"
	"github.com/danmuck/x32emu/internal/testutil/testlog"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
)

type fakeSession struct {
	state server.State
}

func (f fakeSession) ID() string          { return "session-a" }
func (f fakeSession) State() server.State { return f.state }
func (f fakeSession) Stats() server.Stats { return server.Stats{Received: 3} }

func newAdmin(t *testing.T, state server.State) *Admin {
	t.Helper()
	gin.SetMode(gin.TestMode)
	reg, err := dispatch.NewRegistry(
		dispatch.Generic{Address: "/ch/01/mix/fader", Kind: protocol.KindFloat, Access: dispatch.AccessReadWrite},
		dispatch.Generic{Address: "/ch/01/config/name", Kind: protocol.KindString, Access: dispatch.AccessReadWrite},
		dispatch.Generic{Address: "/ch/02/mix/fader", Kind: protocol.KindFloat, Access: dispatch.AccessRead},
	)
	require.NoError(t, err)
	st := store.New()
	st.Set("/ch/01/mix/fader", protocol.Float(0.75))
	st.Set("/ch/01/config/name", protocol.String("Lead Vox"))
	st.Set("/ch/02/mix/fader", protocol.Float(0.1))
	d := dispatch.New(reg, store.NewGuard(st))
	return New(":0", d, fakeSession{state: state}, nil)
}

func get(t *testing.T, a *Admin, path string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	rec := httptest.NewRecorder()
	a.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	var body map[string]any
	if rec.Header().Get("Content-Type") == "application/json; charset=utf-8" {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	}
	return rec, body
}

func TestHealthAndReady(t *testing.T) {
	testlog.Start(t)
	a := newAdmin(t, server.StateRunning)
	rec, body := get(t, a, "/health")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "session-a", body["session"])
	require.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	rec, body = get(t, a, "/ready")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, true, body["ready"])

	stopped := newAdmin(t, server.StateStopped)
	rec, body = get(t, stopped, "/ready")
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	require.Equal(t, "stopped", body["state"])
}

func TestParamsEndpoints(t *testing.T) {
	testlog.Start(t)
	a := newAdmin(t, server.StateRunning)
	rec, body := get(t, a, "/params?prefix=/ch/01")
	require.Equal(t, http.StatusOK, rec.Code)
	require.EqualValues(t, 2, body["count"])
	params := body["params"].([]any)
	first := params[0].(map[string]any)
	require.Equal(t, "/ch/01/mix/fader", first["address"])
	require.Equal(t, "/ch/01/mix/fader ,f 0.75", first["text"])

	rec, body = get(t, a, "/param/ch/01/config/name")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "s", body["kind"])
	require.Equal(t, `"Lead Vox"`, body["value"])

	rec, _ = get(t, a, "/param/ch/09/mix/fader")
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCatalogAndMetrics(t *testing.T) {
	testlog.Start(t)
	a := newAdmin(t, server.StateRunning)
	rec, body := get(t, a, "/catalog?prefix=/ch/02")
	require.Equal(t, http.StatusOK, rec.Code)
	require.EqualValues(t, 1, body["count"])
	entry := body["params"].([]any)[0].(map[string]any)
	require.Equal(t, "r", entry["access"])

	rec, _ = get(t, a, "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "x32emu_http_requests_total")

	rec, body = get(t, a, "/stats")
	require.Equal(t, http.StatusOK, rec.Code)
	require.EqualValues(t, 0, body["remotes"])
}

func TestTokenGuard(t *testing.T) {
	testlog.Start(t)
	gin.SetMode(gin.TestMode)
	reg, err := dispatch.NewRegistry()
	require.NoError(t, err)
	a := New(":0", dispatch.New(reg, store.NewGuard(nil)), fakeSession{state: server.StateRunning}, nil,
		WithToken(auth.StaticToken{Token: "mix"}))

	rec, _ := get(t, a, "/health")
	require.Equal(t, http.StatusOK, rec.Code)

	rec, _ = get(t, a, "/params")
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/params", nil)
	req.Header.Set("Authorization", "Bearer mix")
	rr := httptest.NewRecorder()
	a.Router().ServeHTTP(rr, req)
	require.Equal(t, http.StatusOK, rr.Code)
}
