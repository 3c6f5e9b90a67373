package api

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/gridauth/pkg/api/handlers"
	promMetrics "github.com/marmos91/gridauth/pkg/metrics/prometheus"
	"github.com/marmos91/gridauth/pkg/session"
	"github.com/marmos91/gridauth/pkg/store"
)

type listening struct{}

func (listening) Listening() bool          { return true }
func (listening) ActiveConnections() int32 { return 0 }

func newTestServer(t *testing.T) (*httptest.Server, *store.GORMStore, *prometheus.Registry) {
	t.Helper()
	s, err := store.New(&store.Config{
		Type:   store.DatabaseTypeSQLite,
		SQLite: store.SQLiteConfig{Path: filepath.Join(t.TempDir(), "api.db")},
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	reg := prometheus.NewRegistry()
	srv := httptest.NewServer(NewRouter(Dependencies{Service: listening{}, Store: s, Registry: reg}))
	t.Cleanup(srv.Close)
	return srv, s, reg
}

func get(t *testing.T, url string) (int, []byte) {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, body
}

func TestRouterHealth(t *testing.T) {
	srv, _, _ := newTestServer(t)

	code, _ := get(t, srv.URL+"/health")
	assert.Equal(t, http.StatusOK, code)

	code, body := get(t, srv.URL+"/health/ready")
	assert.Equal(t, http.StatusOK, code)
	assert.Contains(t, string(body), "store_latency")

	code, _ = get(t, srv.URL+"/")
	assert.Equal(t, http.StatusOK, code, "root redirects to /health")
}

func TestRouterMetrics(t *testing.T) {
	srv, _, reg := newTestServer(t)
	m := promMetrics.NewServiceMetricsWithRegistry(reg)
	m.RecordConnectionAccepted()

	code, body := get(t, srv.URL+"/metrics")
	assert.Equal(t, http.StatusOK, code)
	assert.Contains(t, string(body), "gridauth_connections_accepted_total 1")
}

func TestRouterWithoutRegistryHasNoMetrics(t *testing.T) {
	srv := httptest.NewServer(NewRouter(Dependencies{}))
	defer srv.Close()

	code, _ := get(t, srv.URL+"/metrics")
	assert.Equal(t, http.StatusNotFound, code)
}

func TestRouterSessions(t *testing.T) {
	srv, s, _ := newTestServer(t)
	ctx := context.Background()

	now := time.Now()
	require.NoError(t, s.RecordSession(ctx, &session.Result{RemoteAddr: "10.0.0.1:1", Outcome: session.OutcomeRejected, StartedAt: now}))
	require.NoError(t, s.RecordSession(ctx, &session.Result{RemoteAddr: "10.0.0.2:2", Outcome: session.OutcomeSucceeded, StartedAt: now.Add(time.Second)}))
	_, err := s.AddIdentityMapping(ctx, "alice@EXAMPLE.COM", "alice")
	require.NoError(t, err)

	code, body := get(t, srv.URL+"/api/v1/sessions?limit=1")
	require.Equal(t, http.StatusOK, code)

	var resp struct {
		Status string                 `json:"status"`
		Data   []*store.SessionRecord `json:"data"`
	}
	require.NoError(t, json.Unmarshal(body, &resp))
	assert.Equal(t, "ok", resp.Status)
	require.Len(t, resp.Data, 1)
	assert.Equal(t, "succeeded", resp.Data[0].Outcome)

	code, _ = get(t, srv.URL+"/api/v1/sessions?limit=zero")
	assert.Equal(t, http.StatusBadRequest, code)

	code, body = get(t, srv.URL+"/api/v1/identity-mappings")
	require.Equal(t, http.StatusOK, code)
	assert.Contains(t, string(body), `"username":"alice"`)
}

func TestServerStartStop(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	require.NoError(t, ln.Close())

	srv := NewServer(APIConfig{Port: port}, Dependencies{})
	assert.Equal(t, port, srv.Port())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Start(ctx) }()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://127.0.0.1:" + strconv.Itoa(port) + "/health")
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
	case <-time.After(10 * time.Second):
		t.Fatal("Start did not return after cancel")
	}
	assert.NoError(t, srv.Stop(context.Background()), "second Stop is a no-op")
}

var _ handlers.ServiceStatus = listening{}
