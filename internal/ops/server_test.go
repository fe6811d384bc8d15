package ops

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"pepperbot/internal/broadcast"
	"pepperbot/internal/store"
	logx "pepperbot/pkg/logx"
)

type fakeStats struct{ st store.Stats }

func (f fakeStats) Stats(context.Context) (store.Stats, error) { return f.st, nil }

type fakeCount int64

func (f fakeCount) Count(context.Context) (int64, error) { return int64(f), nil }

type fakeJobs map[string]broadcast.JobStatus

func (f fakeJobs) Status(id string) (broadcast.JobStatus, bool) {
	st, ok := f[id]
	return st, ok
}

func newTestServer(token string, health func() error) *httptest.Server {
	s := New(Config{Token: token, Pprof: true}, Deps{
		Stats:       fakeStats{st: store.Stats{Operational: true, MessagesSent: 9, DealsSent: 4}},
		Subscribers: fakeCount(3),
		Broadcasts:  fakeJobs{"bc:1": {ID: "bc:1", Total: 2, Done: 2}},
		Health:      health,
	}, logx.Nop())
	return httptest.NewServer(s.Handler())
}

func get(t *testing.T, url, token string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, url, nil)
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func TestStats(t *testing.T) {
	srv := newTestServer("", nil)
	defer srv.Close()

	resp := get(t, srv.URL+"/api/stats", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var got StatsResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
	require.Equal(t, StatsResponse{Subscribers: 3, MessagesSent: 9, DealsSent: 4, Operational: true}, got)
}

func TestTokenGuardsAPIButNotHealth(t *testing.T) {
	srv := newTestServer("s3cret", nil)
	defer srv.Close()

	require.Equal(t, http.StatusOK, get(t, srv.URL+"/_health", "").StatusCode)
	require.Equal(t, http.StatusUnauthorized, get(t, srv.URL+"/api/stats", "").StatusCode)
	require.Equal(t, http.StatusUnauthorized, get(t, srv.URL+"/metrics", "wrong").StatusCode)
	require.Equal(t, http.StatusOK, get(t, srv.URL+"/api/stats?token=s3cret", "").StatusCode)
	require.Equal(t, http.StatusOK, get(t, srv.URL+"/metrics", "s3cret").StatusCode)
	require.Equal(t, http.StatusOK, get(t, srv.URL+"/debug/pprof/", "s3cret").StatusCode)
}

func TestHealthReportsFailure(t *testing.T) {
	srv := newTestServer("", func() error { return errors.New("redis gone") })
	defer srv.Close()
	require.Equal(t, http.StatusServiceUnavailable, get(t, srv.URL+"/_health", "").StatusCode)
}

func TestBroadcastStatusAndAudit(t *testing.T) {
	srv := newTestServer("", nil)
	defer srv.Close()

	resp := get(t, srv.URL+"/api/broadcasts/bc:1", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var st broadcast.JobStatus
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&st))
	require.Equal(t, 2, st.Done)

	require.Equal(t, http.StatusNotFound, get(t, srv.URL+"/api/broadcasts/bc:9", "").StatusCode)
	require.Equal(t, http.StatusNotFound, get(t, srv.URL+"/api/audit", "").StatusCode)
}

func TestIsLoopbackAddr(t *testing.T) {
	require.True(t, isLoopbackAddr("127.0.0.1:8080"))
	require.True(t, isLoopbackAddr("localhost:1"))
	require.False(t, isLoopbackAddr("0.0.0.0:8080"))
	require.False(t, isLoopbackAddr(":8080"))
}
