package routediscovery

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildURL_ProbesOnceAndCaches(t *testing.T) {
	var probes atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/cedros-health", r.URL.Path)
		probes.Add(1)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"routePrefix":"/api"}`))
	}))
	defer srv.Close()

	m := New(srv.URL)
	ctx := context.Background()

	url, err := m.BuildURL(ctx, "/paywall/v1/verify")
	require.NoError(t, err)
	assert.Equal(t, srv.URL+"/api/paywall/v1/verify", url)

	url2, err := m.BuildURL(ctx, "/paywall/v1/thing")
	require.NoError(t, err)
	assert.Equal(t, srv.URL+"/api/paywall/v1/thing", url2)

	assert.EqualValues(t, 1, probes.Load(), "probe must run exactly once")
	assert.True(t, m.Discovered())
}

func TestBuildURL_EmptyPrefix(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"routePrefix":""}`))
	}))
	defer srv.Close()

	m := New(srv.URL)
	url, err := m.BuildURL(context.Background(), "/paywall/v1/verify")
	require.NoError(t, err)
	assert.Equal(t, srv.URL+"/paywall/v1/verify", url)
}

func TestBuildURL_PrefixWithoutLeadingSlash(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"routePrefix":"api/v2"}`))
	}))
	defer srv.Close()

	m := New(srv.URL)
	url, err := m.BuildURL(context.Background(), "/x")
	require.NoError(t, err)
	assert.Equal(t, srv.URL+"/api/v2/x", url)
}

func TestBuildURL_ProbeFailurePropagates(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "not here", http.StatusNotFound)
	}))
	defer srv.Close()

	m := New(srv.URL)
	_, err := m.BuildURL(context.Background(), "/paywall/v1/verify")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "route discovery")
	assert.False(t, m.Discovered(), "failed probe must not be cached as discovered")
}

func TestBuildURL_RetriesProbeAfterFailure(t *testing.T) {
	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			http.Error(w, "boot in progress", http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"routePrefix":"/api"}`))
	}))
	defer srv.Close()

	m := New(srv.URL)
	ctx := context.Background()

	_, err := m.BuildURL(ctx, "/x")
	require.Error(t, err)

	url, err := m.BuildURL(ctx, "/x")
	require.NoError(t, err)
	assert.Equal(t, srv.URL+"/api/x", url)
}

func TestWithHealthPath(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/custom-probe", r.URL.Path)
		_, _ = w.Write([]byte(`{"routePrefix":"/api"}`))
	}))
	defer srv.Close()

	m := New(srv.URL, WithHealthPath("/custom-probe"))
	_, err := m.BuildURL(context.Background(), "/x")
	require.NoError(t, err)
}
