package main

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/FairForge/tierd/internal/config"
	"github.com/FairForge/tierd/internal/drivers"
	"github.com/FairForge/tierd/internal/intelligence"
)

func TestVersionCommand(t *testing.T) {
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"version"})

	require.NoError(t, cmd.Execute())
	assert.Contains(t, out.String(), "tierd "+Version)
}

func TestExplainCommand(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/explain" || r.URL.Query().Get("key") != "logs/a b.tar" {
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"error":"no placement decision recorded"}`))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"key":"logs/a b.tar","chosen_sites":["cold"]}`))
	}))
	defer srv.Close()

	t.Run("prints the explanation", func(t *testing.T) {
		cmd := newRootCmd()
		var out bytes.Buffer
		cmd.SetOut(&out)
		cmd.SetArgs([]string{"explain", "--addr", srv.URL, "--key", "logs/a b.tar"})

		require.NoError(t, cmd.Execute())
		assert.Contains(t, out.String(), `"chosen_sites": [`)
	})

	t.Run("non-2xx is an error", func(t *testing.T) {
		cmd := newRootCmd()
		var out bytes.Buffer
		cmd.SetOut(&out)
		cmd.SetErr(&out)
		cmd.SetArgs([]string{"explain", "--addr", srv.URL, "--key", "other"})

		assert.Error(t, cmd.Execute())
		assert.Contains(t, out.String(), "no placement decision recorded")
	})

	t.Run("key is required", func(t *testing.T) {
		cmd := newRootCmd()
		cmd.SetOut(&bytes.Buffer{})
		cmd.SetErr(&bytes.Buffer{})
		cmd.SetArgs([]string{"explain", "--addr", srv.URL})
		assert.Error(t, cmd.Execute())
	})
}

func TestBuildDrivers(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	sites, err := buildDrivers(ctx, []config.SiteConfig{
		{ID: "mem", Driver: config.SiteMemory},
		{ID: "disk", Driver: config.SiteLocal, Path: filepath.Join(dir, "disk")},
		{ID: "slow", Driver: config.SiteMemory, BandwidthBPS: 1 << 20},
	}, zap.NewNop())
	require.NoError(t, err)
	require.Len(t, sites, 3)

	assert.IsType(t, &drivers.MemoryDriver{}, sites["mem"])
	assert.IsType(t, &drivers.LocalDriver{}, sites["disk"])
	assert.IsType(t, &drivers.ThrottledDriver{}, sites["slow"])

	_, err = buildDrivers(ctx, []config.SiteConfig{{ID: "x", Driver: "ftp"}}, nil)
	assert.Error(t, err)
}

func TestBuildPredictor(t *testing.T) {
	p, err := buildPredictor(config.PredictorConfig{Kind: config.PredictorNone})
	require.NoError(t, err)
	assert.Nil(t, p)

	p, err = buildPredictor(config.PredictorConfig{Kind: config.PredictorHeuristic})
	require.NoError(t, err)
	assert.IsType(t, &intelligence.HeuristicModel{}, p)

	_, err = buildPredictor(config.PredictorConfig{Kind: config.PredictorLogistic, ModelPath: "/does/not/exist.json"})
	assert.Error(t, err)
}

func TestBuildCatalog(t *testing.T) {
	catalog, err := buildCatalog([]config.SiteConfig{
		{ID: "b", Provider: "aws", CostPerGB: 0.02},
		{ID: "a", Provider: "b2", CostPerGB: 0.005},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, catalog.Len())

	_, err = buildCatalog([]config.SiteConfig{{ID: "a"}, {ID: "a"}})
	assert.Error(t, err)
}

func TestDaemon_RunStopsOnCancel(t *testing.T) {
	cfg, err := config.Parse([]byte(`
server:
  listen: "127.0.0.1:0"
sites:
  - id: hot
    cost_per_gb: 0.1
    latency_ms: 5
  - id: cold
    cost_per_gb: 0.004
    latency_ms: 200
`))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	d, err := newDaemon(ctx, cfg, zap.NewNop())
	require.NoError(t, err)
	defer d.Close()

	done := make(chan error, 1)
	go func() { done <- d.Run(ctx, "") }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("daemon did not stop")
	}
}
