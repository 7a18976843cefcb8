package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ruaan-deysel/ha-unraid-management-agent/internal/config"
	"github.com/ruaan-deysel/ha-unraid-management-agent/internal/logging"
)

// fakeAgent serves canned UMA responses keyed by "METHOD path".
type fakeAgent struct {
	mu        sync.Mutex
	responses map[string]string
	requests  []string
}

func newFakeAgent(t *testing.T, responses map[string]string) *fakeAgent {
	t.Helper()
	agent := &fakeAgent{responses: responses}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.Method + " " + r.URL.EscapedPath()
		agent.mu.Lock()
		agent.requests = append(agent.requests, key)
		body, ok := agent.responses[key]
		agent.mu.Unlock()
		if !ok {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(server.Close)

	parsed, err := url.Parse(server.URL)
	require.NoError(t, err)
	t.Setenv("UMA_DATA_DIR", t.TempDir())
	t.Setenv("UMA_HOST", parsed.Hostname())
	t.Setenv("UMA_PORT", parsed.Port())
	t.Setenv("LOG_LEVEL", "error")
	return agent
}

func (a *fakeAgent) sawRequest(key string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, r := range a.requests {
		if r == key {
			return true
		}
	}
	return false
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	t.Cleanup(func() {
		rootCmd.SetOut(nil)
		rootCmd.SetErr(nil)
		snapshotDomain = ""
		actionList = false
	})
	_, err := rootCmd.ExecuteC()
	return out.String(), err
}

func TestVersionCmd(t *testing.T) {
	oldVersion, oldBuildTime, oldGitCommit := Version, BuildTime, GitCommit
	defer func() {
		Version, BuildTime, GitCommit = oldVersion, oldBuildTime, oldGitCommit
	}()

	Version = "1.2.3"
	BuildTime = "2026-01-01"
	GitCommit = "abcdef"
	output, err := execute(t, "version")
	require.NoError(t, err)
	assert.Contains(t, output, "uma-sync 1.2.3")
	assert.Contains(t, output, "Built: 2026-01-01")
	assert.Contains(t, output, "Commit: abcdef")

	BuildTime = "unknown"
	GitCommit = "unknown"
	output, err = execute(t, "version")
	require.NoError(t, err)
	assert.NotContains(t, output, "Built:")
	assert.NotContains(t, output, "Commit:")
}

func TestActionList(t *testing.T) {
	output, err := execute(t, "action", "--list")
	require.NoError(t, err)
	assert.Contains(t, output, "array_start\n")
	assert.Contains(t, output, "container_restart <target>\n")
}

func TestActionValidatesBeforeDialing(t *testing.T) {
	_, err := execute(t, "action")
	assert.ErrorContains(t, err, "action name is required")

	_, err = execute(t, "action", "explode")
	assert.ErrorContains(t, err, "unknown unraid action")

	_, err = execute(t, "action", "container_stop")
	assert.ErrorContains(t, err, "requires a target")
}

func TestActionInvokesAgent(t *testing.T) {
	agent := newFakeAgent(t, map[string]string{
		"POST /api/v1/docker/plex/restart": `{"success":true}`,
	})

	output, err := execute(t, "action", "container_restart", "plex")
	require.NoError(t, err)
	assert.Contains(t, output, "container_restart ok")
	assert.True(t, agent.sawRequest("POST /api/v1/docker/plex/restart"))

	_, err = execute(t, "action", "vm_start", "ghost")
	assert.Error(t, err)
}

func TestSnapshotCmd(t *testing.T) {
	newFakeAgent(t, map[string]string{
		"GET /api/v1/system":            `{"hostname":"tower","version":"7.0.1"}`,
		"GET /api/v1/collectors/status": `{"collectors":[{"name":"system","enabled":true}],"total":1,"enabled_count":1}`,
	})

	output, err := execute(t, "snapshot")
	require.NoError(t, err)

	var state struct {
		Status  map[string]any            `json:"status"`
		Domains map[string]map[string]any `json:"domains"`
	}
	require.NoError(t, json.Unmarshal([]byte(output), &state), output)
	require.Contains(t, state.Domains, "system")
	assert.Equal(t, "tower", state.Domains["system"]["data"].(map[string]any)["hostname"])
	assert.NotContains(t, state.Domains, "containers", "docker collector is disabled")
	assert.Equal(t, "degraded", state.Status["availability"], "push is off for one-shot polls")

	output, err = execute(t, "snapshot", "--domain", "system")
	require.NoError(t, err)
	assert.Contains(t, output, `"domain": "system"`)

	_, err = execute(t, "snapshot", "--domain", "vms")
	assert.ErrorContains(t, err, `domain "vms" has no data`)
}

func TestSnapshotCmdReportsFailedPoll(t *testing.T) {
	newFakeAgent(t, map[string]string{})

	_, err := execute(t, "snapshot")
	assert.ErrorIs(t, err, errPollFailed)
}

type fakeReloadTarget struct {
	collectorErr error
	collectors   int
	refreshes    int
}

func (f *fakeReloadTarget) RefreshCollectors(context.Context) error {
	f.collectors++
	return f.collectorErr
}

func (f *fakeReloadTarget) RequestRefresh() { f.refreshes++ }

func TestOnConfigReload(t *testing.T) {
	defer logging.SetLevel(logging.Level())

	cfg := config.Default()
	cfg.LogLevel = "debug"
	target := &fakeReloadTarget{collectorErr: errors.New("agent down")}

	onConfigReload(context.Background(), config.Reload{Config: cfg, Changed: []string{"LOG_LEVEL"}}, target, nil)

	assert.Equal(t, "debug", logging.Level())
	assert.Equal(t, 1, target.collectors)
	assert.Equal(t, 1, target.refreshes, "refresh is requested even when the collector query fails")
}

func TestFingerprintCmd(t *testing.T) {
	server := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	t.Cleanup(server.Close)
	parsed, err := url.Parse(server.URL)
	require.NoError(t, err)

	t.Setenv("UMA_DATA_DIR", t.TempDir())
	t.Setenv("UMA_HOST", parsed.Hostname())
	t.Setenv("UMA_PORT", parsed.Port())
	t.Setenv("UMA_USE_HTTPS", "true")
	t.Setenv("LOG_LEVEL", "error")

	output, err := execute(t, "fingerprint")
	require.NoError(t, err)
	assert.Len(t, strings.TrimSpace(output), 64)
}
