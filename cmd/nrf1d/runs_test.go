package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/nrf1proto/capsule/pkg/effect"
	"github.com/nrf1proto/capsule/pkg/permit"
	"github.com/nrf1proto/capsule/pkg/pipeline"
)

func writeManifest(t *testing.T, dir, name, body string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644))
}

func newTestRunsHandler(t *testing.T, manifestDir string) (*runsHandler, *permit.Manager) {
	t.Helper()
	reg, err := stdRegistry()
	require.NoError(t, err)
	rt := pipeline.NewRuntime(reg, nil)

	permitMgr := permit.NewManager(permit.NewMemStore(), func() int64 { return 1000 })
	resumeJobs := permit.NewResumeStore()
	dispatcher := effect.New(effect.Config{
		Bindings: effect.NewBindings(nil),
		Tickets:  permit.NewTicketQueueAdapter(permitMgr),
	})

	return &runsHandler{
		runtime:     rt,
		dispatcher:  dispatcher,
		resumeJobs:  resumeJobs,
		manifestDir: manifestDir,
	}, permitMgr
}

func TestRunsHandlerExecutesManifestToAllow(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, "intake.yaml", "name: intake\npipeline:\n  - step_id: s1\n    kind: cap-intake\n    version_req: \"1\"\n    config: {}\n")

	h, _ := newTestRunsHandler(t, dir)
	mux := http.NewServeMux()
	h.register(mux)

	reqBody, err := json.Marshal(map[string]any{"manifest": "intake.yaml", "env": map[string]any{"n": 1}})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/runs", bytes.NewReader(reqBody))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, "ALLOW", resp["verdict"])
	require.Equal(t, false, resp["pending"])
}

func TestRunsHandlerMissingManifestReturns404(t *testing.T) {
	dir := t.TempDir()
	h, _ := newTestRunsHandler(t, dir)
	mux := http.NewServeMux()
	h.register(mux)

	reqBody, err := json.Marshal(map[string]any{"manifest": "missing.yaml", "env": map[string]any{}})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/runs", bytes.NewReader(reqBody))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRunsHandlerMissingManifestFieldReturns400(t *testing.T) {
	dir := t.TempDir()
	h, _ := newTestRunsHandler(t, dir)
	mux := http.NewServeMux()
	h.register(mux)

	req := httptest.NewRequest(http.MethodPost, "/runs", bytes.NewReader([]byte(`{"env":{}}`)))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRunsHandlerPendingRegistersResumeJob(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, "permit.yaml",
		"name: gated\n"+
			"pipeline:\n"+
			"  - step_id: s1\n"+
			"    kind: cap-permit\n"+
			"    version_req: \"1\"\n"+
			"    config:\n"+
			"      tenant: acme\n"+
			"      required_roles: [\"reviewer\"]\n"+
			"      k: 1\n"+
			"      n: 1\n"+
			"      ttl_seconds: 3600\n")

	h, permitMgr := newTestRunsHandler(t, dir)
	mux := http.NewServeMux()
	h.register(mux)

	reqBody, err := json.Marshal(map[string]any{"manifest": "permit.yaml", "tenant": "acme", "env": map[string]any{}})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/runs", bytes.NewReader(reqBody))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, true, resp["pending"])
	ticketID, ok := resp["ticket_id"].(string)
	require.True(t, ok)
	require.NotEmpty(t, ticketID)

	// Approving the ticket and ticking the watcher runs the resume path for
	// the returned ticket ID; the ticket must then read ALLOW. ResumeStore
	// has no exported accessor, so the job's own state is not checked here.
	_, err = permitMgr.Approve(ticketID, "reviewer")
	require.NoError(t, err)

	watcher := permit.NewWatcher(permitMgr, h.resumeJobs, h.runtime, time.Second)
	watcher.Tick(context.Background())

	ticket, found, err := permitMgr.Get(ticketID)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, permit.StatusAllow, ticket.Status)
}
