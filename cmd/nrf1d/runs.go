package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/nrf1proto/capsule/pkg/canon"
	"github.com/nrf1proto/capsule/pkg/capabilities"
	"github.com/nrf1proto/capsule/pkg/capsule"
	"github.com/nrf1proto/capsule/pkg/effect"
	"github.com/nrf1proto/capsule/pkg/permit"
	"github.com/nrf1proto/capsule/pkg/pipeline"
	"github.com/nrf1proto/capsule/pkg/view"
)

// runsHandler serves POST /runs: load a named manifest, execute it
// against the posted environment, and dispatch its declared effects for
// real. A REQUIRE verdict opens a ticket (via the effect dispatcher's
// TicketQueue) and this handler registers the matching resume job so the
// watcher can re-drive the run once the ticket closes, per the
// resume-after-REQUIRE path.
type runsHandler struct {
	runtime     *pipeline.Runtime
	dispatcher  *effect.Dispatcher
	resumeJobs  *permit.ResumeStore
	manifestDir string
}

type runRequest struct {
	Manifest string          `json:"manifest"`
	Tenant   string          `json:"tenant,omitempty"`
	Env      json.RawMessage `json:"env"`
}

func (h *runsHandler) register(mux *http.ServeMux) {
	mux.HandleFunc("POST /runs", h.handleRun)
}

func (h *runsHandler) handleRun(w http.ResponseWriter, r *http.Request) {
	var req runRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeRunsError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return
	}
	if req.Manifest == "" {
		writeRunsError(w, http.StatusBadRequest, "manifest is required")
		return
	}

	mb, err := os.ReadFile(filepath.Join(h.manifestDir, req.Manifest))
	if err != nil {
		writeRunsError(w, http.StatusNotFound, fmt.Sprintf("manifest %q not found: %v", req.Manifest, err))
		return
	}
	m, err := pipeline.LoadManifest(mb)
	if err != nil {
		writeRunsError(w, http.StatusBadRequest, err.Error())
		return
	}

	envCb, err := view.ToCanonBytes(view.NewJsonView(req.Env))
	if err != nil {
		writeRunsError(w, http.StatusBadRequest, fmt.Sprintf("environment: %v", err))
		return
	}

	opts := pipeline.RunOpts{
		RunID:      uuid.NewString(),
		Tenant:     req.Tenant,
		HasTenant:  req.Tenant != "",
		Dispatcher: h.dispatcher,
	}

	result, err := h.runtime.Run(r.Context(), m, envCb.Value(), opts)
	if err != nil {
		writeRunsError(w, http.StatusInternalServerError, err.Error())
		return
	}

	if result.Pending {
		h.registerResumeJob(m, result, opts)
	}

	jv, err := view.ToJsonView(view.NewCanonBytes(result.Env))
	if err != nil {
		writeRunsError(w, http.StatusInternalServerError, err.Error())
		return
	}
	resp := map[string]any{
		"run_id":     opts.RunID,
		"verdict":    capsule.VerdictText(result.Verdict),
		"pending":    result.Pending,
		"stopped_at": result.StoppedAt,
		"env":        json.RawMessage(jv.Raw()),
	}
	if ticketID := ticketIDFromResult(result); ticketID != "" {
		resp["ticket_id"] = ticketID
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

// ticketIDFromResult finds the consent ticket ID a REQUIRE step queued,
// by scanning the last step's declared effects for EffectQueueConsentTicket.
func ticketIDFromResult(result *pipeline.RunResult) string {
	if len(result.Steps) == 0 {
		return ""
	}
	last := result.Steps[len(result.Steps)-1]
	for _, eff := range last.Effects {
		if eff.Kind == capabilities.EffectQueueConsentTicket {
			return eff.TicketID
		}
	}
	return ""
}

func (h *runsHandler) registerResumeJob(m *pipeline.Manifest, result *pipeline.RunResult, opts pipeline.RunOpts) {
	ticketID := ticketIDFromResult(result)
	if ticketID == "" {
		return
	}
	resumeAfterStep := len(result.Steps) - 1

	jobOpts := opts
	jobOpts.PriorReceipt = append([]capabilities.Cid{}, priorReceiptsFrom(result)...)

	h.resumeJobs.Put(&permit.ResumeJob{
		TicketID:        ticketID,
		Manifest:        m,
		Env:             result.Env,
		PriorReceipts:   jobOpts.PriorReceipt,
		ResumeAfterStep: resumeAfterStep,
		RunOpts:         jobOpts,
	})
}

func priorReceiptsFrom(result *pipeline.RunResult) []capabilities.Cid {
	ids := make([]capabilities.Cid, len(result.HopIDs))
	for i, h := range result.HopIDs {
		ids[i] = canon.CIDFromHash(h)
	}
	return ids
}

func writeRunsError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"title": msg})
}
