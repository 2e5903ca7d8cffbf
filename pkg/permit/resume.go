package permit

import (
	"context"
	"sync"
	"time"

	"github.com/nrf1proto/capsule/pkg/canon"
	"github.com/nrf1proto/capsule/pkg/capabilities"
	"github.com/nrf1proto/capsule/pkg/pipeline"
)

// ResumeJob is the frozen state a paused pipeline needs to continue
// once its gating ticket closes ALLOW: the manifest, the environment
// as it stood at the REQUIRE step, the accumulated receipt CIDs, and
// where to pick back up.
type ResumeJob struct {
	TicketID        string
	Manifest        *pipeline.Manifest
	Env             canon.Value
	PriorReceipts   []capabilities.Cid
	ResumeAfterStep int
	RunOpts         pipeline.RunOpts
	Completed       bool
}

// ResumeStore holds resume jobs keyed by ticket ID.
type ResumeStore struct {
	mu   sync.Mutex
	jobs map[string]*ResumeJob
}

// NewResumeStore builds an empty ResumeStore.
func NewResumeStore() *ResumeStore {
	return &ResumeStore{jobs: make(map[string]*ResumeJob)}
}

// Put registers a resume job for ticketID, overwriting any prior job.
func (s *ResumeStore) Put(job *ResumeJob) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[job.TicketID] = job
}

func (s *ResumeStore) pending() []*ResumeJob {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*ResumeJob
	for _, j := range s.jobs {
		if !j.Completed {
			out = append(out, j)
		}
	}
	return out
}

func (s *ResumeStore) markCompleted(ticketID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if j, ok := s.jobs[ticketID]; ok {
		j.Completed = true
	}
}

// Watcher periodically scans pending resume jobs, consults the ticket
// manager, and re-drives any pipeline whose gating ticket closed
// ALLOW, per spec §4.9's resume-watcher algorithm.
type Watcher struct {
	mgr     *Manager
	jobs    *ResumeStore
	runtime *pipeline.Runtime
	poll    time.Duration
}

// NewWatcher builds a Watcher polling every poll interval.
func NewWatcher(mgr *Manager, jobs *ResumeStore, runtime *pipeline.Runtime, poll time.Duration) *Watcher {
	return &Watcher{mgr: mgr, jobs: jobs, runtime: runtime, poll: poll}
}

// Run blocks, polling until ctx is canceled.
func (w *Watcher) Run(ctx context.Context) {
	ticker := time.NewTicker(w.poll)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.Tick(ctx)
		}
	}
}

// Tick runs a single scan-and-resume pass, exported for tests that
// don't want to wait on a ticker.
func (w *Watcher) Tick(ctx context.Context) {
	for _, job := range w.jobs.pending() {
		t, ok, err := w.mgr.Get(job.TicketID)
		if err != nil || !ok {
			continue
		}
		switch t.Status {
		case StatusAllow:
			w.resume(ctx, job)
		case StatusDeny, StatusExpired:
			w.jobs.markCompleted(job.TicketID)
		}
	}
}

func (w *Watcher) resume(ctx context.Context, job *ResumeJob) {
	opts := job.RunOpts
	opts.StartAt = job.ResumeAfterStep + 1
	opts.PriorReceipt = job.PriorReceipts
	_, _ = w.runtime.Run(ctx, job.Manifest, job.Env, opts)
	w.jobs.markCompleted(job.TicketID)
}
