// Package retention schedules store maintenance: pruning sessions idle
// beyond the retention window and periodically optimizing the search
// index. Jobs run on cron schedules; both can also be triggered
// directly for one-shot CLI use.
package retention

import (
	"context"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	rcron "github.com/robfig/cron/v3"
)

const (
	jobPrune    = "retention.prune"
	jobOptimize = "retention.optimize"

	// Six-field specs, seconds first: prune nightly, optimize weekly.
	defaultPruneSpec    = "0 30 3 * * *"
	defaultOptimizeSpec = "0 0 4 * * 0"
)

// Maintainer is the store surface the retention jobs drive.
type Maintainer interface {
	PruneIdleSessions(window time.Duration) (int64, error)
	OptimizeFTS() error
}

// JobState records the outcome of a job's most recent run.
type JobState struct {
	LastRunAt  time.Time `json:"last_run_at"`
	LastStatus string    `json:"last_status"`
	LastError  string    `json:"last_error,omitempty"`
}

// Service owns the maintenance schedule for one store.
type Service struct {
	store        Maintainer
	window       time.Duration
	pruneSpec    string
	optimizeSpec string

	mu       sync.Mutex
	cron     *rcron.Cron
	entryMap map[string]rcron.EntryID
	states   map[string]JobState
	stopCh   chan struct{}
}

// NewService builds a retention service over the store. A window of
// zero or less disables pruning; empty specs fall back to the nightly
// and weekly defaults.
func NewService(store Maintainer, window time.Duration, pruneSpec, optimizeSpec string) *Service {
	if pruneSpec == "" {
		pruneSpec = defaultPruneSpec
	}
	if optimizeSpec == "" {
		optimizeSpec = defaultOptimizeSpec
	}
	return &Service{
		store:        store,
		window:       window,
		pruneSpec:    pruneSpec,
		optimizeSpec: optimizeSpec,
		entryMap:     make(map[string]rcron.EntryID),
		states:       make(map[string]JobState),
	}
}

// Start registers the jobs and begins the schedule. The service stops
// itself when ctx is cancelled.
func (s *Service) Start(ctx context.Context) error {
	s.cron = rcron.New(rcron.WithSeconds())

	if s.window > 0 {
		id, err := s.cron.AddFunc(s.pruneSpec, s.runPrune)
		if err != nil {
			return fmt.Errorf("register prune job (%s): %w", s.pruneSpec, err)
		}
		s.entryMap[jobPrune] = id
	} else {
		log.Printf("[retention] prune disabled: no idle window configured")
	}

	id, err := s.cron.AddFunc(s.optimizeSpec, s.runOptimize)
	if err != nil {
		return fmt.Errorf("register optimize job (%s): %w", s.optimizeSpec, err)
	}
	s.entryMap[jobOptimize] = id

	stopCh := make(chan struct{})
	s.mu.Lock()
	s.stopCh = stopCh
	s.mu.Unlock()

	s.cron.Start()
	log.Printf("[retention] started with %d jobs", len(s.entryMap))

	go func() {
		select {
		case <-ctx.Done():
			s.Stop()
		case <-stopCh:
			return
		}
	}()

	return nil
}

// Stop halts the schedule, waiting briefly for a running job to finish.
func (s *Service) Stop() {
	s.mu.Lock()
	stopCh := s.stopCh
	s.stopCh = nil
	s.mu.Unlock()
	if stopCh != nil {
		close(stopCh)
	}

	if s.cron != nil {
		stopCtx := s.cron.Stop()
		select {
		case <-stopCtx.Done():
		case <-time.After(5 * time.Second):
			log.Printf("[retention] stop timeout waiting for running jobs")
		}
	}
	log.Printf("[retention] stopped")
}

// Jobs returns the names of the registered jobs in sorted order.
func (s *Service) Jobs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.entryMap))
	for name := range s.entryMap {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// States returns a copy of the per-job run records.
func (s *Service) States() map[string]JobState {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]JobState, len(s.states))
	for name, st := range s.states {
		out[name] = st
	}
	return out
}

// RunPruneNow deletes sessions idle beyond the window and reports how
// many were removed.
func (s *Service) RunPruneNow() (int64, error) {
	n, err := s.store.PruneIdleSessions(s.window)
	s.record(jobPrune, err)
	if err != nil {
		return 0, fmt.Errorf("prune idle sessions: %w", err)
	}
	log.Printf("[retention] pruned %d idle sessions", n)
	return n, nil
}

// RunOptimizeNow compacts the search index and checkpoints the log.
func (s *Service) RunOptimizeNow() error {
	err := s.store.OptimizeFTS()
	s.record(jobOptimize, err)
	if err != nil {
		return fmt.Errorf("optimize search index: %w", err)
	}
	log.Printf("[retention] search index optimized")
	return nil
}

func (s *Service) runPrune() {
	if _, err := s.RunPruneNow(); err != nil {
		log.Printf("[retention] prune failed: %v", err)
	}
}

func (s *Service) runOptimize() {
	if err := s.RunOptimizeNow(); err != nil {
		log.Printf("[retention] optimize failed: %v", err)
	}
}

func (s *Service) record(name string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := JobState{LastRunAt: time.Now(), LastStatus: "ok"}
	if err != nil {
		st.LastStatus = "error"
		st.LastError = err.Error()
	}
	s.states[name] = st
}
