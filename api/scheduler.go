/*
scheduler.go - Scheduled pipeline runs

PURPOSE:
  Periodically sweeps every org with spend on file and runs the
  allocation pipeline for each of its periods. Periods whose inputs are
  unchanged since their last reconciled run are skipped by the engine,
  so the sweep is cheap when nothing changed - and a sweep picks up any
  spend or rule edit made since, no force flag needed.

DESIGN:
  - Background goroutine with a configurable tick interval (default 24h)
  - Orgs are independent; a failure for one org does not stop the sweep
  - Per-(org, period) exclusion lives in the engine, so a sweep that
    overlaps a manual trigger simply skips the contended period

USAGE:
  scheduler := NewPipelineScheduler(store, handler)
  scheduler.Start()
  // ... later
  scheduler.Stop()

SEE ALSO:
  - handlers.go: RunPipeline endpoint (manual trigger)
  - allocation/engine.go: Run semantics
*/
package api

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/maddie-houseman/TVOTapp-sub001/allocation"
	"github.com/maddie-houseman/TVOTapp-sub001/store/sqlite"
)

// PipelineScheduler handles scheduled (e.g., nightly) pipeline runs.
type PipelineScheduler struct {
	Store         *sqlite.Store
	Handler       *Handler
	CheckInterval time.Duration
	Enabled       bool

	ticker *time.Ticker
	stop   chan bool
	wg     sync.WaitGroup
	mu     sync.Mutex
}

// NewPipelineScheduler creates a new scheduler.
func NewPipelineScheduler(store *sqlite.Store, handler *Handler) *PipelineScheduler {
	return &PipelineScheduler{
		Store:         store,
		Handler:       handler,
		CheckInterval: 24 * time.Hour,
		Enabled:       true,
		stop:          make(chan bool),
	}
}

// Start begins the scheduler.
func (ps *PipelineScheduler) Start() {
	ps.mu.Lock()
	defer ps.mu.Unlock()

	if !ps.Enabled {
		log.Println("[Scheduler] Disabled, not starting")
		return
	}

	ps.ticker = time.NewTicker(ps.CheckInterval)
	ps.wg.Add(1)

	go ps.run()

	log.Printf("[Scheduler] Started with check interval: %v", ps.CheckInterval)
}

// Stop stops the scheduler.
func (ps *PipelineScheduler) Stop() {
	ps.mu.Lock()
	defer ps.mu.Unlock()

	if ps.ticker != nil {
		ps.ticker.Stop()
		close(ps.stop)
		ps.wg.Wait()
		log.Println("[Scheduler] Stopped")
	}
}

func (ps *PipelineScheduler) run() {
	defer ps.wg.Done()

	// Run immediately on start
	ps.sweep()

	for {
		select {
		case <-ps.ticker.C:
			ps.sweep()
		case <-ps.stop:
			return
		}
	}
}

// sweep runs the pipeline for every (org, period) with spend on file.
func (ps *PipelineScheduler) sweep() {
	ctx := context.Background()

	orgs, err := ps.Store.Orgs(ctx)
	if err != nil {
		log.Printf("[Scheduler] Failed to list orgs: %v", err)
		return
	}

	for _, org := range orgs {
		periods, err := ps.Store.Periods(ctx, org)
		if err != nil {
			log.Printf("[Scheduler] %s: failed to list periods: %v", org, err)
			continue
		}

		for _, period := range periods {
			summary, err := ps.Handler.Engine.Run(ctx, org, period, allocation.RunOptions{})
			switch {
			case errors.Is(err, allocation.ErrRunInProgress):
				// Manual trigger has it; next sweep will catch up.
				log.Printf("[Scheduler] %s %s: run in progress, skipped", org, period)
			case err != nil:
				log.Printf("[Scheduler] %s %s: run failed: %v", org, period, err)
			case summary.Reconciliation != nil && summary.Reconciliation.Breached():
				log.Printf("[Scheduler] %s %s: reconciliation breach (pool=%s tower=%s solution=%s business=%s)",
					org, period,
					summary.Reconciliation.CostPoolTotal,
					summary.Reconciliation.TowerTotal,
					summary.Reconciliation.SolutionTotal,
					summary.Reconciliation.BusinessTotal)
			default:
				log.Printf("[Scheduler] %s %s: %s", org, period, summary.Status)
			}
		}
	}
}
