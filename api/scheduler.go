/*
scheduler.go - Periodic SLA status refresher

PURPOSE:
  The SLA status stored on a case is a cached projection of "now" against
  the fixed deadline, so it decays while nobody is looking. This scheduler
  recomputes the projection for every open case on an interval, keeping
  list views and the breach counters honest between reads.

CONFIGURATION:
  - CheckInterval: How often to refresh (default: 15 minutes)
  - Enabled: Whether the scheduler is active (default: true)

USAGE:
  scheduler := NewSLAScheduler(lifecycle)
  scheduler.Start()
  // ... later
  scheduler.Stop()

SEE ALSO:
  - handlers.go: TriggerSLARefresh endpoint (manual run)
  - engine/lifecycle.go: RefreshSLAStatuses
*/
package api

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/warp/allocation-engine/engine"
)

// SLAScheduler periodically refreshes cached SLA projections.
type SLAScheduler struct {
	Lifecycle     *engine.Lifecycle
	CheckInterval time.Duration
	Enabled       bool

	ticker *time.Ticker
	stop   chan bool
	wg     sync.WaitGroup
	mu     sync.Mutex
}

// NewSLAScheduler creates a new scheduler.
func NewSLAScheduler(lifecycle *engine.Lifecycle) *SLAScheduler {
	return &SLAScheduler{
		Lifecycle:     lifecycle,
		CheckInterval: 15 * time.Minute,
		Enabled:       true,
		stop:          make(chan bool),
	}
}

// Start begins the scheduler.
func (s *SLAScheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.Enabled {
		log.Println("[Scheduler] Disabled, not starting")
		return
	}

	s.ticker = time.NewTicker(s.CheckInterval)
	s.wg.Add(1)

	go s.run()

	log.Printf("[Scheduler] SLA refresh started with interval: %v", s.CheckInterval)
}

// Stop halts the scheduler and waits for an in-flight run to finish.
func (s *SLAScheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ticker == nil {
		return
	}
	s.ticker.Stop()
	close(s.stop)
	s.wg.Wait()
	s.ticker = nil

	log.Println("[Scheduler] Stopped")
}

func (s *SLAScheduler) run() {
	defer s.wg.Done()

	// Refresh once at startup so a restarted server doesn't serve stale
	// projections until the first tick.
	s.refresh()

	for {
		select {
		case <-s.ticker.C:
			s.refresh()
		case <-s.stop:
			return
		}
	}
}

func (s *SLAScheduler) refresh() {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	changed, err := s.Lifecycle.RefreshSLAStatuses(ctx)
	if err != nil {
		log.Printf("[Scheduler] SLA refresh failed: %v", err)
		return
	}
	if changed > 0 {
		slaRefreshChanged.Add(float64(changed))
		log.Printf("[Scheduler] SLA refresh updated %d case(s)", changed)
	}
}
