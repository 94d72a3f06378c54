/*
scheduler.go - Daily lease run scheduler

PURPOSE:
  Periodically runs the full lease pass: lifecycle sweep, payment
  generation, status sweep, and alert scheduling. Every step is idempotent,
  so a missed tick is caught up by the next one and an overlapping run
  creates no duplicates.

DESIGN:
  - Runs a background goroutine with configurable check interval
  - Runs immediately on start, then on every tick
  - Optional Locker: when several replicas run the scheduler, only the
    one holding the lock runs a tick. The others log and skip.
  - Each run is recorded by the engine (GET /api/runs)

CONFIGURATION:
  - CheckInterval: How often to run (default: 1 hour)
  - Enabled: Whether scheduler is active (default: true)

USAGE:
  scheduler := NewJobScheduler(engine)
  scheduler.Locker = redislock.New(client, "lease-engine:")
  scheduler.Start()
  // ... later
  scheduler.Stop()

SEE ALSO:
  - handlers.go: TriggerRun endpoint (manual run)
  - lease/engine.go: Engine.Run
  - store/redislock: Redis Locker
*/
package api

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/grospace/lease-engine/lease"
)

// Locker grants exclusive use of a named lock for ttl.
type Locker interface {
	Acquire(ctx context.Context, name string, ttl time.Duration) (release func(context.Context) error, err error)
}

// runLockName is the lock held for the duration of one tick.
const runLockName = "scheduled-run"

// JobScheduler runs Engine.Run on an interval.
type JobScheduler struct {
	Engine        *lease.Engine
	Locker        Locker
	CheckInterval time.Duration
	Enabled       bool

	now     func() time.Time
	ticker  *time.Ticker
	stop    chan bool
	wg      sync.WaitGroup
	mu      sync.Mutex
	runMu   sync.Mutex
	lastMu  sync.Mutex
	lastRun *lease.RunReport
}

// NewJobScheduler creates a new scheduler.
func NewJobScheduler(engine *lease.Engine) *JobScheduler {
	return &JobScheduler{
		Engine:        engine,
		CheckInterval: 1 * time.Hour,
		Enabled:       true,
		now:           time.Now,
		stop:          make(chan bool),
	}
}

// Start begins the scheduler.
func (js *JobScheduler) Start() {
	js.mu.Lock()
	defer js.mu.Unlock()

	if !js.Enabled {
		log.Println("[Scheduler] Disabled, not starting")
		return
	}

	if js.ticker != nil {
		return
	}

	// Stop closes the channel, so every start needs a fresh one.
	js.ticker = time.NewTicker(js.CheckInterval)
	js.stop = make(chan bool)
	js.wg.Add(1)

	go js.run(js.ticker, js.stop)

	log.Printf("[Scheduler] Started with check interval: %v", js.CheckInterval)
}

// Stop stops the scheduler and waits for an in-flight run.
func (js *JobScheduler) Stop() {
	js.mu.Lock()
	defer js.mu.Unlock()

	if js.ticker != nil {
		js.ticker.Stop()
		close(js.stop)
		js.wg.Wait()
		js.ticker = nil
		log.Println("[Scheduler] Stopped")
	}
}

func (js *JobScheduler) run(ticker *time.Ticker, stop <-chan bool) {
	defer js.wg.Done()

	// Run immediately on start
	js.tick()

	for {
		select {
		case <-ticker.C:
			js.tick()
		case <-stop:
			return
		}
	}
}

func (js *JobScheduler) tick() {
	ctx := context.Background()

	if js.Locker != nil {
		release, err := js.Locker.Acquire(ctx, runLockName, js.CheckInterval)
		if err != nil {
			log.Printf("[Scheduler] Skipping tick, lock not acquired: %v", err)
			return
		}
		defer func() {
			if err := release(ctx); err != nil {
				log.Printf("[Scheduler] Failed to release lock: %v", err)
			}
		}()
	}

	if _, err := js.RunNow(ctx); err != nil {
		log.Printf("[Scheduler] Run failed: %v", err)
	}
}

// RunNow performs a run as of today, bypassing the lock. Concurrent calls
// in this process are serialized.
func (js *JobScheduler) RunNow(ctx context.Context) (lease.RunReport, error) {
	js.runMu.Lock()
	defer js.runMu.Unlock()

	asOf := lease.DateOf(js.now())
	log.Printf("[Scheduler] Running as of %s", asOf)

	report, err := js.Engine.Run(ctx, asOf)
	js.lastMu.Lock()
	js.lastRun = &report
	js.lastMu.Unlock()
	if err != nil && !errors.Is(err, context.Canceled) {
		return report, err
	}
	return report, nil
}

// LastRun returns the most recent run started by this scheduler.
func (js *JobScheduler) LastRun() (lease.RunReport, bool) {
	js.lastMu.Lock()
	defer js.lastMu.Unlock()
	if js.lastRun == nil {
		return lease.RunReport{}, false
	}
	return *js.lastRun, true
}

// GetNextRunTime returns when the next scheduled run will occur.
func (js *JobScheduler) GetNextRunTime() time.Time {
	return js.now().Add(js.CheckInterval)
}
