/*
scheduler.go - Background scheduler for the engine's periodic tasks

PURPOSE:
  Runs a fixed set of named engine tasks (the overdue-debtor sweep and the
  pending-payment expiry) on their own intervals. Task due times are taken
  from ledger.Clock so tests can drive the scheduler with Tick and a manual
  clock instead of waiting on a ticker.

DESIGN:
  - One background goroutine, woken by a ticker at PollInterval
  - Each wake calls Tick(clock.Now()), which runs every task whose next run
    time has passed
  - A task runs at most once per Tick; a failing task is logged and retried
    at its next interval
  - Tasks run sequentially; the engine's own locks cover concurrent API calls

USAGE:
  scheduler := NewScheduler(engine, clock, cfg.Scheduler)
  scheduler.Start()
  // ... later
  scheduler.Stop()

SEE ALSO:
  - handlers.go: SweepDebtors / ExpirePendingPayments (manual triggers)
  - installment/debtors.go, installment/pending.go: the task bodies
*/
package api

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/warp/installment-engine/config"
	"github.com/warp/installment-engine/installment"
	"github.com/warp/installment-engine/ledger"
)

const (
	TaskDebtorSweep   = "debtor_sweep"
	TaskPendingExpiry = "pending_expiry"
)

// Task is one named periodic job.
type Task struct {
	Name     string
	Interval time.Duration
	Run      func(ctx context.Context) error

	next time.Time
}

// Scheduler runs the engine's periodic tasks.
type Scheduler struct {
	Clock        ledger.Clock
	PollInterval time.Duration
	Enabled      bool

	tasks  []*Task
	ticker *time.Ticker
	stop   chan struct{}
	wg     sync.WaitGroup
	mu     sync.Mutex
}

// NewScheduler registers the debtor sweep and the pending expiry against
// the engine.
func NewScheduler(engine *installment.Engine, clock ledger.Clock, cfg config.SchedulerConfig) *Scheduler {
	s := &Scheduler{
		Clock:        clock,
		PollInterval: time.Minute,
		Enabled:      true,
	}
	s.Register(&Task{
		Name:     TaskDebtorSweep,
		Interval: cfg.SweepInterval,
		Run: func(ctx context.Context) error {
			result, err := engine.SweepOverdueDebtors(ctx)
			if result.Changed() {
				log.Printf("[Scheduler] Sweep: %d contracts, %d created, %d updated, %d removed",
					result.Contracts, result.Created, result.Updated, result.Removed)
			}
			return err
		},
	})
	s.Register(&Task{
		Name:     TaskPendingExpiry,
		Interval: cfg.PendingExpiryInterval,
		Run: func(ctx context.Context) error {
			result, err := engine.CheckExpiredPendingPayments(ctx)
			if result.RejectedCount > 0 {
				log.Printf("[Scheduler] Expired %d pending payments", result.RejectedCount)
			}
			return err
		},
	})
	return s
}

// Register adds a task. It first runs on the next Tick.
func (s *Scheduler) Register(t *Task) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks = append(s.tasks, t)
}

// Start begins the scheduler.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.Enabled {
		log.Println("[Scheduler] Disabled, not starting")
		return
	}
	if s.ticker != nil {
		return
	}

	s.ticker = time.NewTicker(s.PollInterval)
	s.stop = make(chan struct{})
	s.wg.Add(1)

	go s.run(s.ticker, s.stop)

	log.Printf("[Scheduler] Started with %d tasks, poll interval: %v", len(s.tasks), s.PollInterval)
}

// Stop stops the scheduler and waits for a running Tick to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	ticker, stop := s.ticker, s.stop
	s.ticker, s.stop = nil, nil
	s.mu.Unlock()

	if ticker == nil {
		return
	}
	ticker.Stop()
	close(stop)
	s.wg.Wait()
	log.Println("[Scheduler] Stopped")
}

func (s *Scheduler) run(ticker *time.Ticker, stop <-chan struct{}) {
	defer s.wg.Done()

	// Run immediately on start
	s.Tick(context.Background(), s.Clock.Now())

	for {
		select {
		case <-ticker.C:
			s.Tick(context.Background(), s.Clock.Now())
		case <-stop:
			return
		}
	}
}

// Tick runs every task due at now and returns the names that ran.
func (s *Scheduler) Tick(ctx context.Context, now time.Time) []string {
	s.mu.Lock()
	var due []*Task
	for _, t := range s.tasks {
		if t.next.IsZero() || !now.Before(t.next) {
			t.next = now.Add(t.Interval)
			due = append(due, t)
		}
	}
	s.mu.Unlock()

	ran := make([]string, 0, len(due))
	for _, t := range due {
		if err := t.Run(ctx); err != nil {
			log.Printf("[Scheduler] Task %s failed: %v", t.Name, err)
		}
		ran = append(ran, t.Name)
	}
	return ran
}

// RunNow runs every task immediately, regardless of schedule.
func (s *Scheduler) RunNow(ctx context.Context) {
	s.mu.Lock()
	tasks := append([]*Task(nil), s.tasks...)
	s.mu.Unlock()

	for _, t := range tasks {
		if err := t.Run(ctx); err != nil {
			log.Printf("[Scheduler] Task %s failed: %v", t.Name, err)
		}
	}
}

// NextRun returns when the named task is next due. Zero means on the next Tick.
func (s *Scheduler) NextRun(name string) time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.tasks {
		if t.Name == name {
			return t.next
		}
	}
	return time.Time{}
}
