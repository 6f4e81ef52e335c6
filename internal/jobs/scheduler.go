package jobs

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// DefaultSchedule runs the pipeline every 15 minutes, shortly after the
// collectors typically deliver.
const DefaultSchedule = "*/15 * * * *"

// Scheduler runs the pipeline on a cron schedule. Overlapping runs are
// skipped rather than queued.
type Scheduler struct {
	cron   *cron.Cron
	runner *Runner

	mu      sync.Mutex
	running bool
}

func NewScheduler(runner *Runner, schedule string) (*Scheduler, error) {
	s := &Scheduler{
		cron:   cron.New(),
		runner: runner,
	}
	if _, err := s.cron.AddFunc(schedule, s.tick); err != nil {
		return nil, err
	}
	return s, nil
}

// Start runs the schedule until ctx is cancelled, then waits for any
// in-flight run to finish.
func (s *Scheduler) Start(ctx context.Context) {
	log.Printf("scheduler: started")
	s.cron.Start()
	<-ctx.Done()
	stopped := s.cron.Stop()
	<-stopped.Done()
	log.Printf("scheduler: stopped")
}

func (s *Scheduler) tick() {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		log.Printf("scheduler: previous run still in progress, skipping")
		return
	}
	s.running = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
	}()

	if err := s.runner.RunAll(context.Background(), time.Now().UTC()); err != nil {
		log.Printf("scheduler: pipeline run failed: %v", err)
	}
}
