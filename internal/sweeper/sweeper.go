// Package sweeper runs periodic maintenance jobs.  The only job today
// removes expired seat holds and announces the freed seats on the
// fanout bus so every server can update its rooms.
package sweeper

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/iliyamo/cinema-seat-hold/internal/fanout"
	"github.com/iliyamo/cinema-seat-hold/internal/model"
)

// Job is a unit of scheduled work.
type Job interface {
	Name() string
	Run(ctx context.Context) error
}

// ExpiredHoldSweeper is the part of the lease store the expiry job
// needs.
type ExpiredHoldSweeper interface {
	SweepExpired(ctx context.Context) ([]model.SeatKey, error)
}

// ExpiryJob deletes expired holds and publishes the keys it removed.
type ExpiryJob struct {
	holds ExpiredHoldSweeper
	bus   fanout.Bus
	topic string
}

// NewExpiryJob returns the expire-holds job publishing on topic.
func NewExpiryJob(holds ExpiredHoldSweeper, bus fanout.Bus, topic string) *ExpiryJob {
	return &ExpiryJob{holds: holds, bus: bus, topic: topic}
}

// Name implements Job.
func (j *ExpiryJob) Name() string { return "expire-holds" }

// Run implements Job.  Nothing is published when no hold expired.  If
// the publish fails the holds stay deleted; rooms catch up on their
// next snapshot.
func (j *ExpiryJob) Run(ctx context.Context) error {
	keys, err := j.holds.SweepExpired(ctx)
	if err != nil {
		return fmt.Errorf("sweep expired holds: %w", err)
	}
	if len(keys) == 0 {
		return nil
	}
	payload, err := fanout.EncodeReleased(keys)
	if err != nil {
		return err
	}
	if err := j.bus.Publish(ctx, j.topic, payload); err != nil {
		return fmt.Errorf("publish %d released seats: %w", len(keys), err)
	}
	return nil
}

type entry struct {
	job    Job
	period time.Duration
}

// Scheduler runs registered jobs at fixed periods.  A run starts on
// every tick even if the previous run of another job is slow; runs of
// the same job never overlap.  Job errors are logged and never stop the
// schedule.
type Scheduler struct {
	logger  *zap.Logger
	mu      sync.Mutex
	entries []entry
}

// NewScheduler returns an empty scheduler.
func NewScheduler(logger *zap.Logger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{logger: logger.Named("sweeper")}
}

// Every registers job to run once per period.
func (s *Scheduler) Every(period time.Duration, job Job) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, entry{job: job, period: period})
}

// RunOnce runs every registered job once, sequentially.
func (s *Scheduler) RunOnce(ctx context.Context) {
	s.mu.Lock()
	entries := append([]entry(nil), s.entries...)
	s.mu.Unlock()
	for _, e := range entries {
		s.run(ctx, e.job)
	}
}

// Run blocks until ctx is done, running each job on its own ticker.
func (s *Scheduler) Run(ctx context.Context) error {
	s.mu.Lock()
	entries := append([]entry(nil), s.entries...)
	s.mu.Unlock()

	var wg sync.WaitGroup
	for _, e := range entries {
		wg.Add(1)
		go func(e entry) {
			defer wg.Done()
			s.loop(ctx, e)
		}(e)
	}
	s.logger.Info("scheduler started", zap.Int("jobs", len(entries)))
	wg.Wait()
	return nil
}

func (s *Scheduler) loop(ctx context.Context, e entry) {
	ticker := time.NewTicker(e.period)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.run(ctx, e.job)
		}
	}
}

func (s *Scheduler) run(ctx context.Context, job Job) {
	start := time.Now()
	if err := job.Run(ctx); err != nil {
		if ctx.Err() != nil {
			return
		}
		s.logger.Error("job failed", zap.String("job", job.Name()), zap.Error(err))
		return
	}
	s.logger.Debug("job done", zap.String("job", job.Name()), zap.Duration("took", time.Since(start)))
}
