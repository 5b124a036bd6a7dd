// Package scheduler runs periodic maintenance jobs on cron schedules.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/pglocator/pglocator/internal/app/services/bookings"
	"github.com/pglocator/pglocator/internal/logging"
)

// Job is one scheduled unit of work. The context is cancelled when the
// scheduler stops.
type Job func(ctx context.Context) error

// Scheduler is a system.Service wrapping a cron runner.
type Scheduler struct {
	cron *cron.Cron
	log  *logging.Logger

	mu      sync.Mutex
	ctx     context.Context
	cancel  context.CancelFunc
	entries map[string]cron.EntryID
	running bool
}

// New returns an idle scheduler. Overlapping runs of the same job are skipped
// and panics are recovered and logged.
func New(log *logging.Logger) *Scheduler {
	if log == nil {
		log = logging.NewDefault("scheduler")
	}
	adapter := cronLogger{log: log}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cron: cron.New(
			cron.WithLogger(adapter),
			cron.WithChain(cron.Recover(adapter), cron.SkipIfStillRunning(adapter)),
		),
		log:     log,
		ctx:     ctx,
		cancel:  cancel,
		entries: make(map[string]cron.EntryID),
	}
}

// Add registers a named job. spec accepts the standard five-field syntax and
// descriptors such as "@daily" or "@every 1h".
func (s *Scheduler) Add(name, spec string, job Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.entries[name]; exists {
		return fmt.Errorf("scheduler: job %s already registered", name)
	}
	id, err := s.cron.AddFunc(spec, func() { s.run(name, job) })
	if err != nil {
		return fmt.Errorf("scheduler: job %s: invalid schedule %q: %w", name, spec, err)
	}
	s.entries[name] = id
	s.log.WithField("job", name).WithField("schedule", spec).Info("job registered")
	return nil
}

// Next reports when the named job fires next. It is zero before Start.
func (s *Scheduler) Next(name string) (time.Time, bool) {
	s.mu.Lock()
	id, ok := s.entries[name]
	s.mu.Unlock()
	if !ok {
		return time.Time{}, false
	}
	return s.cron.Entry(id).Next, true
}

func (s *Scheduler) run(name string, job Job) {
	entry := s.log.WithField("job", name)
	start := time.Now()
	if err := job(s.ctx); err != nil {
		entry.WithError(err).Warn("job failed")
		return
	}
	entry.WithField("duration_ms", time.Since(start).Milliseconds()).Debug("job finished")
}

// Name implements system.Service.
func (s *Scheduler) Name() string { return "scheduler" }

// Start implements system.Service.
func (s *Scheduler) Start(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return nil
	}
	s.cron.Start()
	s.running = true
	return nil
}

// Stop halts the runner and waits for running jobs or ctx, whichever ends first.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	s.mu.Unlock()

	s.cancel()
	done := s.cron.Stop()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Backfiller repairs booking records.
type Backfiller interface {
	Backfill(ctx context.Context) (bookings.BackfillResult, error)
}

// BackfillJob runs the booking backfill and logs its outcome.
func BackfillJob(b Backfiller, log *logging.Logger) Job {
	if log == nil {
		log = logging.NewDefault("scheduler")
	}
	return func(ctx context.Context) error {
		res, err := b.Backfill(ctx)
		if err != nil {
			return fmt.Errorf("booking backfill: %w", err)
		}
		log.WithFields(map[string]interface{}{
			"updated": res.Updated,
			"skipped": res.Skipped,
			"errors":  len(res.Errors),
		}).Info("booking backfill finished")
		return nil
	}
}

// cronLogger routes cron's own logging to logrus.
type cronLogger struct {
	log *logging.Logger
}

func (c cronLogger) Info(msg string, keysAndValues ...interface{}) {
	c.log.WithFields(pairs(keysAndValues)).Debug(msg)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	c.log.WithFields(pairs(keysAndValues)).WithError(err).Error(msg)
}

func pairs(kv []interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		out[fmt.Sprint(kv[i])] = kv[i+1]
	}
	return out
}
