// Package scheduler runs the background sweeps: auth probing, retry
// resubmission, memory consolidation, the heartbeat and user-defined
// cron routines.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"zora/internal/memory"
	"zora/internal/provider"
	"zora/internal/retryqueue"
	"zora/internal/task"
	"zora/pkg/logger"
)

// Sweep intervals.
const (
	AuthInterval          = 5 * time.Minute
	RetryPollInterval     = 30 * time.Second
	ConsolidationInterval = 24 * time.Hour
	ConsolidationInitial  = 30 * time.Second
)

const heartbeatPrompt = `Run a brief self-check: confirm your tools respond, note anything
unusual in recent daily notes, and record a one-line status.`

// SubmitFunc hands a task to the orchestrator. A non-nil error means the
// submission itself failed (queue full, shutting down).
type SubmitFunc func(t *task.Task) error

// Config wires a Scheduler.
type Config struct {
	Submit      SubmitFunc
	NewTask     func(prompt string) *task.Task
	AuthMonitor *provider.AuthMonitor
	Retry       *retryqueue.Queue
	Memory      *memory.Manager
	RoutinesDir string

	// RetryPollInterval and ConsolidateInterval default to the package
	// constants when <= 0.
	RetryPollInterval   time.Duration
	ConsolidateInterval time.Duration

	// HeartbeatInterval <= 0 disables the heartbeat; HeartbeatPrompt
	// defaults to the built-in self-check.
	HeartbeatInterval time.Duration
	HeartbeatPrompt   string
}

// Scheduler owns the sweep goroutines and the cron runner. Each sweep is
// self-rescheduling: the next tick is armed only after the current
// iteration finishes, so slow iterations never overlap.
type Scheduler struct {
	cfg  Config
	cron *cron.Cron

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	started bool
}

// New builds a scheduler.
func New(cfg Config) *Scheduler {
	if cfg.RetryPollInterval <= 0 {
		cfg.RetryPollInterval = RetryPollInterval
	}
	if cfg.ConsolidateInterval <= 0 {
		cfg.ConsolidateInterval = ConsolidationInterval
	}
	if cfg.HeartbeatPrompt == "" {
		cfg.HeartbeatPrompt = heartbeatPrompt
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cfg:    cfg,
		cron:   cron.New(),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start launches the sweeps and registers cron routines. Idempotent.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return nil
	}
	s.started = true

	if s.cfg.AuthMonitor != nil {
		s.loop("auth", AuthInterval, AuthInterval, s.sweepAuth)
	}
	if s.cfg.Retry != nil {
		s.loop("retry", s.cfg.RetryPollInterval, s.cfg.RetryPollInterval, s.sweepRetry)
	}
	if s.cfg.Memory != nil {
		s.loop("consolidation", ConsolidationInitial, s.cfg.ConsolidateInterval, s.sweepConsolidation)
	}
	if s.cfg.HeartbeatInterval > 0 {
		s.loop("heartbeat", s.cfg.HeartbeatInterval, s.cfg.HeartbeatInterval, s.heartbeat)
	}

	if s.cfg.RoutinesDir != "" {
		s.registerRoutines()
		s.cron.Start()
	}
	return nil
}

// Stop cancels all timers and waits for in-flight sweeps. Cron stops
// accepting new firings; running ones finish through their own contexts.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.started = false
	s.mu.Unlock()

	s.cancel()
	<-s.cron.Stop().Done()
	s.wg.Wait()
}

// loop runs fn on a self-rescheduling timer until Stop.
func (s *Scheduler) loop(name string, initial, interval time.Duration, fn func()) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		timer := time.NewTimer(initial)
		defer timer.Stop()
		for {
			select {
			case <-s.ctx.Done():
				return
			case <-timer.C:
				fn()
				timer.Reset(interval)
			}
		}
	}()
	logger.Debug().Str("sweep", name).Dur("interval", interval).Msg("sweep scheduled")
}

func (s *Scheduler) sweepAuth() {
	s.cfg.AuthMonitor.CheckAll(s.ctx)
}

// sweepRetry resubmits every due entry. A successful submission only
// defers the entry; the run's outcome settles it (removal on success,
// another counted failure otherwise), so the attempt chain survives
// resubmission.
func (s *Scheduler) sweepRetry() {
	for _, entry := range s.cfg.Retry.Ready() {
		t := entry.Task
		if err := s.cfg.Submit(&t); err != nil {
			logger.Warn().Err(err).Str("job_id", entry.JobID).Msg("retry resubmission failed")
			if exhausted, rerr := s.cfg.Retry.RecordFailure(entry.JobID, err.Error()); rerr != nil {
				logger.Error().Err(rerr).Str("job_id", entry.JobID).Msg("retry bookkeeping failed")
			} else if exhausted {
				logger.Error().Str("job_id", entry.JobID).Msg("task moved to dead letter")
			}
			continue
		}
		if err := s.cfg.Retry.MarkSubmitted(entry.JobID); err != nil {
			logger.Error().Err(err).Str("job_id", entry.JobID).Msg("retry defer failed")
		}
	}
}

func (s *Scheduler) sweepConsolidation() {
	n, err := s.cfg.Memory.Consolidate(s.ctx)
	if err != nil {
		logger.Error().Err(err).Msg("memory consolidation failed")
		return
	}
	if n > 0 {
		logger.Info().Int("archived", n).Msg("daily notes consolidated")
	}
}

func (s *Scheduler) heartbeat() {
	t := s.cfg.NewTask(s.cfg.HeartbeatPrompt)
	if err := s.cfg.Submit(t); err != nil {
		logger.Warn().Err(err).Msg("heartbeat submission failed")
	}
}

func (s *Scheduler) registerRoutines() {
	routines, errs := LoadRoutines(s.cfg.RoutinesDir)
	for _, err := range errs {
		logger.Error().Err(err).Msg("routine load failed")
	}
	for _, r := range routines {
		if !r.Enabled {
			continue
		}
		r := r
		_, err := s.cron.AddFunc(r.Schedule, func() {
			t := r.Task(s.cfg.NewTask)
			if err := s.cfg.Submit(t); err != nil {
				logger.Warn().Err(err).Str("routine", r.Name).Msg("routine submission failed")
			}
		})
		if err != nil {
			logger.Error().Err(err).Str("routine", r.Name).
				Str("schedule", r.Schedule).Msg("invalid routine schedule")
			continue
		}
		logger.Info().Str("routine", r.Name).Str("schedule", r.Schedule).Msg("routine registered")
	}
}
