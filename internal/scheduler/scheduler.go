// Package scheduler drives periodic polls. Each entity gets its own cron
// entry; overlapping ticks for the same entity are coalesced and a global
// semaphore caps concurrent polls across all entities.
package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/visawatch/visawatch/internal/metrics"
	"github.com/visawatch/visawatch/internal/monitor"
)

// Config tunes scheduler behavior.
type Config struct {
	// MaxConcurrent caps polls running at once across all entities.
	MaxConcurrent int64
	// DefaultInterval is used when an entity's interval fails to parse.
	DefaultInterval time.Duration
	// ShutdownGrace bounds how long Shutdown waits for in-flight polls.
	ShutdownGrace time.Duration
}

// Scheduler owns one cron entry per scheduled entity.
type Scheduler struct {
	cfg    Config
	cron   *cron.Cron
	poller monitor.Poller
	sem    *semaphore.Weighted
	logger *zap.Logger

	mu       sync.Mutex
	entries  map[int64]cron.EntryID
	inFlight map[int64]*atomic.Bool

	baseCtx context.Context
	cancel  context.CancelFunc
}

// New constructs a Scheduler around a Poller.
func New(cfg Config, poller monitor.Poller, logger *zap.Logger) *Scheduler {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 8
	}
	if cfg.DefaultInterval <= 0 {
		cfg.DefaultInterval = time.Hour
	}
	if cfg.ShutdownGrace <= 0 {
		cfg.ShutdownGrace = 30 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	cronLogger := cron.PrintfLogger(zap.NewStdLog(logger.Named("cron")))
	return &Scheduler{
		cfg:      cfg,
		cron:     cron.New(cron.WithChain(cron.Recover(cronLogger))),
		poller:   poller,
		sem:      semaphore.NewWeighted(cfg.MaxConcurrent),
		logger:   logger,
		entries:  make(map[int64]cron.EntryID),
		inFlight: make(map[int64]*atomic.Bool),
	}
}

// Start begins firing ticks. Polls inherit ctx; canceling it aborts any poll
// still running.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	s.baseCtx, s.cancel = context.WithCancel(ctx)
	s.mu.Unlock()
	s.cron.Start()
	s.logger.Info("scheduler started", zap.Int64("max_concurrent", s.cfg.MaxConcurrent))
}

// Schedule registers (or replaces) the recurring poll for an entity. An
// unparsable interval falls back to the configured default. The first poll
// fires one interval after scheduling, not immediately.
func (s *Scheduler) Schedule(entityID int64, interval string) time.Duration {
	every, err := ParseInterval(interval)
	if err != nil {
		s.logger.Warn("falling back to default interval",
			zap.Int64("entity_id", entityID),
			zap.String("interval", interval),
			zap.Error(err),
		)
		every = s.cfg.DefaultInterval
	}

	job := &entityJob{s: s, entityID: entityID}

	s.mu.Lock()
	defer s.mu.Unlock()
	if old, ok := s.entries[entityID]; ok {
		s.cron.Remove(old)
	}
	s.entries[entityID] = s.cron.Schedule(cron.Every(every), job)

	s.logger.Info("entity scheduled",
		zap.Int64("entity_id", entityID),
		zap.Duration("every", every),
	)
	return every
}

// Unschedule removes the entity's recurring poll. Unknown ids are a no-op.
func (s *Scheduler) Unschedule(entityID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.entries[entityID]
	if !ok {
		s.logger.Debug("unschedule miss", zap.Int64("entity_id", entityID))
		return
	}
	s.cron.Remove(id)
	delete(s.entries, entityID)
	s.logger.Info("entity unscheduled", zap.Int64("entity_id", entityID))
}

// Len reports how many entities are currently scheduled.
func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Shutdown stops firing new ticks and waits for in-flight polls up to the
// grace period, then cancels whatever is left.
func (s *Scheduler) Shutdown() {
	drained := s.cron.Stop()
	select {
	case <-drained.Done():
		s.logger.Info("scheduler drained")
	case <-time.After(s.cfg.ShutdownGrace):
		s.logger.Warn("shutdown grace expired with polls in flight")
	}
	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
	}
	s.mu.Unlock()
}

// Poll runs a single out-of-schedule poll for the entity, sharing the
// per-entity exclusion with scheduled ticks. It returns
// monitor.ErrPollInFlight when a poll for the entity is already running.
// Poll implements monitor.Poller, so callers that trigger ad-hoc polls can
// hold the Scheduler instead of the engine.
func (s *Scheduler) Poll(ctx context.Context, entityID int64) error {
	return s.runPoll(ctx, entityID)
}

// inFlightFlag returns the entity's in-flight marker, creating it on first
// use. Flags outlive Unschedule so a replacement entry keeps excluding a
// poll started under the old one.
func (s *Scheduler) inFlightFlag(entityID int64) *atomic.Bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	flag, ok := s.inFlight[entityID]
	if !ok {
		flag = &atomic.Bool{}
		s.inFlight[entityID] = flag
	}
	return flag
}

// runPoll executes one poll under the per-entity guard and the global
// semaphore. All polls for an entity, scheduled or ad-hoc, funnel through
// here so at most one runs at a time.
func (s *Scheduler) runPoll(ctx context.Context, entityID int64) error {
	flag := s.inFlightFlag(entityID)
	if !flag.CompareAndSwap(false, true) {
		return monitor.ErrPollInFlight
	}
	defer flag.Store(false)

	if err := s.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer s.sem.Release(1)

	metrics.IncTicksInFlight()
	defer metrics.DecTicksInFlight()

	return s.poller.Poll(ctx, entityID)
}

// entityJob is the cron payload for one entity. A tick that fires while the
// entity is still polling, even under a replaced schedule entry, is dropped.
type entityJob struct {
	s        *Scheduler
	entityID int64
}

func (j *entityJob) Run() {
	j.s.mu.Lock()
	ctx := j.s.baseCtx
	j.s.mu.Unlock()
	if ctx == nil {
		ctx = context.Background()
	}

	err := j.s.runPoll(ctx, j.entityID)
	switch {
	case errors.Is(err, monitor.ErrPollInFlight):
		metrics.ObserveCoalescedTick()
		j.s.logger.Debug("tick coalesced", zap.Int64("entity_id", j.entityID))
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
	case err != nil:
		j.s.logger.Error("poll failed",
			zap.Int64("entity_id", j.entityID),
			zap.Error(err),
		)
	}
}
