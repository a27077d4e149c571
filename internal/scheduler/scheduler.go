package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/pasthortown/message-sender/internal/consumer"
	"github.com/pasthortown/message-sender/internal/queue"
	"github.com/pasthortown/message-sender/internal/reaper"
)

// Ingester runs one ingestion cycle
type Ingester interface {
	RunCycle(ctx context.Context) (*consumer.CycleResult, error)
	AbandonedTotal() int64
}

// Reaper runs one inactivity pass
type Reaper interface {
	Run(ctx context.Context) (*reaper.Result, error)
}

// Config configures the scheduler loop
type Config struct {
	CycleInterval time.Duration
	ConnectRetry  time.Duration
}

// Status is a point-in-time view of the scheduler for the ops endpoint
type Status struct {
	StartedAt      time.Time             `json:"started_at"`
	BrokerReady    bool                  `json:"broker_ready"`
	Iterations     int64                 `json:"iterations"`
	LastCycle      *consumer.CycleResult `json:"last_cycle,omitempty"`
	LastCycleError string                `json:"last_cycle_error,omitempty"`
	LastReap       *reaper.Result        `json:"last_reap,omitempty"`
	LastReapError  string                `json:"last_reap_error,omitempty"`
	AbandonedTotal int64                 `json:"abandoned_item_ids"`
}

// Scheduler drives ingestion then reaping on a fixed interval from one goroutine
type Scheduler struct {
	broker   queue.Broker
	ingester Ingester
	reaper   Reaper
	config   Config
	log      *zap.Logger

	mu     sync.RWMutex
	status Status
}

// NewScheduler creates a new scheduler
func NewScheduler(broker queue.Broker, ingester Ingester, inactivity Reaper, config Config, log *zap.Logger) *Scheduler {
	return &Scheduler{
		broker:   broker,
		ingester: ingester,
		reaper:   inactivity,
		config:   config,
		log:      log,
	}
}

// Status returns a copy of the latest scheduler state
func (s *Scheduler) Status() Status {
	s.mu.RLock()
	status := s.status
	s.mu.RUnlock()

	status.AbandonedTotal = s.ingester.AbandonedTotal()
	return status
}

// WaitForBroker blocks until the broker accepts a connection, retrying at a
// fixed interval. It only gives up when ctx is cancelled.
func (s *Scheduler) WaitForBroker(ctx context.Context) error {
	attempt := 0
	operation := func() error {
		attempt++
		return s.broker.Ping(ctx)
	}
	notify := func(err error, next time.Duration) {
		s.log.Warn("Broker not reachable, retrying",
			zap.Int("attempt", attempt),
			zap.Duration("retry_in", next),
			zap.Error(err))
	}

	policy := backoff.WithContext(backoff.NewConstantBackOff(s.config.ConnectRetry), ctx)
	if err := backoff.RetryNotify(operation, policy, notify); err != nil {
		return errors.Join(queue.ErrBrokerUnavailable, err)
	}

	s.mu.Lock()
	s.status.BrokerReady = true
	s.mu.Unlock()

	s.log.Info("Connected to broker", zap.Int("attempts", attempt))
	return nil
}

// Run waits for the broker, then ingests, reaps and sleeps until ctx is
// cancelled. Stage errors are logged and never end the loop.
func (s *Scheduler) Run(ctx context.Context) error {
	s.mu.Lock()
	s.status.StartedAt = time.Now().UTC()
	s.mu.Unlock()

	if err := s.WaitForBroker(ctx); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return err
	}

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			s.log.Info("Scheduler stopped")
			return nil
		case <-timer.C:
		}

		s.RunOnce(ctx)

		s.log.Debug("Sleeping until next cycle", zap.Duration("interval", s.config.CycleInterval))
		timer.Reset(s.config.CycleInterval)
	}
}

// RunOnce performs one ingestion cycle followed by one reaper pass. The
// reaper is skipped if ctx is cancelled after ingestion.
func (s *Scheduler) RunOnce(ctx context.Context) {
	cycle, cycleErr := s.ingester.RunCycle(ctx)
	if cycleErr != nil {
		s.log.Error("Ingestion cycle failed", zap.Error(cycleErr))
	}

	s.mu.Lock()
	s.status.Iterations++
	if cycle != nil {
		s.status.LastCycle = cycle
	}
	s.status.LastCycleError = errorString(cycleErr)
	s.mu.Unlock()

	if ctx.Err() != nil {
		return
	}

	reap, reapErr := s.reaper.Run(ctx)
	if reapErr != nil {
		s.log.Error("Inactivity reaper failed", zap.Error(reapErr))
	}

	s.mu.Lock()
	if reap != nil {
		s.status.LastReap = reap
	}
	s.status.LastReapError = errorString(reapErr)
	s.mu.Unlock()
}

func errorString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
