package consumer

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/pasthortown/message-sender/internal/domain"
	"github.com/pasthortown/message-sender/internal/queue"
	"github.com/pasthortown/message-sender/internal/repository"
	"github.com/pasthortown/message-sender/internal/sequence"
	"github.com/pasthortown/message-sender/internal/timestamp"
)

// ErrCycleInProgress is returned when RunCycle is called while another cycle runs.
var ErrCycleInProgress = errors.New("consumer: ingestion cycle already in progress")

// Outcome is the terminal state of one ingestion cycle
type Outcome string

const (
	// OutcomeEmpty means no decodable message was collected.
	OutcomeEmpty Outcome = "empty"
	// OutcomePersisted means the batch was written and acknowledged.
	OutcomePersisted Outcome = "persisted"
	// OutcomeRequeued means the batch was negatively acknowledged with requeue.
	OutcomeRequeued Outcome = "requeued"
	// OutcomeBrokerUnavailable means the cycle could not open or drain the queue.
	OutcomeBrokerUnavailable Outcome = "broker_unavailable"
)

// PipelineConfig configures the ingestion pipeline
type PipelineConfig struct {
	CounterName string
	// GapAlertThreshold triggers a warning each time abandoned item ids
	// cross a multiple of it. Zero disables the warning.
	GapAlertThreshold int64
}

// CycleResult summarizes one ingestion cycle
type CycleResult struct {
	CycleID       string         `json:"cycle_id"`
	StartedAt     time.Time      `json:"started_at"`
	Duration      time.Duration  `json:"duration"`
	Outcome       Outcome        `json:"outcome"`
	Received      int            `json:"received"`
	Rejected      int            `json:"rejected"`
	Collected     int            `json:"collected"`
	Persisted     int            `json:"persisted"`
	WriteFailures int            `json:"write_failures"`
	Range         sequence.Range `json:"range"`
}

// IngestionPipeline moves one batch from the queue into the record store per cycle
type IngestionPipeline struct {
	broker    queue.Broker
	collector *BatchCollector
	allocator SequenceAllocator
	records   repository.RecordRepository
	config    PipelineConfig
	log       *zap.Logger

	now        func() time.Time
	newCycleID func() string

	mu        sync.Mutex
	abandoned atomic.Int64
}

// NewIngestionPipeline creates a new ingestion pipeline
func NewIngestionPipeline(
	broker queue.Broker,
	collector *BatchCollector,
	allocator SequenceAllocator,
	records repository.RecordRepository,
	config PipelineConfig,
	log *zap.Logger,
) *IngestionPipeline {
	return &IngestionPipeline{
		broker:     broker,
		collector:  collector,
		allocator:  allocator,
		records:    records,
		config:     config,
		log:        log,
		now:        time.Now,
		newCycleID: uuid.NewString,
	}
}

// AbandonedTotal returns how many allocated item ids were never persisted
func (p *IngestionPipeline) AbandonedTotal() int64 {
	return p.abandoned.Load()
}

// RunCycle collects, numbers, persists and settles one batch. Only one cycle
// runs at a time. Every collected message is acked on success and nacked
// with requeue on any failure after collection.
func (p *IngestionPipeline) RunCycle(ctx context.Context) (*CycleResult, error) {
	if !p.mu.TryLock() {
		return nil, ErrCycleInProgress
	}
	defer p.mu.Unlock()

	result := &CycleResult{
		CycleID:   p.newCycleID(),
		StartedAt: p.now().UTC(),
	}
	defer func() {
		result.Duration = p.now().Sub(result.StartedAt)
	}()

	log := p.log.With(zap.String("cycle_id", result.CycleID))

	session, err := p.broker.Open(ctx)
	if err != nil {
		log.Error("Failed to open broker session", zap.Error(err))
		result.Outcome = OutcomeBrokerUnavailable
		return result, err
	}
	defer func() {
		if err := session.Close(); err != nil {
			log.Warn("Failed to close broker session", zap.Error(err))
		}
	}()

	collection, err := p.collector.Collect(ctx, session)
	result.Received = collection.Received
	result.Rejected = collection.Rejected
	result.Collected = len(collection.Envelopes)
	if err != nil {
		p.nackAll(ctx, log, collection.Envelopes)
		result.Outcome = OutcomeBrokerUnavailable
		return result, err
	}

	if len(collection.Envelopes) == 0 {
		result.Outcome = OutcomeEmpty
		return result, nil
	}

	envelopes := collection.Envelopes
	log.Info("Processing messages from queue", zap.Int("count", len(envelopes)))

	rng, err := p.allocator.Allocate(ctx, p.config.CounterName, len(envelopes))
	if err != nil {
		log.Error("Failed to allocate item ids",
			zap.String("counter", p.config.CounterName),
			zap.Int("count", len(envelopes)),
			zap.Error(err))
		p.nackAll(ctx, log, envelopes)
		result.Outcome = OutcomeRequeued
		return result, err
	}
	result.Range = rng

	records := p.buildRecords(envelopes, rng)

	inserted, err := p.records.InsertBatch(ctx, records)
	if err != nil {
		log.Error("Failed to insert batch",
			zap.Int("event_count", len(records)),
			zap.Int64("first_item_id", rng.First),
			zap.Int64("last_item_id", rng.Last),
			zap.Error(err))
		p.nackAll(ctx, log, envelopes)
		p.recordGap(log, int64(rng.Len()))
		result.Outcome = OutcomeRequeued
		return result, err
	}

	for _, failure := range inserted.Failures {
		log.Warn("Record rejected by store",
			zap.Int64("item_id", failure.ItemID),
			zap.String("reason", failure.Message))
	}

	result.Persisted = inserted.Inserted
	result.WriteFailures = len(inserted.Failures)

	log.Info("Successfully inserted records",
		zap.Int("count", inserted.Inserted),
		zap.Int("failed", len(inserted.Failures)),
		zap.Int64("first_item_id", rng.First),
		zap.Int64("last_item_id", rng.Last))

	p.ackAll(ctx, log, envelopes)
	result.Outcome = OutcomePersisted
	return result, nil
}

// buildRecords assigns the i-th id of rng to the i-th envelope and
// normalizes timestamps, falling back to the cycle's processing instant.
func (p *IngestionPipeline) buildRecords(envelopes []*Envelope, rng sequence.Range) []*domain.ActivityRecord {
	now := p.now().UTC()
	records := make([]*domain.ActivityRecord, len(envelopes))

	for i, env := range envelopes {
		records[i] = &domain.ActivityRecord{
			MessageID: env.Event.MessageID,
			Email:     env.Event.Email,
			Zone:      env.Event.Zone,
			State:     env.Event.State,
			Timestamp: timestamp.OrNow(env.Event.Timestamp, now),
			ItemID:    rng.At(i),
		}
	}

	return records
}

// recordGap accounts for allocated ids that will never be persisted.
func (p *IngestionPipeline) recordGap(log *zap.Logger, n int64) {
	total := p.abandoned.Add(n)
	before := total - n

	threshold := p.config.GapAlertThreshold
	if threshold > 0 && total/threshold > before/threshold {
		log.Warn("Abandoned item ids crossed alert threshold",
			zap.String("counter", p.config.CounterName),
			zap.Int64("abandoned_total", total),
			zap.Int64("threshold", threshold))
	}
}

// ackAll acknowledges all envelopes (removes them from the queue)
func (p *IngestionPipeline) ackAll(ctx context.Context, log *zap.Logger, envelopes []*Envelope) {
	for _, env := range envelopes {
		if err := env.Ack(ctx); err != nil {
			log.Error("Failed to ack envelope",
				zap.String("message_id", env.MessageID),
				zap.Error(err))
		}
	}
}

// nackAll negatively acknowledges all envelopes with requeue
func (p *IngestionPipeline) nackAll(ctx context.Context, log *zap.Logger, envelopes []*Envelope) {
	if len(envelopes) == 0 {
		return
	}
	log.Warn("Requeueing batch", zap.Int("count", len(envelopes)))
	for _, env := range envelopes {
		if err := env.Nack(ctx); err != nil {
			log.Error("Failed to nack envelope",
				zap.String("message_id", env.MessageID),
				zap.Error(err))
		}
	}
}
