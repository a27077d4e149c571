package consumer

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/pasthortown/message-sender/internal/domain"
	"github.com/pasthortown/message-sender/internal/repository"
	"github.com/pasthortown/message-sender/internal/sequence"
)

const testCounter = "messagereport"

var testNow = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

type pipelineFixture struct {
	queue    *fakeQueue
	counters *memoryCounters
	records  *memoryRecords
	pipeline *IngestionPipeline
}

func newPipelineFixture(start int64, bodies ...string) *pipelineFixture {
	f := &pipelineFixture{
		queue:    newFakeQueue(bodies...),
		counters: &memoryCounters{values: map[string]int64{}},
		records:  &memoryRecords{},
	}
	if start > 0 {
		f.counters.values[testCounter] = start
	}

	log := zap.NewNop()
	collector := NewBatchCollector(NewJSONActivityParser(), CollectorConfig{DrainCap: 10000, ReceiveChunk: 1000}, log)
	allocator := sequence.NewAllocator(f.counters, log)

	f.pipeline = NewIngestionPipeline(f.queue, collector, allocator, f.records,
		PipelineConfig{CounterName: testCounter}, log)
	f.pipeline.now = func() time.Time { return testNow }
	f.pipeline.newCycleID = func() string { return "cycle-1" }

	return f
}

func itemIDs(records []*domain.ActivityRecord) []int64 {
	ids := make([]int64, len(records))
	for i, r := range records {
		ids[i] = r.ItemID
	}
	return ids
}

func TestIngestionPipeline_RunCycle_AssignsIdsInArrivalOrder(t *testing.T) {
	f := newPipelineFixture(50,
		validBody("a@example.com"),
		validBody("b@example.com"),
		validBody("c@example.com"),
		validBody("d@example.com"),
		validBody("e@example.com"),
	)

	result, err := f.pipeline.RunCycle(context.Background())

	require.NoError(t, err)
	assert.Equal(t, OutcomePersisted, result.Outcome)
	assert.Equal(t, sequence.Range{First: 51, Last: 55}, result.Range)
	assert.Equal(t, int64(55), f.counters.values[testCounter])
	assert.Equal(t, []int64{51, 52, 53, 54, 55}, itemIDs(f.records.records))
	assert.Equal(t, "a@example.com", f.records.records[0].Email)
	assert.Equal(t, "e@example.com", f.records.records[4].Email)
	assert.Equal(t, 5, f.queue.count(func(h *fakeHandle) bool { return h.acked }))
	assert.Equal(t, 1, f.queue.closed)
}

func TestIngestionPipeline_RunCycle_MalformedMessageIsRejected(t *testing.T) {
	f := newPipelineFixture(10,
		validBody("a@example.com"),
		`{invalid json}`,
		validBody("b@example.com"),
		validBody("c@example.com"),
	)

	result, err := f.pipeline.RunCycle(context.Background())

	require.NoError(t, err)
	assert.Equal(t, OutcomePersisted, result.Outcome)
	assert.Equal(t, 4, result.Received)
	assert.Equal(t, 1, result.Rejected)
	assert.Equal(t, 3, result.Persisted)
	assert.Equal(t, []int64{11, 12, 13}, itemIDs(f.records.records))
	assert.Equal(t, 3, f.queue.count(func(h *fakeHandle) bool { return h.acked }))
	assert.Equal(t, 1, f.queue.count(func(h *fakeHandle) bool { return h.nacked && !h.requeued }))
	assert.Empty(t, f.queue.pending)
}

func TestIngestionPipeline_RunCycle_EmptyQueue(t *testing.T) {
	queue := newFakeQueue()
	allocator := new(MockAllocator)
	records := new(MockRecordRepository)
	log := zap.NewNop()

	collector := NewBatchCollector(NewJSONActivityParser(), CollectorConfig{DrainCap: 10000}, log)
	pipeline := NewIngestionPipeline(queue, collector, allocator, records, PipelineConfig{CounterName: testCounter}, log)

	result, err := pipeline.RunCycle(context.Background())

	require.NoError(t, err)
	assert.Equal(t, OutcomeEmpty, result.Outcome)
	allocator.AssertNotCalled(t, "Allocate", mock.Anything, mock.Anything, mock.Anything)
	records.AssertNotCalled(t, "InsertBatch", mock.Anything, mock.Anything)
}

func TestIngestionPipeline_RunCycle_OnlyMalformedAllocatesNothing(t *testing.T) {
	f := newPipelineFixture(7, `{invalid json}`, `[]`)

	result, err := f.pipeline.RunCycle(context.Background())

	require.NoError(t, err)
	assert.Equal(t, OutcomeEmpty, result.Outcome)
	assert.Equal(t, 2, result.Rejected)
	assert.Equal(t, int64(7), f.counters.values[testCounter])
	assert.Empty(t, f.records.records)
}

func TestIngestionPipeline_RunCycle_StoreFailureRequeues(t *testing.T) {
	f := newPipelineFixture(0,
		validBody("a@example.com"),
		validBody("b@example.com"),
		validBody("c@example.com"),
	)
	f.records.failures = 1
	f.records.err = repository.ErrStoreWrite

	result, err := f.pipeline.RunCycle(context.Background())

	assert.ErrorIs(t, err, repository.ErrStoreWrite)
	assert.Equal(t, OutcomeRequeued, result.Outcome)
	assert.Equal(t, 0, f.queue.count(func(h *fakeHandle) bool { return h.acked }))
	assert.Equal(t, 3, f.queue.count(func(h *fakeHandle) bool { return h.nacked && h.requeued }))
	assert.Len(t, f.queue.pending, 3)
	assert.Equal(t, int64(3), f.pipeline.AbandonedTotal())

	// the redelivered batch gets fresh ids; 1..3 stay unused
	result, err = f.pipeline.RunCycle(context.Background())

	require.NoError(t, err)
	assert.Equal(t, OutcomePersisted, result.Outcome)
	assert.Equal(t, []int64{4, 5, 6}, itemIDs(f.records.records))
	assert.Equal(t, int64(6), f.counters.values[testCounter])
}

func TestIngestionPipeline_RunCycle_AllocationFailureRequeues(t *testing.T) {
	f := newPipelineFixture(0, validBody("a@example.com"), validBody("b@example.com"))
	f.counters.err = errors.New("mongo unreachable")

	result, err := f.pipeline.RunCycle(context.Background())

	assert.ErrorIs(t, err, sequence.ErrCounterUnavailable)
	assert.Equal(t, OutcomeRequeued, result.Outcome)
	assert.Empty(t, f.records.records)
	assert.Equal(t, 2, f.queue.count(func(h *fakeHandle) bool { return h.nacked && h.requeued }))
	assert.Zero(t, f.pipeline.AbandonedTotal())
}

func TestIngestionPipeline_RunCycle_BrokerUnavailable(t *testing.T) {
	f := newPipelineFixture(0, validBody("a@example.com"))
	f.queue.openErr = errors.New("dial tcp: connection refused")

	result, err := f.pipeline.RunCycle(context.Background())

	assert.Error(t, err)
	assert.Equal(t, OutcomeBrokerUnavailable, result.Outcome)
	assert.Len(t, f.queue.pending, 1)
	assert.Empty(t, f.records.records)
}

func TestIngestionPipeline_RunCycle_PartialWriteFailuresAreAcked(t *testing.T) {
	queue := newFakeQueue(validBody("a@example.com"), validBody("b@example.com"))
	allocator := new(MockAllocator)
	records := new(MockRecordRepository)
	log := zap.NewNop()

	collector := NewBatchCollector(NewJSONActivityParser(), CollectorConfig{DrainCap: 10000}, log)
	pipeline := NewIngestionPipeline(queue, collector, allocator, records, PipelineConfig{CounterName: testCounter}, log)

	allocator.On("Allocate", mock.Anything, testCounter, 2).Return(sequence.Range{First: 100, Last: 101}, nil).Once()
	records.On("InsertBatch", mock.Anything, mock.MatchedBy(func(batch []*domain.ActivityRecord) bool {
		return len(batch) == 2 && batch[0].ItemID == 100 && batch[1].ItemID == 101
	})).Return(repository.InsertResult{
		Inserted: 1,
		Failures: []repository.InsertFailure{{ItemID: 101, Message: "duplicate key"}},
	}, nil).Once()

	result, err := pipeline.RunCycle(context.Background())

	require.NoError(t, err)
	assert.Equal(t, OutcomePersisted, result.Outcome)
	assert.Equal(t, 1, result.Persisted)
	assert.Equal(t, 1, result.WriteFailures)
	assert.Equal(t, 2, queue.count(func(h *fakeHandle) bool { return h.acked }))
	allocator.AssertExpectations(t)
	records.AssertExpectations(t)
}

func TestIngestionPipeline_RunCycle_NormalizesTimestamps(t *testing.T) {
	f := newPipelineFixture(0,
		`{"email":"a@example.com","timestamp":"2024-05-01 10:00:00"}`,
		`{"email":"b@example.com"}`,
		`{"email":"c@example.com","timestamp":"2024-05-01T12:00:00+02:00"}`,
	)

	_, err := f.pipeline.RunCycle(context.Background())

	require.NoError(t, err)
	require.Len(t, f.records.records, 3)
	assert.Equal(t, time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC), f.records.records[0].Timestamp)
	assert.Equal(t, testNow, f.records.records[1].Timestamp)
	assert.Equal(t, time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC), f.records.records[2].Timestamp)
}

func TestIngestionPipeline_RunCycle_RejectsOverlappingCycle(t *testing.T) {
	f := newPipelineFixture(0, validBody("a@example.com"))

	f.pipeline.mu.Lock()
	result, err := f.pipeline.RunCycle(context.Background())
	f.pipeline.mu.Unlock()

	assert.Nil(t, result)
	assert.ErrorIs(t, err, ErrCycleInProgress)
	assert.Len(t, f.queue.pending, 1)
	assert.Zero(t, f.queue.sessions)
}

func TestIngestionPipeline_RecordGap_WarnsOnThreshold(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	pipeline := &IngestionPipeline{config: PipelineConfig{CounterName: testCounter, GapAlertThreshold: 10}}
	log := zap.New(core)

	pipeline.recordGap(log, 4)
	pipeline.recordGap(log, 4)
	assert.Zero(t, logs.Len())

	pipeline.recordGap(log, 4)
	assert.Equal(t, 1, logs.FilterMessage("Abandoned item ids crossed alert threshold").Len())
	assert.Equal(t, int64(12), pipeline.AbandonedTotal())

	pipeline.recordGap(log, 25)
	assert.Equal(t, 2, logs.FilterMessage("Abandoned item ids crossed alert threshold").Len())
}
