package consumer

import (
	"context"
	"fmt"
	"sync"

	"github.com/stretchr/testify/mock"

	"github.com/pasthortown/message-sender/internal/domain"
	"github.com/pasthortown/message-sender/internal/queue"
	"github.com/pasthortown/message-sender/internal/repository"
	"github.com/pasthortown/message-sender/internal/sequence"
)

// MockHandle is a mock implementation of queue.Handle
type MockHandle struct {
	mock.Mock
}

func (m *MockHandle) Ack(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *MockHandle) Nack(ctx context.Context, requeue bool) error {
	args := m.Called(ctx, requeue)
	return args.Error(0)
}

// MockSession is a mock implementation of queue.Session
type MockSession struct {
	mock.Mock
}

func (m *MockSession) Receive(ctx context.Context, max int) ([]queue.Message, error) {
	args := m.Called(ctx, max)
	messages, _ := args.Get(0).([]queue.Message)
	return messages, args.Error(1)
}

func (m *MockSession) Close() error {
	args := m.Called()
	return args.Error(0)
}

// MockRecordRepository is a mock implementation of repository.RecordRepository
type MockRecordRepository struct {
	mock.Mock
}

func (m *MockRecordRepository) InsertBatch(ctx context.Context, records []*domain.ActivityRecord) (repository.InsertResult, error) {
	args := m.Called(ctx, records)
	return args.Get(0).(repository.InsertResult), args.Error(1)
}

func (m *MockRecordRepository) LastActivity(ctx context.Context) ([]domain.IdentityActivity, error) {
	args := m.Called(ctx)
	activities, _ := args.Get(0).([]domain.IdentityActivity)
	return activities, args.Error(1)
}

func (m *MockRecordRepository) InitSchema(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *MockRecordRepository) Ping(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

// MockAllocator is a mock implementation of SequenceAllocator
type MockAllocator struct {
	mock.Mock
}

func (m *MockAllocator) Allocate(ctx context.Context, name string, count int) (sequence.Range, error) {
	args := m.Called(ctx, name, count)
	return args.Get(0).(sequence.Range), args.Error(1)
}

// fakeHandle records how a delivery was settled.
type fakeHandle struct {
	id       string
	queue    *fakeQueue
	acked    bool
	nacked   bool
	requeued bool
}

func (h *fakeHandle) Ack(context.Context) error {
	h.acked = true
	return nil
}

func (h *fakeHandle) Nack(_ context.Context, requeue bool) error {
	h.nacked = true
	h.requeued = requeue
	if requeue {
		h.queue.requeue(h.id)
	}
	return nil
}

// fakeQueue is an in-memory broker: nacked-with-requeue bodies go back to the tail.
type fakeQueue struct {
	mu       sync.Mutex
	bodies   map[string][]byte
	pending  []string
	handles  []*fakeHandle
	seq      int
	openErr  error
	sessions int
	closed   int
}

func newFakeQueue(bodies ...string) *fakeQueue {
	q := &fakeQueue{bodies: map[string][]byte{}}
	for _, b := range bodies {
		q.push([]byte(b))
	}
	return q
}

func (q *fakeQueue) push(body []byte) {
	q.seq++
	id := fmt.Sprintf("msg-%d", q.seq)
	q.bodies[id] = body
	q.pending = append(q.pending, id)
}

func (q *fakeQueue) requeue(id string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.pending = append(q.pending, id)
}

func (q *fakeQueue) Open(context.Context) (queue.Session, error) {
	if q.openErr != nil {
		return nil, q.openErr
	}
	q.sessions++
	return &fakeSession{queue: q}, nil
}

func (q *fakeQueue) Ping(context.Context) error {
	return q.openErr
}

type fakeSession struct {
	queue *fakeQueue
}

func (s *fakeSession) Receive(_ context.Context, max int) ([]queue.Message, error) {
	s.queue.mu.Lock()
	defer s.queue.mu.Unlock()

	n := min(max, len(s.queue.pending))
	var messages []queue.Message
	for _, id := range s.queue.pending[:n] {
		h := &fakeHandle{id: id, queue: s.queue}
		s.queue.handles = append(s.queue.handles, h)
		messages = append(messages, queue.Message{ID: id, Body: s.queue.bodies[id], Handle: h})
	}
	s.queue.pending = s.queue.pending[n:]
	return messages, nil
}

func (s *fakeSession) Close() error {
	s.queue.closed++
	return nil
}

func (q *fakeQueue) count(pred func(*fakeHandle) bool) int {
	n := 0
	for _, h := range q.handles {
		if pred(h) {
			n++
		}
	}
	return n
}

// memoryCounters is an in-process sequence.CounterStore.
type memoryCounters struct {
	values map[string]int64
	err    error
}

func (c *memoryCounters) Increment(_ context.Context, name string, by int64) (int64, error) {
	if c.err != nil {
		return 0, c.err
	}
	c.values[name] += by
	return c.values[name], nil
}

// memoryRecords is an in-process RecordRepository that can fail a number of inserts.
type memoryRecords struct {
	records  []*domain.ActivityRecord
	failures int
	err      error
}

func (r *memoryRecords) InsertBatch(_ context.Context, records []*domain.ActivityRecord) (repository.InsertResult, error) {
	if r.failures > 0 {
		r.failures--
		return repository.InsertResult{}, r.err
	}
	r.records = append(r.records, records...)
	return repository.InsertResult{Inserted: len(records)}, nil
}

func (r *memoryRecords) LastActivity(context.Context) ([]domain.IdentityActivity, error) {
	return nil, nil
}

func (r *memoryRecords) InitSchema(context.Context) error { return nil }

func (r *memoryRecords) Ping(context.Context) error { return nil }
