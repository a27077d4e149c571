package consumer

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/pasthortown/message-sender/internal/queue"
)

func validBody(email string) string {
	return fmt.Sprintf(`{"email":%q,"zona":1,"estado":"online","timestamp":"2024-05-01T10:00:00Z"}`, email)
}

func TestBatchCollector_Collect_RejectsMalformed(t *testing.T) {
	q := newFakeQueue(
		validBody("a@example.com"),
		`{invalid json}`,
		validBody("b@example.com"),
		validBody("c@example.com"),
	)
	collector := NewBatchCollector(NewJSONActivityParser(), CollectorConfig{DrainCap: 100}, zap.NewNop())

	session, err := q.Open(context.Background())
	require.NoError(t, err)

	collection, err := collector.Collect(context.Background(), session)

	require.NoError(t, err)
	assert.Equal(t, 4, collection.Received)
	assert.Equal(t, 1, collection.Rejected)
	require.Len(t, collection.Envelopes, 3)
	assert.Equal(t, "a@example.com", collection.Envelopes[0].Event.Email)
	assert.Equal(t, "b@example.com", collection.Envelopes[1].Event.Email)
	assert.Equal(t, "c@example.com", collection.Envelopes[2].Event.Email)

	assert.True(t, q.handles[1].nacked)
	assert.False(t, q.handles[1].requeued)
	assert.Empty(t, q.pending)
}

func TestBatchCollector_Collect_StopsAtDrainCap(t *testing.T) {
	session := new(MockSession)
	collector := NewBatchCollector(NewJSONActivityParser(), CollectorConfig{DrainCap: 5, ReceiveChunk: 2}, zap.NewNop())

	chunk := func(n int) []queue.Message {
		messages := make([]queue.Message, n)
		for i := range messages {
			messages[i] = queue.Message{ID: fmt.Sprintf("msg-%d", i), Body: []byte(validBody("a@example.com"))}
		}
		return messages
	}

	session.On("Receive", mock.Anything, 2).Return(chunk(2), nil).Twice()
	session.On("Receive", mock.Anything, 1).Return(chunk(1), nil).Once()

	collection, err := collector.Collect(context.Background(), session)

	require.NoError(t, err)
	assert.Equal(t, 5, collection.Received)
	assert.Len(t, collection.Envelopes, 5)
	session.AssertExpectations(t)
}

func TestBatchCollector_Collect_EmptyQueue(t *testing.T) {
	session := new(MockSession)
	collector := NewBatchCollector(NewJSONActivityParser(), CollectorConfig{DrainCap: 10000, ReceiveChunk: 1000}, zap.NewNop())

	session.On("Receive", mock.Anything, 1000).Return([]queue.Message(nil), nil).Once()

	collection, err := collector.Collect(context.Background(), session)

	require.NoError(t, err)
	assert.Zero(t, collection.Received)
	assert.Empty(t, collection.Envelopes)
	session.AssertExpectations(t)
}

func TestBatchCollector_Collect_ReceiveError(t *testing.T) {
	session := new(MockSession)
	collector := NewBatchCollector(NewJSONActivityParser(), CollectorConfig{DrainCap: 10, ReceiveChunk: 2}, zap.NewNop())

	first := []queue.Message{
		{ID: "msg-1", Body: []byte(validBody("a@example.com"))},
		{ID: "msg-2", Body: []byte(validBody("b@example.com"))},
	}
	receiveErr := errors.New("connection reset")

	session.On("Receive", mock.Anything, 2).Return(first, nil).Once()
	session.On("Receive", mock.Anything, 2).Return([]queue.Message(nil), receiveErr).Once()

	collection, err := collector.Collect(context.Background(), session)

	assert.ErrorIs(t, err, receiveErr)
	assert.Len(t, collection.Envelopes, 2)
	session.AssertExpectations(t)
}

func TestBatchCollector_Collect_RejectFailureStillDropsMessage(t *testing.T) {
	session := new(MockSession)
	handle := new(MockHandle)
	collector := NewBatchCollector(NewJSONActivityParser(), CollectorConfig{DrainCap: 10}, zap.NewNop())

	session.On("Receive", mock.Anything, 10).Return([]queue.Message{
		{ID: "msg-1", Body: []byte(`not json`), Handle: handle},
	}, nil).Once()
	handle.On("Nack", mock.Anything, false).Return(errors.New("channel closed")).Once()

	collection, err := collector.Collect(context.Background(), session)

	require.NoError(t, err)
	assert.Equal(t, 1, collection.Received)
	assert.Equal(t, 1, collection.Rejected)
	assert.Empty(t, collection.Envelopes)
	handle.AssertExpectations(t)
}
