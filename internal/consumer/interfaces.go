package consumer

import (
	"context"

	"github.com/pasthortown/message-sender/internal/domain"
	"github.com/pasthortown/message-sender/internal/sequence"
)

// MessageParser defines the interface for parsing raw message bytes into activity events
type MessageParser interface {
	Parse(body []byte) (*domain.ActivityEvent, error)
}

// SequenceAllocator reserves a contiguous range of item ids
type SequenceAllocator interface {
	Allocate(ctx context.Context, name string, count int) (sequence.Range, error)
}
