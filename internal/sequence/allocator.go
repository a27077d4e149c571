package sequence

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
)

var (
	// ErrInvalidCount is returned when a non-positive range size is requested.
	ErrInvalidCount = errors.New("sequence: count must be positive")

	// ErrCounterUnavailable wraps any failure of the backing counter store.
	ErrCounterUnavailable = errors.New("sequence: counter store unavailable")
)

// CounterStore performs an atomic increment-and-fetch on a named counter.
// A missing counter starts at zero. Implementations must never read and
// write in separate steps.
type CounterStore interface {
	Increment(ctx context.Context, name string, by int64) (int64, error)
}

// Range is a contiguous, inclusive block of reserved sequence numbers.
type Range struct {
	First int64 `json:"first"`
	Last  int64 `json:"last"`
}

// Len returns the number of values in the range.
func (r Range) Len() int {
	if r.Last < r.First {
		return 0
	}
	return int(r.Last - r.First + 1)
}

// At returns the i-th (zero based) value of the range.
func (r Range) At(i int) int64 {
	return r.First + int64(i)
}

// Allocator reserves ranges of sequence numbers from a CounterStore
type Allocator struct {
	store CounterStore
	log   *zap.Logger
}

// NewAllocator creates a new sequence allocator
func NewAllocator(store CounterStore, log *zap.Logger) *Allocator {
	return &Allocator{
		store: store,
		log:   log,
	}
}

// Allocate reserves count consecutive numbers on the named counter with a
// single atomic increment. The returned range is [last-count+1, last].
func (a *Allocator) Allocate(ctx context.Context, name string, count int) (Range, error) {
	if count <= 0 {
		return Range{}, fmt.Errorf("%w: got %d", ErrInvalidCount, count)
	}

	last, err := a.store.Increment(ctx, name, int64(count))
	if err != nil {
		a.log.Error("Failed to increment sequence counter",
			zap.String("counter", name),
			zap.Int("count", count),
			zap.Error(err))
		return Range{}, fmt.Errorf("%w: %w", ErrCounterUnavailable, err)
	}

	r := Range{First: last - int64(count) + 1, Last: last}

	a.log.Debug("Allocated sequence range",
		zap.String("counter", name),
		zap.Int64("first", r.First),
		zap.Int64("last", r.Last))

	return r, nil
}
