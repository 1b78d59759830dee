package ingest

import (
	"context"
	"io"
)

// Sequence yields values one at a time and returns io.EOF once exhausted.
type Sequence[T any] interface {
	Next(ctx context.Context) (T, error)
}

// Batcher groups a sequence into ordered chunks of a fixed size. The last
// chunk may be shorter; an empty chunk is never returned.
type Batcher[T any] struct {
	seq  Sequence[T]
	size int
	done bool
}

// NewBatcher creates a batcher over seq. size must be positive.
func NewBatcher[T any](seq Sequence[T], size int) *Batcher[T] {
	if size <= 0 {
		size = 1
	}
	return &Batcher[T]{seq: seq, size: size}
}

// Next returns the next chunk, or io.EOF once the sequence is exhausted.
// Errors other than io.EOF are returned as they come and drop the values
// collected for the current chunk.
func (b *Batcher[T]) Next(ctx context.Context) ([]T, error) {
	if b.done {
		return nil, io.EOF
	}

	chunk := make([]T, 0, b.size)
	for len(chunk) < b.size {
		value, err := b.seq.Next(ctx)
		if err == io.EOF {
			b.done = true
			break
		}
		if err != nil {
			return nil, err
		}
		chunk = append(chunk, value)
	}

	if len(chunk) == 0 {
		return nil, io.EOF
	}
	return chunk, nil
}
