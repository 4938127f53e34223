package gateway

import (
	"context"
	"errors"
)

// ErrPoolSaturated is returned when no worker frees up before the caller's
// context is done.
var ErrPoolSaturated = errors.New("worker pool saturated")

// WorkerPool bounds the number of conversation turns running at once.
//
// Thread Safety:
// WorkerPool is safe for concurrent use.
type WorkerPool struct {
	slots chan struct{}
}

// NewWorkerPool creates a pool with size slots (minimum 1).
func NewWorkerPool(size int) *WorkerPool {
	if size < 1 {
		size = 1
	}
	return &WorkerPool{slots: make(chan struct{}, size)}
}

// Do runs fn once a slot is free. Waiting stops when ctx is done, in which
// case fn is not run and ErrPoolSaturated wraps the context error.
func (p *WorkerPool) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return errors.Join(ErrPoolSaturated, err)
	}
	select {
	case p.slots <- struct{}{}:
	case <-ctx.Done():
		return errors.Join(ErrPoolSaturated, ctx.Err())
	}
	defer func() { <-p.slots }()
	return fn(ctx)
}

// Size returns the number of slots.
func (p *WorkerPool) Size() int {
	return cap(p.slots)
}

// InUse returns the number of occupied slots.
func (p *WorkerPool) InUse() int {
	return len(p.slots)
}
