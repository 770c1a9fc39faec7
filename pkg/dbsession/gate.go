package dbsession

import (
	"context"
	"fmt"

	"golang.org/x/sync/semaphore"
)

// gate is the single mutual-exclusion primitive guarding the session table.
// Waiters are served in FIFO order.
type gate struct {
	sem *semaphore.Weighted
}

func newGate() *gate {
	return &gate{sem: semaphore.NewWeighted(1)}
}

// lock blocks until the gate is held or ctx is done.
func (g *gate) lock(ctx context.Context) error {
	if err := g.sem.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("acquiring session gate: %w", err)
	}
	return nil
}

func (g *gate) unlock() {
	g.sem.Release(1)
}
