package harness

import (
	"context"
	"fmt"

	"golang.org/x/sync/semaphore"
)

// DefaultConcurrency is the number of operations admitted at once.
const DefaultConcurrency = 500

// Gate bounds how many operations run at once. One Gate is shared by every
// session of a process so all backends are measured under the same budget.
// Waiters are admitted in arrival order.
type Gate struct {
	limit int
	sem   *semaphore.Weighted
}

// NewGate creates a Gate admitting up to limit concurrent operations.
// A non-positive limit uses DefaultConcurrency.
func NewGate(limit int) *Gate {
	if limit <= 0 {
		limit = DefaultConcurrency
	}

	return &Gate{
		limit: limit,
		sem:   semaphore.NewWeighted(int64(limit)),
	}
}

// Limit returns the configured number of slots.
func (g *Gate) Limit() int {
	return g.limit
}

// Run waits for a free slot, runs op and releases the slot when op returns
// or panics. If ctx is done before a slot frees up, op is not run.
func (g *Gate) Run(ctx context.Context, op func(context.Context) error) error {
	if err := g.sem.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("acquire gate slot: %w", err)
	}
	defer g.sem.Release(1)

	return op(ctx)
}
