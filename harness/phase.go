package harness

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"
)

// PhaseError reports the failure that aborted a phase.
type PhaseError struct {
	Backend string
	Phase   Phase
	Item    string
	Err     error
}

func (e *PhaseError) Error() string {
	if e.Item == "" {
		return fmt.Sprintf("%s %s: %v", e.Backend, e.Phase, e.Err)
	}

	return fmt.Sprintf("%s %s %s: %v", e.Backend, e.Phase, e.Item, e.Err)
}

func (e *PhaseError) Unwrap() error {
	return e.Err
}

// ItemFunc performs one phase operation on a named item.
type ItemFunc func(ctx context.Context, name string) error

// PhaseSpec describes one fan-out phase.
type PhaseSpec struct {
	Backend  string
	Phase    Phase
	Names    []string
	Op       ItemFunc
	Observer Observer
}

// RunPhase submits spec.Op for every name through gate and waits for all of
// them. The first failure cancels operations still waiting for a slot and is
// returned once every submitted operation has finished. Elapsed time spans
// the first submission to the last completion.
func RunPhase(ctx context.Context, gate *Gate, spec PhaseSpec) (PhaseResult, error) {
	obs := spec.Observer
	if obs == nil {
		obs = nopObserver{}
	}

	g, gctx := errgroup.WithContext(ctx)

	start := time.Now()

	for _, name := range spec.Names {
		g.Go(func() error {
			return gate.Run(gctx, func(ctx context.Context) error {
				opStart := time.Now()
				err := spec.Op(ctx, name)
				obs.ObserveOperation(spec.Backend, spec.Phase, time.Since(opStart), err)

				if err != nil {
					return &PhaseError{
						Backend: spec.Backend,
						Phase:   spec.Phase,
						Item:    name,
						Err:     err,
					}
				}

				return nil
			})
		})
	}

	err := g.Wait()
	elapsed := time.Since(start)

	if err != nil {
		return PhaseResult{}, err
	}

	return PhaseResult{
		Phase:   spec.Phase,
		Items:   len(spec.Names),
		Elapsed: elapsed,
	}, nil
}
