package backend

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/sync/errgroup"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/apimachinery/pkg/api/meta"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/apimachinery/pkg/watch"

	"github.com/weiihann/kubebench/harness"
)

const cleanupConcurrency = 64

// streamWatch opens a watch and forwards its added and modified objects
// through a harness bridge. The watch is stopped when ctx is cancelled or
// the consumer goes away.
func streamWatch(
	ctx context.Context,
	buffer int,
	open func(ctx context.Context) (watch.Interface, error),
) (<-chan harness.Notification, error) {
	w, err := open(ctx)
	if err != nil {
		return nil, fmt.Errorf("open watch: %w", err)
	}

	return harness.Bridge(ctx, buffer, func(ctx context.Context, emit harness.EmitFunc) error {
		defer w.Stop()

		for {
			select {
			case <-ctx.Done():
				return nil

			case ev, ok := <-w.ResultChan():
				if !ok {
					return nil
				}

				switch ev.Type {
				case watch.Error:
					return fmt.Errorf("watch: %w", apierrors.FromObject(ev.Object))
				case watch.Bookmark, watch.Deleted:
					continue
				}

				obj, err := objectFromRuntime(ev.Object)
				if err != nil {
					return err
				}

				if !emit(harness.Notification{Object: obj}) {
					return nil
				}
			}
		}
	}), nil
}

func objectFromRuntime(o runtime.Object) (harness.Object, error) {
	m, err := meta.Accessor(o)
	if err != nil {
		return harness.Object{}, fmt.Errorf("object metadata: %w", err)
	}

	return objectOf(m), nil
}

// deletePrefixed deletes every listed name that carries prefix.
func deletePrefixed(
	ctx context.Context,
	prefix string,
	names []string,
	del func(ctx context.Context, name string) error,
) error {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(cleanupConcurrency)

	for _, name := range names {
		if !strings.HasPrefix(name, prefix) {
			continue
		}

		g.Go(func() error {
			err := del(ctx, name)
			if apierrors.IsNotFound(err) {
				return nil
			}
			if err != nil {
				return fmt.Errorf("delete %s: %w", name, err)
			}

			return nil
		})
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	return nil
}
