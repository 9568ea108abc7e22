package harness

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/weiihann/kubebench/workload"
)

var errNotFound = errors.New("not found")

// fakeBackend stores objects in a map. Its watch replays the current store
// in reverse name order and then blocks until cancelled.
type fakeBackend struct {
	namespace string

	mu     sync.Mutex
	labels map[string]map[string]string

	getErr      map[string]error
	watchExtra  []Notification
	closeStream bool
	initErr     error

	inits    atomic.Int32
	cleanups atomic.Int32
	watchers atomic.Int32
}

func newFakeBackend(namespace string) *fakeBackend {
	return &fakeBackend{
		namespace: namespace,
		labels:    make(map[string]map[string]string),
		getErr:    make(map[string]error),
	}
}

func (f *fakeBackend) Name() string { return "fake" }

func (f *fakeBackend) Initialize(context.Context) error {
	f.inits.Add(1)
	return f.initErr
}

func (f *fakeBackend) Create(_ context.Context, name string) (Object, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, ok := f.labels[name]; ok {
		return Object{}, fmt.Errorf("%s already exists", name)
	}

	labels := workload.Labels(f.namespace, name)
	f.labels[name] = labels

	return Object{Name: name, Labels: labels}, nil
}

func (f *fakeBackend) Get(_ context.Context, name string) (Object, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err, ok := f.getErr[name]; ok {
		return Object{}, err
	}

	labels, ok := f.labels[name]
	if !ok {
		return Object{}, fmt.Errorf("get %s: %w", name, errNotFound)
	}

	return Object{Name: name, Labels: labels}, nil
}

func (f *fakeBackend) Delete(_ context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, ok := f.labels[name]; !ok {
		return fmt.Errorf("delete %s: %w", name, errNotFound)
	}
	delete(f.labels, name)

	return nil
}

func (f *fakeBackend) Watch(ctx context.Context) (<-chan Notification, error) {
	f.mu.Lock()
	names := make([]string, 0, len(f.labels))
	for name := range f.labels {
		names = append(names, name)
	}
	snapshot := make(map[string]map[string]string, len(f.labels))
	for name, labels := range f.labels {
		snapshot[name] = labels
	}
	f.mu.Unlock()

	slices.Sort(names)
	slices.Reverse(names)

	f.watchers.Add(1)

	return Bridge(ctx, 0, func(ctx context.Context, emit EmitFunc) error {
		defer f.watchers.Add(-1)

		for _, n := range f.watchExtra {
			if !emit(n) {
				return nil
			}
		}
		for _, name := range names {
			if !emit(Notification{Object: Object{Name: name, Labels: snapshot[name]}}) {
				return nil
			}
		}

		if f.closeStream {
			return nil
		}

		<-ctx.Done()

		return nil
	}), nil
}

func (f *fakeBackend) Cleanup(context.Context) error {
	f.cleanups.Add(1)

	f.mu.Lock()
	defer f.mu.Unlock()

	clear(f.labels)

	return nil
}

func (f *fakeBackend) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return len(f.labels)
}
