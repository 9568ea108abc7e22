package backend

import (
	"context"
	"log/slog"
	"maps"
	"slices"
	"strings"
	"sync"
	"time"

	apierrors "k8s.io/apimachinery/pkg/api/errors"

	"github.com/weiihann/kubebench/harness"
	"github.com/weiihann/kubebench/workload"
)

// Memory is an in-process backend. It answers with the same error types as
// the API server and replays existing objects to new watchers, which makes it
// a baseline for the harness's own overhead and a stand-in when no cluster is
// available.
type Memory struct {
	opts    Options
	latency time.Duration
	logger  *slog.Logger

	mu      sync.Mutex
	objects map[string]map[string]string
	subs    map[*subscriber]struct{}
}

type subscriber struct {
	ch   chan harness.Object
	done <-chan struct{}
}

// NewMemory creates an empty Memory backend.
func NewMemory(opts Options) *Memory {
	return &Memory{
		opts:    opts,
		latency: opts.MemoryLatency,
		logger:  opts.logger(NameMemory),
		objects: make(map[string]map[string]string),
		subs:    make(map[*subscriber]struct{}),
	}
}

// Name implements harness.Backend.
func (m *Memory) Name() string {
	return NameMemory
}

// Initialize implements harness.Backend.
func (m *Memory) Initialize(ctx context.Context) error {
	m.logger.DebugContext(ctx, "memory backend ready", slog.Duration("latency", m.latency))

	return nil
}

// Create implements harness.Backend.
func (m *Memory) Create(ctx context.Context, name string) (harness.Object, error) {
	if err := m.wait(ctx); err != nil {
		return harness.Object{}, err
	}

	m.mu.Lock()
	if _, ok := m.objects[name]; ok {
		m.mu.Unlock()
		return harness.Object{}, apierrors.NewAlreadyExists(deploymentsGVR.GroupResource(), name)
	}

	labels := workload.Labels(m.opts.Namespace, name)
	m.objects[name] = labels
	subs := slices.Collect(maps.Keys(m.subs))
	m.mu.Unlock()

	obj := harness.Object{Name: name, Labels: maps.Clone(labels)}
	for _, s := range subs {
		select {
		case s.ch <- obj:
		case <-s.done:
		}
	}

	return obj, nil
}

// Get implements harness.Backend.
func (m *Memory) Get(ctx context.Context, name string) (harness.Object, error) {
	if err := m.wait(ctx); err != nil {
		return harness.Object{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	labels, ok := m.objects[name]
	if !ok {
		return harness.Object{}, apierrors.NewNotFound(deploymentsGVR.GroupResource(), name)
	}

	return harness.Object{Name: name, Labels: maps.Clone(labels)}, nil
}

// Delete implements harness.Backend.
func (m *Memory) Delete(ctx context.Context, name string) error {
	if err := m.wait(ctx); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.objects[name]; !ok {
		return apierrors.NewNotFound(deploymentsGVR.GroupResource(), name)
	}
	delete(m.objects, name)

	return nil
}

// Watch implements harness.Backend. Existing objects are delivered first,
// in name order, followed by objects created afterwards.
func (m *Memory) Watch(ctx context.Context) (<-chan harness.Notification, error) {
	sub := &subscriber{
		ch:   make(chan harness.Object),
		done: ctx.Done(),
	}

	m.mu.Lock()
	existing := make([]harness.Object, 0, len(m.objects))
	for _, name := range slices.Sorted(maps.Keys(m.objects)) {
		existing = append(existing, harness.Object{Name: name, Labels: maps.Clone(m.objects[name])})
	}
	m.subs[sub] = struct{}{}
	m.mu.Unlock()

	return harness.Bridge(ctx, m.opts.StreamBuffer, func(ctx context.Context, emit harness.EmitFunc) error {
		defer func() {
			m.mu.Lock()
			delete(m.subs, sub)
			m.mu.Unlock()
		}()

		for _, obj := range existing {
			if !emit(harness.Notification{Object: obj}) {
				return nil
			}
		}

		for {
			select {
			case <-ctx.Done():
				return nil
			case obj := <-sub.ch:
				if !emit(harness.Notification{Object: obj}) {
					return nil
				}
			}
		}
	}), nil
}

// Cleanup implements harness.Cleaner.
func (m *Memory) Cleanup(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for name := range m.objects {
		if strings.HasPrefix(name, m.opts.Prefix) {
			delete(m.objects, name)
		}
	}

	return nil
}

// Len returns the number of stored objects.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return len(m.objects)
}

func (m *Memory) wait(ctx context.Context) error {
	if m.latency <= 0 {
		return ctx.Err()
	}

	t := time.NewTimer(m.latency)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
