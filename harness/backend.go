package harness

import (
	"context"
	"time"
)

// Object is the part of a stored resource the harness inspects.
type Object struct {
	Name   string
	Labels map[string]string
}

// Notification is one item of a change stream. A non-nil Err ends the
// stream's usefulness: the drainer treats it as fatal.
type Notification struct {
	Object Object
	Err    error
}

// Backend is the capability set a client library adapter implements.
type Backend interface {
	// Name is the label the backend is reported under.
	Name() string

	// Initialize establishes connection state. It fails if the API
	// cannot be reached.
	Initialize(ctx context.Context) error

	// Create creates the named object tagged with its identifying labels.
	Create(ctx context.Context, name string) (Object, error)

	// Get fetches the named object.
	Get(ctx context.Context, name string) (Object, error)

	// Delete deletes the named object.
	Delete(ctx context.Context, name string) error

	// Watch opens a change stream over every object in the namespace.
	// The channel is closed when the stream ends or ctx is cancelled.
	Watch(ctx context.Context) (<-chan Notification, error)
}

// Cleaner is implemented by backends that can remove every benchmark object
// they may have left behind.
type Cleaner interface {
	Cleanup(ctx context.Context) error
}

// Observer receives per-operation and per-phase measurements.
type Observer interface {
	ObserveOperation(backend string, phase Phase, d time.Duration, err error)
	ObservePhase(backend string, result PhaseResult)
}

type nopObserver struct{}

func (nopObserver) ObserveOperation(string, Phase, time.Duration, error) {}
func (nopObserver) ObservePhase(string, PhaseResult)                     {}
