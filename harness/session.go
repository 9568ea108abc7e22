package harness

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/weiihann/kubebench/workload"
)

// DefaultPhaseTimeout bounds a single phase unless configured otherwise.
const DefaultPhaseTimeout = 10 * time.Minute

var (
	// ErrSessionStarted is returned when Run is called more than once.
	ErrSessionStarted = errors.New("session already started")

	// ErrSessionIncomplete is returned when reporting a session that did
	// not finish every phase.
	ErrSessionIncomplete = errors.New("session did not complete")
)

// State is a position in a session's single-pass lifecycle.
type State int

// Session states, in order. StateFailed is terminal and may follow any
// state before StateDeleteDone.
const (
	StateCreated State = iota
	StateInitialized
	StateCreateDone
	StateReadDone
	StateWatchDone
	StateDeleteDone
	StateReported
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateInitialized:
		return "initialized"
	case StateCreateDone:
		return "create-done"
	case StateReadDone:
		return "read-done"
	case StateWatchDone:
		return "watch-done"
	case StateDeleteDone:
		return "delete-done"
	case StateReported:
		return "reported"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Config controls a session.
type Config struct {
	Population workload.Config

	// PhaseTimeout bounds each phase. Zero disables the bound.
	PhaseTimeout time.Duration

	// CleanupOnFailure removes leftover objects through the backend's
	// Cleaner when a phase fails.
	CleanupOnFailure bool
}

// DefaultConfig returns the standard session configuration.
func DefaultConfig() Config {
	return Config{
		Population:   workload.DefaultConfig(),
		PhaseTimeout: DefaultPhaseTimeout,
	}
}

// Option customizes a Session.
type Option func(*Session)

// WithObserver reports measurements to o.
func WithObserver(o Observer) Option {
	return func(s *Session) {
		s.observer = o
	}
}

// WithRunID overrides the generated run identifier.
func WithRunID(id string) Option {
	return func(s *Session) {
		s.runID = id
	}
}

// Session runs every phase once, in order, against one backend.
type Session struct {
	cfg      Config
	backend  Backend
	gate     *Gate
	pop      *workload.Population
	observer Observer
	logger   *slog.Logger
	runID    string

	mu      sync.Mutex
	started bool
	state   State
	results []PhaseResult
}

// NewSession creates a session for backend. gate is shared with every
// other session of the process.
func NewSession(
	cfg Config,
	backend Backend,
	gate *Gate,
	logger *slog.Logger,
	opts ...Option,
) *Session {
	s := &Session{
		cfg:      cfg,
		backend:  backend,
		gate:     gate,
		pop:      workload.NewPopulation(cfg.Population),
		observer: nopObserver{},
		runID:    uuid.NewString(),
		state:    StateCreated,
		results:  make([]PhaseResult, 0, len(Phases())),
	}

	for _, opt := range opts {
		opt(s)
	}

	s.logger = logger.With(
		slog.String("backend", backend.Name()),
		slog.String("run_id", s.runID),
	)

	return s
}

// Backend returns the backend label.
func (s *Session) Backend() string {
	return s.backend.Name()
}

// RunID returns the session's run identifier.
func (s *Session) RunID() string {
	return s.runID
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.state
}

// Results returns a copy of the phase results recorded so far.
func (s *Session) Results() []PhaseResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]PhaseResult, len(s.results))
	copy(out, s.results)

	return out
}

type step struct {
	phase Phase
	run   func(ctx context.Context) (PhaseResult, error)
	done  State
}

// Run initializes the backend and runs create, read, watch and delete.
// On failure the remaining phases are skipped; the results of completed
// phases are returned together with the error.
func (s *Session) Run(ctx context.Context) ([]PhaseResult, error) {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return nil, ErrSessionStarted
	}
	s.started = true
	s.mu.Unlock()

	s.logger.InfoContext(ctx, "running benchmark",
		slog.Int("objects", s.pop.Size()),
		slog.String("namespace", s.pop.Namespace()),
	)

	if err := s.backend.Initialize(ctx); err != nil {
		return s.Results(), s.fail(ctx, "", fmt.Errorf("initialize: %w", err))
	}

	s.setState(StateInitialized)

	steps := []step{
		{phase: PhaseCreate, run: s.create, done: StateCreateDone},
		{phase: PhaseRead, run: s.read, done: StateReadDone},
		{phase: PhaseWatch, run: s.watch, done: StateWatchDone},
		{phase: PhaseDelete, run: s.delete, done: StateDeleteDone},
	}

	for _, st := range steps {
		s.logger.InfoContext(ctx, "starting phase", slog.String("phase", string(st.phase)))

		res, err := s.runStep(ctx, st)
		if err != nil {
			return s.Results(), s.fail(ctx, st.phase, err)
		}

		s.observer.ObservePhase(s.backend.Name(), res)

		s.mu.Lock()
		s.results = append(s.results, res)
		s.state = st.done
		s.mu.Unlock()

		s.logger.InfoContext(ctx, "phase finished",
			slog.String("phase", string(st.phase)),
			slog.Int("objects", res.Items),
			slog.Duration("elapsed", res.Elapsed),
			slog.Float64("obj_per_sec", res.Throughput()),
		)
	}

	return s.Results(), nil
}

// Report marks a completed session as reported and returns its results.
func (s *Session) Report() (SessionResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateDeleteDone && s.state != StateReported {
		return SessionResult{}, fmt.Errorf("%w: %s is %s",
			ErrSessionIncomplete, s.backend.Name(), s.state)
	}

	s.state = StateReported

	results := make([]PhaseResult, len(s.results))
	copy(results, s.results)

	return SessionResult{
		Backend: s.backend.Name(),
		RunID:   s.runID,
		Results: results,
	}, nil
}

func (s *Session) runStep(ctx context.Context, st step) (PhaseResult, error) {
	if s.cfg.PhaseTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.PhaseTimeout)
		defer cancel()
	}

	return st.run(ctx)
}

func (s *Session) create(ctx context.Context) (PhaseResult, error) {
	return s.fanOut(ctx, PhaseCreate, func(ctx context.Context, name string) error {
		_, err := s.backend.Create(ctx, name)
		return err
	})
}

func (s *Session) read(ctx context.Context) (PhaseResult, error) {
	return s.fanOut(ctx, PhaseRead, func(ctx context.Context, name string) error {
		obj, err := s.backend.Get(ctx, name)
		if err != nil {
			return err
		}

		return s.pop.Check(name, obj.Labels)
	})
}

func (s *Session) delete(ctx context.Context) (PhaseResult, error) {
	return s.fanOut(ctx, PhaseDelete, s.backend.Delete)
}

func (s *Session) fanOut(ctx context.Context, phase Phase, op ItemFunc) (PhaseResult, error) {
	return RunPhase(ctx, s.gate, PhaseSpec{
		Backend:  s.backend.Name(),
		Phase:    phase,
		Names:    s.pop.Names(),
		Op:       op,
		Observer: s.observer,
	})
}

func (s *Session) watch(ctx context.Context) (PhaseResult, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	start := time.Now()

	stream, err := s.backend.Watch(ctx)
	if err != nil {
		return PhaseResult{}, fmt.Errorf("open stream: %w", err)
	}

	observed, err := Drain(ctx, stream, s.pop.Names(), s.pop.Check)
	elapsed := time.Since(start)

	if err != nil {
		return PhaseResult{}, err
	}

	return PhaseResult{
		Phase:   PhaseWatch,
		Items:   observed,
		Elapsed: elapsed,
	}, nil
}

func (s *Session) setState(state State) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
}

func (s *Session) fail(ctx context.Context, phase Phase, err error) error {
	s.setState(StateFailed)

	var pe *PhaseError
	if !errors.As(err, &pe) {
		err = &PhaseError{Backend: s.backend.Name(), Phase: phase, Err: err}
	}

	s.logger.ErrorContext(ctx, "benchmark failed",
		slog.String("phase", string(phase)),
		slog.String("error", err.Error()),
	)

	if !s.cfg.CleanupOnFailure {
		return err
	}

	cleaner, ok := s.backend.(Cleaner)
	if !ok {
		s.logger.WarnContext(ctx, "backend cannot clean up, objects may remain")
		return err
	}

	if cerr := cleaner.Cleanup(context.WithoutCancel(ctx)); cerr != nil {
		return errors.Join(err, fmt.Errorf("cleanup after failure: %w", cerr))
	}

	s.logger.InfoContext(ctx, "cleaned up after failure")

	return err
}
