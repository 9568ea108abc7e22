package harness

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weiihann/kubebench/workload"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig(size int) Config {
	return Config{
		Population: workload.Config{
			Size:      size,
			Namespace: testNamespace,
			Prefix:    "client-bench-",
		},
		PhaseTimeout: 5 * time.Second,
	}
}

func TestSessionRun(t *testing.T) {
	backend := newFakeBackend(testNamespace)
	obs := newRecordingObserver()

	s := NewSession(testConfig(10), backend, NewGate(4), testLogger(), WithObserver(obs))
	assert.Equal(t, StateCreated, s.State())

	results, err := s.Run(context.Background())
	require.NoError(t, err)

	require.Len(t, results, 4)
	for i, phase := range Phases() {
		assert.Equal(t, phase, results[i].Phase)
		assert.Equal(t, 10, results[i].Items)
		assert.GreaterOrEqual(t, results[i].Elapsed, time.Duration(0))
	}

	assert.Equal(t, StateDeleteDone, s.State())
	assert.Zero(t, backend.count(), "objects survived the delete phase")
	assert.Equal(t, int32(1), backend.inits.Load())
	assert.Len(t, obs.phases, 4)
	assert.Equal(t, 10, obs.ops[PhaseCreate])
	assert.Equal(t, 10, obs.ops[PhaseRead])
	assert.Equal(t, 10, obs.ops[PhaseDelete])

	// The watch producer is stopped once the drain completes.
	require.Eventually(t, func() bool {
		return backend.watchers.Load() == 0
	}, time.Second, 5*time.Millisecond)

	rep, err := s.Report()
	require.NoError(t, err)
	assert.Equal(t, "fake", rep.Backend)
	assert.Equal(t, s.RunID(), rep.RunID)
	assert.Len(t, rep.Results, 4)
	assert.Equal(t, StateReported, s.State())
}

func TestSessionRunOnce(t *testing.T) {
	s := NewSession(testConfig(2), newFakeBackend(testNamespace), NewGate(1), testLogger())

	_, err := s.Run(context.Background())
	require.NoError(t, err)

	_, err = s.Run(context.Background())
	require.ErrorIs(t, err, ErrSessionStarted)
}

func TestSessionReadFailure(t *testing.T) {
	backend := newFakeBackend(testNamespace)
	names := workload.Names("client-bench-", 10)
	boom := errors.New("server unavailable")
	backend.getErr[names[5]] = boom

	s := NewSession(testConfig(10), backend, NewGate(4), testLogger())

	results, err := s.Run(context.Background())
	require.ErrorIs(t, err, boom)

	var pe *PhaseError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, PhaseRead, pe.Phase)
	assert.Equal(t, names[5], pe.Item)

	require.Len(t, results, 1)
	assert.Equal(t, PhaseCreate, results[0].Phase)
	assert.Equal(t, StateFailed, s.State())

	// Without cleanup-on-failure the created objects are left behind.
	assert.Equal(t, 10, backend.count())
	assert.Zero(t, backend.cleanups.Load())

	_, err = s.Report()
	require.ErrorIs(t, err, ErrSessionIncomplete)
}

func TestSessionCleanupOnFailure(t *testing.T) {
	backend := newFakeBackend(testNamespace)
	backend.getErr[workload.Names("client-bench-", 3)[1]] = errors.New("boom")

	cfg := testConfig(3)
	cfg.CleanupOnFailure = true

	s := NewSession(cfg, backend, NewGate(2), testLogger())

	_, err := s.Run(context.Background())
	require.Error(t, err)
	assert.Equal(t, int32(1), backend.cleanups.Load())
	assert.Zero(t, backend.count())
}

func TestSessionReadLabelMismatch(t *testing.T) {
	backend := newFakeBackend("somewhere-else")

	s := NewSession(testConfig(4), backend, NewGate(2), testLogger())

	results, err := s.Run(context.Background())
	require.ErrorIs(t, err, workload.ErrLabelMismatch)
	assert.Len(t, results, 1)
}

type shortStreamBackend struct {
	*fakeBackend
}

func (b shortStreamBackend) Watch(context.Context) (<-chan Notification, error) {
	return feed(note("client-bench-000000"), note("client-bench-000001")), nil
}

func TestSessionWatchExhausted(t *testing.T) {
	backend := shortStreamBackend{newFakeBackend(testNamespace)}

	s := NewSession(testConfig(5), backend, NewGate(2), testLogger())

	results, err := s.Run(context.Background())
	require.ErrorIs(t, err, ErrStreamExhausted)

	var pe *PhaseError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, PhaseWatch, pe.Phase)
	assert.Len(t, results, 2)
	assert.Equal(t, StateFailed, s.State())
}

type leftoverStreamBackend struct {
	*fakeBackend
}

// Watch reports two population items and a validly labelled object left
// over from an earlier, larger run.
func (b leftoverStreamBackend) Watch(context.Context) (<-chan Notification, error) {
	return feed(
		note("client-bench-000000"),
		note("client-bench-000001"),
		note("client-bench-999999"),
	), nil
}

func TestSessionWatchLeftoverDoesNotCount(t *testing.T) {
	backend := leftoverStreamBackend{newFakeBackend(testNamespace)}

	s := NewSession(testConfig(3), backend, NewGate(2), testLogger())

	results, err := s.Run(context.Background())
	require.ErrorIs(t, err, ErrStreamExhausted)
	assert.Contains(t, err.Error(), "observed 2 of 3")
	assert.Len(t, results, 2)
}

func TestSessionWatchForeignObject(t *testing.T) {
	backend := newFakeBackend(testNamespace)
	backend.watchExtra = []Notification{{Object: Object{
		Name:   "someone-elses",
		Labels: map[string]string{"app": "other"},
	}}}

	s := NewSession(testConfig(3), backend, NewGate(2), testLogger())

	results, err := s.Run(context.Background())
	require.ErrorIs(t, err, workload.ErrLabelMismatch)

	var pe *PhaseError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, PhaseWatch, pe.Phase)
	assert.Len(t, results, 2)
}

func TestSessionInitializeFailure(t *testing.T) {
	backend := newFakeBackend(testNamespace)
	backend.initErr = errors.New("connection refused")

	s := NewSession(testConfig(3), backend, NewGate(2), testLogger())

	results, err := s.Run(context.Background())
	require.ErrorIs(t, err, backend.initErr)
	assert.Empty(t, results)
	assert.Equal(t, StateFailed, s.State())
}

type stallingBackend struct {
	*fakeBackend
}

func (b stallingBackend) Create(ctx context.Context, _ string) (Object, error) {
	<-ctx.Done()
	return Object{}, ctx.Err()
}

func TestSessionPhaseTimeout(t *testing.T) {
	cfg := testConfig(3)
	cfg.PhaseTimeout = 20 * time.Millisecond

	s := NewSession(cfg, stallingBackend{newFakeBackend(testNamespace)}, NewGate(2), testLogger())

	results, err := s.Run(context.Background())
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Empty(t, results)
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "created", StateCreated.String())
	assert.Equal(t, "watch-done", StateWatchDone.String())
	assert.Equal(t, "failed", StateFailed.String())
	assert.Equal(t, "unknown", State(42).String())
}
