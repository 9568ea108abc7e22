package harness

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weiihann/kubebench/workload"
)

const testNamespace = "bench"

func check(name string, labels map[string]string) error {
	return workload.CheckLabels(testNamespace, name, labels)
}

func note(name string) Notification {
	return Notification{Object: Object{
		Name:   name,
		Labels: workload.Labels(testNamespace, name),
	}}
}

func feed(ns ...Notification) <-chan Notification {
	ch := make(chan Notification, len(ns))
	for _, n := range ns {
		ch <- n
	}
	close(ch)

	return ch
}

func TestDrainStopsAtExpected(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	var emitted int
	stream := Bridge(ctx, 1, func(ctx context.Context, emit EmitFunc) error {
		for i := 0; ; i++ {
			if !emit(note(fmt.Sprintf("item-%06d", i))) {
				return nil
			}
			emitted++
		}
	})

	got, err := Drain(ctx, stream, workload.Names("item-", 25), check)
	require.NoError(t, err)
	assert.Equal(t, 25, got)

	cancel()

	select {
	case <-drained(stream):
	case <-time.After(time.Second):
		t.Fatal("producer kept running after cancellation")
	}
	assert.GreaterOrEqual(t, emitted, 25)
}

func drained(stream <-chan Notification) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		for range stream {
		}
		close(done)
	}()

	return done
}

func TestDrainExhausted(t *testing.T) {
	stream := feed(note("a"), note("b"), note("c"))

	got, err := Drain(context.Background(), stream, []string{"a", "b", "c", "d"}, check)
	require.ErrorIs(t, err, ErrStreamExhausted)
	assert.Equal(t, 3, got)
}

func TestDrainExactlyEnough(t *testing.T) {
	stream := feed(note("c"), note("a"), note("b"))

	got, err := Drain(context.Background(), stream, []string{"a", "b", "c"}, check)
	require.NoError(t, err)
	assert.Equal(t, 3, got)
}

func TestDrainDuplicatesCountedOnce(t *testing.T) {
	stream := feed(note("a"), note("a"), note("b"), note("a"))

	got, err := Drain(context.Background(), stream, []string{"a", "b", "c"}, check)
	require.ErrorIs(t, err, ErrStreamExhausted)
	assert.Equal(t, 2, got)
}

func TestDrainIgnoresNamesOutsideWant(t *testing.T) {
	names := workload.Names("client-bench-", 3)
	stream := feed(note(names[0]), note(names[1]), note("client-bench-999999"))

	got, err := Drain(context.Background(), stream, names, check)
	require.ErrorIs(t, err, ErrStreamExhausted)
	assert.Equal(t, 2, got)
}

func TestDrainSkipsLeftoverAmongItems(t *testing.T) {
	names := workload.Names("client-bench-", 3)
	stream := feed(
		note("client-bench-999999"),
		note(names[0]),
		note(names[1]),
		note(names[2]),
	)

	got, err := Drain(context.Background(), stream, names, check)
	require.NoError(t, err)
	assert.Equal(t, 3, got)
}

func TestDrainLeftoverLabelsStillChecked(t *testing.T) {
	leftover := Notification{Object: Object{
		Name:   "client-bench-999999",
		Labels: workload.Labels("other", "client-bench-999999"),
	}}
	stream := feed(leftover)

	_, err := Drain(context.Background(), stream, workload.Names("client-bench-", 1), check)
	require.ErrorIs(t, err, workload.ErrLabelMismatch)
}

func TestDrainLabelMismatch(t *testing.T) {
	bad := Notification{Object: Object{
		Name:   "b",
		Labels: workload.Labels("other", "b"),
	}}
	stream := feed(note("a"), bad, note("c"))

	_, err := Drain(context.Background(), stream, []string{"a", "b", "c"}, check)
	require.ErrorIs(t, err, workload.ErrLabelMismatch)
}

func TestDrainNotificationError(t *testing.T) {
	boom := errors.New("watch expired")
	stream := feed(note("a"), Notification{Err: boom})

	_, err := Drain(context.Background(), stream, []string{"a", "b"}, check)
	require.ErrorIs(t, err, boom)
}

func TestDrainCancelled(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	stream := make(chan Notification)

	_, err := Drain(ctx, stream, []string{"a"}, check)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestDrainNothingExpected(t *testing.T) {
	got, err := Drain(context.Background(), make(chan Notification), nil, check)
	require.NoError(t, err)
	assert.Zero(t, got)
}

func TestBridgeDeliversProducerError(t *testing.T) {
	boom := errors.New("producer failed")

	stream := Bridge(context.Background(), 0, func(_ context.Context, emit EmitFunc) error {
		emit(note("a"))
		return boom
	})

	first := <-stream
	assert.Equal(t, "a", first.Object.Name)

	second := <-stream
	require.ErrorIs(t, second.Err, boom)

	_, ok := <-stream
	assert.False(t, ok, "stream not closed after producer returned")
}
