package worker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/dnscache"
)

// failingWorker returns err once the sweeper sharing its runner is parked on
// its ticker.
type failingWorker struct {
	clock *clockwork.FakeClock
	err   error
}

func (f *failingWorker) Run(ctx context.Context) error {
	if f.clock != nil {
		if err := f.clock.BlockUntilContext(ctx, 1); err != nil {
			return nil
		}
	}
	return f.err
}

func waitRunner(t *testing.T, done <-chan error) error {
	t.Helper()
	select {
	case err := <-done:
		return err
	case <-time.After(2 * time.Second):
		t.Fatal("runner did not stop")
		return nil
	}
}

func TestRunner_SweeperAndRefresherStopOnCancel(t *testing.T) {
	t.Parallel()
	store := &fakeDeleter{n: 1}
	sweeper, clock := newTestSweeper(store, nil)
	refresher := NewDNSRefresher(&dnscache.Resolver{}, time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- NewRunner(sweeper, refresher).Run(ctx) }()

	if err := clock.BlockUntilContext(ctx, 1); err != nil {
		t.Fatal(err)
	}
	clock.Advance(time.Minute)
	deadline := time.Now().Add(2 * time.Second)
	for store.calls.Load() < 1 {
		if time.Now().After(deadline) {
			t.Fatal("sweep did not run under the runner")
		}
		time.Sleep(5 * time.Millisecond)
	}

	cancel()
	if err := waitRunner(t, done); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestRunner_ErrorStopsSweeper(t *testing.T) {
	t.Parallel()
	store := &fakeDeleter{}
	sweeper, clock := newTestSweeper(store, nil)
	errBroken := errors.New("refresh failed")

	done := make(chan error, 1)
	go func() {
		done <- NewRunner(sweeper, &failingWorker{clock: clock, err: errBroken}).Run(t.Context())
	}()

	if err := waitRunner(t, done); !errors.Is(err, errBroken) {
		t.Errorf("err = %v, want %v", err, errBroken)
	}
	if n := store.calls.Load(); n != 0 {
		t.Errorf("sweeps = %d, want 0", n)
	}
}

func TestRunner_NoWorkers(t *testing.T) {
	t.Parallel()
	if err := NewRunner().Run(t.Context()); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}
