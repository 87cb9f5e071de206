package main

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/eugener/fragcache/internal/worker"
)

type slowDeleter struct {
	once     sync.Once
	started  chan struct{}
	finished atomic.Bool
}

func (d *slowDeleter) DeleteExpired(ctx context.Context) (int64, error) {
	d.once.Do(func() { close(d.started) })
	<-ctx.Done()
	time.Sleep(20 * time.Millisecond)
	d.finished.Store(true)
	return 0, ctx.Err()
}

func TestStopWorkers_WaitsForSweep(t *testing.T) {
	t.Parallel()
	del := &slowDeleter{started: make(chan struct{})}
	sweeper := worker.NewExpirySweeper(del, time.Millisecond, nil)

	workerCtx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- worker.NewRunner(sweeper).Run(workerCtx) }()

	select {
	case <-del.started:
	case <-time.After(2 * time.Second):
		t.Fatal("sweep never started")
	}

	ctx, stop := context.WithTimeout(context.Background(), 2*time.Second)
	defer stop()
	if err := stopWorkers(ctx, cancel, done); err != nil {
		t.Fatalf("stopWorkers: %v", err)
	}
	if !del.finished.Load() {
		t.Error("stopWorkers returned while a sweep was still running")
	}
}

func TestStopWorkers_NilChannel(t *testing.T) {
	t.Parallel()
	called := false
	if err := stopWorkers(t.Context(), func() { called = true }, nil); err != nil {
		t.Fatalf("err = %v", err)
	}
	if !called {
		t.Error("cancel was not called")
	}
}

func TestStopWorkers_WorkerError(t *testing.T) {
	t.Parallel()
	errWorker := errors.New("sweep failed")
	done := make(chan error, 1)
	done <- errWorker

	err := stopWorkers(t.Context(), func() {}, done)
	if !errors.Is(err, errWorker) {
		t.Errorf("err = %v, want %v", err, errWorker)
	}
}

func TestStopWorkers_Timeout(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	err := stopWorkers(ctx, func() {}, make(chan error))
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("err = %v, want deadline exceeded", err)
	}
}
