package workers_test

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/voltdesk/dispatch-backend/internal/workers"
)

func TestPoolExecutesTasks(t *testing.T) {
	pool := workers.NewPool(zap.NewNop(), workers.DefaultPoolConfig("test"))
	pool.Start()
	defer pool.Stop()

	var counter int64
	var wg sync.WaitGroup
	const n = 50
	wg.Add(n)
	for i := 0; i < n; i++ {
		err := pool.Submit(workers.TaskFunc(func() error {
			atomic.AddInt64(&counter, 1)
			wg.Done()
			return nil
		}))
		if err != nil {
			t.Fatalf("Submit failed: %v", err)
		}
	}
	wg.Wait()

	if got := atomic.LoadInt64(&counter); got != n {
		t.Errorf("executed %d tasks, want %d", got, n)
	}
	stats := pool.GetStats()
	if stats.Submitted != n {
		t.Errorf("Submitted = %d, want %d", stats.Submitted, n)
	}
}

func TestPoolCountsFailures(t *testing.T) {
	pool := workers.NewPool(zap.NewNop(), workers.DefaultPoolConfig("test"))
	pool.Start()

	var wg sync.WaitGroup
	wg.Add(2)
	pool.Submit(workers.TaskFunc(func() error {
		defer wg.Done()
		return errors.New("boom")
	}))
	pool.Submit(workers.TaskFunc(func() error {
		defer wg.Done()
		return nil
	}))
	wg.Wait()
	pool.Stop()

	stats := pool.GetStats()
	if stats.Failed != 1 {
		t.Errorf("Failed = %d, want 1", stats.Failed)
	}
	if stats.Completed != 1 {
		t.Errorf("Completed = %d, want 1", stats.Completed)
	}
}

func TestPoolRecoversFromPanic(t *testing.T) {
	cfg := workers.DefaultPoolConfig("test")
	cfg.NumWorkers = 2
	pool := workers.NewPool(zap.NewNop(), cfg)
	pool.Start()

	var wg sync.WaitGroup
	wg.Add(2)
	pool.Submit(workers.TaskFunc(func() error {
		defer wg.Done()
		panic("worker must survive this")
	}))
	pool.Submit(workers.TaskFunc(func() error {
		defer wg.Done()
		return nil
	}))
	wg.Wait()
	pool.Stop()

	stats := pool.GetStats()
	if stats.Recovered != 1 {
		t.Errorf("Recovered = %d, want 1", stats.Recovered)
	}
	if stats.Completed != 1 {
		t.Errorf("Completed = %d, want 1", stats.Completed)
	}
}

func TestPoolRejectsSubmitWhenStopped(t *testing.T) {
	pool := workers.NewPool(zap.NewNop(), workers.DefaultPoolConfig("test"))
	pool.Start()
	pool.Stop()

	err := pool.Submit(workers.TaskFunc(func() error { return nil }))
	if err == nil {
		t.Fatal("expected Submit to fail after Stop")
	}
}

func TestPoolStopWaitsForInFlightTask(t *testing.T) {
	cfg := workers.DefaultPoolConfig("test")
	cfg.NumWorkers = 1
	pool := workers.NewPool(zap.NewNop(), cfg)
	pool.Start()

	started := make(chan struct{})
	var finished atomic.Bool
	pool.Submit(workers.TaskFunc(func() error {
		close(started)
		time.Sleep(50 * time.Millisecond)
		finished.Store(true)
		return nil
	}))

	<-started
	pool.Stop()

	if !finished.Load() {
		t.Error("Stop returned before the in-flight task finished")
	}
}
