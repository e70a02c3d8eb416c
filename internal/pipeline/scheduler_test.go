package pipeline

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

type countTicker struct {
	n     atomic.Int32
	block chan struct{}
}

func (c *countTicker) Tick(ctx context.Context) error {
	c.n.Add(1)
	if c.block != nil {
		select {
		case <-c.block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func TestSchedulerRunsFirstTickImmediately(t *testing.T) {
	ticker := &countTicker{}
	s, err := NewScheduler(time.Hour, time.UTC, ticker)
	if err != nil {
		t.Fatalf("NewScheduler: %v", err)
	}
	s.Start(context.Background())

	deadline := time.Now().Add(2 * time.Second)
	for ticker.n.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if ticker.n.Load() != 1 {
		t.Fatalf("ticks = %d, want 1", ticker.n.Load())
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := s.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if err := s.Stop(ctx); err != nil {
		t.Fatalf("second Stop: %v", err)
	}
}

func TestSchedulerStopTimesOutOnStuckTick(t *testing.T) {
	ticker := &countTicker{block: make(chan struct{})}
	defer close(ticker.block)
	s, err := NewScheduler(time.Hour, time.UTC, ticker)
	if err != nil {
		t.Fatalf("NewScheduler: %v", err)
	}
	s.Start(context.Background())
	for ticker.n.Load() == 0 {
		time.Sleep(10 * time.Millisecond)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := s.Stop(ctx); err != context.DeadlineExceeded {
		t.Fatalf("Stop error = %v, want deadline exceeded", err)
	}
}

func TestSchedulerStopWaitsForFirstTick(t *testing.T) {
	ticker := &countTicker{block: make(chan struct{})}
	s, err := NewScheduler(time.Hour, time.UTC, ticker)
	if err != nil {
		t.Fatalf("NewScheduler: %v", err)
	}
	s.Start(context.Background())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	stopped := make(chan error, 1)
	go func() { stopped <- s.Stop(ctx) }()

	select {
	case err := <-stopped:
		t.Fatalf("Stop returned %v before the first tick finished", err)
	case <-time.After(100 * time.Millisecond):
	}

	close(ticker.block)
	select {
	case err := <-stopped:
		if err != nil {
			t.Fatalf("Stop: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return after the tick finished")
	}
	if ticker.n.Load() != 1 {
		t.Fatalf("ticks = %d, want 1", ticker.n.Load())
	}
}

func TestNewSchedulerRejectsShortInterval(t *testing.T) {
	if _, err := NewScheduler(100*time.Millisecond, time.UTC, &countTicker{}); err == nil {
		t.Fatalf("expected error for sub-second interval")
	}
}
