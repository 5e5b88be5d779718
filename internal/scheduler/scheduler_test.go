package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

type countingUpdater struct {
	calls  atomic.Int32
	forced atomic.Bool
	err    error
}

func (u *countingUpdater) Update(ctx context.Context, force bool) error {
	u.calls.Add(1)
	if force {
		u.forced.Store(true)
	}
	return u.err
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met before deadline")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestScheduler_Start(t *testing.T) {
	u := &countingUpdater{err: errors.New("upstream down")}
	s := New(u, 20*time.Millisecond, zerolog.Nop())

	if s.IsRunning() {
		t.Error("IsRunning() = true before Start")
	}
	if !s.NextRunAt().IsZero() {
		t.Error("NextRunAt() is set before Start")
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Start(ctx) }()

	waitFor(t, func() bool { return u.calls.Load() >= 2 })
	if !s.IsRunning() {
		t.Error("IsRunning() = false while started")
	}
	if s.LastRunAt() == nil {
		t.Error("LastRunAt() = nil after a run")
	}

	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Start() error = %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Start() did not return after cancel")
	}

	if s.IsRunning() {
		t.Error("IsRunning() = true after stop")
	}
	if u.forced.Load() {
		t.Error("scheduled updates must not be forced")
	}
}

func TestNew_DefaultTick(t *testing.T) {
	s := New(&countingUpdater{}, 0, zerolog.Nop())
	if s.tick != DefaultTick {
		t.Errorf("tick = %v, want %v", s.tick, DefaultTick)
	}
}
