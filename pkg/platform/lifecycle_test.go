package platform

import (
	"context"
	"errors"
	"testing"
)

func TestLifecycle_StartAndStop(t *testing.T) {
	lc := NewLifecycle()

	var started, stopped bool
	lc.Append(Hook{
		Name:  "component",
		Start: func(context.Context) error { started = true; return nil },
		Stop:  func(context.Context) error { stopped = true; return nil },
	})

	if err := lc.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if !started {
		t.Error("start callback not called")
	}
	if !lc.IsStarted() {
		t.Error("IsStarted() = false after Start()")
	}

	if err := lc.Stop(context.Background()); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if !stopped {
		t.Error("stop callback not called")
	}
	if lc.IsStarted() {
		t.Error("IsStarted() = true after Stop()")
	}
}

func TestLifecycle_StartAlreadyStarted(t *testing.T) {
	lc := NewLifecycle()
	_ = lc.Start(context.Background())

	if err := lc.Start(context.Background()); err == nil {
		t.Error("Start() expected error for already started")
	}
}

func TestLifecycle_StopNotStarted(t *testing.T) {
	lc := NewLifecycle()
	lc.Append(Hook{Name: "never", Stop: func(context.Context) error {
		t.Error("stop called on a lifecycle that never started")
		return nil
	}})
	if err := lc.Stop(context.Background()); err != nil {
		t.Errorf("Stop() error = %v, expected nil for not started", err)
	}
}

func TestLifecycle_StartRollbackOnError(t *testing.T) {
	lc := NewLifecycle()

	var calls []string
	record := func(name string) func(context.Context) error {
		return func(context.Context) error { calls = append(calls, name); return nil }
	}
	lc.Append(Hook{Name: "first", Start: record("start1"), Stop: record("stop1")})
	lc.Append(Hook{Name: "second", Start: func(context.Context) error {
		calls = append(calls, "start2")
		return errors.New("start2 failed")
	}, Stop: record("stop2")})

	err := lc.Start(context.Background())
	if err == nil {
		t.Fatal("Start() expected error")
	}
	if got, want := err.Error(), "starting second: start2 failed"; got != want {
		t.Errorf("error = %q, want %q", got, want)
	}

	want := []string{"start1", "start2", "stop1"}
	if len(calls) != len(want) {
		t.Fatalf("calls = %v, want %v", calls, want)
	}
	for i := range want {
		if calls[i] != want[i] {
			t.Errorf("calls[%d] = %q, want %q", i, calls[i], want[i])
		}
	}
	if lc.IsStarted() {
		t.Error("lifecycle should not be started after rollback")
	}
}

func TestLifecycle_StopInReverseOrderDespiteErrors(t *testing.T) {
	lc := NewLifecycle()

	var order []int
	for i := 1; i <= 3; i++ {
		lc.Append(Hook{Name: "hook", Stop: func(context.Context) error {
			order = append(order, i)
			if i == 2 {
				return errors.New("stop error")
			}
			return nil
		}})
	}

	_ = lc.Start(context.Background())
	err := lc.Stop(context.Background())
	if err == nil {
		t.Error("Stop() expected error when a callback fails")
	}

	expected := []int{3, 2, 1}
	if len(order) != len(expected) {
		t.Fatalf("order length = %d, want %d", len(order), len(expected))
	}
	for i, v := range expected {
		if order[i] != v {
			t.Errorf("order[%d] = %d, want %d", i, order[i], v)
		}
	}
}
