package health

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/xspvault/xspcore/pkg/xerrors"
)

func TestTrackerRegister(t *testing.T) {
	tracker := NewTracker(DefaultTrackerConfig())
	tracker.Register("ipc")

	if state := tracker.GetState("ipc"); state != StateHealthy {
		t.Errorf("expected StateHealthy, got %s", state)
	}
}

func TestTrackerRecordSuccessRecovers(t *testing.T) {
	tracker := NewTracker(DefaultTrackerConfig())
	tracker.Register("gc")

	tracker.RecordError("gc", fmt.Errorf("boom"))
	tracker.RecordError("gc", fmt.Errorf("boom"))
	tracker.RecordSuccess("gc")
	tracker.RecordSuccess("gc")

	h, err := tracker.GetComponentHealth("gc")
	if err != nil {
		t.Fatalf("GetComponentHealth: %v", err)
	}
	if h.ConsecutiveErrors != 0 {
		t.Errorf("expected 0 consecutive errors, got %d", h.ConsecutiveErrors)
	}
}

func TestTrackerDegradesAtThreshold(t *testing.T) {
	cfg := DefaultTrackerConfig()
	cfg.ErrorThreshold = 3
	tracker := NewTracker(cfg)
	tracker.Register("upsync")

	for i := 0; i < 2; i++ {
		tracker.RecordError("upsync", fmt.Errorf("error %d", i))
	}
	if state := tracker.GetState("upsync"); state != StateHealthy {
		t.Errorf("expected StateHealthy before threshold, got %s", state)
	}

	tracker.RecordError("upsync", fmt.Errorf("error 2"))
	if state := tracker.GetState("upsync"); state != StateDegraded {
		t.Errorf("expected StateDegraded at threshold, got %s", state)
	}
}

func TestTrackerStorageErrorDegradesToReadOnly(t *testing.T) {
	cfg := DefaultTrackerConfig()
	cfg.ErrorThreshold = 1
	tracker := NewTracker(cfg)
	tracker.Register("store")

	tracker.RecordError("store", xerrors.New(xerrors.KindStorage, xerrors.CodeNotFound, "write failed"))
	if state := tracker.GetState("store"); state != StateReadOnly {
		t.Errorf("expected StateReadOnly for a storage-kind error, got %s", state)
	}
	if !tracker.CanRead("store") {
		t.Error("expected CanRead true in read-only state")
	}
	if tracker.CanWrite("store") {
		t.Error("expected CanWrite false in read-only state")
	}
}

func TestTrackerUnavailableAtThreshold(t *testing.T) {
	cfg := DefaultTrackerConfig()
	cfg.ErrorThreshold = 1
	cfg.UnavailableThreshold = 3
	tracker := NewTracker(cfg)
	tracker.Register("connector")

	for i := 0; i < 3; i++ {
		tracker.RecordError("connector", fmt.Errorf("error %d", i))
	}
	if state := tracker.GetState("connector"); state != StateUnavailable {
		t.Errorf("expected StateUnavailable, got %s", state)
	}
	if tracker.CanRead("connector") {
		t.Error("expected CanRead false when unavailable")
	}
}

func TestOverallStateIsWorstComponent(t *testing.T) {
	cfg := DefaultTrackerConfig()
	cfg.ErrorThreshold = 1
	tracker := NewTracker(cfg)
	tracker.Register("a")
	tracker.Register("b")

	tracker.RecordError("a", fmt.Errorf("boom"))

	if overall := tracker.OverallState(); overall != StateDegraded {
		t.Errorf("expected StateDegraded overall, got %s", overall)
	}
}

func TestOnStateChangeCallback(t *testing.T) {
	cfg := DefaultTrackerConfig()
	cfg.ErrorThreshold = 1
	tracker := NewTracker(cfg)
	tracker.Register("x")

	done := make(chan struct{}, 1)
	tracker.OnStateChange(StateDegraded, func(component string, old, next State, err error) {
		if component == "x" && next == StateDegraded {
			done <- struct{}{}
		}
	})

	tracker.RecordError("x", fmt.Errorf("boom"))

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("state change callback was not invoked")
	}
}

func TestRunPeriodicChecksStopsOnContextCancel(t *testing.T) {
	cfg := DefaultTrackerConfig()
	cfg.HealthCheckInterval = 5 * time.Millisecond
	tracker := NewTracker(cfg)
	tracker.Register("periodic")

	ctx, cancel := context.WithCancel(context.Background())
	calls := make(chan struct{}, 8)

	go tracker.RunPeriodicChecks(ctx, func(component string) error {
		calls <- struct{}{}
		return nil
	})

	select {
	case <-calls:
	case <-time.After(time.Second):
		t.Fatal("expected at least one health check call")
	}
	cancel()
}
