package circuit

import (
	"errors"
	"testing"
	"time"
)

func TestState_String(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		state State
		want  string
	}{
		{"Closed state", StateClosed, "CLOSED"},
		{"Open state", StateOpen, "OPEN"},
		{"Half-open state", StateHalfOpen, "HALF_OPEN"},
		{"Unknown state", State(999), "UNKNOWN"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.state.String(); got != tt.want {
				t.Errorf("State.String() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestNew_Defaults(t *testing.T) {
	t.Parallel()

	cb := New("remote-storage", Config{})

	if cb.name != "remote-storage" {
		t.Errorf("name = %q, want %q", cb.name, "remote-storage")
	}
	if cb.state != StateClosed {
		t.Errorf("initial state = %v, want %v", cb.state, StateClosed)
	}
	if cb.config.MaxRequests != 1 {
		t.Errorf("default MaxRequests = %d, want 1", cb.config.MaxRequests)
	}
	if cb.config.Interval != 60*time.Second {
		t.Errorf("default Interval = %v, want %v", cb.config.Interval, 60*time.Second)
	}
	if cb.config.Timeout != 60*time.Second {
		t.Errorf("default Timeout = %v, want %v", cb.config.Timeout, 60*time.Second)
	}
}

func TestExecute_TripsOpenAfterThreshold(t *testing.T) {
	t.Parallel()

	cb := New("remote-storage", Config{
		ReadyToTrip: func(c Counts) bool { return c.ConsecutiveFailures >= 3 },
		Timeout:     time.Hour,
	})

	fail := errors.New("boom")
	for i := 0; i < 3; i++ {
		if err := cb.Execute(func() error { return fail }); err != fail {
			t.Fatalf("attempt %d: err = %v, want %v", i, err, fail)
		}
	}

	if cb.GetState() != StateOpen {
		t.Fatalf("state = %v, want %v after 3 consecutive failures", cb.GetState(), StateOpen)
	}

	if err := cb.Execute(func() error { t.Fatal("fn should not run while open"); return nil }); err == nil {
		t.Fatal("expected open-circuit error")
	}
}

func TestExecuteWithFallback_RunsFallbackWhenOpen(t *testing.T) {
	t.Parallel()

	cb := New("remote-storage", Config{
		ReadyToTrip: func(c Counts) bool { return c.ConsecutiveFailures >= 1 },
		Timeout:     time.Hour,
	})
	_ = cb.Execute(func() error { return errors.New("boom") })
	if cb.GetState() != StateOpen {
		t.Fatal("expected breaker to be open")
	}

	called := false
	err := cb.ExecuteWithFallback(
		func() error { t.Fatal("fn should not run while open"); return nil },
		func() error { called = true; return nil },
	)
	if err != nil {
		t.Fatalf("fallback err = %v, want nil", err)
	}
	if !called {
		t.Error("expected fallback to run")
	}
}

func TestHalfOpenRecoversToClosedOnSuccess(t *testing.T) {
	t.Parallel()

	cb := New("remote-storage", Config{
		ReadyToTrip: func(c Counts) bool { return c.ConsecutiveFailures >= 1 },
		Timeout:     10 * time.Millisecond,
	})
	_ = cb.Execute(func() error { return errors.New("boom") })
	if cb.GetState() != StateOpen {
		t.Fatal("expected breaker to be open")
	}

	time.Sleep(20 * time.Millisecond)
	if cb.GetState() != StateHalfOpen {
		t.Fatalf("state = %v, want %v after timeout elapses", cb.GetState(), StateHalfOpen)
	}

	if err := cb.Execute(func() error { return nil }); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if cb.GetState() != StateClosed {
		t.Errorf("state = %v, want %v after half-open success", cb.GetState(), StateClosed)
	}
}

func TestHalfOpenReopensOnFailure(t *testing.T) {
	t.Parallel()

	cb := New("remote-storage", Config{
		ReadyToTrip: func(c Counts) bool { return c.ConsecutiveFailures >= 1 },
		Timeout:     10 * time.Millisecond,
	})
	_ = cb.Execute(func() error { return errors.New("boom") })
	time.Sleep(20 * time.Millisecond)
	if cb.GetState() != StateHalfOpen {
		t.Fatal("expected breaker to be half-open")
	}

	_ = cb.Execute(func() error { return errors.New("still broken") })
	if cb.GetState() != StateOpen {
		t.Errorf("state = %v, want %v after half-open failure", cb.GetState(), StateOpen)
	}
}

func TestReset(t *testing.T) {
	t.Parallel()

	cb := New("remote-storage", Config{ReadyToTrip: func(c Counts) bool { return true }})
	_ = cb.Execute(func() error { return errors.New("boom") })
	if cb.GetState() != StateOpen {
		t.Fatal("expected breaker to be open")
	}

	cb.Reset()
	if cb.GetState() != StateClosed {
		t.Errorf("state after Reset = %v, want %v", cb.GetState(), StateClosed)
	}
	if cb.GetCounts().TotalFailures != 0 {
		t.Error("expected counts cleared by Reset")
	}
}

func TestManagerGetBreakerIsStableAcrossCalls(t *testing.T) {
	t.Parallel()

	m := NewManager(Config{})
	a := m.GetBreaker("s3")
	b := m.GetBreaker("s3")
	if a != b {
		t.Error("expected the same breaker instance for the same name")
	}
	other := m.GetBreaker("gcs")
	if other == a {
		t.Error("expected distinct breakers for distinct names")
	}
}

func TestManagerHealthCheckReportsOpenBreakers(t *testing.T) {
	t.Parallel()

	m := NewManager(Config{ReadyToTrip: func(c Counts) bool { return true }})
	cb := m.GetBreaker("s3")
	_ = cb.Execute(func() error { return errors.New("boom") })

	if err := m.HealthCheck(); err == nil {
		t.Error("expected HealthCheck to report the open breaker")
	}

	m.ResetAll()
	if err := m.HealthCheck(); err != nil {
		t.Errorf("HealthCheck after ResetAll: %v", err)
	}
}
