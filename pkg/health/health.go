// Package health tracks component health and graceful degradation for the
// store and IPC connector (SPEC_FULL.md component R), grounded on the
// teacher's pkg/health tracker.
package health

import (
	"context"
	stderr "errors"
	"fmt"
	"sync"
	"time"

	"github.com/xspvault/xspcore/pkg/xerrors"
)

// State is the health state of a tracked component.
type State int

const (
	// StateHealthy indicates the component is fully operational.
	StateHealthy State = iota

	// StateDegraded indicates the component is operational but impaired.
	StateDegraded

	// StateReadOnly indicates the component can only serve reads (e.g. the
	// remote-storage capability exposer has lost write access).
	StateReadOnly

	// StateUnavailable indicates the component is not operational.
	StateUnavailable
)

// String returns the state's name.
func (s State) String() string {
	switch s {
	case StateHealthy:
		return "healthy"
	case StateDegraded:
		return "degraded"
	case StateReadOnly:
		return "read-only"
	case StateUnavailable:
		return "unavailable"
	default:
		return "unknown"
	}
}

// ComponentHealth is the tracked state of a single component.
type ComponentHealth struct {
	Name              string
	State             State
	LastStateChange   time.Time
	LastCheck         time.Time
	ConsecutiveErrors int
	LastErrorMessage  string
}

// StateChangeCallback is invoked when a component transitions state.
type StateChangeCallback func(component string, oldState, newState State, err error)

// TrackerConfig configures a Tracker's thresholds.
type TrackerConfig struct {
	ErrorThreshold       int
	UnavailableThreshold int
	HealthCheckInterval  time.Duration
}

// DefaultTrackerConfig returns sensible defaults.
func DefaultTrackerConfig() TrackerConfig {
	return TrackerConfig{
		ErrorThreshold:       3,
		UnavailableThreshold: 10,
		HealthCheckInterval:  30 * time.Second,
	}
}

// Tracker tracks the health of the store, the GC loop, the upsync queue,
// and the IPC connector, and derives overall liveness/readiness from the
// worst tracked component.
type Tracker struct {
	mu         sync.RWMutex
	components map[string]*ComponentHealth
	config     TrackerConfig
	callbacks  map[State][]StateChangeCallback
}

// NewTracker creates a Tracker.
func NewTracker(config TrackerConfig) *Tracker {
	return &Tracker{
		components: make(map[string]*ComponentHealth),
		config:     config,
		callbacks:  make(map[State][]StateChangeCallback),
	}
}

// Register adds a component to track, starting StateHealthy.
func (t *Tracker) Register(component string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, exists := t.components[component]; !exists {
		t.components[component] = &ComponentHealth{
			Name:            component,
			State:           StateHealthy,
			LastStateChange: time.Now(),
			LastCheck:       time.Now(),
		}
	}
}

// RecordSuccess records a successful operation, decaying the error count
// and recovering to StateHealthy once it reaches zero.
func (t *Tracker) RecordSuccess(component string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	h, exists := t.components[component]
	if !exists {
		return
	}

	old := h.State
	h.LastCheck = time.Now()
	if h.ConsecutiveErrors > 0 {
		h.ConsecutiveErrors--
		if h.ConsecutiveErrors == 0 && h.State != StateHealthy {
			t.transition(h, StateHealthy)
		}
	}
	if old != h.State {
		t.notify(component, old, h.State, nil)
	}
}

// RecordError records a failed operation and may transition the component
// to a degraded, read-only, or unavailable state based on the configured
// thresholds and whether err looks like a write-path failure.
func (t *Tracker) RecordError(component string, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	h, exists := t.components[component]
	if !exists {
		return
	}

	old := h.State
	h.LastCheck = time.Now()
	h.ConsecutiveErrors++
	if err != nil {
		h.LastErrorMessage = err.Error()
	}

	var next State
	switch {
	case h.ConsecutiveErrors >= t.config.UnavailableThreshold:
		next = StateUnavailable
	case h.ConsecutiveErrors >= t.config.ErrorThreshold:
		if isWritePathError(err) {
			next = StateReadOnly
		} else {
			next = StateDegraded
		}
	default:
		next = h.State
	}

	if next != old {
		t.transition(h, next)
		t.notify(component, old, h.State, err)
	}
}

// GetState returns a component's current state, or StateUnavailable if it
// was never registered.
func (t *Tracker) GetState(component string) State {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if h, exists := t.components[component]; exists {
		return h.State
	}
	return StateUnavailable
}

// GetComponentHealth returns a snapshot of one component's health.
func (t *Tracker) GetComponentHealth(component string) (ComponentHealth, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	h, exists := t.components[component]
	if !exists {
		return ComponentHealth{}, fmt.Errorf("component %s not registered", component)
	}
	return *h, nil
}

// GetAllComponents returns a snapshot of every tracked component.
func (t *Tracker) GetAllComponents() map[string]ComponentHealth {
	t.mu.RLock()
	defer t.mu.RUnlock()
	result := make(map[string]ComponentHealth, len(t.components))
	for name, h := range t.components {
		result[name] = *h
	}
	return result
}

// OverallState returns the worst state among all tracked components
// (StateHealthy if none are registered).
func (t *Tracker) OverallState() State {
	t.mu.RLock()
	defer t.mu.RUnlock()
	overall := StateHealthy
	for _, h := range t.components {
		if h.State > overall {
			overall = h.State
		}
	}
	return overall
}

// IsHealthy reports whether component is StateHealthy.
func (t *Tracker) IsHealthy(component string) bool {
	return t.GetState(component) == StateHealthy
}

// CanRead reports whether component can still serve reads.
func (t *Tracker) CanRead(component string) bool {
	switch t.GetState(component) {
	case StateHealthy, StateDegraded, StateReadOnly:
		return true
	default:
		return false
	}
}

// CanWrite reports whether component can still accept writes.
func (t *Tracker) CanWrite(component string) bool {
	switch t.GetState(component) {
	case StateHealthy, StateDegraded:
		return true
	default:
		return false
	}
}

// OnStateChange registers a callback invoked (in its own goroutine) whenever
// any component transitions into newState.
func (t *Tracker) OnStateChange(newState State, callback StateChangeCallback) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.callbacks[newState] = append(t.callbacks[newState], callback)
}

// transition must be called with t.mu held.
func (t *Tracker) transition(h *ComponentHealth, next State) {
	h.State = next
	h.LastStateChange = time.Now()
	if next == StateHealthy {
		h.ConsecutiveErrors = 0
		h.LastErrorMessage = ""
	}
}

// notify must be called with t.mu held; callbacks run async to avoid
// blocking the caller that reported the error.
func (t *Tracker) notify(component string, old, next State, err error) {
	for _, cb := range t.callbacks[next] {
		go cb(component, old, next, err)
	}
}

// isWritePathError classifies a storage-kind error as a write-path failure
// (degrading to read-only rather than fully unavailable); every other kind
// degrades directly.
func isWritePathError(err error) bool {
	var xerr *xerrors.Error
	if !stderr.As(err, &xerr) {
		return false
	}
	return xerr.Kind == xerrors.KindStorage
}

// RunPeriodicChecks runs checkFn for every registered component on
// config.HealthCheckInterval until ctx is done.
func (t *Tracker) RunPeriodicChecks(ctx context.Context, checkFn func(component string) error) {
	ticker := time.NewTicker(t.config.HealthCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.mu.RLock()
			names := make([]string, 0, len(t.components))
			for name := range t.components {
				names = append(names, name)
			}
			t.mu.RUnlock()

			for _, name := range names {
				if err := checkFn(name); err != nil {
					t.RecordError(name, err)
				} else {
					t.RecordSuccess(name)
				}
			}
		}
	}
}
