// Package circuit implements a circuit breaker guarding calls a capability
// exposer makes into the out-of-scope remote-storage HTTP service (spec
// §5 expansion): closed/open/half-open state machine over a rolling
// request/failure count, so a flaky remote doesn't retry-storm the local
// store. Adapted from the teacher's internal/circuit/breaker.go — same
// state machine and manager-of-named-breakers shape, retargeted to this
// module's xerrors taxonomy instead of plain stdlib errors.
package circuit

import (
	"context"
	"sync"
	"time"

	"github.com/xspvault/xspcore/pkg/xerrors"
)

// State represents the circuit breaker state
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

// String returns string representation of state
func (s State) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateOpen:
		return "OPEN"
	case StateHalfOpen:
		return "HALF_OPEN"
	default:
		return "UNKNOWN"
	}
}

// Config contains circuit breaker configuration
type Config struct {
	// MaxRequests is the number of requests allowed through while
	// half-open.
	MaxRequests uint32 `yaml:"max_requests"`

	// Interval is how long the closed state runs before its rolling
	// counts reset.
	Interval time.Duration `yaml:"interval"`

	// Timeout is how long the open state lasts before trying half-open.
	Timeout time.Duration `yaml:"timeout"`

	// ReadyToTrip decides whether the breaker should open, given the
	// current rolling counts.
	ReadyToTrip func(counts Counts) bool `yaml:"-"`

	// OnStateChange is called whenever the breaker transitions state.
	OnStateChange func(name string, from State, to State) `yaml:"-"`

	// IsSuccessful decides whether a call's error counts as a failure.
	IsSuccessful func(err error) bool `yaml:"-"`
}

// Counts holds the numbers of requests and their successes/failures
type Counts struct {
	Requests             uint32    `json:"requests"`
	TotalSuccesses       uint32    `json:"totalSuccesses"`
	TotalFailures        uint32    `json:"totalFailures"`
	ConsecutiveSuccesses uint32    `json:"consecutiveSuccesses"`
	ConsecutiveFailures  uint32    `json:"consecutiveFailures"`
	LastActivity         time.Time `json:"lastActivity"`
}

// Breaker implements the circuit breaker pattern over a single named
// remote collaborator (e.g. one remote-storage endpoint).
type Breaker struct {
	name   string
	config Config

	mu     sync.Mutex
	state  State
	counts Counts
	expiry time.Time
}

// New creates a circuit breaker instance guarding calls named by name.
func New(name string, config Config) *Breaker {
	if config.MaxRequests == 0 {
		config.MaxRequests = 1
	}
	if config.Interval <= 0 {
		config.Interval = 60 * time.Second
	}
	if config.Timeout <= 0 {
		config.Timeout = 60 * time.Second
	}
	if config.ReadyToTrip == nil {
		config.ReadyToTrip = defaultReadyToTrip
	}
	if config.IsSuccessful == nil {
		config.IsSuccessful = defaultIsSuccessful
	}

	return &Breaker{
		name:   name,
		config: config,
		state:  StateClosed,
		expiry: time.Now().Add(config.Interval),
	}
}

func defaultReadyToTrip(counts Counts) bool {
	return counts.Requests >= 20 &&
		float64(counts.TotalFailures)/float64(counts.Requests) >= 0.5
}

func defaultIsSuccessful(err error) bool {
	return err == nil
}

// Execute runs fn if the breaker allows it.
func (cb *Breaker) Execute(fn func() error) error {
	if err := cb.beforeRequest(); err != nil {
		return err
	}
	err := fn()
	cb.afterRequest(err)
	return err
}

// ExecuteWithFallback runs fn if the breaker allows it, otherwise runs
// fallback (e.g. serve from a local cache instead of failing the call
// outright).
func (cb *Breaker) ExecuteWithFallback(fn func() error, fallback func() error) error {
	if err := cb.beforeRequest(); err != nil {
		if fallback != nil {
			return fallback()
		}
		return err
	}
	err := fn()
	cb.afterRequest(err)
	return err
}

// ExecuteWithContext runs fn with a context if the breaker allows it.
func (cb *Breaker) ExecuteWithContext(ctx context.Context, fn func(context.Context) error) error {
	if err := cb.beforeRequest(); err != nil {
		return err
	}
	err := fn(ctx)
	cb.afterRequest(err)
	return err
}

func (cb *Breaker) beforeRequest() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	now := time.Now()
	state := cb.currentStateLocked(now)

	if state == StateOpen {
		return errOpenState(cb.name)
	}
	if state == StateHalfOpen && cb.counts.Requests >= cb.config.MaxRequests {
		return errTooManyRequests(cb.name)
	}

	cb.counts.onRequest()
	return nil
}

func (cb *Breaker) afterRequest(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	now := time.Now()
	state := cb.currentStateLocked(now)

	if cb.config.IsSuccessful(err) {
		cb.onSuccess(state, now)
	} else {
		cb.onFailure(state, now)
	}
}

func (cb *Breaker) onSuccess(state State, now time.Time) {
	cb.counts.onSuccess()
	if state == StateHalfOpen {
		cb.setState(StateClosed, now)
	}
}

func (cb *Breaker) onFailure(state State, now time.Time) {
	cb.counts.onFailure()
	switch state {
	case StateClosed:
		if cb.config.ReadyToTrip(cb.counts) {
			cb.setState(StateOpen, now)
		}
	case StateHalfOpen:
		cb.setState(StateOpen, now)
	}
}

// currentStateLocked advances the state machine's clock-driven
// transitions (closed-window reset, open->half-open) and returns the
// resulting state. cb.mu must be held.
func (cb *Breaker) currentStateLocked(now time.Time) State {
	switch cb.state {
	case StateClosed:
		if !cb.expiry.IsZero() && cb.expiry.Before(now) {
			cb.counts.clear()
			cb.expiry = now.Add(cb.config.Interval)
		}
	case StateOpen:
		if cb.expiry.Before(now) {
			cb.setState(StateHalfOpen, now)
		}
	}
	return cb.state
}

func (cb *Breaker) setState(state State, now time.Time) {
	if cb.state == state {
		return
	}
	prev := cb.state
	cb.state = state
	cb.counts.clear()

	switch state {
	case StateClosed:
		cb.expiry = now.Add(cb.config.Interval)
	case StateOpen:
		cb.expiry = now.Add(cb.config.Timeout)
	case StateHalfOpen:
		cb.expiry = time.Time{}
	}

	if cb.config.OnStateChange != nil {
		cb.config.OnStateChange(cb.name, prev, state)
	}
}

// GetState returns the current state, advancing clock-driven transitions
// first.
func (cb *Breaker) GetState() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.currentStateLocked(time.Now())
}

// GetCounts returns a copy of the current rolling counts.
func (cb *Breaker) GetCounts() Counts {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.counts
}

// Reset forces the breaker back to closed.
func (cb *Breaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.counts.clear()
	cb.setState(StateClosed, time.Now())
}

// Name returns the breaker's name.
func (cb *Breaker) Name() string { return cb.name }

func (c *Counts) onRequest() {
	c.Requests++
	c.LastActivity = time.Now()
}

func (c *Counts) onSuccess() {
	c.TotalSuccesses++
	c.ConsecutiveSuccesses++
	c.ConsecutiveFailures = 0
}

func (c *Counts) onFailure() {
	c.TotalFailures++
	c.ConsecutiveFailures++
	c.ConsecutiveSuccesses = 0
}

func (c *Counts) clear() {
	*c = Counts{}
}

func errOpenState(name string) error {
	return xerrors.New(xerrors.KindStorage, xerrors.CodeConcurrentTransaction, "circuit breaker open").
		WithContext("breaker", name)
}

func errTooManyRequests(name string) error {
	return xerrors.New(xerrors.KindStorage, xerrors.CodeConcurrentTransaction, "too many requests while circuit breaker half-open").
		WithContext("breaker", name)
}

// Manager owns one named Breaker per remote collaborator endpoint (e.g.
// one per remote-storage region), created lazily on first use.
type Manager struct {
	mu       sync.RWMutex
	breakers map[string]*Breaker
	config   Config
}

// NewManager builds a Manager whose breakers all share config.
func NewManager(config Config) *Manager {
	return &Manager{breakers: make(map[string]*Breaker), config: config}
}

// GetBreaker returns the named breaker, creating it if necessary.
func (m *Manager) GetBreaker(name string) *Breaker {
	m.mu.RLock()
	if b, ok := m.breakers[name]; ok {
		m.mu.RUnlock()
		return b
	}
	m.mu.RUnlock()

	m.mu.Lock()
	defer m.mu.Unlock()
	if b, ok := m.breakers[name]; ok {
		return b
	}
	b := New(name, m.config)
	m.breakers[name] = b
	return b
}

// Stats summarizes one breaker's state and counts for diagnostics.
type Stats struct {
	Name   string `json:"name"`
	State  State  `json:"state"`
	Counts Counts `json:"counts"`
}

// GetStats returns a snapshot of every managed breaker.
func (m *Manager) GetStats() map[string]Stats {
	m.mu.RLock()
	breakers := make(map[string]*Breaker, len(m.breakers))
	for name, b := range m.breakers {
		breakers[name] = b
	}
	m.mu.RUnlock()

	stats := make(map[string]Stats, len(breakers))
	for name, b := range breakers {
		stats[name] = Stats{Name: name, State: b.GetState(), Counts: b.GetCounts()}
	}
	return stats
}

// ResetAll resets every managed breaker to closed.
func (m *Manager) ResetAll() {
	m.mu.RLock()
	breakers := make([]*Breaker, 0, len(m.breakers))
	for _, b := range m.breakers {
		breakers = append(breakers, b)
	}
	m.mu.RUnlock()

	for _, b := range breakers {
		b.Reset()
	}
}

// HealthCheck reports an error naming every breaker currently open.
func (m *Manager) HealthCheck() error {
	var open []string
	for name, stat := range m.GetStats() {
		if stat.State == StateOpen {
			open = append(open, name)
		}
	}
	if len(open) > 0 {
		return xerrors.New(xerrors.KindStorage, xerrors.CodeConcurrentTransaction, "circuit breakers open").
			WithContext("breakers", joinNames(open))
	}
	return nil
}

func joinNames(names []string) string {
	out := ""
	for i, n := range names {
		if i > 0 {
			out += ","
		}
		out += n
	}
	return out
}
