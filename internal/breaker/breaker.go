// Package breaker implements the per-service circuit breaker registry.
// Each backend service gets an independent three-state breaker; tripping
// one never blocks calls to the others.
package breaker

import (
	"sync"
	"time"

	"github.com/agumabanks/baraka-gateway/internal/config"
)

// State is the breaker state for one service.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

type serviceBreaker struct {
	mu        sync.Mutex
	state     State
	failures  int
	successes int
	probes    int
	openedAt  time.Time
}

// Registry holds one breaker per service name. All state transitions
// happen under the per-service lock; the registry lock only guards the
// map itself.
type Registry struct {
	mu       sync.RWMutex
	settings config.BreakerConfig
	breakers map[string]*serviceBreaker

	now func() time.Time
}

// NewRegistry creates a registry with the given thresholds.
func NewRegistry(settings config.BreakerConfig) *Registry {
	return &Registry{
		settings: settings,
		breakers: make(map[string]*serviceBreaker),
		now:      time.Now,
	}
}

func (r *Registry) get(service string) *serviceBreaker {
	r.mu.RLock()
	b, ok := r.breakers[service]
	r.mu.RUnlock()
	if ok {
		return b
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if b, ok = r.breakers[service]; ok {
		return b
	}
	b = &serviceBreaker{state: StateClosed}
	r.breakers[service] = b
	return b
}

// Admit decides whether a routed call to the service may proceed. The
// availability check and the half-open probe-slot reservation happen
// under one lock, so the state cannot flip between them. An Open
// breaker whose recovery timeout has elapsed transitions to HalfOpen
// here, with the admitting call taking the first probe slot; no
// background timer is involved. Admitted callers must invoke release
// once the call's outcome has been reported; it is a no-op for calls
// admitted outside HalfOpen.
func (r *Registry) Admit(service string) (release func(), ok bool) {
	b := r.get(service)
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateOpen:
		if r.now().Sub(b.openedAt) < r.settings.RecoveryTimeout {
			return nil, false
		}
		b.state = StateHalfOpen
		b.successes = 0
		b.probes = 1
		return r.releaseProbe(b), true
	case StateHalfOpen:
		if b.probes >= r.settings.HalfOpenMaxCalls {
			return nil, false
		}
		b.probes++
		return r.releaseProbe(b), true
	default:
		return func() {}, true
	}
}

// releaseProbe returns the half-open probe slot claimed by Admit. The
// slot may already be gone when the breaker closed or reopened in the
// meantime; both transitions zero the probe count themselves.
func (r *Registry) releaseProbe(b *serviceBreaker) func() {
	return func() {
		b.mu.Lock()
		if b.state == StateHalfOpen && b.probes > 0 {
			b.probes--
		}
		b.mu.Unlock()
	}
}

// RecordSuccess reports a successful routed call.
func (r *Registry) RecordSuccess(service string) {
	b := r.get(service)
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		b.failures = 0
	case StateHalfOpen:
		b.successes++
		if b.successes >= r.settings.SuccessThreshold {
			b.state = StateClosed
			b.failures = 0
			b.successes = 0
			b.probes = 0
		}
	}
}

// RecordFailure reports a failed routed call. In Closed it counts toward
// the failure threshold; in HalfOpen a single failure reopens the
// circuit immediately.
func (r *Registry) RecordFailure(service string) {
	b := r.get(service)
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		b.failures++
		b.successes = 0
		if b.failures >= r.settings.FailureThreshold {
			b.state = StateOpen
			b.openedAt = r.now()
		}
	case StateHalfOpen:
		b.state = StateOpen
		b.openedAt = r.now()
		b.successes = 0
		b.probes = 0
	}
}

// RetryAfter returns how long until an Open breaker next admits a probe,
// rounded up to whole seconds. Zero for any other state.
func (r *Registry) RetryAfter(service string) int {
	b := r.get(service)
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state != StateOpen {
		return 0
	}
	remaining := r.settings.RecoveryTimeout - r.now().Sub(b.openedAt)
	if remaining <= 0 {
		return 0
	}
	return int((remaining + time.Second - 1) / time.Second)
}

// Status is a read-only view of one breaker for the ops surface.
type Status struct {
	Service              string    `json:"service"`
	State                string    `json:"state"`
	ConsecutiveFailures  int       `json:"consecutive_failures"`
	ConsecutiveSuccesses int       `json:"consecutive_successes"`
	ProbesInFlight       int       `json:"probes_in_flight"`
	OpenedAt             time.Time `json:"opened_at,omitzero"`
}

// Snapshot returns the current state of every known breaker.
func (r *Registry) Snapshot() []Status {
	r.mu.RLock()
	names := make([]string, 0, len(r.breakers))
	for name := range r.breakers {
		names = append(names, name)
	}
	r.mu.RUnlock()

	out := make([]Status, 0, len(names))
	for _, name := range names {
		b := r.get(name)
		b.mu.Lock()
		out = append(out, Status{
			Service:              name,
			State:                b.state.String(),
			ConsecutiveFailures:  b.failures,
			ConsecutiveSuccesses: b.successes,
			ProbesInFlight:       b.probes,
			OpenedAt:             b.openedAt,
		})
		b.mu.Unlock()
	}
	return out
}
