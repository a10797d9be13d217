package providers

import (
	"sync"
	"time"
)

// HealthState is a provider's availability state.
type HealthState string

const (
	StateHealthy  HealthState = "HEALTHY"
	StateDegraded HealthState = "DEGRADED"
	StateCooling  HealthState = "COOLING"
	StateDisabled HealthState = "DISABLED"
)

// failuresBeforeCooling is the consecutive-failure threshold that sends a
// provider into cooldown.
const failuresBeforeCooling = 3

// Health tracks one provider's availability. All transitions go through its
// methods, serialized by the internal mutex.
type Health struct {
	mu sync.Mutex

	state               HealthState
	consecutiveFailures int
	lastSuccessAt       time.Time
	lastFailureAt       time.Time
	cooldownUntil       time.Time
	totalSuccesses      int64
	totalFailures       int64

	cooldown time.Duration

	now func() time.Time // test hook
}

// NewHealth creates a tracker in the HEALTHY state.
func NewHealth(cooldown time.Duration) *Health {
	return &Health{
		state:    StateHealthy,
		cooldown: cooldown,
		now:      time.Now,
	}
}

// IsAvailable reports whether the provider may be called. A provider whose
// cooldown has elapsed flips back to HEALTHY with counters cleared.
func (h *Health) IsAvailable() bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	switch h.state {
	case StateDisabled:
		return false
	case StateCooling:
		if h.now().Before(h.cooldownUntil) {
			return false
		}
		h.state = StateHealthy
		h.consecutiveFailures = 0
		h.cooldownUntil = time.Time{}
		return true
	default:
		return true
	}
}

// RecordSuccess resets the failure streak and clears DEGRADED.
func (h *Health) RecordSuccess() {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.consecutiveFailures = 0
	h.lastSuccessAt = h.now()
	h.totalSuccesses++
	if h.state == StateDegraded {
		h.state = StateHealthy
	}
}

// RecordFailure bumps the failure streak: one failure degrades, three in a
// row start the cooldown.
func (h *Health) RecordFailure() {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.consecutiveFailures++
	h.lastFailureAt = h.now()
	h.totalFailures++

	if h.state == StateDisabled || h.state == StateCooling {
		return
	}
	if h.consecutiveFailures >= failuresBeforeCooling {
		h.state = StateCooling
		h.cooldownUntil = h.now().Add(h.cooldown)
		return
	}
	h.state = StateDegraded
}

// MarkBanned is the 403/429 path: straight to COOLING as if the streak were
// already full.
func (h *Health) MarkBanned() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.state == StateDisabled {
		return
	}
	h.state = StateCooling
	h.consecutiveFailures = failuresBeforeCooling
	h.lastFailureAt = h.now()
	h.totalFailures++
	h.cooldownUntil = h.now().Add(h.cooldown)
}

// Disable takes the provider out of rotation until Reset.
func (h *Health) Disable() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.state = StateDisabled
}

// Reset returns the provider to HEALTHY with counters cleared.
func (h *Health) Reset() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.state = StateHealthy
	h.consecutiveFailures = 0
	h.cooldownUntil = time.Time{}
}

// HealthSnapshot is a point-in-time copy for status reporting.
type HealthSnapshot struct {
	Status              HealthState `json:"status"`
	ConsecutiveFailures int         `json:"consecutive_failures"`
	IsAvailable         bool        `json:"is_available"`
	CooldownUntil       *time.Time  `json:"cooldown_until,omitempty"`
	LastSuccessAt       *time.Time  `json:"last_success_at,omitempty"`
	LastFailureAt       *time.Time  `json:"last_failure_at,omitempty"`
	TotalSuccesses      int64       `json:"total_successes"`
	TotalFailures       int64       `json:"total_failures"`
}

// Snapshot returns the current state for reporting. It does not trigger the
// cooldown auto-reset.
func (h *Health) Snapshot() HealthSnapshot {
	h.mu.Lock()
	defer h.mu.Unlock()

	snap := HealthSnapshot{
		Status:              h.state,
		ConsecutiveFailures: h.consecutiveFailures,
		TotalSuccesses:      h.totalSuccesses,
		TotalFailures:       h.totalFailures,
	}
	switch h.state {
	case StateDisabled:
		snap.IsAvailable = false
	case StateCooling:
		snap.IsAvailable = !h.now().Before(h.cooldownUntil)
	default:
		snap.IsAvailable = true
	}
	if !h.cooldownUntil.IsZero() {
		t := h.cooldownUntil
		snap.CooldownUntil = &t
	}
	if !h.lastSuccessAt.IsZero() {
		t := h.lastSuccessAt
		snap.LastSuccessAt = &t
	}
	if !h.lastFailureAt.IsZero() {
		t := h.lastFailureAt
		snap.LastFailureAt = &t
	}
	return snap
}
