package backends

import (
	"log/slog"
	"sync"
	"time"
)

// unhealthyThreshold is the number of consecutive failures after which a
// backend is marked unhealthy.
const unhealthyThreshold = 3

// healthState tracks a backend's health across invocations.
// It is embedded by backend implementations and updated after each call.
type healthState struct {
	mu     sync.RWMutex
	health Health
	name   string
}

func newHealthState(name string) *healthState {
	return &healthState{
		name: name,
		health: Health{
			Healthy:   true, // start optimistic
			LastCheck: time.Now(),
		},
	}
}

// snapshot returns a copy of the current health state.
func (h *healthState) snapshot() Health {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.health
}

// record updates the health state after an invocation.
func (h *healthState) record(success bool, err error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.health.LastCheck = time.Now()
	h.health.TotalRequests++

	if success {
		h.health.Healthy = true
		h.health.ConsecutiveFailures = 0
		h.health.LastError = nil
		return
	}

	h.health.FailedRequests++
	h.health.ConsecutiveFailures++
	h.health.LastError = err

	if h.health.ConsecutiveFailures >= unhealthyThreshold && h.health.Healthy {
		h.health.Healthy = false
		slog.Warn("backend marked unhealthy",
			"provider", h.name,
			"consecutive_failures", h.health.ConsecutiveFailures,
			"error", err,
		)
	}
}
