// Package health tracks the liveness of bus subsystems for the
// operator surface. Subsystems report a Status; the monitor aggregates
// them into one system verdict served over HTTP.
package health

import (
	"time"
)

// Health states. Degraded means the bus still moves envelopes but some
// guarantee is at risk (queue near its high-water mark, dead letters
// accumulating).
const (
	StateHealthy   = "healthy"
	StateDegraded  = "degraded"
	StateUnhealthy = "unhealthy"
)

// Status is one subsystem's health report.
type Status struct {
	Component   string    `json:"component"`
	Healthy     bool      `json:"healthy"`
	State       string    `json:"state"`
	Message     string    `json:"message,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
	SubStatuses []Status  `json:"sub_statuses,omitempty"`
}

// NewHealthy creates a healthy status.
func NewHealthy(component, message string) Status {
	return Status{
		Component: component,
		Healthy:   true,
		State:     StateHealthy,
		Message:   message,
		Timestamp: time.Now(),
	}
}

// NewDegraded creates a degraded status.
func NewDegraded(component, message string) Status {
	return Status{
		Component: component,
		State:     StateDegraded,
		Message:   message,
		Timestamp: time.Now(),
	}
}

// NewUnhealthy creates an unhealthy status.
func NewUnhealthy(component, message string) Status {
	return Status{
		Component: component,
		State:     StateUnhealthy,
		Message:   message,
		Timestamp: time.Now(),
	}
}

// IsHealthy reports whether the state is healthy.
func (s Status) IsHealthy() bool {
	return s.State == StateHealthy
}

// Aggregate folds subsystem statuses into one verdict: unhealthy if
// any subsystem is unhealthy, degraded if any is degraded, healthy
// otherwise.
func Aggregate(systemName string, statuses []Status) Status {
	agg := NewHealthy(systemName, "all subsystems healthy")
	agg.SubStatuses = statuses

	for _, s := range statuses {
		switch s.State {
		case StateUnhealthy:
			agg.Healthy = false
			agg.State = StateUnhealthy
			agg.Message = s.Component + ": " + s.Message
			return agg
		case StateDegraded:
			agg.Healthy = false
			agg.State = StateDegraded
			agg.Message = s.Component + ": " + s.Message
		}
	}
	return agg
}
