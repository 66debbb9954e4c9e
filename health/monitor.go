package health

import (
	"sort"
	"sync"
)

// Probe reports a subsystem's current status on demand. Probes run at
// request time, so the operator surface always sees live state rather
// than a stale snapshot.
type Probe func() Status

// Monitor holds named probes and push-style status updates for the bus
// subsystems. Safe for concurrent use.
type Monitor struct {
	mu       sync.RWMutex
	probes   map[string]Probe
	statuses map[string]Status
}

// NewMonitor creates an empty monitor.
func NewMonitor() *Monitor {
	return &Monitor{
		probes:   make(map[string]Probe),
		statuses: make(map[string]Status),
	}
}

// RegisterProbe installs a live probe for a subsystem, replacing any
// previous probe of the same name.
func (m *Monitor) RegisterProbe(name string, probe Probe) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.probes[name] = probe
}

// Update records a pushed status for subsystems without a live probe.
func (m *Monitor) Update(status Status) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.statuses[status.Component] = status
}

// Remove drops a subsystem from monitoring.
func (m *Monitor) Remove(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.probes, name)
	delete(m.statuses, name)
}

// Snapshot runs all probes and merges pushed statuses, ordered by
// component name.
func (m *Monitor) Snapshot() []Status {
	m.mu.RLock()
	probes := make(map[string]Probe, len(m.probes))
	for name, p := range m.probes {
		probes[name] = p
	}
	statuses := make(map[string]Status, len(m.statuses))
	for name, s := range m.statuses {
		statuses[name] = s
	}
	m.mu.RUnlock()

	// Probes run outside the lock; a slow probe must not block updates.
	for name, probe := range probes {
		statuses[name] = probe()
	}

	out := make([]Status, 0, len(statuses))
	for _, s := range statuses {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Component < out[j].Component })
	return out
}

// System aggregates the current snapshot under the given name.
func (m *Monitor) System(name string) Status {
	return Aggregate(name, m.Snapshot())
}
