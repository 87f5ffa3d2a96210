package health

import (
	"encoding/json"
	"sort"
	"sync"
	"time"
)

// Monitor holds the latest Status of each adapter. It is safe for concurrent
// use: the tick goroutine writes while HTTP health checks read.
type Monitor struct {
	mu       sync.RWMutex
	statuses map[string]Status
	now      func() time.Time
}

// NewMonitor creates an empty monitor.
func NewMonitor() *Monitor {
	return &Monitor{
		statuses: make(map[string]Status),
		now:      time.Now,
	}
}

// Update records status under name. Since is carried over while the state
// stays the same, so it reports when the current state was entered.
func (m *Monitor) Update(name string, status Status) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	status.Name = name
	status.Updated = now
	if prev, ok := m.statuses[name]; ok && prev.State == status.State {
		status.Since = prev.Since
	} else {
		status.Since = now
	}
	m.statuses[name] = status
}

// Get returns the status recorded under name.
func (m *Monitor) Get(name string) (Status, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	status, ok := m.statuses[name]
	return status, ok
}

// Remove stops tracking name.
func (m *Monitor) Remove(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.statuses, name)
}

// Snapshot returns every status sorted by name.
func (m *Monitor) Snapshot() []Status {
	m.mu.RLock()
	out := make([]Status, 0, len(m.statuses))
	for _, st := range m.statuses {
		out = append(out, st)
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Len returns the number of tracked adapters.
func (m *Monitor) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.statuses)
}

// Aggregate folds every tracked status under systemName.
func (m *Monitor) Aggregate(systemName string) Status {
	return Aggregate(systemName, m.Snapshot())
}

// HealthFunc returns a check for the metrics server's /health endpoint. The
// body is the aggregate as JSON. Degraded counts as healthy so a reconnecting
// adapter does not fail the check.
func (m *Monitor) HealthFunc(systemName string) func() (bool, string) {
	return func() (bool, string) {
		status := m.Aggregate(systemName)
		body, err := json.Marshal(status)
		if err != nil {
			return !status.IsUnhealthy(), status.Message
		}
		return !status.IsUnhealthy(), string(body)
	}
}
