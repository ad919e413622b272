package errors

import (
	"sync"
	"time"
)

// ErrorTracker tracks error metrics for observability, exposed to
// internal/metrics as docdb_errors_total{code=...} per spec.md §7.
type ErrorTracker struct {
	mu             sync.RWMutex
	categoryCounts map[ErrorCategory]uint64
	codeCounts     map[Code]uint64
	lastOccurrence map[ErrorCategory]time.Time
	criticalAlerts []CriticalAlert
}

// CriticalAlert represents a critical error that requires attention.
type CriticalAlert struct {
	Category    ErrorCategory
	Code        Code
	OccurredAt  time.Time
	Description string
}

// NewErrorTracker creates a new error tracker.
func NewErrorTracker() *ErrorTracker {
	return &ErrorTracker{
		categoryCounts: make(map[ErrorCategory]uint64),
		codeCounts:     make(map[Code]uint64),
		lastOccurrence: make(map[ErrorCategory]time.Time),
		criticalAlerts: make([]CriticalAlert, 0),
	}
}

// RecordError records an error occurrence under the given category.
func (et *ErrorTracker) RecordError(err error, category ErrorCategory) {
	et.mu.Lock()
	defer et.mu.Unlock()

	code := CodeOf(err)
	et.categoryCounts[category]++
	et.codeCounts[code]++
	et.lastOccurrence[category] = time.Now()

	if category == CategoryCritical {
		alert := CriticalAlert{
			Category:    category,
			Code:        code,
			OccurredAt:  time.Now(),
			Description: err.Error(),
		}
		et.criticalAlerts = append(et.criticalAlerts, alert)
		if len(et.criticalAlerts) > 100 {
			et.criticalAlerts = et.criticalAlerts[len(et.criticalAlerts)-100:]
		}
	}
}

// CountByCategory returns the count of errors for a category.
func (et *ErrorTracker) CountByCategory(category ErrorCategory) uint64 {
	et.mu.RLock()
	defer et.mu.RUnlock()
	return et.categoryCounts[category]
}

// CountByCode returns the count of errors for a stable code.
func (et *ErrorTracker) CountByCode(code Code) uint64 {
	et.mu.RLock()
	defer et.mu.RUnlock()
	return et.codeCounts[code]
}

// Snapshot returns a copy of all per-code counts, for metrics export.
func (et *ErrorTracker) Snapshot() map[Code]uint64 {
	et.mu.RLock()
	defer et.mu.RUnlock()
	out := make(map[Code]uint64, len(et.codeCounts))
	for k, v := range et.codeCounts {
		out[k] = v
	}
	return out
}

// LastOccurrence returns the last occurrence time for a category.
func (et *ErrorTracker) LastOccurrence(category ErrorCategory) time.Time {
	et.mu.RLock()
	defer et.mu.RUnlock()
	return et.lastOccurrence[category]
}

// CriticalAlerts returns all tracked critical alerts.
func (et *ErrorTracker) CriticalAlerts() []CriticalAlert {
	et.mu.RLock()
	defer et.mu.RUnlock()

	alerts := make([]CriticalAlert, len(et.criticalAlerts))
	copy(alerts, et.criticalAlerts)
	return alerts
}

// Reset clears all error tracking data.
func (et *ErrorTracker) Reset() {
	et.mu.Lock()
	defer et.mu.Unlock()

	et.categoryCounts = make(map[ErrorCategory]uint64)
	et.codeCounts = make(map[Code]uint64)
	et.lastOccurrence = make(map[ErrorCategory]time.Time)
	et.criticalAlerts = make([]CriticalAlert, 0)
}
