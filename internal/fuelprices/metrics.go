package fuelprices

import (
	"sync"
	"time"
)

// Metrics holds update metrics for a provider.
type Metrics struct {
	mu                sync.RWMutex
	TotalRequests     int64
	TotalErrors       int64
	LastUpdateAt      *time.Time
	LastUpdateSuccess bool
	LastResponseTime  time.Duration
	LastLocationCount int
	LastError         *string
}

// GetSnapshot returns a thread-safe snapshot of the metrics.
func (m *Metrics) GetSnapshot() MetricsSnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return MetricsSnapshot{
		TotalRequests:     m.TotalRequests,
		TotalErrors:       m.TotalErrors,
		LastUpdateAt:      m.LastUpdateAt,
		LastUpdateSuccess: m.LastUpdateSuccess,
		LastResponseTime:  m.LastResponseTime,
		LastLocationCount: m.LastLocationCount,
		LastError:         m.LastError,
	}
}

// MetricsSnapshot is a thread-safe copy of Metrics data.
type MetricsSnapshot struct {
	TotalRequests     int64
	TotalErrors       int64
	LastUpdateAt      *time.Time
	LastUpdateSuccess bool
	LastResponseTime  time.Duration
	LastLocationCount int
	LastError         *string
}

func (m *Metrics) record(at time.Time, duration time.Duration, count int, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.TotalRequests++
	m.LastUpdateAt = &at
	m.LastResponseTime = duration
	if err != nil {
		m.TotalErrors++
		m.LastUpdateSuccess = false
		errStr := err.Error()
		m.LastError = &errStr
		return
	}
	m.LastUpdateSuccess = true
	m.LastError = nil
	m.LastLocationCount = count
}
