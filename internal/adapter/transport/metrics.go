package transport

import (
	"sync"
	"time"
)

// Metrics tracks aggregate statistics for outbound service calls.
type Metrics interface {
	// RecordRequest records a service request
	RecordRequest(service, model string)

	// RecordDuration records request duration
	RecordDuration(service, model string, duration time.Duration)

	// RecordTokens records token usage
	RecordTokens(service, model string, tokensIn, tokensOut int)

	// RecordCost records API cost
	RecordCost(service, model string, cost float64)

	// RecordError records an error
	RecordError(service, model string, errType ErrorType)

	// GetStats returns current statistics
	GetStats() Stats
}

// Stats contains aggregate statistics.
type Stats struct {
	TotalRequests  int
	TotalTokensIn  int
	TotalTokensOut int
	TotalCost      float64
	TotalDuration  time.Duration
	ErrorCount     int
	ByService      map[string]ServiceStats
}

// ServiceStats contains per-service statistics.
type ServiceStats struct {
	Requests  int
	TokensIn  int
	TokensOut int
	Cost      float64
	Duration  time.Duration
	Errors    int
}

// DefaultMetrics provides in-memory metrics tracking.
type DefaultMetrics struct {
	mu    sync.RWMutex
	stats Stats
}

// NewDefaultMetrics creates a metrics tracker.
func NewDefaultMetrics() *DefaultMetrics {
	return &DefaultMetrics{
		stats: Stats{
			ByService: make(map[string]ServiceStats),
		},
	}
}

// RecordRequest increments request counters.
func (m *DefaultMetrics) RecordRequest(service, model string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.stats.TotalRequests++

	ss := m.stats.ByService[service]
	ss.Requests++
	m.stats.ByService[service] = ss
}

// RecordDuration records call duration.
func (m *DefaultMetrics) RecordDuration(service, model string, duration time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.stats.TotalDuration += duration

	ss := m.stats.ByService[service]
	ss.Duration += duration
	m.stats.ByService[service] = ss
}

// RecordTokens records token usage.
func (m *DefaultMetrics) RecordTokens(service, model string, tokensIn, tokensOut int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.stats.TotalTokensIn += tokensIn
	m.stats.TotalTokensOut += tokensOut

	ss := m.stats.ByService[service]
	ss.TokensIn += tokensIn
	ss.TokensOut += tokensOut
	m.stats.ByService[service] = ss
}

// RecordCost records API cost.
func (m *DefaultMetrics) RecordCost(service, model string, cost float64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.stats.TotalCost += cost

	ss := m.stats.ByService[service]
	ss.Cost += cost
	m.stats.ByService[service] = ss
}

// RecordError records an error.
func (m *DefaultMetrics) RecordError(service, model string, errType ErrorType) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.stats.ErrorCount++

	ss := m.stats.ByService[service]
	ss.Errors++
	m.stats.ByService[service] = ss
}

// GetStats returns a copy of current statistics.
func (m *DefaultMetrics) GetStats() Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	statsCopy := Stats{
		TotalRequests:  m.stats.TotalRequests,
		TotalTokensIn:  m.stats.TotalTokensIn,
		TotalTokensOut: m.stats.TotalTokensOut,
		TotalCost:      m.stats.TotalCost,
		TotalDuration:  m.stats.TotalDuration,
		ErrorCount:     m.stats.ErrorCount,
		ByService:      make(map[string]ServiceStats),
	}

	for k, v := range m.stats.ByService {
		statsCopy.ByService[k] = v
	}

	return statsCopy
}
