package llm

import (
	"sync"
)

// ProviderStats is the usage snapshot for one provider.
type ProviderStats struct {
	// Requests counts dispatches to this provider. A call that fails over
	// counts once on every provider it touched.
	Requests int64
	// Failures counts dispatches that exhausted their retry budget.
	Failures int64
	// Share is this provider's fraction of all provider dispatches,
	// in [0, 1]. Zero when nothing has been dispatched yet.
	Share float64
}

// Stats is a point-in-time snapshot of dispatcher usage.
type Stats struct {
	// TotalCalls counts public dispatch calls (Embed, EmbedBatch,
	// Complete).
	TotalCalls int64
	// Failovers counts transitions past a failed provider.
	Failovers int64
	Providers  map[string]ProviderStats
}

type dispatcherStats struct {
	mu        sync.Mutex
	calls     int64
	failovers int64
	requests  map[string]int64
	failures  map[string]int64
}

func (s *dispatcherStats) init(providers []Provider) {
	s.requests = make(map[string]int64, len(providers))
	s.failures = make(map[string]int64, len(providers))
	for _, p := range providers {
		s.requests[p.Name()] = 0
		s.failures[p.Name()] = 0
	}
}

func (s *dispatcherStats) recordCall() {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()
}

func (s *dispatcherStats) recordFailover() {
	s.mu.Lock()
	s.failovers++
	s.mu.Unlock()
}

func (s *dispatcherStats) recordRequest(name string) {
	s.mu.Lock()
	s.requests[name]++
	s.mu.Unlock()
}

func (s *dispatcherStats) recordFailure(name string) {
	s.mu.Lock()
	s.failures[name]++
	s.mu.Unlock()
}

// Stats returns a snapshot of dispatcher usage.
func (d *Dispatcher) Stats() Stats {
	d.stats.mu.Lock()
	defer d.stats.mu.Unlock()

	var totalRequests int64
	for _, n := range d.stats.requests {
		totalRequests += n
	}

	out := Stats{
		TotalCalls: d.stats.calls,
		Failovers:  d.stats.failovers,
		Providers:  make(map[string]ProviderStats, len(d.stats.requests)),
	}
	for name, n := range d.stats.requests {
		ps := ProviderStats{
			Requests: n,
			Failures: d.stats.failures[name],
		}
		if totalRequests > 0 {
			ps.Share = float64(n) / float64(totalRequests)
		}
		out.Providers[name] = ps
	}
	return out
}

// ResetStats zeroes all usage counters.
func (d *Dispatcher) ResetStats() {
	d.stats.mu.Lock()
	defer d.stats.mu.Unlock()

	d.stats.calls = 0
	d.stats.failovers = 0
	for name := range d.stats.requests {
		d.stats.requests[name] = 0
		d.stats.failures[name] = 0
	}
}
