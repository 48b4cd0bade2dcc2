package proxy

import (
	"crypto/rand"
	"math/big"
	"sync"
	"sync/atomic"
	"time"

	"ferron/internal/lockutil"
)

// Algorithm selects among the closed set spec.md §4.6 names for backend
// selection.
type Algorithm int

const (
	AlgorithmTwoRandom Algorithm = iota
	AlgorithmLeastConn
	AlgorithmRoundRobin
	AlgorithmRandom
)

func ParseAlgorithm(s string) Algorithm {
	switch s {
	case "least_conn":
		return AlgorithmLeastConn
	case "round_robin":
		return AlgorithmRoundRobin
	case "random":
		return AlgorithmRandom
	default:
		return AlgorithmTwoRandom
	}
}

// Backend is one upstream target: a plain host:port/scheme URL (proxy_to
// style), or DNS-SRV-resolved (proxy_srv style, populated by Resolve).
type Backend struct {
	URL            string
	Weight         int
	FromSRVPriority int
}

// health tracks the "recent_failures, window_start" state spec.md §3
// names for the reverse proxy's upstream pool entry, reset once a
// configurable window elapses so transient failures don't permanently
// exile a backend.
type health struct {
	mu            lockutil.Mutex
	failures      map[string]int
	windowStart   map[string]time.Time
	window        time.Duration
}

func newHealth(window time.Duration) *health {
	return &health{
		failures:    make(map[string]int),
		windowStart: make(map[string]time.Time),
		window:      window,
	}
}

func (h *health) recordFailure(backend string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	now := time.Now()
	start, ok := h.windowStart[backend]
	if !ok || now.Sub(start) > h.window {
		h.windowStart[backend] = now
		h.failures[backend] = 0
	}
	h.failures[backend]++
}

func (h *health) recordSuccess(backend string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.failures, backend)
	delete(h.windowStart, backend)
}

func (h *health) failureCount(backend string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	start, ok := h.windowStart[backend]
	if !ok || time.Since(start) > h.window {
		return 0
	}
	return h.failures[backend]
}

// Balancer picks an upstream from a configured list, optionally
// excluding backends whose failure count within the current window
// exceeds maxFails, per original_source's determine_proxy_to
// random-with-retry selection.
type Balancer struct {
	backends    []Backend
	healthCheck bool
	maxFails    int
	health      *health
	algorithm   Algorithm

	roundRobinNext atomic.Uint64
	inFlight       sync.Map // backend URL -> *atomic.Int64
}

func NewBalancer(backends []Backend, healthCheck bool, maxFails int, failureWindow time.Duration) *Balancer {
	return &Balancer{
		backends:    backends,
		healthCheck: healthCheck,
		maxFails:    maxFails,
		health:      newHealth(failureWindow),
		algorithm:   AlgorithmTwoRandom,
	}
}

func (b *Balancer) WithAlgorithm(a Algorithm) *Balancer {
	b.algorithm = a
	return b
}

// Pick returns a backend URL, preferring ones under the failure
// threshold when health checking is enabled; it degrades to picking
// amongst all backends if every one of them is currently unhealthy
// (an overloaded cluster should still attempt service, not 502 outright).
func (b *Balancer) Pick() (string, bool) {
	candidates := b.healthyCandidates()
	if len(candidates) == 0 {
		return "", false
	}

	switch b.algorithm {
	case AlgorithmRoundRobin:
		idx := b.roundRobinNext.Add(1) - 1
		return candidates[int(idx%uint64(len(candidates)))].URL, true
	case AlgorithmLeastConn:
		return b.pickLeastConn(candidates), true
	case AlgorithmTwoRandom:
		return b.pickTwoRandom(candidates), true
	default: // AlgorithmRandom
		return candidates[randIndex(len(candidates))].URL, true
	}
}

func (b *Balancer) healthyCandidates() []Backend {
	if len(b.backends) == 0 {
		return nil
	}
	if !b.healthCheck {
		return b.backends
	}
	candidates := make([]Backend, 0, len(b.backends))
	for _, be := range b.backends {
		if b.health.failureCount(be.URL) <= b.maxFails {
			candidates = append(candidates, be)
		}
	}
	if len(candidates) == 0 {
		return b.backends
	}
	return candidates
}

// pickTwoRandom samples two candidates and returns whichever has fewer
// in-flight requests, the default algorithm per spec.md §4.6.
func (b *Balancer) pickTwoRandom(candidates []Backend) string {
	if len(candidates) == 1 {
		return candidates[0].URL
	}
	i := randIndex(len(candidates))
	j := randIndex(len(candidates))
	for j == i {
		j = randIndex(len(candidates))
	}
	if b.connCount(candidates[j].URL) < b.connCount(candidates[i].URL) {
		return candidates[j].URL
	}
	return candidates[i].URL
}

func (b *Balancer) pickLeastConn(candidates []Backend) string {
	best := candidates[0]
	bestCount := b.connCount(best.URL)
	for _, c := range candidates[1:] {
		if n := b.connCount(c.URL); n < bestCount {
			best, bestCount = c, n
		}
	}
	return best.URL
}

func (b *Balancer) connCount(backend string) int64 {
	v, ok := b.inFlight.Load(backend)
	if !ok {
		return 0
	}
	return v.(*atomic.Int64).Load()
}

// StartRequest/EndRequest track in-flight counts for least_conn and
// two_random; callers bracket an upstream round-trip with them.
func (b *Balancer) StartRequest(backend string) {
	counter, _ := b.inFlight.LoadOrStore(backend, new(atomic.Int64))
	counter.(*atomic.Int64).Add(1)
}

func (b *Balancer) EndRequest(backend string) {
	if v, ok := b.inFlight.Load(backend); ok {
		v.(*atomic.Int64).Add(-1)
	}
}

func (b *Balancer) RecordFailure(backend string) { b.health.recordFailure(backend) }
func (b *Balancer) RecordSuccess(backend string) { b.health.recordSuccess(backend) }

func randIndex(n int) int {
	if n <= 1 {
		return 0
	}
	bi, err := rand.Int(rand.Reader, big.NewInt(int64(n)))
	if err != nil {
		return 0
	}
	return int(bi.Int64())
}
