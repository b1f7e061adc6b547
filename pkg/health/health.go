// Package health implements Kubernetes-style liveness and readiness probes.
//
// Probes run on a background ticker and hold their last result, so the
// /livez and /readyz handlers never block on a slow dependency. A probe
// flips to unhealthy only after failing failureThreshold consecutive runs,
// which keeps a single database hiccup from cycling the pod.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"
)

// CheckFunc probes one component. A nil return means healthy.
type CheckFunc func(ctx context.Context) error

const (
	failureThreshold = 3
	successThreshold = 1
)

// probe is one registered check plus its rolling state. State is guarded by
// mu; the ticker goroutine writes, HTTP handlers read.
type probe struct {
	name    string
	timeout time.Duration
	check   CheckFunc

	mu      sync.Mutex
	healthy bool
	lastErr error
	fails   int
	oks     int
}

func newProbe(name string, timeout time.Duration, check CheckFunc) *probe {
	// Assume healthy until a run proves otherwise.
	return &probe{name: name, timeout: timeout, check: check, healthy: true}
}

func (p *probe) run(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	err := p.check(ctx)

	p.mu.Lock()
	defer p.mu.Unlock()
	p.lastErr = err
	if err != nil {
		p.oks = 0
		if p.fails++; p.fails >= failureThreshold {
			p.healthy = false
		}
		return
	}
	p.fails = 0
	if p.oks++; p.oks >= successThreshold {
		p.healthy = true
	}
}

// status returns the probe's current health and, when unhealthy, a message.
func (p *probe) status() (bool, string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.healthy {
		return true, ""
	}
	if p.lastErr != nil {
		return false, p.lastErr.Error()
	}
	return false, "check is unhealthy"
}

// Health owns the probe sets for one service.
type Health struct {
	mu        sync.Mutex
	ready     bool
	liveness  []*probe
	readiness []*probe
	cancel    context.CancelFunc
}

// New returns a Health in the not-ready state. Call SetReady(true) once
// startup finishes.
func New() *Health {
	return &Health{}
}

// AddLivenessCheck registers a probe gating /livez.
func (h *Health) AddLivenessCheck(name string, timeout time.Duration, check CheckFunc) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.liveness = append(h.liveness, newProbe(name, timeout, check))
}

// AddReadinessCheck registers a probe gating /readyz.
func (h *Health) AddReadinessCheck(name string, timeout time.Duration, check CheckFunc) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.readiness = append(h.readiness, newProbe(name, timeout, check))
}

// Start launches one goroutine per registered probe, each running at
// interval until Stop is called or ctx ends. Register all probes first.
func (h *Health) Start(ctx context.Context, interval time.Duration) {
	ctx, cancel := context.WithCancel(ctx)

	h.mu.Lock()
	h.cancel = cancel
	probes := append(append([]*probe(nil), h.liveness...), h.readiness...)
	h.mu.Unlock()

	for _, p := range probes {
		go func(p *probe) {
			ticker := time.NewTicker(interval)
			defer ticker.Stop()

			p.run(ctx)
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					p.run(ctx)
				}
			}
		}(p)
	}
}

// Stop cancels the probe goroutines. Safe to call more than once.
func (h *Health) Stop() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.cancel != nil {
		h.cancel()
		h.cancel = nil
	}
}

// SetReady flips the manual readiness gate. Set false during graceful
// shutdown so the load balancer drains the instance.
func (h *Health) SetReady(ready bool) {
	h.mu.Lock()
	h.ready = ready
	h.mu.Unlock()
}

// IsReady reports whether the service was marked ready and every readiness
// probe currently passes.
func (h *Health) IsReady() bool {
	h.mu.Lock()
	ready := h.ready
	probes := h.readiness
	h.mu.Unlock()

	if !ready {
		return false
	}
	for _, p := range probes {
		if ok, _ := p.status(); !ok {
			return false
		}
	}
	return true
}

type statusResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// LiveEndpoint serves /livez: 200 when every liveness probe passes,
// otherwise 503 with the failing checks.
func (h *Health) LiveEndpoint(w http.ResponseWriter, _ *http.Request) {
	h.mu.Lock()
	probes := append([]*probe(nil), h.liveness...)
	h.mu.Unlock()

	writeStatus(w, failures(probes))
}

// ReadyEndpoint serves /readyz: 200 only when the service is marked ready
// and every readiness probe passes.
func (h *Health) ReadyEndpoint(w http.ResponseWriter, _ *http.Request) {
	h.mu.Lock()
	ready := h.ready
	probes := append([]*probe(nil), h.readiness...)
	h.mu.Unlock()

	fail := failures(probes)
	if !ready {
		fail["_readiness"] = "service is not ready"
	}
	writeStatus(w, fail)
}

func failures(probes []*probe) map[string]string {
	fail := make(map[string]string)
	for _, p := range probes {
		if ok, msg := p.status(); !ok {
			fail[p.name] = msg
		}
	}
	return fail
}

func writeStatus(w http.ResponseWriter, fail map[string]string) {
	w.Header().Set("Content-Type", "application/json")

	resp := statusResponse{Status: "ok"}
	code := http.StatusOK
	if len(fail) > 0 {
		resp = statusResponse{Status: "unhealthy", Checks: fail}
		code = http.StatusServiceUnavailable
	}
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(resp)
}
