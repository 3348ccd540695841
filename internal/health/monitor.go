// Periodic health polling for registered services.
//
// DESIGN: One poll cycle fans out a goroutine per service so a slow
// service never delays the others. Each probe runs on a dedicated HTTP
// client with its own timeout, fully isolated from live traffic
// budgets. The last completed poll always wins; results are not
// debounced. The monitor is a presentation and readiness signal, not a
// failure-isolation mechanism (that is the breaker's job), so the two
// views of a service may briefly disagree.
package health

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/tidwall/gjson"

	"github.com/relayforge/service-gateway/internal/config"
	"github.com/relayforge/service-gateway/internal/registry"
)

// Status is a service's last observed health.
type Status string

const (
	StatusUnknown   Status = "unknown"
	StatusHealthy   Status = "healthy"
	StatusUnhealthy Status = "unhealthy"
)

// Record is the outcome of the most recent poll for one service.
type Record struct {
	Service    string    `json:"service"`
	Status     Status    `json:"status"`
	CheckedAt  time.Time `json:"last_checked_at"`
	LatencyMs  int64     `json:"last_response_time_ms"`
	HTTPStatus int       `json:"http_status,omitempty"`
	Err        string    `json:"last_error,omitempty"`
}

// ChangeFunc observes health status transitions. Invoked outside the
// monitor's lock, once per service whose status actually changed.
type ChangeFunc func(rec Record, from Status)

// Monitor polls every registered service on a fixed interval.
type Monitor struct {
	registry *registry.Registry
	interval time.Duration
	client   *http.Client
	onChange ChangeFunc

	mu      sync.RWMutex
	records map[string]Record

	doneCh   chan struct{}
	stopOnce sync.Once
}

// NewMonitor creates a monitor polling the given registry. The probe
// timeout bounds each health request; onChange may be nil.
func NewMonitor(reg *registry.Registry, interval, probeTimeout time.Duration, onChange ChangeFunc) *Monitor {
	if interval <= 0 {
		interval = config.DefaultHealthPollInterval
	}
	if probeTimeout <= 0 {
		probeTimeout = config.DefaultHealthProbeTimeout
	}
	return &Monitor{
		registry: reg,
		interval: interval,
		client:   &http.Client{Timeout: probeTimeout},
		onChange: onChange,
		records:  make(map[string]Record),
		doneCh:   make(chan struct{}),
	}
}

// Start launches the polling loop. An immediate first cycle runs
// before the ticker so fresh gateways converge quickly. The loop ends
// when ctx is cancelled or Stop is called.
func (m *Monitor) Start(ctx context.Context) {
	go func() {
		m.CheckNow(ctx)

		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				m.CheckNow(ctx)
			case <-ctx.Done():
				return
			case <-m.doneCh:
				return
			}
		}
	}()
}

// Stop terminates the polling loop. Safe to call more than once.
func (m *Monitor) Stop() {
	m.stopOnce.Do(func() { close(m.doneCh) })
}

// CheckNow polls every registered service once and waits for all
// probes to complete. Tests and registration paths use this to drive
// polling deterministically instead of waiting out the interval.
func (m *Monitor) CheckNow(ctx context.Context) {
	services := m.registry.Snapshot()
	var wg sync.WaitGroup
	for _, d := range services {
		wg.Add(1)
		go func(d registry.Descriptor) {
			defer wg.Done()
			m.store(m.probe(ctx, d))
		}(d)
	}
	wg.Wait()
}

// probe issues one bounded GET against the service's health endpoint.
func (m *Monitor) probe(ctx context.Context, d registry.Descriptor) Record {
	rec := Record{Service: d.Name, CheckedAt: time.Now()}
	start := time.Now()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.HealthURL(), nil)
	if err != nil {
		rec.Status = StatusUnhealthy
		rec.Err = err.Error()
		return rec
	}

	resp, err := m.client.Do(req)
	rec.LatencyMs = time.Since(start).Milliseconds()
	if err != nil {
		rec.Status = StatusUnhealthy
		rec.Err = err.Error()
		return rec
	}
	defer func() { _ = resp.Body.Close() }()

	rec.HTTPStatus = resp.StatusCode
	body, _ := io.ReadAll(io.LimitReader(resp.Body, config.MaxHealthBodyBytes))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		rec.Status = StatusUnhealthy
		rec.Err = fmt.Sprintf("health endpoint returned status %d", resp.StatusCode)
		return rec
	}

	if marker, bad := unhealthyMarker(body); bad {
		// The endpoint answered 2xx but its body says otherwise.
		rec.Status = StatusUnhealthy
		rec.Err = fmt.Sprintf("health body reports %q", marker)
		return rec
	}

	rec.Status = StatusHealthy
	return rec
}

var (
	healthyMarkers   = map[string]bool{"ok": true, "healthy": true, "up": true, "pass": true, "alive": true, "ready": true}
	unhealthyMarkers = map[string]bool{"down": true, "fail": true, "failed": true, "error": true, "unhealthy": true}
)

// unhealthyMarker inspects a 2xx health body for an explicit bad
// status. Bodies are free-form across backends; a JSON status/state
// field or a bare token is recognized, anything else is taken as
// healthy since the endpoint already answered 2xx.
func unhealthyMarker(body []byte) (string, bool) {
	trimmed := strings.TrimSpace(string(body))
	if trimmed == "" {
		return "", false
	}

	if gjson.Valid(trimmed) {
		parsed := gjson.Parse(trimmed)
		for _, field := range []string{"status", "state", "health"} {
			v := parsed.Get(field)
			if !v.Exists() {
				continue
			}
			marker := strings.ToLower(strings.TrimSpace(v.String()))
			if unhealthyMarkers[marker] {
				return marker, true
			}
			if healthyMarkers[marker] {
				return "", false
			}
		}
		return "", false
	}

	token := strings.ToLower(trimmed)
	if unhealthyMarkers[token] {
		return token, true
	}
	return "", false
}

// store records the poll outcome and fires the change callback when
// the status moved.
func (m *Monitor) store(rec Record) {
	m.mu.Lock()
	prev, seen := m.records[rec.Service]
	m.records[rec.Service] = rec
	m.mu.Unlock()

	from := StatusUnknown
	if seen {
		from = prev.Status
	}
	if from == rec.Status {
		return
	}

	evt := log.Info()
	if rec.Status == StatusUnhealthy {
		evt = log.Warn()
	}
	evt.
		Str("service", rec.Service).
		Str("from", string(from)).
		Str("to", string(rec.Status)).
		Int64("latency_ms", rec.LatencyMs).
		Str("error", rec.Err).
		Msg("Service health changed")

	if m.onChange != nil {
		m.onChange(rec, from)
	}
}

// RecordFor returns the last poll outcome for the service. Before the
// first poll completes the record reads as unknown.
func (m *Monitor) RecordFor(service string) Record {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if rec, ok := m.records[service]; ok {
		return rec
	}
	return Record{Service: service, Status: StatusUnknown}
}

// StatusFor returns just the status portion of RecordFor.
func (m *Monitor) StatusFor(service string) Status {
	return m.RecordFor(service).Status
}

// Records returns the last poll outcome for every registered service,
// sorted by name. Registered services never polled yet appear as
// unknown.
func (m *Monitor) Records() []Record {
	names := m.registry.Names()

	m.mu.RLock()
	out := make([]Record, 0, len(names))
	for _, name := range names {
		if rec, ok := m.records[name]; ok {
			out = append(out, rec)
		} else {
			out = append(out, Record{Service: name, Status: StatusUnknown})
		}
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Service < out[j].Service })
	return out
}

// Ready reports whether every critical service is currently healthy.
// Gateways with no critical services are always ready.
func (m *Monitor) Ready() bool {
	services := m.registry.Snapshot()
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, d := range services {
		if !d.Critical {
			continue
		}
		rec, ok := m.records[d.Name]
		if !ok || rec.Status != StatusHealthy {
			return false
		}
	}
	return true
}

// Forget drops the stored record for an unregistered service.
func (m *Monitor) Forget(service string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.records, service)
}
