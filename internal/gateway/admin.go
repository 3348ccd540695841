// Package gateway - admin.go is the runtime management surface:
// service registration, inspection, and cache invalidation.
//
// Mutating endpoints are loopback-only, the same access model the
// other operational surfaces use. Anything needing real authentication
// belongs behind a fronting proxy.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/relayforge/service-gateway/internal/breaker"
	"github.com/relayforge/service-gateway/internal/config"
	gwerrors "github.com/relayforge/service-gateway/internal/errors"
	"github.com/relayforge/service-gateway/internal/health"
	"github.com/relayforge/service-gateway/internal/monitoring"
	"github.com/relayforge/service-gateway/internal/registry"
)

// serviceSpec mirrors the YAML service block for the JSON admin API.
// Durations take the same forms the config file does ("250ms", "30s",
// bare seconds).
type serviceSpec struct {
	Name         string      `json:"name"`
	BaseURL      string      `json:"base_url"`
	HealthPath   string      `json:"health_path,omitempty"`
	Critical     bool        `json:"critical,omitempty"`
	CallTimeout  string      `json:"call_timeout,omitempty"`
	MaxRetries   int         `json:"max_retries,omitempty"`
	RetryBackoff string      `json:"retry_backoff,omitempty"`
	CacheTTL     string      `json:"cache_ttl,omitempty"`
	Breaker      breakerSpec `json:"breaker"`
}

type breakerSpec struct {
	FailureThreshold    int     `json:"failure_threshold,omitempty"`
	OpenDuration        string  `json:"open_duration,omitempty"`
	BackoffFactor       float64 `json:"backoff_factor,omitempty"`
	MaxOpenDuration     string  `json:"max_open_duration,omitempty"`
	CountUpstreamErrors bool    `json:"count_upstream_errors,omitempty"`
}

// serviceConfig converts the wire spec into a config block, leaving
// defaulting and validation to the config package.
func (ss serviceSpec) serviceConfig() (config.ServiceConfig, error) {
	sc := config.ServiceConfig{
		Name:       ss.Name,
		BaseURL:    ss.BaseURL,
		HealthPath: ss.HealthPath,
		Critical:   ss.Critical,
		MaxRetries: ss.MaxRetries,
		Breaker: config.BreakerConfig{
			FailureThreshold:    ss.Breaker.FailureThreshold,
			BackoffFactor:       ss.Breaker.BackoffFactor,
			CountUpstreamErrors: ss.Breaker.CountUpstreamErrors,
		},
	}

	var err error
	if sc.CallTimeout, err = config.ParseDuration(ss.CallTimeout); err != nil {
		return sc, fmt.Errorf("call_timeout: %w", err)
	}
	if sc.RetryBackoff, err = config.ParseDuration(ss.RetryBackoff); err != nil {
		return sc, fmt.Errorf("retry_backoff: %w", err)
	}
	if sc.CacheTTL, err = config.ParseDuration(ss.CacheTTL); err != nil {
		return sc, fmt.Errorf("cache_ttl: %w", err)
	}
	if sc.Breaker.OpenDuration, err = config.ParseDuration(ss.Breaker.OpenDuration); err != nil {
		return sc, fmt.Errorf("breaker.open_duration: %w", err)
	}
	if sc.Breaker.MaxOpenDuration, err = config.ParseDuration(ss.Breaker.MaxOpenDuration); err != nil {
		return sc, fmt.Errorf("breaker.max_open_duration: %w", err)
	}
	return sc, nil
}

// serviceView merges static registration with live health and breaker
// state for GET /services.
type serviceView struct {
	Name     string            `json:"name"`
	BaseURL  string            `json:"base_url"`
	Critical bool              `json:"critical"`
	Health   health.Record     `json:"health"`
	Breaker  *breaker.Snapshot `json:"breaker,omitempty"`
}

// handleListServices returns every registered service with its health
// record and breaker snapshot.
func (g *Gateway) handleListServices(w http.ResponseWriter, r *http.Request) {
	descriptors := g.registry.Snapshot()
	views := make([]serviceView, 0, len(descriptors))
	for _, d := range descriptors {
		v := serviceView{
			Name:     d.Name,
			BaseURL:  d.BaseURL,
			Critical: d.Critical,
			Health:   g.monitor.RecordFor(d.Name),
		}
		if br, ok := g.breakers.Get(d.Name); ok {
			snap := br.Snapshot()
			v.Breaker = &snap
		}
		views = append(views, v)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"services": views,
		"count":    len(views),
	})
}

// handleRegisterService adds or replaces a service at runtime. The body
// mirrors a config service block; an existing breaker keeps its state
// across re-registration.
func (g *Gateway) handleRegisterService(w http.ResponseWriter, r *http.Request) {
	requestID := g.getRequestID(r)
	if !isLoopback(r.RemoteAddr) {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, g.config.Server.MaxBodyBytes)

	var spec serviceSpec
	if err := json.NewDecoder(r.Body).Decode(&spec); err != nil {
		writeBadRequest(w, requestID, "invalid request body: "+err.Error())
		return
	}
	sc, err := spec.serviceConfig()
	if err != nil {
		writeBadRequest(w, requestID, err.Error())
		return
	}
	sc.ApplyDefaults()
	if err := sc.Validate(); err != nil {
		writeBadRequest(w, requestID, err.Error())
		return
	}

	d := registry.FromServiceConfig(sc)
	if err := g.registry.Register(d); err != nil {
		writeBadRequest(w, requestID, err.Error())
		return
	}
	// Re-registration keeps any existing breaker and health record, so
	// the gauges mirror actual state rather than assuming a fresh start.
	br := g.breakers.Ensure(d.Name, d.Breaker)
	g.prom.SetBreakerState(d.Name, br.State().String())
	g.prom.SetServiceHealth(d.Name, string(g.monitor.StatusFor(d.Name)))

	// First health verdict should not wait for the next poll tick.
	go g.monitor.CheckNow(context.Background())

	log.Info().
		Str("service", d.Name).
		Str("base_url", d.BaseURL).
		Bool("critical", d.Critical).
		Msg("Service registered")
	g.publishEvent(monitoring.EventServiceRegistered, d.Name, d.BaseURL)

	w.Header().Set(HeaderRequestID, requestID)
	writeJSON(w, http.StatusCreated, map[string]any{
		"registered": d.Name,
		"request_id": requestID,
	})
}

// handleUnregisterService removes a service and all its derived state.
func (g *Gateway) handleUnregisterService(w http.ResponseWriter, r *http.Request) {
	requestID := g.getRequestID(r)
	if !isLoopback(r.RemoteAddr) {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	name := r.PathValue("name")
	if !g.registry.Unregister(name) {
		g.writeError(w, requestID, gwerrors.NewServiceNotFound(name))
		return
	}
	g.breakers.Remove(name)
	g.monitor.Forget(name)
	g.prom.RemoveService(name)

	log.Info().Str("service", name).Msg("Service unregistered")
	g.publishEvent(monitoring.EventServiceUnregistered, name, "")

	w.Header().Set(HeaderRequestID, requestID)
	writeJSON(w, http.StatusOK, map[string]any{
		"unregistered": name,
		"request_id":   requestID,
	})
}

// handleCacheClear drops cache entries, all of them or those whose key
// contains the given pattern. An empty body clears everything.
func (g *Gateway) handleCacheClear(w http.ResponseWriter, r *http.Request) {
	requestID := g.getRequestID(r)
	r.Body = http.MaxBytesReader(w, r.Body, 4096)

	var req struct {
		Pattern string `json:"pattern"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeBadRequest(w, requestID, "invalid request body: "+err.Error())
		return
	}

	cleared := g.cache.Clear(req.Pattern)
	g.prom.SetCacheEntries(g.cache.Size())

	log.Info().
		Str("pattern", req.Pattern).
		Int("cleared", cleared).
		Msg("Cache cleared")
	g.publishEvent(monitoring.EventCacheCleared, "", fmt.Sprintf("pattern=%q cleared=%d", req.Pattern, cleared))

	w.Header().Set(HeaderRequestID, requestID)
	writeJSON(w, http.StatusOK, map[string]any{
		"cleared":    cleared,
		"request_id": requestID,
	})
}
