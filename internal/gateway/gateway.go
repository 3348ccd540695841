// Package gateway wires the registry, health monitor, breakers, cache,
// router, and batch aggregator into one HTTP process.
//
// DESIGN: New builds the object graph from config and registers every
// configured service up front; Start blocks on ListenAndServe the way
// callers expect to run it in a goroutine; Shutdown drains the server
// before closing the event hub, cache, and audit log. Breaker and
// health transitions funnel through two callbacks here, which is the
// single place operational events fan out to logs, Prometheus, the
// websocket hub, and the audit trail.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/relayforge/service-gateway/internal/batch"
	"github.com/relayforge/service-gateway/internal/breaker"
	"github.com/relayforge/service-gateway/internal/cache"
	"github.com/relayforge/service-gateway/internal/config"
	gwerrors "github.com/relayforge/service-gateway/internal/errors"
	"github.com/relayforge/service-gateway/internal/health"
	"github.com/relayforge/service-gateway/internal/monitoring"
	"github.com/relayforge/service-gateway/internal/registry"
	"github.com/relayforge/service-gateway/internal/router"
	"github.com/relayforge/service-gateway/internal/utils"
)

const (
	// HeaderRequestID carries the request correlation ID both ways.
	HeaderRequestID = "X-Request-ID"
	// HeaderServedFromCache marks proxied responses answered from cache.
	HeaderServedFromCache = "X-Served-From-Cache"
)

// Gateway is the orchestration process: one HTTP surface over the
// registered backend services.
type Gateway struct {
	config   *config.Config
	registry *registry.Registry
	breakers *breaker.Set
	cache    *cache.Store
	monitor  *health.Monitor
	router   *router.Router
	batcher  *batch.Aggregator
	metrics  *monitoring.MetricsCollector
	prom     *monitoring.PromMetrics
	hub      *monitoring.Hub
	audit    *monitoring.AuditLog

	server *http.Server
}

// New builds a gateway from the config, registering every configured
// service. The only runtime failure is an audit store that cannot be
// opened; config problems are caught by config.Validate before this.
func New(cfg *config.Config) (*Gateway, error) {
	g := &Gateway{
		config:   cfg,
		registry: registry.New(),
		cache:    cache.New(cfg.Cache.DefaultTTL.Std(), cfg.Cache.CleanupInterval.Std(), cfg.Cache.MaxEntries),
		metrics:  monitoring.NewMetricsCollector(),
		prom:     monitoring.NewPromMetrics(),
		hub:      monitoring.NewHub(cfg.Events.SubscriberBuffer),
	}
	g.breakers = breaker.NewSet(g.onBreakerTransition)

	if cfg.Audit.Enabled {
		audit, err := monitoring.OpenAudit(cfg.Audit.Path, cfg.Audit.MaxRows)
		if err != nil {
			return nil, fmt.Errorf("failed to open audit log: %w", err)
		}
		g.audit = audit
	}

	for _, sc := range cfg.Services {
		d := registry.FromServiceConfig(sc)
		if err := g.registry.Register(d); err != nil {
			return nil, fmt.Errorf("failed to register service %q: %w", sc.Name, err)
		}
		g.breakers.Ensure(d.Name, d.Breaker)
		g.prom.SetBreakerState(d.Name, breaker.StateClosed.String())
		g.prom.SetServiceHealth(d.Name, string(health.StatusUnknown))
	}

	g.monitor = health.NewMonitor(g.registry, cfg.Health.PollInterval.Std(), cfg.Health.ProbeTimeout.Std(), g.onHealthChange)
	g.router = router.New(router.Deps{
		Registry:          g.registry,
		Breakers:          g.breakers,
		Cache:             g.cache,
		Metrics:           g.metrics,
		Prom:              g.prom,
		CacheIgnoreFields: cfg.Cache.IgnoreFields,
	})
	g.batcher = batch.New(batch.Deps{
		Router:         g.router,
		Metrics:        g.metrics,
		Prom:           g.prom,
		MaxSize:        cfg.Batch.MaxSize,
		MaxConcurrency: cfg.Batch.MaxConcurrency,
	})

	g.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           g.routes(),
		ReadTimeout:       cfg.Server.ReadTimeout.Std(),
		ReadHeaderTimeout: 10 * time.Second,
		// The websocket event feed hijacks its connection on upgrade, so a
		// server-wide write timeout cannot cut long-lived streams.
		WriteTimeout: cfg.Server.WriteTimeout.Std(),
	}
	return g, nil
}

// routes builds the HTTP surface.
func (g *Gateway) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", g.handleIndex)
	mux.HandleFunc("GET /health", g.handleHealth)
	mux.Handle("GET /metrics", g.prom.Handler())
	mux.HandleFunc("POST /route", g.handleRoute)
	mux.HandleFunc("POST /batch", g.handleBatch)
	mux.HandleFunc("GET /services", g.handleListServices)
	mux.HandleFunc("POST /services", g.handleRegisterService)
	mux.HandleFunc("DELETE /services/{name}", g.handleUnregisterService)
	mux.HandleFunc("POST /cache/clear", g.handleCacheClear)
	mux.HandleFunc("GET /stats", g.handleStats)
	mux.HandleFunc("GET /audit/events", g.handleAuditEvents)
	mux.HandleFunc("GET /events/ws", g.handleEventsWS)
	return mux
}

// Handler exposes the gateway's HTTP surface without the listener, for
// embedding and tests.
func (g *Gateway) Handler() http.Handler {
	return g.server.Handler
}

// Start launches the health poller and blocks serving HTTP until
// Shutdown is called or the listener fails.
func (g *Gateway) Start() error {
	g.monitor.Start(context.Background())
	g.publishEvent(monitoring.EventGatewayStarted, "", g.server.Addr)
	log.Info().
		Str("addr", g.server.Addr).
		Int("services", g.registry.Len()).
		Bool("audit", g.audit != nil).
		Msg("Gateway listening")

	err := g.server.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown drains in-flight requests, then tears the components down.
// The context bounds the drain.
func (g *Gateway) Shutdown(ctx context.Context) error {
	log.Info().Msg("Gateway shutting down")
	g.publishEvent(monitoring.EventGatewayStopped, "", "")
	g.monitor.Stop()

	err := g.server.Shutdown(ctx)

	g.hub.Close()
	g.cache.Close()
	if g.audit != nil {
		if cerr := g.audit.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}
	return err
}

// publishEvent fans one operational event out to the websocket hub and,
// when enabled, the audit trail.
func (g *Gateway) publishEvent(kind monitoring.EventKind, service, detail string) {
	evt := monitoring.NewEvent(kind, service, detail)
	g.hub.Publish(evt)
	if g.audit != nil {
		g.audit.Record(evt)
	}
}

// onBreakerTransition reacts to breaker state changes. Runs outside the
// breaker's lock, so ordering under heavy contention is best-effort.
func (g *Gateway) onBreakerTransition(service string, from, to breaker.State) {
	evt := log.Info()
	if to == breaker.StateOpen {
		evt = log.Warn()
	}
	evt.
		Str("service", service).
		Str("from", from.String()).
		Str("to", to.String()).
		Msg("Breaker state changed")

	g.prom.SetBreakerState(service, to.String())
	g.prom.IncBreakerTransition(service, to.String())
	g.publishEvent(monitoring.EventBreakerTransition, service, from.String()+" -> "+to.String())
}

// onHealthChange reacts to health flips observed by the monitor, which
// does its own logging.
func (g *Gateway) onHealthChange(rec health.Record, from health.Status) {
	g.prom.SetServiceHealth(rec.Service, string(rec.Status))
	g.publishEvent(monitoring.EventHealthChange, rec.Service, string(from)+" -> "+string(rec.Status))
}

// getRequestID returns the caller's correlation ID or mints one.
func (g *Gateway) getRequestID(r *http.Request) string {
	if id := r.Header.Get(HeaderRequestID); id != "" {
		return id
	}
	return uuid.New().String()
}

// isLoopback reports whether the remote address is a loopback address.
// Operational endpoints use this as their only access control.
func isLoopback(remoteAddr string) bool {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		host = remoteAddr
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

// writeJSON writes v without HTML escaping; proxied payloads embedded
// in responses must round-trip byte-identical.
func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := utils.MarshalNoEscape(v)
	if err != nil {
		http.Error(w, "encoding failure", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}

// errorBody is the JSON error shape shared by every non-2xx gateway
// response except verbatim upstream pass-through.
type errorBody struct {
	Class   string `json:"class"`
	Service string `json:"service,omitempty"`
	Message string `json:"message"`
}

type errorResponse struct {
	Error     errorBody `json:"error"`
	RequestID string    `json:"request_id"`
}

// writeError maps a routing error onto the wire. Upstream errors are
// relayed verbatim (status, body, content type untouched) so the
// gateway stays transparent; everything else gets the structured body.
func (g *Gateway) writeError(w http.ResponseWriter, requestID string, err error) {
	var ge *gwerrors.Error
	if !errors.As(err, &ge) {
		ge = &gwerrors.Error{Class: gwerrors.Class("internal_error"), Message: err.Error()}
	}

	w.Header().Set(HeaderRequestID, requestID)
	if ge.Class == gwerrors.ClassUpstream {
		ct := ge.ContentType
		if ct == "" {
			ct = "application/json"
		}
		w.Header().Set("Content-Type", ct)
		w.WriteHeader(ge.Status)
		_, _ = w.Write(ge.Body)
		return
	}

	writeJSON(w, gwerrors.HTTPStatus(ge), errorResponse{
		Error:     errorBody{Class: string(ge.Class), Service: ge.Service, Message: ge.Message},
		RequestID: requestID,
	})
}

// writeBadRequest covers HTTP-layer input problems (malformed JSON,
// bad query values) that never reach the routing taxonomy.
func writeBadRequest(w http.ResponseWriter, requestID, msg string) {
	w.Header().Set(HeaderRequestID, requestID)
	writeJSON(w, http.StatusBadRequest, errorResponse{
		Error:     errorBody{Class: "bad_request", Message: msg},
		RequestID: requestID,
	})
}
