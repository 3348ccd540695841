// Package router - router.go shepherds a logical call through the
// resolution, cache, breaker, and retry layers to the backing service.
//
// DESIGN: Route is the single entry point for outbound traffic. Layer
// order is fixed: registry lookup, cache probe, breaker gate, then the
// attempt loop around the HTTP exchange. Retries cover transport
// failures and timeouts only; an HTTP response, whatever its status,
// ends the loop. Each call sequence reports exactly one outcome to its
// breaker no matter how many attempts ran. Upstream error responses
// come back as typed errors carrying the verbatim status, body, and
// content type so the serving layer can relay them untouched.
package router

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/tidwall/gjson"

	"github.com/relayforge/service-gateway/internal/breaker"
	"github.com/relayforge/service-gateway/internal/cache"
	"github.com/relayforge/service-gateway/internal/config"
	gwerrors "github.com/relayforge/service-gateway/internal/errors"
	"github.com/relayforge/service-gateway/internal/monitoring"
	"github.com/relayforge/service-gateway/internal/registry"
	"github.com/relayforge/service-gateway/internal/utils"
)

// hopByHopHeaders are stripped from pass-through headers. They describe
// the caller's connection to the gateway, not the gateway's connection
// to the service.
var hopByHopHeaders = map[string]struct{}{
	"Connection":          {},
	"Keep-Alive":          {},
	"Proxy-Authenticate":  {},
	"Proxy-Authorization": {},
	"Te":                  {},
	"Trailer":             {},
	"Transfer-Encoding":   {},
	"Upgrade":             {},
}

// Envelope describes one logical service call. The payload is opaque;
// the router forwards it without interpreting its shape.
type Envelope struct {
	// Service is the logical name resolved against the registry.
	Service string
	// Endpoint is the path on the target service, e.g. "/v1/charge".
	Endpoint string
	// Method is the HTTP method. Empty defaults to POST when a payload
	// is present and GET otherwise.
	Method string
	// Payload is forwarded verbatim as the request body.
	Payload []byte
	// Headers are extra request headers, passed through untouched apart
	// from hop-by-hop headers.
	Headers map[string]string
	// Cacheable opts this call into the response cache.
	Cacheable bool
	// CacheTTL overrides the service and store TTLs for this call.
	CacheTTL time.Duration
}

// Result is a completed call. Header holds the live upstream response
// headers and is nil when the result came from the cache; ContentType
// survives caching either way.
type Result struct {
	Status          int
	Payload         []byte
	ContentType     string
	Header          http.Header
	Duration        time.Duration
	Attempts        int
	ServedFromCache bool
}

// Deps are the router's collaborators. Zero-value fields are filled
// with working defaults by New, which keeps test setup small.
type Deps struct {
	Registry *registry.Registry
	Breakers *breaker.Set
	Cache    *cache.Store
	Metrics  *monitoring.MetricsCollector
	Prom     *monitoring.PromMetrics
	Client   *http.Client
	// CacheIgnoreFields are JSON paths removed from payloads before
	// cache fingerprinting, e.g. "request_id" or "meta.timestamp".
	CacheIgnoreFields []string
}

// Router executes logical service calls. Safe for concurrent use.
type Router struct {
	registry     *registry.Registry
	breakers     *breaker.Set
	cache        *cache.Store
	metrics      *monitoring.MetricsCollector
	prom         *monitoring.PromMetrics
	client       *http.Client
	ignoreFields []string
}

// New builds a Router, defaulting any collaborator left nil in deps.
func New(deps Deps) *Router {
	if deps.Registry == nil {
		deps.Registry = registry.New()
	}
	if deps.Breakers == nil {
		deps.Breakers = breaker.NewSet(nil)
	}
	if deps.Cache == nil {
		deps.Cache = cache.New(config.DefaultCacheTTL, 0, 0)
	}
	if deps.Metrics == nil {
		deps.Metrics = monitoring.NewMetricsCollector()
	}
	if deps.Prom == nil {
		deps.Prom = monitoring.NewPromMetrics()
	}
	if deps.Client == nil {
		// Per-attempt deadlines come from the descriptor's call timeout,
		// so the client itself carries none.
		deps.Client = &http.Client{}
	}
	return &Router{
		registry:     deps.Registry,
		breakers:     deps.Breakers,
		cache:        deps.Cache,
		metrics:      deps.Metrics,
		prom:         deps.Prom,
		client:       deps.Client,
		ignoreFields: deps.CacheIgnoreFields,
	}
}

// Route resolves the envelope's service and executes the call. On an
// upstream error response the returned error is a *gwerrors.Error with
// class upstream_error and the verbatim response attached; all other
// failures carry their own class. A nil error means a response with
// status below 400.
func (rt *Router) Route(ctx context.Context, env Envelope) (*Result, error) {
	start := time.Now()

	d, err := rt.registry.Resolve(env.Service)
	if err != nil {
		// No per-service Prometheus sample here: unknown names are
		// caller-controlled and would grow the label set without bound.
		rt.metrics.RecordRequest(false, time.Since(start))
		return nil, err
	}

	method := strings.ToUpper(strings.TrimSpace(env.Method))
	if method == "" {
		if len(env.Payload) > 0 {
			method = http.MethodPost
		} else {
			method = http.MethodGet
		}
	}

	var key string
	if env.Cacheable {
		key = cache.Key(d.Name, env.Endpoint, method, env.Payload, rt.ignoreFields)
		if entry, ok := rt.cache.Get(key); ok {
			elapsed := time.Since(start)
			rt.metrics.RecordCacheHit()
			rt.metrics.RecordRequest(true, elapsed)
			rt.prom.ObserveRequest(d.Name, "cache_hit", elapsed)
			log.Debug().
				Str("service", d.Name).
				Str("endpoint", env.Endpoint).
				Msg("Cache hit")
			return &Result{
				Status:          entry.Status,
				Payload:         entry.Body,
				ContentType:     entry.ContentType,
				Duration:        elapsed,
				ServedFromCache: true,
			}, nil
		}
		rt.metrics.RecordCacheMiss()
	}

	br := rt.breakers.Ensure(d.Name, d.Breaker)
	if err := br.Allow(); err != nil {
		elapsed := time.Since(start)
		rt.metrics.RecordBreakerRejection()
		rt.metrics.RecordRequest(false, elapsed)
		rt.prom.ObserveRequest(d.Name, string(gwerrors.ClassCircuitOpen), elapsed)
		log.Warn().
			Str("service", d.Name).
			Str("endpoint", env.Endpoint).
			Str("class", string(gwerrors.ClassCircuitOpen)).
			Dur("duration", elapsed).
			Msg("Circuit open, call rejected")
		return nil, err
	}

	targetURL := d.CallURL(env.Endpoint)
	if d.CallTimeout <= 0 {
		d.CallTimeout = config.DefaultCallTimeout
	}
	maxRetries := d.MaxRetries
	if maxRetries < 0 {
		maxRetries = 0
	}
	attempts := 0
	backoff := d.RetryBackoff
	var lastErr *gwerrors.Error

	for try := 0; try <= maxRetries; try++ {
		attempts++
		status, header, body, attemptErr := rt.send(ctx, d, targetURL, method, env.Payload, env.Headers)
		if attemptErr == nil {
			elapsed := time.Since(start)
			contentType := header.Get("Content-Type")

			if status >= 400 {
				// The service answered, so the transport is fine. Only a
				// descriptor that opts into counting 5xx responses treats
				// this as breaker failure.
				if br.CountsUpstreamErrors() && status >= 500 {
					br.ReportFailure()
				} else {
					br.ReportSuccess()
				}
				rt.metrics.RecordRequest(false, elapsed)
				rt.prom.ObserveRequest(d.Name, string(gwerrors.ClassUpstream), elapsed)
				log.Warn().
					Str("service", d.Name).
					Str("endpoint", env.Endpoint).
					Int("status", status).
					Int("attempts", attempts).
					Dur("duration", elapsed).
					Str("upstream_error", errorSummary(body)).
					Msg("Upstream error response")
				return nil, gwerrors.NewUpstream(d.Name, status, contentType, body)
			}

			br.ReportSuccess()
			if env.Cacheable && status >= 200 && status < 300 {
				ttl := env.CacheTTL
				if ttl <= 0 {
					ttl = d.CacheTTL
				}
				rt.cache.Set(key, cache.Entry{
					Status:      status,
					ContentType: contentType,
					Body:        body,
				}, ttl)
				rt.prom.SetCacheEntries(rt.cache.Size())
			}
			rt.metrics.RecordRequest(true, elapsed)
			rt.prom.ObserveRequest(d.Name, "success", elapsed)
			return &Result{
				Status:      status,
				Payload:     body,
				ContentType: contentType,
				Header:      header,
				Duration:    elapsed,
				Attempts:    attempts,
			}, nil
		}

		lastErr = classify(d.Name, attemptErr)
		log.Debug().
			Str("service", d.Name).
			Str("endpoint", env.Endpoint).
			Str("class", string(lastErr.Class)).
			Int("attempt", attempts).
			Err(attemptErr).
			Msg("Attempt failed")

		// A dead parent context means the caller is gone; further
		// attempts would observe the cancellation, not the service.
		if ctx.Err() != nil {
			break
		}
		if try < maxRetries {
			rt.metrics.RecordRetry()
			select {
			case <-ctx.Done():
			case <-time.After(backoff):
			}
			backoff *= 2
		}
	}

	br.ReportFailure()
	elapsed := time.Since(start)
	rt.metrics.RecordRequest(false, elapsed)
	rt.prom.ObserveRequest(d.Name, string(gwerrors.ClassUnavailable), elapsed)
	log.Error().
		Str("service", d.Name).
		Str("endpoint", env.Endpoint).
		Str("class", string(lastErr.Class)).
		Int("attempts", attempts).
		Dur("duration", elapsed).
		Err(lastErr.Err).
		Msg("Call failed")
	return nil, gwerrors.NewUnavailable(d.Name, lastErr)
}

// send runs one attempt under the descriptor's call timeout and returns
// the response with its body fully read. Any returned error is
// transport-level; HTTP error statuses are a valid response here.
func (rt *Router) send(ctx context.Context, d registry.Descriptor, targetURL, method string, payload []byte, headers map[string]string) (int, http.Header, []byte, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, d.CallTimeout)
	defer cancel()

	var bodyReader io.Reader
	if len(payload) > 0 {
		bodyReader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(attemptCtx, method, targetURL, bodyReader)
	if err != nil {
		return 0, nil, nil, err
	}

	hasContentType := false
	for k, v := range headers {
		ck := http.CanonicalHeaderKey(k)
		if _, hop := hopByHopHeaders[ck]; hop {
			continue
		}
		if ck == "Content-Type" {
			hasContentType = true
		}
		req.Header.Set(ck, v)
	}
	if !hasContentType && len(payload) > 0 {
		req.Header.Set("Content-Type", "application/json")
	}

	log.Debug().
		Str("service", d.Name).
		Str("url", targetURL).
		Str("method", method).
		Str("authorization", utils.MaskKey(req.Header.Get("Authorization"))).
		Str("x-api-key", utils.MaskKey(req.Header.Get("X-Api-Key"))).
		Msg("Forwarding call")

	resp, err := rt.client.Do(req)
	if err != nil {
		return 0, nil, nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, config.MaxResponseSize))
	if err != nil {
		return 0, nil, nil, err
	}
	return resp.StatusCode, resp.Header, body, nil
}

// classify maps a transport-level attempt error to the gateway taxonomy.
// Deadline errors become timeout; everything else (refused connections,
// resets, DNS failures, caller cancellation) is a transport error.
func classify(service string, err error) *gwerrors.Error {
	if errors.Is(err, context.DeadlineExceeded) {
		return gwerrors.NewTimeout(service, err)
	}
	var nerr net.Error
	if errors.As(err, &nerr) && nerr.Timeout() {
		return gwerrors.NewTimeout(service, err)
	}
	return gwerrors.NewTransport(service, err)
}

// errorSummary pulls a human-readable message out of an upstream error
// body for the log line. Payloads stay opaque to routing; this only
// probes the field names most services use.
func errorSummary(body []byte) string {
	if !gjson.ValidBytes(body) {
		return utils.Truncate(strings.TrimSpace(string(body)), 120)
	}
	parsed := gjson.ParseBytes(body)
	for _, path := range []string{"error.message", "error", "message", "detail", "title"} {
		if v := parsed.Get(path); v.Exists() && v.Type == gjson.String && v.Str != "" {
			return utils.Truncate(v.Str, 120)
		}
	}
	return ""
}
