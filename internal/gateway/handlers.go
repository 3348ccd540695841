// Package gateway - handlers.go serves the proxy surface: single calls,
// batches, and the health summary.
package gateway

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/relayforge/service-gateway/internal/batch"
	"github.com/relayforge/service-gateway/internal/router"
)

// routeRequest is the wire shape of POST /route. Data is opaque; the
// gateway never interprets it beyond cache fingerprinting.
type routeRequest struct {
	Service    string            `json:"service"`
	Endpoint   string            `json:"endpoint"`
	Method     string            `json:"method,omitempty"`
	Data       json.RawMessage   `json:"data,omitempty"`
	Headers    map[string]string `json:"headers,omitempty"`
	Cacheable  bool              `json:"cacheable,omitempty"`
	CacheTTLMs int64             `json:"cache_ttl_ms,omitempty"`
}

func (rr routeRequest) envelope() router.Envelope {
	return router.Envelope{
		Service:   rr.Service,
		Endpoint:  rr.Endpoint,
		Method:    rr.Method,
		Payload:   rr.Data,
		Headers:   rr.Headers,
		Cacheable: rr.Cacheable,
		CacheTTL:  time.Duration(rr.CacheTTLMs) * time.Millisecond,
	}
}

// handleRoute proxies one call to a named service. Success relays the
// backend response verbatim; failures map to the error taxonomy, with
// upstream errors passed through untouched.
func (g *Gateway) handleRoute(w http.ResponseWriter, r *http.Request) {
	requestID := g.getRequestID(r)
	r.Body = http.MaxBytesReader(w, r.Body, g.config.Server.MaxBodyBytes)

	var req routeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, requestID, "invalid request body: "+err.Error())
		return
	}
	if req.Service == "" {
		writeBadRequest(w, requestID, "service is required")
		return
	}

	res, err := g.router.Route(r.Context(), req.envelope())
	if err != nil {
		g.writeError(w, requestID, err)
		return
	}

	ct := res.ContentType
	if ct == "" {
		ct = "application/json"
	}
	w.Header().Set("Content-Type", ct)
	w.Header().Set(HeaderRequestID, requestID)
	w.Header().Set(HeaderServedFromCache, strconv.FormatBool(res.ServedFromCache))
	w.WriteHeader(res.Status)
	_, _ = w.Write(res.Payload)
}

type batchRequest struct {
	Requests []routeRequest `json:"requests"`
}

type batchResponse struct {
	Results   []batch.ItemResult `json:"results"`
	RequestID string             `json:"request_id"`
}

// handleBatch fans a group of calls out and answers 200 whenever the
// batch itself was valid, whatever the per-slot outcomes.
func (g *Gateway) handleBatch(w http.ResponseWriter, r *http.Request) {
	requestID := g.getRequestID(r)
	r.Body = http.MaxBytesReader(w, r.Body, g.config.Server.MaxBodyBytes)

	var req batchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, requestID, "invalid request body: "+err.Error())
		return
	}

	envelopes := make([]router.Envelope, len(req.Requests))
	for i, rr := range req.Requests {
		envelopes[i] = rr.envelope()
	}

	results, err := g.batcher.Run(r.Context(), envelopes)
	if err != nil {
		g.writeError(w, requestID, err)
		return
	}

	w.Header().Set(HeaderRequestID, requestID)
	writeJSON(w, http.StatusOK, batchResponse{Results: results, RequestID: requestID})
}

// handleHealth reports gateway readiness. Degraded means at least one
// critical service is not healthy; the per-service records let callers
// see which.
func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	ready := g.monitor.Ready()
	status := "ok"
	code := http.StatusOK
	if !ready {
		status = "degraded"
		code = http.StatusServiceUnavailable
	}

	writeJSON(w, code, map[string]any{
		"status":   status,
		"ready":    ready,
		"time":     time.Now().Format(time.RFC3339),
		"services": g.monitor.Records(),
	})
}
