// Package gateway - stats.go exposes aggregated metrics as JSON.
//
// GET /stats returns combined request, routing, cache, breaker, and
// health metrics in one document.
package gateway

import (
	"net/http"

	"github.com/relayforge/service-gateway/internal/breaker"
	"github.com/relayforge/service-gateway/internal/cache"
	"github.com/relayforge/service-gateway/internal/health"
	"github.com/relayforge/service-gateway/internal/monitoring"
)

// statsDocument is the JSON response for GET /stats. The embedded
// monitoring fields carry uptime and the request/routing/batch
// counters; the rest is live component state.
type statsDocument struct {
	monitoring.StatsResponse
	Cache    cache.Stats        `json:"cache"`
	Breakers []breaker.Snapshot `json:"breakers"`
	Services []health.Record    `json:"services"`
	Events   eventStats         `json:"events"`
}

type eventStats struct {
	Subscribers   int   `json:"subscribers"`
	Dropped       int64 `json:"dropped"`
	AuditEnabled  bool  `json:"audit_enabled"`
	AuditFailures int64 `json:"audit_write_failures,omitempty"`
}

// handleStats returns aggregated metrics as JSON.
// Restricted to localhost to keep operational details off the open
// surface.
func (g *Gateway) handleStats(w http.ResponseWriter, r *http.Request) {
	if !isLoopback(r.RemoteAddr) {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	doc := statsDocument{
		StatsResponse: g.metrics.FullStats(),
		Cache:         g.cache.Stats(),
		Breakers:      g.breakers.Snapshots(),
		Services:      g.monitor.Records(),
		Events: eventStats{
			Subscribers:  g.hub.SubscriberCount(),
			Dropped:      g.hub.Dropped(),
			AuditEnabled: g.audit != nil,
		},
	}
	if g.audit != nil {
		doc.Events.AuditFailures = g.audit.WriteFailures()
	}

	writeJSON(w, http.StatusOK, doc)
}
