// Package monitoring - metrics.go provides simple counters.
//
// DESIGN: Lightweight in-memory counters for operational metrics:
//   - requests/successes:  Total and successful routed calls
//   - cache_hits/misses:   Routing-level response cache performance
//   - breaker_rejections:  Calls refused while a breaker was open
//   - retries:             Transport-level retry attempts
//   - batches/batch_items: Fan-out activity
//
// These feed the human-readable /stats endpoint. The Prometheus
// registry in prometheus.go is the machine-readable export.
package monitoring

import (
	"fmt"
	"sync/atomic"
	"time"
)

// MetricsCollector collects operational metrics.
type MetricsCollector struct {
	startedAt time.Time

	// Request counters
	requests          atomic.Int64
	successes         atomic.Int64
	cacheHits         atomic.Int64
	cacheMisses       atomic.Int64
	breakerRejections atomic.Int64
	retries           atomic.Int64

	// Batch counters
	batches    atomic.Int64
	batchItems atomic.Int64

	// Accumulated wall time of routed calls, for the average
	totalDurationMs atomic.Int64
}

// NewMetricsCollector creates a new metrics collector.
func NewMetricsCollector() *MetricsCollector {
	return &MetricsCollector{
		startedAt: time.Now(),
	}
}

// RecordRequest records one routed call and its duration.
func (mc *MetricsCollector) RecordRequest(success bool, duration time.Duration) {
	mc.requests.Add(1)
	if success {
		mc.successes.Add(1)
	}
	mc.totalDurationMs.Add(duration.Milliseconds())
}

// RecordCacheHit records a routed call served from the response cache.
func (mc *MetricsCollector) RecordCacheHit() { mc.cacheHits.Add(1) }

// RecordCacheMiss records a cacheable call that missed the cache.
func (mc *MetricsCollector) RecordCacheMiss() { mc.cacheMisses.Add(1) }

// RecordBreakerRejection records a call refused by an open breaker.
func (mc *MetricsCollector) RecordBreakerRejection() { mc.breakerRejections.Add(1) }

// RecordRetry records one transport-level retry attempt.
func (mc *MetricsCollector) RecordRetry() { mc.retries.Add(1) }

// RecordBatch records a completed batch and its item count.
func (mc *MetricsCollector) RecordBatch(items int) {
	mc.batches.Add(1)
	mc.batchItems.Add(int64(items))
}

// StartedAt returns when the metrics collector was created.
func (mc *MetricsCollector) StartedAt() time.Time { return mc.startedAt }

// Stats returns current metrics as a flat map.
func (mc *MetricsCollector) Stats() map[string]int64 {
	return map[string]int64{
		"requests":           mc.requests.Load(),
		"successes":          mc.successes.Load(),
		"cache_hits":         mc.cacheHits.Load(),
		"cache_misses":       mc.cacheMisses.Load(),
		"breaker_rejections": mc.breakerRejections.Load(),
		"retries":            mc.retries.Load(),
		"batches":            mc.batches.Load(),
		"batch_items":        mc.batchItems.Load(),
	}
}

// FullStats returns all metrics in a structured format for the /stats endpoint.
func (mc *MetricsCollector) FullStats() StatsResponse {
	uptime := time.Since(mc.startedAt)
	requests := mc.requests.Load()
	successes := mc.successes.Load()
	hits := mc.cacheHits.Load()
	misses := mc.cacheMisses.Load()

	var cacheHitRate float64
	if total := hits + misses; total > 0 {
		cacheHitRate = float64(hits) / float64(total) * 100
	}
	var avgDurationMs float64
	if requests > 0 {
		avgDurationMs = float64(mc.totalDurationMs.Load()) / float64(requests)
	}

	return StatsResponse{
		Uptime:        formatDuration(uptime),
		UptimeSeconds: int64(uptime.Seconds()),
		StartedAt:     mc.startedAt.Format(time.RFC3339),
		Requests: RequestStats{
			Total:      requests,
			Successful: successes,
			Failed:     requests - successes,
		},
		Routing: RoutingStats{
			CacheHits:         hits,
			CacheMisses:       misses,
			CacheHitRate:      cacheHitRate,
			BreakerRejections: mc.breakerRejections.Load(),
			Retries:           mc.retries.Load(),
			AvgDurationMs:     avgDurationMs,
		},
		Batch: BatchStats{
			Batches: mc.batches.Load(),
			Items:   mc.batchItems.Load(),
		},
	}
}

// StatsResponse is the structured response for the /stats endpoint.
type StatsResponse struct {
	Uptime        string       `json:"uptime"`
	UptimeSeconds int64        `json:"uptime_seconds"`
	StartedAt     string       `json:"started_at"`
	Requests      RequestStats `json:"requests"`
	Routing       RoutingStats `json:"routing"`
	Batch         BatchStats   `json:"batch"`
}

// RequestStats holds request count metrics.
type RequestStats struct {
	Total      int64 `json:"total"`
	Successful int64 `json:"successful"`
	Failed     int64 `json:"failed"`
}

// RoutingStats holds router and cache metrics.
type RoutingStats struct {
	CacheHits         int64   `json:"cache_hits"`
	CacheMisses       int64   `json:"cache_misses"`
	CacheHitRate      float64 `json:"cache_hit_rate"`
	BreakerRejections int64   `json:"breaker_rejections"`
	Retries           int64   `json:"retries"`
	AvgDurationMs     float64 `json:"avg_duration_ms"`
}

// BatchStats holds fan-out metrics.
type BatchStats struct {
	Batches int64 `json:"batches"`
	Items   int64 `json:"batch_items"`
}

// formatDuration formats a duration as a human-readable string.
func formatDuration(d time.Duration) string {
	days := int(d.Hours()) / 24
	hours := int(d.Hours()) % 24
	minutes := int(d.Minutes()) % 60

	if days > 0 {
		return fmt.Sprintf("%dd %dh %dm", days, hours, minutes)
	}
	if hours > 0 {
		return fmt.Sprintf("%dh %dm", hours, minutes)
	}
	return fmt.Sprintf("%dm", minutes)
}
