// Package config - defaults.go centralizes magic numbers and default values.
//
// DESIGN: All default values that appear in multiple places should be defined
// here. This makes configuration more maintainable and auditable.
package config

import "time"

// =============================================================================
// HTTP SERVER
// =============================================================================

// DefaultServerPort is the gateway's listen port.
const DefaultServerPort = 8080

// DefaultServerReadTimeout for the HTTP server.
const DefaultServerReadTimeout = 30 * time.Second

// DefaultServerWriteTimeout for the HTTP server. Generous so slow backends
// under a long call timeout don't get their responses cut off mid-write.
const DefaultServerWriteTimeout = 2 * time.Minute

// MaxRequestBodySize is the maximum allowed inbound request body (10MB).
const MaxRequestBodySize = 10 * 1024 * 1024

// MaxResponseSize is the maximum allowed upstream response body (10MB).
const MaxResponseSize = 10 * 1024 * 1024

// MaxErrorBodyLogLen limits error response body in logs to prevent bloat.
const MaxErrorBodyLogLen = 500

// =============================================================================
// HEALTH MONITOR
// =============================================================================

// DefaultHealthPollInterval is how often every service is health-polled.
const DefaultHealthPollInterval = 30 * time.Second

// DefaultHealthProbeTimeout bounds a single health poll. Deliberately
// separate from call timeouts: a slow health check must never throttle
// live traffic.
const DefaultHealthProbeTimeout = 5 * time.Second

// DefaultHealthPath is the health endpoint polled on each backend.
const DefaultHealthPath = "/health"

// MaxHealthBodyBytes caps how much of a health response body is read.
const MaxHealthBodyBytes = 4096

// =============================================================================
// OUTBOUND CALLS AND RETRIES
// =============================================================================

// DefaultCallTimeout is the per-attempt budget for routed calls.
const DefaultCallTimeout = 10 * time.Second

// DefaultMaxRetries is how many times a transport failure is retried.
const DefaultMaxRetries = 2

// DefaultRetryBackoff is the pause between retry attempts.
const DefaultRetryBackoff = 100 * time.Millisecond

// DefaultDialTimeout is the TCP dial timeout for the outbound client.
const DefaultDialTimeout = 5 * time.Second

// =============================================================================
// CIRCUIT BREAKER
// =============================================================================

// DefaultBreakerFailureThreshold is the consecutive-failure count that opens
// a breaker.
const DefaultBreakerFailureThreshold = 5

// DefaultBreakerOpenDuration is how long an opened breaker rejects calls
// before allowing a probe.
const DefaultBreakerOpenDuration = 30 * time.Second

// DefaultBreakerBackoffFactor doubles the open duration after each failed
// probe.
const DefaultBreakerBackoffFactor = 2.0

// DefaultBreakerMaxOpenDuration caps exponential open-duration growth.
const DefaultBreakerMaxOpenDuration = 5 * time.Minute

// =============================================================================
// RESPONSE CACHE
// =============================================================================

// DefaultCacheTTL is the TTL for cacheable responses without an explicit one.
const DefaultCacheTTL = 30 * time.Second

// DefaultCacheCleanupInterval is the frequency of the expired-entry sweep.
const DefaultCacheCleanupInterval = 1 * time.Minute

// DefaultCacheMaxEntries bounds the cache; the soonest-expiring entry is
// evicted when full.
const DefaultCacheMaxEntries = 4096

// =============================================================================
// BATCH AGGREGATOR
// =============================================================================

// DefaultBatchMaxSize is the largest accepted batch.
const DefaultBatchMaxSize = 10

// DefaultBatchMaxConcurrency bounds concurrent sub-requests per batch.
const DefaultBatchMaxConcurrency = 8

// =============================================================================
// MONITORING
// =============================================================================

// DefaultAuditPath is the SQLite audit log location.
const DefaultAuditPath = "gateway_audit.db"

// DefaultAuditMaxRows is the retention bound for audit events.
const DefaultAuditMaxRows = 10000

// DefaultEventBuffer is the per-subscriber event channel depth; subscribers
// that fall this far behind are dropped.
const DefaultEventBuffer = 64

// DefaultBufferSize is the standard I/O buffer size.
const DefaultBufferSize = 4096
