// Package batch - batch.go fans a group of calls out through the router
// and collects per-slot results in input order.
//
// DESIGN: The batch call itself fails only on invalid input (empty or
// oversized); individual failures land in their slot and never abort
// the siblings. Every goroutine writes its own index, so the result
// slice needs no lock. Concurrency is bounded by a semaphore channel
// when a limit is configured.
package batch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/tidwall/gjson"

	"github.com/relayforge/service-gateway/internal/config"
	gwerrors "github.com/relayforge/service-gateway/internal/errors"
	"github.com/relayforge/service-gateway/internal/monitoring"
	"github.com/relayforge/service-gateway/internal/router"
)

// ItemError is the wire shape of one failed slot.
type ItemError struct {
	Class   string `json:"class"`
	Service string `json:"service,omitempty"`
	Message string `json:"message"`
	// Status carries the verbatim upstream status for upstream_error slots.
	Status int `json:"status,omitempty"`
}

// ItemResult is one slot of a batch response. Exactly one of Payload
// and Error is set. Index always matches the request's input position.
type ItemResult struct {
	Index           int             `json:"index"`
	Success         bool            `json:"success"`
	Status          int             `json:"status,omitempty"`
	Payload         json.RawMessage `json:"payload,omitempty"`
	Error           *ItemError      `json:"error,omitempty"`
	ServedFromCache bool            `json:"served_from_cache,omitempty"`
}

// Deps are the aggregator's collaborators. Zero-value limits fall back
// to the configured defaults.
type Deps struct {
	Router         *router.Router
	Metrics        *monitoring.MetricsCollector
	Prom           *monitoring.PromMetrics
	MaxSize        int
	MaxConcurrency int
}

// Aggregator runs batches of envelopes. Safe for concurrent use.
type Aggregator struct {
	router         *router.Router
	metrics        *monitoring.MetricsCollector
	prom           *monitoring.PromMetrics
	maxSize        int
	maxConcurrency int
}

// New builds an Aggregator, defaulting any collaborator left nil.
func New(deps Deps) *Aggregator {
	if deps.Router == nil {
		deps.Router = router.New(router.Deps{})
	}
	if deps.Metrics == nil {
		deps.Metrics = monitoring.NewMetricsCollector()
	}
	if deps.Prom == nil {
		deps.Prom = monitoring.NewPromMetrics()
	}
	if deps.MaxSize <= 0 {
		deps.MaxSize = config.DefaultBatchMaxSize
	}
	if deps.MaxConcurrency <= 0 {
		deps.MaxConcurrency = config.DefaultBatchMaxConcurrency
	}
	return &Aggregator{
		router:         deps.Router,
		metrics:        deps.Metrics,
		prom:           deps.Prom,
		maxSize:        deps.MaxSize,
		maxConcurrency: deps.MaxConcurrency,
	}
}

// MaxSize reports the largest batch Run accepts.
func (a *Aggregator) MaxSize() int { return a.maxSize }

// Run executes the envelopes concurrently and returns one result per
// input, in input order. It errors only on invalid input, before any
// sub-call goes out; per-item failures are reported in their slot.
func (a *Aggregator) Run(ctx context.Context, envelopes []router.Envelope) ([]ItemResult, error) {
	if len(envelopes) == 0 {
		return nil, gwerrors.NewInvalidBatch("batch is empty")
	}
	if len(envelopes) > a.maxSize {
		return nil, gwerrors.NewInvalidBatch(fmt.Sprintf("batch has %d requests, limit is %d", len(envelopes), a.maxSize))
	}

	start := time.Now()
	results := make([]ItemResult, len(envelopes))
	sem := make(chan struct{}, a.maxConcurrency)

	var wg sync.WaitGroup
	for i, env := range envelopes {
		wg.Add(1)
		go func(i int, env router.Envelope) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()
			results[i] = a.runOne(ctx, i, env)
		}(i, env)
	}
	wg.Wait()

	failed := 0
	for _, r := range results {
		if !r.Success {
			failed++
		}
	}
	a.metrics.RecordBatch(len(envelopes))
	a.prom.ObserveBatch(len(envelopes))
	log.Info().
		Int("items", len(envelopes)).
		Int("failed", failed).
		Dur("duration", time.Since(start)).
		Msg("Batch completed")
	return results, nil
}

func (a *Aggregator) runOne(ctx context.Context, index int, env router.Envelope) ItemResult {
	res, err := a.router.Route(ctx, env)
	if err != nil {
		return ItemResult{Index: index, Error: itemError(err)}
	}
	return ItemResult{
		Index:           index,
		Success:         true,
		Status:          res.Status,
		Payload:         jsonSafe(res.Payload),
		ServedFromCache: res.ServedFromCache,
	}
}

// itemError flattens a routing error into the wire shape. The upstream
// status rides along so callers can distinguish a backend 404 from a
// gateway-level failure without parsing messages.
func itemError(err error) *ItemError {
	var ge *gwerrors.Error
	if errors.As(err, &ge) {
		return &ItemError{
			Class:   string(ge.Class),
			Service: ge.Service,
			Message: ge.Message,
			Status:  ge.Status,
		}
	}
	return &ItemError{Class: "internal_error", Message: err.Error()}
}

// jsonSafe embeds a backend payload into the batch response. Valid JSON
// is embedded raw; anything else is carried as a JSON string so one
// text/plain backend cannot break the whole batch document.
func jsonSafe(payload []byte) json.RawMessage {
	if len(payload) == 0 {
		return nil
	}
	if gjson.ValidBytes(payload) {
		return json.RawMessage(payload)
	}
	quoted, err := json.Marshal(string(payload))
	if err != nil {
		return nil
	}
	return json.RawMessage(quoted)
}
