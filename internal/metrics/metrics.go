// Package metrics tracks gateway counters and exports them in
// Prometheus text format without pulling in a client library.
package metrics

import (
	"sync"
	"time"
)

// Collector accumulates request, rate-limit, and token counters.
type Collector struct {
	mu sync.RWMutex

	totalRequests      map[string]int64 // by endpoint
	totalRequestsDur   map[string]int64 // total duration in ms by endpoint
	requestErrors      map[string]int64 // by endpoint
	requestsInProgress map[string]int64

	rateLimitHits        int64
	rateLimitByPrincipal map[string]int64

	totalInputTokens  int64
	totalOutputTokens int64
	tokensByModel     map[string]int64

	streamFailures int64 // mid-stream transport errors
	streamsAborted int64 // client disconnected mid-stream

	startTime time.Time
}

// Snapshot is a point-in-time copy of all counters.
type Snapshot struct {
	Uptime               int64
	TotalRequests        map[string]int64
	TotalRequestsDur     map[string]int64
	RequestErrors        map[string]int64
	RequestsInProgress   map[string]int64
	RateLimitHits        int64
	RateLimitByPrincipal map[string]int64
	TotalInputTokens     int64
	TotalOutputTokens    int64
	TokensByModel        map[string]int64
	StreamFailures       int64
	StreamsAborted       int64
}

// NewCollector creates an empty collector.
func NewCollector() *Collector {
	return &Collector{
		totalRequests:        make(map[string]int64),
		totalRequestsDur:     make(map[string]int64),
		requestErrors:        make(map[string]int64),
		requestsInProgress:   make(map[string]int64),
		rateLimitByPrincipal: make(map[string]int64),
		tokensByModel:        make(map[string]int64),
		startTime:            time.Now(),
	}
}

// RecordRequest records a completed request against an endpoint.
func (c *Collector) RecordRequest(endpoint string, duration time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.totalRequests[endpoint]++
	c.totalRequestsDur[endpoint] += duration.Milliseconds()
}

// RecordError records a failed request against an endpoint.
func (c *Collector) RecordError(endpoint string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.requestErrors[endpoint]++
}

// RecordRequestStart increments in-flight requests for an endpoint.
func (c *Collector) RecordRequestStart(endpoint string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.requestsInProgress[endpoint]++
}

// RecordRequestEnd decrements in-flight requests for an endpoint.
func (c *Collector) RecordRequestEnd(endpoint string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.requestsInProgress[endpoint]--
}

// RecordRateLimitHit records one admission rejection.
func (c *Collector) RecordRateLimitHit(principalID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rateLimitHits++
	if principalID != "" {
		c.rateLimitByPrincipal[principalID]++
	}
}

// RecordTokenUsage records token counts for one relayed stream.
func (c *Collector) RecordTokenUsage(model string, inputTokens, outputTokens int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.totalInputTokens += inputTokens
	c.totalOutputTokens += outputTokens
	if model != "" {
		c.tokensByModel[model] += inputTokens + outputTokens
	}
}

// RecordStreamFailure records a mid-stream backend transport error.
func (c *Collector) RecordStreamFailure() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.streamFailures++
}

// RecordStreamAborted records a client disconnect mid-stream.
func (c *Collector) RecordStreamAborted() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.streamsAborted++
}

// Snapshot copies the current counters.
func (c *Collector) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return Snapshot{
		Uptime:               int64(time.Since(c.startTime).Seconds()),
		TotalRequests:        copyMap(c.totalRequests),
		TotalRequestsDur:     copyMap(c.totalRequestsDur),
		RequestErrors:        copyMap(c.requestErrors),
		RequestsInProgress:   copyMap(c.requestsInProgress),
		RateLimitHits:        c.rateLimitHits,
		RateLimitByPrincipal: copyMap(c.rateLimitByPrincipal),
		TotalInputTokens:     c.totalInputTokens,
		TotalOutputTokens:    c.totalOutputTokens,
		TokensByModel:        copyMap(c.tokensByModel),
		StreamFailures:       c.streamFailures,
		StreamsAborted:       c.streamsAborted,
	}
}

func copyMap(m map[string]int64) map[string]int64 {
	out := make(map[string]int64, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
