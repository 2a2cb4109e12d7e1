// Package health probes the gateway's dependencies for the health
// endpoint.
package health

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"
)

// Status is the aggregate or per-component health state.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusUnhealthy Status = "unhealthy"
)

// CheckResult is the outcome of one probe.
type CheckResult struct {
	Status    Status `json:"status"`
	LatencyMS int64  `json:"latency_ms"`
	Error     string `json:"error,omitempty"`
}

// Probe tests one dependency. A nil error means healthy.
type Probe func(ctx context.Context) error

// Checker runs named probes with a shared timeout.
type Checker struct {
	mu      sync.Mutex
	probes  map[string]Probe
	timeout time.Duration
}

// NewChecker creates a checker. timeout <= 0 uses 2s per probe.
func NewChecker(timeout time.Duration) *Checker {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &Checker{probes: make(map[string]Probe), timeout: timeout}
}

// Add registers a probe under a component name.
func (c *Checker) Add(name string, probe Probe) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.probes[name] = probe
}

// Run executes all probes concurrently and reports per-component
// results plus the aggregate: unhealthy when any probe fails.
func (c *Checker) Run(ctx context.Context) (Status, map[string]CheckResult) {
	c.mu.Lock()
	probes := make(map[string]Probe, len(c.probes))
	for name, p := range c.probes {
		probes[name] = p
	}
	c.mu.Unlock()

	results := make(map[string]CheckResult, len(probes))
	var wg sync.WaitGroup
	var resMu sync.Mutex
	for name, probe := range probes {
		wg.Add(1)
		go func(name string, probe Probe) {
			defer wg.Done()
			pctx, cancel := context.WithTimeout(ctx, c.timeout)
			defer cancel()
			start := time.Now()
			err := probe(pctx)
			result := CheckResult{Status: StatusHealthy, LatencyMS: time.Since(start).Milliseconds()}
			if err != nil {
				result.Status = StatusUnhealthy
				result.Error = err.Error()
			}
			resMu.Lock()
			results[name] = result
			resMu.Unlock()
		}(name, probe)
	}
	wg.Wait()

	aggregate := StatusHealthy
	for _, r := range results {
		if r.Status != StatusHealthy {
			aggregate = StatusUnhealthy
			break
		}
	}
	return aggregate, results
}

// HTTPProbe reports healthy while the given URL answers anything below
// 500.
func HTTPProbe(url string) Probe {
	client := &http.Client{}
	return func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return err
		}
		resp, err := client.Do(req)
		if err != nil {
			return err
		}
		_ = resp.Body.Close()
		if resp.StatusCode >= 500 {
			return fmt.Errorf("status %d", resp.StatusCode)
		}
		return nil
	}
}
