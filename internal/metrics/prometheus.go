package metrics

import (
	"fmt"
	"sort"
	"strings"
)

// FormatPrometheus formats a snapshot in Prometheus text format.
// See: https://prometheus.io/docs/instrumenting/exposition_formats/
func FormatPrometheus(snap Snapshot) string {
	var sb strings.Builder

	sb.WriteString("# HELP gateway_uptime_seconds Time since gateway started\n")
	sb.WriteString("# TYPE gateway_uptime_seconds gauge\n")
	sb.WriteString(fmt.Sprintf("gateway_uptime_seconds %d\n", snap.Uptime))
	sb.WriteString("\n")

	sb.WriteString("# HELP gateway_requests_total Total number of requests by endpoint\n")
	sb.WriteString("# TYPE gateway_requests_total counter\n")
	for _, endpoint := range sortedKeys(snap.TotalRequests) {
		sb.WriteString(fmt.Sprintf("gateway_requests_total{endpoint=\"%s\"} %d\n", endpoint, snap.TotalRequests[endpoint]))
	}
	sb.WriteString("\n")

	sb.WriteString("# HELP gateway_request_errors_total Total number of request errors by endpoint\n")
	sb.WriteString("# TYPE gateway_request_errors_total counter\n")
	for _, endpoint := range sortedKeys(snap.RequestErrors) {
		sb.WriteString(fmt.Sprintf("gateway_request_errors_total{endpoint=\"%s\"} %d\n", endpoint, snap.RequestErrors[endpoint]))
	}
	sb.WriteString("\n")

	sb.WriteString("# HELP gateway_requests_in_progress Current number of requests being processed\n")
	sb.WriteString("# TYPE gateway_requests_in_progress gauge\n")
	for _, endpoint := range sortedKeys(snap.RequestsInProgress) {
		if count := snap.RequestsInProgress[endpoint]; count > 0 {
			sb.WriteString(fmt.Sprintf("gateway_requests_in_progress{endpoint=\"%s\"} %d\n", endpoint, count))
		}
	}
	sb.WriteString("\n")

	sb.WriteString("# HELP gateway_request_duration_ms_total Total request duration in milliseconds\n")
	sb.WriteString("# TYPE gateway_request_duration_ms_total counter\n")
	for _, endpoint := range sortedKeys(snap.TotalRequestsDur) {
		sb.WriteString(fmt.Sprintf("gateway_request_duration_ms_total{endpoint=\"%s\"} %d\n", endpoint, snap.TotalRequestsDur[endpoint]))
	}
	sb.WriteString("\n")

	sb.WriteString("# HELP gateway_rate_limit_hits_total Total number of rate limit rejections\n")
	sb.WriteString("# TYPE gateway_rate_limit_hits_total counter\n")
	sb.WriteString(fmt.Sprintf("gateway_rate_limit_hits_total %d\n", snap.RateLimitHits))
	sb.WriteString("\n")

	sb.WriteString("# HELP gateway_rate_limit_by_principal_total Rate limit hits by principal\n")
	sb.WriteString("# TYPE gateway_rate_limit_by_principal_total counter\n")
	for _, key := range sortedKeys(snap.RateLimitByPrincipal) {
		sb.WriteString(fmt.Sprintf("gateway_rate_limit_by_principal_total{principal=\"%s\"} %d\n", maskPrincipal(key), snap.RateLimitByPrincipal[key]))
	}
	sb.WriteString("\n")

	sb.WriteString("# HELP gateway_input_tokens_total Total input tokens processed\n")
	sb.WriteString("# TYPE gateway_input_tokens_total counter\n")
	sb.WriteString(fmt.Sprintf("gateway_input_tokens_total %d\n", snap.TotalInputTokens))
	sb.WriteString("\n")

	sb.WriteString("# HELP gateway_output_tokens_total Total output tokens generated\n")
	sb.WriteString("# TYPE gateway_output_tokens_total counter\n")
	sb.WriteString(fmt.Sprintf("gateway_output_tokens_total %d\n", snap.TotalOutputTokens))
	sb.WriteString("\n")

	sb.WriteString("# HELP gateway_tokens_by_model_total Total tokens by model\n")
	sb.WriteString("# TYPE gateway_tokens_by_model_total counter\n")
	for _, model := range sortedKeys(snap.TokensByModel) {
		sb.WriteString(fmt.Sprintf("gateway_tokens_by_model_total{model=\"%s\"} %d\n", model, snap.TokensByModel[model]))
	}
	sb.WriteString("\n")

	sb.WriteString("# HELP gateway_stream_failures_total Mid-stream backend transport failures\n")
	sb.WriteString("# TYPE gateway_stream_failures_total counter\n")
	sb.WriteString(fmt.Sprintf("gateway_stream_failures_total %d\n", snap.StreamFailures))
	sb.WriteString("\n")

	sb.WriteString("# HELP gateway_streams_aborted_total Streams aborted by client disconnect\n")
	sb.WriteString("# TYPE gateway_streams_aborted_total counter\n")
	sb.WriteString(fmt.Sprintf("gateway_streams_aborted_total %d\n", snap.StreamsAborted))
	sb.WriteString("\n")

	return sb.String()
}

func sortedKeys[T any](m map[string]T) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// maskPrincipal hides most of the id to keep the exposition page from
// leaking account identifiers.
func maskPrincipal(id string) string {
	if len(id) <= 4 {
		return "principal_***"
	}
	return "principal_***" + id[len(id)-4:]
}
