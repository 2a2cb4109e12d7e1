package metrics

import (
	"strings"
	"testing"
	"time"
)

func TestCollectorSnapshot(t *testing.T) {
	c := NewCollector()
	c.RecordRequestStart("/v1/inference")
	c.RecordRequest("/v1/inference", 250*time.Millisecond)
	c.RecordRequestEnd("/v1/inference")
	c.RecordError("/v1/inference")
	c.RecordRateLimitHit("principal-abcd1234")
	c.RecordTokenUsage("polaris-7b", 10, 40)
	c.RecordStreamFailure()
	c.RecordStreamAborted()

	snap := c.Snapshot()
	if snap.TotalRequests["/v1/inference"] != 1 {
		t.Fatalf("requests = %d", snap.TotalRequests["/v1/inference"])
	}
	if snap.TotalRequestsDur["/v1/inference"] != 250 {
		t.Fatalf("duration = %d", snap.TotalRequestsDur["/v1/inference"])
	}
	if snap.RequestsInProgress["/v1/inference"] != 0 {
		t.Fatalf("in progress = %d", snap.RequestsInProgress["/v1/inference"])
	}
	if snap.RateLimitHits != 1 || snap.RateLimitByPrincipal["principal-abcd1234"] != 1 {
		t.Fatalf("rate limit counters = %d / %v", snap.RateLimitHits, snap.RateLimitByPrincipal)
	}
	if snap.TotalInputTokens != 10 || snap.TotalOutputTokens != 40 || snap.TokensByModel["polaris-7b"] != 50 {
		t.Fatalf("token counters = %d/%d/%v", snap.TotalInputTokens, snap.TotalOutputTokens, snap.TokensByModel)
	}
	if snap.StreamFailures != 1 || snap.StreamsAborted != 1 {
		t.Fatalf("stream counters = %d/%d", snap.StreamFailures, snap.StreamsAborted)
	}

	// The snapshot is a copy; later writes must not leak into it.
	c.RecordTokenUsage("polaris-7b", 1, 1)
	if snap.TokensByModel["polaris-7b"] != 50 {
		t.Fatal("snapshot aliases collector state")
	}
}

func TestFormatPrometheus(t *testing.T) {
	c := NewCollector()
	c.RecordRequest("/v1/inference", 100*time.Millisecond)
	c.RecordRateLimitHit("principal-abcd1234")
	c.RecordTokenUsage("polaris-7b", 5, 15)

	out := FormatPrometheus(c.Snapshot())
	for _, want := range []string{
		`gateway_requests_total{endpoint="/v1/inference"} 1`,
		"gateway_rate_limit_hits_total 1",
		`gateway_tokens_by_model_total{model="polaris-7b"} 20`,
		"# TYPE gateway_uptime_seconds gauge",
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("exposition missing %q:\n%s", want, out)
		}
	}
	if strings.Contains(out, "principal-abcd1234") {
		t.Fatal("principal ids must be masked in the exposition")
	}
	if !strings.Contains(out, `principal="principal_***1234"`) {
		t.Fatalf("masked principal missing:\n%s", out)
	}
}
