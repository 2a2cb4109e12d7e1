// Package ledger records per-request usage of the inference API and
// reduces it into billing-period summaries.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"
)

// ErrInvalidPeriod marks a malformed period selector.
var ErrInvalidPeriod = errors.New("invalid period, want YYYY-MM")

// Status records how a relayed request ended.
type Status string

const (
	StatusOK      Status = "ok"
	StatusError   Status = "error"
	StatusAborted Status = "aborted"
)

// UsageRecord is one immutable usage entry, written after the outcome of
// a request is known.
type UsageRecord struct {
	ID           int64     `json:"id"`
	PrincipalID  string    `json:"principal_id"`
	Model        string    `json:"model"`
	InputTokens  int64     `json:"input_tokens"`
	OutputTokens int64     `json:"output_tokens"`
	LatencyMS    int64     `json:"latency_ms"`
	Status       Status    `json:"status"`
	CreatedAt    time.Time `json:"created_at"`
}

// ModelUsage aggregates usage for one model within a period.
type ModelUsage struct {
	Requests     int64 `json:"requests"`
	InputTokens  int64 `json:"input_tokens"`
	OutputTokens int64 `json:"output_tokens"`
}

// DayUsage is the request count for one calendar day (YYYY-MM-DD).
type DayUsage struct {
	Day      string `json:"day"`
	Requests int64  `json:"requests"`
}

// UsageSummary is the reduction of a principal's records over one period.
type UsageSummary struct {
	PrincipalID  string                `json:"principal_id"`
	Period       string                `json:"period"`
	Requests     int64                 `json:"requests"`
	InputTokens  int64                 `json:"input_tokens"`
	OutputTokens int64                 `json:"output_tokens"`
	AvgLatencyMS int64                 `json:"avg_latency_ms"`
	ByModel      map[string]ModelUsage `json:"by_model"`
	ByDay        []DayUsage            `json:"by_day"`
}

// Store defines persistence behaviour for usage records.
type Store interface {
	Record(ctx context.Context, rec UsageRecord) error
	// ListRange returns the principal's records with CreatedAt in
	// [from, to), ordered by CreatedAt ascending.
	ListRange(ctx context.Context, principalID string, from, to time.Time) ([]UsageRecord, error)
	Close() error
}

// ValidStatus reports whether s is one of the known outcomes.
func ValidStatus(s Status) bool {
	return s == StatusOK || s == StatusError || s == StatusAborted
}

// Recorder fronts a Store with validation and period reduction.
type Recorder struct {
	store Store
}

// NewRecorder wraps the given store.
func NewRecorder(store Store) *Recorder {
	return &Recorder{store: store}
}

// Record appends one usage record.
func (r *Recorder) Record(ctx context.Context, rec UsageRecord) error {
	if rec.PrincipalID == "" {
		return errors.New("usage record requires principal id")
	}
	if !ValidStatus(rec.Status) {
		return fmt.Errorf("invalid status %q", rec.Status)
	}
	return r.store.Record(ctx, rec)
}

// Summarize reduces the principal's records for the given period in a
// single pass. Period is "YYYY-MM"; empty selects the current calendar
// month in local time. A period with no records yields a zero summary
// with average latency 0, not an error.
func (r *Recorder) Summarize(ctx context.Context, principalID, period string) (UsageSummary, error) {
	if principalID == "" {
		return UsageSummary{}, errors.New("principal id required")
	}
	start, end, err := PeriodRange(period, time.Now())
	if err != nil {
		return UsageSummary{}, err
	}

	records, err := r.store.ListRange(ctx, principalID, start, end)
	if err != nil {
		return UsageSummary{}, fmt.Errorf("list usage range: %w", err)
	}

	summary := UsageSummary{
		PrincipalID: principalID,
		Period:      start.Format("2006-01"),
		ByModel:     make(map[string]ModelUsage),
	}
	var latencySum int64
	byDay := make(map[string]int64)
	for _, rec := range records {
		summary.Requests++
		summary.InputTokens += rec.InputTokens
		summary.OutputTokens += rec.OutputTokens
		latencySum += rec.LatencyMS

		m := summary.ByModel[rec.Model]
		m.Requests++
		m.InputTokens += rec.InputTokens
		m.OutputTokens += rec.OutputTokens
		summary.ByModel[rec.Model] = m

		byDay[rec.CreatedAt.Format("2006-01-02")]++
	}
	if summary.Requests > 0 {
		summary.AvgLatencyMS = latencySum / summary.Requests
	}

	days := make([]string, 0, len(byDay))
	for day := range byDay {
		days = append(days, day)
	}
	sort.Strings(days)
	summary.ByDay = make([]DayUsage, 0, len(days))
	for _, day := range days {
		summary.ByDay = append(summary.ByDay, DayUsage{Day: day, Requests: byDay[day]})
	}
	return summary, nil
}

// PeriodRange resolves a "YYYY-MM" period to its [start, end) bounds.
// An empty period means the month containing now, in now's location.
func PeriodRange(period string, now time.Time) (time.Time, time.Time, error) {
	loc := now.Location()
	var start time.Time
	if period == "" {
		start = time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, loc)
	} else {
		parsed, err := time.ParseInLocation("2006-01", period, loc)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("%w: %q", ErrInvalidPeriod, period)
		}
		start = parsed
	}
	return start, start.AddDate(0, 1, 0), nil
}
