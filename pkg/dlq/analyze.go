package dlq

import (
	"context"
	"fmt"
	"sort"
	"time"
)

// Report groups stored failures for operator review.
type Report struct {
	Total           int            `json:"total"`
	ByReason        map[string]int `json:"by_reason"`
	ByQueue         map[string]int `json:"by_queue"`
	ByHourOfDay     map[int]int    `json:"by_hour_of_day"`
	Recommendations []string       `json:"recommendations"`
	GeneratedAt     time.Time      `json:"generated_at"`
}

// queueDominanceThreshold flags a queue responsible for most failures.
const queueDominanceThreshold = 0.7

// reasonDominanceThreshold flags a failure reason worth root-causing.
const reasonDominanceThreshold = 0.5

// hourSpikeThreshold flags an hour-of-day concentration.
const hourSpikeThreshold = 0.4

// AnalyzeFailurePatterns groups entries by failure reason, original queue,
// and hour-of-day, and emits heuristic recommendations.
func (s *Store) AnalyzeFailurePatterns(ctx context.Context) (*Report, error) {
	all, err := s.entries.OlderThan(ctx, time.Now().Add(time.Second))
	if err != nil {
		return nil, err
	}

	report := &Report{
		Total:       len(all),
		ByReason:    make(map[string]int),
		ByQueue:     make(map[string]int),
		ByHourOfDay: make(map[int]int),
		GeneratedAt: time.Now(),
	}

	for _, entry := range all {
		report.ByReason[entry.FailureReason]++
		report.ByQueue[entry.OriginalQueue]++
		report.ByHourOfDay[time.Unix(entry.FailedAt, 0).Hour()]++
	}

	if report.Total > 0 {
		report.Recommendations = s.recommendations(report)
	}
	return report, nil
}

func (s *Store) recommendations(report *Report) []string {
	var recs []string
	total := float64(report.Total)

	if queue, count := maxEntry(report.ByQueue); float64(count)/total >= queueDominanceThreshold {
		recs = append(recs, fmt.Sprintf(
			"queue %q accounts for %.0f%% of failures, review its handler", queue, 100*float64(count)/total))
	}

	if reason, count := maxEntry(report.ByReason); float64(count)/total >= reasonDominanceThreshold {
		recs = append(recs, fmt.Sprintf(
			"failure reason %q accounts for %.0f%% of entries, likely a systemic cause", reason, 100*float64(count)/total))
	}

	if hour, count := maxIntEntry(report.ByHourOfDay); float64(count)/total >= hourSpikeThreshold {
		recs = append(recs, fmt.Sprintf(
			"failures concentrate around %02d:00 (%.0f%%), check scheduled load in that window", hour, 100*float64(count)/total))
	}

	return recs
}

func maxEntry(m map[string]int) (string, int) {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys) // deterministic tie-break

	var bestKey string
	bestCount := -1
	for _, k := range keys {
		if m[k] > bestCount {
			bestKey, bestCount = k, m[k]
		}
	}
	return bestKey, bestCount
}

func maxIntEntry(m map[int]int) (int, int) {
	keys := make([]int, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Ints(keys)

	var bestKey int
	bestCount := -1
	for _, k := range keys {
		if m[k] > bestCount {
			bestKey, bestCount = k, m[k]
		}
	}
	return bestKey, bestCount
}
