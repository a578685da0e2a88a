package monitor

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// Report windows accepted by GeneratePerformanceReport.
const (
	Window1h  = "1h"
	Window24h = "24h"
	Window7d  = "7d"
	Window30d = "30d"
)

func windowDuration(window string) (time.Duration, error) {
	switch window {
	case Window1h:
		return time.Hour, nil
	case Window24h:
		return 24 * time.Hour, nil
	case Window7d:
		return 7 * 24 * time.Hour, nil
	case Window30d:
		return 30 * 24 * time.Hour, nil
	default:
		return 0, fmt.Errorf("unsupported report window: %s", window)
	}
}

// GeneratePerformanceReport summarizes the sync and conflict history inside
// the window and derives a short recommendation list.
func (m *Monitor) GeneratePerformanceReport(window string) (*PerformanceReport, error) {
	duration, err := windowDuration(window)
	if err != nil {
		return nil, err
	}
	cutoff := time.Now().Add(-duration)

	m.mu.RLock()
	var syncs []*SyncEvent
	for _, event := range m.syncHistory {
		if event.Timestamp.After(cutoff) {
			syncs = append(syncs, event)
		}
	}
	var conflicts []*ConflictEvent
	for _, event := range m.conflictHistory {
		if event.DetectedAt.After(cutoff) {
			conflicts = append(conflicts, event)
		}
	}
	m.mu.RUnlock()

	report := &PerformanceReport{
		Window:      window,
		GeneratedAt: time.Now(),
		SyncCount:   len(syncs),
	}

	var totalDurationMs float64
	var totalThroughput float64
	throughputSamples := 0
	errorCounts := make(map[string]int)

	for _, event := range syncs {
		if event.Success {
			report.SuccessCount++
		} else {
			report.FailureCount++
			errorCounts[errorKind(event.Error)]++
		}
		report.TotalRecords += event.RecordsProcessed
		totalDurationMs += float64(event.Duration.Milliseconds())
		if seconds := event.Duration.Seconds(); seconds > 0 {
			totalThroughput += float64(event.RecordsProcessed) / seconds
			throughputSamples++
		}
	}

	if len(syncs) > 0 {
		report.AvgDurationMs = totalDurationMs / float64(len(syncs))
		report.ErrorRate = float64(report.FailureCount) / float64(len(syncs))
	}
	if throughputSamples > 0 {
		report.AvgRecordsPerSec = totalThroughput / float64(throughputSamples)
	}

	report.ConflictCount = len(conflicts)
	resolved := 0
	for _, event := range conflicts {
		if event.Resolved {
			resolved++
		}
	}
	if len(conflicts) > 0 {
		report.ResolutionRate = float64(resolved) / float64(len(conflicts))
	} else {
		report.ResolutionRate = 1.0
	}

	report.TopErrors = topErrors(errorCounts, 5)
	report.Recommendations = recommendations(report)

	return report, nil
}

// errorKind buckets an error message by the text before its first colon.
func errorKind(message string) string {
	if message == "" {
		return "unknown"
	}
	if idx := strings.Index(message, ":"); idx > 0 {
		return strings.TrimSpace(message[:idx])
	}
	return message
}

func topErrors(counts map[string]int, limit int) []ErrorBucket {
	buckets := make([]ErrorBucket, 0, len(counts))
	for kind, count := range counts {
		buckets = append(buckets, ErrorBucket{Kind: kind, Count: count})
	}
	sort.Slice(buckets, func(i, j int) bool {
		if buckets[i].Count != buckets[j].Count {
			return buckets[i].Count > buckets[j].Count
		}
		return buckets[i].Kind < buckets[j].Kind
	})
	if len(buckets) > limit {
		buckets = buckets[:limit]
	}
	return buckets
}

// recommendations derives operator guidance from the report's aggregates.
func recommendations(report *PerformanceReport) []string {
	var recs []string

	if report.AvgDurationMs > 10_000 {
		recs = append(recs, "average sync duration exceeds 10s; consider smaller batches or parallel jobs")
	}
	if report.ErrorRate > 0.10 {
		recs = append(recs, "error rate exceeds 10%; review failing endpoints and retry settings")
	}
	if report.ConflictCount > 0 && report.ResolutionRate < 0.80 {
		recs = append(recs, "conflict resolution rate below 80%; review the configured resolution strategy")
	}
	if len(recs) == 0 {
		recs = append(recs, "sync performance is within expected bounds")
	}
	return recs
}
