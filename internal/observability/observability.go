// Package observability implements the two usage/reporting endpoints:
// today's budget snapshot and the 7-day observability rollup (query
// volume, latency percentiles, document status breakdown, top queried
// documents, recent errors). Grounded on
// original_source/server/app/api/usage.py and schemas/usage.py.
package observability

import (
	"math"
	"time"

	"github.com/pixell07/ragserve/internal/apperr"
)

const windowDays = 7

// QuerySummary mirrors ObservabilityQuerySummary.
type QuerySummary struct {
	TotalQueries        int     `json:"total_queries"`
	QueriesLast24h      int     `json:"queries_last_24h"`
	ErrorCountLast24h   int     `json:"error_count_last_24h"`
	ErrorRateLast24h    float64 `json:"error_rate_last_24h"`
	AvgLatencyMsLast24h float64 `json:"avg_latency_ms_last_24h"`
	P95LatencyMsLast24h float64 `json:"p95_latency_ms_last_24h"`
}

// QueryVolumePoint mirrors ObservabilityQueryVolumePoint.
type QueryVolumePoint struct {
	Date   string `json:"date"`
	Count  int    `json:"count"`
	Errors int    `json:"errors"`
}

// DocumentSummary mirrors ObservabilityDocumentSummary. The original's
// "queued" status bucket has no equivalent in this schema's chk_status
// constraint, so processing_count sums the four statuses that exist
// between upload and ready (see DESIGN.md).
type DocumentSummary struct {
	Total      int `json:"total"`
	Ready      int `json:"ready"`
	Processing int `json:"processing"`
	Failed     int `json:"failed"`
}

// TopDocument mirrors ObservabilityTopDocument.
type TopDocument struct {
	DocumentID    string     `json:"document_id"`
	Filename      string     `json:"filename"`
	QueryCount    int        `json:"query_count"`
	ErrorCount    int        `json:"error_count"`
	LastQueriedAt *time.Time `json:"last_queried_at"`
}

// RecentError mirrors ObservabilityRecentError.
type RecentError struct {
	QueryID      string    `json:"query_id"`
	CreatedAt    time.Time `json:"created_at"`
	Question     string    `json:"question"`
	ErrorMessage string    `json:"error_message"`
	DocumentID   *string   `json:"document_id"`
}

// Response mirrors ObservabilityResponse.
type Response struct {
	GeneratedAt  time.Time             `json:"generated_at"`
	WindowDays   int                   `json:"window_days"`
	UsageToday   apperr.BudgetSnapshot `json:"usage_today"`
	QuerySummary QuerySummary          `json:"query_summary"`
	QueryVolume  []QueryVolumePoint    `json:"query_volume"`
	Documents    DocumentSummary       `json:"documents"`
	TopDocuments []TopDocument         `json:"top_documents"`
	RecentErrors []RecentError         `json:"recent_errors"`
}

// percentile mirrors _percentile: nearest-rank on a sorted copy, p in [0,100].
func percentile(values []int, p float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := make([]int, len(values))
	copy(sorted, values)
	for i := 1; i < len(sorted); i++ {
		for j := i; j > 0 && sorted[j-1] > sorted[j]; j-- {
			sorted[j-1], sorted[j] = sorted[j], sorted[j-1]
		}
	}
	index := int(math.Ceil((p/100.0)*float64(len(sorted)))) - 1
	if index < 0 {
		index = 0
	}
	if index > len(sorted)-1 {
		index = len(sorted) - 1
	}
	return float64(sorted[index])
}
