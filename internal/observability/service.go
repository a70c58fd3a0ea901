package observability

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pixell07/ragserve/internal/apperr"
	"github.com/pixell07/ragserve/internal/budget"
)

type Service struct {
	db     *pgxpool.Pool
	ledger *budget.Ledger
}

func NewService(db *pgxpool.Pool, ledger *budget.Ledger) *Service {
	return &Service{db: db, ledger: ledger}
}

// Today returns the workspace's current daily budget snapshot, matching
// GET /usage/today.
func (s *Service) Today(ctx context.Context, workspaceID uuid.UUID) (apperr.BudgetSnapshot, error) {
	return s.ledger.Status(ctx, workspaceID)
}

// Observability builds the 7-day rollup behind GET /usage/observability.
func (s *Service) Observability(ctx context.Context, workspaceID uuid.UUID) (Response, error) {
	now := time.Now().UTC()

	usageToday, err := s.ledger.Status(ctx, workspaceID)
	if err != nil {
		return Response{}, err
	}

	var totalQueries int
	if err := s.db.QueryRow(ctx, `
		SELECT count(*) FROM query_logs WHERE workspace_id = $1`, workspaceID).Scan(&totalQueries); err != nil {
		return Response{}, apperr.Internal("counting total queries", err)
	}

	querySummary, err := s.querySummary(ctx, workspaceID, totalQueries)
	if err != nil {
		return Response{}, err
	}

	volume, err := s.queryVolume(ctx, workspaceID)
	if err != nil {
		return Response{}, err
	}

	documents, err := s.documentSummary(ctx, workspaceID)
	if err != nil {
		return Response{}, err
	}

	topDocs, err := s.topDocuments(ctx, workspaceID)
	if err != nil {
		return Response{}, err
	}

	recentErrors, err := s.recentErrors(ctx, workspaceID)
	if err != nil {
		return Response{}, err
	}

	return Response{
		GeneratedAt:  now,
		WindowDays:   windowDays,
		UsageToday:   usageToday,
		QuerySummary: querySummary,
		QueryVolume:  volume,
		Documents:    documents,
		TopDocuments: topDocs,
		RecentErrors: recentErrors,
	}, nil
}

func (s *Service) querySummary(ctx context.Context, workspaceID uuid.UUID, totalQueries int) (QuerySummary, error) {
	rows, err := s.db.Query(ctx, `
		SELECT total_latency_ms, error_message
		FROM query_logs
		WHERE workspace_id = $1 AND created_at >= now() - interval '24 hours'`,
		workspaceID)
	if err != nil {
		return QuerySummary{}, apperr.Internal("loading 24h query rows", err)
	}
	defer rows.Close()

	var queriesLast24h, errorCount int
	var latencies []int
	for rows.Next() {
		var latencyMs *int
		var errorMessage *string
		if err := rows.Scan(&latencyMs, &errorMessage); err != nil {
			return QuerySummary{}, apperr.Internal("scanning 24h query row", err)
		}
		queriesLast24h++
		if errorMessage != nil {
			errorCount++
		}
		if latencyMs != nil {
			latencies = append(latencies, *latencyMs)
		}
	}
	if err := rows.Err(); err != nil {
		return QuerySummary{}, apperr.Internal("iterating 24h query rows", err)
	}

	var avgLatency float64
	if len(latencies) > 0 {
		sum := 0
		for _, v := range latencies {
			sum += v
		}
		avgLatency = float64(sum) / float64(len(latencies))
	}
	var errorRate float64
	if queriesLast24h > 0 {
		errorRate = float64(errorCount) / float64(queriesLast24h)
	}

	return QuerySummary{
		TotalQueries:        totalQueries,
		QueriesLast24h:      queriesLast24h,
		ErrorCountLast24h:   errorCount,
		ErrorRateLast24h:    errorRate,
		AvgLatencyMsLast24h: avgLatency,
		P95LatencyMsLast24h: percentile(latencies, 95.0),
	}, nil
}

func (s *Service) queryVolume(ctx context.Context, workspaceID uuid.UUID) ([]QueryVolumePoint, error) {
	rows, err := s.db.Query(ctx, `
		SELECT
			to_char((created_at AT TIME ZONE 'UTC')::date, 'YYYY-MM-DD') AS day,
			count(*) AS count,
			sum(CASE WHEN error_message IS NOT NULL THEN 1 ELSE 0 END) AS errors
		FROM query_logs
		WHERE workspace_id = $1 AND created_at >= now() - interval '7 days'
		GROUP BY (created_at AT TIME ZONE 'UTC')::date
		ORDER BY (created_at AT TIME ZONE 'UTC')::date ASC`,
		workspaceID)
	if err != nil {
		return nil, apperr.Internal("loading query volume", err)
	}
	defer rows.Close()

	var points []QueryVolumePoint
	for rows.Next() {
		var p QueryVolumePoint
		if err := rows.Scan(&p.Date, &p.Count, &p.Errors); err != nil {
			return nil, apperr.Internal("scanning query volume row", err)
		}
		points = append(points, p)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Internal("iterating query volume", err)
	}
	return points, nil
}

func (s *Service) documentSummary(ctx context.Context, workspaceID uuid.UUID) (DocumentSummary, error) {
	rows, err := s.db.Query(ctx, `
		SELECT status, count(*) FROM documents WHERE workspace_id = $1 GROUP BY status`,
		workspaceID)
	if err != nil {
		return DocumentSummary{}, apperr.Internal("loading document status breakdown", err)
	}
	defer rows.Close()

	byStatus := map[string]int{}
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return DocumentSummary{}, apperr.Internal("scanning document status row", err)
		}
		byStatus[status] = count
	}
	if err := rows.Err(); err != nil {
		return DocumentSummary{}, apperr.Internal("iterating document status breakdown", err)
	}

	total := 0
	for _, c := range byStatus {
		total += c
	}
	processing := byStatus["pending_upload"] + byStatus["uploaded"] + byStatus["extracting"] + byStatus["indexing"]
	return DocumentSummary{
		Total:      total,
		Ready:      byStatus["ready"] + byStatus["indexed"],
		Processing: processing,
		Failed:     byStatus["failed"],
	}, nil
}

func (s *Service) topDocuments(ctx context.Context, workspaceID uuid.UUID) ([]TopDocument, error) {
	rows, err := s.db.Query(ctx, `
		SELECT
			d.id,
			d.filename,
			count(ql.id) AS query_count,
			sum(CASE WHEN ql.error_message IS NOT NULL THEN 1 ELSE 0 END) AS error_count,
			max(ql.created_at) AS last_queried_at
		FROM documents d
		LEFT JOIN query_logs ql
		  ON ql.workspace_id = d.workspace_id
		 AND d.id = ql.documents_searched[1]
		WHERE d.workspace_id = $1
		GROUP BY d.id, d.filename
		HAVING count(ql.id) > 0
		ORDER BY query_count DESC, last_queried_at DESC NULLS LAST
		LIMIT 5`,
		workspaceID)
	if err != nil {
		return nil, apperr.Internal("loading top documents", err)
	}
	defer rows.Close()

	var docs []TopDocument
	for rows.Next() {
		var id uuid.UUID
		var t TopDocument
		if err := rows.Scan(&id, &t.Filename, &t.QueryCount, &t.ErrorCount, &t.LastQueriedAt); err != nil {
			return nil, apperr.Internal("scanning top document row", err)
		}
		t.DocumentID = id.String()
		docs = append(docs, t)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Internal("iterating top documents", err)
	}
	return docs, nil
}

func (s *Service) recentErrors(ctx context.Context, workspaceID uuid.UUID) ([]RecentError, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, created_at, query_text, error_message, documents_searched
		FROM query_logs
		WHERE workspace_id = $1 AND error_message IS NOT NULL
		ORDER BY created_at DESC
		LIMIT 10`,
		workspaceID)
	if err != nil {
		return nil, apperr.Internal("loading recent errors", err)
	}
	defer rows.Close()

	var out []RecentError
	for rows.Next() {
		var id uuid.UUID
		var re RecentError
		var errorMessage string
		var documentsSearched []uuid.UUID
		if err := rows.Scan(&id, &re.CreatedAt, &re.Question, &errorMessage, &documentsSearched); err != nil {
			return nil, apperr.Internal("scanning recent error row", err)
		}
		re.QueryID = id.String()
		re.ErrorMessage = errorMessage
		if len(documentsSearched) > 0 {
			docID := documentsSearched[0].String()
			re.DocumentID = &docID
		}
		out = append(out, re)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Internal("iterating recent errors", err)
	}
	return out, nil
}
