package observability

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/pixell07/ragserve/internal/budget"
	"github.com/pixell07/ragserve/internal/testdb"
)

func newObservabilityTestService(t *testing.T) (*Service, uuid.UUID, uuid.UUID) {
	t.Helper()
	pool := testdb.Pool(t)
	ledger := budget.NewLedger(pool, 1_000_000)
	svc := NewService(pool, ledger)

	wsID := uuid.New()
	_, err := pool.Exec(context.Background(),
		`INSERT INTO workspaces (id, owner_id, name) VALUES ($1, $2, $3)`, wsID, uuid.New(), "acme")
	require.NoError(t, err)

	docID := uuid.New()
	_, err = pool.Exec(context.Background(), `
		INSERT INTO documents (id, workspace_id, filename, content_type, storage_path, status)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		docID, wsID, "report.pdf", "application/pdf", wsID.String()+"/"+docID.String()+"/report.pdf", "ready")
	require.NoError(t, err)

	return svc, wsID, docID
}

func insertQueryLog(t *testing.T, svc *Service, wsID, docID uuid.UUID, latencyMs int, errMsg *string) {
	t.Helper()
	_, err := svc.db.Exec(context.Background(), `
		INSERT INTO query_logs (
			workspace_id, query_text, documents_searched, total_latency_ms, error_message
		) VALUES ($1, $2, $3, $4, $5)`,
		wsID, "what is the refund policy?", []uuid.UUID{docID}, latencyMs, errMsg)
	require.NoError(t, err)
}

func TestObservabilitySummarizesQueriesAndDocuments(t *testing.T) {
	svc, wsID, docID := newObservabilityTestService(t)

	insertQueryLog(t, svc, wsID, docID, 100, nil)
	insertQueryLog(t, svc, wsID, docID, 200, nil)
	failMsg := "llm timed out"
	insertQueryLog(t, svc, wsID, docID, 300, &failMsg)

	resp, err := svc.Observability(context.Background(), wsID)
	require.NoError(t, err)

	require.Equal(t, 3, resp.QuerySummary.TotalQueries)
	require.Equal(t, 3, resp.QuerySummary.QueriesLast24h)
	require.Equal(t, 1, resp.QuerySummary.ErrorCountLast24h)
	require.InDelta(t, 1.0/3.0, resp.QuerySummary.ErrorRateLast24h, 0.0001)
	require.InDelta(t, 200.0, resp.QuerySummary.AvgLatencyMsLast24h, 0.0001)

	require.Equal(t, 1, resp.Documents.Total)
	require.Equal(t, 1, resp.Documents.Ready)
	require.Equal(t, 0, resp.Documents.Processing)
	require.Equal(t, 0, resp.Documents.Failed)

	require.Len(t, resp.TopDocuments, 1)
	require.Equal(t, docID.String(), resp.TopDocuments[0].DocumentID)
	require.Equal(t, 3, resp.TopDocuments[0].QueryCount)
	require.Equal(t, 1, resp.TopDocuments[0].ErrorCount)

	require.Len(t, resp.RecentErrors, 1)
	require.Equal(t, "llm timed out", resp.RecentErrors[0].ErrorMessage)
	require.NotNil(t, resp.RecentErrors[0].DocumentID)
	require.Equal(t, docID.String(), *resp.RecentErrors[0].DocumentID)

	require.NotEmpty(t, resp.QueryVolume)
	require.Equal(t, windowDays, resp.WindowDays)
}

func TestObservabilityWithNoActivityReturnsZeroedSummary(t *testing.T) {
	svc, wsID, _ := newObservabilityTestService(t)

	resp, err := svc.Observability(context.Background(), wsID)
	require.NoError(t, err)
	require.Equal(t, 0, resp.QuerySummary.TotalQueries)
	require.Equal(t, 0.0, resp.QuerySummary.ErrorRateLast24h)
	require.Empty(t, resp.TopDocuments)
	require.Empty(t, resp.RecentErrors)
}

func TestTodayDelegatesToLedgerStatus(t *testing.T) {
	svc, wsID, _ := newObservabilityTestService(t)

	snap, err := svc.Today(context.Background(), wsID)
	require.NoError(t, err)
	require.Equal(t, int64(0), snap.Used)
	require.Equal(t, int64(1_000_000), snap.Limit)
}
