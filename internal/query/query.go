// Package query implements the Query Pipeline orchestrator: rate limit,
// validation, document-readiness, embed, retrieve, estimate, reserve,
// empty-chunk short-circuit, LLM call, settle, citation shaping, and
// audit logging. Grounded step-for-step on
// original_source/server/app/api/query.py (unary, internal/query.Run) and
// original_source/server/app/api/query_stream.py (SSE, RunStream).
package query

import (
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/pixell07/ragserve/internal/apperr"
)

const rateLimitOpQuery = "query"
const promptTemplateTokens = 200

// Citation is one retrieved chunk surfaced in the response, matching
// QueryCitation in the original's schemas/query.py.
type Citation struct {
	DocumentID uuid.UUID `json:"document_id"`
	PageNumber int       `json:"page_number"`
	ChunkID    uuid.UUID `json:"chunk_id"`
	Score      float64   `json:"score"`
	Snippet    string    `json:"snippet"`
}

// Result is the outcome of a unary Run call.
type Result struct {
	Answer    string             `json:"answer"`
	Citations []Citation         `json:"citations"`
	Usage     apperr.BudgetSnapshot `json:"usage"`
}

// Request carries the four entry fields spec.md §4.4 names.
type Request struct {
	WorkspaceID uuid.UUID
	UserID      string
	DocumentID  uuid.UUID
	Question    string
}

// estimateQueryTokens mirrors _estimate_query_tokens: ceil((len/4)*1.3).
func estimateQueryTokens(question string) int64 {
	return int64(math.Ceil((float64(len(question)) / 4) * 1.3))
}

// estimateLLMInputTokens mirrors _estimate_llm_input_tokens:
// ceil(sum(chunk.token_count) + 200 + len(question)/4).
func estimateLLMInputTokens(question string, chunkTokensSum int) int64 {
	return int64(math.Ceil(float64(chunkTokensSum) + promptTemplateTokens + float64(len(question))/4))
}

func min64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}

func timeSince(start time.Time) int {
	return int(time.Since(start).Milliseconds())
}
