package query

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/pixell07/ragserve/internal/answer"
	"github.com/pixell07/ragserve/internal/apperr"
	"github.com/pixell07/ragserve/internal/budget"
	"github.com/pixell07/ragserve/internal/document"
	"github.com/pixell07/ragserve/internal/llmclient"
	"github.com/pixell07/ragserve/internal/retrieval"
)

// queryRateLimit mirrors rate_limit.py's QUERY_RATE_LIMIT: 100 requests
// per window per workspace, sharing the "query" op label with the citation
// source lookup. The window length is the injected limiter's own (60s as
// cmd/server builds it).
const queryRateLimit = 100

type embedder interface {
	EmbedQuery(ctx context.Context, text string) (vector []float32, totalTokens int64, err error)
}

type ledger interface {
	Reserve(ctx context.Context, workspaceID uuid.UUID, amount int64) (budget.Reservation, error)
	Commit(ctx context.Context, workspaceID uuid.UUID, amount int64) error
	Release(ctx context.Context, workspaceID uuid.UUID, amount int64) error
	Status(ctx context.Context, workspaceID uuid.UUID) (apperr.BudgetSnapshot, error)
}

type retriever interface {
	TopK(ctx context.Context, workspaceID, documentID uuid.UUID, queryEmbedding []float32, k int) ([]retrieval.Retrieved, error)
}

type answerer interface {
	Answer(ctx context.Context, question string, chunks []retrieval.Retrieved) (llmclient.Result, error)
	StreamAnswer(ctx context.Context, question string, chunks []retrieval.Retrieved) (<-chan llmclient.StreamEvent, error)
}

type limiter interface {
	Allow(ctx context.Context, op string, workspaceID uuid.UUID, limit int64) error
}

// Pipeline orchestrates the query request lifecycle, wired from the
// concrete internal/retrieval, internal/answer, internal/embedding,
// internal/budget and internal/ratelimit types at construction, through
// the narrow seams above so tests can inject fakes.
type Pipeline struct {
	repo     *Repository
	retrieve retriever
	answer   answerer
	embed    embedder
	ledger   ledger
	limiter  limiter

	topK               int
	maxQuestionChars   int
	llmMaxOutputTokens int64
	logEachQuery       bool
}

func NewPipeline(repo *Repository, r retriever, a answerer, e embedder, l ledger, lim limiter, topK, maxQuestionChars, llmMaxOutputTokens int, logEachQuery bool) *Pipeline {
	return &Pipeline{
		repo: repo, retrieve: r, answer: a, embed: e, ledger: l, limiter: lim,
		topK: topK, maxQuestionChars: maxQuestionChars,
		llmMaxOutputTokens: int64(llmMaxOutputTokens), logEachQuery: logEachQuery,
	}
}

func sumTokenCounts(chunks []retrieval.Retrieved) int {
	total := 0
	for _, c := range chunks {
		total += c.TokenCount
	}
	return total
}

func buildCitations(chunks []retrieval.Retrieved) []Citation {
	if len(chunks) == 0 {
		return nil
	}
	out := make([]Citation, 0, len(chunks))
	for _, c := range chunks {
		out = append(out, Citation{
			DocumentID: c.DocumentID,
			PageNumber: c.PageNumber,
			ChunkID:    c.ChunkID,
			Score:      c.Score,
			Snippet:    c.Snippet(),
		})
	}
	return out
}

// validateQuestion mirrors both handlers' shared question check: trimmed,
// non-empty, at most maxQuestionChars.
func (p *Pipeline) validateQuestion(question string) (string, error) {
	trimmed := strings.TrimSpace(question)
	if trimmed == "" || len(trimmed) > p.maxQuestionChars {
		return "", apperr.Validation("question must be between 1 and " + itoa(p.maxQuestionChars) + " characters")
	}
	return trimmed, nil
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

// checkDocumentReady loads the document's status scoped to workspaceID
// and enforces it is queryable, matching both handlers' inline SELECT.
func (p *Pipeline) checkDocumentReady(ctx context.Context, workspaceID, documentID uuid.UUID) error {
	status, err := p.repo.documentReadiness(ctx, workspaceID, documentID)
	if err != nil {
		return err
	}
	if status != document.StatusReady && status != document.StatusIndexed {
		return apperr.Conflict("document is not ready for querying")
	}
	return nil
}

type logParams struct {
	workspaceID         uuid.UUID
	userID              string
	documentID          uuid.UUID
	question            string
	retrievedChunks     []retrieval.Retrieved
	answerText          *string
	errorMessage        *string
	retrievalLatencyMs  int
	llmLatencyMs        *int
	totalLatencyMs      int
	embeddingTokensUsed int64
	llmInputTokens      *int64
	llmOutputTokens     *int64
	totalTokensUsed     int64
}

// logQuery is best-effort: a failure here must never change the answer
// already produced, matching _log_query's try/rollback wrapping at every
// call site in the original.
func (p *Pipeline) logQuery(ctx context.Context, lp logParams) {
	if !p.logEachQuery {
		return
	}
	chunkIDs := make([]uuid.UUID, len(lp.retrievedChunks))
	scores := make([]float64, len(lp.retrievedChunks))
	for i, c := range lp.retrievedChunks {
		chunkIDs[i] = c.ChunkID
		scores[i] = c.Score
	}
	_ = p.repo.InsertLog(ctx, LogEntry{
		WorkspaceID:         lp.workspaceID,
		UserID:              lp.userID,
		QueryText:           lp.question,
		DocumentID:          lp.documentID,
		RetrievedChunkIDs:   chunkIDs,
		ChunkScores:         scores,
		AnswerText:          lp.answerText,
		ErrorMessage:        lp.errorMessage,
		RetrievalLatencyMs:  lp.retrievalLatencyMs,
		LLMLatencyMs:        lp.llmLatencyMs,
		TotalLatencyMs:      lp.totalLatencyMs,
		EmbeddingTokensUsed: lp.embeddingTokensUsed,
		LLMInputTokens:      lp.llmInputTokens,
		LLMOutputTokens:     lp.llmOutputTokens,
		TotalTokensUsed:     lp.totalTokensUsed,
	})
}

// Run executes the unary 13-step query pipeline described in spec.md
// §4.4, grounded step-for-step on query.py's run_query.
func (p *Pipeline) Run(ctx context.Context, req Request) (Result, error) {
	requestStarted := time.Now()

	if err := p.limiter.Allow(ctx, rateLimitOpQuery, req.WorkspaceID, queryRateLimit); err != nil {
		return Result{}, err
	}

	question, err := p.validateQuestion(req.Question)
	if err != nil {
		return Result{}, err
	}

	if err := p.checkDocumentReady(ctx, req.WorkspaceID, req.DocumentID); err != nil {
		return Result{}, err
	}

	retrievalStarted := time.Now()
	queryVector, embeddingTokens, err := p.embed.EmbedQuery(ctx, question)
	if err != nil {
		return Result{}, err
	}
	chunks, err := p.retrieve.TopK(ctx, req.WorkspaceID, req.DocumentID, queryVector, p.topK)
	if err != nil {
		return Result{}, err
	}
	retrievalLatencyMs := timeSince(retrievalStarted)

	estimatedQueryTokens := estimateQueryTokens(question)
	estimatedInput := estimateLLMInputTokens(question, sumTokenCounts(chunks))
	estimatedTotal := estimatedQueryTokens + estimatedInput + p.llmMaxOutputTokens

	if _, err := p.ledger.Reserve(ctx, req.WorkspaceID, estimatedTotal); err != nil {
		return Result{}, err
	}
	reservedAmount := estimatedTotal

	if len(chunks) == 0 {
		answerText := answer.InsufficientContextMessage
		committed := min64(embeddingTokens, reservedAmount)
		if err := p.settle(ctx, req.WorkspaceID, committed, reservedAmount); err != nil {
			_ = p.ledger.Release(ctx, req.WorkspaceID, reservedAmount)
			return Result{}, err
		}
		usage, _ := p.ledger.Status(ctx, req.WorkspaceID)

		p.logQuery(ctx, logParams{
			workspaceID: req.WorkspaceID, userID: req.UserID, documentID: req.DocumentID,
			question: question, answerText: &answerText,
			retrievalLatencyMs: retrievalLatencyMs, totalLatencyMs: timeSince(requestStarted),
			embeddingTokensUsed: embeddingTokens, totalTokensUsed: committed,
		})
		return Result{Answer: answerText, Citations: nil, Usage: usage}, nil
	}

	llmStarted := time.Now()
	llmResult, err := p.answer.Answer(ctx, question, chunks)
	if err != nil {
		_ = p.ledger.Release(ctx, req.WorkspaceID, reservedAmount)
		return Result{}, err
	}
	llmLatencyMs := timeSince(llmStarted)

	answerText := llmResult.Answer
	if answerText == "" {
		answerText = answer.InsufficientContextMessage
	}

	actualTotal := embeddingTokens + llmResult.TotalTokens
	committed := min64(actualTotal, reservedAmount)
	if err := p.settle(ctx, req.WorkspaceID, committed, reservedAmount); err != nil {
		_ = p.ledger.Release(ctx, req.WorkspaceID, reservedAmount)
		return Result{}, err
	}
	usage, _ := p.ledger.Status(ctx, req.WorkspaceID)

	citations := buildCitations(chunks)
	inputTok, outputTok := llmResult.InputTokens, llmResult.OutputTokens
	p.logQuery(ctx, logParams{
		workspaceID: req.WorkspaceID, userID: req.UserID, documentID: req.DocumentID,
		question: question, retrievedChunks: chunks, answerText: &answerText,
		retrievalLatencyMs: retrievalLatencyMs, llmLatencyMs: &llmLatencyMs,
		totalLatencyMs: timeSince(requestStarted), embeddingTokensUsed: embeddingTokens,
		llmInputTokens: &inputTok, llmOutputTokens: &outputTok, totalTokensUsed: committed,
	})
	return Result{Answer: answerText, Citations: citations, Usage: usage}, nil
}

// settle commits min(actual, reserved) and releases any remainder,
// matching every call site's commit_usage/release_tokens pairing.
func (p *Pipeline) settle(ctx context.Context, workspaceID uuid.UUID, committed, reserved int64) error {
	if err := p.ledger.Commit(ctx, workspaceID, committed); err != nil {
		return err
	}
	if reserved > committed {
		if err := p.ledger.Release(ctx, workspaceID, reserved-committed); err != nil {
			return err
		}
	}
	return nil
}

// SSEEvent is one SSE frame; an Emitter (below) carries it out in
// event/data form the way _sse_event formats it in the original.
type SSEEvent struct {
	Event   string
	Payload any
}

type Emitter func(event string, payload any) error

type metaPayload struct {
	RequestID  string `json:"request_id"`
	DocumentID string `json:"document_id"`
	TopK       int    `json:"top_k"`
}

type deltaPayload struct {
	Text string `json:"text"`
}

type citationsPayload struct {
	Citations []Citation `json:"citations"`
}

type usagePayload struct {
	Usage apperr.BudgetSnapshot `json:"usage"`
}

type errorPayload struct {
	Message string `json:"message"`
	Code    string `json:"code"`
}

// RunStream executes the SSE variant of the pipeline, grounded on
// query_stream.py's run_query_stream. emit sends one named SSE event;
// isDisconnected is polled between deltas the way the original awaits
// request.is_disconnected().
func (p *Pipeline) RunStream(ctx context.Context, req Request, emit Emitter, isDisconnected func() bool) error {
	requestStarted := time.Now()
	requestID := uuid.New().String()

	if err := p.limiter.Allow(ctx, rateLimitOpQuery, req.WorkspaceID, queryRateLimit); err != nil {
		return emit("error", errorPayload{Message: err.Error(), Code: errCode(err)})
	}

	question, err := p.validateQuestion(req.Question)
	if err != nil {
		return emit("error", errorPayload{Message: err.Error(), Code: "INVALID_QUESTION"})
	}

	if err := p.checkDocumentReady(ctx, req.WorkspaceID, req.DocumentID); err != nil {
		if ae, ok := apperr.As(err); ok && ae.Code == apperr.CodeNotFound {
			return emit("error", errorPayload{Message: "Document not found", Code: "DOCUMENT_NOT_FOUND"})
		}
		return emit("error", errorPayload{Message: "Document is not ready for querying", Code: "DOCUMENT_NOT_READY"})
	}

	retrievalStarted := time.Now()
	queryVector, embeddingTokens, err := p.embed.EmbedQuery(ctx, question)
	if err != nil {
		return p.failStream(ctx, emit, req, question, requestStarted, 0, err)
	}
	chunks, err := p.retrieve.TopK(ctx, req.WorkspaceID, req.DocumentID, queryVector, p.topK)
	if err != nil {
		return p.failStream(ctx, emit, req, question, requestStarted, 0, err)
	}
	retrievalLatencyMs := timeSince(retrievalStarted)

	estimatedQueryTokens := estimateQueryTokens(question)
	estimatedInput := estimateLLMInputTokens(question, sumTokenCounts(chunks))
	estimatedTotal := estimatedQueryTokens + estimatedInput + p.llmMaxOutputTokens

	if _, err := p.ledger.Reserve(ctx, req.WorkspaceID, estimatedTotal); err != nil {
		if ae, ok := apperr.As(err); ok && ae.Code == apperr.CodeBudgetExceeded {
			return emit("error", errorPayload{Message: ae.Message, Code: "BUDGET_EXCEEDED"})
		}
		return emit("error", errorPayload{Message: err.Error(), Code: errCode(err)})
	}
	reservedAmount := estimatedTotal

	if err := emit("meta", metaPayload{RequestID: requestID, DocumentID: req.DocumentID.String(), TopK: p.topK}); err != nil {
		_ = p.ledger.Release(ctx, req.WorkspaceID, reservedAmount)
		return err
	}

	if len(chunks) == 0 {
		answerText := answer.InsufficientContextMessage
		if err := emit("delta", deltaPayload{Text: answerText}); err != nil {
			_ = p.ledger.Release(ctx, req.WorkspaceID, reservedAmount)
			return err
		}
		committed := min64(embeddingTokens, reservedAmount)
		if err := p.settle(ctx, req.WorkspaceID, committed, reservedAmount); err != nil {
			return p.failStream(ctx, emit, req, question, requestStarted, reservedAmount, err)
		}
		usage, _ := p.ledger.Status(ctx, req.WorkspaceID)

		p.logQuery(ctx, logParams{
			workspaceID: req.WorkspaceID, userID: req.UserID, documentID: req.DocumentID,
			question: question, answerText: &answerText,
			retrievalLatencyMs: retrievalLatencyMs, totalLatencyMs: timeSince(requestStarted),
			embeddingTokensUsed: embeddingTokens, totalTokensUsed: committed,
		})

		if err := emit("citations", citationsPayload{}); err != nil {
			return err
		}
		if err := emit("usage", usagePayload{Usage: usage}); err != nil {
			return err
		}
		return emit("done", map[string]bool{"ok": true})
	}

	llmStarted := time.Now()
	events, err := p.answer.StreamAnswer(ctx, question, chunks)
	if err != nil {
		return p.failStream(ctx, emit, req, question, requestStarted, reservedAmount, err)
	}

	var streamed strings.Builder
	var final *llmclient.Result
	for ev := range events {
		if isDisconnected != nil && isDisconnected() {
			_ = p.ledger.Release(ctx, req.WorkspaceID, reservedAmount)
			return nil
		}
		switch ev.Type {
		case "delta":
			if ev.Text == "" {
				continue
			}
			streamed.WriteString(ev.Text)
			if err := emit("delta", deltaPayload{Text: ev.Text}); err != nil {
				_ = p.ledger.Release(ctx, req.WorkspaceID, reservedAmount)
				return err
			}
		case "done":
			final = ev.Result
		}
	}
	llmLatencyMs := timeSince(llmStarted)

	if final == nil {
		return p.failStream(ctx, emit, req, question, requestStarted, reservedAmount,
			apperr.Upstream("llm stream ended without a final result", nil))
	}
	answerText := final.Answer
	if answerText == "" {
		answerText = answer.InsufficientContextMessage
	}
	if streamed.Len() == 0 && answerText == answer.InsufficientContextMessage {
		if err := emit("delta", deltaPayload{Text: answerText}); err != nil {
			_ = p.ledger.Release(ctx, req.WorkspaceID, reservedAmount)
			return err
		}
	}

	actualTotal := embeddingTokens + final.TotalTokens
	committed := min64(actualTotal, reservedAmount)
	if err := p.settle(ctx, req.WorkspaceID, committed, reservedAmount); err != nil {
		return p.failStream(ctx, emit, req, question, requestStarted, reservedAmount, err)
	}
	usage, _ := p.ledger.Status(ctx, req.WorkspaceID)

	inputTok, outputTok := final.InputTokens, final.OutputTokens
	p.logQuery(ctx, logParams{
		workspaceID: req.WorkspaceID, userID: req.UserID, documentID: req.DocumentID,
		question: question, retrievedChunks: chunks, answerText: &answerText,
		retrievalLatencyMs: retrievalLatencyMs, llmLatencyMs: &llmLatencyMs,
		totalLatencyMs: timeSince(requestStarted), embeddingTokensUsed: embeddingTokens,
		llmInputTokens: &inputTok, llmOutputTokens: &outputTok, totalTokensUsed: committed,
	})

	if err := emit("citations", citationsPayload{Citations: buildCitations(chunks)}); err != nil {
		return err
	}
	if err := emit("usage", usagePayload{Usage: usage}); err != nil {
		return err
	}
	return emit("done", map[string]bool{"ok": true})
}

// failStream releases any outstanding reservation, best-effort logs the
// failure, and emits a QUERY_FAILED error event, matching the original's
// generic except-Exception branch.
func (p *Pipeline) failStream(ctx context.Context, emit Emitter, req Request, question string, requestStarted time.Time, reservedAmount int64, cause error) error {
	if reservedAmount > 0 {
		_ = p.ledger.Release(ctx, req.WorkspaceID, reservedAmount)
	}
	msg := cause.Error()
	p.logQuery(ctx, logParams{
		workspaceID: req.WorkspaceID, userID: req.UserID, documentID: req.DocumentID,
		question: question, errorMessage: &msg, totalLatencyMs: timeSince(requestStarted),
	})
	return emit("error", errorPayload{Message: "Query failed: " + msg, Code: "QUERY_FAILED"})
}

func errCode(err error) string {
	ae, ok := apperr.As(err)
	if !ok {
		return "QUERY_FAILED"
	}
	return string(ae.Code)
}
