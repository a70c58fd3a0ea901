// Package embedding wraps the OpenAI embeddings endpoint behind a small
// interface, so the ingestion and query pipelines depend on a testable
// seam rather than the SDK client directly. Grounded on Tangerg-lynx's
// ai/extensions/models/openai Api/EmbeddingModel pair: same openai-go/v3
// client construction, generalized from that package's request/response
// model types down to the plain []float32 slices the original's
// embeddings.py dealt in.
package embedding

import (
	"context"
	"fmt"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"

	"github.com/pixell07/ragserve/internal/apperr"
)

// Embedder is the full surface OpenAIEmbedder provides. internal/query and
// internal/ingest each declare a narrower package-local interface with the
// one method they call, and their unit tests inject fakes of those.
type Embedder interface {
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)
	// EmbedQuery returns the query embedding plus the actual token usage
	// OpenAI billed for the request, matching embed_query_text's
	// {embedding, total_tokens} return in the original — the query
	// pipeline settles the budget against this exact figure rather than
	// an estimate, unlike ingestion's per-chunk estimate-based reserve.
	EmbedQuery(ctx context.Context, text string) (vector []float32, totalTokens int64, err error)
}

type OpenAIEmbedder struct {
	client *openai.Client
	model  string
	dim    int
}

func NewOpenAIEmbedder(apiKey, model string, dim int) *OpenAIEmbedder {
	client := openai.NewClient(option.WithAPIKey(apiKey))
	return &OpenAIEmbedder{client: &client, model: model, dim: dim}
}

func (e *OpenAIEmbedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	vecs, _, err := e.embed(ctx, texts)
	return vecs, err
}

func (e *OpenAIEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, int64, error) {
	vecs, totalTokens, err := e.embed(ctx, []string{text})
	if err != nil {
		return nil, 0, err
	}
	if len(vecs) == 0 {
		return nil, 0, apperr.Upstream("embedding response contained no vectors", nil)
	}
	return vecs[0], totalTokens, nil
}

func (e *OpenAIEmbedder) embed(ctx context.Context, texts []string) ([][]float32, int64, error) {
	if len(texts) == 0 {
		return nil, 0, nil
	}

	resp, err := e.client.Embeddings.New(ctx, openai.EmbeddingNewParams{
		Model: e.model,
		Input: openai.EmbeddingNewParamsInputUnion{OfArrayOfStrings: texts},
	})
	if err != nil {
		return nil, 0, apperr.UpstreamUnavailable("embedding request failed", err)
	}

	out := make([][]float32, len(resp.Data))
	for _, d := range resp.Data {
		vec, err := toFloat32(d.Embedding, e.dim)
		if err != nil {
			return nil, 0, err
		}
		out[d.Index] = vec
	}
	return out, resp.Usage.TotalTokens, nil
}

func toFloat32(in []float64, wantDim int) ([]float32, error) {
	if wantDim > 0 && len(in) != wantDim {
		return nil, apperr.Validation(fmt.Sprintf("embedding dimension %d does not match configured dimension %d", len(in), wantDim))
	}
	out := make([]float32, len(in))
	for i, v := range in {
		out[i] = float32(v)
	}
	return out, nil
}
