// Package answer builds the strict-grounded prompt and drives the LLM
// client to produce (or stream) an answer from a set of retrieved
// chunks. Grounded bit-for-bit on the original's
// server/app/core/prompts.py (grounded_system_prompt/grounded_user_prompt,
// reproduced verbatim) and server/app/core/llm.py
// (answer_question_strict_grounded / stream_answer_question_strict_grounded).
package answer

import (
	"context"
	"fmt"
	"strings"

	"github.com/pixell07/ragserve/internal/llmclient"
	"github.com/pixell07/ragserve/internal/retrieval"
)

// InsufficientContextMessage is the exact sentinel the grounded system
// prompt instructs the model to emit verbatim when context doesn't
// support an answer, and what the query pipeline substitutes directly
// when retrieval returns zero chunks.
const InsufficientContextMessage = "Insufficient context in the provided documents."

func SystemPrompt() string {
	return strings.Join([]string{
		"You are a strict grounded assistant.",
		"Rules:",
		"1) Use only the provided context blocks.",
		"2) Do not use outside knowledge.",
		"3) Every factual claim must include citations in format [p<page>|chunk:<chunk_id>].",
		fmt.Sprintf("4) If the context does not support the answer, output exactly: %s", InsufficientContextMessage),
		"5) Never fabricate citations.",
	}, "\n")
}

func UserPrompt(question string, chunks []retrieval.Retrieved) string {
	blocks := make([]string, 0, len(chunks))
	for i, c := range chunks {
		blocks = append(blocks, strings.Join([]string{
			fmt.Sprintf("Context %d", i+1),
			fmt.Sprintf("page: %d", c.PageNumber),
			fmt.Sprintf("chunk_id: %s", c.ChunkID),
			fmt.Sprintf("chunk_excerpt: %s", c.ChunkText),
			fmt.Sprintf("full_page_text: %s", c.PageText),
		}, "\n"))
	}

	return strings.Join([]string{
		fmt.Sprintf("Question:\n%s", question),
		"Context:",
		strings.Join(blocks, "\n\n"),
		"Answer using only the context above. Attach citations for all claims with [p<page>|chunk:<chunk_id>].",
	}, "\n\n")
}

type Answerer struct {
	llm *llmclient.Client
}

func NewAnswerer(llm *llmclient.Client) *Answerer {
	return &Answerer{llm: llm}
}

// Answer runs the unary grounded completion. Callers are responsible for
// the empty-chunks short-circuit (the query pipeline substitutes
// InsufficientContextMessage without spending an LLM call when chunks is
// empty); Answer always calls the model.
func (a *Answerer) Answer(ctx context.Context, question string, chunks []retrieval.Retrieved) (llmclient.Result, error) {
	return a.llm.Complete(ctx, SystemPrompt(), UserPrompt(question, chunks))
}

// StreamAnswer runs the streaming grounded completion, yielding delta
// events followed by one done event on the returned channel; the channel
// closes without a done event if the stream fails.
func (a *Answerer) StreamAnswer(ctx context.Context, question string, chunks []retrieval.Retrieved) (<-chan llmclient.StreamEvent, error) {
	return a.llm.Stream(ctx, SystemPrompt(), UserPrompt(question, chunks))
}
