// Package llmclient wraps OpenAI chat completions for both the unary and
// streaming query paths. Grounded on Tangerg-lynx's
// ai/extensions/models/openai Api (openai-go/v3 client construction,
// ssestream iteration via stream.Next/Current/Err) and on the original's
// server/app/core/llm.py (answer_question_strict_grounded /
// stream_answer_question_strict_grounded), which fixes temperature=0 and
// max_tokens=LLM_MAX_OUTPUT_TOKENS and captures usage the same way.
package llmclient

import (
	"context"
	"time"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"

	"github.com/pixell07/ragserve/internal/apperr"
)

// Result is the outcome of a completed (unary or fully-drained streaming)
// chat completion, matching the original's LLMResult.
type Result struct {
	Answer       string
	InputTokens  int64
	OutputTokens int64
	TotalTokens  int64
}

// StreamEvent mirrors the original's LLMStreamEvent: a sequence of
// "delta" events carrying text, followed by exactly one "done" event
// carrying the final Result when the stream completes.
type StreamEvent struct {
	Type   string // "delta" or "done"
	Text   string
	Result *Result
}

type Client struct {
	client          *openai.Client
	model           string
	maxOutputTokens int64
}

func NewClient(apiKey, model string, timeout time.Duration, maxOutputTokens int) *Client {
	c := openai.NewClient(
		option.WithAPIKey(apiKey),
		option.WithRequestTimeout(timeout),
	)
	return &Client{client: &c, model: model, maxOutputTokens: int64(maxOutputTokens)}
}

func (c *Client) params(systemPrompt, userPrompt string) openai.ChatCompletionNewParams {
	return openai.ChatCompletionNewParams{
		Model:       c.model,
		Temperature: openai.Float(0),
		MaxTokens:   openai.Int(c.maxOutputTokens),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(systemPrompt),
			openai.UserMessage(userPrompt),
		},
	}
}

// Complete performs a single non-streaming grounded completion.
func (c *Client) Complete(ctx context.Context, systemPrompt, userPrompt string) (Result, error) {
	resp, err := c.client.Chat.Completions.New(ctx, c.params(systemPrompt, userPrompt))
	if err != nil {
		return Result{}, apperr.UpstreamUnavailable("chat completion request failed", err)
	}

	var answer string
	if len(resp.Choices) > 0 {
		answer = resp.Choices[0].Message.Content
	}

	total := resp.Usage.TotalTokens
	if total == 0 {
		total = resp.Usage.PromptTokens + resp.Usage.CompletionTokens
	}

	return Result{
		Answer:       answer,
		InputTokens:  resp.Usage.PromptTokens,
		OutputTokens: resp.Usage.CompletionTokens,
		TotalTokens:  total,
	}, nil
}

// Stream performs a streaming grounded completion, sending one StreamEvent
// per content delta followed by a final "done" event, then closes events.
// It returns as soon as the underlying HTTP stream is established. If the
// stream fails mid-way or ctx is cancelled, the channel is closed without
// a "done" event and the error itself is not passed on; callers treat a
// missing "done" as a failed completion.
func (c *Client) Stream(ctx context.Context, systemPrompt, userPrompt string) (<-chan StreamEvent, error) {
	params := c.params(systemPrompt, userPrompt)
	params.StreamOptions = openai.ChatCompletionStreamOptionsParam{IncludeUsage: openai.Bool(true)}

	stream := c.client.Chat.Completions.NewStreaming(ctx, params)

	events := make(chan StreamEvent)
	go func() {
		defer close(events)

		var answer []byte
		var inputTokens, outputTokens, totalTokens int64

		for stream.Next() {
			chunk := stream.Current()

			if chunk.Usage.TotalTokens > 0 || chunk.Usage.PromptTokens > 0 || chunk.Usage.CompletionTokens > 0 {
				inputTokens = chunk.Usage.PromptTokens
				outputTokens = chunk.Usage.CompletionTokens
				totalTokens = chunk.Usage.TotalTokens
			}

			if len(chunk.Choices) == 0 {
				continue
			}
			text := chunk.Choices[0].Delta.Content
			if text == "" {
				continue
			}
			answer = append(answer, text...)

			select {
			case events <- StreamEvent{Type: "delta", Text: text}:
			case <-ctx.Done():
				return
			}
		}

		if err := stream.Err(); err != nil {
			return
		}

		if totalTokens == 0 {
			totalTokens = inputTokens + outputTokens
		}

		select {
		case events <- StreamEvent{Type: "done", Result: &Result{
			Answer:       string(answer),
			InputTokens:  inputTokens,
			OutputTokens: outputTokens,
			TotalTokens:  totalTokens,
		}}:
		case <-ctx.Done():
		}
	}()

	return events, nil
}
