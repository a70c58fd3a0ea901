// Chunking mirrors worker/jobs/ingest_index.py's chunk_text: 500-token
// chunks with 100-token overlap using tiktoken's cl100k_base encoding,
// falling back to a 4-chars-per-token character window when the
// tokenizer can't be loaded.
package ingest

import (
	"crypto/sha256"
	"encoding/hex"
	"math"
	"strings"

	"github.com/pkoukk/tiktoken-go"
)

const (
	chunkSizeTokens = 500
	overlapTokens   = 100
)

type chunker struct {
	encoding *tiktoken.Tiktoken
}

func newChunker() *chunker {
	enc, err := tiktoken.GetEncoding("cl100k_base")
	if err != nil {
		return &chunker{}
	}
	return &chunker{encoding: enc}
}

// chunk splits text into ordered pieces, dropping empty/whitespace
// pieces, the way ingest_index.py's chunk_text does.
func (c *chunker) chunk(text string) []string {
	normalized := strings.TrimSpace(text)
	if normalized == "" {
		return nil
	}

	if c.encoding == nil {
		return chunkByChars(normalized)
	}

	tokens := c.encoding.Encode(normalized, nil, nil)
	if len(tokens) == 0 {
		return nil
	}

	var out []string
	start := 0
	total := len(tokens)
	for start < total {
		end := min(total, start+chunkSizeTokens)
		piece := strings.TrimSpace(c.encoding.Decode(tokens[start:end]))
		if piece != "" {
			out = append(out, piece)
		}
		if end >= total {
			break
		}
		start = max(0, end-overlapTokens)
	}
	return out
}

func chunkByChars(text string) []string {
	const charsPerToken = 4
	chunkSizeChars := chunkSizeTokens * charsPerToken
	overlapChars := overlapTokens * charsPerToken

	var out []string
	start := 0
	total := len(text)
	for start < total {
		end := min(total, start+chunkSizeChars)
		piece := strings.TrimSpace(text[start:end])
		if piece != "" {
			out = append(out, piece)
		}
		if end >= total {
			break
		}
		start = max(0, end-overlapChars)
	}
	return out
}

// estimateTokens mirrors _estimate_embedding_tokens: a length-based
// estimate used for both chunk.token_count and the reservation amount,
// independent of the tokenizer actually available.
func estimateTokens(text string) int {
	n := int(math.Ceil(float64(len(text)) / 4.0 * 1.1))
	if n < 1 {
		return 1
	}
	return n
}

func contentHash(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}
