// Package chat implements workspace-scoped chat session storage: create,
// update (replace messages / set title / mark ended), list and detail
// lookups against the chat_sessions table. Grounded on
// original_source/server/app/api/chats.py and schemas/chat.py; the
// query_logs-fallback branch those originals carry for schemas that
// predate chat_sessions is dropped here since migrations/0001_init.up.sql
// always provisions the table (see DESIGN.md).
package chat

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	maxTitleLen          = 200
	maxFallbackTitleLen  = 120
	defaultUntitledTitle = "Untitled chat"
)

// Message is one turn in a session's transcript, matching ChatMessage in
// the original's schemas/chat.py. Citations is left as opaque JSON since
// its shape varies by message and this package never inspects it.
type Message struct {
	Role      string           `json:"role"`
	Content   string           `json:"content"`
	Ts        time.Time        `json:"ts"`
	Citations []map[string]any `json:"citations,omitempty"`
}

// Session is a full chat session record, matching ChatSessionDetailResponse.
type Session struct {
	ID         uuid.UUID  `json:"id"`
	WorkspaceID uuid.UUID `json:"-"`
	DocumentID *uuid.UUID `json:"document_id,omitempty"`
	Title      string     `json:"title"`
	Messages   []Message  `json:"messages"`
	StartedAt  time.Time  `json:"started_at"`
	EndedAt    *time.Time `json:"ended_at,omitempty"`
}

// ListItem is one row of the /chats/sessions list, matching ChatSessionListItem.
// UpdatedAt carries the session's started_at; chat_sessions has no
// last-modified column.
type ListItem struct {
	ID         uuid.UUID  `json:"id"`
	Title      string     `json:"title"`
	DocumentID *uuid.UUID `json:"document_id,omitempty"`
	UpdatedAt  time.Time  `json:"updated_at"`
	EndedAt    *time.Time `json:"ended_at,omitempty"`
}

// normalizeTitle mirrors _normalize_title: an explicit title wins
// (trimmed, capped at 200 chars); otherwise the first user message's
// content stands in (capped at 120 chars); otherwise a fixed fallback.
func normalizeTitle(title *string, messages []Message) string {
	if title != nil {
		trimmed := strings.TrimSpace(*title)
		if trimmed != "" {
			return truncate(trimmed, maxTitleLen)
		}
	}
	for _, m := range messages {
		if m.Role != "user" {
			continue
		}
		content := strings.TrimSpace(m.Content)
		if content != "" {
			return truncate(content, maxFallbackTitleLen)
		}
	}
	return defaultUntitledTitle
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}
