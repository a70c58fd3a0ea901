package chat

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pixell07/ragserve/internal/apperr"
)

type Repository struct {
	db *pgxpool.Pool
}

func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

// ensureDocumentInWorkspace mirrors _ensure_document_in_workspace: a nil
// documentID is always fine, a non-nil one must belong to workspaceID.
func (r *Repository) ensureDocumentInWorkspace(ctx context.Context, workspaceID uuid.UUID, documentID *uuid.UUID) error {
	if documentID == nil {
		return nil
	}
	var exists int
	err := r.db.QueryRow(ctx, `
		SELECT 1 FROM documents WHERE id = $1 AND workspace_id = $2 LIMIT 1`,
		*documentID, workspaceID).Scan(&exists)
	if err == pgx.ErrNoRows {
		return apperr.NotFound("document not found")
	}
	if err != nil {
		return apperr.Internal("checking document workspace membership", err)
	}
	return nil
}

// Create inserts a new chat session, matching create_chat_session's
// chat_sessions branch.
func (r *Repository) Create(ctx context.Context, workspaceID uuid.UUID, documentID *uuid.UUID, title *string, messages []Message) (Session, error) {
	if err := r.ensureDocumentInWorkspace(ctx, workspaceID, documentID); err != nil {
		return Session{}, err
	}
	resolvedTitle := normalizeTitle(title, messages)

	payload, err := json.Marshal(messages)
	if err != nil {
		return Session{}, apperr.Internal("marshaling chat messages", err)
	}

	var s Session
	s.WorkspaceID = workspaceID
	s.Messages = messages
	err = r.db.QueryRow(ctx, `
		INSERT INTO chat_sessions (workspace_id, document_id, title, messages, started_at)
		VALUES ($1, $2, $3, $4, now())
		RETURNING id, title, document_id, started_at, ended_at`,
		workspaceID, documentID, resolvedTitle, payload).Scan(
		&s.ID, &s.Title, &s.DocumentID, &s.StartedAt, &s.EndedAt)
	if err != nil {
		return Session{}, apperr.Internal("creating chat session", err)
	}
	return s, nil
}

// Update replaces title/messages and optionally marks the session ended,
// matching update_chat_session's chat_sessions branch. messages is nil
// when the caller wants to keep the existing transcript.
func (r *Repository) Update(ctx context.Context, workspaceID, sessionID uuid.UUID, title *string, messages []Message, ended bool) (Session, error) {
	var existingMessages json.RawMessage
	err := r.db.QueryRow(ctx, `
		SELECT messages FROM chat_sessions WHERE id = $1 AND workspace_id = $2 LIMIT 1`,
		sessionID, workspaceID).Scan(&existingMessages)
	if err == pgx.ErrNoRows {
		return Session{}, apperr.NotFound("chat session not found")
	}
	if err != nil {
		return Session{}, apperr.Internal("loading chat session", err)
	}

	finalMessages := messages
	if finalMessages == nil {
		if err := json.Unmarshal(existingMessages, &finalMessages); err != nil {
			return Session{}, apperr.Internal("parsing existing chat messages", err)
		}
	}
	resolvedTitle := normalizeTitle(title, finalMessages)

	payload, err := json.Marshal(finalMessages)
	if err != nil {
		return Session{}, apperr.Internal("marshaling chat messages", err)
	}

	var s Session
	s.WorkspaceID = workspaceID
	s.Messages = finalMessages
	err = r.db.QueryRow(ctx, `
		UPDATE chat_sessions
		SET title = $3,
		    messages = $4,
		    ended_at = CASE WHEN $5 THEN now() ELSE ended_at END
		WHERE id = $1 AND workspace_id = $2
		RETURNING id, title, document_id, started_at, ended_at`,
		sessionID, workspaceID, resolvedTitle, payload, ended).Scan(
		&s.ID, &s.Title, &s.DocumentID, &s.StartedAt, &s.EndedAt)
	if err != nil {
		return Session{}, apperr.Internal("updating chat session", err)
	}
	return s, nil
}

// List returns a page of chat sessions for a workspace, optionally
// filtered by document, matching list_chat_sessions' chat_sessions branch.
func (r *Repository) List(ctx context.Context, workspaceID uuid.UUID, documentID *uuid.UUID, limit, offset int) ([]ListItem, int, error) {
	if limit < 1 || limit > 100 {
		return nil, 0, apperr.Validation("limit must be between 1 and 100")
	}
	if offset < 0 {
		return nil, 0, apperr.Validation("offset must be >= 0")
	}
	if err := r.ensureDocumentInWorkspace(ctx, workspaceID, documentID); err != nil {
		return nil, 0, err
	}

	var total int
	var err error
	if documentID != nil {
		err = r.db.QueryRow(ctx, `
			SELECT count(*) FROM chat_sessions WHERE workspace_id = $1 AND document_id = $2`,
			workspaceID, *documentID).Scan(&total)
	} else {
		err = r.db.QueryRow(ctx, `
			SELECT count(*) FROM chat_sessions WHERE workspace_id = $1`, workspaceID).Scan(&total)
	}
	if err != nil {
		return nil, 0, apperr.Internal("counting chat sessions", err)
	}

	var rows pgx.Rows
	if documentID != nil {
		rows, err = r.db.Query(ctx, `
			SELECT id, title, document_id, started_at, ended_at
			FROM chat_sessions
			WHERE workspace_id = $1 AND document_id = $2
			ORDER BY started_at DESC
			LIMIT $3 OFFSET $4`,
			workspaceID, *documentID, limit, offset)
	} else {
		rows, err = r.db.Query(ctx, `
			SELECT id, title, document_id, started_at, ended_at
			FROM chat_sessions
			WHERE workspace_id = $1
			ORDER BY started_at DESC
			LIMIT $2 OFFSET $3`,
			workspaceID, limit, offset)
	}
	if err != nil {
		return nil, 0, apperr.Internal("listing chat sessions", err)
	}
	defer rows.Close()

	var items []ListItem
	for rows.Next() {
		var item ListItem
		if err := rows.Scan(&item.ID, &item.Title, &item.DocumentID, &item.UpdatedAt, &item.EndedAt); err != nil {
			return nil, 0, apperr.Internal("scanning chat session row", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, apperr.Internal("iterating chat sessions", err)
	}
	return items, total, nil
}

// Get loads a session's full detail including its message transcript,
// matching get_chat_session's chat_sessions branch.
func (r *Repository) Get(ctx context.Context, workspaceID, sessionID uuid.UUID) (Session, error) {
	var s Session
	var raw json.RawMessage
	s.WorkspaceID = workspaceID
	err := r.db.QueryRow(ctx, `
		SELECT id, title, document_id, messages, started_at, ended_at
		FROM chat_sessions
		WHERE id = $1 AND workspace_id = $2
		LIMIT 1`,
		sessionID, workspaceID).Scan(&s.ID, &s.Title, &s.DocumentID, &raw, &s.StartedAt, &s.EndedAt)
	if err == pgx.ErrNoRows {
		return Session{}, apperr.NotFound("chat session not found")
	}
	if err != nil {
		return Session{}, apperr.Internal("loading chat session", err)
	}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &s.Messages); err != nil {
			return Session{}, apperr.Internal("parsing chat messages", err)
		}
	}
	return s, nil
}
