// Package document implements the Document Lifecycle Controller: the
// status state machine, filename sanitization, and the upload-prepare /
// upload-complete / delete / retry / reindex operations. Replaces the
// teacher's original internal/document/document.go (a plain-text,
// synchronous-embed document store with a langchaingo textsplitter and
// an in-process worker pool) with the multi-stage, durably-queued
// pipeline the spec's lifecycle demands; grounded step-for-step on
// spec.md §4.6 since original_source/server/app/api/documents.py is a
// stub (`# TODO: Implement document listing with workspace isolation.`).
package document

import (
	"time"

	"github.com/google/uuid"
)

type Document struct {
	ID             uuid.UUID
	WorkspaceID    uuid.UUID
	Filename       string
	SizeBytes      int64
	ContentType    string
	StoragePath    string
	Status         Status
	PageCount      *int
	ErrorMessage   *string
	IdempotencyKey *string
	FileHashSHA256 *string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Progress is the document detail response's embedded progress block.
type Progress struct {
	PagesTotal          int
	PagesExtractedCount int
	ChunksCount         int
	EmbeddingsCount     int
}
