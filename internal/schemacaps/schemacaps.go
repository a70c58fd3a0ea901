// Package schemacaps probes the live Postgres schema so the ingestion
// pipeline tolerates rolling migrations: a node running older code must
// not crash against a newer schema (extra columns) and a node running
// newer code must degrade gracefully against an older one (missing
// columns, a narrower status check constraint).
package schemacaps

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
)

// HasColumn reports whether table carries column in the current schema.
func HasColumn(ctx context.Context, pool *pgxpool.Pool, table, column string) (bool, error) {
	var exists bool
	err := pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1
			FROM information_schema.columns
			WHERE table_schema = current_schema()
			  AND table_name = $1
			  AND column_name = $2
		)`, table, column).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("schemacaps: checking column %s.%s: %w", table, column, err)
	}
	return exists, nil
}

// AllowedStatuses parses the chk_status CHECK constraint definition on
// table and returns the set of status literals it permits. Returns an
// empty set if the constraint does not exist or cannot be parsed, which
// callers treat as "no restriction known" rather than an error.
func AllowedStatuses(ctx context.Context, pool *pgxpool.Pool, table string) (map[string]struct{}, error) {
	var def string
	err := pool.QueryRow(ctx, `
		SELECT pg_get_constraintdef(c.oid)
		FROM pg_constraint c
		JOIN pg_class t ON c.conrelid = t.oid
		WHERE t.relname = $1
		  AND c.conname = 'chk_status'
		LIMIT 1`, table).Scan(&def)
	if err != nil {
		// No such constraint is not an error condition for callers.
		return map[string]struct{}{}, nil
	}
	idx := strings.Index(def, "IN (")
	if idx < 0 {
		return map[string]struct{}{}, nil
	}
	inside := def[idx+len("IN ("):]
	if end := strings.LastIndex(inside, ")"); end >= 0 {
		inside = inside[:end]
	}
	out := map[string]struct{}{}
	for _, part := range strings.Split(inside, ",") {
		part = strings.TrimSpace(part)
		part = strings.Trim(part, "'\"")
		if part != "" {
			out[part] = struct{}{}
		}
	}
	return out, nil
}

// Allows reports whether status is present in allowed, or true if allowed
// is empty (constraint unknown, so nothing is ruled out).
func Allows(allowed map[string]struct{}, status string) bool {
	if len(allowed) == 0 {
		return true
	}
	_, ok := allowed[status]
	return ok
}
