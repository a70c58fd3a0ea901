// Package budget implements the per-workspace daily token ledger: a
// reserve/commit/release protocol serialized with row-level locking so
// concurrent queries against the same workspace cannot overspend the
// daily limit. Grounded on the original's
// server/app/core/token_budget.py, translated from SQLAlchemy's
// with_for_update()/nullcontext transaction helpers onto pgx.Tx.
package budget

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pixell07/ragserve/internal/apperr"
)

type Ledger struct {
	db    *pgxpool.Pool
	limit int64
}

func NewLedger(db *pgxpool.Pool, dailyTokenLimit int64) *Ledger {
	return &Ledger{db: db, limit: dailyTokenLimit}
}

// Reservation is the outcome of a successful Reserve call.
type Reservation struct {
	Reserved  int64
	Remaining int64
	Limit     int64
}

func nextResetAt(day time.Time) time.Time {
	d := day.UTC()
	return time.Date(d.Year(), d.Month(), d.Day(), 0, 0, 0, 0, time.UTC).AddDate(0, 0, 1)
}

func utcDate(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}

// getOrCreateDailyRowLocked inserts the day's row if missing (ON CONFLICT
// DO NOTHING, matching the original's pg_insert().on_conflict_do_nothing)
// then re-reads it under FOR UPDATE so concurrent reservations against the
// same workspace/day serialize on this row.
func getOrCreateDailyRowLocked(ctx context.Context, tx pgx.Tx, workspaceID uuid.UUID, day time.Time) (used, reserved int64, err error) {
	_, err = tx.Exec(ctx, `
		INSERT INTO workspace_daily_usage (workspace_id, date, tokens_used, tokens_reserved)
		VALUES ($1, $2, 0, 0)
		ON CONFLICT (workspace_id, date) DO NOTHING`, workspaceID, day)
	if err != nil {
		return 0, 0, fmt.Errorf("budget: inserting daily row: %w", err)
	}

	err = tx.QueryRow(ctx, `
		SELECT tokens_used, tokens_reserved
		FROM workspace_daily_usage
		WHERE workspace_id = $1 AND date = $2
		FOR UPDATE`, workspaceID, day).Scan(&used, &reserved)
	if err != nil {
		return 0, 0, fmt.Errorf("budget: locking daily row: %w", err)
	}
	return used, reserved, nil
}

func (l *Ledger) withTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := l.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("budget: beginning transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("budget: committing transaction: %w", err)
	}
	return nil
}

// Reserve holds amount tokens against today's budget for workspaceID. It
// returns apperr.BudgetExceeded (Code BUDGET_EXCEEDED) if the amount would
// push reserved+used past the daily limit.
func (l *Ledger) Reserve(ctx context.Context, workspaceID uuid.UUID, amount int64) (Reservation, error) {
	if amount < 0 {
		return Reservation{}, apperr.Validation("reservation amount must be >= 0")
	}

	day := utcDate(time.Now())
	var out Reservation

	err := l.withTx(ctx, func(tx pgx.Tx) error {
		used, reserved, err := getOrCreateDailyRowLocked(ctx, tx, workspaceID, day)
		if err != nil {
			return err
		}

		remaining := l.limit - (used + reserved)
		if amount > remaining {
			return apperr.BudgetExceeded(apperr.BudgetSnapshot{
				Used:      used,
				Reserved:  reserved,
				Limit:     l.limit,
				Remaining: max64(0, remaining),
				ResetsAt:  nextResetAt(day).Format(time.RFC3339),
			})
		}

		newReserved := reserved + amount
		if _, err := tx.Exec(ctx, `
			UPDATE workspace_daily_usage
			SET tokens_reserved = $3, updated_at = now()
			WHERE workspace_id = $1 AND date = $2`, workspaceID, day, newReserved); err != nil {
			return fmt.Errorf("budget: updating reservation: %w", err)
		}

		out = Reservation{
			Reserved:  newReserved,
			Remaining: max64(0, l.limit-(used+newReserved)),
			Limit:     l.limit,
		}
		return nil
	})
	if err != nil {
		var ae *apperr.Error
		if errors.As(err, &ae) {
			return Reservation{}, ae
		}
		return Reservation{}, apperr.Internal("reserving tokens", err)
	}
	return out, nil
}

// Release gives back amount tokens from today's outstanding reservation
// for workspaceID, without counting them as used.
func (l *Ledger) Release(ctx context.Context, workspaceID uuid.UUID, amount int64) error {
	if amount < 0 {
		return apperr.Validation("release amount must be >= 0")
	}
	if amount == 0 {
		return nil
	}

	day := utcDate(time.Now())
	err := l.withTx(ctx, func(tx pgx.Tx) error {
		_, reserved, err := getOrCreateDailyRowLocked(ctx, tx, workspaceID, day)
		if err != nil {
			return err
		}
		if amount > reserved {
			return apperr.Internal("cannot release more tokens than currently reserved", nil)
		}
		_, err = tx.Exec(ctx, `
			UPDATE workspace_daily_usage
			SET tokens_reserved = $3, updated_at = now()
			WHERE workspace_id = $1 AND date = $2`, workspaceID, day, reserved-amount)
		if err != nil {
			return fmt.Errorf("budget: updating release: %w", err)
		}
		return nil
	})
	if err != nil {
		var ae *apperr.Error
		if errors.As(err, &ae) {
			return ae
		}
		return apperr.Internal("releasing tokens", err)
	}
	return nil
}

// Commit moves amount tokens from reserved to used for workspaceID.
func (l *Ledger) Commit(ctx context.Context, workspaceID uuid.UUID, amount int64) error {
	if amount < 0 {
		return apperr.Validation("commit amount must be >= 0")
	}

	day := utcDate(time.Now())
	err := l.withTx(ctx, func(tx pgx.Tx) error {
		used, reserved, err := getOrCreateDailyRowLocked(ctx, tx, workspaceID, day)
		if err != nil {
			return err
		}
		if amount > reserved {
			return apperr.Internal("cannot commit more tokens than currently reserved", nil)
		}
		_, err = tx.Exec(ctx, `
			UPDATE workspace_daily_usage
			SET tokens_reserved = $3, tokens_used = $4, updated_at = now()
			WHERE workspace_id = $1 AND date = $2`,
			workspaceID, day, reserved-amount, used+amount)
		if err != nil {
			return fmt.Errorf("budget: updating commit: %w", err)
		}
		return nil
	})
	if err != nil {
		var ae *apperr.Error
		if errors.As(err, &ae) {
			return ae
		}
		return apperr.Internal("committing tokens", err)
	}
	return nil
}

// Status reads today's usage without acquiring the row lock, so the UI-hot
// /usage/today endpoint never contends with in-flight reservations.
func (l *Ledger) Status(ctx context.Context, workspaceID uuid.UUID) (apperr.BudgetSnapshot, error) {
	day := utcDate(time.Now())

	var used, reserved int64
	err := l.db.QueryRow(ctx, `
		SELECT tokens_used, tokens_reserved
		FROM workspace_daily_usage
		WHERE workspace_id = $1 AND date = $2`, workspaceID, day).Scan(&used, &reserved)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			used, reserved = 0, 0
		} else {
			return apperr.BudgetSnapshot{}, apperr.Internal("reading budget status", err)
		}
	}

	return apperr.BudgetSnapshot{
		Used:      used,
		Reserved:  reserved,
		Limit:     l.limit,
		Remaining: max64(0, l.limit-(used+reserved)),
		ResetsAt:  nextResetAt(day).Format(time.RFC3339),
	}, nil
}

// ReleaseStaleReservations zeroes out any workspace's outstanding
// reservation that has sat untouched past ttl, recovering tokens a crashed
// query/ingest job never released. Invoked on a cron schedule, not inline
// with request handling.
func (l *Ledger) ReleaseStaleReservations(ctx context.Context, ttl time.Duration) (int64, error) {
	tag, err := l.db.Exec(ctx, `
		UPDATE workspace_daily_usage
		SET tokens_reserved = 0, updated_at = now()
		WHERE tokens_reserved > 0
		  AND updated_at < now() - make_interval(secs => $1)`, ttl.Seconds())
	if err != nil {
		return 0, apperr.Internal("releasing stale reservations", err)
	}
	return tag.RowsAffected(), nil
}

func max64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}
