package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// SQLiteJournalRepository implements JournalRepository for SQLite.
type SQLiteJournalRepository struct {
	db *sql.DB
}

func NewSQLiteJournalRepository(db *sql.DB) *SQLiteJournalRepository {
	return &SQLiteJournalRepository{db: db}
}

func (r *SQLiteJournalRepository) StartRun(ctx context.Context, run Run) error {
	query := `
		INSERT INTO runs (run_id, address, max_clients, tick_ms, started_at)
		VALUES (?, ?, ?, ?, ?)
	`
	_, err := r.db.ExecContext(ctx, query,
		run.RunID, run.Address, run.MaxClients, run.TickMillis, run.StartedAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("failed to start run: %w", err)
	}
	return nil
}

func (r *SQLiteJournalRepository) Append(ctx context.Context, entries []JournalEntry) error {
	if len(entries) == 0 {
		return nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin journal transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO journal (run_id, tick, direction, kind, args, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare journal insert: %w", err)
	}
	defer stmt.Close()

	for _, e := range entries {
		_, err := stmt.ExecContext(ctx,
			e.RunID, e.Tick, e.Direction, e.Kind, formatArgs(e.Args), e.RecordedAt.UnixNano(),
		)
		if err != nil {
			return fmt.Errorf("failed to append journal entry: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit journal entries: %w", err)
	}
	return nil
}

func (r *SQLiteJournalRepository) getMany(ctx context.Context, query string, args ...interface{}) ([]JournalEntry, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []JournalEntry
	for rows.Next() {
		var e JournalEntry
		var argText string
		var recordedAt int64
		err := rows.Scan(&e.ID, &e.RunID, &e.Tick, &e.Direction, &e.Kind, &argText, &recordedAt)
		if err != nil {
			return nil, err
		}
		if e.Args, err = parseArgs(argText); err != nil {
			return nil, fmt.Errorf("journal entry %d: %w", e.ID, err)
		}
		e.RecordedAt = time.Unix(0, recordedAt)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (r *SQLiteJournalRepository) GetByRun(ctx context.Context, runID string) ([]JournalEntry, error) {
	query := `SELECT id, run_id, tick, direction, kind, args, recorded_at FROM journal WHERE run_id = ? ORDER BY id ASC`
	return r.getMany(ctx, query, runID)
}

func (r *SQLiteJournalRepository) GetByKind(ctx context.Context, runID, kind string) ([]JournalEntry, error) {
	query := `SELECT id, run_id, tick, direction, kind, args, recorded_at FROM journal WHERE run_id = ? AND kind = ? ORDER BY id ASC`
	return r.getMany(ctx, query, runID, kind)
}

func (r *SQLiteJournalRepository) Runs(ctx context.Context) ([]Run, error) {
	query := `SELECT run_id, address, max_clients, tick_ms, started_at FROM runs ORDER BY started_at DESC`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var run Run
		var startedAt int64
		if err := rows.Scan(&run.RunID, &run.Address, &run.MaxClients, &run.TickMillis, &startedAt); err != nil {
			return nil, err
		}
		run.StartedAt = time.Unix(0, startedAt)
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

func formatArgs(args []int) string {
	parts := make([]string, len(args))
	for i, a := range args {
		parts[i] = strconv.Itoa(a)
	}
	return strings.Join(parts, ",")
}

func parseArgs(s string) ([]int, error) {
	if s == "" {
		return nil, nil
	}
	fields := strings.Split(s, ",")
	args := make([]int, len(fields))
	for i, f := range fields {
		n, err := strconv.Atoi(f)
		if err != nil {
			return nil, fmt.Errorf("bad argument %q: %w", f, err)
		}
		args[i] = n
	}
	return args, nil
}
