// Package store provides data persistence implementations.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"ticker-sentry/internal/models"
)

// SQLiteStore implements WatchStore using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite-based watch store.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool for concurrent access
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)

	store := &SQLiteStore{db: db}

	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return store, nil
}

// initSchema creates all required tables and indexes.
func (s *SQLiteStore) initSchema() error {
	schema := `
	-- Watch tasks: one row per unique (post, ticker) pair. Terminal rows
	-- are retained as an audit trail, never deleted.
	CREATE TABLE IF NOT EXISTS watch_tasks (
		id TEXT PRIMARY KEY,
		post_id TEXT NOT NULL,
		ticker TEXT NOT NULL,
		quality_score INTEGER NOT NULL DEFAULT 0,
		entry_price REAL NOT NULL,
		entry_price_observed_at DATETIME NOT NULL,
		alerted_at DATETIME NOT NULL,
		monitor_start DATETIME NOT NULL,
		monitor_close DATETIME NOT NULL,
		next_check_at DATETIME,
		last_price REAL,
		last_price_observed_at DATETIME,
		status TEXT NOT NULL DEFAULT 'pending',
		stop_reason TEXT,
		triggered_at DATETIME,
		triggered_price REAL,
		triggered_move_pct REAL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		UNIQUE(post_id, ticker)
	);

	-- Watched positions for the adverse-move re-check
	CREATE TABLE IF NOT EXISTS watched_positions (
		id TEXT PRIMARY KEY,
		ticker TEXT NOT NULL UNIQUE,
		shares REAL NOT NULL,
		watch INTEGER NOT NULL DEFAULT 1,
		last_price REAL,
		last_price_at DATETIME,
		alert_threshold_pct REAL NOT NULL DEFAULT 0.05,
		last_alert_price REAL,
		last_alert_at DATETIME,
		last_alert_move_pct REAL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	-- Create indexes for performance
	CREATE INDEX IF NOT EXISTS idx_watch_tasks_due ON watch_tasks(status, next_check_at);
	CREATE INDEX IF NOT EXISTS idx_watch_tasks_ticker ON watch_tasks(ticker);
	CREATE INDEX IF NOT EXISTS idx_positions_watch ON watched_positions(watch);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// ============================================================================
// Watch Task Methods
// ============================================================================

const watchTaskColumns = `id, post_id, ticker, quality_score, entry_price, entry_price_observed_at,
	alerted_at, monitor_start, monitor_close, next_check_at, last_price, last_price_observed_at,
	status, stop_reason, triggered_at, triggered_price, triggered_move_pct, created_at`

// UpsertWatchTasks inserts tasks with INSERT OR IGNORE on (post_id, ticker).
// A second scheduling attempt for an already-known pair is a no-op so an
// in-flight task's baseline is never overwritten.
func (s *SQLiteStore) UpsertWatchTasks(ctx context.Context, tasks []models.WatchTask) (int, error) {
	if len(tasks) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR IGNORE INTO watch_tasks
			(id, post_id, ticker, quality_score, entry_price, entry_price_observed_at,
			 alerted_at, monitor_start, monitor_close, next_check_at, status)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return 0, fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	written := 0
	for _, task := range tasks {
		res, err := stmt.ExecContext(ctx,
			task.ID, task.PostID, task.Ticker, task.QualityScore,
			task.EntryPrice, task.EntryPriceObservedAt.UTC(), task.AlertedAt.UTC(),
			task.MonitorStart.UTC(), task.MonitorClose.UTC(), nullTime(task.NextCheckAt), string(task.Status))
		if err != nil {
			return 0, fmt.Errorf("failed to insert watch task: %w", err)
		}
		n, _ := res.RowsAffected()
		written += int(n)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit transaction: %w", err)
	}

	return written, nil
}

// DueWatchTasks returns pending tasks due at or before now.
func (s *SQLiteStore) DueWatchTasks(ctx context.Context, now time.Time, limit int) ([]models.WatchTask, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+watchTaskColumns+`
		FROM watch_tasks
		WHERE status = ? AND next_check_at IS NOT NULL AND next_check_at <= ?
		ORDER BY next_check_at ASC
		LIMIT ?
	`, string(models.WatchPending), now.UTC(), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query due tasks: %w", err)
	}
	defer rows.Close()

	var tasks []models.WatchTask
	for rows.Next() {
		task, err := scanWatchTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, task)
	}

	return tasks, rows.Err()
}

// ListWatchTasks returns tasks filtered by status, newest alerts first.
// An empty status lists all tasks.
func (s *SQLiteStore) ListWatchTasks(ctx context.Context, status models.WatchStatus, limit int) ([]models.WatchTask, error) {
	query := `SELECT ` + watchTaskColumns + ` FROM watch_tasks`
	args := []interface{}{}
	if status != "" {
		query += ` WHERE status = ?`
		args = append(args, string(status))
	}
	query += ` ORDER BY alerted_at DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query tasks: %w", err)
	}
	defer rows.Close()

	var tasks []models.WatchTask
	for rows.Next() {
		task, err := scanWatchTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, task)
	}

	return tasks, rows.Err()
}

// GetWatchTask returns the task for a (post, ticker) pair, or nil.
func (s *SQLiteStore) GetWatchTask(ctx context.Context, postID, ticker string) (*models.WatchTask, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+watchTaskColumns+` FROM watch_tasks WHERE post_id = ? AND ticker = ?
	`, postID, ticker)

	task, err := scanWatchTask(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &task, nil
}

// scanner abstracts *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanWatchTask(sc scanner) (models.WatchTask, error) {
	var t models.WatchTask
	var status string
	var nextCheckAt, lastPriceAt, triggeredAt sql.NullTime
	var lastPrice, triggeredPrice, triggeredMovePct sql.NullFloat64
	var stopReason sql.NullString

	err := sc.Scan(&t.ID, &t.PostID, &t.Ticker, &t.QualityScore, &t.EntryPrice,
		&t.EntryPriceObservedAt, &t.AlertedAt, &t.MonitorStart, &t.MonitorClose,
		&nextCheckAt, &lastPrice, &lastPriceAt, &status, &stopReason,
		&triggeredAt, &triggeredPrice, &triggeredMovePct, &t.CreatedAt)
	if err == sql.ErrNoRows {
		return t, err
	}
	if err != nil {
		return t, fmt.Errorf("failed to scan watch task: %w", err)
	}

	t.Status = models.WatchStatus(status)
	if nextCheckAt.Valid {
		t.NextCheckAt = &nextCheckAt.Time
	}
	if lastPrice.Valid {
		t.LastPrice = &lastPrice.Float64
	}
	if lastPriceAt.Valid {
		t.LastPriceObservedAt = &lastPriceAt.Time
	}
	if stopReason.Valid {
		t.StopReason = &stopReason.String
	}
	if triggeredAt.Valid {
		t.TriggeredAt = &triggeredAt.Time
	}
	if triggeredPrice.Valid {
		t.TriggeredPrice = &triggeredPrice.Float64
	}
	if triggeredMovePct.Valid {
		t.TriggeredMovePct = &triggeredMovePct.Float64
	}

	return t, nil
}

// ApplyWatchUpdates applies all updates in a single transaction.
func (s *SQLiteStore) ApplyWatchUpdates(ctx context.Context, updates []WatchUpdate) error {
	if len(updates) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		UPDATE watch_tasks SET
			status = ?,
			stop_reason = ?,
			next_check_at = ?,
			last_price = ?,
			last_price_observed_at = ?,
			triggered_at = ?,
			triggered_price = ?,
			triggered_move_pct = ?
		WHERE id = ?
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	for _, u := range updates {
		_, err := stmt.ExecContext(ctx,
			string(u.Status),
			nullString(u.StopReason),
			nullTime(u.NextCheckAt),
			nullFloat(u.LastPrice),
			nullTime(u.LastPriceObservedAt),
			nullTime(u.TriggeredAt),
			nullFloat(u.TriggeredPrice),
			nullFloat(u.TriggeredMovePct),
			u.ID)
		if err != nil {
			return fmt.Errorf("failed to update watch task %s: %w", u.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// ============================================================================
// Watched Position Methods
// ============================================================================

// SaveWatchedPosition inserts or replaces a watched position.
func (s *SQLiteStore) SaveWatchedPosition(ctx context.Context, pos *models.WatchedPosition) error {
	watch := 0
	if pos.Watch {
		watch = 1
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO watched_positions
			(id, ticker, shares, watch, last_price, last_price_at, alert_threshold_pct,
			 last_alert_price, last_alert_at, last_alert_move_pct)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, pos.ID, pos.Ticker, pos.Shares, watch,
		nullFloat(pos.LastPrice), nullTime(pos.LastPriceAt), pos.AlertThresholdPct,
		nullFloat(pos.LastAlertPrice), nullTime(pos.LastAlertAt), nullFloat(pos.LastAlertMovePct))
	if err != nil {
		return fmt.Errorf("failed to save watched position: %w", err)
	}
	return nil
}

// WatchedPositions returns positions, optionally only those flagged for watching.
func (s *SQLiteStore) WatchedPositions(ctx context.Context, onlyWatched bool) ([]models.WatchedPosition, error) {
	query := `
		SELECT id, ticker, shares, watch, last_price, last_price_at, alert_threshold_pct,
		       last_alert_price, last_alert_at, last_alert_move_pct
		FROM watched_positions
	`
	if onlyWatched {
		query += " WHERE watch = 1"
	}
	query += " ORDER BY ticker ASC"

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query watched positions: %w", err)
	}
	defer rows.Close()

	var positions []models.WatchedPosition
	for rows.Next() {
		var p models.WatchedPosition
		var watch int
		var lastPrice, lastAlertPrice, lastAlertMovePct sql.NullFloat64
		var lastPriceAt, lastAlertAt sql.NullTime

		if err := rows.Scan(&p.ID, &p.Ticker, &p.Shares, &watch, &lastPrice, &lastPriceAt,
			&p.AlertThresholdPct, &lastAlertPrice, &lastAlertAt, &lastAlertMovePct); err != nil {
			return nil, fmt.Errorf("failed to scan watched position: %w", err)
		}

		p.Watch = watch == 1
		if lastPrice.Valid {
			p.LastPrice = &lastPrice.Float64
		}
		if lastPriceAt.Valid {
			p.LastPriceAt = &lastPriceAt.Time
		}
		if lastAlertPrice.Valid {
			p.LastAlertPrice = &lastAlertPrice.Float64
		}
		if lastAlertAt.Valid {
			p.LastAlertAt = &lastAlertAt.Time
		}
		if lastAlertMovePct.Valid {
			p.LastAlertMovePct = &lastAlertMovePct.Float64
		}
		positions = append(positions, p)
	}

	return positions, rows.Err()
}

// ApplyPositionUpdates applies position refreshes in a single transaction.
func (s *SQLiteStore) ApplyPositionUpdates(ctx context.Context, updates []PositionUpdate) error {
	if len(updates) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	refresh, err := tx.PrepareContext(ctx, `
		UPDATE watched_positions SET last_price = ?, last_price_at = ? WHERE id = ?
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer refresh.Close()

	stamp, err := tx.PrepareContext(ctx, `
		UPDATE watched_positions SET last_alert_price = ?, last_alert_at = ?, last_alert_move_pct = ?
		WHERE id = ?
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stamp.Close()

	for _, u := range updates {
		if _, err := refresh.ExecContext(ctx, u.LastPrice, u.LastPriceAt.UTC(), u.ID); err != nil {
			return fmt.Errorf("failed to refresh position %s: %w", u.ID, err)
		}
		if u.LastAlertAt != nil {
			if _, err := stamp.ExecContext(ctx, nullFloat(u.LastAlertPrice), nullTime(u.LastAlertAt),
				nullFloat(u.LastAlertMovePct), u.ID); err != nil {
				return fmt.Errorf("failed to stamp alert on position %s: %w", u.ID, err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// ============================================================================
// Null Helpers
// ============================================================================

func nullString(s *string) interface{} {
	if s == nil {
		return nil
	}
	return *s
}

// nullTime normalizes to UTC: the driver stores timestamps as TEXT with
// their zone offset kept, and the due query compares those strings
// lexically, so mixed offsets would compare by wall-clock digits instead
// of absolute time.
func nullTime(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return t.UTC()
}

func nullFloat(f *float64) interface{} {
	if f == nil {
		return nil
	}
	return *f
}
