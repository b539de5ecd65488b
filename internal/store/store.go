// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"
	"time"

	"ticker-sentry/internal/models"
)

// WatchStore defines the interface for watch-task and position persistence.
// The engine never depends on a specific storage technology; any backend
// implementing this narrow surface can serve it.
type WatchStore interface {
	// Watch tasks
	// UpsertWatchTasks inserts tasks keyed by (post_id, ticker), ignoring
	// conflicts: re-submitting a known pair is a no-op, never an overwrite.
	// Returns the number of rows actually written.
	UpsertWatchTasks(ctx context.Context, tasks []models.WatchTask) (int, error)
	// DueWatchTasks returns pending tasks with next_check_at <= now,
	// ordered ascending by next_check_at, capped at limit.
	DueWatchTasks(ctx context.Context, now time.Time, limit int) ([]models.WatchTask, error)
	// ApplyWatchUpdates applies field updates by id in one transaction.
	ApplyWatchUpdates(ctx context.Context, updates []WatchUpdate) error
	GetWatchTask(ctx context.Context, postID, ticker string) (*models.WatchTask, error)
	// ListWatchTasks returns tasks filtered by status, newest alerts first.
	// An empty status lists all tasks.
	ListWatchTasks(ctx context.Context, status models.WatchStatus, limit int) ([]models.WatchTask, error)

	// Watched positions
	SaveWatchedPosition(ctx context.Context, pos *models.WatchedPosition) error
	WatchedPositions(ctx context.Context, onlyWatched bool) ([]models.WatchedPosition, error)
	ApplyPositionUpdates(ctx context.Context, updates []PositionUpdate) error

	// Lifecycle
	Close() error
}

// WatchUpdate carries the recomputed mutable fields of one watch task.
type WatchUpdate struct {
	ID                  string
	Status              models.WatchStatus
	StopReason          *string
	NextCheckAt         *time.Time
	LastPrice           *float64
	LastPriceObservedAt *time.Time
	TriggeredAt         *time.Time
	TriggeredPrice      *float64
	TriggeredMovePct    *float64
}

// PositionUpdate carries the refreshed fields of one watched position.
// Alert fields are stamped only when an adverse-move alert fired.
type PositionUpdate struct {
	ID               string
	LastPrice        float64
	LastPriceAt      time.Time
	LastAlertPrice   *float64
	LastAlertAt      *time.Time
	LastAlertMovePct *float64
}
