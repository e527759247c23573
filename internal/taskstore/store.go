// Package taskstore persists translation task records and package records.
// It provides a PostgreSQL-backed implementation for production and an
// in-memory implementation for tests.
package taskstore

import (
	"context"
	"errors"
	"time"

	"github.com/lingopack/lingopack/internal/task"
)

// ErrDuplicateTask is returned by Create when the task id already exists.
var ErrDuplicateTask = errors.New("taskstore: task already exists")

// PackageRecord describes one written package file. A record is inserted in
// the same transaction that marks its task COMPLETED.
type PackageRecord struct {
	PackageID string              `json:"package_id"`
	TaskID    string              `json:"task_id"`
	FilePath  string              `json:"file_path"`
	Languages []task.LanguageCode `json:"languages"`
	CreatedAt time.Time           `json:"created_at"`
}

// Store provides persistence for translation tasks. Implementations must be
// safe for concurrent use; workers rely on the compare-and-set operations to
// keep status transitions idempotent under message redelivery.
type Store interface {
	// Create inserts a new task and stamps created_at/updated_at. It returns
	// an error wrapping [ErrDuplicateTask] if the id already exists.
	Create(ctx context.Context, t *task.TranslationTask) error

	// Get retrieves a task by id. Returns (nil, nil) if not found.
	Get(ctx context.Context, taskID string) (*task.TranslationTask, error)

	// Update replaces an existing task record and bumps updated_at. Returns
	// an error if the task is not found.
	Update(ctx context.Context, t *task.TranslationTask) error

	// Cancel atomically moves a task to CANCELLED iff its current status is
	// not terminal. It reports whether the transition happened; a missing or
	// already-terminal task yields (false, nil).
	Cancel(ctx context.Context, taskID string) (bool, error)

	// Transition compares-and-sets the task's status from `from` to t.Status,
	// writing the stage outputs (stt_result, stt_score, translations,
	// packed_file, completed_at) in the same statement. It reports false
	// without error when the stored status is no longer `from` — the caller
	// lost the race (typically to a cancellation or a duplicate delivery)
	// and must drop the message.
	Transition(ctx context.Context, t *task.TranslationTask, from task.TaskStatus) (bool, error)

	// RecordPackage inserts a package record and stamps created_at.
	RecordPackage(ctx context.Context, rec *PackageRecord) error

	// GetPackage retrieves the most recent package record for a task.
	// Returns (nil, nil) if none exists.
	GetPackage(ctx context.Context, taskID string) (*PackageRecord, error)

	// InTx runs fn against a transaction-scoped store. The transaction is
	// rolled back when fn returns an error and committed otherwise. Workers
	// use this to couple a status transition with the publish that must
	// accompany it.
	InTx(ctx context.Context, fn func(Store) error) error

	// Migrate creates the schema if it does not already exist.
	Migrate(ctx context.Context) error
}
