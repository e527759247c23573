package taskstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/lingopack/lingopack/internal/task"
)

// Schema is the SQL DDL for the task pipeline tables. Execute it via
// [PostgresStore.Migrate] or apply it manually during deployment.
const Schema = `
CREATE TABLE IF NOT EXISTS translation_tasks (
    task_id          TEXT PRIMARY KEY,
    task_type        TEXT NOT NULL,
    status           TEXT NOT NULL DEFAULT 'pending',
    source_file      TEXT NOT NULL DEFAULT '',
    reference_text   TEXT NOT NULL DEFAULT '',
    source_text      TEXT NOT NULL DEFAULT '',
    target_languages JSONB NOT NULL DEFAULT '[]',
    stt_result       TEXT NOT NULL DEFAULT '',
    stt_score        JSONB,
    translations     JSONB NOT NULL DEFAULT '{}',
    packed_file      TEXT NOT NULL DEFAULT '',
    created_at       TIMESTAMPTZ NOT NULL DEFAULT now(),
    updated_at       TIMESTAMPTZ NOT NULL DEFAULT now(),
    completed_at     TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS idx_translation_tasks_status ON translation_tasks(status);

CREATE TABLE IF NOT EXISTS translation_packages (
    package_id TEXT PRIMARY KEY,
    task_id    TEXT NOT NULL REFERENCES translation_tasks(task_id),
    file_path  TEXT NOT NULL,
    languages  JSONB NOT NULL DEFAULT '[]',
    created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_translation_packages_task ON translation_packages(task_id);
`

// DB is the database interface used by [PostgresStore]. Both *pgxpool.Pool
// and pgx.Tx satisfy this interface, which is what lets [PostgresStore.InTx]
// hand fn a store bound to the transaction.
type DB interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Begin(ctx context.Context) (pgx.Tx, error)
}

// PostgresStore is a [Store] backed by a PostgreSQL database. Structured
// fields (target languages, score, translations) are serialised as JSONB.
type PostgresStore struct {
	db DB
}

// Compile-time interface check.
var _ Store = (*PostgresStore)(nil)

// NewPostgresStore creates a [PostgresStore] over the given connection pool.
// The caller is responsible for calling [PostgresStore.Migrate] before
// issuing queries.
func NewPostgresStore(db DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate executes the [Schema] DDL, creating the tables and indexes if they
// do not already exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("taskstore: migrate: %w", err)
	}
	return nil
}

// Create inserts a new task. It validates the record and returns an error
// wrapping [ErrDuplicateTask] if the id already exists.
func (s *PostgresStore) Create(ctx context.Context, t *task.TranslationTask) error {
	if err := t.Validate(); err != nil {
		return err
	}
	langsJSON, scoreJSON, transJSON, err := marshalFields(t)
	if err != nil {
		return err
	}

	const query = `
		INSERT INTO translation_tasks (
			task_id, task_type, status, source_file, reference_text, source_text,
			target_languages, stt_result, stt_score, translations, packed_file
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
		RETURNING created_at, updated_at`

	err = s.db.QueryRow(ctx, query,
		t.ID, t.Type, t.Status, t.SourceFile, t.ReferenceText, t.Text,
		langsJSON, t.STTResult, scoreJSON, transJSON, t.PackedFile,
	).Scan(&t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return fmt.Errorf("taskstore: task %q: %w", t.ID, ErrDuplicateTask)
		}
		return fmt.Errorf("taskstore: create: %w", err)
	}
	return nil
}

// Get retrieves a task by id. It returns (nil, nil) if no task exists.
func (s *PostgresStore) Get(ctx context.Context, taskID string) (*task.TranslationTask, error) {
	const query = `
		SELECT task_id, task_type, status, source_file, reference_text, source_text,
		       target_languages, stt_result, stt_score, translations, packed_file,
		       created_at, updated_at, completed_at
		FROM translation_tasks
		WHERE task_id = $1`

	var t task.TranslationTask
	var langsJSON, scoreJSON, transJSON []byte

	err := s.db.QueryRow(ctx, query, taskID).Scan(
		&t.ID, &t.Type, &t.Status, &t.SourceFile, &t.ReferenceText, &t.Text,
		&langsJSON, &t.STTResult, &scoreJSON, &transJSON, &t.PackedFile,
		&t.CreatedAt, &t.UpdatedAt, &t.CompletedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("taskstore: get %q: %w", taskID, err)
	}

	if err := unmarshalFields(&t, langsJSON, scoreJSON, transJSON); err != nil {
		return nil, err
	}
	return &t, nil
}

// Update replaces an existing task record and bumps updated_at. It returns an
// error if the task is not found.
func (s *PostgresStore) Update(ctx context.Context, t *task.TranslationTask) error {
	if err := t.Validate(); err != nil {
		return err
	}
	langsJSON, scoreJSON, transJSON, err := marshalFields(t)
	if err != nil {
		return err
	}

	const query = `
		UPDATE translation_tasks SET
			task_type = $2, status = $3, source_file = $4, reference_text = $5,
			source_text = $6, target_languages = $7, stt_result = $8,
			stt_score = $9, translations = $10, packed_file = $11,
			completed_at = $12, updated_at = now()
		WHERE task_id = $1
		RETURNING updated_at`

	err = s.db.QueryRow(ctx, query,
		t.ID, t.Type, t.Status, t.SourceFile, t.ReferenceText, t.Text,
		langsJSON, t.STTResult, scoreJSON, transJSON, t.PackedFile, t.CompletedAt,
	).Scan(&t.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("taskstore: task %q not found", t.ID)
		}
		return fmt.Errorf("taskstore: update: %w", err)
	}
	return nil
}

// Cancel atomically moves a task to CANCELLED iff its current status is not
// terminal. A missing or already-terminal task yields (false, nil).
func (s *PostgresStore) Cancel(ctx context.Context, taskID string) (bool, error) {
	const query = `
		UPDATE translation_tasks
		SET status = $2, updated_at = now()
		WHERE task_id = $1 AND status NOT IN ($3, $4, $5)`

	tag, err := s.db.Exec(ctx, query, taskID,
		task.StatusCancelled, task.StatusCompleted, task.StatusFailed, task.StatusCancelled)
	if err != nil {
		return false, fmt.Errorf("taskstore: cancel %q: %w", taskID, err)
	}
	return tag.RowsAffected() > 0, nil
}

// Transition compares-and-sets the task's status from `from` to t.Status and
// writes the stage outputs in the same statement. It reports false without
// error when the stored status is no longer `from`.
func (s *PostgresStore) Transition(ctx context.Context, t *task.TranslationTask, from task.TaskStatus) (bool, error) {
	if !from.CanTransitionTo(t.Status) {
		return false, fmt.Errorf("taskstore: transition %s -> %s is not allowed", from, t.Status)
	}
	_, scoreJSON, transJSON, err := marshalFields(t)
	if err != nil {
		return false, err
	}

	const query = `
		UPDATE translation_tasks SET
			status = $2, stt_result = $3, stt_score = $4, translations = $5,
			packed_file = $6, completed_at = $7, updated_at = now()
		WHERE task_id = $1 AND status = $8
		RETURNING updated_at`

	err = s.db.QueryRow(ctx, query,
		t.ID, t.Status, t.STTResult, scoreJSON, transJSON,
		t.PackedFile, t.CompletedAt, from,
	).Scan(&t.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("taskstore: transition %q: %w", t.ID, err)
	}
	return true, nil
}

// RecordPackage inserts a package record and stamps created_at.
func (s *PostgresStore) RecordPackage(ctx context.Context, rec *PackageRecord) error {
	langsJSON, err := json.Marshal(emptyLangs(rec.Languages))
	if err != nil {
		return fmt.Errorf("taskstore: marshal package languages: %w", err)
	}

	const query = `
		INSERT INTO translation_packages (package_id, task_id, file_path, languages)
		VALUES ($1,$2,$3,$4)
		RETURNING created_at`

	err = s.db.QueryRow(ctx, query,
		rec.PackageID, rec.TaskID, rec.FilePath, langsJSON,
	).Scan(&rec.CreatedAt)
	if err != nil {
		return fmt.Errorf("taskstore: record package for %q: %w", rec.TaskID, err)
	}
	return nil
}

// GetPackage retrieves the most recent package record for a task. It returns
// (nil, nil) if none exists.
func (s *PostgresStore) GetPackage(ctx context.Context, taskID string) (*PackageRecord, error) {
	const query = `
		SELECT package_id, task_id, file_path, languages, created_at
		FROM translation_packages
		WHERE task_id = $1
		ORDER BY created_at DESC
		LIMIT 1`

	var rec PackageRecord
	var langsJSON []byte
	err := s.db.QueryRow(ctx, query, taskID).Scan(
		&rec.PackageID, &rec.TaskID, &rec.FilePath, &langsJSON, &rec.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("taskstore: get package for %q: %w", taskID, err)
	}
	if err := json.Unmarshal(langsJSON, &rec.Languages); err != nil {
		return nil, fmt.Errorf("taskstore: unmarshal package languages: %w", err)
	}
	return &rec, nil
}

// InTx begins a transaction and runs fn against a store bound to it. A
// non-nil error from fn rolls the transaction back and is returned as-is.
func (s *PostgresStore) InTx(ctx context.Context, fn func(Store) error) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("taskstore: begin: %w", err)
	}
	if err := fn(&PostgresStore{db: tx}); err != nil {
		if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
			return errors.Join(err, fmt.Errorf("taskstore: rollback: %w", rbErr))
		}
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("taskstore: commit: %w", err)
	}
	return nil
}

// marshalFields serialises the JSONB columns of a task record. A nil score
// maps to SQL NULL; nil languages and translations map to their empty JSON
// forms so the columns never hold "null".
func marshalFields(t *task.TranslationTask) (langs, score, trans []byte, err error) {
	langs, err = json.Marshal(emptyLangs(t.TargetLanguages))
	if err != nil {
		return nil, nil, nil, fmt.Errorf("taskstore: marshal target_languages: %w", err)
	}
	if t.STTScore != nil {
		score, err = json.Marshal(t.STTScore)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("taskstore: marshal stt_score: %w", err)
		}
	}
	trans, err = json.Marshal(emptyTranslations(t.Translations))
	if err != nil {
		return nil, nil, nil, fmt.Errorf("taskstore: marshal translations: %w", err)
	}
	return langs, score, trans, nil
}

// unmarshalFields deserialises the JSONB columns into the task record.
func unmarshalFields(t *task.TranslationTask, langs, score, trans []byte) error {
	if err := json.Unmarshal(langs, &t.TargetLanguages); err != nil {
		return fmt.Errorf("taskstore: unmarshal target_languages: %w", err)
	}
	if len(score) > 0 {
		t.STTScore = &task.STTScore{}
		if err := json.Unmarshal(score, t.STTScore); err != nil {
			return fmt.Errorf("taskstore: unmarshal stt_score: %w", err)
		}
	}
	if len(trans) > 0 {
		if err := json.Unmarshal(trans, &t.Translations); err != nil {
			return fmt.Errorf("taskstore: unmarshal translations: %w", err)
		}
	}
	if len(t.Translations) == 0 {
		t.Translations = nil
	}
	return nil
}

// emptyLangs returns s if non-nil, otherwise an empty non-nil slice. This
// ensures JSON marshalling produces "[]" instead of "null".
func emptyLangs(s []task.LanguageCode) []task.LanguageCode {
	if s == nil {
		return []task.LanguageCode{}
	}
	return s
}

// emptyTranslations returns m if non-nil, otherwise an empty non-nil map.
// This ensures JSON marshalling produces "{}" instead of "null".
func emptyTranslations(m map[task.LanguageCode]string) map[task.LanguageCode]string {
	if m == nil {
		return map[task.LanguageCode]string{}
	}
	return m
}

// isDuplicateKeyError checks whether a PostgreSQL error is a unique-violation
// (SQLSTATE 23505).
func isDuplicateKeyError(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
