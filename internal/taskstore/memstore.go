package taskstore

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/lingopack/lingopack/internal/task"
)

// Compile-time assertion that MemStore satisfies the Store interface.
var _ Store = (*MemStore)(nil)

// MemStore is a thread-safe, in-memory implementation of [Store]. It is
// suitable for tests and local development. Records are deep-copied on the
// way in and out, so callers can never alias stored state.
type MemStore struct {
	mu       sync.RWMutex
	tasks    map[string]*task.TranslationTask
	packages map[string]*PackageRecord
}

// NewMemStore returns an initialised [MemStore].
func NewMemStore() *MemStore {
	return &MemStore{
		tasks:    make(map[string]*task.TranslationTask),
		packages: make(map[string]*PackageRecord),
	}
}

// Create implements [Store.Create].
func (s *MemStore) Create(ctx context.Context, t *task.TranslationTask) error {
	if err := t.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.tasks[t.ID]; exists {
		return fmt.Errorf("taskstore: task %q: %w", t.ID, ErrDuplicateTask)
	}
	now := time.Now().UTC()
	t.CreatedAt = now
	t.UpdatedAt = now
	s.tasks[t.ID] = t.Clone()
	return nil
}

// Get implements [Store.Get].
func (s *MemStore) Get(ctx context.Context, taskID string) (*task.TranslationTask, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.tasks[taskID]
	if !ok {
		return nil, nil
	}
	return t.Clone(), nil
}

// Update implements [Store.Update].
func (s *MemStore) Update(ctx context.Context, t *task.TranslationTask) error {
	if err := t.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.tasks[t.ID]; !ok {
		return fmt.Errorf("taskstore: task %q not found", t.ID)
	}
	t.UpdatedAt = time.Now().UTC()
	s.tasks[t.ID] = t.Clone()
	return nil
}

// Cancel implements [Store.Cancel].
func (s *MemStore) Cancel(ctx context.Context, taskID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tasks[taskID]
	if !ok || t.Status.Terminal() {
		return false, nil
	}
	t.Status = task.StatusCancelled
	t.UpdatedAt = time.Now().UTC()
	return true, nil
}

// Transition implements [Store.Transition].
func (s *MemStore) Transition(ctx context.Context, t *task.TranslationTask, from task.TaskStatus) (bool, error) {
	if !from.CanTransitionTo(t.Status) {
		return false, fmt.Errorf("taskstore: transition %s -> %s is not allowed", from, t.Status)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.tasks[t.ID]
	if !ok || stored.Status != from {
		return false, nil
	}
	stored.Status = t.Status
	stored.STTResult = t.STTResult
	stored.STTScore = nil
	if t.STTScore != nil {
		score := *t.STTScore
		stored.STTScore = &score
	}
	stored.Translations = nil
	if t.Translations != nil {
		stored.Translations = make(map[task.LanguageCode]string, len(t.Translations))
		for lang, text := range t.Translations {
			stored.Translations[lang] = text
		}
	}
	stored.PackedFile = t.PackedFile
	stored.CompletedAt = nil
	if t.CompletedAt != nil {
		ts := *t.CompletedAt
		stored.CompletedAt = &ts
	}
	stored.UpdatedAt = time.Now().UTC()
	t.UpdatedAt = stored.UpdatedAt
	return true, nil
}

// RecordPackage implements [Store.RecordPackage].
func (s *MemStore) RecordPackage(ctx context.Context, rec *PackageRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec.CreatedAt = time.Now().UTC()
	clone := *rec
	clone.Languages = append([]task.LanguageCode(nil), rec.Languages...)
	s.packages[rec.TaskID] = &clone
	return nil
}

// GetPackage implements [Store.GetPackage].
func (s *MemStore) GetPackage(ctx context.Context, taskID string) (*PackageRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.packages[taskID]
	if !ok {
		return nil, nil
	}
	clone := *rec
	clone.Languages = append([]task.LanguageCode(nil), rec.Languages...)
	return &clone, nil
}

// InTx implements [Store.InTx]. The in-memory transaction is a whole-store
// snapshot: when fn fails, every mutation made during fn is reverted,
// including ones from concurrent writers. That is coarser than a database
// transaction but gives tests the same observable rollback semantics.
func (s *MemStore) InTx(ctx context.Context, fn func(Store) error) error {
	s.mu.Lock()
	snapTasks := make(map[string]*task.TranslationTask, len(s.tasks))
	for id, t := range s.tasks {
		snapTasks[id] = t.Clone()
	}
	snapPackages := make(map[string]*PackageRecord, len(s.packages))
	for id, rec := range s.packages {
		clone := *rec
		clone.Languages = append([]task.LanguageCode(nil), rec.Languages...)
		snapPackages[id] = &clone
	}
	s.mu.Unlock()

	if err := fn(s); err != nil {
		s.mu.Lock()
		s.tasks = snapTasks
		s.packages = snapPackages
		s.mu.Unlock()
		return err
	}
	return nil
}

// Migrate implements [Store.Migrate]. It is a no-op for the in-memory store.
func (s *MemStore) Migrate(ctx context.Context) error {
	return nil
}
