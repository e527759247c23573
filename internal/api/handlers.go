package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/lingopack/lingopack/internal/observe"
	"github.com/lingopack/lingopack/internal/task"
	"github.com/lingopack/lingopack/internal/taskstore"
	"github.com/lingopack/lingopack/pkg/pack"
)

// CreateTaskRequest is the POST /v1/tasks body.
type CreateTaskRequest struct {
	Type            task.TaskType       `json:"task_type"`
	SourceFile      string              `json:"source_file,omitempty"`
	ReferenceText   string              `json:"reference_text,omitempty"`
	Text            string              `json:"text,omitempty"`
	TargetLanguages []task.LanguageCode `json:"target_languages"`
}

// TaskResponse is the public task representation. Stage outputs appear as
// the pipeline produces them.
type TaskResponse struct {
	TaskID       string                       `json:"task_id"`
	Type         task.TaskType                `json:"task_type"`
	Status       task.TaskStatus              `json:"status"`
	STTResult    string                       `json:"stt_result,omitempty"`
	STTScore     *task.STTScore               `json:"stt_accuracy,omitempty"`
	Translations map[task.LanguageCode]string `json:"translations,omitempty"`
	CreatedAt    time.Time                    `json:"created_at"`
	UpdatedAt    time.Time                    `json:"updated_at"`
	CompletedAt  *time.Time                   `json:"completed_at,omitempty"`
}

// translationResponse carries one translated string.
type translationResponse struct {
	Text string `json:"text"`
}

func taskResponse(t *task.TranslationTask) TaskResponse {
	return TaskResponse{
		TaskID:       t.ID,
		Type:         t.Type,
		Status:       t.Status,
		STTResult:    t.STTResult,
		STTScore:     t.STTScore,
		Translations: t.Translations,
		CreatedAt:    t.CreatedAt,
		UpdatedAt:    t.UpdatedAt,
		CompletedAt:  t.CompletedAt,
	}
}

// createTask validates the submission, persists it as PENDING, and publishes
// the queue message that hands it to the matching worker topic. The publish
// is not transactional with the insert: when it fails the record stays
// PENDING and the client sees 502.
func (s *Server) createTask(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req CreateTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid request body")
		return
	}

	t := &task.TranslationTask{
		ID:              uuid.NewString(),
		Type:            req.Type,
		Status:          task.StatusPending,
		SourceFile:      req.SourceFile,
		ReferenceText:   req.ReferenceText,
		Text:            req.Text,
		TargetLanguages: collapseLanguages(req.TargetLanguages),
	}
	if err := t.Validate(); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	wire, err := json.Marshal(task.NewQueuedTask(t))
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "encoding queue message failed")
		return
	}

	if err := s.store.Create(ctx, t); err != nil {
		if errors.Is(err, taskstore.ErrDuplicateTask) {
			writeError(w, r, http.StatusConflict, "task already exists")
			return
		}
		observe.Logger(ctx).Error("persisting task failed", "task_id", t.ID, "err", err)
		writeError(w, r, http.StatusInternalServerError, "persisting task failed")
		return
	}
	s.metrics.RecordTaskCreated(ctx, string(t.Type))

	topic := s.textTopic
	if t.Type == task.TypeAudio {
		topic = s.audioTopic
	}
	if err := s.producer.Publish(ctx, topic, t.ID, wire); err != nil {
		// The record stays PENDING; nothing will pick it up until the
		// client resubmits.
		observe.Logger(ctx).Error("queueing task failed", "task_id", t.ID, "topic", topic, "err", err)
		writeError(w, r, http.StatusBadGateway, "queueing task failed")
		return
	}
	s.metrics.RecordPublished(ctx, topic)

	observe.Logger(ctx).Info("task accepted",
		"task_id", t.ID, "task_type", t.Type, "languages", len(t.TargetLanguages))
	writeJSON(w, r, http.StatusOK, taskResponse(t))
}

func (s *Server) getTask(w http.ResponseWriter, r *http.Request) {
	t, ok := s.loadTask(w, r)
	if !ok {
		return
	}
	writeJSON(w, r, http.StatusOK, taskResponse(t))
}

// cancelTask moves the task to CANCELLED unless it already reached a
// terminal state. Workers observe the cancellation at their next status
// check and drop the task's queue messages.
func (s *Server) cancelTask(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	taskID := chi.URLParam(r, "taskID")

	cancelled, err := s.store.Cancel(ctx, taskID)
	if err != nil {
		observe.Logger(ctx).Error("cancelling task failed", "task_id", taskID, "err", err)
		writeError(w, r, http.StatusInternalServerError, "cancelling task failed")
		return
	}
	if !cancelled {
		writeError(w, r, http.StatusNotFound, "task not found or already finished")
		return
	}
	observe.Logger(ctx).Info("task cancelled", "task_id", taskID)
	w.WriteHeader(http.StatusNoContent)
}

// getTranslation returns one finished translation from the task record.
func (s *Server) getTranslation(w http.ResponseWriter, r *http.Request) {
	lang, ok := s.langParam(w, r)
	if !ok {
		return
	}
	t, ok := s.loadTask(w, r)
	if !ok {
		return
	}
	if t.Status != task.StatusCompleted {
		writeError(w, r, http.StatusBadRequest, "translation not ready")
		return
	}
	text, ok := t.Translations[lang]
	if !ok {
		writeError(w, r, http.StatusNotFound,
			fmt.Sprintf("no translation for language %q", lang))
		return
	}
	writeJSON(w, r, http.StatusOK, translationResponse{Text: text})
}

// getPackageRecord returns the package ledger entry for a completed task.
func (s *Server) getPackageRecord(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	taskID := chi.URLParam(r, "taskID")

	rec, err := s.store.GetPackage(ctx, taskID)
	if err != nil {
		observe.Logger(ctx).Error("loading package record failed", "task_id", taskID, "err", err)
		writeError(w, r, http.StatusInternalServerError, "loading package record failed")
		return
	}
	if rec == nil {
		writeError(w, r, http.StatusNotFound, "no package for task")
		return
	}
	writeJSON(w, r, http.StatusOK, rec)
}

// getPackageTranslation reads one string straight out of the task's package
// file, exactly as a downstream consumer of the binary format would.
func (s *Server) getPackageTranslation(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	lang, ok := s.langParam(w, r)
	if !ok {
		return
	}
	src, ok := sourceParam(r)
	if !ok {
		writeError(w, r, http.StatusBadRequest, `source must be "text" or "audio"`)
		return
	}
	t, ok := s.loadTask(w, r)
	if !ok {
		return
	}
	if t.Status != task.StatusCompleted {
		writeError(w, r, http.StatusBadRequest, "package not ready")
		return
	}
	if t.PackedFile == "" {
		observe.Logger(ctx).Error("completed task carries no package file", "task_id", t.ID)
		writeError(w, r, http.StatusInternalServerError, "package file unavailable")
		return
	}

	rd, err := pack.Open(t.PackedFile)
	if err != nil {
		observe.Logger(ctx).Error("opening package failed",
			"task_id", t.ID, "path", t.PackedFile, "err", err)
		writeError(w, r, http.StatusInternalServerError, "opening package failed")
		return
	}
	defer rd.Close()

	text, found, err := rd.Query(t.ID, src, string(lang))
	if err != nil {
		if errors.Is(err, pack.ErrTaskNotFound) {
			writeError(w, r, http.StatusNotFound, "task not present in package")
			return
		}
		observe.Logger(ctx).Error("reading package failed",
			"task_id", t.ID, "path", t.PackedFile, "err", err)
		writeError(w, r, http.StatusInternalServerError, "reading package failed")
		return
	}
	if !found {
		writeError(w, r, http.StatusNotFound,
			fmt.Sprintf("nothing stored for source %s and language %q", src, lang))
		return
	}
	writeJSON(w, r, http.StatusOK, translationResponse{Text: text})
}

// loadTask fetches the task in the URL, writing the error response itself
// when the task cannot be served.
func (s *Server) loadTask(w http.ResponseWriter, r *http.Request) (*task.TranslationTask, bool) {
	ctx := r.Context()
	taskID := chi.URLParam(r, "taskID")

	t, err := s.store.Get(ctx, taskID)
	if err != nil {
		observe.Logger(ctx).Error("loading task failed", "task_id", taskID, "err", err)
		writeError(w, r, http.StatusInternalServerError, "loading task failed")
		return nil, false
	}
	if t == nil {
		writeError(w, r, http.StatusNotFound, "task not found")
		return nil, false
	}
	return t, true
}

// langParam validates the language in the URL, writing the 400 itself when
// the code is unknown.
func (s *Server) langParam(w http.ResponseWriter, r *http.Request) (task.LanguageCode, bool) {
	lang := task.LanguageCode(chi.URLParam(r, "lang"))
	if !lang.IsValid() {
		writeError(w, r, http.StatusBadRequest,
			fmt.Sprintf("language %q is not supported", lang))
		return "", false
	}
	return lang, true
}

// sourceParam maps the optional ?source= query to a package section,
// defaulting to the translated text.
func sourceParam(r *http.Request) (pack.Source, bool) {
	switch r.URL.Query().Get("source") {
	case "", "text":
		return pack.SourceText, true
	case "audio":
		return pack.SourceAudio, true
	default:
		return "", false
	}
}

// collapseLanguages removes duplicate codes, keeping first-seen order.
// Unknown codes survive collapsing and are rejected by task validation.
func collapseLanguages(langs []task.LanguageCode) []task.LanguageCode {
	seen := make(map[task.LanguageCode]struct{}, len(langs))
	out := make([]task.LanguageCode, 0, len(langs))
	for _, l := range langs {
		if _, dup := seen[l]; dup {
			continue
		}
		seen[l] = struct{}{}
		out = append(out, l)
	}
	return out
}
