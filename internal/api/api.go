// Package api implements the task-ingress HTTP server: clients submit
// translation tasks, poll their status, cancel them, and read finished
// translations back out of package files.
//
// The server is deliberately thin. It validates, persists the task as
// PENDING, and publishes the queue message that hands the task to the
// pipeline; every later state change belongs to the workers.
package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/lingopack/lingopack/internal/broker"
	"github.com/lingopack/lingopack/internal/observe"
	"github.com/lingopack/lingopack/internal/taskstore"
)

// Config carries the wiring the server needs.
type Config struct {
	// Store persists task records.
	Store taskstore.Store

	// Producer publishes queue messages for new tasks.
	Producer broker.Producer

	// AudioTopic receives audio tasks; TranslationTopic receives text tasks.
	AudioTopic       string
	TranslationTopic string

	// Metrics is optional; the process-default instruments apply when nil.
	Metrics *observe.Metrics
}

// Server handles the versioned task API.
type Server struct {
	store      taskstore.Store
	producer   broker.Producer
	audioTopic string
	textTopic  string
	metrics    *observe.Metrics
}

// NewServer validates cfg and returns a server.
func NewServer(cfg Config) (*Server, error) {
	if cfg.Store == nil || cfg.Producer == nil {
		return nil, errors.New("api: server needs a store and a producer")
	}
	if cfg.AudioTopic == "" || cfg.TranslationTopic == "" {
		return nil, errors.New("api: server needs the audio and translation topics")
	}
	m := cfg.Metrics
	if m == nil {
		m = observe.DefaultMetrics()
	}
	return &Server{
		store:      cfg.Store,
		producer:   cfg.Producer,
		audioTopic: cfg.AudioTopic,
		textTopic:  cfg.TranslationTopic,
		metrics:    m,
	}, nil
}

// Router returns the versioned API routes with request instrumentation
// attached. Health and metrics endpoints are mounted by the binary, not
// here, so they stay out of the request middleware.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(observe.Middleware(s.metrics))

	r.Route("/v1", func(r chi.Router) {
		r.Post("/tasks", s.createTask)
		r.Get("/tasks/{taskID}", s.getTask)
		r.Delete("/tasks/{taskID}", s.cancelTask)
		r.Get("/tasks/{taskID}/translations/{lang}", s.getTranslation)
		r.Get("/packages/{taskID}", s.getPackageRecord)
		r.Get("/packages/{taskID}/translations/{lang}", s.getPackageTranslation)
	})
	return r
}

// writeJSON encodes v with the given status. Encoding failures cannot be
// reported to the client anymore, so they are only logged.
func writeJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		observe.Logger(r.Context()).Error("encoding response failed", "err", err)
	}
}

// writeError sends the error envelope every non-2xx response uses.
func writeError(w http.ResponseWriter, r *http.Request, status int, msg string) {
	writeJSON(w, r, status, map[string]string{"error": msg})
}
