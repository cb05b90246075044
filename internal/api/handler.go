package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"SendQueue/internal/db"
	"SendQueue/internal/metrics"
	"SendQueue/internal/models"
	"SendQueue/internal/worker"
)

const TriggerOnDemand = "on_demand"

// Store is what the HTTP surface needs from the job store.
type Store interface {
	Enqueue(ctx context.Context, job *models.EmailJob) (string, error)
	Get(ctx context.Context, id string) (*models.EmailJob, error)
	Ping(ctx context.Context) error
}

type Processor interface {
	Run(ctx context.Context, limit int) (worker.Summary, error)
}

type Handler struct {
	Store   Store
	Proc    Processor
	Log     *zap.Logger
	Metrics *metrics.Collector

	// DefaultLimit is used when /process is called without a usable limit.
	DefaultLimit int
}

func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", h.Health)
	r.Post("/process", h.Process)
	r.Route("/emails", func(r chi.Router) {
		r.Post("/", h.SendEmail)
		r.Get("/{id}", h.GetEmail)
	})
	return r
}

type processResponse struct {
	OK         bool  `json:"ok"`
	Processed  int   `json:"processed"`
	Sent       int   `json:"sent"`
	Retried    int   `json:"retried"`
	Failed     int   `json:"failed"`
	Skipped    int   `json:"skipped"`
	DurationMS int64 `json:"duration_ms"`
}

type errorResponse struct {
	Error     string `json:"error"`
	Processed int    `json:"processed"`
	Sent      int    `json:"sent"`
	Failed    int    `json:"failed"`
}

// Process runs one worker pass on demand.
func (h *Handler) Process(w http.ResponseWriter, r *http.Request) {
	limit := h.limit(r.URL.Query().Get("limit"))

	// A pass runs its whole batch even if the client goes away.
	start := time.Now()
	sum, err := h.Proc.Run(context.WithoutCancel(r.Context()), limit)
	if h.Metrics != nil {
		h.Metrics.Run(TriggerOnDemand, time.Since(start))
	}

	if err != nil {
		status := http.StatusInternalServerError
		if worker.IsConfig(err) {
			status = http.StatusServiceUnavailable
		}
		h.logger().Error("on-demand pass failed", zap.Int("status", status), zap.Error(err))
		writeJSON(w, status, errorResponse{Error: err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, processResponse{
		OK:         true,
		Processed:  sum.Processed,
		Sent:       sum.Sent,
		Retried:    sum.Retried,
		Failed:     sum.Failed,
		Skipped:    sum.Skipped,
		DurationMS: sum.Duration.Milliseconds(),
	})
}

func (h *Handler) limit(raw string) int {
	def := h.DefaultLimit
	if def == 0 {
		def = worker.DefaultLimit
	}
	if raw == "" {
		return models.ClampBatch(def)
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return models.ClampBatch(def)
	}
	return models.ClampBatch(n)
}

type sendRequest struct {
	Recipient       string      `json:"recipient"`
	Subject         string      `json:"subject"`
	Body            models.Body `json:"body"`
	SenderOverride  string      `json:"sender_override"`
	ReplyToOverride string      `json:"reply_to_override"`
	Tag             string      `json:"tag"`
	SendAfter       *time.Time  `json:"send_after"`
}

// SendEmail enqueues a job. The payload is stored as given; validation
// happens when the job is processed so rejected jobs stay auditable.
func (h *Handler) SendEmail(w http.ResponseWriter, r *http.Request) {
	var req sendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	job := models.NewEmailJob(req.Recipient, req.Subject, req.Body)
	job.SenderOverride = req.SenderOverride
	job.ReplyToOverride = req.ReplyToOverride
	job.Tag = req.Tag
	job.SendAfter = req.SendAfter

	id, err := h.Store.Enqueue(r.Context(), job)
	if err != nil {
		h.logger().Error("enqueue failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "enqueue failed"})
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{"id": id})
}

func (h *Handler) GetEmail(w http.ResponseWriter, r *http.Request) {
	job, err := h.Store.Get(r.Context(), chi.URLParam(r, "id"))
	switch {
	case errors.Is(err, db.ErrJobNotFound):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "job not found"})
		return
	case err != nil:
		h.logger().Error("lookup failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "lookup failed"})
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if err := h.Store.Ping(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) logger() *zap.Logger {
	if h.Log == nil {
		return zap.NewNop()
	}
	return h.Log
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
