// internal/api/handler.go
package api

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"small-projects-fetcher/internal/model"
)

// Runner executes one ingestion run. Satisfied by *ingest.Ingestor.
type Runner interface {
	Run(ctx context.Context) (model.Summary, error)
}

// Handler is the container for API dependencies.
type Handler struct {
	runner Runner
	secret string
	logger *slog.Logger
}

// NewRouter creates and configures a new chi router with all API routes.
// The fetch trigger is protected by the shared cron secret.
func NewRouter(runner Runner, secret string, logger *slog.Logger) http.Handler {
	h := &Handler{
		runner: runner,
		secret: secret,
		logger: logger,
	}

	r := chi.NewRouter()

	// Middleware stack
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	// API Routes
	r.Get("/health", h.healthCheck)
	r.Route("/v1", func(r chi.Router) {
		r.Post("/fetch", h.triggerFetch)
	})

	return r
}

// healthCheck is a simple health endpoint.
func (h *Handler) healthCheck(w http.ResponseWriter, r *http.Request) {
	respondWithJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// triggerFetch runs the full ingestion pipeline and reports its counts.
// POST /v1/fetch, Authorization: Bearer <cron secret>
func (h *Handler) triggerFetch(w http.ResponseWriter, r *http.Request) {
	if !h.authorized(r) {
		h.logger.Warn("Unauthorized fetch attempt", "remote_addr", r.RemoteAddr)
		respondWithError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	start := time.Now()
	summary, err := h.runner.Run(r.Context())
	if err != nil {
		h.logger.Error("Ingestion run failed", "error", err, "duration", time.Since(start).String())
		respondWithError(w, http.StatusInternalServerError, "Failed to fetch repositories")
		return
	}

	respondWithJSON(w, http.StatusOK, fetchResponse{
		Success: true,
		Message: fmt.Sprintf("Successfully fetched and stored %d repositories", summary.TotalFetched),
		Summary: summary,
	})
}

// authorized checks the bearer credential against the shared cron secret.
func (h *Handler) authorized(r *http.Request) bool {
	expected := "Bearer " + h.secret
	auth := r.Header.Get("Authorization")
	return subtle.ConstantTimeCompare([]byte(auth), []byte(expected)) == 1
}

type fetchResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	model.Summary
}

func respondWithJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		slog.Error("Failed to encode response", "error", err)
	}
}

func respondWithError(w http.ResponseWriter, status int, message string) {
	respondWithJSON(w, status, map[string]string{"error": message})
}
