// Package api exposes the ingestion pipeline's HTTP surface (spec.md
// §6/§7): document submission, upload, search, and health checks.
// Adapted from the teacher's internal/api/router.go: the mux layout,
// bearer-auth middleware, and logging middleware survive unchanged; the
// handlers themselves are rewritten against ingest/upload/search instead
// of tenant/document/retrieval.
package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/pixell07/docpipeline/internal/apperrors"
	"github.com/pixell07/docpipeline/internal/auth"
	"github.com/pixell07/docpipeline/internal/document"
	"github.com/pixell07/docpipeline/internal/ingest"
	"github.com/pixell07/docpipeline/internal/lifecycle"
	"github.com/pixell07/docpipeline/internal/search"
	"github.com/pixell07/docpipeline/internal/upload"
)

type contextKey string

const claimsKey contextKey = "claims"

// RouterDeps bundles everything the HTTP layer needs to wire its routes.
type RouterDeps struct {
	IngestService *ingest.Service
	UploadService *upload.Service
	SearchService *search.Service
	Resources     *lifecycle.Resources
	JWTManager    *auth.JWTManager
	Logger        *slog.Logger
}

// NewRouter builds the HTTP handler for the whole service.
func NewRouter(deps RouterDeps) http.Handler {
	mux := http.NewServeMux()
	h := &handlers{deps: deps}

	mux.HandleFunc("GET  /api/v1/health/live", h.healthLive)
	mux.HandleFunc("GET  /api/v1/health/ready", h.healthReady)

	protected := http.NewServeMux()
	protected.HandleFunc("POST /api/v1/documents", h.ingestDocument)
	protected.HandleFunc("POST /api/v1/documents/{id}/upload", h.uploadDocument)
	protected.HandleFunc("POST /api/v1/search", h.search)

	mux.Handle("/api/v1/documents", h.authMiddleware(protected))
	mux.Handle("/api/v1/documents/", h.authMiddleware(protected))
	mux.Handle("/api/v1/search", h.authMiddleware(protected))

	return h.recoverMiddleware(h.loggingMiddleware(mux))
}

type handlers struct {
	deps RouterDeps
}

// Health

func (h *handlers) healthLive(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *handlers) healthReady(w http.ResponseWriter, r *http.Request) {
	statuses := h.deps.Resources.CheckReady(r.Context())

	body := make(map[string]string, len(statuses))
	ready := true
	for component, err := range statuses {
		if err != nil {
			body[component] = err.Error()
			ready = false
		} else {
			body[component] = "ok"
		}
	}

	status := http.StatusOK
	if !ready {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, body)
}

// Documents

func (h *handlers) ingestDocument(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req struct {
		Source string `json:"source"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Source) == "" {
		writeError(w, http.StatusBadRequest, "source is required")
		return
	}

	doc, err := h.deps.IngestService.Ingest(r.Context(), req.Source)
	if err != nil {
		h.writeAppError(w, err, "ingest failed")
		return
	}
	writeJSON(w, http.StatusAccepted, documentResponse(doc))
}

func (h *handlers) uploadDocument(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid document id")
		return
	}

	if err := r.ParseMultipartForm(32 << 20); err != nil {
		writeError(w, http.StatusBadRequest, "invalid multipart form")
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "file field is required")
		return
	}
	defer file.Close()

	doc, err := h.deps.UploadService.Upload(r.Context(), id, header.Filename, file)
	if err != nil {
		h.writeAppError(w, err, "upload failed")
		return
	}
	writeJSON(w, http.StatusAccepted, documentResponse(doc))
}

// Search

func (h *handlers) search(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req struct {
		Query string `json:"query"`
		Limit int    `json:"limit"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		writeError(w, http.StatusBadRequest, "query is required")
		return
	}
	if req.Limit <= 0 {
		req.Limit = 5
	}

	resp, err := h.deps.SearchService.Search(r.Context(), req.Query, req.Limit)
	if err != nil {
		h.writeAppError(w, err, "search failed")
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// Middleware

func (h *handlers) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if !strings.HasPrefix(authHeader, "Bearer ") {
			writeError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}

		token := strings.TrimPrefix(authHeader, "Bearer ")
		claims, err := h.deps.JWTManager.Verify(token)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "invalid or expired token")
			return
		}

		ctx := context.WithValue(r.Context(), claimsKey, claims)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (h *handlers) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rw, r)
		h.deps.Logger.Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rw.status,
			"duration_ms", time.Since(start).Milliseconds(),
		)
	})
}

// recoverMiddleware assigns a correlation id to every request and turns a
// panic into a generic 500 with that id, rather than letting it crash the
// process or leak the panic value to the client (spec.md §7).
func (h *handlers) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		correlationID := uuid.NewString()
		w.Header().Set("X-Correlation-Id", correlationID)

		defer func() {
			if rec := recover(); rec != nil {
				h.deps.Logger.Error("panic recovered", "correlation_id", correlationID, "panic", rec)
				writeJSON(w, http.StatusInternalServerError, map[string]string{
					"error":          "internal server error",
					"correlation_id": correlationID,
				})
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// Helpers

func (h *handlers) writeAppError(w http.ResponseWriter, err error, fallback string) {
	status := apperrors.StatusFor(err)
	if status >= http.StatusInternalServerError {
		h.deps.Logger.Error(fallback, "error", err)
		writeError(w, status, fallback)
		return
	}
	writeError(w, status, err.Error())
}

func documentResponse(doc *document.Document) map[string]any {
	resp := map[string]any{
		"id":     doc.ID.String(),
		"status": string(doc.Status),
		"source": doc.Source,
	}
	if doc.FilePath != nil {
		resp["file_path"] = *doc.FilePath
	}
	return resp
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(status int) {
	rw.status = status
	rw.ResponseWriter.WriteHeader(status)
}
