package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/c-ster/Athena-Ingestion-Module/internal/domain"
	"github.com/c-ster/Athena-Ingestion-Module/internal/middleware"
	"github.com/c-ster/Athena-Ingestion-Module/internal/progress"
	"github.com/c-ster/Athena-Ingestion-Module/internal/scheduler"
	"github.com/c-ster/Athena-Ingestion-Module/internal/storage"
)

const (
	// keepAliveInterval is how often the event stream emits a comment
	// line so idle connections stay open through proxies.
	keepAliveInterval = 15 * time.Second

	uploadFormField = "files"
)

// IngestionHandler handles HTTP requests for the ingestion service
type IngestionHandler struct {
	scheduler *scheduler.Scheduler
	repo      domain.RecordRepository
	registry  domain.RecordRegistry
	bus       *progress.Bus
	store     *storage.DiskStore
	health    domain.HealthChecker
	maxUpload int64
	logger    *zap.Logger
}

// NewIngestionHandler creates a new ingestion handler
func NewIngestionHandler(
	sched *scheduler.Scheduler,
	repo domain.RecordRepository,
	registry domain.RecordRegistry,
	bus *progress.Bus,
	store *storage.DiskStore,
	health domain.HealthChecker,
	maxUpload int64,
	logger *zap.Logger,
) *IngestionHandler {
	return &IngestionHandler{
		scheduler: sched,
		repo:      repo,
		registry:  registry,
		bus:       bus,
		store:     store,
		health:    health,
		maxUpload: maxUpload,
		logger:    logger,
	}
}

// Upload handles POST /api/upload. It accepts a multipart form with one
// or more files, registers them and returns 202 with the batch handle;
// processing continues in the background.
func (h *IngestionHandler) Upload(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetRequestID(ctx)

	// One oversized file must not fail its batch siblings, so the body
	// cap covers the whole form and per-file limits are enforced by
	// the pipeline.
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUpload*16)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		h.logger.Warn("failed to parse multipart form",
			zap.String("request_id", requestID),
			zap.Error(err),
		)
		h.respondError(w, http.StatusBadRequest, "invalid multipart form", requestID)
		return
	}
	defer r.MultipartForm.RemoveAll()

	fileHeaders := r.MultipartForm.File[uploadFormField]
	if len(fileHeaders) == 0 {
		h.respondError(w, http.StatusBadRequest, fmt.Sprintf("no files in %q form field", uploadFormField), requestID)
		return
	}

	var subs []scheduler.Submission
	for _, fh := range fileHeaders {
		f, err := fh.Open()
		if err != nil {
			h.logger.Error("failed to open uploaded file",
				zap.String("request_id", requestID),
				zap.String("filename", fh.Filename),
				zap.Error(err),
			)
			h.respondError(w, http.StatusBadRequest, "unreadable uploaded file", requestID)
			return
		}
		data, err := io.ReadAll(f)
		f.Close()
		if err != nil {
			h.respondError(w, http.StatusBadRequest, "unreadable uploaded file", requestID)
			return
		}
		subs = append(subs, scheduler.Submission{
			Filename: fh.Filename,
			Data:     data,
		})
	}

	batch, err := h.scheduler.Submit(ctx, subs)
	if err != nil {
		h.logger.Error("failed to submit batch",
			zap.String("request_id", requestID),
			zap.Error(err),
		)
		h.respondError(w, http.StatusServiceUnavailable, "ingestion is shutting down", requestID)
		return
	}

	h.respondJSON(w, http.StatusAccepted, map[string]interface{}{
		"batch_id":   batch.ID.String(),
		"record_ids": batch.RecordIDs,
	}, requestID)
}

// StreamStatus handles GET /api/status as a server-sent event stream.
// Each status transition arrives as one data line; the stream starts at
// subscription time and never replays history.
func (h *IngestionHandler) StreamStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetRequestID(ctx)

	flusher, ok := w.(http.Flusher)
	if !ok {
		h.respondError(w, http.StatusInternalServerError, "streaming unsupported", requestID)
		return
	}

	events, cancel := h.bus.Subscribe(ctx)
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	h.logger.Info("status stream opened",
		zap.String("request_id", requestID),
		zap.String("remote_addr", r.RemoteAddr),
	)

	keepAlive := time.NewTicker(keepAliveInterval)
	defer keepAlive.Stop()

	for {
		select {
		case <-ctx.Done():
			h.logger.Info("status stream closed",
				zap.String("request_id", requestID),
			)
			return
		case <-keepAlive.C:
			fmt.Fprint(w, ": keep-alive\n\n")
			flusher.Flush()
		case event, open := <-events:
			if !open {
				return
			}
			payload, err := json.Marshal(event)
			if err != nil {
				h.logger.Error("failed to encode event",
					zap.String("request_id", requestID),
					zap.Error(err),
				)
				continue
			}
			fmt.Fprintf(w, "data: %s\n\n", payload)
			flusher.Flush()
		}
	}
}

// GetRecord handles GET /api/records/{id}. The live registry answers
// first; settled records come from the repository.
func (h *IngestionHandler) GetRecord(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetRequestID(ctx)

	id := chi.URLParam(r, "id")
	if id == "" {
		h.respondError(w, http.StatusBadRequest, "id parameter is required", requestID)
		return
	}

	if rec, ok := h.registry.Get(ctx, id); ok {
		h.respondJSON(w, http.StatusOK, rec, requestID)
		return
	}

	rec, err := h.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, domain.ErrRecordNotFound) {
			h.respondError(w, http.StatusNotFound, "record not found", requestID)
			return
		}
		h.logger.Error("failed to get record",
			zap.String("request_id", requestID),
			zap.String("id", id),
			zap.Error(err),
		)
		h.respondError(w, http.StatusInternalServerError, "failed to get record", requestID)
		return
	}

	h.respondJSON(w, http.StatusOK, rec, requestID)
}

// ListRecords handles GET /api/records
func (h *IngestionHandler) ListRecords(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetRequestID(ctx)

	records, err := h.repo.List(ctx)
	if err != nil {
		h.logger.Error("failed to list records",
			zap.String("request_id", requestID),
			zap.Error(err),
		)
		h.respondError(w, http.StatusInternalServerError, "failed to list records", requestID)
		return
	}

	h.respondJSON(w, http.StatusOK, map[string]interface{}{
		"data":  records,
		"total": len(records),
	}, requestID)
}

// fileEntry is one stored file with its ingestion record attached.
type fileEntry struct {
	storage.StoredFile
	Record *domain.IngestionRecord `json:"record,omitempty"`
}

// ListFiles handles GET /api/files. Stored files are joined with their
// ingestion records by original filename.
func (h *IngestionHandler) ListFiles(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetRequestID(ctx)

	files, err := h.store.List(ctx)
	if err != nil {
		h.logger.Error("failed to list stored files",
			zap.String("request_id", requestID),
			zap.Error(err),
		)
		h.respondError(w, http.StatusInternalServerError, "failed to list files", requestID)
		return
	}

	records, err := h.repo.List(ctx)
	if err != nil {
		h.logger.Error("failed to list records",
			zap.String("request_id", requestID),
			zap.Error(err),
		)
		h.respondError(w, http.StatusInternalServerError, "failed to list files", requestID)
		return
	}
	byName := make(map[string]*domain.IngestionRecord, len(records))
	for _, rec := range records {
		byName[rec.OriginalFilename] = rec
	}

	entries := make([]fileEntry, 0, len(files))
	for _, f := range files {
		entries = append(entries, fileEntry{
			StoredFile: f,
			Record:     byName[f.Filename],
		})
	}

	h.respondJSON(w, http.StatusOK, map[string]interface{}{
		"data":  entries,
		"total": len(entries),
	}, requestID)
}

// DownloadFile handles GET /api/files/{filename}. The filename is the
// original upload name; the bytes come back from long-term storage.
func (h *IngestionHandler) DownloadFile(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetRequestID(ctx)

	name := chi.URLParam(r, "filename")
	if name == "" {
		h.respondError(w, http.StatusBadRequest, "filename parameter is required", requestID)
		return
	}

	records, err := h.repo.List(ctx)
	if err != nil {
		h.logger.Error("failed to list records",
			zap.String("request_id", requestID),
			zap.Error(err),
		)
		h.respondError(w, http.StatusInternalServerError, "failed to read file", requestID)
		return
	}

	var storedPath string
	for _, rec := range records {
		if rec.OriginalFilename == name && rec.StoredPath != "" {
			storedPath = rec.StoredPath
			break
		}
	}
	if storedPath == "" {
		h.respondError(w, http.StatusNotFound, "file not found", requestID)
		return
	}

	data, err := h.store.Read(ctx, storedPath)
	if err != nil {
		h.logger.Error("failed to read stored file",
			zap.String("request_id", requestID),
			zap.String("path", storedPath),
			zap.Error(err),
		)
		h.respondError(w, http.StatusInternalServerError, "failed to read file", requestID)
		return
	}

	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	w.Header().Set("X-Request-ID", requestID)
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(data); err != nil {
		h.logger.Warn("failed to write file response",
			zap.String("request_id", requestID),
			zap.Error(err),
		)
	}
}

// Health handles GET /health
func (h *IngestionHandler) Health(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetRequestID(ctx)

	if err := h.health.CheckConnection(ctx); err != nil {
		h.logger.Error("health check failed",
			zap.String("request_id", requestID),
			zap.Error(err),
		)
		h.respondError(w, http.StatusServiceUnavailable, "database unavailable", requestID)
		return
	}

	h.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"}, requestID)
}

// respondJSON sends a JSON response
func (h *IngestionHandler) respondJSON(w http.ResponseWriter, status int, data interface{}, requestID string) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Request-ID", requestID)
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to encode response",
			zap.String("request_id", requestID),
			zap.Error(err),
		)
	}
}

// respondError sends an error response
func (h *IngestionHandler) respondError(w http.ResponseWriter, status int, message, requestID string) {
	h.respondJSON(w, status, map[string]string{
		"error":      message,
		"request_id": requestID,
	}, requestID)
}
