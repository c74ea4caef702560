package handlers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/elwassit-org/api-translation-wasslago/internal/document"
	"github.com/elwassit-org/api-translation-wasslago/internal/domain"
	"github.com/elwassit-org/api-translation-wasslago/internal/jobs"
	"github.com/elwassit-org/api-translation-wasslago/internal/observability"
	"github.com/elwassit-org/api-translation-wasslago/internal/pipeline"
)

// multipart parts above this size spill to disk
const maxMemoryUpload = 8 << 20

// JobRunner accepts and cancels document jobs.
type JobRunner interface {
	Submit(job pipeline.Job) (jobs.Ack, error)
	Cancel(documentID string) error
}

// DocumentConfig configures the upload handler.
type DocumentConfig struct {
	TempDir        string
	MaxUploadBytes int64
}

// DocumentHandler accepts PDF uploads and manages their jobs.
type DocumentHandler struct {
	logger   *observability.Logger
	runner   JobRunner
	notifier domain.Notifier
	cfg      DocumentConfig
}

// NewDocumentHandler creates a document handler.
func NewDocumentHandler(logger *observability.Logger, runner JobRunner, notifier domain.Notifier, cfg DocumentConfig) *DocumentHandler {
	if cfg.TempDir == "" {
		cfg.TempDir = os.TempDir()
	}
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = 50 << 20
	}
	return &DocumentHandler{
		logger:   logger.WithOperation("documents"),
		runner:   runner,
		notifier: notifier,
		cfg:      cfg,
	}
}

// ProcessPDF handles POST /api/process-pdf/.
func (h *DocumentHandler) ProcessPDF(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.cfg.MaxUploadBytes)
	if err := r.ParseMultipartForm(maxMemoryUpload); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "file too large", err.Error())
			return
		}
		writeError(w, http.StatusBadRequest, "invalid multipart form", err.Error())
		return
	}
	defer r.MultipartForm.RemoveAll()

	job := pipeline.Job{
		DocumentID: strings.TrimSpace(r.FormValue("doc_id")),
		Identity:   strings.TrimSpace(r.FormValue("user_id")),
		SourceLang: strings.TrimSpace(r.FormValue("source_lang")),
		TargetLang: strings.TrimSpace(r.FormValue("target_lang")),
	}
	for field, v := range map[string]string{
		"user_id":     job.Identity,
		"source_lang": job.SourceLang,
		"target_lang": job.TargetLang,
	} {
		if v == "" {
			writeError(w, http.StatusBadRequest, field+" is required", "")
			return
		}
	}
	if job.DocumentID == "" {
		job.DocumentID = uuid.NewString()
	}

	log := h.logger.WithContext(r.Context()).WithDocument(job.DocumentID).WithIdentity(job.Identity)

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "file is required", err.Error())
		return
	}
	defer file.Close()

	workspace, path, err := h.saveUpload(file)
	if err != nil {
		log.Error().Err(err).Str("filename", header.Filename).Msg("Failed to store upload")
		h.reportFailure(r.Context(), job, err)
		writeError(w, http.StatusInternalServerError, "failed to store upload", err.Error())
		return
	}
	job.Workspace = workspace
	job.FilePath = path

	if err := document.ValidatePDFPath(path); err != nil {
		_ = os.RemoveAll(workspace)
		writeError(w, http.StatusBadRequest, "invalid PDF", err.Error())
		return
	}

	h.notifier.Send(r.Context(), job.Identity, domain.Notification{
		Status:     domain.StatusProcessing,
		DocumentID: job.DocumentID,
		Message:    "Starting PDF processing...",
		Timestamp:  time.Now(),
	})

	ack, err := h.runner.Submit(job)
	if err != nil {
		_ = os.RemoveAll(workspace)
		log.Error().Err(err).Msg("Failed to submit job")
		h.reportFailure(r.Context(), job, err)

		status := http.StatusInternalServerError
		var de *domain.DomainError
		switch {
		case errors.Is(err, jobs.ErrClosed):
			status = http.StatusServiceUnavailable
		case errors.As(err, &de) && de.Type == domain.ErrorTypeValidation:
			status = http.StatusConflict
		}
		writeError(w, status, "Processing failed", err.Error())
		return
	}

	log.Info().
		Str("filename", header.Filename).
		Int64("size", header.Size).
		Str("source_lang", job.SourceLang).
		Str("target_lang", job.TargetLang).
		Msg("Upload accepted")

	writeJSON(w, http.StatusOK, ack)
}

// CancelJob handles DELETE /api/jobs/{docID}.
func (h *DocumentHandler) CancelJob(w http.ResponseWriter, r *http.Request) {
	docID := chi.URLParam(r, "docID")
	if err := h.runner.Cancel(docID); err != nil {
		if errors.Is(err, domain.ErrJobNotFound) {
			writeError(w, http.StatusNotFound, "job not found", docID)
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to cancel job", err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{
		"status":      "cancelling",
		"document_id": docID,
	})
}

// saveUpload copies the upload into a fresh workspace directory.
func (h *DocumentHandler) saveUpload(src io.Reader) (workspace, path string, err error) {
	workspace, err = os.MkdirTemp(h.cfg.TempDir, "wasslago-job-*")
	if err != nil {
		return "", "", domain.IOError("failed to create workspace", err)
	}

	path = filepath.Join(workspace, uuid.NewString()+".pdf")
	dst, err := os.Create(path)
	if err != nil {
		_ = os.RemoveAll(workspace)
		return "", "", domain.IOError("failed to create upload file", err)
	}

	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		_ = os.RemoveAll(workspace)
		return "", "", domain.IOError("failed to write upload", err)
	}
	if err := dst.Close(); err != nil {
		_ = os.RemoveAll(workspace)
		return "", "", domain.IOError("failed to write upload", err)
	}
	return workspace, path, nil
}

func (h *DocumentHandler) reportFailure(ctx context.Context, job pipeline.Job, err error) {
	h.notifier.Send(ctx, job.Identity, domain.Notification{
		Status:     domain.StatusError,
		Stage:      domain.StageFailed,
		DocumentID: job.DocumentID,
		Message:    fmt.Sprintf("Processing failed: %v", err),
		Timestamp:  time.Now(),
	})
}
