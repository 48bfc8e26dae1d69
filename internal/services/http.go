package services

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"

	"github.com/Lllllllleong/documentgateway/internal/engine"
	"github.com/Lllllllleong/documentgateway/internal/models"
)

const (
	serviceName = "document-gateway"
	// multipartMemory is how much of a multipart body is buffered in memory.
	multipartMemory = 32 << 20
	// multipartOverhead allows for form fields and boundaries on top of the file.
	multipartOverhead = 1 << 20
)

// HandleConvert is the HTTP entry point for document conversion. It expects
// a multipart form with a "file" part and optional "documentId" and
// "language" fields.
func (f *ConverterFunction) HandleConvert(w http.ResponseWriter, r *http.Request) {
	requestID := uuid.NewString()
	logCtx := slog.With("requestId", requestID)

	if r.Method != http.MethodPost {
		writeError(w, fmt.Errorf("%w: method %s not allowed", ErrInvalidInput, r.Method))
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, f.config.MaxUploadSize+multipartOverhead)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, fmt.Errorf("%w: file exceeds %s", ErrInvalidInput, humanize.Bytes(uint64(f.config.MaxUploadSize))))
			return
		}
		logCtx.Warn("Could not parse multipart form.", "error", err)
		writeError(w, fmt.Errorf("%w: could not parse multipart form", ErrInvalidInput))
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, fmt.Errorf("%w: no file provided", ErrInvalidInput))
		return
	}
	defer file.Close()
	if header.Size > f.config.MaxUploadSize {
		writeError(w, fmt.Errorf("%w: file exceeds %s", ErrInvalidInput, humanize.Bytes(uint64(f.config.MaxUploadSize))))
		return
	}

	filename := sanitizeFilename(header.Filename)
	if !IsSupportedFormat(filename) {
		writeError(w, fmt.Errorf("%w: unsupported file type %q", ErrInvalidInput, filepath.Ext(filename)))
		return
	}

	tempDir, err := os.MkdirTemp("", "document-gateway-"+requestID+"-*")
	if err != nil {
		logCtx.Error("Failed to create temp dir", "error", err)
		writeError(w, fmt.Errorf("failed to create temp dir: %w", err))
		return
	}
	defer os.RemoveAll(tempDir)

	srcPath := filepath.Join(tempDir, filename)
	if err := saveUpload(file, srcPath); err != nil {
		logCtx.Error("Failed to save upload", "error", err)
		writeError(w, err)
		return
	}

	documentID := strings.TrimSpace(r.FormValue("documentId"))
	language := strings.TrimSpace(r.FormValue("language"))
	res, err := f.ConvertFile(r.Context(), srcPath, documentID, language)
	if err != nil {
		logCtx.Error("Conversion request failed", "error", err, "filename", filename)
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// HandleHealth reports the readiness of the conversion engine.
func (f *ConverterFunction) HandleHealth(w http.ResponseWriter, r *http.Request) {
	state, err := f.readiness.Snapshot()
	resp := models.HealthResponse{Engine: f.engine.Name()}
	status := http.StatusOK

	switch state {
	case engine.StateReady:
		resp.Status, resp.Ready = "ok", true
	case engine.StateFailed:
		resp.Status = "unavailable"
		resp.Error = err.Error()
		status = http.StatusServiceUnavailable
	default:
		resp.Status = "warming"
	}
	writeJSON(w, status, resp)
}

// HandleInfo describes the service configuration.
func (f *ConverterFunction) HandleInfo(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, models.InfoResponse{
		Service:          serviceName,
		Version:          Version,
		Engine:           f.engine.Name(),
		StorageBackend:   f.config.Storage.Backend,
		Bucket:           f.pipeline.Bucket(),
		SupportedFormats: SupportedFormats(),
		MaxUploadSize:    humanize.Bytes(uint64(f.config.MaxUploadSize)),
	})
}

func saveUpload(src io.Reader, destPath string) error {
	out, err := os.Create(destPath)
	if err != nil {
		return fmt.Errorf("failed to create upload file: %w", err)
	}
	defer out.Close()
	if _, err := io.Copy(out, src); err != nil {
		return fmt.Errorf("failed to save upload: %w", err)
	}
	return nil
}

// sanitizeFilename keeps only the base name of a client-supplied filename.
func sanitizeFilename(name string) string {
	name = filepath.Base(strings.ReplaceAll(name, "\\", "/"))
	if name == "." || name == "/" || name == "" {
		return "document"
	}
	return name
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Failed to write response", "error", err)
	}
}

func writeError(w http.ResponseWriter, err error) {
	status, kind := classify(err)
	writeJSON(w, status, models.ErrorResponse{Success: false, Error: err.Error(), ErrorKind: kind})
}
