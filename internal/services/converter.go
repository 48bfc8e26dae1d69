package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"

	"github.com/Lllllllleong/documentgateway/internal/config"
	"github.com/Lllllllleong/documentgateway/internal/engine"
	"github.com/Lllllllleong/documentgateway/internal/images"
	"github.com/Lllllllleong/documentgateway/internal/models"
)

// Version is set at build time via ldflags.
var Version = "dev"

func init() {
	// pdfcpu must not try to create a config directory on read-only hosts.
	api.DisableConfigDir()
}

// ConverterFunction holds the dependencies of a document conversion.
type ConverterFunction struct {
	config    *config.Config
	engine    engine.Engine
	pipeline  *images.Pipeline
	readiness *engine.Readiness
}

// NewConverter builds the configured engine and image pipeline and starts
// the engine warmup in the background.
func NewConverter(ctx context.Context, cfg *config.Config) (*ConverterFunction, error) {
	eng, err := NewEngine(ctx, cfg)
	if err != nil {
		return nil, err
	}
	pipeline, err := images.NewPipeline(NewStoreFactory(cfg.Storage), cfg.Storage.Bucket, cfg.Storage.UploadWorkers)
	if err != nil {
		return nil, err
	}
	f := NewConverterWith(cfg, eng, pipeline)
	go f.readiness.Run(context.Background(), eng)

	slog.Info("Converter initialized.", "engine", eng.Name(), "storageBackend", cfg.Storage.Backend, "bucket", cfg.Storage.Bucket)
	return f, nil
}

// NewConverterWith assembles a converter from ready-made parts. The engine
// warmup is not started.
func NewConverterWith(cfg *config.Config, eng engine.Engine, pipeline *images.Pipeline) *ConverterFunction {
	return &ConverterFunction{
		config:    cfg,
		engine:    eng,
		pipeline:  pipeline,
		readiness: engine.NewReadiness(),
	}
}

// Readiness exposes the engine warmup state.
func (f *ConverterFunction) Readiness() *engine.Readiness { return f.readiness }

// ConvertFile converts the document at srcPath and, when documentID is set,
// uploads its images and rewrites the links. Temporary engine output is
// removed before returning.
func (f *ConverterFunction) ConvertFile(ctx context.Context, srcPath, documentID, language string) (*models.ConvertResponse, error) {
	start := time.Now()
	filename := filepath.Base(srcPath)
	if language == "" {
		language = f.config.Engine.DefaultLanguage
	}
	logCtx := slog.With("documentId", documentID, "filename", filename, "engine", f.engine.Name())

	if !IsSupportedFormat(filename) {
		return nil, fmt.Errorf("%w: unsupported file type %q", ErrInvalidInput, filepath.Ext(filename))
	}
	info, err := os.Stat(srcPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	if info.Size() == 0 {
		return nil, fmt.Errorf("%w: file is empty", ErrInvalidInput)
	}

	meta := models.ConvertMetadata{
		Filename:   filename,
		FileSize:   info.Size(),
		Engine:     f.engine.Name(),
		Language:   language,
		DocumentID: documentID,
	}
	if strings.EqualFold(filepath.Ext(filename), ".pdf") {
		pages, err := inspectPDF(srcPath)
		if err != nil {
			return nil, err
		}
		meta.PageCount = pages
	}

	outDir, err := os.MkdirTemp("", "document-gateway-out-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp dir: %w", err)
	}
	defer os.RemoveAll(outDir)

	logCtx.Info("Starting conversion.", "size", humanize.Bytes(uint64(info.Size())), "pageCount", meta.PageCount)
	convCtx, cancel := context.WithTimeout(ctx, f.config.Engine.Timeout)
	defer cancel()

	res, err := f.engine.Convert(convCtx, engine.Request{SourcePath: srcPath, OutputDir: outDir, Language: language})
	if err != nil {
		switch {
		case errors.Is(err, context.DeadlineExceeded), errors.Is(convCtx.Err(), context.DeadlineExceeded):
			logCtx.Error("Conversion timed out.", "timeout", f.config.Engine.Timeout.String())
			return nil, fmt.Errorf("%w after %s", ErrTimeout, f.config.Engine.Timeout)
		case errors.Is(err, engine.ErrUnsupportedInput):
			return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
		}
		logCtx.Error("Conversion failed.", "error", err)
		return nil, fmt.Errorf("document processing failed: %w", err)
	}

	content, report := f.pipeline.RewriteImages(ctx, res.Markdown, res.ImageRoot, documentID)
	meta.ImagesFound = report.Found
	meta.ImagesUploaded = report.Uploaded()
	meta.ImagesFailed = report.Failed()

	elapsed := time.Since(start)
	logCtx.Info("Conversion complete.", "duration", elapsed.String(), "imagesUploaded", meta.ImagesUploaded, "imagesFailed", meta.ImagesFailed)
	return &models.ConvertResponse{
		Success:        true,
		Content:        content,
		ProcessingTime: elapsed.Seconds(),
		Metadata:       meta,
	}, nil
}

// inspectPDF validates the PDF in relaxed mode and returns its page count.
func inspectPDF(path string) (int, error) {
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed
	if err := api.ValidateFile(path, conf); err != nil {
		return 0, fmt.Errorf("%w: not a valid PDF: %v", ErrInvalidInput, err)
	}
	pages, err := api.PageCountFile(path)
	if err != nil {
		return 0, fmt.Errorf("%w: failed to get page count: %v", ErrInvalidInput, err)
	}
	return pages, nil
}
