package services

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"

	"cloud.google.com/go/storage"

	"github.com/Lllllllleong/documentgateway/internal/config"
	"github.com/Lllllllleong/documentgateway/internal/gcp"
	"github.com/Lllllllleong/documentgateway/internal/models"
)

const markdownContentType = "text/markdown; charset=utf-8"

// objectIO is the GCS access the upload converter needs.
type objectIO interface {
	Download(ctx context.Context, bucket, object, destPath string) error
	SaveIfAbsent(ctx context.Context, bucket, object, content string) (bool, error)
}

type gcsObjectIO struct {
	client *storage.Client
}

func (g gcsObjectIO) Download(ctx context.Context, bucket, object, destPath string) error {
	return gcp.DownloadObject(ctx, g.client, bucket, object, destPath)
}

func (g gcsObjectIO) SaveIfAbsent(ctx context.Context, bucket, object, content string) (bool, error) {
	return gcp.SaveToGCSAtomically(ctx, g.client.Bucket(bucket), object, content, markdownContentType)
}

// UploadConverterFunction converts documents as they land in a bucket and
// stores the markdown in the output bucket.
type UploadConverterFunction struct {
	converter    *ConverterFunction
	objects      objectIO
	outputBucket string
}

// NewUploadConverter wires the storage-event conversion around converter.
func NewUploadConverter(ctx context.Context, cfg *config.Config, converter *ConverterFunction) (*UploadConverterFunction, error) {
	if cfg.OutputBucket == "" {
		return nil, fmt.Errorf("CONVERTED_MARKDOWN_BUCKET environment variable must be set")
	}
	client, err := newGCSClient(ctx, "")
	if err != nil {
		return nil, err
	}
	return &UploadConverterFunction{
		converter:    converter,
		objects:      gcsObjectIO{client: client},
		outputBucket: cfg.OutputBucket,
	}, nil
}

// Process downloads the object named by e, converts it and saves
// <documentId>/document.md to the output bucket. Unsupported objects and
// objects already converted are skipped; a nil result means skipped.
func (f *UploadConverterFunction) Process(ctx context.Context, e models.GCSEvent) (*models.UploadConversionResult, error) {
	logCtx := slog.With("gcsBucket", e.Bucket, "gcsObject", e.Name)

	if e.Bucket == f.outputBucket {
		logCtx.Info("Ignoring object in output bucket.")
		return nil, nil
	}
	if strings.HasSuffix(e.Name, "/") || !IsSupportedFormat(e.Name) {
		logCtx.Info("Skipping object with unsupported type.")
		return nil, nil
	}

	tempDir, err := os.MkdirTemp("", "document-gateway-event-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp dir: %w", err)
	}
	defer os.RemoveAll(tempDir)

	srcPath := filepath.Join(tempDir, path.Base(e.Name))
	if err := f.objects.Download(ctx, e.Bucket, e.Name, srcPath); err != nil {
		logCtx.Error("Failed to download source document", "error", err)
		return nil, err
	}

	documentID := eventDocumentID(e.Name)
	logCtx = logCtx.With("documentId", documentID)
	res, err := f.converter.ConvertFile(ctx, srcPath, documentID, "")
	if err != nil {
		logCtx.Error("Conversion of uploaded document failed", "error", err)
		return nil, err
	}

	objectName := documentID + "/document.md"
	written, err := f.objects.SaveIfAbsent(ctx, f.outputBucket, objectName, res.Content)
	if err != nil {
		logCtx.Error("Failed to save markdown to GCS", "error", err, "bucket", f.outputBucket, "object", objectName)
		return nil, err
	}

	outputGCSUri := fmt.Sprintf("gs://%s/%s", f.outputBucket, objectName)
	logCtx.Info("Uploaded document converted.", "outputGcsUri", outputGCSUri, "written", written)
	return &models.UploadConversionResult{
		DocumentID:   documentID,
		OutputGCSUri: outputGCSUri,
		Written:      written,
	}, nil
}

// eventDocumentID derives a document id from an object name: the extension
// is dropped and path separators become dashes.
func eventDocumentID(name string) string {
	name = strings.TrimSuffix(name, path.Ext(name))
	return strings.ReplaceAll(strings.Trim(name, "/"), "/", "-")
}
