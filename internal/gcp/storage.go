package gcp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/Lllllllleong/documentgateway/internal/images"
)

const defaultPublicURL = "https://storage.googleapis.com"

// uploadBackoff is the first retry delay of PutFile; it doubles per attempt.
var uploadBackoff = 1 * time.Second

const maxUploadRetries = 4

// NewStorageClient creates a GCS client. A non-empty endpoint targets an
// emulator and disables authentication.
func NewStorageClient(ctx context.Context, endpoint string) (*storage.Client, error) {
	var opts []option.ClientOption
	if endpoint != "" {
		opts = append(opts, option.WithEndpoint(endpoint), option.WithoutAuthentication())
	}
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage client: %w", err)
	}
	return client, nil
}

// GCSStore implements images.Store on Google Cloud Storage.
type GCSStore struct {
	client    *storage.Client
	projectID string
	publicURL string
}

// NewGCSStore wraps client. projectID is only needed to create buckets.
func NewGCSStore(client *storage.Client, projectID, publicURL string) *GCSStore {
	if publicURL == "" {
		publicURL = defaultPublicURL
	}
	return &GCSStore{client: client, projectID: projectID, publicURL: publicURL}
}

func (s *GCSStore) BucketExists(ctx context.Context, bucket string) (bool, error) {
	_, err := s.client.Bucket(bucket).Attrs(ctx)
	if errors.Is(err, storage.ErrBucketNotExist) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *GCSStore) MakeBucket(ctx context.Context, bucket string) error {
	if s.projectID == "" {
		return fmt.Errorf("cannot create bucket %s: GCS project id not configured", bucket)
	}
	err := s.client.Bucket(bucket).Create(ctx, s.projectID, nil)
	if isGoogleAPICode(err, http.StatusConflict) {
		return images.ErrBucketExists
	}
	return err
}

// PutFile streams the local file into the object, retrying transient
// failures with exponential backoff.
func (s *GCSStore) PutFile(ctx context.Context, bucket, key, path, contentType string) error {
	backoff := uploadBackoff
	var lastErr error

	for i := 0; i < maxUploadRetries; i++ {
		err := s.putOnce(ctx, bucket, key, path, contentType)
		if err == nil {
			return nil
		}
		if !retryable(err) {
			return err
		}
		lastErr = err
		if i == maxUploadRetries-1 {
			break
		}

		slog.Warn(
			"Upload failed, will retry.",
			"gcsObject", key,
			"attempt", i+1,
			"maxRetries", maxUploadRetries,
			"backoff", backoff.String(),
			"error", err,
		)

		select {
		case <-time.After(backoff):
			backoff *= 2
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return fmt.Errorf("upload for %s failed after all retries: %w", key, lastErr)
}

// retryable reports whether another upload attempt can succeed. Missing local
// files and client errors other than timeouts and throttling are permanent.
func retryable(err error) bool {
	if errors.Is(err, os.ErrNotExist) || errors.Is(err, context.Canceled) {
		return false
	}
	var gerr *googleapi.Error
	if errors.As(err, &gerr) && gerr.Code >= 400 && gerr.Code < 500 {
		return gerr.Code == http.StatusRequestTimeout || gerr.Code == http.StatusTooManyRequests
	}
	return true
}

func (s *GCSStore) putOnce(ctx context.Context, bucket, key, path, contentType string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("could not open local file %s: %w", path, err)
	}
	defer f.Close()

	writeCtx, cancel := context.WithTimeout(ctx, 50*time.Second)
	defer cancel()

	w := s.client.Bucket(bucket).Object(key).NewWriter(writeCtx)
	w.ContentType = contentType
	if _, err := io.Copy(w, f); err != nil {
		_ = w.Close()
		return fmt.Errorf("io.Copy to GCS failed: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("failed to close GCS writer (finalize upload): %w", err)
	}
	return nil
}

func (s *GCSStore) PublicURL(bucket, key string) string {
	return images.JoinPublicURL(s.publicURL, bucket, key)
}

// DownloadObject copies gs://bucket/object to destPath.
func DownloadObject(ctx context.Context, client *storage.Client, bucket, object, destPath string) error {
	r, err := client.Bucket(bucket).Object(object).NewReader(ctx)
	if err != nil {
		return fmt.Errorf("failed to get GCS object reader for gs://%s/%s: %w", bucket, object, err)
	}
	defer r.Close()

	f, err := os.Create(destPath)
	if err != nil {
		return fmt.Errorf("failed to create temp file at %s: %w", destPath, err)
	}
	defer f.Close()
	if _, err := io.Copy(f, r); err != nil {
		return fmt.Errorf("failed to copy GCS object to local file: %w", err)
	}
	return nil
}

// SaveToGCSAtomically writes content to a GCS object only if it doesn't
// already exist. An existing object is not an error.
func SaveToGCSAtomically(ctx context.Context, bucket *storage.BucketHandle, objectName, content, contentType string) (bool, error) {
	w := bucket.Object(objectName).If(storage.Conditions{DoesNotExist: true}).NewWriter(ctx)
	w.ContentType = contentType

	if _, err := io.Copy(w, strings.NewReader(content)); err != nil {
		_ = w.Close()
		if isGoogleAPICode(err, http.StatusPreconditionFailed) {
			return false, nil
		}
		return false, fmt.Errorf("failed to write to GCS: %w", err)
	}
	if err := w.Close(); err != nil {
		if isGoogleAPICode(err, http.StatusPreconditionFailed) {
			slog.Info("Skipping write, object already exists.", "object", objectName)
			return false, nil
		}
		return false, fmt.Errorf("failed to finalize GCS write: %w", err)
	}
	return true, nil
}

func isGoogleAPICode(err error, code int) bool {
	var gerr *googleapi.Error
	return errors.As(err, &gerr) && gerr.Code == code
}
