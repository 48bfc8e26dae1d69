package images

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"golang.org/x/sync/errgroup"
)

// UploadResult is the outcome of one upload attempt. Exactly one of PublicURL
// and Err is set.
type UploadResult struct {
	Filename     string
	RelativePath string
	PublicURL    string
	Err          error
}

// OK reports whether the upload succeeded.
func (r UploadResult) OK() bool { return r.Err == nil }

// FailureReason returns the failure message, or "" for a successful upload.
func (r UploadResult) FailureReason() string {
	if r.Err == nil {
		return ""
	}
	return r.Err.Error()
}

// Uploader pushes discovered images into one bucket. The bucket is checked
// and, if missing, created before the first upload; the outcome of that check
// is shared by every later upload of the same Uploader.
type Uploader struct {
	store  Store
	bucket string

	bucketOnce sync.Once
	bucketErr  error
}

// NewUploader returns an Uploader writing to bucket through store.
func NewUploader(store Store, bucket string) *Uploader {
	return &Uploader{store: store, bucket: bucket}
}

// Upload attempts exactly one upload of img. Failures are returned in the
// result, never as a panic or a separate error.
func (u *Uploader) Upload(ctx context.Context, img DiscoveredImage, documentID string) UploadResult {
	res := UploadResult{Filename: img.Filename, RelativePath: img.RelativePath}

	if err := u.ensureBucket(ctx); err != nil {
		res.Err = err
		return res
	}
	if _, err := os.Stat(img.AbsolutePath); err != nil {
		res.Err = fmt.Errorf("reading local image %s: %w", img.RelativePath, err)
		return res
	}

	key := ObjectKey(documentID, img.Filename)
	if err := u.store.PutFile(ctx, u.bucket, key, img.AbsolutePath, ContentType(img.Filename)); err != nil {
		res.Err = fmt.Errorf("uploading %s to %s/%s: %w", img.RelativePath, u.bucket, key, err)
		return res
	}
	res.PublicURL = u.store.PublicURL(u.bucket, key)
	return res
}

// UploadAll uploads every image with at most workers uploads in flight and
// returns one result per image, in the order of imgs.
func (u *Uploader) UploadAll(ctx context.Context, imgs []DiscoveredImage, documentID string, workers int) []UploadResult {
	results := make([]UploadResult, len(imgs))
	if workers < 1 {
		workers = 1
	}

	var eg errgroup.Group
	eg.SetLimit(workers)
	for i, img := range imgs {
		i, img := i, img
		eg.Go(func() error {
			if err := ctx.Err(); err != nil {
				results[i] = UploadResult{Filename: img.Filename, RelativePath: img.RelativePath, Err: err}
				return nil
			}
			results[i] = u.Upload(ctx, img, documentID)
			if !results[i].OK() {
				slog.Warn("Image upload failed.", "documentId", documentID, "image", img.RelativePath, "error", results[i].Err)
			}
			return nil
		})
	}
	// Workers never return errors; failures live in results.
	_ = eg.Wait()
	return results
}

func (u *Uploader) ensureBucket(ctx context.Context) error {
	u.bucketOnce.Do(func() {
		exists, err := u.store.BucketExists(ctx, u.bucket)
		if err != nil {
			u.bucketErr = fmt.Errorf("checking bucket %s: %w", u.bucket, err)
			return
		}
		if exists {
			return
		}
		if err := u.store.MakeBucket(ctx, u.bucket); err != nil && !errors.Is(err, ErrBucketExists) {
			u.bucketErr = fmt.Errorf("creating bucket %s: %w", u.bucket, err)
			return
		}
		slog.Info("Created image bucket.", "bucket", u.bucket)
	})
	return u.bucketErr
}
