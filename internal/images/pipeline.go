package images

import (
	"context"
	"errors"
	"log/slog"
)

const defaultWorkers = 4

// Report summarizes one pipeline run.
type Report struct {
	Found   int
	Results []UploadResult
}

// Uploaded returns the number of images stored successfully.
func (r Report) Uploaded() int {
	n := 0
	for _, res := range r.Results {
		if res.OK() {
			n++
		}
	}
	return n
}

// Failed returns the number of images that could not be stored.
func (r Report) Failed() int {
	return len(r.Results) - r.Uploaded()
}

// Pipeline sequences discovery, upload and link rewriting for one converted
// document. It never fails a conversion: store and image problems degrade to
// partially rewritten or untouched markdown.
type Pipeline struct {
	newStore StoreFactory
	bucket   string
	workers  int
}

// NewPipeline validates its arguments and returns a Pipeline. Errors here
// indicate a misconfigured deployment.
func NewPipeline(newStore StoreFactory, bucket string, workers int) (*Pipeline, error) {
	if newStore == nil {
		return nil, errors.New("images: store factory must not be nil")
	}
	if bucket == "" {
		return nil, errors.New("images: bucket must be set")
	}
	if workers <= 0 {
		workers = defaultWorkers
	}
	return &Pipeline{newStore: newStore, bucket: bucket, workers: workers}, nil
}

// Bucket returns the bucket images are uploaded to.
func (p *Pipeline) Bucket() string { return p.bucket }

// RewriteImages uploads the images found under scanRoot and points the
// matching markdown links at them. Without a documentID the markdown is
// returned unchanged and nothing is uploaded.
func (p *Pipeline) RewriteImages(ctx context.Context, markdown, scanRoot, documentID string) (string, Report) {
	var report Report
	if documentID == "" {
		return markdown, report
	}
	logCtx := slog.With("documentId", documentID, "bucket", p.bucket)

	store, err := p.newStore(ctx)
	if err != nil {
		logCtx.Warn("Object store unavailable, returning markdown without image rewriting.", "error", err)
		return markdown, report
	}

	imgs := Discover(scanRoot)
	report.Found = len(imgs)
	if len(imgs) == 0 {
		logCtx.Debug("No images found to upload.", "scanRoot", scanRoot)
		return markdown, report
	}

	uploader := NewUploader(store, p.bucket)
	report.Results = uploader.UploadAll(ctx, imgs, documentID, p.workers)
	logCtx.Info("Image upload finished.", "found", report.Found, "uploaded", report.Uploaded(), "failed", report.Failed())

	return Rewrite(markdown, BuildLinkMap(report.Results)), report
}
