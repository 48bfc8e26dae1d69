package images

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

// ErrBucketExists is returned by a Store when bucket creation lost a race with
// another request that created the same bucket. Callers treat it as success.
var ErrBucketExists = errors.New("bucket already exists")

// Store is the object-store capability the image pipeline needs. Both the
// GCS and the S3-compatible backends implement it.
type Store interface {
	BucketExists(ctx context.Context, bucket string) (bool, error)
	MakeBucket(ctx context.Context, bucket string) error
	// PutFile uploads the local file at path under key. Re-uploading a key
	// overwrites the object.
	PutFile(ctx context.Context, bucket, key, path, contentType string) error
	// PublicURL returns the address clients use to fetch key from bucket.
	PublicURL(bucket, key string) string
}

// StoreFactory builds a Store for one pipeline run. A failing factory makes
// the pipeline pass markdown through untouched.
type StoreFactory func(ctx context.Context) (Store, error)

// contentTypes maps recognized image extensions to MIME types. Extensions not
// listed here, .jpg and .jpeg included, resolve to image/jpeg.
var contentTypes = map[string]string{
	".png":  "image/png",
	".gif":  "image/gif",
	".bmp":  "image/bmp",
	".webp": "image/webp",
}

const defaultContentType = "image/jpeg"

// ContentType resolves the MIME type for an image filename from its extension.
func ContentType(filename string) string {
	if ct, ok := contentTypes[strings.ToLower(filepath.Ext(filename))]; ok {
		return ct
	}
	return defaultContentType
}

// ObjectKey returns the key an image of documentID is stored under.
//
// Subdirectories are discarded, so two images sharing a basename in different
// directories land on the same key and the later upload wins.
func ObjectKey(documentID, filename string) string {
	return fmt.Sprintf("documents/%s/images/%s", documentID, filename)
}

// JoinPublicURL builds {base}/{bucket}/{key}, tolerating a trailing slash on base.
func JoinPublicURL(base, bucket, key string) string {
	return strings.TrimRight(base, "/") + "/" + bucket + "/" + key
}
