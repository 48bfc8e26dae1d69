package services

import (
	"context"
	"errors"
	"testing"

	"cloud.google.com/go/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Lllllllleong/documentgateway/internal/config"
	"github.com/Lllllllleong/documentgateway/internal/gcp"
	"github.com/Lllllllleong/documentgateway/internal/s3store"
)

func TestStoreFactoryGCS(t *testing.T) {
	prev := newGCSClient
	t.Cleanup(func() { newGCSClient = prev })

	calls := 0
	var endpoints []string
	newGCSClient = func(ctx context.Context, endpoint string) (*storage.Client, error) {
		calls++
		endpoints = append(endpoints, endpoint)
		if calls == 1 {
			return nil, errors.New("no credentials")
		}
		return &storage.Client{}, nil
	}

	factory := NewStoreFactory(config.StorageConfig{
		Backend:   config.BackendGCS,
		Endpoint:  "http://localhost:4443/storage/v1/",
		Bucket:    "images",
		ProjectID: "p",
	})

	_, err := factory(context.Background())
	require.Error(t, err)

	first, err := factory(context.Background())
	require.NoError(t, err)
	second, err := factory(context.Background())
	require.NoError(t, err)

	assert.Same(t, first, second)
	assert.IsType(t, &gcp.GCSStore{}, first)
	assert.Equal(t, 2, calls)
	assert.Equal(t, []string{"http://localhost:4443/storage/v1/", "http://localhost:4443/storage/v1/"}, endpoints)
	assert.Equal(t, "https://storage.googleapis.com/images/k.png", first.PublicURL("images", "k.png"))
}

func TestStoreFactoryMinio(t *testing.T) {
	prev := newGCSClient
	t.Cleanup(func() { newGCSClient = prev })
	newGCSClient = func(ctx context.Context, endpoint string) (*storage.Client, error) {
		t.Fatal("minio backend must not build a GCS client")
		return nil, nil
	}

	factory := NewStoreFactory(config.StorageConfig{
		Backend:   config.BackendMinio,
		Endpoint:  "minio:9000",
		AccessKey: "ak",
		SecretKey: "sk",
		PublicURL: "https://files.example.com/",
		Bucket:    "images",
	})

	store, err := factory(context.Background())
	require.NoError(t, err)
	assert.IsType(t, &s3store.Store{}, store)
	assert.Equal(t, "https://files.example.com/images/documents/d/images/a.png",
		store.PublicURL("images", "documents/d/images/a.png"))
}
