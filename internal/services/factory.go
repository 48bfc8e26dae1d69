package services

import (
	"context"
	"fmt"
	"sync"

	"cloud.google.com/go/storage"

	"github.com/Lllllllleong/documentgateway/internal/config"
	"github.com/Lllllllleong/documentgateway/internal/engine"
	"github.com/Lllllllleong/documentgateway/internal/gcp"
	"github.com/Lllllllleong/documentgateway/internal/images"
	"github.com/Lllllllleong/documentgateway/internal/s3store"
)

// NewEngine builds the conversion engine named in cfg.
func NewEngine(ctx context.Context, cfg *config.Config) (engine.Engine, error) {
	switch cfg.Engine.Name {
	case engine.NameContainer:
		return engine.NewContainerEngine(cfg.Engine.Image), nil
	case engine.NameVertex:
		vc, err := gcp.NewVertexClient(ctx, cfg.Vertex.ProjectID, cfg.Vertex.Region, cfg.Vertex.Model)
		if err != nil {
			return nil, fmt.Errorf("failed to create vertex client: %w", err)
		}
		return engine.NewVertexEngine(vc.ConverterModel), nil
	default:
		return engine.NewCommandEngine(cfg.Engine.Name, cfg.Engine.Binary)
	}
}

// NewStoreFactory returns the factory the image pipeline uses to reach the
// configured object store. S3 clients are cheap and built per run; the GCS
// client is built on first success and then shared.
func NewStoreFactory(cfg config.StorageConfig) images.StoreFactory {
	if cfg.Backend == config.BackendGCS {
		var (
			mu     sync.Mutex
			shared *gcp.GCSStore
		)
		return func(ctx context.Context) (images.Store, error) {
			mu.Lock()
			defer mu.Unlock()
			if shared != nil {
				return shared, nil
			}
			client, err := newGCSClient(context.Background(), cfg.Endpoint)
			if err != nil {
				return nil, err
			}
			shared = gcp.NewGCSStore(client, cfg.ProjectID, cfg.PublicURL)
			return shared, nil
		}
	}

	return func(ctx context.Context) (images.Store, error) {
		return s3store.New(s3store.Config{
			Endpoint:  cfg.Endpoint,
			AccessKey: cfg.AccessKey,
			SecretKey: cfg.SecretKey,
			UseSSL:    cfg.UseSSL,
			PublicURL: cfg.PublicURL,
		})
	}
}

// newGCSClient is replaced in tests.
var newGCSClient = func(ctx context.Context, endpoint string) (*storage.Client, error) {
	return gcp.NewStorageClient(ctx, endpoint)
}
