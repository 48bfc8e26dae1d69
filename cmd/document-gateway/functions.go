package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/GoogleCloudPlatform/functions-framework-go/functions"
	cloudevents "github.com/cloudevents/sdk-go/v2"

	"github.com/Lllllllleong/documentgateway/internal/config"
	"github.com/Lllllllleong/documentgateway/internal/models"
	"github.com/Lllllllleong/documentgateway/internal/services"
)

var (
	converterInstance *services.ConverterFunction
	converterOnce     sync.Once
	converterErr      error

	uploadConverterInstance *services.UploadConverterFunction
	uploadOnce              sync.Once
	uploadErr               error
)

func init() {
	// Register the HTTP functions and the storage-triggered CloudEvent function.
	functions.HTTP("ConvertDocument", handleConvert)
	functions.HTTP("Health", handleHealth)
	functions.HTTP("Info", handleInfo)
	functions.CloudEvent("ConvertOnUpload", convertOnUpload)
}

// loadConverter initializes the shared converter exactly once.
func loadConverter() (*services.ConverterFunction, error) {
	converterOnce.Do(func() {
		var cfg *config.Config
		cfg, converterErr = loadConfig()
		if converterErr != nil {
			return
		}
		converterInstance, converterErr = services.NewConverter(context.Background(), cfg)
	})
	return converterInstance, converterErr
}

func loadUploadConverter() (*services.UploadConverterFunction, error) {
	uploadOnce.Do(func() {
		conv, err := loadConverter()
		if err != nil {
			uploadErr = err
			return
		}
		cfg, err := loadConfig()
		if err != nil {
			uploadErr = err
			return
		}
		uploadConverterInstance, uploadErr = services.NewUploadConverter(context.Background(), cfg, conv)
	})
	return uploadConverterInstance, uploadErr
}

func withConverter(next func(*services.ConverterFunction, http.ResponseWriter, *http.Request)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conv, err := loadConverter()
		if err != nil {
			slog.Error("CRITICAL: Converter initialization failed", "error", err)
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusInternalServerError)
			_ = json.NewEncoder(w).Encode(models.ErrorResponse{
				Error:     "failed to initialize service",
				ErrorKind: services.KindInternal,
			})
			return
		}
		next(conv, w, r)
	}
}

var (
	handleConvert = withConverter((*services.ConverterFunction).HandleConvert)
	handleHealth  = withConverter((*services.ConverterFunction).HandleHealth)
	handleInfo    = withConverter((*services.ConverterFunction).HandleInfo)
)

// convertOnUpload is the CloudEvent entry point for objects finalized in the
// input bucket.
func convertOnUpload(ctx context.Context, e cloudevents.Event) error {
	f, err := loadUploadConverter()
	if err != nil {
		slog.Error("Critical error during function initialization", "error", err)
		return err
	}

	var gcsEvent models.GCSEvent
	if err := json.Unmarshal(e.Data(), &gcsEvent); err != nil {
		slog.Error("Failed to unmarshal event data", "error", err, "data", string(e.Data()))
		return fmt.Errorf("json.Unmarshal: %w", err)
	}

	// Returning the error marks the invocation as failed so it is retried.
	_, err = f.Process(ctx, gcsEvent)
	return err
}
