// Package config loads the gateway configuration from the environment and an
// optional YAML file.
package config

import (
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/viper"
)

// Storage backends.
const (
	BackendMinio = "minio"
	BackendGCS   = "gcs"
)

var knownEngines = map[string]bool{
	"markitdown": true,
	"marker":     true,
	"mineru":     true,
	"container":  true,
	"vertex":     true,
}

// StorageConfig configures the object store images are uploaded to.
type StorageConfig struct {
	Backend       string
	Endpoint      string
	AccessKey     string
	SecretKey     string
	UseSSL        bool
	PublicURL     string
	Bucket        string
	ProjectID     string
	UploadWorkers int
}

// EngineConfig selects and tunes the conversion engine.
type EngineConfig struct {
	Name            string
	Binary          string
	Image           string
	Timeout         time.Duration
	DefaultLanguage string
}

// VertexConfig configures the Vertex AI engine.
type VertexConfig struct {
	ProjectID string
	Region    string
	Model     string
}

// Config is the complete gateway configuration.
type Config struct {
	Port          string
	LogLevel      slog.Level
	MaxUploadSize int64
	Engine        EngineConfig
	Storage       StorageConfig
	Vertex        VertexConfig
	// OutputBucket receives markdown produced by storage-event conversions.
	OutputBucket string
}

// bindings maps config keys to their environment variables and defaults.
// When several variables are listed, the first one set wins.
var bindings = []struct {
	key  string
	envs []string
	def  any
}{
	{"server.port", []string{"PORT"}, "8080"},
	{"log.level", []string{"LOG_LEVEL"}, "info"},
	{"engine.name", []string{"CONVERSION_ENGINE"}, "markitdown"},
	{"engine.binary", []string{"CONVERSION_ENGINE_BINARY"}, ""},
	{"engine.image", []string{"CONVERSION_ENGINE_IMAGE"}, "markitdown:latest"},
	{"engine.timeout", []string{"CONVERSION_TIMEOUT"}, "10m"},
	{"engine.default_language", []string{"CONVERSION_LANGUAGE"}, "en"},
	{"upload.max_size", []string{"MAX_UPLOAD_SIZE"}, "100MB"},
	{"storage.backend", []string{"STORAGE_BACKEND"}, BackendMinio},
	{"storage.endpoint", []string{"MINIO_ENDPOINT"}, "localhost:9000"},
	{"storage.access_key", []string{"MINIO_ACCESS_KEY"}, "minioadmin"},
	{"storage.secret_key", []string{"MINIO_SECRET_KEY"}, "minioadmin"},
	{"storage.use_ssl", []string{"MINIO_USE_SSL", "MINIO_SECURE"}, false},
	{"storage.public_url", []string{"MINIO_PUBLIC_URL"}, "http://localhost:9000"},
	{"storage.bucket", []string{"MINIO_BUCKET", "MINIO_BUCKET_NAME"}, "documents"},
	{"storage.gcs.endpoint", []string{"GCS_ENDPOINT"}, ""},
	{"storage.gcs.public_url", []string{"GCS_PUBLIC_URL"}, ""},
	{"storage.gcs.bucket", []string{"GCS_BUCKET"}, ""},
	{"storage.project_id", []string{"GCS_PROJECT_ID"}, ""},
	{"storage.upload_workers", []string{"IMAGE_UPLOAD_WORKERS"}, 4},
	{"vertex.project_id", []string{"PROJECT_ID"}, ""},
	{"vertex.region", []string{"VERTEX_AI_REGION"}, "us-central1"},
	{"vertex.model", []string{"VERTEX_AI_MODEL"}, "gemini-1.5-pro"},
	{"events.output_bucket", []string{"CONVERTED_MARKDOWN_BUCKET"}, ""},
}

// Bind registers defaults and environment variables on v.
func Bind(v *viper.Viper) {
	for _, b := range bindings {
		v.SetDefault(b.key, b.def)
		_ = v.BindEnv(append([]string{b.key}, b.envs...)...)
	}
}

// Load reads and validates the configuration held by v. Bind must have been
// called on v first.
func Load(v *viper.Viper) (*Config, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(v.GetString("log.level"))); err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", v.GetString("log.level"), err)
	}
	maxSize, err := humanize.ParseBytes(v.GetString("upload.max_size"))
	if err != nil {
		return nil, fmt.Errorf("invalid max upload size %q: %w", v.GetString("upload.max_size"), err)
	}

	cfg := &Config{
		Port:          v.GetString("server.port"),
		LogLevel:      level,
		MaxUploadSize: int64(maxSize),
		Engine: EngineConfig{
			Name:            strings.ToLower(v.GetString("engine.name")),
			Binary:          v.GetString("engine.binary"),
			Image:           v.GetString("engine.image"),
			Timeout:         v.GetDuration("engine.timeout"),
			DefaultLanguage: v.GetString("engine.default_language"),
		},
		Storage: StorageConfig{
			Backend:       strings.ToLower(v.GetString("storage.backend")),
			Endpoint:      v.GetString("storage.endpoint"),
			AccessKey:     v.GetString("storage.access_key"),
			SecretKey:     v.GetString("storage.secret_key"),
			UseSSL:        v.GetBool("storage.use_ssl"),
			PublicURL:     v.GetString("storage.public_url"),
			Bucket:        v.GetString("storage.bucket"),
			ProjectID:     v.GetString("storage.project_id"),
			UploadWorkers: v.GetInt("storage.upload_workers"),
		},
		Vertex: VertexConfig{
			ProjectID: v.GetString("vertex.project_id"),
			Region:    v.GetString("vertex.region"),
			Model:     v.GetString("vertex.model"),
		},
		OutputBucket: v.GetString("events.output_bucket"),
	}
	if cfg.Storage.Backend == BackendGCS {
		// The MinIO endpoint and public URL defaults do not apply to GCS.
		cfg.Storage.Endpoint = v.GetString("storage.gcs.endpoint")
		cfg.Storage.PublicURL = v.GetString("storage.gcs.public_url")
		if bucket := v.GetString("storage.gcs.bucket"); bucket != "" {
			cfg.Storage.Bucket = bucket
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate reports configuration mistakes that make the deployment unusable.
func (c *Config) Validate() error {
	if !knownEngines[c.Engine.Name] {
		return fmt.Errorf("unknown conversion engine %q", c.Engine.Name)
	}
	if c.Engine.Timeout <= 0 {
		return fmt.Errorf("conversion timeout must be positive, got %s", c.Engine.Timeout)
	}
	if c.MaxUploadSize <= 0 {
		return fmt.Errorf("max upload size must be positive")
	}
	if c.Engine.Name == "vertex" && c.Vertex.ProjectID == "" {
		return fmt.Errorf("PROJECT_ID must be set for the vertex engine")
	}
	if c.Storage.Bucket == "" {
		return fmt.Errorf("storage bucket must be set")
	}
	if c.Storage.UploadWorkers <= 0 {
		return fmt.Errorf("image upload workers must be positive, got %d", c.Storage.UploadWorkers)
	}
	if c.Storage.PublicURL != "" {
		u, err := url.Parse(c.Storage.PublicURL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("malformed storage public url %q", c.Storage.PublicURL)
		}
	}

	switch c.Storage.Backend {
	case BackendMinio:
		return validateHostPort(c.Storage.Endpoint)
	case BackendGCS:
		if c.Storage.Endpoint != "" {
			u, err := url.Parse(c.Storage.Endpoint)
			if err != nil || u.Scheme == "" || u.Host == "" {
				return fmt.Errorf("malformed GCS endpoint %q: must be an absolute URL", c.Storage.Endpoint)
			}
		}
		return nil
	default:
		return fmt.Errorf("unknown storage backend %q", c.Storage.Backend)
	}
}

// validateHostPort accepts host or host:port without scheme or path.
func validateHostPort(endpoint string) error {
	if endpoint == "" {
		return fmt.Errorf("storage endpoint must be set")
	}
	if strings.Contains(endpoint, "://") || strings.ContainsAny(endpoint, "/?#") {
		return fmt.Errorf("malformed storage endpoint %q: expected host[:port]", endpoint)
	}
	host := endpoint
	if strings.Contains(endpoint, ":") {
		h, _, err := net.SplitHostPort(endpoint)
		if err != nil {
			return fmt.Errorf("malformed storage endpoint %q: %w", endpoint, err)
		}
		host = h
	}
	if host == "" {
		return fmt.Errorf("malformed storage endpoint %q: missing host", endpoint)
	}
	return nil
}
