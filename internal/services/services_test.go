package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Lllllllleong/documentgateway/internal/config"
	"github.com/Lllllllleong/documentgateway/internal/engine"
	"github.com/Lllllllleong/documentgateway/internal/images"
	"github.com/Lllllllleong/documentgateway/internal/models"
)

// fakeEngine writes markdown and optional images into the output directory.
type fakeEngine struct {
	markdown  string
	images    []string
	err       error
	block     bool
	warmupErr error
}

func (e *fakeEngine) Name() string                     { return "fake" }
func (e *fakeEngine) Warmup(ctx context.Context) error { return e.warmupErr }

func (e *fakeEngine) Convert(ctx context.Context, req engine.Request) (*engine.Result, error) {
	if e.block {
		<-ctx.Done()
		return nil, fmt.Errorf("fake interrupted: %w", ctx.Err())
	}
	if e.err != nil {
		return nil, e.err
	}
	for _, rel := range e.images {
		p := filepath.Join(req.OutputDir, filepath.FromSlash(rel))
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			return nil, err
		}
		if err := os.WriteFile(p, []byte("img"), 0o644); err != nil {
			return nil, err
		}
	}
	return &engine.Result{Markdown: e.markdown, ImageRoot: req.OutputDir}, nil
}

// memStore is an images.Store that accepts every upload.
type memStore struct {
	mu   sync.Mutex
	keys []string
}

func (s *memStore) BucketExists(ctx context.Context, bucket string) (bool, error) { return true, nil }
func (s *memStore) MakeBucket(ctx context.Context, bucket string) error           { return nil }
func (s *memStore) PutFile(ctx context.Context, bucket, key, path, contentType string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.keys = append(s.keys, key)
	return nil
}
func (s *memStore) PublicURL(bucket, key string) string {
	return images.JoinPublicURL("https://store", bucket, key)
}

func testConfig() *config.Config {
	return &config.Config{
		MaxUploadSize: 1 << 20,
		Engine:        config.EngineConfig{Name: "fake", Timeout: time.Second, DefaultLanguage: "en"},
		Storage:       config.StorageConfig{Backend: config.BackendMinio, Bucket: "bucket", UploadWorkers: 2},
	}
}

func newTestConverter(t *testing.T, eng engine.Engine, cfg *config.Config) (*ConverterFunction, *memStore) {
	t.Helper()
	store := &memStore{}
	pipeline, err := images.NewPipeline(func(ctx context.Context) (images.Store, error) { return store, nil }, cfg.Storage.Bucket, 2)
	require.NoError(t, err)
	return NewConverterWith(cfg, eng, pipeline), store
}

func multipartRequest(t *testing.T, filename string, content []byte, fields map[string]string) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	if filename != "" {
		part, err := mw.CreateFormFile("file", filename)
		require.NoError(t, err)
		_, err = part.Write(content)
		require.NoError(t, err)
	}
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/ConvertDocument", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func TestHandleConvertRewritesImages(t *testing.T) {
	eng := &fakeEngine{
		markdown: "See ![chart](chart.png) and ![logo](images/logo.png) and ![x](missing.png)",
		images:   []string{"chart.png", "images/logo.png"},
	}
	f, store := newTestConverter(t, eng, testConfig())

	rec := httptest.NewRecorder()
	f.HandleConvert(rec, multipartRequest(t, "report.docx", []byte("docx bytes"), map[string]string{"documentId": "doc1", "language": "fr"}))

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var resp models.ConvertResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
	assert.Equal(t, "See ![chart](https://store/bucket/documents/doc1/images/chart.png) and "+
		"![logo](https://store/bucket/documents/doc1/images/logo.png) and ![x](missing.png)", resp.Content)
	assert.Equal(t, "report.docx", resp.Metadata.Filename)
	assert.Equal(t, int64(10), resp.Metadata.FileSize)
	assert.Equal(t, "fr", resp.Metadata.Language)
	assert.Equal(t, "doc1", resp.Metadata.DocumentID)
	assert.Equal(t, 2, resp.Metadata.ImagesFound)
	assert.Equal(t, 2, resp.Metadata.ImagesUploaded)
	assert.Zero(t, resp.Metadata.ImagesFailed)
	assert.ElementsMatch(t, []string{"documents/doc1/images/chart.png", "documents/doc1/images/logo.png"}, store.keys)
}

func TestHandleConvertWithoutDocumentIDPassesThrough(t *testing.T) {
	md := "See ![chart](chart.png)"
	f, store := newTestConverter(t, &fakeEngine{markdown: md, images: []string{"chart.png"}}, testConfig())

	rec := httptest.NewRecorder()
	f.HandleConvert(rec, multipartRequest(t, "slides.pptx", []byte("pptx"), nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var resp models.ConvertResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, md, resp.Content)
	assert.Equal(t, "en", resp.Metadata.Language)
	assert.Empty(t, store.keys)
}

func TestHandleConvertErrors(t *testing.T) {
	tests := []struct {
		name     string
		engine   *fakeEngine
		cfg      func(*config.Config)
		request  func(t *testing.T) *http.Request
		wantCode int
		wantKind string
	}{
		{
			name:   "missing file",
			engine: &fakeEngine{markdown: "x"},
			request: func(t *testing.T) *http.Request {
				return multipartRequest(t, "", nil, map[string]string{"documentId": "d"})
			},
			wantCode: http.StatusBadRequest,
			wantKind: KindInvalidInput,
		},
		{
			name:   "unsupported type",
			engine: &fakeEngine{markdown: "x"},
			request: func(t *testing.T) *http.Request {
				return multipartRequest(t, "virus.exe", []byte("MZ"), nil)
			},
			wantCode: http.StatusBadRequest,
			wantKind: KindInvalidInput,
		},
		{
			name:   "empty file",
			engine: &fakeEngine{markdown: "x"},
			request: func(t *testing.T) *http.Request {
				return multipartRequest(t, "a.docx", nil, nil)
			},
			wantCode: http.StatusBadRequest,
			wantKind: KindInvalidInput,
		},
		{
			name:   "invalid pdf",
			engine: &fakeEngine{markdown: "x"},
			request: func(t *testing.T) *http.Request {
				return multipartRequest(t, "broken.pdf", []byte("definitely not a pdf"), nil)
			},
			wantCode: http.StatusBadRequest,
			wantKind: KindInvalidInput,
		},
		{
			name:   "wrong method",
			engine: &fakeEngine{markdown: "x"},
			request: func(t *testing.T) *http.Request {
				return httptest.NewRequest(http.MethodGet, "/ConvertDocument", nil)
			},
			wantCode: http.StatusBadRequest,
			wantKind: KindInvalidInput,
		},
		{
			name:   "file too large",
			engine: &fakeEngine{markdown: "x"},
			cfg:    func(c *config.Config) { c.MaxUploadSize = 8 },
			request: func(t *testing.T) *http.Request {
				return multipartRequest(t, "a.docx", bytes.Repeat([]byte("a"), 64), nil)
			},
			wantCode: http.StatusBadRequest,
			wantKind: KindInvalidInput,
		},
		{
			name:   "engine failure",
			engine: &fakeEngine{err: errors.New("segfault")},
			request: func(t *testing.T) *http.Request {
				return multipartRequest(t, "a.docx", []byte("docx"), nil)
			},
			wantCode: http.StatusInternalServerError,
			wantKind: KindInternal,
		},
		{
			name:   "engine timeout",
			engine: &fakeEngine{block: true},
			cfg:    func(c *config.Config) { c.Engine.Timeout = 20 * time.Millisecond },
			request: func(t *testing.T) *http.Request {
				return multipartRequest(t, "a.docx", []byte("docx"), nil)
			},
			wantCode: http.StatusGatewayTimeout,
			wantKind: KindTimeout,
		},
		{
			name:   "engine rejects type",
			engine: &fakeEngine{err: fmt.Errorf("vertex: %w", engine.ErrUnsupportedInput)},
			request: func(t *testing.T) *http.Request {
				return multipartRequest(t, "a.xlsx", []byte("xlsx"), nil)
			},
			wantCode: http.StatusBadRequest,
			wantKind: KindInvalidInput,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig()
			if tt.cfg != nil {
				tt.cfg(cfg)
			}
			f, _ := newTestConverter(t, tt.engine, cfg)

			rec := httptest.NewRecorder()
			f.HandleConvert(rec, tt.request(t))

			assert.Equal(t, tt.wantCode, rec.Code, rec.Body.String())
			var resp models.ErrorResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
			assert.False(t, resp.Success)
			assert.Equal(t, tt.wantKind, resp.ErrorKind)
			assert.NotEmpty(t, resp.Error)
		})
	}
}

func TestHandleHealth(t *testing.T) {
	eng := &fakeEngine{warmupErr: errors.New("marker_single not found")}
	f, _ := newTestConverter(t, eng, testConfig())

	rec := httptest.NewRecorder()
	f.HandleHealth(rec, httptest.NewRequest(http.MethodGet, "/Health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	var resp models.HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "warming", resp.Status)
	assert.False(t, resp.Ready)

	f.Readiness().Run(context.Background(), eng)
	rec = httptest.NewRecorder()
	f.HandleHealth(rec, httptest.NewRequest(http.MethodGet, "/Health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "unavailable", resp.Status)
	assert.Contains(t, resp.Error, "marker_single")

	ok, _ := newTestConverter(t, &fakeEngine{}, testConfig())
	ok.Readiness().Run(context.Background(), &fakeEngine{})
	rec = httptest.NewRecorder()
	ok.HandleHealth(rec, httptest.NewRequest(http.MethodGet, "/Health", nil))
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.True(t, resp.Ready)
}

func TestHandleInfo(t *testing.T) {
	f, _ := newTestConverter(t, &fakeEngine{}, testConfig())
	rec := httptest.NewRecorder()
	f.HandleInfo(rec, httptest.NewRequest(http.MethodGet, "/Info", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var resp models.InfoResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "document-gateway", resp.Service)
	assert.Equal(t, "fake", resp.Engine)
	assert.Equal(t, "bucket", resp.Bucket)
	assert.Equal(t, "1.0 MB", resp.MaxUploadSize)
	assert.Contains(t, resp.SupportedFormats, ".pdf")
	assert.Contains(t, resp.SupportedFormats, ".docx")
}

func TestClassify(t *testing.T) {
	tests := []struct {
		err      error
		wantCode int
		wantKind string
	}{
		{fmt.Errorf("%w: x", ErrInvalidInput), http.StatusBadRequest, KindInvalidInput},
		{fmt.Errorf("%w after 1s", ErrTimeout), http.StatusGatewayTimeout, KindTimeout},
		{fmt.Errorf("wrapped: %w", context.DeadlineExceeded), http.StatusGatewayTimeout, KindTimeout},
		{errors.New("boom"), http.StatusInternalServerError, KindInternal},
	}
	for _, tt := range tests {
		code, kind := classify(tt.err)
		assert.Equal(t, tt.wantCode, code, tt.err.Error())
		assert.Equal(t, tt.wantKind, kind, tt.err.Error())
	}
}

func TestSanitizeFilename(t *testing.T) {
	assert.Equal(t, "a.pdf", sanitizeFilename("../../etc/a.pdf"))
	assert.Equal(t, "b.docx", sanitizeFilename(`C:\Users\me\b.docx`))
	assert.Equal(t, "document", sanitizeFilename(""))
}

// fakeObjects serves downloads from memory and records saves.
type fakeObjects struct {
	content []byte
	saved   map[string]string
	exists  bool
}

func (o *fakeObjects) Download(ctx context.Context, bucket, object, destPath string) error {
	return os.WriteFile(destPath, o.content, 0o644)
}

func (o *fakeObjects) SaveIfAbsent(ctx context.Context, bucket, object, content string) (bool, error) {
	if o.exists {
		return false, nil
	}
	if o.saved == nil {
		o.saved = map[string]string{}
	}
	o.saved[bucket+"/"+object] = content
	return true, nil
}

func TestUploadConverterProcess(t *testing.T) {
	eng := &fakeEngine{markdown: "![f](fig.png)", images: []string{"fig.png"}}
	conv, store := newTestConverter(t, eng, testConfig())
	objects := &fakeObjects{content: []byte("docx")}
	f := &UploadConverterFunction{converter: conv, objects: objects, outputBucket: "converted"}

	res, err := f.Process(context.Background(), models.GCSEvent{Bucket: "incoming", Name: "reports/2024/q1.docx"})
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.Equal(t, "reports-2024-q1", res.DocumentID)
	assert.Equal(t, "gs://converted/reports-2024-q1/document.md", res.OutputGCSUri)
	assert.True(t, res.Written)
	assert.Equal(t, "![f](https://store/bucket/documents/reports-2024-q1/images/fig.png)",
		objects.saved["converted/reports-2024-q1/document.md"])
	assert.Equal(t, []string{"documents/reports-2024-q1/images/fig.png"}, store.keys)
}

func TestUploadConverterSkips(t *testing.T) {
	conv, _ := newTestConverter(t, &fakeEngine{markdown: "x"}, testConfig())
	objects := &fakeObjects{content: []byte("docx"), exists: true}
	f := &UploadConverterFunction{converter: conv, objects: objects, outputBucket: "converted"}

	res, err := f.Process(context.Background(), models.GCSEvent{Bucket: "incoming", Name: "notes.exe"})
	assert.NoError(t, err)
	assert.Nil(t, res)

	res, err = f.Process(context.Background(), models.GCSEvent{Bucket: "converted", Name: "a/document.md"})
	assert.NoError(t, err)
	assert.Nil(t, res)

	res, err = f.Process(context.Background(), models.GCSEvent{Bucket: "incoming", Name: "a.docx"})
	require.NoError(t, err)
	assert.False(t, res.Written)
}

func TestEventDocumentID(t *testing.T) {
	assert.Equal(t, "report", eventDocumentID("report.pdf"))
	assert.Equal(t, "a-b-c", eventDocumentID("a/b/c.docx"))
	assert.Equal(t, "archive.tar", eventDocumentID("archive.tar.zip"))
}
