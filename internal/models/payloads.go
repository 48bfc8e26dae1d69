package models

// These structs define the JSON payloads exchanged with HTTP clients and the
// storage events delivered to the upload-triggered conversion.

// ConvertMetadata describes a finished conversion.
type ConvertMetadata struct {
	Filename       string `json:"filename"`
	FileSize       int64  `json:"file_size"`
	Engine         string `json:"engine"`
	Language       string `json:"language"`
	DocumentID     string `json:"document_id,omitempty"`
	PageCount      int    `json:"page_count,omitempty"`
	ImagesFound    int    `json:"images_found"`
	ImagesUploaded int    `json:"images_uploaded"`
	ImagesFailed   int    `json:"images_failed"`
}

// ConvertResponse is returned by the ConvertDocument function on success.
type ConvertResponse struct {
	Success bool   `json:"success"`
	Content string `json:"content"`
	// ProcessingTime is the wall time of the request in seconds.
	ProcessingTime float64         `json:"processing_time"`
	Metadata       ConvertMetadata `json:"metadata"`
}

// ErrorResponse is the envelope for every failed request.
type ErrorResponse struct {
	Success   bool   `json:"success"`
	Error     string `json:"error"`
	ErrorKind string `json:"error_kind"`
}

// HealthResponse reports whether the conversion engine is usable.
type HealthResponse struct {
	Status string `json:"status"`
	Engine string `json:"engine"`
	Ready  bool   `json:"ready"`
	Error  string `json:"error,omitempty"`
}

// InfoResponse describes the running service.
type InfoResponse struct {
	Service          string   `json:"service"`
	Version          string   `json:"version"`
	Engine           string   `json:"engine"`
	StorageBackend   string   `json:"storage_backend"`
	Bucket           string   `json:"bucket"`
	SupportedFormats []string `json:"supported_formats"`
	MaxUploadSize    string   `json:"max_upload_size"`
}

// GCSEvent is the payload of a storage object-finalized event.
type GCSEvent struct {
	Bucket      string `json:"bucket"`
	Name        string `json:"name"`
	ContentType string `json:"contentType,omitempty"`
}

// UploadConversionResult records where an event-driven conversion was saved.
type UploadConversionResult struct {
	DocumentID   string `json:"documentId"`
	OutputGCSUri string `json:"outputGcsUri"`
	Written      bool   `json:"written"`
}
