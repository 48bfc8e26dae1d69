package services

import (
	"path/filepath"
	"sort"
	"strings"
)

// supportedFormats are the upload extensions accepted for conversion.
var supportedFormats = map[string]bool{
	".pdf": true, ".doc": true, ".docx": true,
	".ppt": true, ".pptx": true, ".xls": true, ".xlsx": true,
	".png": true, ".jpg": true, ".jpeg": true, ".gif": true, ".bmp": true, ".webp": true,
	".zip": true, ".epub": true,
	".html": true, ".htm": true, ".txt": true, ".md": true,
}

// IsSupportedFormat reports whether filename has an accepted extension.
func IsSupportedFormat(filename string) bool {
	return supportedFormats[strings.ToLower(filepath.Ext(filename))]
}

// SupportedFormats lists the accepted extensions in sorted order.
func SupportedFormats() []string {
	out := make([]string, 0, len(supportedFormats))
	for ext := range supportedFormats {
		out = append(out, ext)
	}
	sort.Strings(out)
	return out
}
