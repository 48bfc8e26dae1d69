// Package engine adapts external document-to-markdown converters. Engines are
// black boxes: they take a source document and produce markdown plus,
// optionally, a directory of extracted images.
package engine

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Engine names accepted in configuration.
const (
	NameMarkitdown = "markitdown"
	NameMarker     = "marker"
	NameMineru     = "mineru"
	NameContainer  = "container"
	NameVertex     = "vertex"
)

// ErrEmptyOutput is returned when an engine finished but produced no markdown.
var ErrEmptyOutput = errors.New("conversion produced empty output")

// Request describes one conversion.
type Request struct {
	SourcePath string
	// OutputDir is an empty, writable directory the engine may fill.
	OutputDir string
	Language  string
}

// Result is what an engine produced.
type Result struct {
	Markdown string
	// ImageRoot is where extracted images were written, or "" if none.
	ImageRoot string
}

// Engine converts documents to markdown.
type Engine interface {
	Name() string
	// Warmup verifies that the engine can run. It is called once at startup.
	Warmup(ctx context.Context) error
	Convert(ctx context.Context, req Request) (*Result, error)
}

// readMarkdownOutput returns the content of the first .md file under dir, in
// lexicographic path order.
func readMarkdownOutput(dir string) (string, error) {
	var candidates []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && strings.EqualFold(filepath.Ext(path), ".md") {
			candidates = append(candidates, path)
		}
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("scanning engine output %s: %w", dir, err)
	}
	if len(candidates) == 0 {
		return "", fmt.Errorf("no markdown file in %s: %w", dir, ErrEmptyOutput)
	}
	sort.Strings(candidates)
	data, err := os.ReadFile(candidates[0])
	if err != nil {
		return "", fmt.Errorf("reading engine output %s: %w", candidates[0], err)
	}
	if strings.TrimSpace(string(data)) == "" {
		return "", fmt.Errorf("%s: %w", candidates[0], ErrEmptyOutput)
	}
	return string(data), nil
}
