// Package images uploads the side-car images a conversion engine extracted
// and rewrites the markdown image links to point at the stored copies.
package images

import (
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// maxScanDepth bounds how deep Discover descends below the scan root.
const maxScanDepth = 16

// imageExtensions is the set of extensions Discover recognizes.
var imageExtensions = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
	".gif":  true,
	".bmp":  true,
	".webp": true,
}

// DiscoveredImage is an image file found under the scan root.
type DiscoveredImage struct {
	AbsolutePath string
	Filename     string
	// RelativePath is relative to the scan root and always uses forward slashes.
	RelativePath string
}

// IsImage reports whether name carries a recognized image extension.
func IsImage(name string) bool {
	return imageExtensions[strings.ToLower(filepath.Ext(name))]
}

// Discover walks root recursively and returns every image file below it,
// sorted by relative path. A missing or unreadable root yields no images.
func Discover(root string) []DiscoveredImage {
	if root == "" {
		return nil
	}
	info, err := os.Stat(root)
	if err != nil || !info.IsDir() {
		return nil
	}

	var found []DiscoveredImage
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			// Unreadable subtrees are skipped rather than failing the scan.
			slog.Debug("Skipping unreadable path during image discovery.", "path", path, "error", err)
			if d != nil && d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		rel, relErr := filepath.Rel(root, path)
		if relErr != nil {
			return nil
		}
		if d.IsDir() {
			if rel != "." && depth(rel) > maxScanDepth {
				return fs.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() || !IsImage(d.Name()) {
			return nil
		}
		found = append(found, DiscoveredImage{
			AbsolutePath: path,
			Filename:     d.Name(),
			RelativePath: filepath.ToSlash(rel),
		})
		return nil
	})
	if err != nil {
		slog.Warn("Image discovery stopped early.", "root", root, "error", err)
	}

	sort.Slice(found, func(i, j int) bool {
		return found[i].RelativePath < found[j].RelativePath
	})
	return found
}

func depth(rel string) int {
	return strings.Count(filepath.ToSlash(rel), "/") + 1
}
