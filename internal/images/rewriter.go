package images

import (
	"path"
	"regexp"
	"strings"
)

// imageLinkPattern matches ![alt](path). It is deliberately not a markdown
// parser: no nested brackets, reference-style links or HTML <img> tags.
var imageLinkPattern = regexp.MustCompile(`!\[([^\]]*)\]\(([^)]*)\)`)

// ImageReference is one ![alt](path) occurrence in markdown.
type ImageReference struct {
	AltText string
	Path    string
}

// FindReferences returns the image references in markdown in document order.
func FindReferences(markdown string) []ImageReference {
	matches := imageLinkPattern.FindAllStringSubmatch(markdown, -1)
	refs := make([]ImageReference, 0, len(matches))
	for _, m := range matches {
		refs = append(refs, ImageReference{AltText: m[1], Path: m[2]})
	}
	return refs
}

// LinkMap maps a lookup key (bare filename or relative path) to a public URL.
type LinkMap map[string]string

// BuildLinkMap indexes every successful result under both its filename and
// its relative path. Results are applied in order, so when two images share a
// filename the filename key points at the later one.
func BuildLinkMap(results []UploadResult) LinkMap {
	links := make(LinkMap, len(results)*2)
	for _, r := range results {
		if !r.OK() {
			continue
		}
		links[r.Filename] = r.PublicURL
		links[r.RelativePath] = r.PublicURL
	}
	return links
}

// Resolve looks ref up by its basename first and then by ref itself.
func (m LinkMap) Resolve(ref string) (string, bool) {
	if url, ok := m[path.Base(ref)]; ok {
		return url, true
	}
	url, ok := m[ref]
	return url, ok
}

// Rewrite replaces the path of every image link that resolves in links and
// leaves unresolved links byte-for-byte intact. The input is scanned once;
// substituted text is never matched again.
func Rewrite(markdown string, links LinkMap) string {
	if len(links) == 0 {
		return markdown
	}
	matches := imageLinkPattern.FindAllStringSubmatchIndex(markdown, -1)
	if len(matches) == 0 {
		return markdown
	}

	var b strings.Builder
	b.Grow(len(markdown))
	last := 0
	for _, m := range matches {
		ref := ImageReference{AltText: markdown[m[2]:m[3]], Path: markdown[m[4]:m[5]]}
		url, ok := links.Resolve(ref.Path)
		if !ok {
			continue
		}
		b.WriteString(markdown[last:m[0]])
		b.WriteString("![")
		b.WriteString(ref.AltText)
		b.WriteString("](")
		b.WriteString(url)
		b.WriteString(")")
		last = m[1]
	}
	b.WriteString(markdown[last:])
	return b.String()
}
