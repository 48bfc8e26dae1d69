package engine

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"cloud.google.com/go/vertexai/genai"
)

// ErrUnsupportedInput is returned when an engine cannot accept the document type.
var ErrUnsupportedInput = errors.New("document type not supported by engine")

// VertexUserPrompt accompanies every document sent to the model.
const VertexUserPrompt = `Convert the attached document into markdown.

Keep all text, lists and tables. Render tables as markdown tables. Describe figures in one sentence of plain text.
Return ONLY the markdown. Do not wrap it in backtick fences.`

// vertexMIMETypes lists the inputs the model accepts inline.
var vertexMIMETypes = map[string]string{
	".pdf":  "application/pdf",
	".png":  "image/png",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".webp": "image/webp",
	".txt":  "text/plain",
	".html": "text/html",
	".htm":  "text/html",
	".md":   "text/plain",
}

var refusalPhrases = []string{
	"i am unable to",
	"i cannot fulfill",
	"i cannot answer",
	"i cannot provide",
	"as a large language model",
}

// contentGenerator is satisfied by *genai.GenerativeModel.
type contentGenerator interface {
	GenerateContent(ctx context.Context, parts ...genai.Part) (*genai.GenerateContentResponse, error)
}

// VertexEngine converts documents with a Gemini model on Vertex AI.
type VertexEngine struct {
	model contentGenerator
}

// NewVertexEngine returns an engine backed by model.
func NewVertexEngine(model *genai.GenerativeModel) *VertexEngine {
	return &VertexEngine{model: model}
}

func (v *VertexEngine) Name() string { return NameVertex }

// Warmup is a no-op: the model is hosted remotely.
func (v *VertexEngine) Warmup(ctx context.Context) error { return nil }

func (v *VertexEngine) Convert(ctx context.Context, req Request) (*Result, error) {
	ext := strings.ToLower(filepath.Ext(req.SourcePath))
	mimeType, ok := vertexMIMETypes[ext]
	if !ok {
		return nil, fmt.Errorf("%s: %q: %w", NameVertex, ext, ErrUnsupportedInput)
	}
	data, err := os.ReadFile(req.SourcePath)
	if err != nil {
		return nil, fmt.Errorf("reading source document %s: %w", req.SourcePath, err)
	}

	prompt := VertexUserPrompt
	if req.Language != "" {
		prompt += "\nThe document language is " + req.Language + "."
	}
	resp, err := v.model.GenerateContent(ctx, genai.Blob{MIMEType: mimeType, Data: data}, genai.Text(prompt))
	if err != nil {
		return nil, fmt.Errorf("failed to generate content from gemini: %w", err)
	}

	md := extractMarkdown(resp)
	lower := strings.ToLower(md)
	for _, phrase := range refusalPhrases {
		if strings.Contains(lower, phrase) {
			return nil, fmt.Errorf("gemini response indicates refusal to convert %s", filepath.Base(req.SourcePath))
		}
	}
	if md == "" {
		return nil, fmt.Errorf("%s: %w", NameVertex, ErrEmptyOutput)
	}
	return &Result{Markdown: md}, nil
}

// extractMarkdown concatenates the text parts of the first candidate and
// strips a surrounding markdown fence.
func extractMarkdown(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil || len(resp.Candidates[0].Content.Parts) == 0 {
		return ""
	}

	var b strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if txt, ok := part.(genai.Text); ok {
			b.WriteString(string(txt))
		}
	}

	s := strings.TrimSpace(b.String())
	s = strings.TrimPrefix(s, "```markdown")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}
