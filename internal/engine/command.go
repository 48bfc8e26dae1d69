package engine

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
)

// executor abstracts process execution for testing.
type executor interface {
	LookPath(file string) (string, error)
	Run(ctx context.Context, name string, args []string, stdin io.Reader, stdout, stderr io.Writer) error
}

// osExecutor is the production executor backed by os/exec.
type osExecutor struct{}

func (osExecutor) LookPath(file string) (string, error) {
	return exec.LookPath(file)
}

func (osExecutor) Run(ctx context.Context, name string, args []string, stdin io.Reader, stdout, stderr io.Writer) error {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdin = stdin
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	return cmd.Run()
}

var defaultExec executor = osExecutor{}

// commandPreset describes how to drive one converter CLI. Arguments may use
// the placeholders {input}, {output} and {lang}.
type commandPreset struct {
	binary string
	args   []string
	// fromStdout is set when markdown is printed rather than written to {output}.
	fromStdout bool
}

var presets = map[string]commandPreset{
	NameMarkitdown: {binary: "markitdown", args: []string{"{input}"}, fromStdout: true},
	NameMarker:     {binary: "marker_single", args: []string{"{input}", "--output_dir", "{output}"}},
	NameMineru:     {binary: "magic-pdf", args: []string{"-p", "{input}", "-o", "{output}", "-m", "auto", "-l", "{lang}"}},
}

// CommandEngine runs a converter CLI as a subprocess.
type CommandEngine struct {
	name   string
	binary string
	preset commandPreset
	exec   executor
}

// NewCommandEngine returns the subprocess engine registered under name.
// binary overrides the preset's executable when non-empty.
func NewCommandEngine(name, binary string) (*CommandEngine, error) {
	return newCommandEngine(name, binary, defaultExec)
}

func newCommandEngine(name, binary string, exec executor) (*CommandEngine, error) {
	preset, ok := presets[name]
	if !ok {
		return nil, fmt.Errorf("unknown command engine %q", name)
	}
	if binary == "" {
		binary = preset.binary
	}
	return &CommandEngine{name: name, binary: binary, preset: preset, exec: exec}, nil
}

func (c *CommandEngine) Name() string { return c.name }

// Warmup checks that the converter binary is on PATH.
func (c *CommandEngine) Warmup(ctx context.Context) error {
	if _, err := c.exec.LookPath(c.binary); err != nil {
		return fmt.Errorf("%s binary %q not found: %w", c.name, c.binary, err)
	}
	return nil
}

func (c *CommandEngine) Convert(ctx context.Context, req Request) (*Result, error) {
	args := expandArgs(c.preset.args, req)

	var stdout, stderr bytes.Buffer
	if err := c.exec.Run(ctx, c.binary, args, nil, &stdout, &stderr); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("%s interrupted: %w", c.name, ctxErr)
		}
		return nil, fmt.Errorf("running %s: %w%s", c.binary, err, stderrSuffix(stderr.String()))
	}

	if c.preset.fromStdout {
		if strings.TrimSpace(stdout.String()) == "" {
			return nil, fmt.Errorf("%s: %w", c.name, ErrEmptyOutput)
		}
		return &Result{Markdown: stdout.String()}, nil
	}

	md, err := readMarkdownOutput(req.OutputDir)
	if err != nil {
		return nil, err
	}
	return &Result{Markdown: md, ImageRoot: req.OutputDir}, nil
}

func expandArgs(tmpl []string, req Request) []string {
	r := strings.NewReplacer("{input}", req.SourcePath, "{output}", req.OutputDir, "{lang}", req.Language)
	args := make([]string, len(tmpl))
	for i, a := range tmpl {
		args[i] = r.Replace(a)
	}
	return args
}

const maxStderr = 512

func stderrSuffix(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	if len(s) > maxStderr {
		s = "..." + s[len(s)-maxStderr:]
	}
	return ": " + s
}

// openSource opens the document for engines that stream it.
func openSource(path string) (*os.File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening source document %s: %w", path, err)
	}
	return f, nil
}
