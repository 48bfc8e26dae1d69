package engine

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
)

const (
	binDocker = "docker"
	binPodman = "podman"
)

// containerRuntime wraps docker or podman. They differ only in the binary and
// the subcommand used to check for a local image.
type containerRuntime struct {
	bin           string
	imageCheckCmd []string
	exec          executor
}

func (r *containerRuntime) available(ctx context.Context) bool {
	if _, err := r.exec.LookPath(r.bin); err != nil {
		return false
	}
	return r.exec.Run(ctx, r.bin, []string{"info"}, nil, io.Discard, io.Discard) == nil
}

func (r *containerRuntime) imageExists(ctx context.Context, image string) error {
	args := append(append([]string{}, r.imageCheckCmd...), image)
	if err := r.exec.Run(ctx, r.bin, args, nil, io.Discard, io.Discard); err != nil {
		return fmt.Errorf("image %s not found in %s: %w", image, r.bin, err)
	}
	return nil
}

func detectRuntime(ctx context.Context, exec executor) (*containerRuntime, error) {
	candidates := []*containerRuntime{
		{bin: binDocker, imageCheckCmd: []string{"image", "inspect"}, exec: exec},
		{bin: binPodman, imageCheckCmd: []string{"image", "exists"}, exec: exec},
	}
	for _, rt := range candidates {
		if rt.available(ctx) {
			return rt, nil
		}
	}
	return nil, fmt.Errorf("no container runtime available: neither %s nor %s found or operational", binDocker, binPodman)
}

// ContainerEngine pipes documents through a converter image (markitdown by
// default) using docker, or podman when docker is unavailable.
type ContainerEngine struct {
	image string
	exec  executor

	mu      sync.Mutex
	runtime *containerRuntime
}

// NewContainerEngine returns an engine running image. The runtime is
// detected during Warmup.
func NewContainerEngine(image string) *ContainerEngine {
	return &ContainerEngine{image: image, exec: defaultExec}
}

func (c *ContainerEngine) Name() string { return NameContainer }

// Warmup detects the container runtime and verifies the image is present.
func (c *ContainerEngine) Warmup(ctx context.Context) error {
	rt, err := detectRuntime(ctx, c.exec)
	if err != nil {
		return err
	}
	if err := rt.imageExists(ctx, c.image); err != nil {
		return err
	}
	c.mu.Lock()
	c.runtime = rt
	c.mu.Unlock()
	return nil
}

func (c *ContainerEngine) Convert(ctx context.Context, req Request) (*Result, error) {
	c.mu.Lock()
	rt := c.runtime
	c.mu.Unlock()
	if rt == nil {
		var err error
		if rt, err = detectRuntime(ctx, c.exec); err != nil {
			return nil, err
		}
	}

	f, err := openSource(req.SourcePath)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var stdout, stderr bytes.Buffer
	args := []string{"run", "--rm", "-i", c.image}
	if err := rt.exec.Run(ctx, rt.bin, args, f, &stdout, &stderr); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("%s container interrupted: %w", rt.bin, ctxErr)
		}
		return nil, fmt.Errorf("running %s container %s: %w%s", rt.bin, c.image, err, stderrSuffix(stderr.String()))
	}
	if strings.TrimSpace(stdout.String()) == "" {
		return nil, fmt.Errorf("%s: %w", c.image, ErrEmptyOutput)
	}
	return &Result{Markdown: stdout.String()}, nil
}
