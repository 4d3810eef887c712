//go:build docker

// Package transport's docker-backed surgical fetcher: the surgical path
// (§4.G step 2c) is the one place spec.md treats the acquisition target
// as a less-trusted, policy-gated path ("an allow-listed proxy whose
// budget is strictly capped by policy"). This file runs that single GET
// inside a short-lived, network-only container rather than the host
// process, for deployments that want isolation around it.
//
// Off by default: only compiled in under the "docker" build tag. The
// plain net/http path in transport.go is what every other build uses.
//
// Grounded on the teacher's internal/dispatch/docker.go container
// lifecycle (create, start, wait, capture logs, remove).
package transport

import (
	"bytes"
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
)

// DockerSandboxedFetcher runs one surgical GET per container, using a
// minimal curl image so no host-side HTTP client touches the target.
type DockerSandboxedFetcher struct {
	cli   *client.Client
	Image string
}

// NewDockerSandboxedFetcher connects to the local Docker daemon via the
// standard environment variables (DOCKER_HOST etc).
func NewDockerSandboxedFetcher() (*DockerSandboxedFetcher, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("transport: connecting to docker: %w", err)
	}
	return &DockerSandboxedFetcher{cli: cli, Image: "curlimages/curl:latest"}, nil
}

// Fetch runs `curl -sS -w '\n%{http_code}' <url>` inside a fresh
// container, tears it down, and returns the body and status code.
func (f *DockerSandboxedFetcher) Fetch(ctx context.Context, url string) ([]byte, int, error) {
	cfg := &container.Config{
		Image: f.Image,
		Cmd:   []string{"curl", "-sS", "-w", "\n%{http_code}", url},
		Tty:   false,
	}
	hostCfg := &container.HostConfig{AutoRemove: false, NetworkMode: "bridge"}

	resp, err := f.cli.ContainerCreate(ctx, cfg, hostCfg, nil, nil, "")
	if err != nil {
		return nil, 0, fmt.Errorf("transport: creating sandbox container: %w", err)
	}
	defer f.cli.ContainerRemove(context.Background(), resp.ID, container.RemoveOptions{Force: true})

	if err := f.cli.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		return nil, 0, fmt.Errorf("transport: starting sandbox container: %w", err)
	}

	waitCh, errCh := f.cli.ContainerWait(ctx, resp.ID, container.WaitConditionNotRunning)
	select {
	case err := <-errCh:
		if err != nil {
			return nil, 0, fmt.Errorf("transport: waiting for sandbox container: %w", err)
		}
	case <-waitCh:
	}

	logs, err := f.cli.ContainerLogs(ctx, resp.ID, container.LogsOptions{ShowStdout: true, ShowStderr: true})
	if err != nil {
		return nil, 0, fmt.Errorf("transport: reading sandbox container logs: %w", err)
	}
	defer logs.Close()

	var stdout, stderr bytes.Buffer
	if _, err := stdcopy.StdCopy(&stdout, &stderr, logs); err != nil {
		return nil, 0, fmt.Errorf("transport: demuxing sandbox container logs: %w", err)
	}
	if stderr.Len() > 0 {
		return nil, 0, fmt.Errorf("transport: sandbox curl stderr: %s", strings.TrimSpace(stderr.String()))
	}

	output := stdout.String()
	idx := strings.LastIndexByte(strings.TrimRight(output, "\n"), '\n')
	if idx < 0 {
		return nil, 0, fmt.Errorf("transport: sandbox curl produced no status line")
	}
	body := output[:idx]
	statusText := strings.TrimSpace(output[idx+1:])
	status, err := strconv.Atoi(statusText)
	if err != nil {
		return nil, 0, fmt.Errorf("transport: parsing sandbox curl status %q: %w", statusText, err)
	}

	return []byte(body), status, nil
}
