package docker

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/dontdude/walq/internal/domain"
)

// DefaultImage runs payloads when no image is configured.
const DefaultImage = "alpine:3"

// Client wraps the official Docker SDK client and runs each job payload as a
// shell command in a throwaway container.
type Client struct {
	cli      client.APIClient
	image    string
	memLimit int64
}

// Check if Client implements domain.Runner
var _ domain.Runner = (*Client)(nil)

// NewClient connects to the Docker daemon from the environment and pings it.
// memLimit caps container memory in bytes; 0 leaves it unlimited.
func NewClient(ctx context.Context, imageName string, memLimit int64) (*Client, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("failed to create docker client: %w", err)
	}
	if _, err := cli.Ping(ctx); err != nil {
		cli.Close()
		return nil, fmt.Errorf("failed to connect to docker daemon: %w", err)
	}
	if imageName == "" {
		imageName = DefaultImage
	}

	slog.Info("Docker client initialized", "image", imageName)
	return newClient(cli, imageName, memLimit), nil
}

func newClient(cli client.APIClient, imageName string, memLimit int64) *Client {
	if imageName == "" {
		imageName = DefaultImage
	}
	return &Client{cli: cli, image: imageName, memLimit: memLimit}
}

// Pull fetches the runner image so the first job does not pay for it.
func (c *Client) Pull(ctx context.Context) error {
	slog.Info("Pulling image", "image", c.image)
	reader, err := c.cli.ImagePull(ctx, c.image, image.PullOptions{})
	if err != nil {
		return fmt.Errorf("failed to pull image: %w", err)
	}
	// Drain the response body to ensure the pull completes properly.
	defer reader.Close()
	_, err = io.Copy(io.Discard, reader)
	return err
}

// Run executes job.Payload with "sh -c" and returns the combined output.
// A non-zero exit status is an error.
func (c *Client) Run(ctx context.Context, job domain.Job) (string, error) {
	resp, err := c.cli.ContainerCreate(ctx, &container.Config{
		Image:  c.image,
		Cmd:    []string{"sh", "-c", job.Payload},
		Labels: map[string]string{"walq.job": fmt.Sprint(job.ID)},
	}, &container.HostConfig{
		Resources: container.Resources{
			Memory: c.memLimit,
		},
	}, nil, nil, "")
	if err != nil {
		return "", fmt.Errorf("failed to create container: %w", err)
	}
	defer func() {
		// Remove with a fresh context: ctx may already be cancelled.
		if err := c.cli.ContainerRemove(context.Background(), resp.ID, container.RemoveOptions{Force: true}); err != nil {
			slog.Warn("Failed to remove container", "containerID", resp.ID, "error", err)
		}
	}()

	if err := c.cli.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		return "", fmt.Errorf("failed to start container: %w", err)
	}

	var exitCode int64
	statusCh, errCh := c.cli.ContainerWait(ctx, resp.ID, container.WaitConditionNotRunning)
	select {
	case err := <-errCh:
		if err != nil {
			return "", fmt.Errorf("failed waiting for container: %w", err)
		}
	case status := <-statusCh:
		if status.Error != nil {
			return "", fmt.Errorf("container wait: %s", status.Error.Message)
		}
		exitCode = status.StatusCode
	}

	logs, err := c.cli.ContainerLogs(ctx, resp.ID, container.LogsOptions{ShowStdout: true, ShowStderr: true})
	if err != nil {
		return "", fmt.Errorf("failed to read container logs: %w", err)
	}
	defer logs.Close()

	var out bytes.Buffer
	if _, err := stdcopy.StdCopy(&out, &out, logs); err != nil {
		return "", fmt.Errorf("failed to demux container logs: %w", err)
	}
	if exitCode != 0 {
		return out.String(), fmt.Errorf("job %d exited with status %d", job.ID, exitCode)
	}
	return out.String(), nil
}

// Close releases the Docker client.
func (c *Client) Close() error {
	return c.cli.Close()
}
