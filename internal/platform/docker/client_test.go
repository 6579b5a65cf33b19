package docker

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/dontdude/walq/internal/domain"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeAPI implements the calls Run and Pull make; anything else panics on the nil embed.
type fakeAPI struct {
	client.APIClient

	createErr error
	waitErr   error
	exitCode  int64
	stdout    string
	stderr    string

	pulled  *trackingReader
	config  *container.Config
	host    *container.HostConfig
	started bool
	removed []string
}

type trackingReader struct {
	io.Reader
	closed bool
}

func (r *trackingReader) Close() error {
	r.closed = true
	return nil
}

func (f *fakeAPI) ImagePull(ctx context.Context, ref string, opts image.PullOptions) (io.ReadCloser, error) {
	f.pulled = &trackingReader{Reader: strings.NewReader(`{"status":"Pulling from library/alpine"}`)}
	return f.pulled, nil
}

func (f *fakeAPI) ContainerCreate(ctx context.Context, config *container.Config, host *container.HostConfig,
	_ *network.NetworkingConfig, _ *ocispec.Platform, _ string) (container.CreateResponse, error) {
	if f.createErr != nil {
		return container.CreateResponse{}, f.createErr
	}
	f.config, f.host = config, host
	return container.CreateResponse{ID: "c0ffee"}, nil
}

func (f *fakeAPI) ContainerStart(ctx context.Context, id string, opts container.StartOptions) error {
	f.started = true
	return nil
}

func (f *fakeAPI) ContainerWait(ctx context.Context, id string, cond container.WaitCondition) (<-chan container.WaitResponse, <-chan error) {
	statusCh := make(chan container.WaitResponse, 1)
	errCh := make(chan error, 1)
	if f.waitErr != nil {
		errCh <- f.waitErr
	} else {
		statusCh <- container.WaitResponse{StatusCode: f.exitCode}
	}
	return statusCh, errCh
}

func (f *fakeAPI) ContainerLogs(ctx context.Context, id string, opts container.LogsOptions) (io.ReadCloser, error) {
	var buf bytes.Buffer
	stdcopy.NewStdWriter(&buf, stdcopy.Stdout).Write([]byte(f.stdout))
	stdcopy.NewStdWriter(&buf, stdcopy.Stderr).Write([]byte(f.stderr))
	return io.NopCloser(&buf), nil
}

func (f *fakeAPI) ContainerRemove(ctx context.Context, id string, opts container.RemoveOptions) error {
	f.removed = append(f.removed, id)
	return nil
}

func TestClient_RunDemuxesOutput(t *testing.T) {
	api := &fakeAPI{stdout: "hello\n", stderr: "warning\n"}
	c := newClient(api, "", 64<<20)

	out, err := c.Run(context.Background(), domain.Job{ID: 7, Payload: "echo hello; echo warning >&2"})
	require.NoError(t, err)
	assert.Equal(t, "hello\nwarning\n", out)

	assert.Equal(t, DefaultImage, api.config.Image)
	assert.Equal(t, []string{"sh", "-c", "echo hello; echo warning >&2"}, []string(api.config.Cmd))
	assert.Equal(t, "7", api.config.Labels["walq.job"])
	assert.Equal(t, int64(64<<20), api.host.Memory)
	assert.True(t, api.started)
	assert.Equal(t, []string{"c0ffee"}, api.removed)
}

func TestClient_RunNonZeroExit(t *testing.T) {
	api := &fakeAPI{exitCode: 3, stderr: "boom\n"}
	c := newClient(api, "busybox", 0)

	out, err := c.Run(context.Background(), domain.Job{ID: 9, Payload: "exit 3"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 3")
	assert.Equal(t, "boom\n", out)
	assert.Equal(t, []string{"c0ffee"}, api.removed, "container removed on failure")
}

func TestClient_RunWaitError(t *testing.T) {
	api := &fakeAPI{waitErr: errors.New("daemon went away")}
	c := newClient(api, "", 0)

	_, err := c.Run(context.Background(), domain.Job{ID: 1, Payload: "true"})
	assert.ErrorContains(t, err, "daemon went away")
	assert.Equal(t, []string{"c0ffee"}, api.removed)
}

func TestClient_RunCreateError(t *testing.T) {
	api := &fakeAPI{createErr: errors.New("no such image")}
	c := newClient(api, "", 0)

	_, err := c.Run(context.Background(), domain.Job{ID: 1, Payload: "true"})
	assert.ErrorContains(t, err, "no such image")
	assert.False(t, api.started)
	assert.Empty(t, api.removed)
}

func TestClient_PullDrainsProgress(t *testing.T) {
	api := &fakeAPI{}
	c := newClient(api, "", 0)

	require.NoError(t, c.Pull(context.Background()))
	require.NotNil(t, api.pulled)
	assert.True(t, api.pulled.closed)
	n, _ := api.pulled.Read(make([]byte, 1))
	assert.Zero(t, n, "progress stream fully consumed")
}
