package docker

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/errdefs"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/docker/go-connections/nat"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/melih/lighthouse/internal/core/domain"
	"github.com/melih/lighthouse/internal/core/ports"
)

type fakeDocker struct {
	config     *container.Config
	hostConfig *container.HostConfig
	name       string

	createErr error
	startErr  error
	stopErr   error
	exitCode  int64 // exit during startup when exits is set
	exits     bool
	logs      string
	listed    []types.Container
	listOpts  container.ListOptions
	removed   []string

	imageLabels map[string]string
	imageErr    error
}

func (f *fakeDocker) ContainerList(_ context.Context, options container.ListOptions) ([]types.Container, error) {
	f.listOpts = options
	return f.listed, nil
}

func (f *fakeDocker) ContainerCreate(_ context.Context, config *container.Config, hostConfig *container.HostConfig, _ *network.NetworkingConfig, _ *ocispec.Platform, name string) (container.CreateResponse, error) {
	f.config, f.hostConfig, f.name = config, hostConfig, name
	if f.createErr != nil {
		return container.CreateResponse{}, f.createErr
	}
	return container.CreateResponse{ID: "0123456789abcdef0123"}, nil
}

func (f *fakeDocker) ContainerStart(context.Context, string, container.StartOptions) error {
	return f.startErr
}

func (f *fakeDocker) ContainerStop(context.Context, string, container.StopOptions) error {
	return f.stopErr
}

func (f *fakeDocker) ContainerRemove(_ context.Context, id string, _ container.RemoveOptions) error {
	f.removed = append(f.removed, id)
	return nil
}

func (f *fakeDocker) ContainerWait(context.Context, string, container.WaitCondition) (<-chan container.WaitResponse, <-chan error) {
	waitCh := make(chan container.WaitResponse, 1)
	errCh := make(chan error, 1)
	if f.exits {
		waitCh <- container.WaitResponse{StatusCode: f.exitCode}
	}
	return waitCh, errCh
}

func (f *fakeDocker) ContainerLogs(context.Context, string, container.LogsOptions) (io.ReadCloser, error) {
	var buf bytes.Buffer
	w := stdcopy.NewStdWriter(&buf, stdcopy.Stderr)
	w.Write([]byte(f.logs))
	return io.NopCloser(&buf), nil
}

func (f *fakeDocker) ContainerInspect(context.Context, string) (types.ContainerJSON, error) {
	return types.ContainerJSON{
		ContainerJSONBase: &types.ContainerJSONBase{State: &types.ContainerState{Status: "running"}},
		NetworkSettings: &types.NetworkSettings{
			DefaultNetworkSettings: types.DefaultNetworkSettings{IPAddress: "172.17.0.2"},
		},
	}, nil
}

func (f *fakeDocker) ImageInspectWithRaw(context.Context, string) (types.ImageInspect, []byte, error) {
	if f.imageErr != nil {
		return types.ImageInspect{}, nil, f.imageErr
	}
	return types.ImageInspect{Config: &container.Config{Labels: f.imageLabels}}, nil, nil
}

func newAdapter(f *fakeDocker) *Adapter {
	a := NewWithClient(f)
	a.StartupGrace = 10 * time.Millisecond
	return a
}

func TestStartContainer_DefaultPort(t *testing.T) {
	f := &fakeDocker{}
	c, err := newAdapter(f).StartContainer(context.Background(), ports.LaunchRequest{Image: "lighthouse/speakcheck-api:latest", Name: "speakcheck"})
	require.NoError(t, err)

	assert.Equal(t, 8000, c.Port)
	assert.Equal(t, "0123456789ab", c.ID)
	assert.Equal(t, "172.17.0.2", c.IPAddress)
	assert.Equal(t, "speakcheck", f.name)
	assert.Contains(t, f.config.Env, "PORT=8000")

	p := nat.Port("8000/tcp")
	assert.Contains(t, f.config.ExposedPorts, p)
	require.Len(t, f.hostConfig.PortBindings[p], 1)
	assert.Equal(t, nat.PortBinding{HostIP: "0.0.0.0", HostPort: "8000"}, f.hostConfig.PortBindings[p][0])
	assert.Equal(t, "8000", f.config.Labels["lighthouse.port"])
}

func TestStartContainer_PortFromImageLabel(t *testing.T) {
	f := &fakeDocker{imageLabels: map[string]string{"lighthouse.recipe": "svc", "lighthouse.port": "8081"}}
	c, err := newAdapter(f).StartContainer(context.Background(), ports.LaunchRequest{Image: "lighthouse/svc:latest"})
	require.NoError(t, err)

	assert.Equal(t, 8081, c.Port)
	assert.Equal(t, []string{"PORT=8081"}, f.config.Env)
	assert.Contains(t, f.hostConfig.PortBindings, nat.Port("8081/tcp"))
	assert.Equal(t, "8081", f.config.Labels["lighthouse.port"])
}

func TestStartContainer_EnvironmentBeatsImageLabel(t *testing.T) {
	f := &fakeDocker{imageLabels: map[string]string{"lighthouse.port": "8081"}}
	c, err := newAdapter(f).StartContainer(context.Background(), ports.LaunchRequest{
		Image: "lighthouse/svc:latest",
		Env:   map[string]string{"PORT": "9000"},
	})
	require.NoError(t, err)
	assert.Equal(t, 9000, c.Port)
}

func TestStartContainer_UnusableImageLabel(t *testing.T) {
	for _, label := range []string{"", "http", "0", "70000"} {
		f := &fakeDocker{imageLabels: map[string]string{"lighthouse.port": label}}
		c, err := newAdapter(f).StartContainer(context.Background(), ports.LaunchRequest{Image: "img"})
		require.NoError(t, err)
		assert.Equal(t, 8000, c.Port, "label %q", label)
	}
}

func TestStartContainer_PortFromEnvironment(t *testing.T) {
	f := &fakeDocker{}
	c, err := newAdapter(f).StartContainer(context.Background(), ports.LaunchRequest{
		Image: "img",
		Env:   map[string]string{"PORT": "9000", "POSTGRES_HOST": "db"},
	})
	require.NoError(t, err)

	assert.Equal(t, 9000, c.Port)
	assert.Equal(t, []string{"POSTGRES_HOST=db", "PORT=9000"}, f.config.Env)
	assert.Contains(t, f.hostConfig.PortBindings, nat.Port("9000/tcp"))
	assert.NotContains(t, f.hostConfig.PortBindings, nat.Port("8000/tcp"))
}

func TestStartContainer_ExplicitPortWins(t *testing.T) {
	f := &fakeDocker{}
	c, err := newAdapter(f).StartContainer(context.Background(), ports.LaunchRequest{
		Image: "img",
		Port:  9100,
		Env:   map[string]string{"PORT": "9000"},
	})
	require.NoError(t, err)
	assert.Equal(t, 9100, c.Port)
	assert.Equal(t, []string{"PORT=9100"}, f.config.Env)
}

func TestStartContainer_InvalidPort(t *testing.T) {
	for _, req := range []ports.LaunchRequest{
		{Image: "img", Env: map[string]string{"PORT": "eighty"}},
		{Image: "img", Port: 70000},
	} {
		_, err := newAdapter(&fakeDocker{}).StartContainer(context.Background(), req)
		var rerr *domain.RuntimeError
		require.True(t, errors.As(err, &rerr))
		assert.Equal(t, domain.ReasonPort, rerr.Reason)
	}
}

func TestStartContainer_EarlyExitFailsFast(t *testing.T) {
	f := &fakeDocker{
		exits:    true,
		exitCode: 1,
		logs:     "ERROR:    Error loading ASGI app. Attribute \"app\" not found in module \"api\".\n",
	}
	a := newAdapter(f)
	a.StartupGrace = time.Minute

	start := time.Now()
	_, err := a.StartContainer(context.Background(), ports.LaunchRequest{Image: "img"})
	assert.Less(t, time.Since(start), 5*time.Second)

	var rerr *domain.RuntimeError
	require.True(t, errors.As(err, &rerr))
	assert.Equal(t, domain.ReasonEntrypoint, rerr.Reason)
	assert.Equal(t, 1, rerr.ExitCode)
	assert.Contains(t, rerr.Output, "Error loading ASGI app")
	assert.Equal(t, []string{"0123456789abcdef0123"}, f.removed)
}

func TestStartContainer_PortConflict(t *testing.T) {
	f := &fakeDocker{startErr: errors.New("driver failed programming external connectivity: Bind for 0.0.0.0:8000 failed: port is already allocated")}
	_, err := newAdapter(f).StartContainer(context.Background(), ports.LaunchRequest{Image: "img"})

	var rerr *domain.RuntimeError
	require.True(t, errors.As(err, &rerr))
	assert.Equal(t, domain.ReasonPort, rerr.Reason)
	assert.Len(t, f.removed, 1)
}

func TestStartContainer_MissingImage(t *testing.T) {
	f := &fakeDocker{createErr: errdefs.NotFound(errors.New("No such image: img"))}
	_, err := newAdapter(f).StartContainer(context.Background(), ports.LaunchRequest{Image: "img"})
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestStartContainer_ImageNotFoundOnInspect(t *testing.T) {
	f := &fakeDocker{imageErr: errdefs.NotFound(errors.New("No such image: img"))}
	_, err := newAdapter(f).StartContainer(context.Background(), ports.LaunchRequest{Image: "img"})
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.Nil(t, f.config)
}

func TestListContainers(t *testing.T) {
	f := &fakeDocker{listed: []types.Container{{
		ID:     "0123456789abcdef",
		Names:  []string{"/speakcheck"},
		Image:  "lighthouse/speakcheck-api:latest",
		Status: "Up 2 minutes",
		State:  "running",
		Labels: map[string]string{"lighthouse.port": "9000"},
		NetworkSettings: &types.SummaryNetworkSettings{
			Networks: map[string]*network.EndpointSettings{"bridge": {IPAddress: "172.17.0.3"}},
		},
	}}}

	list, err := newAdapter(f).ListContainers(context.Background())
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, domain.Container{
		ID: "0123456789ab", Name: "speakcheck", Image: "lighthouse/speakcheck-api:latest",
		Status: "Up 2 minutes", State: "running", Port: 9000, IPAddress: "172.17.0.3",
	}, list[0])
	assert.True(t, f.listOpts.All)
	assert.True(t, f.listOpts.Filters.ExactMatch("label", "lighthouse.managed=true"))
}

func TestStopContainer_NotFound(t *testing.T) {
	f := &fakeDocker{stopErr: errdefs.NotFound(errors.New("No such container"))}
	err := newAdapter(f).StopContainer(context.Background(), "nope")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestGetContainerLogs(t *testing.T) {
	f := &fakeDocker{logs: "INFO:     Uvicorn running on http://0.0.0.0:8000\n"}
	rc, err := newAdapter(f).GetContainerLogs(context.Background(), "id")
	require.NoError(t, err)
	defer rc.Close()

	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(data), "INFO:     Uvicorn running"))
}

func TestWait(t *testing.T) {
	f := &fakeDocker{exits: true, exitCode: 3}
	code, err := newAdapter(f).Wait(context.Background(), "id")
	require.NoError(t, err)
	assert.Equal(t, 3, code)
}
