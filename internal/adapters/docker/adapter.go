package docker

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/client"
	"github.com/docker/docker/errdefs"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/docker/go-connections/nat"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"

	"github.com/melih/lighthouse/internal/core/domain"
	"github.com/melih/lighthouse/internal/core/ports"
	"github.com/melih/lighthouse/internal/logging"
)

const (
	labelManaged = "lighthouse.managed"
	labelRecipe  = "lighthouse.recipe"
	labelPort    = "lighthouse.port"

	// DefaultStartupGrace is how long a process must stay up after start.
	DefaultStartupGrace = 3 * time.Second
)

// dockerAPI is the part of the Docker client the adapter uses.
type dockerAPI interface {
	ContainerList(ctx context.Context, options container.ListOptions) ([]types.Container, error)
	ContainerCreate(ctx context.Context, config *container.Config, hostConfig *container.HostConfig, networkingConfig *network.NetworkingConfig, platform *ocispec.Platform, containerName string) (container.CreateResponse, error)
	ContainerStart(ctx context.Context, containerID string, options container.StartOptions) error
	ContainerStop(ctx context.Context, containerID string, options container.StopOptions) error
	ContainerRemove(ctx context.Context, containerID string, options container.RemoveOptions) error
	ContainerWait(ctx context.Context, containerID string, condition container.WaitCondition) (<-chan container.WaitResponse, <-chan error)
	ContainerLogs(ctx context.Context, containerID string, options container.LogsOptions) (io.ReadCloser, error)
	ContainerInspect(ctx context.Context, containerID string) (types.ContainerJSON, error)
	ImageInspectWithRaw(ctx context.Context, imageID string) (types.ImageInspect, []byte, error)
}

// Adapter implements ports.ContainerService using Docker SDK
type Adapter struct {
	cli dockerAPI

	// StartupGrace bounds how long Launch watches a new process for an early exit.
	StartupGrace time.Duration
	Logger       *slog.Logger
}

// NewAdapter creates a new Docker adapter instance
func NewAdapter() (*Adapter, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("failed to create docker client: %w", err)
	}
	return &Adapter{cli: cli, StartupGrace: DefaultStartupGrace}, nil
}

// NewWithClient wraps an existing client.
func NewWithClient(cli dockerAPI) *Adapter {
	return &Adapter{cli: cli, StartupGrace: DefaultStartupGrace}
}

// ListContainers returns the containers lighthouse launched, running or not.
func (a *Adapter) ListContainers(ctx context.Context) ([]domain.Container, error) {
	containers, err := a.cli.ContainerList(ctx, container.ListOptions{
		All:     true,
		Filters: filters.NewArgs(filters.Arg("label", labelManaged+"=true")),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list containers: %w", err)
	}

	result := make([]domain.Container, 0, len(containers))
	for _, c := range containers {
		// Use the first name if available, remove slash
		name := ""
		if len(c.Names) > 0 {
			name = strings.TrimPrefix(c.Names[0], "/")
		}
		port, _ := strconv.Atoi(c.Labels[labelPort])
		ip := ""
		if c.NetworkSettings != nil {
			for _, n := range c.NetworkSettings.Networks {
				if n != nil && n.IPAddress != "" {
					ip = n.IPAddress
					break
				}
			}
		}

		result = append(result, domain.Container{
			ID:        shortID(c.ID),
			Name:      name,
			Image:     c.Image,
			Status:    c.Status,
			State:     c.State,
			Port:      port,
			IPAddress: ip,
		})
	}
	return result, nil
}

// StartContainer creates and starts one service process. The process binds
// all interfaces on the resolved port, which is also published on the host.
// A process that exits within the startup grace period fails the launch.
func (a *Adapter) StartContainer(ctx context.Context, req ports.LaunchRequest) (domain.Container, error) {
	if req.Image == "" {
		return domain.Container{}, fmt.Errorf("image is required")
	}
	logger := logging.Ensure(a.Logger).With("component", "launcher", "image", req.Image)

	port := req.Port
	if port == 0 {
		def, err := a.imagePort(ctx, req.Image)
		if err != nil {
			return domain.Container{}, err
		}
		if port, err = domain.ResolvePort(domain.MapLookup(req.Env), def); err != nil {
			return domain.Container{}, err
		}
	} else if !domain.ValidPort(port) {
		return domain.Container{}, &domain.RuntimeError{Reason: domain.ReasonPort, Err: fmt.Errorf("port %d is out of range", port)}
	}

	natPort, err := nat.NewPort("tcp", strconv.Itoa(port))
	if err != nil {
		return domain.Container{}, &domain.RuntimeError{Reason: domain.ReasonPort, Err: err}
	}

	resp, err := a.cli.ContainerCreate(ctx, &container.Config{
		Image:        req.Image,
		Env:          envList(req.Env, port),
		ExposedPorts: nat.PortSet{natPort: struct{}{}},
		Labels: map[string]string{
			labelManaged: "true",
			labelRecipe:  req.Name,
			labelPort:    strconv.Itoa(port),
		},
	}, &container.HostConfig{
		PortBindings: nat.PortMap{
			natPort: []nat.PortBinding{{HostIP: "0.0.0.0", HostPort: strconv.Itoa(port)}},
		},
	}, nil, nil, req.Name)
	if err != nil {
		if errdefs.IsNotFound(err) {
			return domain.Container{}, fmt.Errorf("image %s: %w", req.Image, domain.ErrNotFound)
		}
		return domain.Container{}, fmt.Errorf("failed to create container: %w", err)
	}

	if err := a.cli.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		a.remove(resp.ID)
		if isPortConflict(err) {
			return domain.Container{}, &domain.RuntimeError{Reason: domain.ReasonPort, Err: err}
		}
		return domain.Container{}, fmt.Errorf("failed to start container: %w", err)
	}
	logger.Info("container started", "id", shortID(resp.ID), "port", port)

	if err := a.watchStartup(ctx, resp.ID, logger); err != nil {
		return domain.Container{}, err
	}

	result := domain.Container{
		ID:    shortID(resp.ID),
		Name:  req.Name,
		Image: req.Image,
		State: "running",
		Port:  port,
	}
	if info, err := a.cli.ContainerInspect(ctx, resp.ID); err == nil {
		if info.ContainerJSONBase != nil && info.State != nil {
			result.State = info.State.Status
		}
		if info.NetworkSettings != nil {
			result.IPAddress = info.NetworkSettings.IPAddress
		}
	}
	return result, nil
}

// watchStartup waits out the grace period. An exit inside it, with any code,
// means the server never came up.
func (a *Adapter) watchStartup(ctx context.Context, id string, logger *slog.Logger) error {
	grace := a.StartupGrace
	if grace <= 0 {
		return nil
	}
	waitCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	waitCh, errCh := a.cli.ContainerWait(waitCtx, id, container.WaitConditionNotRunning)

	timer := time.NewTimer(grace)
	defer timer.Stop()

	select {
	case res := <-waitCh:
		output := a.tail(ctx, id)
		a.remove(id)
		rerr := &domain.RuntimeError{
			Reason:   domain.ReasonEntrypoint,
			ExitCode: int(res.StatusCode),
			Output:   output,
			Err:      fmt.Errorf("process exited during startup"),
		}
		if res.Error != nil {
			rerr.Err = fmt.Errorf("process exited during startup: %s", res.Error.Message)
		}
		logger.Error("startup failed", "id", shortID(id), "exit_code", res.StatusCode)
		return rerr
	case err := <-errCh:
		return fmt.Errorf("failed to watch container: %w", err)
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Wait blocks until the container stops and returns its exit code.
func (a *Adapter) Wait(ctx context.Context, id string) (int, error) {
	waitCh, errCh := a.cli.ContainerWait(ctx, id, container.WaitConditionNotRunning)
	select {
	case res := <-waitCh:
		return int(res.StatusCode), nil
	case err := <-errCh:
		if errdefs.IsNotFound(err) {
			return 0, fmt.Errorf("container %s: %w", id, domain.ErrNotFound)
		}
		return 0, err
	}
}

// imagePort returns the default port the image was built for, read from its
// lighthouse.port label. Images without a usable label get domain.DefaultPort.
func (a *Adapter) imagePort(ctx context.Context, image string) (int, error) {
	info, _, err := a.cli.ImageInspectWithRaw(ctx, image)
	if err != nil {
		if errdefs.IsNotFound(err) {
			return 0, fmt.Errorf("image %s: %w", image, domain.ErrNotFound)
		}
		return 0, fmt.Errorf("failed to inspect image: %w", err)
	}
	if info.Config == nil {
		return domain.DefaultPort, nil
	}
	port, err := strconv.Atoi(info.Config.Labels[labelPort])
	if err != nil || !domain.ValidPort(port) {
		return domain.DefaultPort, nil
	}
	return port, nil
}

// StopContainer stops a running container
func (a *Adapter) StopContainer(ctx context.Context, id string) error {
	// Timeout can be configurable, but keeping it simple for now
	timeout := 10 * time.Second
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := a.cli.ContainerStop(ctx, id, container.StopOptions{}); err != nil {
		if errdefs.IsNotFound(err) {
			return fmt.Errorf("container %s: %w", id, domain.ErrNotFound)
		}
		return fmt.Errorf("failed to stop container: %w", err)
	}
	return nil
}

// GetContainerLogs returns a demultiplexed stream of container logs
func (a *Adapter) GetContainerLogs(ctx context.Context, id string) (io.ReadCloser, error) {
	rc, err := a.cli.ContainerLogs(ctx, id, container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
		Follow:     false, // Can be true for streaming
		Timestamps: true,
	})
	if err != nil {
		if errdefs.IsNotFound(err) {
			return nil, fmt.Errorf("container %s: %w", id, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to read logs: %w", err)
	}
	pr, pw := io.Pipe()
	go func() {
		defer rc.Close()
		_, err := stdcopy.StdCopy(pw, pw, rc)
		pw.CloseWithError(err)
	}()
	return pr, nil
}

func (a *Adapter) tail(ctx context.Context, id string) string {
	rc, err := a.cli.ContainerLogs(ctx, id, container.LogsOptions{ShowStdout: true, ShowStderr: true, Tail: "20"})
	if err != nil {
		return ""
	}
	defer rc.Close()
	var buf bytes.Buffer
	stdcopy.StdCopy(&buf, &buf, rc)
	return strings.TrimSpace(buf.String())
}

func (a *Adapter) remove(id string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	a.cli.ContainerRemove(ctx, id, container.RemoveOptions{Force: true})
}

func envList(env map[string]string, port int) []string {
	out := make([]string, 0, len(env)+1)
	for k, v := range env {
		if k == domain.PortEnv {
			continue
		}
		out = append(out, k+"="+v)
	}
	sort.Strings(out)
	return append(out, domain.PortEnv+"="+strconv.Itoa(port))
}

func isPortConflict(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "port is already allocated") || strings.Contains(msg, "address already in use")
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}
