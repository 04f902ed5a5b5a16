package ports

import (
	"context"
	"io"

	"github.com/melih/lighthouse/internal/core/domain"
)

// LaunchRequest describes one service process to start.
type LaunchRequest struct {
	Image string            `json:"image"`
	Name  string            `json:"name"`
	Port  int               `json:"port"`
	Env   map[string]string `json:"env,omitempty"`
}

// ContainerService defines the core operations for managing launched services.
// This interface allows us to switch between Docker, Podman, or Kubernetes
// without changing the business logic.
type ContainerService interface {
	ListContainers(ctx context.Context) ([]domain.Container, error)
	StartContainer(ctx context.Context, req LaunchRequest) (domain.Container, error)
	StopContainer(ctx context.Context, id string) error
	GetContainerLogs(ctx context.Context, id string) (io.ReadCloser, error)
}
