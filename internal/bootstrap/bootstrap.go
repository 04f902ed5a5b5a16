package bootstrap

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/melih/lighthouse/internal/adapters/builder"
	"github.com/melih/lighthouse/internal/adapters/docker"
	"github.com/melih/lighthouse/internal/adapters/source"
	"github.com/melih/lighthouse/internal/adapters/store"
	"github.com/melih/lighthouse/internal/config"
	"github.com/melih/lighthouse/internal/core/services"
	"github.com/melih/lighthouse/internal/logging"
)

// Runtime holds the wired adapters behind a pipeline.
type Runtime struct {
	Pipeline   *services.Pipeline
	Containers *docker.Adapter
	store      *store.SQLite
}

// New connects to Docker and opens the build history described by cfg.
// Build and clone progress is written to progress.
func New(cfg config.Config, logger *slog.Logger, progress io.Writer) (*Runtime, error) {
	logger = logging.Ensure(logger)

	// 1. Initialize Adapters (Infrastructure)
	containers, err := docker.NewAdapter()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize Docker adapter: %w", err)
	}
	containers.StartupGrace = cfg.StartupGrace
	containers.Logger = logger

	imageBuilder, err := builder.NewBuilderAdapter()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize builder: %w", err)
	}
	imageBuilder.PullParent = cfg.PullParent
	imageBuilder.Output = progress
	imageBuilder.Logger = logger

	history, err := store.Open(cfg.Database)
	if err != nil {
		return nil, err
	}

	// 2. Core service, depending only on the ports
	return &Runtime{
		Pipeline: &services.Pipeline{
			Fetcher:    &source.Fetcher{Progress: progress, Logger: logger},
			Builder:    imageBuilder,
			Containers: containers,
			Store:      history,
			Logger:     logger,
		},
		Containers: containers,
		store:      history,
	}, nil
}

func (r *Runtime) Close() error {
	return r.store.Close()
}
