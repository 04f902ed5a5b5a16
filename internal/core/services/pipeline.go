package services

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/melih/lighthouse/internal/core/domain"
	"github.com/melih/lighthouse/internal/core/ports"
	"github.com/melih/lighthouse/internal/logging"
)

// Pipeline turns recipes into images and images into running services.
// Each build is a single sequential attempt; failures are never retried.
type Pipeline struct {
	Fetcher    ports.SourceFetcher
	Builder    ports.BuilderService
	Containers ports.ContainerService
	Store      ports.BuildStore
	Logger     *slog.Logger

	Now   func() time.Time
	NewID func() string
}

func (p *Pipeline) now() time.Time {
	if p.Now != nil {
		return p.Now()
	}
	return time.Now().UTC()
}

func (p *Pipeline) newID() string {
	if p.NewID != nil {
		return p.NewID()
	}
	return uuid.NewString()
}

// Build runs one build attempt for r. The returned build is always terminal
// when non-nil: ready with an image, or failed with the step that broke.
// An invalid recipe is rejected before a build is recorded.
func (p *Pipeline) Build(ctx context.Context, r domain.Recipe) (*domain.Build, error) {
	r = r.WithDefaults()
	if err := r.Validate(); err != nil {
		return nil, err
	}

	b := domain.NewBuild(p.newID(), r.Name, p.now())
	logger := logging.Ensure(p.Logger).With("component", "pipeline", "build", b.ID, "recipe", r.Name)
	if err := p.Store.Create(ctx, b); err != nil {
		return nil, err
	}
	logger.Info("build started", "source", r.Source, "entrypoint", r.Entrypoint.String())

	image, err := p.buildImage(ctx, r)
	// The outcome is recorded even when ctx was cancelled mid-build.
	recordCtx := context.WithoutCancel(ctx)
	if err != nil {
		step := domain.StepContext
		var berr *domain.BuildError
		if errors.As(err, &berr) {
			step = berr.Step
		}
		if ferr := b.Fail(step, err, p.now()); ferr != nil {
			return b, ferr
		}
		if serr := p.Store.Finish(recordCtx, b); serr != nil {
			logger.Error("record failed build", "error", serr)
		}
		logger.Error("build failed", "step", step, "error", err)
		return b, err
	}

	if err := b.Succeed(image, p.now()); err != nil {
		return b, err
	}
	if err := p.Store.Finish(recordCtx, b); err != nil {
		return b, err
	}
	logger.Info("build ready", "image", image)
	return b, nil
}

func (p *Pipeline) buildImage(ctx context.Context, r domain.Recipe) (string, error) {
	dir, cleanup, err := p.Fetcher.Fetch(ctx, r.Source, r.Ref)
	if err != nil {
		return "", err
	}
	defer cleanup()
	return p.Builder.BuildImage(ctx, r, dir)
}

// Run launches the image built from r. port takes precedence; when it is zero
// the PORT entry of env is used, falling back to the recipe default.
func (p *Pipeline) Run(ctx context.Context, r domain.Recipe, port int, env map[string]string) (domain.Container, error) {
	r = r.WithDefaults()
	if port == 0 {
		var err error
		if port, err = domain.ResolvePort(domain.MapLookup(env), r.DefaultPort); err != nil {
			return domain.Container{}, err
		}
	}
	logging.Ensure(p.Logger).Info("launching", "component", "pipeline", "recipe", r.Name, "port", port)
	return p.Containers.StartContainer(ctx, ports.LaunchRequest{
		Image: r.ImageTag(),
		Name:  r.Name,
		Port:  port,
		Env:   env,
	})
}

// Builds lists recorded builds, newest first.
func (p *Pipeline) Builds(ctx context.Context) ([]domain.Build, error) {
	return p.Store.List(ctx)
}

// GetBuild returns one recorded build.
func (p *Pipeline) GetBuild(ctx context.Context, id string) (*domain.Build, error) {
	return p.Store.Get(ctx, id)
}
