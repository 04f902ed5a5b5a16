package ports

import (
	"context"

	"github.com/melih/lighthouse/internal/core/domain"
)

// BuilderService defines operations for building container images from a recipe.
type BuilderService interface {
	// BuildImage builds the recipe against the source tree in dir.
	// It returns the tag of the built image or a *domain.BuildError.
	BuildImage(ctx context.Context, recipe domain.Recipe, dir string) (string, error)
}

// SourceFetcher makes a recipe's source tree available on the local filesystem.
type SourceFetcher interface {
	// Fetch returns a directory holding the source and a cleanup func that
	// must be called once the build is done with it.
	Fetch(ctx context.Context, source, ref string) (dir string, cleanup func(), err error)
}
