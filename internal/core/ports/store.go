package ports

import (
	"context"

	"github.com/melih/lighthouse/internal/core/domain"
)

// BuildStore persists build attempts across processes.
type BuildStore interface {
	Create(ctx context.Context, b *domain.Build) error
	// Finish records a terminal state. It fails with domain.ErrInvalidTransition
	// when the stored build is already terminal.
	Finish(ctx context.Context, b *domain.Build) error
	Get(ctx context.Context, id string) (*domain.Build, error)
	List(ctx context.Context) ([]domain.Build, error)
}
