package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/melih/lighthouse/internal/core/domain"
)

func openStore(t *testing.T) *SQLite {
	t.Helper()
	s, err := Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSQLite_Lifecycle(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)
	start := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	b := domain.NewBuild("b1", "speakcheck-api", start)
	require.NoError(t, s.Create(ctx, b))

	got, err := s.Get(ctx, "b1")
	require.NoError(t, err)
	assert.Equal(t, domain.StateBuilding, got.State)
	assert.Nil(t, got.FinishedAt)
	assert.True(t, start.Equal(got.StartedAt))

	require.NoError(t, b.Succeed("lighthouse/speakcheck-api:latest", start.Add(time.Minute)))
	require.NoError(t, s.Finish(ctx, b))

	got, err = s.Get(ctx, "b1")
	require.NoError(t, err)
	assert.Equal(t, domain.StateReady, got.State)
	assert.Equal(t, "lighthouse/speakcheck-api:latest", got.Image)
	require.NotNil(t, got.FinishedAt)
	assert.True(t, start.Add(time.Minute).Equal(*got.FinishedAt))
}

func TestSQLite_TerminalIsFinal(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)
	now := time.Now().UTC()

	b := domain.NewBuild("b2", "speakcheck-main", now)
	require.NoError(t, s.Create(ctx, b))
	require.NoError(t, b.Fail(domain.StepDependencies, errors.New("no matching distribution"), now))
	require.NoError(t, s.Finish(ctx, b))

	again := *b
	again.State = domain.StateReady
	again.Image = "img"
	assert.ErrorIs(t, s.Finish(ctx, &again), domain.ErrInvalidTransition)

	got, err := s.Get(ctx, "b2")
	require.NoError(t, err)
	assert.Equal(t, domain.StateFailed, got.State)
	assert.Equal(t, domain.StepDependencies, got.Step)
	assert.Empty(t, got.Image)
}

func TestSQLite_Errors(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)

	_, err := s.Get(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	ghost := domain.NewBuild("ghost", "x", time.Now())
	require.NoError(t, ghost.Succeed("img", time.Now()))
	assert.ErrorIs(t, s.Finish(ctx, ghost), domain.ErrNotFound)

	assert.ErrorIs(t, s.Create(ctx, ghost), domain.ErrInvalidTransition)
	assert.ErrorIs(t, s.Finish(ctx, domain.NewBuild("b", "x", time.Now())), domain.ErrInvalidTransition)
}

func TestSQLite_ListNewestFirst(t *testing.T) {
	ctx := context.Background()
	s, err := Open(filepath.Join(t.TempDir(), "lighthouse.db"))
	require.NoError(t, err)
	defer s.Close()

	base := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	for i, id := range []string{"old", "new"} {
		require.NoError(t, s.Create(ctx, domain.NewBuild(id, "r", base.Add(time.Duration(i)*time.Hour))))
	}

	list, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "new", list[0].ID)
	assert.Equal(t, "old", list[1].ID)
}
