package source

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"

	"github.com/melih/lighthouse/internal/core/domain"
	"github.com/melih/lighthouse/internal/logging"
)

// Fetcher implements ports.SourceFetcher for local directories and git remotes.
type Fetcher struct {
	// Progress receives clone progress; nil discards it.
	Progress io.Writer
	Logger   *slog.Logger
}

// IsGitURL reports whether source names a git remote rather than a local path.
func IsGitURL(source string) bool {
	for _, p := range []string{"https://", "http://", "ssh://", "git://", "git@"} {
		if strings.HasPrefix(source, p) {
			return true
		}
	}
	return strings.HasSuffix(source, ".git") && !isDir(source)
}

// Fetch returns a directory holding source. Remote sources are shallow
// cloned into a temporary directory that cleanup removes.
func (f *Fetcher) Fetch(ctx context.Context, source, ref string) (string, func(), error) {
	logger := logging.Ensure(f.Logger).With("component", "source")
	noop := func() {}

	if !IsGitURL(source) {
		dir, err := filepath.Abs(source)
		if err != nil {
			return "", noop, &domain.BuildError{Step: domain.StepContext, Err: err}
		}
		if !isDir(dir) {
			return "", noop, &domain.BuildError{Step: domain.StepContext, Err: fmt.Errorf("source %s is not a directory", source)}
		}
		return dir, noop, nil
	}

	tmpDir, err := os.MkdirTemp("", "lighthouse-build-*")
	if err != nil {
		return "", noop, fmt.Errorf("failed to create temp dir: %w", err)
	}
	cleanup := func() { os.RemoveAll(tmpDir) }

	progress := f.Progress
	if progress == nil {
		progress = io.Discard
	}
	opts := &git.CloneOptions{
		URL:      source,
		Progress: progress,
		Depth:    1, // Shallow clone for speed
	}
	if ref != "" {
		opts.ReferenceName = plumbing.NewBranchReferenceName(ref)
		opts.SingleBranch = true
	}

	logger.Info("cloning source", "url", source, "ref", ref, "dir", tmpDir)
	if _, err := git.PlainCloneContext(ctx, tmpDir, false, opts); err != nil {
		cleanup()
		return "", noop, &domain.BuildError{Step: domain.StepContext, Err: fmt.Errorf("failed to clone repo: %w", err)}
	}
	return tmpDir, cleanup, nil
}

// CheckManifest fails when the dependency manifest is missing from dir.
func CheckManifest(dir, manifest string) error {
	info, err := os.Stat(filepath.Join(dir, filepath.FromSlash(manifest)))
	if err != nil {
		return &domain.BuildError{Step: domain.StepDependencies, Err: fmt.Errorf("dependency manifest %s: %w", manifest, err)}
	}
	if info.IsDir() {
		return &domain.BuildError{Step: domain.StepDependencies, Err: fmt.Errorf("dependency manifest %s is a directory", manifest)}
	}
	return nil
}

func isDir(p string) bool {
	info, err := os.Stat(p)
	return err == nil && info.IsDir()
}
