package builder

import (
	"archive/tar"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/archive"
	"github.com/docker/docker/pkg/jsonmessage"
	"github.com/moby/patternmatcher/ignorefile"

	"github.com/melih/lighthouse/internal/adapters/source"
	"github.com/melih/lighthouse/internal/core/domain"
	"github.com/melih/lighthouse/internal/logging"
	"github.com/melih/lighthouse/internal/recipe"
)

// imageBuilder is the part of the Docker client the adapter uses.
type imageBuilder interface {
	ImageBuild(ctx context.Context, buildContext io.Reader, options types.ImageBuildOptions) (types.ImageBuildResponse, error)
}

// Adapter implements ports.BuilderService using the Docker SDK.
type Adapter struct {
	cli imageBuilder

	// Output receives the builder's progress stream; nil discards it.
	Output     io.Writer
	Logger     *slog.Logger
	PullParent bool
}

func NewBuilderAdapter() (*Adapter, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("failed to create docker client: %w", err)
	}
	return &Adapter{cli: cli, PullParent: true}, nil
}

// NewWithClient wraps an existing client.
func NewWithClient(cli imageBuilder) *Adapter {
	return &Adapter{cli: cli}
}

var stepLine = regexp.MustCompile(`^Step (\d+)/(\d+) : (.*)$`)

// BuildImage builds recipe r from the source tree in dir and tags the result.
// The first error reported by the daemon halts the build; no image is returned.
func (a *Adapter) BuildImage(ctx context.Context, r domain.Recipe, dir string) (string, error) {
	r = r.WithDefaults()
	logger := logging.Ensure(a.Logger).With("component", "builder", "recipe", r.Name)

	art, err := recipe.Render(r)
	if err != nil {
		return "", &domain.BuildError{Step: domain.StepContext, Err: err}
	}
	if err := source.CheckManifest(dir, r.Manifest); err != nil {
		return "", err
	}

	buildCtx, err := buildContext(dir, art)
	if err != nil {
		return "", &domain.BuildError{Step: domain.StepContext, Err: fmt.Errorf("failed to create build context: %w", err)}
	}
	defer buildCtx.Close()

	tag := r.ImageTag()
	for _, s := range recipe.Steps(r) {
		logger.Debug("planned step", "step", s.Name, "description", s.Description)
	}
	logger.Info("building image", "image", tag, "base", r.BaseImage)
	started := time.Now()

	resp, err := a.cli.ImageBuild(ctx, buildCtx, types.ImageBuildOptions{
		Tags:        []string{tag},
		Dockerfile:  recipe.DockerfileName,
		Remove:      true, // Remove intermediate containers
		ForceRemove: true,
		PullParent:  a.PullParent,
		Labels: map[string]string{
			labelRecipe: r.Name,
			labelPort:   strconv.Itoa(r.DefaultPort),
		},
	})
	if err != nil {
		return "", &domain.BuildError{Step: domain.StepContext, Err: fmt.Errorf("failed to build image: %w", err)}
	}
	defer resp.Body.Close()

	if err := a.follow(ctx, resp.Body, logger); err != nil {
		logger.Error("build failed", "error", err, "elapsed", time.Since(started))
		return "", err
	}
	logger.Info("image ready", "image", tag, "elapsed", time.Since(started))
	return tag, nil
}

// Image labels. The launcher reads labelPort back as the image's default port.
const (
	labelRecipe = "lighthouse.recipe"
	labelPort   = "lighthouse.port"
)

// follow reads the daemon's JSON message stream until it ends, returning the
// first reported error attributed to the step that was running.
func (a *Adapter) follow(ctx context.Context, body io.Reader, logger *slog.Logger) error {
	out := a.Output
	if out == nil {
		out = io.Discard
	}
	current := domain.StepBaseImage
	dec := json.NewDecoder(body)
	for {
		var msg jsonmessage.JSONMessage
		if err := dec.Decode(&msg); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			if ctxErr := ctx.Err(); ctxErr != nil {
				err = ctxErr
			}
			return &domain.BuildError{Step: current, Err: fmt.Errorf("read build output: %w", err)}
		}
		if msg.Error != nil {
			return &domain.BuildError{Step: current, Err: errors.New(strings.TrimSpace(msg.Error.Message))}
		}
		if msg.ErrorMessage != "" {
			return &domain.BuildError{Step: current, Err: errors.New(strings.TrimSpace(msg.ErrorMessage))}
		}
		if msg.Stream == "" {
			continue
		}
		io.WriteString(out, msg.Stream)
		if m := stepLine.FindStringSubmatch(strings.TrimSpace(msg.Stream)); m != nil {
			current = recipe.StepFor(m[3])
			logger.Info("build step", "step", current, "progress", m[1]+"/"+m[2])
		}
	}
}

// buildContext tars dir, honouring its .dockerignore, and appends the
// generated Dockerfile and launch script.
func buildContext(dir string, art recipe.Artifacts) (io.ReadCloser, error) {
	excludes, err := readDockerignore(dir)
	if err != nil {
		return nil, err
	}
	excludes = append(excludes, ".git", recipe.DockerfileName, recipe.StartScriptName)

	src, err := archive.TarWithOptions(dir, &archive.TarOptions{
		ExcludePatterns: excludes,
	})
	if err != nil {
		return nil, err
	}

	pr, pw := io.Pipe()
	go func() {
		defer src.Close()
		pw.CloseWithError(appendArtifacts(pw, src, art))
	}()
	return pr, nil
}

// readDockerignore returns the patterns of dir/.dockerignore, or nil when
// the file does not exist.
func readDockerignore(dir string) ([]string, error) {
	f, err := os.Open(filepath.Join(dir, ".dockerignore"))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()

	patterns, err := ignorefile.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("read .dockerignore: %w", err)
	}
	return patterns, nil
}

func appendArtifacts(w io.Writer, src io.Reader, art recipe.Artifacts) error {
	tw := tar.NewWriter(w)
	tr := tar.NewReader(src)
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return err
		}
		if err := tw.WriteHeader(hdr); err != nil {
			return err
		}
		if _, err := io.Copy(tw, tr); err != nil {
			return err
		}
	}

	// Fixed timestamps keep the context byte-identical across builds.
	epoch := time.Unix(0, 0)
	for _, f := range []struct {
		name string
		mode int64
		data []byte
	}{
		{recipe.DockerfileName, 0o644, art.Dockerfile},
		{recipe.StartScriptName, 0o755, art.StartScript},
	} {
		hdr := &tar.Header{
			Name:     f.name,
			Mode:     f.mode,
			Size:     int64(len(f.data)),
			ModTime:  epoch,
			Typeflag: tar.TypeReg,
		}
		if err := tw.WriteHeader(hdr); err != nil {
			return err
		}
		if _, err := tw.Write(f.data); err != nil {
			return err
		}
	}
	return tw.Close()
}
