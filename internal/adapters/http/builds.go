package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/gofiber/fiber/v2"

	"github.com/melih/lighthouse/internal/core/domain"
	"github.com/melih/lighthouse/internal/recipe"
)

// BuildPipeline is the part of services.Pipeline the API exposes.
type BuildPipeline interface {
	Build(ctx context.Context, r domain.Recipe) (*domain.Build, error)
	Builds(ctx context.Context) ([]domain.Build, error)
	GetBuild(ctx context.Context, id string) (*domain.Build, error)
}

type BuildHandler struct {
	pipeline BuildPipeline
}

func NewBuildHandler(pipeline BuildPipeline) *BuildHandler {
	return &BuildHandler{pipeline: pipeline}
}

// CreateBuild runs a build synchronously.
// Note: a build can take minutes; the request is held open until it ends.
func (h *BuildHandler) CreateBuild(c *fiber.Ctx) error {
	r, err := recipeFromBody(c.Body())
	if err != nil {
		return errorJSON(c, err)
	}

	build, err := h.pipeline.Build(c.Context(), r)
	if err != nil {
		if build == nil {
			return errorJSON(c, err)
		}
		return c.Status(fiber.StatusUnprocessableEntity).JSON(build)
	}
	return c.Status(fiber.StatusCreated).JSON(build)
}

func (h *BuildHandler) ListBuilds(c *fiber.Ctx) error {
	builds, err := h.pipeline.Builds(c.Context())
	if err != nil {
		return errorJSON(c, err)
	}
	if builds == nil {
		builds = []domain.Build{}
	}
	return c.JSON(builds)
}

func (h *BuildHandler) GetBuild(c *fiber.Ctx) error {
	build, err := h.pipeline.GetBuild(c.Context(), c.Params("id"))
	if err != nil {
		return errorJSON(c, err)
	}
	return c.JSON(build)
}

// GetPreset returns a built-in recipe.
func (h *BuildHandler) GetPreset(c *fiber.Ctx) error {
	r, err := recipe.Preset(c.Params("preset"))
	if err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": err.Error()})
	}
	return c.JSON(r)
}

// GetPresetDockerfile renders a built-in recipe's Dockerfile.
func (h *BuildHandler) GetPresetDockerfile(c *fiber.Ctx) error {
	r, err := recipe.Preset(c.Params("preset"))
	if err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": err.Error()})
	}
	art, err := recipe.Render(r)
	if err != nil {
		return errorJSON(c, err)
	}
	c.Set("Content-Type", "text/plain")
	return c.Send(art.Dockerfile)
}

// RenderRecipe renders the generated files for a posted recipe without building.
func (h *BuildHandler) RenderRecipe(c *fiber.Ctx) error {
	r, err := recipeFromBody(c.Body())
	if err != nil {
		return errorJSON(c, err)
	}
	art, err := recipe.Render(r)
	if err != nil {
		return errorJSON(c, err)
	}
	return c.JSON(fiber.Map{
		"dockerfile":   string(art.Dockerfile),
		"start_script": string(art.StartScript),
	})
}

// recipeFromBody decodes a recipe. A "preset" field seeds the recipe and the
// other fields override it.
func recipeFromBody(body []byte) (domain.Recipe, error) {
	var head struct {
		Preset string `json:"preset"`
	}
	if err := json.Unmarshal(body, &head); err != nil {
		return domain.Recipe{}, fmt.Errorf("%w: %v", domain.ErrInvalidRecipe, err)
	}
	var req struct {
		Preset string `json:"preset"`
		domain.Recipe
	}
	if head.Preset != "" {
		base, err := recipe.Preset(head.Preset)
		if err != nil {
			return domain.Recipe{}, err
		}
		req.Recipe = base
	}
	// Unknown keys are rejected, as KnownFields does for recipe files.
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		return domain.Recipe{}, fmt.Errorf("%w: %v", domain.ErrInvalidRecipe, err)
	}
	return req.Recipe, nil
}
