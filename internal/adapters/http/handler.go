package http

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"github.com/melih/lighthouse/internal/core/domain"
	"github.com/melih/lighthouse/internal/core/ports"
)

type ContainerHandler struct {
	service ports.ContainerService
}

func NewContainerHandler(service ports.ContainerService) *ContainerHandler {
	return &ContainerHandler{service: service}
}

func (h *ContainerHandler) ListContainers(c *fiber.Ctx) error {
	containers, err := h.service.ListContainers(c.Context())
	if err != nil {
		return errorJSON(c, err)
	}
	return c.JSON(containers)
}

func (h *ContainerHandler) StartContainer(c *fiber.Ctx) error {
	var req ports.LaunchRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}
	if req.Image == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Image name is required",
		})
	}

	container, err := h.service.StartContainer(c.Context(), req)
	if err != nil {
		return errorJSON(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(container)
}

func (h *ContainerHandler) StopContainer(c *fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Container ID is required",
		})
	}

	if err := h.service.StopContainer(c.Context(), id); err != nil {
		return errorJSON(c, err)
	}

	return c.SendStatus(fiber.StatusOK)
}

func (h *ContainerHandler) GetContainerLogs(c *fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Container ID is required",
		})
	}

	logs, err := h.service.GetContainerLogs(c.Context(), id)
	if err != nil {
		return errorJSON(c, err)
	}
	// SendStream closes the reader once the body is written.
	c.Set("Content-Type", "text/plain")
	return c.SendStream(logs)
}

// errorJSON maps domain errors to status codes.
func errorJSON(c *fiber.Ctx, err error) error {
	status := fiber.StatusInternalServerError
	body := fiber.Map{"error": err.Error()}

	var (
		berr *domain.BuildError
		rerr *domain.RuntimeError
	)
	switch {
	case errors.Is(err, domain.ErrInvalidRecipe):
		status = fiber.StatusBadRequest
	case errors.Is(err, domain.ErrNotFound):
		status = fiber.StatusNotFound
	case errors.As(err, &berr):
		status = fiber.StatusUnprocessableEntity
		body["step"] = berr.Step
	case errors.As(err, &rerr):
		status = fiber.StatusUnprocessableEntity
		if rerr.Reason == domain.ReasonPort {
			status = fiber.StatusConflict
		}
		body["reason"] = rerr.Reason
		body["exit_code"] = rerr.ExitCode
		if rerr.Output != "" {
			body["output"] = rerr.Output
		}
	}
	return c.Status(status).JSON(body)
}
