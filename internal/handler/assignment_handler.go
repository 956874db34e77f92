package handler

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/ampapacek/SAGE/internal/dto"
	"github.com/ampapacek/SAGE/internal/service"
	"github.com/ampapacek/SAGE/internal/utils"
)

// AssignmentHandler wires assignment HTTP routes.
type AssignmentHandler struct {
	service   service.AssignmentService
	validator *validator.Validate
	logger    zerolog.Logger
}

// NewAssignmentHandler constructs the handler.
func NewAssignmentHandler(service service.AssignmentService, validator *validator.Validate, logger zerolog.Logger) *AssignmentHandler {
	return &AssignmentHandler{
		service:   service,
		validator: validator,
		logger:    logger.With().Str("component", "assignment_handler").Logger(),
	}
}

// Register attaches assignment endpoints to the router group.
func (h *AssignmentHandler) Register(router fiber.Router) {
	router.Get("", h.list)
	router.Post("", h.create)
	router.Post("/generate", h.generate)
	router.Get("/generations/:id", h.generation)
	router.Get("/:id", h.get)
	router.Patch("/:id", h.update)
	router.Delete("/:id", h.delete)
	router.Get("/:id/export.csv", h.exportCSV)
}

func (h *AssignmentHandler) list(c *fiber.Ctx) error {
	assignments, err := h.service.List(c.Context())
	if err != nil {
		return h.internalError(c, err)
	}
	return utils.SendSuccess(c, "assignments retrieved", dto.NewAssignmentResponseSlice(assignments))
}

func (h *AssignmentHandler) get(c *fiber.Ctx) error {
	id, err := parseUintParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	assignment, err := h.service.Get(c.Context(), id)
	if err != nil {
		if errors.Is(err, service.ErrAssignmentNotFound) {
			return utils.SendError(c, fiber.StatusNotFound, "assignment not found")
		}
		return h.internalError(c, err)
	}
	return utils.SendSuccess(c, "assignment retrieved", dto.NewAssignmentResponse(assignment))
}

func (h *AssignmentHandler) create(c *fiber.Ctx) error {
	var payload dto.AssignmentCreateRequest
	if err := c.BodyParser(&payload); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid request body")
	}
	if err := h.validator.Struct(payload); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	assignment, err := h.service.Create(c.Context(), payload.Title, payload.AssignmentText)
	if err != nil {
		return h.internalError(c, err)
	}
	return utils.SendSuccessWithStatus(c, fiber.StatusCreated, "assignment created", dto.NewAssignmentResponse(assignment))
}

func (h *AssignmentHandler) update(c *fiber.Ctx) error {
	id, err := parseUintParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	var payload dto.AssignmentUpdateRequest
	if err := c.BodyParser(&payload); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid request body")
	}
	if err := h.validator.Struct(payload); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	assignment, err := h.service.Update(c.Context(), id, payload.Title, payload.AssignmentText)
	if err != nil {
		if errors.Is(err, service.ErrAssignmentNotFound) {
			return utils.SendError(c, fiber.StatusNotFound, "assignment not found")
		}
		return h.internalError(c, err)
	}
	return utils.SendSuccess(c, "assignment updated", dto.NewAssignmentResponse(assignment))
}

func (h *AssignmentHandler) delete(c *fiber.Ctx) error {
	id, err := parseUintParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	if err := h.service.Delete(c.Context(), id); err != nil {
		if errors.Is(err, service.ErrAssignmentNotFound) {
			return utils.SendError(c, fiber.StatusNotFound, "assignment not found")
		}
		return h.internalError(c, err)
	}
	return utils.SendSuccess(c, "assignment deleted", fiber.Map{"id": id})
}

func (h *AssignmentHandler) generate(c *fiber.Ctx) error {
	var payload dto.AssignmentGenerateRequest
	if err := c.BodyParser(&payload); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid request body")
	}
	if err := h.validator.Struct(payload); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	generation, err := h.service.GenerateDraft(c.Context(), payload.TopicText, service.GenerateAssignmentOptions{
		Provider:          payload.Provider,
		Model:             payload.Model,
		ExtraInstructions: payload.ExtraInstructions,
	})
	if err != nil {
		return h.internalError(c, err)
	}
	return utils.SendSuccessWithStatus(c, fiber.StatusAccepted, "assignment generation enqueued", dto.NewGenerationResponse(generation))
}

func (h *AssignmentHandler) generation(c *fiber.Ctx) error {
	id, err := parseUintParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	generation, err := h.service.GetGeneration(c.Context(), id)
	if err != nil {
		if errors.Is(err, service.ErrJobNotFound) {
			return utils.SendError(c, fiber.StatusNotFound, "generation not found")
		}
		return h.internalError(c, err)
	}
	return utils.SendSuccess(c, "generation retrieved", dto.NewGenerationResponse(generation))
}

func (h *AssignmentHandler) exportCSV(c *fiber.Ctx) error {
	id, err := parseUintParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	var buf bytes.Buffer
	if err := h.service.ExportCSV(c.Context(), id, &buf); err != nil {
		if errors.Is(err, service.ErrAssignmentNotFound) {
			return utils.SendError(c, fiber.StatusNotFound, "assignment not found")
		}
		return h.internalError(c, err)
	}

	c.Set(fiber.HeaderContentType, "text/csv; charset=utf-8")
	c.Set(fiber.HeaderContentDisposition, fmt.Sprintf("attachment; filename=assignment_%d_grades.csv", id))
	return c.Send(buf.Bytes())
}

func (h *AssignmentHandler) internalError(c *fiber.Ctx, err error) error {
	h.logger.Error().Err(err).Msg("internal server error")
	return utils.SendError(c, fiber.StatusInternalServerError, "internal server error")
}
