package handler

import (
	"errors"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/ampapacek/SAGE/internal/dto"
	"github.com/ampapacek/SAGE/internal/service"
	"github.com/ampapacek/SAGE/internal/utils"
)

// RubricHandler wires grading guide HTTP routes.
type RubricHandler struct {
	service   service.RubricService
	validator *validator.Validate
	logger    zerolog.Logger
}

// NewRubricHandler constructs the handler.
func NewRubricHandler(service service.RubricService, validator *validator.Validate, logger zerolog.Logger) *RubricHandler {
	return &RubricHandler{
		service:   service,
		validator: validator,
		logger:    logger.With().Str("component", "rubric_handler").Logger(),
	}
}

// RegisterAssignmentScoped attaches the per-assignment guide endpoints.
func (h *RubricHandler) RegisterAssignmentScoped(router fiber.Router) {
	router.Get("/:id/rubrics", h.list)
	router.Post("/:id/rubrics", h.create)
	router.Post("/:id/rubrics/generate", h.generate)
}

// Register attaches guide version endpoints to the router group.
func (h *RubricHandler) Register(router fiber.Router) {
	router.Get("/:id", h.get)
	router.Patch("/:id", h.update)
	router.Post("/:id/approve", h.approve)
	router.Post("/:id/cancel", h.cancel)
	router.Delete("/:id", h.delete)
}

func (h *RubricHandler) list(c *fiber.Ctx) error {
	assignmentID, err := parseUintParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	rubrics, err := h.service.ListByAssignment(c.Context(), assignmentID)
	if err != nil {
		return h.internalError(c, err)
	}
	return utils.SendSuccess(c, "grading guides retrieved", dto.NewRubricResponseSlice(rubrics))
}

func (h *RubricHandler) get(c *fiber.Ctx) error {
	id, err := parseUintParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	rubric, err := h.service.Get(c.Context(), id)
	if err != nil {
		if errors.Is(err, service.ErrRubricNotFound) {
			return utils.SendError(c, fiber.StatusNotFound, "grading guide not found")
		}
		return h.internalError(c, err)
	}
	return utils.SendSuccess(c, "grading guide retrieved", dto.NewRubricResponse(rubric))
}

func (h *RubricHandler) create(c *fiber.Ctx) error {
	assignmentID, err := parseUintParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	var payload dto.RubricCreateRequest
	if err := c.BodyParser(&payload); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid request body")
	}
	if err := h.validator.Struct(payload); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	rubric, err := h.service.CreateManual(c.Context(), assignmentID, payload.RubricText, payload.ReferenceSolutionText)
	if err != nil {
		if errors.Is(err, service.ErrAssignmentNotFound) {
			return utils.SendError(c, fiber.StatusNotFound, "assignment not found")
		}
		return h.internalError(c, err)
	}
	return utils.SendSuccessWithStatus(c, fiber.StatusCreated, "grading guide created", dto.NewRubricResponse(rubric))
}

func (h *RubricHandler) update(c *fiber.Ctx) error {
	id, err := parseUintParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	var payload dto.RubricUpdateRequest
	if err := c.BodyParser(&payload); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid request body")
	}
	if err := h.validator.Struct(payload); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	rubric, err := h.service.UpdateDraft(c.Context(), id, payload.RubricText, payload.ReferenceSolutionText)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrRubricNotFound):
			return utils.SendError(c, fiber.StatusNotFound, "grading guide not found")
		case errors.Is(err, service.ErrRubricNotDraft):
			return utils.SendError(c, fiber.StatusConflict, "only DRAFT grading guides can be edited")
		default:
			return h.internalError(c, err)
		}
	}
	return utils.SendSuccess(c, "grading guide updated", dto.NewRubricResponse(rubric))
}

func (h *RubricHandler) generate(c *fiber.Ctx) error {
	assignmentID, err := parseUintParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	var payload dto.RubricGenerateRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&payload); err != nil {
			return utils.SendError(c, fiber.StatusBadRequest, "invalid request body")
		}
	}

	rubric, err := h.service.Generate(c.Context(), assignmentID, service.GenerateRubricOptions{
		Provider:          payload.Provider,
		Model:             payload.Model,
		ExtraInstructions: payload.ExtraInstructions,
	})
	if err != nil {
		if errors.Is(err, service.ErrAssignmentNotFound) {
			return utils.SendError(c, fiber.StatusNotFound, "assignment not found")
		}
		return h.internalError(c, err)
	}
	return utils.SendSuccessWithStatus(c, fiber.StatusAccepted, "guide generation enqueued", dto.NewRubricResponse(rubric))
}

func (h *RubricHandler) approve(c *fiber.Ctx) error {
	id, err := parseUintParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	rubric, err := h.service.Approve(c.Context(), id)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrRubricNotFound):
			return utils.SendError(c, fiber.StatusNotFound, "grading guide not found")
		case errors.Is(err, service.ErrRubricNotDraft):
			return utils.SendError(c, fiber.StatusConflict, "only DRAFT grading guides can be approved")
		default:
			return h.internalError(c, err)
		}
	}
	return utils.SendSuccess(c, "grading guide approved", dto.NewRubricResponse(rubric))
}

func (h *RubricHandler) cancel(c *fiber.Ctx) error {
	id, err := parseUintParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	if err := h.service.Cancel(c.Context(), id); err != nil {
		switch {
		case errors.Is(err, service.ErrRubricNotFound):
			return utils.SendError(c, fiber.StatusNotFound, "grading guide not found")
		case errors.Is(err, service.ErrRubricNotGenerating):
			return utils.SendError(c, fiber.StatusConflict, "grading guide is not generating")
		default:
			return h.internalError(c, err)
		}
	}
	return utils.SendSuccess(c, "guide generation cancelled", fiber.Map{"id": id})
}

func (h *RubricHandler) delete(c *fiber.Ctx) error {
	id, err := parseUintParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	if err := h.service.Delete(c.Context(), id); err != nil {
		switch {
		case errors.Is(err, service.ErrRubricNotFound):
			return utils.SendError(c, fiber.StatusNotFound, "grading guide not found")
		case errors.Is(err, service.ErrRubricInUse):
			return utils.SendError(c, fiber.StatusConflict, "grading guide has active jobs")
		default:
			return h.internalError(c, err)
		}
	}
	return utils.SendSuccess(c, "grading guide deleted", fiber.Map{"id": id})
}

func (h *RubricHandler) internalError(c *fiber.Ctx, err error) error {
	h.logger.Error().Err(err).Msg("internal server error")
	return utils.SendError(c, fiber.StatusInternalServerError, "internal server error")
}
