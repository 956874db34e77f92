package handler

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/ampapacek/SAGE/internal/dto"
	"github.com/ampapacek/SAGE/internal/service"
	"github.com/ampapacek/SAGE/internal/utils"
)

// JobHandler wires grading job HTTP routes.
type JobHandler struct {
	service service.GradingService
	logger  zerolog.Logger
}

// NewJobHandler constructs the handler.
func NewJobHandler(service service.GradingService, logger zerolog.Logger) *JobHandler {
	return &JobHandler{
		service: service,
		logger:  logger.With().Str("component", "job_handler").Logger(),
	}
}

// RegisterAssignmentScoped attaches the per-assignment job endpoints.
func (h *JobHandler) RegisterAssignmentScoped(router fiber.Router) {
	router.Get("/:id/jobs", h.listByAssignment)
}

// RegisterSubmissionScoped attaches the per-submission job endpoints.
func (h *JobHandler) RegisterSubmissionScoped(router fiber.Router) {
	router.Post("/:id/grade", h.enqueue)
	router.Get("/:id/jobs", h.listBySubmission)
}

// Register attaches job endpoints to the router group.
func (h *JobHandler) Register(router fiber.Router) {
	router.Get("/:id", h.get)
	router.Post("/:id/cancel", h.cancel)
}

func (h *JobHandler) enqueue(c *fiber.Ctx) error {
	submissionID, err := parseUintParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	var payload dto.JobCreateRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&payload); err != nil {
			return utils.SendError(c, fiber.StatusBadRequest, "invalid request body")
		}
	}

	job, err := h.service.Enqueue(c.Context(), submissionID, service.EnqueueJobOptions{
		Provider: payload.Provider,
		Model:    payload.Model,
	})
	if err != nil {
		switch {
		case errors.Is(err, service.ErrSubmissionNotFound):
			return utils.SendError(c, fiber.StatusNotFound, "submission not found")
		case errors.Is(err, service.ErrNoApprovedRubric):
			return utils.SendError(c, fiber.StatusConflict, "no approved grading guide for this assignment")
		default:
			return h.internalError(c, err)
		}
	}
	return utils.SendSuccessWithStatus(c, fiber.StatusAccepted, "grading job enqueued", dto.NewJobResponse(job))
}

func (h *JobHandler) get(c *fiber.Ctx) error {
	id, err := parseUintParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	job, err := h.service.Get(c.Context(), id)
	if err != nil {
		if errors.Is(err, service.ErrJobNotFound) {
			return utils.SendError(c, fiber.StatusNotFound, "grading job not found")
		}
		return h.internalError(c, err)
	}
	return utils.SendSuccess(c, "grading job retrieved", dto.NewJobResponse(job))
}

func (h *JobHandler) cancel(c *fiber.Ctx) error {
	id, err := parseUintParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	if err := h.service.Cancel(c.Context(), id); err != nil {
		if errors.Is(err, service.ErrJobNotFound) {
			return utils.SendError(c, fiber.StatusNotFound, "grading job not found")
		}
		return h.internalError(c, err)
	}
	return utils.SendSuccess(c, "grading job cancelled", fiber.Map{"id": id})
}

func (h *JobHandler) listByAssignment(c *fiber.Ctx) error {
	assignmentID, err := parseUintParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	jobs, err := h.service.ListByAssignment(c.Context(), assignmentID)
	if err != nil {
		return h.internalError(c, err)
	}
	return utils.SendSuccess(c, "grading jobs retrieved", dto.NewJobResponseSlice(jobs))
}

func (h *JobHandler) listBySubmission(c *fiber.Ctx) error {
	submissionID, err := parseUintParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	jobs, err := h.service.ListBySubmission(c.Context(), submissionID)
	if err != nil {
		return h.internalError(c, err)
	}
	return utils.SendSuccess(c, "grading jobs retrieved", dto.NewJobResponseSlice(jobs))
}

func (h *JobHandler) internalError(c *fiber.Ctx, err error) error {
	h.logger.Error().Err(err).Msg("internal server error")
	return utils.SendError(c, fiber.StatusInternalServerError, "internal server error")
}
