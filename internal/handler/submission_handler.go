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

// SubmissionHandler wires submission HTTP routes.
type SubmissionHandler struct {
	service   service.SubmissionService
	validator *validator.Validate
	logger    zerolog.Logger
}

// NewSubmissionHandler constructs the handler.
func NewSubmissionHandler(service service.SubmissionService, validator *validator.Validate, logger zerolog.Logger) *SubmissionHandler {
	return &SubmissionHandler{
		service:   service,
		validator: validator,
		logger:    logger.With().Str("component", "submission_handler").Logger(),
	}
}

// RegisterAssignmentScoped attaches the per-assignment submission endpoints.
func (h *SubmissionHandler) RegisterAssignmentScoped(router fiber.Router) {
	router.Get("/:id/submissions", h.list)
	router.Post("/:id/submissions", h.create)
	router.Post("/:id/submissions/import", h.importZIP)
}

// Register attaches submission endpoints to the router group.
func (h *SubmissionHandler) Register(router fiber.Router) {
	router.Get("/:id", h.get)
	router.Delete("/:id", h.delete)
	router.Post("/:id/files", h.upload)
	router.Get("/:id/results/latest", h.latestResult)
}

// RegisterResults attaches grade result endpoints to the router group.
func (h *SubmissionHandler) RegisterResults(router fiber.Router) {
	router.Patch("/:id", h.editResult)
}

func (h *SubmissionHandler) list(c *fiber.Ctx) error {
	assignmentID, err := parseUintParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	submissions, err := h.service.ListByAssignment(c.Context(), assignmentID)
	if err != nil {
		return h.internalError(c, err)
	}
	return utils.SendSuccess(c, "submissions retrieved", dto.NewSubmissionResponseSlice(submissions))
}

func (h *SubmissionHandler) get(c *fiber.Ctx) error {
	id, err := parseUintParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	submission, err := h.service.Get(c.Context(), id)
	if err != nil {
		if errors.Is(err, service.ErrSubmissionNotFound) {
			return utils.SendError(c, fiber.StatusNotFound, "submission not found")
		}
		return h.internalError(c, err)
	}
	return utils.SendSuccess(c, "submission retrieved", dto.NewSubmissionResponse(submission))
}

func (h *SubmissionHandler) create(c *fiber.Ctx) error {
	assignmentID, err := parseUintParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	var payload dto.SubmissionCreateRequest
	if err := c.BodyParser(&payload); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid request body")
	}
	if err := h.validator.Struct(payload); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	submission, err := h.service.Create(c.Context(), assignmentID, payload.StudentIdentifier, payload.SubmittedText)
	if err != nil {
		if errors.Is(err, service.ErrAssignmentNotFound) {
			return utils.SendError(c, fiber.StatusNotFound, "assignment not found")
		}
		return h.internalError(c, err)
	}
	return utils.SendSuccessWithStatus(c, fiber.StatusCreated, "submission created", dto.NewSubmissionResponse(submission))
}

func (h *SubmissionHandler) delete(c *fiber.Ctx) error {
	id, err := parseUintParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	if err := h.service.Delete(c.Context(), id); err != nil {
		if errors.Is(err, service.ErrSubmissionNotFound) {
			return utils.SendError(c, fiber.StatusNotFound, "submission not found")
		}
		return h.internalError(c, err)
	}
	return utils.SendSuccess(c, "submission deleted", fiber.Map{"id": id})
}

func (h *SubmissionHandler) upload(c *fiber.Ctx) error {
	id, err := parseUintParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	header, err := c.FormFile("file")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "file field is required")
	}
	file, err := header.Open()
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "could not open uploaded file")
	}
	defer file.Close()

	saved, err := h.service.AddFile(c.Context(), id, header.Filename, file)
	if err != nil {
		if errors.Is(err, service.ErrSubmissionNotFound) {
			return utils.SendError(c, fiber.StatusNotFound, "submission not found")
		}
		return h.internalError(c, err)
	}
	return utils.SendSuccessWithStatus(c, fiber.StatusCreated, "file uploaded", fiber.Map{
		"id":                saved.ID,
		"file_type":         saved.FileType,
		"original_filename": saved.OriginalFilename,
	})
}

func (h *SubmissionHandler) importZIP(c *fiber.Ctx) error {
	assignmentID, err := parseUintParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	header, err := c.FormFile("archive")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "archive field is required")
	}
	file, err := header.Open()
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "could not open uploaded archive")
	}
	defer file.Close()

	created, err := h.service.ImportZIP(c.Context(), assignmentID, file, header.Size)
	if err != nil {
		if errors.Is(err, service.ErrAssignmentNotFound) {
			return utils.SendError(c, fiber.StatusNotFound, "assignment not found")
		}
		return h.internalError(c, err)
	}
	return utils.SendSuccessWithStatus(c, fiber.StatusCreated, "submissions imported", dto.NewSubmissionResponseSlice(created))
}

func (h *SubmissionHandler) latestResult(c *fiber.Ctx) error {
	id, err := parseUintParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}
	rubricVersionID, err := parseUintQuery(c, "rubric_version_id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}
	if rubricVersionID == 0 {
		return utils.SendError(c, fiber.StatusBadRequest, "rubric_version_id query parameter is required")
	}

	result, err := h.service.LatestResult(c.Context(), id, rubricVersionID)
	if err != nil {
		if errors.Is(err, service.ErrResultNotFound) {
			return utils.SendError(c, fiber.StatusNotFound, "grade result not found")
		}
		return h.internalError(c, err)
	}
	return utils.SendSuccess(c, "grade result retrieved", dto.NewResultResponse(result))
}

func (h *SubmissionHandler) editResult(c *fiber.Ctx) error {
	id, err := parseUintParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	var payload dto.ResultEditRequest
	if err := c.BodyParser(&payload); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid request body")
	}
	if err := h.validator.Struct(payload); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	result, err := h.service.EditResult(c.Context(), id, payload.Data)
	if err != nil {
		if errors.Is(err, service.ErrResultNotFound) {
			return utils.SendError(c, fiber.StatusNotFound, "grade result not found")
		}
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}
	return utils.SendSuccess(c, "grade result updated", dto.NewResultResponse(result))
}

func (h *SubmissionHandler) internalError(c *fiber.Ctx, err error) error {
	h.logger.Error().Err(err).Msg("internal server error")
	return utils.SendError(c, fiber.StatusInternalServerError, "internal server error")
}
