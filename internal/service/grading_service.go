package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/ampapacek/SAGE/internal/config"
	"github.com/ampapacek/SAGE/internal/models"
	"github.com/ampapacek/SAGE/internal/queue"
	"github.com/ampapacek/SAGE/internal/repository"
	"github.com/ampapacek/SAGE/internal/storage"
	"github.com/ampapacek/SAGE/pkg/grade"
	"github.com/ampapacek/SAGE/pkg/llm"
	"github.com/ampapacek/SAGE/pkg/pdf"
)

const cancelledNote = "Cancelled by user."

// errRunCancelled aborts a run after a cancellation checkpoint fired. It
// never leaves the service.
var errRunCancelled = errors.New("run cancelled")

// EnqueueJobOptions selects the provider and model for one grading run. Empty
// fields fall back to the configured defaults.
type EnqueueJobOptions struct {
	Provider string
	Model    string
}

// GradingService owns the grading job lifecycle: creating QUEUED jobs,
// cooperative cancellation, and the full run executed by queue workers.
type GradingService interface {
	Enqueue(ctx context.Context, submissionID uint, opts EnqueueJobOptions) (models.GradingJob, error)
	Get(ctx context.Context, jobID uint) (models.GradingJob, error)
	ListByAssignment(ctx context.Context, assignmentID uint) ([]models.GradingJob, error)
	ListBySubmission(ctx context.Context, submissionID uint) ([]models.GradingJob, error)
	Cancel(ctx context.Context, jobID uint) error
	Process(ctx context.Context, jobID uint) error
	BindQueue(backend queue.Backend)
}

// GradingServiceDeps wires the grading service. Queue is bound after
// construction because the queue dispatcher needs Process first.
type GradingServiceDeps struct {
	Jobs        repository.JobRepository
	Submissions repository.SubmissionRepository
	Assignments repository.AssignmentRepository
	Rubrics     repository.RubricRepository
	Results     repository.ResultRepository
	Store       *storage.Store
	Providers   *ProviderDirectory
	Gateway     GatewayFactory
	Config      config.Config
	Logger      zerolog.Logger
}

type gradingService struct {
	jobs        repository.JobRepository
	submissions repository.SubmissionRepository
	assignments repository.AssignmentRepository
	rubrics     repository.RubricRepository
	results     repository.ResultRepository
	store       *storage.Store
	providers   *ProviderDirectory
	gateway     GatewayFactory
	cfg         config.Config
	queue       queue.Backend
	logger      zerolog.Logger
	now         func() time.Time
}

// NewGradingService instantiates the service.
func NewGradingService(deps GradingServiceDeps) GradingService {
	gateway := deps.Gateway
	if gateway == nil {
		gateway = DefaultGatewayFactory
	}
	return &gradingService{
		jobs:        deps.Jobs,
		submissions: deps.Submissions,
		assignments: deps.Assignments,
		rubrics:     deps.Rubrics,
		results:     deps.Results,
		store:       deps.Store,
		providers:   deps.Providers,
		gateway:     gateway,
		cfg:         deps.Config,
		logger:      deps.Logger.With().Str("component", "grading_service").Logger(),
		now:         time.Now,
	}
}

// BindQueue attaches the queue backend once it exists. Must be called before
// Enqueue is used.
func (s *gradingService) BindQueue(backend queue.Backend) { s.queue = backend }

func (s *gradingService) Enqueue(ctx context.Context, submissionID uint, opts EnqueueJobOptions) (models.GradingJob, error) {
	submission, err := s.submissions.GetByID(ctx, submissionID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return models.GradingJob{}, ErrSubmissionNotFound
		}
		return models.GradingJob{}, fmt.Errorf("load submission %d: %w", submissionID, err)
	}

	rubric, err := s.rubrics.ApprovedForAssignment(ctx, submission.AssignmentID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return models.GradingJob{}, ErrNoApprovedRubric
		}
		return models.GradingJob{}, fmt.Errorf("load approved guide: %w", err)
	}

	providerKey := opts.Provider
	if providerKey == "" {
		providerKey = s.cfg.LLMProvider
	}
	provider := s.providers.Resolve(providerKey)
	model := opts.Model
	if model == "" {
		model = provider.DefaultModel
	}

	// A rerun is always a fresh row; finished jobs are immutable history.
	job := models.GradingJob{
		AssignmentID:    submission.AssignmentID,
		SubmissionID:    submission.ID,
		RubricVersionID: rubric.ID,
		Status:          models.JobStatusQueued,
		LLMProvider:     providerKey,
		LLMModel:        model,
	}
	if err := s.jobs.Create(ctx, &job); err != nil {
		return models.GradingJob{}, fmt.Errorf("create grading job: %w", err)
	}

	handle, err := s.queue.Enqueue(ctx, queue.KindSubmissionGrading, job.ID)
	if err != nil {
		finished := s.now().UTC()
		job.Status = models.JobStatusError
		job.Message = fmt.Sprintf("Failed to enqueue: %v", err)
		job.FinishedAt = &finished
		if updateErr := s.jobs.Update(ctx, &job); updateErr != nil {
			s.logger.Error().Err(updateErr).Uint("job_id", job.ID).Msg("could not mark job as failed")
		}
		return models.GradingJob{}, fmt.Errorf("enqueue grading job %d: %w", job.ID, err)
	}

	job.QueueJobID = handle
	if err := s.jobs.Update(ctx, &job); err != nil {
		return models.GradingJob{}, fmt.Errorf("store queue handle: %w", err)
	}
	return job, nil
}

func (s *gradingService) Get(ctx context.Context, jobID uint) (models.GradingJob, error) {
	job, err := s.jobs.GetByID(ctx, jobID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return models.GradingJob{}, ErrJobNotFound
		}
		return models.GradingJob{}, err
	}
	return job, nil
}

func (s *gradingService) ListByAssignment(ctx context.Context, assignmentID uint) ([]models.GradingJob, error) {
	return s.jobs.ListByAssignment(ctx, assignmentID)
}

func (s *gradingService) ListBySubmission(ctx context.Context, submissionID uint) ([]models.GradingJob, error) {
	return s.jobs.ListBySubmission(ctx, submissionID)
}

// Cancel requests cooperative cancellation. Terminal jobs are left untouched
// so cancelling twice, or after completion, is a no-op.
func (s *gradingService) Cancel(ctx context.Context, jobID uint) error {
	job, err := s.jobs.GetByID(ctx, jobID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrJobNotFound
		}
		return err
	}
	if job.Status.Terminal() {
		return nil
	}
	return s.jobs.Cancel(ctx, jobID)
}

// Process executes one grading job end to end. It is invoked by the queue
// dispatcher and re-reads the persisted status at fixed checkpoints so a
// cancellation written by the API process wins over work in flight.
func (s *gradingService) Process(ctx context.Context, jobID uint) error {
	job, err := s.jobs.GetByID(ctx, jobID)
	if err != nil {
		return fmt.Errorf("load grading job %d: %w", jobID, err)
	}

	// Checkpoint: cancelled while still queued.
	if job.Status == models.JobStatusCancelled {
		s.finalizeCancelled(ctx, job.ID, nil)
		return nil
	}

	provider := s.providers.Resolve(job.LLMProvider)
	model := job.LLMModel
	if model == "" {
		model = provider.DefaultModel
	}

	started := s.now().UTC()
	job.Status = models.JobStatusRunning
	job.StartedAt = &started
	job.LLMModel = model
	if err := s.jobs.Update(ctx, &job); err != nil {
		return fmt.Errorf("mark job %d running: %w", jobID, err)
	}

	summary := []string{
		fmt.Sprintf("Provider: %s", provider.Name),
		fmt.Sprintf("Model: %s", model),
		fmt.Sprintf("JSON mode: %t", s.cfg.UseJSONMode),
	}

	rawText, runErr := s.run(ctx, &job, provider, model, &summary)
	if runErr != nil {
		if errors.Is(runErr, errRunCancelled) {
			return nil
		}
		s.fail(ctx, &job, summary, rawText, runErr)
		return runErr
	}

	finished := s.now().UTC()
	job.Status = models.JobStatusSuccess
	job.FinishedAt = &finished
	summary = append(summary, fmt.Sprintf("Duration: %s", finished.Sub(started).Round(time.Millisecond)))
	job.Message = strings.Join(summary, "\n")
	if err := s.jobs.Update(ctx, &job); err != nil {
		return fmt.Errorf("finalize job %d: %w", jobID, err)
	}

	s.logger.Info().Uint("job_id", job.ID).Uint("submission_id", job.SubmissionID).
		Str("model", model).Msg("grading job succeeded")
	return nil
}

// run performs the graded work between the RUNNING transition and the
// terminal transition. On success it persists the grade result itself; on
// failure it returns the raw provider text (possibly empty) for the caller to
// persist alongside the error.
func (s *gradingService) run(ctx context.Context, job *models.GradingJob, provider ProviderConfig, model string, summary *[]string) (string, error) {
	rubric, err := s.rubrics.GetByID(ctx, job.RubricVersionID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", ErrNoApprovedRubric
		}
		return "", fmt.Errorf("load grading guide %d: %w", job.RubricVersionID, err)
	}
	if !rubric.IsApproved() {
		return "", ErrNoApprovedRubric
	}

	submission, err := s.submissions.GetByID(ctx, job.SubmissionID)
	if err != nil {
		return "", fmt.Errorf("load submission %d: %w", job.SubmissionID, err)
	}
	assignment, err := s.assignments.GetByID(ctx, job.AssignmentID)
	if err != nil {
		return "", fmt.Errorf("load assignment %d: %w", job.AssignmentID, err)
	}

	uploadedImages := 0
	var pdfErrors []string
	for _, file := range submission.Files {
		switch file.FileType {
		case models.FileTypeImage:
			uploadedImages++
		case models.FileTypePDF:
			outDir, err := s.store.PDFDir(job.AssignmentID, job.SubmissionID, file.ID)
			if err != nil {
				return "", err
			}
			line, err := s.preprocessPDF(s.store.Resolve(file.FilePath), outDir, file.OriginalFilename)
			*summary = append(*summary, line)
			if err != nil {
				pdfErrors = append(pdfErrors, fmt.Sprintf("%s: %v", file.OriginalFilename, err))
			}
		}
	}

	// Checkpoint: after preprocessing.
	if s.cancelRequested(ctx, job.ID) {
		s.finalizeCancelled(ctx, job.ID, *summary)
		return "", errRunCancelled
	}

	imagePaths := s.store.CollectImages(submission)
	renderedImages := len(imagePaths) - uploadedImages

	var textParts []string
	if trimmed := strings.TrimSpace(submission.SubmittedText); trimmed != "" {
		textParts = append(textParts, trimmed)
	}
	for _, file := range submission.Files {
		if file.FileType != models.FileTypeText {
			continue
		}
		data, err := os.ReadFile(s.store.Resolve(file.FilePath))
		if err != nil {
			*summary = append(*summary, fmt.Sprintf("Text file %s unreadable: %v", file.OriginalFilename, err))
			continue
		}
		if trimmed := strings.TrimSpace(string(data)); trimmed != "" {
			textParts = append(textParts, trimmed)
		}
	}
	for _, text := range s.store.CollectProcessedText(submission) {
		if trimmed := strings.TrimSpace(text); trimmed != "" {
			textParts = append(textParts, trimmed)
		}
	}
	studentText := strings.Join(textParts, "\n\n")

	*summary = append(*summary,
		fmt.Sprintf("Images: %d uploaded, %d rendered", uploadedImages, renderedImages),
		fmt.Sprintf("Text: %d chars from %d sources", len(studentText), len(textParts)))

	// Never call the gateway with nothing to grade.
	if studentText == "" && len(imagePaths) == 0 {
		if len(pdfErrors) > 0 {
			return "", fmt.Errorf("%w (%s)", ErrNoGradableContent, strings.Join(pdfErrors, "; "))
		}
		return "", ErrNoGradableContent
	}

	// Checkpoint: before the gateway call.
	if s.cancelRequested(ctx, job.ID) {
		s.finalizeCancelled(ctx, job.ID, *summary)
		return "", errRunCancelled
	}

	client := s.gateway(llm.Config{
		BaseURL:         provider.BaseURL,
		APIKey:          provider.APIKey,
		Model:           model,
		MaxOutputTokens: s.cfg.MaxOutputTokens,
		JSONMode:        s.cfg.UseJSONMode,
		Timeout:         s.cfg.RequestTimeout,
		Logger:          s.logger,
	})
	prompt := llm.BuildGradingPrompt(assignment.AssignmentText, rubric.RubricText,
		rubric.ReferenceSolutionText, studentText, llm.PromptOptions{FormattedOutput: true})

	result, err := client.Complete(ctx, prompt, imagePaths)
	if err != nil {
		return llm.RawResponseText(err), fmt.Errorf("llm request: %w", err)
	}

	if err := grade.ValidateResult(result.Data); err != nil {
		return result.RawText, fmt.Errorf("grading result failed validation: %w", err)
	}

	imageTokens := len(imagePaths) * s.cfg.ImageTokensPerImage
	job.PromptTokens = result.Usage.PromptTokens
	job.CompletionTokens = result.Usage.CompletionTokens
	job.TotalTokens = result.Usage.TotalTokens
	job.PriceEstimate = llm.EstimatePrice(result.Usage.PromptTokens+imageTokens,
		result.Usage.CompletionTokens, model, s.cfg.PriceInputPer1K, s.cfg.PriceOutputPer1K)

	*summary = append(*summary,
		fmt.Sprintf("LLM usage: prompt=%d (+%d image estimate), completion=%d, total=%d",
			result.Usage.PromptTokens, imageTokens, result.Usage.CompletionTokens, result.Usage.TotalTokens),
		fmt.Sprintf("API: %s (protocol fallback=%t, json mode fallback=%t)",
			result.Meta.APIUsed, result.Meta.APIFallback, result.Meta.JSONModeFallback))
	if job.PriceEstimate != nil {
		*summary = append(*summary, fmt.Sprintf("Price estimate: $%.6f", *job.PriceEstimate))
	}

	// Checkpoint: after the gateway call. A cancellation that lands here
	// discards the model output.
	if s.cancelRequested(ctx, job.ID) {
		s.finalizeCancelled(ctx, job.ID, *summary)
		return "", errRunCancelled
	}

	jsonBytes, err := json.Marshal(result.Data)
	if err != nil {
		return result.RawText, fmt.Errorf("encode grading result: %w", err)
	}

	gradeResult, exists, err := s.latestOrNewResult(ctx, job.SubmissionID, job.RubricVersionID)
	if err != nil {
		return result.RawText, err
	}
	gradeResult.TotalPoints = grade.TotalPoints(result.Data)
	gradeResult.JSONResult = datatypes.JSON(jsonBytes)
	gradeResult.RenderedText = grade.Render(result.Data)
	gradeResult.RawResponse = result.RawText
	gradeResult.ErrorMessage = ""
	if err := s.saveResult(ctx, &gradeResult, exists); err != nil {
		return result.RawText, fmt.Errorf("persist grade result: %w", err)
	}
	return result.RawText, nil
}

// preprocessPDF extracts text from one PDF and rasterizes its pages when the
// text alone is not trustworthy: embedded images, too few pages with text, or
// too little text overall. It returns a one-line decision record for the run
// summary.
func (s *gradingService) preprocessPDF(pdfPath, outDir, name string) (string, error) {
	text, stats, extractErr := pdf.ExtractText(pdfPath, outDir)

	needRender := false
	reason := ""
	switch {
	case extractErr != nil:
		needRender = true
		reason = fmt.Sprintf("text extraction failed: %v", extractErr)
	case stats.ImageCount > 0:
		needRender = true
		reason = fmt.Sprintf("%d embedded images", stats.ImageCount)
	case stats.Pages > 0 && float64(stats.PagesWithText)/float64(stats.Pages) < s.cfg.PDFTextMinRatio:
		needRender = true
		reason = fmt.Sprintf("text on only %d/%d pages", stats.PagesWithText, stats.Pages)
	case len(strings.TrimSpace(text)) < s.cfg.PDFTextMinChars:
		needRender = true
		reason = fmt.Sprintf("only %d chars of text", stats.TotalChars)
	}

	if !needRender {
		cachedSuffix := ""
		if stats.Cached {
			cachedSuffix = ", cached"
		}
		return fmt.Sprintf("PDF %s: text only (%d chars, %d/%d pages%s)",
			name, stats.TotalChars, stats.PagesWithText, stats.Pages, cachedSuffix), nil
	}

	pages, renderErr := pdf.RenderImages(pdfPath, outDir, s.cfg.PDFDPI)
	if renderErr != nil {
		return fmt.Sprintf("PDF %s: %s; render failed: %v", name, reason, renderErr), renderErr
	}
	return fmt.Sprintf("PDF %s: %s; rendered %d pages", name, reason, len(pages)), nil
}

// fail moves the job to ERROR and, unless the failure happened before any
// grading content existed, records the error and raw provider text on the
// grade result so the instructor can see both.
func (s *gradingService) fail(ctx context.Context, job *models.GradingJob, summary []string, rawText string, runErr error) {
	inputFailure := errors.Is(runErr, ErrNoApprovedRubric) || errors.Is(runErr, ErrNoGradableContent)
	if !inputFailure {
		gradeResult, exists, err := s.latestOrNewResult(ctx, job.SubmissionID, job.RubricVersionID)
		if err == nil {
			gradeResult.ErrorMessage = runErr.Error()
			gradeResult.RawResponse = rawText
			if len(gradeResult.JSONResult) == 0 {
				gradeResult.JSONResult = datatypes.JSON("{}")
			}
			if saveErr := s.saveResult(ctx, &gradeResult, exists); saveErr != nil {
				s.logger.Error().Err(saveErr).Uint("job_id", job.ID).Msg("could not persist failed result")
			}
		}
	}

	finished := s.now().UTC()
	job.Status = models.JobStatusError
	job.FinishedAt = &finished
	summary = append(summary, fmt.Sprintf("Error: %v", runErr))
	job.Message = strings.Join(summary, "\n")
	if err := s.jobs.Update(ctx, job); err != nil {
		s.logger.Error().Err(err).Uint("job_id", job.ID).Msg("could not finalize failed job")
	}

	s.logger.Error().Err(runErr).Uint("job_id", job.ID).Uint("submission_id", job.SubmissionID).
		Msg("grading job failed")
}

// cancelRequested re-reads the persisted status so cancellations written by
// another process are seen.
func (s *gradingService) cancelRequested(ctx context.Context, jobID uint) bool {
	status, err := s.jobs.Status(ctx, jobID)
	return err == nil && status == models.JobStatusCancelled
}

// finalizeCancelled stamps a cancelled job with its finish time and the work
// summary gathered so far. Safe to call more than once.
func (s *gradingService) finalizeCancelled(ctx context.Context, jobID uint, summary []string) {
	job, err := s.jobs.GetByID(ctx, jobID)
	if err != nil {
		s.logger.Error().Err(err).Uint("job_id", jobID).Msg("could not load cancelled job")
		return
	}
	job.Status = models.JobStatusCancelled
	if job.FinishedAt == nil {
		finished := s.now().UTC()
		job.FinishedAt = &finished
	}
	if !strings.Contains(job.Message, cancelledNote) {
		lines := append(append([]string{}, summary...), cancelledNote)
		job.Message = strings.Join(lines, "\n")
	}
	if err := s.jobs.Update(ctx, &job); err != nil {
		s.logger.Error().Err(err).Uint("job_id", jobID).Msg("could not finalize cancelled job")
	}
}

func (s *gradingService) latestOrNewResult(ctx context.Context, submissionID, rubricVersionID uint) (models.GradeResult, bool, error) {
	result, err := s.results.Latest(ctx, submissionID, rubricVersionID)
	if err == nil {
		return result, true, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return models.GradeResult{}, false, fmt.Errorf("load grade result: %w", err)
	}
	return models.GradeResult{
		SubmissionID:    submissionID,
		RubricVersionID: rubricVersionID,
		JSONResult:      datatypes.JSON("{}"),
	}, false, nil
}

func (s *gradingService) saveResult(ctx context.Context, result *models.GradeResult, exists bool) error {
	if exists {
		return s.results.Update(ctx, result)
	}
	return s.results.Create(ctx, result)
}
