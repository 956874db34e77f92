package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/ampapacek/SAGE/internal/config"
	"github.com/ampapacek/SAGE/internal/models"
	"github.com/ampapacek/SAGE/internal/queue"
	"github.com/ampapacek/SAGE/internal/repository"
	"github.com/ampapacek/SAGE/pkg/grade"
	"github.com/ampapacek/SAGE/pkg/llm"
)

// GenerateRubricOptions tune one grading guide draft generation.
type GenerateRubricOptions struct {
	Provider          string
	Model             string
	ExtraInstructions string
}

// RubricService owns the grading guide lifecycle: manual authoring, LLM
// drafting, approval and cancellation.
type RubricService interface {
	Get(ctx context.Context, rubricID uint) (models.RubricVersion, error)
	ListByAssignment(ctx context.Context, assignmentID uint) ([]models.RubricVersion, error)
	CreateManual(ctx context.Context, assignmentID uint, rubricText, referenceSolutionText string) (models.RubricVersion, error)
	UpdateDraft(ctx context.Context, rubricID uint, rubricText, referenceSolutionText string) (models.RubricVersion, error)
	Generate(ctx context.Context, assignmentID uint, opts GenerateRubricOptions) (models.RubricVersion, error)
	Approve(ctx context.Context, rubricID uint) (models.RubricVersion, error)
	Cancel(ctx context.Context, rubricID uint) error
	Delete(ctx context.Context, rubricID uint) error
	Process(ctx context.Context, rubricID uint) error
	BindQueue(backend queue.Backend)
}

type rubricService struct {
	rubrics     repository.RubricRepository
	assignments repository.AssignmentRepository
	jobs        repository.JobRepository
	providers   *ProviderDirectory
	gateway     GatewayFactory
	cfg         config.Config
	queue       queue.Backend
	logger      zerolog.Logger
	now         func() time.Time
}

// NewRubricService instantiates the service.
func NewRubricService(rubrics repository.RubricRepository, assignments repository.AssignmentRepository,
	jobs repository.JobRepository, providers *ProviderDirectory, gateway GatewayFactory,
	cfg config.Config, logger zerolog.Logger) RubricService {
	if gateway == nil {
		gateway = DefaultGatewayFactory
	}
	return &rubricService{
		rubrics:     rubrics,
		assignments: assignments,
		jobs:        jobs,
		providers:   providers,
		gateway:     gateway,
		cfg:         cfg,
		logger:      logger.With().Str("component", "rubric_service").Logger(),
		now:         time.Now,
	}
}

func (s *rubricService) BindQueue(backend queue.Backend) { s.queue = backend }

func (s *rubricService) Get(ctx context.Context, rubricID uint) (models.RubricVersion, error) {
	rubric, err := s.rubrics.GetByID(ctx, rubricID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return models.RubricVersion{}, ErrRubricNotFound
		}
		return models.RubricVersion{}, err
	}
	return rubric, nil
}

func (s *rubricService) ListByAssignment(ctx context.Context, assignmentID uint) ([]models.RubricVersion, error) {
	return s.rubrics.ListByAssignment(ctx, assignmentID)
}

// CreateManual stores a hand-written guide as a DRAFT version. It still has
// to be approved before any job can grade against it.
func (s *rubricService) CreateManual(ctx context.Context, assignmentID uint, rubricText, referenceSolutionText string) (models.RubricVersion, error) {
	if _, err := s.assignments.GetByID(ctx, assignmentID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return models.RubricVersion{}, ErrAssignmentNotFound
		}
		return models.RubricVersion{}, err
	}

	rubric := models.RubricVersion{
		AssignmentID:          assignmentID,
		RubricText:            rubricText,
		ReferenceSolutionText: referenceSolutionText,
		Status:                models.RubricStatusDraft,
	}
	if err := s.rubrics.Create(ctx, &rubric); err != nil {
		return models.RubricVersion{}, fmt.Errorf("create grading guide: %w", err)
	}
	return rubric, nil
}

// UpdateDraft edits the text of a DRAFT version. Approved and archived
// versions are immutable history.
func (s *rubricService) UpdateDraft(ctx context.Context, rubricID uint, rubricText, referenceSolutionText string) (models.RubricVersion, error) {
	rubric, err := s.Get(ctx, rubricID)
	if err != nil {
		return models.RubricVersion{}, err
	}
	if rubric.Status != models.RubricStatusDraft {
		return models.RubricVersion{}, ErrRubricNotDraft
	}
	rubric.RubricText = rubricText
	rubric.ReferenceSolutionText = referenceSolutionText
	if err := s.rubrics.Update(ctx, &rubric); err != nil {
		return models.RubricVersion{}, fmt.Errorf("update grading guide: %w", err)
	}
	return rubric, nil
}

// Generate creates a GENERATING version and hands it to the queue. The draft
// text arrives asynchronously via Process.
func (s *rubricService) Generate(ctx context.Context, assignmentID uint, opts GenerateRubricOptions) (models.RubricVersion, error) {
	if _, err := s.assignments.GetByID(ctx, assignmentID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return models.RubricVersion{}, ErrAssignmentNotFound
		}
		return models.RubricVersion{}, err
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

	rubric := models.RubricVersion{
		AssignmentID:      assignmentID,
		Status:            models.RubricStatusGenerating,
		LLMProvider:       providerKey,
		LLMModel:          model,
		ExtraInstructions: opts.ExtraInstructions,
	}
	if err := s.rubrics.Create(ctx, &rubric); err != nil {
		return models.RubricVersion{}, fmt.Errorf("create guide version: %w", err)
	}

	if _, err := s.queue.Enqueue(ctx, queue.KindRubricDraft, rubric.ID); err != nil {
		finished := s.now().UTC()
		rubric.Status = models.RubricStatusError
		rubric.ErrorMessage = fmt.Sprintf("Failed to enqueue: %v", err)
		rubric.FinishedAt = &finished
		if updateErr := s.rubrics.Update(ctx, &rubric); updateErr != nil {
			s.logger.Error().Err(updateErr).Uint("rubric_id", rubric.ID).Msg("could not mark guide as failed")
		}
		return models.RubricVersion{}, fmt.Errorf("enqueue guide draft %d: %w", rubric.ID, err)
	}
	return rubric, nil
}

// Approve promotes a DRAFT version. The repository archives the previously
// approved version in the same transaction.
func (s *rubricService) Approve(ctx context.Context, rubricID uint) (models.RubricVersion, error) {
	rubric, err := s.Get(ctx, rubricID)
	if err != nil {
		return models.RubricVersion{}, err
	}
	if rubric.Status != models.RubricStatusDraft {
		return models.RubricVersion{}, ErrRubricNotDraft
	}
	if err := s.rubrics.Approve(ctx, rubricID); err != nil {
		return models.RubricVersion{}, fmt.Errorf("approve grading guide %d: %w", rubricID, err)
	}
	return s.Get(ctx, rubricID)
}

// Cancel stops a generation in flight. The runner observes the status change
// at its post-call checkpoint and discards any model output.
func (s *rubricService) Cancel(ctx context.Context, rubricID uint) error {
	rubric, err := s.Get(ctx, rubricID)
	if err != nil {
		return err
	}
	if rubric.Status != models.RubricStatusGenerating {
		return ErrRubricNotGenerating
	}
	finished := s.now().UTC()
	rubric.Status = models.RubricStatusCancelled
	rubric.FinishedAt = &finished
	return s.rubrics.Update(ctx, &rubric)
}

// Delete removes a guide version unless jobs are still queued or running
// against it.
func (s *rubricService) Delete(ctx context.Context, rubricID uint) error {
	if _, err := s.Get(ctx, rubricID); err != nil {
		return err
	}
	active, err := s.jobs.ActiveCountForRubric(ctx, rubricID)
	if err != nil {
		return fmt.Errorf("count active jobs: %w", err)
	}
	if active > 0 {
		return ErrRubricInUse
	}
	return s.rubrics.Delete(ctx, rubricID)
}

// Process executes one guide draft generation. Invoked by the queue
// dispatcher.
func (s *rubricService) Process(ctx context.Context, rubricID uint) error {
	rubric, err := s.rubrics.GetByID(ctx, rubricID)
	if err != nil {
		return fmt.Errorf("load guide version %d: %w", rubricID, err)
	}
	if rubric.Status == models.RubricStatusCancelled {
		return nil
	}
	if rubric.Status != models.RubricStatusGenerating {
		s.logger.Warn().Uint("rubric_id", rubricID).Str("status", string(rubric.Status)).
			Msg("guide version is not generating, skipping")
		return nil
	}

	assignment, err := s.assignments.GetByID(ctx, rubric.AssignmentID)
	if err != nil {
		return s.failGeneration(ctx, &rubric, "", fmt.Errorf("load assignment %d: %w", rubric.AssignmentID, err))
	}

	provider := s.providers.Resolve(rubric.LLMProvider)
	model := rubric.LLMModel
	if model == "" {
		model = provider.DefaultModel
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
	prompt := llm.BuildRubricDraftPrompt(assignment.AssignmentText,
		llm.PromptOptions{AdditionalInstructions: rubric.ExtraInstructions})

	result, err := client.Complete(ctx, prompt, nil)
	if err != nil {
		return s.failGeneration(ctx, &rubric, llm.RawResponseText(err), fmt.Errorf("llm request: %w", err))
	}

	rubricText, err := grade.NormalizeField(result.Data["rubric_text"], "rubric_text")
	if err != nil {
		return s.failGeneration(ctx, &rubric, result.RawText, err)
	}
	referenceText, err := grade.NormalizeField(result.Data["reference_solution_text"], "reference_solution_text")
	if err != nil {
		return s.failGeneration(ctx, &rubric, result.RawText, err)
	}
	if rubricText == "" {
		return s.failGeneration(ctx, &rubric, result.RawText, errors.New("draft response has no rubric_text"))
	}
	if referenceText == "" {
		return s.failGeneration(ctx, &rubric, result.RawText, errors.New("draft response has no reference_solution_text"))
	}

	// A cancellation that landed during the call wins over the draft.
	fresh, err := s.rubrics.GetByID(ctx, rubricID)
	if err == nil && fresh.Status == models.RubricStatusCancelled {
		s.logger.Info().Uint("rubric_id", rubricID).Msg("guide generation cancelled, discarding draft")
		return nil
	}

	finished := s.now().UTC()
	rubric.RubricText = rubricText
	rubric.ReferenceSolutionText = referenceText
	rubric.Status = models.RubricStatusDraft
	rubric.RawResponse = result.RawText
	rubric.PromptTokens = result.Usage.PromptTokens
	rubric.CompletionTokens = result.Usage.CompletionTokens
	rubric.TotalTokens = result.Usage.TotalTokens
	rubric.PriceEstimate = llm.EstimatePrice(result.Usage.PromptTokens, result.Usage.CompletionTokens,
		model, s.cfg.PriceInputPer1K, s.cfg.PriceOutputPer1K)
	rubric.FinishedAt = &finished
	if err := s.rubrics.Update(ctx, &rubric); err != nil {
		return fmt.Errorf("persist guide draft %d: %w", rubricID, err)
	}

	s.logger.Info().Uint("rubric_id", rubricID).Str("model", model).Msg("guide draft generated")
	return nil
}

func (s *rubricService) failGeneration(ctx context.Context, rubric *models.RubricVersion, rawText string, genErr error) error {
	finished := s.now().UTC()
	rubric.Status = models.RubricStatusError
	rubric.ErrorMessage = genErr.Error()
	rubric.RawResponse = rawText
	rubric.FinishedAt = &finished
	if err := s.rubrics.Update(ctx, rubric); err != nil {
		s.logger.Error().Err(err).Uint("rubric_id", rubric.ID).Msg("could not finalize failed generation")
	}
	s.logger.Error().Err(genErr).Uint("rubric_id", rubric.ID).Msg("guide generation failed")
	return genErr
}
