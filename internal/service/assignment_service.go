package service

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/ampapacek/SAGE/internal/config"
	"github.com/ampapacek/SAGE/internal/models"
	"github.com/ampapacek/SAGE/internal/queue"
	"github.com/ampapacek/SAGE/internal/repository"
	"github.com/ampapacek/SAGE/internal/storage"
	"github.com/ampapacek/SAGE/pkg/grade"
	"github.com/ampapacek/SAGE/pkg/llm"
)

// GenerateAssignmentOptions tune one assignment draft generation.
type GenerateAssignmentOptions struct {
	Provider          string
	Model             string
	ExtraInstructions string
}

// AssignmentService owns assignments: CRUD, LLM drafting from a topic, and
// the grade export.
type AssignmentService interface {
	List(ctx context.Context) ([]models.Assignment, error)
	Get(ctx context.Context, assignmentID uint) (models.Assignment, error)
	Create(ctx context.Context, title, assignmentText string) (models.Assignment, error)
	Update(ctx context.Context, assignmentID uint, title, assignmentText string) (models.Assignment, error)
	Delete(ctx context.Context, assignmentID uint) error
	GenerateDraft(ctx context.Context, topicText string, opts GenerateAssignmentOptions) (models.AssignmentGeneration, error)
	GetGeneration(ctx context.Context, generationID uint) (models.AssignmentGeneration, error)
	ExportCSV(ctx context.Context, assignmentID uint, w io.Writer) error
	Process(ctx context.Context, generationID uint) error
	BindQueue(backend queue.Backend)
}

type assignmentService struct {
	assignments repository.AssignmentRepository
	submissions repository.SubmissionRepository
	results     repository.ResultRepository
	store       *storage.Store
	providers   *ProviderDirectory
	gateway     GatewayFactory
	cfg         config.Config
	queue       queue.Backend
	logger      zerolog.Logger
	now         func() time.Time
}

// NewAssignmentService instantiates the service.
func NewAssignmentService(assignments repository.AssignmentRepository, submissions repository.SubmissionRepository,
	results repository.ResultRepository, store *storage.Store, providers *ProviderDirectory,
	gateway GatewayFactory, cfg config.Config, logger zerolog.Logger) AssignmentService {
	if gateway == nil {
		gateway = DefaultGatewayFactory
	}
	return &assignmentService{
		assignments: assignments,
		submissions: submissions,
		results:     results,
		store:       store,
		providers:   providers,
		gateway:     gateway,
		cfg:         cfg,
		logger:      logger.With().Str("component", "assignment_service").Logger(),
		now:         time.Now,
	}
}

func (s *assignmentService) BindQueue(backend queue.Backend) { s.queue = backend }

func (s *assignmentService) List(ctx context.Context) ([]models.Assignment, error) {
	return s.assignments.List(ctx)
}

func (s *assignmentService) Get(ctx context.Context, assignmentID uint) (models.Assignment, error) {
	assignment, err := s.assignments.GetByID(ctx, assignmentID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return models.Assignment{}, ErrAssignmentNotFound
		}
		return models.Assignment{}, err
	}
	return assignment, nil
}

func (s *assignmentService) Create(ctx context.Context, title, assignmentText string) (models.Assignment, error) {
	assignment := models.Assignment{Title: title, AssignmentText: assignmentText}
	if err := s.assignments.Create(ctx, &assignment); err != nil {
		return models.Assignment{}, fmt.Errorf("create assignment: %w", err)
	}
	return assignment, nil
}

func (s *assignmentService) Update(ctx context.Context, assignmentID uint, title, assignmentText string) (models.Assignment, error) {
	assignment, err := s.Get(ctx, assignmentID)
	if err != nil {
		return models.Assignment{}, err
	}
	assignment.Title = title
	assignment.AssignmentText = assignmentText
	if err := s.assignments.Update(ctx, &assignment); err != nil {
		return models.Assignment{}, fmt.Errorf("update assignment: %w", err)
	}
	return assignment, nil
}

// Delete removes the assignment with all dependents, then its on-disk
// uploads and derived artifacts.
func (s *assignmentService) Delete(ctx context.Context, assignmentID uint) error {
	if _, err := s.Get(ctx, assignmentID); err != nil {
		return err
	}
	if err := s.assignments.Delete(ctx, assignmentID); err != nil {
		return fmt.Errorf("delete assignment %d: %w", assignmentID, err)
	}
	if err := s.store.RemoveAssignmentData(assignmentID); err != nil {
		s.logger.Error().Err(err).Uint("assignment_id", assignmentID).Msg("could not remove assignment data")
	}
	return nil
}

// GenerateDraft creates a QUEUED generation record and hands it to the
// queue. The Assignment row is created only once the draft succeeds.
func (s *assignmentService) GenerateDraft(ctx context.Context, topicText string, opts GenerateAssignmentOptions) (models.AssignmentGeneration, error) {
	providerKey := opts.Provider
	if providerKey == "" {
		providerKey = s.cfg.LLMProvider
	}
	provider := s.providers.Resolve(providerKey)
	model := opts.Model
	if model == "" {
		model = provider.DefaultModel
	}

	generation := models.AssignmentGeneration{
		TopicText:         topicText,
		Status:            models.JobStatusQueued,
		LLMProvider:       providerKey,
		LLMModel:          model,
		ExtraInstructions: opts.ExtraInstructions,
	}
	if err := s.assignments.CreateGeneration(ctx, &generation); err != nil {
		return models.AssignmentGeneration{}, fmt.Errorf("create generation: %w", err)
	}

	handle, err := s.queue.Enqueue(ctx, queue.KindAssignmentDraft, generation.ID)
	if err != nil {
		finished := s.now().UTC()
		generation.Status = models.JobStatusError
		generation.ErrorMessage = fmt.Sprintf("Failed to enqueue: %v", err)
		generation.FinishedAt = &finished
		if updateErr := s.assignments.UpdateGeneration(ctx, &generation); updateErr != nil {
			s.logger.Error().Err(updateErr).Uint("generation_id", generation.ID).Msg("could not mark generation as failed")
		}
		return models.AssignmentGeneration{}, fmt.Errorf("enqueue assignment draft %d: %w", generation.ID, err)
	}

	generation.QueueJobID = handle
	if err := s.assignments.UpdateGeneration(ctx, &generation); err != nil {
		return models.AssignmentGeneration{}, fmt.Errorf("store queue handle: %w", err)
	}
	return generation, nil
}

func (s *assignmentService) GetGeneration(ctx context.Context, generationID uint) (models.AssignmentGeneration, error) {
	generation, err := s.assignments.GetGeneration(ctx, generationID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return models.AssignmentGeneration{}, ErrJobNotFound
		}
		return models.AssignmentGeneration{}, err
	}
	return generation, nil
}

// ExportCSV streams the latest grade per submission as CSV. Part columns are
// sized to the widest result so every row has the same shape.
func (s *assignmentService) ExportCSV(ctx context.Context, assignmentID uint, w io.Writer) error {
	if _, err := s.Get(ctx, assignmentID); err != nil {
		return err
	}
	submissions, err := s.submissions.ListByAssignment(ctx, assignmentID)
	if err != nil {
		return fmt.Errorf("list submissions: %w", err)
	}

	submissionIDs := make([]uint, 0, len(submissions))
	for _, submission := range submissions {
		submissionIDs = append(submissionIDs, submission.ID)
	}
	latest, err := s.results.LatestForSubmissions(ctx, submissionIDs)
	if err != nil {
		return fmt.Errorf("load grade results: %w", err)
	}

	type row struct {
		student      string
		total        string
		parts        []string
		renderedText string
	}
	rows := make([]row, 0, len(submissions))
	maxParts := 0
	for _, submission := range submissions {
		r := row{student: submission.StudentIdentifier}
		if result, ok := latest[submission.ID]; ok {
			if result.TotalPoints != nil {
				r.total = strings.TrimRight(strings.TrimRight(fmt.Sprintf("%.2f", *result.TotalPoints), "0"), ".")
			}
			var data map[string]interface{}
			if err := json.Unmarshal(result.JSONResult, &data); err == nil {
				r.parts = grade.PartPoints(data)
			}
			r.renderedText = result.RenderedText
		}
		if len(r.parts) > maxParts {
			maxParts = len(r.parts)
		}
		rows = append(rows, r)
	}

	writer := csv.NewWriter(w)
	header := []string{"student_identifier", "total_points"}
	for i := 1; i <= maxParts; i++ {
		header = append(header, fmt.Sprintf("part%d_points", i))
	}
	header = append(header, "rendered_text")
	if err := writer.Write(header); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}

	for _, r := range rows {
		record := []string{r.student, r.total}
		for i := 0; i < maxParts; i++ {
			if i < len(r.parts) {
				record = append(record, r.parts[i])
			} else {
				record = append(record, "")
			}
		}
		record = append(record, r.renderedText)
		if err := writer.Write(record); err != nil {
			return fmt.Errorf("write csv row: %w", err)
		}
	}

	writer.Flush()
	return writer.Error()
}

// Process executes one assignment draft generation. Invoked by the queue
// dispatcher.
func (s *assignmentService) Process(ctx context.Context, generationID uint) error {
	generation, err := s.assignments.GetGeneration(ctx, generationID)
	if err != nil {
		return fmt.Errorf("load generation %d: %w", generationID, err)
	}
	if generation.Status.Terminal() {
		return nil
	}

	started := s.now().UTC()
	generation.Status = models.JobStatusRunning
	generation.StartedAt = &started
	if err := s.assignments.UpdateGeneration(ctx, &generation); err != nil {
		return fmt.Errorf("mark generation %d running: %w", generationID, err)
	}

	provider := s.providers.Resolve(generation.LLMProvider)
	model := generation.LLMModel
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
	prompt := llm.BuildAssignmentDraftPrompt(generation.TopicText, llm.PromptOptions{
		FormattedOutput:        true,
		AdditionalInstructions: generation.ExtraInstructions,
	})

	result, err := client.Complete(ctx, prompt, nil)
	if err != nil {
		return s.failGeneration(ctx, &generation, llm.RawResponseText(err), fmt.Errorf("llm request: %w", err))
	}

	title, _ := result.Data["title"].(string)
	assignmentText, err := grade.NormalizeField(result.Data["assignment_text"], "assignment_text")
	if err != nil {
		return s.failGeneration(ctx, &generation, result.RawText, err)
	}
	if strings.TrimSpace(title) == "" {
		return s.failGeneration(ctx, &generation, result.RawText, errors.New("assignment draft has no title"))
	}
	if assignmentText == "" {
		return s.failGeneration(ctx, &generation, result.RawText, errors.New("assignment draft has no assignment_text"))
	}

	// A cancellation that landed during the call wins over the draft.
	fresh, err := s.assignments.GetGeneration(ctx, generationID)
	if err == nil && fresh.Status == models.JobStatusCancelled {
		s.logger.Info().Uint("generation_id", generationID).Msg("assignment generation cancelled, discarding draft")
		return nil
	}

	assignment := models.Assignment{Title: strings.TrimSpace(title), AssignmentText: assignmentText}
	if err := s.assignments.Create(ctx, &assignment); err != nil {
		return s.failGeneration(ctx, &generation, result.RawText, fmt.Errorf("create assignment: %w", err))
	}

	finished := s.now().UTC()
	generation.Status = models.JobStatusSuccess
	generation.AssignmentID = &assignment.ID
	generation.RawResponse = result.RawText
	generation.PromptTokens = result.Usage.PromptTokens
	generation.CompletionTokens = result.Usage.CompletionTokens
	generation.TotalTokens = result.Usage.TotalTokens
	generation.PriceEstimate = llm.EstimatePrice(result.Usage.PromptTokens, result.Usage.CompletionTokens,
		model, s.cfg.PriceInputPer1K, s.cfg.PriceOutputPer1K)
	generation.FinishedAt = &finished
	if err := s.assignments.UpdateGeneration(ctx, &generation); err != nil {
		return fmt.Errorf("finalize generation %d: %w", generationID, err)
	}

	s.logger.Info().Uint("generation_id", generationID).Uint("assignment_id", assignment.ID).
		Str("model", model).Msg("assignment draft generated")
	return nil
}

func (s *assignmentService) failGeneration(ctx context.Context, generation *models.AssignmentGeneration, rawText string, genErr error) error {
	finished := s.now().UTC()
	generation.Status = models.JobStatusError
	generation.ErrorMessage = genErr.Error()
	generation.RawResponse = rawText
	generation.FinishedAt = &finished
	if err := s.assignments.UpdateGeneration(ctx, generation); err != nil {
		s.logger.Error().Err(err).Uint("generation_id", generation.ID).Msg("could not finalize failed generation")
	}
	s.logger.Error().Err(genErr).Uint("generation_id", generation.ID).Msg("assignment generation failed")
	return genErr
}
