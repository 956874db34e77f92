package service

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path"
	"sort"
	"strings"

	"github.com/rs/zerolog"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/ampapacek/SAGE/internal/models"
	"github.com/ampapacek/SAGE/internal/repository"
	"github.com/ampapacek/SAGE/internal/storage"
	"github.com/ampapacek/SAGE/pkg/grade"
)

// SubmissionService owns submissions: creation, file uploads, bulk ZIP
// import, and manual grade edits.
type SubmissionService interface {
	Get(ctx context.Context, submissionID uint) (models.Submission, error)
	ListByAssignment(ctx context.Context, assignmentID uint) ([]models.Submission, error)
	Create(ctx context.Context, assignmentID uint, studentIdentifier, submittedText string) (models.Submission, error)
	Delete(ctx context.Context, submissionID uint) error
	AddFile(ctx context.Context, submissionID uint, filename string, content io.Reader) (models.SubmissionFile, error)
	ImportZIP(ctx context.Context, assignmentID uint, archive io.ReaderAt, size int64) ([]models.Submission, error)
	LatestResult(ctx context.Context, submissionID, rubricVersionID uint) (models.GradeResult, error)
	EditResult(ctx context.Context, resultID uint, data map[string]interface{}) (models.GradeResult, error)
}

type submissionService struct {
	submissions repository.SubmissionRepository
	assignments repository.AssignmentRepository
	results     repository.ResultRepository
	store       *storage.Store
	logger      zerolog.Logger
}

// NewSubmissionService instantiates the service.
func NewSubmissionService(submissions repository.SubmissionRepository, assignments repository.AssignmentRepository,
	results repository.ResultRepository, store *storage.Store, logger zerolog.Logger) SubmissionService {
	return &submissionService{
		submissions: submissions,
		assignments: assignments,
		results:     results,
		store:       store,
		logger:      logger.With().Str("component", "submission_service").Logger(),
	}
}

func (s *submissionService) Get(ctx context.Context, submissionID uint) (models.Submission, error) {
	submission, err := s.submissions.GetByID(ctx, submissionID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return models.Submission{}, ErrSubmissionNotFound
		}
		return models.Submission{}, err
	}
	return submission, nil
}

func (s *submissionService) ListByAssignment(ctx context.Context, assignmentID uint) ([]models.Submission, error) {
	return s.submissions.ListByAssignment(ctx, assignmentID)
}

func (s *submissionService) Create(ctx context.Context, assignmentID uint, studentIdentifier, submittedText string) (models.Submission, error) {
	if _, err := s.assignments.GetByID(ctx, assignmentID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return models.Submission{}, ErrAssignmentNotFound
		}
		return models.Submission{}, err
	}

	submission := models.Submission{
		AssignmentID:      assignmentID,
		StudentIdentifier: studentIdentifier,
		SubmittedText:     submittedText,
	}
	if err := s.submissions.Create(ctx, &submission); err != nil {
		return models.Submission{}, fmt.Errorf("create submission: %w", err)
	}
	return submission, nil
}

func (s *submissionService) Delete(ctx context.Context, submissionID uint) error {
	if _, err := s.Get(ctx, submissionID); err != nil {
		return err
	}
	return s.submissions.Delete(ctx, submissionID)
}

// AddFile stores one uploaded file on disk and records it. The stored name is
// a fresh UUID; the sanitized original name is kept for display.
func (s *submissionService) AddFile(ctx context.Context, submissionID uint, filename string, content io.Reader) (models.SubmissionFile, error) {
	submission, err := s.Get(ctx, submissionID)
	if err != nil {
		return models.SubmissionFile{}, err
	}

	data, err := io.ReadAll(content)
	if err != nil {
		return models.SubmissionFile{}, fmt.Errorf("read upload: %w", err)
	}
	return s.recordFile(ctx, submission, filename, data)
}

func (s *submissionService) recordFile(ctx context.Context, submission models.Submission, filename string, data []byte) (models.SubmissionFile, error) {
	rel, safeName, err := s.store.SaveUpload(submission.AssignmentID, submission.ID, filename, bytes.NewReader(data))
	if err != nil {
		return models.SubmissionFile{}, err
	}

	file := models.SubmissionFile{
		SubmissionID:     submission.ID,
		FilePath:         rel,
		FileType:         storage.DetectFileType(safeName, data),
		OriginalFilename: safeName,
	}
	if err := s.submissions.AddFile(ctx, &file); err != nil {
		return models.SubmissionFile{}, fmt.Errorf("record submission file: %w", err)
	}
	return file, nil
}

// ImportZIP creates one submission per top-level archive entry: a directory
// prefix groups its files under one student, a root-level file becomes a
// single-file submission named after itself.
func (s *submissionService) ImportZIP(ctx context.Context, assignmentID uint, archive io.ReaderAt, size int64) ([]models.Submission, error) {
	if _, err := s.assignments.GetByID(ctx, assignmentID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrAssignmentNotFound
		}
		return nil, err
	}

	reader, err := zip.NewReader(archive, size)
	if err != nil {
		return nil, fmt.Errorf("open zip archive: %w", err)
	}

	groups := map[string][]*zip.File{}
	for _, entry := range reader.File {
		if entry.FileInfo().IsDir() {
			continue
		}
		name := path.Clean(strings.TrimPrefix(entry.Name, "/"))
		if name == "." || strings.HasPrefix(name, "..") {
			continue
		}
		base := path.Base(name)
		if strings.HasPrefix(base, ".") || strings.HasPrefix(base, "__MACOSX") {
			continue
		}
		prefix := name
		if idx := strings.IndexByte(name, '/'); idx >= 0 {
			prefix = name[:idx]
		} else {
			prefix = strings.TrimSuffix(base, path.Ext(base))
		}
		if prefix == "__MACOSX" {
			continue
		}
		groups[prefix] = append(groups[prefix], entry)
	}

	prefixes := make([]string, 0, len(groups))
	for prefix := range groups {
		prefixes = append(prefixes, prefix)
	}
	sort.Strings(prefixes)

	created := make([]models.Submission, 0, len(prefixes))
	for _, prefix := range prefixes {
		submission, err := s.Create(ctx, assignmentID, prefix, "")
		if err != nil {
			return created, err
		}
		for _, entry := range groups[prefix] {
			rc, err := entry.Open()
			if err != nil {
				return created, fmt.Errorf("open zip entry %s: %w", entry.Name, err)
			}
			data, err := io.ReadAll(rc)
			rc.Close()
			if err != nil {
				return created, fmt.Errorf("read zip entry %s: %w", entry.Name, err)
			}
			if _, err := s.recordFile(ctx, submission, path.Base(entry.Name), data); err != nil {
				return created, err
			}
		}
		// Reload with files attached.
		full, err := s.Get(ctx, submission.ID)
		if err != nil {
			return created, err
		}
		created = append(created, full)
	}
	return created, nil
}

func (s *submissionService) LatestResult(ctx context.Context, submissionID, rubricVersionID uint) (models.GradeResult, error) {
	result, err := s.results.Latest(ctx, submissionID, rubricVersionID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return models.GradeResult{}, ErrResultNotFound
		}
		return models.GradeResult{}, err
	}
	return result, nil
}

// EditResult replaces a result's grading JSON with instructor-edited data.
// The data must satisfy the same schema as model output; the rendering is
// rebuilt and any stored error is cleared.
func (s *submissionService) EditResult(ctx context.Context, resultID uint, data map[string]interface{}) (models.GradeResult, error) {
	result, err := s.results.GetByID(ctx, resultID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return models.GradeResult{}, ErrResultNotFound
		}
		return models.GradeResult{}, err
	}

	if err := grade.ValidateResult(data); err != nil {
		return models.GradeResult{}, err
	}
	jsonBytes, err := json.Marshal(data)
	if err != nil {
		return models.GradeResult{}, fmt.Errorf("encode grading result: %w", err)
	}

	result.TotalPoints = grade.TotalPoints(data)
	result.JSONResult = datatypes.JSON(jsonBytes)
	result.RenderedText = grade.Render(data)
	result.ErrorMessage = ""
	if err := s.results.Update(ctx, &result); err != nil {
		return models.GradeResult{}, fmt.Errorf("update grade result: %w", err)
	}
	return result, nil
}
