// Package storage manages the on-disk data root: raw uploads and derived
// artifacts. The directory layout doubles as the idempotent cache key space
// for PDF preprocessing, so concurrent jobs never write the same path.
package storage

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"

	"github.com/ampapacek/SAGE/internal/models"
)

// Store resolves all paths under a single data root.
type Store struct {
	root string
}

// New returns a Store rooted at dir, creating it if needed.
func New(dir string) (*Store, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolve data dir: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	return &Store{root: abs}, nil
}

// Root returns the absolute data root.
func (s *Store) Root() string { return s.root }

// UploadDir returns (and creates) the raw-upload directory for a submission.
func (s *Store) UploadDir(assignmentID, submissionID uint) (string, error) {
	dir := filepath.Join(s.root, "uploads",
		fmt.Sprintf("assignment_%d", assignmentID), fmt.Sprintf("submission_%d", submissionID))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create upload dir: %w", err)
	}
	return dir, nil
}

// ProcessedDir returns (and creates) the derived-artifact directory for a
// submission.
func (s *Store) ProcessedDir(assignmentID, submissionID uint) (string, error) {
	dir := filepath.Join(s.root, "processed",
		fmt.Sprintf("assignment_%d", assignmentID), fmt.Sprintf("submission_%d", submissionID))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create processed dir: %w", err)
	}
	return dir, nil
}

// PDFDir returns the per-file cache directory for one PDF's derived text and
// page images. Unique per (assignment, submission, file id).
func (s *Store) PDFDir(assignmentID, submissionID, fileID uint) (string, error) {
	base, err := s.ProcessedDir(assignmentID, submissionID)
	if err != nil {
		return "", err
	}
	return filepath.Join(base, fmt.Sprintf("pdf_%d", fileID)), nil
}

// Resolve turns a stored relative path into an absolute one.
func (s *Store) Resolve(rel string) string {
	return filepath.Join(s.root, filepath.FromSlash(rel))
}

// Rel converts an absolute path under the root into the relative form kept in
// the database.
func (s *Store) Rel(abs string) (string, error) {
	rel, err := filepath.Rel(s.root, abs)
	if err != nil {
		return "", fmt.Errorf("path %s outside data root: %w", abs, err)
	}
	return filepath.ToSlash(rel), nil
}

var unsafeFilenameChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// SafeFilename flattens an arbitrary client filename into something safe to
// persist and display.
func SafeFilename(name string) string {
	name = filepath.Base(filepath.ToSlash(name))
	name = unsafeFilenameChars.ReplaceAllString(name, "_")
	name = strings.Trim(name, "._")
	if name == "" {
		name = "upload"
	}
	return name
}

// SaveUpload stores file content under a fresh UUID name inside the
// submission's upload directory and returns the relative stored path plus the
// sanitized original name.
func (s *Store) SaveUpload(assignmentID, submissionID uint, originalName string, r io.Reader) (string, string, error) {
	dir, err := s.UploadDir(assignmentID, submissionID)
	if err != nil {
		return "", "", err
	}

	safeName := SafeFilename(originalName)
	ext := strings.ToLower(filepath.Ext(safeName))
	destPath := filepath.Join(dir, uuid.NewString()+ext)

	dest, err := os.Create(destPath)
	if err != nil {
		return "", "", fmt.Errorf("create upload file: %w", err)
	}
	if _, err := io.Copy(dest, r); err != nil {
		dest.Close()
		return "", "", fmt.Errorf("write upload file: %w", err)
	}
	if err := dest.Close(); err != nil {
		return "", "", fmt.Errorf("close upload file: %w", err)
	}

	rel, err := s.Rel(destPath)
	if err != nil {
		return "", "", err
	}
	return rel, safeName, nil
}

// DetectFileType classifies an upload by content sniffing first, extension
// second.
func DetectFileType(filename string, data []byte) models.FileType {
	if len(data) > 0 {
		switch detected := mimetype.Detect(data); {
		case detected.Is("application/pdf"):
			return models.FileTypePDF
		case strings.HasPrefix(detected.String(), "image/"):
			return models.FileTypeImage
		case strings.HasPrefix(detected.String(), "text/"):
			return models.FileTypeText
		}
	}

	switch strings.ToLower(filepath.Ext(filename)) {
	case ".pdf":
		return models.FileTypePDF
	case ".png", ".jpg", ".jpeg":
		return models.FileTypeImage
	case ".txt":
		return models.FileTypeText
	default:
		return models.FileTypeOther
	}
}

// CollectImages gathers all image paths for a submission in a stable order:
// uploaded image files first, then rendered PDF pages from the processed
// tree.
func (s *Store) CollectImages(submission models.Submission) []string {
	var paths []string
	for _, file := range submission.Files {
		if file.FileType == models.FileTypeImage {
			paths = append(paths, s.Resolve(file.FilePath))
		}
	}

	processed := filepath.Join(s.root, "processed",
		fmt.Sprintf("assignment_%d", submission.AssignmentID), fmt.Sprintf("submission_%d", submission.ID))
	var rendered []string
	_ = filepath.WalkDir(processed, func(path string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		switch strings.ToLower(filepath.Ext(path)) {
		case ".png", ".jpg", ".jpeg":
			rendered = append(rendered, path)
		}
		return nil
	})
	sort.Strings(rendered)

	return append(paths, rendered...)
}

// CollectProcessedText reads every cached text.txt under the submission's
// processed tree, in path order.
func (s *Store) CollectProcessedText(submission models.Submission) []string {
	processed := filepath.Join(s.root, "processed",
		fmt.Sprintf("assignment_%d", submission.AssignmentID), fmt.Sprintf("submission_%d", submission.ID))

	var files []string
	_ = filepath.WalkDir(processed, func(path string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		if filepath.Base(path) == "text.txt" {
			files = append(files, path)
		}
		return nil
	})
	sort.Strings(files)

	var texts []string
	for _, path := range files {
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		texts = append(texts, string(data))
	}
	return texts
}

// RemoveAssignmentData deletes all on-disk artifacts owned by an assignment.
func (s *Store) RemoveAssignmentData(assignmentID uint) error {
	for _, branch := range []string{"uploads", "processed"} {
		dir := filepath.Join(s.root, branch, fmt.Sprintf("assignment_%d", assignmentID))
		if err := os.RemoveAll(dir); err != nil {
			return fmt.Errorf("remove %s: %w", dir, err)
		}
	}
	return nil
}
