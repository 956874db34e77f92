package storage

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ampapacek/SAGE/internal/models"
)

func TestSafeFilename(t *testing.T) {
	require.Equal(t, "report.pdf", SafeFilename("report.pdf"))
	require.Equal(t, "report.pdf", SafeFilename("../../etc/report.pdf"))
	require.Equal(t, "my_report_1.pdf", SafeFilename("my report?1.pdf"))
	require.Equal(t, "upload", SafeFilename("???"))
	require.Equal(t, "upload", SafeFilename(""))
}

func TestSaveUploadStoresUnderUUIDName(t *testing.T) {
	store, err := New(t.TempDir())
	require.NoError(t, err)

	rel, safeName, err := store.SaveUpload(1, 2, "solution one.pdf", strings.NewReader("content"))
	require.NoError(t, err)
	require.Equal(t, "solution_one.pdf", safeName)
	require.True(t, strings.HasPrefix(rel, "uploads/assignment_1/submission_2/"))
	require.True(t, strings.HasSuffix(rel, ".pdf"))
	require.NotContains(t, rel, "solution")

	data, err := os.ReadFile(store.Resolve(rel))
	require.NoError(t, err)
	require.Equal(t, "content", string(data))
}

func TestDetectFileTypeSniffsContent(t *testing.T) {
	pdfHead := []byte("%PDF-1.7\nrest of file")
	require.Equal(t, models.FileTypePDF, DetectFileType("mislabeled.txt", pdfHead))

	pngHead := []byte{0x89, 'P', 'N', 'G', 0x0D, 0x0A, 0x1A, 0x0A, 0, 0, 0, 0}
	require.Equal(t, models.FileTypeImage, DetectFileType("photo.bin", pngHead))

	require.Equal(t, models.FileTypeText, DetectFileType("notes.txt", nil))
	require.Equal(t, models.FileTypePDF, DetectFileType("paper.PDF", nil))
	require.Equal(t, models.FileTypeOther, DetectFileType("archive.tar.gz", nil))
}

func TestCollectImagesOrdersUploadsBeforeRendered(t *testing.T) {
	root := t.TempDir()
	store, err := New(root)
	require.NoError(t, err)

	submission := models.Submission{
		ID:           2,
		AssignmentID: 1,
		Files: []models.SubmissionFile{
			{FilePath: "uploads/assignment_1/submission_2/photo.png", FileType: models.FileTypeImage},
			{FilePath: "uploads/assignment_1/submission_2/essay.txt", FileType: models.FileTypeText},
		},
	}

	pdfDir, err := store.PDFDir(1, 2, 9)
	require.NoError(t, err)
	require.NoError(t, os.MkdirAll(pdfDir, 0o755))
	for _, name := range []string{"page_002.png", "page_001.png", "text.txt"} {
		require.NoError(t, os.WriteFile(filepath.Join(pdfDir, name), []byte("x"), 0o644))
	}

	images := store.CollectImages(submission)
	require.Len(t, images, 3)
	require.Equal(t, store.Resolve("uploads/assignment_1/submission_2/photo.png"), images[0])
	require.Equal(t, filepath.Join(pdfDir, "page_001.png"), images[1])
	require.Equal(t, filepath.Join(pdfDir, "page_002.png"), images[2])
}

func TestCollectProcessedText(t *testing.T) {
	store, err := New(t.TempDir())
	require.NoError(t, err)

	firstDir, err := store.PDFDir(1, 2, 1)
	require.NoError(t, err)
	secondDir, err := store.PDFDir(1, 2, 2)
	require.NoError(t, err)
	require.NoError(t, os.MkdirAll(firstDir, 0o755))
	require.NoError(t, os.MkdirAll(secondDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(firstDir, "text.txt"), []byte("first"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(secondDir, "text.txt"), []byte("second"), 0o644))

	texts := store.CollectProcessedText(models.Submission{ID: 2, AssignmentID: 1})
	require.Equal(t, []string{"first", "second"}, texts)
}

func TestRemoveAssignmentData(t *testing.T) {
	store, err := New(t.TempDir())
	require.NoError(t, err)

	uploadDir, err := store.UploadDir(7, 1)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(uploadDir, "file.txt"), []byte("x"), 0o644))

	require.NoError(t, store.RemoveAssignmentData(7))
	_, statErr := os.Stat(uploadDir)
	require.True(t, os.IsNotExist(statErr))
}
