// Package pdf extracts text from submission PDFs and rasterizes their pages,
// caching both on disk per (submission, file) directory.
package pdf

import (
	"bytes"
	"fmt"
	"image/png"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/gen2brain/go-fitz"
)

// Stats describes one text-extraction pass over a PDF.
type Stats struct {
	Pages         int
	PagesWithText int
	TotalChars    int
	ImageCount    int
	Cached        bool
}

const textCacheName = "text.txt"

// ExtractText concatenates per-page text from the PDF. The result is cached
// as text.txt under outDir; on a cache hit the cached content is returned
// unchanged while page and image statistics are still computed, since the
// render decision needs them. Extraction failures propagate to the caller.
func ExtractText(pdfPath, outDir string) (string, Stats, error) {
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return "", Stats{}, fmt.Errorf("create processed dir: %w", err)
	}

	textPath := filepath.Join(outDir, textCacheName)
	cachedText := ""
	cached := false
	if data, err := os.ReadFile(textPath); err == nil {
		cachedText = string(data)
		cached = true
	}

	doc, err := fitz.New(pdfPath)
	if err != nil {
		return "", Stats{}, fmt.Errorf("open pdf %s: %w", filepath.Base(pdfPath), err)
	}
	defer doc.Close()

	pageTexts := make([]string, 0, doc.NumPage())
	pagesWithText := 0
	for page := 0; page < doc.NumPage(); page++ {
		text, err := doc.Text(page)
		if err != nil {
			return "", Stats{}, fmt.Errorf("extract page %d of %s: %w", page+1, filepath.Base(pdfPath), err)
		}
		if strings.TrimSpace(text) != "" {
			pagesWithText++
			pageTexts = append(pageTexts, text)
		}
	}

	combined := strings.Join(pageTexts, "\n\n")
	if cached {
		combined = cachedText
	} else if err := os.WriteFile(textPath, []byte(combined), 0o644); err != nil {
		return "", Stats{}, fmt.Errorf("write text cache: %w", err)
	}

	stats := Stats{
		Pages:         doc.NumPage(),
		PagesWithText: pagesWithText,
		TotalChars:    len(combined),
		ImageCount:    countEmbeddedImages(pdfPath),
		Cached:        cached,
	}
	return combined, stats, nil
}

// RenderImages rasterizes every page of the PDF to numbered PNG files under
// outDir. Previously rendered pages are returned as-is without re-rendering.
func RenderImages(pdfPath, outDir string, dpi int) ([]string, error) {
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return nil, fmt.Errorf("create processed dir: %w", err)
	}

	if existing, err := filepath.Glob(filepath.Join(outDir, "page_*.png")); err == nil && len(existing) > 0 {
		sort.Strings(existing)
		return existing, nil
	}

	doc, err := fitz.New(pdfPath)
	if err != nil {
		return nil, fmt.Errorf("open pdf %s: %w", filepath.Base(pdfPath), err)
	}
	defer doc.Close()

	if dpi <= 0 {
		dpi = 300
	}

	paths := make([]string, 0, doc.NumPage())
	for page := 0; page < doc.NumPage(); page++ {
		img, err := doc.ImageDPI(page, float64(dpi))
		if err != nil {
			return nil, fmt.Errorf("render page %d of %s: %w", page+1, filepath.Base(pdfPath), err)
		}

		outPath := filepath.Join(outDir, fmt.Sprintf("page_%03d.png", page+1))
		file, err := os.Create(outPath)
		if err != nil {
			return nil, fmt.Errorf("create page image: %w", err)
		}
		if err := png.Encode(file, img); err != nil {
			file.Close()
			return nil, fmt.Errorf("encode page image: %w", err)
		}
		if err := file.Close(); err != nil {
			return nil, fmt.Errorf("close page image: %w", err)
		}
		paths = append(paths, outPath)
	}
	return paths, nil
}

// countEmbeddedImages counts image XObjects by scanning the raw PDF. MuPDF
// does not expose the XObject table, and an approximate count is enough for
// the render decision. Failures read as zero images.
func countEmbeddedImages(pdfPath string) int {
	data, err := os.ReadFile(pdfPath)
	if err != nil {
		return 0
	}
	return bytes.Count(data, []byte("/Subtype /Image")) + bytes.Count(data, []byte("/Subtype/Image"))
}
