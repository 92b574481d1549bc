// Package ocr extracts text from images and PDFs. PDFs are rendered page by
// page to images, recognized individually and concatenated in page order.
package ocr

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"golang.org/x/sync/errgroup"

	"github.com/Lllllllleong/ocrdocumentflow/internal/models"
)

const (
	DefaultDPI = 300
	pdfExt     = ".pdf"
)

// Recognizer performs OCR on a single image file.
type Recognizer interface {
	Recognize(ctx context.Context, imagePath string) (string, error)
}

// PageRenderer rasterizes one page (1-based) of a PDF into outDir and
// returns the path of the produced image.
type PageRenderer interface {
	RenderPage(ctx context.Context, pdfPath string, page, dpi int, outDir string) (string, error)
}

// Extractor implements text extraction on top of a Recognizer and a PageRenderer.
type Extractor struct {
	recognizer  Recognizer
	renderer    PageRenderer
	dpi         int
	concurrency int
	countPages  func(path string) (int, error)
	timeout     time.Duration
	logger      *slog.Logger
}

// Option configures an Extractor.
type Option func(*Extractor)

// WithDPI sets the render resolution. Non-positive values are ignored.
func WithDPI(dpi int) Option {
	return func(e *Extractor) {
		if dpi > 0 {
			e.dpi = dpi
		}
	}
}

// WithPageConcurrency sets how many pages are rendered and recognized at once.
func WithPageConcurrency(n int) Option {
	return func(e *Extractor) {
		if n > 0 {
			e.concurrency = n
		}
	}
}

// WithPageCounter replaces the PDF page counter.
func WithPageCounter(count func(path string) (int, error)) Option {
	return func(e *Extractor) { e.countPages = count }
}

// WithTimeout bounds a single ExtractText call. Zero means no bound.
func WithTimeout(d time.Duration) Option {
	return func(e *Extractor) { e.timeout = d }
}

// WithLogger sets the logger. Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(e *Extractor) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// NewExtractor creates an Extractor.
func NewExtractor(recognizer Recognizer, renderer PageRenderer, opts ...Option) *Extractor {
	e := &Extractor{
		recognizer:  recognizer,
		renderer:    renderer,
		dpi:         DefaultDPI,
		concurrency: 1,
		countPages:  api.PageCountFile,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = e.logger.With("component", "ocr")
	return e
}

// ExtractText returns the text of the image or PDF at path.
func (e *Extractor) ExtractText(ctx context.Context, path string) (string, error) {
	if path == "" {
		return "", fmt.Errorf("no file given: %w", models.ErrInvalidInput)
	}
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("file %s: %w", path, models.ErrNotFound)
		}
		return "", fmt.Errorf("failed to stat %s: %w", path, err)
	}
	if info.IsDir() {
		return "", fmt.Errorf("%s is a directory: %w", path, models.ErrInvalidInput)
	}

	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	if !strings.EqualFold(filepath.Ext(path), pdfExt) {
		text, err := e.recognizer.Recognize(ctx, path)
		if err != nil {
			return "", fmt.Errorf("failed to recognize image %s: %w", path, err)
		}
		return text, nil
	}
	return e.extractPDF(ctx, path)
}

func (e *Extractor) extractPDF(ctx context.Context, path string) (string, error) {
	pageCount, err := e.countPages(path)
	if err != nil {
		return "", fmt.Errorf("failed to get page count: %w", err)
	}
	if pageCount == 0 {
		return "", fmt.Errorf("pdf %s has no pages: %w", path, models.ErrEmptyDocument)
	}

	logCtx := e.logger.With("path", path, "pageCount", pageCount, "dpi", e.dpi)
	logCtx.Info("Starting PDF extraction.")

	workDir, err := os.MkdirTemp("", "ocr-pages-*")
	if err != nil {
		return "", fmt.Errorf("failed to create page directory: %w", err)
	}
	defer os.RemoveAll(workDir)

	pages := make([]string, pageCount)
	eg, gctx := errgroup.WithContext(ctx)
	eg.SetLimit(e.concurrency)

	for i := 1; i <= pageCount; i++ {
		pageNumber := i
		eg.Go(func() error {
			text, err := e.extractPage(gctx, path, pageNumber, workDir)
			if err != nil {
				return fmt.Errorf("page %d: %w", pageNumber, err)
			}
			pages[pageNumber-1] = text
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return "", err
	}

	text := strings.Join(pages, "")
	logCtx.Info("PDF extraction complete.", "textLength", len(text))
	return text, nil
}

func (e *Extractor) extractPage(ctx context.Context, path string, page int, workDir string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	imagePath, err := e.renderer.RenderPage(ctx, path, page, e.dpi, workDir)
	if err != nil {
		return "", fmt.Errorf("failed to render: %w", err)
	}
	defer os.Remove(imagePath)

	text, err := e.recognizer.Recognize(ctx, imagePath)
	if err != nil {
		return "", fmt.Errorf("failed to recognize: %w", err)
	}
	return text, nil
}
