package tesseract

import (
	"log/slog"

	"github.com/Lllllllleong/ocrdocumentflow/internal/config"
	"github.com/Lllllllleong/ocrdocumentflow/internal/ocr"
)

// NewExtractor builds the poppler + Tesseract text extractor described by cfg.
// An unresolvable tessdata directory is logged and left to Tesseract's own
// lookup.
func NewExtractor(cfg config.OCRConfig, logger *slog.Logger) *ocr.Extractor {
	prefix, err := ocr.ResolveTessdataPrefix(cfg.TessdataPrefix)
	if err != nil {
		logger.Warn("No tessdata directory found; using the Tesseract default", "error", err)
	}
	rec := New(
		WithLanguages(cfg.Languages...),
		WithTessdataPrefix(prefix),
		WithDPI(cfg.DPI),
	)
	return ocr.NewExtractor(rec, ocr.Pdftoppm{Path: cfg.PdftoppmPath},
		ocr.WithDPI(cfg.DPI),
		ocr.WithPageConcurrency(cfg.PageConcurrency),
		ocr.WithTimeout(cfg.Timeout.Duration),
		ocr.WithLogger(logger),
	)
}
