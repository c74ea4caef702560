// Package plainpdf detects and extracts digital PDFs with the pure-Go
// ledongthuc/pdf reader. It needs no C toolchain and serves as the fallback
// engine when MuPDF is unavailable.
package plainpdf

import (
	"context"
	"os"

	"github.com/ledongthuc/pdf"

	"github.com/elwassit-org/api-translation-wasslago/internal/document"
	"github.com/elwassit-org/api-translation-wasslago/internal/domain"
	"github.com/elwassit-org/api-translation-wasslago/internal/observability"
)

// Options configure digital detection.
type Options struct {
	DigitalThreshold float64
	MinPageText      int
}

// Engine implements domain.Detector and domain.Extractor.
type Engine struct {
	opts   Options
	logger *observability.Logger
}

// New creates an engine.
func New(opts Options, logger *observability.Logger) *Engine {
	if opts.DigitalThreshold <= 0 {
		opts.DigitalThreshold = 0.9
	}
	if opts.MinPageText <= 0 {
		opts.MinPageText = 50
	}
	if logger == nil {
		logger = observability.NewNop()
	}
	return &Engine{opts: opts, logger: logger.WithOperation("plainpdf")}
}

// IsDigital implements domain.Detector.
func (e *Engine) IsDigital(ctx context.Context, path string) (bool, error) {
	pages, err := e.pages(ctx, path)
	if err != nil {
		return false, err
	}
	return document.DigitalRatio(pages, e.opts.MinPageText) >= e.opts.DigitalThreshold, nil
}

// Extract implements domain.Extractor.
func (e *Engine) Extract(ctx context.Context, path, sourceLang string) (*domain.Extraction, error) {
	pages, err := e.pages(ctx, path)
	if err != nil {
		return nil, err
	}

	ext := document.BuildExtraction(pages)
	ext.Digital = true
	if len(ext.Blocks) == 0 {
		return nil, domain.ExtractionError("no text blocks found", domain.ErrEmptyDocument)
	}

	e.logger.Info().
		Int("pages", ext.Pages).
		Int("blocks", len(ext.Blocks)).
		Str("source_lang", sourceLang).
		Msg("Extracted digital PDF")
	return ext, nil
}

func (e *Engine) pages(ctx context.Context, path string) ([]string, error) {
	if err := document.ValidatePDFPath(path); err != nil {
		return nil, err
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, domain.IOError("failed to open PDF", err)
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return nil, domain.IOError("failed to stat PDF", err)
	}

	reader, err := pdf.NewReader(file, info.Size())
	if err != nil {
		return nil, domain.ExtractionError("failed to create PDF reader", err)
	}

	pageCount := reader.NumPage()
	if pageCount == 0 {
		return nil, domain.ValidationError("PDF has no pages", nil)
	}

	pages := make([]string, 0, pageCount)
	for i := 1; i <= pageCount; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		page := reader.Page(i)
		if page.V.IsNull() {
			pages = append(pages, "")
			continue
		}

		text, err := page.GetPlainText(nil)
		if err != nil {
			e.logger.Warn().Int("page", i).Err(err).Msg("Failed to extract text from page")
			pages = append(pages, "")
			continue
		}
		pages = append(pages, text)
	}
	return pages, nil
}
