// Package fitzpdf detects and extracts digital PDFs with MuPDF via go-fitz.
package fitzpdf

import (
	"context"
	"fmt"

	"github.com/gen2brain/go-fitz"

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
	return &Engine{opts: opts, logger: logger.WithOperation("fitz")}
}

// IsDigital implements domain.Detector.
func (e *Engine) IsDigital(ctx context.Context, path string) (bool, error) {
	pages, err := e.pages(ctx, path)
	if err != nil {
		return false, err
	}
	ratio := document.DigitalRatio(pages, e.opts.MinPageText)
	e.logger.Debug().Int("pages", len(pages)).Float64("text_ratio", ratio).Msg("Detected PDF type")
	return ratio >= e.opts.DigitalThreshold, nil
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

	doc, err := fitz.New(path)
	if err != nil {
		return nil, domain.ExtractionError("failed to open PDF", err)
	}
	defer doc.Close()

	pageCount := doc.NumPage()
	if pageCount == 0 {
		return nil, domain.ValidationError("PDF has no pages", nil)
	}

	pages := make([]string, 0, pageCount)
	for pageNum := 0; pageNum < pageCount; pageNum++ {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		text, err := doc.Text(pageNum)
		if err != nil {
			return nil, domain.ExtractionError(fmt.Sprintf("failed to read text of page %d", pageNum+1), err)
		}
		pages = append(pages, text)
	}
	return pages, nil
}
