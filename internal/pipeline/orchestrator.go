// Package pipeline sequences one document job: detection, extraction,
// anonymization, chunked translation and reconstruction. Every stage change
// is pushed to the job's identity through a domain.Notifier, and every exit
// path ends in exactly one terminal notification.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/elwassit-org/api-translation-wasslago/internal/domain"
	"github.com/elwassit-org/api-translation-wasslago/internal/observability"
	"github.com/elwassit-org/api-translation-wasslago/internal/translate"
)

// BatchTranslator translates an ordered list of chunks.
type BatchTranslator interface {
	TranslateAll(ctx context.Context, chunks []domain.Chunk, sourceLang, targetLang string, progress translate.ProgressFunc) (*translate.Batch, error)
}

// Job describes one document to process.
type Job struct {
	DocumentID string
	Identity   string
	SourceLang string
	TargetLang string
	FilePath   string
	// Workspace is a directory owned by the job. It is removed when Run
	// returns, whatever the outcome.
	Workspace string
}

// Validate checks the fields every job needs.
func (j Job) Validate() error {
	switch {
	case j.DocumentID == "":
		return domain.ValidationError("document id is required", nil)
	case j.Identity == "":
		return domain.ValidationError("identity is required", nil)
	case j.SourceLang == "" || j.TargetLang == "":
		return domain.ValidationError("source and target languages are required", nil)
	case j.FilePath == "":
		return domain.ValidationError("file path is required", nil)
	}
	return nil
}

// Result is the outcome of a successful job.
type Result struct {
	Document    *domain.Node
	Performance domain.Performance
	Tokens      int
}

// Dependencies are the collaborators of an Orchestrator.
type Dependencies struct {
	Detector      domain.Detector
	Extractor     domain.Extractor
	Anonymizer    domain.Anonymizer
	Reconstructor domain.Reconstructor
	Translator    BatchTranslator
	Notifier      domain.Notifier
}

// Options tune an Orchestrator.
type Options struct {
	// ChunkMaxChars bounds chunk size in characters.
	ChunkMaxChars int
	// ProgressStep sends a translating notification every ProgressStep
	// settled chunks. Zero sends roughly ten per document.
	ProgressStep int
}

// Orchestrator runs jobs. It is safe for concurrent use.
type Orchestrator struct {
	deps   Dependencies
	opts   Options
	logger *observability.Logger
	now    func() time.Time
}

// New creates an orchestrator.
func New(deps Dependencies, opts Options, logger *observability.Logger) *Orchestrator {
	if opts.ChunkMaxChars <= 0 {
		opts.ChunkMaxChars = translate.DefaultMaxChars
	}
	if logger == nil {
		logger = observability.NewNop()
	}
	return &Orchestrator{
		deps:   deps,
		opts:   opts,
		logger: logger.WithOperation("pipeline"),
		now:    time.Now,
	}
}

// run holds the mutable state of one job execution.
type run struct {
	job     Job
	logger  *observability.Logger
	started time.Time
	stage   domain.Stage
	timings map[domain.Stage]float64
}

// Run processes job to a terminal state. The returned error is also
// reported to the job's identity as an error notification; callers only
// need it for logging or exit codes.
func (o *Orchestrator) Run(ctx context.Context, job Job) (res *Result, err error) {
	r := &run{
		job:     job,
		logger:  o.logger.WithDocument(job.DocumentID).WithIdentity(job.Identity),
		started: o.now(),
		stage:   domain.StageStarted,
		timings: map[domain.Stage]float64{},
	}

	defer o.releaseWorkspace(r)
	defer func() {
		if p := recover(); p != nil {
			err = domain.NewError(domain.ErrorTypeFatal, fmt.Sprintf("panic in stage %s", r.stage), fmt.Errorf("%v", p))
			res = nil
		}
		if err != nil {
			o.fail(ctx, r, err)
		}
	}()

	if err := job.Validate(); err != nil {
		return nil, err
	}

	r.logger.Info().
		Str("source_lang", job.SourceLang).
		Str("target_lang", job.TargetLang).
		Msg("Pipeline started")
	o.notify(ctx, r, domain.Notification{
		Status:  domain.StatusProcessing,
		Stage:   domain.StageStarted,
		Message: "Processing started",
	})

	var digital bool
	if err := o.stage(ctx, r, domain.StageDetecting, func() error {
		var err error
		digital, err = o.deps.Detector.IsDigital(ctx, job.FilePath)
		return err
	}); err != nil {
		return nil, err
	}
	if !digital {
		return nil, domain.FatalError("scanned PDF", domain.ErrOCRUnavailable)
	}

	var ext *domain.Extraction
	if err := o.stage(ctx, r, domain.StageExtracting, func() error {
		var err error
		ext, err = o.deps.Extractor.Extract(ctx, job.FilePath, job.SourceLang)
		return err
	}); err != nil {
		return nil, err
	}

	var (
		masked string
		tokens domain.TokenMap
	)
	if err := o.stage(ctx, r, domain.StageAnonymizing, func() error {
		var err error
		masked, tokens, err = o.deps.Anonymizer.Anonymize(ext.Text)
		if err != nil {
			return domain.AnonymizationError("failed to anonymize text", err)
		}
		return nil
	}); err != nil {
		return nil, err
	}

	var chunks []domain.Chunk
	if err := o.stage(ctx, r, domain.StageChunking, func() error {
		chunks = translate.Split(masked, o.opts.ChunkMaxChars)
		if len(chunks) == 0 {
			return domain.ExtractionError("nothing to translate", domain.ErrEmptyDocument)
		}
		return nil
	}); err != nil {
		return nil, err
	}

	var batch *translate.Batch
	if err := o.stage(ctx, r, domain.StageTranslating, func() error {
		var err error
		batch, err = o.deps.Translator.TranslateAll(ctx, chunks, job.SourceLang, job.TargetLang, o.progress(ctx, r, len(chunks)))
		return err
	}); err != nil {
		return nil, err
	}

	var doc *domain.Node
	if err := o.stage(ctx, r, domain.StageReconstructing, func() error {
		var err error
		doc, err = o.deps.Reconstructor.Reconstruct(batch.Joined(), tokens, ext.Blocks)
		if err != nil {
			return domain.ReconstructionError("failed to rebuild document", err)
		}
		return nil
	}); err != nil {
		return nil, err
	}

	perf := o.performance(r, len(chunks), batch.Failed)
	r.stage = domain.StageCompleted

	r.logger.Info().
		Float64("total_time", perf.TotalTime).
		Float64("translation_time", perf.TranslationTime).
		Float64("translation_percentage", perf.TranslationPercentage).
		Int("chunks", perf.Chunks).
		Int("failed_chunks", perf.FailedChunks).
		Int("tokens", len(tokens)).
		Msg("Pipeline completed")

	o.notify(ctx, r, domain.Notification{
		Status:            domain.StatusCompleted,
		Stage:             domain.StageCompleted,
		TranslatedContent: doc,
		ProcessingTime:    perf.TotalTime,
		Performance:       &perf,
	})

	return &Result{Document: doc, Performance: perf, Tokens: len(tokens)}, nil
}

// stage enters s, announces it and times fn.
func (o *Orchestrator) stage(ctx context.Context, r *run, s domain.Stage, fn func() error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	r.stage = s
	o.notify(ctx, r, domain.Notification{
		Status: domain.StatusProcessing,
		Stage:  s,
	})

	start := o.now()
	err := fn()
	elapsed := o.now().Sub(start)
	r.timings[s] = elapsed.Seconds()

	r.logger.Debug().Str("stage", string(s)).Dur("elapsed", elapsed).Bool("ok", err == nil).Msg("Stage finished")
	return err
}

// progress returns a dispatcher hook sending throttled translating notifications.
func (o *Orchestrator) progress(ctx context.Context, r *run, total int) translate.ProgressFunc {
	step := o.opts.ProgressStep
	if step <= 0 {
		step = (total + 9) / 10
	}
	done := 0
	return func(int, bool) {
		done++
		if done%step != 0 && done != total {
			return
		}
		o.notify(ctx, r, domain.Notification{
			Status:   domain.StatusProcessing,
			Stage:    domain.StageTranslating,
			Message:  fmt.Sprintf("Translated %d/%d chunks", done, total),
			Progress: &domain.Progress{Done: done, Total: total},
		})
	}
}

func (o *Orchestrator) performance(r *run, chunks, failed int) domain.Performance {
	total := o.now().Sub(r.started).Seconds()
	translation := r.timings[domain.StageTranslating]

	perf := domain.Performance{
		TotalTime:       total,
		TranslationTime: translation,
		Stages:          r.timings,
		Chunks:          chunks,
		FailedChunks:    failed,
	}
	if total > 0 {
		perf.TranslationPercentage = translation / total * 100
	}
	return perf
}

// fail moves the job to Failed and reports err. ctx may already be
// cancelled, so delivery runs on a detached context.
func (o *Orchestrator) fail(ctx context.Context, r *run, err error) {
	failedAt := r.stage
	r.stage = domain.StageFailed

	if errors.Is(err, context.Canceled) {
		err = domain.ErrJobCancelled
	}

	r.logger.Error().
		Err(err).
		Str("stage", string(failedAt)).
		Dur("elapsed", o.now().Sub(r.started)).
		Msg("Pipeline failed")

	o.notify(context.WithoutCancel(ctx), r, domain.Notification{
		Status:  domain.StatusError,
		Stage:   domain.StageFailed,
		Message: "Processing failed: " + err.Error(),
	})
}

func (o *Orchestrator) notify(ctx context.Context, r *run, n domain.Notification) {
	if o.deps.Notifier == nil {
		return
	}
	n.DocumentID = r.job.DocumentID
	n.Timestamp = o.now()
	if !o.deps.Notifier.Send(ctx, r.job.Identity, n) {
		r.logger.Debug().Str("status", string(n.Status)).Str("stage", string(n.Stage)).Msg("Notification stored as pending")
	}
}

func (o *Orchestrator) releaseWorkspace(r *run) {
	if r.job.Workspace == "" {
		return
	}
	if err := os.RemoveAll(r.job.Workspace); err != nil {
		r.logger.Warn().Err(err).Str("workspace", r.job.Workspace).Msg("Failed to remove workspace")
	}
}
