// Package translate splits document text into chunks and drives their
// concurrent, rate-limited translation.
package translate

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"golang.org/x/sync/errgroup"

	"github.com/elwassit-org/api-translation-wasslago/internal/domain"
	"github.com/elwassit-org/api-translation-wasslago/internal/observability"
)

const defaultAttemptTimeout = 30 * time.Second

// ProgressFunc is called once per chunk when it settles. ok is false when the
// original text was kept. Calls are serialized.
type ProgressFunc func(index int, ok bool)

// Batch is the outcome of translating every chunk of a document.
type Batch struct {
	Results []domain.TranslationResult
	Failed  int
	Elapsed time.Duration
}

// Texts returns the chunk texts in original order.
func (b *Batch) Texts() []string {
	out := make([]string, len(b.Results))
	for i, r := range b.Results {
		out[i] = r.Text
	}
	return out
}

// Joined returns the reassembled document text.
func (b *Batch) Joined() string {
	return strings.Join(b.Texts(), "\n")
}

// Dispatcher fans chunks out to a Translator through a shared RateGate.
type Dispatcher struct {
	translator domain.Translator
	gate       *RateGate
	policy     RetryPolicy
	timeout    time.Duration
	logger     *observability.Logger
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithRetryPolicy overrides the per-chunk retry policy.
func WithRetryPolicy(p RetryPolicy) Option {
	return func(d *Dispatcher) { d.policy = p.withDefaults() }
}

// WithAttemptTimeout overrides the hard per-attempt timeout.
func WithAttemptTimeout(timeout time.Duration) Option {
	return func(d *Dispatcher) {
		if timeout > 0 {
			d.timeout = timeout
		}
	}
}

// NewDispatcher creates a dispatcher. The gate should be shared process-wide.
func NewDispatcher(translator domain.Translator, gate *RateGate, logger *observability.Logger, opts ...Option) *Dispatcher {
	if logger == nil {
		logger = observability.NewNop()
	}
	d := &Dispatcher{
		translator: translator,
		gate:       gate,
		policy:     DefaultRetryPolicy(),
		timeout:    defaultAttemptTimeout,
		logger:     logger.WithOperation("translate"),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// TranslateAll translates every chunk concurrently and returns the results in
// chunk order. A chunk that keeps failing transiently, or that the provider
// rejects, falls back to its original text and is counted in Batch.Failed. A fatal provider error or
// cancellation of ctx aborts the batch and is returned.
func (d *Dispatcher) TranslateAll(ctx context.Context, chunks []domain.Chunk, sourceLang, targetLang string, progress ProgressFunc) (*Batch, error) {
	start := time.Now()
	batch := &Batch{Results: make([]domain.TranslationResult, len(chunks))}
	if len(chunks) == 0 {
		return batch, nil
	}

	d.logger.Info().
		Int("chunks", len(chunks)).
		Str("source_lang", sourceLang).
		Str("target_lang", targetLang).
		Msg("Starting chunk translation")

	var progressMu sync.Mutex
	report := func(index int, ok bool) {
		if progress == nil {
			return
		}
		progressMu.Lock()
		defer progressMu.Unlock()
		progress(index, ok)
	}

	g, gctx := errgroup.WithContext(ctx)
	for i, chunk := range chunks {
		g.Go(func() error {
			res, err := d.translateChunk(gctx, chunk, sourceLang, targetLang)
			if err != nil {
				return err
			}
			// Each goroutine owns one slot; Results is indexed by position, not completion.
			batch.Results[i] = res
			report(i, res.Succeeded)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		d.logger.Error().Err(err).Dur("elapsed", time.Since(start)).Msg("Chunk translation aborted")
		return nil, err
	}

	charsIn, charsOut := 0, 0
	for i, r := range batch.Results {
		if !r.Succeeded {
			batch.Failed++
		}
		charsIn += utf8.RuneCountInString(chunks[i].Text)
		charsOut += utf8.RuneCountInString(r.Text)
	}
	batch.Elapsed = time.Since(start)

	evt := d.logger.Info()
	if batch.Failed > 0 {
		evt = d.logger.Warn()
	}
	evt.Int("chunks", len(chunks)).
		Int("failed_chunks", batch.Failed).
		Int("chars_in", charsIn).
		Int("chars_out", charsOut).
		Dur("elapsed", batch.Elapsed).
		Msg("Chunk translation finished")

	return batch, nil
}

type outcome struct {
	text string
	err  error
}

func (d *Dispatcher) translateChunk(ctx context.Context, chunk domain.Chunk, sourceLang, targetLang string) (domain.TranslationResult, error) {
	var lastErr error

	for attempt := 0; attempt < d.policy.MaxAttempts; attempt++ {
		if attempt > 0 {
			backoff := d.policy.Backoff(attempt - 1)
			d.logger.Warn().
				Int("chunk", chunk.Index).
				Int("attempt", attempt).
				Int("max_attempts", d.policy.MaxAttempts).
				Dur("backoff", backoff).
				Err(lastErr).
				Msg("Chunk translation failed, retrying")

			if err := sleep(ctx, backoff); err != nil {
				return domain.TranslationResult{}, err
			}
		}

		waited, err := d.gate.Acquire(ctx)
		if err != nil {
			return domain.TranslationResult{}, err
		}
		if waited > time.Second {
			d.logger.Debug().Int("chunk", chunk.Index).Dur("waited", waited).Msg("Rate gate delayed chunk")
		}

		text, err := d.attempt(ctx, chunk.Text, sourceLang, targetLang)
		if err == nil {
			return domain.TranslationResult{
				Index:     chunk.Index,
				Text:      text,
				Succeeded: true,
				Attempts:  attempt + 1,
			}, nil
		}

		if ctx.Err() != nil {
			return domain.TranslationResult{}, ctx.Err()
		}
		if domain.IsFatal(err) {
			return domain.TranslationResult{}, err
		}
		if domain.IsRejected(err) {
			d.logger.Error().
				Int("chunk", chunk.Index).
				Int("attempts", attempt+1).
				Err(err).
				Msg("Chunk rejected by provider, keeping original text")
			return untranslated(chunk, attempt+1), nil
		}
		lastErr = err
	}

	d.logger.Error().
		Int("chunk", chunk.Index).
		Int("attempts", d.policy.MaxAttempts).
		Err(lastErr).
		Msg("Chunk translation exhausted retries, keeping original text")

	return untranslated(chunk, d.policy.MaxAttempts), nil
}

func untranslated(chunk domain.Chunk, attempts int) domain.TranslationResult {
	return domain.TranslationResult{
		Index:     chunk.Index,
		Text:      chunk.Text,
		Succeeded: false,
		Attempts:  attempts,
	}
}

// attempt runs one provider call under the hard timeout. The call runs in its
// own goroutine so a provider that ignores ctx still cannot hold the chunk.
func (d *Dispatcher) attempt(ctx context.Context, text, sourceLang, targetLang string) (string, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	done := make(chan outcome, 1)
	go func() {
		out, err := d.translator.Translate(attemptCtx, text, sourceLang, targetLang)
		done <- outcome{text: out, err: err}
	}()

	select {
	case o := <-done:
		if o.err != nil {
			if errors.Is(o.err, context.DeadlineExceeded) && ctx.Err() == nil {
				return "", domain.TransientError("translation request timed out", o.err)
			}
			return "", o.err
		}
		if strings.TrimSpace(o.text) == "" {
			return "", domain.TransientError("empty response from translation provider", nil)
		}
		return strings.TrimSpace(o.text), nil
	case <-attemptCtx.Done():
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", domain.TransientError("translation request timed out", attemptCtx.Err())
	}
}
