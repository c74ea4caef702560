package pipeline

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/elwassit-org/api-translation-wasslago/internal/document"
	"github.com/elwassit-org/api-translation-wasslago/internal/domain"
	"github.com/elwassit-org/api-translation-wasslago/internal/translate"
)

type recordingNotifier struct {
	mu    sync.Mutex
	sent  []domain.Notification
	deliv bool
}

func (n *recordingNotifier) Send(_ context.Context, identity string, payload any) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, payload.(domain.Notification))
	return n.deliv
}

func (n *recordingNotifier) stages() []domain.Stage {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []domain.Stage
	for _, s := range n.sent {
		if len(out) == 0 || out[len(out)-1] != s.Stage {
			out = append(out, s.Stage)
		}
	}
	return out
}

func (n *recordingNotifier) last() domain.Notification {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.sent[len(n.sent)-1]
}

func (n *recordingNotifier) terminal() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	count := 0
	for _, s := range n.sent {
		if s.Stage.Terminal() {
			count++
		}
	}
	return count
}

type fakeDetector struct {
	digital bool
	err     error
}

func (d fakeDetector) IsDigital(context.Context, string) (bool, error) { return d.digital, d.err }

type fakeExtractor struct {
	ext *domain.Extraction
	err error
}

func (e fakeExtractor) Extract(context.Context, string, string) (*domain.Extraction, error) {
	return e.ext, e.err
}

type translatorFunc func(ctx context.Context, text, src, tgt string) (string, error)

func (f translatorFunc) Translate(ctx context.Context, text, src, tgt string) (string, error) {
	return f(ctx, text, src, tgt)
}

type panicReconstructor struct{}

func (panicReconstructor) Reconstruct(string, domain.TokenMap, []domain.Block) (*domain.Node, error) {
	panic("boom")
}

func upper(_ context.Context, text, _, _ string) (string, error) {
	return strings.ToUpper(text), nil
}

func sampleExtraction() *domain.Extraction {
	return document.BuildExtraction([]string{
		"Contrat de travail\n\nEcrire a jane.doe@example.com pour toute question.\n\n- premier point\n- second point",
	})
}

type fixture struct {
	notifier  *recordingNotifier
	deps      Dependencies
	opts      Options
	workspace string
	job       Job
}

func newFixture(t *testing.T, translator domain.Translator) *fixture {
	t.Helper()

	workspace := t.TempDir()
	path := filepath.Join(workspace, "upload.pdf")
	require.NoError(t, os.WriteFile(path, []byte("%PDF-1.4"), 0o600))

	notifier := &recordingNotifier{deliv: true}
	dispatcher := translate.NewDispatcher(translator, translate.NewRateGate(1000, time.Minute), nil,
		translate.WithRetryPolicy(translate.RetryPolicy{MaxAttempts: 2, BaseBackoff: time.Millisecond, MaxBackoff: time.Millisecond}))

	return &fixture{
		notifier: notifier,
		deps: Dependencies{
			Detector:      fakeDetector{digital: true},
			Extractor:     fakeExtractor{ext: sampleExtraction()},
			Anonymizer:    document.NewRegexAnonymizer(),
			Reconstructor: document.NewTipTapReconstructor(),
			Translator:    dispatcher,
			Notifier:      notifier,
		},
		workspace: workspace,
		job: Job{
			DocumentID: "doc-1",
			Identity:   "u1",
			SourceLang: "fr",
			TargetLang: "en",
			FilePath:   path,
			Workspace:  workspace,
		},
	}
}

func (f *fixture) run(ctx context.Context) (*Result, error) {
	return New(f.deps, f.opts, nil).Run(ctx, f.job)
}

func TestRun_Completes(t *testing.T) {
	f := newFixture(t, translatorFunc(upper))

	res, err := f.run(context.Background())
	require.NoError(t, err)
	require.NotNil(t, res.Document)

	assert.Equal(t, []domain.Stage{
		domain.StageStarted,
		domain.StageDetecting,
		domain.StageExtracting,
		domain.StageAnonymizing,
		domain.StageChunking,
		domain.StageTranslating,
		domain.StageReconstructing,
		domain.StageCompleted,
	}, f.notifier.stages())
	assert.Equal(t, 1, f.notifier.terminal())

	last := f.notifier.last()
	assert.Equal(t, domain.StatusCompleted, last.Status)
	assert.Equal(t, "doc-1", last.DocumentID)
	assert.Same(t, res.Document, last.TranslatedContent)
	require.NotNil(t, last.Performance)
	assert.Equal(t, 1, last.Performance.Chunks)
	assert.Zero(t, last.Performance.FailedChunks)
	assert.Contains(t, last.Performance.Stages, domain.StageTranslating)
	assert.GreaterOrEqual(t, last.ProcessingTime, last.Performance.TranslationTime)

	assert.Equal(t, 1, res.Tokens)
	require.Len(t, res.Document.Content, 3)
	assert.Equal(t, "CONTRAT DE TRAVAIL", res.Document.Content[0].Content[0].Text)
	// the email was masked before translation and restored afterwards
	assert.Equal(t, "ECRIRE A jane.doe@example.com POUR TOUTE QUESTION.", res.Document.Content[1].Content[0].Text)
	assert.Equal(t, "bulletList", res.Document.Content[2].Type)

	assert.NoDirExists(t, f.workspace)
}

func TestRun_ProgressNotifications(t *testing.T) {
	f := newFixture(t, translatorFunc(upper))
	f.opts = Options{ChunkMaxChars: 20, ProgressStep: 1}

	_, err := f.run(context.Background())
	require.NoError(t, err)

	var progress []domain.Progress
	for _, n := range f.notifier.sent {
		if n.Progress != nil {
			progress = append(progress, *n.Progress)
		}
	}
	require.NotEmpty(t, progress)
	total := progress[0].Total
	assert.Greater(t, total, 1)
	assert.Len(t, progress, total)
	for i, p := range progress {
		assert.Equal(t, i+1, p.Done)
	}
}

func TestRun_ScannedDocumentFails(t *testing.T) {
	f := newFixture(t, translatorFunc(upper))
	f.deps.Detector = fakeDetector{digital: false}

	res, err := f.run(context.Background())
	assert.Nil(t, res)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrOCRUnavailable)
	assert.True(t, domain.IsFatal(err))

	last := f.notifier.last()
	assert.Equal(t, domain.StatusError, last.Status)
	assert.Equal(t, domain.StageFailed, last.Stage)
	assert.True(t, strings.HasPrefix(last.Message, "Processing failed: "))
	assert.Equal(t, 1, f.notifier.terminal())
	assert.NoDirExists(t, f.workspace)
}

func TestRun_ExtractionErrorStopsPipeline(t *testing.T) {
	f := newFixture(t, translatorFunc(func(context.Context, string, string, string) (string, error) {
		t.Error("translator must not be called")
		return "", nil
	}))
	f.deps.Extractor = fakeExtractor{err: domain.ExtractionError("no text blocks found", domain.ErrEmptyDocument)}

	_, err := f.run(context.Background())
	require.ErrorIs(t, err, domain.ErrEmptyDocument)

	assert.NotContains(t, f.notifier.stages(), domain.StageTranslating)
	assert.Equal(t, domain.StageFailed, f.notifier.last().Stage)
	assert.NoDirExists(t, f.workspace)
}

func TestRun_FatalTranslationFailsJob(t *testing.T) {
	f := newFixture(t, translatorFunc(func(context.Context, string, string, string) (string, error) {
		return "", domain.FatalError("invalid API key", nil)
	}))

	_, err := f.run(context.Background())
	require.Error(t, err)
	assert.True(t, domain.IsFatal(err))
	assert.Contains(t, f.notifier.last().Message, "invalid API key")
	assert.Equal(t, 1, f.notifier.terminal())
}

func TestRun_TransientFailuresKeepOriginalText(t *testing.T) {
	f := newFixture(t, translatorFunc(func(context.Context, string, string, string) (string, error) {
		return "", domain.TransientError("rate limited", nil)
	}))

	res, err := f.run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Performance.FailedChunks)
	assert.Equal(t, "Contrat de travail", res.Document.Content[0].Content[0].Text)
	assert.Equal(t, domain.StatusCompleted, f.notifier.last().Status)
}

func TestRun_CancelledJob(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	f := newFixture(t, translatorFunc(func(ctx context.Context, _, _, _ string) (string, error) {
		cancel()
		<-ctx.Done()
		return "", ctx.Err()
	}))

	_, err := f.run(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)

	last := f.notifier.last()
	assert.Equal(t, domain.StatusError, last.Status)
	assert.Equal(t, "Processing failed: "+domain.ErrJobCancelled.Error(), last.Message)
	assert.NoDirExists(t, f.workspace)
}

func TestRun_PanicBecomesFailure(t *testing.T) {
	f := newFixture(t, translatorFunc(upper))
	f.deps.Reconstructor = panicReconstructor{}

	res, err := f.run(context.Background())
	assert.Nil(t, res)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "reconstructing")
	assert.Equal(t, domain.StatusError, f.notifier.last().Status)
	assert.NoDirExists(t, f.workspace)
}

func TestRun_InvalidJob(t *testing.T) {
	f := newFixture(t, translatorFunc(upper))
	f.job.Identity = ""

	_, err := f.run(context.Background())
	var de *domain.DomainError
	require.True(t, errors.As(err, &de))
	assert.Equal(t, domain.ErrorTypeValidation, de.Type)
	assert.NoDirExists(t, f.workspace)
}

func TestRun_UndeliveredNotificationsDoNotFailJob(t *testing.T) {
	f := newFixture(t, translatorFunc(upper))
	f.notifier.deliv = false

	_, err := f.run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, f.notifier.last().Status)
}
