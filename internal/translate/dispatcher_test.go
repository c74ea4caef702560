package translate

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/elwassit-org/api-translation-wasslago/internal/domain"
	"github.com/elwassit-org/api-translation-wasslago/internal/observability"
	"github.com/elwassit-org/api-translation-wasslago/internal/provider"
)

type translateFunc func(ctx context.Context, text, src, tgt string) (string, error)

func (f translateFunc) Translate(ctx context.Context, text, src, tgt string) (string, error) {
	return f(ctx, text, src, tgt)
}

func fastPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 3, BaseBackoff: time.Millisecond, MaxBackoff: 5 * time.Millisecond}
}

func newTestDispatcher(tr domain.Translator, opts ...Option) *Dispatcher {
	opts = append([]Option{WithRetryPolicy(fastPolicy())}, opts...)
	return NewDispatcher(tr, NewRateGate(1000, time.Minute), observability.NewNop(), opts...)
}

func chunksOf(texts ...string) []domain.Chunk {
	out := make([]domain.Chunk, len(texts))
	for i, t := range texts {
		out[i] = domain.Chunk{Index: i, Text: t}
	}
	return out
}

func TestTranslateAll_HelloWorldFooBar(t *testing.T) {
	tr := translateFunc(func(_ context.Context, text, src, tgt string) (string, error) {
		return fmt.Sprintf("%s->%s:%s", src, tgt, strings.ToUpper(text)), nil
	})
	d := newTestDispatcher(tr)

	batch, err := d.TranslateAll(context.Background(), chunksOf("Hello world", "Foo bar"), "en", "fr", nil)
	require.NoError(t, err)

	assert.Equal(t, []string{"en->fr:HELLO WORLD", "en->fr:FOO BAR"}, batch.Texts())
	assert.Equal(t, 0, batch.Failed)
	assert.Equal(t, "en->fr:HELLO WORLD\nen->fr:FOO BAR", batch.Joined())
}

func TestTranslateAll_PreservesOrderUnderRandomCompletion(t *testing.T) {
	tr := translateFunc(func(_ context.Context, text, _, _ string) (string, error) {
		time.Sleep(time.Duration(rand.IntN(15)) * time.Millisecond)
		return "T(" + text + ")", nil
	})
	d := newTestDispatcher(tr)

	texts := make([]string, 40)
	for i := range texts {
		texts[i] = fmt.Sprintf("chunk-%02d", i)
	}

	batch, err := d.TranslateAll(context.Background(), chunksOf(texts...), "en", "ar", nil)
	require.NoError(t, err)
	require.Len(t, batch.Results, len(texts))

	for i, r := range batch.Results {
		assert.Equal(t, i, r.Index)
		assert.Equal(t, "T("+texts[i]+")", r.Text)
		assert.True(t, r.Succeeded)
	}
}

func TestTranslateAll_DeterministicFailureKeepsOriginal(t *testing.T) {
	var calls atomic.Int32
	tr := translateFunc(func(_ context.Context, text, _, _ string) (string, error) {
		if text == "broken" {
			calls.Add(1)
			return "", domain.TransientError("rate limited", nil)
		}
		return "ok:" + text, nil
	})
	d := newTestDispatcher(tr)

	var (
		mu       sync.Mutex
		progress = map[int]bool{}
	)
	batch, err := d.TranslateAll(context.Background(), chunksOf("one", "broken", "three"), "en", "fr",
		func(index int, ok bool) {
			mu.Lock()
			progress[index] = ok
			mu.Unlock()
		})
	require.NoError(t, err)

	assert.Equal(t, []string{"ok:one", "broken", "ok:three"}, batch.Texts())
	assert.Equal(t, 1, batch.Failed)
	assert.False(t, batch.Results[1].Succeeded)
	assert.Equal(t, 3, batch.Results[1].Attempts)
	assert.Equal(t, int32(3), calls.Load())
	assert.Equal(t, map[int]bool{0: true, 1: false, 2: true}, progress)
}

func TestTranslateAll_UnclassifiedErrorIsRetried(t *testing.T) {
	var calls atomic.Int32
	tr := translateFunc(func(_ context.Context, text, _, _ string) (string, error) {
		if calls.Add(1) == 1 {
			return "", errors.New("connection reset by peer")
		}
		return "ok:" + text, nil
	})
	d := newTestDispatcher(tr)

	batch, err := d.TranslateAll(context.Background(), chunksOf("hi"), "en", "fr", nil)
	require.NoError(t, err)
	assert.Equal(t, "ok:hi", batch.Results[0].Text)
	assert.Equal(t, 2, batch.Results[0].Attempts)
}

func TestTranslateAll_EmptyResponseIsTransient(t *testing.T) {
	var calls atomic.Int32
	tr := translateFunc(func(_ context.Context, text, _, _ string) (string, error) {
		if calls.Add(1) == 1 {
			return "   ", nil
		}
		return "  bonjour  ", nil
	})
	d := newTestDispatcher(tr)

	batch, err := d.TranslateAll(context.Background(), chunksOf("hello"), "en", "fr", nil)
	require.NoError(t, err)
	assert.Equal(t, "bonjour", batch.Results[0].Text)
}

func TestTranslateAll_TimeoutUnblocksOnlyThatChunk(t *testing.T) {
	var slowCalls atomic.Int32
	tr := translateFunc(func(ctx context.Context, text, _, _ string) (string, error) {
		if text == "slow" {
			slowCalls.Add(1)
			// ignores ctx on purpose
			time.Sleep(200 * time.Millisecond)
			return "late", nil
		}
		return "ok:" + text, nil
	})
	d := newTestDispatcher(tr, WithAttemptTimeout(20*time.Millisecond))

	start := time.Now()
	batch, err := d.TranslateAll(context.Background(), chunksOf("a", "slow", "b"), "en", "fr", nil)
	require.NoError(t, err)

	assert.Less(t, time.Since(start), 200*time.Millisecond)
	assert.Equal(t, []string{"ok:a", "slow", "ok:b"}, batch.Texts())
	assert.Equal(t, 1, batch.Failed)
	assert.Equal(t, int32(3), slowCalls.Load())
}

func TestTranslateAll_FatalAbortsBatch(t *testing.T) {
	tr := translateFunc(func(ctx context.Context, text, _, _ string) (string, error) {
		if text == "auth" {
			return "", domain.FatalError("invalid api key", nil)
		}
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(time.Second):
			return "ok", nil
		}
	})
	d := newTestDispatcher(tr)

	start := time.Now()
	batch, err := d.TranslateAll(context.Background(), chunksOf("auth", "x", "y"), "en", "fr", nil)
	require.Error(t, err)
	assert.Nil(t, batch)
	assert.True(t, domain.IsFatal(err))
	assert.Less(t, time.Since(start), 500*time.Millisecond)
}

func TestTranslateAll_RejectedChunkKeepsOriginal(t *testing.T) {
	var rejectedCalls atomic.Int32
	tr := translateFunc(func(_ context.Context, text, _, _ string) (string, error) {
		if text == "blocked" {
			rejectedCalls.Add(1)
			return "", provider.ClassifyStatus("openai", 400, errors.New("content policy"))
		}
		return "ok:" + text, nil
	})
	d := newTestDispatcher(tr)

	var settled []bool
	batch, err := d.TranslateAll(context.Background(), chunksOf("a", "blocked", "b"), "en", "fr", func(_ int, ok bool) {
		settled = append(settled, ok)
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"ok:a", "blocked", "ok:b"}, batch.Texts())
	assert.Equal(t, 1, batch.Failed)
	assert.False(t, batch.Results[1].Succeeded)
	assert.Equal(t, 1, batch.Results[1].Attempts)
	assert.Equal(t, int32(1), rejectedCalls.Load(), "rejected chunks are not retried")
	assert.Len(t, settled, 3)
}

func TestTranslateAll_CancelledContext(t *testing.T) {
	tr := translateFunc(func(ctx context.Context, _, _, _ string) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	})
	d := newTestDispatcher(tr)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	_, err := d.TranslateAll(ctx, chunksOf("a", "b"), "en", "fr", nil)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestTranslateAll_Empty(t *testing.T) {
	d := newTestDispatcher(translateFunc(func(context.Context, string, string, string) (string, error) {
		t.Fatal("translator must not be called")
		return "", nil
	}))

	batch, err := d.TranslateAll(context.Background(), nil, "en", "fr", nil)
	require.NoError(t, err)
	assert.Empty(t, batch.Results)
	assert.Equal(t, "", batch.Joined())
}

func TestTranslateAll_UsesRateGate(t *testing.T) {
	gate := NewRateGate(2, 100*time.Millisecond)
	tr := translateFunc(func(_ context.Context, text, _, _ string) (string, error) {
		return text, nil
	})
	d := NewDispatcher(tr, gate, observability.NewNop(), WithRetryPolicy(fastPolicy()))

	start := time.Now()
	_, err := d.TranslateAll(context.Background(), chunksOf("a", "b", "c", "d", "e"), "en", "fr", nil)
	require.NoError(t, err)

	// five calls at two per window need two full windows
	assert.GreaterOrEqual(t, time.Since(start), 200*time.Millisecond-clockSlack)
}

func TestRetryPolicy_Backoff(t *testing.T) {
	p := RetryPolicy{MaxAttempts: 5, BaseBackoff: time.Second, MaxBackoff: 60 * time.Second}

	assert.Equal(t, time.Second, p.Backoff(0))
	assert.Equal(t, 2*time.Second, p.Backoff(1))
	assert.Equal(t, 4*time.Second, p.Backoff(2))
	assert.Equal(t, 60*time.Second, p.Backoff(10))

	p.Jitter = 0.5
	for i := 0; i < 20; i++ {
		d := p.Backoff(2)
		assert.GreaterOrEqual(t, d, 4*time.Second)
		assert.LessOrEqual(t, d, 6*time.Second)
	}
	assert.Equal(t, 60*time.Second, p.Backoff(10))
}
