// Package provider adapts hosted language models to the domain.Translator
// capability and classifies their failures as transient or fatal.
package provider

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"

	"github.com/elwassit-org/api-translation-wasslago/internal/domain"
)

const (
	// DefaultOpenRouterURL is the OpenAI-compatible endpoint used when no base URL is configured.
	DefaultOpenRouterURL = "https://openrouter.ai/api/v1"
	// DefaultOpenRouterModel is the model used on the OpenAI-compatible path.
	DefaultOpenRouterModel = "google/gemini-2.5-flash"
	// DefaultAnthropicModel is the model used on the Anthropic path.
	DefaultAnthropicModel = "claude-sonnet-4-5"
	// DefaultMaxTokens bounds the completion length of one chunk.
	DefaultMaxTokens = 4096
)

// BuildPrompt creates the translation prompt for one chunk.
func BuildPrompt(text, sourceLang, targetLang string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Translate the following text from %s to %s.\n\n", sourceLang, targetLang)
	b.WriteString("Instructions:\n")
	b.WriteString("- Only provide the translation of the content, with no extra comments or explanations.\n")
	b.WriteString("- Do NOT translate or modify tags such as <title>, <list-item>, <section-header>.\n")
	b.WriteString("- Keep block markers such as [BLOCK_0001] exactly as they are and in the same place.\n")
	b.WriteString("- Do NOT translate or change tokens like <TOKEN_1>, <TOKEN_2>; keep them as-is.\n\n")
	b.WriteString("Text to translate:\n")
	b.WriteString(text)
	return b.String()
}

// transientStatus reports whether an HTTP status is worth retrying.
func transientStatus(statusCode int) bool {
	switch statusCode {
	case http.StatusTooManyRequests, // 429
		http.StatusRequestTimeout,      // 408
		http.StatusConflict,            // 409
		http.StatusInternalServerError, // 500
		http.StatusBadGateway,          // 502
		http.StatusServiceUnavailable,  // 503
		http.StatusGatewayTimeout:      // 504
		return true
	default:
		// 529 is Anthropic's overloaded status
		return statusCode > 504
	}
}

// fatalStatus reports whether an HTTP status means every request will fail:
// bad credentials, missing permission or an unknown model.
func fatalStatus(statusCode int) bool {
	switch statusCode {
	case http.StatusUnauthorized, // 401
		http.StatusForbidden, // 403
		http.StatusNotFound: // 404
		return true
	default:
		return false
	}
}

// ClassifyStatus converts an API status failure into a transient, fatal or
// rejected error. Any other client error only concerns the chunk that was sent.
func ClassifyStatus(provider string, statusCode int, err error) error {
	msg := fmt.Sprintf("%s returned status %d", provider, statusCode)
	switch {
	case transientStatus(statusCode):
		return domain.TransientError(msg, err)
	case fatalStatus(statusCode):
		return domain.FatalError(msg, err)
	default:
		return domain.RejectedError(msg, err)
	}
}

// ClassifyTransport classifies an error that carries no HTTP status as
// transient. Cancellation of the caller's context is returned unchanged.
func ClassifyTransport(ctx context.Context, provider string, err error) error {
	if errors.Is(err, context.Canceled) && ctx.Err() != nil {
		return err
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return domain.TransientError(provider+" request timed out", err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return domain.TransientError(provider+" network error", err)
	}

	return domain.TransientError(provider+" request failed", err)
}
