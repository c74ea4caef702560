// Package openai implements domain.Translator over the OpenAI Chat
// Completions API. Any OpenAI-compatible endpoint works; OpenRouter is the default.
package openai

import (
	"context"
	"errors"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/elwassit-org/api-translation-wasslago/internal/domain"
	"github.com/elwassit-org/api-translation-wasslago/internal/provider"
)

const name = "openai"

// Options configure the client.
type Options struct {
	APIKey    string
	BaseURL   string
	Model     string
	MaxTokens int64
}

// Client translates chunks with a chat completion per call.
type Client struct {
	client *openai.Client
	opts   Options
}

// NewClient creates a client. SDK retries are disabled; the dispatcher owns retries.
func NewClient(opts Options) *Client {
	if opts.BaseURL == "" {
		opts.BaseURL = provider.DefaultOpenRouterURL
	}
	if opts.Model == "" {
		opts.Model = provider.DefaultOpenRouterModel
	}
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = provider.DefaultMaxTokens
	}

	reqOpts := []option.RequestOption{
		option.WithBaseURL(opts.BaseURL),
		option.WithMaxRetries(0),
	}
	if opts.APIKey != "" {
		reqOpts = append(reqOpts, option.WithAPIKey(opts.APIKey))
	}

	client := openai.NewClient(reqOpts...)
	return &Client{client: &client, opts: opts}
}

// Translate implements domain.Translator.
func (c *Client) Translate(ctx context.Context, text, sourceLang, targetLang string) (string, error) {
	params := openai.ChatCompletionNewParams{
		Model: openai.ChatModel(c.opts.Model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.UserMessage(provider.BuildPrompt(text, sourceLang, targetLang)),
		},
		MaxCompletionTokens: openai.Int(c.opts.MaxTokens),
	}

	resp, err := c.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return "", classify(ctx, err)
	}

	if len(resp.Choices) == 0 {
		return "", domain.TransientError("openai returned no choices", nil)
	}

	out := strings.TrimSpace(resp.Choices[0].Message.Content)
	if out == "" {
		return "", domain.TransientError("openai returned empty content", nil)
	}
	return out, nil
}

func classify(ctx context.Context, err error) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return provider.ClassifyStatus(name, apiErr.StatusCode, err)
	}
	return provider.ClassifyTransport(ctx, name, err)
}
