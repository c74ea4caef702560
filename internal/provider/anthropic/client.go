// Package anthropic implements domain.Translator over the Anthropic Messages API.
package anthropic

import (
	"context"
	"errors"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/elwassit-org/api-translation-wasslago/internal/domain"
	"github.com/elwassit-org/api-translation-wasslago/internal/provider"
)

const name = "anthropic"

// Options configure the client.
type Options struct {
	APIKey    string
	BaseURL   string
	Model     string
	MaxTokens int64
}

// Client translates chunks with one message request per call.
type Client struct {
	client *anthropic.Client
	opts   Options
}

// NewClient creates a client with SDK retries disabled.
func NewClient(opts Options) *Client {
	if opts.Model == "" {
		opts.Model = provider.DefaultAnthropicModel
	}
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = provider.DefaultMaxTokens
	}

	reqOpts := []option.RequestOption{option.WithMaxRetries(0)}
	if opts.APIKey != "" {
		reqOpts = append(reqOpts, option.WithAPIKey(opts.APIKey))
	}
	if opts.BaseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(opts.BaseURL))
	}

	client := anthropic.NewClient(reqOpts...)
	return &Client{client: &client, opts: opts}
}

// Translate implements domain.Translator.
func (c *Client) Translate(ctx context.Context, text, sourceLang, targetLang string) (string, error) {
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(c.opts.Model),
		MaxTokens: c.opts.MaxTokens,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(provider.BuildPrompt(text, sourceLang, targetLang))),
		},
	}

	resp, err := c.client.Messages.New(ctx, params)
	if err != nil {
		return "", classify(ctx, err)
	}

	var b strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			b.WriteString(block.AsText().Text)
		}
	}

	out := strings.TrimSpace(b.String())
	if out == "" {
		return "", domain.TransientError("anthropic returned empty content", nil)
	}
	return out, nil
}

func classify(ctx context.Context, err error) error {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		return provider.ClassifyStatus(name, apiErr.StatusCode, err)
	}
	return provider.ClassifyTransport(ctx, name, err)
}
