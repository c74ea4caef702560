package domain

import "context"

// Translator is the external translation capability. Implementations return
// TransientError for retryable failures, RejectedError when only this input
// was refused and FatalError when no request can succeed.
type Translator interface {
	Translate(ctx context.Context, text, sourceLang, targetLang string) (string, error)
}

// Detector decides whether a PDF carries a usable text layer.
type Detector interface {
	IsDigital(ctx context.Context, path string) (bool, error)
}

// Extractor turns a document into marked plain text plus block metadata.
type Extractor interface {
	Extract(ctx context.Context, path, sourceLang string) (*Extraction, error)
}

// Anonymizer masks sensitive values with placeholder tokens.
type Anonymizer interface {
	Anonymize(text string) (string, TokenMap, error)
}

// Reconstructor builds the structured output document from translated text.
type Reconstructor interface {
	Reconstruct(translated string, tokens TokenMap, blocks []Block) (*Node, error)
}

// Notifier pushes a payload to a client identity. It reports whether the
// payload was delivered directly; undelivered payloads are kept pending.
type Notifier interface {
	Send(ctx context.Context, identity string, payload any) bool
}
