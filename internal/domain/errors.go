package domain

import (
	"errors"
	"fmt"
)

// ErrorType classifies domain errors.
type ErrorType string

const (
	ErrorTypeValidation     ErrorType = "validation"
	ErrorTypeExtraction     ErrorType = "extraction"
	ErrorTypeAnonymization  ErrorType = "anonymization"
	ErrorTypeReconstruction ErrorType = "reconstruction"
	ErrorTypeDelivery       ErrorType = "delivery"
	ErrorTypeConfig         ErrorType = "config"
	ErrorTypeIO             ErrorType = "io"

	// Translation capability failures. Transient errors are retried by the
	// dispatcher, rejected ones keep the chunk's original text without a
	// retry, fatal ones fail the job.
	ErrorTypeTransient ErrorType = "transient"
	ErrorTypeRejected  ErrorType = "rejected"
	ErrorTypeFatal     ErrorType = "fatal"
)

// Sentinel errors
var (
	ErrNoActiveChannel = errors.New("no active channel")
	ErrJobNotFound     = errors.New("job not found")
	ErrOCRUnavailable  = errors.New("no OCR extractor configured for scanned documents")
	ErrEmptyDocument   = errors.New("document contains no text")
	ErrJobCancelled    = errors.New("job cancelled")
)

// DomainError represents a domain-specific error with context
type DomainError struct {
	Type    ErrorType
	Message string
	Err     error
}

func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Type, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Type, e.Message)
}

func (e *DomainError) Unwrap() error {
	return e.Err
}

// NewError creates a new domain error
func NewError(errType ErrorType, message string, err error) *DomainError {
	return &DomainError{
		Type:    errType,
		Message: message,
		Err:     err,
	}
}

func ValidationError(message string, err error) *DomainError {
	return NewError(ErrorTypeValidation, message, err)
}

func ExtractionError(message string, err error) *DomainError {
	return NewError(ErrorTypeExtraction, message, err)
}

func AnonymizationError(message string, err error) *DomainError {
	return NewError(ErrorTypeAnonymization, message, err)
}

func ReconstructionError(message string, err error) *DomainError {
	return NewError(ErrorTypeReconstruction, message, err)
}

func DeliveryError(message string, err error) *DomainError {
	return NewError(ErrorTypeDelivery, message, err)
}

func ConfigError(message string, err error) *DomainError {
	return NewError(ErrorTypeConfig, message, err)
}

func IOError(message string, err error) *DomainError {
	return NewError(ErrorTypeIO, message, err)
}

// TransientError marks a retryable translation failure (rate limit, timeout).
func TransientError(message string, err error) *DomainError {
	return NewError(ErrorTypeTransient, message, err)
}

// RejectedError marks a request the provider refused for this input only
// (bad request, content policy, payload too large).
func RejectedError(message string, err error) *DomainError {
	return NewError(ErrorTypeRejected, message, err)
}

// FatalError marks a non-retryable failure (authentication, configuration).
func FatalError(message string, err error) *DomainError {
	return NewError(ErrorTypeFatal, message, err)
}

// IsTransient reports whether err carries a transient classification.
func IsTransient(err error) bool {
	return hasType(err, ErrorTypeTransient)
}

// IsRejected reports whether err carries a rejected classification.
func IsRejected(err error) bool {
	return hasType(err, ErrorTypeRejected)
}

// IsFatal reports whether err carries a fatal classification.
func IsFatal(err error) bool {
	return hasType(err, ErrorTypeFatal)
}

func hasType(err error, t ErrorType) bool {
	var de *DomainError
	for err != nil {
		if !errors.As(err, &de) {
			return false
		}
		if de.Type == t {
			return true
		}
		err = de.Err
	}
	return false
}
