package ai

import (
	"context"
	"errors"
	"fmt"

	"github.com/local/questionextractor/internal/question"
)

// Request is one vision call: a system prompt plus a single page image.
type Request struct {
	ExtractionID string
	PageIndex    int
	SystemPrompt string
	UserText     string
	ImageBase64  string
	ImageMIME    string
}

// Usage reports token accounting returned by the provider.
type Usage struct {
	TokensIn  int
	TokensOut int
}

// Client extracts the structured question page from one image.
type Client interface {
	Name() string
	ExtractQuestions(ctx context.Context, req Request) (question.Page, Usage, error)
}

var (
	ErrRateLimited    = errors.New("rate_limited")
	ErrContentRefused = errors.New("content_refused")
	ErrMissingAPIKey  = errors.New("missing OpenAI API key")
	// ErrSchemaMismatch aliases the question package sentinel so callers of this
	// package need not import both.
	ErrSchemaMismatch = question.ErrSchemaMismatch
)

func IsRateLimited(err error) bool    { return errors.Is(err, ErrRateLimited) }
func IsContentRefused(err error) bool { return errors.Is(err, ErrContentRefused) }

// StatusError is a non-2xx response from the provider.
type StatusError struct {
	Provider   string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s status %d: %s", e.Provider, e.StatusCode, e.Body)
}
