package llm

import (
	"context"
	"errors"
	"fmt"
)

// Request describes one prompt to the text model.
type Request struct {
	System string
	Prompt string
	Model  string
	// JSON asks the model to answer with application/json.
	JSON bool
}

// Generator defines a pluggable text generation backend.
type Generator interface {
	Generate(ctx context.Context, req Request) (string, error)
}

// ErrNoContent reports an upstream answer without a usable candidate.
var ErrNoContent = errors.New("llm: no content from upstream")

// UpstreamError carries a non-OK upstream status so callers can pass it on.
type UpstreamError struct {
	Status int
	Detail string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("llm: upstream returned status %d", e.Status)
}

func (e *UpstreamError) IsRateLimited() bool {
	return e.Status == 429
}
