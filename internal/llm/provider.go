package llm

import (
	"context"

	"github.com/Rrens/ally-chat/internal/domain"
)

// Request contains reply generation parameters
type Request struct {
	Prompt   string
	History  []domain.Message // prior turns, oldest first, excluding Prompt
	ImageURL string           // image attached to the prompt, if any
	Model    domain.Model
}

// Response contains a generated reply. Image replies carry either ImageURL or ImageData.
type Response struct {
	Text             string
	ImageURL         string
	ImageData        []byte
	ImageContentType string
	Model            string
	TokensUsed       int
	LatencyMs        int64
}

// Provider defines the interface for inference backends
type Provider interface {
	// Name returns the provider identifier
	Name() string

	// IsConfigured checks if provider has valid credentials
	IsConfigured() bool

	// Generate produces the assistant reply for a request
	Generate(ctx context.Context, req Request) (*Response, error)
}
