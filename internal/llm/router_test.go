package llm

import (
	"context"
	"testing"

	"github.com/Rrens/ally-chat/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubProvider struct {
	name       string
	configured bool
}

func (s stubProvider) Name() string       { return s.name }
func (s stubProvider) IsConfigured() bool { return s.configured }
func (s stubProvider) Generate(ctx context.Context, req Request) (*Response, error) {
	return &Response{Text: s.name}, nil
}

func TestRouter_ProviderFor(t *testing.T) {
	r := NewRouter("gemini")
	r.RegisterProvider(stubProvider{name: "gemini", configured: true})
	r.RegisterProvider(stubProvider{name: "openai-images", configured: true})
	r.RegisterProvider(stubProvider{name: "broken"})
	r.Route(domain.ModelAlly3Image, "openai-images")

	p, err := r.ProviderFor(domain.ModelAlly3)
	require.NoError(t, err)
	assert.Equal(t, "gemini", p.Name())

	p, err = r.ProviderFor(domain.ModelAlly3Image)
	require.NoError(t, err)
	assert.Equal(t, "openai-images", p.Name())

	r.Route(domain.ModelAlly3Image, "broken")
	_, err = r.ProviderFor(domain.ModelAlly3Image)
	assert.Error(t, err)

	assert.Equal(t, []string{"gemini", "openai-images"}, r.ListProviders())
}
