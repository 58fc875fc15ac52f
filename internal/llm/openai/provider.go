package openai

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"time"

	"github.com/Rrens/ally-chat/internal/config"
	"github.com/Rrens/ally-chat/internal/llm"
	"github.com/sashabaranov/go-openai"
)

// Provider generates images for the image model through the OpenAI images API
type Provider struct {
	api        *openai.Client
	configured bool
	size       string
}

func NewProvider(cfg config.OpenAIConfig) *Provider {
	return NewProviderWithBaseURL(cfg, "")
}

// NewProviderWithBaseURL points the client at a compatible endpoint
func NewProviderWithBaseURL(cfg config.OpenAIConfig, baseURL string) *Provider {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if baseURL != "" {
		clientCfg.BaseURL = baseURL
	}
	clientCfg.HTTPClient = &http.Client{Timeout: 120 * time.Second}

	size := cfg.ImageSize
	if size == "" {
		size = openai.CreateImageSize1024x1024
	}

	return &Provider{
		api:        openai.NewClientWithConfig(clientCfg),
		configured: cfg.APIKey != "",
		size:       size,
	}
}

func (p *Provider) Name() string {
	return "openai-images"
}

func (p *Provider) IsConfigured() bool {
	return p.configured
}

func (p *Provider) Generate(ctx context.Context, req llm.Request) (*llm.Response, error) {
	if !p.IsConfigured() {
		return nil, fmt.Errorf("openai provider is not configured (missing API key)")
	}

	prompt := llm.BuildImagePrompt(req)
	if prompt == "" {
		return nil, fmt.Errorf("empty image prompt")
	}

	start := time.Now()
	resp, err := p.api.CreateImage(ctx, openai.ImageRequest{
		Prompt:         prompt,
		Size:           p.size,
		ResponseFormat: openai.CreateImageResponseFormatB64JSON,
		N:              1,
	})
	latency := time.Since(start).Milliseconds()

	if err != nil {
		return nil, fmt.Errorf("openai image generation error: %w", err)
	}
	if len(resp.Data) == 0 {
		return nil, fmt.Errorf("empty response from openai")
	}

	out := &llm.Response{
		Model:     "dall-e",
		LatencyMs: latency,
	}

	img := resp.Data[0]
	if img.B64JSON == "" {
		if img.URL == "" {
			return nil, fmt.Errorf("openai returned no image")
		}
		out.ImageURL = img.URL
		return out, nil
	}

	data, err := base64.StdEncoding.DecodeString(img.B64JSON)
	if err != nil {
		return nil, fmt.Errorf("failed to decode generated image: %w", err)
	}
	out.ImageData = data
	out.ImageContentType = http.DetectContentType(data)
	return out, nil
}
