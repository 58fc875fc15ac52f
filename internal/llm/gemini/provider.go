package gemini

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/Rrens/ally-chat/internal/config"
	"github.com/Rrens/ally-chat/internal/domain"
	"github.com/Rrens/ally-chat/internal/llm"
	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

type Provider struct {
	apiKey     string
	model      string
	httpClient *http.Client
}

func NewProvider(cfg config.GeminiConfig) *Provider {
	return &Provider{
		apiKey: cfg.APIKey,
		model:  cfg.Model,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

func (p *Provider) Name() string {
	return "gemini"
}

func (p *Provider) DefaultModel() string {
	if p.model != "" {
		return p.model
	}
	return "gemini-2.5-flash"
}

func (p *Provider) IsConfigured() bool {
	return p.apiKey != ""
}

func (p *Provider) Generate(ctx context.Context, req llm.Request) (*llm.Response, error) {
	if !p.IsConfigured() {
		return nil, fmt.Errorf("gemini provider is not configured (missing API key)")
	}

	client, err := genai.NewClient(ctx, option.WithAPIKey(p.apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}
	defer client.Close()

	model := client.GenerativeModel(p.DefaultModel())
	model.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(llm.SystemPrompt)}}

	cs := model.StartChat()
	cs.History = toContents(req.History)

	parts := []genai.Part{}
	if req.ImageURL != "" {
		data, mimeType, err := llm.FetchImage(ctx, p.httpClient, req.ImageURL)
		if err != nil {
			return nil, err
		}
		parts = append(parts, genai.Blob{MIMEType: mimeType, Data: data})
	}
	if req.Prompt != "" {
		parts = append(parts, genai.Text(req.Prompt))
	}

	start := time.Now()
	resp, err := cs.SendMessage(ctx, parts...)
	latency := time.Since(start).Milliseconds()

	if err != nil {
		return nil, fmt.Errorf("gemini generation error: %w", err)
	}

	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil || len(resp.Candidates[0].Content.Parts) == 0 {
		return nil, fmt.Errorf("empty response from gemini")
	}

	var output strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if text, ok := part.(genai.Text); ok {
			output.WriteString(string(text))
		}
	}

	tokensUsed := 0
	if resp.UsageMetadata != nil {
		tokensUsed = int(resp.UsageMetadata.TotalTokenCount)
	}

	return &llm.Response{
		Text:       strings.TrimSpace(output.String()),
		Model:      p.DefaultModel(),
		TokensUsed: tokensUsed,
		LatencyMs:  latency,
	}, nil
}

// toContents maps stored history to gemini chat turns. Consecutive turns by the
// same author are merged since the API expects alternating roles.
func toContents(history []domain.Message) []*genai.Content {
	var contents []*genai.Content
	for _, m := range history {
		text := m.Text
		if text == "" && m.ImageURL != "" {
			text = "[image: " + m.ImageURL + "]"
		}
		if text == "" {
			continue
		}

		role := "user"
		if m.Author == domain.AuthorAssistant {
			role = "model"
		}

		if n := len(contents); n > 0 && contents[n-1].Role == role {
			contents[n-1].Parts = append(contents[n-1].Parts, genai.Text(text))
			continue
		}
		contents = append(contents, &genai.Content{Role: role, Parts: []genai.Part{genai.Text(text)}})
	}
	return contents
}
