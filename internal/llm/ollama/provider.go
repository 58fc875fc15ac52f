package ollama

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/Rrens/ally-chat/internal/config"
	"github.com/Rrens/ally-chat/internal/domain"
	"github.com/Rrens/ally-chat/internal/llm"
)

// Provider implements llm.Provider against a self-hosted Ollama server
type Provider struct {
	host   string
	model  string
	client *http.Client
}

// NewProvider creates a new Ollama provider
func NewProvider(cfg config.OllamaConfig) *Provider {
	model := cfg.Model
	if model == "" {
		model = "llama3.2-vision"
	}
	return &Provider{
		host:   strings.TrimRight(cfg.Host, "/"),
		model:  model,
		client: &http.Client{Timeout: 300 * time.Second},
	}
}

// Name returns the provider identifier
func (p *Provider) Name() string {
	return "ollama"
}

// IsConfigured reports whether a server address is set
func (p *Provider) IsConfigured() bool {
	return p.host != ""
}

type chatMessage struct {
	Role    string   `json:"role"`
	Content string   `json:"content"`
	Images  []string `json:"images,omitempty"`
}

type chatRequest struct {
	Model    string         `json:"model"`
	Messages []chatMessage  `json:"messages"`
	Stream   bool           `json:"stream"`
	Options  map[string]any `json:"options,omitempty"`
}

type chatResponse struct {
	Message   chatMessage `json:"message"`
	Done      bool        `json:"done"`
	EvalCount int         `json:"eval_count"`
}

// Generate produces a conversational reply through /api/chat
func (p *Provider) Generate(ctx context.Context, req llm.Request) (*llm.Response, error) {
	if !p.IsConfigured() {
		return nil, fmt.Errorf("ollama provider is not configured (missing host)")
	}

	current := chatMessage{Role: "user", Content: req.Prompt}
	if req.ImageURL != "" {
		data, _, err := llm.FetchImage(ctx, p.client, req.ImageURL)
		if err != nil {
			return nil, err
		}
		current.Images = []string{base64.StdEncoding.EncodeToString(data)}
	}

	messages := append(toMessages(req.History), current)
	body, err := json.Marshal(chatRequest{
		Model:    p.model,
		Messages: messages,
		Stream:   false,
		Options:  map[string]any{"temperature": 0.7},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	start := time.Now()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.host+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("ollama returned status %d", resp.StatusCode)
	}

	var chatResp chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&chatResp); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	text := strings.TrimSpace(chatResp.Message.Content)
	if text == "" {
		return nil, fmt.Errorf("empty response from ollama")
	}

	return &llm.Response{
		Text:       text,
		Model:      p.model,
		TokensUsed: chatResp.EvalCount,
		LatencyMs:  time.Since(start).Milliseconds(),
	}, nil
}

func toMessages(history []domain.Message) []chatMessage {
	messages := []chatMessage{{Role: "system", Content: llm.SystemPrompt}}
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
			role = "assistant"
		}
		messages = append(messages, chatMessage{Role: role, Content: text})
	}
	return messages
}
