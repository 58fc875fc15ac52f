package llm

import (
	"fmt"
	"strings"

	"github.com/Rrens/ally-chat/internal/domain"
)

// SystemPrompt sets the assistant persona for conversational models
const SystemPrompt = `You are Ally, a friendly and concise personal assistant.
Answer in the language the user writes in.
When the user shares an image, describe what is relevant to their question before answering.`

// maxImagePromptHistory bounds how many earlier user turns feed an image prompt
const maxImagePromptHistory = 3

// Transcript renders history as plain text for providers without native chat turns
func Transcript(history []domain.Message) string {
	var b strings.Builder
	for _, m := range history {
		who := "User"
		if m.Author == domain.AuthorAssistant {
			who = "Ally"
		}
		text := m.Text
		if text == "" && m.ImageURL != "" {
			text = "[image]"
		}
		fmt.Fprintf(&b, "%s: %s\n", who, text)
	}
	return b.String()
}

// BuildImagePrompt folds the latest user turns into a single image generation prompt
// so follow-ups like "now make it blue" keep their subject
func BuildImagePrompt(req Request) string {
	var previous []string
	for i := len(req.History) - 1; i >= 0 && len(previous) < maxImagePromptHistory; i-- {
		m := req.History[i]
		if m.Author == domain.AuthorUser && m.Text != "" {
			previous = append([]string{m.Text}, previous...)
		}
	}
	if len(previous) == 0 {
		return strings.TrimSpace(req.Prompt)
	}
	return fmt.Sprintf("%s\nRefine the picture described above: %s",
		strings.Join(previous, "\n"), strings.TrimSpace(req.Prompt))
}
