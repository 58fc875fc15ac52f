package llm_test

import (
	"strings"
	"testing"

	"github.com/Rrens/ally-chat/internal/domain"
	"github.com/Rrens/ally-chat/internal/llm"
)

func TestTranscript(t *testing.T) {
	history := []domain.Message{
		{Author: domain.AuthorUser, Text: "hi"},
		{Author: domain.AuthorAssistant, Text: "hello!"},
		{Author: domain.AuthorUser, ImageURL: "https://cdn/x.png"},
	}

	got := llm.Transcript(history)
	want := "User: hi\nAlly: hello!\nUser: [image]\n"
	if got != want {
		t.Errorf("transcript mismatch:\ngot  %q\nwant %q", got, want)
	}
}

func TestBuildImagePrompt(t *testing.T) {
	req := llm.Request{Prompt: "  a red fox  "}
	if got := llm.BuildImagePrompt(req); got != "a red fox" {
		t.Errorf("expected bare prompt, got %q", got)
	}

	req.Prompt = "make it blue"
	req.History = []domain.Message{
		{Author: domain.AuthorUser, Text: "a fox"},
		{Author: domain.AuthorAssistant, ImageURL: "https://cdn/fox.png"},
		{Author: domain.AuthorUser, Text: "in the snow"},
	}
	got := llm.BuildImagePrompt(req)
	for _, s := range []string{"a fox", "in the snow", "make it blue"} {
		if !strings.Contains(got, s) {
			t.Errorf("prompt should contain %q: %q", s, got)
		}
	}
}
