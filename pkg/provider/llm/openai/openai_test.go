package openai

import (
	"testing"

	"github.com/callyard/callyard/pkg/provider/llm"
)

func TestNewValidation(t *testing.T) {
	t.Parallel()

	if _, err := New("", "gpt-4o"); err == nil {
		t.Error("expected error for empty api key, got nil")
	}
	if _, err := New("sk-test", ""); err == nil {
		t.Error("expected error for empty model, got nil")
	}
	if _, err := New("sk-test", "gpt-4o"); err != nil {
		t.Errorf("New with valid arguments failed: %v", err)
	}
}

func TestBuildParamsMessageOrder(t *testing.T) {
	t.Parallel()

	p, err := New("sk-test", "gpt-4o")
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	params := p.buildParams(llm.CompletionRequest{
		SystemPrompts: []string{"be brief", "stay polite"},
		Messages: []llm.Message{
			{Role: llm.RoleAssistant, Content: "Hello"},
			{Role: llm.RoleUser, Content: "Hi"},
		},
		UserInput: "what now?",
	})

	if got := string(params.Model); got != "gpt-4o" {
		t.Errorf("model = %q, want gpt-4o", got)
	}
	// 2 system + 2 history + 1 trailing user input.
	if len(params.Messages) != 5 {
		t.Fatalf("len(messages) = %d, want 5", len(params.Messages))
	}
	if params.Messages[0].OfSystem == nil || params.Messages[1].OfSystem == nil {
		t.Error("system prompts must come first")
	}
	if params.Messages[2].OfAssistant == nil {
		t.Error("assistant history message lost its role")
	}
	if params.Messages[3].OfUser == nil || params.Messages[4].OfUser == nil {
		t.Error("user messages lost their role")
	}
}

func TestBuildParamsOmitsEmptyUserInput(t *testing.T) {
	t.Parallel()

	p, err := New("sk-test", "gpt-4o")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	params := p.buildParams(llm.CompletionRequest{
		SystemPrompts: []string{"be brief"},
	})
	if len(params.Messages) != 1 {
		t.Errorf("len(messages) = %d, want 1", len(params.Messages))
	}
}
