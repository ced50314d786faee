package anyllm

import (
	"context"
	"errors"
	"testing"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/MrWong99/concierge/pkg/provider/llm"
)

// ── New ───────────────────────────────────────────────────────────────────────

func TestNew_EmptyProviderName(t *testing.T) {
	t.Parallel()
	if _, err := New("", "gemini-2.5-flash"); err == nil {
		t.Fatal("expected error for empty provider name")
	}
}

func TestNew_EmptyModel(t *testing.T) {
	t.Parallel()
	if _, err := New("gemini", "", anyllmlib.WithAPIKey("k")); err == nil {
		t.Fatal("expected error for empty model")
	}
}

func TestNew_UnsupportedProvider(t *testing.T) {
	t.Parallel()
	if _, err := New("fakecloud", "some-model", anyllmlib.WithAPIKey("dummy")); err == nil {
		t.Fatal("expected error for unsupported provider")
	}
}

func TestNewGemini_DefaultModel(t *testing.T) {
	t.Parallel()
	p, err := NewGemini("", anyllmlib.WithAPIKey("test-key"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.model != DefaultGeminiModel {
		t.Errorf("model = %q, want %q", p.model, DefaultGeminiModel)
	}
}

func TestNew_OllamaWithoutKey(t *testing.T) {
	t.Parallel()
	p, err := New("ollama", "llama3.2")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p == nil {
		t.Fatal("expected non-nil provider")
	}
}

// ── buildParams ───────────────────────────────────────────────────────────────

func TestBuildParams_SystemPromptFirst(t *testing.T) {
	t.Parallel()
	p := &Provider{model: "gemini-2.5-flash"}
	params := p.buildParams(llm.CompletionRequest{
		SystemPrompt: "Responde em Português de Portugal.",
		Messages:     []llm.Message{{Role: llm.RoleUser, Content: "Olá"}},
		Temperature:  0.7,
		MaxTokens:    300,
	})

	if params.Model != "gemini-2.5-flash" {
		t.Errorf("Model = %q", params.Model)
	}
	if len(params.Messages) != 2 {
		t.Fatalf("got %d messages, want 2", len(params.Messages))
	}
	if params.Messages[0].Role != anyllmlib.RoleSystem {
		t.Errorf("first role = %q, want system", params.Messages[0].Role)
	}
	if got := params.Messages[1].ContentString(); got != "Olá" {
		t.Errorf("user content = %q", got)
	}
	if params.Temperature == nil || *params.Temperature != 0.7 {
		t.Errorf("Temperature = %v, want 0.7", params.Temperature)
	}
	if params.MaxTokens == nil || *params.MaxTokens != 300 {
		t.Errorf("MaxTokens = %v, want 300", params.MaxTokens)
	}
}

func TestBuildParams_ZeroValuesOmitted(t *testing.T) {
	t.Parallel()
	p := &Provider{model: "m"}
	params := p.buildParams(llm.CompletionRequest{
		Messages: []llm.Message{{Role: llm.RoleUser, Content: "x"}},
	})
	if len(params.Messages) != 1 {
		t.Errorf("got %d messages, want 1", len(params.Messages))
	}
	if params.Temperature != nil || params.MaxTokens != nil {
		t.Error("zero temperature and max tokens must be left unset")
	}
}

// ── Complete ──────────────────────────────────────────────────────────────────

func TestComplete_ReturnsBackendReply(t *testing.T) {
	t.Parallel()
	var got anyllmlib.CompletionParams
	p := &Provider{
		model: "gemini-2.5-flash",
		complete: func(_ context.Context, params anyllmlib.CompletionParams) (*llm.CompletionResponse, error) {
			got = params
			return &llm.CompletionResponse{Content: "Que maravilha!", Usage: llm.Usage{TotalTokens: 12}}, nil
		},
	}

	resp, err := p.Complete(context.Background(), llm.CompletionRequest{
		Messages: []llm.Message{{Role: llm.RoleUser, Content: "Casamento em Tavira"}},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Content != "Que maravilha!" || resp.Usage.TotalTokens != 12 {
		t.Errorf("resp = %+v", resp)
	}
	if got.Model != "gemini-2.5-flash" || len(got.Messages) != 1 {
		t.Errorf("backend received %+v", got)
	}
}

func TestComplete_WrapsBackendError(t *testing.T) {
	t.Parallel()
	sentinel := errors.New("quota exceeded")
	p := &Provider{
		model: "m",
		complete: func(context.Context, anyllmlib.CompletionParams) (*llm.CompletionResponse, error) {
			return nil, sentinel
		},
	}
	_, err := p.Complete(context.Background(), llm.CompletionRequest{
		Messages: []llm.Message{{Role: llm.RoleUser, Content: "x"}},
	})
	if !errors.Is(err, sentinel) {
		t.Fatalf("err = %v, want wrapped sentinel", err)
	}
}

func TestComplete_NoMessages(t *testing.T) {
	t.Parallel()
	p := &Provider{model: "m"}
	if _, err := p.Complete(context.Background(), llm.CompletionRequest{}); err == nil {
		t.Fatal("expected error for empty request")
	}
}

// ── Capabilities ──────────────────────────────────────────────────────────────

func TestModelCapabilities(t *testing.T) {
	t.Parallel()
	tests := []struct {
		model      string
		wantWindow int
		wantOutput int
	}{
		{"gemini-2.5-flash", 1_048_576, 65_536},
		{"gemini-2.0-flash-001", 1_048_576, 8_192},
		{"gemini-pro", 128_000, 8_192},
		{"gpt-4o-mini", 128_000, 16_384},
		{"claude-sonnet-4", 200_000, 8_192},
		{"llama3.2", 128_000, 4_096},
	}
	for _, tt := range tests {
		t.Run(tt.model, func(t *testing.T) {
			t.Parallel()
			caps := (&Provider{model: tt.model}).Capabilities()
			if caps.ContextWindow != tt.wantWindow || caps.MaxOutputTokens != tt.wantOutput {
				t.Errorf("Capabilities() = %+v, want window %d output %d", caps, tt.wantWindow, tt.wantOutput)
			}
		})
	}
}
