package model

import (
	"errors"
	"testing"
)

func TestResolve(t *testing.T) {
	tests := []struct {
		id      string
		want    string
		wantErr bool
	}{
		{"openai:gpt-4o-mini", "openai/gpt-4o-mini", false},
		{"google:gemini-2.0-flash", "googleai/gemini-2.0-flash", false},
		{"googleai:gemini-2.0-flash", "googleai/gemini-2.0-flash", false},
		{"ollama:llama3.3", "ollama/llama3.3", false},
		{"gpt-4o-mini", "", true},
		{"anthropic:claude", "", true},
		{"openai:", "", true},
		{":model", "", true},
		{"", "", true},
	}

	for _, tt := range tests {
		got, err := Resolve(tt.id)
		if tt.wantErr {
			if !errors.Is(err, ErrUnknownProvider) {
				t.Errorf("Resolve(%q) err = %v, want ErrUnknownProvider", tt.id, err)
			}
			continue
		}
		if err != nil {
			t.Errorf("Resolve(%q) = %v", tt.id, err)
			continue
		}
		if got != tt.want {
			t.Errorf("Resolve(%q) = %q, want %q", tt.id, got, tt.want)
		}
	}
}

func TestNewProvider(t *testing.T) {
	p, err := NewProvider("openai:gpt-4o-mini", "google:gemini-2.0-flash", "openai:text-embedding-3-small")
	if err != nil {
		t.Fatalf("NewProvider: %v", err)
	}
	if p.Chat() != "openai/gpt-4o-mini" {
		t.Errorf("Chat() = %q", p.Chat())
	}
	if p.Analysis() != "googleai/gemini-2.0-flash" {
		t.Errorf("Analysis() = %q", p.Analysis())
	}
	if p.Embedder() != "openai/text-embedding-3-small" {
		t.Errorf("Embedder() = %q", p.Embedder())
	}

	if _, err := NewProvider("bad", "google:g", "openai:e"); err == nil {
		t.Error("NewProvider should reject malformed chat id")
	}
}
