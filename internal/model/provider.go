// Package model resolves configured "<provider>:<model>" identifiers into
// provider-qualified Genkit model names and selects the analysis vs. chat
// model per call site.
package model

import (
	"errors"
	"fmt"
	"strings"
)

// ErrUnknownProvider indicates an unsupported provider prefix.
var ErrUnknownProvider = errors.New("unknown model provider")

// Provider prefixes accepted in configuration.
const (
	ProviderOpenAI   = "openai"
	ProviderGoogle   = "google"
	ProviderGoogleAI = "googleai"
	ProviderOllama   = "ollama"
)

// Resolve converts a "<provider>:<model>" identifier into the
// provider-qualified name Genkit expects (e.g. "openai:gpt-4o-mini" →
// "openai/gpt-4o-mini", "google:gemini-2.0-flash" → "googleai/gemini-2.0-flash").
func Resolve(id string) (string, error) {
	provider, name, ok := strings.Cut(id, ":")
	if !ok || provider == "" || name == "" {
		return "", fmt.Errorf("%w: malformed identifier %q", ErrUnknownProvider, id)
	}

	switch provider {
	case ProviderOpenAI:
		return ProviderOpenAI + "/" + name, nil
	case ProviderGoogle, ProviderGoogleAI:
		return ProviderGoogleAI + "/" + name, nil
	case ProviderOllama:
		return ProviderOllama + "/" + name, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownProvider, provider)
	}
}

// Provider carries the resolved model names for the two logical endpoints
// plus the embedder.
type Provider struct {
	chat     string
	analysis string
	embedder string
}

// NewProvider resolves the three configured identifiers up front so
// misconfiguration fails at startup, not mid-request.
func NewProvider(chatID, analysisID, embedderID string) (*Provider, error) {
	chat, err := Resolve(chatID)
	if err != nil {
		return nil, fmt.Errorf("chat model: %w", err)
	}
	analysis, err := Resolve(analysisID)
	if err != nil {
		return nil, fmt.Errorf("analysis model: %w", err)
	}
	embedder, err := Resolve(embedderID)
	if err != nil {
		return nil, fmt.Errorf("embedder model: %w", err)
	}
	return &Provider{chat: chat, analysis: analysis, embedder: embedder}, nil
}

// Chat returns the provider-qualified chat (tool-calling) model name.
func (p *Provider) Chat() string { return p.chat }

// Analysis returns the provider-qualified analysis (structured output) model name.
func (p *Provider) Analysis() string { return p.analysis }

// Embedder returns the provider-qualified embedder name.
func (p *Provider) Embedder() string { return p.embedder }
