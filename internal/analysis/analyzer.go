package analysis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"

	"github.com/maestrohq/maestro/internal/cache"
	"github.com/maestrohq/maestro/internal/store"
)

// Deadlines for the analysis model call.
const (
	softDeadline = 20 * time.Second
	hardDeadline = 45 * time.Second
)

// Generation parameters for the analysis model.
const (
	analysisTemperature = 0.1
	analysisMaxTokens   = 2000
)

// fingerprint inputs: the last fingerprintMessages history entries, each
// truncated to fingerprintContentLen bytes.
const (
	fingerprintMessages   = 3
	fingerprintContentLen = 50
)

const systemPrompt = `You are the planning stage of a tool-orchestrating assistant.
Given the user's request, recent conversation history and the running summary,
produce a single analysis object that follows the output schema exactly.

Guidelines:
- confidenceScore reflects how certain you are about the user's intent, 0 to 1.
- Set requiresToolExecution only when an external app action is needed.
- executionSteps are ordered by stepNumber; dependencies name earlier steps only.
- recommendedApps use canonical app names (GMAIL, GOOGLECALENDAR, GOOGLEDRIVE, GOOGLEDOCS, NOTION).
- toolPriorities.priority is an integer from 1 to 10.
- clarificationNeeded lists the concrete questions to ask when intent is unclear.
- conversationSummary carries the updated rolling summary for the session.`

// Analyzer issues the structured-output analysis call, caches results by a
// conversation fingerprint, and degrades to a deterministic fallback on any
// failure.
//
// Analyzer is safe for concurrent use.
type Analyzer struct {
	g         *genkit.Genkit
	modelName string
	cache     *cache.Cache
	logger    *slog.Logger
}

// Config contains the required dependencies for the Analyzer.
type Config struct {
	Genkit    *genkit.Genkit
	ModelName string // provider-qualified genkit model name
	Cache     *cache.Cache
	Logger    *slog.Logger
}

// New creates an Analyzer.
func New(cfg Config) (*Analyzer, error) {
	if cfg.Genkit == nil {
		return nil, errors.New("genkit instance is required")
	}
	if cfg.ModelName == "" {
		return nil, errors.New("model name is required")
	}
	if cfg.Cache == nil {
		return nil, errors.New("cache is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Analyzer{
		g:         cfg.Genkit,
		modelName: cfg.ModelName,
		cache:     cfg.Cache,
		logger:    logger,
	}, nil
}

// Analyze produces the analysis for a turn. It never fails: on model,
// schema or validation errors it returns the deterministic fallback, which
// is never written to the cache.
func (a *Analyzer) Analyze(ctx context.Context, query string, history []store.Message, prior *ConversationSummary) *ComprehensiveAnalysis {
	key := cache.AnalysisKey(Fingerprint(query, history))

	var cached ComprehensiveAnalysis
	if a.cache.GetJSON(ctx, key, &cached) {
		a.logger.Debug("analysis cache hit", "key_len", len(key))
		return &cached
	}

	result, err := a.generate(ctx, query, history, prior)
	if err != nil {
		a.logger.Warn("analysis failed, using fallback", "error", err)
		return Fallback(query)
	}

	a.cache.SetJSON(ctx, key, result, cache.TTLAnalysis)
	return result
}

// generate performs the model call and validates the result.
func (a *Analyzer) generate(ctx context.Context, query string, history []store.Message, prior *ConversationSummary) (*ComprehensiveAnalysis, error) {
	ctx, cancel := context.WithTimeout(ctx, hardDeadline)
	defer cancel()

	start := time.Now()
	slow := time.AfterFunc(softDeadline, func() {
		a.logger.Warn("analysis exceeding soft deadline", "elapsed", softDeadline)
	})
	defer slow.Stop()

	resp, err := genkit.Generate(ctx, a.g,
		ai.WithModelName(a.modelName),
		ai.WithSystem(systemPrompt),
		ai.WithPrompt(buildPrompt(query, history, prior)),
		ai.WithOutputType(ComprehensiveAnalysis{}),
		ai.WithConfig(&ai.GenerationCommonConfig{
			Temperature:     analysisTemperature,
			MaxOutputTokens: analysisMaxTokens,
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("generating analysis: %w", err)
	}

	var out ComprehensiveAnalysis
	if err := resp.Output(&out); err != nil {
		return nil, fmt.Errorf("decoding analysis output: %w", err)
	}

	raw, err := json.Marshal(&out)
	if err != nil {
		return nil, fmt.Errorf("re-encoding analysis: %w", err)
	}
	if err := ValidateSchema(raw); err != nil {
		return nil, err
	}
	if err := out.Validate(); err != nil {
		return nil, fmt.Errorf("analysis invariants violated: %w", err)
	}

	a.logger.Debug("analysis generated",
		"confidence", out.ConfidenceScore,
		"steps", len(out.ExecutionSteps),
		"elapsed", time.Since(start))
	return &out, nil
}

// buildPrompt assembles the user-visible part of the analysis prompt.
func buildPrompt(query string, history []store.Message, prior *ConversationSummary) string {
	var sb strings.Builder

	if prior != nil {
		if data, err := json.Marshal(prior); err == nil {
			sb.WriteString("Current conversation summary:\n")
			sb.Write(data)
			sb.WriteString("\n\n")
		}
	}

	if len(history) > 0 {
		sb.WriteString("Recent messages:\n")
		for _, m := range history {
			sb.WriteString(m.Role)
			sb.WriteString(": ")
			sb.WriteString(m.Content)
			sb.WriteByte('\n')
		}
		sb.WriteByte('\n')
	}

	sb.WriteString("User request: ")
	sb.WriteString(query)
	return sb.String()
}

// Fingerprint derives the cache key material for a turn: the query plus the
// last three history contents, each truncated to 50 bytes, base64-encoded.
func Fingerprint(query string, history []store.Message) string {
	parts := make([]string, 0, fingerprintMessages+1)
	parts = append(parts, query)

	start := len(history) - fingerprintMessages
	if start < 0 {
		start = 0
	}
	for _, m := range history[start:] {
		content := m.Content
		if len(content) > fingerprintContentLen {
			content = content[:fingerprintContentLen]
		}
		parts = append(parts, content)
	}

	return cache.EncodeComponent(strings.Join(parts, "|"))
}

// Fallback is the deterministic analysis used when the model call or its
// validation fails. It must never be cached.
func Fallback(query string) *ComprehensiveAnalysis {
	return &ComprehensiveAnalysis{
		QueryAnalysis:         "Unable to analyze the request; proceeding conservatively.",
		IsQueryClear:          false,
		ConfidenceScore:       0.1,
		RequiresToolExecution: false,
		ExecutionSteps: []ExecutionStep{
			{
				StepNumber:   1,
				Description:  "Respond conversationally and ask the user to restate the request",
				ToolCategory: "conversation",
				Priority:     PriorityLow,
			},
		},
		EstimatedComplexity: ComplexityLow,
		ConversationSummary: ConversationSummary{
			CurrentIntent: query,
			State:         StateInformationGathering,
		},
	}
}
