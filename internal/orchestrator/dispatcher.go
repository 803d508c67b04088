package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
	"github.com/invopop/jsonschema"
	"golang.org/x/time/rate"

	"github.com/maestrohq/maestro/internal/analysis"
	"github.com/maestrohq/maestro/internal/broker"
	"github.com/maestrohq/maestro/internal/router"
	"github.com/maestrohq/maestro/internal/store"
)

// Generation parameters per tier.
const (
	toolTemperature  = 0.3
	toolMaxTokens    = 3000
	clarTemperature  = 0.4
	clarMaxTokens    = 1500
	convTemperature  = 0.5
	convMaxTokens    = 1000
	defaultMaxSteps  = 8
	perStepDeadline  = 30 * time.Second
	toolTierHardCap  = 5 * time.Minute
	defaultSuccess   = "Done. Let me know if you need anything else."
	emptyReplyNotice = "I'm not sure how to respond to that. Could you rephrase?"
)

// Broker is the execution surface the dispatcher depends on.
type Broker interface {
	Execute(ctx context.Context, req broker.ExecuteRequest) (*broker.ExecuteResult, error)
}

// Dispatcher classifies the turn by confidence tier and produces the final
// response, running the tool-enabled agentic loop for high-confidence tool
// turns.
//
// Dispatcher is safe for concurrent use.
type Dispatcher struct {
	g         *genkit.Genkit
	modelName string
	broker    Broker
	maxSteps  int
	limiter   *rate.Limiter
	logger    *slog.Logger
	now       func() time.Time
}

// DispatcherConfig contains the dispatcher dependencies.
type DispatcherConfig struct {
	Genkit    *genkit.Genkit
	ModelName string // provider-qualified chat model
	Broker    Broker
	MaxSteps  int           // agentic step budget (default 8)
	Limiter   *rate.Limiter // optional; default 10 rps, burst 30
	Logger    *slog.Logger
	Now       func() time.Time // test hook; defaults to time.Now
}

// NewDispatcher creates a Dispatcher.
func NewDispatcher(cfg DispatcherConfig) (*Dispatcher, error) {
	if cfg.Genkit == nil {
		return nil, errors.New("genkit instance is required")
	}
	if cfg.ModelName == "" {
		return nil, errors.New("model name is required")
	}
	if cfg.Broker == nil {
		return nil, errors.New("broker is required")
	}

	maxSteps := cfg.MaxSteps
	if maxSteps <= 0 {
		maxSteps = defaultMaxSteps
	}
	limiter := cfg.Limiter
	if limiter == nil {
		limiter = rate.NewLimiter(10, 30)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	return &Dispatcher{
		g:         cfg.Genkit,
		modelName: cfg.ModelName,
		broker:    cfg.Broker,
		maxSteps:  maxSteps,
		limiter:   limiter,
		logger:    logger,
		now:       now,
	}, nil
}

// Dispatch routes the turn to its confidence tier and returns the response.
// prefs optionally carries the stored user preference digest.
func (d *Dispatcher) Dispatch(ctx context.Context, req *ChatRequest, a *analysis.ComprehensiveAnalysis, history []store.Message, prepared *router.Prepared, execCtx *ExecutionContext, prefs []string) (*ChatResponse, error) {
	resp := &ChatResponse{Analysis: a}
	if prepared != nil {
		resp.RequiredConnections = prepared.RequiredConnections
	}

	switch {
	case a.ConfidenceScore >= analysis.ConfidenceToolTier && a.RequiresToolExecution:
		return d.dispatchToolTier(ctx, req, a, history, prepared, execCtx, prefs, resp)

	case a.ConfidenceScore >= analysis.ConfidenceClarificationTier:
		return d.dispatchClarificationTier(ctx, req, a, history, prefs, resp)

	default:
		return d.dispatchConversationalTier(ctx, req, a, resp)
	}
}

// dispatchToolTier runs the tool-enabled agentic loop, or surfaces the
// authorization gap when no tools could be prepared.
func (d *Dispatcher) dispatchToolTier(ctx context.Context, req *ChatRequest, a *analysis.ComprehensiveAnalysis, history []store.Message, prepared *router.Prepared, execCtx *ExecutionContext, prefs []string, resp *ChatResponse) (*ChatResponse, error) {
	if prepared == nil || len(prepared.Tools) == 0 {
		if prepared != nil && len(prepared.RequiredConnections) > 0 {
			resp.Response = buildConnectionPrompt(prepared.RequiredConnections)
			return resp, nil
		}
		// Tool execution was called for but nothing could be prepared:
		// degrade to the clarification/simple tier.
		return d.dispatchClarificationTier(ctx, req, a, history, prefs, resp)
	}

	deadline := time.Duration(d.maxSteps) * perStepDeadline
	if deadline > toolTierHardCap {
		deadline = toolTierHardCap
	}
	ctx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	tools := make([]ai.ToolRef, 0, len(prepared.Tools))
	for _, desc := range prepared.Tools {
		tool, err := d.dynamicTool(desc, prepared.Accounts[desc.AppName], req.UserID, execCtx)
		if err != nil {
			d.logger.Warn("skipping tool with unusable schema", "tool", desc.Name, "error", err)
			continue
		}
		tools = append(tools, tool)
	}

	prompt := buildOptimizedPrompt(d.now(), a, history, prefs, req.UserQuery)
	genResp, err := d.generate(ctx,
		ai.WithModelName(d.modelName),
		ai.WithSystem(dispatchSystemPrompt),
		ai.WithPrompt(prompt),
		ai.WithTools(tools...),
		ai.WithToolChoice(ai.ToolChoiceAuto),
		ai.WithMaxTurns(d.maxSteps),
		ai.WithConfig(&ai.GenerationCommonConfig{
			Temperature:     toolTemperature,
			MaxOutputTokens: toolMaxTokens,
		}),
	)

	calls := execCtx.Calls()
	resp.ExecutedTools = executedTools(calls)

	if err != nil {
		d.logger.Warn("tool dispatch failed", "error", err)
		if text := composeFailureText(calls); text != "" {
			resp.Response = text
		} else {
			resp.Response = "I wasn't able to complete the request due to an internal problem. Please try again."
		}
		return resp, nil
	}

	if text := composeFailureText(calls); text != "" {
		resp.Response = text
		return resp, nil
	}

	resp.Response = strings.TrimSpace(genResp.Text())
	if resp.Response == "" {
		resp.Response = defaultSuccess
	}
	return resp, nil
}

// dispatchClarificationTier returns the numbered clarification list when the
// analysis produced one, and otherwise runs a tool-free model turn over the
// optimized prompt.
func (d *Dispatcher) dispatchClarificationTier(ctx context.Context, req *ChatRequest, a *analysis.ComprehensiveAnalysis, history []store.Message, prefs []string, resp *ChatResponse) (*ChatResponse, error) {
	if len(a.ClarificationNeeded) > 0 {
		resp.Response = buildClarificationList(a.ClarificationNeeded)
		return resp, nil
	}

	prompt := buildOptimizedPrompt(d.now(), a, history, prefs, req.UserQuery)
	genResp, err := d.generate(ctx,
		ai.WithModelName(d.modelName),
		ai.WithPrompt(prompt),
		ai.WithConfig(&ai.GenerationCommonConfig{
			Temperature:     clarTemperature,
			MaxOutputTokens: clarMaxTokens,
		}),
	)
	if err != nil {
		d.logger.Warn("clarification dispatch failed", "error", err)
		resp.Response = emptyReplyNotice
		return resp, nil
	}

	resp.Response = strings.TrimSpace(genResp.Text())
	if resp.Response == "" {
		resp.Response = emptyReplyNotice
	}
	return resp, nil
}

// dispatchConversationalTier answers small talk with a minimal prompt.
func (d *Dispatcher) dispatchConversationalTier(ctx context.Context, req *ChatRequest, a *analysis.ComprehensiveAnalysis, resp *ChatResponse) (*ChatResponse, error) {
	genResp, err := d.generate(ctx,
		ai.WithModelName(d.modelName),
		ai.WithPrompt(buildMinimalPrompt(a, req.UserQuery)),
		ai.WithConfig(&ai.GenerationCommonConfig{
			Temperature:     convTemperature,
			MaxOutputTokens: convMaxTokens,
		}),
	)
	if err != nil {
		d.logger.Warn("conversational dispatch failed", "error", err)
		resp.Response = emptyReplyNotice
		return resp, nil
	}

	resp.Response = strings.TrimSpace(genResp.Text())
	if resp.Response == "" {
		resp.Response = emptyReplyNotice
	}
	return resp, nil
}

// generate wraps genkit.Generate with proactive rate limiting.
func (d *Dispatcher) generate(ctx context.Context, opts ...ai.GenerateOption) (*ai.ModelResponse, error) {
	if err := d.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit wait: %w", err)
	}
	return genkit.Generate(ctx, d.g, opts...)
}

// dynamicTool wraps one broker tool descriptor as a Genkit tool whose
// handler substitutes $step_<id> references, executes via the broker, and
// records the outcome in the ExecutionContext. Broker transport errors
// become {"error": ...} results so the model can react instead of the loop
// aborting.
func (d *Dispatcher) dynamicTool(desc broker.ToolDescriptor, accountID, userID string, execCtx *ExecutionContext) (ai.Tool, error) {
	schema := &jsonschema.Schema{Type: "object"}
	if len(desc.Parameters) > 0 {
		schema = &jsonschema.Schema{}
		if err := json.Unmarshal(desc.Parameters, schema); err != nil {
			return nil, fmt.Errorf("parsing parameter schema: %w", err)
		}
	}

	schemaBytes, err := json.Marshal(schema)
	if err != nil {
		return nil, fmt.Errorf("marshaling parameter schema: %w", err)
	}
	var schemaMap map[string]any
	if err := json.Unmarshal(schemaBytes, &schemaMap); err != nil {
		return nil, fmt.Errorf("converting parameter schema: %w", err)
	}

	name := desc.Name
	return ai.NewToolWithInputSchema(name, desc.Description, schemaMap,
		func(tctx *ai.ToolContext, input any) (any, error) {
			args, _ := input.(map[string]any)
			args = execCtx.SubstituteArgs(args)
			stepID := execCtx.NextStepID()

			res, err := d.broker.Execute(tctx.Context, broker.ExecuteRequest{
				Action:             name,
				Params:             args,
				ConnectedAccountID: accountID,
				EntityID:           userID,
			})

			var result map[string]any
			switch {
			case err != nil:
				result = map[string]any{"error": err.Error()}
			case res.Successful:
				result = res.Data
				if result == nil {
					result = map[string]any{}
				}
			default:
				result = map[string]any{"success": false, "error": res.Error}
			}

			execCtx.Record(stepID, name, args, result)
			d.logger.Debug("tool executed", "tool", name, "step", stepID, "failed", isFailure(result))
			return result, nil
		}), nil
}

// isFailure classifies a tool result: an object carrying an "error" field or
// success=false failed; everything else, including empty objects, succeeded.
func isFailure(result any) bool {
	m, ok := result.(map[string]any)
	if !ok {
		return false
	}
	if _, hasErr := m["error"]; hasErr {
		return true
	}
	if success, ok := m["success"].(bool); ok && !success {
		return true
	}
	return false
}

// failureReason extracts a human-readable reason from a failed result.
func failureReason(result any) string {
	m, ok := result.(map[string]any)
	if !ok {
		return ""
	}
	if msg, ok := m["error"].(string); ok {
		return msg
	}
	return ""
}

// composeFailureText builds the partial-failure response: it names every
// failed tool and, when available, its reason. Returns "" when no tool
// failed.
func composeFailureText(calls []ToolCall) string {
	var names []string
	var details []string
	for _, c := range calls {
		if !isFailure(c.Result) {
			continue
		}
		names = append(names, c.Name)
		if reason := failureReason(c.Result); reason != "" {
			details = append(details, fmt.Sprintf("%q failed: %s", c.Name, reason))
		}
	}
	if len(names) == 0 {
		return ""
	}

	text := fmt.Sprintf("I attempted to complete your request, but encountered issues with: %s.",
		strings.Join(names, ", "))
	if len(details) > 0 {
		text += " Details: " + strings.Join(details, "; ") + "."
	}
	return text
}

// executedTools converts recorded calls into the caller-facing form.
func executedTools(calls []ToolCall) []ExecutedTool {
	out := make([]ExecutedTool, 0, len(calls))
	for _, c := range calls {
		step, _ := strconv.Atoi(c.ID)
		out = append(out, ExecutedTool{
			Name:       c.Name,
			Args:       c.Args,
			Result:     c.Result,
			StepNumber: step,
		})
	}
	return out
}

// titleGeneration parameters.
const (
	titleTimeout   = 5 * time.Second
	titleMaxLength = 50
	titleMaxInput  = 500
)

// GenerateTitle produces a short conversation title from the first user
// message, falling back to truncation when the model call fails.
func (d *Dispatcher) GenerateTitle(ctx context.Context, firstMessage string) string {
	ctx, cancel := context.WithTimeout(ctx, titleTimeout)
	defer cancel()

	input := firstMessage
	if len(input) > titleMaxInput {
		input = input[:titleMaxInput]
	}

	prompt := fmt.Sprintf(`Generate a concise title (max %d characters) for a conversation that starts with this message.
Return ONLY the title text, no quotes, no trailing punctuation.

Message: %s

Title:`, titleMaxLength, input)

	genResp, err := d.generate(ctx,
		ai.WithModelName(d.modelName),
		ai.WithPrompt(prompt),
	)
	if err != nil {
		d.logger.Debug("title generation failed, truncating", "error", err)
		return truncateTitle(firstMessage)
	}

	title := strings.TrimSpace(genResp.Text())
	if title == "" {
		return truncateTitle(firstMessage)
	}
	if runes := []rune(title); len(runes) > titleMaxLength {
		title = string(runes[:titleMaxLength-3]) + "..."
	}
	return title
}

// truncateTitle shortens a message at a word boundary when possible.
func truncateTitle(message string) string {
	message = strings.TrimSpace(message)
	runes := []rune(message)
	if len(runes) <= titleMaxLength {
		return message
	}
	truncated := string(runes[:titleMaxLength])
	if idx := strings.LastIndex(truncated, " "); idx > titleMaxLength/2 {
		truncated = truncated[:idx]
	}
	return strings.TrimSpace(truncated) + "..."
}
