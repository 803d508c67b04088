package orchestrator

import (
	"fmt"
	"strings"
	"time"

	"github.com/maestrohq/maestro/internal/analysis"
	"github.com/maestrohq/maestro/internal/store"
)

const dispatchSystemPrompt = `You are an assistant that completes user requests by calling the
provided tools against the user's connected apps. Use the execution plan as a
guide, call tools when needed, and finish with a single concise answer
describing what was done. To reuse an earlier tool result as an argument,
pass the string "$step_<id>" where <id> is that step's number.`

// buildOptimizedPrompt assembles the tool-tier prompt: current date,
// confidence, intent and state, the ordered plan, context digests, the last
// two turns, and the query.
func buildOptimizedPrompt(now time.Time, a *analysis.ComprehensiveAnalysis, history []store.Message, prefs []string, query string) string {
	var sb strings.Builder

	fmt.Fprintf(&sb, "Current date: %s\n", now.Format("2006-01-02"))
	fmt.Fprintf(&sb, "Confidence: %.2f\n", a.ConfidenceScore)

	summary := a.ConversationSummary
	if summary.CurrentIntent != "" {
		fmt.Fprintf(&sb, "Intent: %s\n", summary.CurrentIntent)
	}
	if summary.State != "" {
		fmt.Fprintf(&sb, "State: %s\n", summary.State)
	}

	if steps, err := a.OrderedSteps(); err == nil && len(steps) > 0 {
		sb.WriteString("\nPlan:\n")
		for _, step := range steps {
			fmt.Fprintf(&sb, "%d. %s", step.StepNumber, step.Description)
			if step.AppName != "" {
				fmt.Fprintf(&sb, " [%s]", step.AppName)
			}
			if len(step.Dependencies) > 0 {
				fmt.Fprintf(&sb, " (after %v)", step.Dependencies)
			}
			sb.WriteByte('\n')
		}
	}

	writeDigest(&sb, "Gathered", summary.ContextualDetails.Gathered)
	writeDigest(&sb, "Missing", summary.ContextualDetails.Missing)
	if len(prefs) > 0 {
		writeDigest(&sb, "User preferences", prefs)
	} else {
		writeDigest(&sb, "User preferences", summary.ContextualDetails.Preferences)
	}
	if len(summary.KeyEntities) > 0 {
		sb.WriteString("Key entities:\n")
		for _, e := range summary.KeyEntities {
			fmt.Fprintf(&sb, "- %s: %s\n", e.Type, e.Value)
		}
	}

	writeRecentTurns(&sb, history, 2)

	sb.WriteString("\nUser request: ")
	sb.WriteString(query)
	return sb.String()
}

// buildMinimalPrompt is the conversational-tier prompt: the query plus the
// current intent, nothing else.
func buildMinimalPrompt(a *analysis.ComprehensiveAnalysis, query string) string {
	var sb strings.Builder
	if intent := a.ConversationSummary.CurrentIntent; intent != "" {
		fmt.Fprintf(&sb, "Conversation intent: %s\n\n", intent)
	}
	sb.WriteString("User message: ")
	sb.WriteString(query)
	return sb.String()
}

// buildClarificationList renders the numbered clarification questions.
func buildClarificationList(items []string) string {
	var sb strings.Builder
	sb.WriteString("I need a bit more information to help with that:\n")
	for i, item := range items {
		fmt.Fprintf(&sb, "%d. %s\n", i+1, item)
	}
	return strings.TrimRight(sb.String(), "\n")
}

// buildConnectionPrompt names the apps the user must connect first.
func buildConnectionPrompt(apps []string) string {
	return fmt.Sprintf(
		"To do that I need access to the following apps: %s. Please connect them and try again.",
		strings.Join(apps, ", "))
}

func writeDigest(sb *strings.Builder, label string, items []string) {
	if len(items) == 0 {
		return
	}
	fmt.Fprintf(sb, "%s: %s\n", label, strings.Join(items, "; "))
}

func writeRecentTurns(sb *strings.Builder, history []store.Message, n int) {
	if len(history) == 0 {
		return
	}
	start := len(history) - 2*n
	if start < 0 {
		start = 0
	}
	sb.WriteString("\nRecent turns:\n")
	for _, m := range history[start:] {
		fmt.Fprintf(sb, "%s: %s\n", m.Role, m.Content)
	}
}
