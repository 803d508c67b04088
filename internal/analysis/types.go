// Package analysis produces and validates the per-turn comprehensive
// analysis: a single structured-output model call that yields the plan,
// confidence, clarification needs and updated conversation summary driving
// the rest of the pipeline.
package analysis

// Complexity levels for EstimatedComplexity.
const (
	ComplexityLow    = "low"
	ComplexityMedium = "medium"
	ComplexityHigh   = "high"
)

// Step priorities.
const (
	PriorityCritical = "critical"
	PriorityHigh     = "high"
	PriorityMedium   = "medium"
	PriorityLow      = "low"
)

// Conversation states for ConversationSummary.State.
const (
	StateInformationGathering = "information_gathering"
	StateReadyToExecute       = "ready_to_execute"
	StateExecuted             = "executed"
	StateClarificationNeeded  = "clarification_needed"
	StateCompleted            = "completed"
)

// Confidence tier boundaries used by the dispatcher.
const (
	ConfidenceToolTier          = 0.8
	ConfidenceClarificationTier = 0.4
)

// ComprehensiveAnalysis is the closed record produced once per turn by the
// analysis model. It is validated against a derived JSON schema before use
// and stored verbatim on the assistant message and the session summary.
type ComprehensiveAnalysis struct {
	QueryAnalysis               string              `json:"queryAnalysis" jsonschema_description:"One-paragraph interpretation of what the user wants"`
	IsQueryClear                bool                `json:"isQueryClear"`
	ConfidenceScore             float64             `json:"confidenceScore" jsonschema_description:"Confidence in the interpretation, 0 to 1"`
	RequiresToolExecution       bool                `json:"requiresToolExecution"`
	ExecutionSteps              []ExecutionStep     `json:"executionSteps"`
	EstimatedComplexity         string              `json:"estimatedComplexity" jsonschema_description:"low, medium or high"`
	RequiresSequentialExecution bool                `json:"requiresSequentialExecution"`
	NeedsInfoGathering          bool                `json:"needsInfoGathering"`
	MissingInformation          []string            `json:"missingInformation"`
	SearchQueries               []string            `json:"searchQueries"`
	ClarificationNeeded         []string            `json:"clarificationNeeded"`
	CanProceedWithDefaults      bool                `json:"canProceedWithDefaults"`
	ConversationSummary         ConversationSummary `json:"conversationSummary"`
	RecommendedApps             []string            `json:"recommendedApps" jsonschema_description:"App names such as GMAIL or GOOGLEDOCS, most relevant first"`
	ToolPriorities              []ToolPriority      `json:"toolPriorities"`
}

// ExecutionStep is one planned step. Dependencies reference stepNumber values
// of earlier steps; the resulting graph must be acyclic.
type ExecutionStep struct {
	StepNumber   int      `json:"stepNumber"`
	Description  string   `json:"description"`
	RequiredData []string `json:"requiredData"`
	AppName      string   `json:"appName,omitempty"`
	ToolCategory string   `json:"toolCategory"`
	Dependencies []int    `json:"dependencies"`
	Priority     string   `json:"priority" jsonschema_description:"critical, high, medium or low"`
}

// ToolPriority ranks an app (and optionally a tool) for this turn.
// Priority is on a 1-10 scale, 10 highest.
type ToolPriority struct {
	AppName  string `json:"appName"`
	ToolName string `json:"toolName,omitempty"`
	Priority int    `json:"priority"`
}

// ConversationSummary is the session-level rolling summary, overwritten on
// every turn.
type ConversationSummary struct {
	CurrentIntent      string            `json:"currentIntent"`
	ContextualDetails  ContextualDetails `json:"contextualDetails"`
	State              string            `json:"state"`
	KeyEntities        []KeyEntity       `json:"keyEntities"`
	NextExpectedAction string            `json:"nextExpectedAction"`
	TopicShifts        []string          `json:"topicShifts"`
}

// ContextualDetails carries the digests injected into the dispatch prompt.
type ContextualDetails struct {
	Gathered        []string `json:"gathered"`
	Missing         []string `json:"missing"`
	Preferences     []string `json:"preferences"`
	PreviousActions []string `json:"previousActions"`
}

// KeyEntity is a salient entity extracted from the conversation.
type KeyEntity struct {
	Type       string  `json:"type"`
	Value      string  `json:"value"`
	Confidence float64 `json:"confidence"`
}
