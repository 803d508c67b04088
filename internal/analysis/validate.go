package analysis

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/google/jsonschema-go/jsonschema"
)

var validComplexities = map[string]struct{}{
	ComplexityLow:    {},
	ComplexityMedium: {},
	ComplexityHigh:   {},
}

var validStates = map[string]struct{}{
	StateInformationGathering: {},
	StateReadyToExecute:       {},
	StateExecuted:             {},
	StateClarificationNeeded:  {},
	StateCompleted:            {},
}

// resolvedSchema lazily compiles the JSON schema derived from the
// ComprehensiveAnalysis type, with numeric bounds attached.
var resolvedSchema = sync.OnceValues(func() (*jsonschema.Resolved, error) {
	schema, err := jsonschema.For[ComprehensiveAnalysis](nil)
	if err != nil {
		return nil, fmt.Errorf("deriving analysis schema: %w", err)
	}

	// Bounds the reflection step cannot express.
	if prop, ok := schema.Properties["confidenceScore"]; ok {
		zero, one := 0.0, 1.0
		prop.Minimum = &zero
		prop.Maximum = &one
	}

	resolved, err := schema.Resolve(nil)
	if err != nil {
		return nil, fmt.Errorf("resolving analysis schema: %w", err)
	}
	return resolved, nil
})

// ValidateSchema checks a raw analysis document against the derived JSON
// schema. Model output that fails here is rejected before any field is used.
func ValidateSchema(raw json.RawMessage) error {
	resolved, err := resolvedSchema()
	if err != nil {
		return err
	}

	var instance any
	if err := json.Unmarshal(raw, &instance); err != nil {
		return fmt.Errorf("parsing analysis document: %w", err)
	}

	if err := resolved.Validate(instance); err != nil {
		return fmt.Errorf("analysis document rejected by schema: %w", err)
	}
	return nil
}

// Validate enforces the semantic invariants the schema cannot express:
// bounded scores, known enum values, unique step numbers, an acyclic plan,
// and dependencies that reference existing lower-numbered steps only. The
// order in which steps are listed is not checked; OrderedSteps sorts them.
func (a *ComprehensiveAnalysis) Validate() error {
	if a.ConfidenceScore < 0 || a.ConfidenceScore > 1 {
		return fmt.Errorf("confidenceScore %v out of [0,1]", a.ConfidenceScore)
	}

	if a.EstimatedComplexity != "" {
		if _, ok := validComplexities[a.EstimatedComplexity]; !ok {
			return fmt.Errorf("unknown estimatedComplexity %q", a.EstimatedComplexity)
		}
	}

	if a.ConversationSummary.State != "" {
		if _, ok := validStates[a.ConversationSummary.State]; !ok {
			return fmt.Errorf("unknown conversation state %q", a.ConversationSummary.State)
		}
	}

	for _, tp := range a.ToolPriorities {
		if tp.Priority < 1 || tp.Priority > 10 {
			return fmt.Errorf("tool priority %d for %q out of [1,10]", tp.Priority, tp.AppName)
		}
	}

	for _, e := range a.ConversationSummary.KeyEntities {
		if e.Confidence < 0 || e.Confidence > 1 {
			return fmt.Errorf("entity confidence %v for %q out of [0,1]", e.Confidence, e.Value)
		}
	}

	seen := make(map[int]struct{}, len(a.ExecutionSteps))
	for _, step := range a.ExecutionSteps {
		if _, dup := seen[step.StepNumber]; dup {
			return fmt.Errorf("duplicate stepNumber %d", step.StepNumber)
		}
		seen[step.StepNumber] = struct{}{}
	}
	for _, step := range a.ExecutionSteps {
		for _, dep := range step.Dependencies {
			if dep == step.StepNumber {
				return fmt.Errorf("step %d depends on itself", step.StepNumber)
			}
			if _, ok := seen[dep]; !ok {
				return fmt.Errorf("step %d depends on unknown step %d", step.StepNumber, dep)
			}
		}
	}

	// The dependency graph must be a DAG; cycles trigger the fallback.
	if _, err := a.OrderedSteps(); err != nil {
		return err
	}

	// Dependencies may name earlier (lower-numbered) steps only.
	for _, step := range a.ExecutionSteps {
		for _, dep := range step.Dependencies {
			if dep > step.StepNumber {
				return fmt.Errorf("step %d depends on later step %d", step.StepNumber, dep)
			}
		}
	}

	return nil
}

// OrderedSteps returns the execution steps in a valid topological order
// (Kahn's algorithm), with stepNumber as the tiebreaker so the order is
// deterministic. Returns an error when the dependency graph has a cycle.
func (a *ComprehensiveAnalysis) OrderedSteps() ([]ExecutionStep, error) {
	steps := a.ExecutionSteps
	if len(steps) == 0 {
		return nil, nil
	}

	byNumber := make(map[int]ExecutionStep, len(steps))
	indegree := make(map[int]int, len(steps))
	dependents := make(map[int][]int, len(steps))
	for _, s := range steps {
		byNumber[s.StepNumber] = s
		if _, ok := indegree[s.StepNumber]; !ok {
			indegree[s.StepNumber] = 0
		}
	}
	for _, s := range steps {
		for _, dep := range s.Dependencies {
			if _, known := byNumber[dep]; !known {
				continue // caught by Validate; ignore here
			}
			indegree[s.StepNumber]++
			dependents[dep] = append(dependents[dep], s.StepNumber)
		}
	}

	var ready []int
	for num, deg := range indegree {
		if deg == 0 {
			ready = append(ready, num)
		}
	}
	sort.Ints(ready)

	ordered := make([]ExecutionStep, 0, len(steps))
	for len(ready) > 0 {
		num := ready[0]
		ready = ready[1:]
		ordered = append(ordered, byNumber[num])

		released := false
		for _, next := range dependents[num] {
			indegree[next]--
			if indegree[next] == 0 {
				ready = append(ready, next)
				released = true
			}
		}
		if released {
			sort.Ints(ready)
		}
	}

	if len(ordered) != len(steps) {
		return nil, fmt.Errorf("execution steps contain a dependency cycle")
	}
	return ordered, nil
}
