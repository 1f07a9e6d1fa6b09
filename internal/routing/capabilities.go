package routing

import (
	"sort"
	"strings"
)

// DefaultCommand is the generic fallback binding consulted when no
// command-specific binding satisfies a request.
const DefaultCommand = "default"

const (
	CapTaskPlanning        = "task_planning"
	CapRequirementAnalysis = "requirement_analysis"
	CapCodeGeneration      = "code_generation"
	CapCodeReview          = "code_review"
	CapQAInterpretation    = "qa_interpretation"
)

var commandAliases = map[string]string{
	"create":    "create-tasks",
	"refine":    "refine-tasks",
	"implement": "implement-tasks",
	"review":    "code-review",
	"qa":        "qa-tasks",
}

var baseCapabilities = map[string][]string{
	"create-tasks":    {CapTaskPlanning},
	"refine-tasks":    {CapTaskPlanning, CapRequirementAnalysis},
	"implement-tasks": {CapCodeGeneration},
	"code-review":     {CapCodeReview},
	"qa-tasks":        {CapQAInterpretation},
	DefaultCommand:    {},
}

// CanonicalCommand maps a command name to its canonical form. Unknown names
// pass through unchanged (their base requirement set is empty).
func CanonicalCommand(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	if canonical, ok := commandAliases[name]; ok {
		return canonical
	}
	return name
}

// RequiredCapabilities is the union of a command's base requirements and any
// task-type-derived extras, sorted for deterministic error messages.
func RequiredCapabilities(command, taskType string) []string {
	set := map[string]bool{}
	for _, cap := range baseCapabilities[CanonicalCommand(command)] {
		set[cap] = true
	}
	if strings.Contains(strings.ToLower(taskType), "qa") {
		set[CapQAInterpretation] = true
	}

	required := make([]string, 0, len(set))
	for cap := range set {
		required = append(required, cap)
	}
	sort.Strings(required)
	return required
}

// missingCapabilities returns the required capabilities the agent does not
// declare, sorted.
func missingCapabilities(agent Agent, required []string) []string {
	have := map[string]bool{}
	for _, cap := range agent.Capabilities {
		have[cap] = true
	}

	var missing []string
	for _, cap := range required {
		if !have[cap] {
			missing = append(missing, cap)
		}
	}
	return missing
}
