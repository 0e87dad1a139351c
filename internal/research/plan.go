package research

import (
	"encoding/json"
	"strings"
)

const fallbackAction = "Summarize the topic and gather key evidence."

// FallbackPlan returns the single-step plan used when plan text is missing or
// unparseable, so the pipeline can always proceed.
func FallbackPlan() Plan {
	return Plan{
		Goal:         "",
		Assumptions:  []string{},
		QuestionType: "analysis",
		Steps: []Step{
			{
				Index:              1,
				Action:             fallbackAction,
				ExpectedOutput:     "A concise summary with evidence.",
				DeliverableFormat:  "paragraph",
				Depth:              "medium",
				AcceptanceCriteria: []string{},
				RequiresSearch:     true,
			},
		},
	}
}

// ParsePlan normalizes plan text into a Plan. It never fails: malformed or
// empty input yields the fallback plan. It is the single point of defaulting
// for optional step fields.
func ParsePlan(raw string) Plan {
	jsonStr := extractJSONObject(stripCodeFence(raw))
	if jsonStr == "" {
		return FallbackPlan()
	}

	var plan Plan
	if err := json.Unmarshal([]byte(jsonStr), &plan); err != nil {
		return FallbackPlan()
	}
	if len(plan.Steps) == 0 {
		return FallbackPlan()
	}

	for i := range plan.Steps {
		step := &plan.Steps[i]
		if step.Index <= 0 {
			step.Index = i + 1
		}
		if strings.TrimSpace(step.Action) == "" {
			step.Action = fallbackAction
		}
		if step.DeliverableFormat == "" {
			step.DeliverableFormat = "paragraph"
		}
		switch step.Depth {
		case "low", "medium", "high":
		default:
			step.Depth = "medium"
		}
		if step.AcceptanceCriteria == nil {
			step.AcceptanceCriteria = []string{}
		}
	}
	if plan.Assumptions == nil {
		plan.Assumptions = []string{}
	}
	return plan
}

// stripCodeFence removes a surrounding markdown code fence, with or without a
// language tag, the way plan generators tend to wrap their JSON.
func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	parts := strings.Split(s, "```")
	if len(parts) < 2 {
		return s
	}
	body := parts[1]
	if strings.HasPrefix(body, "json") {
		body = body[4:]
	}
	return strings.TrimSpace(body)
}

// extractJSONObject returns the first balanced top-level JSON object in s, or
// "" when none exists.
func extractJSONObject(s string) string {
	start := -1
	depth := 0
	for i, ch := range s {
		switch ch {
		case '{':
			if depth == 0 {
				start = i
			}
			depth++
		case '}':
			if depth > 0 {
				depth--
			}
			if depth == 0 && start != -1 {
				return s[start : i+1]
			}
		}
	}
	return ""
}
