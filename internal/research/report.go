package research

import (
	"fmt"
	"strings"
)

// buildReportPrompt constructs the system prompt for final report synthesis
// from the plan metadata, the step findings in plan order and the citation
// list whose indexes the report must use.
func buildReportPrompt(plan Plan, question string, findings []string, citations []string, mode Mode) string {
	var b strings.Builder
	if mode == ModeAcademic {
		b.WriteString(academicReportPrompt)
	} else {
		b.WriteString(generalReportPrompt)
	}

	goal := plan.Goal
	if goal == "" {
		goal = "N/A"
	}
	qt := plan.QuestionType
	if qt == "" {
		qt = "N/A"
	}
	q := question
	if q == "" {
		q = goal
	}

	fmt.Fprintf(&b, "Question: %s\n", q)
	fmt.Fprintf(&b, "Plan goal: %s\n", goal)
	fmt.Fprintf(&b, "Question type: %s\n\n", qt)

	b.WriteString("Findings to synthesize:\n")
	if len(findings) == 0 {
		b.WriteString("- None\n")
	} else {
		for _, f := range findings {
			fmt.Fprintf(&b, "- %s\n", f)
		}
	}

	b.WriteString("\nSources (cite as [index]):\n")
	if len(citations) == 0 {
		b.WriteString("- None\n")
	} else {
		b.WriteString(strings.Join(citations, "\n"))
		b.WriteString("\n")
	}
	return b.String()
}
