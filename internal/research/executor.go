package research

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// stepRun drives one call to the GenerationService for one step, translating
// its event stream into outbound tool events, registered sources and the
// step's accumulated text.
type stepRun struct {
	step     Step
	total    int
	mode     Mode
	plan     Plan
	question string
	findings []Finding // prior findings; empty in concurrent mode
	model    string
	temp     float64
	maxTok   int

	gen      GenerationService
	registry *SourceRegistry
	tracker  *callTracker
	emit     func(Event) bool
}

// run executes the step and returns its accumulated text. A false return from
// emit means the consumer disconnected; the error reports the abandonment.
func (s *stepRun) run(ctx context.Context) (string, error) {
	req := GenerationRequest{
		Model:       s.model,
		Messages:    s.messages(),
		EnableTools: s.step.RequiresSearch,
		Temperature: s.temp,
		MaxTokens:   s.maxTok,
	}

	events, err := s.gen.Execute(ctx, req)
	if err != nil {
		return "", fmt.Errorf("generation call failed: %w", err)
	}

	var text strings.Builder
	for ev := range events {
		switch ev.Kind {
		case GenText:
			text.WriteString(ev.Text)
		case GenThought:
			// reasoning content is not part of the step's finding
		case GenToolCall:
			uid := s.tracker.Started(s.step.Index, ev.ToolCallID, ev.ToolName)
			if !s.emit(Event{
				Type:      EventToolCall,
				ID:        uid,
				Name:      ev.ToolName,
				Arguments: ev.Arguments,
				Step:      s.step.Index,
				Total:     s.total,
			}) {
				return text.String(), errAbandoned
			}
		case GenToolResult:
			uid, durationMS := s.tracker.Completed(s.step.Index, ev.ToolCallID)
			status := StatusDone
			if ev.Err != "" {
				status = StatusError
			} else {
				s.registry.AddFromToolResult(ev.Result)
			}
			if !s.emit(Event{
				Type:       EventToolResult,
				ID:         uid,
				Name:       ev.ToolName,
				Status:     status,
				Output:     ev.Result,
				Error:      ev.Err,
				DurationMS: durationMS,
				Step:       s.step.Index,
				Total:      s.total,
			}) {
				return text.String(), errAbandoned
			}
		case GenError:
			return text.String(), errors.New(ev.Err)
		case GenDone:
			return text.String(), nil
		}
	}

	if err := ctx.Err(); err != nil {
		return text.String(), err
	}
	return text.String(), errors.New("generation stream ended without terminal event")
}

// errAbandoned marks a run whose consumer went away; it is never surfaced as
// an outbound event.
var errAbandoned = errors.New("research: consumer disconnected")

func (s *stepRun) messages() []Message {
	var b strings.Builder

	if s.mode == ModeAcademic {
		b.WriteString("You are executing an academic research step with scholarly rigor.\n\n")
	} else {
		b.WriteString("You are executing a deep research step.\n\n")
	}

	fmt.Fprintf(&b, "Step %d of %d: %s\n\n", s.step.Index, s.total, s.step.Action)
	fmt.Fprintf(&b, "Expected Output: %s\n", s.step.ExpectedOutput)
	fmt.Fprintf(&b, "Deliverable Format: %s\n", s.step.DeliverableFormat)
	fmt.Fprintf(&b, "Depth: %s\n\n", s.step.Depth)

	b.WriteString("Acceptance Criteria:\n")
	writeBullets(&b, s.step.AcceptanceCriteria)
	b.WriteString("\nAssumptions:\n")
	writeBullets(&b, s.plan.Assumptions)

	if len(s.findings) > 0 {
		b.WriteString("\nFindings from earlier steps:\n")
		for _, f := range s.findings {
			fmt.Fprintf(&b, "[Step %d]\n%s\n\n", f.Step, f.Content)
		}
	}

	if citations := s.registry.CitationList(); len(citations) > 0 {
		b.WriteString("\nSources collected so far (cite as [index]):\n")
		b.WriteString(strings.Join(citations, "\n"))
		b.WriteString("\n")
	}

	b.WriteString("\n")
	if s.mode == ModeAcademic {
		b.WriteString(academicStepPrompt)
	} else {
		b.WriteString(generalStepPrompt)
	}

	return []Message{
		{Role: "system", Content: b.String()},
		{Role: "user", Content: s.question},
	}
}

func writeBullets(b *strings.Builder, items []string) {
	if len(items) == 0 {
		b.WriteString("- None\n")
		return
	}
	for _, item := range items {
		fmt.Fprintf(b, "- %s\n", item)
	}
}
