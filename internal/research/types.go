package research

import (
	"context"
	"time"
)

// Mode selects the research style for planning, step execution and reporting.
type Mode string

const (
	ModeGeneral  Mode = "general"
	ModeAcademic Mode = "academic"
)

// Request describes one research run.
type Request struct {
	ID         string `json:"id,omitempty"`
	Question   string `json:"question"`
	Mode       Mode   `json:"mode,omitempty"`
	PlanText   string `json:"plan,omitempty"` // optional caller-supplied plan JSON
	Concurrent bool   `json:"concurrent,omitempty"`
}

// Plan is the normalized research plan driving a run. Read-only after parsing.
type Plan struct {
	Goal         string   `json:"goal"`
	Assumptions  []string `json:"assumptions"`
	QuestionType string   `json:"question_type"`
	Steps        []Step   `json:"plan"`
}

// Step is one unit of research work. Never mutated after creation.
type Step struct {
	Index              int      `json:"step"` // 1-based, stable
	Action             string   `json:"action"`
	ExpectedOutput     string   `json:"expected_output"`
	DeliverableFormat  string   `json:"deliverable_format"`
	Depth              string   `json:"depth"` // low, medium, high
	AcceptanceCriteria []string `json:"acceptance_criteria"`
	RequiresSearch     bool     `json:"requires_search"`
}

// SourceEntry is one cited reference. Citation index is its 1-based position
// in registry insertion order.
type SourceEntry struct {
	URL     string  `json:"uri"`
	Title   string  `json:"title"`
	Snippet string  `json:"snippet,omitempty"`
	Score   float64 `json:"score,omitempty"`
}

// Finding is the accumulated text output of one completed step.
type Finding struct {
	Step    int    `json:"step"`
	Content string `json:"content"`
}

// EventType discriminates the outbound event union.
type EventType string

const (
	EventResearchStep EventType = "research_step"
	EventToolCall     EventType = "tool_call"
	EventToolResult   EventType = "tool_result"
	EventStepOutput   EventType = "step_output"
	EventText         EventType = "text"
	EventDone         EventType = "done"
	EventError        EventType = "error"
)

// Step lifecycle statuses carried on research_step events.
const (
	StatusRunning = "running"
	StatusDone    = "done"
	StatusError   = "error"
)

// Event is the unit pushed to the caller. Field presence depends on Type.
type Event struct {
	Type       EventType     `json:"type"`
	Step       int           `json:"step,omitempty"`
	Total      int           `json:"total,omitempty"`
	Title      string        `json:"title,omitempty"`
	Status     string        `json:"status,omitempty"`
	DurationMS int64         `json:"duration_ms,omitempty"`
	ID         string        `json:"id,omitempty"`
	Name       string        `json:"name,omitempty"`
	Arguments  string        `json:"arguments,omitempty"`
	Output     string        `json:"output,omitempty"`
	Content    string        `json:"content,omitempty"`
	Error      string        `json:"error,omitempty"`
	Sources    []SourceEntry `json:"sources,omitempty"`
}

// GenerationEventKind discriminates events streamed by a GenerationService.
type GenerationEventKind string

const (
	GenText       GenerationEventKind = "text"
	GenThought    GenerationEventKind = "thought"
	GenToolCall   GenerationEventKind = "tool_call"
	GenToolResult GenerationEventKind = "tool_result"
	GenDone       GenerationEventKind = "done"
	GenError      GenerationEventKind = "error"
)

// GenerationEvent is one event from a GenerationService stream.
type GenerationEvent struct {
	Kind       GenerationEventKind
	Text       string
	ToolCallID string
	ToolName   string
	Arguments  string
	Result     string
	Err        string
}

// Message is one chat message sent to a GenerationService.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// GenerationRequest describes one call to a GenerationService.
type GenerationRequest struct {
	Model       string
	Messages    []Message
	EnableTools bool
	Temperature float64
	MaxTokens   int
}

// GenerationService streams model output for one request. Events arrive in
// order within a call; the stream terminates with a done or error event and
// the channel is closed afterwards.
type GenerationService interface {
	Execute(ctx context.Context, req GenerationRequest) (<-chan GenerationEvent, error)
}

// PlanGenerator produces plan text for a question. The text is opaque and may
// be malformed; ParsePlan owns recovery.
type PlanGenerator interface {
	Generate(ctx context.Context, question string, mode Mode) (string, error)
}

// Run phases reported through RunStatus.
const (
	PhasePlanning  = "planning"
	PhaseExecuting = "executing"
	PhaseReporting = "reporting"
	PhaseCompleted = "completed"
	PhaseFailed    = "failed"
)

// RunStatus is the queryable state of an in-flight research run.
type RunStatus struct {
	RunID          string    `json:"run_id"`
	Question       string    `json:"question"`
	Phase          string    `json:"phase"`
	TotalSteps     int       `json:"total_steps"`
	CompletedSteps int       `json:"completed_steps"`
	CurrentStep    string    `json:"current_step,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	LastUpdated    time.Time `json:"last_updated"`
}
