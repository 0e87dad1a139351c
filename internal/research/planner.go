package research

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/mohammad-safakhou/qurio/config"
)

// LLMPlanner asks a generation model for a structured research plan.
type LLMPlanner struct {
	cfg    *config.Config
	gen    GenerationService
	logger *log.Logger
}

// NewLLMPlanner creates a planner backed by the given generation service.
func NewLLMPlanner(cfg *config.Config, gen GenerationService) *LLMPlanner {
	return &LLMPlanner{
		cfg:    cfg,
		gen:    gen,
		logger: log.New(log.Writer(), "[PLANNER] ", log.LstdFlags),
	}
}

// Generate returns raw plan text for the question. Tool use is disabled;
// planning is a single model turn.
func (p *LLMPlanner) Generate(ctx context.Context, question string, mode Mode) (string, error) {
	prompt := generalPlannerPrompt
	if mode == ModeAcademic {
		prompt = academicPlannerPrompt
	}
	model := p.cfg.LLM.Model("planning")
	temp, maxTok := p.cfg.LLM.ModelParams(model)
	req := GenerationRequest{
		Model: model,
		Messages: []Message{
			{Role: "system", Content: prompt},
			{Role: "user", Content: question},
		},
		Temperature: temp,
		MaxTokens:   maxTok,
	}
	events, err := p.gen.Execute(ctx, req)
	if err != nil {
		return "", fmt.Errorf("starting plan generation: %w", err)
	}

	var text strings.Builder
	for ev := range events {
		switch ev.Kind {
		case GenText:
			text.WriteString(ev.Text)
		case GenDone:
			if ev.Text != "" {
				return ev.Text, nil
			}
			return text.String(), nil
		case GenError:
			return "", fmt.Errorf("plan generation: %s", ev.Err)
		}
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return "", fmt.Errorf("plan generation stream ended without terminal event")
}
