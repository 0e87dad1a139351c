package research

import (
	"context"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"

	"github.com/mohammad-safakhou/qurio/config"
	"github.com/mohammad-safakhou/qurio/internal/telemetry"
)

var engineTracer = otel.Tracer("qurio/research/engine")

// statusRetention bounds how long a finished run stays queryable before its
// status entry is evicted.
const statusRetention = 15 * time.Minute

// Engine runs research requests: it plans, executes steps, and synthesizes a
// report, pushing progress to the caller as a single ordered event stream.
type Engine struct {
	cfg       *config.Config
	gen       GenerationService
	planner   PlanGenerator
	telemetry *telemetry.Telemetry
	logger    *log.Logger

	mu        sync.RWMutex
	runs      map[string]*RunStatus
	retention time.Duration
}

// NewEngine creates a research engine.
func NewEngine(cfg *config.Config, gen GenerationService, planner PlanGenerator, tel *telemetry.Telemetry) *Engine {
	return &Engine{
		cfg:       cfg,
		gen:       gen,
		planner:   planner,
		telemetry: tel,
		logger:    log.New(log.Writer(), "[ENGINE] ", log.LstdFlags),
		runs:      make(map[string]*RunStatus),
		retention: statusRetention,
	}
}

// Stream starts a research run and returns its event channel. The channel is
// closed when the run finishes, fails, or the context is cancelled. Exactly
// one terminal event (done or error) is sent unless the consumer goes away.
func (e *Engine) Stream(ctx context.Context, req Request) <-chan Event {
	if req.ID == "" {
		req.ID = uuid.New().String()
	}
	if req.Mode != ModeAcademic {
		req.Mode = ModeGeneral
	}

	buffer := e.cfg.Research.EventBuffer
	if buffer < 0 {
		buffer = 0
	}
	out := make(chan Event, buffer)

	go func() {
		defer close(out)
		e.run(ctx, req, out)
	}()
	return out
}

// Status returns the current state of a run.
func (e *Engine) Status(runID string) (RunStatus, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	st, ok := e.runs[runID]
	if !ok {
		return RunStatus{}, false
	}
	return *st, true
}

func (e *Engine) updateStatus(runID string, update func(*RunStatus)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	st, ok := e.runs[runID]
	if !ok {
		st = &RunStatus{RunID: runID, CreatedAt: time.Now()}
		e.runs[runID] = st
	}
	update(st)
	st.LastUpdated = time.Now()
}

func (e *Engine) run(ctx context.Context, req Request, out chan<- Event) {
	ctx, span := engineTracer.Start(ctx, "engine.run")
	defer span.End()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	started := time.Now()
	emit := func(ev Event) bool {
		select {
		case out <- ev:
			return true
		case <-ctx.Done():
			return false
		}
	}

	e.updateStatus(req.ID, func(st *RunStatus) {
		st.Question = req.Question
		st.Phase = PhasePlanning
	})
	e.logger.Printf("run %s started: %q (mode=%s concurrent=%v)", req.ID, req.Question, req.Mode, req.Concurrent)

	plan := e.resolvePlan(ctx, req)
	e.updateStatus(req.ID, func(st *RunStatus) {
		st.Phase = PhaseExecuting
		st.TotalSteps = len(plan.Steps)
	})

	registry := NewSourceRegistry()
	tracker := newCallTracker()

	var findings []Finding
	var ok bool
	if req.Concurrent && len(plan.Steps) > 1 {
		findings, ok = e.executeConcurrent(ctx, req, plan, registry, tracker, emit)
	} else {
		findings, ok = e.executeSequential(ctx, req, plan, registry, tracker, emit)
	}
	if !ok {
		e.finish(req.ID, started, false, "consumer disconnected")
		return
	}

	e.updateStatus(req.ID, func(st *RunStatus) { st.Phase = PhaseReporting })
	if err := e.synthesizeReport(ctx, req, plan, findings, registry, emit); err != nil {
		if err != errAbandoned {
			emit(Event{Type: EventError, Error: err.Error()})
		}
		e.finish(req.ID, started, false, err.Error())
		return
	}
	e.finish(req.ID, started, true, "")
}

func (e *Engine) finish(runID string, started time.Time, success bool, reason string) {
	phase := PhaseCompleted
	if !success {
		phase = PhaseFailed
	}
	e.updateStatus(runID, func(st *RunStatus) {
		st.Phase = phase
		st.CurrentStep = ""
	})
	e.telemetry.RecordRun(time.Since(started), success)
	if success {
		e.logger.Printf("run %s completed in %v", runID, time.Since(started).Round(time.Millisecond))
	} else {
		e.logger.Printf("run %s failed after %v: %s", runID, time.Since(started).Round(time.Millisecond), reason)
	}

	// only terminal entries are evicted; a restarted run ID keeps its entry
	time.AfterFunc(e.retention, func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		if st, ok := e.runs[runID]; ok && (st.Phase == PhaseCompleted || st.Phase == PhaseFailed) {
			delete(e.runs, runID)
		}
	})
}

// resolvePlan prefers a caller-supplied plan, then the planner, and always
// degrades to a single-step fallback rather than failing the run.
func (e *Engine) resolvePlan(ctx context.Context, req Request) Plan {
	raw := req.PlanText
	if raw == "" && e.planner != nil {
		text, err := e.planner.Generate(ctx, req.Question, req.Mode)
		if err != nil {
			e.logger.Printf("run %s: planning failed, using fallback plan: %v", req.ID, err)
			return FallbackPlan()
		}
		raw = text
	}
	if raw == "" {
		return FallbackPlan()
	}
	plan := ParsePlan(raw)
	e.logger.Printf("run %s: plan with %d steps (%s)", req.ID, len(plan.Steps), plan.QuestionType)
	return plan
}

func (e *Engine) executeSequential(ctx context.Context, req Request, plan Plan, registry *SourceRegistry, tracker *callTracker, emit func(Event) bool) ([]Finding, bool) {
	findings := make([]Finding, 0, len(plan.Steps))
	for _, step := range plan.Steps {
		finding, ok := e.runStep(ctx, req, plan, step, findings, registry, tracker, emit)
		if !ok {
			return nil, false
		}
		if finding != nil {
			findings = append(findings, *finding)
		}
	}
	return findings, true
}

func (e *Engine) executeConcurrent(ctx context.Context, req Request, plan Plan, registry *SourceRegistry, tracker *callTracker, emit func(Event) bool) ([]Finding, bool) {
	limit := e.cfg.Research.MaxConcurrentSteps
	if limit <= 0 {
		limit = len(plan.Steps)
	}
	sem := make(chan struct{}, limit)

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		findings  []Finding
		abandoned bool
	)
	for _, step := range plan.Steps {
		wg.Add(1)
		go func(step Step) {
			defer wg.Done()
			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-ctx.Done():
				return
			}
			// Concurrent steps run without prior findings on purpose.
			finding, ok := e.runStep(ctx, req, plan, step, nil, registry, tracker, emit)
			mu.Lock()
			defer mu.Unlock()
			if !ok {
				abandoned = true
				return
			}
			if finding != nil {
				findings = append(findings, *finding)
			}
		}(step)
	}
	wg.Wait()
	if abandoned {
		return nil, false
	}
	sort.Slice(findings, func(i, j int) bool { return findings[i].Step < findings[j].Step })
	return findings, true
}

// runStep executes one plan step. A failed step is reported and skipped; the
// run continues. The second return is false only when the consumer is gone.
func (e *Engine) runStep(ctx context.Context, req Request, plan Plan, step Step, prior []Finding, registry *SourceRegistry, tracker *callTracker, emit func(Event) bool) (*Finding, bool) {
	ctx, span := engineTracer.Start(ctx, fmt.Sprintf("engine.step.%d", step.Index))
	defer span.End()

	if !emit(Event{Type: EventResearchStep, Step: step.Index, Total: len(plan.Steps), Title: step.Action, Status: StatusRunning}) {
		return nil, false
	}
	e.updateStatus(req.ID, func(st *RunStatus) { st.CurrentStep = step.Action })

	tracker.Begin(step.Index)
	defer tracker.End(step.Index)

	stepCtx := ctx
	if timeout := e.cfg.Research.StepTimeout; timeout > 0 {
		var cancel context.CancelFunc
		stepCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	model := e.cfg.LLM.Model("steps")
	temp, maxTok := e.cfg.LLM.ModelParams(model)
	run := &stepRun{
		step:     step,
		total:    len(plan.Steps),
		mode:     req.Mode,
		plan:     plan,
		question: req.Question,
		findings: prior,
		model:    model,
		temp:     temp,
		maxTok:   maxTok,
		gen:      e.gen,
		registry: registry,
		tracker:  tracker,
		emit:     emit,
	}

	started := time.Now()
	content, err := run.run(stepCtx)
	elapsed := time.Since(started)

	if err == errAbandoned {
		return nil, false
	}
	if err != nil {
		e.logger.Printf("run %s: step %d failed: %v", req.ID, step.Index, err)
		e.telemetry.RecordStep(elapsed, StatusError)
		if !emit(Event{Type: EventResearchStep, Step: step.Index, Total: len(plan.Steps), Title: step.Action, Status: StatusError, DurationMS: elapsed.Milliseconds(), Error: err.Error()}) {
			return nil, false
		}
		return nil, true
	}

	e.telemetry.RecordStep(elapsed, StatusDone)
	e.updateStatus(req.ID, func(st *RunStatus) { st.CompletedSteps++ })
	if !emit(Event{Type: EventResearchStep, Step: step.Index, Total: len(plan.Steps), Title: step.Action, Status: StatusDone, DurationMS: elapsed.Milliseconds()}) {
		return nil, false
	}
	if !emit(Event{Type: EventStepOutput, Step: step.Index, Content: content}) {
		return nil, false
	}
	return &Finding{Step: step.Index, Content: content}, true
}

func (e *Engine) synthesizeReport(ctx context.Context, req Request, plan Plan, findings []Finding, registry *SourceRegistry, emit func(Event) bool) error {
	ctx, span := engineTracer.Start(ctx, "engine.report")
	defer span.End()

	contents := make([]string, 0, len(findings))
	for _, f := range findings {
		contents = append(contents, fmt.Sprintf("Step %d:\n%s", f.Step, f.Content))
	}
	if len(contents) == 0 {
		contents = []string{"No step outputs available"}
	}

	model := e.cfg.LLM.Model("reporting")
	temp, maxTok := e.cfg.LLM.ModelParams(model)
	genReq := GenerationRequest{
		Model: model,
		Messages: []Message{
			{Role: "system", Content: buildReportPrompt(plan, req.Question, contents, registry.CitationList(), req.Mode)},
			{Role: "user", Content: req.Question},
		},
		Temperature: temp,
		MaxTokens:   maxTok,
	}
	events, err := e.gen.Execute(ctx, genReq)
	if err != nil {
		return fmt.Errorf("starting report synthesis: %w", err)
	}

	var report string
	for ev := range events {
		switch ev.Kind {
		case GenText:
			report += ev.Text
			if !emit(Event{Type: EventText, Content: ev.Text}) {
				return errAbandoned
			}
		case GenDone:
			if ev.Text != "" {
				report = ev.Text
			}
			if !emit(Event{Type: EventDone, Content: report, Sources: registry.Ordered()}) {
				return errAbandoned
			}
			return nil
		case GenError:
			return fmt.Errorf("report synthesis: %s", ev.Err)
		}
	}
	if err := ctx.Err(); err != nil {
		return errAbandoned
	}
	return fmt.Errorf("report synthesis stream ended without terminal event")
}
