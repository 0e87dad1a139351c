package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/mohammad-safakhou/qurio/internal/archive"
	"github.com/mohammad-safakhou/qurio/internal/research"
	"github.com/mohammad-safakhou/qurio/internal/store"
)

// ResearchHandler starts research runs and streams their events.
type ResearchHandler struct {
	Engine  *research.Engine
	Store   *store.Store
	Archive *archive.Archive
	Logger  *log.Logger
}

func (h *ResearchHandler) Register(g *echo.Group) {
	g.POST("/stream", h.stream)
}

// stream runs a research request and forwards engine events over SSE. The
// run is persisted even when the client disconnects mid-stream.
func (h *ResearchHandler) stream(c echo.Context) error {
	var req research.Request
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if strings.TrimSpace(req.Question) == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "question is required")
	}
	req.ID = uuid.New().String()
	userID, _ := c.Get("user_id").(string)

	rec := newRunRecorder(req, userID)
	if err := h.createRun(c.Request().Context(), rec); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	resp := c.Response()
	resp.Header().Set(echo.HeaderContentType, "text/event-stream")
	resp.Header().Set(echo.HeaderCacheControl, "no-cache")
	resp.Header().Set("Connection", "keep-alive")
	resp.WriteHeader(http.StatusOK)
	flusher, ok := resp.Writer.(http.Flusher)
	if !ok {
		return echo.NewHTTPError(http.StatusInternalServerError, "streaming unsupported")
	}

	events := h.Engine.Stream(c.Request().Context(), req)
	for ev := range events {
		rec.observe(ev)
		payload, err := json.Marshal(ev)
		if err != nil {
			h.Logger.Printf("run %s: marshaling event: %v", req.ID, err)
			continue
		}
		if _, err := fmt.Fprintf(resp, "data: %s\n\n", payload); err != nil {
			break
		}
		flusher.Flush()
	}

	h.persist(rec)
	return nil
}

// RunToCompletion executes a run without a streaming consumer, for the
// scheduler. Events are drained and persisted.
func (h *ResearchHandler) RunToCompletion(ctx context.Context, userID string, req research.Request) error {
	if req.ID == "" {
		req.ID = uuid.New().String()
	}
	rec := newRunRecorder(req, userID)
	if err := h.createRun(ctx, rec); err != nil {
		return err
	}
	for ev := range h.Engine.Stream(ctx, req) {
		rec.observe(ev)
	}
	h.persist(rec)
	if rec.failed {
		return fmt.Errorf("run %s failed: %s", req.ID, rec.errMsg)
	}
	return nil
}

func (h *ResearchHandler) createRun(ctx context.Context, rec *runRecorder) error {
	if h.Store == nil {
		return nil
	}
	return h.Store.CreateRun(ctx, store.Run{
		ID:         rec.req.ID,
		UserID:     rec.userID,
		Question:   rec.req.Question,
		Mode:       string(rec.req.Mode),
		Concurrent: rec.req.Concurrent,
		PlanJSON:   []byte(rec.req.PlanText),
	})
}

// persist writes the recorded outcome. Runs on a background context so a
// dropped client cannot abort bookkeeping.
func (h *ResearchHandler) persist(rec *runRecorder) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	status := store.RunStatusCompleted
	if rec.failed || !rec.done {
		status = store.RunStatusFailed
	}

	if h.Store != nil {
		for _, step := range rec.stepOrder() {
			if err := h.Store.SaveStepResult(ctx, store.StepResult{
				RunID:      rec.req.ID,
				Step:       step,
				Action:     rec.actions[step],
				Status:     rec.statuses[step],
				DurationMS: rec.durations[step],
				Content:    rec.contents[step],
			}); err != nil {
				h.Logger.Printf("run %s: persisting step %d: %v", rec.req.ID, step, err)
			}
		}
		duration := time.Since(rec.started).Milliseconds()
		if err := h.Store.CompleteRun(ctx, rec.req.ID, status, rec.report, rec.sources, duration); err != nil {
			h.Logger.Printf("run %s: finalizing: %v", rec.req.ID, err)
		}
	}

	if h.Archive != nil && status == store.RunStatusCompleted {
		if err := h.Archive.Add(archive.Record{
			RunID:    rec.req.ID,
			Question: rec.req.Question,
			Mode:     string(rec.req.Mode),
			Report:   rec.report,
			Sources:  rec.sources,
		}); err != nil {
			h.Logger.Printf("run %s: archiving: %v", rec.req.ID, err)
		}
	}
}

// runRecorder accumulates a run's persistent state from its event stream.
type runRecorder struct {
	req     research.Request
	userID  string
	started time.Time

	actions   map[int]string
	statuses  map[int]string
	durations map[int]int64
	contents  map[int]string

	report  string
	sources []research.SourceEntry
	done    bool
	failed  bool
	errMsg  string
}

func newRunRecorder(req research.Request, userID string) *runRecorder {
	return &runRecorder{
		req:       req,
		userID:    userID,
		started:   time.Now(),
		actions:   make(map[int]string),
		statuses:  make(map[int]string),
		durations: make(map[int]int64),
		contents:  make(map[int]string),
	}
}

func (r *runRecorder) observe(ev research.Event) {
	switch ev.Type {
	case research.EventResearchStep:
		if ev.Title != "" {
			r.actions[ev.Step] = ev.Title
		}
		r.statuses[ev.Step] = ev.Status
		if ev.Status != research.StatusRunning {
			r.durations[ev.Step] = ev.DurationMS
		}
	case research.EventStepOutput:
		r.contents[ev.Step] = ev.Content
	case research.EventDone:
		r.done = true
		r.report = ev.Content
		r.sources = ev.Sources
	case research.EventError:
		r.failed = true
		r.errMsg = ev.Error
	}
}

func (r *runRecorder) stepOrder() []int {
	steps := make([]int, 0, len(r.statuses))
	for step := range r.statuses {
		steps = append(steps, step)
	}
	sort.Ints(steps)
	return steps
}
