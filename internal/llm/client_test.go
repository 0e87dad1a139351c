package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mohammad-safakhou/qurio/config"
	"github.com/mohammad-safakhou/qurio/internal/research"
)

type echoTool struct {
	calls atomic.Int64
}

func (t *echoTool) Name() string        { return "echo" }
func (t *echoTool) Description() string { return "echoes its input" }
func (t *echoTool) Parameters() map[string]interface{} {
	return map[string]interface{}{"type": "object"}
}
func (t *echoTool) Execute(ctx context.Context, args json.RawMessage) (string, error) {
	t.calls.Add(1)
	return fmt.Sprintf(`{"echoed":%s}`, string(args)), nil
}

func sseBody(chunks ...string) string {
	var b strings.Builder
	for _, c := range chunks {
		b.WriteString("data: " + c + "\n\n")
	}
	b.WriteString("data: [DONE]\n\n")
	return b.String()
}

func drain(t *testing.T, ch <-chan research.GenerationEvent) []research.GenerationEvent {
	t.Helper()
	var events []research.GenerationEvent
	timeout := time.After(5 * time.Second)
	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				return events
			}
			events = append(events, ev)
		case <-timeout:
			t.Fatalf("stream did not close; got %d events", len(events))
		}
	}
}

func newTestClient(baseURL string, registry *Registry) *Client {
	return NewClient(config.LLMConfig{APIKey: "test-key", BaseURL: baseURL, MaxRetries: 1}, registry, nil)
}

func TestClientStreamsText(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("authorization = %q", got)
		}
		w.Header().Set("Content-Type", "text/event-stream")
		io.WriteString(w, sseBody(
			`{"choices":[{"delta":{"content":"Hello"}}]}`,
			`{"choices":[{"delta":{"reasoning_content":"thinking..."}}]}`,
			`{"choices":[{"delta":{"content":" world"}}]}`,
			`{"choices":[{"delta":{},"finish_reason":"stop"}],"usage":{"prompt_tokens":10,"completion_tokens":2}}`,
		))
	}))
	defer srv.Close()

	c := newTestClient(srv.URL, nil)
	ch, err := c.Execute(context.Background(), research.GenerationRequest{Model: "test-model"})
	if err != nil {
		t.Fatal(err)
	}
	events := drain(t, ch)

	var text string
	var thoughts int
	for _, ev := range events {
		switch ev.Kind {
		case research.GenText:
			text += ev.Text
		case research.GenThought:
			thoughts++
		}
	}
	if text != "Hello world" {
		t.Errorf("text = %q", text)
	}
	if thoughts != 1 {
		t.Errorf("thought events = %d", thoughts)
	}
	if last := events[len(events)-1]; last.Kind != research.GenDone {
		t.Errorf("terminal event = %s", last.Kind)
	}
}

func TestClientToolCallLoop(t *testing.T) {
	var requests atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		w.Header().Set("Content-Type", "text/event-stream")
		if requests.Add(1) == 1 {
			// Tool call arrives fragmented across chunks.
			io.WriteString(w, sseBody(
				`{"choices":[{"delta":{"tool_calls":[{"index":0,"id":"call_0","function":{"name":"echo","arguments":"{\"q\":"}}]}}]}`,
				`{"choices":[{"delta":{"tool_calls":[{"index":0,"function":{"arguments":"\"x\"}"}}]}}]}`,
				`{"choices":[{"delta":{},"finish_reason":"tool_calls"}]}`,
			))
			return
		}
		if !strings.Contains(string(body), `"role":"tool"`) {
			t.Errorf("second turn missing tool message: %s", body)
		}
		io.WriteString(w, sseBody(
			`{"choices":[{"delta":{"content":"answer"}}]}`,
			`{"choices":[{"delta":{},"finish_reason":"stop"}]}`,
		))
	}))
	defer srv.Close()

	registry := NewRegistry()
	tool := &echoTool{}
	if err := registry.Register(tool); err != nil {
		t.Fatal(err)
	}

	c := newTestClient(srv.URL, registry)
	ch, err := c.Execute(context.Background(), research.GenerationRequest{Model: "test-model", EnableTools: true})
	if err != nil {
		t.Fatal(err)
	}
	events := drain(t, ch)

	var call, result *research.GenerationEvent
	for i, ev := range events {
		switch ev.Kind {
		case research.GenToolCall:
			call = &events[i]
		case research.GenToolResult:
			result = &events[i]
		}
	}
	if call == nil || call.ToolCallID != "call_0" || call.ToolName != "echo" {
		t.Fatalf("tool call event = %+v", call)
	}
	if call.Arguments != `{"q":"x"}` {
		t.Errorf("fragmented arguments not assembled: %q", call.Arguments)
	}
	if result == nil || result.Err != "" || !strings.Contains(result.Result, `"echoed"`) {
		t.Fatalf("tool result event = %+v", result)
	}
	if tool.calls.Load() != 1 {
		t.Errorf("tool executed %d times", tool.calls.Load())
	}
	if last := events[len(events)-1]; last.Kind != research.GenDone {
		t.Errorf("terminal event = %s", last.Kind)
	}
}

func TestClientToolErrorFedBack(t *testing.T) {
	var requests atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		w.Header().Set("Content-Type", "text/event-stream")
		if requests.Add(1) == 1 {
			io.WriteString(w, sseBody(
				`{"choices":[{"delta":{"tool_calls":[{"index":0,"id":"call_0","function":{"name":"missing","arguments":"{}"}}]}}]}`,
				`{"choices":[{"delta":{},"finish_reason":"tool_calls"}]}`,
			))
			return
		}
		if !strings.Contains(string(body), "unknown tool") {
			t.Errorf("tool error not fed back to model: %s", body)
		}
		io.WriteString(w, sseBody(`{"choices":[{"delta":{},"finish_reason":"stop"}]}`))
	}))
	defer srv.Close()

	c := newTestClient(srv.URL, NewRegistry())
	ch, err := c.Execute(context.Background(), research.GenerationRequest{Model: "m", EnableTools: true})
	if err != nil {
		t.Fatal(err)
	}
	events := drain(t, ch)

	var result *research.GenerationEvent
	for i, ev := range events {
		if ev.Kind == research.GenToolResult {
			result = &events[i]
		}
	}
	if result == nil || result.Err == "" {
		t.Fatalf("expected failing tool result, got %+v", result)
	}
	if last := events[len(events)-1]; last.Kind != research.GenDone {
		t.Errorf("terminal event = %s", last.Kind)
	}
}

func TestClientRetriesServerErrors(t *testing.T) {
	var requests atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if requests.Add(1) == 1 {
			http.Error(w, "upstream hiccup", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "text/event-stream")
		io.WriteString(w, sseBody(`{"choices":[{"delta":{"content":"ok"},"finish_reason":"stop"}]}`))
	}))
	defer srv.Close()

	c := newTestClient(srv.URL, nil)
	ch, err := c.Execute(context.Background(), research.GenerationRequest{Model: "m"})
	if err != nil {
		t.Fatal(err)
	}
	events := drain(t, ch)
	if last := events[len(events)-1]; last.Kind != research.GenDone {
		t.Fatalf("terminal event = %s (requests=%d)", last.Kind, requests.Load())
	}
	if requests.Load() != 2 {
		t.Errorf("requests = %d, want 2", requests.Load())
	}
}

func TestClientClientErrorDoesNotRetry(t *testing.T) {
	var requests atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		http.Error(w, `{"error":"bad request"}`, http.StatusBadRequest)
	}))
	defer srv.Close()

	c := newTestClient(srv.URL, nil)
	ch, err := c.Execute(context.Background(), research.GenerationRequest{Model: "m"})
	if err != nil {
		t.Fatal(err)
	}
	events := drain(t, ch)
	if last := events[len(events)-1]; last.Kind != research.GenError {
		t.Fatalf("terminal event = %s", last.Kind)
	}
	if requests.Load() != 1 {
		t.Errorf("client error retried: %d requests", requests.Load())
	}
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	if err := r.Register(&echoTool{}); err != nil {
		t.Fatal(err)
	}
	if err := r.Register(&echoTool{}); err == nil {
		t.Fatalf("duplicate registration accepted")
	}
	if _, err := r.Execute(context.Background(), "nope", nil); err == nil {
		t.Fatalf("unknown tool execution succeeded")
	}
	defs := r.Definitions()
	if len(defs) != 1 || defs[0].Function.Name != "echo" {
		t.Fatalf("definitions = %+v", defs)
	}
}

type strictTool struct{ echoTool }

func (t *strictTool) Name() string { return "strict" }
func (t *strictTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"query": map[string]interface{}{"type": "string"},
		},
		"required": []string{"query"},
	}
}

func TestRegistryValidatesArguments(t *testing.T) {
	r := NewRegistry()
	tool := &strictTool{}
	if err := r.Register(tool); err != nil {
		t.Fatal(err)
	}

	if _, err := r.Execute(context.Background(), "strict", json.RawMessage(`{"query":"x"}`)); err != nil {
		t.Fatalf("valid arguments rejected: %v", err)
	}
	if _, err := r.Execute(context.Background(), "strict", json.RawMessage(`{}`)); err == nil {
		t.Fatal("missing required field accepted")
	}
	if _, err := r.Execute(context.Background(), "strict", json.RawMessage(`{"query":7}`)); err == nil {
		t.Fatal("wrong type accepted")
	}
	if _, err := r.Execute(context.Background(), "strict", json.RawMessage(`{"query":`)); err == nil {
		t.Fatal("truncated JSON accepted")
	}
	if got := tool.calls.Load(); got != 1 {
		t.Fatalf("tool ran %d times, want 1", got)
	}
}
