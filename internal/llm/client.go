package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/mohammad-safakhou/qurio/config"
	"github.com/mohammad-safakhou/qurio/internal/research"
	"github.com/mohammad-safakhou/qurio/internal/telemetry"
)

const defaultBaseURL = "https://api.openai.com/v1"

// maxToolTurns bounds agentic loops within one Execute call.
const maxToolTurns = 8

// Client streams chat completions from an OpenAI-compatible API and executes
// tool calls against its registry between model turns. It implements
// research.GenerationService.
type Client struct {
	cfg        config.LLMConfig
	baseURL    string
	registry   *Registry
	telemetry  *telemetry.Telemetry
	httpClient *http.Client
	logger     *log.Logger
}

// NewClient creates a streaming LLM client.
func NewClient(cfg config.LLMConfig, registry *Registry, tel *telemetry.Telemetry) *Client {
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 5 * time.Minute
	}
	if registry == nil {
		registry = NewRegistry()
	}
	return &Client{
		cfg:        cfg,
		baseURL:    baseURL,
		registry:   registry,
		telemetry:  tel,
		httpClient: &http.Client{Timeout: timeout},
		logger:     log.New(log.Writer(), "[LLM] ", log.LstdFlags),
	}
}

// Execute starts one generation and returns its event stream. The stream ends
// with a done or error event and the channel is closed.
func (c *Client) Execute(ctx context.Context, req research.GenerationRequest) (<-chan research.GenerationEvent, error) {
	if req.Model == "" {
		return nil, fmt.Errorf("generation request without model")
	}
	out := make(chan research.GenerationEvent, 16)
	go func() {
		defer close(out)
		c.run(ctx, req, out)
	}()
	return out, nil
}

// Wire types for the chat completions API.

type chatMessage struct {
	Role       string         `json:"role"`
	Content    string         `json:"content"`
	ToolCalls  []chatToolCall `json:"tool_calls,omitempty"`
	ToolCallID string         `json:"tool_call_id,omitempty"`
	Name       string         `json:"name,omitempty"`
}

type chatToolCall struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	Function struct {
		Name      string `json:"name"`
		Arguments string `json:"arguments"`
	} `json:"function"`
}

type chatRequest struct {
	Model         string           `json:"model"`
	Messages      []chatMessage    `json:"messages"`
	Tools         []toolDefinition `json:"tools,omitempty"`
	Temperature   float64          `json:"temperature,omitempty"`
	MaxTokens     int              `json:"max_tokens,omitempty"`
	Stream        bool             `json:"stream"`
	StreamOptions *streamOptions   `json:"stream_options,omitempty"`
}

type streamOptions struct {
	IncludeUsage bool `json:"include_usage"`
}

type streamChunk struct {
	Choices []struct {
		Delta struct {
			Content          string `json:"content"`
			ReasoningContent string `json:"reasoning_content"`
			ToolCalls        []struct {
				Index    int    `json:"index"`
				ID       string `json:"id"`
				Function struct {
					Name      string `json:"name"`
					Arguments string `json:"arguments"`
				} `json:"function"`
			} `json:"tool_calls"`
		} `json:"delta"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage *struct {
		PromptTokens     int64 `json:"prompt_tokens"`
		CompletionTokens int64 `json:"completion_tokens"`
	} `json:"usage"`
}

// turnResult is what one streamed model turn produced.
type turnResult struct {
	finishReason string
	toolCalls    []chatToolCall
}

func (c *Client) run(ctx context.Context, req research.GenerationRequest, out chan<- research.GenerationEvent) {
	emit := func(ev research.GenerationEvent) bool {
		select {
		case out <- ev:
			return true
		case <-ctx.Done():
			return false
		}
	}
	fail := func(err error) {
		emit(research.GenerationEvent{Kind: research.GenError, Err: err.Error()})
	}

	messages := make([]chatMessage, 0, len(req.Messages))
	for _, m := range req.Messages {
		messages = append(messages, chatMessage{Role: m.Role, Content: m.Content})
	}

	var tools []toolDefinition
	if req.EnableTools {
		tools = c.registry.Definitions()
	}

	for turn := 0; turn < maxToolTurns; turn++ {
		result, err := c.streamTurn(ctx, req, messages, tools, emit)
		if err != nil {
			if ctx.Err() == nil {
				fail(err)
			}
			return
		}

		if result.finishReason != "tool_calls" || len(result.toolCalls) == 0 {
			emit(research.GenerationEvent{Kind: research.GenDone})
			return
		}

		messages = append(messages, chatMessage{Role: "assistant", ToolCalls: result.toolCalls})
		for _, call := range result.toolCalls {
			if !emit(research.GenerationEvent{
				Kind:       research.GenToolCall,
				ToolCallID: call.ID,
				ToolName:   call.Function.Name,
				Arguments:  call.Function.Arguments,
			}) {
				return
			}

			payload, err := c.registry.Execute(ctx, call.Function.Name, json.RawMessage(call.Function.Arguments))
			ev := research.GenerationEvent{
				Kind:       research.GenToolResult,
				ToolCallID: call.ID,
				ToolName:   call.Function.Name,
				Result:     payload,
			}
			content := payload
			if err != nil {
				ev.Err = err.Error()
				content = fmt.Sprintf(`{"error":%q}`, err.Error())
				c.telemetry.RecordToolCall(call.Function.Name, "error")
			} else {
				c.telemetry.RecordToolCall(call.Function.Name, "done")
			}
			if !emit(ev) {
				return
			}
			messages = append(messages, chatMessage{
				Role:       "tool",
				Content:    content,
				ToolCallID: call.ID,
				Name:       call.Function.Name,
			})
		}
	}
	fail(fmt.Errorf("generation exceeded %d tool turns", maxToolTurns))
}

// streamTurn performs one streamed chat completion call, emitting text and
// reasoning deltas as they arrive and accumulating tool call fragments.
func (c *Client) streamTurn(ctx context.Context, req research.GenerationRequest, messages []chatMessage, tools []toolDefinition, emit func(research.GenerationEvent) bool) (*turnResult, error) {
	body := chatRequest{
		Model:         req.Model,
		Messages:      messages,
		Tools:         tools,
		Temperature:   req.Temperature,
		MaxTokens:     req.MaxTokens,
		Stream:        true,
		StreamOptions: &streamOptions{IncludeUsage: true},
	}

	resp, err := c.post(ctx, body)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	result := &turnResult{}
	calls := make(map[int]*chatToolCall)
	maxIndex := -1

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if data == "[DONE]" {
			break
		}

		var chunk streamChunk
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			c.logger.Printf("skipping malformed stream chunk: %v", err)
			continue
		}
		if chunk.Usage != nil {
			c.recordUsage(req.Model, chunk.Usage.PromptTokens, chunk.Usage.CompletionTokens)
		}
		if len(chunk.Choices) == 0 {
			continue
		}
		choice := chunk.Choices[0]

		if choice.Delta.Content != "" {
			if !emit(research.GenerationEvent{Kind: research.GenText, Text: choice.Delta.Content}) {
				return nil, ctx.Err()
			}
		}
		if choice.Delta.ReasoningContent != "" {
			if !emit(research.GenerationEvent{Kind: research.GenThought, Text: choice.Delta.ReasoningContent}) {
				return nil, ctx.Err()
			}
		}
		for _, delta := range choice.Delta.ToolCalls {
			call, ok := calls[delta.Index]
			if !ok {
				call = &chatToolCall{Type: "function"}
				calls[delta.Index] = call
				if delta.Index > maxIndex {
					maxIndex = delta.Index
				}
			}
			if delta.ID != "" {
				call.ID = delta.ID
			}
			if delta.Function.Name != "" {
				call.Function.Name = delta.Function.Name
			}
			call.Function.Arguments += delta.Function.Arguments
		}
		if choice.FinishReason != "" {
			result.finishReason = choice.FinishReason
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading stream: %w", err)
	}

	for i := 0; i <= maxIndex; i++ {
		if call, ok := calls[i]; ok {
			result.toolCalls = append(result.toolCalls, *call)
		}
	}
	return result, nil
}

// post sends the completion request, retrying connection and server errors
// with exponential backoff before the stream starts.
func (c *Client) post(ctx context.Context, body chatRequest) (*http.Response, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	tries := c.cfg.MaxRetries + 1
	if tries < 1 {
		tries = 1
	}
	var lastErr error
	for attempt := 0; attempt < tries; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(payload))
		if err != nil {
			return nil, fmt.Errorf("creating request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
		req.Header.Set("Accept", "text/event-stream")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			lastErr = err
		} else if resp.StatusCode == http.StatusOK {
			return resp, nil
		} else {
			b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
			resp.Body.Close()
			lastErr = fmt.Errorf("api returned %s: %s", resp.Status, strings.TrimSpace(string(b)))
			if resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
				return nil, lastErr
			}
		}

		if attempt < tries-1 {
			select {
			case <-time.After(300 * time.Millisecond * time.Duration(1<<attempt)):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
	}
	return nil, lastErr
}

func (c *Client) recordUsage(model string, promptTokens, completionTokens int64) {
	var cost float64
	for _, m := range c.cfg.Models {
		if m.Name == model || m.APIName == model {
			cost = float64(promptTokens)/1000*m.CostPer1K + float64(completionTokens)/1000*m.CostPer1KOutput
			break
		}
	}
	c.telemetry.RecordLLMUsage(model, promptTokens, completionTokens, cost)
}
