package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Tool is a capability the model can invoke during generation. Execute
// returns a JSON payload for the model to read.
type Tool interface {
	Name() string
	Description() string
	Parameters() map[string]interface{}
	Execute(ctx context.Context, args json.RawMessage) (string, error)
}

// Registry holds the tools offered to the model. Tool arguments are
// validated against the tool's parameter schema before execution so
// malformed model output is rejected with a message the model can act on.
type Registry struct {
	mu      sync.RWMutex
	tools   map[string]Tool
	schemas map[string]*jsonschema.Schema
}

// NewRegistry creates an empty tool registry.
func NewRegistry() *Registry {
	return &Registry{
		tools:   make(map[string]Tool),
		schemas: make(map[string]*jsonschema.Schema),
	}
}

// Register adds a tool and compiles its parameter schema. Names must be
// unique.
func (r *Registry) Register(t Tool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.tools[t.Name()]; ok {
		return fmt.Errorf("tool %q already registered", t.Name())
	}
	schema, err := compileParameters(t.Name(), t.Parameters())
	if err != nil {
		return err
	}
	r.tools[t.Name()] = t
	r.schemas[t.Name()] = schema
	return nil
}

func compileParameters(name string, params map[string]interface{}) (*jsonschema.Schema, error) {
	raw, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("tool %s: marshaling parameter schema: %w", name, err)
	}
	compiler := jsonschema.NewCompiler()
	url := fmt.Sprintf("tool://%s/parameters.json", name)
	if err := compiler.AddResource(url, bytes.NewReader(raw)); err != nil {
		return nil, fmt.Errorf("tool %s: loading parameter schema: %w", name, err)
	}
	schema, err := compiler.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("tool %s: compiling parameter schema: %w", name, err)
	}
	return schema, nil
}

// Get returns a registered tool by name.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// Execute validates args against the tool's parameter schema and runs the
// tool.
func (r *Registry) Execute(ctx context.Context, name string, args json.RawMessage) (string, error) {
	t, ok := r.Get(name)
	if !ok {
		return "", fmt.Errorf("unknown tool %q", name)
	}
	if err := r.validate(name, args); err != nil {
		return "", err
	}
	out, err := t.Execute(ctx, args)
	if err != nil {
		return "", fmt.Errorf("tool %s: %w", name, err)
	}
	return out, nil
}

func (r *Registry) validate(name string, args json.RawMessage) error {
	r.mu.RLock()
	schema := r.schemas[name]
	r.mu.RUnlock()
	if schema == nil {
		return nil
	}
	if len(args) == 0 {
		args = json.RawMessage("{}")
	}
	var value interface{}
	if err := json.Unmarshal(args, &value); err != nil {
		return fmt.Errorf("tool %s: arguments are not valid JSON: %w", name, err)
	}
	if err := schema.Validate(value); err != nil {
		return fmt.Errorf("tool %s: invalid arguments: %v", name, err)
	}
	return nil
}

// toolDefinition is the wire shape of a tool in a chat completions request.
type toolDefinition struct {
	Type     string       `json:"type"`
	Function toolFunction `json:"function"`
}

type toolFunction struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	Parameters  map[string]interface{} `json:"parameters"`
}

// Definitions renders the registered tools for the API, in stable name order.
func (r *Registry) Definitions() []toolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)

	defs := make([]toolDefinition, 0, len(names))
	for _, name := range names {
		t := r.tools[name]
		defs = append(defs, toolDefinition{
			Type: "function",
			Function: toolFunction{
				Name:        t.Name(),
				Description: t.Description(),
				Parameters:  t.Parameters(),
			},
		})
	}
	return defs
}
