package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Tool parameter limits to prevent resource exhaustion
const (
	// MaxToolNameLength is the maximum length of a tool name.
	MaxToolNameLength = 256

	// MaxToolParamsSize is the maximum size of tool parameters JSON (1MB).
	MaxToolParamsSize = 1 << 20
)

// ToolRegistry is the fixed set of capabilities the model may invoke.
//
// A registry is built once with NewToolRegistry and never changes afterwards,
// so it is safe for concurrent use without locking.
type ToolRegistry struct {
	tools map[string]*registeredTool
	names []string
}

type registeredTool struct {
	tool   Tool
	schema *jsonschema.Schema
}

// NewToolRegistry compiles every tool's argument schema and returns an
// immutable registry. Empty or duplicate names and invalid schemas are errors.
func NewToolRegistry(tools ...Tool) (*ToolRegistry, error) {
	r := &ToolRegistry{
		tools: make(map[string]*registeredTool, len(tools)),
		names: make([]string, 0, len(tools)),
	}
	for _, tool := range tools {
		if tool == nil {
			return nil, errors.New("tool registry: nil tool")
		}
		name := tool.Name()
		if strings.TrimSpace(name) == "" {
			return nil, errors.New("tool registry: tool name is required")
		}
		if len(name) > MaxToolNameLength {
			return nil, fmt.Errorf("tool registry: tool name %q exceeds %d characters", name, MaxToolNameLength)
		}
		if _, exists := r.tools[name]; exists {
			return nil, fmt.Errorf("tool registry: duplicate tool %q", name)
		}
		schema, err := jsonschema.CompileString(name+".schema.json", string(tool.Schema()))
		if err != nil {
			return nil, fmt.Errorf("tool registry: compile schema for %s: %w", name, err)
		}
		r.tools[name] = &registeredTool{tool: tool, schema: schema}
		r.names = append(r.names, name)
	}
	sort.Strings(r.names)
	return r, nil
}

// Get returns a tool by name and a boolean indicating if it was found.
func (r *ToolRegistry) Get(name string) (Tool, bool) {
	entry, ok := r.tools[name]
	if !ok {
		return nil, false
	}
	return entry.tool, true
}

// Names returns the registered tool names in sorted order.
func (r *ToolRegistry) Names() []string {
	return append([]string(nil), r.names...)
}

// List returns all tools sorted by name. The order is stable so the schema
// advertisement sent to the model is identical on every call.
func (r *ToolRegistry) List() []Tool {
	out := make([]Tool, 0, len(r.names))
	for _, name := range r.names {
		out = append(out, r.tools[name].tool)
	}
	return out
}

// Len returns the number of registered tools.
func (r *ToolRegistry) Len() int {
	return len(r.names)
}

// Validate checks params against the named tool's schema without executing it.
func (r *ToolRegistry) Validate(name string, params json.RawMessage) error {
	_, err := r.validate(name, params)
	return err
}

func (r *ToolRegistry) validate(name string, params json.RawMessage) (*registeredTool, error) {
	if len(name) > MaxToolNameLength {
		return nil, &ValidationError{
			ToolName: name[:32] + "...",
			Reason:   fmt.Sprintf("tool name exceeds maximum length of %d characters", MaxToolNameLength),
		}
	}
	entry, ok := r.tools[name]
	if !ok {
		return nil, &ValidationError{
			ToolName: name,
			Reason:   fmt.Sprintf("unknown tool %q; available tools: %s", name, strings.Join(r.names, ", ")),
			Cause:    ErrToolNotFound,
		}
	}
	if len(params) > MaxToolParamsSize {
		return nil, &ValidationError{
			ToolName: name,
			Reason:   fmt.Sprintf("tool parameters exceed maximum size of %d bytes", MaxToolParamsSize),
		}
	}

	decoded, err := decodeParams(params)
	if err != nil {
		return nil, &ValidationError{ToolName: name, Reason: "arguments must be a JSON object: " + err.Error(), Cause: err}
	}
	if _, ok := decoded.(map[string]any); !ok {
		return nil, &ValidationError{ToolName: name, Reason: "arguments must be a JSON object"}
	}
	if err := entry.schema.Validate(decoded); err != nil {
		return nil, &ValidationError{ToolName: name, Reason: describeSchemaError(err), Cause: err}
	}
	return entry, nil
}

// Execute validates params and runs the named tool.
//
// Rejected arguments return a *ValidationError. A tool error or panic returns
// a *CapabilityExecutionError. Callers decide how to surface either one.
func (r *ToolRegistry) Execute(ctx context.Context, name string, params json.RawMessage) (result *ToolResult, err error) {
	entry, err := r.validate(name, params)
	if err != nil {
		return nil, err
	}
	if len(bytes.TrimSpace(params)) == 0 {
		params = json.RawMessage("{}")
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, NewCapabilityExecutionError(name, ctxErr)
	}

	defer func() {
		if rec := recover(); rec != nil {
			result = nil
			err = NewCapabilityExecutionError(name, fmt.Errorf("%w: %v", ErrToolPanic, rec))
		}
	}()

	res, execErr := entry.tool.Execute(ctx, params)
	if execErr != nil {
		if ctxErr := ctx.Err(); errors.Is(ctxErr, context.DeadlineExceeded) && !errors.Is(execErr, context.DeadlineExceeded) {
			execErr = fmt.Errorf("%w: %v", ErrToolTimeout, execErr)
		}
		return nil, NewCapabilityExecutionError(name, execErr)
	}
	if res == nil {
		return nil, NewCapabilityExecutionError(name, errors.New("tool returned no result"))
	}
	return res, nil
}

func decodeParams(params json.RawMessage) (any, error) {
	trimmed := bytes.TrimSpace(params)
	if len(trimmed) == 0 {
		return map[string]any{}, nil
	}
	dec := json.NewDecoder(bytes.NewReader(trimmed))
	dec.UseNumber()
	var decoded any
	if err := dec.Decode(&decoded); err != nil {
		return nil, err
	}
	if dec.More() {
		return nil, errors.New("trailing data after JSON value")
	}
	return decoded, nil
}

// describeSchemaError flattens a schema validation error into one line per
// failing argument so the model can correct its call.
func describeSchemaError(err error) string {
	var validationErr *jsonschema.ValidationError
	if !errors.As(err, &validationErr) {
		return err.Error()
	}
	var leaves []string
	var walk func(v *jsonschema.ValidationError)
	walk = func(v *jsonschema.ValidationError) {
		if len(v.Causes) == 0 {
			location := v.InstanceLocation
			if location == "" {
				location = "/"
			}
			leaves = append(leaves, location+": "+v.Message)
			return
		}
		for _, cause := range v.Causes {
			walk(cause)
		}
	}
	walk(validationErr)
	return "invalid arguments: " + strings.Join(leaves, "; ")
}
