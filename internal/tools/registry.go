// Package tools holds the registry of functions the agent may invoke
// against the bill dataset.
package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/invopop/jsonschema"

	"billchat/internal/llm"
)

// Registry stores named tools with machine-generated parameter schemas.
type Registry struct {
	tools []registration
}

type registration struct {
	name        string
	description string
	schema      json.RawMessage
	invoke      func(context.Context, json.RawMessage) (string, error)
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Add registers a type-safe tool handler. The parameter type T supplies the
// JSON schema via its json/jsonschema struct tags.
func Add[T any](r *Registry, name, description string, handler func(context.Context, T) (string, error)) {
	schema := generateSchema[T]()

	invoke := func(ctx context.Context, args json.RawMessage) (string, error) {
		var params T
		if len(args) > 0 {
			if err := json.Unmarshal(args, &params); err != nil {
				return "", fmt.Errorf("invalid arguments for tool %s: %w", name, err)
			}
		}
		return handler(ctx, params)
	}

	r.tools = append(r.tools, registration{
		name:        name,
		description: description,
		schema:      schema,
		invoke:      invoke,
	})
}

// Definitions returns the function-tool specs offered to the model.
func (r *Registry) Definitions() []llm.ToolDefinition {
	defs := make([]llm.ToolDefinition, len(r.tools))
	for i, tool := range r.tools {
		defs[i] = llm.ToolDefinition{
			Name:        tool.name,
			Description: tool.description,
			Parameters:  tool.schema,
		}
	}
	return defs
}

// Execute dispatches a tool call by name.
func (r *Registry) Execute(ctx context.Context, name string, args json.RawMessage) (string, error) {
	for _, tool := range r.tools {
		if tool.name == name {
			return tool.invoke(ctx, args)
		}
	}
	return "", fmt.Errorf("unknown tool %q", name)
}

func generateSchema[T any]() json.RawMessage {
	reflector := &jsonschema.Reflector{
		DoNotReference: true,
		ExpandedStruct: true,
	}

	var zero T
	schema := reflector.Reflect(zero)

	bytes, err := json.Marshal(schema)
	if err != nil {
		panic(fmt.Sprintf("failed to generate schema for type %T: %v", zero, err))
	}
	return json.RawMessage(bytes)
}
