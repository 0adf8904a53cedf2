package toolbox

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/jsonschema-go/jsonschema"
)

// Definition describes a tool to the reasoning backend. It is immutable once
// registered.
type Definition struct {
	Name        string
	Description string
	InputSchema json.RawMessage
}

// Handler executes a tool with validated JSON input and returns a JSON output.
// A nil output means the tool produced no value.
type Handler interface {
	Call(ctx context.Context, input json.RawMessage) (json.RawMessage, error)
}

// HandlerFunc adapts a plain function to the Handler interface.
type HandlerFunc func(ctx context.Context, input json.RawMessage) (json.RawMessage, error)

// Call calls f(ctx, input).
func (f HandlerFunc) Call(ctx context.Context, input json.RawMessage) (json.RawMessage, error) {
	return f(ctx, input)
}

// Tool pairs a definition with its handler.
type Tool struct {
	Definition
	Handler Handler
}

// Typed adapts a function over Go types to a Handler. The input is decoded
// into In and the returned Out is encoded as the tool output.
func Typed[In, Out any](fn func(ctx context.Context, in In) (Out, error)) Handler {
	return HandlerFunc(func(ctx context.Context, input json.RawMessage) (json.RawMessage, error) {
		var in In
		if err := json.Unmarshal(input, &in); err != nil {
			return nil, fmt.Errorf("decode input: %w", err)
		}

		out, err := fn(ctx, in)
		if err != nil {
			return nil, err
		}

		data, err := json.Marshal(out)
		if err != nil {
			return nil, fmt.Errorf("encode output: %w", err)
		}

		return data, nil
	})
}

// SchemaFor derives a JSON Schema from the Go type T. Fields without
// omitempty are required; the jsonschema struct tag sets descriptions.
func SchemaFor[T any]() (json.RawMessage, error) {
	s, err := jsonschema.For[T](nil)
	if err != nil {
		return nil, fmt.Errorf("toolbox: schema: %w", err)
	}

	data, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("toolbox: schema: %w", err)
	}

	return data, nil
}

// MustSchemaFor is like SchemaFor but panics on error. It is meant for
// package-level tool definitions.
func MustSchemaFor[T any]() json.RawMessage {
	s, err := SchemaFor[T]()
	if err != nil {
		panic(err)
	}
	return s
}
