package toolbox

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/germanamz/agentloop/pkg/fault"
	"github.com/google/jsonschema-go/jsonschema"
)

var defaultSchema = json.RawMessage(`{"type":"object"}`)

// compileSchema parses and resolves a JSON Schema. An empty schema accepts
// any JSON object.
func compileSchema(raw json.RawMessage) (*jsonschema.Resolved, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		raw = defaultSchema
	}

	var s jsonschema.Schema
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("parse schema: %w", err)
	}

	resolved, err := s.Resolve(nil)
	if err != nil {
		return nil, fmt.Errorf("resolve schema: %w", err)
	}

	return resolved, nil
}

// validate checks raw against a compiled schema.
func validate(name string, schema *jsonschema.Resolved, raw json.RawMessage) error {
	if len(bytes.TrimSpace(raw)) == 0 {
		raw = json.RawMessage(`{}`)
	}

	var instance any
	if err := json.Unmarshal(raw, &instance); err != nil {
		return fault.New(fault.Validation, "tool %q: input is not valid JSON: %v", name, err)
	}

	if err := schema.Validate(instance); err != nil {
		return fault.New(fault.Validation, "tool %q: %v", name, err)
	}

	return nil
}

// ValidateInput checks raw against def.InputSchema. It fails with a
// fault.Validation error when a required field is missing, a value has the
// wrong type, or an enum is violated.
func ValidateInput(def Definition, raw json.RawMessage) error {
	schema, err := compileSchema(def.InputSchema)
	if err != nil {
		return fault.New(fault.Validation, "tool %q: invalid input schema: %v", def.Name, err)
	}

	return validate(def.Name, schema, raw)
}
