package reasoning

import (
	"fmt"

	"github.com/kaptinlin/jsonschema"
)

// Schema is a compiled JSON Schema used to validate structured replies.
type Schema struct {
	schema *jsonschema.Schema
}

// CompileSchema compiles a JSON Schema document.
func CompileSchema(raw string) (*Schema, error) {
	s, err := jsonschema.NewCompiler().Compile([]byte(raw))
	if err != nil {
		return nil, fmt.Errorf("invalid schema: %w", err)
	}
	return &Schema{schema: s}, nil
}

// MustCompileSchema is CompileSchema for package-level schemas.
func MustCompileSchema(raw string) *Schema {
	s, err := CompileSchema(raw)
	if err != nil {
		panic(err)
	}
	return s
}

// Validate checks a decoded JSON document.
func (s *Schema) Validate(doc any) error {
	result := s.schema.Validate(doc)
	if !result.IsValid() {
		return fmt.Errorf("%s", result.Error())
	}
	return nil
}

// DecompositionSchema describes the decompose prompt's reply. The agent
// name is a free string: unknown kinds are handled by dispatch.
var DecompositionSchema = MustCompileSchema(`{
	"type": "object",
	"properties": {
		"sub_tasks": {
			"type": "array",
			"items": {
				"type": "object",
				"properties": {
					"task":     {"type": "string"},
					"agent":    {"type": "string"},
					"priority": {"type": "integer"}
				},
				"required": ["task", "agent", "priority"]
			}
		}
	},
	"required": ["sub_tasks"]
}`)

// ParamsSchema accepts any JSON object of extracted parameters.
var ParamsSchema = MustCompileSchema(`{"type": "object"}`)
