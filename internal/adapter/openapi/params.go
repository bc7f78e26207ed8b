package openapi

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"askverse/internal/domain"
)

// ParamSchema builds a JSON Schema object describing the parameters an
// endpoint declares. Parameters without a schema accept any value.
func ParamSchema(ep domain.Endpoint) map[string]any {
	props := make(map[string]any, len(ep.Parameters))
	required := make([]any, 0, len(ep.Parameters))
	for _, p := range ep.Parameters {
		s := map[string]any{}
		for k, v := range p.Schema {
			s[k] = v
		}
		if p.Description != "" {
			if _, ok := s["description"]; !ok {
				s["description"] = p.Description
			}
		}
		props[p.Name] = s
		if p.Required {
			required = append(required, p.Name)
		}
	}

	schema := map[string]any{
		"type":       "object",
		"properties": props,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	if ep.RequestBody != nil {
		if body := jsonBodySchema(ep.RequestBody); body != nil {
			props["body"] = body
		}
	}
	return schema
}

func jsonBodySchema(rb map[string]any) map[string]any {
	content, _ := rb["content"].(map[string]any)
	media, _ := content["application/json"].(map[string]any)
	s, _ := media["schema"].(map[string]any)
	return s
}

// ValidateParams coerces string values to the declared scalar types and
// checks the result against ParamSchema. The coerced map is returned.
func ValidateParams(ep domain.Endpoint, params map[string]any) (map[string]any, error) {
	if params == nil {
		params = map[string]any{}
	}
	coerced := coerceParams(ep, params)

	raw, err := json.Marshal(ParamSchema(ep))
	if err != nil {
		return nil, fmt.Errorf("%w: marshal schema: %v", domain.ErrParamsInvalid, err)
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("params.json", bytes.NewReader(raw)); err != nil {
		return nil, fmt.Errorf("%w: add schema: %v", domain.ErrParamsInvalid, err)
	}
	schema, err := compiler.Compile("params.json")
	if err != nil {
		return nil, fmt.Errorf("%w: compile schema: %v", domain.ErrParamsInvalid, err)
	}

	// The validator works on decoded JSON values only.
	doc, err := json.Marshal(coerced)
	if err != nil {
		return nil, fmt.Errorf("%w: marshal params: %v", domain.ErrParamsInvalid, err)
	}
	var v any
	if err := json.Unmarshal(doc, &v); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrParamsInvalid, err)
	}
	if err := schema.Validate(v); err != nil {
		return nil, fmt.Errorf("%w: %s %s: %v", domain.ErrParamsInvalid, ep.Method, ep.Path, err)
	}
	return coerced, nil
}

// coerceParams converts LLM-produced strings such as "42" or "true" when the
// parameter is declared as a number, integer or boolean.
func coerceParams(ep domain.Endpoint, params map[string]any) map[string]any {
	out := make(map[string]any, len(params))
	for k, v := range params {
		out[k] = v
	}
	for _, p := range ep.Parameters {
		s, ok := out[p.Name].(string)
		if !ok {
			continue
		}
		s = strings.TrimSpace(s)
		switch p.Schema["type"] {
		case "integer":
			if n, err := strconv.ParseInt(s, 10, 64); err == nil {
				out[p.Name] = n
			}
		case "number":
			if f, err := strconv.ParseFloat(s, 64); err == nil {
				out[p.Name] = f
			}
		case "boolean":
			if b, err := strconv.ParseBool(s); err == nil {
				out[p.Name] = b
			}
		}
	}
	return out
}
