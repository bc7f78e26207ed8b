package openapi

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"askverse/internal/domain"
)

var forecastEndpoint = domain.Endpoint{
	Method: "GET",
	Path:   "/forecast/{city}",
	URL:    "https://api.weather.example/forecast/{city}",
	Parameters: []domain.Parameter{
		{Name: "city", In: "path", Required: true, Schema: map[string]any{"type": "string"}},
		{Name: "days", In: "query", Schema: map[string]any{"type": "integer", "minimum": 1}},
		{Name: "metric", In: "query", Schema: map[string]any{"type": "boolean"}},
	},
}

func TestParamSchema(t *testing.T) {
	s := ParamSchema(forecastEndpoint)
	assert.Equal(t, "object", s["type"])
	assert.Equal(t, []any{"city"}, s["required"])
	props := s["properties"].(map[string]any)
	assert.Len(t, props, 3)
	assert.Equal(t, "integer", props["days"].(map[string]any)["type"])
}

func TestParamSchemaIncludesJSONBody(t *testing.T) {
	ep := domain.Endpoint{RequestBody: map[string]any{
		"content": map[string]any{"application/json": map[string]any{
			"schema": map[string]any{"type": "object", "required": []any{"email"}},
		}},
	}}
	props := ParamSchema(ep)["properties"].(map[string]any)
	assert.Contains(t, props, "body")
}

func TestValidateParamsCoerces(t *testing.T) {
	got, err := ValidateParams(forecastEndpoint, map[string]any{"city": "Paris", "days": "3", "metric": "true"})
	require.NoError(t, err)
	assert.Equal(t, int64(3), got["days"])
	assert.Equal(t, true, got["metric"])
}

func TestValidateParamsMissingRequired(t *testing.T) {
	_, err := ValidateParams(forecastEndpoint, map[string]any{"days": 2})
	assert.ErrorIs(t, err, domain.ErrParamsInvalid)
}

func TestValidateParamsWrongType(t *testing.T) {
	_, err := ValidateParams(forecastEndpoint, map[string]any{"city": "Paris", "days": "soon"})
	assert.ErrorIs(t, err, domain.ErrParamsInvalid)

	_, err = ValidateParams(forecastEndpoint, map[string]any{"city": "Paris", "days": 0})
	assert.ErrorIs(t, err, domain.ErrParamsInvalid, "minimum is enforced")
}

func TestValidateParamsNoDeclarations(t *testing.T) {
	got, err := ValidateParams(domain.Endpoint{}, nil)
	require.NoError(t, err)
	assert.Empty(t, got)
}
