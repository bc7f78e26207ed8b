package domain

import "context"

// Parameter describes one declared parameter of an API endpoint.
type Parameter struct {
	Name        string         `json:"name"`
	In          string         `json:"in"` // path, query, header, body
	Required    bool           `json:"required"`
	Description string         `json:"description,omitempty"`
	Schema      map[string]any `json:"schema,omitempty"`
}

// Endpoint is one operation extracted from an OpenAPI document.
type Endpoint struct {
	SpecID      string         `json:"spec_id"`
	Path        string         `json:"path"`
	Method      string         `json:"method"`
	URL         string         `json:"url"`
	Summary     string         `json:"summary,omitempty"`
	Description string         `json:"description,omitempty"`
	OperationID string         `json:"operation_id,omitempty"`
	Parameters  []Parameter    `json:"parameters,omitempty"`
	RequestBody map[string]any `json:"request_body,omitempty"`
}

// APIResponse is the decoded result of an endpoint call.
type APIResponse struct {
	Status int `json:"status"`
	Body   any `json:"body"`
}

// EndpointDirectory finds endpoints relevant to a query.
type EndpointDirectory interface {
	FindEndpoints(query string) []Endpoint
}

// EndpointInvoker calls an endpoint with extracted parameters.
type EndpointInvoker interface {
	Invoke(ctx context.Context, ep Endpoint, params map[string]any) (*APIResponse, error)
}
