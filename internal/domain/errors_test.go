package domain

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDomainErrorFormat(t *testing.T) {
	err := NewDomainError("orchestrator.decompose", ErrDecomposition, "no sub_tasks")
	want := "orchestrator.decompose: no sub_tasks: query decomposition failed"
	if err.Error() != want {
		t.Errorf("got %q, want %q", err.Error(), want)
	}
}

func TestDomainErrorFormatNoDetail(t *testing.T) {
	err := NewDomainError("orchestrator.aggregate", ErrAggregation, "")
	want := "orchestrator.aggregate: aggregation failed"
	if err.Error() != want {
		t.Errorf("got %q, want %q", err.Error(), want)
	}
}

func TestDomainErrorUnwrap(t *testing.T) {
	err := NewDomainError("openapi.Invoke", ErrEndpointCall, "GET /weather")
	if !errors.Is(err, ErrEndpointCall) {
		t.Error("errors.Is should match ErrEndpointCall")
	}
}

func TestDomainErrorAs(t *testing.T) {
	err := WrapOp("agent.process", NewDomainError("llm.Chat", ErrProviderNotFound, "groq"))
	var de *DomainError
	if !errors.As(err, &de) {
		t.Fatal("errors.As should match *DomainError")
	}
	if de.Op != "llm.Chat" {
		t.Errorf("Op = %q, want %q", de.Op, "llm.Chat")
	}
}

func TestWrapOpNil(t *testing.T) {
	assert.NoError(t, WrapOp("op", nil))
}

func TestErrorCodeOf_DirectSentinel(t *testing.T) {
	assert.Equal(t, CodeDecomposition, ErrorCodeOf(ErrDecomposition))
	assert.Equal(t, CodeAggregation, ErrorCodeOf(ErrAggregation))
	assert.Equal(t, CodeRateLimit, ErrorCodeOf(ErrRateLimit))
	assert.Equal(t, CodeSyncRunning, ErrorCodeOf(ErrSyncRunning))
}

func TestErrorCodeOf_PipelineStageWins(t *testing.T) {
	// A decomposition that failed because the LLM reply was malformed
	// reports the pipeline stage, not the parse failure.
	inner := fmt.Errorf("parse: %w", ErrLLMResponse)
	err := fmt.Errorf("%w: %w", ErrDecomposition, inner)
	assert.Equal(t, CodeDecomposition, ErrorCodeOf(err))
}

func TestErrorCodeOf_WrappedError(t *testing.T) {
	wrapped := fmt.Errorf("context: %w", ErrVectorSearch)
	assert.Equal(t, CodeVectorSearch, ErrorCodeOf(wrapped))
}

func TestErrorCodeOf_SubSystem(t *testing.T) {
	err := NewSubSystemError("query", "store.GetQuery", ErrNotFound, "01H")
	assert.Equal(t, CodeQueryNotFound, ErrorCodeOf(err))

	err = NewSubSystemError("openapi", "openapi.Invoke", ErrTimeout, "")
	assert.Equal(t, CodeEndpointTimeout, err.Code())
}

func TestErrorCodeOf_SubSystemFallsBackToCategory(t *testing.T) {
	err := NewSubSystemError("unknown", "op", ErrNotFound, "")
	assert.Equal(t, CodeNotFound, ErrorCodeOf(err))
}

func TestErrorCodeOf_UnknownError(t *testing.T) {
	assert.Equal(t, CodeUnknown, ErrorCodeOf(fmt.Errorf("some random error")))
	assert.Equal(t, CodeUnknown, ErrorCodeOf(nil))
}

func TestIsRetryableError(t *testing.T) {
	assert.True(t, IsRetryableError(fmt.Errorf("x: %w", ErrRateLimit)))
	assert.True(t, IsRetryableError(ErrTimeout))
	assert.False(t, IsRetryableError(ErrAuthInvalid))
}
