package confidence

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"askverse/internal/usecase/reasoning"
	"askverse/internal/usecase/reasoning/reasoningtest"
)

func TestParse(t *testing.T) {
	tests := []struct {
		in   string
		want float64
	}{
		{"0.8", 0.8},
		{" 0.25\n", 0.25},
		{"1.7", 1.0},
		{"-0.3", 0.0},
		{"banana", 0.5},
		{"NaN", 0.5},
		{"Inf", 0.5},
		{"", 0.5},
		{"0.9.", 0.9},
		{"```\n0.6\n```", 0.6},
		{`{"confidence": 0.75}`, 0.75},
		{`{"confidence": "0.4"}`, 0.4},
		{`{"score": 0.4}`, 0.5},
		{"Confidence: high", 0.5},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.InDelta(t, tt.want, Parse(tt.in), 1e-9)
		})
	}
}

func newEstimator(t *testing.T, p *reasoningtest.Provider) *Estimator {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	engine, err := reasoning.NewEngine(p, reasoning.Config{}, logger)
	require.NoError(t, err)
	return NewEstimator(engine, logger)
}

func TestEstimate(t *testing.T) {
	p := reasoningtest.New().On("Paris is sunny", "0.85")
	e := newEstimator(t, p)
	assert.InDelta(t, 0.85, e.Estimate(context.Background(), "Paris is sunny", nil), 1e-9)
}

func TestEstimateLLMErrorDefaults(t *testing.T) {
	p := reasoningtest.New().Fail("", errors.New("boom"))
	e := newEstimator(t, p)
	assert.Equal(t, Default, e.Estimate(context.Background(), "answer", nil))
}

func TestEstimateGarbageDefaults(t *testing.T) {
	p := reasoningtest.New()
	p.Default = "very confident"
	e := newEstimator(t, p)
	assert.Equal(t, Default, e.Estimate(context.Background(), "answer", nil))
}
