package stub_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/finsight-ai/finsight/internal/adapter/ai"
	"github.com/finsight-ai/finsight/internal/adapter/ai/stub"
	"github.com/finsight-ai/finsight/internal/domain"
)

func newStub() *stub.Client {
	c := stub.New()
	c.Latency = 0
	return c
}

// Every worker adapter must accept the stub's canned output; this is what
// makes USE_STUB_AI a usable local mode.

func TestStub_SatisfiesNarratorAndJudge(t *testing.T) {
	t.Parallel()
	c := newStub()

	n, err := ai.NewNarrator(c, []string{"Executive Summary", "Risks", "Recommendations"}, 0).
		Narrate(context.Background(), domain.PortfolioSnapshot{}, domain.AnalysisRequest{})
	require.NoError(t, err)
	assert.Len(t, n.Sections, 3)

	v, err := ai.NewJudge(c).Judge(context.Background(), n.Text)
	require.NoError(t, err)
	assert.InDelta(t, 82, v.Score, 0.001)
}

func TestStub_SatisfiesVisualizer(t *testing.T) {
	t.Parallel()
	set, err := ai.NewVisualizer(newStub(), 2, 6, 0).
		Visualize(context.Background(), domain.PortfolioSnapshot{})
	require.NoError(t, err)
	assert.Len(t, set.Charts, 4)
}

func TestStub_SatisfiesProjector(t *testing.T) {
	t.Parallel()
	p, err := ai.NewProjector(newStub(), 0).
		Project(context.Background(), domain.PortfolioSnapshot{}, domain.AnalysisRequest{RetirementHorizonYears: 10})
	require.NoError(t, err)
	assert.Greater(t, p.SuccessProbability, 0.0)
	require.NotEmpty(t, p.Milestones)
}

func TestStub_ClassifierEchoesRequestedSymbols(t *testing.T) {
	t.Parallel()
	cls, err := ai.NewClassifier(newStub()).Classify(context.Background(), []domain.ClassificationRequest{
		{Symbol: "VTI"}, {Symbol: "BND"},
	})
	require.NoError(t, err)
	require.Len(t, cls, 2)
	assert.Equal(t, "VTI", cls[0].Symbol)
	assert.Equal(t, "BND", cls[1].Symbol)
	for _, c := range cls {
		assert.True(t, c.Valid())
	}
}

func TestStub_HonoursContextDuringLatency(t *testing.T) {
	t.Parallel()
	c := stub.New()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := c.ChatJSON(ctx, "any", "any", 100)
	require.ErrorIs(t, err, context.Canceled)
}
