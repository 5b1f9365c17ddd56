package pipeline

import (
	"context"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/terrawatch/eo-analyzer/internal/model"
)

func TestParseVerdict(t *testing.T) {
	tests := []struct {
		name       string
		text       string
		relevant   bool
		confidence float64
	}{
		{
			name:       "relevant json",
			text:       `{"verdict": "relevant", "confidence": 0.8}`,
			relevant:   true,
			confidence: 0.8,
		},
		{
			name:       "irrelevant json",
			text:       `{"verdict": "irrelevant", "confidence": 0.9}`,
			relevant:   false,
			confidence: 0.9,
		},
		{
			name:       "fenced json",
			text:       "```json\n{\"verdict\": \"relevant\", \"confidence\": 0.7}\n```",
			relevant:   true,
			confidence: 0.7,
		},
		{
			name:       "bare word relevant",
			text:       "relevant",
			relevant:   true,
			confidence: 1.0,
		},
		{
			name:       "bare word irrelevant",
			text:       "Irrelevant",
			relevant:   false,
			confidence: 1.0,
		},
		{
			name:       "confidence above one is clamped",
			text:       `{"verdict": "relevant", "confidence": 1.7}`,
			relevant:   true,
			confidence: 1.0,
		},
		{
			name:       "negative confidence is clamped",
			text:       `{"verdict": "relevant", "confidence": -0.3}`,
			relevant:   true,
			confidence: 0.0,
		},
		{
			name:       "garbage treated as irrelevant",
			text:       "I cannot determine relevance here.",
			relevant:   false,
			confidence: 0.0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := parseVerdict(tt.text, "item-1")
			assert.Equal(t, "item-1", v.ItemID)
			assert.Equal(t, tt.relevant, v.IsRelevant)
			assert.InDelta(t, tt.confidence, v.Confidence, 1e-9)
		})
	}
}

func TestFilterStage_ThresholdApplied(t *testing.T) {
	ctx := context.Background()
	ai := &mockAnthropicClient{}

	// Relevant but below the 0.5 threshold.
	ai.On("CreateMessage", mock.Anything, reqContaining("borderline")).
		Return(textResponse(`{"verdict": "relevant", "confidence": 0.4}`), nil).Once()
	ai.On("CreateMessage", mock.Anything, reqContaining("confident")).
		Return(textResponse(`{"verdict": "relevant", "confidence": 0.6}`), nil).Once()

	p, _ := newTestPipeline(t, &mockNewsClient{}, ai, &mockImageryClient{}, &mockGeocoder{})

	items := []model.CleanedItem{
		{ID: "i1", Title: "borderline", NormalizedText: "borderline story"},
		{ID: "i2", Title: "confident", NormalizedText: "confident story"},
	}
	result := &model.RunResult{}

	relevant, err := p.filterStage(ctx, items, result)
	require.NoError(t, err)

	require.Len(t, relevant, 1)
	assert.Equal(t, "i2", relevant[0].ID)
	require.Len(t, result.Outcomes, 1)
	assert.Equal(t, "i1", result.Outcomes[0].ItemID)
	assert.Equal(t, model.ItemFilteredOut, result.Outcomes[0].State)
	assert.Contains(t, result.Outcomes[0].Reason, "threshold")
}

func TestFilterStage_CallFailureFiltersItem(t *testing.T) {
	ctx := context.Background()
	ai := &mockAnthropicClient{}

	ai.On("CreateMessage", mock.Anything, mock.AnythingOfType("anthropic.MessageRequest")).
		Return(nil, eris.New("api down"))

	p, _ := newTestPipeline(t, &mockNewsClient{}, ai, &mockImageryClient{}, &mockGeocoder{})

	items := []model.CleanedItem{{ID: "i1", Title: "t", NormalizedText: "x"}}
	result := &model.RunResult{}

	relevant, err := p.filterStage(ctx, items, result)
	require.NoError(t, err)
	assert.Empty(t, relevant)
	require.Len(t, result.Outcomes, 1)
	assert.Equal(t, model.ItemFilteredOut, result.Outcomes[0].State)
	assert.Equal(t, "relevance check failed", result.Outcomes[0].Reason)
}
