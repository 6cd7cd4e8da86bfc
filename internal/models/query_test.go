package models

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func floatPtr(v float64) *float64 { return &v }

func TestSearchQuery_Validate(t *testing.T) {
	tests := []struct {
		name    string
		query   *SearchQuery
		wantErr bool
	}{
		{"empty query", &SearchQuery{Query: ""}, true},
		{"valid query", &SearchQuery{Query: "hello"}, false},
		{"negative topK", &SearchQuery{Query: "x", TopK: -1}, true},
		{"threshold above one", &SearchQuery{Query: "x", Threshold: floatPtr(1.5)}, true},
		{"threshold below zero", &SearchQuery{Query: "x", Threshold: floatPtr(-0.1)}, true},
		{"unknown field", &SearchQuery{Query: "x", SearchIn: "title"}, true},
		{"prompt field", &SearchQuery{Query: "x", SearchIn: "prompt"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.query.Validate()
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.Is(err, ErrInvalidInput))
				return
			}
			require.NoError(t, err)
		})
	}
}

func TestSearchQuery_ValidateDefaults(t *testing.T) {
	q := &SearchQuery{Query: "x"}
	require.NoError(t, q.Validate())
	assert.Equal(t, DefaultTopK, q.TopK)
	assert.Equal(t, DefaultThreshold, q.ThresholdValue())
	assert.Equal(t, FieldFullText, q.Field())
	assert.Equal(t, "fullText", q.SearchIn)

	big := &SearchQuery{Query: "x", TopK: 1000}
	require.NoError(t, big.Validate())
	assert.Equal(t, MaxTopK, big.TopK)

	zero := &SearchQuery{Query: "x", Threshold: floatPtr(0)}
	require.NoError(t, zero.Validate())
	assert.Equal(t, 0.0, zero.ThresholdValue())
}

func TestParseSearchField(t *testing.T) {
	f, err := ParseSearchField("Completion")
	require.NoError(t, err)
	assert.Equal(t, FieldCompletion, f)

	f, err = ParseSearchField("")
	require.NoError(t, err)
	assert.Equal(t, FieldFullText, f)
}

func TestContextQuery_Validate(t *testing.T) {
	neg := -1
	q := &ContextQuery{SearchQuery: SearchQuery{Query: "x"}, MaxContextChars: &neg}
	assert.ErrorIs(t, q.Validate(), ErrInvalidInput)
}

func TestContextQuery_Budget(t *testing.T) {
	q := &ContextQuery{}
	assert.Equal(t, 500, q.Budget(500))

	zero := 0
	q.MaxContextChars = &zero
	assert.Equal(t, 0, q.Budget(500), "explicit zero lifts the configured cap")
}

func TestDimensionError(t *testing.T) {
	err := error(&DimensionError{Got: 3, Want: 4})
	assert.ErrorIs(t, err, ErrDimensionMismatch)
	assert.Contains(t, err.Error(), "got 3, expected 4")
}
