package store

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahrav/castrank/internal/domain"
)

func TestCodec_PreservesDomainValues(t *testing.T) {
	calculated := time.Date(2026, 9, 1, 8, 30, 0, 0, time.UTC)
	result := domain.AggregateResult{
		EventID: "best-hero",
		Top: []domain.ScoredEntity{
			{ID: "x", Name: "X", ImageURL: "u", TotalScore: 29, VoteCount: 3},
		},
		TotalVotes:       3,
		CalculatedAt:     calculated,
		ProcessingErrors: 0,
	}

	data, err := EncodeFields(result.Document())
	require.NoError(t, err)

	doc, err := DecodeDocument("best-hero", data)
	require.NoError(t, err)

	decoded, err := domain.DecodeAggregateResult(doc)
	require.NoError(t, err)
	assert.Equal(t, result.Top, decoded.Top)
	assert.Equal(t, 3, decoded.TotalVotes)
	assert.True(t, calculated.Equal(decoded.CalculatedAt))
}

func TestDecodeFields_Numbers(t *testing.T) {
	fields, err := DecodeFields([]byte(`{"n": 42, "f": 2.5, "nested": {"list": [1, 1.5]}}`))
	require.NoError(t, err)

	assert.Equal(t, int64(42), fields["n"])
	assert.Equal(t, 2.5, fields["f"])
	assert.Equal(t, []any{int64(1), 1.5}, fields["nested"].(map[string]any)["list"])
}

func TestDecodeFields_EdgeCases(t *testing.T) {
	fields, err := DecodeFields(nil)
	require.NoError(t, err)
	assert.Empty(t, fields)

	fields, err = DecodeFields([]byte(`null`))
	require.NoError(t, err)
	assert.NotNil(t, fields)

	_, err = DecodeFields([]byte(`[1,2]`))
	assert.Error(t, err)
}
