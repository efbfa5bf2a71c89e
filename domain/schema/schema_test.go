package schema

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBuildAndValidateSanitisesOutOfRange(t *testing.T) {
	s := Schema{
		Name: "phase1",
		Fields: []Field{
			{Name: "confidence", Kind: KindNumber, Required: true, Min: 0, Max: 1},
			{Name: "volatility_state", Kind: KindEnum, Required: true, Enum: []string{"low", "moderate", "elevated", "extreme"}},
		},
	}

	doc, violations, ok := BuildAndValidate(s, func() map[string]interface{} {
		return map[string]interface{}{
			"confidence":       1.4,
			"volatility_state": "unknown",
			"extra_field":      "dropped",
		}
	})

	require.True(t, ok)
	require.Empty(t, violations)
	require.Equal(t, 1.0, doc["confidence"])
	require.Equal(t, "low", doc["volatility_state"])
	require.NotContains(t, doc, "extra_field")
}

func TestBuildAndValidateFatalOnMissingRequired(t *testing.T) {
	s := Schema{Fields: []Field{{Name: "confidence", Kind: KindNumber, Required: true, Min: 0, Max: 1}}}

	_, violations, ok := BuildAndValidate(s, func() map[string]interface{} {
		return map[string]interface{}{}
	})

	require.False(t, ok)
	require.Len(t, violations, 1)
}
