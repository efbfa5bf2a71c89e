package phases

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

type fakeUniverse struct {
	tokens []Token
}

func (f fakeUniverse) FetchUniverse(ctx context.Context) ([]Token, error) {
	return f.tokens, nil
}

func TestPhase3DerivesStablecoinHints(t *testing.T) {
	provider := fakeUniverse{tokens: []Token{
		{ID: "usdc", Symbol: "USDC", MarketCapRank: 5, Volume24hUsd: 2_000_000_000, Volume30dUsd: 60_000_000_000},
		{ID: "shib", Symbol: "SHIB", MarketCapRank: 40, Volume24hUsd: 100_000, Volume30dUsd: 3_000_000, SourceTags: []string{"meme"}},
	}}
	engine := NewPhase3Engine(provider)
	out, err := engine.Run(context.Background(), Input{JobID: "j1"}, Phase2Output{Mode: ModeCapitalPreservation})
	require.NoError(t, err)
	require.Len(t, out.Tokens, 2)

	usdc := out.Tokens[0]
	require.Equal(t, CategoryStablecoin, usdc.Hints.Category)
	require.Equal(t, ValidationFiatCustodial, usdc.Hints.StablecoinValidationState)
	require.Contains(t, usdc.ProfileMatchReasons, "stablecoin_priority_in_capital_preservation")

	shib := out.Tokens[1]
	require.Equal(t, CategoryMeme, shib.Hints.Category)
	require.True(t, shib.Hints.IsMeme)
	require.True(t, shib.Hints.StrictRankGateRequired)
}
