package macrocollectors

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/r3e-network/selun-engine/infrastructure/fetch"
	"github.com/stretchr/testify/require"
)

func TestFearGreedSentimentProviderRescales(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"data":[{"value":"75"}]}`))
	}))
	defer server.Close()

	provider := NewFearGreedSentimentProvider(server.URL)
	value, err := provider.Fetch(context.Background(), fetch.New(nil), "tool-1")
	require.NoError(t, err)
	require.InDelta(t, 0.5, value, 1e-9)
}

func TestCoinMarketCapBreadthProvider(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "key", r.Header.Get("X-CMC_PRO_API_KEY"))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"data":[{"quote":{"USD":{"percent_change_24h":1}}},{"quote":{"USD":{"percent_change_24h":-1}}}]}`))
	}))
	defer server.Close()

	provider := NewCoinMarketCapBreadthProvider("key", server.URL)
	value, err := provider.Fetch(context.Background(), fetch.New(nil), "tool-1")
	require.NoError(t, err)
	require.InDelta(t, 0.5, value, 1e-9)
}
