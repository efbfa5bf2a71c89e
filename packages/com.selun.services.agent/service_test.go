package agent

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAgentAskReturnsCompletion(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"choices":[{"message":{"content":"diversify across majors and stables"}}]}`))
	}))
	defer server.Close()

	a := New(Config{APIKey: "test-key", Model: "gpt-4o-mini", BaseURL: server.URL})
	reply, err := a.Ask(context.Background(), "how should I allocate?", nil, "")
	require.NoError(t, err)
	require.Equal(t, "diversify across majors and stables", reply)
}

func TestAgentAskUpstreamFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"error":"boom"}`))
	}))
	defer server.Close()

	a := New(Config{APIKey: "test-key", BaseURL: server.URL})
	_, err := a.Ask(context.Background(), "hello", nil, "")
	require.Error(t, err)
}
