package httpapi

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/r3e-network/selun-engine/domain/x402"
	"github.com/r3e-network/selun-engine/infrastructure/logging"
	"github.com/r3e-network/selun-engine/packages/com.selun.services.agent"
	"github.com/r3e-network/selun-engine/packages/com.selun.services.orchestrator"
	"github.com/sirupsen/logrus"
)

func testDeps(t *testing.T) *Deps {
	t.Helper()
	return &Deps{
		Orchestrator: orchestrator.New(nil, nil, nil, nil, nil, nil, "", logrus.New()),
		X402:         x402.New(t.TempDir()+"/x402-state.json", 2, logrus.New()),
		Agent:        agent.New(agent.Config{APIKey: "test"}),
		Log:          logging.NewFromEnv("test"),
	}
}

func TestHandleAgentChatMissingMessage(t *testing.T) {
	deps := testDeps(t)
	h := deps.handleAgentChat()

	r := httptest.NewRequest(http.MethodPost, "/api/agent", strings.NewReader(`{"userMessage":""}`))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusBadRequest)
	}
}

func TestHandleAgentChatSuccess(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"choices":[{"message":{"content":"buy the dip, carefully"}}]}`))
	}))
	defer upstream.Close()

	deps := testDeps(t)
	deps.Agent = agent.New(agent.Config{APIKey: "test", BaseURL: upstream.URL})
	h := deps.handleAgentChat()

	r := httptest.NewRequest(http.MethodPost, "/api/agent", strings.NewReader(`{"userMessage":"what should I buy?"}`))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	var resp agentChatResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Reply != "buy the dip, carefully" {
		t.Errorf("reply = %q", resp.Reply)
	}
}

func TestHandleReportDownloadNotFound(t *testing.T) {
	deps := testDeps(t)
	h := deps.handleReportDownload()

	r := httptest.NewRequest(http.MethodPost, "/api/report/download", strings.NewReader(`{"jobId":"missing"}`))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)

	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusNotFound)
	}
}

func TestHandleStatusByJobIDRequiresQueryParam(t *testing.T) {
	deps := testDeps(t)
	h := deps.handleStatusByJobID()

	r := httptest.NewRequest(http.MethodGet, "/api/status/job", nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusBadRequest)
	}
}

func TestHandleStatusByWalletNotFound(t *testing.T) {
	deps := testDeps(t)
	h := deps.handleStatusByWallet()

	r := httptest.NewRequest(http.MethodGet, "/api/status/wallet?"+url.Values{"walletAddress": {"0xabc"}}.Encode(), nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)

	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusNotFound)
	}
}
