package httpapi

import (
	"context"
	"fmt"
	"math/big"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/r3e-network/selun-engine/domain/phases"
	"github.com/r3e-network/selun-engine/domain/x402"
	"github.com/r3e-network/selun-engine/infrastructure/errors"
	"github.com/r3e-network/selun-engine/infrastructure/httputil"
	"github.com/r3e-network/selun-engine/infrastructure/logging"
	"github.com/r3e-network/selun-engine/infrastructure/metrics"
	"github.com/r3e-network/selun-engine/packages/com.selun.services.agent"
	"github.com/r3e-network/selun-engine/packages/com.selun.services.orchestrator"
	"github.com/r3e-network/selun-engine/packages/com.selun.services.pricing"
	"github.com/r3e-network/selun-engine/packages/com.selun.services.wallet"
)

// Deps wires the services the HTTP surface depends on.
type Deps struct {
	Orchestrator *orchestrator.Orchestrator
	Pricebook    pricing.Pricebook
	PromoRules   map[string]pricing.PromoRule
	Ledger       pricing.Ledger
	X402         *x402.Store
	Wallet       *wallet.Service
	Agent        *agent.Agent
	USDCAddress  common.Address
	AgentAddress common.Address
	Log          *logging.Logger
	Metrics      *metrics.Metrics
}

// ---------------------------------------------------------------------------
// POST /api/agent
// ---------------------------------------------------------------------------

type agentChatRequest struct {
	UserMessage string          `json:"userMessage"`
	History     []agent.Message `json:"history"`
	Context     string          `json:"context"`
}

type agentChatResponse struct {
	Reply string `json:"reply"`
}

func (d *Deps) handleAgentChat() http.HandlerFunc {
	return httputil.HandleJSON[agentChatRequest, agentChatResponse](d.Log, func(ctx context.Context, req *agentChatRequest) (agentChatResponse, error) {
		if strings.TrimSpace(req.UserMessage) == "" {
			return agentChatResponse{}, &httputil.ValidationError{Message: "userMessage is required"}
		}
		reply, err := d.Agent.Ask(ctx, req.UserMessage, req.History, req.Context)
		if err != nil {
			return agentChatResponse{}, err
		}
		return agentChatResponse{Reply: reply}, nil
	})
}

// ---------------------------------------------------------------------------
// POST /api/agent/pay
// ---------------------------------------------------------------------------

type agentPayRequest struct {
	WalletAddress                 string  `json:"walletAddress"`
	TotalPriceUsdc                float64 `json:"totalPriceUsdc"`
	IncludeCertifiedDecisionRecord bool   `json:"includeCertifiedDecisionRecord"`
	RiskMode                      string  `json:"riskMode"`
	InvestmentHorizon             string  `json:"investmentHorizon"`
	PromoCode                     string  `json:"promoCode"`
	TransactionHash               string  `json:"transactionHash"`
}

type agentPayResponse struct {
	Success                         bool   `json:"success"`
	Status                          string `json:"status"`
	TransactionID                   string `json:"transactionId"`
	DecisionID                      string `json:"decisionId"`
	AgentNote                       string `json:"agentNote"`
	ChargedAmountUsdc               string `json:"chargedAmountUsdc"`
	CertifiedDecisionRecordPurchased bool  `json:"certifiedDecisionRecordPurchased"`
	PaymentMethod                   string `json:"paymentMethod"`
	FreeCodeApplied                 bool   `json:"freeCodeApplied"`
}

func riskTolerance(mode string) phases.RiskTolerance {
	switch phases.RiskTolerance(mode) {
	case phases.RiskConservative, phases.RiskBalanced, phases.RiskGrowth, phases.RiskAggressive:
		return phases.RiskTolerance(mode)
	default:
		return phases.RiskBalanced
	}
}

func investmentTimeframe(horizon string) phases.Timeframe {
	switch phases.Timeframe(horizon) {
	case phases.TimeframeUnder1Year, phases.Timeframe1To3Years, phases.TimeframeOver3Years:
		return phases.Timeframe(horizon)
	default:
		return phases.Timeframe1To3Years
	}
}

func usdcString(baseUnits int64) string {
	return fmt.Sprintf("%.6f", float64(baseUnits)/1_000_000)
}

func bigFromBaseUnits(baseUnits int64) *big.Int {
	return big.NewInt(baseUnits)
}

func (d *Deps) handleAgentPay() http.HandlerFunc {
	return httputil.HandleJSON[agentPayRequest, agentPayResponse](d.Log, func(ctx context.Context, req *agentPayRequest) (agentPayResponse, error) {
		addr, err := wallet.NormalizeAddress(req.WalletAddress)
		if err != nil {
			return agentPayResponse{}, err
		}

		quote := d.Pricebook.Quote(req.IncludeCertifiedDecisionRecord)
		decisionID := uuid.NewString()
		now := time.Now()

		var (
			chargedBaseUnits int64
			transactionID    string
			paymentMethod    string
			freeCodeApplied  bool
			payment          *x402.Payment
		)

		if strings.TrimSpace(req.PromoCode) != "" {
			resolution, err := pricing.ResolvePromo(d.PromoRules, d.Ledger, req.PromoCode, addr.Hex(), quote, now)
			if err != nil {
				return agentPayResponse{}, err
			}
			chargedBaseUnits = resolution.ChargedBaseUnits
			transactionID = resolution.TransactionID
			paymentMethod = "free_code"
			freeCodeApplied = true
			receipt := wallet.SyntheticFreeReceipt(resolution.TransactionID)
			payment = &x402.Payment{FromAddress: addr.Hex(), TransactionHash: receipt.TransactionHash, VerifiedAt: now}
		} else {
			chargedBaseUnits = quote.TotalBaseUnits
			paymentMethod = "onchain"

			var receipt *wallet.Receipt
			if strings.TrimSpace(req.TransactionHash) != "" {
				receipt, err = d.Wallet.ConfirmTransactionHash(ctx, common.HexToHash(req.TransactionHash), addr, d.AgentAddress, bigFromBaseUnits(chargedBaseUnits))
			} else {
				receipt, err = d.Wallet.ScanForPayment(ctx, addr, d.AgentAddress, bigFromBaseUnits(chargedBaseUnits))
			}
			if err != nil {
				return agentPayResponse{}, err
			}

			reservation := d.X402.ReserveTransactionHash(receipt.TransactionHash, decisionID)
			if !reservation.Accepted {
				return agentPayResponse{}, errors.TransactionReused(receipt.TransactionHash, reservation.ExistingDecisionID)
			}
			transactionID = receipt.TransactionHash
			payment = &x402.Payment{FromAddress: addr.Hex(), TransactionHash: receipt.TransactionHash, VerifiedAt: now}
		}

		d.X402.SetAllocateRecord(x402.AllocateRecord{
			DecisionID:        decisionID,
			ChargedAmountUsdc: usdcString(chargedBaseUnits),
			QuoteIssuedAt:     now,
			QuoteExpiresAt:    now.Add(15 * time.Minute),
			State:             x402.StateAccepted,
			CreatedAt:         now,
			JobID:             decisionID,
			Payment:           payment,
		})
		d.X402.IncrementAddressDailyUsage(now.Format("2006-01-02") + ":" + addr.Hex())

		d.Orchestrator.RunPhase1(ctx, decisionID, phases.Input{
			JobID:               decisionID,
			ExecutionTimestamp:  now,
			RiskMode:            req.RiskMode,
			RiskTolerance:       riskTolerance(req.RiskMode),
			InvestmentTimeframe: investmentTimeframe(req.InvestmentHorizon),
			TimeWindow:          "30d",
			WalletAddress:       addr.Hex(),
		})

		return agentPayResponse{
			Success:                          true,
			Status:                           "paid",
			TransactionID:                    transactionID,
			DecisionID:                       decisionID,
			AgentNote:                        "Payment confirmed. Your structured allocation is now running.",
			ChargedAmountUsdc:                usdcString(chargedBaseUnits),
			CertifiedDecisionRecordPurchased: req.IncludeCertifiedDecisionRecord,
			PaymentMethod:                    paymentMethod,
			FreeCodeApplied:                  freeCodeApplied,
		}, nil
	})
}

// ---------------------------------------------------------------------------
// POST /api/report/download
// ---------------------------------------------------------------------------

type reportDownloadRequest struct {
	JobID         string `json:"jobId"`
	WalletAddress string `json:"walletAddress"`
}

func (d *Deps) handleReportDownload() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req reportDownloadRequest
		if !httputil.DecodeJSON(w, r, &req) {
			return
		}

		var (
			report orchestrator.Report
			ok     bool
		)
		if strings.TrimSpace(req.JobID) != "" {
			report, ok = d.Orchestrator.GetReport(req.JobID)
		} else {
			report, ok = d.Orchestrator.GetReportByWallet(req.WalletAddress)
		}
		if !ok {
			httputil.NotFound(w, "report not available")
			return
		}

		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", "selun-report-"+report.JobID+".json"))
		httputil.WriteJSON(w, http.StatusOK, report)
	}
}

// ---------------------------------------------------------------------------
// Phase status probes
// ---------------------------------------------------------------------------

func (d *Deps) handleStatusByJobID() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		jobID := httputil.QueryString(r, "jobId", "")
		if jobID == "" {
			httputil.BadRequest(w, "jobId is required")
			return
		}
		status, ok := d.Orchestrator.GetExecutionStatus(jobID)
		if !ok {
			httputil.NotFound(w, "job not found")
			return
		}
		httputil.WriteJSON(w, http.StatusOK, status)
	}
}

func (d *Deps) handleStatusByWallet() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		addr := httputil.QueryString(r, "walletAddress", "")
		if addr == "" {
			httputil.BadRequest(w, "walletAddress is required")
			return
		}
		status, ok := d.Orchestrator.GetExecutionStatusByWallet(addr)
		if !ok {
			httputil.NotFound(w, "no job found for wallet")
			return
		}
		httputil.WriteJSON(w, http.StatusOK, status)
	}
}
