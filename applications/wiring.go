// Package applications assembles the engine's services from configuration
// and wires them into the system manager and HTTP surface.
package applications

import (
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/sirupsen/logrus"

	"github.com/r3e-network/selun-engine/applications/httpapi"
	"github.com/r3e-network/selun-engine/applications/system"
	"github.com/r3e-network/selun-engine/domain/aaaforward"
	"github.com/r3e-network/selun-engine/domain/identity"
	"github.com/r3e-network/selun-engine/domain/phases"
	"github.com/r3e-network/selun-engine/domain/snapshot"
	"github.com/r3e-network/selun-engine/domain/sourceintel"
	"github.com/r3e-network/selun-engine/domain/x402"
	"github.com/r3e-network/selun-engine/infrastructure/fetch"
	"github.com/r3e-network/selun-engine/infrastructure/logging"
	"github.com/r3e-network/selun-engine/infrastructure/metrics"
	"github.com/r3e-network/selun-engine/packages/com.selun.services.agent"
	"github.com/r3e-network/selun-engine/packages/com.selun.services.macrocollectors"
	"github.com/r3e-network/selun-engine/packages/com.selun.services.orchestrator"
	"github.com/r3e-network/selun-engine/packages/com.selun.services.pricing"
	"github.com/r3e-network/selun-engine/packages/com.selun.services.scheduler"
	"github.com/r3e-network/selun-engine/packages/com.selun.services.universe"
	"github.com/r3e-network/selun-engine/packages/com.selun.services.wallet"
	"github.com/r3e-network/selun-engine/pkg/config"
)

// App bundles every constructed service plus the HTTP mux they back.
type App struct {
	Manager *system.Manager
	Router  *httpapi.Deps
	Metrics *metrics.Metrics
}

// Build wires the full service graph from cfg. It dials the chain RPC and
// loads every persisted file but does not start background goroutines;
// callers invoke Manager.Start to do so.
func Build(cfg *config.Config, log *logrus.Logger) (*App, error) {
	mgr := system.NewManager()
	mtx := metrics.Init("selun-engine")

	chain, err := ethclient.Dial(cfg.Chain.BaseRPC)
	if err != nil {
		return nil, fmt.Errorf("dial chain rpc: %w", err)
	}

	agentIdentity, err := identity.LoadOrCreate("agent-identity.json", cfg.Chain.NetworkID, log)
	if err != nil {
		return nil, fmt.Errorf("load agent identity: %w", err)
	}

	walletCfg := wallet.DefaultConfig()
	walletCfg.USDCAddress = common.HexToAddress(cfg.Chain.USDCContractAddress)
	if cfg.Chain.PaymentConfirmations > 0 {
		walletCfg.PaymentConfirmations = uint64(cfg.Chain.PaymentConfirmations)
	}
	if cfg.Chain.PaymentTimeoutMs > 0 {
		walletCfg.PaymentTimeout = time.Duration(cfg.Chain.PaymentTimeoutMs) * time.Millisecond
	}
	if cfg.Chain.PaymentPollIntervalMs > 0 {
		walletCfg.PaymentPollInterval = time.Duration(cfg.Chain.PaymentPollIntervalMs) * time.Millisecond
	}
	walletSvc := wallet.New(chain, walletCfg, log)
	walletSvc.SetMetrics(mtx)
	if err := mgr.Register(walletSvc); err != nil {
		return nil, err
	}

	fetcher := fetch.New(nil)
	registry := sourceintel.NewRegistry("source-intelligence.json", log)

	catalog := map[string]map[string]macrocollectors.Provider{
		macrocollectors.DomainVolatility: {
			"coinmarketcap": macrocollectors.NewCoinMarketCapVolatilityProvider(cfg.Phases.CoinMarketCapAPIKey, "https://pro-api.coinmarketcap.com"),
		},
		macrocollectors.DomainLiquidity: {
			"coinmarketcap": macrocollectors.NewCoinMarketCapLiquidityProvider(cfg.Phases.CoinMarketCapAPIKey, "https://pro-api.coinmarketcap.com"),
		},
		macrocollectors.DomainSentiment: {
			"alternative.me": macrocollectors.NewFearGreedSentimentProvider("https://api.alternative.me"),
		},
		macrocollectors.DomainMarketMetrics: {
			"coinmarketcap": macrocollectors.NewCoinMarketCapBreadthProvider(cfg.Phases.CoinMarketCapAPIKey, "https://pro-api.coinmarketcap.com"),
		},
	}
	collectorCfg := macrocollectors.Config{
		Providers: map[string][]string{
			macrocollectors.DomainVolatility:    {"coinmarketcap"},
			macrocollectors.DomainLiquidity:     {"coinmarketcap"},
			macrocollectors.DomainSentiment:     {"alternative.me"},
			macrocollectors.DomainMarketMetrics: {"coinmarketcap"},
		},
	}
	collector := macrocollectors.New(collectorCfg, fetcher, registry, catalog, log)
	collector.SetMetrics(mtx)
	if err := mgr.Register(collector); err != nil {
		return nil, err
	}

	snapshots := snapshot.New("phase1-market-snapshot.json", log)
	phase1 := phases.NewPhase1Engine(collector, snapshots, phases.DefaultPhase1Config())

	if cfg.Scheduler.Enabled {
		refresh := scheduler.New(phase1, registry, scheduler.Config{Spec: cfg.Scheduler.RefreshCron}, log)
		if err := mgr.Register(refresh); err != nil {
			return nil, err
		}
	}

	universeCfg := universe.DefaultConfig()
	universeCfg.APIKey = cfg.Phases.CoinMarketCapAPIKey
	universeProvider := universe.New(universeCfg, fetcher)
	phase3 := phases.NewPhase3Engine(universeProvider)

	phase4Cfg := phases.DefaultPhase4Config()
	if cfg.Phases.MinEligibleCoverage > 0 {
		phase4Cfg.MinEligibleCoverage = cfg.Phases.MinEligibleCoverage
	}
	phase4 := phases.NewPhase4Engine(phase4Cfg)

	phase5Cfg := phases.DefaultPhase5Config()
	if cfg.Phases.MaxSelectedStablecoins > 0 {
		phase5Cfg.MaxSelectedStablecoins = cfg.Phases.MaxSelectedStablecoins
	}
	phase5 := phases.NewPhase5Engine(phase5Cfg)

	phase6 := phases.NewPhase6Engine()

	forwarder := aaaforward.New(aaaforward.Config{
		BaseURL: cfg.AAA.APIBaseURL,
		Secret:  cfg.AAA.HMACSecret,
		Timeout: time.Duration(cfg.AAA.AllocateTimeoutMs) * time.Millisecond,
	})

	selfURL := fmt.Sprintf("http://%s:%d", cfg.Server.Host, cfg.Server.Port)
	orch := orchestrator.New(phase1, phase3, phase4, phase5, phase6, forwarder, selfURL, log)
	orch.SetMetrics(mtx)
	if err := mgr.Register(orch); err != nil {
		return nil, err
	}

	promoRules, err := pricing.ParsePromoRulesJSON(cfg.Pricing.FreeCodesJSON)
	if err != nil {
		return nil, fmt.Errorf("parse promo rules: %w", err)
	}
	for code, rule := range pricing.ParsePromoRulesCSV(cfg.Pricing.FreeCodesCSV) {
		if _, exists := promoRules[code]; !exists {
			promoRules[code] = rule
		}
	}

	ledger := pricing.NewFileLedger("free-code-redemptions.json", log)
	store := x402.New(cfg.X402.StateFile, cfg.X402.RetentionDays, log)

	agentSvc := agent.New(agent.Config{
		APIKey: cfg.Agent.OpenAIAPIKey,
		Model:  cfg.Agent.Model,
	})

	deps := &httpapi.Deps{
		Orchestrator: orch,
		Pricebook: pricing.Pricebook{
			StructuredAllocationPriceUsdc:  cfg.Pricing.StructuredAllocationPriceUsdc,
			CertifiedDecisionRecordFeeUsdc: cfg.Pricing.CertifiedDecisionRecordFeeUsdc,
		},
		PromoRules:   promoRules,
		Ledger:       ledger,
		X402:         store,
		Wallet:       walletSvc,
		Agent:        agentSvc,
		USDCAddress:  walletCfg.USDCAddress,
		AgentAddress: common.HexToAddress(agentIdentity.WalletAddress),
		Log:          logging.New("httpapi", cfg.Logging.Level, cfg.Logging.Format),
	}

	deps.Metrics = mtx

	return &App{Manager: mgr, Router: deps, Metrics: mtx}, nil
}
