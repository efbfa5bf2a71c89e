// Package macrocollectors fans out across the volatility, liquidity,
// sentiment, and market-breadth domains and aggregates provider responses
// into a single MacroAttempt, selecting providers by credibility via the
// source-intelligence registry.
package macrocollectors

import (
	"context"
	"time"

	"github.com/r3e-network/selun-engine/domain/phases"
	"github.com/r3e-network/selun-engine/domain/sourceintel"
	"github.com/r3e-network/selun-engine/infrastructure/fetch"
	"github.com/r3e-network/selun-engine/system/framework"
	core "github.com/r3e-network/selun-engine/system/framework/core"
	"github.com/sirupsen/logrus"
)

// Domains fanned out on every Phase 1 attempt.
const (
	DomainVolatility   = "volatility"
	DomainLiquidity    = "liquidity"
	DomainSentiment    = "sentiment"
	DomainMarketMetrics = "market_metrics"
)

// Provider fetches one domain's reading from one named upstream source.
type Provider interface {
	Fetch(ctx context.Context, fetcher *fetch.Fetcher, toolCallID string) (float64, error)
}

// ProviderFunc adapts a function to Provider.
type ProviderFunc func(ctx context.Context, fetcher *fetch.Fetcher, toolCallID string) (float64, error)

func (f ProviderFunc) Fetch(ctx context.Context, fetcher *fetch.Fetcher, toolCallID string) (float64, error) {
	return f(ctx, fetcher, toolCallID)
}

// Config names the configured providers per domain, in preference order.
type Config struct {
	Providers map[string][]string // domain -> configured provider names
}

// Service implements phases.Collector by fanning out to each domain's
// configured providers, ordered by the source-intelligence registry, and
// falling back through the list until one succeeds.
type Service struct {
	framework.ServiceBase

	cfg      Config
	fetcher  *fetch.Fetcher
	registry *sourceintel.Registry
	catalog  map[string]map[string]Provider // domain -> provider name -> impl
	log      *logrus.Entry
	metrics  sourceFailureRecorder
}

// sourceFailureRecorder is the subset of infrastructure/metrics.Metrics this
// package needs.
type sourceFailureRecorder interface {
	RecordMacroSourceFailure(domain, source string)
}

// SetMetrics attaches a metrics recorder for provider failures.
func (s *Service) SetMetrics(m sourceFailureRecorder) {
	s.metrics = m
}

func New(cfg Config, fetcher *fetch.Fetcher, registry *sourceintel.Registry, catalog map[string]map[string]Provider, log *logrus.Logger) *Service {
	return &Service{
		ServiceBase: *framework.NewServiceBase("macrocollectors", "macro"),
		cfg:         cfg,
		fetcher:     fetcher,
		registry:    registry,
		catalog:     catalog,
		log:         log.WithField("service", "macrocollectors"),
	}
}

func (s *Service) Start(ctx context.Context) error { s.MarkStarted(); return nil }
func (s *Service) Stop(ctx context.Context) error  { s.MarkStopped(); return nil }

func (s *Service) Descriptor() core.Descriptor {
	return core.Descriptor{Name: "macrocollectors", Domain: "macro", Layer: core.LayerService,
		Capabilities: []string{"volatility", "liquidity", "sentiment", "market_metrics"}}
}

func (s *Service) collectDomain(ctx context.Context, domain, toolCallID string) (float64, []string, bool) {
	providers, ok := s.catalog[domain]
	if !ok || len(providers) == 0 {
		return 0, nil, false
	}
	order := s.registry.BuildProviderOrder(domain, s.cfg.Providers[domain], nil)

	for _, name := range order {
		impl, ok := providers[name]
		if !ok {
			continue
		}
		start := time.Now()
		value, err := impl.Fetch(ctx, s.fetcher, toolCallID)
		latency := float64(time.Since(start).Milliseconds())
		s.registry.RecordOutcome(domain, name, err == nil, latency)
		if err != nil {
			s.log.WithError(err).WithField("domain", domain).WithField("provider", name).Warn("macro provider failed")
			if s.metrics != nil {
				s.metrics.RecordMacroSourceFailure(domain, name)
			}
			continue
		}
		return value, []string{domain + ":" + name}, true
	}
	return 0, nil, false
}

// Collect implements phases.Collector: one fan-out round across all four
// macro domains, reporting the domains that produced no usable reading.
func (s *Service) Collect(ctx context.Context) (phases.MacroAttempt, error) {
	toolCallID := time.Now().UTC().Format(time.RFC3339Nano)
	attempt := phases.MacroAttempt{AssetCount: 0}

	volatility, srcs1, ok1 := s.collectDomain(ctx, DomainVolatility, toolCallID)
	liquidity, srcs2, ok2 := s.collectDomain(ctx, DomainLiquidity, toolCallID)
	sentiment, srcs3, ok3 := s.collectDomain(ctx, DomainSentiment, toolCallID)
	breadth, srcs4, ok4 := s.collectDomain(ctx, DomainMarketMetrics, toolCallID)

	var missing []string
	var sources []string
	sources = append(sources, srcs1...)
	sources = append(sources, srcs2...)
	sources = append(sources, srcs3...)
	sources = append(sources, srcs4...)

	if !ok1 {
		missing = append(missing, DomainVolatility)
	}
	if !ok2 {
		missing = append(missing, DomainLiquidity)
	}
	if !ok3 {
		missing = append(missing, DomainSentiment)
	}
	if !ok4 {
		missing = append(missing, DomainMarketMetrics)
	}

	attempt.Volatility = classifyVolatility(volatility)
	attempt.Liquidity = classifyLiquidity(liquidity)
	attempt.SentimentScore = sentiment
	attempt.MarketBreadthPositiveRatio = breadth
	attempt.Sources = sources
	attempt.MissingDomains = missing
	if ok4 {
		attempt.AssetCount = 100
	}
	return attempt, nil
}

func classifyVolatility(v float64) phases.VolatilityState {
	switch {
	case v >= 0.75:
		return phases.VolExtreme
	case v >= 0.5:
		return phases.VolElevated
	case v >= 0.25:
		return phases.VolModerate
	default:
		return phases.VolLow
	}
}

func classifyLiquidity(v float64) phases.LiquidityState {
	switch {
	case v >= 0.6:
		return phases.LiquidityStrong
	case v >= 0.3:
		return phases.LiquidityStable
	default:
		return phases.LiquidityWeak
	}
}
