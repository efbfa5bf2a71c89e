// Package config loads the engine's configuration from a YAML file (if
// present) and environment variable overrides.
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// ServerConfig controls the HTTP server.
type ServerConfig struct {
	Host string `json:"host" yaml:"host" env:"HOST"`
	Port int    `json:"port" yaml:"port" env:"PORT"`
}

// LoggingConfig controls application logging.
type LoggingConfig struct {
	Level  string `json:"level" yaml:"level" env:"LOG_LEVEL"`
	Format string `json:"format" yaml:"format" env:"LOG_FORMAT"`
}

// AgentConfig controls the chat-style agent endpoint.
type AgentConfig struct {
	OpenAIAPIKey string `json:"-" yaml:"-" env:"OPENAI_API_KEY"`
	Model        string `json:"model" yaml:"model" env:"SELUN_AGENT_MODEL"`
}

// ChainConfig controls the wallet's EVM connection and USDC contract.
type ChainConfig struct {
	NetworkID           string `json:"network_id" yaml:"network_id" env:"NETWORK_ID"`
	USDCContractAddress string `json:"usdc_contract_address" yaml:"usdc_contract_address" env:"USDC_CONTRACT_ADDRESS"`
	BaseRPC             string `json:"base_rpc" yaml:"base_rpc" env:"BASE_RPC"`
	PaymentConfirmations int   `json:"payment_confirmations" yaml:"payment_confirmations" env:"PAYMENT_CONFIRMATIONS"`
	PaymentTimeoutMs     int   `json:"payment_timeout_ms" yaml:"payment_timeout_ms" env:"PAYMENT_TIMEOUT_MS"`
	PaymentPollIntervalMs int  `json:"payment_poll_interval_ms" yaml:"payment_poll_interval_ms" env:"PAYMENT_POLL_INTERVAL_MS"`
}

// PricingConfig controls the base/add-on USDC prices and promo codes.
type PricingConfig struct {
	StructuredAllocationPriceUsdc  float64 `json:"structured_allocation_price_usdc" yaml:"structured_allocation_price_usdc" env:"STRUCTURED_ALLOCATION_PRICE_USDC"`
	CertifiedDecisionRecordFeeUsdc float64 `json:"certified_decision_record_fee_usdc" yaml:"certified_decision_record_fee_usdc" env:"CERTIFIED_DECISION_RECORD_FEE_USDC"`
	FreeCodesJSON                  string  `json:"-" yaml:"-" env:"SELUN_FREE_CODES_JSON"`
	FreeCodesCSV                   string  `json:"-" yaml:"-" env:"SELUN_FREE_CODES"`
}

// PhasesConfig carries the recognised phase-tuning overrides.
type PhasesConfig struct {
	AllowMemeTokens        bool   `json:"phase4_allow_meme_tokens" yaml:"phase4_allow_meme_tokens" env:"PHASE4_ALLOW_MEME_TOKENS"`
	MinEligibleCoverage    int    `json:"phase4_min_eligible_coverage" yaml:"phase4_min_eligible_coverage" env:"PHASE4_MIN_ELIGIBLE_COVERAGE"`
	AgentScoringProvider   string `json:"phase5_agent_scoring_provider" yaml:"phase5_agent_scoring_provider" env:"PHASE5_AGENT_SCORING_PROVIDER"`
	MaxSelectedStablecoins int    `json:"phase5_max_selected_stablecoins" yaml:"phase5_max_selected_stablecoins" env:"PHASE5_MAX_SELECTED_STABLECOINS"`
	MessariAPIKey          string `json:"-" yaml:"-" env:"MESSARI_API_KEY"`
	CoinMarketCapAPIKey    string `json:"-" yaml:"-" env:"COINMARKETCAP_API_KEY"`
}

// AAAConfig controls the outbound AAA webhook.
type AAAConfig struct {
	APIBaseURL         string `json:"api_base_url" yaml:"api_base_url" env:"AAA_API_BASE_URL"`
	HMACSecret         string `json:"-" yaml:"-" env:"AAA_ALLOCATE_HMAC_SECRET"`
	AllocateTimeoutMs  int    `json:"allocate_timeout_ms" yaml:"allocate_timeout_ms" env:"AAA_ALLOCATE_TIMEOUT_MS"`
}

// X402Config controls the payment state store.
type X402Config struct {
	StateFile     string `json:"state_file" yaml:"state_file" env:"X402_STATE_FILE"`
	RetentionDays int    `json:"retention_days" yaml:"retention_days" env:"X402_STATE_RETENTION_DAYS"`
}

// SchedulerConfig controls the background macro-refresh cadence.
type SchedulerConfig struct {
	RefreshCron string `json:"refresh_cron" yaml:"refresh_cron" env:"SCHEDULER_REFRESH_CRON"`
	Enabled     bool   `json:"enabled" yaml:"enabled" env:"SCHEDULER_ENABLED"`
}

// Config is the top-level configuration structure.
type Config struct {
	Server    ServerConfig    `json:"server" yaml:"server"`
	Logging   LoggingConfig   `json:"logging" yaml:"logging"`
	Agent     AgentConfig     `json:"agent" yaml:"agent"`
	Chain     ChainConfig     `json:"chain" yaml:"chain"`
	Pricing   PricingConfig   `json:"pricing" yaml:"pricing"`
	Phases    PhasesConfig    `json:"phases" yaml:"phases"`
	AAA       AAAConfig       `json:"aaa" yaml:"aaa"`
	X402      X402Config      `json:"x402" yaml:"x402"`
	Scheduler SchedulerConfig `json:"scheduler" yaml:"scheduler"`
}

// New returns a configuration populated with defaults.
func New() *Config {
	return &Config{
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 8080,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
		Agent: AgentConfig{
			Model: "gpt-4o-mini",
		},
		Chain: ChainConfig{
			PaymentConfirmations:  3,
			PaymentTimeoutMs:      600_000,
			PaymentPollIntervalMs: 5_000,
		},
		Pricing: PricingConfig{
			StructuredAllocationPriceUsdc:  20,
			CertifiedDecisionRecordFeeUsdc: 10,
		},
		Phases: PhasesConfig{
			MinEligibleCoverage:    25,
			MaxSelectedStablecoins: 1,
		},
		AAA: AAAConfig{
			AllocateTimeoutMs: 15_000,
		},
		X402: X402Config{
			StateFile:     "x402-state.json",
			RetentionDays: 30,
		},
		Scheduler: SchedulerConfig{
			RefreshCron: "@every 15m",
			Enabled:     true,
		},
	}
}

// Load loads configuration from file (if present) and environment variables.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := New()

	if path := strings.TrimSpace(os.Getenv("CONFIG_FILE")); path != "" {
		if err := loadFromFile(path, cfg); err != nil {
			return nil, err
		}
	} else {
		_ = loadFromFile("configs/config.yaml", cfg)
	}

	if err := envdecode.Decode(cfg); err != nil {
		// envdecode returns an error when no tagged fields are present in the
		// environment; treat that case as "no overrides" so local runs work
		// without exporting vars.
		if !strings.Contains(err.Error(), "none of the target fields were set") {
			return nil, fmt.Errorf("decode env: %w", err)
		}
	}

	return cfg, nil
}

// LoadFile reads configuration from a YAML file.
func LoadFile(path string) (*Config, error) {
	cfg := New()
	if err := loadFromFile(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadFromFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	return yaml.Unmarshal(data, cfg)
}
