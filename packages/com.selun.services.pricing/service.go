// Package pricing implements the Pricing, Promo, and Payment Gate pricing
// half: base/add-on pricing in USDC base units and promo-code resolution
// against a JSON-or-CSV rule set.
package pricing

import (
	"crypto/rand"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/r3e-network/selun-engine/infrastructure/errors"
)

// UsdcDecimals is USDC's base-unit exponent.
const UsdcDecimals = 6

// Quote is the computed price for one allocation job.
type Quote struct {
	BaseUnits                   int64
	CertifiedDecisionRecordAdd  int64
	TotalBaseUnits              int64
	IncludeCertifiedRecord      bool
}

// Pricebook holds the configured base/add-on prices, in whole USDC.
type Pricebook struct {
	StructuredAllocationPriceUsdc     float64
	CertifiedDecisionRecordFeeUsdc    float64
}

func toBaseUnits(usdc float64) int64 {
	return int64(usdc*1_000_000 + 0.5)
}

// Quote computes the total charge for a job.
func (p Pricebook) Quote(includeCertifiedRecord bool) Quote {
	base := toBaseUnits(p.StructuredAllocationPriceUsdc)
	add := int64(0)
	if includeCertifiedRecord {
		add = toBaseUnits(p.CertifiedDecisionRecordFeeUsdc)
	}
	return Quote{
		BaseUnits:                  base,
		CertifiedDecisionRecordAdd: add,
		TotalBaseUnits:             base + add,
		IncludeCertifiedRecord:     includeCertifiedRecord,
	}
}

// PromoRule describes one configured promo code.
type PromoRule struct {
	Code                          string     `json:"code"`
	MaxUses                       int        `json:"maxUses"`
	IncludeCertifiedDecisionRecord bool      `json:"includeCertifiedDecisionRecord"`
	DiscountPercent               *float64   `json:"discountPercent,omitempty"`
	ExpiresAt                     *time.Time `json:"expiresAt,omitempty"`
}

func (r PromoRule) discountBps() int64 {
	if r.DiscountPercent == nil {
		return 10000
	}
	return int64(*r.DiscountPercent * 100)
}

// ParsePromoRulesJSON parses the SELUN_FREE_CODES_JSON array format.
func ParsePromoRulesJSON(raw string) (map[string]PromoRule, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return map[string]PromoRule{}, nil
	}
	var rules []PromoRule
	if err := json.Unmarshal([]byte(raw), &rules); err != nil {
		return nil, errors.InvalidFormat("SELUN_FREE_CODES_JSON", "JSON array of promo rules")
	}
	out := make(map[string]PromoRule, len(rules))
	for _, r := range rules {
		out[strings.ToUpper(strings.TrimSpace(r.Code))] = r
	}
	return out, nil
}

// ParsePromoRulesCSV parses the SELUN_FREE_CODES CSV fallback: each code
// maps to a 100%-off, single-use rule.
func ParsePromoRulesCSV(raw string) map[string]PromoRule {
	reader := csv.NewReader(strings.NewReader(raw))
	reader.FieldsPerRecord = -1
	records, err := reader.ReadAll()
	out := map[string]PromoRule{}
	if err != nil {
		return out
	}
	for _, row := range records {
		for _, code := range row {
			code = strings.ToUpper(strings.TrimSpace(code))
			if code == "" {
				continue
			}
			out[code] = PromoRule{Code: code, MaxUses: 1}
		}
	}
	return out
}

// Ledger tracks promo usage: global counts and per-wallet redemptions.
type Ledger interface {
	GlobalUses(code string) int
	WalletRedeemed(code, wallet string) bool
	RecordRedemption(code, wallet, transactionID string, chargedBaseUnits int64) error
}

// Resolution is the outcome of resolving a promo code against a quote.
type Resolution struct {
	ChargedBaseUnits int64
	Free             bool
	TransactionID    string
}

// ResolvePromo implements the normalise -> validate -> discount pipeline.
func ResolvePromo(rules map[string]PromoRule, ledger Ledger, code, wallet string, quote Quote, now time.Time) (Resolution, error) {
	normalized := strings.ToUpper(strings.TrimSpace(code))
	if normalized == "" {
		return Resolution{}, errors.InvalidFormat("promoCode", "non-empty code")
	}
	rule, ok := rules[normalized]
	if !ok {
		return Resolution{}, errors.AuthorizationRejected("promo code not recognised")
	}
	if rule.ExpiresAt != nil && now.After(*rule.ExpiresAt) {
		return Resolution{}, errors.AuthorizationRejected("promo code expired")
	}
	if quote.IncludeCertifiedRecord && !rule.IncludeCertifiedDecisionRecord {
		return Resolution{}, errors.AuthorizationRejected("promo code does not cover the certified decision record")
	}
	if rule.MaxUses > 0 && ledger.GlobalUses(normalized) >= rule.MaxUses {
		return Resolution{}, errors.AuthorizationRejected("promo code usage limit reached")
	}
	if ledger.WalletRedeemed(normalized, wallet) {
		return Resolution{}, errors.AuthorizationRejected("promo code already redeemed by this wallet")
	}

	discountBps := rule.discountBps()
	charged := quote.TotalBaseUnits * (10000 - discountBps) / 10000
	free := charged == 0

	txID := fmt.Sprintf("redemption-%s", normalized)
	if free {
		suffix, err := randomHexUpper(20)
		if err != nil {
			return Resolution{}, errors.Internal("generate free-code transaction id", err)
		}
		txID = fmt.Sprintf("FREE-%s-%s", normalized, suffix)
	}

	if err := ledger.RecordRedemption(normalized, wallet, txID, charged); err != nil {
		return Resolution{}, errors.Internal("persist promo redemption", err)
	}

	return Resolution{ChargedBaseUnits: charged, Free: free, TransactionID: txID}, nil
}

func randomHexUpper(n int) (string, error) {
	buf := make([]byte, (n+1)/2)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	hex := fmt.Sprintf("%X", buf)
	if len(hex) > n {
		hex = hex[:n]
	}
	return hex, nil
}
