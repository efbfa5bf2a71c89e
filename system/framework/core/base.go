package service

import (
	"fmt"
	"strings"

	ethcommon "github.com/ethereum/go-ethereum/common"
)

// Base bundles shared service helpers common to every domain service:
// wallet address validation and cross-cutting tracing.
type Base struct {
	tracer Tracer
}

// NewBase constructs a helper with a no-op tracer.
func NewBase() *Base {
	return &Base{tracer: NoopTracer}
}

// SetTracer configures the tracer used for cross-cutting spans.
func (b *Base) SetTracer(tracer Tracer) {
	if tracer == nil {
		b.tracer = NoopTracer
		return
	}
	b.tracer = tracer
}

// EnsureWalletAddress validates presence and hex-checksum shape of a
// wallet address.
func (b *Base) EnsureWalletAddress(address string) error {
	trimmed := strings.TrimSpace(address)
	if trimmed == "" {
		return fmt.Errorf("wallet_address is required")
	}
	if !ethcommon.IsHexAddress(trimmed) {
		return fmt.Errorf("wallet_address %q is not a valid address", trimmed)
	}
	return nil
}

// NormalizeWalletAddress validates and checksum-normalises an address.
func (b *Base) NormalizeWalletAddress(address string) (string, error) {
	if err := b.EnsureWalletAddress(address); err != nil {
		return "", err
	}
	return ethcommon.HexToAddress(strings.TrimSpace(address)).Hex(), nil
}

// Tracer exposes the currently configured tracer (defaults to no-op).
func (b *Base) Tracer() Tracer {
	if b == nil || b.tracer == nil {
		return NoopTracer
	}
	return b.tracer
}
