// Package money – asset registry.
//
// The settlement core accepts a fixed allow-list of stable-value assets
// pegged 1:1 to a fiat unit, plus the fiat display currencies themselves.
// The registry is built once at startup and passed by reference; there is no
// global mutable state.
package money

import "strings"

// Registry is the immutable set of assets the service will quote and settle
// in. Lookups are case-insensitive on the asset code.
type Registry struct {
	assets map[string]Asset
}

// NewRegistry builds a registry from the given assets. Later entries with the
// same code override earlier ones.
func NewRegistry(assets ...Asset) *Registry {
	m := make(map[string]Asset, len(assets))
	for _, a := range assets {
		m[strings.ToUpper(a.Code)] = a
	}
	return &Registry{assets: m}
}

// DefaultRegistry returns the standard allow-list: 6-decimal stable tokens
// for on-chain settlement and 2-decimal fiat currencies for card pricing.
func DefaultRegistry() *Registry {
	return NewRegistry(
		Asset{Code: "USDC", Decimals: 6, Rounding: RoundHalfUp},
		Asset{Code: "USDT", Decimals: 6, Rounding: RoundHalfUp},
		Asset{Code: "EURC", Decimals: 6, Rounding: RoundHalfUp},
		Asset{Code: "USD", Decimals: 2, Rounding: RoundHalfUp},
		Asset{Code: "EUR", Decimals: 2, Rounding: RoundHalfUp},
	)
}

// Get returns the asset for code or ErrUnknownAsset.
func (r *Registry) Get(code string) (Asset, error) {
	a, ok := r.assets[strings.ToUpper(strings.TrimSpace(code))]
	if !ok {
		return Asset{}, ErrUnknownAsset
	}
	return a, nil
}

// Allowed reports whether code is on the allow-list.
func (r *Registry) Allowed(code string) bool {
	_, err := r.Get(code)
	return err == nil
}
