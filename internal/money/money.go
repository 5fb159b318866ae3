// Package money implements exact monetary arithmetic over atomic integer
// units. Every amount is an int64 count of an asset's smallest unit (cents,
// micro-USDC, …) paired with an Asset descriptor declaring the decimal
// precision and rounding mode. Floating point is never used for money;
// conversion to and from human-readable major units happens only at API
// boundaries via shopspring/decimal.
package money

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// Rounding selects how fractional major-unit values are resolved into atomic
// units. HalfUp is the conventional mode for currency display.
type Rounding int

const (
	// RoundHalfUp rounds half away from zero (0.5 → 1).
	RoundHalfUp Rounding = iota
	// RoundDown truncates toward zero.
	RoundDown
)

// Asset describes a unit of value: an ISO-ish code, the number of decimal
// places of its atomic unit, and the rounding mode used when converting
// major-unit figures into atomic units.
type Asset struct {
	Code     string
	Decimals int32
	Rounding Rounding
}

// Common errors returned by Money operations.
var (
	// ErrAssetMismatch is returned when arithmetic is attempted across two
	// different assets.
	ErrAssetMismatch = errors.New("asset mismatch")
	// ErrNegativeAmount is returned when an operation would produce or accept
	// a negative amount where one is not meaningful.
	ErrNegativeAmount = errors.New("negative amount")
	// ErrUnknownAsset is returned by the registry for codes outside the
	// allow-list.
	ErrUnknownAsset = errors.New("unknown asset")
)

// Money is an exact amount of a single asset, counted in atomic units.
// The zero value is "0 units of no asset" and is not usable for arithmetic.
type Money struct {
	Amount int64 `json:"amount"` // atomic units, never fractional
	Asset  Asset `json:"asset"`
}

// New returns amount atomic units of asset.
func New(amount int64, asset Asset) Money {
	return Money{Amount: amount, Asset: asset}
}

// Add returns m + other or ErrAssetMismatch.
func (m Money) Add(other Money) (Money, error) {
	if m.Asset.Code != other.Asset.Code {
		return Money{}, fmt.Errorf("%w: %s vs %s", ErrAssetMismatch, m.Asset.Code, other.Asset.Code)
	}
	return Money{Amount: m.Amount + other.Amount, Asset: m.Asset}, nil
}

// Sub returns m - other or ErrAssetMismatch. The result may be negative;
// callers that require non-negative amounts must check.
func (m Money) Sub(other Money) (Money, error) {
	if m.Asset.Code != other.Asset.Code {
		return Money{}, fmt.Errorf("%w: %s vs %s", ErrAssetMismatch, m.Asset.Code, other.Asset.Code)
	}
	return Money{Amount: m.Amount - other.Amount, Asset: m.Asset}, nil
}

// Cmp compares two amounts of the same asset: -1, 0 or +1.
func (m Money) Cmp(other Money) (int, error) {
	if m.Asset.Code != other.Asset.Code {
		return 0, fmt.Errorf("%w: %s vs %s", ErrAssetMismatch, m.Asset.Code, other.Asset.Code)
	}
	switch {
	case m.Amount < other.Amount:
		return -1, nil
	case m.Amount > other.Amount:
		return 1, nil
	default:
		return 0, nil
	}
}

// IsZero reports whether the amount is exactly zero.
func (m Money) IsZero() bool { return m.Amount == 0 }

// IsNegative reports whether the amount is below zero.
func (m Money) IsNegative() bool { return m.Amount < 0 }

// Major converts the atomic amount into a decimal major-unit value
// (e.g. 1_000_000 micro-USDC → 1.000000). The conversion is exact.
func (m Money) Major() decimal.Decimal {
	return decimal.New(m.Amount, -m.Asset.Decimals)
}

// String renders the amount in major units with the asset code, e.g.
// "12.50 USD". Intended for logs and display only.
func (m Money) String() string {
	return m.Major().StringFixed(m.Asset.Decimals) + " " + m.Asset.Code
}

// FromMajor converts a major-unit decimal into atomic units of asset using
// the asset's declared rounding mode. FromMajor(Major(x)) == x for any atomic
// amount, for all supported precisions.
func FromMajor(major decimal.Decimal, asset Asset) Money {
	scaled := major.Shift(asset.Decimals)
	var atomic decimal.Decimal
	switch asset.Rounding {
	case RoundDown:
		atomic = scaled.Truncate(0)
	default:
		atomic = scaled.Round(0) // shopspring Round is half away from zero
	}
	return Money{Amount: atomic.IntPart(), Asset: asset}
}

// ApplyPercentage returns pct percent of m in atomic units, rounded half-up.
// Used by the coupon engine for percentage discounts.
func (m Money) ApplyPercentage(pct decimal.Decimal) Money {
	cut := decimal.New(m.Amount, 0).Mul(pct).Div(decimal.New(100, 0)).Round(0)
	return Money{Amount: cut.IntPart(), Asset: m.Asset}
}

// SubtractCapped subtracts fixed atomic units from m, flooring at zero. A
// fixed discount never drives a price negative.
func (m Money) SubtractCapped(fixed int64) Money {
	out := m.Amount - fixed
	if out < 0 {
		out = 0
	}
	return Money{Amount: out, Asset: m.Asset}
}
