// Package currency converts movement amounts into the fixed set of reporting
// currencies and owns the arithmetic used when a movement is split.
package currency

import (
	"context"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/dvalenz/finledger/internal/domain"
)

// Failed is the sentinel stored in place of a reporting-currency value when
// conversion fails. Amounts are strictly positive, so any negative stored
// value is unambiguous.
var Failed = decimal.NewFromInt(-1)

// IsFailed reports whether v is a failed-conversion sentinel.
func IsFailed(v decimal.Decimal) bool {
	return v.IsNegative()
}

// Values holds one amount expressed in every reporting currency.
type Values struct {
	CLP decimal.Decimal
	USD decimal.Decimal
	GBP decimal.Decimal
}

// FailedValues returns a Values with every field set to the sentinel.
func FailedValues() Values {
	return Values{CLP: Failed, USD: Failed, GBP: Failed}
}

// AnyFailed reports whether any reporting currency carries the sentinel.
func (v Values) AnyFailed() bool {
	return IsFailed(v.CLP) || IsFailed(v.USD) || IsFailed(v.GBP)
}

// Sub subtracts o from v per reporting currency. A sentinel on either side
// propagates, so a failed original never produces a plausible-looking part.
func (v Values) Sub(o Values) Values {
	return Values{
		CLP: subOrFailed(v.CLP, o.CLP),
		USD: subOrFailed(v.USD, o.USD),
		GBP: subOrFailed(v.GBP, o.GBP),
	}
}

func subOrFailed(a, b decimal.Decimal) decimal.Decimal {
	if IsFailed(a) || IsFailed(b) {
		return Failed
	}
	return a.Sub(b)
}

// RateSource resolves an exchange rate between two currencies at the current
// point in time.
type RateSource interface {
	Rate(ctx context.Context, from, to string) (decimal.Decimal, error)
}

// Converter turns amounts into reporting-currency values.
type Converter struct {
	rates RateSource
	log   zerolog.Logger
}

// NewConverter creates a converter backed by the given rate source.
func NewConverter(rates RateSource, log zerolog.Logger) *Converter {
	return &Converter{rates: rates, log: log}
}

// Convert expresses amount (denominated in cur) in every reporting currency.
// The component matching cur is the amount unchanged. Components whose rate
// cannot be resolved carry the failed sentinel; conversion failures are never
// fatal to the caller.
func (c *Converter) Convert(ctx context.Context, amount decimal.Decimal, cur string) Values {
	return Values{
		CLP: c.convertOne(ctx, amount, cur, domain.CLP),
		USD: c.convertOne(ctx, amount, cur, domain.USD),
		GBP: c.convertOne(ctx, amount, cur, domain.GBP),
	}
}

func (c *Converter) convertOne(ctx context.Context, amount decimal.Decimal, from, to string) decimal.Decimal {
	if from == to {
		return amount
	}
	rate, err := c.rates.Rate(ctx, from, to)
	if err != nil {
		c.log.Warn().Err(err).Str("from", from).Str("to", to).Msg("rate lookup failed")
		return Failed
	}
	if !rate.IsPositive() {
		c.log.Warn().Str("from", from).Str("to", to).Stringer("rate", rate).Msg("rate source returned non-positive rate")
		return Failed
	}
	return amount.Mul(rate)
}

// Repair re-attempts conversion for a movement whose stored values carry the
// failed sentinel. It returns nil when amount or currency are themselves
// invalid, signaling the caller not to touch the row.
func (c *Converter) Repair(ctx context.Context, amount decimal.Decimal, cur string) *Values {
	if !amount.IsPositive() || !domain.ValidCurrency(cur) {
		return nil
	}
	vals := c.Convert(ctx, amount, cur)
	return &vals
}

// SplitProportionally derives the reporting-currency values of a part of a
// movement from the original's stored values: part[c] = original[c] *
// (partAmount / originalAmount). Splits must use this instead of re-invoking
// Convert, because rates may have moved since the original ingestion and the
// two halves would no longer sum to the original. Sentinels propagate.
func SplitProportionally(originalAmount, partAmount decimal.Decimal, original Values) Values {
	scale := func(v decimal.Decimal) decimal.Decimal {
		if IsFailed(v) {
			return Failed
		}
		return v.Mul(partAmount).Div(originalAmount)
	}
	return Values{
		CLP: scale(original.CLP),
		USD: scale(original.USD),
		GBP: scale(original.GBP),
	}
}
