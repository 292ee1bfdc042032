package domain

import (
	"strings"

	"github.com/shopspring/decimal"
)

var one = decimal.NewFromInt(1)

// BucketPrice maps price onto its tick bucket: bids round down, asks round up.
// The integer quotient is exact, there is no float division.
func BucketPrice(price decimal.Decimal, tick decimal.Decimal, s Side) decimal.Decimal {
	q, r := price.QuoRem(tick, 0)
	if s == SideAsk && !r.IsZero() {
		q = q.Add(one)
	}
	return q.Mul(tick)
}

// TickPrecision is the number of decimal places tick carries ("0.010" -> 2, "10" -> 0).
func TickPrecision(tick decimal.Decimal) int32 {
	var places int32
	for places < 32 && !tick.Shift(places).IsInteger() {
		places++
	}
	return places
}

var (
	krwTickLadder = []struct {
		min   int64
		ticks []string
	}{
		{10_000_000, []string{"1000", "5000", "10000", "50000", "100000", "500000", "1000000"}},
		{1_000_000, []string{"500", "1000", "5000", "10000", "50000", "100000"}},
		{100_000, []string{"50", "100", "500", "1000", "5000", "10000"}},
		{10_000, []string{"10", "50", "100", "500", "1000", "5000"}},
		{1_000, []string{"5", "10", "50", "100", "500", "1000"}},
		{100, []string{"1", "5", "10", "50", "100", "500"}},
		{10, []string{"0.1", "1", "5", "10", "50", "100"}},
		{1, []string{"0.01", "0.1", "1", "5", "10"}},
		{0, []string{"0.001", "0.01", "0.1", "1"}},
	}

	defaultTickLadder = []struct {
		min   int64
		ticks []string
	}{
		{10_000, []string{"0.01", "0.1", "1", "10", "50", "100", "1000"}},
		{1_000, []string{"0.01", "0.1", "1", "10", "50", "100"}},
		{100, []string{"0.001", "0.01", "0.1", "1", "10", "50"}},
		{10, []string{"0.0001", "0.001", "0.01", "0.1", "1", "10"}},
		{1, []string{"0.00001", "0.0001", "0.001", "0.01", "0.1", "1"}},
		{0, []string{"0.000001", "0.00001", "0.0001", "0.001", "0.01", "0.1"}},
	}
)

// TickOptions returns the grouping ladder for a market quoted in quote at roughly price.
// KRW markets use coarser steps.
func TickOptions(price decimal.Decimal, quote string) []decimal.Decimal {
	ladder := defaultTickLadder
	if strings.EqualFold(quote, "krw") {
		ladder = krwTickLadder
	}

	for _, step := range ladder {
		if price.GreaterThanOrEqual(decimal.NewFromInt(step.min)) {
			return parseTicks(step.ticks)
		}
	}
	return nil
}

// TickOptionsFrom filters the ladder down to ticks no finer than nativeTick.
// A zero nativeTick keeps the whole ladder.
func TickOptionsFrom(nativeTick decimal.Decimal, price decimal.Decimal, quote string) []decimal.Decimal {
	candidates := TickOptions(price, quote)
	if !nativeTick.IsPositive() {
		return candidates
	}

	options := make([]decimal.Decimal, 0, len(candidates))
	for _, t := range candidates {
		if t.GreaterThanOrEqual(nativeTick) {
			options = append(options, t)
		}
	}
	return options
}

func parseTicks(ticks []string) []decimal.Decimal {
	out := make([]decimal.Decimal, len(ticks))
	for i, t := range ticks {
		out[i] = decimal.RequireFromString(t)
	}
	return out
}

// ContainsTick reports whether tick is one of options, comparing by value.
func ContainsTick(options []decimal.Decimal, tick decimal.Decimal) bool {
	for _, o := range options {
		if o.Equal(tick) {
			return true
		}
	}
	return false
}

var krwNativeTicks = []struct {
	min  int64
	tick string
}{
	{1_000_000, "1000"},
	{500_000, "500"},
	{100_000, "100"},
	{50_000, "50"},
	{10_000, "10"},
	{5_000, "5"},
	{100, "1"},
	{1, "0.01"},
}

// KRWNativeTick is the exchange-mandated KRW price increment at price. Zero for a non-positive price.
func KRWNativeTick(price decimal.Decimal) decimal.Decimal {
	if !price.IsPositive() {
		return decimal.Zero
	}
	for _, step := range krwNativeTicks {
		if price.GreaterThanOrEqual(decimal.NewFromInt(step.min)) {
			return decimal.RequireFromString(step.tick)
		}
	}
	return decimal.RequireFromString("0.0001")
}
