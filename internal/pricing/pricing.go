// Package pricing turns billed time into money. Everything here is pure.
package pricing

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/tablehouse/station-billing/internal/model"
)

var nanosPerHour = decimal.NewFromInt(int64(time.Hour))

// Policy is a day split into a sale window and everything else.
// SaleFromHour > SaleToHour means the window spans midnight.
type Policy struct {
	SaleFromHour   int
	SaleToHour     int
	SaleHourlyRate decimal.Decimal
	BaseHourlyRate decimal.Decimal
	Location       *time.Location
}

func (p Policy) InSaleWindow(hour int) bool {
	if p.SaleFromHour < p.SaleToHour {
		return hour >= p.SaleFromHour && hour < p.SaleToHour
	}
	return hour >= p.SaleFromHour || hour < p.SaleToHour
}

// Price bills [start, end) hour by hour in the policy's location, applying the
// sale rate to sub-segments whose starting hour falls in the sale window.
func Price(start, end time.Time, p Policy) decimal.Decimal {
	return rateNanos(start, end, p).Div(nanosPerHour).Round(2)
}

// rateNanos is the cost of [start, end) in nanosecond-rate units, before the
// division by an hour and rounding. It is exactly additive over any split.
func rateNanos(start, end time.Time, p Policy) decimal.Decimal {
	if !end.After(start) {
		return decimal.Zero
	}
	loc := p.Location
	if loc == nil {
		loc = time.UTC
	}

	acc := decimal.Zero
	cursor := start
	for cursor.Before(end) {
		local := cursor.In(loc)
		boundary := time.Date(local.Year(), local.Month(), local.Day(), local.Hour(), 0, 0, 0, loc).Add(time.Hour)
		segEnd := boundary
		if segEnd.After(end) {
			segEnd = end
		}
		rate := p.BaseHourlyRate
		if p.InSaleWindow(local.Hour()) {
			rate = p.SaleHourlyRate
		}
		acc = acc.Add(decimal.NewFromInt(int64(segEnd.Sub(cursor))).Mul(rate))
		cursor = segEnd
	}
	return acc
}

// Hourly bills d at a single hourly rate.
func Hourly(d time.Duration, rate decimal.Decimal) decimal.Decimal {
	if d <= 0 {
		return decimal.Zero
	}
	return decimal.NewFromInt(int64(d)).Mul(rate).Div(nanosPerHour).Round(2)
}

// FlatRate charges Amount per Window, pro rata.
type FlatRate struct {
	Amount decimal.Decimal
	Window time.Duration
}

func DefaultFitPass() FlatRate {
	return FlatRate{Amount: decimal.NewFromInt(6), Window: 30 * time.Minute}
}

func (f FlatRate) Cost(d time.Duration) decimal.Decimal {
	if d <= 0 || f.Window <= 0 {
		return decimal.Zero
	}
	return decimal.NewFromInt(int64(d)).Mul(f.Amount).Div(decimal.NewFromInt(int64(f.Window))).Round(2)
}

// Calculator picks the pricing rule for a station and applies it.
type Calculator struct {
	Policy    Policy
	FitPass   FlatRate
	FlatRates map[string]decimal.Decimal
}

// Quote prices billed time for st. The billed duration comes from the state
// machine; the wall-clock interval starts at the session start, or is anchored
// to end at now when the session start is unknown.
func (c Calculator) Quote(st model.Station, billed time.Duration, now time.Time) decimal.Decimal {
	if billed <= 0 {
		return decimal.Zero
	}
	if st.FitPass {
		return c.FitPass.Cost(billed)
	}
	if rate, ok := c.FlatRates[st.GameType]; ok && st.GameType != "" {
		return Hourly(billed, rate)
	}
	start := now.Add(-billed)
	if st.SessionStartTime != nil {
		start = *st.SessionStartTime
	}
	return Price(start, start.Add(billed), c.Policy)
}

// FixedZone returns the venue location for a UTC offset in minutes.
func FixedZone(offsetMinutes int) *time.Location {
	sign := '+'
	abs := offsetMinutes
	if abs < 0 {
		sign = '-'
		abs = -abs
	}
	return time.FixedZone(fmt.Sprintf("UTC%c%02d:%02d", sign, abs/60, abs%60), offsetMinutes*60)
}
