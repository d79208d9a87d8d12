package pricing

import (
	"time"

	"github.com/shopspring/decimal"
)

// Settings is the operator-editable part of the policy.
type Settings struct {
	SaleFromHour   int     `json:"saleFromHour"`
	SaleToHour     int     `json:"saleToHour"`
	SaleHourlyRate float64 `json:"saleHourlyRate"`
}

func DefaultSettings() Settings {
	return Settings{SaleFromHour: 12, SaleToHour: 15, SaleHourlyRate: 12}
}

func (s Settings) Valid() bool {
	return s.SaleFromHour >= 0 && s.SaleFromHour <= 23 &&
		s.SaleToHour >= 0 && s.SaleToHour <= 24 &&
		s.SaleHourlyRate >= 0
}

func (s Settings) Policy(base decimal.Decimal, loc *time.Location) Policy {
	return Policy{
		SaleFromHour:   s.SaleFromHour,
		SaleToHour:     s.SaleToHour,
		SaleHourlyRate: decimal.NewFromFloat(s.SaleHourlyRate),
		BaseHourlyRate: base,
		Location:       loc,
	}
}
