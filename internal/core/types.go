package core

import (
	"time"

	"github.com/shopspring/decimal"
)

// Quote is one daily OHLCV record for a symbol. Identity is (Symbol, Date).
type Quote struct {
	Symbol     string          `json:"symbol"`
	Name       string          `json:"name,omitempty"`
	Date       time.Time       `json:"date"`
	Open       decimal.Decimal `json:"open"`
	Close      decimal.Decimal `json:"close"`
	High       decimal.Decimal `json:"high"`
	Low        decimal.Decimal `json:"low"`
	Volume     decimal.Decimal `json:"volume"`
	Downloaded time.Time       `json:"downloaded"`
}

// IsValid checks if the quote has required fields
func (q Quote) IsValid() bool {
	return q.Symbol != "" && !q.Date.IsZero()
}

// TradeDay truncates t to midnight UTC of its calendar day.
func TradeDay(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
