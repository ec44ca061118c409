package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// StockPrice records an observed market price, either a live quote or one
// day of ingested daily-close history.
type StockPrice struct {
	ID        uint            `gorm:"primaryKey" json:"id"`
	Symbol    string          `gorm:"index;not null" json:"symbol"`
	Price     decimal.Decimal `gorm:"type:decimal(18,2);not null" json:"price"`
	Timestamp time.Time       `json:"timestamp"`
}
