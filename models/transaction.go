package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type TransactionAction string

const (
	ActionBought    TransactionAction = "Bought"
	ActionSold      TransactionAction = "Sold"
	ActionCashAdded TransactionAction = "CashAdded"
)

// Transaction is one append-only ledger entry. Rows are immutable once
// written: never updated, never soft deleted. Together they form the audit
// trail from which a user's holdings are derivable. Deposits carry an empty
// symbol, zero shares and the deposited amount in Price.
type Transaction struct {
	ID        uint              `gorm:"primaryKey" json:"id"`
	UserID    uint              `gorm:"index;not null" json:"user_id"`
	Symbol    string            `json:"symbol"`
	Price     decimal.Decimal   `gorm:"type:decimal(18,2);not null" json:"price"`
	Shares    int64             `gorm:"not null" json:"shares"`
	Action    TransactionAction `gorm:"not null" json:"action"`
	CreatedAt time.Time         `json:"created_at"`
}
