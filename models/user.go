package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// User is an account holder. Cash is the authoritative balance and must
// never go negative; it is only mutated inside a ledger transaction.
type User struct {
	ID           uint            `gorm:"primaryKey" json:"id"`
	Username     string          `gorm:"uniqueIndex;not null" json:"username"`
	PasswordHash string          `gorm:"not null" json:"-"`
	Cash         decimal.Decimal `gorm:"type:decimal(18,2);not null;default:0" json:"cash"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}
