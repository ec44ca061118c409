package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Holding is a user's current position in one symbol. A row exists iff
// Shares > 0: a sale that empties the position deletes the row instead of
// leaving it at zero. CurrentPrice and AssetValue are display caches
// refreshed on portfolio reads; they are not authoritative.
//
// No soft deletes here: a sold-out position must be truly gone so a later
// re-buy can recreate the (user_id, symbol) row.
type Holding struct {
	ID           uint            `gorm:"primaryKey" json:"id"`
	UserID       uint            `gorm:"uniqueIndex:idx_user_symbol;not null" json:"user_id"`
	Symbol       string          `gorm:"uniqueIndex:idx_user_symbol;not null" json:"symbol"`
	Company      string          `json:"company"`
	Shares       int64           `gorm:"not null" json:"shares"`
	CurrentPrice decimal.Decimal `gorm:"type:decimal(18,2)" json:"current_price"`
	AssetValue   decimal.Decimal `gorm:"type:decimal(18,2)" json:"asset_value"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}
