// Package ledger holds the financial core: the rules keeping cash, holdings
// and the transaction log mutually consistent. Every mutating operation runs
// inside one database transaction; cash and share debits are additionally
// guarded by conditional updates so concurrent requests for the same user can
// never drive a balance negative.
package ledger

import (
	"context"
	"errors"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"papertrade/config"
	"papertrade/models"
	"papertrade/oracle"
)

// MaxDeposit is the policy cap on a single cash deposit.
var MaxDeposit = decimal.NewFromInt(10000)

// Service exposes the ledger operations. It owns no HTTP or session
// concerns; callers supply an authenticated user id.
type Service struct {
	db     *gorm.DB
	oracle oracle.Oracle
	log    *logrus.Entry
}

func NewService(db *gorm.DB, o oracle.Oracle) *Service {
	return &Service{
		db:     db,
		oracle: o,
		log:    config.ModuleLogger("ledger"),
	}
}

// TradeConfirmation reports a completed buy or sell.
type TradeConfirmation struct {
	Symbol string                   `json:"symbol"`
	Action models.TransactionAction `json:"action"`
	Shares int64                    `json:"shares"`
	Price  decimal.Decimal          `json:"price"`
	Total  decimal.Decimal          `json:"total"`
	Cash   decimal.Decimal          `json:"cash"`
}

// PortfolioView is the result of GetPortfolio. Holdings carry freshly
// re-quoted CurrentPrice and AssetValue.
type PortfolioView struct {
	Cash        decimal.Decimal  `json:"cash"`
	Holdings    []models.Holding `json:"holdings"`
	TotalAssets decimal.Decimal  `json:"total_assets"`
}

// Quote resolves a symbol through the price oracle. No ledger side effects.
func (s *Service) Quote(ctx context.Context, symbol string) (oracle.Quote, error) {
	return s.lookup(ctx, symbol)
}

// Deposit adds cash to the user's balance and records a CashAdded
// transaction, atomically. Returns the new balance.
func (s *Service) Deposit(ctx context.Context, userID uint, amount decimal.Decimal) (decimal.Decimal, error) {
	l := s.log.WithFields(logrus.Fields{
		"method":       "Deposit",
		"param_userId": userID,
		"param_amount": amount,
	})

	if !amount.IsPositive() {
		return decimal.Zero, ErrInvalidAmount
	}
	if amount.GreaterThan(MaxDeposit) {
		return decimal.Zero, ErrDepositTooLarge
	}

	var newCash decimal.Decimal
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.User{}).
			Where("id = ?", userID).
			Update("cash", gorm.Expr("cash + ?", amount))
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrUserNotFound
		}

		txn := models.Transaction{
			UserID: userID,
			Symbol: "",
			Price:  amount,
			Shares: 0,
			Action: models.ActionCashAdded,
		}
		if err := tx.Create(&txn).Error; err != nil {
			return err
		}

		var user models.User
		if err := tx.First(&user, userID).Error; err != nil {
			return err
		}
		newCash = user.Cash
		return nil
	})
	if err != nil {
		return decimal.Zero, translateStoreErr(err)
	}

	l.Infof("Deposited %s, new balance %s", amount, newCash)
	return newCash, nil
}

// BuyShares purchases shares at the current quoted price. Debiting cash,
// writing the Bought transaction and creating or incrementing the holding
// are one atomic unit. A purchase costing exactly the full balance is
// allowed; only cost > cash is rejected.
func (s *Service) BuyShares(ctx context.Context, userID uint, symbol string, shares int64) (*TradeConfirmation, error) {
	l := s.log.WithFields(logrus.Fields{
		"method":       "BuyShares",
		"param_userId": userID,
		"param_symbol": symbol,
		"param_shares": shares,
	})

	if shares <= 0 {
		return nil, ErrInvalidInput
	}

	// The oracle call is the only network-bound step; it stays outside the
	// store transaction so a slow provider cannot hold row locks.
	q, err := s.lookup(ctx, symbol)
	if err != nil {
		return nil, err
	}
	cost := q.Price.Mul(decimal.NewFromInt(shares))

	conf := &TradeConfirmation{
		Symbol: q.Symbol,
		Action: models.ActionBought,
		Shares: shares,
		Price:  q.Price,
		Total:  cost,
	}
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var user models.User
		if err := tx.First(&user, userID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrUserNotFound
			}
			return err
		}
		if cost.GreaterThan(user.Cash) {
			return ErrInsufficientFunds
		}

		// Re-checked in-store: a concurrent debit between the read above and
		// this update makes RowsAffected zero instead of going negative.
		res := tx.Model(&models.User{}).
			Where("id = ? AND cash >= ?", userID, cost).
			Update("cash", gorm.Expr("cash - ?", cost))
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrInsufficientFunds
		}

		txn := models.Transaction{
			UserID: userID,
			Symbol: q.Symbol,
			Price:  q.Price,
			Shares: shares,
			Action: models.ActionBought,
		}
		if err := tx.Create(&txn).Error; err != nil {
			return err
		}

		var holding models.Holding
		err := tx.Where("user_id = ? AND symbol = ?", userID, q.Symbol).First(&holding).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			holding = models.Holding{
				UserID:       userID,
				Symbol:       q.Symbol,
				Company:      q.Company,
				Shares:       shares,
				CurrentPrice: q.Price,
				AssetValue:   cost,
			}
			if err := tx.Create(&holding).Error; err != nil {
				return err
			}
		case err != nil:
			return err
		default:
			res := tx.Model(&models.Holding{}).
				Where("user_id = ? AND symbol = ?", userID, q.Symbol).
				Updates(map[string]interface{}{
					"shares":        gorm.Expr("shares + ?", shares),
					"current_price": q.Price,
					"asset_value":   gorm.Expr("(shares + ?) * ?", shares, q.Price),
				})
			if res.Error != nil {
				return res.Error
			}
		}

		if err := tx.First(&user, userID).Error; err != nil {
			return err
		}
		conf.Cash = user.Cash
		return nil
	})
	if err != nil {
		return nil, translateStoreErr(err)
	}

	l.Infof("Bought %d %s @ %s, cost %s, new balance %s", shares, q.Symbol, q.Price, cost, conf.Cash)
	return conf, nil
}

// SellShares sells shares from the caller's own holding at the current
// quoted price. The ownership check is scoped to (userID, symbol).
// Crediting cash, writing the Sold transaction and decrementing or deleting
// the holding are one atomic unit; a sale that empties the position removes
// the row entirely.
func (s *Service) SellShares(ctx context.Context, userID uint, symbol string, shares int64) (*TradeConfirmation, error) {
	l := s.log.WithFields(logrus.Fields{
		"method":       "SellShares",
		"param_userId": userID,
		"param_symbol": symbol,
		"param_shares": shares,
	})

	if shares <= 0 {
		return nil, ErrInvalidInput
	}

	q, err := s.lookup(ctx, symbol)
	if err != nil {
		return nil, err
	}
	proceeds := q.Price.Mul(decimal.NewFromInt(shares))

	conf := &TradeConfirmation{
		Symbol: q.Symbol,
		Action: models.ActionSold,
		Shares: shares,
		Price:  q.Price,
		Total:  proceeds,
	}
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var holding models.Holding
		err := tx.Where("user_id = ? AND symbol = ?", userID, q.Symbol).First(&holding).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrInsufficientShares
		}
		if err != nil {
			return err
		}
		if shares > holding.Shares {
			return ErrInsufficientShares
		}

		if shares == holding.Shares {
			res := tx.Where("user_id = ? AND symbol = ? AND shares = ?", userID, q.Symbol, shares).
				Delete(&models.Holding{})
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected == 0 {
				// The position changed under us since the read above.
				return ErrInsufficientShares
			}
		} else {
			res := tx.Model(&models.Holding{}).
				Where("user_id = ? AND symbol = ? AND shares >= ?", userID, q.Symbol, shares).
				Updates(map[string]interface{}{
					"shares":        gorm.Expr("shares - ?", shares),
					"current_price": q.Price,
					"asset_value":   gorm.Expr("(shares - ?) * ?", shares, q.Price),
				})
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected == 0 {
				return ErrInsufficientShares
			}
			// A concurrent sale may have shrunk the position to exactly the
			// amount we decremented; a zero-share row must never survive.
			if err := tx.Where("user_id = ? AND symbol = ? AND shares = 0", userID, q.Symbol).
				Delete(&models.Holding{}).Error; err != nil {
				return err
			}
		}

		res := tx.Model(&models.User{}).
			Where("id = ?", userID).
			Update("cash", gorm.Expr("cash + ?", proceeds))
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrUserNotFound
		}

		txn := models.Transaction{
			UserID: userID,
			Symbol: q.Symbol,
			Price:  q.Price,
			Shares: shares,
			Action: models.ActionSold,
		}
		if err := tx.Create(&txn).Error; err != nil {
			return err
		}

		var user models.User
		if err := tx.First(&user, userID).Error; err != nil {
			return err
		}
		conf.Cash = user.Cash
		return nil
	})
	if err != nil {
		return nil, translateStoreErr(err)
	}

	l.Infof("Sold %d %s @ %s, proceeds %s, new balance %s", shares, q.Symbol, q.Price, proceeds, conf.Cash)
	return conf, nil
}

// GetPortfolio returns the user's cash, holdings and total asset value.
// Not a pure read: each holding is re-quoted and its CurrentPrice/AssetValue
// cache columns are persisted, so every portfolio view doubles as a price
// refresh. A held symbol the oracle cannot resolve fails the whole request.
func (s *Service) GetPortfolio(ctx context.Context, userID uint) (*PortfolioView, error) {
	var user models.User
	if err := s.db.WithContext(ctx).First(&user, userID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}

	var holdings []models.Holding
	if err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("symbol").
		Find(&holdings).Error; err != nil {
		return nil, translateStoreErr(err)
	}

	total := user.Cash
	for i := range holdings {
		q, err := s.lookup(ctx, holdings[i].Symbol)
		if err != nil {
			return nil, err
		}
		value := q.Price.Mul(decimal.NewFromInt(holdings[i].Shares))

		if err := s.db.WithContext(ctx).Model(&models.Holding{}).
			Where("user_id = ? AND symbol = ?", userID, holdings[i].Symbol).
			Updates(map[string]interface{}{
				"current_price": q.Price,
				"asset_value":   value,
			}).Error; err != nil {
			return nil, err
		}

		holdings[i].CurrentPrice = q.Price
		holdings[i].AssetValue = value
		total = total.Add(value)
	}

	return &PortfolioView{
		Cash:        user.Cash,
		Holdings:    holdings,
		TotalAssets: total,
	}, nil
}

// GetHistory returns the user's transactions in insertion order.
func (s *Service) GetHistory(ctx context.Context, userID uint) ([]models.Transaction, error) {
	var transactions []models.Transaction
	if err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("id").
		Find(&transactions).Error; err != nil {
		return nil, translateStoreErr(err)
	}
	return transactions, nil
}

func (s *Service) lookup(ctx context.Context, symbol string) (oracle.Quote, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if symbol == "" {
		return oracle.Quote{}, ErrInvalidInput
	}

	q, err := s.oracle.Lookup(ctx, symbol)
	switch {
	case errors.Is(err, oracle.ErrNotFound):
		return oracle.Quote{}, ErrUnknownSymbol
	case errors.Is(err, oracle.ErrTimeout):
		return oracle.Quote{}, ErrOracleTimeout
	case err != nil:
		return oracle.Quote{}, err
	}
	return q, nil
}
