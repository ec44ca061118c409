package ledger

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"papertrade/models"
	"papertrade/oracle"
)

type fakeOracle struct {
	mu     sync.Mutex
	quotes map[string]oracle.Quote
	err    error
	calls  int
}

func (f *fakeOracle) Lookup(ctx context.Context, symbol string) (oracle.Quote, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return oracle.Quote{}, f.err
	}
	q, ok := f.quotes[symbol]
	if !ok {
		return oracle.Quote{}, oracle.ErrNotFound
	}
	return q, nil
}

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	// one connection: every pool conn would otherwise get its own :memory: db
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, db.AutoMigrate(
		&models.User{},
		&models.Holding{},
		&models.Transaction{},
		&models.StockPrice{},
	))
	return db
}

func newTestService(t *testing.T) (*Service, *fakeOracle, *gorm.DB) {
	t.Helper()
	db := newTestDB(t)
	f := &fakeOracle{quotes: map[string]oracle.Quote{
		"AAPL": {Symbol: "AAPL", Company: "Apple Inc", Price: decimal.NewFromInt(100)},
		"NFLX": {Symbol: "NFLX", Company: "Netflix Inc", Price: decimal.NewFromInt(250)},
	}}
	return NewService(db, f), f, db
}

func createUser(t *testing.T, db *gorm.DB, cash string) uint {
	t.Helper()
	amount, err := decimal.NewFromString(cash)
	require.NoError(t, err)
	user := models.User{Username: "alice", PasswordHash: "x", Cash: amount}
	require.NoError(t, db.Create(&user).Error)
	return user.ID
}

func userCash(t *testing.T, db *gorm.DB, userID uint) decimal.Decimal {
	t.Helper()
	var user models.User
	require.NoError(t, db.First(&user, userID).Error)
	return user.Cash
}

func countTransactions(t *testing.T, db *gorm.DB, userID uint) int64 {
	t.Helper()
	var n int64
	require.NoError(t, db.Model(&models.Transaction{}).Where("user_id = ?", userID).Count(&n).Error)
	return n
}

func TestQuote(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	q, err := svc.Quote(ctx, "aapl")
	require.NoError(t, err)
	assert.Equal(t, "AAPL", q.Symbol)
	assert.Equal(t, "Apple Inc", q.Company)
	assert.True(t, q.Price.Equal(decimal.NewFromInt(100)))

	_, err = svc.Quote(ctx, "NOPE")
	assert.ErrorIs(t, err, ErrUnknownSymbol)

	_, err = svc.Quote(ctx, "  ")
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestQuoteOracleTimeout(t *testing.T) {
	svc, f, _ := newTestService(t)
	f.err = oracle.ErrTimeout

	_, err := svc.Quote(context.Background(), "AAPL")
	assert.ErrorIs(t, err, ErrOracleTimeout)
}

func TestDeposit(t *testing.T) {
	svc, _, db := newTestService(t)
	ctx := context.Background()
	userID := createUser(t, db, "500")

	newCash, err := svc.Deposit(ctx, userID, decimal.NewFromInt(250))
	require.NoError(t, err)
	assert.True(t, newCash.Equal(decimal.NewFromInt(750)), "got %s", newCash)

	history, err := svc.GetHistory(ctx, userID)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, models.ActionCashAdded, history[0].Action)
	assert.Equal(t, "", history[0].Symbol)
	assert.Equal(t, int64(0), history[0].Shares)
	assert.True(t, history[0].Price.Equal(decimal.NewFromInt(250)))
}

func TestDepositCapBoundary(t *testing.T) {
	svc, _, db := newTestService(t)
	ctx := context.Background()
	userID := createUser(t, db, "0")

	// exactly the cap is allowed
	_, err := svc.Deposit(ctx, userID, decimal.NewFromInt(10000))
	require.NoError(t, err)

	_, err = svc.Deposit(ctx, userID, decimal.NewFromFloat(10000.01))
	assert.ErrorIs(t, err, ErrDepositTooLarge)

	_, err = svc.Deposit(ctx, userID, decimal.Zero)
	assert.ErrorIs(t, err, ErrInvalidAmount)

	_, err = svc.Deposit(ctx, userID, decimal.NewFromInt(-5))
	assert.ErrorIs(t, err, ErrInvalidAmount)

	// rejected deposits leave no trace
	assert.True(t, userCash(t, db, userID).Equal(decimal.NewFromInt(10000)))
	assert.Equal(t, int64(1), countTransactions(t, db, userID))
}

func TestDepositUnknownUser(t *testing.T) {
	svc, _, _ := newTestService(t)

	_, err := svc.Deposit(context.Background(), 42, decimal.NewFromInt(10))
	assert.ErrorIs(t, err, ErrUserNotFound)
}

func TestBuyShares(t *testing.T) {
	svc, _, db := newTestService(t)
	ctx := context.Background()
	userID := createUser(t, db, "10000")

	conf, err := svc.BuyShares(ctx, userID, "AAPL", 10)
	require.NoError(t, err)
	assert.Equal(t, models.ActionBought, conf.Action)
	assert.True(t, conf.Total.Equal(decimal.NewFromInt(1000)))
	assert.True(t, conf.Cash.Equal(decimal.NewFromInt(9000)), "got %s", conf.Cash)

	var holding models.Holding
	require.NoError(t, db.Where("user_id = ? AND symbol = ?", userID, "AAPL").First(&holding).Error)
	assert.Equal(t, int64(10), holding.Shares)
	assert.Equal(t, "Apple Inc", holding.Company)
	assert.True(t, holding.AssetValue.Equal(decimal.NewFromInt(1000)))

	// second buy increments the same row
	_, err = svc.BuyShares(ctx, userID, "AAPL", 5)
	require.NoError(t, err)

	var holdings []models.Holding
	require.NoError(t, db.Where("user_id = ?", userID).Find(&holdings).Error)
	require.Len(t, holdings, 1)
	assert.Equal(t, int64(15), holdings[0].Shares)
	assert.True(t, holdings[0].AssetValue.Equal(decimal.NewFromInt(1500)))

	assert.Equal(t, int64(2), countTransactions(t, db, userID))
}

func TestBuySharesExactBalanceAllowed(t *testing.T) {
	svc, _, db := newTestService(t)
	userID := createUser(t, db, "1000")

	conf, err := svc.BuyShares(context.Background(), userID, "AAPL", 10)
	require.NoError(t, err)
	assert.True(t, conf.Cash.IsZero(), "got %s", conf.Cash)
}

func TestBuySharesInsufficientFunds(t *testing.T) {
	svc, _, db := newTestService(t)
	ctx := context.Background()
	userID := createUser(t, db, "999")

	_, err := svc.BuyShares(ctx, userID, "AAPL", 10)
	assert.ErrorIs(t, err, ErrInsufficientFunds)

	// all-or-nothing: no cash change, no transaction row, no holding
	assert.True(t, userCash(t, db, userID).Equal(decimal.NewFromInt(999)))
	assert.Equal(t, int64(0), countTransactions(t, db, userID))
	var n int64
	require.NoError(t, db.Model(&models.Holding{}).Where("user_id = ?", userID).Count(&n).Error)
	assert.Equal(t, int64(0), n)
}

func TestBuySharesBadInput(t *testing.T) {
	svc, _, db := newTestService(t)
	ctx := context.Background()
	userID := createUser(t, db, "10000")

	_, err := svc.BuyShares(ctx, userID, "AAPL", 0)
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = svc.BuyShares(ctx, userID, "AAPL", -3)
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = svc.BuyShares(ctx, userID, "NOPE", 1)
	assert.ErrorIs(t, err, ErrUnknownSymbol)
}

func TestSellSharesPartial(t *testing.T) {
	svc, _, db := newTestService(t)
	ctx := context.Background()
	userID := createUser(t, db, "10000")

	_, err := svc.BuyShares(ctx, userID, "AAPL", 10)
	require.NoError(t, err)

	conf, err := svc.SellShares(ctx, userID, "AAPL", 4)
	require.NoError(t, err)
	assert.Equal(t, models.ActionSold, conf.Action)
	assert.True(t, conf.Cash.Equal(decimal.NewFromInt(9400)), "got %s", conf.Cash)

	var holding models.Holding
	require.NoError(t, db.Where("user_id = ? AND symbol = ?", userID, "AAPL").First(&holding).Error)
	assert.Equal(t, int64(6), holding.Shares)
	assert.True(t, holding.AssetValue.Equal(decimal.NewFromInt(600)))
}

func TestBuySellRoundTrip(t *testing.T) {
	svc, _, db := newTestService(t)
	ctx := context.Background()
	userID := createUser(t, db, "10000")

	_, err := svc.BuyShares(ctx, userID, "AAPL", 10)
	require.NoError(t, err)
	assert.True(t, userCash(t, db, userID).Equal(decimal.NewFromInt(9000)))

	_, err = svc.SellShares(ctx, userID, "AAPL", 10)
	require.NoError(t, err)

	// same count at the same price restores cash exactly
	assert.True(t, userCash(t, db, userID).Equal(decimal.NewFromInt(10000)))

	// selling out removes the row, it is not left at zero
	var n int64
	require.NoError(t, db.Model(&models.Holding{}).Where("user_id = ?", userID).Count(&n).Error)
	assert.Equal(t, int64(0), n)

	history, err := svc.GetHistory(ctx, userID)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, models.ActionBought, history[0].Action)
	assert.Equal(t, models.ActionSold, history[1].Action)
}

func TestSellSharesInsufficient(t *testing.T) {
	svc, _, db := newTestService(t)
	ctx := context.Background()
	userID := createUser(t, db, "10000")

	_, err := svc.BuyShares(ctx, userID, "AAPL", 5)
	require.NoError(t, err)

	_, err = svc.SellShares(ctx, userID, "AAPL", 6)
	assert.ErrorIs(t, err, ErrInsufficientShares)

	// state untouched by the failed sale
	assert.True(t, userCash(t, db, userID).Equal(decimal.NewFromInt(9500)))
	assert.Equal(t, int64(1), countTransactions(t, db, userID))
	var holding models.Holding
	require.NoError(t, db.Where("user_id = ? AND symbol = ?", userID, "AAPL").First(&holding).Error)
	assert.Equal(t, int64(5), holding.Shares)
}

func TestSellSharesNoHolding(t *testing.T) {
	svc, _, db := newTestService(t)
	userID := createUser(t, db, "10000")

	_, err := svc.SellShares(context.Background(), userID, "AAPL", 1)
	assert.ErrorIs(t, err, ErrInsufficientShares)
}

func TestSellSharesScopedToOwner(t *testing.T) {
	svc, _, db := newTestService(t)
	ctx := context.Background()

	owner := models.User{Username: "owner", PasswordHash: "x", Cash: decimal.NewFromInt(10000)}
	require.NoError(t, db.Create(&owner).Error)
	other := models.User{Username: "other", PasswordHash: "x", Cash: decimal.NewFromInt(10000)}
	require.NoError(t, db.Create(&other).Error)

	_, err := svc.BuyShares(ctx, owner.ID, "AAPL", 10)
	require.NoError(t, err)

	// another user's position must not satisfy the ownership check
	_, err = svc.SellShares(ctx, other.ID, "AAPL", 10)
	assert.ErrorIs(t, err, ErrInsufficientShares)

	var holding models.Holding
	require.NoError(t, db.Where("user_id = ? AND symbol = ?", owner.ID, "AAPL").First(&holding).Error)
	assert.Equal(t, int64(10), holding.Shares)
}

func TestSharesMatchTransactionLog(t *testing.T) {
	svc, _, db := newTestService(t)
	ctx := context.Background()
	userID := createUser(t, db, "10000")

	steps := []struct {
		action models.TransactionAction
		shares int64
	}{
		{models.ActionBought, 10},
		{models.ActionSold, 3},
		{models.ActionBought, 5},
		{models.ActionSold, 8},
		{models.ActionSold, 4},
	}

	for _, step := range steps {
		var err error
		if step.action == models.ActionBought {
			_, err = svc.BuyShares(ctx, userID, "AAPL", step.shares)
		} else {
			_, err = svc.SellShares(ctx, userID, "AAPL", step.shares)
		}
		require.NoError(t, err)

		history, err := svc.GetHistory(ctx, userID)
		require.NoError(t, err)
		var sum int64
		for _, txn := range history {
			if txn.Action == models.ActionBought {
				sum += txn.Shares
			} else if txn.Action == models.ActionSold {
				sum -= txn.Shares
			}
		}

		var holding models.Holding
		err = db.Where("user_id = ? AND symbol = ?", userID, "AAPL").First(&holding).Error
		if sum > 0 {
			require.NoError(t, err)
			assert.Equal(t, sum, holding.Shares)
		} else {
			assert.ErrorIs(t, err, gorm.ErrRecordNotFound)
		}
	}
}

func TestBuyTwoSymbolsBothDebited(t *testing.T) {
	svc, _, db := newTestService(t)
	ctx := context.Background()
	userID := createUser(t, db, "10000")

	_, err := svc.BuyShares(ctx, userID, "AAPL", 10) // 1000
	require.NoError(t, err)
	_, err = svc.BuyShares(ctx, userID, "NFLX", 4) // 1000
	require.NoError(t, err)

	assert.True(t, userCash(t, db, userID).Equal(decimal.NewFromInt(8000)))

	var n int64
	require.NoError(t, db.Model(&models.Holding{}).Where("user_id = ?", userID).Count(&n).Error)
	assert.Equal(t, int64(2), n)
}

func TestConcurrentBuysBothDebited(t *testing.T) {
	svc, _, db := newTestService(t)
	ctx := context.Background()
	userID := createUser(t, db, "10000")

	// two racing purchases, each retried on a store conflict; both must
	// commit and the final balance reflects both debits
	buy := func(symbol string, shares int64) {
		for {
			_, err := svc.BuyShares(ctx, userID, symbol, shares)
			if errors.Is(err, ErrStoreConflict) {
				continue
			}
			if err != nil {
				t.Errorf("BuyShares(%s): %v", symbol, err)
			}
			return
		}
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		buy("AAPL", 10) // 1000
	}()
	go func() {
		defer wg.Done()
		buy("NFLX", 4) // 1000
	}()
	wg.Wait()

	assert.True(t, userCash(t, db, userID).Equal(decimal.NewFromInt(8000)))

	var n int64
	require.NoError(t, db.Model(&models.Holding{}).Where("user_id = ?", userID).Count(&n).Error)
	assert.Equal(t, int64(2), n)
	assert.Equal(t, int64(2), countTransactions(t, db, userID))
}

func TestGetPortfolio(t *testing.T) {
	svc, f, db := newTestService(t)
	ctx := context.Background()
	userID := createUser(t, db, "10000")

	_, err := svc.BuyShares(ctx, userID, "AAPL", 10)
	require.NoError(t, err)
	_, err = svc.BuyShares(ctx, userID, "NFLX", 2)
	require.NoError(t, err)

	// the price moves after purchase
	f.quotes["AAPL"] = oracle.Quote{Symbol: "AAPL", Company: "Apple Inc", Price: decimal.NewFromInt(120)}

	view, err := svc.GetPortfolio(ctx, userID)
	require.NoError(t, err)
	assert.True(t, view.Cash.Equal(decimal.NewFromInt(8500)))
	require.Len(t, view.Holdings, 2)

	// holdings ordered by symbol
	assert.Equal(t, "AAPL", view.Holdings[0].Symbol)
	assert.Equal(t, "NFLX", view.Holdings[1].Symbol)

	assert.True(t, view.Holdings[0].AssetValue.Equal(decimal.NewFromInt(1200)))
	assert.True(t, view.TotalAssets.Equal(decimal.NewFromInt(8500+1200+500)))

	// the refreshed price cache is persisted, not just returned
	var holding models.Holding
	require.NoError(t, db.Where("user_id = ? AND symbol = ?", userID, "AAPL").First(&holding).Error)
	assert.True(t, holding.CurrentPrice.Equal(decimal.NewFromInt(120)))
	assert.True(t, holding.AssetValue.Equal(decimal.NewFromInt(1200)))
}

func TestGetPortfolioUnresolvableHoldingFails(t *testing.T) {
	svc, f, db := newTestService(t)
	ctx := context.Background()
	userID := createUser(t, db, "10000")

	_, err := svc.BuyShares(ctx, userID, "AAPL", 10)
	require.NoError(t, err)

	delete(f.quotes, "AAPL")

	_, err = svc.GetPortfolio(ctx, userID)
	assert.ErrorIs(t, err, ErrUnknownSymbol)
}

func TestGetHistoryOrder(t *testing.T) {
	svc, _, db := newTestService(t)
	ctx := context.Background()
	userID := createUser(t, db, "0")

	for i := 1; i <= 3; i++ {
		_, err := svc.Deposit(ctx, userID, decimal.NewFromInt(int64(i)))
		require.NoError(t, err)
	}

	history, err := svc.GetHistory(ctx, userID)
	require.NoError(t, err)
	require.Len(t, history, 3)
	for i, txn := range history {
		assert.True(t, txn.Price.Equal(decimal.NewFromInt(int64(i+1))), "row %d: got %s", i, txn.Price)
	}
}

func TestHistoryIsolatedPerUser(t *testing.T) {
	svc, _, db := newTestService(t)
	ctx := context.Background()

	alice := models.User{Username: "a", PasswordHash: "x", Cash: decimal.NewFromInt(100)}
	require.NoError(t, db.Create(&alice).Error)
	bob := models.User{Username: "b", PasswordHash: "x", Cash: decimal.NewFromInt(100)}
	require.NoError(t, db.Create(&bob).Error)

	_, err := svc.Deposit(ctx, alice.ID, decimal.NewFromInt(50))
	require.NoError(t, err)

	history, err := svc.GetHistory(ctx, bob.ID)
	require.NoError(t, err)
	assert.Empty(t, history)
}
