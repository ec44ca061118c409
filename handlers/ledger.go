package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"papertrade/config"
	"papertrade/ledger"
	"papertrade/models"
)

var svc *ledger.Service

// InitLedger wires the ledger service the handlers delegate to.
func InitLedger(s *ledger.Service) {
	svc = s
}

// ledgerError maps ledger error kinds to HTTP statuses. StoreConflict is the
// only one a client may retry as-is.
func ledgerError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, ledger.ErrInvalidInput), errors.Is(err, ledger.ErrInvalidAmount):
		status = http.StatusBadRequest
	case errors.Is(err, ledger.ErrUnknownSymbol), errors.Is(err, ledger.ErrUserNotFound):
		status = http.StatusNotFound
	case errors.Is(err, ledger.ErrInsufficientFunds),
		errors.Is(err, ledger.ErrInsufficientShares),
		errors.Is(err, ledger.ErrDepositTooLarge):
		status = http.StatusForbidden
	case errors.Is(err, ledger.ErrStoreConflict):
		status = http.StatusConflict
	case errors.Is(err, ledger.ErrOracleTimeout):
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

func GetQuote(c *gin.Context) {
	symbol := c.Param("symbol")

	quote, err := svc.Quote(c.Request.Context(), symbol)
	if err != nil {
		ledgerError(c, err)
		return
	}

	// Every served quote is also a price observation. Losing one is not
	// worth failing the request over, but it should not go unnoticed.
	err = config.DB.Create(&models.StockPrice{
		Symbol:    quote.Symbol,
		Price:     quote.Price,
		Timestamp: time.Now(),
	}).Error
	if err != nil {
		config.ModuleLogger("handlers").Warnf("failed to record price observation for %s: %v", quote.Symbol, err)
	}

	c.JSON(http.StatusOK, quote)
}

type DepositInput struct {
	Amount string `json:"amount" binding:"required"`
}

func Deposit(c *gin.Context) {
	userID := c.MustGet("user_id").(uint)

	var input DepositInput
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	amount, err := decimal.NewFromString(input.Amount)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": ledger.ErrInvalidAmount.Error()})
		return
	}

	newCash, err := svc.Deposit(c.Request.Context(), userID, amount)
	if err != nil {
		ledgerError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Cash added!", "cash": newCash})
}

type TradeInput struct {
	Symbol string `json:"symbol" binding:"required"`
	Shares int64  `json:"shares" binding:"required,min=1"`
}

func Buy(c *gin.Context) {
	userID := c.MustGet("user_id").(uint)

	var input TradeInput
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	conf, err := svc.BuyShares(c.Request.Context(), userID, input.Symbol, input.Shares)
	if err != nil {
		ledgerError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Purchase successful!", "trade": conf})
}

func Sell(c *gin.Context) {
	userID := c.MustGet("user_id").(uint)

	var input TradeInput
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	conf, err := svc.SellShares(c.Request.Context(), userID, input.Symbol, input.Shares)
	if err != nil {
		ledgerError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Sale successful!", "trade": conf})
}

func GetPortfolio(c *gin.Context) {
	userID := c.MustGet("user_id").(uint)

	view, err := svc.GetPortfolio(c.Request.Context(), userID)
	if err != nil {
		ledgerError(c, err)
		return
	}

	c.JSON(http.StatusOK, view)
}

func GetHistory(c *gin.Context) {
	userID := c.MustGet("user_id").(uint)

	transactions, err := svc.GetHistory(c.Request.Context(), userID)
	if err != nil {
		ledgerError(c, err)
		return
	}

	c.JSON(http.StatusOK, transactions)
}
