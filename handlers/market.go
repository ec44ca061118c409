package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"papertrade/database"
	"papertrade/models"
	"papertrade/oracle"
)

var market *oracle.Client

// InitMarket wires the price-oracle client used by the market-data endpoints.
func InitMarket(c *oracle.Client) {
	market = c
}

// GetHistoricalData serves the daily close series for a symbol and ingests
// it into the stock_prices table.
func GetHistoricalData(c *gin.Context) {
	symbol := c.Param("symbol")

	points, cached, err := market.DailyHistory(c.Request.Context(), symbol)
	if err != nil {
		switch {
		case errors.Is(err, oracle.ErrNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "Historical data not found"})
		case errors.Is(err, oracle.ErrTimeout):
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Failed to fetch historical data"})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch historical data"})
		}
		return
	}

	historicalData := make([]models.StockPrice, 0, len(points))
	for _, p := range points {
		historicalData = append(historicalData, models.StockPrice{
			Symbol:    symbol,
			Price:     p.Close,
			Timestamp: p.Date,
		})
	}

	// A cache-served series was already ingested when first fetched;
	// re-inserting it would duplicate rows.
	if !cached {
		if err := database.CreateInBatches(historicalData, 100); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to store historical data"})
			return
		}
	}

	c.JSON(http.StatusOK, historicalData)
}
