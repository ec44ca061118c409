package main

import (
	"log"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"

	"papertrade/config"
	"papertrade/database"
	"papertrade/handlers"
	"papertrade/ledger"
	"papertrade/middleware"
	"papertrade/oracle"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment")
	}

	apiKey := os.Getenv("ALPHA_VANTAGE_API_KEY")
	if apiKey == "" {
		log.Fatal("ALPHA_VANTAGE_API_KEY not set")
	}

	config.InitLogger()
	config.InitDB()
	config.InitRedis()

	if err := database.Migrate(); err != nil {
		log.Fatal("Failed to migrate models:", err)
	}

	oracleTimeout := 5 * time.Second
	if v := os.Getenv("ORACLE_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			log.Fatal("Bad ORACLE_TIMEOUT:", err)
		}
		oracleTimeout = d
	}

	client := oracle.NewClient(apiKey, oracle.RedisCache{Rdb: config.Rdb}, oracleTimeout)
	handlers.InitMarket(client)
	handlers.InitLedger(ledger.NewService(config.DB, client))

	router := gin.Default()

	// Public routes
	router.POST("/signup", handlers.Signup)
	router.POST("/login", handlers.Login)
	router.POST("/refresh", handlers.Refresh)
	router.POST("/logout", handlers.Logout)

	// Protected routes
	auth := router.Group("/")
	auth.Use(middleware.JWTAuth())
	{
		auth.GET("/quote/:symbol", handlers.GetQuote)
		auth.POST("/deposit", handlers.Deposit)
		auth.POST("/buy", handlers.Buy)
		auth.POST("/sell", handlers.Sell)
		auth.GET("/portfolio", handlers.GetPortfolio)
		auth.GET("/history", handlers.GetHistory)
		auth.GET("/prices/:symbol/history", handlers.GetHistoricalData)
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}
	router.Run(":" + port)
}
