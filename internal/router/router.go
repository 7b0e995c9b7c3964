// internal/router/router.go
package router

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/nftbazaar/marketplace-backend/internal/config"
	"github.com/nftbazaar/marketplace-backend/internal/handlers"
	"github.com/nftbazaar/marketplace-backend/internal/market"
	"github.com/nftbazaar/marketplace-backend/internal/middleware"
	"github.com/nftbazaar/marketplace-backend/internal/models"
	"github.com/nftbazaar/marketplace-backend/internal/services"
	"github.com/nftbazaar/marketplace-backend/internal/stream"
	"github.com/nftbazaar/marketplace-backend/internal/utils"
)

// Initialize wires services, handlers and middleware into a gin engine.
// The returned MarketService is exposed so main can re-seed the
// settlement registry after migrations.
func Initialize(db *gorm.DB, cfg *config.Config) (*gin.Engine, *services.MarketService) {
	// Initialize services
	notificationService := services.NewNotificationService(cfg)
	storageService, err := services.NewStorageService(cfg)
	if err != nil {
		logrus.WithError(err).Warn("Object storage unavailable, metadata uploads degraded")
	}

	hub := stream.NewHub()
	custodyService := services.NewCustodyService(db, storageService)
	ledgerService := services.NewLedgerService(db)

	operator := models.MustParseAddress(cfg.Market.OperatorAddress)
	engine := market.NewEngine(operator, custodyService, ledgerService)

	authService := services.NewAuthService(db, cfg)
	marketService := services.NewMarketService(engine, db, hub, notificationService)
	depositService := services.NewDepositService(db, ledgerService, cfg)

	// Initialize handlers
	authHandler := handlers.NewAuthHandler(authService)
	assetHandler := handlers.NewAssetHandler(custodyService)
	walletHandler := handlers.NewWalletHandler(ledgerService, depositService, cfg)
	marketHandler := handlers.NewMarketHandler(marketService, hub)

	// Set JWT secret
	utils.SetJWTSecret(cfg.JWT.SecretKey)

	// Initialize Gin router
	r := gin.New()

	// Global middleware
	r.Use(gin.Recovery())
	r.Use(middleware.RequestLogger())
	r.Use(middleware.CORS())
	r.Use(middleware.GeneralRateLimit())

	// Health check
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "healthy",
			"version": "1.0.0",
		})
	})

	// API v1 routes
	v1 := r.Group("/v1")
	{
		// Authentication routes
		auth := v1.Group("/auth")
		auth.Use(middleware.AuthRateLimit())
		{
			auth.POST("/register", authHandler.Register)
			auth.POST("/login", authHandler.Login)
			auth.GET("/me", middleware.AuthRequired(), authHandler.GetProfile)
		}

		// Asset routes
		assets := v1.Group("/assets")
		{
			assets.GET("", assetHandler.GetAssets)
			assets.GET("/:collection/:tokenId", assetHandler.GetAsset)

			protected := assets.Group("")
			protected.Use(middleware.AuthRequired())
			{
				protected.POST("", assetHandler.Mint)
				protected.POST("/approve", assetHandler.Approve)
			}
		}

		// Wallet routes
		wallet := v1.Group("/wallet")
		{
			wallet.POST("/deposits/confirm", walletHandler.ConfirmDeposit)

			protected := wallet.Group("")
			protected.Use(middleware.AuthRequired())
			{
				protected.GET("/balances", walletHandler.GetBalances)
				protected.GET("/allowances", walletHandler.GetAllowance)
				protected.POST("/allowances", walletHandler.ApproveAllowance)
				protected.GET("/deposits", walletHandler.GetDeposits)
				protected.POST("/deposits", walletHandler.CreateDeposit)
				protected.POST("/faucet", walletHandler.Faucet)
			}
		}

		// Marketplace routes
		mkt := v1.Group("/market")
		{
			mkt.GET("/listings", marketHandler.GetListings)
			mkt.GET("/listings/:collection/:tokenId", marketHandler.GetListing)
			mkt.GET("/trades", marketHandler.GetTrades)
			mkt.GET("/stats", marketHandler.GetStats)
			mkt.GET("/stream", marketHandler.Stream)

			protected := mkt.Group("")
			protected.Use(middleware.AuthRequired())
			{
				protected.POST("/listings", marketHandler.CreateListing)
				protected.DELETE("/listings/:collection/:tokenId", marketHandler.CancelListing)
				protected.POST("/buy", marketHandler.BuyListing)
			}
		}
	}

	return r, marketService
}
