package main

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/spf13/viper"
	httpSwagger "github.com/swaggo/http-swagger"

	"github.com/Buzz-brain/dpi-backend/docs"
	"github.com/Buzz-brain/dpi-backend/internal/config"
	"github.com/Buzz-brain/dpi-backend/internal/database"
	"github.com/Buzz-brain/dpi-backend/internal/handlers"
	mW "github.com/Buzz-brain/dpi-backend/internal/middleware"
	"github.com/Buzz-brain/dpi-backend/internal/services"
)

// @title DigiPay G2C Backend API
// @version 1.0
// @description Wallet ledger and fund-movement engine for government-to-citizen payments
// @host localhost:8080
// @BasePath /api/v1
// @schemes http https

func main() {
	// Initialize config
	viper.SetConfigFile(".env") // explicitly point to .env file
	viper.AutomaticEnv()        // allow environment variables to override .env
	viper.ReadInConfig()        // read .env file

	viper.SetEnvPrefix("")

	viper.BindEnv("database.host", "DATABASE_HOST")
	viper.BindEnv("database.port", "DATABASE_PORT")
	viper.BindEnv("database.user", "DATABASE_USER")
	viper.BindEnv("database.password", "DATABASE_PASSWORD")
	viper.BindEnv("database.name", "DATABASE_NAME")
	viper.BindEnv("database.ssl_mode", "DATABASE_SSL_MODE")

	viper.BindEnv("redis.host", "REDIS_HOST")
	viper.BindEnv("redis.port", "REDIS_PORT")
	viper.BindEnv("redis.password", "REDIS_PASSWORD")
	viper.BindEnv("redis.db", "REDIS_DB")

	viper.BindEnv("jwt.secret_key", "JWT_SECRET_KEY")
	viper.BindEnv("jwt.expiry_hours", "JWT_EXPIRY_HOURS")

	viper.BindEnv("smtp.host", "SMTP_HOST")
	viper.BindEnv("smtp.port", "SMTP_PORT")
	viper.BindEnv("smtp.user", "SMTP_USER")
	viper.BindEnv("smtp.password", "SMTP_PASSWORD")
	viper.BindEnv("smtp.from", "SMTP_FROM")

	if err := viper.ReadInConfig(); err != nil {
		log.Printf("Config file not found, using defaults: %v", err)
	}

	// Initialize Swagger docs
	docs.SwaggerInfo.Title = "DigiPay G2C Backend API"
	docs.SwaggerInfo.Description = "Wallet ledger and fund-movement engine for government-to-citizen payments"
	docs.SwaggerInfo.Version = "1.0"
	docs.SwaggerInfo.Host = "localhost:8080"
	docs.SwaggerInfo.BasePath = "/api/v1"
	docs.SwaggerInfo.Schemes = []string{"http", "https"}

	// Initialize services
	db := database.InitDatabase()
	defer db.Close()

	redisClient := database.InitRedis()
	if redisClient != nil {
		defer redisClient.Close()
	}

	identityService := services.NewIdentityService(db)
	walletService := services.NewWalletService(db, redisClient, identityService)
	transferService := services.NewTransferService(db, walletService, identityService)
	mailer := services.NewMailer()
	withdrawalService := services.NewWithdrawalService(db, walletService, identityService, mailer, config.LoadWithdrawalConfig())
	selector := services.NewBeneficiarySelector(db)
	disbursementService := services.NewDisbursementService(db, redisClient, walletService, selector, config.LoadDisbursementConfig())
	disbursementHandler := handlers.NewDisbursementHandler(disbursementService)

	// Background batch worker; cancelled during shutdown
	workerCtx, stopWorker := context.WithCancel(context.Background())
	defer stopWorker()
	go disbursementService.RunWorker(workerCtx)

	// Setup router
	r := chi.NewRouter()

	// Middleware
	r.Use(mW.SecurityHeaders)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(mW.RateLimit(20, 40))

	// CORS
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*", "http://*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Access-Control-Allow-Origin"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           86400,
	}))

	// Health check
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"status": "healthy"})
	})

	// Swagger documentation
	r.Get("/swagger/*", httpSwagger.Handler(
		httpSwagger.URL("http://localhost:8080/swagger/doc.json"),
	))

	bankService := services.NewBankService()

	// API routes
	r.Route("/api/v1", func(r chi.Router) {
		// Public endpoints (no auth required)
		r.Get("/banks", bankService.GetAllBanks)

		r.Group(func(r chi.Router) {
			r.Use(mW.AuthMiddleware)

			// Wallet endpoints
			r.Get("/wallet/balance", walletService.GetBalance)
			r.Get("/wallet/ledger", walletService.GetLedger)
			r.Post("/wallet/topup", walletService.CreateTopup)
			r.Get("/wallet/receive-qr", walletService.GetReceiveQR)

			// Transfer endpoints
			r.Post("/transactions", transferService.SendTransaction)
			r.Get("/transactions", transferService.GetTransactions)
			r.Get("/transactions/{reference}", transferService.GetTransaction)

			// Withdrawal endpoints
			r.Post("/withdrawals", withdrawalService.CreateWithdrawal)
			r.Get("/withdrawals", withdrawalService.GetWithdrawals)

			// Admin disbursement endpoints
			r.Group(func(r chi.Router) {
				r.Use(mW.RequireRole("admin"))

				r.Post("/disbursements", disbursementHandler.CreateBatch)
				r.Get("/disbursements", disbursementHandler.ListBatches)
				r.Post("/disbursements/preview", disbursementHandler.PreviewBatch)
				r.Get("/disbursements/filter-options", disbursementHandler.GetFilterOptions)
				r.Get("/disbursements/{id}", disbursementHandler.GetBatch)
				r.Post("/disbursements/{id}/retry", disbursementHandler.RetryBatch)
			})
		})
	})

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	// Start server
	server := &http.Server{
		Addr:         ":" + port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown
	go func() {
		log.Printf("Server starting on :%s", port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Server shutting down...")
	stopWorker()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Fatal("Server forced to shutdown:", err)
	}

	log.Println("Server stopped")
}
