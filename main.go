package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"referral-incentive-engine/handlers"
	"referral-incentive-engine/middleware"
	"referral-incentive-engine/models"
	"referral-incentive-engine/services"
	"referral-incentive-engine/workers"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/joho/godotenv"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("⚠️  No .env file found, reading environment variables directly")
	}

	app := fiber.New()

	// 🔐 GLOBAL: Only Gateway requests allowed — no exceptions
	app.Use(middleware.GatewayAuthMiddleware())

	allowedOriginsEnv := os.Getenv("ALLOWED_ORIGINS")
	if allowedOriginsEnv == "" {
		log.Println("⚠️  ALLOWED_ORIGINS environment variable not set, using default: http://localhost:3000")
		allowedOriginsEnv = "http://localhost:3000"
	}
	allowedOriginsList := strings.Split(allowedOriginsEnv, ",")
	for i, origin := range allowedOriginsList {
		allowedOriginsList[i] = strings.TrimSpace(origin)
	}
	allowedOriginsString := strings.Join(allowedOriginsList, ",")

	app.Use(cors.New(cors.Config{
		AllowOrigins:     allowedOriginsString,
		AllowMethods:     "GET,POST,PUT,DELETE,OPTIONS,PATCH,HEAD",
		AllowHeaders:     "Origin, Content-Type, Accept, Authorization, X-Requested-With, X-Request-ID, X-Wallet-Address, X-Admin, X-Service-Token",
		ExposeHeaders:    "Content-Length, Content-Type, Authorization, X-Request-ID",
		AllowCredentials: true,
		MaxAge:           86400,
	}))

	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		log.Fatal("DATABASE_URL environment variable not set")
	}

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		log.Fatal("failed to connect to database:", err)
	}

	if err := models.Migrate(db); err != nil {
		log.Fatal("failed to migrate database:", err)
	}

	baseURL := os.Getenv("REFERRAL_BASE_URL")
	if baseURL == "" {
		baseURL = "http://localhost:3000/r"
	}

	pointsClient := workers.NewPointsClient()
	leaderboardService := services.NewLeaderboardService(db, pointsClient)
	periodService := services.NewPeriodService(db, leaderboardService)
	bonusService := services.NewBonusService(db, periodService, pointsClient)
	referralService := services.NewReferralService(db, periodService, baseURL)

	resetScheduler, err := services.NewResetScheduler(periodService)
	if err != nil {
		log.Fatal("failed to start reset scheduler:", err)
	}
	periodService.AttachMonitor(resetScheduler)

	// Re-arm monitoring from persisted state — an overdue scheduled period
	// rolls over on the first tick after restart.
	if err := resetScheduler.Resume(); err != nil {
		log.Printf("⚠️  failed to resume reset monitoring: %v", err)
	}

	handlers.SetupReferralRoutes(app, referralService, bonusService, leaderboardService, periodService)
	handlers.SetupAdminRoutes(app, periodService)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	port := os.Getenv("PORT")
	if port == "" {
		port = "5300"
	}

	go func() {
		if err := app.Listen(":" + port); err != nil {
			log.Printf("Server error: %v", err)
		}
	}()

	log.Printf("✅ Referral engine running on http://localhost:%s", port)
	log.Println("✅ GatewayAuthMiddleware enforced globally — all requests must come from Gateway")
	log.Printf("✅ CORS configured for origins: %s", allowedOriginsString)

	<-ctx.Done()
	log.Println("Shutting down server...")
	resetScheduler.Shutdown()
	_ = app.Shutdown()
}
