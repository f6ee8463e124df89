package routes

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/kasa-exchange/kasa/internal/config"
	"github.com/kasa-exchange/kasa/internal/middleware"
	"github.com/kasa-exchange/kasa/internal/wallet"
	"github.com/kasa-exchange/kasa/internal/withdrawal"
)

// Deps aggregates shared dependencies required to wire routes.
type Deps struct {
	Cfg    config.Config
	DB     *pgxpool.Pool
	Cache  *redis.Client
	Logger *slog.Logger

	Wallets     *wallet.Service
	Withdrawals *withdrawal.Service
	Workflow    *withdrawal.Workflow
}

// Setup configures middlewares and all application routes.
func Setup(app *fiber.App, d Deps) error {
	app.Use(recover.New())
	app.Use(middleware.RequestID())
	app.Use(logger.New(logger.Config{
		Format:     "[${time}] ${status} -  ${latency} ${method} ${path}\n",
		TimeFormat: "15:04:05",
		TimeZone:   "Local",
	}))
	app.Use(middleware.Audit(d.Logger))
	if d.Cache != nil {
		app.Use(middleware.Idempotency(d.Cache, d.Cfg.IdempotencyTTL, d.Logger))
	}

	RegisterHealthRoutes(app, d)

	walletHandler := wallet.NewHandler(d.Wallets)
	withdrawalHandler := withdrawal.NewHandler(d.Withdrawals, d.Workflow)

	api := app.Group("/api/v1")
	api.Get("/ping", func(c *fiber.Ctx) error {
		reqID, _ := c.Locals("X-Request-ID").(string)
		return c.Status(http.StatusOK).JSON(fiber.Map{
			"status":     "ok",
			"request_id": reqID,
			"timestamp":  time.Now().UTC().Format(time.RFC3339Nano),
		})
	})

	jwtmw := middleware.JWTAuth(d.Cfg)
	protected := api.Group("", jwtmw)
	RegisterWalletRoutes(protected, walletHandler)
	RegisterWithdrawalRoutes(protected, withdrawalHandler, middleware.WithdrawalRateLimit(d.Cache, 5))

	admin := protected.Group("/admin", middleware.RequireAdmin())
	RegisterAdminRoutes(admin, walletHandler, withdrawalHandler)

	return nil
}
