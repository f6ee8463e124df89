package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/kasa-exchange/kasa/internal/withdrawal"
)

// RegisterWithdrawalRoutes wires the user-facing withdrawal endpoints.
func RegisterWithdrawalRoutes(r fiber.Router, h *withdrawal.Handler, rateLimit fiber.Handler) {
	r.Post("/withdrawals", rateLimit, h.Create)
	r.Get("/withdrawals", h.History)
	r.Get("/withdrawals/:id", h.Get)
	r.Delete("/withdrawals/:id", h.Cancel)
}
