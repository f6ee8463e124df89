package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/kasa-exchange/kasa/internal/wallet"
	"github.com/kasa-exchange/kasa/internal/withdrawal"
)

// RegisterWalletRoutes wires the balance and ledger-history endpoints.
func RegisterWalletRoutes(r fiber.Router, h *wallet.Handler) {
	r.Get("/balances", h.Balances)
	r.Get("/balances/:currency", h.Balance)
	r.Get("/ledger", h.Entries)
}

// RegisterAdminRoutes wires the operator endpoints: crediting wallets,
// approving held withdrawals and driving confirmation checks.
func RegisterAdminRoutes(r fiber.Router, wallets *wallet.Handler, withdrawals *withdrawal.Handler) {
	r.Post("/credits", wallets.Credit)
	r.Post("/withdrawals/:id/approve", withdrawals.Approve)
	r.Post("/withdrawals/:id/finalize", withdrawals.Finalize)
}
