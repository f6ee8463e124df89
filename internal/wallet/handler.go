package wallet

import (
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"

	"github.com/kasa-exchange/kasa/internal/ledger"
	"github.com/kasa-exchange/kasa/internal/middleware"
)

// Handler exposes wallet HTTP endpoints.
type Handler struct {
	service *Service
}

// NewHandler builds a wallet HTTP handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

type balanceResponse struct {
	Currency  string    `json:"currency"`
	Available string    `json:"available"`
	Locked    string    `json:"locked"`
	Total     string    `json:"total"`
	AsOf      time.Time `json:"as_of"`
}

func toBalanceResponse(b ledger.Balance) balanceResponse {
	return balanceResponse{
		Currency:  string(b.Currency),
		Available: b.Available.String(),
		Locked:    b.Locked.String(),
		Total:     b.Total().String(),
		AsOf:      b.AsOf,
	}
}

// Balances returns every wallet the authenticated user holds.
func (h *Handler) Balances(c *fiber.Ctx) error {
	balances, err := h.service.Balances(c.UserContext(), middleware.UserID(c))
	if err != nil {
		return fiber.NewError(http.StatusInternalServerError, err.Error())
	}

	out := make([]balanceResponse, 0, len(balances))
	for _, b := range balances {
		out = append(out, toBalanceResponse(b))
	}
	return c.JSON(fiber.Map{"balances": out})
}

// Balance returns one wallet snapshot.
func (h *Handler) Balance(c *fiber.Ctx) error {
	bal, err := h.service.Balance(c.UserContext(), middleware.UserID(c), c.Params("currency"))
	if err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(toBalanceResponse(bal))
}

type creditRequest struct {
	UserID        string            `json:"user_id"`
	Currency      string            `json:"currency"`
	Amount        string            `json:"amount"`
	ReferenceID   string            `json:"reference_id"`
	ReferenceType string            `json:"reference_type"`
	Description   string            `json:"description"`
	Metadata      map[string]string `json:"metadata"`
}

// Credit adds funds to a user's wallet. Admin-only; deposit processors call
// this with a reference to the originating event.
func (h *Handler) Credit(c *fiber.Ctx) error {
	var req creditRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid amount")
	}

	bal, err := h.service.Credit(c.UserContext(), CreditInput{
		UserID:        req.UserID,
		Currency:      req.Currency,
		Amount:        amount,
		ReferenceID:   req.ReferenceID,
		ReferenceType: req.ReferenceType,
		Description:   req.Description,
		Metadata:      req.Metadata,
	})
	if err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	return c.Status(http.StatusCreated).JSON(toBalanceResponse(bal))
}

type entryResponse struct {
	ID            string    `json:"id"`
	Currency      string    `json:"currency"`
	Type          string    `json:"type"`
	Amount        string    `json:"amount"`
	BalanceBefore string    `json:"balance_before"`
	BalanceAfter  string    `json:"balance_after"`
	ReferenceID   string    `json:"reference_id,omitempty"`
	ReferenceType string    `json:"reference_type,omitempty"`
	Description   string    `json:"description,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

// Entries lists the authenticated user's ledger history.
func (h *Handler) Entries(c *fiber.Ctx) error {
	page := c.QueryInt("page", 1)
	limit := c.QueryInt("limit", 20)

	entries, err := h.service.Entries(c.UserContext(), middleware.UserID(c), page, limit)
	if err != nil {
		return fiber.NewError(http.StatusInternalServerError, err.Error())
	}

	out := make([]entryResponse, 0, len(entries))
	for _, e := range entries {
		out = append(out, entryResponse{
			ID:            e.ID,
			Currency:      string(e.Currency),
			Type:          string(e.Type),
			Amount:        e.Amount.String(),
			BalanceBefore: e.BalanceBefore.String(),
			BalanceAfter:  e.BalanceAfter.String(),
			ReferenceID:   e.ReferenceID,
			ReferenceType: e.ReferenceType,
			Description:   e.Description,
			CreatedAt:     e.CreatedAt,
		})
	}
	return c.JSON(fiber.Map{"entries": out, "page": page, "limit": limit})
}
