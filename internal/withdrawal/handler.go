package withdrawal

import (
	"errors"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"

	"github.com/kasa-exchange/kasa/internal/broadcast"
	"github.com/kasa-exchange/kasa/internal/ledger"
	"github.com/kasa-exchange/kasa/internal/middleware"
	"github.com/kasa-exchange/kasa/internal/signer"
)

// Handler exposes withdrawal HTTP endpoints.
type Handler struct {
	service  *Service
	workflow *Workflow
}

// NewHandler builds a withdrawal HTTP handler.
func NewHandler(service *Service, workflow *Workflow) *Handler {
	return &Handler{service: service, workflow: workflow}
}

type createBody struct {
	Currency    string `json:"currency"`
	Amount      string `json:"amount"`
	Destination string `json:"destination_address"`
	TwoFACode   string `json:"two_fa_code"`
	Network     string `json:"network,omitempty"`
}

type withdrawalResponse struct {
	ID                    string     `json:"id"`
	Currency              string     `json:"currency"`
	Network               string     `json:"network,omitempty"`
	Destination           string     `json:"destination_address"`
	Amount                string     `json:"amount"`
	NetworkFee            string     `json:"network_fee"`
	PlatformFee           string     `json:"platform_fee"`
	TotalAmount           string     `json:"total_amount"`
	Status                string     `json:"status"`
	TransactionHash       string     `json:"transaction_hash,omitempty"`
	Confirmations         int64      `json:"confirmations"`
	RequiresAdminApproval bool       `json:"requires_admin_approval"`
	EstimatedCompletion   string     `json:"estimated_completion,omitempty"`
	ErrorMessage          string     `json:"error_message,omitempty"`
	CreatedAt             time.Time  `json:"created_at"`
	UpdatedAt             time.Time  `json:"updated_at"`
}

func toResponse(req *Request) withdrawalResponse {
	resp := withdrawalResponse{
		ID:                    req.ID,
		Currency:              string(req.Currency),
		Network:               string(req.Network),
		Destination:           req.Destination,
		Amount:                req.Amount.String(),
		NetworkFee:            req.NetworkFee.String(),
		PlatformFee:           req.PlatformFee.String(),
		TotalAmount:           req.TotalAmount.String(),
		Status:                string(req.Status),
		TransactionHash:       req.TransactionHash,
		Confirmations:         req.Confirmations,
		RequiresAdminApproval: req.RequiresAdminApproval,
		ErrorMessage:          req.ErrorMessage,
		CreatedAt:             req.CreatedAt,
		UpdatedAt:             req.UpdatedAt,
	}
	if !req.Status.Terminal() {
		resp.EstimatedCompletion = broadcast.EstimateConfirmationTime(req.Currency).String()
	}
	return resp
}

// Create validates and creates a withdrawal, then starts automatic
// processing unless the request is held for admin approval.
func (h *Handler) Create(c *fiber.Ctx) error {
	var body createBody
	if err := c.BodyParser(&body); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	amount, err := decimal.NewFromString(body.Amount)
	if err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid amount")
	}

	userID := middleware.UserID(c)
	req, err := h.service.Create(c.UserContext(), userID, CreateParams{
		Currency:    body.Currency,
		Amount:      amount,
		Destination: body.Destination,
		TwoFACode:   body.TwoFACode,
		Network:     body.Network,
	})
	if err != nil {
		return mapError(err)
	}

	if !req.RequiresAdminApproval {
		// A processing failure is recorded on the row itself; the caller
		// still gets the created request with its terminal status.
		if processed, _ := h.workflow.Process(c.UserContext(), req.ID); processed != nil {
			req = processed
		}
	}
	return c.Status(http.StatusCreated).JSON(toResponse(req))
}

// Cancel cancels a PENDING withdrawal.
func (h *Handler) Cancel(c *fiber.Ctx) error {
	req, err := h.service.Cancel(c.UserContext(), middleware.UserID(c), c.Params("id"))
	if err != nil {
		return mapError(err)
	}
	return c.JSON(toResponse(req))
}

// Get returns one withdrawal.
func (h *Handler) Get(c *fiber.Ctx) error {
	req, err := h.service.Get(c.UserContext(), middleware.UserID(c), c.Params("id"))
	if err != nil {
		return mapError(err)
	}
	return c.JSON(toResponse(req))
}

// History lists the user's withdrawals, newest first.
func (h *Handler) History(c *fiber.Ctx) error {
	page := c.QueryInt("page", 1)
	limit := c.QueryInt("limit", 20)

	reqs, err := h.service.History(c.UserContext(), middleware.UserID(c), page, limit)
	if err != nil {
		return mapError(err)
	}

	out := make([]withdrawalResponse, 0, len(reqs))
	for _, r := range reqs {
		out = append(out, toResponse(r))
	}
	return c.JSON(fiber.Map{"withdrawals": out, "page": page, "limit": limit})
}

// Approve records the admin sign-off and resumes processing. Admin-only.
func (h *Handler) Approve(c *fiber.Ctx) error {
	adminID := middleware.UserID(c)
	req, err := h.workflow.Approve(c.UserContext(), c.Params("id"), adminID)
	if err != nil && req == nil {
		return mapError(err)
	}
	return c.JSON(toResponse(req))
}

// Finalize re-checks confirmations for a BROADCASTED withdrawal and
// completes it once the threshold is reached. Admin-only; a confirmation
// poller calls this on a schedule.
func (h *Handler) Finalize(c *fiber.Ctx) error {
	req, err := h.workflow.Finalize(c.UserContext(), c.Params("id"))
	if err != nil {
		return mapError(err)
	}
	return c.JSON(toResponse(req))
}

// mapError translates domain errors into HTTP status codes with the
// human-readable reason preserved.
func mapError(err error) error {
	var illegal ErrIllegalTransition
	switch {
	case errors.Is(err, ErrNotFound):
		return fiber.NewError(http.StatusNotFound, err.Error())
	case errors.Is(err, ErrTwoFactorRequired):
		return fiber.NewError(http.StatusUnauthorized, err.Error())
	case errors.Is(err, ledger.ErrInsufficientFunds),
		errors.Is(err, ledger.ErrInvalidAmount),
		errors.Is(err, ErrInvalidAddress),
		errors.Is(err, signer.ErrTronUnsupported):
		return fiber.NewError(http.StatusBadRequest, err.Error())
	case errors.As(err, &illegal):
		return fiber.NewError(http.StatusConflict, err.Error())
	default:
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
}
