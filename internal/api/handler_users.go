package api

import (
	"errors"

	"github.com/labstack/echo/v4"
	"github.com/shopspring/decimal"

	"github.com/neotix/rentald/internal/api/middleware"
	"github.com/neotix/rentald/internal/ledger"
	"github.com/neotix/rentald/internal/store"
	"github.com/neotix/rentald/pkg/types"
)

// UserHandler handles account and balance endpoints
type UserHandler struct {
	store  *store.Store
	ledger *ledger.Service
}

// NewUserHandler creates a new user handler
func NewUserHandler(s *store.Store, led *ledger.Service) *UserHandler {
	return &UserHandler{store: s, ledger: led}
}

// CreateUserRequest registers a new account
type CreateUserRequest struct {
	Email string `json:"email" validate:"required,email"`
	Name  string `json:"name" validate:"required,min=1,max=255"`
}

// AddCreditsRequest tops up an account balance
type AddCreditsRequest struct {
	Amount         string `json:"amount" validate:"required"`
	IdempotencyKey string `json:"idempotency_key" validate:"required"`
}

// Create handles POST /api/v1/users
func (h *UserHandler) Create(c echo.Context) error {
	var req CreateUserRequest
	if err := c.Bind(&req); err != nil {
		return ErrorBadRequest(c, "Invalid request body")
	}
	if err := c.Validate(&req); err != nil {
		return err
	}

	user := &types.User{
		ID:      types.GenerateUserID(),
		Email:   req.Email,
		Name:    req.Name,
		Balance: decimal.Zero,
	}
	if err := h.store.Users.Create(c.Request().Context(), user); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return ErrorConflict(c, "Email already registered")
		}
		return ErrorInternal(c, "Failed to create user")
	}
	return SuccessCreated(c, user)
}

// GetMe handles GET /api/v1/users/me
func (h *UserHandler) GetMe(c echo.Context) error {
	user, err := h.store.Users.GetByID(c.Request().Context(), middleware.UserID(c))
	if errors.Is(err, store.ErrNotFound) {
		return ErrorNotFound(c, "User not found")
	}
	if err != nil {
		return ErrorInternal(c, "Failed to load user")
	}
	return SuccessOK(c, user)
}

// Transactions handles GET /api/v1/users/me/transactions
func (h *UserHandler) Transactions(c echo.Context) error {
	txns, err := h.ledger.History(c.Request().Context(), middleware.UserID(c))
	if err != nil {
		return ErrorInternal(c, "Failed to load transactions")
	}
	return SuccessOK(c, map[string]interface{}{
		"transactions": txns,
		"count":        len(txns),
	})
}

// AddCredits handles POST /api/v1/users/me/credits
func (h *UserHandler) AddCredits(c echo.Context) error {
	var req AddCreditsRequest
	if err := c.Bind(&req); err != nil {
		return ErrorBadRequest(c, "Invalid request body")
	}
	if err := c.Validate(&req); err != nil {
		return err
	}

	amount, err := decimal.NewFromString(req.Amount)
	if err != nil || !amount.IsPositive() {
		return ErrorValidation(c, "amount must be a positive decimal")
	}

	txn, cerr := h.ledger.Credit(c.Request().Context(), middleware.UserID(c), amount,
		"Account top-up", "topup:"+req.IdempotencyKey)
	if cerr != nil {
		return ErrorDomain(c, cerr)
	}
	return SuccessCreated(c, txn)
}
