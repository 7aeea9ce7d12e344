package handlers

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/stakeladder/backend/internal/middleware"
	"github.com/stakeladder/backend/internal/models"
	"github.com/stakeladder/backend/internal/wallet"
)

type Activator interface {
	Activate(ctx context.Context, userID uuid.UUID, packageCode string) (*models.PackageActivation, error)
}

// WalletService is the part of wallet.Service the member endpoints use.
type WalletService interface {
	Summary(ctx context.Context, userID uuid.UUID) (*wallet.Overview, error)
	RequestDeposit(ctx context.Context, userID uuid.UUID, network models.Network, txRef string, amount decimal.Decimal) (*models.Deposit, error)
	RequestWithdrawal(ctx context.Context, userID uuid.UUID, network models.Network, source models.WithdrawalSource, amount decimal.Decimal) (*models.Withdrawal, error)
}

// AccountHandler serves the authenticated member endpoints.
type AccountHandler struct {
	Activations Activator
	Wallet      WalletService
	Logger      *slog.Logger
}

func NewAccountHandler(activations Activator, w WalletService, logger *slog.Logger) *AccountHandler {
	return &AccountHandler{Activations: activations, Wallet: w, Logger: loggerOrDefault(logger)}
}

type activateRequest struct {
	PackageCode string `json:"package_code"`
}

// Activate handles POST /api/v1/activations.
func (h *AccountHandler) Activate(w http.ResponseWriter, r *http.Request) {
	userID := middleware.UserIDFromCtx(r.Context())
	if userID == uuid.Nil {
		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
		return
	}
	var req activateRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.PackageCode == "" {
		http.Error(w, `{"error":"package_code is required"}`, http.StatusBadRequest)
		return
	}

	act, err := h.Activations.Activate(r.Context(), userID, req.PackageCode)
	if err != nil {
		writeError(w, h.Logger, "activate package", err)
		return
	}
	writeJSON(w, http.StatusCreated, act)
}

// GetWallet handles GET /api/v1/wallet.
func (h *AccountHandler) GetWallet(w http.ResponseWriter, r *http.Request) {
	userID := middleware.UserIDFromCtx(r.Context())
	if userID == uuid.Nil {
		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
		return
	}
	o, err := h.Wallet.Summary(r.Context(), userID)
	if err != nil {
		writeError(w, h.Logger, "wallet summary", err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

type depositRequest struct {
	Network string          `json:"network"`
	TxRef   string          `json:"tx_ref"`
	Amount  decimal.Decimal `json:"amount"`
}

// RequestDeposit handles POST /api/v1/deposits.
func (h *AccountHandler) RequestDeposit(w http.ResponseWriter, r *http.Request) {
	userID := middleware.UserIDFromCtx(r.Context())
	if userID == uuid.Nil {
		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
		return
	}
	var req depositRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	network, err := models.ParseNetwork(req.Network)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	d, err := h.Wallet.RequestDeposit(r.Context(), userID, network, req.TxRef, req.Amount)
	if err != nil {
		writeError(w, h.Logger, "request deposit", err)
		return
	}
	writeJSON(w, http.StatusAccepted, d)
}

type withdrawalRequest struct {
	Network string          `json:"network"`
	Source  string          `json:"source"`
	Amount  decimal.Decimal `json:"amount"`
}

// RequestWithdrawal handles POST /api/v1/withdrawals.
func (h *AccountHandler) RequestWithdrawal(w http.ResponseWriter, r *http.Request) {
	userID := middleware.UserIDFromCtx(r.Context())
	if userID == uuid.Nil {
		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
		return
	}
	var req withdrawalRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	network, err := models.ParseNetwork(req.Network)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	source, err := models.ParseWithdrawalSource(req.Source)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	wd, err := h.Wallet.RequestWithdrawal(r.Context(), userID, network, source, req.Amount)
	if err != nil {
		writeError(w, h.Logger, "request withdrawal", err)
		return
	}
	writeJSON(w, http.StatusAccepted, wd)
}
