package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/stakeladder/backend/internal/jobs"
	"github.com/stakeladder/backend/internal/models"
)

type AdminWallet interface {
	GrantAward(ctx context.Context, userID uuid.UUID, rank string, amount decimal.Decimal) (*models.AwardEntry, error)
	OpenFunding(ctx context.Context, userID uuid.UUID, amount decimal.Decimal) (*models.Funding, error)
}

type AccrualRunner interface {
	Run(ctx context.Context) (jobs.Summary, error)
}

// AdminHandler serves the operator endpoints behind the admin key.
type AdminHandler struct {
	Wallet  AdminWallet
	Accrual AccrualRunner
	Logger  *slog.Logger
}

func NewAdminHandler(w AdminWallet, accrual AccrualRunner, logger *slog.Logger) *AdminHandler {
	return &AdminHandler{Wallet: w, Accrual: accrual, Logger: loggerOrDefault(logger)}
}

type awardRequest struct {
	UserID uuid.UUID       `json:"user_id"`
	Rank   string          `json:"rank"`
	Amount decimal.Decimal `json:"amount"`
}

// GrantAward handles POST /api/v1/admin/awards.
func (h *AdminHandler) GrantAward(w http.ResponseWriter, r *http.Request) {
	var req awardRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	req.Rank = strings.TrimSpace(req.Rank)
	if req.UserID == uuid.Nil || req.Rank == "" {
		http.Error(w, `{"error":"user_id and rank are required"}`, http.StatusBadRequest)
		return
	}

	e, err := h.Wallet.GrantAward(r.Context(), req.UserID, req.Rank, req.Amount)
	if err != nil {
		writeError(w, h.Logger, "grant award", err)
		return
	}
	writeJSON(w, http.StatusCreated, e)
}

type fundingRequest struct {
	UserID uuid.UUID       `json:"user_id"`
	Amount decimal.Decimal `json:"amount"`
}

// OpenFunding handles POST /api/v1/admin/fundings.
func (h *AdminHandler) OpenFunding(w http.ResponseWriter, r *http.Request) {
	var req fundingRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.UserID == uuid.Nil {
		http.Error(w, `{"error":"user_id is required"}`, http.StatusBadRequest)
		return
	}

	f, err := h.Wallet.OpenFunding(r.Context(), req.UserID, req.Amount)
	if err != nil {
		writeError(w, h.Logger, "open funding", err)
		return
	}
	writeJSON(w, http.StatusCreated, f)
}

// RunAccrual handles POST /api/v1/admin/accrual/run. A run already in
// progress answers 409.
func (h *AdminHandler) RunAccrual(w http.ResponseWriter, r *http.Request) {
	sum, err := h.Accrual.Run(r.Context())
	if err != nil {
		writeError(w, h.Logger, "run accrual", err)
		return
	}
	writeJSON(w, http.StatusOK, sum)
}
