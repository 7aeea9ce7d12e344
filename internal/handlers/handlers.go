package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/stakeladder/backend/internal/jobs"
	"github.com/stakeladder/backend/internal/repository"
	"github.com/stakeladder/backend/internal/services"
	"github.com/stakeladder/backend/internal/wallet"
)

// statusFor maps domain sentinels to an HTTP status. ok is false for
// errors the caller did not cause.
func statusFor(err error) (int, bool) {
	switch {
	case errors.Is(err, services.ErrInvalidPackage),
		errors.Is(err, wallet.ErrInvalidAmount),
		errors.Is(err, wallet.ErrBelowMinimum),
		errors.Is(err, wallet.ErrUnknownNetwork),
		errors.Is(err, wallet.ErrMissingTxRef):
		return http.StatusBadRequest, true
	case errors.Is(err, services.ErrInsufficientFunds):
		return http.StatusPaymentRequired, true
	case errors.Is(err, repository.ErrNotFound):
		return http.StatusNotFound, true
	case errors.Is(err, wallet.ErrDuplicateDeposit),
		errors.Is(err, wallet.ErrSourceExhausted),
		errors.Is(err, wallet.ErrFundingOutstanding),
		errors.Is(err, jobs.ErrRunInProgress):
		return http.StatusConflict, true
	}
	return http.StatusInternalServerError, false
}

func writeError(w http.ResponseWriter, logger *slog.Logger, op string, err error) {
	status, known := statusFor(err)
	if !known {
		logger.Error(op, "error", err)
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}
	if errors.Is(err, repository.ErrNotFound) {
		writeJSON(w, status, map[string]string{"error": "not found"})
		return
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		http.Error(w, `{"error":"invalid JSON"}`, http.StatusBadRequest)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func loggerOrDefault(l *slog.Logger) *slog.Logger {
	if l == nil {
		return slog.Default()
	}
	return l
}
