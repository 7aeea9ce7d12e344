package router

import (
	"net/http"

	"github.com/stakeladder/backend/internal/handlers"
	"github.com/stakeladder/backend/internal/middleware"
)

// New returns an http.Handler that serves the API under /api/v1.
// Member routes require a bearer token; admin routes require the admin key.
func New(tokens middleware.TokenValidator, adminKeyHash string, account *handlers.AccountHandler, admin *handlers.AdminHandler) http.Handler {
	mux := http.NewServeMux()
	base := "/api/v1"

	member := middleware.BearerAuth(tokens)
	mux.Handle(base+"/activations", member(methodPOST(account.Activate)))
	mux.Handle(base+"/wallet", member(methodGET(account.GetWallet)))
	mux.Handle(base+"/deposits", member(methodPOST(account.RequestDeposit)))
	mux.Handle(base+"/withdrawals", member(methodPOST(account.RequestWithdrawal)))

	operator := middleware.AdminKey(adminKeyHash)
	mux.Handle(base+"/admin/awards", operator(methodPOST(admin.GrantAward)))
	mux.Handle(base+"/admin/fundings", operator(methodPOST(admin.OpenFunding)))
	mux.Handle(base+"/admin/accrual/run", operator(methodPOST(admin.RunAccrual)))

	return mux
}

func methodGET(h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		h(w, r)
	}
}

func methodPOST(h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		h(w, r)
	}
}
