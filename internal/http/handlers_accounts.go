package http

import (
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"budgetplanner/internal/core"
)

func (s *Server) handleListAccounts(w http.ResponseWriter, r *http.Request) {
	sess, err := session(r)
	if err != nil {
		writeError(w, r, "list_accounts", err)
		return
	}
	accounts, err := s.ledger.Accounts.List(r.Context(), sess)
	if err != nil {
		writeError(w, r, "list_accounts", err)
		return
	}
	NewJSONResponse().Body(accounts).Write(w)
}

func (s *Server) handleCreateAccount(w http.ResponseWriter, r *http.Request) {
	sess, err := session(r)
	if err != nil {
		writeError(w, r, "create_account", err)
		return
	}
	var req accountRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, "create_account", err)
		return
	}
	acc, err := s.ledger.Accounts.Create(r.Context(), sess, core.NewAccount{
		BankName: sanitizeInput(req.BankName),
		Nickname: sanitizeInput(req.Nickname),
		Balance:  req.Balance.Decimal,
	})
	if err != nil {
		writeError(w, r, "create_account", err)
		return
	}
	NewJSONResponse().Status(http.StatusCreated).Body(acc).Write(w)
}

func (s *Server) handleGetAccount(w http.ResponseWriter, r *http.Request) {
	sess, err := session(r)
	if err != nil {
		writeError(w, r, "get_account", err)
		return
	}
	acc, err := s.ledger.Accounts.Get(r.Context(), sess, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, "get_account", err)
		return
	}
	NewJSONResponse().Body(acc).Write(w)
}

// handleDeleteAccount removes the account. Items that reference it keep the
// id, so the caller must confirm.
func (s *Server) handleDeleteAccount(w http.ResponseWriter, r *http.Request) {
	sess, err := session(r)
	if err != nil {
		writeError(w, r, "delete_account", err)
		return
	}
	if !confirmed(r) {
		writeError(w, r, "delete_account",
			fmt.Errorf("%w: budget items keep referencing the deleted account", core.ErrConfirmationRequired))
		return
	}
	if err := s.ledger.Accounts.Delete(r.Context(), sess, chi.URLParam(r, "id")); err != nil {
		writeError(w, r, "delete_account", err)
		return
	}
	NewJSONResponse().Status(http.StatusNoContent).Write(w)
}

func (s *Server) handleSetBalance(w http.ResponseWriter, r *http.Request) {
	sess, err := session(r)
	if err != nil {
		writeError(w, r, "set_balance", err)
		return
	}
	var req balanceRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, "set_balance", err)
		return
	}
	balance, err := req.Balance.require("balance")
	if err != nil {
		writeError(w, r, "set_balance", err)
		return
	}
	acc, err := s.ledger.Accounts.SetBalance(r.Context(), sess, chi.URLParam(r, "id"), balance)
	if err != nil {
		writeError(w, r, "set_balance", err)
		return
	}
	NewJSONResponse().Body(acc).Write(w)
}
