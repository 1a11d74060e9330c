package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"budgetplanner/internal/core"
)

// goalView adds the derived progress figures to a goal.
type goalView struct {
	core.SavingsGoal
	Remaining decimal.Decimal `json:"remaining"`
	Progress  decimal.Decimal `json:"progress"`
}

func newGoalView(g core.SavingsGoal) goalView {
	return goalView{SavingsGoal: g, Remaining: g.Remaining(), Progress: g.Progress()}
}

func (s *Server) handleListGoals(w http.ResponseWriter, r *http.Request) {
	sess, err := session(r)
	if err != nil {
		writeError(w, r, "list_goals", err)
		return
	}
	goals, err := s.ledger.Goals.ListGoals(r.Context(), sess)
	if err != nil {
		writeError(w, r, "list_goals", err)
		return
	}
	views := make([]goalView, len(goals))
	for i, g := range goals {
		views[i] = newGoalView(g)
	}
	NewJSONResponse().Body(views).Write(w)
}

func (s *Server) handleCreateGoal(w http.ResponseWriter, r *http.Request) {
	sess, err := session(r)
	if err != nil {
		writeError(w, r, "create_goal", err)
		return
	}
	var req goalRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, "create_goal", err)
		return
	}
	goal, err := s.ledger.Goals.CreateGoal(r.Context(), sess, core.NewGoal{
		Name:        sanitizeInput(req.Name),
		TotalAmount: req.TotalAmount.Decimal,
		TargetDate:  sanitizeInput(req.TargetDate),
	})
	if err != nil {
		writeError(w, r, "create_goal", err)
		return
	}
	NewJSONResponse().Status(http.StatusCreated).Body(newGoalView(goal)).Write(w)
}

func (s *Server) handleGetGoal(w http.ResponseWriter, r *http.Request) {
	sess, err := session(r)
	if err != nil {
		writeError(w, r, "get_goal", err)
		return
	}
	goal, err := s.ledger.Goals.GetGoal(r.Context(), sess, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, "get_goal", err)
		return
	}
	NewJSONResponse().Body(newGoalView(goal)).Write(w)
}

// handleDeleteGoal needs ?confirm=true because deposits are not refunded.
func (s *Server) handleDeleteGoal(w http.ResponseWriter, r *http.Request) {
	sess, err := session(r)
	if err != nil {
		writeError(w, r, "delete_goal", err)
		return
	}
	if err := s.ledger.Goals.DeleteGoal(r.Context(), sess, chi.URLParam(r, "id"), confirmed(r)); err != nil {
		writeError(w, r, "delete_goal", err)
		return
	}
	NewJSONResponse().Status(http.StatusNoContent).Write(w)
}

func (s *Server) handleListDeposits(w http.ResponseWriter, r *http.Request) {
	sess, err := session(r)
	if err != nil {
		writeError(w, r, "list_deposits", err)
		return
	}
	deposits, err := s.ledger.Goals.ListDeposits(r.Context(), sess, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, "list_deposits", err)
		return
	}
	NewJSONResponse().Body(deposits).Write(w)
}

func (s *Server) handleDeposit(w http.ResponseWriter, r *http.Request) {
	sess, err := session(r)
	if err != nil {
		writeError(w, r, "deposit", err)
		return
	}
	var req depositRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, "deposit", err)
		return
	}
	amount, err := req.Amount.require("amount")
	if err != nil {
		writeError(w, r, "deposit", err)
		return
	}
	dep, err := s.ledger.Goals.Deposit(r.Context(), sess, chi.URLParam(r, "id"), amount, sanitizeInput(req.AccountID))
	if err != nil {
		writeError(w, r, "deposit", err)
		return
	}
	NewJSONResponse().Status(http.StatusCreated).Body(dep).Write(w)
}
