package http

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"budgetplanner/internal/core"
	"budgetplanner/internal/services"
)

const maxUpcomingWindow = 62

func (s *Server) handleListRecurring(w http.ResponseWriter, r *http.Request) {
	sess, err := session(r)
	if err != nil {
		writeError(w, r, "list_recurring", err)
		return
	}
	items, err := s.ledger.Recurring.List(r.Context(), sess)
	if err != nil {
		writeError(w, r, "list_recurring", err)
		return
	}
	NewJSONResponse().Body(items).Write(w)
}

func (s *Server) handleCreateRecurring(w http.ResponseWriter, r *http.Request) {
	sess, err := session(r)
	if err != nil {
		writeError(w, r, "create_recurring", err)
		return
	}
	var req recurringRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, "create_recurring", err)
		return
	}
	item, err := s.ledger.Recurring.Create(r.Context(), sess, core.NewRecurring{
		Name:       sanitizeInput(req.Name),
		Amount:     req.Amount.Decimal,
		DayOfMonth: req.DayOfMonth,
		Category:   req.Category,
		AccountID:  sanitizeInput(req.AccountID),
	})
	if err != nil {
		writeError(w, r, "create_recurring", err)
		return
	}
	NewJSONResponse().Status(http.StatusCreated).Body(item).Write(w)
}

// handleUpcoming lists bills due within ?days= (default 7) from today.
func (s *Server) handleUpcoming(w http.ResponseWriter, r *http.Request) {
	sess, err := session(r)
	if err != nil {
		writeError(w, r, "upcoming", err)
		return
	}
	window := services.DefaultUpcomingWindow
	if v := r.URL.Query().Get("days"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 || n > maxUpcomingWindow {
			writeError(w, r, "upcoming", core.Invalid("days", "must be between 0 and 62"))
			return
		}
		window = n
	}
	bills, err := s.ledger.Recurring.Upcoming(r.Context(), sess, s.now(), window)
	if err != nil {
		writeError(w, r, "upcoming", err)
		return
	}
	NewJSONResponse().Body(bills).Write(w)
}

func (s *Server) handleDeleteRecurring(w http.ResponseWriter, r *http.Request) {
	sess, err := session(r)
	if err != nil {
		writeError(w, r, "delete_recurring", err)
		return
	}
	if err := s.ledger.Recurring.Delete(r.Context(), sess, chi.URLParam(r, "id")); err != nil {
		writeError(w, r, "delete_recurring", err)
		return
	}
	NewJSONResponse().Status(http.StatusNoContent).Write(w)
}
