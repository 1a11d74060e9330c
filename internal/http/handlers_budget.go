package http

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"budgetplanner/internal/auth"
	"budgetplanner/internal/core"
	applog "budgetplanner/internal/log"
)

// monthRequest resolves the caller and the {month} parameter.
func monthRequest(r *http.Request) (auth.Session, core.MonthKey, error) {
	sess, err := session(r)
	if err != nil {
		return auth.Session{}, "", err
	}
	month, err := monthParam(r)
	if err != nil {
		return auth.Session{}, "", err
	}
	return sess, month, nil
}

func (s *Server) handleMonthSummary(w http.ResponseWriter, r *http.Request) {
	sess, month, err := monthRequest(r)
	if err != nil {
		writeError(w, r, "month_summary", err)
		return
	}
	if summary, ok := s.summaries.Get(sess.UserID, month); ok {
		NewJSONResponse().Header("X-Cache", "HIT").Body(summary).Write(w)
		return
	}
	token := s.summaries.Begin()
	summary, err := s.ledger.Budget.Summary(r.Context(), sess, month)
	if err != nil {
		writeError(w, r, "month_summary", err)
		return
	}
	s.summaries.Put(token, sess.UserID, month, summary)
	NewJSONResponse().Header("X-Cache", "MISS").Body(summary).Write(w)
}

func (s *Server) handleSetIncome(w http.ResponseWriter, r *http.Request) {
	sess, month, err := monthRequest(r)
	if err != nil {
		writeError(w, r, "set_income", err)
		return
	}
	var req incomeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, "set_income", err)
		return
	}
	income, err := req.Income.require("income")
	if err != nil {
		writeError(w, r, "set_income", err)
		return
	}
	budget, err := s.ledger.Budget.SetIncome(r.Context(), sess, month, income)
	s.summaries.Invalidate(sess.UserID, month)
	if err != nil {
		writeError(w, r, "set_income", err)
		return
	}
	NewJSONResponse().Body(budget).Write(w)
}

func (s *Server) handleSetRule(w http.ResponseWriter, r *http.Request) {
	sess, month, err := monthRequest(r)
	if err != nil {
		writeError(w, r, "set_rule", err)
		return
	}
	var req ruleRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, "set_rule", err)
		return
	}
	budget, err := s.ledger.Budget.SetRule(r.Context(), sess, month, req.Rule)
	s.summaries.Invalidate(sess.UserID, month)
	if err != nil {
		writeError(w, r, "set_rule", err)
		return
	}
	NewJSONResponse().Body(budget).Write(w)
}

// handleActivateMonth posts the month's recurring bills, either inline or by
// handing the month to the worker queue.
func (s *Server) handleActivateMonth(w http.ResponseWriter, r *http.Request) {
	sess, month, err := monthRequest(r)
	if err != nil {
		writeError(w, r, "activate_month", err)
		return
	}

	if s.queue != nil {
		err := s.queue.PublishRecurringRequest(r.Context(), sess.UserID, month.String())
		if err == nil {
			NewJSONResponse().
				Status(http.StatusAccepted).
				Body(map[string]string{"status": "queued", "month": month.String()}).
				Write(w)
			return
		}
		slog.WarnContext(r.Context(), "Recurring queue unavailable, processing inline",
			applog.FieldUserID, sess.UserID,
			applog.FieldMonthKey, month,
			"error", err)
	}

	report, err := s.ledger.Recurring.ProcessRecurringBills(r.Context(), sess, month)
	s.summaries.Invalidate(sess.UserID, month)
	if err != nil {
		writeError(w, r, "activate_month", err)
		return
	}
	NewJSONResponse().Body(report).Write(w)
}

func (s *Server) handleListItems(w http.ResponseWriter, r *http.Request) {
	sess, month, err := monthRequest(r)
	if err != nil {
		writeError(w, r, "list_items", err)
		return
	}
	items, err := s.ledger.Budget.ListItems(r.Context(), sess, month)
	if err != nil {
		writeError(w, r, "list_items", err)
		return
	}
	NewJSONResponse().Body(items).Write(w)
}

func (s *Server) handleAddItem(w http.ResponseWriter, r *http.Request) {
	sess, month, err := monthRequest(r)
	if err != nil {
		writeError(w, r, "add_item", err)
		return
	}
	var req itemRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, "add_item", err)
		return
	}
	item, err := s.ledger.Budget.AddItem(r.Context(), sess, month, req.toNewItem(), req.Category)
	if err != nil {
		writeError(w, r, "add_item", err)
		return
	}
	s.summaries.Invalidate(sess.UserID, month)
	NewJSONResponse().Status(http.StatusCreated).Body(item).Write(w)
}

func (s *Server) handleDeleteItem(w http.ResponseWriter, r *http.Request) {
	sess, month, err := monthRequest(r)
	if err != nil {
		writeError(w, r, "delete_item", err)
		return
	}
	item, err := s.ledger.Budget.DeleteItem(r.Context(), sess, month, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, "delete_item", err)
		return
	}
	s.summaries.Invalidate(sess.UserID, month)
	NewJSONResponse().Body(item).Write(w)
}
