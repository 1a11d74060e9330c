package http

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"budgetplanner/internal/auth"
	"budgetplanner/internal/core"
)

// session returns the caller's identity set by auth.Middleware.
func session(r *http.Request) (auth.Session, error) {
	sess, ok := auth.FromContext(r.Context())
	if !ok {
		return auth.Session{}, auth.ErrNoSession
	}
	return sess, nil
}

func monthParam(r *http.Request) (core.MonthKey, error) {
	month, err := core.ParseMonthKey(chi.URLParam(r, "month"))
	if err != nil {
		return "", core.Invalid("month", "must be YYYY-MM")
	}
	return month, nil
}

// confirmed reports whether the request carries ?confirm=true.
func confirmed(r *http.Request) bool {
	ok, _ := strconv.ParseBool(r.URL.Query().Get("confirm"))
	return ok
}

// sanitizeInput removes control characters and trims whitespace.
func sanitizeInput(s string) string {
	return strings.Map(func(r rune) rune {
		if r < 32 && r != '\t' {
			return -1
		}
		return r
	}, strings.TrimSpace(s))
}
