// Package http serves the ledger as a JSON API.
//
// This file implements the builder used by every handler to write JSON
// bodies, and the mapping from ledger errors to status codes.

package http

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"budgetplanner/internal/auth"
	"budgetplanner/internal/core"
	applog "budgetplanner/internal/log"
	"budgetplanner/internal/txn"
)

// JSONResponseBuilder provides a fluent API for building JSON responses.
type JSONResponseBuilder struct {
	statusCode int
	headers    map[string]string
	body       any
}

// NewJSONResponse creates a new response builder with default 200 status.
func NewJSONResponse() *JSONResponseBuilder {
	return &JSONResponseBuilder{
		statusCode: http.StatusOK,
		headers:    make(map[string]string),
	}
}

func (b *JSONResponseBuilder) Status(code int) *JSONResponseBuilder {
	b.statusCode = code
	return b
}

func (b *JSONResponseBuilder) Header(name, value string) *JSONResponseBuilder {
	b.headers[name] = value
	return b
}

// Body sets the value encoded as the response body. A nil body sends no content.
func (b *JSONResponseBuilder) Body(v any) *JSONResponseBuilder {
	b.body = v
	return b
}

// Write sends the built response to the http.ResponseWriter.
func (b *JSONResponseBuilder) Write(w http.ResponseWriter) {
	for name, value := range b.headers {
		w.Header().Set(name, value)
	}
	if b.body == nil {
		w.WriteHeader(b.statusCode)
		return
	}

	data, err := json.Marshal(b.body)
	if err != nil {
		slog.Error("Failed to encode response", "error", err)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":"internal_error","message":"internal error"}`))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(b.statusCode)
	_, _ = w.Write(data)
	_, _ = w.Write([]byte("\n"))
}

// ErrorBody is the JSON shape of every error response.
type ErrorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Field   string `json:"field,omitempty"`
}

// ErrorResponse creates a standard error response.
func ErrorResponse(statusCode int, code, message string) *JSONResponseBuilder {
	return NewJSONResponse().
		Status(statusCode).
		Body(ErrorBody{Error: code, Message: message})
}

func BadRequestError(message string) *JSONResponseBuilder {
	return ErrorResponse(http.StatusBadRequest, "bad_request", message)
}

func NotFoundError(message string) *JSONResponseBuilder {
	return ErrorResponse(http.StatusNotFound, "not_found", message)
}

func InternalServerError() *JSONResponseBuilder {
	return ErrorResponse(http.StatusInternalServerError, "internal_error", "internal error")
}

// errBadRequest marks malformed requests that never reached the ledger.
var errBadRequest = errors.New("bad request")

// ConflictMessage is shown when a transaction ran out of retries.
const ConflictMessage = "action failed, please retry"

// errorResponse maps a ledger error to its response.
func errorResponse(err error) *JSONResponseBuilder {
	var verr *core.ValidationError
	switch {
	case errors.Is(err, errBadRequest):
		return BadRequestError(err.Error())
	case errors.As(err, &verr):
		resp := ErrorBody{Error: "validation_error", Message: verr.Error(), Field: verr.Field}
		return NewJSONResponse().Status(http.StatusUnprocessableEntity).Body(resp)
	case errors.Is(err, core.ErrValidation),
		errors.Is(err, core.ErrInvalidAmount),
		errors.Is(err, core.ErrInvalidMonth),
		errors.Is(err, core.ErrInvalidDay),
		errors.Is(err, core.ErrInvalidDate):
		return ErrorResponse(http.StatusUnprocessableEntity, "validation_error", err.Error())
	case errors.Is(err, auth.ErrNoSession):
		return ErrorResponse(http.StatusUnauthorized, "unauthorized", "missing user identity")
	case errors.Is(err, core.ErrAccountNotFound),
		errors.Is(err, core.ErrItemNotFound),
		errors.Is(err, core.ErrRecurringNotFound),
		errors.Is(err, core.ErrGoalNotFound):
		return NotFoundError(err.Error())
	case errors.Is(err, core.ErrConfirmationRequired):
		return ErrorResponse(http.StatusPreconditionRequired, "confirmation_required", err.Error())
	case errors.Is(err, txn.ErrTransactionConflict):
		return ErrorResponse(http.StatusConflict, "conflict", ConflictMessage)
	default:
		return InternalServerError()
	}
}

// writeError logs err at a level matching its status and writes the response.
func writeError(w http.ResponseWriter, r *http.Request, op string, err error) {
	resp := errorResponse(err)
	level := slog.LevelWarn
	if resp.statusCode >= 500 {
		level = slog.LevelError
	}
	fields := applog.NewFields().
		WithOperation(op).
		WithError(err, errorType(resp.statusCode))
	fields[applog.FieldStatusCode] = resp.statusCode
	applog.FromContext(r.Context()).Fields(r.Context(), level, "Request failed", fields)
	resp.Write(w)
}

// errorType classifies a failed request for log filtering.
func errorType(status int) string {
	switch status {
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		return applog.ErrorTypeValidation
	case http.StatusUnauthorized:
		return applog.ErrorTypeAuth
	case http.StatusNotFound:
		return applog.ErrorTypeNotFound
	case http.StatusConflict:
		return applog.ErrorTypeConflict
	case http.StatusPreconditionRequired:
		return applog.ErrorTypeConfirmation
	default:
		return applog.ErrorTypeInternal
	}
}
