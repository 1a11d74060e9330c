package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"budgetplanner/internal/amqp"
	"budgetplanner/internal/auth"
	"budgetplanner/internal/core"
	applog "budgetplanner/internal/log"
	"budgetplanner/internal/services"
)

// RecurringPoster posts a user's recurring bills into a month.
type RecurringPoster interface {
	ProcessRecurringBills(ctx context.Context, sess auth.Session, month core.MonthKey) (services.ProcessReport, error)
}

// RecurringWorker handles recurring requests taken off the queue.
type RecurringWorker struct {
	poster RecurringPoster
}

func NewRecurringWorker(poster RecurringPoster) *RecurringWorker {
	return &RecurringWorker{poster: poster}
}

// HandleRecurringRequest posts the requested month. Requests that can never
// succeed are logged and dropped; other errors are returned so the message
// is redelivered. Bills that fail individually are not retried here, the
// next request for the month picks them up again.
func (w *RecurringWorker) HandleRecurringRequest(ctx context.Context, msg *amqp.RecurringRequest) error {
	sess, err := auth.NewSession(msg.UserID)
	if err != nil {
		slog.WarnContext(ctx, "Dropping recurring request without user", applog.FieldMonthKey, msg.Month)
		return nil
	}
	month, err := core.ParseMonthKey(msg.Month)
	if err != nil {
		slog.WarnContext(ctx, "Dropping recurring request with invalid month",
			applog.FieldUserID, msg.UserID,
			applog.FieldMonthKey, msg.Month)
		return nil
	}

	report, err := w.poster.ProcessRecurringBills(ctx, sess, month)
	if errors.Is(err, core.ErrValidation) {
		slog.WarnContext(ctx, "Dropping invalid recurring request", applog.FieldUserID, msg.UserID, applog.FieldError, err)
		return nil
	}
	if err != nil {
		return fmt.Errorf("process recurring bills: %w", err)
	}

	slog.InfoContext(ctx, "Recurring request handled",
		applog.FieldUserID, msg.UserID,
		applog.FieldMonthKey, month,
		"posted", report.Posted,
		"skipped", report.Skipped,
		"failed", report.Failed,
		"requested_at", msg.Timestamp)
	return nil
}
