// This file implements decoding and validation of JSON request bodies.

package http

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/shopspring/decimal"

	"budgetplanner/internal/core"
)

const maxBodyBytes = 64 << 10

// decodeJSON reads a single JSON object into v. Unknown fields are rejected.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	body := http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		var maxErr *http.MaxBytesError
		switch {
		case errors.Is(err, core.ErrValidation):
			return err
		case errors.As(err, &maxErr):
			return fmt.Errorf("%w: body too large", errBadRequest)
		case errors.Is(err, io.EOF):
			return fmt.Errorf("%w: empty body", errBadRequest)
		default:
			return fmt.Errorf("%w: %v", errBadRequest, err)
		}
	}
	if dec.More() {
		return fmt.Errorf("%w: trailing data after JSON object", errBadRequest)
	}
	return nil
}

// Amount accepts a JSON number or a string using either a dot or a comma
// as decimal separator. Values are rounded half-up to cents. A leading minus
// and zero are accepted here; each operation decides which signs it allows.
type Amount struct {
	decimal.Decimal
	set bool
}

func (a *Amount) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		return nil
	}
	s := string(data)
	if strings.HasPrefix(s, `"`) {
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
	}
	d, err := parseAmount(s)
	if err != nil {
		return core.Invalid("amount", "not a number")
	}
	a.Decimal, a.set = d, true
	return nil
}

// parseAmount extends core.ParseAmount with signed and zero values.
func parseAmount(s string) (decimal.Decimal, error) {
	mag, neg := strings.CutPrefix(strings.TrimSpace(s), "-")
	d, err := core.ParseAmount(mag)
	if err != nil {
		if isZeroAmount(mag) {
			return decimal.Zero, nil
		}
		return decimal.Zero, err
	}
	if neg {
		d = d.Neg()
	}
	return d, nil
}

func isZeroAmount(s string) bool {
	s = strings.ReplaceAll(strings.TrimSpace(s), ",", ".")
	return strings.ContainsRune(s, '0') && strings.Trim(s, "0.") == "" && strings.Count(s, ".") <= 1
}

func (a Amount) require(field string) (decimal.Decimal, error) {
	if !a.set {
		return decimal.Zero, core.Invalid(field, "is required")
	}
	return a.Decimal, nil
}

type accountRequest struct {
	BankName string `json:"bankName"`
	Nickname string `json:"nickname"`
	Balance  Amount `json:"balance"`
}

type balanceRequest struct {
	Balance Amount `json:"balance"`
}

type incomeRequest struct {
	Income Amount `json:"income"`
}

type ruleRequest struct {
	Rule core.Rule `json:"budgetRule"`
}

type itemRequest struct {
	Name        string        `json:"name"`
	Amount      Amount        `json:"amount"`
	Category    core.Category `json:"category"`
	Date        string        `json:"date"`
	AccountID   string        `json:"accountId"`
	ToAccountID string        `json:"toAccountId"`
}

func (req itemRequest) toNewItem() core.NewItem {
	return core.NewItem{
		Name:        sanitizeInput(req.Name),
		Amount:      req.Amount.Decimal,
		Date:        strings.TrimSpace(req.Date),
		AccountID:   strings.TrimSpace(req.AccountID),
		ToAccountID: strings.TrimSpace(req.ToAccountID),
	}
}

type recurringRequest struct {
	Name       string        `json:"name"`
	Amount     Amount        `json:"amount"`
	DayOfMonth int           `json:"dayOfMonth"`
	Category   core.Category `json:"category"`
	AccountID  string        `json:"accountId"`
}

type goalRequest struct {
	Name        string `json:"name"`
	TotalAmount Amount `json:"totalAmount"`
	TargetDate  string `json:"targetDate"`
}

type depositRequest struct {
	Amount    Amount `json:"amount"`
	AccountID string `json:"accountId"`
}
