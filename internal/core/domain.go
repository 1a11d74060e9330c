package core

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const (
	CategoryNeeds    Category = "needs"
	CategoryWants    Category = "wants"
	CategorySavings  Category = "savings"
	CategorySpending Category = "spending"
	CategoryDebt     Category = "debt"
	CategoryIncome   Category = "income"
)

// RecurringPrefix marks budget items posted by the recurring bill engine.
const RecurringPrefix = "[Auto] "

const dateLayout = "2006-01-02"

type (
	Category string

	Account struct {
		ID       string          `json:"id"`
		BankName string          `json:"bankName"`
		Nickname string          `json:"nickname"`
		Balance  decimal.Decimal `json:"balance"`
	}

	BudgetItem struct {
		ID          string          `json:"id"`
		Name        string          `json:"name"`
		Amount      decimal.Decimal `json:"amount"`
		Category    Category        `json:"category"`
		Date        string          `json:"date"` // YYYY-MM-DD
		AccountID   string          `json:"accountId"`
		ToAccountID string          `json:"toAccountId,omitempty"`
		IsRecurring bool            `json:"isRecurring"`
		RecurringID string          `json:"recurringId,omitempty"`
		CreatedAt   time.Time       `json:"createdAt"`
	}

	MonthBudget struct {
		Income decimal.Decimal `json:"income"`
		Rule   Rule            `json:"budgetRule"`
	}

	RecurringItem struct {
		ID                 string          `json:"id"`
		Name               string          `json:"name"`
		Amount             decimal.Decimal `json:"amount"`
		DayOfMonth         int             `json:"dayOfMonth"`
		Category           Category        `json:"category"`
		AccountID          string          `json:"accountId,omitempty"`
		LastProcessedMonth MonthKey        `json:"lastProcessedMonth"`
	}

	SavingsGoal struct {
		ID          string          `json:"id"`
		Name        string          `json:"name"`
		TotalAmount decimal.Decimal `json:"totalAmount"`
		TargetDate  string          `json:"targetDate"`
		CreatedAt   time.Time       `json:"createdAt"`
		// Saved is the running total maintained alongside every deposit.
		Saved decimal.Decimal `json:"saved"`
	}

	Deposit struct {
		ID        string          `json:"id"`
		Amount    decimal.Decimal `json:"amount"`
		AccountID string          `json:"accountId"`
		Date      string          `json:"date"`
	}
)

// Categories lists every category in display order.
var Categories = []Category{
	CategoryNeeds, CategoryWants, CategorySavings,
	CategorySpending, CategoryDebt, CategoryIncome,
}

func (c Category) IsValid() bool {
	for _, known := range Categories {
		if c == known {
			return true
		}
	}
	return false
}

// IsTransfer reports whether items of this category move money between two accounts.
func (c Category) IsTransfer() bool {
	return c == CategorySavings
}

// DefaultMonthBudget is the value of a month that has never been written.
func DefaultMonthBudget() MonthBudget {
	return MonthBudget{Income: decimal.Zero, Rule: DefaultRule}
}

// Remaining is how much is left to reach the goal, never negative.
func (g SavingsGoal) Remaining() decimal.Decimal {
	rem := g.TotalAmount.Sub(g.Saved)
	if rem.IsNegative() {
		return decimal.Zero
	}
	return rem
}

// Progress is the saved share of the target in percent, capped at 100.
func (g SavingsGoal) Progress() decimal.Decimal {
	if !g.TotalAmount.IsPositive() {
		return decimal.Zero
	}
	p := g.Saved.Div(g.TotalAmount).Mul(decimal.NewFromInt(100)).Round(1)
	if p.GreaterThan(decimal.NewFromInt(100)) {
		return decimal.NewFromInt(100)
	}
	return p
}

// Input types carry user-supplied fields before ids and timestamps are assigned.
type (
	NewAccount struct {
		BankName string          `json:"bankName"`
		Nickname string          `json:"nickname"`
		Balance  decimal.Decimal `json:"balance"`
	}

	NewItem struct {
		Name        string          `json:"name"`
		Amount      decimal.Decimal `json:"amount"`
		Date        string          `json:"date"`
		AccountID   string          `json:"accountId"`
		ToAccountID string          `json:"toAccountId,omitempty"`
	}

	NewRecurring struct {
		Name       string          `json:"name"`
		Amount     decimal.Decimal `json:"amount"`
		DayOfMonth int             `json:"dayOfMonth"`
		Category   Category        `json:"category"`
		AccountID  string          `json:"accountId,omitempty"`
	}

	NewGoal struct {
		Name        string          `json:"name"`
		TotalAmount decimal.Decimal `json:"totalAmount"`
		TargetDate  string          `json:"targetDate"`
	}
)

func (a NewAccount) Validate() error {
	if strings.TrimSpace(a.BankName) == "" {
		return Invalid("bankName", "is required")
	}
	if len(a.BankName) > 100 {
		return Invalid("bankName", "too long")
	}
	if len(a.Nickname) > 100 {
		return Invalid("nickname", "too long")
	}
	return nil
}

// Validate checks an item for the given category. Transfer destinations are
// only accepted on transfer categories and must differ from the source.
func (n NewItem) Validate(c Category) error {
	if strings.TrimSpace(n.Name) == "" {
		return Invalid("name", "is required")
	}
	if len(n.Name) > 200 {
		return Invalid("name", "too long")
	}
	if err := ValidateAmount("amount", n.Amount); err != nil {
		return err
	}
	if n.AccountID == "" {
		return Invalid("accountId", "is required")
	}
	if !c.IsValid() {
		return Invalid("category", "unknown category")
	}
	if err := ValidateDate("date", n.Date); err != nil {
		return err
	}
	if n.ToAccountID != "" {
		if !c.IsTransfer() {
			return Invalid("toAccountId", "only allowed on savings transfers")
		}
		if n.ToAccountID == n.AccountID {
			return Invalid("toAccountId", "must differ from accountId")
		}
	}
	return nil
}

func (r NewRecurring) Validate() error {
	if strings.TrimSpace(r.Name) == "" {
		return Invalid("name", "is required")
	}
	if err := ValidateAmount("amount", r.Amount); err != nil {
		return err
	}
	if r.DayOfMonth < 1 || r.DayOfMonth > 31 {
		return Invalid("dayOfMonth", ErrInvalidDay.Error())
	}
	if !r.Category.IsValid() {
		return Invalid("category", "unknown category")
	}
	return nil
}

func (g NewGoal) Validate() error {
	if strings.TrimSpace(g.Name) == "" {
		return Invalid("name", "is required")
	}
	if err := ValidateAmount("totalAmount", g.TotalAmount); err != nil {
		return err
	}
	return ValidateDate("targetDate", g.TargetDate)
}

// ValidateDate checks a YYYY-MM-DD calendar date.
func ValidateDate(field, s string) error {
	if s == "" {
		return Invalid(field, "is required")
	}
	if _, err := time.Parse(dateLayout, s); err != nil {
		return Invalid(field, ErrInvalidDate.Error())
	}
	return nil
}

// FormatDate renders t as a ledger date.
func FormatDate(t time.Time) string {
	return t.Format(dateLayout)
}
