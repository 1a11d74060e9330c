package core

import "github.com/shopspring/decimal"

// CategorySummary compares what was spent in a category against its limit.
// Over-budget is informational; nothing prevents spending past the limit.
type CategorySummary struct {
	Category   Category        `json:"category"`
	Percent    int64           `json:"percent"`
	Limit      decimal.Decimal `json:"limit"`
	Spent      decimal.Decimal `json:"spent"`
	Remaining  decimal.Decimal `json:"remaining"`
	OverBudget bool            `json:"overBudget"`
}

// MonthSummary is a compact overview of one budgeting month.
type MonthSummary struct {
	Month       MonthKey          `json:"month"`
	Income      decimal.Decimal   `json:"income"`
	Rule        Rule              `json:"budgetRule"`
	Categories  []CategorySummary `json:"categories"`
	TotalSpent  decimal.Decimal   `json:"totalSpent"`
	Saved       decimal.Decimal   `json:"saved"`
	SavingsRate decimal.Decimal   `json:"savingsRate"`
	ItemCount   int               `json:"itemCount"`
}

// Summarize builds the month overview. Categories outside the rule still show
// up when they have spending, with a zero limit.
func Summarize(month MonthKey, budget MonthBudget, items []BudgetItem) MonthSummary {
	rule := budget.Rule
	if !rule.IsValid() {
		rule = DefaultRule
	}
	spent := make(map[Category]decimal.Decimal)
	total := decimal.Zero
	for _, it := range items {
		spent[it.Category] = spent[it.Category].Add(it.Amount)
		total = total.Add(it.Amount)
	}

	s := MonthSummary{
		Month:      month,
		Income:     budget.Income,
		Rule:       rule,
		TotalSpent: total,
		ItemCount:  len(items),
	}
	seen := make(map[Category]bool)
	for _, a := range rule.Allocations() {
		seen[a.Category] = true
		s.Categories = append(s.Categories, categorySummary(a.Category, a.Percent, a.Limit(budget.Income), spent[a.Category]))
	}
	for _, c := range Categories {
		if seen[c] || !spent[c].IsPositive() {
			continue
		}
		s.Categories = append(s.Categories, categorySummary(c, 0, decimal.Zero, spent[c]))
	}

	s.Saved = budget.Income.Sub(total)
	if s.Saved.IsNegative() {
		s.Saved = decimal.Zero
	}
	s.SavingsRate = decimal.Zero
	if budget.Income.IsPositive() {
		s.SavingsRate = s.Saved.Div(budget.Income).Mul(decimal.NewFromInt(100)).Round(1)
	}
	return s
}

func categorySummary(c Category, pct int64, limit, spent decimal.Decimal) CategorySummary {
	return CategorySummary{
		Category:   c,
		Percent:    pct,
		Limit:      limit,
		Spent:      spent,
		Remaining:  limit.Sub(spent),
		OverBudget: spent.GreaterThan(limit),
	}
}
