package core

import "github.com/shopspring/decimal"

const (
	Rule503020 Rule = "50/30/20"
	Rule8020   Rule = "80/20"
	Rule702010 Rule = "70/20/10"

	DefaultRule = Rule503020
)

// Rule splits monthly income between categories.
type Rule string

// Allocation is one category's share of income under a rule.
type Allocation struct {
	Category Category
	Percent  int64
}

var ruleAllocations = map[Rule][]Allocation{
	Rule503020: {{CategoryNeeds, 50}, {CategoryWants, 30}, {CategorySavings, 20}},
	Rule8020:   {{CategorySpending, 80}, {CategorySavings, 20}},
	Rule702010: {{CategorySpending, 70}, {CategorySavings, 20}, {CategoryDebt, 10}},
}

func (r Rule) IsValid() bool {
	_, ok := ruleAllocations[r]
	return ok
}

// Allocations returns the category split for r, or nil for unknown rules.
func (r Rule) Allocations() []Allocation {
	return ruleAllocations[r]
}

// Limit is the amount of income the allocation reserves.
func (a Allocation) Limit(income decimal.Decimal) decimal.Decimal {
	return income.Mul(decimal.NewFromInt(a.Percent)).Div(decimal.NewFromInt(100)).Round(2)
}
