package state

import (
	"sort"

	"github.com/shopspring/decimal"

	"github.com/zombor/finance-tracker/internal/finance"
)

var hundred = decimal.NewFromInt(100)

// CategorySpending is the receipt total of one category
type CategorySpending struct {
	Category finance.Category `json:"category"`
	Total    decimal.Decimal  `json:"total"`
}

// MonthSpending is the receipt total of one calendar month ("2006-01")
type MonthSpending struct {
	Month string          `json:"month"`
	Total decimal.Decimal `json:"total"`
}

// BudgetProgress is how much of a budget has been used, in percent capped at 100
type BudgetProgress struct {
	Budget  finance.Budget  `json:"budget"`
	Percent decimal.Decimal `json:"percent"`
}

// Insights summarises the loaded data
type Insights struct {
	Total      decimal.Decimal    `json:"total"`
	ByCategory []CategorySpending `json:"by_category"`
	ByMonth    []MonthSpending    `json:"by_month"`
	Budgets    []BudgetProgress   `json:"budgets"`
}

// Insights computes spending per category and month plus budget progress
func (s *Store) Insights() Insights {
	receipts := s.Receipts()
	budgets := s.Budgets()

	out := Insights{
		Total:      decimal.Zero,
		ByCategory: []CategorySpending{},
		ByMonth:    []MonthSpending{},
		Budgets:    make([]BudgetProgress, 0, len(budgets)),
	}

	byCategory := map[finance.Category]decimal.Decimal{}
	byMonth := map[string]decimal.Decimal{}
	for _, r := range receipts {
		out.Total = out.Total.Add(r.Total)
		byCategory[r.Category] = byCategory[r.Category].Add(r.Total)
		month := r.Date.UTC().Format("2006-01")
		byMonth[month] = byMonth[month].Add(r.Total)
	}

	for _, c := range finance.Categories {
		if total, ok := byCategory[c]; ok {
			out.ByCategory = append(out.ByCategory, CategorySpending{Category: c, Total: total})
		}
	}

	for month, total := range byMonth {
		out.ByMonth = append(out.ByMonth, MonthSpending{Month: month, Total: total})
	}
	sort.Slice(out.ByMonth, func(i, j int) bool { return out.ByMonth[i].Month < out.ByMonth[j].Month })

	for _, b := range budgets {
		out.Budgets = append(out.Budgets, BudgetProgress{Budget: b, Percent: percentUsed(b)})
	}

	return out
}

func percentUsed(b finance.Budget) decimal.Decimal {
	if !b.Limit.IsPositive() {
		if b.Spent.IsPositive() {
			return hundred
		}
		return decimal.Zero
	}
	p := b.Spent.Div(b.Limit).Mul(hundred).Round(2)
	if p.GreaterThan(hundred) {
		return hundred
	}
	return p
}
