package service

import (
	"context"
	"math"

	"github.com/rs/zerolog"

	"github.com/hundehilfe/kassenbuch/internal/database/repository"
	"github.com/hundehilfe/kassenbuch/internal/taxonomy"
)

// CategorySummary is the per-category slice of a year's totals.
type CategorySummary struct {
	Category taxonomy.Category
	Total    float64
	Count    int
	Percent  float64 // share of the side's total, 0 when the side is empty
}

// YearSummary aggregates one calendar year. Duplicates and transfers are
// excluded everywhere; this is what makes the linker's output meaningful
// rather than cosmetic.
type YearSummary struct {
	Year         int
	TotalIncome  float64
	TotalExpense float64
	Balance      float64
	Income       []CategorySummary
	Expense      []CategorySummary
}

// SummaryService computes the read contracts the rendering layer
// depends on.
type SummaryService struct {
	Transactions *repository.TransactionRepo
	Log          zerolog.Logger
}

// YearSummary computes totals and per-category breakdowns for the given
// calendar year. Categories appear in their declared order; callers that
// want magnitude order must sort explicitly.
func (s *SummaryService) YearSummary(ctx context.Context, year int) (YearSummary, error) {
	txs, err := s.Transactions.ByYear(ctx, year)
	if err != nil {
		return YearSummary{}, err
	}
	return SummarizeYear(year, txs), nil
}

// SummarizeYear is the pure aggregation over an already-filtered set.
func SummarizeYear(year int, txs []repository.Transaction) YearSummary {
	totals := make(map[taxonomy.Category]float64)
	counts := make(map[taxonomy.Category]int)

	sum := YearSummary{Year: year}
	for _, t := range txs {
		if t.Duplicate || t.Type == taxonomy.TypeTransfer || t.Category == taxonomy.CategoryTransfer {
			continue
		}
		if t.Date.Year() != year {
			continue
		}
		switch t.Type {
		case taxonomy.TypeIncome:
			sum.TotalIncome += t.Amount
			totals[t.Category] += t.Amount
		case taxonomy.TypeExpense:
			sum.TotalExpense += math.Abs(t.Amount)
			totals[t.Category] += math.Abs(t.Amount)
		}
		counts[t.Category]++
	}
	sum.Balance = sum.TotalIncome - sum.TotalExpense

	sum.Income = sideBreakdown(taxonomy.IncomeCategories, totals, counts, sum.TotalIncome)
	sum.Expense = sideBreakdown(taxonomy.ExpenseCategories, totals, counts, sum.TotalExpense)
	return sum
}

func sideBreakdown(order []taxonomy.Category, totals map[taxonomy.Category]float64, counts map[taxonomy.Category]int, sideTotal float64) []CategorySummary {
	var out []CategorySummary
	for _, c := range order {
		if counts[c] == 0 {
			continue
		}
		cs := CategorySummary{Category: c, Total: totals[c], Count: counts[c]}
		if sideTotal != 0 {
			cs.Percent = totals[c] / sideTotal * 100
		}
		out = append(out, cs)
	}
	return out
}

// TransactionsByYear lists a year's transactions newest-first for
// per-row display.
func (s *SummaryService) TransactionsByYear(ctx context.Context, year int) ([]repository.Transaction, error) {
	return s.Transactions.ByYear(ctx, year)
}
