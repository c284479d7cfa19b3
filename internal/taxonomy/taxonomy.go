// Package taxonomy defines the closed set of income, expense and transfer
// categories used across the application, plus the two source accounts.
package taxonomy

import (
	"fmt"
	"strings"
)

// Account identifies the origin system of a transaction. Every transaction
// belongs to exactly one account.
type Account string

const (
	AccountBank   Account = "bank"
	AccountPayPal Account = "paypal"
)

// TxType is the derived income/expense/transfer tag of a transaction.
type TxType string

const (
	TypeIncome   TxType = "income"
	TypeExpense  TxType = "expense"
	TypeTransfer TxType = "transfer"
)

// Category is one of the closed enumeration below.
type Category string

// Income categories.
const (
	CategoryDonation      Category = "donation"
	CategoryMembershipFee Category = "membership_fee"
	CategoryProtectionFee Category = "protection_fee"
	CategorySponsorship   Category = "sponsorship"
	CategoryFundraising   Category = "fundraising"
	CategoryOtherIncome   Category = "other_income"
)

// Expense categories.
const (
	CategoryVetCosts       Category = "vet_costs"
	CategoryFoodSupplies   Category = "food_supplies"
	CategoryPensionCosts   Category = "pension_costs"
	CategoryTransportCosts Category = "transport_costs"
	CategoryInsurance      Category = "insurance"
	CategoryBankFees       Category = "bank_fees"
	CategoryAdministration Category = "administration"
	CategoryOtherExpense   Category = "other_expense"
)

// CategoryTransfer marks internal balance movements between the two
// accounts. Transfers are neither income nor expense.
const CategoryTransfer Category = "transfer"

// IncomeCategories and ExpenseCategories are in declared order; summaries
// report per-category breakdowns in this order, not sorted by magnitude.
var (
	IncomeCategories = []Category{
		CategoryDonation,
		CategoryMembershipFee,
		CategoryProtectionFee,
		CategorySponsorship,
		CategoryFundraising,
		CategoryOtherIncome,
	}
	ExpenseCategories = []Category{
		CategoryVetCosts,
		CategoryFoodSupplies,
		CategoryPensionCosts,
		CategoryTransportCosts,
		CategoryInsurance,
		CategoryBankFees,
		CategoryAdministration,
		CategoryOtherExpense,
	}
)

var classByCategory = func() map[Category]TxType {
	m := make(map[Category]TxType, len(IncomeCategories)+len(ExpenseCategories)+1)
	for _, c := range IncomeCategories {
		m[c] = TypeIncome
	}
	for _, c := range ExpenseCategories {
		m[c] = TypeExpense
	}
	m[CategoryTransfer] = TypeTransfer
	return m
}()

// ClassOf returns the class (income/expense/transfer) a category belongs to.
func ClassOf(c Category) TxType {
	if t, ok := classByCategory[c]; ok {
		return t
	}
	return TypeExpense
}

// Valid reports whether c is part of the closed enumeration.
func Valid(c Category) bool {
	_, ok := classByCategory[c]
	return ok
}

// Parse maps a free-form string onto a category of the enumeration.
func Parse(s string) (Category, error) {
	c := Category(strings.ToLower(strings.TrimSpace(s)))
	if !Valid(c) {
		return "", fmt.Errorf("taxonomy: unknown category %q", s)
	}
	return c, nil
}

// TypeFor derives the transaction type from a category and a signed amount.
// The transfer category forces TypeTransfer regardless of sign; otherwise
// the sign of the amount decides.
func TypeFor(c Category, amount float64) TxType {
	if c == CategoryTransfer {
		return TypeTransfer
	}
	if amount < 0 {
		return TypeExpense
	}
	return TypeIncome
}

// Fallback returns the default category for an unmatched description,
// chosen by the sign of the amount.
func Fallback(amount float64) Category {
	if amount < 0 {
		return CategoryOtherExpense
	}
	return CategoryOtherIncome
}

// AllNames lists every category as a string, income first, then expense,
// then transfer. Used to constrain external advisors to the closed set.
func AllNames() []string {
	out := make([]string, 0, len(IncomeCategories)+len(ExpenseCategories)+1)
	for _, c := range IncomeCategories {
		out = append(out, string(c))
	}
	for _, c := range ExpenseCategories {
		out = append(out, string(c))
	}
	out = append(out, string(CategoryTransfer))
	return out
}
