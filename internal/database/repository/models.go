package repository

import (
	"time"

	"github.com/hundehilfe/kassenbuch/internal/taxonomy"
)

// Transaction represents a transaction row.
//
// The financial facts (date, amount, description, counterparty) are
// immutable once imported. Classification state is mutated by the
// categorizer and correction flows; the linkage fields are set only by
// the duplicate/transfer linker.
type Transaction struct {
	ID           string
	ExternalID   *string
	Account      taxonomy.Account
	Date         time.Time
	Amount       float64 // signed; positive = inflow, negative = outflow
	Currency     string
	Description  string
	Counterparty string

	Category            taxonomy.Category
	Type                taxonomy.TxType
	Confidence          float64
	ManuallyCategorized bool
	UserConfirmed       bool

	Duplicate           bool
	DuplicateReason     *string
	LinkedTransactionID *string
	GuthabenTransfer    bool
	LinkedPaymentID     *string
	// Snapshot of the linked payment, kept for display context.
	LinkedPaymentDescription  *string
	LinkedPaymentCounterparty *string
	LinkedPaymentCategory     *string

	SourceHash *string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// CategoryRule represents a categorization rule row. Pattern is a
// case-insensitive regular expression over the transaction description.
// Higher priority wins; MinAmount/MaxAmount are absolute-value bounds
// narrowing applicability.
type CategoryRule struct {
	ID          string
	Pattern     string
	Category    taxonomy.Category
	Priority    int
	MatchCount  int
	UserDefined bool
	MinAmount   *float64
	MaxAmount   *float64
	CreatedAt   time.Time
	UpdatedAt   time.Time
}
