// Package llm provides the optional review advisor that suggests
// categories for low-confidence transactions. The advisor is strictly
// best-effort: callers must fall back to rule-based evaluation whenever
// it is unavailable or errors.
package llm

import "context"

// Advisor suggests a category for a single transaction.
type Advisor interface {
	SuggestCategory(ctx context.Context, req SuggestRequest) (SuggestResponse, error)
}

// SuggestRequest carries the transaction facts plus the closed category
// set the advisor must choose from.
type SuggestRequest struct {
	Description  string   `json:"description"`
	Counterparty string   `json:"counterparty"`
	Amount       float64  `json:"amount"`
	Date         string   `json:"date"`
	Account      string   `json:"account"`
	Categories   []string `json:"categories"`
}

// SuggestResponse is the advisor's verdict.
type SuggestResponse struct {
	Category   string  `json:"category"`
	Confidence float64 `json:"confidence"`
	Rationale  string  `json:"rationale"`
}
