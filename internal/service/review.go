package service

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/hundehilfe/kassenbuch/internal/database/repository"
	"github.com/hundehilfe/kassenbuch/internal/llm"
	"github.com/hundehilfe/kassenbuch/internal/taxonomy"
)

// reviewConfidenceCeiling selects which transactions are surfaced for
// advisor review.
const reviewConfidenceCeiling = 0.5

// Suggestion pairs a transaction with a proposed category.
type Suggestion struct {
	Transaction repository.Transaction
	Category    taxonomy.Category
	Confidence  float64
	Rationale   string
}

// ReviewService asks the optional external advisor for category
// suggestions on low-confidence transactions. The advisor is strictly
// best-effort: when it is unavailable or errors, the service falls back
// to its own rule-based re-evaluation.
type ReviewService struct {
	Transactions *repository.TransactionRepo
	Categorizer  *Categorizer
	Corrections  *CorrectionService
	Advisor      llm.Advisor
	Log          zerolog.Logger
}

// Suggestions returns proposed categories for up to limit unconfirmed
// low-confidence transactions.
func (s *ReviewService) Suggestions(ctx context.Context, limit int) ([]Suggestion, error) {
	txs, err := s.Transactions.List(ctx, repository.TransactionFilters{Unconfirmed: true})
	if err != nil {
		return nil, err
	}

	var out []Suggestion
	for _, tx := range txs {
		if tx.Confidence > reviewConfidenceCeiling || tx.Duplicate {
			continue
		}
		if limit > 0 && len(out) >= limit {
			break
		}
		sg, ok := s.suggestOne(ctx, tx)
		if !ok {
			continue
		}
		out = append(out, sg)
	}
	return out, nil
}

func (s *ReviewService) suggestOne(ctx context.Context, tx repository.Transaction) (Suggestion, bool) {
	if s.Advisor != nil {
		resp, err := s.Advisor.SuggestCategory(ctx, llm.SuggestRequest{
			Description:  tx.Description,
			Counterparty: tx.Counterparty,
			Amount:       tx.Amount,
			Date:         tx.Date.Format(time.DateOnly),
			Account:      string(tx.Account),
			Categories:   taxonomy.AllNames(),
		})
		if err == nil {
			if category, perr := taxonomy.Parse(resp.Category); perr == nil && category != tx.Category {
				return Suggestion{
					Transaction: tx,
					Category:    category,
					Confidence:  resp.Confidence,
					Rationale:   resp.Rationale,
				}, true
			}
			return Suggestion{}, false
		}
		s.Log.Warn().Err(err).Str("id", tx.ID).Msg("review: advisor unavailable, falling back to rules")
	}

	// rule-based fallback
	category, confidence := s.Categorizer.Categorize(ctx, tx.Description, tx.Amount)
	if category == tx.Category {
		return Suggestion{}, false
	}
	return Suggestion{
		Transaction: tx,
		Category:    category,
		Confidence:  confidence,
		Rationale:   "Regelbasierte Neubewertung",
	}, true
}

// Apply accepts a suggestion through the same correction path as a
// manual edit, so learning still fires.
func (s *ReviewService) Apply(ctx context.Context, transactionID string, category taxonomy.Category) error {
	return s.Corrections.UpdateCategory(ctx, transactionID, category)
}
