package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/hundehilfe/kassenbuch/internal/database/repository"
	"github.com/hundehilfe/kassenbuch/internal/llm"
	"github.com/hundehilfe/kassenbuch/internal/taxonomy"
)

type stubAdvisor struct {
	resp llm.SuggestResponse
	err  error
	seen []llm.SuggestRequest
}

func (s *stubAdvisor) SuggestCategory(_ context.Context, req llm.SuggestRequest) (llm.SuggestResponse, error) {
	s.seen = append(s.seen, req)
	return s.resp, s.err
}

func newReview(t *testing.T, advisor llm.Advisor) (*ReviewService, *repository.TransactionRepo) {
	t.Helper()
	db := newTestDB(t)
	repo := repository.NewTransactionRepo(db)
	return &ReviewService{
		Transactions: repo,
		Categorizer:  newCategorizer(db),
		Corrections: &CorrectionService{
			DB:           db,
			Transactions: repo,
			Categorizer:  newCategorizer(db),
			Log:          zerolog.Nop(),
		},
		Advisor: advisor,
		Log:     zerolog.Nop(),
	}, repo
}

func TestSuggestionsUsesAdvisor(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	advisor := &stubAdvisor{resp: llm.SuggestResponse{
		Category:   "vet_costs",
		Confidence: 0.8,
		Rationale:  "Tierarztrechnung",
	}}
	svc, repo := newReview(t, advisor)

	tx := testTx(taxonomy.AccountBank, day(2025, time.May, 2), -80, "Dr. Weber Rechnung 4711", "Dr. Weber")
	require.NoError(t, repo.Insert(ctx, tx))

	suggestions, err := svc.Suggestions(ctx, 10)
	require.NoError(t, err)
	require.Len(t, suggestions, 1)
	require.Equal(t, taxonomy.CategoryVetCosts, suggestions[0].Category)
	require.Equal(t, "Tierarztrechnung", suggestions[0].Rationale)

	require.Len(t, advisor.seen, 1)
	require.Contains(t, advisor.seen[0].Categories, "vet_costs", "the advisor is constrained to the closed category set")
}

func TestSuggestionsFallsBackToRulesOnAdvisorError(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	svc, repo := newReview(t, &stubAdvisor{err: errors.New("quota exceeded")})

	require.NoError(t, svc.Categorizer.Rules.Insert(ctx, repository.CategoryRule{
		ID: "r1", Pattern: "tierarzt", Category: taxonomy.CategoryVetCosts, Priority: 100,
	}))

	tx := testTx(taxonomy.AccountBank, day(2025, time.May, 2), -80, "Tierarzt Dr. Weber", "Dr. Weber")
	require.NoError(t, repo.Insert(ctx, tx))

	suggestions, err := svc.Suggestions(ctx, 10)
	require.NoError(t, err)
	require.Len(t, suggestions, 1)
	require.Equal(t, taxonomy.CategoryVetCosts, suggestions[0].Category)
	require.Equal(t, "Regelbasierte Neubewertung", suggestions[0].Rationale)
}

func TestSuggestionsSkipsConfidentAndFlaggedRows(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	advisor := &stubAdvisor{resp: llm.SuggestResponse{Category: "donation", Confidence: 0.9}}
	svc, repo := newReview(t, advisor)

	confident := testTx(taxonomy.AccountBank, day(2025, time.May, 2), 40, "Spende", "")
	confident.Confidence = 0.8
	flagged := testTx(taxonomy.AccountBank, day(2025, time.May, 3), 40, "PayPal Umbuchung", "")
	flagged.Duplicate = true
	require.NoError(t, repo.Insert(ctx, confident))
	require.NoError(t, repo.Insert(ctx, flagged))

	suggestions, err := svc.Suggestions(ctx, 10)
	require.NoError(t, err)
	require.Empty(t, suggestions)
	require.Empty(t, advisor.seen)
}

func TestSuggestionsDropsInvalidAdvisorCategory(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	svc, repo := newReview(t, &stubAdvisor{resp: llm.SuggestResponse{Category: "hundesteuer"}})

	tx := testTx(taxonomy.AccountBank, day(2025, time.May, 2), -80, "Dr. Weber Rechnung", "")
	require.NoError(t, repo.Insert(ctx, tx))

	suggestions, err := svc.Suggestions(ctx, 10)
	require.NoError(t, err)
	require.Empty(t, suggestions, "an answer outside the closed set is discarded, never persisted")
}

func TestApplyGoesThroughCorrectionFlow(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	svc, repo := newReview(t, nil)

	tx := testTx(taxonomy.AccountBank, day(2025, time.May, 2), -80, "Tierarzt Dr. Weber", "")
	require.NoError(t, repo.Insert(ctx, tx))

	require.NoError(t, svc.Apply(ctx, tx.ID, taxonomy.CategoryVetCosts))

	got, err := repo.Get(ctx, tx.ID)
	require.NoError(t, err)
	require.Equal(t, taxonomy.CategoryVetCosts, got.Category)
	require.True(t, got.ManuallyCategorized, "an accepted suggestion counts as a manual correction")
	require.Equal(t, 1.0, got.Confidence)
}
