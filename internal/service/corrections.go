package service

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/hundehilfe/kassenbuch/internal/database"
	"github.com/hundehilfe/kassenbuch/internal/database/repository"
	"github.com/hundehilfe/kassenbuch/internal/taxonomy"
)

// CorrectionService handles user corrections and confirmations. Each
// flow is one commit boundary: the rule-store learning, the corrected
// row and every rippled recategorization commit together or not at all.
type CorrectionService struct {
	DB           *sql.DB
	Transactions *repository.TransactionRepo
	Categorizer  *Categorizer
	Log          zerolog.Logger
}

// UpdateCategory applies a manual category edit: the row becomes
// manually categorized, user confirmed and fully confident, the
// categorizer learns from the correction, and the remaining unconfirmed
// transactions are re-evaluated so the correction ripples forward.
func (s *CorrectionService) UpdateCategory(ctx context.Context, id string, category taxonomy.Category) error {
	if !taxonomy.Valid(category) {
		return fmt.Errorf("correction: unknown category %q", category)
	}
	tx, err := s.Transactions.Get(ctx, id)
	if err != nil {
		return err
	}
	if tx == nil {
		return fmt.Errorf("correction: transaction %s not found", id)
	}

	newType := taxonomy.TypeFor(category, tx.Amount)
	var rippled int
	err = database.WithTx(s.DB, func(dbtx *sql.Tx) error {
		repo := s.Transactions.WithTx(dbtx)
		categorizer := s.Categorizer.WithTx(dbtx)

		if err := categorizer.LearnFromCorrection(ctx, tx.Description, category, &tx.Amount); err != nil {
			return fmt.Errorf("learning: %w", err)
		}
		if err := repo.SetManualCategory(ctx, id, category, newType); err != nil {
			return err
		}
		n, err := s.ripple(ctx, repo, categorizer)
		if err != nil {
			return err
		}
		rippled = n
		return nil
	})
	if err != nil {
		return fmt.Errorf("correction: commit: %w", err)
	}
	s.Log.Info().Str("id", id).Str("category", string(category)).Int("rippled", rippled).Msg("correction applied")
	return nil
}

// Confirm accepts the current category without change. No category
// changes, but the confidence/learning signal still matters: the
// existing category is reinforced in the rule store.
func (s *CorrectionService) Confirm(ctx context.Context, id string) error {
	tx, err := s.Transactions.Get(ctx, id)
	if err != nil {
		return err
	}
	if tx == nil {
		return fmt.Errorf("confirm: transaction %s not found", id)
	}

	err = database.WithTx(s.DB, func(dbtx *sql.Tx) error {
		repo := s.Transactions.WithTx(dbtx)
		categorizer := s.Categorizer.WithTx(dbtx)

		if err := categorizer.LearnFromCorrection(ctx, tx.Description, tx.Category, &tx.Amount); err != nil {
			return fmt.Errorf("learning: %w", err)
		}
		if err := repo.Confirm(ctx, id); err != nil {
			return err
		}
		_, err := s.ripple(ctx, repo, categorizer)
		return err
	})
	if err != nil {
		return fmt.Errorf("confirm: commit: %w", err)
	}
	return nil
}

// ripple re-evaluates the remaining unconfirmed transactions inside the
// caller's commit boundary. The row being corrected is already marked
// confirmed at this point, so the unconfirmed listing excludes it.
func (s *CorrectionService) ripple(ctx context.Context, repo *repository.TransactionRepo, categorizer *Categorizer) (int, error) {
	unconfirmed, err := repo.List(ctx, repository.TransactionFilters{Unconfirmed: true})
	if err != nil {
		return 0, err
	}
	changed := categorizer.RecategorizeUnconfirmed(ctx, unconfirmed)
	for _, c := range changed {
		if err := repo.UpdateCategorization(ctx, c.ID, c.Category, c.Type, c.Confidence); err != nil {
			return 0, err
		}
	}
	return len(changed), nil
}
