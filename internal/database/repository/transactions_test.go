package repository_test

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/hundehilfe/kassenbuch/internal/database"
	"github.com/hundehilfe/kassenbuch/internal/database/repository"
	"github.com/hundehilfe/kassenbuch/internal/taxonomy"
)

func newTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := database.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, database.RunMigrations(db))
	return db
}

func sampleTx(account taxonomy.Account, date time.Time, amount float64, description string) repository.Transaction {
	category := taxonomy.Fallback(amount)
	return repository.Transaction{
		ID:          uuid.NewString(),
		Account:     account,
		Date:        date,
		Amount:      amount,
		Currency:    "EUR",
		Description: description,
		Category:    category,
		Type:        taxonomy.TypeFor(category, amount),
		Confidence:  0.1,
	}
}

func TestTransactionRoundtrip(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	repo := repository.NewTransactionRepo(newTestDB(t))

	ext := "bank-42"
	reason := "PayPal-Signatur im Bankumsatz"
	hash := "abc123"
	tx := sampleTx(taxonomy.AccountBank, time.Date(2025, 5, 2, 0, 0, 0, 0, time.UTC), -45.90, "PayPal Ref Fressnapf")
	tx.ExternalID = &ext
	tx.Counterparty = "PayPal Europe"
	tx.Duplicate = true
	tx.DuplicateReason = &reason
	tx.SourceHash = &hash

	require.NoError(t, repo.Insert(ctx, tx))

	got, err := repo.Get(ctx, tx.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Equal(t, tx.Account, got.Account)
	require.Equal(t, tx.Amount, got.Amount)
	require.Equal(t, tx.Description, got.Description)
	require.Equal(t, tx.Category, got.Category)
	require.Equal(t, ext, *got.ExternalID)
	require.True(t, got.Duplicate)
	require.Equal(t, reason, *got.DuplicateReason)
	require.Equal(t, hash, *got.SourceHash)
	require.Nil(t, got.LinkedTransactionID)
	require.False(t, got.CreatedAt.IsZero())
}

func TestGetMissingReturnsNil(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	repo := repository.NewTransactionRepo(newTestDB(t))

	got, err := repo.Get(ctx, "no-such-id")
	require.NoError(t, err)
	require.Nil(t, got)
}

func TestExternalIDUniquePerAccount(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	repo := repository.NewTransactionRepo(newTestDB(t))

	ext := "id-1"
	date := time.Date(2025, 5, 2, 0, 0, 0, 0, time.UTC)

	a := sampleTx(taxonomy.AccountBank, date, 10, "a")
	a.ExternalID = &ext
	require.NoError(t, repo.Insert(ctx, a))

	dup := sampleTx(taxonomy.AccountBank, date, 20, "b")
	dup.ExternalID = &ext
	require.Error(t, repo.Insert(ctx, dup))

	// the same origin id is fine on the other account
	other := sampleTx(taxonomy.AccountPayPal, date, 20, "c")
	other.ExternalID = &ext
	require.NoError(t, repo.Insert(ctx, other))

	exists, err := repo.HasExternalID(ctx, taxonomy.AccountBank, ext)
	require.NoError(t, err)
	require.True(t, exists)
	exists, err = repo.HasExternalID(ctx, taxonomy.AccountBank, "id-2")
	require.NoError(t, err)
	require.False(t, exists)
}

func TestSourceHashUnique(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	repo := repository.NewTransactionRepo(newTestDB(t))

	hash := "deadbeef"
	date := time.Date(2025, 5, 2, 0, 0, 0, 0, time.UTC)

	a := sampleTx(taxonomy.AccountBank, date, 10, "a")
	a.SourceHash = &hash
	require.NoError(t, repo.Insert(ctx, a))

	b := sampleTx(taxonomy.AccountBank, date, 10, "a")
	b.SourceHash = &hash
	require.Error(t, repo.Insert(ctx, b))
}

func TestListFilters(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	repo := repository.NewTransactionRepo(newTestDB(t))

	bank := sampleTx(taxonomy.AccountBank, time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC), 100, "Spende Familie Krause")
	paypal := sampleTx(taxonomy.AccountPayPal, time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC), -60, "Tierarzt Dr. Weber")
	old := sampleTx(taxonomy.AccountBank, time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), 100, "Spende alt")
	confirmed := sampleTx(taxonomy.AccountBank, time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC), 40, "Beitrag")
	confirmed.UserConfirmed = true
	for _, tx := range []repository.Transaction{bank, paypal, old, confirmed} {
		require.NoError(t, repo.Insert(ctx, tx))
	}

	got, err := repo.List(ctx, repository.TransactionFilters{Account: taxonomy.AccountPayPal})
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, paypal.ID, got[0].ID)

	got, err = repo.ByYear(ctx, 2025)
	require.NoError(t, err)
	require.Len(t, got, 3)
	// newest first
	require.Equal(t, confirmed.ID, got[0].ID)
	require.Equal(t, bank.ID, got[2].ID)

	got, err = repo.List(ctx, repository.TransactionFilters{Unconfirmed: true, Year: 2025})
	require.NoError(t, err)
	require.Len(t, got, 2)

	got, err = repo.List(ctx, repository.TransactionFilters{Search: "Tierarzt"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, paypal.ID, got[0].ID)
}

func TestSetManualCategoryAndConfirm(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	repo := repository.NewTransactionRepo(newTestDB(t))

	tx := sampleTx(taxonomy.AccountBank, time.Date(2025, 5, 2, 0, 0, 0, 0, time.UTC), 500, "Schutzgebühr Luna")
	require.NoError(t, repo.Insert(ctx, tx))

	require.NoError(t, repo.SetManualCategory(ctx, tx.ID, taxonomy.CategoryProtectionFee, taxonomy.TypeIncome))
	got, err := repo.Get(ctx, tx.ID)
	require.NoError(t, err)
	require.Equal(t, taxonomy.CategoryProtectionFee, got.Category)
	require.Equal(t, 1.0, got.Confidence)
	require.True(t, got.ManuallyCategorized)
	require.True(t, got.UserConfirmed)

	other := sampleTx(taxonomy.AccountBank, time.Date(2025, 5, 3, 0, 0, 0, 0, time.UTC), 40, "Beitrag")
	require.NoError(t, repo.Insert(ctx, other))
	require.NoError(t, repo.Confirm(ctx, other.ID))
	got, err = repo.Get(ctx, other.ID)
	require.NoError(t, err)
	require.True(t, got.UserConfirmed)
	require.False(t, got.ManuallyCategorized)
	require.Equal(t, 1.0, got.Confidence)
}

func TestUpdateLinkageRewritesFlags(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	repo := repository.NewTransactionRepo(newTestDB(t))

	tx := sampleTx(taxonomy.AccountPayPal, time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC), 89.50, "Guthaben-Transfer")
	require.NoError(t, repo.Insert(ctx, tx))

	reason := "Guthaben-Transfer für Zahlung"
	linked := uuid.NewString()
	desc := "Tierpension Waldeck März"
	tx.GuthabenTransfer = true
	tx.Duplicate = true
	tx.DuplicateReason = &reason
	tx.LinkedPaymentID = &linked
	tx.LinkedPaymentDescription = &desc
	require.NoError(t, repo.UpdateLinkage(ctx, tx))

	got, err := repo.Get(ctx, tx.ID)
	require.NoError(t, err)
	require.True(t, got.GuthabenTransfer)
	require.True(t, got.Duplicate)
	require.Equal(t, linked, *got.LinkedPaymentID)
	require.Equal(t, desc, *got.LinkedPaymentDescription)

	// clearing works the same way
	cleared := *got
	cleared.GuthabenTransfer = false
	cleared.Duplicate = false
	cleared.DuplicateReason = nil
	cleared.LinkedPaymentID = nil
	cleared.LinkedPaymentDescription = nil
	require.NoError(t, repo.UpdateLinkage(ctx, cleared))

	got, err = repo.Get(ctx, tx.ID)
	require.NoError(t, err)
	require.False(t, got.Duplicate)
	require.Nil(t, got.DuplicateReason)
	require.Nil(t, got.LinkedPaymentID)
}

func TestRuleListOrderIsStable(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	rules := repository.NewRuleRepo(newTestDB(t))

	require.NoError(t, rules.Insert(ctx, repository.CategoryRule{ID: "b", Pattern: "x", Category: taxonomy.CategoryDonation, Priority: 100}))
	require.NoError(t, rules.Insert(ctx, repository.CategoryRule{ID: "a", Pattern: "y", Category: taxonomy.CategoryDonation, Priority: 100}))
	require.NoError(t, rules.Insert(ctx, repository.CategoryRule{ID: "c", Pattern: "z", Category: taxonomy.CategoryVetCosts, Priority: 150}))

	for i := 0; i < 3; i++ {
		all, err := rules.List(ctx)
		require.NoError(t, err)
		require.Len(t, all, 3)
		require.Equal(t, "c", all[0].ID)
		// equal priority and creation time resolve by id
		require.Equal(t, "a", all[1].ID)
		require.Equal(t, "b", all[2].ID)
	}
}

func TestRuleIncrementMatch(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	rules := repository.NewRuleRepo(newTestDB(t))

	require.NoError(t, rules.Insert(ctx, repository.CategoryRule{ID: "r", Pattern: "spende", Category: taxonomy.CategoryDonation, Priority: 100}))
	require.NoError(t, rules.IncrementMatch(ctx, "r"))
	require.NoError(t, rules.IncrementMatch(ctx, "r"))

	all, err := rules.List(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, all[0].MatchCount)
}
