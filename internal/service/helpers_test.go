package service

import (
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/hundehilfe/kassenbuch/internal/database"
	"github.com/hundehilfe/kassenbuch/internal/database/repository"
	"github.com/hundehilfe/kassenbuch/internal/taxonomy"
)

func newTestDB(t *testing.T) *sql.DB {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	db, err := database.Open(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, database.RunMigrations(db))
	return db
}

func newCategorizer(db *sql.DB) *Categorizer {
	return &Categorizer{Rules: repository.NewRuleRepo(db), Log: zerolog.Nop()}
}

func newLinker(db *sql.DB) *Linker {
	return &Linker{DB: db, Transactions: repository.NewTransactionRepo(db), Log: zerolog.Nop()}
}

// testTx builds a categorized transaction with sensible defaults.
func testTx(account taxonomy.Account, date time.Time, amount float64, description, counterparty string) repository.Transaction {
	category := taxonomy.Fallback(amount)
	return repository.Transaction{
		ID:           uuid.NewString(),
		Account:      account,
		Date:         date,
		Amount:       amount,
		Currency:     "EUR",
		Description:  description,
		Counterparty: counterparty,
		Category:     category,
		Type:         taxonomy.TypeFor(category, amount),
		Confidence:   0.1,
	}
}

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 12, 0, 0, 0, time.UTC)
}

func ptrFloat(f float64) *float64 { return &f }
