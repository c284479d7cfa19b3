package repository

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/hundehilfe/kassenbuch/internal/taxonomy"
)

// DBTX is satisfied by both *sql.DB and *sql.Tx so repositories can take
// part in a caller-managed commit boundary.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// TransactionFilters defines list filters.
type TransactionFilters struct {
	Account     taxonomy.Account
	Category    taxonomy.Category
	Year        int    // 0 = no year filter
	Search      string // substring over description
	Unconfirmed bool   // only rows without user confirmation or manual categorization
}

// TransactionRepo handles transactions.
type TransactionRepo struct {
	db DBTX
}

func NewTransactionRepo(db DBTX) *TransactionRepo { return &TransactionRepo{db: db} }

// WithTx returns a repo bound to the given transaction.
func (r *TransactionRepo) WithTx(tx *sql.Tx) *TransactionRepo { return &TransactionRepo{db: tx} }

const transactionColumns = `id, external_id, account, date, amount, currency, description, counterparty,
 category, tx_type, confidence, manually_categorized, user_confirmed,
 is_duplicate, duplicate_reason, linked_transaction_id, guthaben_transfer, linked_payment_id,
 linked_payment_description, linked_payment_counterparty, linked_payment_category,
 source_hash, created_at, updated_at`

func (r *TransactionRepo) Insert(ctx context.Context, t Transaction) error {
	_, err := r.db.ExecContext(ctx, `
	INSERT INTO transactions(
	 id, external_id, account, date, amount, currency, description, counterparty,
	 category, tx_type, confidence, manually_categorized, user_confirmed,
	 is_duplicate, duplicate_reason, linked_transaction_id, guthaben_transfer, linked_payment_id,
	 linked_payment_description, linked_payment_counterparty, linked_payment_category,
	 source_hash, created_at, updated_at)
	VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP);
	`,
		t.ID, t.ExternalID, string(t.Account), t.Date, t.Amount, t.Currency, t.Description, t.Counterparty,
		string(t.Category), string(t.Type), t.Confidence, t.ManuallyCategorized, t.UserConfirmed,
		t.Duplicate, t.DuplicateReason, t.LinkedTransactionID, t.GuthabenTransfer, t.LinkedPaymentID,
		t.LinkedPaymentDescription, t.LinkedPaymentCounterparty, t.LinkedPaymentCategory,
		t.SourceHash)
	return err
}

func (r *TransactionRepo) Get(ctx context.Context, id string) (*Transaction, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+transactionColumns+` FROM transactions WHERE id = ?`, id)
	t, err := scanTransaction(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &t, nil
}

// HasExternalID reports whether a row from the given account with the
// given origin identifier was already imported.
func (r *TransactionRepo) HasExternalID(ctx context.Context, account taxonomy.Account, externalID string) (bool, error) {
	var n int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM transactions WHERE account = ? AND external_id = ?`,
		string(account), externalID).Scan(&n)
	return n > 0, err
}

func (r *TransactionRepo) List(ctx context.Context, f TransactionFilters) ([]Transaction, error) {
	var where []string
	var args []interface{}

	if f.Account != "" {
		where = append(where, "account = ?")
		args = append(args, string(f.Account))
	}
	if f.Category != "" {
		where = append(where, "category = ?")
		args = append(args, string(f.Category))
	}
	if f.Year != 0 {
		start := time.Date(f.Year, time.January, 1, 0, 0, 0, 0, time.UTC)
		end := start.AddDate(1, 0, 0)
		where = append(where, "date >= ? AND date < ?")
		args = append(args, start, end)
	}
	if f.Search != "" {
		where = append(where, "description LIKE ?")
		args = append(args, "%"+f.Search+"%")
	}
	if f.Unconfirmed {
		where = append(where, "user_confirmed = 0 AND manually_categorized = 0")
	}

	query := `SELECT ` + transactionColumns + ` FROM transactions`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY date DESC, created_at DESC"

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// ByYear lists a calendar year's transactions, newest first.
func (r *TransactionRepo) ByYear(ctx context.Context, year int) ([]Transaction, error) {
	return r.List(ctx, TransactionFilters{Year: year})
}

// UpdateCategorization rewrites classification state after automatic
// (re-)categorization. Category and type must be updated together.
func (r *TransactionRepo) UpdateCategorization(ctx context.Context, id string, category taxonomy.Category, txType taxonomy.TxType, confidence float64) error {
	_, err := r.db.ExecContext(ctx, `
	UPDATE transactions
	SET category = ?, tx_type = ?, confidence = ?, updated_at = CURRENT_TIMESTAMP
	WHERE id = ?`,
		string(category), string(txType), confidence, id)
	return err
}

// SetManualCategory records a user correction: category and type change
// atomically, the row becomes manually categorized, user confirmed and
// fully confident.
func (r *TransactionRepo) SetManualCategory(ctx context.Context, id string, category taxonomy.Category, txType taxonomy.TxType) error {
	_, err := r.db.ExecContext(ctx, `
	UPDATE transactions
	SET category = ?, tx_type = ?, confidence = 1.0, manually_categorized = 1, user_confirmed = 1,
	    updated_at = CURRENT_TIMESTAMP
	WHERE id = ?`,
		string(category), string(txType), id)
	return err
}

// Confirm accepts the current category without change.
func (r *TransactionRepo) Confirm(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `
	UPDATE transactions
	SET user_confirmed = 1, confidence = 1.0, updated_at = CURRENT_TIMESTAMP
	WHERE id = ?`, id)
	return err
}

// UpdateLinkage rewrites the linker-owned flag columns from the struct.
// Category and type are included because a standalone Guthaben transfer is
// forced onto the transfer category by the linker.
func (r *TransactionRepo) UpdateLinkage(ctx context.Context, t Transaction) error {
	_, err := r.db.ExecContext(ctx, `
	UPDATE transactions
	SET category = ?, tx_type = ?, is_duplicate = ?, duplicate_reason = ?, linked_transaction_id = ?,
	    guthaben_transfer = ?, linked_payment_id = ?,
	    linked_payment_description = ?, linked_payment_counterparty = ?, linked_payment_category = ?,
	    updated_at = CURRENT_TIMESTAMP
	WHERE id = ?`,
		string(t.Category), string(t.Type), t.Duplicate, t.DuplicateReason, t.LinkedTransactionID,
		t.GuthabenTransfer, t.LinkedPaymentID,
		t.LinkedPaymentDescription, t.LinkedPaymentCounterparty, t.LinkedPaymentCategory,
		t.ID)
	return err
}

// scanTransaction handles nullable fields for both Row and Rows.
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanTransaction(row scanner) (Transaction, error) {
	var t Transaction
	var account, category, txType string
	var external, dupReason, linkedTx, linkedPay, lpDesc, lpCounter, lpCat, source sql.NullString
	if err := row.Scan(&t.ID, &external, &account, &t.Date, &t.Amount, &t.Currency, &t.Description, &t.Counterparty,
		&category, &txType, &t.Confidence, &t.ManuallyCategorized, &t.UserConfirmed,
		&t.Duplicate, &dupReason, &linkedTx, &t.GuthabenTransfer, &linkedPay,
		&lpDesc, &lpCounter, &lpCat,
		&source, &t.CreatedAt, &t.UpdatedAt); err != nil {
		return Transaction{}, err
	}
	t.Account = taxonomy.Account(account)
	t.Category = taxonomy.Category(category)
	t.Type = taxonomy.TxType(txType)
	if external.Valid {
		t.ExternalID = &external.String
	}
	if dupReason.Valid {
		t.DuplicateReason = &dupReason.String
	}
	if linkedTx.Valid {
		t.LinkedTransactionID = &linkedTx.String
	}
	if linkedPay.Valid {
		t.LinkedPaymentID = &linkedPay.String
	}
	if lpDesc.Valid {
		t.LinkedPaymentDescription = &lpDesc.String
	}
	if lpCounter.Valid {
		t.LinkedPaymentCounterparty = &lpCounter.String
	}
	if lpCat.Valid {
		t.LinkedPaymentCategory = &lpCat.String
	}
	if source.Valid {
		t.SourceHash = &source.String
	}
	return t, nil
}
