package service

import (
	"bufio"
	"context"
	"crypto/sha256"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hundehilfe/kassenbuch/internal/database/repository"
	"github.com/hundehilfe/kassenbuch/internal/taxonomy"
)

// Row is the normalized transaction-shaped record every feed adapter
// (bank CSV, PayPal API) produces for the import intake.
type Row struct {
	ExternalID   string           `json:"external_id"`
	Account      taxonomy.Account `json:"account"`
	Date         time.Time        `json:"date"`
	Amount       float64          `json:"amount"`
	Currency     string           `json:"currency"`
	Description  string           `json:"description"`
	Counterparty string           `json:"counterparty"`
}

// ImportResult reports one batch. Row-level errors never abort the
// batch; the rest of the rows still proceed.
type ImportResult struct {
	Imported int
	Skipped  int
	Errors   []error
}

// ImportService accepts normalized rows, deduplicates them by origin
// identifier (or the date/amount/description triple), runs each new row
// through the categorizer and finishes the batch with a full linker
// pass, so imported rows are classified and linked before any summary
// sees them.
type ImportService struct {
	Transactions *repository.TransactionRepo
	Categorizer  *Categorizer
	Linker       *Linker
	Log          zerolog.Logger
}

// ImportRows ingests a batch of normalized rows.
func (s *ImportService) ImportRows(ctx context.Context, rows []Row) (ImportResult, error) {
	res := ImportResult{}
	for i, row := range rows {
		imported, err := s.importRow(ctx, row)
		if err != nil {
			res.Errors = append(res.Errors, fmt.Errorf("row %d: %w", i+1, err))
			continue
		}
		if imported {
			res.Imported++
		} else {
			res.Skipped++
		}
	}
	if res.Imported > 0 {
		if err := s.Linker.Run(ctx); err != nil {
			return res, err
		}
	}
	return res, nil
}

func (s *ImportService) importRow(ctx context.Context, row Row) (bool, error) {
	if row.Date.IsZero() {
		return false, fmt.Errorf("missing date")
	}
	if row.Account != taxonomy.AccountBank && row.Account != taxonomy.AccountPayPal {
		return false, fmt.Errorf("unknown account %q", row.Account)
	}
	if row.Currency == "" {
		row.Currency = "EUR"
	}

	externalID := strings.TrimSpace(row.ExternalID)
	if externalID != "" {
		exists, err := s.Transactions.HasExternalID(ctx, row.Account, externalID)
		if err != nil {
			return false, err
		}
		if exists {
			return false, nil
		}
	}

	category, confidence := s.Categorizer.Categorize(ctx, row.Description, row.Amount)

	t := repository.Transaction{
		ID:           uuid.NewString(),
		Account:      row.Account,
		Date:         row.Date.UTC(),
		Amount:       row.Amount,
		Currency:     row.Currency,
		Description:  row.Description,
		Counterparty: row.Counterparty,
		Category:     category,
		Type:         taxonomy.TypeFor(category, row.Amount),
		Confidence:   confidence,
		SourceHash:   hashSource(string(row.Account), row.Date.UTC().Format(time.DateOnly), fmt.Sprintf("%.2f", row.Amount), row.Description),
	}
	if externalID != "" {
		t.ExternalID = &externalID
	}

	if err := s.Transactions.Insert(ctx, t); err != nil {
		// the unique source-hash index catches re-imports without an origin id
		if strings.Contains(err.Error(), "UNIQUE") {
			return false, nil
		}
		return false, fmt.Errorf("insert: %w", err)
	}
	return true, nil
}

// ImportBankCSV ingests the bank's CSV export: semicolon-separated with
// columns Buchungstag;Verwendungszweck;Beguenstigter/Auftraggeber;Betrag
// and an optional Umsatznummer column, German date and decimal format.
func (s *ImportService) ImportBankCSV(ctx context.Context, r io.Reader, tz *time.Location) (ImportResult, error) {
	if tz == nil {
		tz = time.Local
	}
	csvr := csv.NewReader(bufio.NewReader(r))
	csvr.Comma = ';'
	csvr.TrimLeadingSpace = true
	csvr.FieldsPerRecord = -1

	res := ImportResult{}
	var rows []Row
	line := 0
	for {
		line++
		rec, err := csvr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			res.Errors = append(res.Errors, fmt.Errorf("line %d: %w", line, err))
			continue
		}
		if line == 1 && strings.EqualFold(strings.TrimSpace(rec[0]), "Buchungstag") {
			continue
		}
		if len(rec) < 4 {
			res.Errors = append(res.Errors, fmt.Errorf("line %d: expected at least 4 columns", line))
			continue
		}
		date, err := parseGermanDate(rec[0], tz)
		if err != nil {
			res.Errors = append(res.Errors, fmt.Errorf("line %d date: %w", line, err))
			continue
		}
		amount, err := parseGermanAmount(rec[3])
		if err != nil {
			res.Errors = append(res.Errors, fmt.Errorf("line %d amount: %w", line, err))
			continue
		}
		row := Row{
			Account:      taxonomy.AccountBank,
			Date:         date,
			Amount:       amount,
			Currency:     "EUR",
			Description:  strings.TrimSpace(rec[1]),
			Counterparty: strings.TrimSpace(rec[2]),
		}
		if len(rec) > 4 {
			row.ExternalID = strings.TrimSpace(rec[4])
		}
		rows = append(rows, row)
	}

	batch, err := s.ImportRows(ctx, rows)
	if err != nil {
		return res, err
	}
	res.Imported = batch.Imported
	res.Skipped = batch.Skipped
	res.Errors = append(res.Errors, batch.Errors...)
	return res, nil
}

// ImportPayPalFeed ingests a JSON array of normalized rows as produced
// by the PayPal feed adapter. The account is forced to paypal.
func (s *ImportService) ImportPayPalFeed(ctx context.Context, r io.Reader) (ImportResult, error) {
	var rows []Row
	if err := json.NewDecoder(r).Decode(&rows); err != nil {
		return ImportResult{}, fmt.Errorf("decode paypal feed: %w", err)
	}
	for i := range rows {
		rows[i].Account = taxonomy.AccountPayPal
	}
	return s.ImportRows(ctx, rows)
}

// parseGermanAmount converts "1.234,56" to 1234.56.
func parseGermanAmount(s string) (float64, error) {
	s = strings.TrimSpace(s)
	s = strings.ReplaceAll(s, ".", "")
	s = strings.ReplaceAll(s, ",", ".")
	return strconv.ParseFloat(s, 64)
}

func parseGermanDate(s string, loc *time.Location) (time.Time, error) {
	t, err := time.ParseInLocation("02.01.2006", strings.TrimSpace(s), loc)
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}

func hashSource(parts ...string) *string {
	joined := strings.Join(parts, "|")
	sum := sha256.Sum256([]byte(joined))
	h := fmt.Sprintf("%x", sum[:])
	return &h
}
