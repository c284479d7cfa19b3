package service

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/agnivade/levenshtein"
	"github.com/rs/zerolog"

	"github.com/hundehilfe/kassenbuch/internal/database"
	"github.com/hundehilfe/kassenbuch/internal/database/repository"
	"github.com/hundehilfe/kassenbuch/internal/taxonomy"
)

const (
	duplicateWindowDays  = 5
	transferWindowDays   = 1
	amountTolerance      = 0.01
	mediumConfidence     = 0.7
	highConfidence       = 0.9
	jaccardThreshold     = 0.5
	bankTransferReason   = "PayPal-Umbuchung zwischen eigenen Konten"
)

// guthabenSignature marks PayPal-side balance movements: explicit
// transfer wording or the phrasing of a bank-to-PayPal top-up.
var guthabenSignature = regexp.MustCompile(`(?i)guthaben[- ]?transfer|transfer (von|vom|auf) (dem |das )?bankkonto|geld (einzahlen|hinzufügen)|allgemeine einzahlung|einzahlung (per|von|vom) bank`)

// bankPayPalPatterns flag bank-side lines that are PayPal balance
// movements rather than real counterpart payments: top-ups, payouts,
// Lastschrift via PayPal, or the PayPal entity name itself.
var bankPayPalPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)paypal.{0,20}aufladung`),
	regexp.MustCompile(`(?i)paypal.{0,20}auszahlung`),
	regexp.MustCompile(`(?i)lastschrift.{0,30}paypal`),
	regexp.MustCompile(`(?i)paypal \(europe\)`),
}

// Linker reconciles the two transaction streams: it links PayPal
// balance-funding transfers to the payments they funded and flags
// cross-account duplicates so one real-world payment is never counted
// twice. The PayPal-side record is always kept as primary since it
// carries the real counterparty; the bank side typically only says
// "PayPal".
type Linker struct {
	DB           *sql.DB
	Transactions *repository.TransactionRepo
	Log          zerolog.Logger

	mu sync.Mutex
}

// DuplicateMatch is one scored cross-account pair.
type DuplicateMatch struct {
	Bank       repository.Transaction
	PayPal     repository.Transaction
	Confidence float64
	Reasons    []string
}

// Reason returns the concatenated audit string for the pair.
func (m DuplicateMatch) Reason() string {
	return strings.Join(m.Reasons, "; ")
}

// FindDuplicates scores every cross-account pair and returns those at or
// above the medium threshold. Pairs with different types, dates more
// than five days apart or amounts differing by more than one cent are
// rejected outright.
func FindDuplicates(txs []repository.Transaction) []DuplicateMatch {
	var bank, paypal []repository.Transaction
	for _, t := range txs {
		switch t.Account {
		case taxonomy.AccountBank:
			bank = append(bank, t)
		case taxonomy.AccountPayPal:
			paypal = append(paypal, t)
		}
	}

	var out []DuplicateMatch
	for _, b := range bank {
		for _, p := range paypal {
			m, ok := scorePair(b, p)
			if !ok || m.Confidence < mediumConfidence {
				continue
			}
			out = append(out, m)
		}
	}
	return out
}

func scorePair(bank, paypal repository.Transaction) (DuplicateMatch, bool) {
	if bank.Type != paypal.Type {
		return DuplicateMatch{}, false
	}
	days := daysApart(bank.Date, paypal.Date)
	if days > duplicateWindowDays {
		return DuplicateMatch{}, false
	}
	if math.Abs(math.Abs(bank.Amount)-math.Abs(paypal.Amount)) > amountTolerance {
		return DuplicateMatch{}, false
	}

	m := DuplicateMatch{Bank: bank, PayPal: paypal}

	m.Confidence += 0.4
	m.Reasons = append(m.Reasons, "Betrag identisch")

	switch {
	case days == 0:
		m.Confidence += 0.3
		m.Reasons = append(m.Reasons, "gleicher Tag")
	case days <= 3:
		m.Confidence += 0.2
		m.Reasons = append(m.Reasons, fmt.Sprintf("%d Tage Abstand", days))
	default:
		m.Confidence += 0.1
		m.Reasons = append(m.Reasons, fmt.Sprintf("%d Tage Abstand", days))
	}

	if hasPayPalSignature(bank.Description) {
		m.Confidence += 0.3
		m.Reasons = append(m.Reasons, "PayPal-Signatur im Bankumsatz")
	}

	if jaccardSimilarity(bank.Description, paypal.Description) > jaccardThreshold {
		m.Confidence += 0.2
		m.Reasons = append(m.Reasons, "ähnliche Beschreibung")
	}

	return m, true
}

// hasPayPalSignature reports whether the non-PayPal side's description
// carries a PayPal textual signature.
func hasPayPalSignature(description string) bool {
	d := strings.ToLower(description)
	return strings.Contains(d, "paypal") || strings.Contains(d, "pp.") || strings.Contains(d, "pp*")
}

// jaccardSimilarity is word-set overlap over tokens longer than two
// characters, case-folded.
func jaccardSimilarity(a, b string) float64 {
	ta := descTokens(a)
	tb := descTokens(b)
	if len(ta) == 0 || len(tb) == 0 {
		return 0
	}
	intersect := 0
	for t := range ta {
		if _, ok := tb[t]; ok {
			intersect++
		}
	}
	union := len(ta) + len(tb) - intersect
	return float64(intersect) / float64(union)
}

func descTokens(s string) map[string]struct{} {
	parts := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return r == ' ' || r == '-' || r == '_' || r == '/' || r == '*' || r == '.' || r == ','
	})
	out := make(map[string]struct{}, len(parts))
	for _, p := range parts {
		if len([]rune(p)) > 2 {
			out[p] = struct{}{}
		}
	}
	return out
}

func daysApart(a, b time.Time) int {
	d := a.Sub(b)
	if d < 0 {
		d = -d
	}
	return int(d.Hours() / 24)
}

// LinkGuthabenTransfers detects PayPal-side balance-funding movements
// and links each to the real payment it funded, matching by absolute
// amount within one day. A transfer with no matched payment is still
// forced onto the transfer category: a standalone top-up is not a real
// expense or income. The slice is mutated in place; the changed elements
// are returned.
func LinkGuthabenTransfers(txs []repository.Transaction) []repository.Transaction {
	var changed []repository.Transaction
	for i := range txs {
		t := &txs[i]
		if t.Account != taxonomy.AccountPayPal {
			continue
		}
		if !guthabenSignature.MatchString(t.Description) && !guthabenSignature.MatchString(t.Counterparty) {
			continue
		}

		payment := findFundedPayment(txs, i)
		t.GuthabenTransfer = true
		if payment != nil {
			reason := fmt.Sprintf("Guthaben-Transfer für Zahlung an %s (%s)", payment.Counterparty, payment.Description)
			t.Duplicate = true
			t.DuplicateReason = &reason
			t.LinkedPaymentID = &payment.ID
			desc, counter, cat := payment.Description, payment.Counterparty, string(payment.Category)
			t.LinkedPaymentDescription = &desc
			t.LinkedPaymentCounterparty = &counter
			t.LinkedPaymentCategory = &cat
		} else {
			t.Category = taxonomy.CategoryTransfer
			t.Type = taxonomy.TypeTransfer
		}
		changed = append(changed, *t)
	}
	return changed
}

// findFundedPayment looks for a PayPal real payment (non-transfer,
// strictly negative) with matching absolute amount within one day of the
// transfer at index i.
func findFundedPayment(txs []repository.Transaction, i int) *repository.Transaction {
	transfer := txs[i]
	for j := range txs {
		if j == i {
			continue
		}
		p := &txs[j]
		if p.Account != taxonomy.AccountPayPal {
			continue
		}
		if p.Amount >= 0 || p.Type == taxonomy.TypeTransfer || p.GuthabenTransfer {
			continue
		}
		if guthabenSignature.MatchString(p.Description) || guthabenSignature.MatchString(p.Counterparty) {
			continue
		}
		if math.Abs(math.Abs(p.Amount)-math.Abs(transfer.Amount)) > amountTolerance {
			continue
		}
		if daysApart(p.Date, transfer.Date) > transferWindowDays {
			continue
		}
		return p
	}
	return nil
}

// Run executes the full marking pass: transfer linking strictly first,
// then the unconditional bank-side PayPal-pattern flagging, then
// cross-account duplicate scoring over the remaining records. The pass
// recomputes every linker-owned flag from scratch, so running it twice
// over the same data yields identical flags.
func (l *Linker) Run(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	txs, err := l.Transactions.List(ctx, repository.TransactionFilters{})
	if err != nil {
		return fmt.Errorf("linker: loading transactions: %w", err)
	}

	before := make(map[string]repository.Transaction, len(txs))
	for _, t := range txs {
		before[t.ID] = t
	}

	for i := range txs {
		clearLinkFlags(&txs[i])
	}

	LinkGuthabenTransfers(txs)

	// balance movements on the bank side are flagged unconditionally
	for i := range txs {
		t := &txs[i]
		if t.Account != taxonomy.AccountBank || t.Duplicate {
			continue
		}
		for _, re := range bankPayPalPatterns {
			if re.MatchString(t.Description) {
				reason := bankTransferReason
				t.Duplicate = true
				t.DuplicateReason = &reason
				break
			}
		}
	}

	candidates := duplicateCandidates(txs)
	for _, m := range FindDuplicates(candidates) {
		if m.Confidence < highConfidence {
			continue
		}
		for i := range txs {
			if txs[i].ID != m.Bank.ID || txs[i].Duplicate {
				continue
			}
			reason := m.Reason()
			linked := m.PayPal.ID
			txs[i].Duplicate = true
			txs[i].DuplicateReason = &reason
			txs[i].LinkedTransactionID = &linked
		}
	}

	var dirty []repository.Transaction
	for _, t := range txs {
		if !linkageEqual(t, before[t.ID]) {
			dirty = append(dirty, t)
		}
	}
	if len(dirty) == 0 {
		return nil
	}

	err = database.WithTx(l.DB, func(tx *sql.Tx) error {
		repo := l.Transactions.WithTx(tx)
		for _, t := range dirty {
			if err := repo.UpdateLinkage(ctx, t); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("linker: persisting flags: %w", err)
	}
	l.Log.Info().Int("flagged", len(dirty)).Msg("linker: marking pass complete")
	return nil
}

// ReviewCandidates returns the medium-confidence pairs (at or above 0.7,
// below the auto-flag threshold) for a manual review list, most similar
// descriptions first.
func (l *Linker) ReviewCandidates(ctx context.Context) ([]DuplicateMatch, error) {
	txs, err := l.Transactions.List(ctx, repository.TransactionFilters{})
	if err != nil {
		return nil, err
	}
	var out []DuplicateMatch
	for _, m := range FindDuplicates(duplicateCandidates(txs)) {
		if m.Confidence >= highConfidence {
			continue
		}
		out = append(out, m)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return descSimilarity(out[i]) > descSimilarity(out[j])
	})
	return out, nil
}

// descSimilarity is a normalized levenshtein similarity in [0,1] used
// only to order the review list.
func descSimilarity(m DuplicateMatch) float64 {
	a := strings.ToUpper(m.Bank.Description)
	b := strings.ToUpper(m.PayPal.Description)
	longest := len(a)
	if len(b) > longest {
		longest = len(b)
	}
	if longest == 0 {
		return 0
	}
	return 1 - float64(levenshtein.ComputeDistance(a, b))/float64(longest)
}

// duplicateCandidates drops records that are already flagged or are
// transfers; transfer classification wins over duplicate matching.
func duplicateCandidates(txs []repository.Transaction) []repository.Transaction {
	out := make([]repository.Transaction, 0, len(txs))
	for _, t := range txs {
		if t.Duplicate || t.GuthabenTransfer || t.Type == taxonomy.TypeTransfer {
			continue
		}
		out = append(out, t)
	}
	return out
}

func clearLinkFlags(t *repository.Transaction) {
	t.Duplicate = false
	t.DuplicateReason = nil
	t.LinkedTransactionID = nil
	t.GuthabenTransfer = false
	t.LinkedPaymentID = nil
	t.LinkedPaymentDescription = nil
	t.LinkedPaymentCounterparty = nil
	t.LinkedPaymentCategory = nil
}

func linkageEqual(a, b repository.Transaction) bool {
	return a.Duplicate == b.Duplicate &&
		a.GuthabenTransfer == b.GuthabenTransfer &&
		a.Category == b.Category &&
		a.Type == b.Type &&
		strEqual(a.DuplicateReason, b.DuplicateReason) &&
		strEqual(a.LinkedTransactionID, b.LinkedTransactionID) &&
		strEqual(a.LinkedPaymentID, b.LinkedPaymentID)
}

func strEqual(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
