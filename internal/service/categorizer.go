// Package service contains the classification, linking, aggregation and
// intake logic operating on the repository layer.
package service

import (
	"context"
	"database/sql"
	"math"
	"regexp"
	"sort"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hundehilfe/kassenbuch/internal/database/repository"
	"github.com/hundehilfe/kassenbuch/internal/taxonomy"
)

const (
	fallbackConfidence = 0.1
	maxRuleConfidence  = 0.99

	userRulePriority  = 150
	rulePriorityBoost = 10
)

// Categorizer assigns categories via the prioritized rule set and learns
// new or boosted rules from confirmed corrections. All mutations of the
// rule store go through a single writer.
type Categorizer struct {
	Rules *repository.RuleRepo
	Log   zerolog.Logger

	mu sync.Mutex
}

// WithTx returns a categorizer whose rule-store reads and writes join
// the given transaction.
func (c *Categorizer) WithTx(tx *sql.Tx) *Categorizer {
	return &Categorizer{Rules: c.Rules.WithTx(tx), Log: c.Log}
}

// ruleConfidence grows with repeated confirmation and rule specificity
// but never reaches certainty; 1.0 is reserved for user confirmation.
func ruleConfidence(r repository.CategoryRule) float64 {
	c := 0.5 + float64(r.MatchCount)*0.05 + float64(r.Priority)/200
	return math.Min(c, maxRuleConfidence)
}

// MatchRules is the pure matching function: it selects the best rule for
// a description and signed amount without touching usage counters.
// Rules are tried in priority order; a malformed pattern is skipped, a
// transfer rule matches regardless of sign, and income/expense rules
// require their class to agree with the sign of the amount.
func MatchRules(rules []repository.CategoryRule, description string, amount float64) *repository.CategoryRule {
	desc := strings.ToLower(description)

	ordered := make([]repository.CategoryRule, len(rules))
	copy(ordered, rules)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].Priority > ordered[j].Priority })

	for i := range ordered {
		r := &ordered[i]
		re, err := regexp.Compile(`(?i)` + r.Pattern)
		if err != nil {
			// a broken pattern must never abort categorization
			continue
		}
		if !re.MatchString(desc) {
			continue
		}
		if r.Category != taxonomy.CategoryTransfer {
			class := taxonomy.ClassOf(r.Category)
			if class == taxonomy.TypeIncome && amount < 0 {
				continue
			}
			if class == taxonomy.TypeExpense && amount >= 0 {
				continue
			}
			abs := math.Abs(amount)
			if r.MinAmount != nil && abs < *r.MinAmount {
				continue
			}
			if r.MaxAmount != nil && abs > *r.MaxAmount {
				continue
			}
		}
		return r
	}
	return nil
}

// Categorize selects the best-matching rule for the description and
// amount and returns its category with a confidence score. It never
// fails: on any error the sign-chosen fallback category is returned with
// low confidence so the transaction is flagged for review.
func (c *Categorizer) Categorize(ctx context.Context, description string, amount float64) (taxonomy.Category, float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.categorizeLocked(ctx, description, amount)
}

func (c *Categorizer) categorizeLocked(ctx context.Context, description string, amount float64) (taxonomy.Category, float64) {
	rules, err := c.Rules.List(ctx)
	if err != nil {
		c.Log.Error().Err(err).Msg("categorize: loading rules")
		return taxonomy.Fallback(amount), fallbackConfidence
	}

	r := MatchRules(rules, description, amount)
	if r == nil {
		return taxonomy.Fallback(amount), fallbackConfidence
	}

	if err := c.Rules.IncrementMatch(ctx, r.ID); err != nil {
		c.Log.Error().Err(err).Str("rule", r.ID).Msg("categorize: persisting match count")
	}
	r.MatchCount++
	return r.Category, ruleConfidence(*r)
}

// keywordChars keeps basic Latin letters, the German umlaut/ß range and
// whitespace; everything else is stripped before tokenizing.
var keywordChars = regexp.MustCompile(`[^a-zäöüß\s]+`)

// extractKeywords lowercases a description and returns its tokens longer
// than 3 characters.
func extractKeywords(description string) []string {
	s := strings.ToLower(description)
	s = keywordChars.ReplaceAllString(s, "")
	var out []string
	for _, tok := range strings.Fields(s) {
		if utf8.RuneCountInString(tok) > 3 {
			out = append(out, tok)
		}
	}
	return out
}

// LearnFromCorrection updates the rule store from a confirmed
// categorization. An existing same-category rule is boosted and its
// amount band widened rather than creating a near-duplicate; only when
// no rule generalizes is a new user-defined rule appended.
func (c *Categorizer) LearnFromCorrection(ctx context.Context, description string, category taxonomy.Category, amount *float64) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	keywords := extractKeywords(description)

	var minAmount, maxAmount *float64
	if amount != nil {
		abs := math.Abs(*amount)
		lo := math.Floor(abs * 0.9)
		hi := math.Ceil(abs * 1.1)
		// A Schutzgebühr is a recurring near-fixed fee; generalize small
		// variations across the whole usual band.
		if category == taxonomy.CategoryProtectionFee && abs >= 400 && abs <= 600 {
			lo, hi = 400, 600
		}
		minAmount, maxAmount = &lo, &hi
	}

	rules, err := c.Rules.List(ctx)
	if err != nil {
		return err
	}

	if r := findBoostable(rules, category, keywords); r != nil {
		r.Priority += rulePriorityBoost
		r.MatchCount++
		r.MinAmount = unionMin(r.MinAmount, minAmount)
		r.MaxAmount = unionMax(r.MaxAmount, maxAmount)
		if err := c.Rules.Update(ctx, *r); err != nil {
			return err
		}
		c.Log.Debug().Str("rule", r.ID).Str("category", string(category)).Msg("learn: boosted rule")
		return nil
	}

	top := keywords
	if len(top) > 3 {
		top = top[:3]
	}
	pattern := strings.Join(top, "|")
	if pattern == "" {
		// only the amount band distinguishes this rule
		pattern = ".*"
	}
	rule := repository.CategoryRule{
		ID:          uuid.NewString(),
		Pattern:     pattern,
		Category:    category,
		Priority:    userRulePriority,
		MatchCount:  1,
		UserDefined: true,
		MinAmount:   minAmount,
		MaxAmount:   maxAmount,
	}
	if err := c.Rules.Insert(ctx, rule); err != nil {
		return err
	}
	c.Log.Debug().Str("pattern", pattern).Str("category", string(category)).Msg("learn: new rule")
	return nil
}

// findBoostable picks an existing same-category rule whose pattern
// already contains one of the keywords, or, failing keyword overlap, one
// with an amount band already set.
func findBoostable(rules []repository.CategoryRule, category taxonomy.Category, keywords []string) *repository.CategoryRule {
	for i := range rules {
		r := &rules[i]
		if r.Category != category {
			continue
		}
		pattern := strings.ToLower(r.Pattern)
		for _, kw := range keywords {
			if strings.Contains(pattern, kw) {
				return r
			}
		}
	}
	for i := range rules {
		r := &rules[i]
		if r.Category != category {
			continue
		}
		if r.MinAmount != nil || r.MaxAmount != nil {
			return r
		}
	}
	return nil
}

// unionMin and unionMax widen an existing rule's band with a new
// observation. A nil existing bound means the rule matches any amount
// and stays unbounded; a nil new bound carries no amount information
// and leaves the band alone.
func unionMin(old, new *float64) *float64 {
	if old == nil {
		return nil
	}
	if new == nil {
		return old
	}
	v := math.Min(*old, *new)
	return &v
}

func unionMax(old, new *float64) *float64 {
	if old == nil {
		return nil
	}
	if new == nil {
		return old
	}
	v := math.Max(*old, *new)
	return &v
}

// RecategorizeUnconfirmed re-evaluates every transaction that the user
// has neither confirmed nor manually categorized and returns the mutated
// copies. Persistence is left to the caller so corrections commit as one
// logical operation.
func (c *Categorizer) RecategorizeUnconfirmed(ctx context.Context, txs []repository.Transaction) []repository.Transaction {
	c.mu.Lock()
	defer c.mu.Unlock()

	var changed []repository.Transaction
	for _, tx := range txs {
		if tx.UserConfirmed || tx.ManuallyCategorized {
			continue
		}
		category, confidence := c.categorizeLocked(ctx, tx.Description, tx.Amount)
		if category == tx.Category {
			continue
		}
		tx.Category = category
		tx.Confidence = confidence
		tx.Type = taxonomy.TypeFor(category, tx.Amount)
		changed = append(changed, tx)
	}
	return changed
}
