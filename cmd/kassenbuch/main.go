package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/joho/godotenv"

	"github.com/hundehilfe/kassenbuch/internal/config"
	"github.com/hundehilfe/kassenbuch/internal/database"
	"github.com/hundehilfe/kassenbuch/internal/database/repository"
	"github.com/hundehilfe/kassenbuch/internal/llm"
	"github.com/hundehilfe/kassenbuch/internal/logger"
	"github.com/hundehilfe/kassenbuch/internal/service"
	"github.com/hundehilfe/kassenbuch/internal/taxonomy"
)

func usage() {
	fmt.Fprintln(os.Stderr, `usage: kassenbuch <command> [args]

commands:
  import-bank <csv-file>       import the bank's CSV export
  import-paypal <json-file>    import a normalized PayPal feed file
  link                         run the duplicate/transfer marking pass
  summary <year>               print the year summary
  transactions <year>          list a year's transactions, newest first
  recategorize                 re-evaluate all unconfirmed transactions
  duplicates                   list possible duplicates for manual review
  review [limit]               ask the advisor about low-confidence rows
  set-category <id> <category> correct a transaction's category
  confirm <id>                 accept a transaction's current category
  reset                        wipe all data, keep schema`)
	os.Exit(2)
}

func main() {
	_ = godotenv.Load()

	if len(os.Args) < 2 {
		usage()
	}

	lg := logger.New()
	ctx := logger.WithContext(context.Background(), lg)

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	if err := os.MkdirAll(filepath.Dir(cfg.Database.Path), 0o755); err != nil {
		log.Fatalf("mkdir db dir: %v", err)
	}

	db, err := database.Open(cfg.Database.Path)
	if err != nil {
		log.Fatalf("open db: %v", err)
	}
	defer db.Close()

	if err := database.RunMigrations(db); err != nil {
		log.Fatalf("migrate: %v", err)
	}
	if err := database.SeedDefaults(ctx, db); err != nil {
		log.Fatalf("seed defaults: %v", err)
	}

	txRepo := repository.NewTransactionRepo(db)
	ruleRepo := repository.NewRuleRepo(db)

	categorizer := &service.Categorizer{Rules: ruleRepo, Log: lg}
	linker := &service.Linker{DB: db, Transactions: txRepo, Log: lg}
	importer := &service.ImportService{Transactions: txRepo, Categorizer: categorizer, Linker: linker, Log: lg}
	summaries := &service.SummaryService{Transactions: txRepo, Log: lg}
	corrections := &service.CorrectionService{DB: db, Transactions: txRepo, Categorizer: categorizer, Log: lg}
	maintenance := &service.MaintenanceService{DB: db}
	review := &service.ReviewService{
		Transactions: txRepo,
		Categorizer:  categorizer,
		Corrections:  corrections,
		Advisor:      advisor(ctx, cfg),
		Log:          lg,
	}

	loc, err := time.LoadLocation(cfg.Locale.Timezone)
	if err != nil {
		lg.Warn().Err(err).Msg("using local timezone due to load failure")
		loc = time.Local
	}

	switch os.Args[1] {
	case "import-bank":
		requireArgs(3)
		f := mustOpen(os.Args[2])
		defer f.Close()
		res, err := importer.ImportBankCSV(ctx, f, loc)
		reportImport(res, err)

	case "import-paypal":
		requireArgs(3)
		f := mustOpen(os.Args[2])
		defer f.Close()
		res, err := importer.ImportPayPalFeed(ctx, f)
		reportImport(res, err)

	case "link":
		if err := linker.Run(ctx); err != nil {
			log.Fatalf("link: %v", err)
		}

	case "summary":
		requireArgs(3)
		year := mustInt(os.Args[2])
		sum, err := summaries.YearSummary(ctx, year)
		if err != nil {
			log.Fatalf("summary: %v", err)
		}
		printSummary(sum, cfg.Locale.Currency)

	case "transactions":
		requireArgs(3)
		year := mustInt(os.Args[2])
		txs, err := summaries.TransactionsByYear(ctx, year)
		if err != nil {
			log.Fatalf("transactions: %v", err)
		}
		printTransactions(txs, loc)

	case "recategorize":
		txs, err := txRepo.List(ctx, repository.TransactionFilters{Unconfirmed: true})
		if err != nil {
			log.Fatalf("recategorize: %v", err)
		}
		changed := categorizer.RecategorizeUnconfirmed(ctx, txs)
		for _, c := range changed {
			if err := txRepo.UpdateCategorization(ctx, c.ID, c.Category, c.Type, c.Confidence); err != nil {
				log.Fatalf("recategorize: %v", err)
			}
		}
		fmt.Printf("%d transactions recategorized\n", len(changed))

	case "duplicates":
		matches, err := linker.ReviewCandidates(ctx)
		if err != nil {
			log.Fatalf("duplicates: %v", err)
		}
		for _, m := range matches {
			fmt.Printf("%.2f  bank:%s  paypal:%s  %s\n", m.Confidence, m.Bank.ID, m.PayPal.ID, m.Reason())
		}

	case "review":
		limit := 10
		if len(os.Args) > 2 {
			limit = mustInt(os.Args[2])
		}
		suggestions, err := review.Suggestions(ctx, limit)
		if err != nil {
			log.Fatalf("review: %v", err)
		}
		for _, sg := range suggestions {
			fmt.Printf("%s  %-40s  %s -> %s (%.2f) %s\n",
				sg.Transaction.ID, sg.Transaction.Description,
				sg.Transaction.Category, sg.Category, sg.Confidence, sg.Rationale)
		}

	case "set-category":
		requireArgs(4)
		category, err := taxonomy.Parse(os.Args[3])
		if err != nil {
			log.Fatalf("set-category: %v", err)
		}
		if err := corrections.UpdateCategory(ctx, os.Args[2], category); err != nil {
			log.Fatalf("set-category: %v", err)
		}

	case "confirm":
		requireArgs(3)
		if err := corrections.Confirm(ctx, os.Args[2]); err != nil {
			log.Fatalf("confirm: %v", err)
		}

	case "reset":
		if err := maintenance.Reset(ctx); err != nil {
			log.Fatalf("reset: %v", err)
		}

	default:
		usage()
	}
}

// advisor builds the optional LLM advisor; a missing API key simply
// disables it and the review service falls back to rules.
func advisor(ctx context.Context, cfg config.Config) llm.Advisor {
	env := cfg.LLM.APIKeyEnv
	if env == "" {
		env = "GEMINI_API_KEY"
	}
	if os.Getenv(env) == "" && cfg.LLM.APIKey == "" {
		return nil
	}
	if cfg.LLM.APIKey != "" && os.Getenv(env) == "" {
		os.Setenv(env, cfg.LLM.APIKey)
	}
	a, err := llm.NewGeminiAdvisor(ctx, cfg.LLM.Model)
	if err != nil {
		return nil
	}
	return a
}

func requireArgs(n int) {
	if len(os.Args) < n {
		usage()
	}
}

func mustOpen(path string) *os.File {
	f, err := os.Open(path)
	if err != nil {
		log.Fatalf("open %s: %v", path, err)
	}
	return f
}

func mustInt(s string) int {
	y, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		log.Fatalf("invalid number %q", s)
	}
	return y
}

func reportImport(res service.ImportResult, err error) {
	if err != nil {
		log.Fatalf("import: %v", err)
	}
	fmt.Printf("imported %d, skipped %d\n", res.Imported, res.Skipped)
	for _, e := range res.Errors {
		fmt.Fprintf(os.Stderr, "  %v\n", e)
	}
}

func printSummary(sum service.YearSummary, currency string) {
	w := tabwriter.NewWriter(os.Stdout, 2, 4, 2, ' ', 0)
	fmt.Fprintf(w, "Jahr %d\n", sum.Year)
	fmt.Fprintf(w, "Einnahmen\t%.2f %s\n", sum.TotalIncome, currency)
	for _, c := range sum.Income {
		fmt.Fprintf(w, "  %s\t%.2f\t%d\t%.1f%%\n", c.Category, c.Total, c.Count, c.Percent)
	}
	fmt.Fprintf(w, "Ausgaben\t%.2f %s\n", sum.TotalExpense, currency)
	for _, c := range sum.Expense {
		fmt.Fprintf(w, "  %s\t%.2f\t%d\t%.1f%%\n", c.Category, c.Total, c.Count, c.Percent)
	}
	fmt.Fprintf(w, "Saldo\t%.2f %s\n", sum.Balance, currency)
	w.Flush()
}

func printTransactions(txs []repository.Transaction, loc *time.Location) {
	w := tabwriter.NewWriter(os.Stdout, 2, 4, 2, ' ', 0)
	for _, t := range txs {
		flags := ""
		if t.Duplicate {
			flags += "D"
		}
		if t.GuthabenTransfer {
			flags += "G"
		}
		fmt.Fprintf(w, "%s\t%s\t%8.2f\t%s\t%.2f\t%s\t%s\n",
			t.Date.In(loc).Format("02.01.2006"), t.Account, t.Amount, t.Category, t.Confidence, flags, t.Description)
	}
	w.Flush()
}
