package database

import (
	"context"
	"database/sql"

	"github.com/google/uuid"

	"github.com/hundehilfe/kassenbuch/internal/database/repository"
	"github.com/hundehilfe/kassenbuch/internal/taxonomy"
)

// Built-in rules use priority 100 for specific patterns and 90 for the
// generic catch-alls; user-taught rules start at 150 and therefore always
// win. The transfer rule sits above the built-ins so balance movements are
// never mistaken for income or expenses.
type defaultRule struct {
	pattern  string
	category taxonomy.Category
	priority int
}

var defaultRules = []defaultRule{
	{`guthaben[- ]?transfer|umbuchung|eigenübertrag|eigenuebertrag`, taxonomy.CategoryTransfer, 110},

	{`spende|zuwendung`, taxonomy.CategoryDonation, 100},
	{`mitgliedsbeitrag|jahresbeitrag|aufnahmegebühr|aufnahmegebuehr`, taxonomy.CategoryMembershipFee, 100},
	{`schutzgebühr|schutzgebuehr|schutzvertrag`, taxonomy.CategoryProtectionFee, 100},
	{`patenschaft|tierpate`, taxonomy.CategorySponsorship, 100},
	{`flohmarkt|basar|tombola|sammelaktion|benefiz`, taxonomy.CategoryFundraising, 90},

	{`tierarzt|tierärztlich|tieraerztlich|tierklinik|veterinär|veterinaer|impfung|kastration`, taxonomy.CategoryVetCosts, 100},
	{`futter|tiernahrung|fressnapf|zooplus`, taxonomy.CategoryFoodSupplies, 100},
	{`tierpension|pension|unterbringung`, taxonomy.CategoryPensionCosts, 100},
	{`transport|fahrtkosten|tankstelle|kilometerpauschale`, taxonomy.CategoryTransportCosts, 90},
	{`versicherung|haftpflicht`, taxonomy.CategoryInsurance, 100},
	{`kontoführung|kontofuehrung|kontoführungsentgelt|entgeltabrechnung|bankgebühr|bankgebuehr`, taxonomy.CategoryBankFees, 90},
	{`porto|druckkosten|bürobedarf|buerobedarf|verwaltung`, taxonomy.CategoryAdministration, 90},
}

// SeedDefaults ensures the built-in rule set exists for new databases.
// It is idempotent and safe to run on every startup: once any rules exist
// (built-in or learned), nothing is touched.
func SeedDefaults(ctx context.Context, db *sql.DB) error {
	ruleRepo := repository.NewRuleRepo(db)
	n, err := ruleRepo.Count(ctx)
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}
	for _, dr := range defaultRules {
		id := uuid.NewSHA1(uuid.NameSpaceOID, []byte("rule:"+dr.pattern)).String()
		rule := repository.CategoryRule{
			ID:       id,
			Pattern:  dr.pattern,
			Category: dr.category,
			Priority: dr.priority,
		}
		if err := ruleRepo.Insert(ctx, rule); err != nil {
			return err
		}
	}
	return nil
}
