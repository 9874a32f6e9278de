package main

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	wildcard "github.com/IGLOU-EU/go-wildcard/v2"
	"github.com/spf13/cobra"

	"github.com/stratushq/entitlements/pkg/entitlement"
	"github.com/stratushq/entitlements/pkg/reporting"
)

var (
	plansFilter string
	plansPDF    string
	plansCSV    string
)

var plansCmd = &cobra.Command{
	Use:   "plans",
	Short: "Show the plan catalog",
	Long:  `Print the ordered plan catalog, or export it as a PDF or CSV sheet.`,
	Example: `  # Print the catalog
  entitlementd plans

  # Only community tiers
  entitlementd plans --filter 'community*'

  # Export the catalog sheet
  entitlementd plans --pdf stratus-plans.pdf
  entitlementd plans --csv stratus-plans.csv`,
	RunE: func(cmd *cobra.Command, args []string) error {
		plans := entitlement.PlanTable()
		if plansFilter != "" {
			filtered := plans[:0]
			pattern := strings.ToLower(plansFilter)
			for _, p := range plans {
				if wildcard.Match(pattern, strings.ToLower(string(p.ID))) ||
					wildcard.Match(pattern, strings.ToLower(p.DisplayName)) {
					filtered = append(filtered, p)
				}
			}
			plans = filtered
		}

		if plansPDF != "" || plansCSV != "" {
			return exportCatalog(plans)
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "RANK\tID\tDISPLAY NAME\tPRODUCT NAME\tPAID\tNEXT TIER")
		for _, p := range plans {
			fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%v\t%s\n",
				p.Rank, p.ID, p.DisplayName, p.ProductName, p.Paid, p.NextPaidTier)
		}
		return w.Flush()
	},
}

func exportCatalog(plans []entitlement.PlanInfo) error {
	data := reporting.CatalogData{
		GeneratedAt: time.Now(),
		Version:     Version,
		Plans:       plans,
		States:      entitlement.StateTable(),
	}

	if plansPDF != "" {
		pdf, err := reporting.NewPDFGenerator().GenerateCatalog(data)
		if err != nil {
			return fmt.Errorf("generate PDF catalog: %w", err)
		}
		if err := os.WriteFile(plansPDF, pdf, 0o644); err != nil {
			return fmt.Errorf("write PDF catalog: %w", err)
		}
		fmt.Printf("Plan catalog written to %s\n", plansPDF)
	}

	if plansCSV != "" {
		csvData, err := reporting.NewCSVGenerator().GenerateCatalog(data)
		if err != nil {
			return fmt.Errorf("generate CSV catalog: %w", err)
		}
		if err := os.WriteFile(plansCSV, csvData, 0o644); err != nil {
			return fmt.Errorf("write CSV catalog: %w", err)
		}
		fmt.Printf("Plan catalog written to %s\n", plansCSV)
	}

	return nil
}

func init() {
	plansCmd.Flags().StringVar(&plansFilter, "filter", "", "glob filter on plan id or display name")
	plansCmd.Flags().StringVar(&plansPDF, "pdf", "", "write the catalog sheet to a PDF file")
	plansCmd.Flags().StringVar(&plansCSV, "csv", "", "write the catalog sheet to a CSV file")
}
