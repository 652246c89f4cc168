package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/smestern/patchAgent/internal/rigor"
)

// rulesCmd prints the active rigor rule table.
var rulesCmd = &cobra.Command{
	Use:   "rules",
	Short: "Print the active rigor rule table",
	Long: `Prints every rule in the active table in evaluation order.
Block rules veto a submission outright; Warn rules annotate it.`,
	RunE: runRules,
}

func runRules(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	table := rigor.DefaultTable()
	if cfg.Rigor.RulesPath != "" {
		table, err = rigor.Load(cfg.Rigor.RulesPath)
		if err != nil {
			return err
		}
	}

	fmt.Printf("Rule table %s (%d rules)\n", table.Version, table.Len())
	for _, r := range table.Rules() {
		fmt.Printf("  [%s] %-32s %s\n", r.Severity, r.ID, r.Message)
	}
	return nil
}
