package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/smestern/patchAgent/internal/audit"
)

var auditLimit int

// auditCmd inspects the persisted audit trail.
var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Show recent admission scans and executions",
	RunE:  runAudit,
}

func init() {
	auditCmd.Flags().IntVarP(&auditLimit, "limit", "n", 20, "Maximum records to show")
}

func runAudit(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if !cfg.Audit.Enabled {
		return fmt.Errorf("audit trail is disabled in configuration")
	}

	store, err := audit.Open(cfg.Audit.DatabasePath)
	if err != nil {
		return err
	}
	defer store.Close()

	scans, err := store.RecentScans(auditLimit)
	if err != nil {
		return err
	}
	fmt.Printf("Recent scans (%d):\n", len(scans))
	for _, s := range scans {
		fmt.Printf("  %s  %-20s  table=%s  source=%s", s.CreatedAt.Format("2006-01-02 15:04:05"),
			s.Decision, s.TableVersion, s.SourceHash[:12])
		if len(s.Matches) > 0 {
			fmt.Printf("  [%s]", strings.Join(s.Matches, ", "))
		}
		fmt.Println()
	}

	execs, err := store.RecentExecutions(auditLimit)
	if err != nil {
		return err
	}
	fmt.Printf("Recent executions (%d):\n", len(execs))
	for _, e := range execs {
		status := "ok"
		if !e.Success {
			status = "FAILED"
		}
		fmt.Printf("  %s  %-6s  %dms", e.CreatedAt.Format("2006-01-02 15:04:05"), status, e.DurationMs)
		if len(e.Findings) > 0 {
			fmt.Printf("  findings=[%s]", strings.Join(e.Findings, ", "))
		}
		if len(e.OutOfRange) > 0 {
			fmt.Printf("  out_of_range=[%s]", strings.Join(e.OutOfRange, ", "))
		}
		fmt.Println()
	}
	return nil
}
