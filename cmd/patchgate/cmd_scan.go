package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/smestern/patchAgent/internal/rigor"
)

// scanCmd scans a code file against the rigor policy without executing it.
var scanCmd = &cobra.Command{
	Use:   "scan [code-file]",
	Short: "Scan analysis code against the rigor policy",
	Long: `Scans a source file against the active rule table and prints the
admission decision without executing anything.

Exit status is 0 for ADMIT, 2 for ADMIT_WITH_WARNINGS, 1 for REJECT,
so the command can gate CI or agent pipelines directly.`,
	Args: cobra.ExactArgs(1),
	RunE: runScan,
}

func runScan(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	g, cleanup, err := buildPipeline(cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	source, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("failed to read code file: %w", err)
	}

	result := g.SubmitCode(string(source), nil)
	logger.Info("scan complete",
		zap.String("file", args[0]),
		zap.String("decision", string(result.Decision)),
		zap.Int("matches", len(result.Matches)))

	printScanResult(result)

	switch result.Decision {
	case rigor.Reject:
		os.Exit(1)
	case rigor.AdmitWithWarnings:
		os.Exit(2)
	}
	return nil
}

func printScanResult(result rigor.ScanResult) {
	fmt.Printf("Decision: %s (rule table %s)\n", result.Decision, result.TableVersion)
	for _, m := range result.Matches {
		fmt.Printf("  [%s] %s: %s\n", m.Severity, m.RuleID, m.Message)
	}
}
