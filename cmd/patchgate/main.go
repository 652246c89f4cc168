package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/smestern/patchAgent/internal/audit"
	"github.com/smestern/patchAgent/internal/bounds"
	"github.com/smestern/patchAgent/internal/config"
	"github.com/smestern/patchAgent/internal/formats"
	"github.com/smestern/patchAgent/internal/gate"
	"github.com/smestern/patchAgent/internal/logging"
	"github.com/smestern/patchAgent/internal/resolver"
	"github.com/smestern/patchAgent/internal/rigor"
)

var (
	// Global flags
	verbose    bool
	configPath string
	workspace  string
	timeout    time.Duration

	// Logger
	logger *zap.Logger
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "patchgate",
	Short: "patchAgent guarded execution pipeline for electrophysiology analysis",
	Long: `patchgate gates analysis code before it touches patch-clamp data.

Every code submission is scanned against a rigor policy before execution:
Block rules (fabricated data, forced results) reject it outright, Warn rules
(custom reimplementations of validated methods) annotate it. Admitted code
runs in a sandboxed interpreter; its outputs pass through data integrity
validation and physiological bounds checking, and every finding travels with
the result. Findings are surfaced, never fixed.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Initialize logger
		zcfg := zap.NewProductionConfig()
		if verbose {
			zcfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		var err error
		logger, err = zcfg.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
		logging.CloseAll()
	},
}

// loadConfig loads the YAML config and applies global flag overrides.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if workspace != "" {
		cfg.Workspace = workspace
	}
	if verbose {
		cfg.Logging.DebugMode = true
		cfg.Logging.Level = "debug"
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := logging.Initialize(cfg.Workspace, cfg.Logging.DebugMode, cfg.Logging.Level); err != nil {
		return nil, fmt.Errorf("failed to initialize file logging: %w", err)
	}
	return cfg, nil
}

// buildPipeline wires the full execution gate from configuration. The
// returned cleanup closes the audit store.
func buildPipeline(cfg *config.Config) (*gate.Gate, func(), error) {
	ruleTable := rigor.DefaultTable()
	if cfg.Rigor.RulesPath != "" {
		var err error
		ruleTable, err = rigor.Load(cfg.Rigor.RulesPath)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to load rule table: %w", err)
		}
	}
	scanner := rigor.NewGate(ruleTable)
	logger.Debug("rule table loaded",
		zap.String("version", ruleTable.Version),
		zap.Int("rules", ruleTable.Len()))

	boundsTable := bounds.DefaultTable()
	if cfg.Bounds.TablePath != "" {
		var err error
		boundsTable, err = bounds.Load(cfg.Bounds.TablePath)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to load bounds table: %w", err)
		}
	}

	registry := formats.NewRegistry()
	registry.Register(".atf", formats.NewATFReader())
	res := resolver.New(registry, cfg.Resolver.CacheCapacity)

	g := gate.New(scanner, boundsTable, res)

	cleanup := func() {}
	if cfg.Audit.Enabled {
		store, err := audit.Open(cfg.Audit.DatabasePath)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open audit store: %w", err)
		}
		g.WithAudit(store)
		cleanup = func() { _ = store.Close() }
	}
	return g, cleanup, nil
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "patchagent.yaml", "Path to configuration file")
	rootCmd.PersistentFlags().StringVarP(&workspace, "workspace", "w", "", "Workspace directory (overrides config)")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 30*time.Second, "Execution timeout")

	rootCmd.AddCommand(scanCmd)
	rootCmd.AddCommand(execCmd)
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(boundsCmd)
	rootCmd.AddCommand(resolveCmd)
	rootCmd.AddCommand(rulesCmd)
	rootCmd.AddCommand(auditCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
