package main

import (
	"context"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/smestern/patchAgent/internal/formats"
	"github.com/smestern/patchAgent/internal/integrity"
	"github.com/smestern/patchAgent/internal/resolver"
)

var (
	validateProtocol string
	validateMode     string
	validateSweeps   []int
)

// validateCmd runs the integrity validator over every trace in a recording.
var validateCmd = &cobra.Command{
	Use:   "validate [recording]",
	Short: "Check a recording for data integrity problems",
	Long: `Resolves a recording and runs the integrity validator over every
response trace: missing values, non-finite entries, zero variance, all-zero
traces, suspicious smoothness. Findings annotate the data; nothing is
corrected or excluded.`,
	Args: cobra.ExactArgs(1),
	RunE: runValidate,
}

// boundsCmd checks a single named measurement against the bounds table.
var boundsCmd = &cobra.Command{
	Use:   "bounds [measurement] [value]",
	Short: "Check a measurement against the physiological bounds table",
	Long: `Checks a named scalar measurement against the physiological bounds
table and prints the annotation. Measurements without a table entry pass
through flagged NO_BOUNDS_DEFINED.

Example:
  patchgate bounds input_resistance_MOhm 150`,
	Args: cobra.ExactArgs(2),
	RunE: runBounds,
}

// resolveCmd loads a recording through the cache and prints what came back.
var resolveCmd = &cobra.Command{
	Use:   "resolve [recording]",
	Short: "Resolve a recording through the data cache",
	Args:  cobra.ExactArgs(1),
	RunE:  runResolve,
}

func init() {
	for _, c := range []*cobra.Command{validateCmd, resolveCmd} {
		c.Flags().StringVar(&validateProtocol, "protocol", "", "Restrict to sweeps with this stimulus protocol")
		c.Flags().StringVar(&validateMode, "mode", "", "Restrict to sweeps with this clamp mode (CC or VC)")
		c.Flags().IntSliceVar(&validateSweeps, "sweeps", nil, "Restrict to these sweep indices")
	}
}

func dataFilter() resolver.FilterSpec {
	return resolver.FilterSpec{
		Protocol:  validateProtocol,
		ClampMode: formats.ClampMode(validateMode),
		Sweeps:    validateSweeps,
	}
}

func runValidate(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	g, cleanup, err := buildPipeline(cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	payload, err := g.ResolveDataset(ctx, args[0], dataFilter())
	if err != nil {
		return err
	}

	worst := integrity.StatusOK
	for i, sw := range payload.Recording.Sweeps {
		report := g.ValidateArray(sw.Response, fmt.Sprintf("sweep_%d", i))
		if report.Status > worst {
			worst = report.Status
		}
		fmt.Printf("sweep %d: %s\n", i, report.Status)
		for _, f := range report.Findings {
			fmt.Printf("  [%s] %s: %s\n", f.Severity, f.Kind, f.Detail)
		}
	}
	logger.Info("validation complete",
		zap.String("source", args[0]),
		zap.Int("sweeps", payload.Recording.SweepCount()),
		zap.String("status", worst.String()))
	fmt.Printf("Overall: %s\n", worst)
	return nil
}

func runBounds(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	g, cleanup, err := buildPipeline(cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	value, err := strconv.ParseFloat(args[1], 64)
	if err != nil {
		return fmt.Errorf("invalid value %q: %w", args[1], err)
	}

	result := g.CheckBounds(args[0], value)
	switch {
	case result.Note != "":
		fmt.Printf("%s = %g: %s\n", result.Name, result.Value, result.Note)
	case result.InRange:
		fmt.Printf("%s = %g: within bounds\n", result.Name, result.Value)
	}
	return nil
}

func runResolve(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	g, cleanup, err := buildPipeline(cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	payload, err := g.ResolveDataset(ctx, args[0], dataFilter())
	if err != nil {
		return err
	}

	rec := payload.Recording
	fmt.Printf("Resolved %s\n", payload.Handle)
	fmt.Printf("  sweeps:        %d\n", rec.SweepCount())
	fmt.Printf("  sampling rate: %.0f Hz\n", rec.SamplingRate)
	if rec.Mode != formats.UnknownClamp {
		fmt.Printf("  clamp mode:    %s\n", rec.Mode)
	}
	fmt.Printf("  resident size: ~%d KiB\n", payload.SizeCost/1024)
	return nil
}
