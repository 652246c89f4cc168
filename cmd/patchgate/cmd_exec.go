package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/smestern/patchAgent/internal/formats"
	"github.com/smestern/patchAgent/internal/gate"
	"github.com/smestern/patchAgent/internal/resolver"
	"github.com/smestern/patchAgent/internal/sandbox"
)

var (
	execProtocol string
	execMode     string
	execSweeps   []int
)

// execCmd runs an analysis snippet through the full guarded pipeline.
var execCmd = &cobra.Command{
	Use:   "exec [code-file] [recording]",
	Short: "Run analysis code through the guarded pipeline",
	Long: `Runs a source file through the full pipeline: rigor scan, sandboxed
execution against the resolved recording, output integrity validation, and
physiological bounds checking.

The snippet must define
  Analyze(inputs map[string][]float64) (map[string][]float64, map[string]float64, error)
and receives one entry per sweep: time_N, response_N, command_N, plus
sampling_rate.

Example:
  patchgate exec measure_rin.go cell_01.atf --sweeps 0,1,2`,
	Args: cobra.ExactArgs(2),
	RunE: runExec,
}

func init() {
	execCmd.Flags().StringVar(&execProtocol, "protocol", "", "Restrict to sweeps with this stimulus protocol")
	execCmd.Flags().StringVar(&execMode, "mode", "", "Restrict to sweeps with this clamp mode (CC or VC)")
	execCmd.Flags().IntSliceVar(&execSweeps, "sweeps", nil, "Restrict to these sweep indices")
}

func runExec(cmd *cobra.Command, args []string) error {
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

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	payload, err := g.ResolveDataset(ctx, args[1], resolver.FilterSpec{
		Protocol:  execProtocol,
		ClampMode: formats.ClampMode(execMode),
		Sweeps:    execSweeps,
	})
	if err != nil {
		return fmt.Errorf("failed to resolve recording: %w", err)
	}
	logger.Info("recording resolved",
		zap.String("source", args[1]),
		zap.Int("sweeps", payload.Recording.SweepCount()))

	outcome, err := g.Run(ctx, gate.Request{
		Source: string(source),
		Inputs: sweepInputs(payload.Recording),
	}, sandbox.New())

	var rejection *gate.PolicyRejection
	if errors.As(err, &rejection) {
		fmt.Println("REJECTED by rigor policy:")
		printScanResult(outcome.Scan)
		os.Exit(1)
	}
	if err != nil {
		return err
	}

	printOutcome(outcome)
	return nil
}

// sweepInputs flattens a recording into the named-array form the sandboxed
// snippet consumes.
func sweepInputs(rec *formats.Recording) map[string][]float64 {
	inputs := map[string][]float64{
		"sampling_rate": {rec.SamplingRate},
	}
	for i, sw := range rec.Sweeps {
		inputs[fmt.Sprintf("time_%d", i)] = sw.Time
		inputs[fmt.Sprintf("response_%d", i)] = sw.Response
		inputs[fmt.Sprintf("command_%d", i)] = sw.Command
	}
	return inputs
}

func printOutcome(outcome *gate.Outcome) {
	fmt.Printf("Outcome %s: %s (%.1fms)\n", outcome.ID, outcome.State,
		float64(outcome.Duration.Microseconds())/1000)
	if warns := outcome.Scan.WarnMessages(); len(warns) > 0 {
		fmt.Println("Rigor warnings:")
		for _, w := range warns {
			fmt.Printf("  - %s\n", w)
		}
	}
	for _, f := range outcome.Findings() {
		fmt.Printf("Integrity [%s] %s: %s\n", f.Severity, f.Kind, f.Detail)
	}
	for _, b := range outcome.Bounds {
		marker := "ok"
		if !b.InRange {
			marker = "OUT OF RANGE"
		}
		fmt.Printf("Bounds %s = %g: %s", b.Name, b.Value, marker)
		if b.Note != "" {
			fmt.Printf(" (%s)", b.Note)
		}
		fmt.Println()
	}
	if outcome.Output != "" {
		fmt.Println("Output:")
		fmt.Print(outcome.Output)
	}
}
