// Package sandbox provides the default in-process executor for admitted
// analysis code. Instead of shelling out to a compiler or a foreign runtime,
// snippets are interpreted with Yaegi under an import allowlist and a
// context deadline.
//
// Restrictions:
//   - Only the listed stdlib packages may be imported (no os, exec, net).
//   - The snippet must define
//     Analyze(inputs map[string][]float64) (map[string][]float64, map[string]float64, error)
//     returning derived arrays and named scalar measurements.
//   - Execution is bounded by the caller's context.
//
// The executor is one implementation of the gate's Executor boundary;
// callers with their own runtime plug in theirs instead.
package sandbox

import (
	"context"
	"fmt"
	"strings"

	"github.com/traefik/yaegi/interp"
	"github.com/traefik/yaegi/stdlib"

	"github.com/smestern/patchAgent/internal/gate"
	"github.com/smestern/patchAgent/internal/logging"
)

// Executor interprets Go analysis snippets. Implements gate.Executor.
type Executor struct {
	// Whitelist of allowed stdlib packages.
	allowedPackages map[string]bool
}

// New creates a sandboxed snippet executor.
func New() *Executor {
	return &Executor{
		allowedPackages: map[string]bool{
			"fmt":     true,
			"math":    true,
			"sort":    true,
			"strings": true,
			"strconv": true,
			"errors":  true,

			// EXPLICITLY BLOCKED (unsafe packages):
			// "os" - filesystem access
			// "os/exec" - command execution
			// "net", "net/http" - network access
			// "syscall", "unsafe" - system access
			// "math/rand" - synthetic data (also a Block rule upstream)
		},
	}
}

// analyzeFunc is the signature a snippet must provide.
type analyzeFunc = func(map[string][]float64) (map[string][]float64, map[string]float64, error)

// Execute implements gate.Executor.
func (e *Executor) Execute(ctx context.Context, source string, inputs map[string][]float64) (*gate.ExecResult, error) {
	if err := e.validateImports(source); err != nil {
		return nil, fmt.Errorf("invalid imports: %w", err)
	}

	var out strings.Builder
	i := interp.New(interp.Options{Stdout: &out, Stderr: &out})
	if err := i.Use(stdlib.Symbols); err != nil {
		return nil, fmt.Errorf("failed to load stdlib: %w", err)
	}

	if _, err := i.Eval(wrapCode(source)); err != nil {
		return nil, fmt.Errorf("code evaluation failed: %w", err)
	}

	v, err := i.Eval("main.Analyze")
	if err != nil {
		return nil, fmt.Errorf("Analyze function not found: %w", err)
	}
	analyze, ok := v.Interface().(analyzeFunc)
	if !ok {
		return nil, fmt.Errorf("Analyze has incorrect signature (expected: func(map[string][]float64) (map[string][]float64, map[string]float64, error))")
	}

	type result struct {
		arrays  map[string][]float64
		scalars map[string]float64
		err     error
	}
	resCh := make(chan result, 1)
	go func() {
		arrays, scalars, err := analyze(inputs)
		resCh <- result{arrays: arrays, scalars: scalars, err: err}
	}()

	select {
	case res := <-resCh:
		if res.err != nil {
			return nil, res.err
		}
		logging.Sandbox("snippet completed: %d array(s), %d scalar(s)", len(res.arrays), len(res.scalars))
		return &gate.ExecResult{
			Output:  out.String(),
			Arrays:  res.arrays,
			Scalars: res.scalars,
		}, nil
	case <-ctx.Done():
		// The goroutine is abandoned; yaegi offers no preemption. The
		// deadline bounds how long the caller waits, not the interpreter.
		return nil, fmt.Errorf("snippet execution timed out: %w", ctx.Err())
	}
}

// validateImports checks that the code only imports allowed packages.
func (e *Executor) validateImports(code string) error {
	var imports []string
	inBlock := false
	for _, line := range strings.Split(code, "\n") {
		trimmed := strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(trimmed, "import ("):
			inBlock = true
		case inBlock && strings.HasPrefix(trimmed, ")"):
			inBlock = false
		case inBlock:
			imports = append(imports, strings.Trim(trimmed, `"`))
		case strings.HasPrefix(trimmed, "import "):
			imports = append(imports, strings.Trim(strings.TrimPrefix(trimmed, "import "), `"`))
		}
	}

	var forbidden []string
	for _, pkg := range imports {
		if pkg == "" {
			continue
		}
		if !e.allowedPackages[pkg] {
			forbidden = append(forbidden, pkg)
		}
	}
	if len(forbidden) > 0 {
		return fmt.Errorf("forbidden imports detected: %v", forbidden)
	}
	return nil
}

// wrapCode wraps the snippet in a main package if needed.
func wrapCode(code string) string {
	if strings.Contains(code, "package main") {
		return code
	}
	return "package main\n\n" + code
}
