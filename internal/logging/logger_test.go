package logging

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
)

func TestInitialize_DisabledIsNoOp(t *testing.T) {
	if err := Initialize("", false, "info"); err != nil {
		t.Fatalf("Initialize disabled: %v", err)
	}
	l := Get(CategoryGate)
	// Must not panic or write anywhere.
	l.Info("dropped")
	l.Error("dropped")
}

func TestInitialize_WritesCategoryFiles(t *testing.T) {
	dir := t.TempDir()
	if err := Initialize(dir, true, "debug"); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	defer func() {
		CloseAll()
		_ = Initialize("", false, "info")
	}()

	Rigor("table loaded: %d rules", 16)
	RigorDebug("debug detail")
	CloseAll()

	matches, err := filepath.Glob(filepath.Join(dir, ".patchagent", "logs", "*_rigor.log"))
	if err != nil || len(matches) != 1 {
		t.Fatalf("rigor log files = %v (%v)", matches, err)
	}
	data, err := os.ReadFile(matches[0])
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), "table loaded: 16 rules") {
		t.Fatalf("log content = %q", data)
	}
	if !strings.Contains(string(data), "[DEBUG] debug detail") {
		t.Fatalf("debug line missing at debug level: %q", data)
	}
}

func TestInitialize_LevelGatesDebug(t *testing.T) {
	dir := t.TempDir()
	if err := Initialize(dir, true, "info"); err != nil {
		t.Fatal(err)
	}
	defer func() {
		CloseAll()
		_ = Initialize("", false, "info")
	}()

	GateLog("kept")
	GateDebug("filtered")
	CloseAll()

	matches, _ := filepath.Glob(filepath.Join(dir, ".patchagent", "logs", "*_gate.log"))
	if len(matches) != 1 {
		t.Fatalf("gate log files = %v", matches)
	}
	data, _ := os.ReadFile(matches[0])
	if !strings.Contains(string(data), "kept") || strings.Contains(string(data), "filtered") {
		t.Fatalf("level gating broken: %q", data)
	}
}

func TestLogging_ConcurrentWithInitialize(t *testing.T) {
	dir := t.TempDir()
	defer func() {
		CloseAll()
		_ = Initialize("", false, "info")
	}()

	// Log from many goroutines while the level is being reconfigured;
	// run with the race detector to verify the level read is synchronized.
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				Resolver("hit %d", j)
				ResolverDebug("detail %d", j)
			}
		}()
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		for _, level := range []string{"debug", "info", "warn", "error", "info"} {
			if err := Initialize(dir, true, level); err != nil {
				t.Errorf("Initialize: %v", err)
				return
			}
		}
	}()
	wg.Wait()
}
