package rigor

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestNewTable_Validation(t *testing.T) {
	cases := []struct {
		name    string
		rules   []Rule
		wantErr string
	}{
		{
			name:    "empty_id",
			rules:   []Rule{{Pattern: "x", Severity: Block, Message: "m"}},
			wantErr: "empty id",
		},
		{
			name: "duplicate_id",
			rules: []Rule{
				{ID: "a", Pattern: "x", Severity: Block, Message: "m"},
				{ID: "a", Pattern: "y", Severity: Warn, Message: "m"},
			},
			wantErr: "duplicate id",
		},
		{
			name:    "unknown_severity",
			rules:   []Rule{{ID: "a", Pattern: "x", Severity: "fatal", Message: "m"}},
			wantErr: "unknown severity",
		},
		{
			name:    "empty_message",
			rules:   []Rule{{ID: "a", Pattern: "x", Severity: Block}},
			wantErr: "empty message",
		},
		{
			name:    "bad_pattern",
			rules:   []Rule{{ID: "a", Pattern: "(", Severity: Block, Message: "m"}},
			wantErr: "bad pattern",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := NewTable("test", tc.rules)
			if err == nil {
				t.Fatal("err = nil")
			}
			if !strings.Contains(err.Error(), tc.wantErr) {
				t.Fatalf("err = %q, want substring %q", err, tc.wantErr)
			}
		})
	}
}

func TestDefaultTable_Compiles(t *testing.T) {
	table := DefaultTable()
	if table.Len() == 0 {
		t.Fatal("empty default table")
	}
	if table.Version == "" {
		t.Fatal("missing version")
	}

	var blocks, warns int
	for _, r := range table.Rules() {
		switch r.Severity {
		case Block:
			blocks++
		case Warn:
			warns++
		}
	}
	if blocks == 0 || warns == 0 {
		t.Fatalf("blocks = %d, warns = %d; both tiers must be populated", blocks, warns)
	}
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rules.yaml")

	t.Run("valid", func(t *testing.T) {
		doc := `version: "2026.09"
rules:
  - id: no-interp
    pattern: 'interpolate'
    severity: warn
    message: Interpolation detected.
`
		if err := os.WriteFile(path, []byte(doc), 0644); err != nil {
			t.Fatal(err)
		}
		table, err := Load(path)
		if err != nil {
			t.Fatalf("Load: %v", err)
		}
		if table.Version != "2026.09" || table.Len() != 1 {
			t.Fatalf("table = %s/%d", table.Version, table.Len())
		}
	})

	t.Run("missing_version", func(t *testing.T) {
		doc := `rules:
  - id: no-interp
    pattern: 'interpolate'
    severity: warn
    message: Interpolation detected.
`
		if err := os.WriteFile(path, []byte(doc), 0644); err != nil {
			t.Fatal(err)
		}
		if _, err := Load(path); err == nil {
			t.Fatal("err = nil for versionless table")
		}
	})

	t.Run("missing_file", func(t *testing.T) {
		if _, err := Load(filepath.Join(dir, "absent.yaml")); err == nil {
			t.Fatal("err = nil for missing file")
		}
	})
}
