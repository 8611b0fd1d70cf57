package watch

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const sampleWatchesYAML = `
watches:
  - id: tech-digest
    name: Tech board digest
    board: Tech_Job
    post_count: 30
    keywords:
      - golang
      - "  python "
    chat_id: "-1001234567890"
    schedule:
      type: hourly
  - id: gossip-daily
    board: Gossiping
    chat_id: "99887766"
    schedule:
      type: daily
      time: "08:30"
    enabled: false
  - id: stock-ticker
    board: Stock
    chat_id: "12345"
    schedule:
      type: custom
      interval_minutes: 15
`

func writeWatches(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write watches file: %v", err)
	}
	return path
}

func TestLoadRegistry(t *testing.T) {
	reg, err := LoadRegistry(writeWatches(t, "watches.yaml", sampleWatchesYAML))
	if err != nil {
		t.Fatalf("LoadRegistry failed: %v", err)
	}

	all := reg.All()
	if len(all) != 3 {
		t.Fatalf("expected 3 watches, got %d", len(all))
	}

	tech, ok := reg.ByID("tech-digest")
	if !ok {
		t.Fatal("tech-digest not found")
	}
	if tech.Board != "Tech_Job" || tech.PostCount != 30 {
		t.Errorf("unexpected tech watch: %+v", tech)
	}
	if len(tech.Keywords) != 2 || tech.Keywords[1] != "python" {
		t.Errorf("keywords not sanitized: %v", tech.Keywords)
	}
	if !tech.EnabledValue() {
		t.Error("enabled should default to true")
	}

	gossip, _ := reg.ByID("gossip-daily")
	if gossip.EnabledValue() {
		t.Error("gossip-daily should be disabled")
	}

	stock, _ := reg.ByID("stock-ticker")
	if stock.PostCount != defaultPostCount {
		t.Errorf("post_count should default to %d, got %d", defaultPostCount, stock.PostCount)
	}
}

func TestRegistryEnabled(t *testing.T) {
	reg, err := LoadRegistry(writeWatches(t, "watches.yaml", sampleWatchesYAML))
	if err != nil {
		t.Fatalf("LoadRegistry failed: %v", err)
	}

	enabled := reg.Enabled()
	if len(enabled) != 2 {
		t.Fatalf("expected 2 enabled watches, got %d", len(enabled))
	}
	for _, w := range enabled {
		if w.ID == "gossip-daily" {
			t.Error("disabled watch returned from Enabled")
		}
	}
}

func TestLoadRegistryJSON(t *testing.T) {
	content := `{"watches":[{"id":"a","board":"Tech_Job","chat_id":"1","schedule":{"type":"hourly"}}]}`
	reg, err := LoadRegistry(writeWatches(t, "watches.json", content))
	if err != nil {
		t.Fatalf("LoadRegistry failed: %v", err)
	}
	if len(reg.All()) != 1 {
		t.Fatalf("expected 1 watch, got %d", len(reg.All()))
	}
}

func TestLoadRegistryRejectsInvalid(t *testing.T) {
	cases := []struct {
		name    string
		content string
		wantErr string
	}{
		{
			name:    "missing id",
			content: "watches:\n  - board: Tech_Job\n    chat_id: \"1\"\n    schedule: {type: hourly}\n",
			wantErr: "id is required",
		},
		{
			name:    "missing board",
			content: "watches:\n  - id: a\n    chat_id: \"1\"\n    schedule: {type: hourly}\n",
			wantErr: "board is required",
		},
		{
			name:    "missing chat",
			content: "watches:\n  - id: a\n    board: Tech_Job\n    schedule: {type: hourly}\n",
			wantErr: "chat_id is required",
		},
		{
			name:    "bad schedule type",
			content: "watches:\n  - id: a\n    board: Tech_Job\n    chat_id: \"1\"\n    schedule: {type: weekly}\n",
			wantErr: "unknown schedule type",
		},
		{
			name:    "custom without interval",
			content: "watches:\n  - id: a\n    board: Tech_Job\n    chat_id: \"1\"\n    schedule: {type: custom}\n",
			wantErr: "interval_minutes is required",
		},
		{
			name:    "post count too large",
			content: "watches:\n  - id: a\n    board: Tech_Job\n    chat_id: \"1\"\n    post_count: 500\n    schedule: {type: hourly}\n",
			wantErr: "post_count must be at most",
		},
		{
			name:    "duplicate id",
			content: "watches:\n  - id: a\n    board: Tech_Job\n    chat_id: \"1\"\n    schedule: {type: hourly}\n  - id: a\n    board: Stock\n    chat_id: \"2\"\n    schedule: {type: hourly}\n",
			wantErr: "duplicate watch id",
		},
		{
			name:    "empty file",
			content: "watches: []\n",
			wantErr: "no watch entries",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := LoadRegistry(writeWatches(t, "watches.yaml", tc.content))
			if err == nil {
				t.Fatal("expected error, got nil")
			}
			if !strings.Contains(err.Error(), tc.wantErr) {
				t.Errorf("error %q does not mention %q", err, tc.wantErr)
			}
		})
	}
}

func TestLoadRegistryMissingFile(t *testing.T) {
	if _, err := LoadRegistry(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}
