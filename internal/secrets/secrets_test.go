package secrets

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/boardwatch-hq/ptt-board-courier/pkg/resilience"
)

func TestEnvProvider(t *testing.T) {
	t.Setenv("COURIER_TEST_TOKEN", " 123456:abc ")

	p := &EnvProvider{Var: "COURIER_TEST_TOKEN"}
	token, err := p.BotToken(context.Background())
	if err != nil {
		t.Fatalf("BotToken: %v", err)
	}
	if token != "123456:abc" {
		t.Fatalf("token = %q, want trimmed value", token)
	}
}

func TestEnvProviderEmptyIsConfigError(t *testing.T) {
	t.Setenv("COURIER_TEST_TOKEN", "")

	p := &EnvProvider{Var: "COURIER_TEST_TOKEN"}
	_, err := p.BotToken(context.Background())
	if resilience.KindOf(err) != resilience.KindConfig {
		t.Fatalf("error = %v, want config error", err)
	}
}

func TestFileProvider(t *testing.T) {
	path := filepath.Join(t.TempDir(), "token")
	if err := os.WriteFile(path, []byte("123456:abc\n"), 0o600); err != nil {
		t.Fatalf("write token file: %v", err)
	}

	p := &FileProvider{Path: path}
	token, err := p.BotToken(context.Background())
	if err != nil {
		t.Fatalf("BotToken: %v", err)
	}
	if token != "123456:abc" {
		t.Fatalf("token = %q", token)
	}
}

func TestFileProviderMissingFileIsTransient(t *testing.T) {
	p := &FileProvider{Path: filepath.Join(t.TempDir(), "absent")}
	_, err := p.BotToken(context.Background())
	if resilience.KindOf(err) != resilience.KindTransient {
		t.Fatalf("error = %v, want transient", err)
	}
}

func TestNewProvider(t *testing.T) {
	if _, err := NewProvider("env", "X"); err != nil {
		t.Fatalf("env provider: %v", err)
	}
	if _, err := NewProvider("file", "/run/secret"); err != nil {
		t.Fatalf("file provider: %v", err)
	}
	if _, err := NewProvider("vault", ""); err == nil {
		t.Fatalf("expected error for unsupported source")
	}
}
