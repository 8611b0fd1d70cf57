package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.AppName != "ptt-board-courier" {
		t.Errorf("app_name = %q", cfg.AppName)
	}
	if cfg.TickInterval != time.Minute {
		t.Errorf("tick interval = %v", cfg.TickInterval)
	}
	if cfg.BoardBaseURL != "https://www.ptt.cc" {
		t.Errorf("board_base_url = %q", cfg.BoardBaseURL)
	}
	if cfg.BotTokenSource != "env" {
		t.Errorf("bot_token_source = %q", cfg.BotTokenSource)
	}
	if cfg.StorageTTL != 5*24*time.Hour {
		t.Errorf("storage ttl = %v", cfg.StorageTTL)
	}
}

func TestLoadRejectsBadValues(t *testing.T) {
	cases := []struct {
		name  string
		key   string
		value string
	}{
		{name: "negative tick", key: "TICK_INTERVAL", value: "-5"},
		{name: "zero http timeout", key: "HTTP_TIMEOUT_SECONDS", value: "0"},
		{name: "bad base url", key: "BOARD_BASE_URL", value: "ptt.cc"},
		{name: "bad telegram host", key: "TELEGRAM_API_HOST", value: "api.telegram.org"},
		{name: "bad token source", key: "BOT_TOKEN_SOURCE", value: "vault"},
		{name: "empty watches file", key: "WATCHES_FILE", value: " "},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Setenv(tc.key, tc.value)
			if _, err := Load(); err == nil {
				t.Fatalf("expected error for %s=%s", tc.key, tc.value)
			}
		})
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("TICK_INTERVAL", "300")
	t.Setenv("STORAGE_TYPE", "none")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.TickInterval != 5*time.Minute {
		t.Errorf("tick interval = %v", cfg.TickInterval)
	}
	if cfg.StorageType != "none" {
		t.Errorf("storage_type = %q", cfg.StorageType)
	}
}
