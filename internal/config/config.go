package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds the application configuration loaded from files and environment variables.
type Config struct {
	AppName         string        `mapstructure:"app_name"`
	Env             string        `mapstructure:"app_env"`
	LogLevel        string        `mapstructure:"log_level"`
	WatchesFile     string        `mapstructure:"watches_file"`
	MirrorsFile     string        `mapstructure:"mirrors_file"`
	TickSeconds     int64         `mapstructure:"tick_interval"`
	TickInterval    time.Duration `mapstructure:"-"`
	HTTPTimeoutSecs int64         `mapstructure:"http_timeout_seconds"`
	HTTPTimeout     time.Duration `mapstructure:"-"`
	BoardBaseURL    string        `mapstructure:"board_base_url"`
	TelegramAPIHost string        `mapstructure:"telegram_api_host"`
	BotTokenSource  string        `mapstructure:"bot_token_source"`
	BotTokenDetail  string        `mapstructure:"bot_token_detail"`

	StorageType            string        `mapstructure:"storage_type"`
	BBoltPath              string        `mapstructure:"bbolt_path"`
	StorageTTLSeconds      int64         `mapstructure:"storage_ttl_seconds"`
	StorageCleanupSeconds  int64         `mapstructure:"storage_cleanup_interval_seconds"`
	StorageTTL             time.Duration `mapstructure:"-"`
	StorageCleanupInterval time.Duration `mapstructure:"-"`
}

// Load reads configuration from environment variables and config files.
func Load() (*Config, error) {
	_ = godotenv.Load("configs/.env")

	v := viper.New()

	v.SetDefault("app_name", "ptt-board-courier")
	v.SetDefault("app_env", "development")
	v.SetDefault("log_level", "info")
	v.SetDefault("watches_file", "./configs/watches.yaml")
	v.SetDefault("mirrors_file", "")
	v.SetDefault("tick_interval", 60) // seconds
	v.SetDefault("http_timeout_seconds", 30)
	v.SetDefault("board_base_url", "https://www.ptt.cc")
	v.SetDefault("telegram_api_host", "https://api.telegram.org")
	v.SetDefault("bot_token_source", "env")
	v.SetDefault("bot_token_detail", "")
	v.SetDefault("storage_type", "bbolt")
	v.SetDefault("bbolt_path", "./data/cache.db")
	v.SetDefault("storage_ttl_seconds", int64((5*24*time.Hour)/time.Second))
	v.SetDefault("storage_cleanup_interval_seconds", int64((12*time.Hour)/time.Second))

	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if cfg.TickSeconds <= 0 {
		return nil, fmt.Errorf("invalid tick_interval (must be positive seconds)")
	}
	cfg.TickInterval = time.Duration(cfg.TickSeconds) * time.Second

	if cfg.HTTPTimeoutSecs <= 0 {
		return nil, fmt.Errorf("invalid http_timeout_seconds (must be positive seconds)")
	}
	cfg.HTTPTimeout = time.Duration(cfg.HTTPTimeoutSecs) * time.Second

	if strings.TrimSpace(cfg.WatchesFile) == "" {
		return nil, fmt.Errorf("watches_file must not be empty")
	}
	if !strings.HasPrefix(cfg.BoardBaseURL, "http://") && !strings.HasPrefix(cfg.BoardBaseURL, "https://") {
		return nil, fmt.Errorf("invalid board_base_url %q", cfg.BoardBaseURL)
	}
	if !strings.HasPrefix(cfg.TelegramAPIHost, "http://") && !strings.HasPrefix(cfg.TelegramAPIHost, "https://") {
		return nil, fmt.Errorf("invalid telegram_api_host %q", cfg.TelegramAPIHost)
	}

	switch strings.ToLower(strings.TrimSpace(cfg.BotTokenSource)) {
	case "env", "file":
	default:
		return nil, fmt.Errorf("unsupported bot_token_source %q", cfg.BotTokenSource)
	}

	if cfg.StorageTTLSeconds <= 0 {
		return nil, fmt.Errorf("invalid storage_ttl_seconds (must be positive seconds)")
	}
	if cfg.StorageCleanupSeconds <= 0 {
		return nil, fmt.Errorf("invalid storage_cleanup_interval_seconds (must be positive seconds)")
	}
	cfg.StorageTTL = time.Duration(cfg.StorageTTLSeconds) * time.Second
	cfg.StorageCleanupInterval = time.Duration(cfg.StorageCleanupSeconds) * time.Second

	return &cfg, nil
}
