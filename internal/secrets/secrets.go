package secrets

import (
	"context"
	"os"
	"strings"

	"github.com/boardwatch-hq/ptt-board-courier/pkg/resilience"
)

// Package secrets abstracts where the delivery bot token comes from.
// The courier only ever asks for the token; validation of its shape is the
// delivery client's job.

// Provider returns the Telegram bot token.
type Provider interface {
	BotToken(ctx context.Context) (string, error)
}

// EnvProvider reads the token from an environment variable
// (populated directly or via godotenv at config load).
type EnvProvider struct {
	// Var is the environment variable name, TELEGRAM_BOT_TOKEN by default.
	Var string
}

func (p *EnvProvider) BotToken(_ context.Context) (string, error) {
	name := p.Var
	if name == "" {
		name = "TELEGRAM_BOT_TOKEN"
	}
	token := strings.TrimSpace(os.Getenv(name))
	if token == "" {
		return "", resilience.Errorf(resilience.KindConfig, "secrets.env", "environment variable %s is empty", name)
	}
	return token, nil
}

// FileProvider reads the token from a file (e.g. a mounted secret volume).
type FileProvider struct {
	Path string
}

func (p *FileProvider) BotToken(_ context.Context) (string, error) {
	if strings.TrimSpace(p.Path) == "" {
		return "", resilience.Errorf(resilience.KindConfig, "secrets.file", "token file path is empty")
	}
	raw, err := os.ReadFile(p.Path)
	if err != nil {
		return "", resilience.E(resilience.KindTransient, "secrets.file", err)
	}
	token := strings.TrimSpace(string(raw))
	if token == "" {
		return "", resilience.Errorf(resilience.KindConfig, "secrets.file", "token file %s is empty", p.Path)
	}
	return token, nil
}

// NewProvider selects a provider by source name.
func NewProvider(source, detail string) (Provider, error) {
	switch strings.TrimSpace(strings.ToLower(source)) {
	case "", "env":
		return &EnvProvider{Var: detail}, nil
	case "file":
		return &FileProvider{Path: detail}, nil
	default:
		return nil, resilience.Errorf(resilience.KindConfig, "secrets.new", "unsupported secret source %q", source)
	}
}
