package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config aggregates all settings for the bot process.
type Config struct {
	Bot  BotConfig
	Mail MailConfig
	Ops  OpsConfig
}

// Load reads configuration from environment variables. A missing BOT_TOKEN is
// an error here; incomplete mail settings are not, they surface per-request
// at delivery time.
func Load() (*Config, error) {
	bot, err := loadBotConfig()
	if err != nil {
		return nil, err
	}

	mail, err := loadMailConfig()
	if err != nil {
		return nil, err
	}

	ops, err := loadOpsConfig()
	if err != nil {
		return nil, err
	}

	return &Config{Bot: bot, Mail: mail, Ops: ops}, nil
}

// BotConfig describes the Telegram side.
type BotConfig struct {
	Token       string
	PollTimeout int
	CatalogPath string
}

var ErrMissingToken = errors.New("BOT_TOKEN is required")

func loadBotConfig() (BotConfig, error) {
	token := strings.TrimSpace(os.Getenv("BOT_TOKEN"))
	if token == "" {
		return BotConfig{}, ErrMissingToken
	}

	timeout := 30
	if override, err := parseOptionalIntEnv("BOT_POLL_TIMEOUT"); err != nil {
		return BotConfig{}, err
	} else if override != nil && *override > 0 {
		timeout = *override
	}

	return BotConfig{
		Token:       token,
		PollTimeout: timeout,
		CatalogPath: strings.TrimSpace(os.Getenv("CATALOG_PATH")),
	}, nil
}

// MailConfig describes SMTP delivery settings.
type MailConfig struct {
	Host    string
	Port    int
	User    string
	Pass    string
	To      string
	Timeout time.Duration
}

// Complete reports whether every setting required to send mail is present.
func (c MailConfig) Complete() bool {
	return c.Host != "" && c.Port > 0 && c.User != "" && c.Pass != "" && c.To != ""
}

func loadMailConfig() (MailConfig, error) {
	port := 465
	if override, err := parseOptionalIntEnv("EMAIL_PORT"); err != nil {
		return MailConfig{}, err
	} else if override != nil {
		if *override <= 0 || *override > 65535 {
			return MailConfig{}, fmt.Errorf("invalid EMAIL_PORT value %d", *override)
		}
		port = *override
	}

	timeout := 30 * time.Second
	if override, err := parseOptionalIntEnv("EMAIL_TIMEOUT"); err != nil {
		return MailConfig{}, err
	} else if override != nil && *override > 0 {
		timeout = time.Duration(*override) * time.Second
	}

	return MailConfig{
		Host:    getEnvOrDefault("EMAIL_HOST", "smtp.gmail.com"),
		Port:    port,
		User:    strings.TrimSpace(os.Getenv("EMAIL_USER")),
		Pass:    strings.TrimSpace(os.Getenv("EMAIL_PASS")),
		To:      strings.TrimSpace(os.Getenv("EMAIL_TO")),
		Timeout: timeout,
	}, nil
}

// OpsConfig describes the health/metrics HTTP listener.
type OpsConfig struct {
	Addr string
}

func loadOpsConfig() (OpsConfig, error) {
	port := strings.TrimSpace(os.Getenv("PORT"))
	if port == "" {
		port = "8080"
	}

	if strings.Contains(port, ":") {
		// Allow passing ":8080" or "127.0.0.1:8080" directly.
		return OpsConfig{Addr: port}, nil
	}

	if strings.Contains(port, " ") {
		return OpsConfig{}, fmt.Errorf("invalid PORT value: %q", port)
	}

	return OpsConfig{Addr: ":" + port}, nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

func parseOptionalIntEnv(key string) (*int, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}

	val, err := strconv.Atoi(value)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	return &val, nil
}
