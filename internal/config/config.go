package config

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	// Server
	Port string
	Env  string // development, production

	// Database
	DatabaseDriver string // sqlite, pgx
	DatabaseURL    string

	// Security
	SettingsEncryptionKey string
	NonceSecret           string
	AdminUser             string
	AdminPasswordHash     string
	SecureCookies         bool
	// TrustProxy honours X-Forwarded-For and X-Real-IP. Only for deployments
	// where every request arrives through a reverse proxy that sets them.
	TrustProxy bool

	// Outbound
	CampaignMonitorURL string
	LicenseURL         string
	LicenseItemName    string
	OutboundTimeout    time.Duration

	// Hooks
	HookRateLimit float64
	HookBurst     int
}

// Load reads the server configuration from .env, the environment and args,
// in increasing order of precedence.
func Load(args []string) (*Config, error) {
	cfg, err := read(args)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadStorage reads only what is needed to reach the settings database.
func LoadStorage() (*Config, error) {
	cfg, err := read(nil)
	if err != nil {
		return nil, err
	}
	if err := cfg.validateStorage(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func read(args []string) (*Config, error) {
	// Load .env file if it exists (don't error if missing)
	_ = godotenv.Load()

	cfg := &Config{}
	fs := flag.NewFlagSet("cmoptin", flag.ContinueOnError)

	// Define flags with env var fallbacks
	fs.StringVar(&cfg.Port, "port", getEnv("PORT", "8080"), "Server port")
	fs.StringVar(&cfg.Env, "env", getEnv("ENV", "development"), "Environment (development, production)")
	fs.StringVar(&cfg.DatabaseDriver, "database-driver", getEnv("DATABASE_DRIVER", "sqlite"), "Database driver (sqlite, pgx)")
	fs.StringVar(&cfg.DatabaseURL, "database-url", getEnv("DATABASE_URL", ""), "Database connection string")

	cfg.SettingsEncryptionKey = getEnv("SETTINGS_ENCRYPTION_KEY", "")
	cfg.NonceSecret = getEnv("NONCE_SECRET", "")
	cfg.AdminUser = getEnv("ADMIN_USER", "admin")
	cfg.AdminPasswordHash = getEnv("ADMIN_PASSWORD_HASH", "")
	cfg.SecureCookies = getEnv("SECURE_COOKIES", "false") == "true"
	cfg.TrustProxy = getEnv("TRUST_PROXY", "false") == "true"

	cfg.CampaignMonitorURL = getEnv("CAMPAIGN_MONITOR_API_URL", "https://api.createsend.com/api/v3.3")
	cfg.LicenseURL = getEnv("LICENSE_API_URL", "https://exchangewp.com")
	cfg.LicenseItemName = getEnv("LICENSE_ITEM_NAME", "campaign-monitor")

	var errs []error
	var err error
	if cfg.OutboundTimeout, err = time.ParseDuration(getEnv("OUTBOUND_TIMEOUT", "15s")); err != nil {
		errs = append(errs, fmt.Errorf("OUTBOUND_TIMEOUT: %w", err))
	}
	if cfg.HookRateLimit, err = strconv.ParseFloat(getEnv("HOOK_RATE_LIMIT", "5"), 64); err != nil {
		errs = append(errs, fmt.Errorf("HOOK_RATE_LIMIT: %w", err))
	}
	if cfg.HookBurst, err = strconv.Atoi(getEnv("HOOK_RATE_BURST", "10")); err != nil {
		errs = append(errs, fmt.Errorf("HOOK_RATE_BURST: %w", err))
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	cfg.DatabaseDriver = strings.ToLower(cfg.DatabaseDriver)
	return cfg, nil
}

func (c *Config) Validate() error {
	if err := c.validateStorage(); err != nil {
		return err
	}

	if len(c.NonceSecret) < 16 {
		return fmt.Errorf("NONCE_SECRET must be at least 16 characters")
	}

	if c.AdminPasswordHash == "" {
		return fmt.Errorf("ADMIN_PASSWORD_HASH is required")
	}
	if !strings.HasPrefix(c.AdminPasswordHash, "$2") {
		return fmt.Errorf("ADMIN_PASSWORD_HASH must be a bcrypt hash")
	}

	if c.OutboundTimeout <= 0 {
		return fmt.Errorf("OUTBOUND_TIMEOUT must be positive")
	}
	if c.HookRateLimit <= 0 || c.HookBurst <= 0 {
		return fmt.Errorf("HOOK_RATE_LIMIT and HOOK_RATE_BURST must be positive")
	}
	return nil
}

func (c *Config) validateStorage() error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}

	switch c.DatabaseDriver {
	case "sqlite", "pgx":
	default:
		return fmt.Errorf("DATABASE_DRIVER must be sqlite or pgx, got %q", c.DatabaseDriver)
	}

	if len(c.SettingsEncryptionKey) < 32 {
		return fmt.Errorf("SETTINGS_ENCRYPTION_KEY must be at least 32 characters")
	}
	return nil
}

func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}
