package config

import (
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	ListenAddr string

	DBDriver          string
	DBDSN             string
	DBPath            string
	DBMaxOpenConns    int
	DBMaxIdleConns    int
	DBConnMaxLifetime time.Duration

	SessionCookieName    string
	CSRFCookieName       string
	CookieSecureMode     string
	TrustProxy           bool
	CORSAllowedOrigins   []string
	LoginPath            string
	SessionTTLDays       int
	SessionPersistent    bool
	SessionRetentionDays int

	ElevationWindowMinutes int

	SecretsEncryptKey string
	MFAVaultPath      string
	MFAIssuer         string

	PasswordMinLength int
	PasswordMaxLength int

	NotifySender  string
	NotifyFrom    string
	PortalBaseURL string

	SMTPHost               string
	SMTPPort               int
	SMTPTLS                bool
	SMTPStartTLS           bool
	SMTPInsecureSkipVerify bool
	SMTPUser               string
	SMTPPassword           string

	HTTPThrottlePerMinute    int
	RetentionIntervalMinutes int

	MetricsEnabled bool
	LogLevel       string
	LogFormat      string

	HTTPReadTimeoutSec       int
	HTTPReadHeaderTimeoutSec int
	HTTPWriteTimeoutSec      int
	HTTPIdleTimeoutSec       int

	BootstrapAdminEmail    string
	BootstrapAdminPassword string
}

const defaultSecretsKey = "CHANGE_ME_PRODUCTION_SECRETS_KEY"

func Load() (Config, error) {
	cfg := Config{
		ListenAddr:               env("LISTEN_ADDR", ":8080"),
		DBDriver:                 strings.ToLower(env("DB_DRIVER", "sqlite")),
		DBDSN:                    env("DB_DSN", ""),
		DBPath:                   env("APP_DB_PATH", "./data/portal.db"),
		DBMaxOpenConns:           envInt("APP_DB_MAX_OPEN_CONNS", 4),
		DBMaxIdleConns:           envInt("APP_DB_MAX_IDLE_CONNS", 2),
		DBConnMaxLifetime:        time.Duration(envInt("APP_DB_CONN_MAX_LIFETIME_MIN", 30)) * time.Minute,
		SessionCookieName:        env("SESSION_COOKIE_NAME", "portal_session"),
		CSRFCookieName:           env("CSRF_COOKIE_NAME", "portal_csrf"),
		CookieSecureMode:         strings.ToLower(env("COOKIE_SECURE_MODE", "")),
		TrustProxy:               envBool("TRUST_PROXY", false),
		CORSAllowedOrigins:       envCSV("CORS_ALLOWED_ORIGINS"),
		LoginPath:                env("LOGIN_PATH", "/login"),
		SessionTTLDays:           envInt("SESSION_TTL_DAYS", 30),
		SessionPersistent:        envBool("SESSION_PERSISTENT", true),
		SessionRetentionDays:     envInt("SESSION_RETENTION_DAYS", 30),
		ElevationWindowMinutes:   envInt("ELEVATION_WINDOW_MINUTES", 30),
		SecretsEncryptKey:        env("SECRETS_ENCRYPT_KEY", defaultSecretsKey),
		MFAVaultPath:             env("MFA_VAULT_PATH", "./data/mfa-vault.json"),
		MFAIssuer:                env("MFA_ISSUER", "Member Portal"),
		PasswordMinLength:        envInt("PASSWORD_MIN_LENGTH", 12),
		PasswordMaxLength:        envInt("PASSWORD_MAX_LENGTH", 128),
		NotifySender:             strings.ToLower(env("NOTIFY_SENDER", "log")),
		NotifyFrom:               env("NOTIFY_FROM", "portal@example.com"),
		PortalBaseURL:            env("PORTAL_BASE_URL", ""),
		SMTPHost:                 env("SMTP_HOST", "127.0.0.1"),
		SMTPPort:                 envInt("SMTP_PORT", 587),
		SMTPTLS:                  envBool("SMTP_TLS", false),
		SMTPStartTLS:             envBool("SMTP_STARTTLS", true),
		SMTPInsecureSkipVerify:   envBool("SMTP_INSECURE_SKIP_VERIFY", false),
		SMTPUser:                 env("SMTP_USER", ""),
		SMTPPassword:             env("SMTP_PASSWORD", ""),
		HTTPThrottlePerMinute:    envInt("HTTP_THROTTLE_PER_MINUTE", 60),
		RetentionIntervalMinutes: envInt("RETENTION_INTERVAL_MINUTES", 60),
		MetricsEnabled:           envBool("METRICS_ENABLED", true),
		LogLevel:                 strings.ToLower(env("LOG_LEVEL", "info")),
		LogFormat:                strings.ToLower(env("LOG_FORMAT", "text")),
		HTTPReadTimeoutSec:       envInt("HTTP_READ_TIMEOUT_SEC", 10),
		HTTPReadHeaderTimeoutSec: envInt("HTTP_READ_HEADER_TIMEOUT_SEC", 5),
		HTTPWriteTimeoutSec:      envInt("HTTP_WRITE_TIMEOUT_SEC", 30),
		HTTPIdleTimeoutSec:       envInt("HTTP_IDLE_TIMEOUT_SEC", 60),
		BootstrapAdminEmail:      env("BOOTSTRAP_ADMIN_EMAIL", ""),
		BootstrapAdminPassword:   env("BOOTSTRAP_ADMIN_PASSWORD", ""),
	}

	// COOKIE_SECURE predates COOKIE_SECURE_MODE and maps onto always/never.
	if cfg.CookieSecureMode == "" {
		if envBool("COOKIE_SECURE", false) {
			cfg.CookieSecureMode = "always"
		} else {
			cfg.CookieSecureMode = "never"
		}
	}
	switch cfg.CookieSecureMode {
	case "always", "never", "auto":
	default:
		return Config{}, fmt.Errorf("COOKIE_SECURE_MODE must be one of: always, never, auto")
	}

	switch cfg.DBDriver {
	case "sqlite":
	case "postgres", "mysql":
		if strings.TrimSpace(cfg.DBDSN) == "" {
			return Config{}, fmt.Errorf("DB_DSN is required when DB_DRIVER=%s", cfg.DBDriver)
		}
	default:
		return Config{}, fmt.Errorf("DB_DRIVER must be one of: sqlite, postgres, mysql")
	}
	if cfg.DBMaxOpenConns <= 0 || cfg.DBMaxIdleConns < 0 {
		return Config{}, fmt.Errorf("invalid DB pool config")
	}
	if cfg.SessionTTLDays <= 0 || cfg.SessionRetentionDays < 0 {
		return Config{}, fmt.Errorf("session lifetimes must be positive")
	}
	if cfg.ElevationWindowMinutes <= 0 || cfg.ElevationWindowMinutes > 60 {
		return Config{}, fmt.Errorf("ELEVATION_WINDOW_MINUTES must be between 1 and 60")
	}
	if cfg.PasswordMinLength < 8 {
		return Config{}, fmt.Errorf("password min length must be >= 8")
	}
	if cfg.PasswordMaxLength < cfg.PasswordMinLength {
		return Config{}, fmt.Errorf("password max length must be >= min length")
	}
	if strings.TrimSpace(cfg.SecretsEncryptKey) == "" ||
		cfg.SecretsEncryptKey == defaultSecretsKey ||
		len(cfg.SecretsEncryptKey) < 24 {
		return Config{}, fmt.Errorf("SECRETS_ENCRYPT_KEY must be set to a strong non-default value (>=24 chars)")
	}
	if cfg.CookieSecureMode == "never" && !isLocalListen(cfg.ListenAddr) {
		return Config{}, fmt.Errorf("insecure cookies are allowed only for local listen addresses")
	}
	switch cfg.NotifySender {
	case "log", "smtp":
	default:
		return Config{}, fmt.Errorf("NOTIFY_SENDER must be one of: log, smtp")
	}
	if cfg.NotifySender == "smtp" && cfg.SMTPPort <= 0 {
		return Config{}, fmt.Errorf("invalid SMTP_PORT")
	}
	if cfg.RetentionIntervalMinutes <= 0 {
		return Config{}, fmt.Errorf("RETENTION_INTERVAL_MINUTES must be positive")
	}
	return cfg, nil
}

func (c Config) SessionTTL() time.Duration {
	return time.Duration(c.SessionTTLDays) * 24 * time.Hour
}

func (c Config) ElevationWindow() time.Duration {
	return time.Duration(c.ElevationWindowMinutes) * time.Minute
}

func (c Config) RetentionInterval() time.Duration {
	return time.Duration(c.RetentionIntervalMinutes) * time.Minute
}

// ResolveCookieSecure decides the Secure attribute for cookies set on r.
func (c Config) ResolveCookieSecure(r *http.Request) bool {
	switch c.CookieSecureMode {
	case "always":
		return true
	case "auto":
		if r.TLS != nil {
			return true
		}
		return c.TrustProxy && strings.EqualFold(strings.TrimSpace(r.Header.Get("X-Forwarded-Proto")), "https")
	default:
		return false
	}
}

func env(k, d string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return d
}

func envInt(k string, d int) int {
	v := os.Getenv(k)
	if v == "" {
		return d
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return d
	}
	return n
}

func envBool(k string, d bool) bool {
	v := os.Getenv(k)
	if v == "" {
		return d
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return d
	}
	return b
}

func envCSV(k string) []string {
	v := strings.TrimSpace(os.Getenv(k))
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func isLocalListen(addr string) bool {
	a := strings.ToLower(strings.TrimSpace(addr))
	return strings.Contains(a, "127.0.0.1") || strings.Contains(a, "localhost") || strings.Contains(a, "[::1]") || strings.HasPrefix(a, ":")
}
