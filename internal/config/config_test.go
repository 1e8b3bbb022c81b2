package config

import (
	"net/http/httptest"
	"testing"
	"time"
)

const testSecret = "this_is_a_valid_long_secrets_encrypt_key_123456"

func TestLoadRejectsDefaultSecretsKey(t *testing.T) {
	t.Setenv("SECRETS_ENCRYPT_KEY", defaultSecretsKey)
	_, err := Load()
	if err == nil {
		t.Fatalf("expected Load to fail with default secrets key")
	}
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv("SECRETS_ENCRYPT_KEY", testSecret)
	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.SessionTTL() != 30*24*time.Hour {
		t.Fatalf("expected 30 day session ttl, got %s", cfg.SessionTTL())
	}
	if cfg.ElevationWindow() != 30*time.Minute {
		t.Fatalf("expected 30 minute elevation window, got %s", cfg.ElevationWindow())
	}
	if cfg.DBDriver != "sqlite" {
		t.Fatalf("expected sqlite default driver, got %q", cfg.DBDriver)
	}
}

func TestLoadPasswordBounds(t *testing.T) {
	t.Setenv("SECRETS_ENCRYPT_KEY", testSecret)
	t.Setenv("PASSWORD_MIN_LENGTH", "16")
	t.Setenv("PASSWORD_MAX_LENGTH", "12")
	if _, err := Load(); err == nil {
		t.Fatalf("expected Load to fail for invalid password bounds")
	}
}

func TestLoadRejectsElevationWindowAboveMaximum(t *testing.T) {
	t.Setenv("SECRETS_ENCRYPT_KEY", testSecret)
	t.Setenv("ELEVATION_WINDOW_MINUTES", "90")
	if _, err := Load(); err == nil {
		t.Fatalf("expected Load to fail for a 90 minute elevation window")
	}
}

func TestLoadRequiresDSNForServerDrivers(t *testing.T) {
	t.Setenv("SECRETS_ENCRYPT_KEY", testSecret)
	t.Setenv("DB_DRIVER", "postgres")
	if _, err := Load(); err == nil {
		t.Fatalf("expected Load to fail without DB_DSN")
	}
	t.Setenv("DB_DSN", "postgres://portal@localhost/portal")
	if _, err := Load(); err != nil {
		t.Fatalf("unexpected error with DSN: %v", err)
	}
	t.Setenv("DB_DRIVER", "oracle")
	if _, err := Load(); err == nil {
		t.Fatalf("expected Load to fail for unsupported driver")
	}
}

func TestLoadCookieSecureModeLegacyFallback(t *testing.T) {
	t.Setenv("SECRETS_ENCRYPT_KEY", testSecret)
	t.Setenv("COOKIE_SECURE_MODE", "")
	t.Setenv("COOKIE_SECURE", "true")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.CookieSecureMode != "always" {
		t.Fatalf("expected legacy true to map to always, got %q", cfg.CookieSecureMode)
	}

	t.Setenv("COOKIE_SECURE", "false")
	cfg, err = Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.CookieSecureMode != "never" {
		t.Fatalf("expected legacy false to map to never, got %q", cfg.CookieSecureMode)
	}
}

func TestLoadRejectsInsecureCookiesOnPublicListener(t *testing.T) {
	t.Setenv("SECRETS_ENCRYPT_KEY", testSecret)
	t.Setenv("LISTEN_ADDR", "0.0.0.0:443")
	t.Setenv("COOKIE_SECURE_MODE", "never")
	if _, err := Load(); err == nil {
		t.Fatalf("expected Load to fail for insecure cookies on a public listener")
	}
}

func TestResolveCookieSecureAuto(t *testing.T) {
	t.Setenv("SECRETS_ENCRYPT_KEY", testSecret)
	t.Setenv("COOKIE_SECURE_MODE", "auto")
	t.Setenv("TRUST_PROXY", "true")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	req := httptest.NewRequest("GET", "http://example.test", nil)
	if got := cfg.ResolveCookieSecure(req); got {
		t.Fatalf("expected http request to resolve secure=false")
	}

	req.Header.Set("X-Forwarded-Proto", "https")
	if got := cfg.ResolveCookieSecure(req); !got {
		t.Fatalf("expected proxied https request to resolve secure=true")
	}

	tlsReq := httptest.NewRequest("GET", "https://example.test", nil)
	if got := cfg.ResolveCookieSecure(tlsReq); !got {
		t.Fatalf("expected tls request to resolve secure=true")
	}
}
