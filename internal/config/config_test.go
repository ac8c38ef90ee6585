package config

import "testing"

func TestLoadDefaults(t *testing.T) {
	t.Setenv("OKRA_SECRET_KEY", "secret")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Addr != ":8080" || cfg.DBPath != "okra.db" {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if cfg.APIName != "Development API" {
		t.Fatalf("unexpected api name %q", cfg.APIName)
	}
	if cfg.AdminUser != "admin" || cfg.LogLevel != "info" {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
}

func TestLoadRequiresSecret(t *testing.T) {
	t.Setenv("OKRA_SECRET_KEY", "")
	if _, err := Load(); err == nil {
		t.Fatalf("expected error without secret key")
	}
}

func TestBaseURL(t *testing.T) {
	t.Setenv("OKRA_SECRET_KEY", "secret")
	t.Setenv("OKRA_URL", "https://okra.example.org/")
	t.Setenv("FORCE_SCRIPT_NAME", "okra")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ScriptName != "/okra" {
		t.Fatalf("unexpected script name %q", cfg.ScriptName)
	}
	if got := cfg.BaseURL(); got != "https://okra.example.org/okra/api" {
		t.Fatalf("unexpected base url %q", got)
	}
}

func TestBaseURLFallbackHost(t *testing.T) {
	t.Setenv("OKRA_SECRET_KEY", "secret")
	t.Setenv("OKRA_URL", "")
	t.Setenv("API_HOST", "")
	t.Setenv("FORCE_SCRIPT_NAME", "")
	t.Setenv("OKRA_ADDR", ":9000")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got := cfg.BaseURL(); got != "http://localhost:9000/api" {
		t.Fatalf("unexpected base url %q", got)
	}
}

func TestAllowedOrigins(t *testing.T) {
	t.Setenv("OKRA_SECRET_KEY", "secret")
	t.Setenv("APP_URL", "https://app.example.org/")
	t.Setenv("OKRA_URL", "https://okra.example.org")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	origins := cfg.AllowedOrigins()
	if len(origins) != 2 || origins[0] != "https://app.example.org" || origins[1] != "https://okra.example.org" {
		t.Fatalf("unexpected origins %v", origins)
	}
}
