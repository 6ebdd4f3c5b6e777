package config

import (
	"strings"
	"testing"
	"time"
)

func setBaseEnv(t *testing.T) {
	t.Helper()
	t.Setenv("CANTEEN_APP_ENV", "dev")
	t.Setenv("CANTEEN_JWT_SECRET", "test-secret")
	t.Setenv("CANTEEN_DB_DSN", "host=localhost user=canteen dbname=canteen sslmode=disable")
}

func TestLoadDefaults(t *testing.T) {
	setBaseEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.App.Port != "8080" {
		t.Fatalf("unexpected default port %q", cfg.App.Port)
	}
	if cfg.Fulfillment.TokenTTL != time.Hour {
		t.Fatalf("unexpected token ttl %v", cfg.Fulfillment.TokenTTL)
	}
	if cfg.Fulfillment.CodeAttempts != 100 {
		t.Fatalf("unexpected code attempts %d", cfg.Fulfillment.CodeAttempts)
	}
	if !cfg.App.IsDev() || cfg.App.IsProd() {
		t.Fatal("env flags misreported")
	}
}

func TestLoadBuildsDSNFromParts(t *testing.T) {
	t.Setenv("CANTEEN_APP_ENV", "dev")
	t.Setenv("CANTEEN_JWT_SECRET", "test-secret")
	t.Setenv("CANTEEN_DB_DSN", "")
	t.Setenv("CANTEEN_DB_HOST", "db.internal")
	t.Setenv("CANTEEN_DB_USER", "canteen")
	t.Setenv("CANTEEN_DB_NAME", "canteen")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !strings.Contains(cfg.DB.DSN, "host=db.internal") {
		t.Fatalf("dsn not assembled: %q", cfg.DB.DSN)
	}
}

func TestLoadFailsWithoutDatabase(t *testing.T) {
	t.Setenv("CANTEEN_APP_ENV", "dev")
	t.Setenv("CANTEEN_JWT_SECRET", "test-secret")
	t.Setenv("CANTEEN_DB_DSN", "")
	t.Setenv("CANTEEN_DB_HOST", "")
	t.Setenv("CANTEEN_DB_USER", "")
	t.Setenv("CANTEEN_DB_NAME", "")

	if _, err := Load(); err == nil {
		t.Fatal("expected error when no database settings are provided")
	}
}
