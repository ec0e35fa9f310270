package config

import (
	"errors"
	"flag"
	"io"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(nil, io.Discard)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.DBPath != "popis.sqlite3" || cfg.Addr != ":8080" || cfg.AdminUser != "Admin" {
		t.Errorf("unexpected defaults %+v", cfg)
	}
	if cfg.TokenTTL != 24*time.Hour || cfg.LowStockThreshold != 0 {
		t.Errorf("unexpected defaults %+v", cfg)
	}
	if cfg.OTLPEndpoint != "" {
		t.Errorf("expected tracing export off by default, got %q", cfg.OTLPEndpoint)
	}
}

func TestLoadEnvironment(t *testing.T) {
	t.Setenv("POPIS_DB", "/tmp/env.sqlite3")
	t.Setenv("POPIS_LOW_STOCK_THRESHOLD", "3")
	t.Setenv("POPIS_TOKEN_TTL", "2h")

	cfg, err := Load(nil, io.Discard)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.DBPath != "/tmp/env.sqlite3" || cfg.LowStockThreshold != 3 || cfg.TokenTTL != 2*time.Hour {
		t.Errorf("environment not applied: %+v", cfg)
	}
}

func TestFlagsOverrideEnvironment(t *testing.T) {
	t.Setenv("POPIS_ADDR", ":9000")
	t.Setenv("POPIS_DB", "/tmp/env.sqlite3")

	cfg, err := Load([]string{"-a", ":9100", "-db", "flag.sqlite3", "-low-stock-threshold", "2"}, io.Discard)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Addr != ":9100" || cfg.DBPath != "flag.sqlite3" || cfg.LowStockThreshold != 2 {
		t.Errorf("flags not applied: %+v", cfg)
	}
}

func TestLoadErrors(t *testing.T) {
	if _, err := Load([]string{"-h"}, io.Discard); !errors.Is(err, flag.ErrHelp) {
		t.Errorf("expected flag.ErrHelp, got %v", err)
	}
	if _, err := Load([]string{"extra"}, io.Discard); err == nil {
		t.Error("expected error for positional argument")
	}
	if _, err := Load([]string{"-low-stock-threshold", "-1"}, io.Discard); err == nil {
		t.Error("expected error for negative threshold")
	}

	t.Setenv("POPIS_LOGIN_BURST", "not-a-number")
	if _, err := Load(nil, io.Discard); err == nil {
		t.Error("expected error for malformed environment value")
	}
}
