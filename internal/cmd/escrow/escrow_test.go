package escrow

import (
	"context"
	"flag"
	"io"
	"path/filepath"
	"testing"
)

func TestParseConfigFlagsOverrideEnv(t *testing.T) {
	t.Setenv("ASKMI_HTTP_PORT", "9001")
	t.Setenv("ASKMI_JOURNAL_DB_PATH", "env.db")

	fs := flag.NewFlagSet("escrow", flag.ContinueOnError)
	cfg, err := ParseConfig(fs, []string{"-health-port", "9100", "-devnet=false"})
	if err != nil {
		t.Fatalf("parse config: %v", err)
	}
	if cfg.HTTPPort != 9001 {
		t.Fatalf("http port = %d, want 9001", cfg.HTTPPort)
	}
	if cfg.HealthPort != 9100 {
		t.Fatalf("health port = %d, want 9100", cfg.HealthPort)
	}
	if cfg.DBPath != "env.db" {
		t.Fatalf("db path = %q, want env.db", cfg.DBPath)
	}
	if cfg.Devnet {
		t.Fatal("expected devnet disabled by flag")
	}
}

func TestParseConfigRejectsUnknownFlag(t *testing.T) {
	fs := flag.NewFlagSet("escrow", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	if _, err := ParseConfig(fs, []string{"-nope"}); err == nil {
		t.Fatal("expected unknown flag error")
	}
}

func TestParseConfigRejectsBadEnv(t *testing.T) {
	t.Setenv("ASKMI_HTTP_PORT", "not-a-port")

	fs := flag.NewFlagSet("escrow", flag.ContinueOnError)
	if _, err := ParseConfig(fs, nil); err == nil {
		t.Fatal("expected env parse error")
	}
}

func TestRunStopsOnCanceledContext(t *testing.T) {
	t.Setenv("ASKMI_OTEL_ENABLED", "false")

	fs := flag.NewFlagSet("escrow", flag.ContinueOnError)
	cfg, err := ParseConfig(fs, []string{"-http-port", "0", "-health-port", "0", "-db", filepath.Join(t.TempDir(), "escrow.db")})
	if err != nil {
		t.Fatalf("parse config: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := Run(ctx, cfg); err != nil {
		t.Fatalf("run = %v, want nil", err)
	}
}
