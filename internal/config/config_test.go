package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Port != 8080 || cfg.Mode != "release" {
		t.Errorf("unexpected server defaults: %+v", cfg)
	}
	if cfg.Gateway.PingPeriod != 54*time.Second || cfg.Gateway.SendQueue != 256 {
		t.Errorf("unexpected gateway defaults: %+v", cfg.Gateway)
	}
	if cfg.Relay.DeltaFrame != "binary" || cfg.Auth.JWTSecret != "" {
		t.Errorf("unexpected defaults: relay=%+v auth=%+v", cfg.Relay, cfg.Auth)
	}
}

func TestFileAndEnvOverride(t *testing.T) {
	file := filepath.Join(t.TempDir(), "config.test.yaml")
	yaml := []byte("port: 9000\ngateway:\n  send_queue: 8\nrelay:\n  delta_frame: json\n")
	if err := os.WriteFile(file, yaml, 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("COLLAB_AUTH_JWT_SECRET", "from-env")

	cfg, err := Load(file)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Port != 9000 || cfg.Gateway.SendQueue != 8 || cfg.Relay.DeltaFrame != "json" {
		t.Errorf("file values not applied: %+v", cfg)
	}
	if cfg.Auth.JWTSecret != "from-env" {
		t.Errorf("env override not applied: %q", cfg.Auth.JWTSecret)
	}
}

func TestInvalidGateway(t *testing.T) {
	file := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(file, []byte("gateway:\n  send_queue: 0\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(file); err == nil {
		t.Error("expected an error for send_queue=0")
	}
}
