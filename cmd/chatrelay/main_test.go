package main

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"chatrelay/internal/config"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

func TestNewLogger_LevelAndFormat(t *testing.T) {
	log, closer, err := newLogger(config.LogConfig{Level: "warn", Format: "json"})
	if err != nil {
		t.Fatal(err)
	}
	defer closer.Close()
	if log.Enabled(context.Background(), slog.LevelDebug) {
		t.Error("debug should be disabled at warn level")
	}

	if _, _, err := newLogger(config.LogConfig{Level: "loud"}); err == nil {
		t.Error("expected error for unknown level")
	}
}

func TestNewLogger_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "relay.log")
	log, closer, err := newLogger(config.LogConfig{Level: "info", Format: "text", File: path})
	if err != nil {
		t.Fatal(err)
	}
	log.Info("hello file")
	closer.Close()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), "hello file") {
		t.Errorf("log file missing entry: %q", data)
	}
}

func TestRelayEndpoint(t *testing.T) {
	cfg := config.Defaults()
	if got := relayEndpoint(cfg); got != "http://127.0.0.1:8080/api/webhook-proxy" {
		t.Errorf("unexpected endpoint %s", got)
	}
	cfg.Server.Host = "relay.internal"
	cfg.Server.Port = 9000
	if got := relayEndpoint(cfg); got != "http://relay.internal:9000/api/webhook-proxy" {
		t.Errorf("unexpected endpoint %s", got)
	}
}

func TestNewRelay_UsesConfig(t *testing.T) {
	cfg := config.Defaults()
	cfg.Server.MountPath = "/chat"
	cfg.Relay.Production = true
	h := newRelay(cfg, testLogger())
	if h.HealthPath() != "/chat/health" {
		t.Errorf("unexpected health path %s", h.HealthPath())
	}
	if h.HealthCheck().Environment != "production" {
		t.Error("expected production environment")
	}
}

func TestDoctor_MissingWebhookFails(t *testing.T) {
	t.Setenv(config.EnvWebhookURL, "")
	t.Setenv(config.EnvWebhookURLAlt, "")
	t.Setenv(config.EnvPort, "0")
	configPath = filepath.Join(t.TempDir(), "config.json")
	if err := config.Save(configPath, config.Defaults()); err != nil {
		t.Fatal(err)
	}
	envFile = filepath.Join(t.TempDir(), "absent.env")
	defer func() { configPath, envFile = "", ".env" }()

	var out bytes.Buffer
	err := runDoctor(context.Background(), &out)
	if err == nil {
		t.Fatal("expected failure without webhook URL")
	}
	if !strings.Contains(out.String(), "[FAIL] Webhook URL") {
		t.Errorf("missing webhook failure line:\n%s", out.String())
	}
}
