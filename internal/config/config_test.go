package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultValidates(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
}

func TestFromYAMLOverlaysDefaults(t *testing.T) {
	cfg, err := FromYAML([]byte("bridge:\n  url: wss://agent.example/ws\n  reconnect_delay: 2s\noverseer:\n  verify_timeout: 3s\n"))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cfg.Bridge.URL != "wss://agent.example/ws" || cfg.Bridge.ReconnectDelay != 2*time.Second {
		t.Fatalf("bridge not parsed: %+v", cfg.Bridge)
	}
	if cfg.Overseer.VerifyTimeout != 3*time.Second {
		t.Fatalf("verify timeout not parsed: %v", cfg.Overseer.VerifyTimeout)
	}
	if cfg.Server.Addr != "127.0.0.1:8080" || cfg.Advisor.APIKeyEnv != "OPENAI_API_KEY" {
		t.Fatalf("defaults lost: %+v", cfg)
	}
}

func TestValidateRejects(t *testing.T) {
	cases := map[string]string{
		"scheme":    "bridge:\n  url: http://x\n",
		"base path": "server:\n  base_path: v0\n",
		"level":     "logging:\n  level: loud\n",
		"subject":   "events:\n  nats_url: nats://localhost:4222\n  nats_subject: \"\"\n",
	}
	for name, body := range cases {
		if _, err := FromYAML([]byte(body)); err == nil {
			t.Fatalf("%s: expected validation error", name)
		}
	}
}

func TestLoadMissingFallsBackToDefaults(t *testing.T) {
	dir := t.TempDir()
	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Overseer.VerifyTimeout != 8*time.Second {
		t.Fatalf("expected default verify timeout, got %v", cfg.Overseer.VerifyTimeout)
	}
	if err := os.WriteFile(filepath.Join(dir, "sentinel.yml"), []byte("server:\n  addr: 0.0.0.0:9000\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err = Load(dir)
	if err != nil {
		t.Fatalf("load file: %v", err)
	}
	if cfg.Server.Addr != "0.0.0.0:9000" {
		t.Fatalf("expected file addr, got %s", cfg.Server.Addr)
	}
}
