package main

import (
	"os"
	"path/filepath"
	"testing"
)

func TestParseJSONConfigSuccess(t *testing.T) {
	path := writeTempConfig(t, `{"bind-udp":"127.0.0.1:9001","to-tcp":"127.0.0.1:9002","udp-mtu":1500,"encoding-block-size":60000,"repair-block-size":6000,"nb-threads":4,"flush-timeout":200}`)

	var cfg Config
	if err := parseJSONConfig(&cfg, path); err != nil {
		t.Fatalf("parseJSONConfig returned error: %v", err)
	}

	if cfg.BindUDP != "127.0.0.1:9001" || cfg.ToTCP != "127.0.0.1:9002" {
		t.Fatalf("unexpected addresses: %+v", cfg)
	}
	if cfg.UDPMTU != 1500 || cfg.EncodingBlockSize != 60000 || cfg.RepairBlockSize != 6000 {
		t.Fatalf("unexpected sizing fields: %+v", cfg)
	}
	if cfg.NBThreads != 4 || cfg.FlushTimeout != 200 {
		t.Fatalf("unexpected field values: %+v", cfg)
	}
}

func TestParseJSONConfigMissingFile(t *testing.T) {
	var cfg Config
	missing := filepath.Join(t.TempDir(), "missing.json")
	if err := parseJSONConfig(&cfg, missing); err == nil {
		t.Fatalf("parseJSONConfig expected error for missing file")
	}
}

func writeTempConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write temp config: %v", err)
	}
	return path
}
