package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"chatsync/internal/config"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadConfig(t *testing.T) {
	path := writeConfig(t, `telegram:
  api_id: 12345
  api_hash: "abcdef0123456789"
log_level: debug
chat_page_size: 40
history_page_size: 100
`)

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if cfg.Telegram.APIID != 12345 {
		t.Errorf("APIID = %d, want 12345", cfg.Telegram.APIID)
	}
	if cfg.Telegram.APIHash != "abcdef0123456789" {
		t.Errorf("APIHash = %q, want %q", cfg.Telegram.APIHash, "abcdef0123456789")
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("LogLevel = %q, want %q", cfg.LogLevel, "debug")
	}
	if cfg.ChatPageSize != 40 {
		t.Errorf("ChatPageSize = %d, want 40", cfg.ChatPageSize)
	}
	if cfg.HistoryPageSize != 100 {
		t.Errorf("HistoryPageSize = %d, want 100", cfg.HistoryPageSize)
	}
}

func TestLoadConfig_Defaults(t *testing.T) {
	path := writeConfig(t, `telegram:
  api_id: 1
  api_hash: "x"
`)

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if cfg.LogLevel != "info" {
		t.Errorf("LogLevel = %q, want info default", cfg.LogLevel)
	}
	if cfg.ChatPageSize != 0 || cfg.HistoryPageSize != 0 {
		t.Errorf("page sizes = %d/%d, want 0 (controller defaults)",
			cfg.ChatPageSize, cfg.HistoryPageSize)
	}
}

func TestLoadConfig_FileNotFound(t *testing.T) {
	_, err := config.Load("/nonexistent/config.yaml")
	if err == nil {
		t.Error("expected error for missing file")
	}
}

func TestLoadConfig_Malformed(t *testing.T) {
	path := writeConfig(t, "telegram: [not a mapping")

	_, err := config.Load(path)
	if err == nil {
		t.Error("expected error for malformed yaml")
	}
}

func TestConfigDir(t *testing.T) {
	dir := config.Dir()
	if dir == "" {
		t.Fatal("Dir() returned empty string")
	}
	if !strings.HasSuffix(dir, "chatsync") {
		t.Errorf("Dir() = %q, want chatsync suffix", dir)
	}
}
