package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadEnv(t *testing.T) {
	unsetEnv(t, "BOT_PRIVATE_KEY")
	unsetEnv(t, "BOT_RPC_URL")
	unsetEnv(t, "BOT_TELEGRAM_TOKEN")
	unsetEnv(t, "BOT_TELEGRAM_CHAT_ID")
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	content := "" +
		"# secrets\n" +
		"BOT_PRIVATE_KEY=deadbeef\n" +
		"export BOT_RPC_URL=\"wss://rpc.example\"\n" +
		"BOT_TELEGRAM_TOKEN='tok'\n" +
		"BOT_TELEGRAM_CHAT_ID=\n" +
		"not a pair\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write env: %v", err)
	}
	if err := LoadEnv(path); err != nil {
		t.Fatalf("load env: %v", err)
	}
	if got := os.Getenv("BOT_PRIVATE_KEY"); got != "deadbeef" {
		t.Fatalf("BOT_PRIVATE_KEY expected deadbeef, got %q", got)
	}
	if got := os.Getenv("BOT_RPC_URL"); got != "wss://rpc.example" {
		t.Fatalf("BOT_RPC_URL expected wss://rpc.example, got %q", got)
	}
	if got := os.Getenv("BOT_TELEGRAM_TOKEN"); got != "tok" {
		t.Fatalf("BOT_TELEGRAM_TOKEN expected tok, got %q", got)
	}
	if got := os.Getenv("BOT_TELEGRAM_CHAT_ID"); got != "" {
		t.Fatalf("BOT_TELEGRAM_CHAT_ID expected empty, got %q", got)
	}
}

func TestLoadEnvDoesNotOverrideExisting(t *testing.T) {
	t.Setenv("BOT_RPC_URL", "existing")
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	if err := os.WriteFile(path, []byte("BOT_RPC_URL=other\n"), 0o600); err != nil {
		t.Fatalf("write env: %v", err)
	}
	if err := LoadEnv(path); err != nil {
		t.Fatalf("load env: %v", err)
	}
	if got := os.Getenv("BOT_RPC_URL"); got != "existing" {
		t.Fatalf("BOT_RPC_URL expected existing, got %q", got)
	}
}

func TestLoadEnvMissingFile(t *testing.T) {
	if err := LoadEnv(filepath.Join(t.TempDir(), "missing.env")); err != nil {
		t.Fatalf("expected nil for missing file, got %v", err)
	}
}

func unsetEnv(t *testing.T, key string) {
	t.Helper()
	if old, ok := os.LookupEnv(key); ok {
		t.Cleanup(func() { _ = os.Setenv(key, old) })
	} else {
		t.Cleanup(func() { _ = os.Unsetenv(key) })
	}
	_ = os.Unsetenv(key)
}
