package config

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"cloutfeed/go-backend/internal/testutil/fsperm"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadMergesFileOverDefaults(t *testing.T) {
	path := writeConfig(t, `
api:
  baseURL: https://node.example
funding:
  publicKey: BC1YLfunder
  minBalanceNanos: 42
flow:
  settleDelay: 5s
storage:
  backend: sqlite
  dataDir: /tmp/cf
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.API.BaseURL != "https://node.example" {
		t.Fatalf("unexpected base url %q", cfg.API.BaseURL)
	}
	if cfg.API.Timeout != Default().API.Timeout {
		t.Fatalf("unset field must keep default, got %s", cfg.API.Timeout)
	}
	if cfg.Funding.PublicKey != "BC1YLfunder" || cfg.Funding.MinBalanceNanos != 42 {
		t.Fatalf("unexpected funding %+v", cfg.Funding)
	}
	if cfg.Funding.AmountNanos != Default().Funding.AmountNanos {
		t.Fatalf("unset funding amount must keep default")
	}
	if cfg.Flow.SettleDelay != 5*time.Second {
		t.Fatalf("unexpected settle delay %s", cfg.Flow.SettleDelay)
	}
	if cfg.Storage.Backend != "sqlite" || cfg.Storage.DataDir != "/tmp/cf" {
		t.Fatalf("unexpected storage %+v", cfg.Storage)
	}
}

func TestLoadIgnoresSeedInFile(t *testing.T) {
	path := writeConfig(t, "funding:\n  seedHex: deadbeef\n")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Funding.SeedHex != "" {
		t.Fatalf("funding seed must only come from the environment")
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("CLOUTFEED_API_BASE_URL", "https://env.example")
	t.Setenv("CLOUTFEED_FUNDING_SEED_HEX", "abcd")
	t.Setenv("CLOUTFEED_FLOW_SETTLE_DELAY", "250ms")
	t.Setenv("CLOUTFEED_STORAGE_BACKEND", "badger")

	cfg, err := Load(writeConfig(t, "api:\n  baseURL: https://file.example\n"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.API.BaseURL != "https://env.example" {
		t.Fatalf("env must win over file, got %q", cfg.API.BaseURL)
	}
	if cfg.Funding.SeedHex != "abcd" {
		t.Fatalf("funding seed not read from env")
	}
	if cfg.Flow.SettleDelay != 250*time.Millisecond {
		t.Fatalf("unexpected settle delay %s", cfg.Flow.SettleDelay)
	}
	if cfg.Storage.Backend != "badger" {
		t.Fatalf("unexpected backend %q", cfg.Storage.Backend)
	}
}

func TestLoadErrors(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("explicit missing path must fail")
	}
	if _, err := Load(writeConfig(t, "api: [")); err == nil {
		t.Fatal("invalid yaml must fail")
	}
	if _, err := Load(writeConfig(t, "storage:\n  backend: floppy\n")); err == nil {
		t.Fatal("unknown backend must fail")
	}
	t.Setenv("CLOUTFEED_API_TIMEOUT", "soon")
	if _, err := Load(writeConfig(t, "")); err == nil {
		t.Fatal("malformed env duration must fail")
	}
}

func TestStoragePassphraseFromEnv(t *testing.T) {
	t.Setenv(storagePassphraseEnv, "from-env")
	dir := t.TempDir()
	got, err := StoragePassphrase(dir)
	if err != nil {
		t.Fatalf("passphrase: %v", err)
	}
	if got != "from-env" {
		t.Fatalf("unexpected passphrase %q", got)
	}
	if _, err := os.Stat(filepath.Join(dir, storageKeyFile)); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("env passphrase must not write storage.key")
	}
}

func TestStoragePassphraseGeneratesAndReuses(t *testing.T) {
	t.Setenv(storagePassphraseEnv, "")
	t.Setenv(environmentEnv, "")
	dir := filepath.Join(t.TempDir(), "data")

	first, err := StoragePassphrase(dir)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if first == "" {
		t.Fatal("generated passphrase is empty")
	}
	fsperm.AssertPrivateDir(t, dir)
	fsperm.AssertPrivateFile(t, filepath.Join(dir, storageKeyFile))
	second, err := StoragePassphrase(dir)
	if err != nil {
		t.Fatalf("reuse: %v", err)
	}
	if first != second {
		t.Fatal("passphrase must be stable across calls")
	}
}

func TestStoragePassphraseProductionPolicy(t *testing.T) {
	t.Setenv(storagePassphraseEnv, "")
	t.Setenv(environmentEnv, "production")
	t.Setenv(storageKeyWrappedEnv, "")
	dir := t.TempDir()

	if _, err := StoragePassphrase(dir); !errors.Is(err, ErrInsecureStorageKeyMode) {
		t.Fatalf("expected ErrInsecureStorageKeyMode, got %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, storageKeyFile), []byte("raw"), 0o600); err != nil {
		t.Fatalf("write key: %v", err)
	}
	if _, err := StoragePassphrase(dir); !errors.Is(err, ErrInsecureStorageKeyMode) {
		t.Fatalf("raw key file must be rejected in production, got %v", err)
	}
	t.Setenv(storageKeyWrappedEnv, "true")
	got, err := StoragePassphrase(dir)
	if err != nil || got != "raw" {
		t.Fatalf("wrapped key flow must allow key file, got %q %v", got, err)
	}
}

func TestNewLoggerRedacts(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(LogConfig{Level: "debug", Format: "json"}, &buf)
	logger.Debug("login", "seed", "e284129c", "public_key", "BC1YLiutYtrRGr5yYdMK91KYbhixJwg4JPA2f9xibPFr8pNMxmUsgxX")

	out := buf.String()
	if strings.Contains(out, "e284129c") {
		t.Fatalf("seed leaked: %s", out)
	}
	if strings.Contains(out, "BC1YLiutYtrRGr5yYdMK91KYbhixJwg4JPA2f9xibPFr8pNMxmUsgxX") {
		t.Fatalf("public key not fingerprinted: %s", out)
	}
	if !strings.Contains(out, `"level":"DEBUG"`) {
		t.Fatalf("debug level not honoured: %s", out)
	}
}

func TestParseLevelFallsBackToInfo(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(LogConfig{Level: "chatty"}, &buf)
	logger.Debug("hidden")
	if buf.Len() != 0 {
		t.Fatalf("unknown level must default to info, got %s", buf.String())
	}
}
