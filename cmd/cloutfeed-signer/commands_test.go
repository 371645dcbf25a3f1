package main

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"cloutfeed/go-backend/internal/config"
	"cloutfeed/go-backend/internal/identity"
	"cloutfeed/go-backend/internal/securestore"
	"cloutfeed/go-backend/internal/signing"
	"cloutfeed/go-backend/pkg/models"
)

const (
	testMnemonic  = "abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon about"
	testPublicKey = "BC1YLiutYtrRGr5yYdMK91KYbhixJwg4JPA2f9xibPFr8pNMxmUsgxX"
)

func newTestApp(t *testing.T, stdin string) (*app, *bytes.Buffer) {
	t.Helper()
	cfg := config.Default()
	cfg.Storage.Backend = securestore.BackendMemory
	cfg.API.BaseURL = "http://127.0.0.1:1"
	var out bytes.Buffer
	a, err := buildApp(cfg, strings.NewReader(stdin), &out, io.Discard)
	if err != nil {
		t.Fatalf("build app: %v", err)
	}
	t.Cleanup(func() { _ = a.Close() })
	return a, &out
}

func TestLoginThenAccounts(t *testing.T) {
	a, out := newTestApp(t, testMnemonic+"\n")
	ctx := context.Background()

	if err := a.run(ctx, "login", nil); err != nil {
		t.Fatalf("login: %v", err)
	}
	if got := strings.TrimSpace(out.String()); got != testPublicKey {
		t.Fatalf("unexpected login output %q", got)
	}
	out.Reset()
	if err := a.run(ctx, "accounts", nil); err != nil {
		t.Fatalf("accounts: %v", err)
	}
	if got := strings.TrimSpace(out.String()); got != testPublicKey+"\tstandard" {
		t.Fatalf("unexpected accounts output %q", got)
	}
}

func TestLoginRejectsUnexpectedAccount(t *testing.T) {
	a, _ := newTestApp(t, testMnemonic+"\n")
	err := a.run(context.Background(), "login", []string{"-expect", "BC1YLsomeoneelse"})
	if err == nil {
		t.Fatal("expected mismatch error")
	}
}

func TestLoginPicksNonStandardDerivation(t *testing.T) {
	const (
		mnemonic    = "abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon cool"
		nonStandard = "BC1YLjWexuHxpVmTEe6YVWofVKWxpP6oCgY9nrGNqABX22yshT8Kzue"
	)
	a, out := newTestApp(t, mnemonic+"\n")
	ctx := context.Background()

	if err := a.run(ctx, "login", []string{"-expect", nonStandard}); err != nil {
		t.Fatalf("login: %v", err)
	}
	if got := strings.TrimSpace(out.String()); got != nonStandard {
		t.Fatalf("unexpected login output %q", got)
	}
	keys, err := a.accounts.ListPublicKeys(ctx)
	if err != nil || len(keys) != 1 || keys[0] != nonStandard {
		t.Fatalf("unexpected stored accounts: %v err=%v", keys, err)
	}
}

func TestSignWithStoredAccount(t *testing.T) {
	a, out := newTestApp(t, testMnemonic+"\n")
	ctx := context.Background()
	if err := a.run(ctx, "login", nil); err != nil {
		t.Fatalf("login: %v", err)
	}
	out.Reset()
	if err := a.run(ctx, "sign", []string{"-account", testPublicKey, "-tx", "01aa00"}); err != nil {
		t.Fatalf("sign: %v", err)
	}
	signed := strings.TrimSpace(out.String())
	if !strings.HasPrefix(signed, "01aa") || len(signed) <= len("01aa00") {
		t.Fatalf("unexpected signed tx %q", signed)
	}
}

func TestJWTVerifiesAgainstAccount(t *testing.T) {
	a, out := newTestApp(t, testMnemonic+"\n")
	ctx := context.Background()
	if err := a.run(ctx, "login", nil); err != nil {
		t.Fatalf("login: %v", err)
	}
	out.Reset()
	if err := a.run(ctx, "jwt", []string{"-account", testPublicKey}); err != nil {
		t.Fatalf("jwt: %v", err)
	}
	if _, err := signing.VerifyJWT(strings.TrimSpace(out.String()), testPublicKey, time.Now()); err != nil {
		t.Fatalf("verify jwt: %v", err)
	}
}

func TestUsageErrors(t *testing.T) {
	a, _ := newTestApp(t, "")
	ctx := context.Background()
	if err := a.run(ctx, "frobnicate", nil); !errors.Is(err, errUsage) {
		t.Fatalf("expected usage error, got %v", err)
	}
	if err := a.run(ctx, "sign", []string{"-account", testPublicKey}); !errors.Is(err, errUsage) {
		t.Fatalf("missing -tx must be a usage error, got %v", err)
	}
	if err := a.run(ctx, "logout", nil); !errors.Is(err, errUsage) {
		t.Fatalf("missing -account must be a usage error, got %v", err)
	}
}

func TestPickCandidate(t *testing.T) {
	standard, err := identity.GenerateCredential("e284129cc0922579a535bbf4d1a3b25773090d28c909bc0fed73b5e0222cc372", nil)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	other, err := identity.GenerateCredential("1111111111111111111111111111111111111111111111111111111111111111", nil)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	c := models.Candidates{Standard: standard, NonStandard: other}

	got, err := pickCandidate(c, "")
	if err != nil || got.Identity.OwnerPublicKey() != standard.Identity.OwnerPublicKey() {
		t.Fatalf("default must be standard, got %v %v", got.Identity, err)
	}
	got, err = pickCandidate(c, other.Identity.OwnerPublicKey())
	if err != nil || got.Identity.OwnerPublicKey() != other.Identity.OwnerPublicKey() {
		t.Fatalf("expected non-standard pick, got %v %v", got.Identity, err)
	}
	if _, err := pickCandidate(c, "BC1YLunknown"); err == nil {
		t.Fatal("expected error for unknown account")
	}
}
