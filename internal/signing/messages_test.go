package signing

import (
	"context"
	"encoding/hex"
	"errors"
	"testing"

	"cloutfeed/go-backend/internal/crypto"
	"cloutfeed/go-backend/internal/identity"
)

func TestSharedMessagesBothParticipantsDecrypt(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice := f.addStandard(t, vectorSeedHex)
	bob := f.addStandard(t, randomSeedHex(t))

	sealed, err := f.signer.EncryptShared(ctx, alice, bob.PublicKey, "gm")
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	got, err := f.signer.DecryptShared(ctx, bob, alice.PublicKey, sealed)
	if err != nil || got != "gm" {
		t.Fatalf("bob decrypt: %q err=%v", got, err)
	}
	got, err = f.signer.DecryptShared(ctx, alice, bob.PublicKey, sealed)
	if err != nil || got != "gm" {
		t.Fatalf("alice decrypt: %q err=%v", got, err)
	}

	carol := f.addStandard(t, randomSeedHex(t))
	if _, err := f.signer.DecryptShared(ctx, carol, alice.PublicKey, sealed); !errors.Is(err, crypto.ErrDecryptionFailed) {
		t.Fatalf("expected ErrDecryptionFailed for outsider, got %v", err)
	}
}

func TestDecryptData(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	session := f.addStandard(t, vectorSeedHex)

	pub, err := identity.DecodeProtocolPublicKey(session.PublicKey)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	sealed, err := crypto.Encrypt(pub, []byte("for your eyes"))
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	got, err := f.signer.DecryptData(ctx, session, hex.EncodeToString(sealed))
	if err != nil || got != "for your eyes" {
		t.Fatalf("decrypt: %q err=%v", got, err)
	}
	if _, err := f.signer.DecryptData(ctx, session, "nothex"); !errors.Is(err, crypto.ErrDecryptionFailed) {
		t.Fatalf("expected ErrDecryptionFailed, got %v", err)
	}
}

func TestMessagesRequireSigningSession(t *testing.T) {
	f := newFixture(t)
	session := f.addStandard(t, vectorSeedHex)
	session.ReadOnly = true
	if _, err := f.signer.EncryptShared(context.Background(), session, vectorPublicKey, "x"); !errors.Is(err, ErrReadOnlySession) {
		t.Fatalf("expected ErrReadOnlySession, got %v", err)
	}
}
