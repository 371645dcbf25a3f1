package crypto

import (
	"bytes"
	"errors"
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"
)

func newKey(t *testing.T) *btcec.PrivateKey {
	t.Helper()
	k, err := btcec.NewPrivateKey()
	if err != nil {
		t.Fatalf("new key: %v", err)
	}
	return k
}

func TestEncryptDecryptSingleRecipient(t *testing.T) {
	recipient := newKey(t)
	msg := []byte("hello from the other side")
	enc, err := Encrypt(recipient.PubKey(), msg)
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	if len(enc) != eciesMetaSize+len(msg) {
		t.Fatalf("unexpected payload size %d", len(enc))
	}
	got, err := Decrypt(recipient, enc)
	if err != nil {
		t.Fatalf("decrypt: %v", err)
	}
	if !bytes.Equal(got, msg) {
		t.Fatalf("unexpected plaintext %q", got)
	}
}

func TestDecryptRejectsWrongRecipientAndTampering(t *testing.T) {
	recipient := newKey(t)
	enc, err := Encrypt(recipient.PubKey(), []byte("secret"))
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	if _, err := Decrypt(newKey(t), enc); !errors.Is(err, ErrDecryptionFailed) {
		t.Fatalf("expected ErrDecryptionFailed for wrong key, got %v", err)
	}
	tampered := append([]byte(nil), enc...)
	tampered[eciesPubKeySize+eciesIVSize] ^= 0x01
	if _, err := Decrypt(recipient, tampered); !errors.Is(err, ErrDecryptionFailed) {
		t.Fatalf("expected ErrDecryptionFailed for tampered ciphertext, got %v", err)
	}
	if _, err := Decrypt(recipient, enc[:eciesMetaSize]); !errors.Is(err, ErrDecryptionFailed) {
		t.Fatalf("expected ErrDecryptionFailed for short payload, got %v", err)
	}
}

func TestSharedEncryptionIsSymmetric(t *testing.T) {
	alice := newKey(t)
	bob := newKey(t)
	msg := []byte("gm ser")

	enc, err := EncryptShared(alice, bob.PubKey(), msg)
	if err != nil {
		t.Fatalf("encrypt shared: %v", err)
	}
	fromAlice, err := DecryptShared(alice, bob.PubKey(), enc)
	if err != nil {
		t.Fatalf("sender decrypt: %v", err)
	}
	fromBob, err := DecryptShared(bob, alice.PubKey(), enc)
	if err != nil {
		t.Fatalf("recipient decrypt: %v", err)
	}
	if !bytes.Equal(fromAlice, msg) || !bytes.Equal(fromBob, msg) {
		t.Fatalf("shared plaintext mismatch: %q / %q", fromAlice, fromBob)
	}

	if _, err := DecryptShared(newKey(t), alice.PubKey(), enc); !errors.Is(err, ErrDecryptionFailed) {
		t.Fatalf("third party must not decrypt, got %v", err)
	}
}

func TestKDFCounterBlocks(t *testing.T) {
	secret := []byte("shared-x")
	short := kdf(secret, 32)
	long := kdf(secret, 64)
	if !bytes.Equal(short, long[:32]) {
		t.Fatal("kdf output must be a prefix-stable stream")
	}
	if bytes.Equal(long[:32], long[32:]) {
		t.Fatal("counter blocks must differ")
	}
}
