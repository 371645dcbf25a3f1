package signing

import (
	"context"
	"encoding/hex"
	"fmt"
	"strings"

	"cloutfeed/go-backend/internal/crypto"
	"cloutfeed/go-backend/internal/identity"
	"cloutfeed/go-backend/pkg/models"

	"github.com/btcsuite/btcd/btcec/v2"
)

// EncryptShared seals a direct message from the session's account to
// recipientPublicKey. Either participant can later open it.
func (s *Signer) EncryptShared(ctx context.Context, session models.Session, recipientPublicKey, plaintext string) (out string, err error) {
	defer func() { s.metrics.ObserveSign("encrypt_shared", session.Derived, err) }()

	priv, err := s.sessionKey(ctx, session)
	if err != nil {
		return "", err
	}
	remote, err := identity.DecodeProtocolPublicKey(recipientPublicKey)
	if err != nil {
		return "", err
	}
	sealed, err := crypto.EncryptShared(priv, remote, []byte(plaintext))
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(sealed), nil
}

// DecryptShared opens a direct message exchanged with otherPublicKey.
func (s *Signer) DecryptShared(ctx context.Context, session models.Session, otherPublicKey, encryptedHex string) (out string, err error) {
	defer func() { s.metrics.ObserveSign("decrypt_shared", session.Derived, err) }()

	priv, err := s.sessionKey(ctx, session)
	if err != nil {
		return "", err
	}
	remote, err := identity.DecodeProtocolPublicKey(otherPublicKey)
	if err != nil {
		return "", err
	}
	data, err := decodeCiphertext(encryptedHex)
	if err != nil {
		return "", err
	}
	plain, err := crypto.DecryptShared(priv, remote, data)
	if err != nil {
		return "", err
	}
	return string(plain), nil
}

// DecryptData opens content sealed to the session account's public key.
func (s *Signer) DecryptData(ctx context.Context, session models.Session, encryptedHex string) (out string, err error) {
	defer func() { s.metrics.ObserveSign("decrypt", session.Derived, err) }()

	priv, err := s.sessionKey(ctx, session)
	if err != nil {
		return "", err
	}
	data, err := decodeCiphertext(encryptedHex)
	if err != nil {
		return "", err
	}
	plain, err := crypto.Decrypt(priv, data)
	if err != nil {
		return "", err
	}
	return string(plain), nil
}

func (s *Signer) sessionKey(ctx context.Context, session models.Session) (*btcec.PrivateKey, error) {
	if err := checkSession(session, false); err != nil {
		return nil, err
	}
	seedHex, err := s.ResolveSeedHex(ctx, session.PublicKey)
	if err != nil {
		return nil, err
	}
	kp, err := identity.SeedHexToKeypair(seedHex)
	if err != nil {
		return nil, err
	}
	return kp.Private, nil
}

func decodeCiphertext(encryptedHex string) ([]byte, error) {
	data, err := hex.DecodeString(strings.TrimSpace(encryptedHex))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", crypto.ErrDecryptionFailed, err)
	}
	return data, nil
}
