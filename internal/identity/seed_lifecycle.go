package identity

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"cloutfeed/go-backend/internal/crypto"
	"cloutfeed/go-backend/pkg/models"
)

const (
	encryptionKeySize = 32
	encryptionIVSize  = 16

	// DerivedGrantLifetime is the local mirror of a derived key's on-chain
	// expiry, used to skip the network check for obviously stale grants.
	DerivedGrantLifetime = 26 * 24 * time.Hour
)

var ErrIncompleteDerivedAuth = errors.New("derived authentication is incomplete")

type encryptionMaterial struct {
	key []byte
	iv  []byte
}

func (m encryptionMaterial) record() models.EncryptionKey {
	return models.EncryptionKey{
		Key: hex.EncodeToString(m.key),
		IV:  hex.EncodeToString(m.iv),
	}
}

func (m encryptionMaterial) seal(plaintext string) (string, error) {
	return crypto.AESEncrypt(m.iv, m.key, []byte(plaintext))
}

func (m encryptionMaterial) wipe() {
	zeroBytes(m.key)
	zeroBytes(m.iv)
}

func newEncryptionMaterial(r io.Reader) (encryptionMaterial, error) {
	if r == nil {
		r = rand.Reader
	}
	m := encryptionMaterial{
		key: make([]byte, encryptionKeySize),
		iv:  make([]byte, encryptionIVSize),
	}
	if _, err := io.ReadFull(r, m.key); err != nil {
		return encryptionMaterial{}, err
	}
	if _, err := io.ReadFull(r, m.iv); err != nil {
		return encryptionMaterial{}, err
	}
	return m, nil
}

// GenerateCredential builds a full-custody identity for seedHex, encrypting
// the seed under a fresh EncryptionKey.
func GenerateCredential(seedHex string, r io.Reader) (models.Credential, error) {
	kp, err := SeedHexToKeypair(seedHex)
	if err != nil {
		return models.Credential{}, err
	}
	material, err := newEncryptionMaterial(r)
	if err != nil {
		return models.Credential{}, err
	}
	defer material.wipe()

	encryptedSeedHex, err := material.seal(seedHex)
	if err != nil {
		return models.Credential{}, err
	}
	return models.Credential{
		Identity: models.StandardIdentity{
			PublicKey:        PublicKeyToProtocolString(kp.Public),
			EncryptedSeedHex: encryptedSeedHex,
		},
		Key: material.record(),
	}, nil
}

// EncryptDerivedIdentity seals every secret of a provider approval under one
// fresh EncryptionKey and stamps the local expiry mirror.
func EncryptDerivedIdentity(auth models.DerivedAuthentication, now time.Time, r io.Reader) (models.Credential, error) {
	if strings.TrimSpace(auth.PublicKey) == "" || strings.TrimSpace(auth.DerivedPublicKey) == "" || strings.TrimSpace(auth.DerivedSeedHex) == "" {
		return models.Credential{}, ErrIncompleteDerivedAuth
	}
	compressed := auth.CompressedDerivedPublicKey
	if compressed == "" {
		var err error
		compressed, err = CompressPublicKey(auth.DerivedPublicKey)
		if err != nil {
			return models.Credential{}, err
		}
	}

	material, err := newEncryptionMaterial(r)
	if err != nil {
		return models.Credential{}, err
	}
	defer material.wipe()

	secrets := []string{auth.DerivedSeedHex, auth.JWT, auth.DerivedJWT, auth.AccessSignature}
	sealed := make([]string, len(secrets))
	for i, s := range secrets {
		if sealed[i], err = material.seal(s); err != nil {
			return models.Credential{}, fmt.Errorf("seal derived secret: %w", err)
		}
	}

	return models.Credential{
		Identity: models.DerivedIdentity{
			PublicKey:                   auth.PublicKey,
			DerivedPublicKey:            auth.DerivedPublicKey,
			CompressedDerivedPublicKey:  compressed,
			EncryptedDerivedSeedHex:     sealed[0],
			EncryptedJWT:                sealed[1],
			EncryptedDerivedJWT:         sealed[2],
			EncryptedAccessSignature:    sealed[3],
			ExpirationBlock:             auth.ExpirationBlock,
			ExpireDate:                  now.Add(DerivedGrantLifetime).UTC(),
			TransactionSpendingLimitHex: auth.TransactionSpendingLimitHex,
		},
		Key: material.record(),
	}, nil
}
