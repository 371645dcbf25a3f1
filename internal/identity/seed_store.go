package identity

import (
	"errors"
	"fmt"

	"cloutfeed/go-backend/internal/crypto"
	"cloutfeed/go-backend/pkg/models"
)

var ErrUnknownIdentity = errors.New("unknown identity variant")

// SeedCiphertext picks the encrypted signing seed of an identity: the derived
// seed for delegated accounts, the account seed otherwise.
func SeedCiphertext(id models.Identity) (string, error) {
	switch v := id.(type) {
	case models.StandardIdentity:
		return v.EncryptedSeedHex, nil
	case models.DerivedIdentity:
		return v.EncryptedDerivedSeedHex, nil
	default:
		return "", ErrUnknownIdentity
	}
}

// DecryptSeedHex returns the plaintext signing seed of id.
func DecryptSeedHex(id models.Identity, key models.EncryptionKey) (string, error) {
	ciphertext, err := SeedCiphertext(id)
	if err != nil {
		return "", err
	}
	return DecryptField(key, ciphertext)
}

// DecryptField decrypts one hex ciphertext sealed under key.
func DecryptField(key models.EncryptionKey, ciphertext string) (string, error) {
	plain, err := crypto.AESDecryptHex(key.IV, key.Key, ciphertext)
	if err != nil {
		return "", fmt.Errorf("decrypt identity field: %w", err)
	}
	return plain, nil
}
