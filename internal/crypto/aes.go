package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"encoding/hex"
	"errors"
	"fmt"
)

// ErrDecryptionFailed is returned when ciphertext or key material cannot be
// processed. AES-CTR carries no MAC: a wrong key usually yields garbage
// plaintext rather than this error.
var ErrDecryptionFailed = errors.New("decryption failed")

// AESEncrypt runs AES in CTR mode with the caller's IV (initial counter block)
// and key, and returns the hex-encoded ciphertext. Key length selects
// AES-128/192/256.
func AESEncrypt(iv, key, plaintext []byte) (string, error) {
	out, err := aesCTR(iv, key, plaintext)
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(out), nil
}

// AESDecrypt reverses AESEncrypt on raw ciphertext bytes.
func AESDecrypt(iv, key, ciphertext []byte) ([]byte, error) {
	out, err := aesCTR(iv, key, ciphertext)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecryptionFailed, err)
	}
	return out, nil
}

// AESDecryptHex decrypts hex ciphertext with hex IV and key and returns the
// plaintext as a string.
func AESDecryptHex(ivHex, keyHex, dataHex string) (string, error) {
	iv, err := hex.DecodeString(ivHex)
	if err != nil {
		return "", fmt.Errorf("%w: iv: %v", ErrDecryptionFailed, err)
	}
	key, err := hex.DecodeString(keyHex)
	if err != nil {
		return "", fmt.Errorf("%w: key: %v", ErrDecryptionFailed, err)
	}
	data, err := hex.DecodeString(dataHex)
	if err != nil {
		return "", fmt.Errorf("%w: data: %v", ErrDecryptionFailed, err)
	}
	plain, err := AESDecrypt(iv, key, data)
	if err != nil {
		return "", err
	}
	return string(plain), nil
}

// AESEncryptHex is AESEncrypt with hex IV and key.
func AESEncryptHex(ivHex, keyHex string, plaintext []byte) (string, error) {
	iv, err := hex.DecodeString(ivHex)
	if err != nil {
		return "", fmt.Errorf("invalid iv: %w", err)
	}
	key, err := hex.DecodeString(keyHex)
	if err != nil {
		return "", fmt.Errorf("invalid key: %w", err)
	}
	return AESEncrypt(iv, key, plaintext)
}

func aesCTR(iv, key, in []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	if len(iv) != block.BlockSize() {
		return nil, fmt.Errorf("invalid iv size: %d", len(iv))
	}
	out := make([]byte, len(in))
	cipher.NewCTR(block, iv).XORKeyStream(out, in)
	return out, nil
}
