package crypto

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"

	"github.com/btcsuite/btcd/btcec/v2"
)

const (
	eciesPubKeySize = 65
	eciesIVSize     = 16
	eciesMACSize    = 32
	eciesMetaSize   = eciesPubKeySize + eciesIVSize + eciesMACSize
)

var ErrInvalidPublicKey = errors.New("invalid public key")

// Encrypt seals msg to the holder of pub. Output layout:
// ephemeral uncompressed pubkey (65) | iv (16) | AES-128-CTR ciphertext | HMAC-SHA256 (32).
func Encrypt(pub *btcec.PublicKey, msg []byte) ([]byte, error) {
	if pub == nil {
		return nil, ErrInvalidPublicKey
	}
	ephem, err := btcec.NewPrivateKey()
	if err != nil {
		return nil, err
	}
	iv := make([]byte, eciesIVSize)
	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		return nil, err
	}

	encKey, macKey := eciesKeys(sharedX(ephem, pub))
	ciphertext, err := aesCTR(iv, encKey, msg)
	if err != nil {
		return nil, err
	}

	out := make([]byte, 0, eciesMetaSize+len(ciphertext))
	out = append(out, ephem.PubKey().SerializeUncompressed()...)
	out = append(out, iv...)
	out = append(out, ciphertext...)
	out = append(out, macSum(macKey, iv, ciphertext)...)
	return out, nil
}

// Decrypt opens a payload produced by Encrypt with the recipient's key.
func Decrypt(priv *btcec.PrivateKey, data []byte) ([]byte, error) {
	if priv == nil {
		return nil, fmt.Errorf("%w: missing private key", ErrDecryptionFailed)
	}
	if len(data) <= eciesMetaSize {
		return nil, fmt.Errorf("%w: payload too short", ErrDecryptionFailed)
	}
	ephem, err := btcec.ParsePubKey(data[:eciesPubKeySize])
	if err != nil {
		return nil, fmt.Errorf("%w: ephemeral key: %v", ErrDecryptionFailed, err)
	}
	iv := data[eciesPubKeySize : eciesPubKeySize+eciesIVSize]
	ciphertext := data[eciesPubKeySize+eciesIVSize : len(data)-eciesMACSize]
	mac := data[len(data)-eciesMACSize:]

	encKey, macKey := eciesKeys(sharedX(priv, ephem))
	if !hmac.Equal(mac, macSum(macKey, iv, ciphertext)) {
		return nil, fmt.Errorf("%w: incorrect mac", ErrDecryptionFailed)
	}
	return aesCTR(iv, encKey, ciphertext)
}

// EncryptShared encrypts msg so that only local and remote can read it. Both
// sides derive the same shared keypair from ECDH(local, remote) and the
// payload is ECIES-sealed to that keypair's public half.
func EncryptShared(local *btcec.PrivateKey, remote *btcec.PublicKey, msg []byte) ([]byte, error) {
	shared, err := sharedKeypair(local, remote)
	if err != nil {
		return nil, err
	}
	return Encrypt(shared.PubKey(), msg)
}

// DecryptShared is the counterpart of EncryptShared; either participant can
// call it with its own private key and the other side's public key.
func DecryptShared(local *btcec.PrivateKey, remote *btcec.PublicKey, data []byte) ([]byte, error) {
	shared, err := sharedKeypair(local, remote)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecryptionFailed, err)
	}
	return Decrypt(shared, data)
}

func sharedKeypair(local *btcec.PrivateKey, remote *btcec.PublicKey) (*btcec.PrivateKey, error) {
	if local == nil {
		return nil, errors.New("missing private key")
	}
	if remote == nil {
		return nil, ErrInvalidPublicKey
	}
	priv, _ := btcec.PrivKeyFromBytes(kdf(sharedX(local, remote), 32))
	return priv, nil
}

// sharedX is the 32-byte X coordinate of priv*pub.
func sharedX(priv *btcec.PrivateKey, pub *btcec.PublicKey) []byte {
	return btcec.GenerateSharedSecret(priv, pub)
}

func eciesKeys(secret []byte) (encKey, macKey []byte) {
	hash := kdf(secret, 32)
	mk := sha256.Sum256(hash[16:])
	return hash[:16], mk[:]
}

// kdf is the NIST SP 800-56 concatenation KDF over SHA-256 with a 4-byte
// big-endian counter starting at 1.
func kdf(secret []byte, outLen int) []byte {
	out := make([]byte, 0, outLen+sha256.Size)
	for ctr := uint32(1); len(out) < outLen; ctr++ {
		h := sha256.New()
		h.Write([]byte{byte(ctr >> 24), byte(ctr >> 16), byte(ctr >> 8), byte(ctr)})
		h.Write(secret)
		out = h.Sum(out)
	}
	return out[:outLen]
}

func macSum(key, iv, ciphertext []byte) []byte {
	m := hmac.New(sha256.New, key)
	m.Write(iv)
	m.Write(ciphertext)
	return m.Sum(nil)
}
