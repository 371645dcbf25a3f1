package identity

import (
	"bytes"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/mr-tron/base58/base58"
)

var (
	// MainnetPrefix is prepended to compressed public keys before Base58Check.
	MainnetPrefix = [3]byte{0xcd, 0x14, 0x00}

	ErrInvalidPublicKey = errors.New("invalid protocol public key")
)

const checksumLen = 4

func PublicKeyToProtocolString(pub *btcec.PublicKey) string {
	return encodeProtocolKey(MainnetPrefix, pub)
}

func encodeProtocolKey(prefix [3]byte, pub *btcec.PublicKey) string {
	payload := make([]byte, 0, len(prefix)+btcec.PubKeyBytesLenCompressed+checksumLen)
	payload = append(payload, prefix[:]...)
	payload = append(payload, pub.SerializeCompressed()...)
	sum := chainhash.DoubleHashB(payload)
	payload = append(payload, sum[:checksumLen]...)
	return base58.Encode(payload)
}

// DecodeProtocolPublicKey verifies the Base58Check checksum, drops the
// network prefix and parses the EC point.
func DecodeProtocolPublicKey(publicKey string) (*btcec.PublicKey, error) {
	raw, err := base58.Decode(strings.TrimSpace(publicKey))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPublicKey, err)
	}
	if len(raw) != len(MainnetPrefix)+btcec.PubKeyBytesLenCompressed+checksumLen {
		return nil, fmt.Errorf("%w: length %d", ErrInvalidPublicKey, len(raw))
	}
	payload, sum := raw[:len(raw)-checksumLen], raw[len(raw)-checksumLen:]
	if !bytes.Equal(chainhash.DoubleHashB(payload)[:checksumLen], sum) {
		return nil, fmt.Errorf("%w: checksum mismatch", ErrInvalidPublicKey)
	}
	pub, err := btcec.ParsePubKey(payload[len(MainnetPrefix):])
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPublicKey, err)
	}
	return pub, nil
}

// CompressPublicKey turns a protocol public key string into the hex of its
// 33-byte compressed point, the form transaction extra data expects.
func CompressPublicKey(publicKey string) (string, error) {
	pub, err := DecodeProtocolPublicKey(publicKey)
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(pub.SerializeCompressed()), nil
}
