package identity

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/tyler-smith/go-bip39"
)

var (
	ErrInvalidMnemonic  = errors.New("invalid mnemonic")
	ErrMnemonicRequired = errors.New("mnemonic is required")
	ErrInvalidSeedHex   = errors.New("invalid seed hex")
)

// DerivationMode selects between BIP32 child derivation as specified and the
// legacy variant that strips leading zero bytes from hardened parent keys.
// Accounts created by older wallets may only be reachable through the latter.
type DerivationMode int

const (
	Standard DerivationMode = iota
	NonStandard
)

func (m DerivationMode) String() string {
	if m == NonStandard {
		return "non-standard"
	}
	return "standard"
}

// accountPath is m/44'/0'/0'/0/0.
var accountPath = []uint32{
	hdkeychain.HardenedKeyStart + 44,
	hdkeychain.HardenedKeyStart + 0,
	hdkeychain.HardenedKeyStart + 0,
	0,
	0,
}

// Keypair is a secp256k1 key reconstructed from a seed hex.
type Keypair struct {
	Private *btcec.PrivateKey
	Public  *btcec.PublicKey
}

// NormalizeMnemonic trims the phrase and collapses runs of whitespace.
func NormalizeMnemonic(mnemonic string) string {
	return strings.Join(strings.Fields(mnemonic), " ")
}

func ValidateMnemonic(mnemonic string) error {
	mnemonic = NormalizeMnemonic(mnemonic)
	if mnemonic == "" {
		return ErrMnemonicRequired
	}
	if _, err := bip39.EntropyFromMnemonic(mnemonic); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidMnemonic, err)
	}
	return nil
}

// MnemonicToSeedHex derives the account private key at m/44'/0'/0'/0/0 and
// returns it hex-encoded. extraText is the optional BIP39 passphrase.
func MnemonicToSeedHex(mnemonic, extraText string, mode DerivationMode) (string, error) {
	if err := ValidateMnemonic(mnemonic); err != nil {
		return "", err
	}
	seed := bip39.NewSeed(NormalizeMnemonic(mnemonic), extraText)
	defer zeroBytes(seed)

	key, err := hdkeychain.NewMaster(seed, &chaincfg.MainNetParams)
	if err != nil {
		return "", fmt.Errorf("master key: %w", err)
	}
	for _, idx := range accountPath {
		if mode == NonStandard {
			key, err = key.DeriveNonStandard(idx)
		} else {
			key, err = key.Derive(idx)
		}
		if err != nil {
			return "", fmt.Errorf("derive child %d: %w", idx, err)
		}
	}
	priv, err := key.ECPrivKey()
	if err != nil {
		return "", fmt.Errorf("account private key: %w", err)
	}
	raw := priv.Serialize()
	defer zeroBytes(raw)
	return hex.EncodeToString(raw), nil
}

// DeriveCandidateSeeds runs both derivation modes over the same mnemonic.
func DeriveCandidateSeeds(mnemonic, extraText string) (standard, nonStandard string, err error) {
	standard, err = MnemonicToSeedHex(mnemonic, extraText, Standard)
	if err != nil {
		return "", "", err
	}
	nonStandard, err = MnemonicToSeedHex(mnemonic, extraText, NonStandard)
	if err != nil {
		return "", "", err
	}
	return standard, nonStandard, nil
}

func SeedHexToKeypair(seedHex string) (Keypair, error) {
	raw, err := hex.DecodeString(strings.TrimSpace(seedHex))
	if err != nil {
		return Keypair{}, fmt.Errorf("%w: %v", ErrInvalidSeedHex, err)
	}
	defer zeroBytes(raw)
	if len(raw) == 0 || len(raw) > btcec.PrivKeyBytesLen {
		return Keypair{}, fmt.Errorf("%w: length %d", ErrInvalidSeedHex, len(raw))
	}
	priv, pub := btcec.PrivKeyFromBytes(raw)
	if priv.Key.IsZero() {
		return Keypair{}, fmt.Errorf("%w: zero scalar", ErrInvalidSeedHex)
	}
	return Keypair{Private: priv, Public: pub}, nil
}

func zeroBytes(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
