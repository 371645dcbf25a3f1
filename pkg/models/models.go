package models

import (
	"strings"
	"time"
)

// Identity is one account known to the device. It is either a StandardIdentity
// (full custody, seed on device) or a DerivedIdentity (delegated signing key).
// Callers switch on the concrete type.
type Identity interface {
	OwnerPublicKey() string
	IsDerived() bool
	identity()
}

type StandardIdentity struct {
	PublicKey        string `json:"publicKey"`
	EncryptedSeedHex string `json:"encryptedSeedHex"`
}

func (s StandardIdentity) OwnerPublicKey() string { return s.PublicKey }
func (StandardIdentity) IsDerived() bool          { return false }
func (StandardIdentity) identity()                {}

type DerivedIdentity struct {
	PublicKey                   string    `json:"publicKey"`
	DerivedPublicKey            string    `json:"derivedPublicKey"`
	CompressedDerivedPublicKey  string    `json:"compressedDerivedPublicKey"`
	EncryptedDerivedSeedHex     string    `json:"encryptedDerivedSeedHex"`
	EncryptedDerivedJWT         string    `json:"encryptedDerivedJwt"`
	EncryptedJWT                string    `json:"encryptedJwt"`
	EncryptedAccessSignature    string    `json:"encryptedAccessSignature"`
	ExpirationBlock             uint64    `json:"expirationBlock"`
	ExpireDate                  time.Time `json:"expireDate"`
	TransactionSpendingLimitHex string    `json:"transactionSpendingLimitHex,omitempty"`
}

func (d DerivedIdentity) OwnerPublicKey() string { return d.PublicKey }
func (DerivedIdentity) IsDerived() bool          { return true }
func (DerivedIdentity) identity()                {}

// Expired reports whether the local wall-clock mirror of the grant has passed.
func (d DerivedIdentity) Expired(now time.Time) bool {
	return d.ExpireDate.IsZero() || now.After(d.ExpireDate)
}

// EncryptionKey is the hex-encoded AES key/IV pair protecting one identity's
// encrypted fields. Key is 32 bytes, IV is 16 bytes.
type EncryptionKey struct {
	Key string `json:"key"`
	IV  string `json:"iv"`
}

type Credential struct {
	Identity Identity
	Key      EncryptionKey
}

// Candidates holds both identities derived from one mnemonic. When the
// standard and non-standard derivations agree both entries are the same
// account and only Standard should be persisted.
type Candidates struct {
	Standard    Credential
	NonStandard Credential
}

func (c Candidates) Distinct() bool {
	if c.Standard.Identity == nil || c.NonStandard.Identity == nil {
		return false
	}
	return c.Standard.Identity.OwnerPublicKey() != c.NonStandard.Identity.OwnerPublicKey()
}

// Session describes which account is current and with what authority.
type Session struct {
	PublicKey string
	ReadOnly  bool
	Derived   bool
}

func (s Session) IsZero() bool {
	return strings.TrimSpace(s.PublicKey) == ""
}

// DerivedAuthentication is the payload the identity provider hands back after
// the owner approves a derived key.
type DerivedAuthentication struct {
	PublicKey                   string
	DerivedPublicKey            string
	CompressedDerivedPublicKey  string
	AccessSignature             string
	ExpirationBlock             uint64
	DerivedSeedHex              string
	JWT                         string
	DerivedJWT                  string
	TransactionSpendingLimitHex string
}
