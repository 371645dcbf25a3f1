package signing

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"time"

	"cloutfeed/go-backend/internal/identity"
	"cloutfeed/go-backend/pkg/models"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/golang-jwt/jwt/v5"
)

// JWTLifetime is the expiry applied to self-signed API tokens.
const JWTLifetime = time.Hour + 20*time.Second

var (
	ErrInvalidJWT = errors.New("invalid jwt")
	ErrExpiredJWT = errors.New("jwt expired")
)

// SigningMethodES256K signs JWTs with secp256k1 ECDSA while advertising
// "ES256" in the header, which is what the node API expects. The signature is
// the 64-byte R || S concatenation. It is not registered with
// jwt.RegisterSigningMethod; parsers keep resolving "ES256" to P-256.
var SigningMethodES256K = &signingMethodSecp256k1{}

type signingMethodSecp256k1 struct{}

func (m *signingMethodSecp256k1) Alg() string { return "ES256" }

func (m *signingMethodSecp256k1) Sign(signingString string, key any) ([]byte, error) {
	priv, ok := key.(*btcec.PrivateKey)
	if !ok {
		return nil, jwt.ErrInvalidKeyType
	}
	digest := sha256.Sum256([]byte(signingString))
	compact := ecdsa.SignCompact(priv, digest[:], true)
	// Drop the recovery byte.
	return compact[1:], nil
}

func (m *signingMethodSecp256k1) Verify(signingString string, sig []byte, key any) error {
	pub, ok := key.(*btcec.PublicKey)
	if !ok {
		return jwt.ErrInvalidKeyType
	}
	if len(sig) != 64 {
		return jwt.ErrSignatureInvalid
	}
	var r, s btcec.ModNScalar
	if r.SetByteSlice(sig[:32]) || s.SetByteSlice(sig[32:]) {
		return jwt.ErrSignatureInvalid
	}
	digest := sha256.Sum256([]byte(signingString))
	if !ecdsa.NewSignature(&r, &s).Verify(digest[:], pub) {
		return jwt.ErrSignatureInvalid
	}
	return nil
}

// SignJWT returns a bearer token for the session's account. Full-custody
// sessions get a fresh ES256 token; derived sessions cannot re-sign for the
// owner and get the provider-issued derived JWT stored at login.
func (s *Signer) SignJWT(ctx context.Context, session models.Session) (token string, err error) {
	defer func() { s.metrics.ObserveSign("jwt", session.Derived, err) }()

	if err := checkSession(session, false); err != nil {
		return "", err
	}
	if session.Derived {
		derived, key, err := s.derivedIdentity(ctx, session.PublicKey)
		if err != nil {
			return "", err
		}
		return identity.DecryptField(key, derived.EncryptedDerivedJWT)
	}

	seedHex, err := s.ResolveSeedHex(ctx, session.PublicKey)
	if err != nil {
		return "", err
	}
	return SignJWTWithSeed(seedHex, s.now())
}

// SignJWTWithSeed issues a token signed by seedHex that expires JWTLifetime
// after now.
func SignJWTWithSeed(seedHex string, now time.Time) (string, error) {
	kp, err := identity.SeedHexToKeypair(seedHex)
	if err != nil {
		return "", err
	}
	claims := jwt.RegisteredClaims{
		ExpiresAt: jwt.NewNumericDate(now.Add(JWTLifetime)),
	}
	return jwt.NewWithClaims(SigningMethodES256K, claims).SignedString(kp.Private)
}

// VerifyJWT checks a token produced by SignJWTWithSeed against the protocol
// public key of its signer.
func VerifyJWT(token, publicKey string, now time.Time) (*jwt.RegisteredClaims, error) {
	pub, err := identity.DecodeProtocolPublicKey(publicKey)
	if err != nil {
		return nil, err
	}
	parser := jwt.NewParser()
	claims := &jwt.RegisteredClaims{}
	parsed, parts, err := parser.ParseUnverified(token, claims)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidJWT, err)
	}
	if alg, _ := parsed.Header["alg"].(string); alg != SigningMethodES256K.Alg() {
		return nil, fmt.Errorf("%w: unexpected alg %q", ErrInvalidJWT, alg)
	}
	sig, err := parser.DecodeSegment(parts[2])
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidJWT, err)
	}
	if err := SigningMethodES256K.Verify(parts[0]+"."+parts[1], sig, pub); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidJWT, err)
	}
	if claims.ExpiresAt == nil || !now.Before(claims.ExpiresAt.Time) {
		return nil, ErrExpiredJWT
	}
	return claims, nil
}
