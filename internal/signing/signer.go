package signing

import (
	"context"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"cloutfeed/go-backend/internal/identity"
	"cloutfeed/go-backend/internal/platform/metrics"
	"cloutfeed/go-backend/pkg/models"

	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

var (
	ErrNoSession          = errors.New("no active session")
	ErrReadOnlySession    = errors.New("session is read-only")
	ErrInvalidTransaction = errors.New("invalid transaction hex")
	ErrNotDerived         = errors.New("identity is not derived")
	ErrNoAppender         = errors.New("derived signing requires an extra data appender")
)

// IdentitySource resolves stored identities. identity.Manager satisfies it.
type IdentitySource interface {
	GetIdentity(ctx context.Context, publicKey string) (models.Identity, models.EncryptionKey, error)
}

// ExtraDataAppender asks the node to tag a transaction with the derived key
// that is about to sign it.
type ExtraDataAppender interface {
	AppendExtraData(ctx context.Context, transactionHex, derivedPublicKey string) (string, error)
}

// Signer produces signed transactions, API JWTs and message ciphertexts for
// an explicit session. Every private key it uses comes through ResolveSeedHex.
type Signer struct {
	identities IdentitySource
	appender   ExtraDataAppender
	logger     *slog.Logger
	metrics    *metrics.Metrics
	now        func() time.Time
}

type Option func(*Signer)

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Signer) { s.metrics = m }
}

func WithClock(now func() time.Time) Option {
	return func(s *Signer) {
		if now != nil {
			s.now = now
		}
	}
}

func New(identities IdentitySource, appender ExtraDataAppender, logger *slog.Logger, opts ...Option) *Signer {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Signer{
		identities: identities,
		appender:   appender,
		logger:     logger,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ResolveSeedHex decrypts the signing seed stored for publicKey: the derived
// seed for delegated accounts, the account seed otherwise.
func (s *Signer) ResolveSeedHex(ctx context.Context, publicKey string) (string, error) {
	id, key, err := s.identities.GetIdentity(ctx, strings.TrimSpace(publicKey))
	if err != nil {
		return "", err
	}
	return identity.DecryptSeedHex(id, key)
}

type signOptions struct {
	seedHex       string
	ignoreDerived bool
}

type SignOption func(*signOptions)

// WithSeedHex signs with the given seed instead of the session's stored one.
func WithSeedHex(seedHex string) SignOption {
	return func(o *signOptions) { o.seedHex = seedHex }
}

// IgnoreDerived skips the extra data round trip for derived sessions.
func IgnoreDerived() SignOption {
	return func(o *signOptions) { o.ignoreDerived = true }
}

// SignTransaction signs transactionHex for the session's account. Derived
// sessions first have the node append the derived key as transaction extra
// data, unless IgnoreDerived is given.
func (s *Signer) SignTransaction(ctx context.Context, session models.Session, transactionHex string, opts ...SignOption) (signed string, err error) {
	defer func() { s.metrics.ObserveSign("transaction", session.Derived, err) }()

	var o signOptions
	for _, opt := range opts {
		opt(&o)
	}
	if err := checkSession(session, o.seedHex != ""); err != nil {
		return "", err
	}

	if session.Derived && !o.ignoreDerived {
		derived, _, err := s.derivedIdentity(ctx, session.PublicKey)
		if err != nil {
			return "", err
		}
		if s.appender == nil {
			return "", ErrNoAppender
		}
		if transactionHex, err = s.appender.AppendExtraData(ctx, transactionHex, derived.CompressedDerivedPublicKey); err != nil {
			return "", fmt.Errorf("append derived extra data: %w", err)
		}
	}

	seedHex := o.seedHex
	if seedHex == "" {
		if seedHex, err = s.ResolveSeedHex(ctx, session.PublicKey); err != nil {
			return "", err
		}
	}
	signed, err = SignTransactionWithSeed(transactionHex, seedHex)
	if err != nil {
		return "", err
	}
	s.logger.Debug("transaction signed", "public_key", session.PublicKey, "derived", session.Derived)
	return signed, nil
}

// SignTransactionWithSeed drops the trailing placeholder byte of the unsigned
// transaction and appends uvarint(len(sig)) || DER(sig). The digest is the
// double SHA-256 of the unsigned bytes as given, placeholder included, which
// is what nodes hash when they verify.
func SignTransactionWithSeed(transactionHex, seedHex string) (string, error) {
	txBytes, err := hex.DecodeString(strings.TrimSpace(transactionHex))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidTransaction, err)
	}
	if len(txBytes) == 0 {
		return "", fmt.Errorf("%w: empty", ErrInvalidTransaction)
	}
	kp, err := identity.SeedHexToKeypair(seedHex)
	if err != nil {
		return "", err
	}

	sig := ecdsa.Sign(kp.Private, chainhash.DoubleHashB(txBytes)).Serialize()

	out := make([]byte, 0, len(txBytes)+binary.MaxVarintLen64+len(sig))
	out = append(out, txBytes[:len(txBytes)-1]...)
	out = append(out, EncodeUvarint(uint64(len(sig)))...)
	out = append(out, sig...)
	return hex.EncodeToString(out), nil
}

// EncodeUvarint writes n seven bits per byte, least significant group first,
// with the continuation bit set on every byte but the last.
func EncodeUvarint(n uint64) []byte {
	return binary.AppendUvarint(nil, n)
}

func (s *Signer) derivedIdentity(ctx context.Context, publicKey string) (models.DerivedIdentity, models.EncryptionKey, error) {
	id, key, err := s.identities.GetIdentity(ctx, publicKey)
	if err != nil {
		return models.DerivedIdentity{}, models.EncryptionKey{}, err
	}
	derived, ok := id.(models.DerivedIdentity)
	if !ok {
		return models.DerivedIdentity{}, models.EncryptionKey{}, ErrNotDerived
	}
	return derived, key, nil
}

func checkSession(session models.Session, haveSeed bool) error {
	if session.IsZero() {
		return ErrNoSession
	}
	if session.ReadOnly && !haveSeed {
		return ErrReadOnlySession
	}
	return nil
}
