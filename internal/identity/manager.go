package identity

import (
	"context"
	"crypto/rand"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"cloutfeed/go-backend/pkg/models"
)

var ErrPublicKeyRequired = errors.New("public key is required")

// Manager logs accounts in and out of the device. It owns no network access;
// revoking delegated authority is the caller's job before RemoveIdentity.
// Store mutations are serialized so two writes never interleave their
// read-modify-write halves.
type Manager struct {
	mu     sync.Mutex
	store  CredentialStore
	logger *slog.Logger
	now    func() time.Time
	random io.Reader
}

type Option func(*Manager)

func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

func WithRandom(r io.Reader) Option {
	return func(m *Manager) {
		if r != nil {
			m.random = r
		}
	}
}

func NewManager(store CredentialStore, logger *slog.Logger, opts ...Option) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	m := &Manager{
		store:  store,
		logger: logger,
		now:    time.Now,
		random: rand.Reader,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// LoginWithMnemonic derives the standard and non-standard candidates for a
// mnemonic. Nothing is persisted; the caller picks which candidate matches
// the expected on-chain account and calls AddIdentity.
func (m *Manager) LoginWithMnemonic(mnemonic, extraText string) (models.Candidates, error) {
	standardSeed, nonStandardSeed, err := DeriveCandidateSeeds(mnemonic, extraText)
	if err != nil {
		return models.Candidates{}, err
	}
	standard, err := GenerateCredential(standardSeed, m.random)
	if err != nil {
		return models.Candidates{}, err
	}
	nonStandard := standard
	if nonStandardSeed != standardSeed {
		if nonStandard, err = GenerateCredential(nonStandardSeed, m.random); err != nil {
			return models.Candidates{}, err
		}
	}
	candidates := models.Candidates{Standard: standard, NonStandard: nonStandard}
	m.logger.Debug("mnemonic login derived candidates",
		"public_key", standard.Identity.OwnerPublicKey(),
		"distinct", candidates.Distinct(),
	)
	return candidates, nil
}

// EncryptDerivedIdentity prepares a provider approval for AddIdentity.
func (m *Manager) EncryptDerivedIdentity(auth models.DerivedAuthentication) (models.Credential, error) {
	return EncryptDerivedIdentity(auth, m.now(), m.random)
}

func (m *Manager) AddIdentity(ctx context.Context, cred models.Credential) error {
	if cred.Identity == nil || strings.TrimSpace(cred.Identity.OwnerPublicKey()) == "" {
		return ErrPublicKeyRequired
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.store.PutIdentity(ctx, cred.Identity, cred.Key); err != nil {
		return err
	}
	m.logger.Info("identity added",
		"public_key", cred.Identity.OwnerPublicKey(),
		"derived", cred.Identity.IsDerived(),
	)
	return nil
}

func (m *Manager) RemoveIdentity(ctx context.Context, publicKey string) error {
	publicKey = strings.TrimSpace(publicKey)
	if publicKey == "" {
		return ErrPublicKeyRequired
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.store.RemoveIdentity(ctx, publicKey); err != nil {
		return err
	}
	m.logger.Info("identity removed", "public_key", publicKey)
	return nil
}

func (m *Manager) GetIdentity(ctx context.Context, publicKey string) (models.Identity, models.EncryptionKey, error) {
	return m.store.GetIdentity(ctx, strings.TrimSpace(publicKey))
}

func (m *Manager) ListPublicKeys(ctx context.Context) ([]string, error) {
	return m.store.ListPublicKeys(ctx)
}

func (m *Manager) IsDerived(ctx context.Context, publicKey string) (bool, error) {
	return m.store.IsDerived(ctx, strings.TrimSpace(publicKey))
}
