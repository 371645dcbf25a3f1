package derivedauth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"cloutfeed/go-backend/internal/desoapi"
	"cloutfeed/go-backend/internal/identity"
	"cloutfeed/go-backend/internal/platform/metrics"
	"cloutfeed/go-backend/internal/signing"
	"cloutfeed/go-backend/pkg/models"

	"github.com/google/uuid"
)

const (
	DefaultSettleDelay = 3 * time.Second
	// forcedLogoutTimeout bounds the logout that follows a failed
	// re-authentication.
	forcedLogoutTimeout = 30 * time.Second
)

// Node is the subset of the blockchain API the flow drives.
type Node interface {
	Balance(ctx context.Context, publicKey string) (uint64, error)
	SendDeSo(ctx context.Context, sender, recipient string, amountNanos, feeRateNanosPerKB uint64) (string, error)
	SubmitTransaction(ctx context.Context, signedHex string) (string, error)
	AuthorizeDerivedKey(ctx context.Context, req desoapi.AuthorizeDerivedKeyRequest) (string, error)
	AppendExtraData(ctx context.Context, transactionHex, derivedPublicKey string) (string, error)
	GetUsersDerivedKeys(ctx context.Context, publicKey string) (map[string]desoapi.DerivedKeyEntry, error)
}

// Accounts is the local account registry, normally *identity.Manager.
type Accounts interface {
	EncryptDerivedIdentity(auth models.DerivedAuthentication) (models.Credential, error)
	AddIdentity(ctx context.Context, cred models.Credential) error
	RemoveIdentity(ctx context.Context, publicKey string) error
	GetIdentity(ctx context.Context, publicKey string) (models.Identity, models.EncryptionKey, error)
	ListPublicKeys(ctx context.Context) ([]string, error)
	IsDerived(ctx context.Context, publicKey string) (bool, error)
}

// Funding tops up owner accounts that cannot pay the authorization fee. An
// empty PublicKey or SeedHex disables it.
type Funding struct {
	PublicKey         string
	SeedHex           string
	MinBalanceNanos   uint64
	AmountNanos       uint64
	FeeRateNanosPerKB uint64
}

func (f Funding) enabled() bool {
	return strings.TrimSpace(f.PublicKey) != "" && strings.TrimSpace(f.SeedHex) != "" && f.AmountNanos > 0
}

type Config struct {
	Funding     Funding
	SettleDelay time.Duration
	// MinFeeRateNanosPerKB is passed to authorize-derived-key; zero lets the
	// node pick.
	MinFeeRateNanosPerKB uint64
}

// Flow runs the derived key handshake and the matching revoke/logout path.
// One Run may be in flight at a time.
type Flow struct {
	cfg      Config
	provider Provider
	node     Node
	accounts Accounts
	logger   *slog.Logger
	metrics  *metrics.Metrics
	now      func() time.Time
	sleep    func(ctx context.Context, d time.Duration) error
	onLogout func(ctx context.Context, publicKey string, next models.Session)

	running atomic.Bool
	mu      sync.Mutex
	state   State
	reason  FailureReason
}

type Option func(*Flow)

func WithMetrics(m *metrics.Metrics) Option {
	return func(f *Flow) { f.metrics = m }
}

func WithClock(now func() time.Time) Option {
	return func(f *Flow) {
		if now != nil {
			f.now = now
		}
	}
}

// WithSleeper replaces the settle delay wait.
func WithSleeper(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(f *Flow) {
		if sleep != nil {
			f.sleep = sleep
		}
	}
}

// WithLogoutHook is called after every Logout with the session that replaced
// the removed account.
func WithLogoutHook(hook func(ctx context.Context, publicKey string, next models.Session)) Option {
	return func(f *Flow) { f.onLogout = hook }
}

func New(cfg Config, provider Provider, node Node, accounts Accounts, logger *slog.Logger, opts ...Option) *Flow {
	if cfg.SettleDelay <= 0 {
		cfg.SettleDelay = DefaultSettleDelay
	}
	if logger == nil {
		logger = slog.Default()
	}
	f := &Flow{
		cfg:      cfg,
		provider: provider,
		node:     node,
		accounts: accounts,
		logger:   logger,
		now:      time.Now,
		sleep:    sleepContext,
		state:    StateIdle,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// State reports the last state reached and, for StateFailed, why.
func (f *Flow) State() (State, FailureReason) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state, f.reason
}

// Run obtains a derived key from the provider, authorizes it on chain and
// stores it. targetPublicKey, when set, is the account being re-authenticated:
// any other approving account is rejected and every failure logs the target
// out.
func (f *Flow) Run(ctx context.Context, targetPublicKey string) (models.Session, error) {
	if !f.running.CompareAndSwap(false, true) {
		return models.Session{}, ErrFlowBusy
	}
	defer f.running.Store(false)

	targetPublicKey = strings.TrimSpace(targetPublicKey)
	log := f.logger.With("flow_id", uuid.NewString())
	f.transition(log, StateIdle)

	session, err := f.run(ctx, log, targetPublicKey)
	if err == nil {
		return session, nil
	}

	reason := ReasonAuthenticationFailed
	if errors.Is(err, ErrAccountMismatch) {
		reason = ReasonAccountMismatch
	}
	f.fail(log, reason, err)
	if targetPublicKey != "" {
		// The caller's ctx is often what failed the flow (user cancelled the
		// provider), so the logout must not inherit its cancellation.
		logoutCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), forcedLogoutTimeout)
		_, logoutErr := f.Logout(logoutCtx, targetPublicKey)
		cancel()
		if logoutErr != nil {
			log.Warn("logout after failed authentication", "public_key", targetPublicKey, "error", logoutErr)
		}
	}
	if reason == ReasonAccountMismatch {
		return models.Session{}, err
	}
	return models.Session{}, fmt.Errorf("%w: %w", ErrAuthenticationFailed, err)
}

func (f *Flow) run(ctx context.Context, log *slog.Logger, target string) (models.Session, error) {
	f.transition(log, StateAwaitingProviderRedirect)
	auth, err := f.provider.Authorize(ctx)
	if err != nil {
		return models.Session{}, err
	}
	if target != "" && target != auth.PublicKey {
		return models.Session{}, fmt.Errorf("%w: expected %s", ErrAccountMismatch, target)
	}
	if auth.CompressedDerivedPublicKey == "" {
		if auth.CompressedDerivedPublicKey, err = identity.CompressPublicKey(auth.DerivedPublicKey); err != nil {
			return models.Session{}, fmt.Errorf("compress derived public key: %w", err)
		}
	}
	f.transition(log, StateProviderApproved)

	f.transition(log, StateFundingCheck)
	if err := f.ensureFunded(ctx, log, auth.PublicKey); err != nil {
		return models.Session{}, err
	}

	txHash, err := f.authorize(ctx, auth.PublicKey, auth.DerivedPublicKey, auth.CompressedDerivedPublicKey,
		auth.AccessSignature, auth.DerivedSeedHex, auth.TransactionSpendingLimitHex, auth.ExpirationBlock, false)
	if err != nil {
		return models.Session{}, err
	}
	f.transition(log, StateOnChainAuthorizationSubmitted)
	log.Info("derived key authorization submitted", "public_key", auth.PublicKey, "tx_hash", txHash)
	if err := f.sleep(ctx, f.cfg.SettleDelay); err != nil {
		return models.Session{}, err
	}

	valid, err := f.derivedKeyValid(ctx, auth.PublicKey, auth.DerivedPublicKey)
	if err != nil {
		return models.Session{}, err
	}
	if !valid {
		return models.Session{}, ErrDerivedKeyNotValid
	}

	cred, err := f.accounts.EncryptDerivedIdentity(auth)
	if err != nil {
		return models.Session{}, err
	}
	if err := f.accounts.AddIdentity(ctx, cred); err != nil {
		return models.Session{}, err
	}
	f.transition(log, StateDerivationConfirmed)
	return models.Session{PublicKey: auth.PublicKey, Derived: true}, nil
}

func (f *Flow) ensureFunded(ctx context.Context, log *slog.Logger, owner string) error {
	funding := f.cfg.Funding
	if !funding.enabled() {
		log.Debug("funding account not configured, skipping balance check")
		return nil
	}
	balance, err := f.node.Balance(ctx, owner)
	if err != nil {
		return fmt.Errorf("fetch balance: %w", err)
	}
	if balance >= funding.MinBalanceNanos {
		return nil
	}
	txHex, err := f.node.SendDeSo(ctx, funding.PublicKey, owner, funding.AmountNanos, funding.FeeRateNanosPerKB)
	if err != nil {
		return fmt.Errorf("build funding transfer: %w", err)
	}
	signed, err := signing.SignTransactionWithSeed(txHex, funding.SeedHex)
	if err != nil {
		return fmt.Errorf("sign funding transfer: %w", err)
	}
	txHash, err := f.node.SubmitTransaction(ctx, signed)
	if err != nil {
		return fmt.Errorf("submit funding transfer: %w", err)
	}
	log.Info("funded owner account", "public_key", owner, "balance_nanos", balance,
		"amount_nanos", funding.AmountNanos, "tx_hash", txHash)
	return f.sleep(ctx, f.cfg.SettleDelay)
}

// authorize builds an authorize-derived-key transaction, tags it with the
// derived key and submits it signed by the derived seed.
func (f *Flow) authorize(ctx context.Context, owner, derived, compressed, accessSignature, derivedSeedHex, spendingLimitHex string, expirationBlock uint64, revoke bool) (string, error) {
	txHex, err := f.node.AuthorizeDerivedKey(ctx, desoapi.AuthorizeDerivedKeyRequest{
		OwnerPublicKeyBase58Check:   owner,
		DerivedPublicKeyBase58Check: derived,
		ExpirationBlock:             expirationBlock,
		AccessSignature:             accessSignature,
		DeleteKey:                   revoke,
		TransactionSpendingLimitHex: spendingLimitHex,
		MinFeeRateNanosPerKB:        f.cfg.MinFeeRateNanosPerKB,
	})
	if err != nil {
		return "", fmt.Errorf("build authorization: %w", err)
	}
	if txHex, err = f.node.AppendExtraData(ctx, txHex, compressed); err != nil {
		return "", fmt.Errorf("append derived key: %w", err)
	}
	signed, err := signing.SignTransactionWithSeed(txHex, derivedSeedHex)
	if err != nil {
		return "", fmt.Errorf("sign authorization: %w", err)
	}
	txHash, err := f.node.SubmitTransaction(ctx, signed)
	if err != nil {
		return "", fmt.Errorf("submit authorization: %w", err)
	}
	return txHash, nil
}

func (f *Flow) derivedKeyValid(ctx context.Context, owner, derived string) (bool, error) {
	keys, err := f.node.GetUsersDerivedKeys(ctx, owner)
	if err != nil {
		return false, fmt.Errorf("fetch derived keys: %w", err)
	}
	entry, ok := keys[derived]
	return ok && entry.IsValid, nil
}

// IsValid checks the stored grant's local expiry and only then asks the
// network whether the derived key is still valid.
func (f *Flow) IsValid(ctx context.Context, publicKey string) (bool, error) {
	id, _, err := f.accounts.GetIdentity(ctx, publicKey)
	if err != nil {
		return false, err
	}
	derived, ok := id.(models.DerivedIdentity)
	if !ok {
		return false, ErrNotDerived
	}
	if derived.Expired(f.now()) {
		return false, nil
	}
	return f.derivedKeyValid(ctx, derived.PublicKey, derived.DerivedPublicKey)
}

// Revoke withdraws a derived key's on-chain authority. Non-derived accounts
// have nothing to revoke.
func (f *Flow) Revoke(ctx context.Context, publicKey string) error {
	id, key, err := f.accounts.GetIdentity(ctx, publicKey)
	if err != nil {
		return &RevocationError{PublicKey: publicKey, Stage: "load", Err: err}
	}
	derived, ok := id.(models.DerivedIdentity)
	if !ok {
		return nil
	}
	accessSignature, err := identity.DecryptField(key, derived.EncryptedAccessSignature)
	if err != nil {
		return &RevocationError{PublicKey: publicKey, Stage: "decrypt", Err: err}
	}
	seedHex, err := identity.DecryptField(key, derived.EncryptedDerivedSeedHex)
	if err != nil {
		return &RevocationError{PublicKey: publicKey, Stage: "decrypt", Err: err}
	}
	txHash, err := f.authorize(ctx, derived.PublicKey, derived.DerivedPublicKey, derived.CompressedDerivedPublicKey,
		accessSignature, seedHex, derived.TransactionSpendingLimitHex, derived.ExpirationBlock, true)
	if err != nil {
		return &RevocationError{PublicKey: publicKey, Stage: "submit", Err: err}
	}
	f.logger.Info("derived key revoked", "public_key", publicKey, "tx_hash", txHash)
	return nil
}

// Logout revokes (best effort) and removes publicKey, then returns the
// session to switch to: the first remaining account, or the zero session.
func (f *Flow) Logout(ctx context.Context, publicKey string) (models.Session, error) {
	if err := f.Revoke(ctx, publicKey); err != nil {
		f.logger.Warn("derived key revocation failed", "public_key", publicKey, "error", err)
	}
	if err := f.accounts.RemoveIdentity(ctx, publicKey); err != nil {
		return models.Session{}, err
	}

	var next models.Session
	remaining, err := f.accounts.ListPublicKeys(ctx)
	if err != nil {
		return models.Session{}, err
	}
	if len(remaining) > 0 {
		derived, err := f.accounts.IsDerived(ctx, remaining[0])
		if err != nil {
			return models.Session{}, err
		}
		next = models.Session{PublicKey: remaining[0], Derived: derived}
	}
	if f.onLogout != nil {
		f.onLogout(ctx, publicKey, next)
	}
	return next, nil
}

func (f *Flow) transition(log *slog.Logger, s State) {
	f.mu.Lock()
	f.state, f.reason = s, ReasonNone
	f.mu.Unlock()
	f.metrics.ObserveTransition(string(s))
	log.Debug("derived auth transition", "state", string(s))
}

func (f *Flow) fail(log *slog.Logger, reason FailureReason, err error) {
	f.mu.Lock()
	from := f.state
	f.state, f.reason = StateFailed, reason
	f.mu.Unlock()
	f.metrics.ObserveTransition(string(StateFailed))
	f.metrics.ObserveFailure(string(reason))
	log.Warn("derived auth failed", "from", string(from), "reason", string(reason), "error", err)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
