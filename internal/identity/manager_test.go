package identity

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"

	"cloutfeed/go-backend/pkg/models"
)

var errNotFound = errors.New("not found")

type memoryCredentialStore struct {
	mu    sync.Mutex
	order []string
	ids   map[string]models.Identity
	keys  map[string]models.EncryptionKey
}

func newMemoryCredentialStore() *memoryCredentialStore {
	return &memoryCredentialStore{
		ids:  make(map[string]models.Identity),
		keys: make(map[string]models.EncryptionKey),
	}
}

func (s *memoryCredentialStore) ListPublicKeys(context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.order...), nil
}

func (s *memoryCredentialStore) GetIdentity(_ context.Context, pk string) (models.Identity, models.EncryptionKey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.ids[pk]
	if !ok {
		return nil, models.EncryptionKey{}, errNotFound
	}
	return id, s.keys[pk], nil
}

func (s *memoryCredentialStore) PutIdentity(_ context.Context, id models.Identity, key models.EncryptionKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	pk := id.OwnerPublicKey()
	if _, ok := s.ids[pk]; !ok {
		s.order = append(s.order, pk)
	}
	s.ids[pk] = id
	s.keys[pk] = key
	return nil
}

func (s *memoryCredentialStore) RemoveIdentity(_ context.Context, pk string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.ids, pk)
	delete(s.keys, pk)
	for i, k := range s.order {
		if k == pk {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return nil
}

func (s *memoryCredentialStore) IsDerived(_ context.Context, pk string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.ids[pk]
	return ok && id.IsDerived(), nil
}

func newTestManager() (*Manager, *memoryCredentialStore) {
	store := newMemoryCredentialStore()
	return NewManager(store, slog.New(slog.NewTextHandler(io.Discard, nil))), store
}

func TestManagerLoginAddRemove(t *testing.T) {
	ctx := context.Background()
	mgr, _ := newTestManager()

	candidates, err := mgr.LoginWithMnemonic(vectorMnemonic, "")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if candidates.Distinct() {
		t.Fatal("vector mnemonic should yield a single account")
	}
	if got := candidates.Standard.Identity.OwnerPublicKey(); got != vectorPublicKey {
		t.Fatalf("unexpected public key: %s", got)
	}

	if err := mgr.AddIdentity(ctx, candidates.Standard); err != nil {
		t.Fatalf("add: %v", err)
	}
	keys, err := mgr.ListPublicKeys(ctx)
	if err != nil || len(keys) != 1 || keys[0] != vectorPublicKey {
		t.Fatalf("unexpected keys: %v err=%v", keys, err)
	}
	id, key, err := mgr.GetIdentity(ctx, " "+vectorPublicKey+" ")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	seed, err := DecryptSeedHex(id, key)
	if err != nil || seed != vectorSeedHex {
		t.Fatalf("stored seed mismatch: %q err=%v", seed, err)
	}

	if err := mgr.RemoveIdentity(ctx, vectorPublicKey); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if _, _, err := mgr.GetIdentity(ctx, vectorPublicKey); !errors.Is(err, errNotFound) {
		t.Fatalf("expected not found after remove, got %v", err)
	}
}

func TestManagerLoginDistinctCandidates(t *testing.T) {
	ctx := context.Background()
	mgr, _ := newTestManager()

	candidates, err := mgr.LoginWithMnemonic(splitMnemonic, "")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if !candidates.Distinct() {
		t.Fatal("expected two distinct accounts")
	}
	if got := candidates.Standard.Identity.OwnerPublicKey(); got != splitStandardPublicKey {
		t.Fatalf("standard: got %s", got)
	}
	if got := candidates.NonStandard.Identity.OwnerPublicKey(); got != splitNonStandardPublicKey {
		t.Fatalf("non-standard: got %s", got)
	}
	if candidates.Standard.Key == candidates.NonStandard.Key {
		t.Fatal("candidates must not share an encryption key")
	}

	if err := mgr.AddIdentity(ctx, candidates.NonStandard); err != nil {
		t.Fatalf("add: %v", err)
	}
	keys, err := mgr.ListPublicKeys(ctx)
	if err != nil || len(keys) != 1 || keys[0] != splitNonStandardPublicKey {
		t.Fatalf("unexpected keys: %v err=%v", keys, err)
	}
}

func TestManagerDerivedIdentity(t *testing.T) {
	ctx := context.Background()
	mgr, _ := newTestManager()

	cred, err := mgr.EncryptDerivedIdentity(models.DerivedAuthentication{
		PublicKey:        "BC1owner",
		DerivedPublicKey: vectorPublicKey,
		DerivedSeedHex:   vectorSeedHex,
	})
	if err != nil {
		t.Fatalf("encrypt derived: %v", err)
	}
	if err := mgr.AddIdentity(ctx, cred); err != nil {
		t.Fatalf("add: %v", err)
	}
	derived, err := mgr.IsDerived(ctx, "BC1owner")
	if err != nil || !derived {
		t.Fatalf("expected derived identity, got %v err=%v", derived, err)
	}
}

func TestManagerRejectsEmptyPublicKey(t *testing.T) {
	ctx := context.Background()
	mgr, _ := newTestManager()
	if err := mgr.AddIdentity(ctx, models.Credential{}); !errors.Is(err, ErrPublicKeyRequired) {
		t.Fatalf("expected ErrPublicKeyRequired, got %v", err)
	}
	if err := mgr.RemoveIdentity(ctx, "  "); !errors.Is(err, ErrPublicKeyRequired) {
		t.Fatalf("expected ErrPublicKeyRequired, got %v", err)
	}
}

func TestManagerLoginInvalidMnemonic(t *testing.T) {
	mgr, _ := newTestManager()
	if _, err := mgr.LoginWithMnemonic("abandon abandon", ""); !errors.Is(err, ErrInvalidMnemonic) {
		t.Fatalf("expected ErrInvalidMnemonic, got %v", err)
	}
}
