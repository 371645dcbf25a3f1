package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"cloutfeed/go-backend/internal/securestore"
	"cloutfeed/go-backend/pkg/models"

	orderedmap "github.com/wk8/go-ordered-map/v2"
)

const (
	AuthenticatedUsersKey       = "authenticatedUsers"
	AuthenticatedUserKeysKey    = "authenticatedUsersEncryptionKeys"
	derivedAuthenticationSuffix = "_derivedAuthentication"
)

var (
	ErrNotFound      = errors.New("identity not found")
	ErrCorruptRecord = errors.New("identity record is corrupt")
)

// identityRecord is one entry of the bulk identity map. For derived accounts
// it is a shadow carrying only the derived seed ciphertext; the full payload
// lives under the namespaced key.
type identityRecord struct {
	PublicKey        string `json:"publicKey"`
	EncryptedSeedHex string `json:"encryptedSeedHex"`
	Derived          bool   `json:"derived"`
}

type derivedRecord struct {
	models.DerivedIdentity
	Derived bool `json:"derived"`
}

type (
	identityMap = orderedmap.OrderedMap[string, identityRecord]
	keyMap      = orderedmap.OrderedMap[string, models.EncryptionKey]
)

// CredentialStore keeps two parallel maps, publicKey -> identity and
// publicKey -> encryption key, each stored as a whole JSON blob, plus one
// namespaced entry per derived identity.
//
// Writes go namespaced record, then identity map, then key map. A crash in
// between is not rolled back; the next PutIdentity for the same key rewrites
// all three locations.
type CredentialStore struct {
	kv securestore.KV
}

func NewCredentialStore(kv securestore.KV) *CredentialStore {
	return &CredentialStore{kv: kv}
}

func DerivedAuthenticationKey(publicKey string) string {
	return publicKey + derivedAuthenticationSuffix
}

// ListPublicKeys returns stored public keys in insertion order.
func (s *CredentialStore) ListPublicKeys(ctx context.Context) ([]string, error) {
	users, err := s.loadUsers(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, users.Len())
	for pair := users.Oldest(); pair != nil; pair = pair.Next() {
		out = append(out, pair.Key)
	}
	return out, nil
}

func (s *CredentialStore) GetIdentity(ctx context.Context, publicKey string) (models.Identity, models.EncryptionKey, error) {
	users, err := s.loadUsers(ctx)
	if err != nil {
		return nil, models.EncryptionKey{}, err
	}
	rec, ok := users.Get(publicKey)
	if !ok {
		return nil, models.EncryptionKey{}, ErrNotFound
	}
	keys, err := s.loadKeys(ctx)
	if err != nil {
		return nil, models.EncryptionKey{}, err
	}
	key, ok := keys.Get(publicKey)
	if !ok {
		return nil, models.EncryptionKey{}, fmt.Errorf("%w: missing encryption key", ErrCorruptRecord)
	}

	if !rec.Derived {
		return models.StandardIdentity{
			PublicKey:        rec.PublicKey,
			EncryptedSeedHex: rec.EncryptedSeedHex,
		}, key, nil
	}

	raw, ok, err := s.kv.Get(ctx, DerivedAuthenticationKey(publicKey))
	if err != nil {
		return nil, models.EncryptionKey{}, err
	}
	if !ok {
		return nil, models.EncryptionKey{}, fmt.Errorf("%w: missing derived payload", ErrCorruptRecord)
	}
	var derived derivedRecord
	if err := json.Unmarshal([]byte(raw), &derived); err != nil {
		return nil, models.EncryptionKey{}, fmt.Errorf("%w: %v", ErrCorruptRecord, err)
	}
	return derived.DerivedIdentity, key, nil
}

func (s *CredentialStore) PutIdentity(ctx context.Context, id models.Identity, key models.EncryptionKey) error {
	var rec identityRecord
	switch v := id.(type) {
	case models.StandardIdentity:
		rec = identityRecord{PublicKey: v.PublicKey, EncryptedSeedHex: v.EncryptedSeedHex}
	case models.DerivedIdentity:
		payload, err := json.Marshal(derivedRecord{DerivedIdentity: v, Derived: true})
		if err != nil {
			return err
		}
		if err := s.kv.Set(ctx, DerivedAuthenticationKey(v.PublicKey), string(payload)); err != nil {
			return err
		}
		rec = identityRecord{PublicKey: v.PublicKey, EncryptedSeedHex: v.EncryptedDerivedSeedHex, Derived: true}
	default:
		return fmt.Errorf("unsupported identity type %T", id)
	}

	users, err := s.loadUsers(ctx)
	if err != nil {
		return err
	}
	users.Set(rec.PublicKey, rec)
	if err := s.save(ctx, AuthenticatedUsersKey, users); err != nil {
		return err
	}

	keys, err := s.loadKeys(ctx)
	if err != nil {
		return err
	}
	keys.Set(rec.PublicKey, key)
	return s.save(ctx, AuthenticatedUserKeysKey, keys)
}

// RemoveIdentity attempts all three deletions and never fails because the
// key is absent.
func (s *CredentialStore) RemoveIdentity(ctx context.Context, publicKey string) error {
	var errs []error
	if err := s.kv.Delete(ctx, DerivedAuthenticationKey(publicKey)); err != nil {
		errs = append(errs, err)
	}

	if users, err := s.loadUsers(ctx); err != nil {
		errs = append(errs, err)
	} else {
		users.Delete(publicKey)
		if err := s.save(ctx, AuthenticatedUsersKey, users); err != nil {
			errs = append(errs, err)
		}
	}

	if keys, err := s.loadKeys(ctx); err != nil {
		errs = append(errs, err)
	} else {
		keys.Delete(publicKey)
		if err := s.save(ctx, AuthenticatedUserKeysKey, keys); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// IsDerived reads only the bulk map; an unknown key reports false.
func (s *CredentialStore) IsDerived(ctx context.Context, publicKey string) (bool, error) {
	users, err := s.loadUsers(ctx)
	if err != nil {
		return false, err
	}
	rec, ok := users.Get(publicKey)
	return ok && rec.Derived, nil
}

func (s *CredentialStore) loadUsers(ctx context.Context) (*identityMap, error) {
	users := orderedmap.New[string, identityRecord]()
	if err := s.load(ctx, AuthenticatedUsersKey, users); err != nil {
		return nil, err
	}
	return users, nil
}

func (s *CredentialStore) loadKeys(ctx context.Context) (*keyMap, error) {
	keys := orderedmap.New[string, models.EncryptionKey]()
	if err := s.load(ctx, AuthenticatedUserKeysKey, keys); err != nil {
		return nil, err
	}
	return keys, nil
}

func (s *CredentialStore) load(ctx context.Context, key string, into json.Unmarshaler) error {
	raw, ok, err := s.kv.Get(ctx, key)
	if err != nil {
		return err
	}
	if !ok || raw == "" {
		return nil
	}
	if err := into.UnmarshalJSON([]byte(raw)); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrCorruptRecord, key, err)
	}
	return nil
}

func (s *CredentialStore) save(ctx context.Context, key string, v json.Marshaler) error {
	raw, err := v.MarshalJSON()
	if err != nil {
		return err
	}
	return s.kv.Set(ctx, key, string(raw))
}
