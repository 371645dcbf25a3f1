package securestore

import (
	"crypto/rand"
	"encoding/hex"
	"sync"
)

// sealer encrypts many small values under one passphrase without paying the
// argon2id cost per value. New envelopes share the sealer's salt; keys for
// foreign salts are derived once and cached.
type sealer struct {
	passphrase string

	mu   sync.Mutex
	salt []byte
	keys map[string][]byte
}

func newSealer(passphrase string) (*sealer, error) {
	salt := make([]byte, saltSize)
	if _, err := rand.Read(salt); err != nil {
		return nil, err
	}
	return &sealer{passphrase: passphrase, salt: salt, keys: make(map[string][]byte)}, nil
}

func (s *sealer) keyFor(salt []byte) []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := hex.EncodeToString(salt)
	if key, ok := s.keys[id]; ok {
		return key
	}
	key := deriveKey(s.passphrase, salt)
	s.keys[id] = key
	return key
}

func (s *sealer) Seal(plaintext []byte) ([]byte, error) {
	env, err := sealEnvelope(s.keyFor(s.salt), s.salt, plaintext)
	if err != nil {
		return nil, err
	}
	return marshalEnvelope(env)
}

func (s *sealer) Open(data []byte) ([]byte, error) {
	env, err := unmarshalEnvelope(data)
	if err != nil {
		return nil, err
	}
	return openEnvelope(s.keyFor(env.Salt), env)
}

func (s *sealer) Wipe() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, key := range s.keys {
		zeroBytes(key)
		delete(s.keys, id)
	}
}
