package securestore

import (
	"context"
	"errors"
	"io"
)

// EncryptedKV seals each value before handing it to the wrapped store. Keys
// stay in the clear so backends can index them. Values written before a
// passphrase was configured read back as-is and are sealed on their next Set.
type EncryptedKV struct {
	inner  KV
	sealer *sealer
}

func NewEncryptedKV(inner KV, passphrase string) (*EncryptedKV, error) {
	if inner == nil {
		return nil, errors.New("securestore: inner kv is required")
	}
	s, err := newSealer(passphrase)
	if err != nil {
		return nil, err
	}
	return &EncryptedKV{inner: inner, sealer: s}, nil
}

func (e *EncryptedKV) Get(ctx context.Context, key string) (string, bool, error) {
	raw, ok, err := e.inner.Get(ctx, key)
	if err != nil || !ok {
		return "", ok, err
	}
	plain, err := e.sealer.Open([]byte(raw))
	switch {
	case errors.Is(err, ErrLegacyData):
		return raw, true, nil
	case err != nil:
		return "", false, err
	}
	return string(plain), true, nil
}

func (e *EncryptedKV) Set(ctx context.Context, key, value string) error {
	sealed, err := e.sealer.Seal([]byte(value))
	if err != nil {
		return err
	}
	return e.inner.Set(ctx, key, string(sealed))
}

func (e *EncryptedKV) Delete(ctx context.Context, key string) error {
	return e.inner.Delete(ctx, key)
}

func (e *EncryptedKV) Close() error {
	e.sealer.Wipe()
	if c, ok := e.inner.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
