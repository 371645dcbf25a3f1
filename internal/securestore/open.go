package securestore

import (
	"fmt"
	"io"
	"strings"
)

const (
	BackendMemory = "memory"
	BackendFile   = "file"
	BackendSQLite = "sqlite"
	BackendBadger = "badger"
)

// Store is a KV that owns resources.
type Store interface {
	KV
	io.Closer
}

// Open builds the configured backend. A non-empty passphrase seals values at
// rest; the file backend seals the whole document, the database backends seal
// each value.
func Open(backend, path, passphrase string) (Store, error) {
	path, passphrase = strings.TrimSpace(path), strings.TrimSpace(passphrase)
	backend = strings.ToLower(strings.TrimSpace(backend))

	var (
		inner Store
		err   error
	)
	switch backend {
	case "", BackendMemory:
		return NewMemoryKV(), nil
	case BackendFile:
		if path == "" {
			return nil, fmt.Errorf("securestore: %s backend requires a path", backend)
		}
		if passphrase == "" {
			return NewFileKV(path), nil
		}
		return NewEncryptedFileKV(path, passphrase)
	case BackendSQLite:
		if path == "" {
			return nil, fmt.Errorf("securestore: %s backend requires a path", backend)
		}
		inner, err = OpenSQLiteKV(path)
	case BackendBadger:
		inner, err = OpenBadgerKV(path)
	default:
		return nil, fmt.Errorf("securestore: unknown backend %q", backend)
	}
	if err != nil {
		return nil, err
	}
	if passphrase == "" {
		return inner, nil
	}
	enc, err := NewEncryptedKV(inner, passphrase)
	if err != nil {
		_ = inner.Close()
		return nil, err
	}
	return enc, nil
}
