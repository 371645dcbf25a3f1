package securestore

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// FileKV keeps every key in one JSON document on disk. With a passphrase the
// document is sealed in an envelope; a plaintext file written before a
// passphrase was configured is still readable and gets sealed on next write.
type FileKV struct {
	mu     sync.Mutex
	path   string
	sealer *sealer
}

func NewFileKV(path string) *FileKV {
	return &FileKV{path: strings.TrimSpace(path)}
}

func NewEncryptedFileKV(path, passphrase string) (*FileKV, error) {
	s, err := newSealer(strings.TrimSpace(passphrase))
	if err != nil {
		return nil, err
	}
	return &FileKV{path: strings.TrimSpace(path), sealer: s}, nil
}

func (f *FileKV) Get(ctx context.Context, key string) (string, bool, error) {
	if err := ctx.Err(); err != nil {
		return "", false, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	all, err := f.loadAllLocked()
	if err != nil {
		return "", false, err
	}
	v, ok := all[key]
	return v, ok, nil
}

func (f *FileKV) Set(ctx context.Context, key, value string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	all, err := f.loadAllLocked()
	if err != nil {
		return err
	}
	all[key] = value
	return f.writeAllLocked(all)
}

func (f *FileKV) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	all, err := f.loadAllLocked()
	if err != nil {
		return err
	}
	if _, ok := all[key]; !ok {
		return nil
	}
	delete(all, key)
	return f.writeAllLocked(all)
}

func (f *FileKV) Close() error {
	if f.sealer != nil {
		f.sealer.Wipe()
	}
	return nil
}

func (f *FileKV) loadAllLocked() (map[string]string, error) {
	result := make(map[string]string)
	data, err := os.ReadFile(f.path)
	if err != nil {
		if os.IsNotExist(err) {
			return result, nil
		}
		return nil, err
	}
	if len(data) == 0 {
		return result, nil
	}

	decoded := data
	if f.sealer != nil {
		plain, err := f.sealer.Open(data)
		switch {
		case errors.Is(err, ErrLegacyData):
		case err != nil:
			return nil, err
		default:
			decoded = plain
		}
	}
	if err := json.Unmarshal(decoded, &result); err != nil {
		return nil, err
	}
	return result, nil
}

func (f *FileKV) writeAllLocked(all map[string]string) error {
	if err := os.MkdirAll(filepath.Dir(f.path), 0o700); err != nil {
		return err
	}
	data, err := json.Marshal(all)
	if err != nil {
		return err
	}
	if f.sealer != nil {
		if data, err = f.sealer.Seal(data); err != nil {
			return err
		}
	}
	tmp := f.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, f.path)
}
