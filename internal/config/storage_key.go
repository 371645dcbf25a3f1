package config

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

const (
	storagePassphraseEnv = "CLOUTFEED_STORAGE_PASSPHRASE"
	storageKeyWrappedEnv = "CLOUTFEED_STORAGE_KEY_WRAPPED"
	environmentEnv       = "CLOUTFEED_ENV"
	storageKeyFile       = "storage.key"
)

var ErrInsecureStorageKeyMode = errors.New("insecure storage key mode is forbidden in production")

// StoragePassphrase resolves the secret that seals credentials at rest: the
// environment first, then dataDir/storage.key, generating one on first use.
func StoragePassphrase(dataDir string) (string, error) {
	if secret := strings.TrimSpace(os.Getenv(storagePassphraseEnv)); secret != "" {
		return secret, nil
	}
	keyPath := filepath.Join(dataDir, storageKeyFile)
	existing, err := os.ReadFile(keyPath)
	if err == nil {
		if secret := strings.TrimSpace(string(existing)); secret != "" {
			if policyErr := enforceStorageKeyPolicy("file"); policyErr != nil {
				return "", policyErr
			}
			return secret, nil
		}
	}
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return "", err
	}
	if policyErr := enforceStorageKeyPolicy("auto-generate"); policyErr != nil {
		return "", policyErr
	}
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	secret := base64.RawStdEncoding.EncodeToString(buf)
	if err := WriteStorageKey(dataDir, secret); err != nil {
		return "", err
	}
	return secret, nil
}

func WriteStorageKey(dataDir, secret string) error {
	if policyErr := enforceStorageKeyPolicy("write-file"); policyErr != nil {
		return policyErr
	}
	if err := os.MkdirAll(dataDir, 0o700); err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dataDir, storageKeyFile), []byte(secret), 0o600)
}

func enforceStorageKeyPolicy(source string) error {
	if !isProductionEnv() {
		return nil
	}
	if source == "auto-generate" {
		return fmt.Errorf("%w: production requires %s; storage.key generation is disabled",
			ErrInsecureStorageKeyMode, storagePassphraseEnv)
	}
	if wrapped, _ := parseBoolEnv(storageKeyWrappedEnv); wrapped {
		return nil
	}
	return fmt.Errorf("%w: raw storage.key is forbidden in production; set %s or %s=true",
		ErrInsecureStorageKeyMode, storagePassphraseEnv, storageKeyWrappedEnv)
}

func isProductionEnv() bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv(environmentEnv))) {
	case "prod", "production":
		return true
	default:
		return false
	}
}

func parseBoolEnv(name string) (bool, bool) {
	switch strings.ToLower(strings.TrimSpace(os.Getenv(name))) {
	case "1", "true", "yes", "on":
		return true, true
	case "0", "false", "no", "off":
		return false, true
	default:
		return false, false
	}
}
