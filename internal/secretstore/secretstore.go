// Package secretstore resolves the shared secret that gates the handshake
// (spec.md §4.4) and compares client-presented bytes against it. It never
// introduces a second authentication factor — it only controls where the
// one shared secret the protocol already requires comes from, and whether
// it is compared in plaintext or via its bcrypt hash.
package secretstore

import (
	"crypto/subtle"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/99designs/keyring"
	"golang.org/x/crypto/bcrypt"
)

const (
	serviceName = "rembash"
	keyringKey  = "secret"
)

var (
	ring     keyring.Keyring
	ringOnce sync.Once
	ringErr  error
)

func openRing() (keyring.Keyring, error) {
	ringOnce.Do(func() {
		ring, ringErr = keyring.Open(keyring.Config{
			ServiceName: serviceName,
			AllowedBackends: []keyring.BackendType{
				keyring.KeychainBackend,
				keyring.SecretServiceBackend,
				keyring.WinCredBackend,
				keyring.PassBackend,
				keyring.FileBackend,
			},
		})
	})
	return ring, ringErr
}

// StoreInKeyring persists the shared secret in the OS keyring so it need
// not be passed via flag, env var, or plaintext config file.
func StoreInKeyring(secret string) error {
	kr, err := openRing()
	if err != nil {
		return fmt.Errorf("open keyring: %w", err)
	}
	return kr.Set(keyring.Item{Key: keyringKey, Data: []byte(secret)})
}

// FromKeyring returns the secret stored in the OS keyring, or "" if none
// is stored.
func FromKeyring() (string, error) {
	kr, err := openRing()
	if err != nil {
		return "", fmt.Errorf("open keyring: %w", err)
	}
	item, err := kr.Get(keyringKey)
	if err == keyring.ErrKeyNotFound {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("retrieve secret: %w", err)
	}
	return string(item.Data), nil
}

// Resolve returns configured when it is non-empty and otherwise the
// secret stored in the OS keyring. The caller passes in the value it has
// already merged from flag, env var and config file (in that order of
// priority), so the keyring is consulted only when none of the three
// supplies a secret; a config-file secret is used ahead of the keyring.
func Resolve(configured string) (string, error) {
	if configured != "" {
		return configured, nil
	}
	return FromKeyring()
}

// Hash produces a bcrypt hash of the secret, suitable for storing in
// config instead of the plaintext secret.
func Hash(secret string) (string, error) {
	h, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash secret: %w", err)
	}
	return string(h), nil
}

// Verifier compares a client-presented secret against a resolved secret.
// When hashed is non-empty, the comparison goes through bcrypt; otherwise
// it is a constant-time comparison against the plaintext secret. The
// plain/hashed pair is guarded by a read-write mutex, so a secretwatch
// reload can swap it out from another goroutine without racing a
// comparison in progress.
type Verifier struct {
	mu     sync.RWMutex
	plain  []byte
	hashed []byte
}

// NewVerifier builds a Verifier from a resolved plaintext secret and an
// optional bcrypt hash (hashed takes precedence when both are set).
func NewVerifier(plain, hashed string) *Verifier {
	return &Verifier{plain: []byte(plain), hashed: []byte(hashed)}
}

// Verify reports whether presented matches the configured secret.
func (v *Verifier) Verify(presented []byte) bool {
	v.mu.RLock()
	defer v.mu.RUnlock()
	if len(v.hashed) > 0 {
		return bcrypt.CompareHashAndPassword(v.hashed, presented) == nil
	}
	return subtle.ConstantTimeCompare(v.plain, presented) == 1
}

// SetPlain replaces the plaintext secret a Verifier compares against,
// clearing any configured hash so the new plaintext takes effect
// immediately. Used by secretwatch to hot-reload a secret file without
// restarting the server.
func (v *Verifier) SetPlain(secret string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.plain = []byte(secret)
	v.hashed = nil
}

// ReadSecretFile reads and trims a secret file's contents, the format
// secretwatch expects: one secret, optionally newline-terminated.
func ReadSecretFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read secret file %s: %w", path, err)
	}
	return strings.TrimRight(string(data), "\r\n"), nil
}
