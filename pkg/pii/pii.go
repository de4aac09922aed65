// Package pii encrypts sensitive candidate and contact fields before they
// reach Postgres. Values are sealed with AES-256-GCM under keys derived from
// an install passphrase via PBKDF2-SHA256, and carry a key-version prefix so
// rotation can re-encrypt lazily on read-write cycles.
package pii

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"golang.org/x/crypto/pbkdf2"
)

const (
	keyLen            = 32
	nonceLen          = 12
	DefaultIterations = 210000
)

var (
	ErrNoActiveKey   = errors.New("pii: no active key")
	ErrBadCiphertext = errors.New("pii: malformed ciphertext")
)

// Codec seals and opens field values. Implementations must be safe for
// concurrent use.
type Codec interface {
	Encrypt(plaintext string) (string, error)
	Decrypt(ciphertext string) (string, error)
}

// Keyring derives one AES key per passphrase version. The highest version is
// the active encryption key; all versions remain available for decryption.
type Keyring struct {
	active int
	keys   map[int][]byte
}

// NewKeyring derives keys for each version→passphrase pair. salt is a
// per-install value; iterations below DefaultIterations are raised to it.
func NewKeyring(passphrases map[int]string, salt []byte, iterations int) (*Keyring, error) {
	if len(passphrases) == 0 {
		return nil, ErrNoActiveKey
	}
	if len(salt) < 8 {
		return nil, errors.New("pii: salt must be at least 8 bytes")
	}
	if iterations < DefaultIterations {
		iterations = DefaultIterations
	}
	kr := &Keyring{keys: make(map[int][]byte, len(passphrases))}
	versions := make([]int, 0, len(passphrases))
	for v, pass := range passphrases {
		if v <= 0 {
			return nil, fmt.Errorf("pii: invalid key version %d", v)
		}
		if strings.TrimSpace(pass) == "" {
			return nil, fmt.Errorf("pii: empty passphrase for version %d", v)
		}
		kr.keys[v] = pbkdf2.Key([]byte(pass), salt, iterations, keyLen, sha256.New)
		versions = append(versions, v)
	}
	sort.Ints(versions)
	kr.active = versions[len(versions)-1]
	return kr, nil
}

// ActiveVersion reports the version used for new encryptions.
func (k *Keyring) ActiveVersion() int { return k.active }

// Encrypt seals plaintext under the active key. The empty string passes
// through unencrypted so optional columns stay NULL-equivalent.
func (k *Keyring) Encrypt(plaintext string) (string, error) {
	if plaintext == "" {
		return "", nil
	}
	key, ok := k.keys[k.active]
	if !ok {
		return "", ErrNoActiveKey
	}
	gcm, err := newGCM(key)
	if err != nil {
		return "", err
	}
	nonce := make([]byte, nonceLen)
	if _, err := rand.Read(nonce); err != nil {
		return "", err
	}
	sealed := gcm.Seal(nil, nonce, []byte(plaintext), nil)
	out := append(nonce, sealed...)
	return "v" + strconv.Itoa(k.active) + ":" + base64.StdEncoding.EncodeToString(out), nil
}

// Decrypt opens a value sealed by any keyring version. Tampered or truncated
// input returns ErrBadCiphertext, never partial plaintext.
func (k *Keyring) Decrypt(ciphertext string) (string, error) {
	if ciphertext == "" {
		return "", nil
	}
	version, payload, err := splitVersion(ciphertext)
	if err != nil {
		return "", err
	}
	key, ok := k.keys[version]
	if !ok {
		return "", fmt.Errorf("pii: unknown key version %d", version)
	}
	raw, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return "", ErrBadCiphertext
	}
	if len(raw) <= nonceLen {
		return "", ErrBadCiphertext
	}
	gcm, err := newGCM(key)
	if err != nil {
		return "", err
	}
	plain, err := gcm.Open(nil, raw[:nonceLen], raw[nonceLen:], nil)
	if err != nil {
		return "", ErrBadCiphertext
	}
	return string(plain), nil
}

// NeedsRotation reports whether the value was sealed under a stale key.
func (k *Keyring) NeedsRotation(ciphertext string) bool {
	if ciphertext == "" {
		return false
	}
	version, _, err := splitVersion(ciphertext)
	if err != nil {
		return false
	}
	return version != k.active
}

func splitVersion(ciphertext string) (int, string, error) {
	if !strings.HasPrefix(ciphertext, "v") {
		return 0, "", ErrBadCiphertext
	}
	idx := strings.IndexByte(ciphertext, ':')
	if idx <= 1 {
		return 0, "", ErrBadCiphertext
	}
	version, err := strconv.Atoi(ciphertext[1:idx])
	if err != nil || version <= 0 {
		return 0, "", ErrBadCiphertext
	}
	return version, ciphertext[idx+1:], nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

// Noop passes values through unchanged. Used when PII encryption is disabled
// in development environments.
type Noop struct{}

func (Noop) Encrypt(plaintext string) (string, error)  { return plaintext, nil }
func (Noop) Decrypt(ciphertext string) (string, error) { return ciphertext, nil }
