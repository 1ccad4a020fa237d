// Package password hashes account passwords as hex(SHA-256(password + salt)).
package password

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"
)

const (
	// SaltLength is the number of alphanumeric characters in a generated salt.
	SaltLength = 16

	saltAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"
)

// DefaultBootstrapIDs are the seed accounts that may be hashed without a salt in demo mode.
var DefaultBootstrapIDs = []string{"admin001", "teacher001", "student001"}

// Hasher produces and verifies salted password hashes.
// Ids on the bootstrap allow-list are hashed with an empty salt; the list is empty unless configured.
type Hasher struct {
	bootstrap map[string]struct{}
}

// New returns a Hasher. bootstrapIDs should only be passed when demo seeding is explicitly enabled.
func New(bootstrapIDs ...string) *Hasher {
	set := make(map[string]struct{}, len(bootstrapIDs))
	for _, id := range bootstrapIDs {
		if id != "" {
			set[id] = struct{}{}
		}
	}
	return &Hasher{bootstrap: set}
}

// IsBootstrap reports whether id is on the allow-list.
func (h *Hasher) IsBootstrap(id string) bool {
	if h == nil {
		return false
	}
	_, ok := h.bootstrap[id]
	return ok
}

// Hash hashes plaintext for the account id.
func (h *Hasher) Hash(id, plaintext string) (hash string, salt string, err error) {
	if h.IsBootstrap(id) {
		return Sum(plaintext, ""), "", nil
	}
	return h.Rehash(plaintext)
}

// Rehash always generates a fresh salt, regardless of the bootstrap list.
func (h *Hasher) Rehash(plaintext string) (hash string, salt string, err error) {
	salt, err = GenerateSalt(SaltLength)
	if err != nil {
		return "", "", err
	}
	return Sum(plaintext, salt), salt, nil
}

// Verify reports whether candidate matches hash under salt. An empty salt compares the unsalted hash.
func (h *Hasher) Verify(hash, salt, candidate string) bool {
	computed := Sum(candidate, salt)
	return subtle.ConstantTimeCompare([]byte(computed), []byte(hash)) == 1
}

// placeholder hash for ids with no account; no input hashes to all zeros.
var (
	unknownHash = strings.Repeat("0", sha256.Size*2)
	unknownSalt = strings.Repeat("x", SaltLength)
)

// VerifyUnknown does the work of Verify against a hash nothing matches, so a lookup miss
// costs the same as a wrong password. It always reports false.
func (h *Hasher) VerifyUnknown(candidate string) bool {
	return h.Verify(unknownHash, unknownSalt, candidate)
}

// Sum returns hex(SHA-256(plaintext + salt)).
func Sum(plaintext, salt string) string {
	digest := sha256.Sum256([]byte(plaintext + salt))
	return hex.EncodeToString(digest[:])
}

// GenerateSalt returns n random alphanumeric characters.
func GenerateSalt(n int) (string, error) {
	max := big.NewInt(int64(len(saltAlphabet)))
	buf := make([]byte, n)
	for i := range buf {
		idx, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("generate salt: %w", err)
		}
		buf[i] = saltAlphabet[idx.Int64()]
	}
	return string(buf), nil
}
