// Package auth implements opaque bearer token verification and the
// environment/endpoint-scope authorization gate every request passes
// through.
package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"time"

	"golang.org/x/crypto/pbkdf2"
)

const (
	// PBKDF2Iterations is the iteration count used for every token hash
	// derivation and verification; a round number comfortably above the
	// 10,000-iteration floor.
	PBKDF2Iterations = 12000
	// PBKDF2KeyLen is the derived key length in bytes.
	PBKDF2KeyLen = 32

	// prefixLen is the size, in bytes, of the non-reversible lookup prefix:
	// a short HMAC-derived tag stored alongside the record so verification
	// can skip straight to the (usually single) matching candidate instead
	// of PBKDF2-hashing every active token.
	prefixLen = 8
)

// TokenRecord is a persisted, hashed bearer token with scope metadata.
type TokenRecord struct {
	ID                  int64
	Username            string
	TokenHash           []byte
	TokenSalt           []byte
	TokenPrefix         []byte
	CreatedAt           time.Time
	ExpiresAt           *time.Time
	RevokedAt           *time.Time
	AllowedScopes       string
	AllowedEnvironments string
	Description         string
}

// Active reports whether the record is usable for authentication right now:
// not revoked, and either never expiring or not yet expired.
func (t TokenRecord) Active(now time.Time) bool {
	if t.RevokedAt != nil {
		return false
	}
	if t.ExpiresAt != nil && !t.ExpiresAt.After(now) {
		return false
	}
	return true
}

// DeriveHash computes the PBKDF2-HMAC-SHA256 derivation of plaintext over
// salt.
func DeriveHash(plaintext string, salt []byte) []byte {
	return pbkdf2.Key([]byte(plaintext), salt, PBKDF2Iterations, PBKDF2KeyLen, sha256.New)
}

// VerifyHash reports whether plaintext, hashed over salt, matches want in
// constant time.
func VerifyHash(plaintext string, salt, want []byte) bool {
	got := DeriveHash(plaintext, salt)
	return subtle.ConstantTimeCompare(got, want) == 1
}

// DerivePrefix computes the non-reversible lookup prefix for plaintext under
// serverKey: HMAC-SHA256(serverKey, plaintext), truncated to prefixLen
// bytes. It is not a secret-preserving digest of the token by itself (an
// attacker who already holds the server key and the prefix still cannot
// recover the plaintext) but it narrows candidate rows from O(N) to O(1) in
// the common case of no collision.
func DerivePrefix(plaintext string, serverKey []byte) []byte {
	mac := hmac.New(sha256.New, serverKey)
	mac.Write([]byte(plaintext))
	sum := mac.Sum(nil)
	return sum[:prefixLen]
}
