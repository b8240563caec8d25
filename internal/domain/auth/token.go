package auth

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"strings"
	"sync"

	"github.com/alexedwards/argon2id"
)

// HashToken returns the SHA-256 hex hash of the raw token.
func HashToken(rawToken string) string {
	hash := sha256.Sum256([]byte(rawToken))
	return hex.EncodeToString(hash[:])
}

// argon2idParams defines OWASP minimum parameters for Argon2id.
// Memory: 46 MiB, Iterations: 1, Parallelism: 1
var argon2idParams = &argon2id.Params{
	Memory:      47 * 1024, // 47 MiB (OWASP minimum: 46 MiB)
	Iterations:  1,
	Parallelism: 1,
	SaltLength:  16,
	KeyLength:   32,
}

// HashTokenArgon2id returns an Argon2id hash of the raw token in PHC format.
// Format: $argon2id$v=19$m=47104,t=1,p=1$<salt>$<hash>
func HashTokenArgon2id(rawToken string) (string, error) {
	return argon2id.CreateHash(rawToken, argon2idParams)
}

// DetectHashType identifies the hash algorithm used for a stored hash.
// Returns "argon2id" for PHC format, "sha256" for prefixed or bare hex,
// "unknown" for unrecognized formats.
func DetectHashType(storedHash string) string {
	if strings.HasPrefix(storedHash, "$argon2id$") {
		return "argon2id"
	}
	if strings.HasPrefix(storedHash, "sha256:") {
		return "sha256"
	}
	// Bare SHA-256 hex is exactly 64 hex characters
	if len(storedHash) == 64 && isHexString(storedHash) {
		return "sha256"
	}
	return "unknown"
}

func isHexString(s string) bool {
	for _, c := range s {
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') && (c < 'A' || c > 'F') {
			return false
		}
	}
	return true
}

// VerifyToken verifies a raw token against a stored hash.
// Returns (true, nil) on match, (false, nil) on mismatch and
// (false, ErrUnknownHashType) for unrecognized hash formats.
func VerifyToken(rawToken, storedHash string) (bool, error) {
	switch DetectHashType(storedHash) {
	case "argon2id":
		return safeArgon2idCompare(rawToken, storedHash)

	case "sha256":
		expectedHash := strings.ToLower(strings.TrimPrefix(storedHash, "sha256:"))
		computedHash := HashToken(rawToken)
		return subtle.ConstantTimeCompare([]byte(computedHash), []byte(expectedHash)) == 1, nil

	default:
		return false, ErrUnknownHashType
	}
}

// safeArgon2idCompare wraps argon2id.ComparePasswordAndHash with panic recovery.
// The underlying argon2 library panics on malformed hashes with invalid
// parameters (e.g., t=0 rounds, p=0 parallelism).
func safeArgon2idCompare(rawToken, storedHash string) (match bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			match = false
			err = fmt.Errorf("invalid argon2id hash parameters: %v", r)
		}
	}()
	return argon2id.ComparePasswordAndHash(rawToken, storedHash)
}

// maxVerifiedTokens bounds the TokenVerifier cache.
const maxVerifiedTokens = 1024

// TokenVerifier checks bearer tokens against a configured hash.
//
// Argon2id comparisons cost tens of milliseconds, so successful matches are
// cached by token digest. Only matches are cached; the cache entry also pins
// the stored hash so a reloaded configuration invalidates it.
type TokenVerifier struct {
	mu       sync.Mutex
	verified map[[sha256.Size]byte]string
}

// NewTokenVerifier creates a TokenVerifier with an empty cache.
func NewTokenVerifier() *TokenVerifier {
	return &TokenVerifier{verified: make(map[[sha256.Size]byte]string)}
}

// Verify returns nil when rawToken matches storedHash, ErrInvalidToken on
// mismatch or a wrapped ErrUnknownHashType for a malformed stored hash.
func (v *TokenVerifier) Verify(rawToken, storedHash string) error {
	if rawToken == "" {
		return ErrInvalidToken
	}
	if DetectHashType(storedHash) != "argon2id" {
		return v.verify(rawToken, storedHash)
	}

	digest := sha256.Sum256([]byte(rawToken))
	v.mu.Lock()
	cached, ok := v.verified[digest]
	v.mu.Unlock()
	if ok && subtle.ConstantTimeCompare([]byte(cached), []byte(storedHash)) == 1 {
		return nil
	}

	if err := v.verify(rawToken, storedHash); err != nil {
		return err
	}

	v.mu.Lock()
	if len(v.verified) >= maxVerifiedTokens {
		v.verified = make(map[[sha256.Size]byte]string)
	}
	v.verified[digest] = storedHash
	v.mu.Unlock()
	return nil
}

func (v *TokenVerifier) verify(rawToken, storedHash string) error {
	match, err := VerifyToken(rawToken, storedHash)
	if err != nil {
		return fmt.Errorf("verify bearer token: %w", err)
	}
	if !match {
		return ErrInvalidToken
	}
	return nil
}
