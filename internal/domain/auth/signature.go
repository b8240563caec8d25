package auth

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"
)

const (
	// SignatureVersion is the only supported signature scheme prefix.
	SignatureVersion = "v1="

	// MinSecretLength is the shortest signing secret the verifier accepts.
	MinSecretLength = 32

	// MaxNonceLength bounds the size of a nonce kept in the store.
	MaxNonceLength = 128
)

// SignedHeaders carries the raw signature header values of one request.
type SignedHeaders struct {
	Signature string
	Timestamp string
	Nonce     string
}

// SignatureConfig is the per-request view of signature settings.
type SignatureConfig struct {
	// Secret is the shared HMAC secret. Empty disables verification.
	Secret string

	// MaxSkew is the tolerated difference between the request timestamp and
	// server time. It is also how long nonces are remembered.
	MaxSkew time.Duration

	// NonceCapacity bounds the in-process nonce cache.
	NonceCapacity int

	// NonceFailOpen skips replay protection when the nonce store errors.
	// When false, store errors reject the request.
	NonceFailOpen bool
}

// Enabled reports whether signature verification is active.
func (c SignatureConfig) Enabled() bool {
	return c.Secret != ""
}

// SignatureVerifier verifies HMAC request signatures.
type SignatureVerifier struct {
	nonces NonceStore
	now    func() time.Time
	logger *slog.Logger
}

// VerifierOption configures a SignatureVerifier.
type VerifierOption func(*SignatureVerifier)

// WithVerifierClock overrides the verifier's time source.
func WithVerifierClock(now func() time.Time) VerifierOption {
	return func(v *SignatureVerifier) {
		v.now = now
	}
}

// WithVerifierLogger sets the verifier's logger.
func WithVerifierLogger(logger *slog.Logger) VerifierOption {
	return func(v *SignatureVerifier) {
		v.logger = logger
	}
}

// NewSignatureVerifier creates a verifier that records accepted nonces in nonces.
func NewSignatureVerifier(nonces NonceStore, opts ...VerifierOption) *SignatureVerifier {
	v := &SignatureVerifier{
		nonces: nonces,
		now:    time.Now,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Verify checks the request signature over body.
//
// Returns nil when verification is disabled or passes, an *Error for a
// rejected request, or an error wrapping ErrNonceStore when the nonce store
// fails and NonceFailOpen is false.
//
// Checks run cheapest first: secret strength, header presence, signature
// version, timestamp format, clock skew, nonce replay, and finally the MAC.
// The nonce is recorded only after the MAC matches.
func (v *SignatureVerifier) Verify(ctx context.Context, body []byte, h SignedHeaders, cfg SignatureConfig) error {
	if !cfg.Enabled() {
		return nil
	}
	if len(cfg.Secret) < MinSecretLength {
		return newError(CodeWeakSecret, "server signing secret is too short")
	}
	if h.Signature == "" || h.Timestamp == "" || h.Nonce == "" {
		return newError(CodeMissingSignature, "signature, timestamp and nonce headers are required")
	}
	if !strings.HasPrefix(h.Signature, SignatureVersion) {
		return newError(CodeBadSignature, "unsupported signature version")
	}
	if len(h.Nonce) > MaxNonceLength {
		return newError(CodeBadSignature, "nonce is too long")
	}

	ts, err := strconv.ParseInt(h.Timestamp, 10, 64)
	if err != nil {
		return newError(CodeBadSignature, "timestamp is not an integer")
	}

	now := v.now()
	nowSec := now.Unix()
	maxSkew := int64(cfg.MaxSkew / time.Second)
	if ts > nowSec+maxSkew || ts < nowSec-maxSkew {
		return newError(CodeStaleTimestamp, "timestamp is outside the allowed clock skew")
	}

	replayChecked := true
	seen, err := v.nonces.Seen(ctx, h.Nonce, now, cfg.MaxSkew)
	if err != nil {
		if !cfg.NonceFailOpen {
			return fmt.Errorf("%w: %v", ErrNonceStore, err)
		}
		v.logger.Warn("nonce store lookup failed, replay protection skipped", "error", err)
		replayChecked = false
	}
	if seen {
		return newError(CodeReplayNonce, "nonce has already been used")
	}

	expected := computeSignature(cfg.Secret, h.Timestamp, h.Nonce, body)
	provided := strings.TrimPrefix(h.Signature, SignatureVersion)
	if len(provided) != len(expected) || !hmac.Equal([]byte(provided), []byte(expected)) {
		return newError(CodeBadSignature, "signature does not match")
	}

	if !replayChecked {
		return nil
	}
	added, err := v.nonces.Remember(ctx, h.Nonce, ts, now, cfg.MaxSkew, cfg.NonceCapacity)
	if err != nil {
		if !cfg.NonceFailOpen {
			return fmt.Errorf("%w: %v", ErrNonceStore, err)
		}
		v.logger.Warn("nonce store insert failed, replay protection skipped", "error", err)
		return nil
	}
	if !added {
		// Another request with the same nonce was accepted between Seen and Remember.
		return newError(CodeReplayNonce, "nonce has already been used")
	}
	return nil
}

// Sign returns the signature header value for a request.
// timestamp must be the exact string sent in the timestamp header.
func Sign(secret, timestamp, nonce string, body []byte) string {
	return SignatureVersion + computeSignature(secret, timestamp, nonce, body)
}

// computeSignature returns hex(HMAC-SHA256(secret, "{timestamp}.{nonce}.{body}")).
func computeSignature(secret, timestamp, nonce string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(timestamp))
	mac.Write([]byte{'.'})
	mac.Write([]byte(nonce))
	mac.Write([]byte{'.'})
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}
