// Package gate holds the types shared by the request admission pipeline:
// the per-request settings snapshot, stage tracking, structured rejections,
// the streaming connection throttle and the metrics sink port.
package gate

import (
	"strings"
	"time"

	"github.com/Sentinel-Gate/rpcgate/internal/domain/auth"
	"github.com/Sentinel-Gate/rpcgate/internal/domain/ratelimit"
	"github.com/Sentinel-Gate/rpcgate/internal/domain/validation"
)

// Settings is the immutable view of security configuration used for one
// request. A new snapshot replaces the old one on reload; a snapshot is
// never mutated after it is published.
type Settings struct {
	// RateLimitEnabled turns the rate gate on.
	RateLimitEnabled bool
	// RatePolicy is the fixed-window budget per client.
	RatePolicy ratelimit.Policy
	// RateFailOpen admits requests when the rate store errors.
	RateFailOpen bool

	// MaxBodyBytes caps the request body. Zero disables the check.
	MaxBodyBytes int64

	// StaticAuthRequired demands a bearer token matching StaticTokenHash.
	StaticAuthRequired bool
	StaticTokenHash    string

	Signature auth.SignatureConfig
	Guard     validation.Limits

	// ClientIDSalt is mixed into the hash of the client address that
	// appears in logs and rate limit keys.
	ClientIDSalt string

	TrustProxyHeaders bool

	CORS CORSSettings

	// StreamingPrefixes are the path prefixes of long-lived streaming routes.
	StreamingPrefixes []string
	// MaxStreamingConnections caps concurrent streaming connections.
	// Zero or less disables the cap.
	MaxStreamingConnections int
}

// CORSSettings configures cross-origin handling.
type CORSSettings struct {
	AllowedOrigins []string
	AllowedMethods []string
	AllowedHeaders []string
	MaxAge         time.Duration
}

// IsStreaming reports whether path belongs to a streaming route.
func (s *Settings) IsStreaming(path string) bool {
	for _, p := range s.StreamingPrefixes {
		if p != "" && strings.HasPrefix(path, p) {
			return true
		}
	}
	return false
}

// DefaultSettings returns the settings used when nothing is configured.
func DefaultSettings() *Settings {
	return &Settings{
		RateLimitEnabled: true,
		RatePolicy:       ratelimit.Policy{Limit: 60, Window: time.Minute},
		RateFailOpen:     true,
		MaxBodyBytes:     1 << 20,
		Signature: auth.SignatureConfig{
			MaxSkew:       5 * time.Minute,
			NonceCapacity: 10000,
		},
		Guard:                   validation.DefaultLimits(),
		TrustProxyHeaders:       true,
		StreamingPrefixes:       []string{"/stream"},
		MaxStreamingConnections: 100,
		CORS: CORSSettings{
			AllowedMethods: []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders: []string{"Content-Type", "Authorization", "X-Request-ID", "X-Signature", "X-Signature-Timestamp", "X-Signature-Nonce"},
			MaxAge:         10 * time.Minute,
		},
	}
}

// SettingsSource publishes the current settings snapshot.
type SettingsSource interface {
	Current() *Settings
}

// StaticSettings is a SettingsSource that never changes.
type StaticSettings struct {
	S *Settings
}

// Current returns the fixed snapshot, or the defaults when none is set.
func (s StaticSettings) Current() *Settings {
	if s.S == nil {
		return DefaultSettings()
	}
	return s.S
}
