package http

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"net"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/Sentinel-Gate/rpcgate/internal/ctxkey"
)

// requestIDContextKey is the type for the request ID context key.
type requestIDContextKey struct{}

// RequestIDKey is the context key for the request ID.
var RequestIDKey = requestIDContextKey{}

// LoggerKey is the context key for the enriched logger.
// Uses shared key type from ctxkey package to allow cross-package access without import cycles.
var LoggerKey = ctxkey.LoggerKey{}

// RequestIDHeader carries the correlation id in both directions.
const RequestIDHeader = "X-Request-ID"

// maxRequestIDLength bounds an echoed client-supplied request id.
const maxRequestIDLength = 128

// requestID returns the client's X-Request-ID when it is well formed,
// otherwise a fresh UUID. Malformed ids are never echoed into headers or logs.
func requestID(r *http.Request) string {
	if id := r.Header.Get(RequestIDHeader); validRequestID(id) {
		return id
	}
	return uuid.New().String()
}

func validRequestID(id string) bool {
	if id == "" || len(id) > maxRequestIDLength {
		return false
	}
	for i := 0; i < len(id); i++ {
		c := id[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		case c == '-', c == '_', c == '.', c == ':':
		default:
			return false
		}
	}
	return true
}

// RequestIDFromContext returns the correlation id stored by the handler.
func RequestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(RequestIDKey).(string)
	return id
}

// LoggerFromContext retrieves the enriched logger from context.
// Returns slog.Default() if no logger is in context.
func LoggerFromContext(ctx context.Context) *slog.Logger {
	return ctxkey.Logger(ctx, slog.Default())
}

// extractRealIP extracts the client's IP address from the request.
// Proxy headers are only consulted when trustProxy is set; the first
// X-Forwarded-For entry wins, then X-Real-IP, then RemoteAddr.
func extractRealIP(r *http.Request, trustProxy bool) string {
	if trustProxy {
		// Format: X-Forwarded-For: client, proxy1, proxy2
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			first, _, _ := strings.Cut(xff, ",")
			if ip := strings.TrimSpace(first); ip != "" {
				return ip
			}
		}
		if xri := strings.TrimSpace(r.Header.Get("X-Real-IP")); xri != "" {
			return xri
		}
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// clientID hashes the client address with salt. The raw address never
// leaves this function: logs and rate limit keys only see the digest.
func clientID(ip, salt string) string {
	h := sha256.New()
	h.Write([]byte(salt))
	h.Write([]byte{0})
	h.Write([]byte(ip))
	return hex.EncodeToString(h.Sum(nil)[:16])
}

// bearerToken extracts the token from an "Authorization: Bearer" header.
func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if len(header) < 7 || !strings.EqualFold(header[:7], "Bearer ") {
		return ""
	}
	return strings.TrimSpace(header[7:])
}

// securityHeaders are set on every response, rejected or not.
var securityHeaders = [][2]string{
	{"X-Content-Type-Options", "nosniff"},
	{"Referrer-Policy", "no-referrer"},
	{"X-Frame-Options", "DENY"},
	{"Permissions-Policy", "accelerometer=(), camera=(), geolocation=(), gyroscope=(), microphone=(), payment=(), usb=()"},
	{"Cache-Control", "no-store"},
	{"Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'"},
}

func setSecurityHeaders(h http.Header) {
	for _, kv := range securityHeaders {
		h.Set(kv[0], kv[1])
	}
}
