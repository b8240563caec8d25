// Package client signs outgoing requests for an rpcgate-protected service.
//
//	hc := &http.Client{Transport: client.NewSigner(secret, nil)}
//	resp, err := hc.Post(url, "application/json", body)
//
// Each request gets a fresh timestamp and UUID nonce, so a Signer is safe to
// share between goroutines.
package client

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/Sentinel-Gate/rpcgate/internal/domain/auth"
)

// Header names set on signed requests.
const (
	SignatureHeader          = "X-Signature"
	SignatureTimestampHeader = "X-Signature-Timestamp"
	SignatureNonceHeader     = "X-Signature-Nonce"
)

// Headers holds the three signature header values for one request.
type Headers struct {
	Signature string
	Timestamp string
	Nonce     string
}

// Apply sets the headers on h.
func (s Headers) Apply(h http.Header) {
	h.Set(SignatureHeader, s.Signature)
	h.Set(SignatureTimestampHeader, s.Timestamp)
	h.Set(SignatureNonceHeader, s.Nonce)
}

// SignBody computes the signature headers for body at time now.
func SignBody(secret string, body []byte, now time.Time) Headers {
	ts := strconv.FormatInt(now.Unix(), 10)
	nonce := uuid.NewString()
	return Headers{
		Signature: auth.Sign(secret, ts, nonce, body),
		Timestamp: ts,
		Nonce:     nonce,
	}
}

// Signer is an http.RoundTripper that signs every request body.
type Signer struct {
	secret string
	next   http.RoundTripper
	now    func() time.Time
}

// NewSigner returns a Signer that forwards to next, or to
// http.DefaultTransport when next is nil.
func NewSigner(secret string, next http.RoundTripper) *Signer {
	if next == nil {
		next = http.DefaultTransport
	}
	return &Signer{secret: secret, next: next, now: time.Now}
}

// RoundTrip implements http.RoundTripper. The body is read in full, signed,
// and replayed on a clone of req; the caller's request is left untouched.
//
// The clone has no GetBody, so the transport never resends it with a spent
// nonce. Redirects and client-level retries come back through RoundTrip and
// are signed again.
func (s *Signer) RoundTrip(req *http.Request) (*http.Response, error) {
	var body []byte
	if req.Body != nil && req.Body != http.NoBody {
		var err error
		body, err = io.ReadAll(req.Body)
		_ = req.Body.Close()
		if err != nil {
			return nil, fmt.Errorf("read request body: %w", err)
		}
	}

	out := req.Clone(req.Context())
	out.Body = io.NopCloser(bytes.NewReader(body))
	out.ContentLength = int64(len(body))
	out.GetBody = nil
	if len(body) == 0 {
		out.Body = http.NoBody
	}

	SignBody(s.secret, body, s.now()).Apply(out.Header)
	return s.next.RoundTrip(out)
}

var _ http.RoundTripper = (*Signer)(nil)
