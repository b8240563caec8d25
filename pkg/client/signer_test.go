package client

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Sentinel-Gate/rpcgate/internal/adapter/outbound/memory"
	"github.com/Sentinel-Gate/rpcgate/internal/domain/auth"
)

var testSecret = strings.Repeat("s", 32)

// verifyingServer checks every request with a real SignatureVerifier.
func verifyingServer(t *testing.T) (*httptest.Server, *[]error) {
	t.Helper()

	verifier := auth.NewSignatureVerifier(memory.NewNonceCache())
	cfg := auth.SignatureConfig{Secret: testSecret, MaxSkew: 5 * time.Minute, NonceCapacity: 100}

	var (
		mu   sync.Mutex
		errs []error
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		err := verifier.Verify(r.Context(), body, auth.SignedHeaders{
			Signature: r.Header.Get(SignatureHeader),
			Timestamp: r.Header.Get(SignatureTimestampHeader),
			Nonce:     r.Header.Get(SignatureNonceHeader),
		}, cfg)
		mu.Lock()
		errs = append(errs, err)
		mu.Unlock()
		if err != nil {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_, _ = w.Write(body)
	}))
	t.Cleanup(srv.Close)
	return srv, &errs
}

func TestSigner_RequestsVerify(t *testing.T) {
	t.Parallel()

	srv, errs := verifyingServer(t)
	hc := &http.Client{Transport: NewSigner(testSecret, nil)}

	for i := 0; i < 3; i++ {
		resp, err := hc.Post(srv.URL, "application/json", strings.NewReader(`{"jsonrpc":"2.0","id":1,"method":"ping"}`))
		if err != nil {
			t.Fatalf("Post: %v", err)
		}
		got, _ := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("request %d status = %d, verifier errors = %v", i, resp.StatusCode, *errs)
		}
		if !strings.Contains(string(got), `"ping"`) {
			t.Errorf("body not forwarded intact: %q", got)
		}
	}
}

func TestSigner_EmptyBody(t *testing.T) {
	t.Parallel()

	srv, errs := verifyingServer(t)
	hc := &http.Client{Transport: NewSigner(testSecret, nil)}

	resp, err := hc.Get(srv.URL)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, verifier errors = %v", resp.StatusCode, *errs)
	}
}

func TestSigner_WrongSecretRejected(t *testing.T) {
	t.Parallel()

	srv, _ := verifyingServer(t)
	hc := &http.Client{Transport: NewSigner(strings.Repeat("x", 32), nil)}

	resp, err := hc.Post(srv.URL, "application/json", strings.NewReader(`{}`))
	if err != nil {
		t.Fatalf("Post: %v", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", resp.StatusCode)
	}
}

type captureTransport struct {
	req  *http.Request
	body string
}

func (c *captureTransport) RoundTrip(r *http.Request) (*http.Response, error) {
	c.req = r
	b, _ := io.ReadAll(r.Body)
	c.body = string(b)
	return &http.Response{StatusCode: http.StatusOK, Body: http.NoBody, Request: r}, nil
}

func TestSigner_LeavesCallerRequestUntouched(t *testing.T) {
	t.Parallel()

	capture := &captureTransport{}
	s := NewSigner(testSecret, capture)
	s.now = func() time.Time { return time.Unix(1700000000, 0) }

	req, err := http.NewRequestWithContext(context.Background(), http.MethodPost, "http://gate.test/rpc", strings.NewReader("payload"))
	if err != nil {
		t.Fatal(err)
	}
	resp, err := s.RoundTrip(req)
	if err != nil {
		t.Fatalf("RoundTrip: %v", err)
	}
	_ = resp.Body.Close()

	if req.Header.Get(SignatureHeader) != "" {
		t.Error("caller's request was modified")
	}
	sent := capture.req
	if sent.Header.Get(SignatureTimestampHeader) != "1700000000" {
		t.Errorf("timestamp = %q", sent.Header.Get(SignatureTimestampHeader))
	}
	want := auth.Sign(testSecret, "1700000000", sent.Header.Get(SignatureNonceHeader), []byte("payload"))
	if sent.Header.Get(SignatureHeader) != want {
		t.Errorf("signature = %q, want %q", sent.Header.Get(SignatureHeader), want)
	}
	if capture.body != "payload" || sent.ContentLength != int64(len("payload")) {
		t.Errorf("body = %q (len %d)", capture.body, sent.ContentLength)
	}
	if sent.GetBody != nil {
		t.Error("signed request can be replayed by the transport with the same nonce")
	}
}

func TestSigner_ResignsEachAttempt(t *testing.T) {
	t.Parallel()

	capture := &captureTransport{}
	s := NewSigner(testSecret, capture)

	req, err := http.NewRequestWithContext(context.Background(), http.MethodPost, "http://gate.test/rpc", strings.NewReader("payload"))
	if err != nil {
		t.Fatal(err)
	}
	nonces := map[string]bool{}
	for i := 0; i < 2; i++ {
		attempt := req.Clone(req.Context())
		attempt.Body, _ = req.GetBody()
		resp, err := s.RoundTrip(attempt)
		if err != nil {
			t.Fatalf("RoundTrip: %v", err)
		}
		_ = resp.Body.Close()
		if capture.body != "payload" {
			t.Errorf("attempt %d body = %q", i, capture.body)
		}
		nonces[capture.req.Header.Get(SignatureNonceHeader)] = true
	}
	if len(nonces) != 2 {
		t.Errorf("nonces = %v, want two distinct values", nonces)
	}
}

func TestSignBody_UniqueNonces(t *testing.T) {
	t.Parallel()

	now := time.Now()
	a := SignBody(testSecret, []byte("x"), now)
	b := SignBody(testSecret, []byte("x"), now)
	if a.Nonce == b.Nonce {
		t.Error("nonces repeated")
	}
	if a.Signature == b.Signature {
		t.Error("signatures should differ when nonces differ")
	}
	if !strings.HasPrefix(a.Signature, auth.SignatureVersion) {
		t.Errorf("signature %q lacks version prefix", a.Signature)
	}
}
