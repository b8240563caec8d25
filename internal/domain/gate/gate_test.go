package gate

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/Sentinel-Gate/rpcgate/internal/domain/auth"
	"github.com/Sentinel-Gate/rpcgate/internal/domain/validation"
)

func TestStage_Order(t *testing.T) {
	t.Parallel()

	want := []string{"START", "RATE_CHECKED", "STATIC_AUTH_CHECKED", "BODY_SIZE_CHECKED",
		"SIGNATURE_VERIFIED", "GUARD_CHECKED", "FORWARDED", "COMPLETE"}

	s := StageStart
	for i, name := range want {
		if s.String() != name {
			t.Errorf("stage %d = %s, want %s", i, s, name)
		}
		s = s.Next()
	}
	if s != StageComplete {
		t.Errorf("Next() past COMPLETE = %s", s)
	}
	if StageRejected.Next() != StageRejected || !StageRejected.Terminal() {
		t.Error("REJECTED must be terminal")
	}
	if Stage(99).String() != "UNKNOWN" {
		t.Errorf("Stage(99) = %s", Stage(99))
	}
}

func TestRejection_Statuses(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		rej    *Rejection
		status int
		code   string
	}{
		{"rate limited", RateLimited(time.Second), http.StatusTooManyRequests, "rate_limited"},
		{"unauthorized", Unauthorized(), http.StatusUnauthorized, "unauthorized"},
		{"too large", PayloadTooLarge(10), http.StatusRequestEntityTooLarge, "payload_too_large"},
		{"weak secret", AuthFailed(&auth.Error{Code: auth.CodeWeakSecret}), http.StatusInternalServerError, "weak_secret"},
		{"replay", AuthFailed(&auth.Error{Code: auth.CodeReplayNonce}), http.StatusUnauthorized, "replay_nonce"},
		{"violation", ValidationFailed(&validation.Violation{Code: validation.CodeForbiddenKey}), http.StatusBadRequest, "forbidden_key"},
		{"connections", ConnectionLimit(), http.StatusServiceUnavailable, "connection_limit"},
		{"store", StoreUnavailable(errors.New("down")), http.StatusServiceUnavailable, "store_unavailable"},
		{"origin", OriginNotAllowed(), http.StatusForbidden, "origin_not_allowed"},
		{"internal", Internal(nil), http.StatusInternalServerError, "internal_error"},
	}

	for _, tt := range tests {
		if tt.rej.Status != tt.status || tt.rej.Code != tt.code {
			t.Errorf("%s: status %d code %s, want %d %s", tt.name, tt.rej.Status, tt.rej.Code, tt.status, tt.code)
		}
	}
}

func TestRejection_UnwrapAndAs(t *testing.T) {
	t.Parallel()

	cause := errors.New("connection refused")
	var err error = StoreUnavailable(cause)
	if !errors.Is(err, cause) {
		t.Error("StoreUnavailable does not unwrap to its cause")
	}

	wrapped := errors.Join(errors.New("context"), RateLimited(time.Second))
	rej, ok := AsRejection(wrapped)
	if !ok || rej.Kind != KindRateLimited {
		t.Errorf("AsRejection() = %v, %v", rej, ok)
	}
	if _, ok := AsRejection(cause); ok {
		t.Error("AsRejection() matched a plain error")
	}
}

func TestRejection_RetryAfterSeconds(t *testing.T) {
	t.Parallel()

	tests := []struct {
		d    time.Duration
		want int
	}{
		{time.Millisecond, 1},
		{time.Second, 1},
		{1500 * time.Millisecond, 2},
		{60 * time.Second, 60},
		{0, 1},
	}
	for _, tt := range tests {
		if got := RateLimited(tt.d).RetryAfterSeconds(); got != tt.want {
			t.Errorf("RetryAfterSeconds(%v) = %d, want %d", tt.d, got, tt.want)
		}
	}
}

func TestSettings_IsStreaming(t *testing.T) {
	t.Parallel()

	s := DefaultSettings()
	if !s.IsStreaming("/stream/events") || !s.IsStreaming("/stream") {
		t.Error("streaming prefix not matched")
	}
	if s.IsStreaming("/rpc") {
		t.Error("/rpc matched as streaming")
	}

	s.StreamingPrefixes = []string{""}
	if s.IsStreaming("/rpc") {
		t.Error("empty prefix matched every path")
	}
}

func TestAdmissionContext(t *testing.T) {
	t.Parallel()

	if _, ok := AdmissionFromContext(context.Background()); ok {
		t.Error("AdmissionFromContext() found a value in an empty context")
	}
	a := &Admission{RawBody: []byte("{}"), Stage: StageForwarded}
	got, ok := AdmissionFromContext(WithAdmission(context.Background(), a))
	if !ok || got != a {
		t.Errorf("AdmissionFromContext() = %v, %v", got, ok)
	}
}

type countingSink struct {
	requests, limited int
	codes             []string
}

func (c *countingSink) RecordRequest(string, int, time.Duration) { c.requests++ }
func (c *countingSink) RecordRateLimited()                       { c.limited++ }
func (c *countingSink) RecordAuthFailure(code string)            { c.codes = append(c.codes, code) }

func TestMultiSink(t *testing.T) {
	t.Parallel()

	a, b := &countingSink{}, &countingSink{}
	sink := MultiSink{a, NopSink{}, b}

	sink.RecordRequest("POST", 200, time.Millisecond)
	sink.RecordRateLimited()
	sink.RecordAuthFailure("bad_signature")

	for _, c := range []*countingSink{a, b} {
		if c.requests != 1 || c.limited != 1 || len(c.codes) != 1 || c.codes[0] != "bad_signature" {
			t.Errorf("sink = %+v", c)
		}
	}
}
